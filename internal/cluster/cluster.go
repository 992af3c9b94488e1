// Package cluster groups map points into icon-sized buckets for a given
// slippy-map zoom level, so the map endpoint can return a bounded payload at
// low zooms.
package cluster

import (
	"math"

	"gazetteer/internal/locality/models"
	"gazetteer/pkg/geo"
)

// tileSize is the slippy-map tile edge in pixels.
const tileSize = 256

// Cluster is one bucket of localities. A single-member cluster keeps its
// locality's identity so the client can link straight to it.
type Cluster struct {
	Geom   geo.Point `json:"geom"`
	Count  int       `json:"count"`
	Bounds geo.BBox  `json:"bbox"`
	UUID   string    `json:"uuid,omitempty"`
}

// Build greedily assigns each point to the first cluster whose icon
// footprint contains it, seeding a new cluster otherwise. The footprint is
// the icon's pixel size converted to degrees at the given zoom, so clusters
// merge exactly when their icons would overlap on screen.
func Build(points []models.Summary, zoom, iconWidth, iconHeight int) []Cluster {
	if zoom < 0 {
		zoom = 0
	}
	if zoom > 22 {
		zoom = 22
	}

	degPerPixel := 360 / (math.Exp2(float64(zoom)) * tileSize)
	halfLon := degPerPixel * float64(iconWidth) / 2
	halfLat := degPerPixel * float64(iconHeight) / 2

	var clusters []Cluster
	for _, p := range points {
		placed := false
		for i := range clusters {
			if clusters[i].Bounds.Contains(p.Geom) {
				clusters[i].Count++
				clusters[i].UUID = ""
				placed = true
				break
			}
		}
		if placed {
			continue
		}
		clusters = append(clusters, Cluster{
			Geom:  p.Geom,
			Count: 1,
			UUID:  p.UUID,
			Bounds: geo.BBox{
				MinLon: p.Geom.Lon - halfLon,
				MinLat: p.Geom.Lat - halfLat,
				MaxLon: p.Geom.Lon + halfLon,
				MaxLat: p.Geom.Lat + halfLat,
			},
		})
	}
	return clusters
}
