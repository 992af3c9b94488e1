// Package geo holds the geometry primitives shared by stores, services and
// handlers. Geometry crosses every boundary as two independent float scalars
// (longitude, latitude), never as a packed binary point type.
package geo

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	dErrors "gazetteer/pkg/domain-errors"
)

// Point is a WGS84 coordinate pair.
type Point struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// Validate rejects non-finite or out-of-range coordinates.
func (p Point) Validate() error {
	if math.IsNaN(p.Lon) || math.IsInf(p.Lon, 0) || p.Lon < -180 || p.Lon > 180 {
		return dErrors.NewValidation("longitude must be a finite value in [-180, 180]", "lon")
	}
	if math.IsNaN(p.Lat) || math.IsInf(p.Lat, 0) || p.Lat < -90 || p.Lat > 90 {
		return dErrors.NewValidation("latitude must be a finite value in [-90, 90]", "lat")
	}
	return nil
}

// BBox is a rectangular geographic region.
type BBox struct {
	MinLon float64
	MinLat float64
	MaxLon float64
	MaxLat float64
}

// Contains reports whether the point lies inside the box (inclusive).
func (b BBox) Contains(p Point) bool {
	return p.Lon >= b.MinLon && p.Lon <= b.MaxLon &&
		p.Lat >= b.MinLat && p.Lat <= b.MaxLat
}

// ParseBBox parses a "minLon,minLat,maxLon,maxLat" query string value.
func ParseBBox(s string) (BBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return BBox{}, dErrors.NewValidation("bbox must have exactly four comma-separated values", "bbox")
	}
	vals := make([]float64, 4)
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return BBox{}, dErrors.NewValidation(fmt.Sprintf("bbox value %q is not a finite number", part), "bbox")
		}
		vals[i] = v
	}
	box := BBox{MinLon: vals[0], MinLat: vals[1], MaxLon: vals[2], MaxLat: vals[3]}
	if err := (Point{Lon: box.MinLon, Lat: box.MinLat}).Validate(); err != nil {
		return BBox{}, err
	}
	if err := (Point{Lon: box.MaxLon, Lat: box.MaxLat}).Validate(); err != nil {
		return BBox{}, err
	}
	if box.MinLon > box.MaxLon || box.MinLat > box.MaxLat {
		return BBox{}, dErrors.NewValidation("bbox min corner must not exceed max corner", "bbox")
	}
	return box, nil
}
