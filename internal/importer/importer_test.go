package importer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"
	"golang.org/x/time/rate"

	catalogservice "gazetteer/internal/catalog/service"
	catalogstore "gazetteer/internal/catalog/store"
	csstore "gazetteer/internal/changeset/store"
	locservice "gazetteer/internal/locality/service"
	locstore "gazetteer/internal/locality/store"
	"gazetteer/internal/render"
	"gazetteer/pkg/geo"
)

const overpassFixture = `{
	"elements": [
		{"type": "node", "id": 101, "lat": -6.80, "lon": 39.25,
		 "tags": {"amenity": "hospital", "name": "Amana Hospital", "operator": "city"}},
		{"type": "node", "id": 102, "lat": -6.81, "lon": 39.26,
		 "tags": {"amenity": "hospital"}},
		{"type": "way", "id": 103,
		 "tags": {"amenity": "hospital", "name": "skipped way"}}
	]
}`

type ImporterSuite struct {
	suite.Suite
	ctx        context.Context
	server     *httptest.Server
	catalog    *catalogservice.Service
	localities *locstore.InMemory
	changesets *csstore.InMemory
	svc        *locservice.Service
	imp        *Importer
}

func TestImporterSuite(t *testing.T) {
	suite.Run(t, new(ImporterSuite))
}

func (s *ImporterSuite) SetupTest() {
	s.ctx = context.Background()
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.Equal(http.MethodPost, r.Method)
		s.Require().NoError(r.ParseForm())
		s.Contains(r.PostForm.Get("data"), `node["amenity"="hospital"]`)
		_, _ = w.Write([]byte(overpassFixture))
	}))
	s.T().Cleanup(s.server.Close)

	s.catalog = catalogservice.New(catalogstore.NewInMemory(), render.NewTemplateRenderer())
	s.localities = locstore.NewInMemory()
	s.changesets = csstore.NewInMemory()
	tx := locstore.NewInMemoryTx(s.localities, s.changesets)
	s.svc = locservice.New(s.localities, s.changesets, s.catalog, tx)

	_, err := s.catalog.CreateDomain(s.ctx, "hospital", "", "")
	s.Require().NoError(err)
	for _, key := range []string{"name", "operator"} {
		_, err := s.catalog.RegisterAttribute(s.ctx, key)
		s.Require().NoError(err)
	}
	_, err = s.catalog.BindSpecification(s.ctx, "hospital", "name", true)
	s.Require().NoError(err)
	_, err = s.catalog.BindSpecification(s.ctx, "hospital", "operator", false)
	s.Require().NoError(err)

	s.imp = New(s.server.URL, s.svc, s.catalog,
		WithRateLimit(rate.Inf, 1),
		WithProjector(s.svc))
}

func (s *ImporterSuite) TestRun() {
	report, err := s.imp.Run(s.ctx, "hospital", Query{
		Amenity: "hospital",
		BBox:    geo.BBox{MinLon: 39, MinLat: -7, MaxLon: 40, MaxLat: -6},
	})
	s.Require().NoError(err)

	s.Run("imports nodes, filters foreign tags, rejects invalid ones", func() {
		s.Equal(3, report.Fetched)
		s.Equal(1, report.Created)
		// Element 102 has no name tag and the domain requires one.
		s.Equal(1, report.Rejected)
		s.Equal(0, report.Skipped)
		s.Equal(1, s.localities.Count())
	})

	s.Run("mints a source-tagged upstream id", func() {
		loc, err := s.localities.GetByUpstreamID(s.ctx, "osm¶node/101")
		s.Require().NoError(err)
		s.Equal(geo.Point{Lon: 39.25, Lat: -6.80}, loc.Geom)

		values, err := s.localities.ListValues(s.ctx, loc.UUID)
		s.Require().NoError(err)
		s.Len(values, 2)
	})

	s.Run("system-originated changesets have no author", func() {
		loc, err := s.localities.GetByUpstreamID(s.ctx, "osm¶node/101")
		s.Require().NoError(err)
		cs, err := s.changesets.Get(s.ctx, loc.ChangesetID)
		s.Require().NoError(err)
		s.Empty(cs.Author)
	})

	s.Run("a rerun skips everything already imported", func() {
		again, err := s.imp.Run(s.ctx, "hospital", Query{Amenity: "hospital"})
		s.Require().NoError(err)
		s.Equal(1, again.Skipped)
		s.Equal(0, again.Created)
		s.Equal(1, s.localities.Count())
	})
}

func (s *ImporterSuite) TestExportCSV() {
	_, err := s.imp.Run(s.ctx, "hospital", Query{Amenity: "hospital"})
	s.Require().NoError(err)

	loc, err := s.localities.GetByUpstreamID(s.ctx, "osm¶node/101")
	s.Require().NoError(err)

	var buf strings.Builder
	box := geo.BBox{MinLon: 39, MinLat: -7, MaxLon: 40, MaxLat: -6}
	s.Require().NoError(s.imp.Export(s.ctx, &buf, "hospital", box))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	s.Require().Len(lines, 2)
	s.Equal("uuid,lon,lat,version,user_id,name,operator", lines[0])
	s.Equal(loc.UUID+",39.25,-6.8,1,,Amana Hospital,city", lines[1])
}
