package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	catalogservice "gazetteer/internal/catalog/service"
	catalogstore "gazetteer/internal/catalog/store"
	csstore "gazetteer/internal/changeset/store"
	"gazetteer/internal/locality/models"
	"gazetteer/internal/locality/store"
	"gazetteer/internal/render"
	dErrors "gazetteer/pkg/domain-errors"
	"gazetteer/pkg/geo"
	"gazetteer/pkg/requestcontext"
)

type LocalityServiceSuite struct {
	suite.Suite
	ctx        context.Context
	catalog    *catalogservice.Service
	localities *store.InMemory
	changesets *csstore.InMemory
	svc        *Service
}

func TestLocalityServiceSuite(t *testing.T) {
	suite.Run(t, new(LocalityServiceSuite))
}

func (s *LocalityServiceSuite) SetupTest() {
	s.ctx = requestcontext.WithUserID(context.Background(), "mapper-7")
	s.catalog = catalogservice.New(catalogstore.NewInMemory(), render.NewTemplateRenderer())
	s.localities = store.NewInMemory()
	s.changesets = csstore.NewInMemory()
	tx := store.NewInMemoryTx(s.localities, s.changesets)
	s.svc = New(s.localities, s.changesets, s.catalog, tx,
		WithRenderer(render.NewTemplateRenderer()))

	_, err := s.catalog.CreateDomain(s.ctx, "hospital", "Health facilities", "{{.name}} ({{.ownership}})")
	s.Require().NoError(err)
	for _, key := range []string{"name", "ownership", "beds"} {
		_, err := s.catalog.RegisterAttribute(s.ctx, key)
		s.Require().NoError(err)
	}
	_, err = s.catalog.BindSpecification(s.ctx, "hospital", "name", true)
	s.Require().NoError(err)
	_, err = s.catalog.BindSpecification(s.ctx, "hospital", "ownership", false)
	s.Require().NoError(err)
	_, err = s.catalog.BindSpecification(s.ctx, "hospital", "beds", false)
	s.Require().NoError(err)
}

func (s *LocalityServiceSuite) createHospital(values map[string]string) string {
	uuid, err := s.svc.Create(s.ctx, CreateInput{
		Domain: "hospital",
		Geom:   geo.Point{Lon: 39.27, Lat: -6.82},
		Values: values,
	})
	s.Require().NoError(err)
	return uuid
}

func (s *LocalityServiceSuite) TestCreate() {
	uuid := s.createHospital(map[string]string{
		"name":      "Mwananyamala Hospital",
		"ownership": "public",
	})

	s.Run("persists the locality at version 1", func() {
		loc, err := s.localities.Get(s.ctx, uuid)
		s.Require().NoError(err)
		s.Equal(1, loc.Version)
		s.Equal("hospital", loc.DomainName)
		s.Equal(geo.Point{Lon: 39.27, Lat: -6.82}, loc.Geom)
	})

	s.Run("mints a dashless uuid and a web-prefixed upstream id", func() {
		loc, err := s.localities.Get(s.ctx, uuid)
		s.Require().NoError(err)
		s.Len(loc.UUID, 32)
		s.NotContains(loc.UUID, "-")
		s.Equal("web¶"+loc.UUID, loc.UpstreamID)
	})

	s.Run("appends exactly one changeset carrying the acting user", func() {
		s.Equal(1, s.changesets.Len())
		loc, err := s.localities.Get(s.ctx, uuid)
		s.Require().NoError(err)
		cs, err := s.changesets.Get(s.ctx, loc.ChangesetID)
		s.Require().NoError(err)
		s.Equal("mapper-7", cs.Author)
	})

	s.Run("projection round-trips the submitted values", func() {
		p, err := s.svc.Project(s.ctx, uuid)
		s.Require().NoError(err)
		s.Equal(map[string]string{
			"name":      "Mwananyamala Hospital",
			"ownership": "public",
		}, p.Values)
		s.Equal(1, p.Version)
		s.Equal("mapper-7", p.Author)
	})
}

func (s *LocalityServiceSuite) TestCreateValidation() {
	s.Run("missing required key persists nothing", func() {
		_, err := s.svc.Create(s.ctx, CreateInput{
			Domain: "hospital",
			Geom:   geo.Point{Lon: 1, Lat: 1},
			Values: map[string]string{"ownership": "public"},
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Equal([]string{"name"}, dErrors.FieldsOf(err))
		s.Equal(0, s.localities.Count())
		s.Equal(0, s.changesets.Len())
	})

	s.Run("key outside the specification set persists nothing", func() {
		_, err := s.svc.Create(s.ctx, CreateInput{
			Domain: "hospital",
			Geom:   geo.Point{Lon: 1, Lat: 1},
			Values: map[string]string{"name": "x", "helipad": "yes"},
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Equal([]string{"helipad"}, dErrors.FieldsOf(err))
		s.Equal(0, s.localities.Count())
		s.Equal(0, s.changesets.Len())
	})

	s.Run("out-of-range geometry persists nothing", func() {
		_, err := s.svc.Create(s.ctx, CreateInput{
			Domain: "hospital",
			Geom:   geo.Point{Lon: 199, Lat: 0},
			Values: map[string]string{"name": "x"},
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Equal(0, s.localities.Count())
	})

	s.Run("unknown domain is not found", func() {
		_, err := s.svc.Create(s.ctx, CreateInput{
			Domain: "casino",
			Geom:   geo.Point{Lon: 1, Lat: 1},
			Values: map[string]string{},
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *LocalityServiceSuite) TestCreateAtomicity() {
	// A conflicting upstream id fails inside the transaction; the changeset
	// appended before the insert must be rolled back with it.
	uuid, err := s.svc.Create(s.ctx, CreateInput{
		Domain:     "hospital",
		Geom:       geo.Point{Lon: 1, Lat: 1},
		Values:     map[string]string{"name": "first"},
		UpstreamID: "osm¶node-42",
	})
	s.Require().NoError(err)
	s.Equal(1, s.changesets.Len())

	_, err = s.svc.Create(s.ctx, CreateInput{
		Domain:     "hospital",
		Geom:       geo.Point{Lon: 2, Lat: 2},
		Values:     map[string]string{"name": "second"},
		UpstreamID: "osm¶node-42",
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeWriteFailed))
	s.Equal(1, s.localities.Count())
	s.Equal(1, s.changesets.Len())

	loc, err := s.localities.Get(s.ctx, uuid)
	s.Require().NoError(err)
	s.Equal(1, loc.Version)
}

func (s *LocalityServiceSuite) TestUpdateDirtyCheck() {
	uuid := s.createHospital(map[string]string{"name": "Aga Khan", "beds": "120"})
	created, err := s.localities.Get(s.ctx, uuid)
	s.Require().NoError(err)

	s.Run("identical resubmit is a full no-op", func() {
		updated, err := s.svc.Update(s.ctx, uuid, UpdateInput{
			Geom:   created.Geom,
			Values: map[string]string{"name": "Aga Khan", "beds": "120"},
		})
		s.Require().NoError(err)
		s.Equal(1, updated.Version)
		s.Equal(created.ChangesetID, updated.ChangesetID)
		s.Equal(1, s.changesets.Len())
	})

	s.Run("value-only change bumps the version but keeps the changeset", func() {
		updated, err := s.svc.Update(s.ctx, uuid, UpdateInput{
			Geom:   created.Geom,
			Values: map[string]string{"name": "Aga Khan", "beds": "150"},
		})
		s.Require().NoError(err)
		s.Equal(2, updated.Version)
		s.Equal(created.ChangesetID, updated.ChangesetID)
		s.Equal(1, s.changesets.Len())
	})

	s.Run("geometry change mints exactly one changeset and rebinds", func() {
		updated, err := s.svc.Update(s.ctx, uuid, UpdateInput{
			Geom:   geo.Point{Lon: 39.28, Lat: -6.82},
			Values: map[string]string{"name": "Aga Khan", "beds": "150"},
		})
		s.Require().NoError(err)
		s.Equal(3, updated.Version)
		s.NotEqual(created.ChangesetID, updated.ChangesetID)
		s.Equal(2, s.changesets.Len())

		cs, err := s.changesets.Get(s.ctx, updated.ChangesetID)
		s.Require().NoError(err)
		s.Equal("mapper-7", cs.Author)
	})
}

func (s *LocalityServiceSuite) TestUpdateValidation() {
	uuid := s.createHospital(map[string]string{"name": "Temeke", "ownership": "public"})
	before, err := s.localities.Get(s.ctx, uuid)
	s.Require().NoError(err)

	s.Run("extra key rejects the whole update", func() {
		_, err := s.svc.Update(s.ctx, uuid, UpdateInput{
			Geom:   geo.Point{Lon: 10, Lat: 10},
			Values: map[string]string{"name": "Temeke", "helipad": "yes"},
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))

		// Nothing was persisted, including the valid geometry.
		after, err := s.localities.Get(s.ctx, uuid)
		s.Require().NoError(err)
		s.Equal(before, after)
		s.Equal(1, s.changesets.Len())
	})

	s.Run("unknown locality is not found", func() {
		_, err := s.svc.Update(s.ctx, "feedfacefeedfacefeedfacefeedface", UpdateInput{
			Geom:   geo.Point{Lon: 1, Lat: 1},
			Values: map[string]string{"name": "x"},
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *LocalityServiceSuite) TestArchivedSpecificationDrift() {
	uuid := s.createHospital(map[string]string{"name": "Muhimbili", "beds": "900"})

	s.Require().NoError(s.catalog.ArchiveSpecification(s.ctx, "hospital", "beds"))

	s.Run("stored value survives archival and is still projected", func() {
		p, err := s.svc.Project(s.ctx, uuid)
		s.Require().NoError(err)
		s.Equal("900", p.Values["beds"])
	})

	s.Run("archived key is no longer writable", func() {
		_, err := s.svc.Update(s.ctx, uuid, UpdateInput{
			Geom:   geo.Point{Lon: 39.27, Lat: -6.82},
			Values: map[string]string{"name": "Muhimbili", "beds": "901"},
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Equal([]string{"beds"}, dErrors.FieldsOf(err))
	})
}

func (s *LocalityServiceSuite) TestProjectionShape() {
	uuid := s.createHospital(map[string]string{"name": "Sinza", "ownership": "private"})

	p, err := s.svc.Project(s.ctx, uuid)
	s.Require().NoError(err)

	flat := p.Flat()
	s.Equal(uuid, flat["uuid"])
	s.Equal(1, flat["version"])
	s.Equal(39.27, flat["lon"])
	s.Equal(-6.82, flat["lat"])
	s.Equal("mapper-7", flat["user_id"])
	s.Equal("Sinza", flat["name"])
}

func (s *LocalityServiceSuite) TestProjectWithRepr() {
	uuid := s.createHospital(map[string]string{"name": "Sinza", "ownership": "private"})

	p, err := s.svc.ProjectWithRepr(s.ctx, uuid)
	s.Require().NoError(err)
	s.Equal("Sinza (private)", p.Repr)
}

func (s *LocalityServiceSuite) TestListInBBox() {
	inside := s.createHospital(map[string]string{"name": "inside"})
	_, err := s.svc.Create(s.ctx, CreateInput{
		Domain: "hospital",
		Geom:   geo.Point{Lon: 100, Lat: 50},
		Values: map[string]string{"name": "outside"},
	})
	s.Require().NoError(err)

	box, err := geo.ParseBBox("39,-7,40,-6")
	s.Require().NoError(err)

	summaries, err := s.svc.ListInBBox(s.ctx, box)
	s.Require().NoError(err)
	s.Require().Len(summaries, 1)
	s.Equal(inside, summaries[0].UUID)
	s.Equal(1, summaries[0].Version)
	s.Equal("mapper-7", summaries[0].Author)
}

// fakeCache records cache traffic so invalidation can be asserted.
type fakeCache struct {
	entries     map[string]models.Projection
	invalidated []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]models.Projection)}
}

func (c *fakeCache) Get(_ context.Context, uuid string) (*models.Projection, bool) {
	p, ok := c.entries[uuid]
	if !ok {
		return nil, false
	}
	return &p, true
}

func (c *fakeCache) Set(_ context.Context, uuid string, p models.Projection) {
	c.entries[uuid] = p
}

func (c *fakeCache) Invalidate(_ context.Context, uuid string) {
	c.invalidated = append(c.invalidated, uuid)
	delete(c.entries, uuid)
}

func (s *LocalityServiceSuite) TestProjectionCaching() {
	cache := newFakeCache()
	tx := store.NewInMemoryTx(s.localities, s.changesets)
	svc := New(s.localities, s.changesets, s.catalog, tx, WithCache(cache))

	uuid := s.createHospital(map[string]string{"name": "Kariakoo"})

	p, err := svc.Project(s.ctx, uuid)
	s.Require().NoError(err)
	s.Contains(cache.entries, uuid)

	// A warm read is served from the cache.
	again, err := svc.Project(s.ctx, uuid)
	s.Require().NoError(err)
	s.Equal(p, again)

	// Any persisted update invalidates the entry.
	_, err = svc.Update(s.ctx, uuid, UpdateInput{
		Geom:   geo.Point{Lon: 39.27, Lat: -6.82},
		Values: map[string]string{"name": "Kariakoo Health Centre"},
	})
	s.Require().NoError(err)
	s.Contains(cache.invalidated, uuid)
	s.NotContains(cache.entries, uuid)
}
