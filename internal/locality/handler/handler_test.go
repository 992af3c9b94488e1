package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	catalogservice "gazetteer/internal/catalog/service"
	catalogstore "gazetteer/internal/catalog/store"
	csstore "gazetteer/internal/changeset/store"
	locservice "gazetteer/internal/locality/service"
	locstore "gazetteer/internal/locality/store"
	"gazetteer/internal/render"
	"gazetteer/internal/token"
)

const testSigningKey = "handler-test-signing-key"

type LocalityHandlerSuite struct {
	suite.Suite
	router    chi.Router
	validator *token.Validator
}

func TestLocalityHandlerSuite(t *testing.T) {
	suite.Run(t, new(LocalityHandlerSuite))
}

func (s *LocalityHandlerSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	catalog := catalogservice.New(catalogstore.NewInMemory(), render.NewTemplateRenderer())
	localities := locstore.NewInMemory()
	changesets := csstore.NewInMemory()
	tx := locstore.NewInMemoryTx(localities, changesets)
	svc := locservice.New(localities, changesets, catalog, tx,
		locservice.WithRenderer(render.NewTemplateRenderer()),
		locservice.WithLogger(logger))

	s.validator = token.NewValidator(testSigningKey)
	s.router = chi.NewRouter()
	New(svc, logger, nil, s.validator).Register(s.router)

	ctx := s.T().Context()
	_, err := catalog.CreateDomain(ctx, "hospital", "Health facilities", "{{.name}}")
	s.Require().NoError(err)
	for _, key := range []string{"name", "ownership"} {
		_, err := catalog.RegisterAttribute(ctx, key)
		s.Require().NoError(err)
	}
	_, err = catalog.BindSpecification(ctx, "hospital", "name", true)
	s.Require().NoError(err)
	_, err = catalog.BindSpecification(ctx, "hospital", "ownership", false)
	s.Require().NoError(err)
}

func (s *LocalityHandlerSuite) do(method, path string, body any, authenticated bool) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if authenticated {
		tok, err := s.validator.Issue("mapper-7")
		s.Require().NoError(err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *LocalityHandlerSuite) createHospital() string {
	w := s.do(http.MethodPost, "/domains/hospital/localities", map[string]any{
		"lon": 39.27, "lat": -6.82,
		"values": map[string]string{"name": "Mwananyamala", "ownership": "public"},
	}, true)
	s.Require().Equal(http.StatusCreated, w.Code)

	var resp map[string]string
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.Require().NotEmpty(resp["uuid"])
	return resp["uuid"]
}

func (s *LocalityHandlerSuite) TestCreate() {
	s.Run("rejects unauthenticated writes", func() {
		w := s.do(http.MethodPost, "/domains/hospital/localities", map[string]any{
			"lon": 1, "lat": 1, "values": map[string]string{"name": "x"},
		}, false)
		s.Equal(http.StatusUnauthorized, w.Code)
	})

	s.Run("creates and reads back the flat projection", func() {
		uuid := s.createHospital()

		w := s.do(http.MethodGet, "/localities/"+uuid, nil, false)
		s.Require().Equal(http.StatusOK, w.Code)

		var flat map[string]any
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &flat))
		s.Equal(uuid, flat["uuid"])
		s.Equal("Mwananyamala", flat["name"])
		s.Equal("mapper-7", flat["user_id"])
		s.Equal(float64(1), flat["version"])
	})

	s.Run("validation failure names the offending keys", func() {
		w := s.do(http.MethodPost, "/domains/hospital/localities", map[string]any{
			"lon": 1, "lat": 1,
			"values": map[string]string{"name": "x", "helipad": "yes"},
		}, true)
		s.Require().Equal(http.StatusBadRequest, w.Code)

		var resp struct {
			Error struct {
				Code   string   `json:"code"`
				Fields []string `json:"fields"`
			} `json:"error"`
		}
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
		s.Equal("validation_failed", resp.Error.Code)
		s.Equal([]string{"helipad"}, resp.Error.Fields)
	})

	s.Run("unknown domain is 404", func() {
		w := s.do(http.MethodPost, "/domains/casino/localities", map[string]any{
			"lon": 1, "lat": 1, "values": map[string]string{},
		}, true)
		s.Equal(http.StatusNotFound, w.Code)
	})
}

func (s *LocalityHandlerSuite) TestUpdate() {
	uuid := s.createHospital()

	w := s.do(http.MethodPost, "/localities/"+uuid, map[string]any{
		"lon": 39.30, "lat": -6.82,
		"values": map[string]string{"name": "Mwananyamala", "ownership": "public"},
	}, true)
	s.Require().Equal(http.StatusOK, w.Code)

	var loc map[string]any
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &loc))
	s.Equal(float64(2), loc["version"])
}

func (s *LocalityHandlerSuite) TestGet() {
	s.Run("unknown uuid is 404", func() {
		w := s.do(http.MethodGet, "/localities/feedfacefeedfacefeedfacefeedface", nil, false)
		s.Equal(http.StatusNotFound, w.Code)
	})

	s.Run("info includes the rendered repr", func() {
		uuid := s.createHospital()

		w := s.do(http.MethodGet, "/localities/"+uuid+"/info", nil, false)
		s.Require().Equal(http.StatusOK, w.Code)

		var flat map[string]any
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &flat))
		s.Equal("Mwananyamala", flat["repr"])
	})
}

func (s *LocalityHandlerSuite) TestList() {
	s.createHospital()

	s.Run("requires a well-formed bbox", func() {
		w := s.do(http.MethodGet, "/localities?bbox=oops", nil, false)
		s.Equal(http.StatusBadRequest, w.Code)
	})

	s.Run("returns summaries inside the box", func() {
		w := s.do(http.MethodGet, "/localities?bbox=39,-7,40,-6", nil, false)
		s.Require().Equal(http.StatusOK, w.Code)

		var summaries []map[string]any
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &summaries))
		s.Require().Len(summaries, 1)
		s.Equal("mapper-7", summaries[0]["user_id"])
	})

	s.Run("empty box yields an empty array", func() {
		w := s.do(http.MethodGet, "/localities?bbox=0,0,1,1", nil, false)
		s.Require().Equal(http.StatusOK, w.Code)
		s.Equal("[]\n", w.Body.String())
	})

	s.Run("clusters when zoom is given", func() {
		w := s.do(http.MethodGet, "/localities?bbox=39,-7,40,-6&zoom=0&icon_size=48", nil, false)
		s.Require().Equal(http.StatusOK, w.Code)

		var clusters []map[string]any
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &clusters))
		s.Require().Len(clusters, 1)
		s.Equal(float64(1), clusters[0]["count"])
	})
}
