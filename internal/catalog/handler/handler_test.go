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

	"gazetteer/internal/catalog/service"
	"gazetteer/internal/catalog/store"
	"gazetteer/internal/render"
	"gazetteer/internal/token"
)

const testSigningKey = "catalog-test-signing-key"

type CatalogHandlerSuite struct {
	suite.Suite
	router    chi.Router
	validator *token.Validator
}

func TestCatalogHandlerSuite(t *testing.T) {
	suite.Run(t, new(CatalogHandlerSuite))
}

func (s *CatalogHandlerSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := service.New(store.NewInMemory(), render.NewTemplateRenderer())
	s.validator = token.NewValidator(testSigningKey)
	s.router = chi.NewRouter()
	New(svc, logger, nil, s.validator).Register(s.router)
}

func (s *CatalogHandlerSuite) do(method, path string, body any, authenticated bool) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if authenticated {
		tok, err := s.validator.Issue("admin-1")
		s.Require().NoError(err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *CatalogHandlerSuite) TestDomainAdministration() {
	s.Run("mutations require auth", func() {
		w := s.do(http.MethodPost, "/domains", map[string]string{"name": "hospital"}, false)
		s.Equal(http.StatusUnauthorized, w.Code)
	})

	s.Run("creates a domain", func() {
		w := s.do(http.MethodPost, "/domains", map[string]string{
			"name":              "hospital",
			"description":       "Health facilities",
			"template_fragment": "{{.name}}",
		}, true)
		s.Equal(http.StatusCreated, w.Code)
	})

	s.Run("rejects a broken template fragment", func() {
		w := s.do(http.MethodPost, "/domains", map[string]string{
			"name":              "clinic",
			"template_fragment": "{{.name",
		}, true)
		s.Require().Equal(http.StatusBadRequest, w.Code)

		var resp struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
		s.Equal("template_syntax", resp.Error.Code)
	})

	s.Run("reads back the domain with its specification set", func() {
		w := s.do(http.MethodPost, "/attributes", map[string]string{"key": "name"}, true)
		s.Require().Equal(http.StatusCreated, w.Code)
		w = s.do(http.MethodPost, "/domains/hospital/specifications", map[string]any{
			"attribute_key": "name", "required": true,
		}, true)
		s.Require().Equal(http.StatusCreated, w.Code)

		w = s.do(http.MethodGet, "/domains/hospital", nil, false)
		s.Require().Equal(http.StatusOK, w.Code)

		var resp struct {
			Name           string `json:"name"`
			Specifications []struct {
				Key      string `json:"key"`
				Required bool   `json:"required"`
			} `json:"specifications"`
		}
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
		s.Equal("hospital", resp.Name)
		s.Require().Len(resp.Specifications, 1)
		s.Equal("name", resp.Specifications[0].Key)
		s.True(resp.Specifications[0].Required)
	})

	s.Run("archives a specification", func() {
		w := s.do(http.MethodDelete, "/domains/hospital/specifications/name", nil, true)
		s.Require().Equal(http.StatusNoContent, w.Code)

		w = s.do(http.MethodGet, "/domains/hospital", nil, false)
		s.Require().Equal(http.StatusOK, w.Code)
		var resp struct {
			Specifications []any `json:"specifications"`
		}
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
		s.Empty(resp.Specifications)
	})
}
