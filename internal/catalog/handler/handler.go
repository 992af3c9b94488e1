// Package handler exposes the catalog administration surface: domains,
// attributes and specification bindings.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"gazetteer/internal/catalog/models"
	"gazetteer/internal/platform/metrics"
	"gazetteer/internal/platform/middleware"
	"gazetteer/internal/transport/http/shared"
	dErrors "gazetteer/pkg/domain-errors"
)

// Service defines the catalog operations the handler depends on.
type Service interface {
	CreateDomain(ctx context.Context, name, description, templateFragment string) (*models.Domain, error)
	UpdateDomain(ctx context.Context, name, description, templateFragment string) (*models.Domain, error)
	GetDomain(ctx context.Context, name string) (*models.Domain, error)
	ListDomains(ctx context.Context) ([]models.Domain, error)
	RegisterAttribute(ctx context.Context, key string) (*models.Attribute, error)
	BindSpecification(ctx context.Context, domainName, attributeKey string, required bool) (*models.Specification, error)
	ArchiveSpecification(ctx context.Context, domainName, attributeKey string) error
	ResolveByDomain(ctx context.Context, domainName string) ([]models.Specification, error)
}

// Handler handles catalog administration endpoints.
type Handler struct {
	logger       *slog.Logger
	catalog      Service
	metrics      *metrics.Metrics
	jwtValidator middleware.JWTValidator
}

func New(catalog Service, logger *slog.Logger, m *metrics.Metrics, jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		logger:       logger,
		catalog:      catalog,
		metrics:      m,
		jwtValidator: jwtValidator,
	}
}

// Register mounts the catalog routes. Domain listing and reads are public so
// clients can discover the attribute shape; mutations require auth.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(router chi.Router) {
		router.Use(middleware.Recovery(h.logger))
		router.Use(middleware.RequestID)
		router.Use(middleware.Logger(h.logger))
		router.Use(middleware.Timeout(15 * time.Second))
		router.Use(middleware.ContentTypeJSON)
		if h.metrics != nil {
			router.Use(middleware.Latency(h.metrics))
		}

		router.Get("/domains", h.handleListDomains)
		router.Get("/domains/{domain}", h.handleGetDomain)

		router.Group(func(auth chi.Router) {
			auth.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
			auth.Post("/domains", h.handleCreateDomain)
			auth.Put("/domains/{domain}", h.handleUpdateDomain)
			auth.Post("/attributes", h.handleRegisterAttribute)
			auth.Post("/domains/{domain}/specifications", h.handleBindSpecification)
			auth.Delete("/domains/{domain}/specifications/{key}", h.handleArchiveSpecification)
		})
	})
}

type domainRequest struct {
	Name             string `json:"name"`
	Description      string `json:"description"`
	TemplateFragment string `json:"template_fragment"`
}

type domainResponse struct {
	Name             string                `json:"name"`
	Description      string                `json:"description"`
	TemplateFragment string                `json:"template_fragment"`
	Specifications   []specificationDetail `json:"specifications"`
}

type specificationDetail struct {
	Key      string `json:"key"`
	Required bool   `json:"required"`
}

func (h *Handler) handleCreateDomain(w http.ResponseWriter, r *http.Request) {
	var req domainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeValidation, "invalid request body"))
		return
	}

	domain, err := h.catalog.CreateDomain(r.Context(), req.Name, req.Description, req.TemplateFragment)
	if err != nil {
		h.logFailure(r.Context(), "create domain failed", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, domain)
}

func (h *Handler) handleUpdateDomain(w http.ResponseWriter, r *http.Request) {
	var req domainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeValidation, "invalid request body"))
		return
	}

	domain, err := h.catalog.UpdateDomain(r.Context(), chi.URLParam(r, "domain"), req.Description, req.TemplateFragment)
	if err != nil {
		h.logFailure(r.Context(), "update domain failed", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, domain)
}

func (h *Handler) handleListDomains(w http.ResponseWriter, r *http.Request) {
	domains, err := h.catalog.ListDomains(r.Context())
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	if domains == nil {
		domains = []models.Domain{}
	}
	shared.WriteJSON(w, http.StatusOK, domains)
}

// handleGetDomain returns the domain together with its active specification
// set, so a client can build an editing form in one round trip.
func (h *Handler) handleGetDomain(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "domain")

	domain, err := h.catalog.GetDomain(ctx, name)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	specs, err := h.catalog.ResolveByDomain(ctx, name)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	resp := domainResponse{
		Name:             domain.Name,
		Description:      domain.Description,
		TemplateFragment: domain.TemplateFragment,
		Specifications:   make([]specificationDetail, 0, len(specs)),
	}
	for _, spec := range specs {
		resp.Specifications = append(resp.Specifications, specificationDetail{
			Key:      spec.Key(),
			Required: spec.Required,
		})
	}
	shared.WriteJSON(w, http.StatusOK, resp)
}

type attributeRequest struct {
	Key string `json:"key"`
}

func (h *Handler) handleRegisterAttribute(w http.ResponseWriter, r *http.Request) {
	var req attributeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeValidation, "invalid request body"))
		return
	}

	attr, err := h.catalog.RegisterAttribute(r.Context(), req.Key)
	if err != nil {
		h.logFailure(r.Context(), "register attribute failed", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, attr)
}

type bindRequest struct {
	AttributeKey string `json:"attribute_key"`
	Required     bool   `json:"required"`
}

func (h *Handler) handleBindSpecification(w http.ResponseWriter, r *http.Request) {
	var req bindRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeValidation, "invalid request body"))
		return
	}

	spec, err := h.catalog.BindSpecification(r.Context(), chi.URLParam(r, "domain"), req.AttributeKey, req.Required)
	if err != nil {
		h.logFailure(r.Context(), "bind specification failed", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, spec)
}

func (h *Handler) handleArchiveSpecification(w http.ResponseWriter, r *http.Request) {
	err := h.catalog.ArchiveSpecification(r.Context(), chi.URLParam(r, "domain"), chi.URLParam(r, "key"))
	if err != nil {
		h.logFailure(r.Context(), "archive specification failed", err)
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) logFailure(ctx context.Context, msg string, err error) {
	if h.logger == nil {
		return
	}
	h.logger.WarnContext(ctx, msg,
		"request_id", middleware.GetRequestID(ctx),
		"error", err.Error(),
	)
}
