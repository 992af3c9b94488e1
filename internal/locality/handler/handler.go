// Package handler exposes the locality HTTP surface: the map query, the
// flat projection reads, and the authenticated write endpoints.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"gazetteer/internal/cluster"
	"gazetteer/internal/locality/models"
	"gazetteer/internal/locality/service"
	"gazetteer/internal/platform/metrics"
	"gazetteer/internal/platform/middleware"
	"gazetteer/internal/transport/http/shared"
	dErrors "gazetteer/pkg/domain-errors"
	"gazetteer/pkg/geo"
)

// Service defines the locality operations the handler depends on.
type Service interface {
	Create(ctx context.Context, in service.CreateInput) (string, error)
	Update(ctx context.Context, uuid string, in service.UpdateInput) (*models.Locality, error)
	Project(ctx context.Context, uuid string) (*models.Projection, error)
	ProjectWithRepr(ctx context.Context, uuid string) (*models.Projection, error)
	ListInBBox(ctx context.Context, box geo.BBox) ([]models.Summary, error)
}

// Handler handles locality endpoints.
type Handler struct {
	logger       *slog.Logger
	localities   Service
	metrics      *metrics.Metrics
	jwtValidator middleware.JWTValidator
}

func New(localities Service, logger *slog.Logger, m *metrics.Metrics, jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		logger:       logger,
		localities:   localities,
		metrics:      m,
		jwtValidator: jwtValidator,
	}
}

// Register mounts the locality routes. Reads are public; writes require an
// authenticated acting user.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(router chi.Router) {
		router.Use(middleware.Recovery(h.logger))
		router.Use(middleware.RequestID)
		router.Use(middleware.Logger(h.logger))
		router.Use(middleware.Timeout(30 * time.Second))
		router.Use(middleware.ContentTypeJSON)
		if h.metrics != nil {
			router.Use(middleware.Latency(h.metrics))
		}

		router.Get("/localities", h.handleList)
		router.Get("/localities/{uuid}", h.handleGet)
		router.Get("/localities/{uuid}/info", h.handleInfo)

		router.Group(func(auth chi.Router) {
			auth.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
			auth.Post("/domains/{domain}/localities", h.handleCreate)
			auth.Post("/localities/{uuid}", h.handleUpdate)
		})
	})
}

// writeRequest is the body shared by create and update: geometry as two
// scalars plus the raw attribute mapping.
type writeRequest struct {
	Lon    float64           `json:"lon"`
	Lat    float64           `json:"lat"`
	Values map[string]string `json:"values"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req writeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeValidation, "invalid request body"))
		return
	}

	uuid, err := h.localities.Create(ctx, service.CreateInput{
		Domain: chi.URLParam(r, "domain"),
		Geom:   geo.Point{Lon: req.Lon, Lat: req.Lat},
		Values: req.Values,
	})
	if err != nil {
		h.logFailure(ctx, "create locality failed", err)
		shared.WriteError(w, err)
		return
	}

	shared.WriteJSON(w, http.StatusCreated, map[string]string{"uuid": uuid})
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req writeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeValidation, "invalid request body"))
		return
	}

	loc, err := h.localities.Update(ctx, chi.URLParam(r, "uuid"), service.UpdateInput{
		Geom:   geo.Point{Lon: req.Lon, Lat: req.Lat},
		Values: req.Values,
	})
	if err != nil {
		h.logFailure(ctx, "update locality failed", err)
		shared.WriteError(w, err)
		return
	}

	shared.WriteJSON(w, http.StatusOK, loc)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	p, err := h.localities.Project(r.Context(), chi.URLParam(r, "uuid"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) handleInfo(w http.ResponseWriter, r *http.Request) {
	p, err := h.localities.ProjectWithRepr(r.Context(), chi.URLParam(r, "uuid"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, p)
}

// handleList serves the map query. With zoom and icon_size parameters the
// result is clustered; otherwise the raw summaries are returned.
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	box, err := geo.ParseBBox(r.URL.Query().Get("bbox"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	summaries, err := h.localities.ListInBBox(ctx, box)
	if err != nil {
		h.logFailure(ctx, "bbox query failed", err)
		shared.WriteError(w, err)
		return
	}

	q := r.URL.Query()
	if q.Get("zoom") != "" {
		zoom, err := strconv.Atoi(q.Get("zoom"))
		if err != nil {
			shared.WriteError(w, dErrors.New(dErrors.CodeValidation, "zoom must be an integer"))
			return
		}
		iconSize := 48
		if raw := q.Get("icon_size"); raw != "" {
			iconSize, err = strconv.Atoi(raw)
			if err != nil || iconSize <= 0 {
				shared.WriteError(w, dErrors.New(dErrors.CodeValidation, "icon_size must be a positive integer"))
				return
			}
		}
		clusters := cluster.Build(summaries, zoom, iconSize, iconSize)
		if clusters == nil {
			clusters = []cluster.Cluster{}
		}
		shared.WriteJSON(w, http.StatusOK, clusters)
		return
	}

	if summaries == nil {
		summaries = []models.Summary{}
	}
	shared.WriteJSON(w, http.StatusOK, summaries)
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
