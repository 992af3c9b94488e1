package importer

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"gazetteer/internal/platform/middleware"
	"gazetteer/internal/transport/http/shared"
	dErrors "gazetteer/pkg/domain-errors"
	"gazetteer/pkg/geo"
)

// Handler exposes the import trigger. Runs are synchronous: the response
// carries the run report.
type Handler struct {
	logger       *slog.Logger
	importer     *Importer
	jwtValidator middleware.JWTValidator
}

func NewHandler(imp *Importer, logger *slog.Logger, jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{logger: logger, importer: imp, jwtValidator: jwtValidator}
}

func (h *Handler) Register(r chi.Router) {
	r.Group(func(router chi.Router) {
		router.Use(middleware.Recovery(h.logger))
		router.Use(middleware.RequestID)
		router.Use(middleware.Logger(h.logger))
		// Overpass itself allows queries up to a minute; leave headroom.
		router.Use(middleware.Timeout(2 * time.Minute))

		router.Get("/localities.csv", h.handleExport)

		router.Group(func(auth chi.Router) {
			auth.Use(middleware.ContentTypeJSON)
			auth.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
			auth.Post("/admin/import", h.handleImport)
		})
	})
}

type importRequest struct {
	Domain  string `json:"domain"`
	Amenity string `json:"amenity"`
	BBox    string `json:"bbox"`
}

func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeValidation, "invalid request body"))
		return
	}
	if req.Amenity == "" {
		shared.WriteError(w, dErrors.NewValidation("amenity is required", "amenity"))
		return
	}
	box, err := geo.ParseBBox(req.BBox)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	report, err := h.importer.Run(ctx, req.Domain, Query{Amenity: req.Amenity, BBox: box})
	if err != nil {
		h.logger.ErrorContext(ctx, "import run failed",
			"request_id", middleware.GetRequestID(ctx),
			"domain", req.Domain,
			"error", err.Error(),
		)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, report)
}

// handleExport streams the domain's localities as CSV.
func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	domain := q.Get("domain")
	if domain == "" {
		shared.WriteError(w, dErrors.NewValidation("domain is required", "domain"))
		return
	}
	box, err := geo.ParseBBox(q.Get("bbox"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="localities.csv"`)
	if err := h.importer.Export(ctx, w, domain, box); err != nil {
		// Headers may already be out; log rather than write a second body.
		h.logger.ErrorContext(ctx, "csv export failed",
			"request_id", middleware.GetRequestID(ctx),
			"domain", domain,
			"error", err.Error(),
		)
	}
}
