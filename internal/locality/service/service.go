// Package service implements the versioned write pipeline and the read
// projection. Writes validate against the domain's resolved specification
// set, run as one atomic transaction, and decide via a dirty check whether a
// new changeset is minted.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	catalogmodels "gazetteer/internal/catalog/models"
	csmodels "gazetteer/internal/changeset/models"
	"gazetteer/internal/locality/models"
	"gazetteer/internal/platform/metrics"
	"gazetteer/internal/render"
	dErrors "gazetteer/pkg/domain-errors"
	"gazetteer/pkg/geo"
	audit "gazetteer/pkg/platform/audit"
	"gazetteer/pkg/platform/sentinel"
	"gazetteer/pkg/requestcontext"
)

// upstreamSeparator tags locally-created upstream ids so they can never
// collide with identifiers minted by an external source.
const upstreamSeparator = "¶"

// WebSource is the prefix for localities created through the public API.
const WebSource = "web"

// SpecResolver supplies the domain's specification set and template
// fragment. Implemented by the catalog service.
type SpecResolver interface {
	ResolveByDomain(ctx context.Context, domainName string) ([]catalogmodels.Specification, error)
	GetDomain(ctx context.Context, name string) (*catalogmodels.Domain, error)
}

// LocalityStore is the persistence boundary for localities and their values.
type LocalityStore interface {
	Insert(ctx context.Context, loc *models.Locality) error
	Get(ctx context.Context, uuid string) (*models.Locality, error)
	GetForUpdate(ctx context.Context, uuid string) (*models.Locality, error)
	GetByUpstreamID(ctx context.Context, upstreamID string) (*models.Locality, error)
	Update(ctx context.Context, loc *models.Locality) error
	UpsertValue(ctx context.Context, localityUUID, key, data string) (bool, error)
	ListValues(ctx context.Context, localityUUID string) ([]models.Value, error)
	InBBox(ctx context.Context, box geo.BBox) ([]models.Locality, error)
}

// ChangesetStore is the append-only ledger boundary.
type ChangesetStore interface {
	Append(ctx context.Context, cs csmodels.Changeset) error
	Get(ctx context.Context, id uuid.UUID) (*csmodels.Changeset, error)
}

// StoreTx runs a function with all-or-nothing semantics across both stores.
type StoreTx interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// AuditPublisher receives provenance events after a commit.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// ProjectionCache holds rendered-ready projections keyed by locality uuid.
type ProjectionCache interface {
	Get(ctx context.Context, uuid string) (*models.Projection, bool)
	Set(ctx context.Context, uuid string, p models.Projection)
	Invalidate(ctx context.Context, uuid string)
}

// Service orchestrates locality reads and versioned writes.
type Service struct {
	localities LocalityStore
	changesets ChangesetStore
	resolver   SpecResolver
	tx         StoreTx

	logger   *slog.Logger
	metrics  *metrics.Metrics
	auditor  AuditPublisher
	renderer render.Renderer
	cache    ProjectionCache
	tracer   trace.Tracer
}

// Option configures the Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) { s.auditor = publisher }
}

func WithRenderer(r render.Renderer) Option {
	return func(s *Service) { s.renderer = r }
}

func WithCache(c ProjectionCache) Option {
	return func(s *Service) { s.cache = c }
}

func New(localities LocalityStore, changesets ChangesetStore, resolver SpecResolver, tx StoreTx, opts ...Option) *Service {
	s := &Service{
		localities: localities,
		changesets: changesets,
		resolver:   resolver,
		tx:         tx,
		tracer:     otel.Tracer("gazetteer/locality"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateInput carries everything needed to create a locality. Geometry is
// two independent scalars; attribute values are raw strings keyed by
// attribute key.
type CreateInput struct {
	Domain string
	Geom   geo.Point
	Values map[string]string
	// UpstreamID optionally carries a source-tagged identifier from the
	// importer. Empty means a web create; the id is derived from the new
	// uuid so it cannot collide with imported ones.
	UpstreamID string
}

// Create validates the input against the domain's specification set and
// persists the locality, its changeset and its values in one transaction.
// Returns the new locality's uuid.
func (s *Service) Create(ctx context.Context, in CreateInput) (string, error) {
	ctx, span := s.tracer.Start(ctx, "locality.Create",
		trace.WithAttributes(attribute.String("domain", in.Domain)))
	defer span.End()

	specs, err := s.resolver.ResolveByDomain(ctx, in.Domain)
	if err != nil {
		return "", err
	}
	if err := s.validate(specs, in.Geom, in.Values); err != nil {
		return "", err
	}

	localityUUID := strings.ReplaceAll(uuid.NewString(), "-", "")
	upstreamID := in.UpstreamID
	if upstreamID == "" {
		upstreamID = WebSource + upstreamSeparator + localityUUID
	}

	author := requestcontext.UserID(ctx)
	now := requestcontext.Now(ctx)

	var cs csmodels.Changeset
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		cs = csmodels.New(author, now)
		if err := s.changesets.Append(txCtx, cs); err != nil {
			return err
		}
		loc := &models.Locality{
			UUID:        localityUUID,
			UpstreamID:  upstreamID,
			DomainName:  in.Domain,
			Geom:        in.Geom,
			ChangesetID: cs.ID,
			Version:     1,
		}
		if err := s.localities.Insert(txCtx, loc); err != nil {
			return err
		}
		for _, spec := range specs {
			data, ok := in.Values[spec.Key()]
			if !ok {
				continue
			}
			if _, err := s.localities.UpsertValue(txCtx, localityUUID, spec.Key(), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return "", dErrors.Wrap(err, dErrors.CodeWriteFailed, "failed to create locality")
	}

	if s.metrics != nil {
		s.metrics.IncrementLocalitiesCreated()
		s.metrics.IncrementChangesetsCreated()
	}
	s.emit(ctx, audit.EventChangesetCreated, cs.ID.String())
	s.emit(ctx, audit.EventLocalityCreated, localityUUID)
	s.log(ctx, "locality created", "uuid", localityUUID, "domain", in.Domain)
	return localityUUID, nil
}

// UpdateInput carries a proposed geometry and attribute mapping for an
// existing locality.
type UpdateInput struct {
	Geom   geo.Point
	Values map[string]string
}

// Update applies a validated geometry and value mapping. A changed geometry
// mints a new changeset and rebinds the locality to it; a no-op geometry
// write retains the current changeset. Attribute-value changes alone do not
// gate changeset creation. The whole write is one transaction.
func (s *Service) Update(ctx context.Context, localityUUID string, in UpdateInput) (*models.Locality, error) {
	ctx, span := s.tracer.Start(ctx, "locality.Update",
		trace.WithAttributes(attribute.String("uuid", localityUUID)))
	defer span.End()

	existing, err := s.localities.Get(ctx, localityUUID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "locality not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load locality")
	}

	specs, err := s.resolver.ResolveByDomain(ctx, existing.DomainName)
	if err != nil {
		return nil, err
	}
	if err := s.validate(specs, in.Geom, in.Values); err != nil {
		return nil, err
	}

	author := requestcontext.UserID(ctx)
	now := requestcontext.Now(ctx)

	var updated models.Locality
	var minted *csmodels.Changeset
	changed := false
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		minted = nil
		changed = false

		loc, err := s.localities.GetForUpdate(txCtx, localityUUID)
		if err != nil {
			return err
		}

		dirty := loc.SetGeom(in.Geom)
		if dirty {
			cs := csmodels.New(author, now)
			if err := s.changesets.Append(txCtx, cs); err != nil {
				return err
			}
			loc.ChangesetID = cs.ID
			minted = &cs
		}

		valuesChanged := false
		for _, spec := range specs {
			data, ok := in.Values[spec.Key()]
			if !ok {
				continue
			}
			wrote, err := s.localities.UpsertValue(txCtx, localityUUID, spec.Key(), data)
			if err != nil {
				return err
			}
			valuesChanged = valuesChanged || wrote
		}

		changed = dirty || valuesChanged
		if changed {
			loc.Version++
			if err := s.localities.Update(txCtx, loc); err != nil {
				return err
			}
		}
		updated = *loc
		return nil
	})
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "locality not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeWriteFailed, "failed to update locality")
	}

	if s.cache != nil {
		s.cache.Invalidate(ctx, localityUUID)
	}
	if minted != nil {
		if s.metrics != nil {
			s.metrics.IncrementChangesetsCreated()
		}
		s.emit(ctx, audit.EventChangesetCreated, minted.ID.String())
	}
	if changed {
		if s.metrics != nil {
			s.metrics.IncrementLocalitiesUpdated()
		}
		s.emit(ctx, audit.EventLocalityUpdated, localityUUID)
		s.log(ctx, "locality updated", "uuid", localityUUID, "version", updated.Version)
	}
	return &updated, nil
}

// Project reconstitutes the flat external representation of a locality:
// identity fields, geometry scalars, the materialized attribute map, and
// the changeset author remapped to user_id. Values whose specification has
// drifted out of the domain's current set are still included.
func (s *Service) Project(ctx context.Context, localityUUID string) (*models.Projection, error) {
	if s.cache != nil {
		if p, ok := s.cache.Get(ctx, localityUUID); ok {
			return p, nil
		}
	}

	loc, err := s.localities.Get(ctx, localityUUID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "locality not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load locality")
	}

	values, err := s.localities.ListValues(ctx, localityUUID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load values")
	}

	p := models.Projection{
		UUID:    loc.UUID,
		Version: loc.Version,
		Geom:    loc.Geom,
		Values:  make(map[string]string, len(values)),
	}
	for _, v := range values {
		p.Values[v.Key] = v.Data
	}
	if cs, err := s.changesets.Get(ctx, loc.ChangesetID); err == nil {
		p.Author = cs.Author
	}

	if s.cache != nil {
		s.cache.Set(ctx, localityUUID, p)
	}
	return &p, nil
}

// ProjectWithRepr additionally renders the domain's template fragment
// against the flat mapping. A rendering failure for a specific locality is
// the rendering collaborator's concern: it is logged and the repr omitted.
func (s *Service) ProjectWithRepr(ctx context.Context, localityUUID string) (*models.Projection, error) {
	loc, err := s.localities.Get(ctx, localityUUID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "locality not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load locality")
	}

	p, err := s.Project(ctx, localityUUID)
	if err != nil {
		return nil, err
	}
	projection := *p

	if s.renderer != nil {
		domain, err := s.resolver.GetDomain(ctx, loc.DomainName)
		if err != nil {
			return nil, err
		}
		repr, err := s.renderer.Render(domain.TemplateFragment, projection.Flat())
		if err != nil {
			s.log(ctx, "fragment rendering failed", "uuid", localityUUID, "error", err)
		} else {
			projection.Repr = repr
		}
	}
	return &projection, nil
}

// ListInBBox returns the summary shape consumed by the map API and the
// clustering collaborator.
func (s *Service) ListInBBox(ctx context.Context, box geo.BBox) ([]models.Summary, error) {
	locs, err := s.localities.InBBox(ctx, box)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "bbox query failed")
	}

	authors := make(map[uuid.UUID]string)
	out := make([]models.Summary, 0, len(locs))
	for _, loc := range locs {
		author, ok := authors[loc.ChangesetID]
		if !ok {
			if cs, err := s.changesets.Get(ctx, loc.ChangesetID); err == nil {
				author = cs.Author
			}
			authors[loc.ChangesetID] = author
		}
		out = append(out, models.Summary{
			UUID:    loc.UUID,
			Geom:    loc.Geom,
			Version: loc.Version,
			Author:  author,
		})
	}
	return out, nil
}

// ProjectInBBox materializes full projections for every locality of the
// domain inside the box. Backs the CSV export; reads bypass the cache since
// a bulk export would churn it for no gain.
func (s *Service) ProjectInBBox(ctx context.Context, domain string, box geo.BBox) ([]models.Projection, error) {
	locs, err := s.localities.InBBox(ctx, box)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "bbox query failed")
	}

	authors := make(map[uuid.UUID]string)
	var out []models.Projection
	for _, loc := range locs {
		if loc.DomainName != domain {
			continue
		}
		values, err := s.localities.ListValues(ctx, loc.UUID)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load values")
		}
		p := models.Projection{
			UUID:    loc.UUID,
			Version: loc.Version,
			Geom:    loc.Geom,
			Values:  make(map[string]string, len(values)),
		}
		for _, v := range values {
			p.Values[v.Key] = v.Data
		}
		author, ok := authors[loc.ChangesetID]
		if !ok {
			if cs, err := s.changesets.Get(ctx, loc.ChangesetID); err == nil {
				author = cs.Author
			}
			authors[loc.ChangesetID] = author
		}
		p.Author = author
		out = append(out, p)
	}
	return out, nil
}

// FindByUpstreamID resolves an externally-sourced identifier. Used by the
// importer to detect already-imported records.
func (s *Service) FindByUpstreamID(ctx context.Context, upstreamID string) (*models.Locality, error) {
	loc, err := s.localities.GetByUpstreamID(ctx, upstreamID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "locality not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve upstream id")
	}
	return loc, nil
}

// validate enforces the specification-set contract: every required key must
// be present, no key outside the set is accepted, and the geometry must be
// finite coordinates.
func (s *Service) validate(specs []catalogmodels.Specification, geom geo.Point, values map[string]string) error {
	if err := geom.Validate(); err != nil {
		s.countValidationFailure()
		return err
	}

	known := make(map[string]bool, len(specs))
	var missing []string
	for _, spec := range specs {
		known[spec.Key()] = true
		if spec.Required {
			if _, ok := values[spec.Key()]; !ok {
				missing = append(missing, spec.Key())
			}
		}
	}
	var extra []string
	for key := range values {
		if !known[key] {
			extra = append(extra, key)
		}
	}
	sort.Strings(extra)

	switch {
	case len(missing) > 0 && len(extra) > 0:
		s.countValidationFailure()
		return dErrors.NewValidation("missing required and unknown attribute keys", append(missing, extra...)...)
	case len(missing) > 0:
		s.countValidationFailure()
		return dErrors.NewValidation("missing required attribute keys", missing...)
	case len(extra) > 0:
		s.countValidationFailure()
		return dErrors.NewValidation("attribute keys outside the domain specification", extra...)
	}
	return nil
}

func (s *Service) countValidationFailure() {
	if s.metrics != nil {
		s.metrics.IncrementValidationFailures()
	}
}

func (s *Service) emit(ctx context.Context, action audit.AuditEvent, subject string) {
	if s.auditor == nil {
		return
	}
	_ = s.auditor.Emit(ctx, audit.Event{
		UserID:    requestcontext.UserID(ctx),
		Subject:   subject,
		Action:    string(action),
		RequestID: requestcontext.RequestID(ctx),
	})
}

func (s *Service) log(ctx context.Context, msg string, args ...any) {
	if s.logger == nil {
		return
	}
	args = append(args, "request_id", requestcontext.RequestID(ctx))
	s.logger.InfoContext(ctx, msg, args...)
}
