// Package service implements domain administration and the specification
// resolver. The resolver's result is the single source of truth for which
// attribute keys a locality write must and may carry.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"gazetteer/internal/catalog/models"
	"gazetteer/internal/render"
	dErrors "gazetteer/pkg/domain-errors"
	audit "gazetteer/pkg/platform/audit"
	"gazetteer/pkg/platform/sentinel"
	"gazetteer/pkg/requestcontext"
)

const specCacheSize = 256

// Store is the persistence boundary for the catalog.
type Store interface {
	CreateDomain(ctx context.Context, domain models.Domain) error
	UpdateDomain(ctx context.Context, domain models.Domain) error
	GetDomain(ctx context.Context, name string) (*models.Domain, error)
	ListDomains(ctx context.Context) ([]models.Domain, error)
	CreateAttribute(ctx context.Context, attr models.Attribute) error
	GetAttribute(ctx context.Context, key string) (*models.Attribute, error)
	BindSpecification(ctx context.Context, domainName, attributeKey string, required bool) (*models.Specification, error)
	ArchiveSpecification(ctx context.Context, domainName, attributeKey string) error
	ListSpecifications(ctx context.Context, domainName string) ([]models.Specification, error)
}

// AuditPublisher receives catalog administration events.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service orchestrates catalog administration and specification resolution.
type Service struct {
	store    Store
	renderer render.Renderer
	logger   *slog.Logger
	auditor  AuditPublisher

	// specCache memoizes resolved specification sets per domain. Binding or
	// archiving a specification invalidates the domain's entry.
	specCache *lru.Cache[string, []models.Specification]
}

// Option configures the Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) { s.auditor = publisher }
}

// New constructs a Service. The renderer validates template fragments at
// domain-save time.
func New(store Store, renderer render.Renderer, opts ...Option) *Service {
	cache, _ := lru.New[string, []models.Specification](specCacheSize)
	s := &Service{store: store, renderer: renderer, specCache: cache}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateDomain registers a new domain. The template fragment is compiled
// against an empty context; a syntax error rejects the save.
func (s *Service) CreateDomain(ctx context.Context, name, description, templateFragment string) (*models.Domain, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "domain name is required")
	}
	if err := s.checkFragment(templateFragment); err != nil {
		return nil, err
	}

	domain := models.Domain{Name: name, Description: description, TemplateFragment: templateFragment}
	if err := s.store.CreateDomain(ctx, domain); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "domain name must be unique")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create domain")
	}

	s.logAudit(ctx, string(audit.EventDomainCreated), name)
	return &domain, nil
}

// UpdateDomain replaces a domain's description and template fragment. The
// fragment is revalidated; the specification set is untouched.
func (s *Service) UpdateDomain(ctx context.Context, name, description, templateFragment string) (*models.Domain, error) {
	if err := s.checkFragment(templateFragment); err != nil {
		return nil, err
	}
	domain := models.Domain{Name: name, Description: description, TemplateFragment: templateFragment}
	if err := s.store.UpdateDomain(ctx, domain); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "domain not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update domain")
	}
	s.logAudit(ctx, string(audit.EventDomainUpdated), name)
	return &domain, nil
}

// GetDomain resolves a domain by name.
func (s *Service) GetDomain(ctx context.Context, name string) (*models.Domain, error) {
	domain, err := s.store.GetDomain(ctx, name)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "domain not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load domain")
	}
	return domain, nil
}

// ListDomains returns all domains ordered by name.
func (s *Service) ListDomains(ctx context.Context) ([]models.Domain, error) {
	domains, err := s.store.ListDomains(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list domains")
	}
	return domains, nil
}

// RegisterAttribute adds a reusable attribute definition to the catalog.
func (s *Service) RegisterAttribute(ctx context.Context, key string) (*models.Attribute, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "attribute key is required")
	}
	attr := models.Attribute{Key: key}
	if err := s.store.CreateAttribute(ctx, attr); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "attribute key must be unique")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to register attribute")
	}
	return &attr, nil
}

// BindSpecification attaches an attribute to a domain's editable set.
func (s *Service) BindSpecification(ctx context.Context, domainName, attributeKey string, required bool) (*models.Specification, error) {
	spec, err := s.store.BindSpecification(ctx, domainName, attributeKey, required)
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			return nil, dErrors.New(dErrors.CodeNotFound, "domain or attribute not found")
		case errors.Is(err, sentinel.ErrConflict):
			return nil, dErrors.Newf(dErrors.CodeConflict, "attribute %q is already bound to domain %q", attributeKey, domainName)
		default:
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to bind specification")
		}
	}
	s.specCache.Remove(domainName)
	s.logAudit(ctx, string(audit.EventSpecificationBound), domainName)
	return spec, nil
}

// ArchiveSpecification removes an attribute from a domain's editable set.
// Existing locality values for it remain readable.
func (s *Service) ArchiveSpecification(ctx context.Context, domainName, attributeKey string) error {
	if err := s.store.ArchiveSpecification(ctx, domainName, attributeKey); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "specification not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to archive specification")
	}
	s.specCache.Remove(domainName)
	return nil
}

// ResolveByDomain returns the domain's active specifications in their
// deterministic (insertion) order. This set drives editable-field
// generation, required-key validation and the valid target keys for values.
func (s *Service) ResolveByDomain(ctx context.Context, domainName string) ([]models.Specification, error) {
	if specs, ok := s.specCache.Get(domainName); ok {
		return specs, nil
	}
	specs, err := s.store.ListSpecifications(ctx, domainName)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "domain not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve specifications")
	}
	s.specCache.Add(domainName, specs)
	return specs, nil
}

func (s *Service) checkFragment(fragment string) error {
	if s.renderer == nil {
		return nil
	}
	if _, err := s.renderer.Render(fragment, map[string]any{}); err != nil {
		if dErrors.HasCode(err, dErrors.CodeTemplateSyntax) {
			return err
		}
		return dErrors.Wrap(err, dErrors.CodeTemplateSyntax, "template fragment failed to compile")
	}
	return nil
}

func (s *Service) logAudit(ctx context.Context, event, subject string) {
	if s.logger != nil {
		s.logger.InfoContext(ctx, event,
			"subject", subject,
			"event", event,
			"log_type", "audit",
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	if s.auditor == nil {
		return
	}
	_ = s.auditor.Emit(ctx, audit.Event{
		UserID:    requestcontext.UserID(ctx),
		Subject:   subject,
		Action:    event,
		RequestID: requestcontext.RequestID(ctx),
	})
}
