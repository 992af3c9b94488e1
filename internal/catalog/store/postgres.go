package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"gazetteer/internal/catalog/models"
	"gazetteer/pkg/platform/sentinel"
	txcontext "gazetteer/pkg/platform/tx"
)

// Postgres persists the attribute catalog. Reads and writes participate in
// an in-flight transaction when one is carried in the context.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Postgres) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Postgres) CreateDomain(ctx context.Context, domain models.Domain) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO domains (name, description, template_fragment)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO NOTHING
	`, domain.Name, domain.Description, domain.TemplateFragment)
	if err != nil {
		return fmt.Errorf("create domain: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *Postgres) UpdateDomain(ctx context.Context, domain models.Domain) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE domains SET description = $2, template_fragment = $3 WHERE name = $1
	`, domain.Name, domain.Description, domain.TemplateFragment)
	if err != nil {
		return fmt.Errorf("update domain: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Postgres) GetDomain(ctx context.Context, name string) (*models.Domain, error) {
	var domain models.Domain
	err := s.execer(ctx).QueryRowContext(ctx, `
		SELECT name, description, template_fragment FROM domains WHERE name = $1
	`, name).Scan(&domain.Name, &domain.Description, &domain.TemplateFragment)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get domain: %w", err)
	}
	return &domain, nil
}

func (s *Postgres) ListDomains(ctx context.Context) ([]models.Domain, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT name, description, template_fragment FROM domains ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list domains: %w", err)
	}
	defer rows.Close()

	var out []models.Domain
	for rows.Next() {
		var domain models.Domain
		if err := rows.Scan(&domain.Name, &domain.Description, &domain.TemplateFragment); err != nil {
			return nil, fmt.Errorf("scan domain: %w", err)
		}
		out = append(out, domain)
	}
	return out, rows.Err()
}

func (s *Postgres) CreateAttribute(ctx context.Context, attr models.Attribute) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO attributes (key) VALUES ($1) ON CONFLICT (key) DO NOTHING
	`, attr.Key)
	if err != nil {
		return fmt.Errorf("create attribute: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *Postgres) GetAttribute(ctx context.Context, key string) (*models.Attribute, error) {
	var attr models.Attribute
	err := s.execer(ctx).QueryRowContext(ctx, `
		SELECT key FROM attributes WHERE key = $1
	`, key).Scan(&attr.Key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get attribute: %w", err)
	}
	return &attr, nil
}

func (s *Postgres) BindSpecification(ctx context.Context, domainName, attributeKey string, required bool) (*models.Specification, error) {
	if _, err := s.GetDomain(ctx, domainName); err != nil {
		return nil, err
	}
	if _, err := s.GetAttribute(ctx, attributeKey); err != nil {
		return nil, err
	}

	var id int64
	err := s.execer(ctx).QueryRowContext(ctx, `
		INSERT INTO specifications (domain_name, attribute_key, required)
		VALUES ($1, $2, $3)
		ON CONFLICT (domain_name, attribute_key) DO NOTHING
		RETURNING id
	`, domainName, attributeKey, required).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrConflict
	}
	if err != nil {
		return nil, fmt.Errorf("bind specification: %w", err)
	}
	return &models.Specification{
		ID:         id,
		DomainName: domainName,
		Attribute:  models.Attribute{Key: attributeKey},
		Required:   required,
	}, nil
}

func (s *Postgres) ArchiveSpecification(ctx context.Context, domainName, attributeKey string) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE specifications SET archived = TRUE
		WHERE domain_name = $1 AND attribute_key = $2 AND NOT archived
	`, domainName, attributeKey)
	if err != nil {
		return fmt.Errorf("archive specification: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Postgres) ListSpecifications(ctx context.Context, domainName string) ([]models.Specification, error) {
	if _, err := s.GetDomain(ctx, domainName); err != nil {
		return nil, err
	}
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT id, domain_name, attribute_key, required
		FROM specifications
		WHERE domain_name = $1 AND NOT archived
		ORDER BY id
	`, domainName)
	if err != nil {
		return nil, fmt.Errorf("list specifications: %w", err)
	}
	defer rows.Close()

	var out []models.Specification
	for rows.Next() {
		var spec models.Specification
		if err := rows.Scan(&spec.ID, &spec.DomainName, &spec.Attribute.Key, &spec.Required); err != nil {
			return nil, fmt.Errorf("scan specification: %w", err)
		}
		out = append(out, spec)
	}
	return out, rows.Err()
}
