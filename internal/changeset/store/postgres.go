package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"gazetteer/internal/changeset/models"
	"gazetteer/pkg/platform/sentinel"
	txcontext "gazetteer/pkg/platform/tx"
)

// Postgres persists the changeset ledger. Only INSERT and SELECT are issued;
// the table carries no update path by construction.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Postgres) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Postgres) Append(ctx context.Context, cs models.Changeset) error {
	author := sql.NullString{String: cs.Author, Valid: cs.Author != ""}
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO changesets (id, author, created_at) VALUES ($1, $2, $3)
	`, cs.ID, author, cs.CreatedAt)
	if err != nil {
		return fmt.Errorf("append changeset: %w", err)
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, id uuid.UUID) (*models.Changeset, error) {
	var cs models.Changeset
	var author sql.NullString
	err := s.execer(ctx).QueryRowContext(ctx, `
		SELECT id, author, created_at FROM changesets WHERE id = $1
	`, id).Scan(&cs.ID, &author, &cs.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get changeset: %w", err)
	}
	cs.Author = author.String
	return &cs, nil
}
