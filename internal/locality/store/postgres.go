package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"gazetteer/internal/locality/models"
	"gazetteer/pkg/geo"
	"gazetteer/pkg/platform/sentinel"
	txcontext "gazetteer/pkg/platform/tx"
)

// Postgres persists localities and their EAV rows. Writes issued inside the
// write pipeline pick up the in-flight transaction from context.
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

const localityColumns = "uuid, upstream_id, domain_name, lon, lat, changeset_id, version"

func scanLocality(row interface{ Scan(...any) error }) (*models.Locality, error) {
	var loc models.Locality
	err := row.Scan(&loc.UUID, &loc.UpstreamID, &loc.DomainName,
		&loc.Geom.Lon, &loc.Geom.Lat, &loc.ChangesetID, &loc.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan locality: %w", err)
	}
	return &loc, nil
}

func (s *Postgres) Insert(ctx context.Context, loc *models.Locality) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO localities (uuid, upstream_id, domain_name, lon, lat, changeset_id, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, loc.UUID, loc.UpstreamID, loc.DomainName, loc.Geom.Lon, loc.Geom.Lat, loc.ChangesetID, loc.Version)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert locality: %w", err)
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, uuid string) (*models.Locality, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+localityColumns+` FROM localities WHERE uuid = $1`, uuid)
	return scanLocality(row)
}

// GetForUpdate locks the locality row for the duration of the enclosing
// transaction so concurrent updates to the same locality serialize.
func (s *Postgres) GetForUpdate(ctx context.Context, uuid string) (*models.Locality, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+localityColumns+` FROM localities WHERE uuid = $1 FOR UPDATE`, uuid)
	return scanLocality(row)
}

func (s *Postgres) GetByUpstreamID(ctx context.Context, upstreamID string) (*models.Locality, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+localityColumns+` FROM localities WHERE upstream_id = $1`, upstreamID)
	return scanLocality(row)
}

// Update persists the locality's direct fields. The domain reference is
// immutable and deliberately absent from the statement.
func (s *Postgres) Update(ctx context.Context, loc *models.Locality) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE localities SET lon = $2, lat = $3, changeset_id = $4, version = $5
		WHERE uuid = $1
	`, loc.UUID, loc.Geom.Lon, loc.Geom.Lat, loc.ChangesetID, loc.Version)
	if err != nil {
		return fmt.Errorf("update locality: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// UpsertValue writes one EAV row, resolving the specification through the
// locality's own domain. That join enforces the invariant that a value can
// only reference a specification of the locality's domain. Reports whether
// the row was created or its data actually changed.
func (s *Postgres) UpsertValue(ctx context.Context, localityUUID, key, data string) (bool, error) {
	var stored string
	err := s.execer(ctx).QueryRowContext(ctx, `
		INSERT INTO locality_values (locality_uuid, specification_id, data)
		SELECT l.uuid, s.id, $3
		FROM localities l
		JOIN specifications s ON s.domain_name = l.domain_name AND s.attribute_key = $2
		WHERE l.uuid = $1
		ON CONFLICT (locality_uuid, specification_id)
		DO UPDATE SET data = EXCLUDED.data
		WHERE locality_values.data IS DISTINCT FROM EXCLUDED.data
		RETURNING data
	`, localityUUID, key, data).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		// Conflict hit but the data was identical: nothing changed.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("upsert value: %w", err)
	}
	return true, nil
}

// ListValues returns the locality's EAV rows in specification order,
// including rows whose specification has since been archived.
func (s *Postgres) ListValues(ctx context.Context, localityUUID string) ([]models.Value, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT s.attribute_key, v.data
		FROM locality_values v
		JOIN specifications s ON s.id = v.specification_id
		WHERE v.locality_uuid = $1
		ORDER BY v.specification_id
	`, localityUUID)
	if err != nil {
		return nil, fmt.Errorf("list values: %w", err)
	}
	defer rows.Close()

	var out []models.Value
	for rows.Next() {
		var v models.Value
		if err := rows.Scan(&v.Key, &v.Data); err != nil {
			return nil, fmt.Errorf("scan value: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Postgres) InBBox(ctx context.Context, box geo.BBox) ([]models.Locality, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT `+localityColumns+`
		FROM localities
		WHERE lon BETWEEN $1 AND $3 AND lat BETWEEN $2 AND $4
		ORDER BY uuid
	`, box.MinLon, box.MinLat, box.MaxLon, box.MaxLat)
	if err != nil {
		return nil, fmt.Errorf("bbox query: %w", err)
	}
	defer rows.Close()

	var out []models.Locality
	for rows.Next() {
		loc, err := scanLocality(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *loc)
	}
	return out, rows.Err()
}

// Delete removes a locality; its values cascade, its changesets stay.
func (s *Postgres) Delete(ctx context.Context, localityUUID string) error {
	res, err := s.execer(ctx).ExecContext(ctx,
		`DELETE FROM localities WHERE uuid = $1`, localityUUID)
	if err != nil {
		return fmt.Errorf("delete locality: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// isUniqueViolation detects Postgres unique constraint errors (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
