package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fairyhunter13/print-mes/internal/domain"
)

func startSpan(ctx context.Context, table, name, operation string) (context.Context, trace.Span) {
	ctx, span := otel.Tracer("repo."+table).Start(ctx, table+"."+name)
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", operation),
		attribute.String("db.sql.table", table),
	)
	return ctx, span
}

const lookupColumns = `id, lookup_type, code, label, sort_order, is_active, attribute, created_at, updated_at`

// LookupRepo persists and loads lookups from PostgreSQL.
type LookupRepo struct{ Pool PgxPool }

// NewLookupRepo constructs a LookupRepo with the given pool.
func NewLookupRepo(p PgxPool) *LookupRepo { return &LookupRepo{Pool: p} }

func scanLookup(row pgx.Row) (domain.Lookup, error) {
	var l domain.Lookup
	var attr []byte
	if err := row.Scan(&l.ID, &l.Type, &l.Code, &l.Label, &l.SortOrder, &l.IsActive, &attr, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return domain.Lookup{}, err
	}
	l.Attribute = attr
	l.CreatedAt = l.CreatedAt.UTC()
	l.UpdatedAt = l.UpdatedAt.UTC()
	return l, nil
}

func collectLookups(rows pgx.Rows) ([]domain.Lookup, error) {
	defer rows.Close()
	out := []domain.Lookup{}
	for rows.Next() {
		l, err := scanLookup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Get loads a lookup by id.
func (r *LookupRepo) Get(ctx domain.Context, id int64) (domain.Lookup, error) {
	ctx, span := startSpan(ctx, "lookups", "Get", "SELECT")
	defer span.End()
	q := `SELECT ` + lookupColumns + ` FROM lookups WHERE id=$1`
	l, err := scanLookup(r.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Lookup{}, fmt.Errorf("op=lookup.get: %w", domain.ErrNotFound)
		}
		return domain.Lookup{}, fmt.Errorf("op=lookup.get: %w", err)
	}
	return l, nil
}

// FindByCode loads a lookup by type and case-insensitive code.
func (r *LookupRepo) FindByCode(ctx domain.Context, lookupType, code string) (domain.Lookup, error) {
	ctx, span := startSpan(ctx, "lookups", "FindByCode", "SELECT")
	defer span.End()
	q := `SELECT ` + lookupColumns + ` FROM lookups WHERE lookup_type=$1 AND upper(code)=upper($2) ORDER BY id LIMIT 1`
	l, err := scanLookup(r.Pool.QueryRow(ctx, q, lookupType, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Lookup{}, fmt.Errorf("op=lookup.find_code: %w", domain.ErrNotFound)
		}
		return domain.Lookup{}, fmt.Errorf("op=lookup.find_code: %w", err)
	}
	return l, nil
}

// List returns lookups of one type, or every lookup when lookupType is empty.
func (r *LookupRepo) List(ctx domain.Context, lookupType string) ([]domain.Lookup, error) {
	ctx, span := startSpan(ctx, "lookups", "List", "SELECT")
	defer span.End()
	q := `SELECT ` + lookupColumns + ` FROM lookups WHERE ($1 = '' OR lookup_type=$1) ORDER BY lookup_type, sort_order, id`
	rows, err := r.Pool.Query(ctx, q, lookupType)
	if err != nil {
		return nil, fmt.Errorf("op=lookup.list: %w", err)
	}
	out, err := collectLookups(rows)
	if err != nil {
		return nil, fmt.Errorf("op=lookup.list: %w", err)
	}
	return out, nil
}

// ListByTypes returns every lookup of the given types in one query.
func (r *LookupRepo) ListByTypes(ctx domain.Context, types []string) ([]domain.Lookup, error) {
	ctx, span := startSpan(ctx, "lookups", "ListByTypes", "SELECT")
	defer span.End()
	q := `SELECT ` + lookupColumns + ` FROM lookups WHERE lookup_type = ANY($1) ORDER BY lookup_type, sort_order, id`
	rows, err := r.Pool.Query(ctx, q, types)
	if err != nil {
		return nil, fmt.Errorf("op=lookup.list_types: %w", err)
	}
	out, err := collectLookups(rows)
	if err != nil {
		return nil, fmt.Errorf("op=lookup.list_types: %w", err)
	}
	return out, nil
}

// Upsert inserts a lookup or refreshes the row with the same (type, code).
func (r *LookupRepo) Upsert(ctx domain.Context, l domain.Lookup) (domain.Lookup, error) {
	ctx, span := startSpan(ctx, "lookups", "Upsert", "INSERT")
	defer span.End()
	q := `INSERT INTO lookups (lookup_type, code, label, sort_order, is_active, attribute, created_at, updated_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$7)
	ON CONFLICT (lookup_type, code)
	DO UPDATE SET label=EXCLUDED.label, sort_order=EXCLUDED.sort_order, is_active=EXCLUDED.is_active, attribute=EXCLUDED.attribute, updated_at=EXCLUDED.updated_at
	RETURNING ` + lookupColumns
	out, err := scanLookup(r.Pool.QueryRow(ctx, q, l.Type, l.Code, l.Label, l.SortOrder, l.IsActive, jsonArg(l.Attribute), time.Now().UTC()))
	if err != nil {
		return domain.Lookup{}, fmt.Errorf("op=lookup.upsert: %w", err)
	}
	return out, nil
}

// jsonArg maps an empty raw message to SQL NULL.
func jsonArg(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
