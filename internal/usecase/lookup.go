// Package usecase contains application business logic services.
package usecase

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fairyhunter13/print-mes/internal/domain"
)

// JobLookupTypes are the lookup types a job row references by id or code.
var JobLookupTypes = []string{domain.LookupQuantityUnit, domain.LookupWorkCenter, domain.LookupJobPriority}

// LookupService resolves typed lookup references and serves read-only listings.
type LookupService struct {
	Repo domain.LookupRepository
}

// NewLookupService constructs a LookupService with the given repo.
func NewLookupService(r domain.LookupRepository) LookupService { return LookupService{Repo: r} }

// Resolve accepts a numeric id or a case-insensitive code and returns the
// active lookup of expectedType. It fails with domain.ErrNotFound when no
// active row matches and domain.ErrLookupTypeMismatch when the id belongs to
// another type.
func (s LookupService) Resolve(ctx domain.Context, ref domain.LookupRef, expectedType string) (domain.Lookup, error) {
	if ref.IsZero() {
		return domain.Lookup{}, fmt.Errorf("%w: empty lookup reference", domain.ErrNotFound)
	}
	if id, ok := ref.ID(); ok {
		l, err := s.Repo.Get(ctx, id)
		if err != nil {
			return domain.Lookup{}, err
		}
		if l.Type != expectedType {
			return domain.Lookup{}, fmt.Errorf("%w: lookup %d is %s, want %s", domain.ErrLookupTypeMismatch, id, l.Type, expectedType)
		}
		if !l.IsActive {
			return domain.Lookup{}, fmt.Errorf("%w: lookup %d is inactive", domain.ErrNotFound, id)
		}
		return l, nil
	}
	l, err := s.Repo.FindByCode(ctx, expectedType, ref.String())
	if err != nil {
		return domain.Lookup{}, err
	}
	if !l.IsActive {
		return domain.Lookup{}, fmt.Errorf("%w: lookup %s/%s is inactive", domain.ErrNotFound, expectedType, l.Code)
	}
	return l, nil
}

// resolveField resolves a numeric lookup id for a job field, reporting any
// failure as a field error.
func (s LookupService) resolveField(ctx domain.Context, field string, id int64, lookupType string) (domain.Lookup, *domain.FieldError, error) {
	l, err := s.Resolve(ctx, domain.LookupRefFromID(id), lookupType)
	if err == nil {
		return l, nil, nil
	}
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrLookupTypeMismatch) {
		return domain.Lookup{}, &domain.FieldError{
			Field:   field,
			Message: fmt.Sprintf("%s lookup not found or invalid type (%s)", field, lookupType),
		}, nil
	}
	return domain.Lookup{}, nil, err
}

// LifecycleID returns the lookup id seeded for a lifecycle state.
func (s LookupService) LifecycleID(ctx domain.Context, state domain.LifecycleState) (int64, error) {
	l, err := s.Repo.FindByCode(ctx, domain.LookupJobLifecycle, string(state))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, fmt.Errorf("%w: %s %s not seeded", domain.ErrInternal, domain.LookupJobLifecycle, state)
		}
		return 0, err
	}
	return l.ID, nil
}

// List returns lookups of the given type (all types when empty) ordered by sort order.
func (s LookupService) List(ctx domain.Context, lookupType string) ([]domain.Lookup, error) {
	return s.Repo.List(ctx, strings.ToUpper(strings.TrimSpace(lookupType)))
}

// Get returns a single lookup by id.
func (s LookupService) Get(ctx domain.Context, id int64) (domain.Lookup, error) {
	return s.Repo.Get(ctx, id)
}

// Seed upserts lookups by (type, code) and fails when any lifecycle state
// the job service depends on is still missing afterwards.
func (s LookupService) Seed(ctx domain.Context, lookups []domain.Lookup) error {
	for _, l := range lookups {
		l.Type = strings.ToUpper(strings.TrimSpace(l.Type))
		l.Code = strings.TrimSpace(l.Code)
		if l.Type == "" || l.Code == "" {
			return fmt.Errorf("%w: lookup_type and code are required", domain.ErrInvalidArgument)
		}
		if _, err := s.Repo.Upsert(ctx, l); err != nil {
			return fmt.Errorf("op=lookup.seed %s/%s: %w", l.Type, l.Code, err)
		}
	}
	for _, st := range domain.States() {
		if _, err := s.LifecycleID(ctx, st); err != nil {
			return err
		}
	}
	return nil
}

// Catalog loads a per-call snapshot of the active lookups of the given types
// with a single query.
func (s LookupService) Catalog(ctx domain.Context, types ...string) (LookupCatalog, error) {
	rows, err := s.Repo.ListByTypes(ctx, types)
	if err != nil {
		return LookupCatalog{}, err
	}
	return NewLookupCatalog(rows), nil
}

// LookupCatalog indexes lookups by type for id and upper-cased code matching.
type LookupCatalog struct {
	ids   map[string]map[int64]domain.Lookup
	codes map[string]map[string]domain.Lookup
}

// NewLookupCatalog indexes the active rows.
func NewLookupCatalog(rows []domain.Lookup) LookupCatalog {
	c := LookupCatalog{ids: map[string]map[int64]domain.Lookup{}, codes: map[string]map[string]domain.Lookup{}}
	for _, l := range rows {
		if !l.IsActive {
			continue
		}
		if c.ids[l.Type] == nil {
			c.ids[l.Type] = map[int64]domain.Lookup{}
			c.codes[l.Type] = map[string]domain.Lookup{}
		}
		c.ids[l.Type][l.ID] = l
		c.codes[l.Type][strings.ToUpper(l.Code)] = l
	}
	return c
}

// ByID returns the lookup with id when it belongs to lookupType.
func (c LookupCatalog) ByID(lookupType string, id int64) (domain.Lookup, bool) {
	l, ok := c.ids[lookupType][id]
	return l, ok
}

// ByCode matches code case-insensitively within lookupType.
func (c LookupCatalog) ByCode(lookupType, code string) (domain.Lookup, bool) {
	l, ok := c.codes[lookupType][strings.ToUpper(strings.TrimSpace(code))]
	return l, ok
}
