// Package memory implements the lookup and job repositories in process
// memory. It enforces the same unique keys and guarded writes as the
// PostgreSQL repositories and backs the unit and router tests. The server
// itself always runs against PostgreSQL.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fairyhunter13/print-mes/internal/domain"
)

// Store holds lookups and jobs behind one lock.
type Store struct {
	mu      sync.RWMutex
	lookups map[int64]domain.Lookup
	nextID  int64
	jobs    map[string]domain.Job
}

// New returns an empty store.
func New() *Store {
	return &Store{lookups: map[int64]domain.Lookup{}, jobs: map[string]domain.Job{}, nextID: 1}
}

// Lookups returns the lookup repository view of the store.
func (s *Store) Lookups() *LookupRepo { return &LookupRepo{s: s} }

// Jobs returns the job repository view of the store.
func (s *Store) Jobs() *JobRepo { return &JobRepo{s: s} }

// LookupRepo implements domain.LookupRepository.
type LookupRepo struct{ s *Store }

// Get returns a lookup by id.
func (r *LookupRepo) Get(_ context.Context, id int64) (domain.Lookup, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	l, ok := r.s.lookups[id]
	if !ok {
		return domain.Lookup{}, fmt.Errorf("op=lookup.get: %w", domain.ErrNotFound)
	}
	return l, nil
}

// FindByCode matches code case-insensitively within lookupType.
func (r *LookupRepo) FindByCode(_ context.Context, lookupType, code string) (domain.Lookup, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if l, ok := r.s.findCode(lookupType, code); ok {
		return l, nil
	}
	return domain.Lookup{}, fmt.Errorf("op=lookup.find_by_code: %w", domain.ErrNotFound)
}

func (s *Store) findCode(lookupType, code string) (domain.Lookup, bool) {
	for _, l := range s.lookups {
		if l.Type == lookupType && strings.EqualFold(l.Code, strings.TrimSpace(code)) {
			return l, true
		}
	}
	return domain.Lookup{}, false
}

// List returns lookups of a type (all when empty) ordered by type, sort order and id.
func (r *LookupRepo) List(_ context.Context, lookupType string) ([]domain.Lookup, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.Lookup
	for _, l := range r.s.lookups {
		if lookupType == "" || l.Type == lookupType {
			out = append(out, l)
		}
	}
	sortLookups(out)
	return out, nil
}

// ListByTypes returns lookups whose type is in types.
func (r *LookupRepo) ListByTypes(_ context.Context, types []string) ([]domain.Lookup, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.Lookup
	for _, l := range r.s.lookups {
		if slices.Contains(types, l.Type) {
			out = append(out, l)
		}
	}
	sortLookups(out)
	return out, nil
}

// Upsert inserts or updates by (type, code) and returns the stored row.
func (r *LookupRepo) Upsert(_ context.Context, l domain.Lookup) (domain.Lookup, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := r.s.findCode(l.Type, l.Code); ok {
		l.ID = existing.ID
		l.CreatedAt = existing.CreatedAt
	} else {
		if l.ID == 0 {
			l.ID = r.s.nextID
		}
		l.CreatedAt = now
	}
	if l.ID >= r.s.nextID {
		r.s.nextID = l.ID + 1
	}
	l.UpdatedAt = now
	r.s.lookups[l.ID] = l
	return l, nil
}

func sortLookups(ls []domain.Lookup) {
	sort.Slice(ls, func(i, j int) bool {
		if ls[i].Type != ls[j].Type {
			return ls[i].Type < ls[j].Type
		}
		if ls[i].SortOrder != ls[j].SortOrder {
			return ls[i].SortOrder < ls[j].SortOrder
		}
		return ls[i].ID < ls[j].ID
	})
}

// JobRepo implements domain.JobRepository.
type JobRepo struct{ s *Store }

// Get returns a job view by id.
func (r *JobRepo) Get(_ context.Context, id string) (domain.JobView, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	j, ok := r.s.jobs[id]
	if !ok {
		return domain.JobView{}, fmt.Errorf("op=job.get: %w", domain.ErrNotFound)
	}
	return r.s.view(j), nil
}

// List returns every job ordered by planned start time.
func (r *JobRepo) List(_ context.Context) ([]domain.JobView, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]domain.JobView, 0, len(r.s.jobs))
	for _, j := range r.s.jobs {
		out = append(out, r.s.view(j))
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].PlannedStartTime.Equal(out[k].PlannedStartTime) {
			return out[i].PlannedStartTime.Before(out[k].PlannedStartTime)
		}
		return out[i].ID < out[k].ID
	})
	return out, nil
}

// WorkOrderTaken reports whether another job holds workOrder.
func (r *JobRepo) WorkOrderTaken(_ context.Context, workOrder, exceptID string) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.s.workOrderTaken(workOrder, exceptID), nil
}

// SlotTaken reports whether another job occupies the work center slot.
func (r *JobRepo) SlotTaken(_ context.Context, workCenter int64, plannedStart time.Time, exceptID string) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.s.slotTaken(workCenter, plannedStart, exceptID), nil
}

func (s *Store) workOrderTaken(workOrder, exceptID string) bool {
	for id, j := range s.jobs {
		if id != exceptID && j.WorkOrder == workOrder {
			return true
		}
	}
	return false
}

func (s *Store) slotTaken(workCenter int64, plannedStart time.Time, exceptID string) bool {
	for id, j := range s.jobs {
		if id != exceptID && j.WorkCenter == workCenter && j.PlannedStartTime.Equal(plannedStart) {
			return true
		}
	}
	return false
}

// ExistingWorkOrders returns the subset of workOrders already stored.
func (r *JobRepo) ExistingWorkOrders(_ context.Context, workOrders []string) ([]string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []string
	for _, wo := range workOrders {
		if r.s.workOrderTaken(wo, "") {
			out = append(out, wo)
		}
	}
	return out, nil
}

// Create stores a job, enforcing both unique keys.
func (r *JobRepo) Create(_ context.Context, j domain.Job) (string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	if err := r.s.checkUnique(j, j.ID); err != nil {
		return "", fmt.Errorf("op=job.create: %w", err)
	}
	now := time.Now().UTC()
	j.CreatedAt, j.UpdatedAt = now, now
	r.s.jobs[j.ID] = j
	return j.ID, nil
}

// Update applies the set fields of p while the job is still in fromState.
func (r *JobRepo) Update(_ context.Context, id string, fromState int64, p domain.JobPatch) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	j, err := r.s.guarded("job.update", id, fromState)
	if err != nil {
		return err
	}
	apply(&j, p)
	if err := r.s.checkUnique(j, id); err != nil {
		return fmt.Errorf("op=job.update: %w", err)
	}
	j.UpdatedAt = time.Now().UTC()
	r.s.jobs[id] = j
	return nil
}

// SetLifecycleState moves a job from fromState to toState.
func (r *JobRepo) SetLifecycleState(_ context.Context, id string, fromState, toState int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	j, err := r.s.guarded("job.set_lifecycle", id, fromState)
	if err != nil {
		return err
	}
	j.LifecycleState = toState
	j.UpdatedAt = time.Now().UTC()
	r.s.jobs[id] = j
	return nil
}

// Delete removes a job that is still in fromState.
func (r *JobRepo) Delete(_ context.Context, id string, fromState int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, err := r.s.guarded("job.delete", id, fromState); err != nil {
		return err
	}
	delete(r.s.jobs, id)
	return nil
}

// guarded returns the job when it exists and is still in fromState.
// Callers hold the write lock.
func (s *Store) guarded(op, id string, fromState int64) (domain.Job, error) {
	j, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, fmt.Errorf("op=%s: %w", op, domain.ErrNotFound)
	}
	if j.LifecycleState != fromState {
		return domain.Job{}, fmt.Errorf("op=%s: %w", op, domain.ErrStaleState)
	}
	return j, nil
}

// CountByLifecycleState groups jobs by lifecycle lookup id.
func (r *JobRepo) CountByLifecycleState(_ context.Context) (map[int64]int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := map[int64]int64{}
	for _, j := range r.s.jobs {
		out[j.LifecycleState]++
	}
	return out, nil
}

func (s *Store) checkUnique(j domain.Job, id string) error {
	if s.workOrderTaken(j.WorkOrder, id) {
		return domain.NewWorkOrderConflict()
	}
	if s.slotTaken(j.WorkCenter, j.PlannedStartTime, id) {
		return domain.NewScheduleConflict()
	}
	return nil
}

func (s *Store) view(j domain.Job) domain.JobView {
	ref := func(id int64) *domain.Lookup {
		if l, ok := s.lookups[id]; ok {
			return &l
		}
		return nil
	}
	return domain.JobView{
		Job:                  j,
		QuantityUnitLookup:   ref(j.QuantityUnit),
		WorkCenterLookup:     ref(j.WorkCenter),
		JobPriorityLookup:    ref(j.JobPriority),
		LifecycleStateLookup: ref(j.LifecycleState),
	}
}

func apply(j *domain.Job, p domain.JobPatch) {
	if p.WorkOrder.Set {
		j.WorkOrder = p.WorkOrder.Value
	}
	if p.SalesOrder.Set {
		j.SalesOrder = p.SalesOrder.Value
	}
	if p.QuantityOrder.Set {
		j.QuantityOrder = p.QuantityOrder.Value
	}
	if p.QuantityUnit.Set {
		j.QuantityUnit = p.QuantityUnit.Value
	}
	if p.WorkCenter.Set {
		j.WorkCenter = p.WorkCenter.Value
	}
	if p.PlannedStartTime.Set {
		j.PlannedStartTime = p.PlannedStartTime.Value
	}
	if p.ReleaseDate.Set {
		j.ReleaseDate = p.ReleaseDate.Value
	}
	if p.DueDate.Set {
		j.DueDate = p.DueDate.Value
	}
	if p.JobPriority.Set {
		j.JobPriority = p.JobPriority.Value
	}
	if p.Notes.Set {
		j.Notes = p.Notes.Value
	}
	if p.Attribute.Set {
		j.Attribute = p.Attribute.Value
	}
}
