package usecase

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/fairyhunter13/print-mes/internal/domain"
	"github.com/fairyhunter13/print-mes/internal/observability"
)

// JobService owns single-record job operations: reads, add, update, remove
// and lifecycle transitions.
type JobService struct {
	Jobs    domain.JobRepository
	Lookups LookupService
	Guard   ConflictGuard
	Locker  domain.SlotLocker
}

// NewJobService constructs a JobService. A nil locker disables slot locking.
func NewJobService(j domain.JobRepository, l domain.LookupRepository, locker domain.SlotLocker) JobService {
	return JobService{Jobs: j, Lookups: NewLookupService(l), Guard: NewConflictGuard(j), Locker: locker}
}

// List returns every job ordered by planned start time.
func (s JobService) List(ctx domain.Context) ([]domain.JobView, error) {
	return s.Jobs.List(ctx)
}

// Get returns one job with its lookups populated.
func (s JobService) Get(ctx domain.Context, id string) (domain.JobView, error) {
	if err := ValidateJobID(id); err != nil {
		return domain.JobView{}, err
	}
	return s.Jobs.Get(ctx, id)
}

// Add validates a create payload, resolves its lookups, checks both conflict
// invariants and stores the job in SCHEDULED.
func (s JobService) Add(ctx domain.Context, in JobInput) (domain.JobView, error) {
	d, err := ValidateCreate(in)
	if err != nil {
		return domain.JobView{}, err
	}
	if err := s.resolveDraftLookups(ctx, d); err != nil {
		return domain.JobView{}, err
	}

	release, err := s.lock(ctx, *d.WorkOrder, *d.WorkCenter, *d.PlannedStartTime)
	if err != nil {
		return domain.JobView{}, err
	}
	defer release()

	if err := s.Guard.AssertUniqueWorkOrder(ctx, *d.WorkOrder, ""); err != nil {
		return domain.JobView{}, err
	}
	if err := s.Guard.AssertNoScheduleConflict(ctx, *d.WorkCenter, *d.PlannedStartTime, ""); err != nil {
		return domain.JobView{}, err
	}
	scheduled, err := s.Lookups.LifecycleID(ctx, domain.StateScheduled)
	if err != nil {
		return domain.JobView{}, err
	}

	j := domain.Job{
		WorkOrder:        *d.WorkOrder,
		SalesOrder:       *d.SalesOrder,
		QuantityOrder:    domain.DefaultQuantityOrder,
		QuantityUnit:     *d.QuantityUnit,
		WorkCenter:       *d.WorkCenter,
		PlannedStartTime: *d.PlannedStartTime,
		ReleaseDate:      d.ReleaseDate.Value,
		DueDate:          d.DueDate.Value,
		JobPriority:      *d.JobPriority,
		LifecycleState:   scheduled,
		Notes:            domain.DefaultNotes,
		Attribute:        d.Attribute.Value,
	}
	if d.QuantityOrder != nil {
		j.QuantityOrder = *d.QuantityOrder
	}
	if d.Notes != nil {
		j.Notes = *d.Notes
	}
	// A concurrent writer that passed the guard first makes Create fail with
	// the same conflict error, translated from the unique index.
	id, err := s.Jobs.Create(ctx, j)
	if err != nil {
		return domain.JobView{}, err
	}
	observability.LoggerFromContext(ctx).Info("job created",
		slog.String("job_id", id),
		slog.String("work_order", j.WorkOrder),
		slog.Int64("work_center", j.WorkCenter),
		slog.Time("planned_start_time", j.PlannedStartTime))
	return s.Jobs.Get(ctx, id)
}

// Update applies a partial payload to a SCHEDULED job.
func (s JobService) Update(ctx domain.Context, id string, in JobInput) (domain.JobView, error) {
	if err := ValidateJobID(id); err != nil {
		return domain.JobView{}, err
	}
	d, err := ValidateUpdate(in)
	if err != nil {
		return domain.JobView{}, err
	}
	current, err := s.Jobs.Get(ctx, id)
	if err != nil {
		return domain.JobView{}, err
	}
	if err := domain.EnsureEditable(current.State(), "edit"); err != nil {
		return domain.JobView{}, err
	}
	if err := s.resolveDraftLookups(ctx, d); err != nil {
		return domain.JobView{}, err
	}

	nextWorkOrder := current.WorkOrder
	if d.WorkOrder != nil {
		nextWorkOrder = *d.WorkOrder
	}
	nextWorkCenter := current.WorkCenter
	if d.WorkCenter != nil {
		nextWorkCenter = *d.WorkCenter
	}
	nextStart := current.PlannedStartTime
	if d.PlannedStartTime != nil {
		nextStart = *d.PlannedStartTime
	}

	release, err := s.lock(ctx, nextWorkOrder, nextWorkCenter, nextStart)
	if err != nil {
		return domain.JobView{}, err
	}
	defer release()

	if err := s.Guard.AssertUniqueWorkOrder(ctx, nextWorkOrder, id); err != nil {
		return domain.JobView{}, err
	}
	if err := s.Guard.AssertNoScheduleConflict(ctx, nextWorkCenter, nextStart, id); err != nil {
		return domain.JobView{}, err
	}

	if err := s.Jobs.Update(ctx, id, current.LifecycleState, d.patch()); err != nil {
		return domain.JobView{}, s.staleState(ctx, id, "edit", true, err)
	}
	observability.LoggerFromContext(ctx).Info("job updated", slog.String("job_id", id))
	return s.Jobs.Get(ctx, id)
}

// Remove deletes a SCHEDULED job and returns its last view.
func (s JobService) Remove(ctx domain.Context, id string) (domain.JobView, error) {
	if err := ValidateJobID(id); err != nil {
		return domain.JobView{}, err
	}
	current, err := s.Jobs.Get(ctx, id)
	if err != nil {
		return domain.JobView{}, err
	}
	if err := domain.EnsureEditable(current.State(), "delete"); err != nil {
		return domain.JobView{}, err
	}
	if err := s.Jobs.Delete(ctx, id, current.LifecycleState); err != nil {
		return domain.JobView{}, s.staleState(ctx, id, "delete", true, err)
	}
	observability.LoggerFromContext(ctx).Info("job removed", slog.String("job_id", id), slog.String("work_order", current.WorkOrder))
	return current, nil
}

// Transition applies a lifecycle action and returns the refreshed view.
func (s JobService) Transition(ctx domain.Context, id string, action domain.Action) (domain.JobView, error) {
	if err := ValidateJobID(id); err != nil {
		return domain.JobView{}, err
	}
	current, err := s.Jobs.Get(ctx, id)
	if err != nil {
		return domain.JobView{}, err
	}
	next, err := domain.NextState(action, current.State())
	if err != nil {
		return domain.JobView{}, err
	}
	nextID, err := s.Lookups.LifecycleID(ctx, next)
	if err != nil {
		return domain.JobView{}, err
	}
	if err := s.Jobs.SetLifecycleState(ctx, id, current.LifecycleState, nextID); err != nil {
		return domain.JobView{}, s.staleState(ctx, id, string(action), false, err)
	}
	observability.LoggerFromContext(ctx).Info("job transitioned",
		slog.String("job_id", id),
		slog.String("action", string(action)),
		slog.String("from", string(current.State())),
		slog.String("to", string(next)))
	return s.Jobs.Get(ctx, id)
}

// staleState turns a write that lost a race with another lifecycle change
// into the error the caller would have seen had it read the job afterwards.
// Any other error is returned unchanged.
func (s JobService) staleState(ctx domain.Context, id, op string, gate bool, err error) error {
	if !errors.Is(err, domain.ErrStaleState) {
		return err
	}
	fresh, getErr := s.Jobs.Get(ctx, id)
	if getErr != nil {
		return getErr
	}
	observability.LoggerFromContext(ctx).Warn("job changed state concurrently",
		slog.String("job_id", id),
		slog.String("op", op),
		slog.String("state", string(fresh.State())))
	return &domain.TransitionError{Action: op, State: fresh.State(), Gate: gate}
}

// Dashboard summarises job counts per lifecycle state.
type Dashboard struct {
	Total       int64     `json:"total"`
	Scheduled   int64     `json:"scheduled"`
	Released    int64     `json:"released"`
	Running     int64     `json:"running"`
	Completed   int64     `json:"completed"`
	Suspended   int64     `json:"suspended"`
	Other       int64     `json:"other"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Dashboard counts jobs per lifecycle state. Other covers CLOSED and any
// state without a seeded lookup.
func (s JobService) Dashboard(ctx domain.Context) (Dashboard, error) {
	states, err := s.Lookups.Repo.List(ctx, domain.LookupJobLifecycle)
	if err != nil {
		return Dashboard{}, err
	}
	codes := make(map[int64]domain.LifecycleState, len(states))
	for _, l := range states {
		codes[l.ID] = domain.LifecycleState(l.Code)
	}
	grouped, err := s.Jobs.CountByLifecycleState(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	var d Dashboard
	for stateID, n := range grouped {
		d.Total += n
		switch codes[stateID] {
		case domain.StateScheduled:
			d.Scheduled += n
		case domain.StateReleased:
			d.Released += n
		case domain.StateRunning:
			d.Running += n
		case domain.StateCompleted:
			d.Completed += n
		case domain.StateSuspended:
			d.Suspended += n
		}
	}
	d.Other = max(0, d.Total-(d.Scheduled+d.Released+d.Running+d.Completed+d.Suspended))
	d.GeneratedAt = time.Now().UTC()
	return d, nil
}

// resolveDraftLookups checks every supplied lookup id against its type and
// reports all failures together.
func (s JobService) resolveDraftLookups(ctx domain.Context, d JobDraft) error {
	refs := []struct {
		field      string
		lookupType string
		id         *int64
	}{
		{FieldQuantityUnit, domain.LookupQuantityUnit, d.QuantityUnit},
		{FieldWorkCenter, domain.LookupWorkCenter, d.WorkCenter},
		{FieldJobPriority, domain.LookupJobPriority, d.JobPriority},
	}
	var details []domain.FieldError
	for _, r := range refs {
		if r.id == nil {
			continue
		}
		_, fe, err := s.Lookups.resolveField(ctx, r.field, *r.id, r.lookupType)
		if err != nil {
			return err
		}
		if fe != nil {
			details = append(details, *fe)
		}
	}
	if len(details) > 0 {
		return domain.NewValidationError(details...)
	}
	return nil
}

func (s JobService) lock(ctx domain.Context, workOrder string, workCenter int64, plannedStart time.Time) (func(), error) {
	if s.Locker == nil {
		return func() {}, nil
	}
	release, err := s.Locker.Lock(ctx, WorkOrderLockKey(workOrder), SlotLockKey(workCenter, plannedStart))
	if err != nil {
		return nil, fmt.Errorf("op=job.lock: %w", err)
	}
	return release, nil
}

// WorkOrderLockKey is the slot-lock key guarding a work order.
func WorkOrderLockKey(workOrder string) string { return "work_order:" + workOrder }

// SlotLockKey is the slot-lock key guarding a work center start slot.
func SlotLockKey(workCenter int64, plannedStart time.Time) string {
	return "slot:" + strconv.FormatInt(workCenter, 10) + ":" + plannedStart.UTC().Format(time.RFC3339Nano)
}

func (d JobDraft) patch() domain.JobPatch {
	var p domain.JobPatch
	if d.WorkOrder != nil {
		p.WorkOrder = domain.Some(*d.WorkOrder)
	}
	if d.SalesOrder != nil {
		p.SalesOrder = domain.Some(*d.SalesOrder)
	}
	if d.QuantityOrder != nil {
		p.QuantityOrder = domain.Some(*d.QuantityOrder)
	}
	if d.QuantityUnit != nil {
		p.QuantityUnit = domain.Some(*d.QuantityUnit)
	}
	if d.WorkCenter != nil {
		p.WorkCenter = domain.Some(*d.WorkCenter)
	}
	if d.PlannedStartTime != nil {
		p.PlannedStartTime = domain.Some(*d.PlannedStartTime)
	}
	if d.JobPriority != nil {
		p.JobPriority = domain.Some(*d.JobPriority)
	}
	if d.Notes != nil {
		p.Notes = domain.Some(*d.Notes)
	}
	p.ReleaseDate = d.ReleaseDate
	p.DueDate = d.DueDate
	p.Attribute = d.Attribute
	return p
}
