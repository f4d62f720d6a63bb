package postgres

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fairyhunter13/print-mes/internal/domain"
)

// Constraint names from the jobs migration.
const (
	workOrderConstraint = "jobs_work_order_key"
	slotConstraint      = "jobs_work_center_planned_start_key"
	uniqueViolation     = "23505"
)

const jobColumns = `id::text, work_order, sales_order, quantity_order, quantity_unit, work_center, planned_start_time,
	release_date, due_date, job_priority, job_lifecycle_state, notes, attribute, created_at, updated_at`

// JobRepo persists and loads jobs from PostgreSQL using a minimal pgx pool.
type JobRepo struct{ Pool PgxPool }

// NewJobRepo constructs a JobRepo with the given pool.
func NewJobRepo(p PgxPool) *JobRepo { return &JobRepo{Pool: p} }

func scanJob(row pgx.Row) (domain.Job, error) {
	var j domain.Job
	var attr []byte
	if err := row.Scan(&j.ID, &j.WorkOrder, &j.SalesOrder, &j.QuantityOrder, &j.QuantityUnit, &j.WorkCenter,
		&j.PlannedStartTime, &j.ReleaseDate, &j.DueDate, &j.JobPriority, &j.LifecycleState, &j.Notes, &attr,
		&j.CreatedAt, &j.UpdatedAt); err != nil {
		return domain.Job{}, err
	}
	j.Attribute = attr
	j.PlannedStartTime = j.PlannedStartTime.UTC()
	j.ReleaseDate = utcPtr(j.ReleaseDate)
	j.DueDate = utcPtr(j.DueDate)
	j.CreatedAt = j.CreatedAt.UTC()
	j.UpdatedAt = j.UpdatedAt.UTC()
	return j, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// mapWriteError translates unique index violations into the conflict the
// guard would have reported for the same input.
func mapWriteError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		switch pgErr.ConstraintName {
		case workOrderConstraint:
			return fmt.Errorf("op=%s: %w", op, domain.NewWorkOrderConflict())
		case slotConstraint:
			return fmt.Errorf("op=%s: %w", op, domain.NewScheduleConflict())
		}
	}
	return fmt.Errorf("op=%s: %w", op, err)
}

// Get loads a job by id with its lookups populated.
func (r *JobRepo) Get(ctx domain.Context, id string) (domain.JobView, error) {
	ctx, span := startSpan(ctx, "jobs", "Get", "SELECT")
	defer span.End()
	q := `SELECT ` + jobColumns + ` FROM jobs WHERE id=$1`
	j, err := scanJob(r.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.JobView{}, fmt.Errorf("op=job.get: %w", domain.ErrNotFound)
		}
		return domain.JobView{}, fmt.Errorf("op=job.get: %w", err)
	}
	views, err := r.attachLookups(ctx, []domain.Job{j})
	if err != nil {
		return domain.JobView{}, fmt.Errorf("op=job.get: %w", err)
	}
	return views[0], nil
}

// List returns every job ordered by planned start time.
func (r *JobRepo) List(ctx domain.Context) ([]domain.JobView, error) {
	ctx, span := startSpan(ctx, "jobs", "List", "SELECT")
	defer span.End()
	q := `SELECT ` + jobColumns + ` FROM jobs ORDER BY planned_start_time, work_order`
	rows, err := r.Pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("op=job.list: %w", err)
	}
	defer rows.Close()
	var jobs []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("op=job.list: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=job.list: %w", err)
	}
	views, err := r.attachLookups(ctx, jobs)
	if err != nil {
		return nil, fmt.Errorf("op=job.list: %w", err)
	}
	return views, nil
}

// attachLookups loads every referenced lookup in one query. A reference to a
// missing row leaves the corresponding view field nil.
func (r *JobRepo) attachLookups(ctx domain.Context, jobs []domain.Job) ([]domain.JobView, error) {
	views := make([]domain.JobView, 0, len(jobs))
	if len(jobs) == 0 {
		return views, nil
	}
	seen := map[int64]struct{}{}
	var ids []int64
	for _, j := range jobs {
		for _, id := range []int64{j.QuantityUnit, j.WorkCenter, j.JobPriority, j.LifecycleState} {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	rows, err := r.Pool.Query(ctx, `SELECT `+lookupColumns+` FROM lookups WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	lookups, err := collectLookups(rows)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]*domain.Lookup, len(lookups))
	for i := range lookups {
		byID[lookups[i].ID] = &lookups[i]
	}
	for _, j := range jobs {
		views = append(views, domain.JobView{
			Job:                  j,
			QuantityUnitLookup:   byID[j.QuantityUnit],
			WorkCenterLookup:     byID[j.WorkCenter],
			JobPriorityLookup:    byID[j.JobPriority],
			LifecycleStateLookup: byID[j.LifecycleState],
		})
	}
	return views, nil
}

// WorkOrderTaken reports whether a job other than exceptID holds workOrder.
func (r *JobRepo) WorkOrderTaken(ctx domain.Context, workOrder, exceptID string) (bool, error) {
	ctx, span := startSpan(ctx, "jobs", "WorkOrderTaken", "SELECT")
	defer span.End()
	q := `SELECT EXISTS (SELECT 1 FROM jobs WHERE work_order=$1 AND ($2 = '' OR id::text <> $2))`
	var taken bool
	if err := r.Pool.QueryRow(ctx, q, workOrder, exceptID).Scan(&taken); err != nil {
		return false, fmt.Errorf("op=job.work_order_taken: %w", err)
	}
	return taken, nil
}

// SlotTaken reports whether a job other than exceptID starts at plannedStart
// on workCenter.
func (r *JobRepo) SlotTaken(ctx domain.Context, workCenter int64, plannedStart time.Time, exceptID string) (bool, error) {
	ctx, span := startSpan(ctx, "jobs", "SlotTaken", "SELECT")
	defer span.End()
	q := `SELECT EXISTS (SELECT 1 FROM jobs WHERE work_center=$1 AND planned_start_time=$2 AND ($3 = '' OR id::text <> $3))`
	var taken bool
	if err := r.Pool.QueryRow(ctx, q, workCenter, plannedStart.UTC(), exceptID).Scan(&taken); err != nil {
		return false, fmt.Errorf("op=job.slot_taken: %w", err)
	}
	return taken, nil
}

// ExistingWorkOrders returns the subset of workOrders already stored.
func (r *JobRepo) ExistingWorkOrders(ctx domain.Context, workOrders []string) ([]string, error) {
	ctx, span := startSpan(ctx, "jobs", "ExistingWorkOrders", "SELECT")
	defer span.End()
	if len(workOrders) == 0 {
		return nil, nil
	}
	rows, err := r.Pool.Query(ctx, `SELECT work_order FROM jobs WHERE work_order = ANY($1) ORDER BY work_order`, workOrders)
	if err != nil {
		return nil, fmt.Errorf("op=job.existing_work_orders: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var wo string
		if err := rows.Scan(&wo); err != nil {
			return nil, fmt.Errorf("op=job.existing_work_orders: %w", err)
		}
		out = append(out, wo)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=job.existing_work_orders: %w", err)
	}
	return out, nil
}

// Create inserts a new job and returns its id.
func (r *JobRepo) Create(ctx domain.Context, j domain.Job) (string, error) {
	ctx, span := startSpan(ctx, "jobs", "Create", "INSERT")
	defer span.End()
	id := j.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().UTC()
	q := `INSERT INTO jobs (id, work_order, sales_order, quantity_order, quantity_unit, work_center, planned_start_time,
	release_date, due_date, job_priority, job_lifecycle_state, notes, attribute, created_at, updated_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$14)`
	_, err := r.Pool.Exec(ctx, q, id, j.WorkOrder, j.SalesOrder, j.QuantityOrder, j.QuantityUnit, j.WorkCenter,
		j.PlannedStartTime.UTC(), utcPtr(j.ReleaseDate), utcPtr(j.DueDate), j.JobPriority, j.LifecycleState, j.Notes,
		jsonArg(j.Attribute), now)
	if err != nil {
		return "", mapWriteError("job.create", err)
	}
	return id, nil
}

// Update applies the set fields of p and bumps updated_at.
func (r *JobRepo) Update(ctx domain.Context, id string, fromState int64, p domain.JobPatch) error {
	ctx, span := startSpan(ctx, "jobs", "Update", "UPDATE")
	defer span.End()
	sets := []string{}
	args := []any{id, fromState}
	set := func(column string, v any) {
		args = append(args, v)
		sets = append(sets, column+"=$"+strconv.Itoa(len(args)))
	}
	if p.WorkOrder.Set {
		set("work_order", p.WorkOrder.Value)
	}
	if p.SalesOrder.Set {
		set("sales_order", p.SalesOrder.Value)
	}
	if p.QuantityOrder.Set {
		set("quantity_order", p.QuantityOrder.Value)
	}
	if p.QuantityUnit.Set {
		set("quantity_unit", p.QuantityUnit.Value)
	}
	if p.WorkCenter.Set {
		set("work_center", p.WorkCenter.Value)
	}
	if p.PlannedStartTime.Set {
		set("planned_start_time", p.PlannedStartTime.Value.UTC())
	}
	if p.ReleaseDate.Set {
		set("release_date", utcPtr(p.ReleaseDate.Value))
	}
	if p.DueDate.Set {
		set("due_date", utcPtr(p.DueDate.Value))
	}
	if p.JobPriority.Set {
		set("job_priority", p.JobPriority.Value)
	}
	if p.Notes.Set {
		set("notes", p.Notes.Value)
	}
	if p.Attribute.Set {
		set("attribute", jsonArg(p.Attribute.Value))
	}
	set("updated_at", time.Now().UTC())

	q := `UPDATE jobs SET ` + strings.Join(sets, ", ") + ` WHERE id=$1 AND job_lifecycle_state=$2`
	tag, err := r.Pool.Exec(ctx, q, args...)
	if err != nil {
		return mapWriteError("job.update", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missedWrite(ctx, "job.update", id)
	}
	return nil
}

// SetLifecycleState moves a job from fromState to toState.
func (r *JobRepo) SetLifecycleState(ctx domain.Context, id string, fromState, toState int64) error {
	ctx, span := startSpan(ctx, "jobs", "SetLifecycleState", "UPDATE")
	defer span.End()
	tag, err := r.Pool.Exec(ctx, `UPDATE jobs SET job_lifecycle_state=$3, updated_at=$4 WHERE id=$1 AND job_lifecycle_state=$2`,
		id, fromState, toState, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=job.set_lifecycle: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missedWrite(ctx, "job.set_lifecycle", id)
	}
	return nil
}

// Delete removes a job that is still in fromState.
func (r *JobRepo) Delete(ctx domain.Context, id string, fromState int64) error {
	ctx, span := startSpan(ctx, "jobs", "Delete", "DELETE")
	defer span.End()
	tag, err := r.Pool.Exec(ctx, `DELETE FROM jobs WHERE id=$1 AND job_lifecycle_state=$2`, id, fromState)
	if err != nil {
		return fmt.Errorf("op=job.delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missedWrite(ctx, "job.delete", id)
	}
	return nil
}

// missedWrite explains a guarded write that matched no row: the job is
// either gone or no longer in the expected state.
func (r *JobRepo) missedWrite(ctx domain.Context, op, id string) error {
	var exists bool
	if err := r.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id=$1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("op=%s: %w", op, err)
	}
	if !exists {
		return fmt.Errorf("op=%s: %w", op, domain.ErrNotFound)
	}
	return fmt.Errorf("op=%s: %w", op, domain.ErrStaleState)
}

// CountByLifecycleState groups job counts by lifecycle state id.
func (r *JobRepo) CountByLifecycleState(ctx domain.Context) (map[int64]int64, error) {
	ctx, span := startSpan(ctx, "jobs", "CountByLifecycleState", "SELECT")
	defer span.End()
	rows, err := r.Pool.Query(ctx, `SELECT job_lifecycle_state, COUNT(*) FROM jobs GROUP BY job_lifecycle_state`)
	if err != nil {
		return nil, fmt.Errorf("op=job.count_state: %w", err)
	}
	defer rows.Close()
	out := map[int64]int64{}
	for rows.Next() {
		var stateID, n int64
		if err := rows.Scan(&stateID, &n); err != nil {
			return nil, fmt.Errorf("op=job.count_state: %w", err)
		}
		out[stateID] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=job.count_state: %w", err)
	}
	return out, nil
}
