package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/print-mes/internal/domain"
	"github.com/fairyhunter13/print-mes/internal/usecase"
)

func TestJobService_Add(t *testing.T) {
	f := newFixture(t)
	v := f.add(t, map[string]any{"attribute": map[string]any{"customer": "ABC"}})

	assert.NotEmpty(t, v.ID)
	assert.Equal(t, "WO-1", v.WorkOrder)
	assert.Equal(t, 1, v.QuantityOrder)
	assert.Equal(t, "-", v.Notes)
	assert.Equal(t, domain.StateScheduled, v.State())
	require.NotNil(t, v.WorkCenterLookup)
	assert.Equal(t, "Jasuindo.OffsetPrinter.Taiyo1", v.WorkCenterLookup.Code)
	assert.JSONEq(t, `{"customer":"ABC"}`, string(v.Attribute))
}

func TestJobService_Add_LookupErrors(t *testing.T) {
	f := newFixture(t)
	_, err := f.jobs.Add(context.Background(), f.payload(t, map[string]any{
		"quantity_unit": f.ids["HIGH"],
		"job_priority":  9999,
	}))
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
	assert.Equal(t, []domain.FieldError{
		{Field: "quantity_unit", Message: "quantity_unit lookup not found or invalid type (QUANTITY_UNIT)"},
		{Field: "job_priority", Message: "job_priority lookup not found or invalid type (JOB_PRIORITY)"},
	}, fieldErrors(t, err))

	_, err = f.jobs.Add(context.Background(), f.payload(t, map[string]any{"quantity_unit": f.ids["OLD"]}))
	assert.Equal(t, "quantity_unit", fieldErrors(t, err)[0].Field)
}

func TestJobService_Add_ScheduleConflictScenario(t *testing.T) {
	f := newFixture(t)
	f.add(t, nil)

	_, err := f.jobs.Add(context.Background(), f.payload(t, map[string]any{"work_order": "WO-2"}))
	require.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, []domain.FieldError{{Field: "planned_start_time", Message: domain.ScheduleConflictMessage}}, fieldErrors(t, err))

	v := f.add(t, map[string]any{"work_order": "WO-2", "planned_start_time": t0.Add(time.Hour).Format(time.RFC3339)})
	assert.Equal(t, "WO-2", v.WorkOrder)

	other := f.add(t, map[string]any{"work_order": "WO-3", "work_center": f.ids["Jasuindo.OffsetPrinter.Taiyo2"]})
	assert.Equal(t, t0, other.PlannedStartTime)
}

func TestJobService_Add_DuplicateWorkOrder(t *testing.T) {
	f := newFixture(t)
	f.add(t, nil)
	_, err := f.jobs.Add(context.Background(), f.payload(t, map[string]any{"planned_start_time": t0.Add(time.Hour).Format(time.RFC3339)}))
	require.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, "Work order already exists", err.Error())

	jobs, err := f.jobs.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestJobService_Update(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v := f.add(t, nil)
	f.add(t, map[string]any{"work_order": "WO-2", "planned_start_time": t0.Add(time.Hour).Format(time.RFC3339)})

	updated, err := f.jobs.Update(ctx, v.ID, mustInput(t, map[string]any{"notes": "rush", "quantity_order": 5, "due_date": "2026-02-21T16:00:00Z"}))
	require.NoError(t, err)
	assert.Equal(t, "rush", updated.Notes)
	assert.Equal(t, 5, updated.QuantityOrder)
	require.NotNil(t, updated.DueDate)
	assert.Equal(t, "WO-1", updated.WorkOrder)

	// keeping its own slot and work order is not a conflict
	_, err = f.jobs.Update(ctx, v.ID, mustInput(t, map[string]any{"work_order": "WO-1", "planned_start_time": t0.Format(time.RFC3339)}))
	require.NoError(t, err)

	_, err = f.jobs.Update(ctx, v.ID, mustInput(t, map[string]any{"planned_start_time": t0.Add(time.Hour).Format(time.RFC3339)}))
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = f.jobs.Update(ctx, v.ID, mustInput(t, map[string]any{"work_order": "WO-2"}))
	assert.ErrorIs(t, err, domain.ErrConflict)

	cleared, err := f.jobs.Update(ctx, v.ID, mustInput(t, map[string]any{"due_date": nil}))
	require.NoError(t, err)
	assert.Nil(t, cleared.DueDate)
}

func TestJobService_Update_Errors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.jobs.Update(ctx, "nope", mustInput(t, map[string]any{"notes": "x"}))
	assert.Equal(t, "id", fieldErrors(t, err)[0].Field)

	_, err = f.jobs.Update(ctx, "0b7c5a9e-1c39-4b8f-9f5d-3b0f6b0d8b11", mustInput(t, map[string]any{"notes": "x"}))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	v := f.add(t, nil)
	_, err = f.jobs.Update(ctx, v.ID, usecase.JobInput{})
	assert.Equal(t, "body", fieldErrors(t, err)[0].Field)
}

func TestJobService_EditDeleteGate(t *testing.T) {
	ctx := context.Background()
	for _, path := range [][]domain.Action{
		{domain.ActionRelease},
		{domain.ActionRelease, domain.ActionRun},
		{domain.ActionRelease, domain.ActionSuspend},
		{domain.ActionRelease, domain.ActionRun, domain.ActionComplete},
		{domain.ActionRelease, domain.ActionClose},
	} {
		f := newFixture(t)
		v := f.add(t, nil)
		for _, a := range path {
			_, err := f.jobs.Transition(ctx, v.ID, a)
			require.NoError(t, err)
		}

		// valid and invalid payloads are both refused
		_, err := f.jobs.Update(ctx, v.ID, mustInput(t, map[string]any{"notes": "x"}))
		require.ErrorIs(t, err, domain.ErrForbiddenTransition)
		assert.Equal(t, "Cannot edit job unless status is SCHEDULED", err.Error())
		_, err = f.jobs.Update(ctx, v.ID, mustInput(t, map[string]any{"quantity_order": 0}))
		require.Error(t, err)

		_, err = f.jobs.Remove(ctx, v.ID)
		require.ErrorIs(t, err, domain.ErrForbiddenTransition)
		assert.Equal(t, "Cannot delete job unless status is SCHEDULED", err.Error())
	}
}

func TestJobService_Remove(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v := f.add(t, nil)

	removed, err := f.jobs.Remove(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, v.ID, removed.ID)
	assert.Equal(t, domain.StateScheduled, removed.State())

	_, err = f.jobs.Get(ctx, v.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestJobService_TransitionScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v := f.add(t, nil)

	v, err := f.jobs.Transition(ctx, v.ID, domain.ActionRelease)
	require.NoError(t, err)
	assert.Equal(t, domain.StateReleased, v.State())

	v, err = f.jobs.Transition(ctx, v.ID, domain.ActionRun)
	require.NoError(t, err)
	assert.Equal(t, domain.StateRunning, v.State())

	_, err = f.jobs.Transition(ctx, v.ID, domain.ActionRelease)
	require.ErrorIs(t, err, domain.ErrForbiddenTransition)
	assert.Equal(t, "Cannot release job from status RUNNING", err.Error())

	v, err = f.jobs.Transition(ctx, v.ID, domain.ActionSuspend)
	require.NoError(t, err)
	v, err = f.jobs.Transition(ctx, v.ID, domain.ActionComplete)
	require.NoError(t, err)
	v, err = f.jobs.Transition(ctx, v.ID, domain.ActionClose)
	require.NoError(t, err)
	assert.Equal(t, domain.StateClosed, v.State())

	for _, a := range domain.Actions() {
		_, err := f.jobs.Transition(ctx, v.ID, a)
		assert.ErrorIs(t, err, domain.ErrForbiddenTransition, string(a))
	}
}

func TestJobService_Transition_MissingLifecycleSeed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v := f.add(t, nil)

	// rename RELEASED so the target state is no longer seeded
	_, err := f.store.Lookups().Upsert(ctx, domain.Lookup{ID: f.ids["RELEASED"], Type: domain.LookupJobLifecycle, Code: "RELEASED_OLD", IsActive: true})
	require.NoError(t, err)

	_, err = f.jobs.Transition(ctx, v.ID, domain.ActionRelease)
	require.ErrorIs(t, err, domain.ErrInternal)
	assert.Contains(t, err.Error(), "JOB_LIFECYCLE_STATE RELEASED not seeded")

	got, err := f.jobs.Get(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateScheduled, got.State())
}

// releasedBehind hands out the job as it was read, then releases it in the
// store once so the caller's write finds a different lifecycle state.
type releasedBehind struct {
	domain.JobRepository
	releasedID int64
	done       bool
}

func (r *releasedBehind) Get(ctx context.Context, id string) (domain.JobView, error) {
	v, err := r.JobRepository.Get(ctx, id)
	if err != nil || r.done {
		return v, err
	}
	r.done = true
	return v, r.JobRepository.SetLifecycleState(ctx, id, v.LifecycleState, r.releasedID)
}

func TestJobService_WritesAfterConcurrentRelease(t *testing.T) {
	ctx := context.Background()

	t.Run("update", func(t *testing.T) {
		f := newFixture(t)
		v := f.add(t, nil)
		jobs := usecase.NewJobService(&releasedBehind{JobRepository: f.store.Jobs(), releasedID: f.ids["RELEASED"]}, f.store.Lookups(), nil)

		_, err := jobs.Update(ctx, v.ID, mustInput(t, map[string]any{"notes": "late edit"}))
		require.ErrorIs(t, err, domain.ErrForbiddenTransition)
		assert.Equal(t, "Cannot edit job unless status is SCHEDULED", err.Error())

		got, err := f.jobs.Get(ctx, v.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StateReleased, got.State())
		assert.Equal(t, v.Notes, got.Notes)
	})

	t.Run("remove", func(t *testing.T) {
		f := newFixture(t)
		v := f.add(t, nil)
		jobs := usecase.NewJobService(&releasedBehind{JobRepository: f.store.Jobs(), releasedID: f.ids["RELEASED"]}, f.store.Lookups(), nil)

		_, err := jobs.Remove(ctx, v.ID)
		require.ErrorIs(t, err, domain.ErrForbiddenTransition)
		assert.Equal(t, "Cannot delete job unless status is SCHEDULED", err.Error())

		got, err := f.jobs.Get(ctx, v.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StateReleased, got.State())
	})

	t.Run("transition", func(t *testing.T) {
		f := newFixture(t)
		v := f.add(t, nil)
		jobs := usecase.NewJobService(&releasedBehind{JobRepository: f.store.Jobs(), releasedID: f.ids["RELEASED"]}, f.store.Lookups(), nil)

		_, err := jobs.Transition(ctx, v.ID, domain.ActionRelease)
		require.ErrorIs(t, err, domain.ErrForbiddenTransition)
		assert.Equal(t, "Cannot release job from status RELEASED", err.Error())
	})
}

func TestJobService_Dashboard(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.add(t, nil)
	b := f.add(t, map[string]any{"work_order": "WO-2", "planned_start_time": t0.Add(time.Hour).Format(time.RFC3339)})
	c := f.add(t, map[string]any{"work_order": "WO-3", "planned_start_time": t0.Add(2 * time.Hour).Format(time.RFC3339)})
	f.add(t, map[string]any{"work_order": "WO-4", "planned_start_time": t0.Add(3 * time.Hour).Format(time.RFC3339)})

	_, err := f.jobs.Transition(ctx, a.ID, domain.ActionRelease)
	require.NoError(t, err)
	_, err = f.jobs.Transition(ctx, b.ID, domain.ActionRelease)
	require.NoError(t, err)
	_, err = f.jobs.Transition(ctx, b.ID, domain.ActionRun)
	require.NoError(t, err)
	_, err = f.jobs.Transition(ctx, c.ID, domain.ActionRelease)
	require.NoError(t, err)
	_, err = f.jobs.Transition(ctx, c.ID, domain.ActionClose)
	require.NoError(t, err)

	d, err := f.jobs.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), d.Total)
	assert.Equal(t, int64(1), d.Scheduled)
	assert.Equal(t, int64(1), d.Released)
	assert.Equal(t, int64(1), d.Running)
	assert.Equal(t, int64(1), d.Other)
	assert.False(t, d.GeneratedAt.IsZero())
}

func TestJobService_List_OrderedByStart(t *testing.T) {
	f := newFixture(t)
	f.add(t, map[string]any{"work_order": "late", "planned_start_time": t0.Add(time.Hour).Format(time.RFC3339)})
	f.add(t, map[string]any{"work_order": "early"})

	jobs, err := f.jobs.List(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "early", jobs[0].WorkOrder)
	assert.Equal(t, "late", jobs[1].WorkOrder)
}

type recordingLocker struct {
	keys     []string
	released int
	err      error
}

func (l *recordingLocker) Lock(_ context.Context, keys ...string) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	l.keys = append(l.keys, keys...)
	return func() { l.released++ }, nil
}

func TestJobService_Add_HoldsSlotLock(t *testing.T) {
	f := newFixture(t)
	locker := &recordingLocker{}
	f.jobs.Locker = locker

	f.add(t, nil)
	assert.Equal(t, []string{
		usecase.WorkOrderLockKey("WO-1"),
		usecase.SlotLockKey(f.ids["Jasuindo.OffsetPrinter.Taiyo1"], t0),
	}, locker.keys)
	assert.Equal(t, 1, locker.released)

	locker.err = errors.New("slot busy")
	_, err := f.jobs.Add(context.Background(), f.payload(t, map[string]any{"work_order": "WO-2"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "op=job.lock")
}
