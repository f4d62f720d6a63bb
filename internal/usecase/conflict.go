package usecase

import (
	"time"

	"github.com/fairyhunter13/print-mes/internal/domain"
)

// ConflictGuard checks the two cross-row job invariants against stored state.
//
// Both checks are read-then-decide. Two concurrent writers can both pass a
// check before either commits; JobService narrows that window with the slot
// lock and the storage unique indexes reject whatever still slips through,
// surfacing as the same *domain.ConflictError.
type ConflictGuard struct {
	Jobs domain.JobRepository
}

// NewConflictGuard constructs a ConflictGuard over the job repository.
func NewConflictGuard(j domain.JobRepository) ConflictGuard { return ConflictGuard{Jobs: j} }

// AssertUniqueWorkOrder fails when a job other than exceptID holds workOrder.
func (g ConflictGuard) AssertUniqueWorkOrder(ctx domain.Context, workOrder, exceptID string) error {
	taken, err := g.Jobs.WorkOrderTaken(ctx, workOrder, exceptID)
	if err != nil {
		return err
	}
	if taken {
		return domain.NewWorkOrderConflict()
	}
	return nil
}

// AssertNoScheduleConflict fails when a job other than exceptID occupies the
// (workCenter, plannedStart) slot.
func (g ConflictGuard) AssertNoScheduleConflict(ctx domain.Context, workCenter int64, plannedStart time.Time, exceptID string) error {
	taken, err := g.Jobs.SlotTaken(ctx, workCenter, plannedStart, exceptID)
	if err != nil {
		return err
	}
	if taken {
		return domain.NewScheduleConflict()
	}
	return nil
}
