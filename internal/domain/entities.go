package domain

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrForbiddenTransition = errors.New("forbidden transition")
	ErrStaleState          = errors.New("lifecycle state changed")
	ErrLookupTypeMismatch  = errors.New("lookup type mismatch")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInternal            = errors.New("internal error")
)

// Lookup types referenced by jobs.
const (
	LookupQuantityUnit   = "QUANTITY_UNIT"
	LookupWorkCenter     = "WORK_CENTER"
	LookupJobPriority    = "JOB_PRIORITY"
	LookupJobLifecycle   = "JOB_LIFECYCLE_STATE"
	DefaultNotes         = "-"
	DefaultQuantityOrder = 1
	MaxOrderNumberLength = 100
)

// Lookup is a typed, coded reference value. Invariant: (Type, Code) is unique.
type Lookup struct {
	ID        int64
	Type      string
	Code      string
	Label     string
	SortOrder int
	IsActive  bool
	Attribute json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// LookupRef is a lookup reference as supplied by a client: either a numeric
// id or a code. JSON numbers and strings are both accepted.
type LookupRef struct {
	raw string
}

// LookupRefFromID builds a reference to a lookup id.
func LookupRefFromID(id int64) LookupRef { return LookupRef{raw: strconv.FormatInt(id, 10)} }

// String returns the raw reference.
func (r LookupRef) String() string { return r.raw }

// IsZero reports whether the reference is empty.
func (r LookupRef) IsZero() bool { return r.raw == "" }

// ID parses the reference as a numeric id.
func (r LookupRef) ID() (int64, bool) {
	id, err := strconv.ParseInt(r.raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// UnmarshalJSON accepts a JSON number, a JSON string, or null.
func (r *LookupRef) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	switch {
	case s == "null":
		r.raw = ""
		return nil
	case strings.HasPrefix(s, `"`):
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		r.raw = strings.TrimSpace(v)
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return err
		}
		r.raw = n.String()
		return nil
	}
}

// MarshalJSON emits the reference as a number when numeric, else as a string.
func (r LookupRef) MarshalJSON() ([]byte, error) {
	if id, ok := r.ID(); ok {
		return []byte(strconv.FormatInt(id, 10)), nil
	}
	return json.Marshal(r.raw)
}

// Job is a production work order scheduled against a work center.
// Invariants: WorkOrder unique; (WorkCenter, PlannedStartTime) unique; QuantityOrder >= 1.
type Job struct {
	ID               string
	WorkOrder        string
	SalesOrder       string
	QuantityOrder    int
	QuantityUnit     int64
	WorkCenter       int64
	PlannedStartTime time.Time
	ReleaseDate      *time.Time
	DueDate          *time.Time
	JobPriority      int64
	LifecycleState   int64
	Notes            string
	Attribute        json.RawMessage
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// JobView is a job with its lookup references populated. A nil lookup means
// the referenced row no longer exists.
type JobView struct {
	Job
	QuantityUnitLookup   *Lookup
	WorkCenterLookup     *Lookup
	JobPriorityLookup    *Lookup
	LifecycleStateLookup *Lookup
}

// State returns the lifecycle code of the job, or "" when unresolved.
func (v JobView) State() LifecycleState {
	if v.LifecycleStateLookup == nil {
		return ""
	}
	return LifecycleState(v.LifecycleStateLookup.Code)
}

// Optional marks a patch field as present; Value is applied only when Set.
type Optional[T any] struct {
	Set   bool
	Value T
}

// Some returns a set Optional holding v.
func Some[T any](v T) Optional[T] { return Optional[T]{Set: true, Value: v} }

// JobPatch carries the fields an update writes. Unset fields are left as stored.
type JobPatch struct {
	WorkOrder        Optional[string]
	SalesOrder       Optional[string]
	QuantityOrder    Optional[int]
	QuantityUnit     Optional[int64]
	WorkCenter       Optional[int64]
	PlannedStartTime Optional[time.Time]
	ReleaseDate      Optional[*time.Time]
	DueDate          Optional[*time.Time]
	JobPriority      Optional[int64]
	Notes            Optional[string]
	Attribute        Optional[json.RawMessage]
}

// Repositories (ports)
type LookupRepository interface {
	Get(ctx Context, id int64) (Lookup, error)
	// FindByCode matches code case-insensitively within lookupType.
	FindByCode(ctx Context, lookupType, code string) (Lookup, error)
	// List returns lookups ordered by sort order; an empty type lists all.
	List(ctx Context, lookupType string) ([]Lookup, error)
	ListByTypes(ctx Context, types []string) ([]Lookup, error)
	Upsert(ctx Context, l Lookup) (Lookup, error)
}

type JobRepository interface {
	Get(ctx Context, id string) (JobView, error)
	// List returns all jobs ordered by planned start time.
	List(ctx Context) ([]JobView, error)
	// WorkOrderTaken reports whether a job other than exceptID holds workOrder.
	WorkOrderTaken(ctx Context, workOrder, exceptID string) (bool, error)
	// SlotTaken reports whether a job other than exceptID occupies the work center at plannedStart.
	SlotTaken(ctx Context, workCenter int64, plannedStart time.Time, exceptID string) (bool, error)
	// ExistingWorkOrders returns the subset of workOrders already stored.
	ExistingWorkOrders(ctx Context, workOrders []string) ([]string, error)
	Create(ctx Context, j Job) (string, error)
	// Update, SetLifecycleState and Delete only write while the job is still
	// in fromState. Otherwise they fail with ErrStaleState, or ErrNotFound
	// when the job is gone.
	Update(ctx Context, id string, fromState int64, p JobPatch) error
	SetLifecycleState(ctx Context, id string, fromState, toState int64) error
	Delete(ctx Context, id string, fromState int64) error
	// CountByLifecycleState groups jobs by lifecycle lookup id.
	CountByLifecycleState(ctx Context) (map[int64]int64, error)
}

// SlotLocker serialises check-then-write sequences on the given keys across
// processes. The returned release func must always be called.
type SlotLocker interface {
	Lock(ctx Context, keys ...string) (release func(), err error)
}

// Context is an alias to allow decoupling from std context in domain.
type Context = context.Context
