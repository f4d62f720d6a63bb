package domain

// LifecycleState is a JOB_LIFECYCLE_STATE lookup code.
//
//	SCHEDULED ──release──► RELEASED ──run──► RUNNING
//	                          │  │              │  │
//	                          │  └──suspend──► SUSPENDED ◄──┘
//	                          │                 │   (complete from RUNNING too)
//	                          │              complete
//	                          │                 ▼
//	                          └────close───► CLOSED ◄──close── COMPLETED
//
// CLOSED is terminal.
type LifecycleState string

const (
	StateScheduled LifecycleState = "SCHEDULED"
	StateReleased  LifecycleState = "RELEASED"
	StateRunning   LifecycleState = "RUNNING"
	StateSuspended LifecycleState = "SUSPENDED"
	StateCompleted LifecycleState = "COMPLETED"
	StateClosed    LifecycleState = "CLOSED"
)

// Action is a lifecycle transition trigger.
type Action string

const (
	ActionRelease  Action = "release"
	ActionRun      Action = "run"
	ActionSuspend  Action = "suspend"
	ActionComplete Action = "complete"
	ActionClose    Action = "close"
)

type transition struct {
	from []LifecycleState
	to   LifecycleState
}

var transitions = map[Action]transition{
	ActionRelease:  {from: []LifecycleState{StateScheduled}, to: StateReleased},
	ActionRun:      {from: []LifecycleState{StateReleased}, to: StateRunning},
	ActionSuspend:  {from: []LifecycleState{StateReleased, StateRunning}, to: StateSuspended},
	ActionComplete: {from: []LifecycleState{StateRunning, StateSuspended}, to: StateCompleted},
	ActionClose:    {from: []LifecycleState{StateReleased, StateCompleted}, to: StateClosed},
}

// States lists every lifecycle state in display order.
func States() []LifecycleState {
	return []LifecycleState{StateScheduled, StateReleased, StateRunning, StateSuspended, StateCompleted, StateClosed}
}

// Actions lists every transition action.
func Actions() []Action {
	return []Action{ActionRelease, ActionRun, ActionSuspend, ActionComplete, ActionClose}
}

// ParseAction converts a raw action name.
func ParseAction(s string) (Action, bool) {
	a := Action(s)
	_, ok := transitions[a]
	return a, ok
}

// NextState returns the target of action from current, or a *TransitionError.
func NextState(action Action, current LifecycleState) (LifecycleState, error) {
	t, ok := transitions[action]
	if !ok {
		return "", &TransitionError{Action: string(action), State: current}
	}
	for _, s := range t.from {
		if s == current {
			return t.to, nil
		}
	}
	return "", &TransitionError{Action: string(action), State: current}
}

// EnsureEditable gates edit and delete: both require SCHEDULED.
func EnsureEditable(current LifecycleState, op string) error {
	if current != StateScheduled {
		return &TransitionError{Action: op, State: current, Gate: true}
	}
	return nil
}
