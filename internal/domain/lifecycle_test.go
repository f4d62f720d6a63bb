package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextState_AllPairs(t *testing.T) {
	allowed := map[Action]map[LifecycleState]LifecycleState{
		ActionRelease:  {StateScheduled: StateReleased},
		ActionRun:      {StateReleased: StateRunning},
		ActionSuspend:  {StateReleased: StateSuspended, StateRunning: StateSuspended},
		ActionComplete: {StateRunning: StateCompleted, StateSuspended: StateCompleted},
		ActionClose:    {StateReleased: StateClosed, StateCompleted: StateClosed},
	}

	for _, action := range Actions() {
		for _, state := range States() {
			t.Run(string(action)+"_from_"+string(state), func(t *testing.T) {
				next, err := NextState(action, state)
				want, ok := allowed[action][state]
				if ok {
					require.NoError(t, err)
					assert.Equal(t, want, next)
					return
				}
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrForbiddenTransition))
				var te *TransitionError
				require.True(t, errors.As(err, &te))
				assert.Equal(t, string(action), te.Action)
				assert.Equal(t, state, te.State)
				assert.Equal(t, "Cannot "+string(action)+" job from status "+string(state), err.Error())
			})
		}
	}
}

func TestNextState_UnknownAction(t *testing.T) {
	_, err := NextState(Action("archive"), StateScheduled)
	assert.ErrorIs(t, err, ErrForbiddenTransition)
}

func TestParseAction(t *testing.T) {
	for _, a := range Actions() {
		got, ok := ParseAction(string(a))
		assert.True(t, ok)
		assert.Equal(t, a, got)
	}
	_, ok := ParseAction("reopen")
	assert.False(t, ok)
}

func TestEnsureEditable(t *testing.T) {
	for _, s := range States() {
		err := EnsureEditable(s, "edit")
		if s == StateScheduled {
			assert.NoError(t, err)
			continue
		}
		assert.ErrorIs(t, err, ErrForbiddenTransition)
		assert.Equal(t, "Cannot edit job unless status is SCHEDULED", err.Error())
	}
	assert.Equal(t, "Cannot delete job unless status is SCHEDULED", EnsureEditable(StateReleased, "delete").Error())
}
