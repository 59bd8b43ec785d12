package retry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_Transitions(t *testing.T) {
	t.Parallel()

	assert.True(t, StateIdle.canTransition(StateAttempting))
	assert.True(t, StateAttempting.canTransition(StateRetrying))
	assert.True(t, StateRetrying.canTransition(StateAttempting))
	assert.True(t, StateRetrying.canTransition(StateCanceled))

	assert.False(t, StateIdle.canTransition(StateSucceeded), "cannot succeed without an attempt")
	assert.False(t, StateRetrying.canTransition(StateTimedOutFinal))
	assert.False(t, StateSucceeded.canTransition(StateAttempting), "terminal states are final")
}

func TestState_Terminal(t *testing.T) {
	t.Parallel()

	for _, s := range []State{StateSucceeded, StateFailed, StateTimedOutFinal, StateDeadlineExceededFinal, StateCanceled} {
		assert.True(t, s.Terminal(), s.String())
		assert.Empty(t, transitions[s], "terminal state %s has outgoing transitions", s)
	}

	for _, s := range []State{StateIdle, StateAttempting, StateRetrying} {
		assert.False(t, s.Terminal(), s.String())
	}

	assert.Equal(t, "State(99)", State(99).String())
}

func TestFinalState(t *testing.T) {
	t.Parallel()

	assert.Equal(t, StateFailed, finalState(KindInvalidConfiguration))
	assert.Equal(t, StateFailed, finalState(KindOperationFailure))
	assert.Equal(t, StateTimedOutFinal, finalState(KindTimeoutExceeded))
	assert.Equal(t, StateDeadlineExceededFinal, finalState(KindDeadlineExceeded))
	assert.Equal(t, StateCanceled, finalState(KindCanceled))
}

func TestRun_IllegalTransitionPanics(t *testing.T) {
	t.Parallel()

	r := &run[int]{state: StateSucceeded}

	require.Panics(t, func() {
		r.transition(StateAttempting)
	})
}
