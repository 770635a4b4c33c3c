// ABOUTME: Tests for the streaming aggregator's snapshot and terminal semantics.

package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregator_SnapshotSemantics(t *testing.T) {
	var observed []string
	a := NewAggregator(func(text string) {
		observed = append(observed, text)
	})

	done := a.Expect()
	a.Apply(StateDelta, "H")
	a.Apply(StateDelta, "He")
	a.Apply(StateDelta, "Hello")

	// Each delta replaces the text wholesale
	assert.Equal(t, []string{"H", "He", "Hello"}, observed)

	a.Apply(StateFinal, "")
	result := <-done
	assert.Equal(t, "Hello", result.Text)
	assert.Equal(t, StateFinal, result.State)
	assert.False(t, result.Failed())
}

func TestAggregator_TerminalBeforeDelta(t *testing.T) {
	a := NewAggregator(nil)

	done := a.Expect()
	a.Apply(StateError, "")

	result := <-done
	assert.Empty(t, result.Text)
	assert.Equal(t, StateError, result.State)
	assert.True(t, result.Failed())
}

func TestAggregator_AbortClosesOpenMessage(t *testing.T) {
	a := NewAggregator(nil)

	done := a.Expect()
	a.Apply(StateDelta, "partial rep")
	a.Abort()

	result := <-done
	assert.Equal(t, "partial rep", result.Text)
	assert.Equal(t, StateAborted, result.State)
}

func TestAggregator_AbortWithNothingOpen(t *testing.T) {
	a := NewAggregator(nil)
	a.Abort() // no waiter, no open message: a no-op
}

func TestAggregator_NewExpectSupersedesOld(t *testing.T) {
	a := NewAggregator(nil)

	stale := a.Expect()
	a.Apply(StateDelta, "old turn")

	fresh := a.Expect()
	a.Apply(StateDelta, "new turn")
	a.Apply(StateFinal, "")

	result := <-fresh
	assert.Equal(t, "new turn", result.Text)

	select {
	case <-stale:
		t.Fatal("superseded waiter should never be resolved")
	default:
	}
}

func TestAggregator_EventsWithoutExpectation(t *testing.T) {
	// Unsolicited chat events must not panic or leak
	a := NewAggregator(nil)
	a.Apply(StateDelta, "spontaneous")
	a.Apply(StateFinal, "")

	done := a.Expect()
	a.Apply(StateDelta, "wanted")
	a.Apply(StateFinal, "")

	result := <-done
	require.Equal(t, "wanted", result.Text)
}
