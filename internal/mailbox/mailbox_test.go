// ABOUTME: Tests for the mailbox store's pending/fulfilled lifecycle.
// ABOUTME: Covers at-most-once consumption, TTL expiry, and eviction.

package mailbox

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTake_AbsentKey(t *testing.T) {
	s := New(time.Minute, 100)
	defer s.Close()

	value, ok := s.Take("never-created")
	assert.False(t, ok)
	assert.Empty(t, value)
}

func TestTake_PendingKey(t *testing.T) {
	s := New(time.Minute, 100)
	defer s.Close()

	s.Create("req-1")

	value, ok := s.Take("req-1")
	assert.False(t, ok)
	assert.Empty(t, value)

	// Pending entry survives the failed take
	assert.True(t, s.Pending("req-1"))
}

func TestTake_ConsumesFulfilled(t *testing.T) {
	s := New(time.Minute, 100)
	defer s.Close()

	s.Create("req-1")
	s.Deliver("req-1", "the reply")

	value, ok := s.Take("req-1")
	require.True(t, ok)
	assert.Equal(t, "the reply", value)

	// Second take sees nothing: the entry was consumed
	_, ok = s.Take("req-1")
	assert.False(t, ok)
	assert.False(t, s.Pending("req-1"))
}

func TestTake_ExactlyOneWinner(t *testing.T) {
	s := New(time.Minute, 1000)
	defer s.Close()

	s.Create("req-1")
	s.Deliver("req-1", "prize")

	const callers = 50
	var wg sync.WaitGroup
	wins := make(chan string, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if value, ok := s.Take("req-1"); ok {
				wins <- value
			}
		}()
	}
	wg.Wait()
	close(wins)

	var got []string
	for v := range wins {
		got = append(got, v)
	}
	require.Len(t, got, 1, "exactly one caller should consume the entry")
	assert.Equal(t, "prize", got[0])
}

func TestDeliver_OverwritesPending(t *testing.T) {
	s := New(time.Minute, 100)
	defer s.Close()

	s.Create("req-1")
	s.Deliver("req-1", "first")
	s.Deliver("req-1", "second")

	value, ok := s.Take("req-1")
	require.True(t, ok)
	assert.Equal(t, "second", value)
}

func TestDeliver_WithoutCreate(t *testing.T) {
	// A callback can arrive for a key the store never saw, e.g. after an
	// expired entry was swept. The delivery lands and the TTL collects it.
	s := New(time.Minute, 100)
	defer s.Close()

	s.Deliver("req-1", "late")

	value, ok := s.Take("req-1")
	require.True(t, ok)
	assert.Equal(t, "late", value)
}

func TestCreate_ResetsFulfilled(t *testing.T) {
	s := New(time.Minute, 100)
	defer s.Close()

	s.Create("req-1")
	s.Deliver("req-1", "stale")
	s.Create("req-1")

	_, ok := s.Take("req-1")
	assert.False(t, ok, "re-created key should be pending again")
}

func TestExpiry(t *testing.T) {
	s := New(20*time.Millisecond, 100)
	defer s.Close()

	s.Create("req-1")
	s.Deliver("req-1", "reply")

	time.Sleep(40 * time.Millisecond)

	// Expired entries are unobservable even before the sweep runs
	_, ok := s.Take("req-1")
	assert.False(t, ok)
	assert.False(t, s.Pending("req-1"))
}

func TestDeliver_RearmsTTL(t *testing.T) {
	s := New(50*time.Millisecond, 100)
	defer s.Close()

	s.Create("req-1")
	time.Sleep(30 * time.Millisecond)
	s.Deliver("req-1", "reply")
	time.Sleep(30 * time.Millisecond)

	// 60ms since Create but only 30ms since Deliver: still live
	value, ok := s.Take("req-1")
	require.True(t, ok)
	assert.Equal(t, "reply", value)
}

func TestDelete(t *testing.T) {
	s := New(time.Minute, 100)
	defer s.Close()

	s.Create("req-1")
	s.Delete("req-1")

	assert.False(t, s.Pending("req-1"))
	assert.Equal(t, 0, s.Len())
}

func TestMaxSizeEviction(t *testing.T) {
	s := New(time.Minute, 3)
	defer s.Close()

	for i := 0; i < 5; i++ {
		s.Create(fmt.Sprintf("req-%d", i))
	}

	assert.Equal(t, 3, s.Len())

	// Oldest entries were evicted, newest survive
	assert.False(t, s.Pending("req-0"))
	assert.False(t, s.Pending("req-1"))
	assert.True(t, s.Pending("req-2"))
	assert.True(t, s.Pending("req-4"))
}

func TestRunSweep(t *testing.T) {
	s := New(10*time.Millisecond, 100)
	defer s.Close()

	s.Create("req-1")
	s.Deliver("req-2", "reply")
	time.Sleep(20 * time.Millisecond)
	s.Create("req-3")

	s.runSweep()

	assert.Equal(t, 1, s.Len())
	assert.True(t, s.Pending("req-3"))
}

func TestClose_Idempotent(t *testing.T) {
	s := New(time.Minute, 100)
	s.Close()
	s.Close()
}
