// ABOUTME: Bounded fixed-interval retry used by pollers and CLI clients.
// ABOUTME: Clock is injectable so callers can test without real sleeps.

package retry

import (
	"context"
	"errors"
	"time"
)

// ErrExhausted is returned when every attempt ran without success.
var ErrExhausted = errors.New("retry attempts exhausted")

// Clock abstracts timer creation for tests.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock is the wall-clock implementation used outside tests.
var RealClock Clock = realClock{}

// Do invokes fn up to attempts times, waiting interval between tries.
// fn reports done=true to stop early; its error is returned as-is in that
// case, so a caller can finish with either success or a definitive failure.
// If no attempt reports done, Do returns ErrExhausted. Context cancellation
// interrupts the wait between attempts.
func Do(ctx context.Context, attempts int, interval time.Duration, clock Clock, fn func() (done bool, err error)) error {
	if clock == nil {
		clock = RealClock
	}

	for i := 0; i < attempts; i++ {
		done, err := fn()
		if done {
			return err
		}

		// No wait after the final attempt
		if i == attempts-1 {
			break
		}

		select {
		case <-clock.After(interval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return ErrExhausted
}
