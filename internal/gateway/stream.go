// ABOUTME: Aggregates incremental chat events into one growing reply.
// ABOUTME: Deltas carry cumulative snapshots; a terminal state closes the message.

package gateway

import "sync"

// StreamResult is the outcome of one streamed reply: the last-known text
// and the terminal state that closed it.
type StreamResult struct {
	Text  string
	State string
}

// Failed reports whether the stream ended without a usable reply.
func (r StreamResult) Failed() bool {
	return r.State == StateError || r.State == StateAborted
}

// Aggregator tracks the one open streaming message for a session. Each
// delta replaces the text wholesale (the payload is a cumulative
// snapshot, not an increment); final, error, or aborted closes the
// message and hands the result to the registered waiter.
type Aggregator struct {
	mu      sync.Mutex
	text    string
	open    bool
	waiter  chan StreamResult
	onDelta func(text string)
}

// NewAggregator creates an aggregator. onDelta, when non-nil, observes
// the current text after every delta; it is called without internal
// locks held.
func NewAggregator(onDelta func(text string)) *Aggregator {
	return &Aggregator{onDelta: onDelta}
}

// Expect registers the caller as the consumer of the next terminal
// result. Only one expectation is live at a time; a new one supersedes
// (and silently abandons) the previous waiter.
func (a *Aggregator) Expect() <-chan StreamResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.waiter = make(chan StreamResult, 1)
	a.text = ""
	a.open = false
	return a.waiter
}

// Apply consumes one chat event. Safe to call from the dispatch loop only.
func (a *Aggregator) Apply(state string, content string) {
	switch state {
	case StateDelta:
		a.mu.Lock()
		a.open = true
		a.text = content
		cb := a.onDelta
		a.mu.Unlock()

		if cb != nil {
			cb(content)
		}

	case StateFinal, StateError, StateAborted:
		a.close(state)
	}
}

// Abort closes any open message (or pending expectation) as aborted.
// Called when the connection drops so no waiter hangs forever.
func (a *Aggregator) Abort() {
	a.close(StateAborted)
}

func (a *Aggregator) close(state string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.waiter == nil && !a.open {
		return
	}

	result := StreamResult{Text: a.text, State: state}
	if a.waiter != nil {
		a.waiter <- result
		a.waiter = nil
	}
	a.open = false
	a.text = ""
}
