// ABOUTME: Canned reply generator used when no agent path is configured
// ABOUTME: or the outbound trigger to the agent fails.

package demo

import (
	"math/rand/v2"
	"strings"
)

// defaultReplies acknowledge the message and point the visitor at a real
// contact channel. The contact line from config is appended when set.
var defaultReplies = []string{
	"Thank you for your message! I've received it and will get back to you shortly.",
	"Message received! This assistant is running in demo mode right now, so replies here are canned.",
	"I appreciate you reaching out! The live assistant is offline at the moment, but your message got through.",
}

// Responder produces canned replies. It is stateless apart from the
// configured reply list and safe for concurrent use.
type Responder struct {
	replies     []string
	contactLine string
}

// New creates a responder with the default reply set. contactLine, when
// non-empty, is appended to every reply so the visitor has somewhere
// real to go.
func New(contactLine string) *Responder {
	return &Responder{
		replies:     defaultReplies,
		contactLine: contactLine,
	}
}

// Reply returns a canned reply for the given visitor message. The input
// only matters insofar as an empty reply list would be a bug; selection
// among replies is random.
func (r *Responder) Reply(message string) string {
	reply := r.replies[rand.IntN(len(r.replies))]
	if r.contactLine != "" {
		reply = reply + " " + strings.TrimSpace(r.contactLine)
	}
	return reply
}
