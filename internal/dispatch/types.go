package dispatch

import (
	"errors"
	"strings"
	"time"
)

// Urgency classifies how aggressively a message is pushed across channels.
type Urgency string

const (
	UrgencyCritical Urgency = "CRITICAL"
	UrgencyHigh     Urgency = "HIGH"
	UrgencyNormal   Urgency = "NORMAL"
)

// ParseUrgency normalizes a raw urgency string. Unknown values fail closed to
// NORMAL: a typo in a caller must never widen the channel fan-out.
func ParseUrgency(s string) Urgency {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(UrgencyCritical):
		return UrgencyCritical
	case string(UrgencyHigh):
		return UrgencyHigh
	default:
		return UrgencyNormal
	}
}

// Message is the immutable payload of one dispatch.
//
// The body is pre-rendered by the caller (templating is an external
// collaborator). CorrelationID ties retries and log records together; the
// engine does NOT deduplicate on it: two dispatches with the same id produce
// two independent attempt sequences.
type Message struct {
	Body          string
	Subject       string
	CorrelationID string
	Urgency       Urgency
}

// Request is one dispatch: deliver Message to the recipient over the
// channels selected by the message's urgency.
type Request struct {
	RecipientID string
	Message     Message
}

// Result is the terminal outcome of a dispatch. It is returned to the
// caller, never persisted here; the per-attempt trail goes to the delivery
// log instead.
type Result struct {
	Success  bool
	Channel  string // channel that succeeded, empty on exhaustion
	Attempts int    // provider calls made (skipped channels don't count)
	Elapsed  time.Duration
}

// ErrNoAddress means the recipient has no resolvable address on any channel
// of the selected strategy. The dispatch fails fast: zero provider calls,
// zero attempt records.
var ErrNoAddress = errors.New("recipient has no address on any strategy channel")
