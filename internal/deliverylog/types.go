package deliverylog

import (
	"errors"
	"fmt"
	"hash/fnv"
	"time"
)

var ErrDisabled = errors.New("delivery log disabled")

// Config configures the delivery log sink.
//
// Driver values:
//   - "file": dependency-free JSON Lines backend
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", the sink is disabled and attempts are only
// visible through logs and in-memory stats.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AttemptEntry records one channel try of one dispatch.
// Keep it compact and schema-stable; rows are append-only and never mutated.
type AttemptEntry struct {
	At            time.Time
	CorrelationID string
	Channel       string
	AddressHash   string
	Outcome       string
	Error         string
	ElapsedMS     int64
}

// HashAddress produces a stable, non-reversible token for an address so the
// log never stores raw phone numbers or mailbox names.
func HashAddress(addr string) string {
	if addr == "" {
		return ""
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(addr))
	return fmt.Sprintf("%x", h.Sum64())
}
