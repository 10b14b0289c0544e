package dispatch

import (
	"fmt"
	"time"

	kit "courier/internal/transport"
)

// Strategy maps one urgency level onto an ordered channel walk.
//
// Channels are tried strictly in order; FallbackDelay is the wait between a
// failed attempt and the next channel; AttemptTimeout bounds each provider
// call; MaxAttempts caps provider calls for the whole dispatch. One attempt
// per channel: same-channel retries are intentionally not part of the model.
type Strategy struct {
	Channels       []string
	AttemptTimeout time.Duration
	FallbackDelay  time.Duration
	MaxAttempts    int
}

// Table is the process-wide urgency -> strategy mapping. It is immutable
// after construction and injected into the orchestrator, never read from
// ambient globals.
type Table struct {
	byUrgency map[Urgency]Strategy
}

// DefaultTable returns the stock escalation ladder.
//
// CRITICAL walks every channel; HIGH stops at the interactive ones; NORMAL
// is single-channel. Deployments tune this via config.
func DefaultTable() Table {
	t, err := NewTable(map[Urgency]Strategy{
		UrgencyCritical: {
			Channels:       []string{kit.ChannelTelegram, kit.ChannelBot, kit.ChannelSMS, kit.ChannelEmail},
			AttemptTimeout: 10 * time.Second,
			FallbackDelay:  60 * time.Second,
			MaxAttempts:    4,
		},
		UrgencyHigh: {
			Channels:       []string{kit.ChannelTelegram, kit.ChannelBot},
			AttemptTimeout: 10 * time.Second,
			FallbackDelay:  5 * time.Minute,
			MaxAttempts:    2,
		},
		UrgencyNormal: {
			Channels:       []string{kit.ChannelTelegram},
			AttemptTimeout: 10 * time.Second,
			FallbackDelay:  15 * time.Minute,
			MaxAttempts:    1,
		},
	})
	if err != nil {
		// The stock table is validated by tests; reaching this is a bug.
		panic(err)
	}
	return t
}

// NewTable validates and freezes a strategy mapping.
//
// Every table must carry a NORMAL entry because unknown urgencies fail
// closed onto it. Empty channel lists are disallowed by construction so
// Select can never hand out a strategy that dispatches nothing.
func NewTable(m map[Urgency]Strategy) (Table, error) {
	if _, ok := m[UrgencyNormal]; !ok {
		return Table{}, fmt.Errorf("strategy table: NORMAL entry is required")
	}
	out := make(map[Urgency]Strategy, len(m))
	for u, s := range m {
		if len(s.Channels) == 0 {
			return Table{}, fmt.Errorf("strategy table: %s has no channels", u)
		}
		seen := map[string]bool{}
		for _, ch := range s.Channels {
			if ch == "" {
				return Table{}, fmt.Errorf("strategy table: %s has an empty channel name", u)
			}
			if seen[ch] {
				return Table{}, fmt.Errorf("strategy table: %s lists channel %q twice", u, ch)
			}
			seen[ch] = true
		}
		if s.AttemptTimeout <= 0 {
			s.AttemptTimeout = 10 * time.Second
		}
		if s.FallbackDelay < 0 {
			return Table{}, fmt.Errorf("strategy table: %s has a negative fallback delay", u)
		}
		if s.MaxAttempts <= 0 {
			s.MaxAttempts = len(s.Channels)
		}
		// Copy so later caller mutation can't leak into the frozen table.
		s.Channels = append([]string(nil), s.Channels...)
		out[u] = s
	}
	return Table{byUrgency: out}, nil
}

// Select returns the strategy for an urgency. Unknown urgencies fall back to
// NORMAL (never an empty strategy).
func (t Table) Select(u Urgency) Strategy {
	if s, ok := t.byUrgency[u]; ok {
		return s
	}
	return t.byUrgency[UrgencyNormal]
}

// Channels returns the union of channels referenced by any strategy.
// The app uses this at startup to verify every referenced channel has a
// configured adapter.
func (t Table) Channels() []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range t.byUrgency {
		for _, ch := range s.Channels {
			if !seen[ch] {
				seen[ch] = true
				out = append(out, ch)
			}
		}
	}
	return out
}
