package deliverylog

import (
	"sort"
	"sync"

	kit "courier/internal/transport"
)

// ChannelStats aggregates attempt outcomes for one channel.
type ChannelStats struct {
	Channel   string `json:"channel"`
	Sent      uint64 `json:"sent"`
	Failed    uint64 `json:"failed"`
	Skipped   uint64 `json:"skipped"`
	// SuccessRate is sent / (sent + failed); skipped channels don't count
	// against a provider.
	SuccessRate float64 `json:"success_rate"`
}

// Stats keeps in-memory per-channel success counters.
//
// This is operator visibility, not persistence: counters reset on restart.
// The persistent record lives in the Store.
type Stats struct {
	mu       sync.Mutex
	channels map[string]*ChannelStats
}

func NewStats() *Stats {
	return &Stats{channels: map[string]*ChannelStats{}}
}

func (s *Stats) Record(channel string, outcome kit.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs := s.channels[channel]
	if cs == nil {
		cs = &ChannelStats{Channel: channel}
		s.channels[channel] = cs
	}
	switch outcome {
	case kit.OutcomeSent:
		cs.Sent++
	case kit.OutcomeNoAddress:
		cs.Skipped++
	default:
		cs.Failed++
	}
}

// Snapshot returns per-channel stats sorted by channel name.
func (s *Stats) Snapshot() []ChannelStats {
	s.mu.Lock()
	out := make([]ChannelStats, 0, len(s.channels))
	for _, cs := range s.channels {
		c := *cs
		if total := c.Sent + c.Failed; total > 0 {
			c.SuccessRate = float64(c.Sent) / float64(total)
		}
		out = append(out, c)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out
}
