// Package state holds the durable agent state and its persistence.
package state

import (
	"time"

	"signal_trader/internal/core"
)

// maxFingerprints bounds the dedup ring; the oldest entries fall off first.
const maxFingerprints = 512

// GlobalState is the single mutable state of the agent. The engine is its
// only writer; everything else sees snapshots.
type GlobalState struct {
	LastSignalID     string                 `json:"last_signal_id"`
	OpenTrades       map[string]*core.Trade `json:"open_trades"`
	DailyCounts      map[string]int         `json:"daily_counts"`
	SeenFingerprints []string               `json:"seen_fingerprints"`
}

// New returns an empty, usable state.
func New() *GlobalState {
	return &GlobalState{
		OpenTrades:       make(map[string]*core.Trade),
		DailyCounts:      make(map[string]int),
		SeenFingerprints: []string{},
	}
}

// DayKey formats t as the UTC day bucket used for daily counters.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// DailyCount returns the number of trades admitted during t's UTC day.
func (s *GlobalState) DailyCount(t time.Time) int {
	return s.DailyCounts[DayKey(t)]
}

// IncrDaily bumps the counter for t's UTC day and returns the new value.
func (s *GlobalState) IncrDaily(t time.Time) int {
	key := DayKey(t)
	s.DailyCounts[key]++
	return s.DailyCounts[key]
}

// ActiveTrades counts trades still holding or awaiting a position.
func (s *GlobalState) ActiveTrades() int {
	n := 0
	for _, tr := range s.OpenTrades {
		if tr.Status == core.StatusPending || tr.Status == core.StatusOpen {
			n++
		}
	}
	return n
}

// HasFingerprint reports whether fp was seen recently.
func (s *GlobalState) HasFingerprint(fp string) bool {
	for _, f := range s.SeenFingerprints {
		if f == fp {
			return true
		}
	}
	return false
}

// RememberFingerprint records fp, evicting the oldest entry once the ring is
// full.
func (s *GlobalState) RememberFingerprint(fp string) {
	s.SeenFingerprints = append(s.SeenFingerprints, fp)
	if len(s.SeenFingerprints) > maxFingerprints {
		s.SeenFingerprints = s.SeenFingerprints[len(s.SeenFingerprints)-maxFingerprints:]
	}
}
