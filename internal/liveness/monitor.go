// Package liveness watches the participant's periodic pings and raises a
// timeout when they stop.
package liveness

import (
	"context"
	"sync"
	"time"
)

const (
	DefaultThreshold = 2 * time.Second
	DefaultInterval  = 100 * time.Millisecond
)

// Record is a point-in-time copy of the liveness state.
type Record struct {
	Last      time.Time
	Threshold time.Duration
	Seen      bool
}

// Stale reports whether the last ping is older than the threshold at now.
func (r Record) Stale(now time.Time) bool {
	return r.Seen && now.Sub(r.Last) > r.Threshold
}

// Monitor fires its timeout callback once per breach: after it fires it
// stays quiet until the next Record.
type Monitor struct {
	threshold time.Duration
	interval  time.Duration
	onTimeout func()

	mu    sync.Mutex
	last  time.Time
	seen  bool
	fired bool
}

func NewMonitor(threshold, interval time.Duration, onTimeout func()) *Monitor {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if interval <= 0 {
		interval = DefaultInterval
	}

	return &Monitor{
		threshold: threshold,
		interval:  interval,
		onTimeout: onTimeout,
	}
}

// Record stamps a ping and ends any breach episode.
func (m *Monitor) Record() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.last = time.Now()
	m.seen = true
	m.fired = false
}

// Reset forgets the last ping. The monitor idles until the next Record.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.last = time.Time{}
	m.seen = false
	m.fired = false
}

func (m *Monitor) Snapshot() Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Record{Last: m.last, Threshold: m.threshold, Seen: m.seen}
}

// Last returns the time of the most recent ping, zero if none.
func (m *Monitor) Last() time.Time {
	return m.Snapshot().Last
}

func (m *Monitor) Stale() bool {
	return m.Snapshot().Stale(time.Now())
}

// Run checks staleness every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.breached() && m.onTimeout != nil {
				m.onTimeout()
			}
		}
	}
}

// breached latches the episode so the caller fires at most once.
func (m *Monitor) breached() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.seen || m.fired {
		return false
	}

	if time.Since(m.last) <= m.threshold {
		return false
	}

	m.fired = true
	return true
}
