// Package progress accounts for long-running item processing: percentage,
// throughput and a naive linear ETA, logged at a bounded rate.
package progress

import (
	"fmt"
	"math"
	"sync"
	"time"

	"graphsync/internal/logging"
)

const DefaultStep = 5.0

type Snapshot struct {
	Total   int64         `json:"total"`
	Done    int64         `json:"done"`
	Initial int64         `json:"initial"`
	Percent float64       `json:"percent"`
	Rate    float64       `json:"rate"`
	ETA     time.Duration `json:"eta"`
	Elapsed time.Duration `json:"elapsed"`
	Started time.Time     `json:"started"`
}

type Tracker struct {
	mu     sync.Mutex
	logger logging.Logger
	name   string
	step   float64
	now    func() time.Time

	snap       Snapshot
	lastLogged float64
}

type Option func(*Tracker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// New returns a tracker that logs under name each time the percentage has
// advanced by at least step points.
func New(logger logging.Logger, name string, step float64, opts ...Option) *Tracker {
	if logger == nil {
		logger = logging.Nop()
	}
	if step <= 0 {
		step = DefaultStep
	}
	t := &Tracker{logger: logger, name: name, step: step, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start resets the tracker for total items, starting the clock now.
func (t *Tracker) Start(total int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if total < 0 {
		total = 0
	}
	t.snap = Snapshot{Total: total, Started: t.now()}
	t.lastLogged = 0
	t.logger.Info("progress started", "name", t.name, "total", total)
}

// SetInitialOffset counts items skipped by a resumed run as done without
// letting them inflate the throughput average.
func (t *Tracker) SetInitialOffset(label string, count int64) {
	if count <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Done += count
	t.snap.Initial += count
	t.recompute()
	t.lastLogged = t.snap.Percent
	t.logger.Info("progress resumed", "name", t.name, "label", label, "offset", count, "percent", round2(t.snap.Percent))
}

// Add records count more items done.
func (t *Tracker) Add(label string, count int64) {
	if count <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Done += count
	t.recompute()
	if t.snap.Percent-t.lastLogged < t.step {
		return
	}
	t.lastLogged = t.snap.Percent
	t.logger.Info(fmt.Sprintf("%s: %.2f%% (%d/%d items), %.1f items/s, ETA %s",
		label, t.snap.Percent, t.snap.Done, t.snap.Total, t.snap.Rate, t.snap.ETA.Round(time.Second)),
		"name", t.name)
}

// End logs the final summary.
func (t *Tracker) End() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recompute()
	t.logger.Info(fmt.Sprintf("Done: %d items in %s (%.1f items/s)",
		t.snap.Done, t.snap.Elapsed.Round(time.Millisecond), t.snap.Rate), "name", t.name)
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}

func (t *Tracker) recompute() {
	s := &t.snap
	s.Elapsed = t.now().Sub(s.Started)
	s.Rate = 0
	if secs := s.Elapsed.Seconds(); secs > 0 {
		s.Rate = float64(s.Done-s.Initial) / secs
	}
	s.Percent = 0
	if s.Total > 0 {
		s.Percent = math.Min(100, float64(s.Done)*100/float64(s.Total))
	}
	s.ETA = 0
	left := s.Total - s.Done
	if left > 0 && s.Rate > 0 {
		s.ETA = time.Duration(float64(left) / s.Rate * float64(time.Second))
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
