package progress

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphsync/internal/logging"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestTracker(step float64) (*Tracker, *fakeClock, *logging.Recorder) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	rec := logging.NewRecorder()
	return New(rec, "test", step, WithClock(clock.now)), clock, rec
}

func TestAddComputesRateAndETA(t *testing.T) {
	tracker, clock, _ := newTestTracker(5)
	tracker.Start(100)

	clock.advance(10 * time.Second)
	tracker.Add("nodes", 20)

	snap := tracker.Snapshot()
	assert.Equal(t, int64(20), snap.Done)
	assert.InDelta(t, 20.0, snap.Percent, 0.001)
	assert.InDelta(t, 2.0, snap.Rate, 0.001)
	assert.Equal(t, 40*time.Second, snap.ETA)
}

func TestInitialOffsetExcludedFromRate(t *testing.T) {
	tracker, clock, _ := newTestTracker(5)
	tracker.Start(100)
	tracker.SetInitialOffset("nodes", 50)

	clock.advance(5 * time.Second)
	tracker.Add("nodes", 10)

	snap := tracker.Snapshot()
	assert.Equal(t, int64(60), snap.Done)
	assert.Equal(t, int64(50), snap.Initial)
	assert.InDelta(t, 2.0, snap.Rate, 0.001)
	assert.Equal(t, 20*time.Second, snap.ETA)
}

func TestLogVolumeBoundedByStep(t *testing.T) {
	tracker, clock, rec := newTestTracker(25)
	tracker.Start(100)

	for i := 0; i < 100; i++ {
		clock.advance(time.Millisecond)
		tracker.Add("nodes", 1)
	}

	lines := 0
	for _, msg := range rec.Messages() {
		if strings.HasPrefix(msg, "nodes:") {
			lines++
		}
	}
	assert.Equal(t, 4, lines)
}

func TestPercentCappedWhenApproxCountTooLow(t *testing.T) {
	tracker, _, _ := newTestTracker(5)
	tracker.Start(3)
	tracker.Add("nodes", 5)

	snap := tracker.Snapshot()
	assert.Equal(t, 100.0, snap.Percent)
	assert.Equal(t, time.Duration(0), snap.ETA)
}

func TestUnknownTotal(t *testing.T) {
	tracker, clock, _ := newTestTracker(5)
	tracker.Start(0)
	clock.advance(time.Second)
	tracker.Add("nodes", 7)

	snap := tracker.Snapshot()
	assert.Equal(t, 0.0, snap.Percent)
	assert.Equal(t, int64(7), snap.Done)
}

func TestEndLogsSummary(t *testing.T) {
	tracker, clock, rec := newTestTracker(5)
	tracker.Start(5)
	clock.advance(time.Second)
	tracker.Add("nodes", 5)
	tracker.End()

	require.True(t, rec.Contains("Done: 5 items"))
	assert.Equal(t, 100.0, tracker.Snapshot().Percent)
}

func TestStartResets(t *testing.T) {
	tracker, _, _ := newTestTracker(5)
	tracker.Start(10)
	tracker.Add("nodes", 4)
	tracker.Start(10)

	assert.Equal(t, int64(0), tracker.Snapshot().Done)
}
