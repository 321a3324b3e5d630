package turnout

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nerrad567/xnet-bridge/internal/xnet"
	"github.com/nerrad567/xnet-bridge/internal/xnet/transport/transporttest"
)

var okReply = xnet.NewReply(0x01, 0x04)

type fakeTimer struct {
	clock   *fakeClock
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// fakeClock holds timers until the test fires them.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, delay: d, fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Pending returns the number of armed timers.
func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// FireAll runs every armed timer and returns how many ran.
func (c *fakeClock) FireAll() int {
	c.mu.Lock()
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.fn()
	}
	return len(due)
}

// last returns the most recently armed timer, stopped or not.
func (c *fakeClock) last() *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.timers) == 0 {
		return nil
	}
	return c.timers[len(c.timers)-1]
}

type countingMetrics struct {
	offRetries atomic.Int64
	exhausted  atomic.Int64
}

func (m *countingMetrics) OffRetry(int)       { m.offRetries.Add(1) }
func (m *countingMetrics) RetryExhausted(int) { m.exhausted.Add(1) }

type changeLog struct {
	mu      sync.Mutex
	changes []Change
}

func (l *changeLog) TurnoutChanged(c Change) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.changes = append(l.changes, c)
}

func (l *changeLog) all() []Change {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Change, len(l.changes))
	copy(out, l.changes)
	return out
}

type fixture struct {
	turnout *Turnout
	tr      *transporttest.Recorder
	clock   *fakeClock
	metrics *countingMetrics
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		tr:      transporttest.New(),
		clock:   newFakeClock(),
		metrics: &countingMetrics{},
	}
	if opts.Address == 0 {
		opts.Address = 5
	}
	opts.Transport = f.tr
	opts.Clock = f.clock
	opts.Metrics = f.metrics

	tu, err := New(opts)
	require.NoError(t, err)
	f.turnout = tu
	t.Cleanup(tu.Dispose)
	return f
}

func (f *fixture) offs() int {
	return f.tr.Count(transporttest.IsOff)
}

func (f *fixture) drives() int {
	return f.tr.Count(transporttest.IsDrive)
}
