package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/xnet-bridge/internal/xnet"
)

const waitFor = time.Second

// memLink is an in-memory Link. Frames pushed to in are read by the
// controller and frames the controller writes appear on out.
type memLink struct {
	in      chan []byte
	out     chan []byte
	readErr chan error
	opens   atomic.Int32
}

func newMemLink() *memLink {
	return &memLink{
		in:      make(chan []byte, 16),
		out:     make(chan []byte, 16),
		readErr: make(chan error, 1),
	}
}

func (l *memLink) Name() string { return "mem" }

func (l *memLink) Open(context.Context) error {
	l.opens.Add(1)
	return nil
}

func (l *memLink) Close() error { return nil }

func (l *memLink) ReadFrame(ctx context.Context) ([]byte, error) {
	select {
	case f := <-l.in:
		return f, nil
	case err := <-l.readErr:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *memLink) WriteFrame(_ context.Context, frame []byte) error {
	l.out <- append([]byte(nil), frame...)
	return nil
}

func (l *memLink) expectWrite(t *testing.T) []byte {
	t.Helper()
	select {
	case f := <-l.out:
		return f
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for a write")
		return nil
	}
}

func (l *memLink) expectNoWrite(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case f := <-l.out:
		t.Fatalf("unexpected write % x", f)
	case <-time.After(d):
	}
}

// recordingListener collects callbacks on channels.
type recordingListener struct {
	replies  chan xnet.Reply
	timeouts chan xnet.Message
}

func newRecordingListener() *recordingListener {
	return &recordingListener{
		replies:  make(chan xnet.Reply, 16),
		timeouts: make(chan xnet.Message, 16),
	}
}

func (r *recordingListener) OnReply(reply xnet.Reply) { r.replies <- reply }
func (r *recordingListener) OnTimeout(m xnet.Message) { r.timeouts <- m }

func (r *recordingListener) expectReply(t *testing.T) xnet.Reply {
	t.Helper()
	select {
	case reply := <-r.replies:
		return reply
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for a reply")
		return xnet.Reply{}
	}
}

func (r *recordingListener) expectNoReply(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case reply := <-r.replies:
		t.Fatalf("unexpected reply %s", reply)
	case <-time.After(d):
	}
}

func connect(t *testing.T, link Link) *Controller {
	t.Helper()
	c, err := Connect(context.Background(), Options{
		Link:              link,
		ReconnectInterval: 10 * time.Millisecond,
		BusyDelay:         5 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

var okFrame = []byte{0x01, 0x04, 0x05}

func TestConnect_RequiresLink(t *testing.T) {
	_, err := Connect(context.Background(), Options{})
	assert.ErrorIs(t, err, ErrLinkConfig)
}

func TestController_ReplyGoesToSenderOnce(t *testing.T) {
	link := newMemLink()
	c := connect(t, link)

	sender := newRecordingListener()
	other := newRecordingListener()
	c.AddListener(sender)
	c.AddListener(other)

	msg := xnet.NewTurnoutCommand(5, false, true, true)
	c.Send(msg, sender)
	assert.Equal(t, msg.Bytes(), link.expectWrite(t))

	link.in <- okFrame
	assert.True(t, sender.expectReply(t).IsOK())
	assert.True(t, other.expectReply(t).IsOK())
	sender.expectNoReply(t, 30*time.Millisecond)
}

func TestController_HalfDuplex(t *testing.T) {
	link := newMemLink()
	c := connect(t, link)
	l := newRecordingListener()

	first := xnet.NewTurnoutCommand(1, true, false, true)
	second := xnet.NewTurnoutCommand(2, true, false, true)
	c.Send(first, l)
	c.Send(second, l)

	assert.Equal(t, first.Bytes(), link.expectWrite(t))
	link.expectNoWrite(t, 50*time.Millisecond)

	link.in <- okFrame
	l.expectReply(t)
	assert.Equal(t, second.Bytes(), link.expectWrite(t))
}

func TestController_ZeroTimeoutDoesNotWait(t *testing.T) {
	link := newMemLink()
	c := connect(t, link)

	drive := xnet.NewTurnoutCommand(3, false, true, true).WithTimeout(0)
	off := xnet.NewTurnoutCommand(3, false, true, false)
	c.Send(drive, nil)
	c.Send(off, nil)

	assert.Equal(t, drive.Bytes(), link.expectWrite(t))
	assert.Equal(t, off.Bytes(), link.expectWrite(t))
}

func TestController_HighPriorityJumpsQueue(t *testing.T) {
	link := newMemLink()
	c := connect(t, link)
	l := newRecordingListener()

	blocking := xnet.NewTurnoutCommand(1, true, false, true)
	normal := xnet.NewTurnoutCommand(2, true, false, true)
	urgent := xnet.NewTurnoutCommand(3, true, false, false)

	c.Send(blocking, l)
	link.expectWrite(t)
	c.Send(normal, l)
	c.SendHighPriority(urgent, l)

	link.in <- okFrame
	assert.Equal(t, urgent.Bytes(), link.expectWrite(t))
}

func TestController_Timeout(t *testing.T) {
	link := newMemLink()
	c := connect(t, link)
	l := newRecordingListener()

	msg := xnet.NewTurnoutCommand(7, true, false, false).WithTimeout(20 * time.Millisecond)
	c.Send(msg, l)
	link.expectWrite(t)

	select {
	case got := <-l.timeouts:
		assert.True(t, got.Equal(msg))
	case <-time.After(waitFor):
		t.Fatal("expected OnTimeout")
	}
	assert.Equal(t, uint64(1), c.Stats().Timeouts)
}

func TestController_BusyResends(t *testing.T) {
	link := newMemLink()
	c := connect(t, link)
	l := newRecordingListener()

	msg := xnet.NewTurnoutCommand(9, false, true, true)
	c.Send(msg, l)
	link.expectWrite(t)

	link.in <- xnet.NewReply(0x61, 0x81).Bytes()
	assert.Equal(t, msg.Bytes(), link.expectWrite(t), "busy message should be resent")
	l.expectNoReply(t, 20*time.Millisecond)

	link.in <- okFrame
	assert.True(t, l.expectReply(t).IsOK())
	assert.Equal(t, uint64(1), c.Stats().BusyRetries)
}

func TestController_BusyBudgetExhausted(t *testing.T) {
	link := newMemLink()
	c := connect(t, link)
	l := newRecordingListener()

	c.Send(xnet.NewTurnoutCommand(9, false, true, true).WithBusyRetries(0), l)
	link.expectWrite(t)

	link.in <- xnet.NewReply(0x61, 0x81).Bytes()
	assert.True(t, l.expectReply(t).IsCommandStationBusy())
}

func TestController_FeedbackDoesNotAnswerCommand(t *testing.T) {
	link := newMemLink()
	c := connect(t, link)
	sender := newRecordingListener()

	c.Send(xnet.NewTurnoutCommand(5, false, true, true), sender)
	link.expectWrite(t)
	next := xnet.NewTurnoutCommand(6, false, true, true)
	c.Send(next, sender)

	// Broadcast for another pair arrives while waiting: delivered nowhere
	// because sender is not a broadcast listener, and the wait continues.
	link.in <- xnet.NewReply(0x42, 0x07, 0x01).Bytes()
	link.expectNoWrite(t, 50*time.Millisecond)

	link.in <- okFrame
	sender.expectReply(t)
	assert.Equal(t, next.Bytes(), link.expectWrite(t))
}

func TestController_FeedbackAnswersFeedbackRequest(t *testing.T) {
	link := newMemLink()
	c := connect(t, link)
	sender := newRecordingListener()

	c.Send(xnet.NewFeedbackRequest(5), sender)
	link.expectWrite(t)

	link.in <- xnet.NewReply(0x42, 0x01, 0x02).Bytes()
	assert.Equal(t, xnet.ReportsThrown, xnet.ParseFeedback(sender.expectReply(t), 5))
}

func TestController_InvalidFrameDropped(t *testing.T) {
	link := newMemLink()
	c := connect(t, link)
	l := newRecordingListener()
	c.AddListener(l)

	link.in <- []byte{0x01, 0x04, 0x00}
	link.in <- okFrame

	assert.True(t, l.expectReply(t).IsOK())
	assert.Equal(t, uint64(1), c.Stats().FramesDropped)
}

type panickingListener struct{}

func (panickingListener) OnReply(xnet.Reply)     { panic("boom") }
func (panickingListener) OnTimeout(xnet.Message) {}

func TestController_ListenerPanicRecovered(t *testing.T) {
	link := newMemLink()
	c := connect(t, link)
	l := newRecordingListener()
	c.AddListener(panickingListener{})
	c.AddListener(l)

	link.in <- okFrame
	l.expectReply(t)
	assert.GreaterOrEqual(t, c.Stats().ErrorsTotal, uint64(1))
}

func TestController_RemoveListener(t *testing.T) {
	link := newMemLink()
	c := connect(t, link)
	l := newRecordingListener()
	c.AddListener(l)
	c.AddListener(l)
	c.RemoveListener(l)

	link.in <- okFrame
	l.expectNoReply(t, 50*time.Millisecond)
}

func TestController_Reconnects(t *testing.T) {
	link := newMemLink()
	c := connect(t, link)
	l := newRecordingListener()
	c.AddListener(l)

	link.readErr <- errors.New("device unplugged")

	require.Eventually(t, func() bool {
		return c.Stats().ReconnectsTotal == 1 && c.IsConnected()
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, int32(2), link.opens.Load())

	link.in <- okFrame
	l.expectReply(t)
}

func TestController_CloseIdempotent(t *testing.T) {
	link := newMemLink()
	c := connect(t, link)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.False(t, c.IsConnected())

	// Sends after close are dropped without blocking.
	c.Send(xnet.NewStatusRequest(), nil)
	link.expectNoWrite(t, 20*time.Millisecond)
}

func TestController_ConcurrentSends(t *testing.T) {
	link := newMemLink()
	c := connect(t, link)

	var wg sync.WaitGroup
	for i := 1; i <= 8; i++ {
		wg.Add(1)
		go func(addr int) {
			defer wg.Done()
			c.Send(xnet.NewTurnoutCommand(addr, true, false, false).WithTimeout(0), nil)
		}(i)
	}
	wg.Wait()

	seen := map[int]bool{}
	for n := 0; n < 8; n++ {
		f := link.expectWrite(t)
		r, err := xnet.ParseReply(f)
		require.NoError(t, err)
		seen[int(r.Element(1))*4+int(r.Element(2)>>1&0x03)+1] = true
	}
	assert.Len(t, seen, 8)
}
