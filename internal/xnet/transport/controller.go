package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/xnet-bridge/internal/xnet"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

const (
	// defaultReconnectInterval is the initial delay between reopen attempts.
	defaultReconnectInterval = 2 * time.Second

	// maxReconnectInterval caps the reopen backoff.
	maxReconnectInterval = time.Minute

	// defaultBusyDelay is the pause before resending after "command station busy".
	defaultBusyDelay = 50 * time.Millisecond

	// defaultWriteTimeout bounds one frame write.
	defaultWriteTimeout = 2 * time.Second

	// frameQueueSize buffers frames between the reader and the dispatcher.
	frameQueueSize = 64
)

// Listener receives inbound frames and reply timeouts.
type Listener interface {
	// OnReply is called for every valid inbound frame.
	OnReply(r xnet.Reply)

	// OnTimeout is called when a message sent with this listener got no
	// answer within its timeout.
	OnTimeout(m xnet.Message)
}

// Transport is the send side used by turnouts. Sends never block: they
// queue the message and return.
type Transport interface {
	Send(m xnet.Message, l Listener)
	SendHighPriority(m xnet.Message, l Listener)
	AddListener(l Listener)
	RemoveListener(l Listener)
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Metrics receives counters from the controller. Implementations must be
// safe for concurrent use.
type Metrics interface {
	FrameSent(priority string)
	FrameReceived(kind string)
	FrameDropped()
	ReplyTimeout()
}

type noopMetrics struct{}

func (noopMetrics) FrameSent(string)     {}
func (noopMetrics) FrameReceived(string) {}
func (noopMetrics) FrameDropped()        {}
func (noopMetrics) ReplyTimeout()        {}

// Stats holds operational statistics.
type Stats struct {
	FramesTx        uint64
	FramesRx        uint64
	FramesDropped   uint64 // invalid frames discarded
	Timeouts        uint64
	BusyRetries     uint64
	ErrorsTotal     uint64
	ReconnectsTotal uint64
	QueueLength     int
	LastActivity    time.Time
	Connected       bool
}

// Options configures a Controller.
type Options struct {
	// Link is the physical interface. Required.
	Link Link

	// Logger is optional.
	Logger Logger

	// Metrics is optional.
	Metrics Metrics

	// ReconnectInterval is the initial reopen backoff. Default: 2s.
	ReconnectInterval time.Duration

	// BusyDelay is the pause before resending a message the command
	// station rejected as busy. Default: 50ms.
	BusyDelay time.Duration
}

type pending struct {
	msg      xnet.Message
	listener Listener
	priority string
}

// Controller serialises access to the half-duplex bus.
//
// One message is on the wire at a time. After sending a message with a
// non-zero timeout the controller waits for its answer or the timeout before
// sending the next one. High priority messages jump the normal queue.
//
// Thread Safety:
//   - Send, SendHighPriority, AddListener and RemoveListener are safe for
//     concurrent use and never block on the bus.
//   - Listener callbacks run one at a time on the dispatch goroutine and may
//     send further messages.
type Controller struct {
	link    Link
	logger  Logger
	metrics Metrics

	reconnectInterval time.Duration
	busyDelay         time.Duration

	queueMu sync.Mutex
	high    []pending
	normal  []pending
	wake    chan struct{}

	listenerMu sync.RWMutex
	listeners  []Listener

	frames chan []byte

	// Owned by the dispatch goroutine.
	waiting *pending
	timer   *time.Timer

	ctx     context.Context
	cancel  context.CancelFunc
	done    *closeOnce
	closing sync.Once
	wg      sync.WaitGroup

	connected       atomic.Bool
	framesTx        atomic.Uint64
	framesRx        atomic.Uint64
	framesDropped   atomic.Uint64
	timeouts        atomic.Uint64
	busyRetries     atomic.Uint64
	errorsTotal     atomic.Uint64
	reconnectsTotal atomic.Uint64
	lastActivity    atomic.Int64 // Unix nanoseconds
}

// Ensure Controller implements Transport.
var _ Transport = (*Controller)(nil)

// Connect opens the link and starts the reader and dispatch goroutines.
//
// Parameters:
//   - ctx: Context for the initial open only
//   - opts: Link and optional collaborators
//
// Returns:
//   - *Controller: Running controller
//   - error: If the link cannot be opened
func Connect(ctx context.Context, opts Options) (*Controller, error) {
	if opts.Link == nil {
		return nil, fmt.Errorf("%w: link is required", ErrLinkConfig)
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = defaultReconnectInterval
	}
	if opts.BusyDelay <= 0 {
		opts.BusyDelay = defaultBusyDelay
	}
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}

	if err := opts.Link.Open(ctx); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		link:              opts.Link,
		logger:            opts.Logger,
		metrics:           opts.Metrics,
		reconnectInterval: opts.ReconnectInterval,
		busyDelay:         opts.BusyDelay,
		wake:              make(chan struct{}, 1),
		frames:            make(chan []byte, frameQueueSize),
		ctx:               runCtx,
		cancel:            cancel,
		done:              newCloseOnce(),
	}
	c.connected.Store(true)
	c.touch()

	c.wg.Add(2)
	go c.readLoop()
	go c.dispatchLoop()

	c.logInfo("xpressnet link open", "link", opts.Link.Name())
	return c, nil
}

// Send queues m at normal priority. l may be nil when no reply is wanted.
func (c *Controller) Send(m xnet.Message, l Listener) {
	c.enqueue(pending{msg: m, listener: l, priority: "normal"}, false)
}

// SendHighPriority queues m ahead of all normal priority messages.
func (c *Controller) SendHighPriority(m xnet.Message, l Listener) {
	c.enqueue(pending{msg: m, listener: l, priority: "high"}, false)
}

// AddListener registers l for every inbound frame. Adding twice is a no-op.
func (c *Controller) AddListener(l Listener) {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	for _, existing := range c.listeners {
		if existing == l {
			return
		}
	}
	c.listeners = append(c.listeners, l)
}

// RemoveListener unregisters l.
func (c *Controller) RemoveListener(l Listener) {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	for i, existing := range c.listeners {
		if existing == l {
			c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
			return
		}
	}
}

// IsConnected reports whether the link is currently open.
func (c *Controller) IsConnected() bool {
	return c.connected.Load()
}

// Stats returns a snapshot of the counters.
func (c *Controller) Stats() Stats {
	c.queueMu.Lock()
	queued := len(c.high) + len(c.normal)
	c.queueMu.Unlock()
	return Stats{
		FramesTx:        c.framesTx.Load(),
		FramesRx:        c.framesRx.Load(),
		FramesDropped:   c.framesDropped.Load(),
		Timeouts:        c.timeouts.Load(),
		BusyRetries:     c.busyRetries.Load(),
		ErrorsTotal:     c.errorsTotal.Load(),
		ReconnectsTotal: c.reconnectsTotal.Load(),
		QueueLength:     queued,
		LastActivity:    time.Unix(0, c.lastActivity.Load()),
		Connected:       c.connected.Load(),
	}
}

// Close stops the goroutines and closes the link. Queued messages are
// discarded. Safe to call multiple times.
func (c *Controller) Close() error {
	var err error
	c.closing.Do(func() {
		c.cancel()
		c.done.Close()
		err = c.link.Close()
		c.wg.Wait()
		c.connected.Store(false)
		c.logInfo("xpressnet link closed", "link", c.link.Name())
	})
	return err
}

func (c *Controller) enqueue(p pending, front bool) {
	if c.isClosed() {
		c.logDebug("message dropped after close", "frame", p.msg.String())
		return
	}
	c.queueMu.Lock()
	q := &c.normal
	if p.priority == "high" {
		q = &c.high
	}
	if front {
		*q = append([]pending{p}, *q...)
	} else {
		*q = append(*q, p)
	}
	c.queueMu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Controller) dequeue() (pending, bool) {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	if len(c.high) > 0 {
		p := c.high[0]
		c.high = c.high[1:]
		return p, true
	}
	if len(c.normal) > 0 {
		p := c.normal[0]
		c.normal = c.normal[1:]
		return p, true
	}
	return pending{}, false
}

// dispatchLoop sends queued messages and routes inbound frames.
func (c *Controller) dispatchLoop() {
	defer c.wg.Done()
	defer c.stopTimer()

	for {
		for c.waiting == nil {
			p, ok := c.dequeue()
			if !ok {
				break
			}
			c.transmit(p)
		}

		select {
		case <-c.done.Done():
			return
		case <-c.wake:
		case raw := <-c.frames:
			c.handleFrame(raw)
		case <-c.timerC():
			c.handleTimeout()
		}
	}
}

// transmit writes one message. A failed write is treated like a lost frame:
// the reply timeout still runs so retries stay paced.
func (c *Controller) transmit(p pending) {
	ctx, cancel := context.WithTimeout(c.ctx, defaultWriteTimeout)
	err := c.link.WriteFrame(ctx, p.msg.Bytes())
	cancel()

	if err != nil {
		c.errorsTotal.Add(1)
		c.logError("write failed", err, "frame", p.msg.String())
	} else {
		c.framesTx.Add(1)
		c.metrics.FrameSent(p.priority)
		c.touch()
		c.logDebug("frame sent", "frame", p.msg.String(), "priority", p.priority)
	}

	if p.msg.Timeout() > 0 {
		c.waiting = &p
		c.timer = time.NewTimer(p.msg.Timeout())
	}
}

func (c *Controller) timerC() <-chan time.Time {
	if c.timer == nil {
		return nil
	}
	return c.timer.C
}

func (c *Controller) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// answers reports whether r completes the outstanding message w.
func answers(w *pending, r xnet.Reply) bool {
	if r.IsUnsolicited() {
		return false
	}
	if r.IsFeedbackBroadcast() {
		return w.msg.IsFeedbackRequest()
	}
	return true
}

func (c *Controller) handleFrame(raw []byte) {
	r, err := xnet.ParseReply(raw)
	if err != nil {
		c.framesDropped.Add(1)
		c.metrics.FrameDropped()
		c.logDebug("invalid frame ignored", "error", err)
		return
	}
	c.framesRx.Add(1)
	c.metrics.FrameReceived(r.Kind())
	c.touch()

	var direct Listener
	if w := c.waiting; w != nil && answers(w, r) {
		c.stopTimer()
		c.waiting = nil

		if (r.IsCommandStationBusy() || r.IsCommError()) && w.msg.BusyRetries() > 0 {
			c.busyRetries.Add(1)
			c.logDebug("resending after busy reply", "frame", w.msg.String(), "reply", r.String())
			retry := pending{msg: w.msg.WithBusyRetries(w.msg.BusyRetries() - 1), listener: w.listener, priority: w.priority}
			time.AfterFunc(c.busyDelay, func() { c.enqueue(retry, true) })
			return
		}

		direct = w.listener
		if direct != nil {
			c.deliver(func() { direct.OnReply(r) })
		}
	}

	for _, l := range c.snapshotListeners() {
		if l == direct {
			continue
		}
		c.deliver(func() { l.OnReply(r) })
	}
}

func (c *Controller) handleTimeout() {
	w := c.waiting
	c.waiting = nil
	c.timer = nil
	if w == nil {
		return
	}
	c.timeouts.Add(1)
	c.metrics.ReplyTimeout()
	c.logDebug("reply timeout", "frame", w.msg.String())
	if w.listener != nil {
		c.deliver(func() { w.listener.OnTimeout(w.msg) })
	}
}

// deliver runs a listener callback, recovering panics so one faulty
// listener cannot stop the bus.
func (c *Controller) deliver(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.errorsTotal.Add(1)
			c.logError("listener panic", fmt.Errorf("%v", r))
		}
	}()
	fn()
}

func (c *Controller) snapshotListeners() []Listener {
	c.listenerMu.RLock()
	defer c.listenerMu.RUnlock()
	out := make([]Listener, len(c.listeners))
	copy(out, c.listeners)
	return out
}

// readLoop reads frames from the link. On link failure it reopens with
// exponential backoff until Close is called.
func (c *Controller) readLoop() {
	defer c.wg.Done()

	for {
		if c.isClosed() {
			return
		}
		raw, err := c.link.ReadFrame(c.ctx)
		if err != nil {
			if c.isClosed() || errors.Is(err, context.Canceled) {
				return
			}
			c.errorsTotal.Add(1)
			c.logError("read failed", err, "link", c.link.Name())
			if !c.reconnect() {
				return
			}
			continue
		}
		select {
		case c.frames <- raw:
		case <-c.done.Done():
			return
		}
	}
}

// reconnect reopens the link. Returns false if shutdown was signalled.
func (c *Controller) reconnect() bool {
	if c.connected.Swap(false) {
		c.logWarn("link lost, will attempt reconnection", "link", c.link.Name())
	}
	backoff := c.reconnectInterval
	for attempt := 1; ; attempt++ {
		_ = c.link.Close()
		select {
		case <-c.done.Done():
			return false
		case <-time.After(backoff):
		}
		c.logInfo("attempting reconnection", "attempt", attempt, "backoff", backoff.String())
		if err := c.link.Open(c.ctx); err != nil {
			if c.isClosed() {
				return false
			}
			c.errorsTotal.Add(1)
			c.logError("reconnect failed", err)
			backoff = time.Duration(float64(backoff) * 1.5) //nolint:mnd // backoff factor
			if backoff > maxReconnectInterval {
				backoff = maxReconnectInterval
			}
			continue
		}
		if c.isClosed() {
			_ = c.link.Close()
			return false
		}
		c.connected.Store(true)
		c.reconnectsTotal.Add(1)
		c.touch()
		c.logInfo("reconnection successful", "total_reconnects", c.reconnectsTotal.Load())
		return true
	}
}

func (c *Controller) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *Controller) isClosed() bool {
	select {
	case <-c.done.Done():
		return true
	default:
		return false
	}
}

func (c *Controller) logDebug(msg string, keysAndValues ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, keysAndValues...)
	}
}

func (c *Controller) logInfo(msg string, keysAndValues ...any) {
	if c.logger != nil {
		c.logger.Info(msg, keysAndValues...)
	}
}

func (c *Controller) logWarn(msg string, keysAndValues ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, keysAndValues...)
	}
}

func (c *Controller) logError(msg string, err error, keysAndValues ...any) {
	if c.logger != nil {
		c.logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}
