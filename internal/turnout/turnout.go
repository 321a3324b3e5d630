package turnout

import (
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/xnet-bridge/internal/xnet"
	"github.com/nerrad567/xnet-bridge/internal/xnet/transport"
)

// DefaultOffDelay is the pause between a drive command and its first OFF,
// giving the command station time to put the drive on the track.
const DefaultOffDelay = 30 * time.Millisecond

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Metrics receives protocol counters. Implementations must be safe for
// concurrent use and must not block.
type Metrics interface {
	OffRetry(address int)
	RetryExhausted(address int)
}

type noopMetrics struct{}

func (noopMetrics) OffRetry(int)       {}
func (noopMetrics) RetryExhausted(int) {}

// Options configures a Turnout.
type Options struct {
	// Address is the accessory decoder address, 1..xnet.MaxAddress. Required.
	Address int

	// Name is a display name.
	Name string

	// Mode selects the feedback policy. Default: Direct (the zero value).
	Mode FeedbackMode

	// Inverted swaps closed and thrown on the wire.
	Inverted bool

	// Transport sends frames and delivers replies. Required.
	Transport transport.Transport

	// ReplyTimeout is attached to every message that expects an answer.
	// Default: xnet.DefaultReplyTimeout.
	ReplyTimeout time.Duration

	// OffDelay is the wait before the first OFF. Default: DefaultOffDelay.
	OffDelay time.Duration

	// MaxOffRetries caps OFF retransmissions per command. 0 retries until
	// acknowledged.
	MaxOffRetries int

	// BusyRetries is the busy requeue budget given to every message.
	// Default: xnet.DefaultBusyRetries.
	BusyRetries int

	// InitialState seeds both commanded and known state, typically the last
	// persisted position. Default: Unknown.
	InitialState State

	// RequestUpdate sends a feedback request for the turnout's nibble on
	// creation.
	RequestUpdate bool

	Logger  Logger
	Metrics Metrics
	Clock   Clock
}

// Turnout drives one accessory decoder output pair on XpressNet.
//
// All state lives behind a single mutex. Inbound frames arrive on the
// transport's dispatch goroutine, commands on caller goroutines and the OFF
// timer on its own goroutine; each takes the lock for its whole transition.
type Turnout struct {
	mu sync.Mutex

	address  int
	name     string
	mode     FeedbackMode
	strategy strategy
	inverted bool

	commanded State
	known     State
	internal  InternalState
	disposed  bool

	offRetries int
	offTimer   Timer

	observers []subscription
	nextSubID uint64

	tr            transport.Transport
	replyTimeout  time.Duration
	offDelay      time.Duration
	maxOffRetries int
	busyRetries   int

	logger  Logger
	metrics Metrics
	clock   Clock
}

// Ensure Turnout is a transport listener.
var _ transport.Listener = (*Turnout)(nil)

// New creates a turnout and registers it for inbound frames.
//
// Returns:
//   - *Turnout: Idle turnout in opts.InitialState
//   - error: ErrInvalidAddress or ErrNoTransport
func New(opts Options) (*Turnout, error) {
	if err := xnet.CheckAddress(opts.Address); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAddress, err)
	}
	if opts.Transport == nil {
		return nil, ErrNoTransport
	}
	if opts.Mode < Direct || opts.Mode > Exact {
		return nil, fmt.Errorf("%w: %d", ErrInvalidFeedbackMode, opts.Mode)
	}
	if opts.ReplyTimeout <= 0 {
		opts.ReplyTimeout = xnet.DefaultReplyTimeout
	}
	if opts.OffDelay <= 0 {
		opts.OffDelay = DefaultOffDelay
	}
	if opts.BusyRetries <= 0 {
		opts.BusyRetries = xnet.DefaultBusyRetries
	}
	if opts.MaxOffRetries < 0 {
		opts.MaxOffRetries = 0
	}
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	initial := opts.InitialState
	if initial != Closed && initial != Thrown {
		initial = Unknown
	}

	t := &Turnout{
		address:       opts.Address,
		name:          opts.Name,
		mode:          opts.Mode,
		strategy:      strategyFor(opts.Mode),
		inverted:      opts.Inverted,
		commanded:     initial,
		known:         initial,
		internal:      Idle,
		tr:            opts.Transport,
		replyTimeout:  opts.ReplyTimeout,
		offDelay:      opts.OffDelay,
		maxOffRetries: opts.MaxOffRetries,
		busyRetries:   opts.BusyRetries,
		logger:        opts.Logger,
		metrics:       opts.Metrics,
		clock:         opts.Clock,
	}

	t.tr.AddListener(t)
	if opts.RequestUpdate {
		t.RequestUpdateFromLayout()
	}
	return t, nil
}

// SetCommandedState moves the turnout.
//
// The commanded state is recorded and the known state becomes Inconsistent
// before the drive command is queued, so observers see the request first.
//
// Returns:
//   - error: ErrInvalidState (an ErrInvalidArgument) unless s is Closed or
//     Thrown, ErrDisposed after Dispose
func (t *Turnout) SetCommandedState(s State) error {
	if s != Closed && s != Thrown {
		return fmt.Errorf("%w: %s", ErrInvalidState, s)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disposed {
		return ErrDisposed
	}

	t.logDebug("commanded", "state", s.String())
	t.offRetries = 0
	t.setCommandedLocked(s)
	t.setKnownLocked(Inconsistent)
	t.forwardLocked(s)
	return nil
}

// RequestUpdateFromLayout asks the command station for this turnout's
// feedback nibble. The answer arrives as a broadcast.
func (t *Turnout) RequestUpdateFromLayout() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disposed {
		return
	}
	t.tr.Send(t.message(xnet.NewFeedbackRequest(t.address)), nil)
}

// SetInverted swaps the wire meaning of closed and thrown.
func (t *Turnout) SetInverted(inverted bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inverted == inverted {
		return
	}
	t.inverted = inverted
	t.publishLocked(PropertyInverted, fmt.Sprint(!inverted), fmt.Sprint(inverted))
}

// SetFeedbackMode switches the feedback policy. An outstanding command
// finishes under the new policy.
func (t *Turnout) SetFeedbackMode(m FeedbackMode) error {
	if m < Direct || m > Exact {
		return fmt.Errorf("%w: %d", ErrInvalidFeedbackMode, m)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.mode == m {
		return nil
	}
	old := t.mode
	t.mode = m
	t.strategy = strategyFor(m)
	t.publishLocked(PropertyFeedbackMode, old.String(), m.String())
	return nil
}

// SetName changes the display name. Names are not observable properties.
func (t *Turnout) SetName(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.name = name
}

// Dispose unregisters the turnout from the transport and stops any pending
// OFF timer. Later frames, timeouts and timer callbacks are ignored.
func (t *Turnout) Dispose() {
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return
	}
	t.disposed = true
	if t.offTimer != nil {
		t.offTimer.Stop()
		t.offTimer = nil
	}
	t.observers = nil
	t.mu.Unlock()

	t.tr.RemoveListener(t)
}

// OnReply implements transport.Listener.
func (t *Turnout) OnReply(r xnet.Reply) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disposed {
		return
	}

	if t.internal == OffSent {
		if r.IsOK() {
			t.internal = Idle
			t.offRetries = 0
			t.setKnownLocked(t.commanded)
			return
		}
		t.logDebug("OFF not acknowledged, resending", "reply", r.String())
		t.sendOffLocked()
		return
	}

	t.strategy.handle(t, r)
}

// OnTimeout implements transport.Listener.
func (t *Turnout) OnTimeout(m xnet.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disposed {
		return
	}
	if t.internal == OffSent {
		t.logDebug("OFF timed out, resending", "frame", m.String())
		t.sendOffLocked()
	}
}

// outstandingLocked reports whether a command still needs its OFF.
func (t *Turnout) outstandingLocked() bool {
	return t.commanded != t.known || t.internal == CommandSent
}

// forwardLocked sends the drive command for s. Caller holds t.mu.
func (t *Turnout) forwardLocked(s State) {
	if s != Closed && s != Thrown {
		t.logWarn("state not forwarded to layout", "state", s.String())
		return
	}
	closed, thrown := t.wireBits(s)
	msg := t.message(xnet.NewTurnoutCommand(t.address, closed, thrown, true))

	if t.mode == Signal {
		t.tr.Send(msg.WithTimeout(0), nil)
		t.sendOffLocked()
		return
	}
	t.tr.Send(msg, t)
	t.internal = CommandSent
}

// sendOffLocked releases the output. The first call of a command cycle
// presumes success, moves to OffSent and schedules the OFF after the delay.
// Later calls are retransmissions. Caller holds t.mu.
func (t *Turnout) sendOffLocked() {
	if t.internal != OffSent {
		t.internal = OffSent
		t.setKnownLocked(t.commanded)
		t.scheduleOffLocked(t.offMessageLocked())
		return
	}
	t.resendOffLocked(true)
}

// resendOffLocked sends an OFF immediately at normal priority. Counted
// resends are subject to the retry cap. Caller holds t.mu.
func (t *Turnout) resendOffLocked(counted bool) {
	if counted {
		t.offRetries++
		t.metrics.OffRetry(t.address)
		if t.maxOffRetries > 0 && t.offRetries > t.maxOffRetries {
			t.logWarn("OFF not acknowledged, giving up",
				"retries", t.maxOffRetries, "commanded", t.commanded.String())
			t.metrics.RetryExhausted(t.address)
			t.offRetries = 0
			t.internal = Idle
			t.setKnownLocked(Inconsistent)
			return
		}
	}
	t.tr.Send(t.offMessageLocked(), t)
}

// scheduleOffLocked arms the one-shot OFF timer. The message is built now so
// the OFF releases the output that was driven. Caller holds t.mu.
func (t *Turnout) scheduleOffLocked(off xnet.Message) {
	t.offTimer = t.clock.AfterFunc(t.offDelay, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.offTimer = nil
		if t.disposed {
			return
		}
		t.tr.SendHighPriority(off, t)
	})
}

// offMessageLocked builds the OFF for the commanded state. Caller holds t.mu.
func (t *Turnout) offMessageLocked() xnet.Message {
	closed, thrown := t.wireBits(t.commanded)
	return t.message(xnet.NewTurnoutCommand(t.address, closed, thrown, false))
}

// requestFeedbackLocked polls the command station while a decoder with end
// switches is still moving. Caller holds t.mu.
func (t *Turnout) requestFeedbackLocked() {
	t.tr.Send(t.message(xnet.NewFeedbackRequest(t.address)), nil)
}

func (t *Turnout) message(m xnet.Message) xnet.Message {
	return m.WithTimeout(t.replyTimeout).WithBusyRetries(t.busyRetries)
}

// wireBits maps a logical state to the output bits, honouring inversion.
func (t *Turnout) wireBits(s State) (closed, thrown bool) {
	closed, thrown = s == Closed, s == Thrown
	if t.inverted {
		closed, thrown = thrown, closed
	}
	return closed, thrown
}

// fromWire maps a reported position to a logical state, honouring inversion.
func (t *Turnout) fromWire(r xnet.FeedbackResult) State {
	var s State
	switch r {
	case xnet.ReportsClosed:
		s = Closed
	case xnet.ReportsThrown:
		s = Thrown
	default:
		return Unknown
	}
	if t.inverted {
		if s == Closed {
			return Thrown
		}
		return Closed
	}
	return s
}

func (t *Turnout) logDebug(msg string, keysAndValues ...any) {
	if t.logger != nil {
		t.logger.Debug(msg, append([]any{"address", t.address}, keysAndValues...)...)
	}
}

func (t *Turnout) logWarn(msg string, keysAndValues ...any) {
	if t.logger != nil {
		t.logger.Warn(msg, append([]any{"address", t.address}, keysAndValues...)...)
	}
}

func (t *Turnout) logError(msg string, err error, keysAndValues ...any) {
	if t.logger != nil {
		t.logger.Error(msg, append([]any{"address", t.address, "error", err}, keysAndValues...)...)
	}
}
