// Package transporttest provides an in-memory Transport for tests.
package transporttest

import (
	"sync"

	"github.com/nerrad567/xnet-bridge/internal/xnet"
	"github.com/nerrad567/xnet-bridge/internal/xnet/transport"
)

// Sent is one message handed to the Recorder.
type Sent struct {
	Message      xnet.Message
	Listener     transport.Listener
	HighPriority bool
}

// Recorder implements transport.Transport by remembering every send.
// Frames are injected with Broadcast, which behaves like the controller's
// delivery to registered listeners.
type Recorder struct {
	mu        sync.Mutex
	sent      []Sent
	listeners []transport.Listener
}

var _ transport.Transport = (*Recorder)(nil)

// New returns an empty Recorder.
func New() *Recorder {
	return &Recorder{}
}

// Send implements transport.Transport.
func (r *Recorder) Send(m xnet.Message, l transport.Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, Sent{Message: m, Listener: l})
}

// SendHighPriority implements transport.Transport.
func (r *Recorder) SendHighPriority(m xnet.Message, l transport.Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, Sent{Message: m, Listener: l, HighPriority: true})
}

// AddListener implements transport.Transport.
func (r *Recorder) AddListener(l transport.Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.listeners {
		if existing == l {
			return
		}
	}
	r.listeners = append(r.listeners, l)
}

// RemoveListener implements transport.Transport.
func (r *Recorder) RemoveListener(l transport.Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.listeners {
		if existing == l {
			r.listeners = append(r.listeners[:i], r.listeners[i+1:]...)
			return
		}
	}
}

// Listeners returns the registered listeners.
func (r *Recorder) Listeners() []transport.Listener {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]transport.Listener, len(r.listeners))
	copy(out, r.listeners)
	return out
}

// Broadcast delivers reply to every registered listener.
func (r *Recorder) Broadcast(reply xnet.Reply) {
	for _, l := range r.Listeners() {
		l.OnReply(reply)
	}
}

// Sent returns all messages sent so far.
func (r *Recorder) Sent() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Sent, len(r.sent))
	copy(out, r.sent)
	return out
}

// Last returns the most recent send.
func (r *Recorder) Last() (Sent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return Sent{}, false
	}
	return r.sent[len(r.sent)-1], true
}

// Reset forgets the recorded sends. Listeners stay registered.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}

// Count returns how many recorded sends satisfy match.
func (r *Recorder) Count(match func(Sent) bool) int {
	n := 0
	for _, s := range r.Sent() {
		if match(s) {
			n++
		}
	}
	return n
}

// IsOff matches accessory OFF messages.
func IsOff(s Sent) bool {
	return s.Message.IsAccessoryCommand() && !s.Message.Activates()
}

// IsDrive matches accessory drive messages.
func IsDrive(s Sent) bool {
	return s.Message.IsAccessoryCommand() && s.Message.Activates()
}

// IsFeedbackRequest matches feedback request messages.
func IsFeedbackRequest(s Sent) bool {
	return s.Message.IsFeedbackRequest()
}
