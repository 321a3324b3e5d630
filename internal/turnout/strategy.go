package turnout

import "github.com/nerrad567/xnet-bridge/internal/xnet"

// strategy interprets an inbound frame while the turnout is not waiting for
// an OFF acknowledgement. handle is called with t.mu held.
type strategy interface {
	handle(t *Turnout, r xnet.Reply)
}

func strategyFor(m FeedbackMode) strategy {
	switch m {
	case Monitoring:
		return monitoringStrategy{}
	case Exact:
		return exactStrategy{}
	default:
		// Signal never waits on the drive command, so the only frames it
		// sees outside OffSent are treated like Direct.
		return directStrategy{}
	}
}

// directStrategy confirms on any acknowledgement and ignores feedback
// content.
type directStrategy struct{}

func (directStrategy) handle(t *Turnout, r xnet.Reply) {
	if !t.outstandingLocked() {
		return
	}
	if !r.IsOK() && !xnet.NamesAddress(r, t.address) {
		return
	}
	t.logDebug("command acknowledged, releasing output")
	// Some command stations drop the first OFF; the second is not a retry.
	t.sendOffLocked()
	t.resendOffLocked(false)
}

// monitoringStrategy reads every broadcast, so positions changed on the
// layout are picked up even when no command is outstanding.
type monitoringStrategy struct{}

func (monitoringStrategy) handle(t *Turnout, r xnet.Reply) {
	if t.internal == Idle {
		for _, n := range r.Nibbles() {
			if n.Names(t.address) && t.applyNibbleLocked(n) {
				t.logDebug("position reported by layout", "known", t.known.String())
				return
			}
		}
		return
	}

	if !t.outstandingLocked() {
		return
	}
	switch {
	case r.IsFeedbackBroadcast():
		for _, n := range r.Nibbles() {
			if n.Names(t.address) && t.applyNibbleLocked(n) {
				t.sendOffLocked()
				return
			}
		}
	case r.IsOK():
		t.sendOffLocked()
	}
}

// exactStrategy is monitoringStrategy that also waits for decoders with end
// switches to finish moving before releasing the output.
type exactStrategy struct{}

func (exactStrategy) handle(t *Turnout, r xnet.Reply) {
	if t.commanded == t.known && t.internal == Idle {
		if n, ok := xnet.FindNibble(r, t.address); ok {
			t.applyNibbleLocked(n)
		}
		return
	}

	if !t.outstandingLocked() {
		return
	}
	switch {
	case r.IsFeedbackBroadcast():
		n, ok := xnet.FindNibble(r, t.address)
		if !ok {
			return
		}
		if n.Type() == xnet.TurnoutWithFeedback && n.MotionIncomplete() {
			t.logDebug("decoder still moving, polling")
			t.requestFeedbackLocked()
			return
		}
		t.applyNibbleLocked(n)
		t.sendOffLocked()
	case r.IsOK():
		t.sendOffLocked()
	}
}

// applyNibbleLocked takes a reported position as both commanded and known.
// An ambiguous report repeats the drive command if the turnout is unsettled.
// Returns whether a position was taken.
func (t *Turnout) applyNibbleLocked(n xnet.FeedbackNibble) bool {
	s := t.fromWire(n.Status(t.address))
	if s == Unknown {
		if t.commanded != t.known {
			t.logDebug("ambiguous feedback, repeating command", "commanded", t.commanded.String())
			t.forwardLocked(t.commanded)
		}
		return false
	}
	t.setCommandedLocked(s)
	t.setKnownLocked(s)
	return true
}
