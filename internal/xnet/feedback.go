package xnet

// FeedbackType is the device class encoded in bits 5-6 of a feedback data byte.
type FeedbackType byte

const (
	TurnoutWithoutFeedback FeedbackType = 0
	TurnoutWithFeedback    FeedbackType = 1
	FeedbackModule         FeedbackType = 2
)

// FeedbackResult is what a broadcast says about one turnout.
type FeedbackResult int

const (
	NotForThisAddress FeedbackResult = iota
	ReportsClosed
	ReportsThrown
	Ambiguous
)

func (r FeedbackResult) String() string {
	switch r {
	case ReportsClosed:
		return "closed"
	case ReportsThrown:
		return "thrown"
	case Ambiguous:
		return "ambiguous"
	default:
		return "not_for_this_address"
	}
}

// FeedbackNibble is one address/data pair of a feedback frame.
type FeedbackNibble struct {
	Address byte
	Data    byte
}

// Type returns the device class of the pair.
func (n FeedbackNibble) Type() FeedbackType {
	return FeedbackType(n.Data >> 5 & 0x03)
}

// IsTurnout reports whether the pair describes accessory decoders rather
// than a feedback module.
func (n FeedbackNibble) IsTurnout() bool {
	t := n.Type()
	return t == TurnoutWithoutFeedback || t == TurnoutWithFeedback
}

// MotionIncomplete reports the I bit: the decoder has not finished switching.
func (n FeedbackNibble) MotionIncomplete() bool {
	return n.Data&0x80 != 0
}

// FirstAddress is the odd turnout address of the pair.
func (n FeedbackNibble) FirstAddress() int {
	a := int(n.Address)*4 + 1
	if n.Data&0x10 != 0 {
		a += 2
	}
	return a
}

// Names reports whether the pair carries address. Odd addresses are the
// first of the pair, even ones the second.
func (n FeedbackNibble) Names(address int) bool {
	if !n.IsTurnout() || address < 1 {
		return false
	}
	if address%2 == 1 {
		return n.FirstAddress() == address
	}
	return n.FirstAddress() == address-1
}

// Status decodes the two state bits for address. The caller must have
// checked Names(address).
func (n FeedbackNibble) Status(address int) FeedbackResult {
	bits := n.Data & 0x03
	if address%2 == 0 {
		bits = n.Data >> 2 & 0x03
	}
	switch bits {
	case 0x01:
		return ReportsClosed
	case 0x02:
		return ReportsThrown
	default:
		return Ambiguous
	}
}

// Nibbles returns the address/data pairs of a feedback frame, or nil for
// any other frame.
func (r Reply) Nibbles() []FeedbackNibble {
	if !r.IsFeedbackBroadcast() {
		return nil
	}
	n := r.DataLength()
	out := make([]FeedbackNibble, 0, n/2)
	for i := 1; i+1 <= n; i += 2 {
		out = append(out, FeedbackNibble{Address: r.frame[i], Data: r.frame[i+1]})
	}
	return out
}

// FindNibble returns the first turnout pair of r that names address.
func FindNibble(r Reply, address int) (FeedbackNibble, bool) {
	for _, n := range r.Nibbles() {
		if n.Names(address) {
			return n, true
		}
	}
	return FeedbackNibble{}, false
}

// NamesAddress reports whether any pair of r concerns address.
func NamesAddress(r Reply, address int) bool {
	_, ok := FindNibble(r, address)
	return ok
}

// ParseFeedback reports the state r gives for address. Scanning stops at the
// first pair that names the address.
func ParseFeedback(r Reply, address int) FeedbackResult {
	n, ok := FindNibble(r, address)
	if !ok {
		return NotForThisAddress
	}
	return n.Status(address)
}

// MotionComplete reports whether the matching pair comes from a decoder with
// end switches and has finished moving. It is false when no pair matches or
// the decoder has no feedback.
func MotionComplete(r Reply, address int) bool {
	n, ok := FindNibble(r, address)
	if !ok || n.Type() != TurnoutWithFeedback {
		return false
	}
	return !n.MotionIncomplete()
}
