package xnet

import (
	"encoding/hex"
	"fmt"
	"time"
)

// MaxAddress is the highest accessory decoder address on XpressNet.
const MaxAddress = 1024

// Header bytes for the messages this package builds.
const (
	HeaderAccessoryCommand byte = 0x52
	HeaderFeedbackRequest  byte = 0x42
	HeaderStatusRequest    byte = 0x21
)

// DefaultReplyTimeout is the wait applied to messages that expect an answer.
const DefaultReplyTimeout = time.Second

// DefaultBusyRetries is how often a message is requeued when the command
// station reports it is busy.
const DefaultBusyRetries = 5

// Message is an outbound XpressNet frame.
//
// The zero value is not a valid message; use the New* constructors.
// Timeout zero means the sender does not wait for a reply.
type Message struct {
	frame   []byte
	timeout time.Duration
	retries int
}

// newMessage appends the parity byte to header+data.
func newMessage(data ...byte) Message {
	frame := make([]byte, len(data)+1)
	copy(frame, data)
	frame[len(data)] = Parity(data)
	return Message{
		frame:   frame,
		timeout: DefaultReplyTimeout,
		retries: DefaultBusyRetries,
	}
}

// Parity returns the XOR of all bytes, the XpressNet error detection byte.
func Parity(b []byte) byte {
	var x byte
	for _, v := range b {
		x ^= v
	}
	return x
}

// CheckAddress reports ErrInvalidAddress when address is outside 1..MaxAddress.
func CheckAddress(address int) error {
	if address < 1 || address > MaxAddress {
		return fmt.Errorf("%w: %d", ErrInvalidAddress, address)
	}
	return nil
}

// NewTurnoutCommand builds an accessory decoder operation request.
//
//	0x52  AAAAAAAA  1000DBBD  xor
//
// A is the group of four ((address-1)/4), BB the position inside the group,
// the first D is activate (1) or release (0), and the last D selects the
// output: 0 for closed, 1 for thrown.
//
// Parameters:
//   - address: accessory address, 1..MaxAddress
//   - closed, thrown: requested output; thrown wins if both are set
//   - activate: true drives the output, false is the OFF message
func NewTurnoutCommand(address int, closed, thrown, activate bool) Message {
	a := address - 1
	data := byte(0x80) | byte(a%4)<<1
	if activate {
		data |= 0x08
	}
	// Neither closed nor thrown falls back to output 0.
	if thrown {
		data |= 0x01
	}
	return newMessage(HeaderAccessoryCommand, byte(a/4), data)
}

// NewFeedbackRequest asks the command station for the nibble holding address.
//
//	0x42  AAAAAAAA  1000000N  xor
func NewFeedbackRequest(address int) Message {
	a := address - 1
	nibble := byte(0x80)
	if UpperNibble(address) {
		nibble = 0x81
	}
	return newMessage(HeaderFeedbackRequest, byte(a/4), nibble)
}

// NewStatusRequest asks for the command station status (0x21 0x24).
func NewStatusRequest() Message {
	return newMessage(HeaderStatusRequest, 0x24)
}

// UpperNibble reports whether address lives in the upper pair of its group.
func UpperNibble(address int) bool {
	return (address-1)%4 >= 2
}

// Bytes returns a copy of the encoded frame including parity.
func (m Message) Bytes() []byte {
	out := make([]byte, len(m.frame))
	copy(out, m.frame)
	return out
}

// Header returns the first byte of the frame.
func (m Message) Header() byte {
	if len(m.frame) == 0 {
		return 0
	}
	return m.frame[0]
}

// Element returns data byte i where 0 is the header.
func (m Message) Element(i int) byte {
	if i < 0 || i >= len(m.frame) {
		return 0
	}
	return m.frame[i]
}

// Timeout is how long the transport waits for a reply.
func (m Message) Timeout() time.Duration { return m.timeout }

// BusyRetries is the remaining requeue budget for busy replies.
func (m Message) BusyRetries() int { return m.retries }

// WithTimeout returns a copy of m with a different reply timeout.
func (m Message) WithTimeout(d time.Duration) Message {
	m.timeout = d
	return m
}

// WithBusyRetries returns a copy of m with a different busy retry budget.
func (m Message) WithBusyRetries(n int) Message {
	m.retries = n
	return m
}

// IsAccessoryCommand reports whether m is a turnout drive or OFF message.
func (m Message) IsAccessoryCommand() bool {
	return m.Header() == HeaderAccessoryCommand && len(m.frame) == 4
}

// IsFeedbackRequest reports whether m asks for a feedback nibble. The command
// station answers such a request with a feedback frame instead of an OK.
func (m Message) IsFeedbackRequest() bool {
	return m.Header() == HeaderFeedbackRequest
}

// Activates reports whether an accessory command drives its output.
func (m Message) Activates() bool {
	return m.IsAccessoryCommand() && m.frame[2]&0x08 != 0
}

// Address decodes the accessory address of a command or feedback request.
// It returns 0 for other messages. Feedback requests return the odd address
// of the requested pair.
func (m Message) Address() int {
	switch {
	case m.IsAccessoryCommand():
		return int(m.frame[1])*4 + int(m.frame[2]>>1&0x03) + 1
	case m.IsFeedbackRequest() && len(m.frame) == 4:
		base := int(m.frame[1])*4 + 1
		if m.frame[2]&0x01 != 0 {
			base += 2
		}
		return base
	default:
		return 0
	}
}

// Equal reports whether two messages encode the same bytes.
func (m Message) Equal(o Message) bool {
	if len(m.frame) != len(o.frame) {
		return false
	}
	for i := range m.frame {
		if m.frame[i] != o.frame[i] {
			return false
		}
	}
	return true
}

// String renders the frame as space-separated hex, e.g. "52 04 89 dd".
func (m Message) String() string {
	return spacedHex(m.frame)
}

func spacedHex(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	h := hex.EncodeToString(b)
	out := make([]byte, 0, len(h)+len(b)-1)
	for i := 0; i < len(h); i += 2 {
		if i > 0 {
			out = append(out, ' ')
		}
		out = append(out, h[i], h[i+1])
	}
	return string(out)
}
