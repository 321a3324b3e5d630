package xnet

import "fmt"

// Reply is an inbound XpressNet frame whose length and parity have been
// checked by ParseReply.
type Reply struct {
	frame []byte
}

// FrameLength returns the total frame length announced by a header byte:
// header, data bytes and parity.
func FrameLength(header byte) int {
	return int(header&0x0F) + 2 //nolint:mnd // header + parity
}

// ParseReply validates raw bytes as a single XpressNet frame.
//
// Returns:
//   - Reply: the validated frame (bytes are copied)
//   - error: ErrInvalidFrame if the length or parity is wrong
func ParseReply(raw []byte) (Reply, error) {
	if len(raw) < 2 { //nolint:mnd // header + parity
		return Reply{}, fmt.Errorf("%w: too short (%d bytes)", ErrInvalidFrame, len(raw))
	}
	if want := FrameLength(raw[0]); len(raw) != want {
		return Reply{}, fmt.Errorf("%w: header %#02x announces %d bytes, got %d", ErrInvalidFrame, raw[0], want, len(raw))
	}
	last := len(raw) - 1
	if p := Parity(raw[:last]); p != raw[last] {
		return Reply{}, fmt.Errorf("%w: parity %#02x, want %#02x", ErrInvalidFrame, raw[last], p)
	}
	frame := make([]byte, len(raw))
	copy(frame, raw)
	return Reply{frame: frame}, nil
}

// MustParseReply is ParseReply for fixed literals in tests and tables.
func MustParseReply(raw ...byte) Reply {
	r, err := ParseReply(raw)
	if err != nil {
		panic(err)
	}
	return r
}

// NewReply builds a valid reply from header and data, computing parity.
func NewReply(data ...byte) Reply {
	return Reply{frame: newMessage(data...).frame}
}

// Header returns the first byte.
func (r Reply) Header() byte {
	if len(r.frame) == 0 {
		return 0
	}
	return r.frame[0]
}

// DataLength is the number of data bytes between header and parity.
func (r Reply) DataLength() int {
	return int(r.Header() & 0x0F)
}

// Element returns byte i where 0 is the header.
func (r Reply) Element(i int) byte {
	if i < 0 || i >= len(r.frame) {
		return 0
	}
	return r.frame[i]
}

// Bytes returns a copy of the frame.
func (r Reply) Bytes() []byte {
	out := make([]byte, len(r.frame))
	copy(out, r.frame)
	return out
}

func (r Reply) is(b ...byte) bool {
	if len(r.frame) < len(b) {
		return false
	}
	for i, v := range b {
		if r.frame[i] != v {
			return false
		}
	}
	return true
}

// IsOK reports the "command successfully received" acknowledgement (01 04 05).
func (r Reply) IsOK() bool {
	return r.is(0x01, 0x04)
}

// IsFeedbackBroadcast reports an accessory/feedback frame (header 0x4N) with
// at least one address/data pair.
func (r Reply) IsFeedbackBroadcast() bool {
	return r.Header()&0xF0 == 0x40 && r.DataLength() >= 2
}

// IsCommandStationBusy reports 61 81.
func (r Reply) IsCommandStationBusy() bool {
	return r.is(0x61, 0x81)
}

// IsUnsupported reports 61 82, an instruction the command station does not know.
func (r Reply) IsUnsupported() bool {
	return r.is(0x61, 0x82)
}

// IsTimeSlotError reports 01 05, the interface lost its time slot on the bus.
func (r Reply) IsTimeSlotError() bool {
	return r.is(0x01, 0x05)
}

// IsCommError reports the interface errors that mean the last message did
// not reach the command station and should be sent again.
func (r Reply) IsCommError() bool {
	if r.Header() != 0x01 {
		return false
	}
	switch r.Element(1) {
	case 0x01, 0x02, 0x03, 0x06, 0x07, 0x08:
		return true
	}
	return false
}

// IsTrackPowerOff reports the 61 00 broadcast.
func (r Reply) IsTrackPowerOff() bool {
	return r.is(0x61, 0x00)
}

// IsNormalOperationResumed reports the 61 01 broadcast.
func (r Reply) IsNormalOperationResumed() bool {
	return r.is(0x61, 0x01)
}

// IsEmergencyStop reports the 81 00 broadcast.
func (r Reply) IsEmergencyStop() bool {
	return r.is(0x81, 0x00)
}

// IsStatusResponse reports the 62 22 command station status answer.
func (r Reply) IsStatusResponse() bool {
	return r.is(0x62, 0x22)
}

// IsUnsolicited reports frames the command station sends on its own rather
// than in answer to the outstanding message.
func (r Reply) IsUnsolicited() bool {
	return r.IsTrackPowerOff() || r.IsNormalOperationResumed() || r.IsEmergencyStop() ||
		r.is(0x61, 0x02) // service mode entry
}

// Kind names the frame class for logs and metrics labels.
func (r Reply) Kind() string {
	switch {
	case r.IsOK():
		return "ok"
	case r.IsFeedbackBroadcast():
		return "feedback"
	case r.IsCommandStationBusy():
		return "busy"
	case r.IsUnsupported():
		return "unsupported"
	case r.IsCommError(), r.IsTimeSlotError():
		return "comm_error"
	case r.IsUnsolicited():
		return "broadcast"
	case r.IsStatusResponse():
		return "status"
	default:
		return "other"
	}
}

// String renders the frame as space-separated hex.
func (r Reply) String() string {
	return spacedHex(r.frame)
}
