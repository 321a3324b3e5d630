package xnet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pairData builds a feedback data byte.
func pairData(typ FeedbackType, upper, incomplete bool, status byte) byte {
	d := byte(typ)<<5 | status&0x0F
	if upper {
		d |= 0x10
	}
	if incomplete {
		d |= 0x80
	}
	return d
}

func TestFeedbackNibble_Fields(t *testing.T) {
	n := FeedbackNibble{Address: 0x04, Data: pairData(TurnoutWithFeedback, true, true, 0x09)}

	assert.Equal(t, TurnoutWithFeedback, n.Type())
	assert.True(t, n.IsTurnout())
	assert.True(t, n.MotionIncomplete())
	assert.Equal(t, 19, n.FirstAddress())
	assert.True(t, n.Names(19))
	assert.True(t, n.Names(20))
	assert.False(t, n.Names(17))
	assert.False(t, n.Names(21))
	assert.Equal(t, ReportsClosed, n.Status(19))
	assert.Equal(t, ReportsThrown, n.Status(20))
}

func TestFeedbackNibble_ModuleNeverNamesTurnout(t *testing.T) {
	n := FeedbackNibble{Address: 0x01, Data: pairData(FeedbackModule, false, false, 0x01)}
	assert.False(t, n.IsTurnout())
	assert.False(t, n.Names(5))
}

func TestParseFeedback(t *testing.T) {
	// Pair 5/6 lives in group 1, lower nibble.
	tests := []struct {
		name    string
		reply   Reply
		address int
		want    FeedbackResult
	}{
		{"odd thrown", NewReply(0x42, 0x01, 0x02), 5, ReportsThrown},
		{"odd closed", NewReply(0x42, 0x01, 0x01), 5, ReportsClosed},
		{"odd both bits", NewReply(0x42, 0x01, 0x03), 5, Ambiguous},
		{"odd no bits", NewReply(0x42, 0x01, 0x00), 5, Ambiguous},
		{"even thrown", NewReply(0x42, 0x01, 0x08), 6, ReportsThrown},
		{"even closed", NewReply(0x42, 0x01, 0x04), 6, ReportsClosed},
		{"even ignores odd bits", NewReply(0x42, 0x01, 0x02), 6, Ambiguous},
		{"upper pair", NewReply(0x42, 0x01, 0x12), 7, ReportsThrown},
		{"upper pair not lower", NewReply(0x42, 0x01, 0x12), 5, NotForThisAddress},
		{"other group", NewReply(0x42, 0x02, 0x02), 5, NotForThisAddress},
		{"feedback module", NewReply(0x42, 0x01, 0x42), 5, NotForThisAddress},
		{"ok frame", NewReply(0x01, 0x04), 5, NotForThisAddress},
		{"second pair", NewReply(0x44, 0x00, 0x01, 0x01, 0x08), 6, ReportsThrown},
		{"first match wins", NewReply(0x44, 0x01, 0x01, 0x01, 0x02), 5, ReportsClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseFeedback(tt.reply, tt.address))
		})
	}
}

func TestMotionComplete(t *testing.T) {
	tests := []struct {
		name string
		data byte
		want bool
	}{
		{"with feedback complete", pairData(TurnoutWithFeedback, false, false, 0x02), true},
		{"with feedback moving", pairData(TurnoutWithFeedback, false, true, 0x02), false},
		{"without feedback", pairData(TurnoutWithoutFeedback, false, false, 0x02), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MotionComplete(NewReply(0x42, 0x01, tt.data), 5))
		})
	}

	assert.False(t, MotionComplete(NewReply(0x01, 0x04), 5))
}

// A broadcast built from the nibble placement of a command must name the
// commanded address and its pair partner and nothing else.
func TestCommandAndFeedbackAgreeOnAddress(t *testing.T) {
	for address := 1; address <= MaxAddress; address++ {
		cmd := NewTurnoutCommand(address, true, false, true)
		require.Equal(t, address, cmd.Address())

		upper := (cmd.Element(2) >> 1 & 0x03) >= 2
		require.Equal(t, UpperNibble(address), upper, "address %d", address)

		reply := NewReply(0x42, cmd.Element(1), pairData(TurnoutWithoutFeedback, upper, false, 0x05))
		require.True(t, NamesAddress(reply, address), "address %d", address)

		partner := address + 1
		if address%2 == 0 {
			partner = address - 1
		}
		assert.True(t, NamesAddress(reply, partner), "partner %d of %d", partner, address)

		for _, other := range []int{address - 2, address + 2, address - 4, address + 4} {
			if other == partner || other < 1 || other > MaxAddress {
				continue
			}
			if (other-1)/2 == (address-1)/2 {
				continue
			}
			assert.False(t, NamesAddress(reply, other), "address %d should not match frame for %d", other, address)
		}
	}
}

func TestCommandAndFeedbackRoundTrip18(t *testing.T) {
	cmd := NewTurnoutCommand(18, true, false, true)
	req := NewFeedbackRequest(18)

	// 18 pairs with 17 in group 4, lower nibble.
	assert.Equal(t, byte(0x04), cmd.Element(1))
	assert.Equal(t, 17, req.Address())

	reply := NewReply(0x42, cmd.Element(1), pairData(TurnoutWithoutFeedback, false, false, 0x04))
	assert.Equal(t, ReportsClosed, ParseFeedback(reply, 18))
	assert.Equal(t, NotForThisAddress, ParseFeedback(reply, 19))
}
