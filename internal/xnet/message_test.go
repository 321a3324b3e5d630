package xnet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTurnoutCommand(t *testing.T) {
	tests := []struct {
		name     string
		address  int
		closed   bool
		thrown   bool
		activate bool
		want     []byte
	}{
		{"address 1 thrown on", 1, false, true, true, []byte{0x52, 0x00, 0x89, 0xDB}},
		{"address 1 closed on", 1, true, false, true, []byte{0x52, 0x00, 0x88, 0xDA}},
		{"address 18 closed on", 18, true, false, true, []byte{0x52, 0x04, 0x8A, 0xDC}},
		{"address 18 closed off", 18, true, false, false, []byte{0x52, 0x04, 0x82, 0xD4}},
		{"address 4 thrown off", 4, false, true, false, []byte{0x52, 0x00, 0x87, 0xD5}},
		{"address 1024 thrown on", 1024, false, true, true, []byte{0x52, 0xFF, 0x8F, 0x22}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := NewTurnoutCommand(tt.address, tt.closed, tt.thrown, tt.activate)
			assert.Equal(t, tt.want, msg.Bytes())
			assert.True(t, msg.IsAccessoryCommand())
			assert.Equal(t, tt.activate, msg.Activates())
			assert.Equal(t, tt.address, msg.Address())
		})
	}
}

func TestNewFeedbackRequest(t *testing.T) {
	tests := []struct {
		address int
		want    []byte
	}{
		{1, []byte{0x42, 0x00, 0x80, 0xC2}},
		{2, []byte{0x42, 0x00, 0x80, 0xC2}},
		{3, []byte{0x42, 0x00, 0x81, 0xC3}},
		{4, []byte{0x42, 0x00, 0x81, 0xC3}},
		{18, []byte{0x42, 0x04, 0x80, 0xC6}},
		{19, []byte{0x42, 0x04, 0x81, 0xC7}},
	}

	for _, tt := range tests {
		msg := NewFeedbackRequest(tt.address)
		assert.Equal(t, tt.want, msg.Bytes(), "address %d", tt.address)
		assert.True(t, msg.IsFeedbackRequest())
	}
}

func TestNewStatusRequest(t *testing.T) {
	assert.Equal(t, []byte{0x21, 0x24, 0x05}, NewStatusRequest().Bytes())
}

func TestMessage_Immutable(t *testing.T) {
	msg := NewTurnoutCommand(5, true, false, true)
	b := msg.Bytes()
	b[0] = 0xFF

	assert.Equal(t, HeaderAccessoryCommand, msg.Header())

	quick := msg.WithTimeout(0)
	assert.Equal(t, DefaultReplyTimeout, msg.Timeout())
	assert.Equal(t, time.Duration(0), quick.Timeout())
	assert.True(t, quick.Equal(msg))

	assert.Equal(t, 2, msg.WithBusyRetries(2).BusyRetries())
	assert.Equal(t, DefaultBusyRetries, msg.BusyRetries())
}

func TestMessage_String(t *testing.T) {
	assert.Equal(t, "52 04 8a dc", NewTurnoutCommand(18, true, false, true).String())
}

func TestCheckAddress(t *testing.T) {
	require.NoError(t, CheckAddress(1))
	require.NoError(t, CheckAddress(MaxAddress))
	assert.ErrorIs(t, CheckAddress(0), ErrInvalidAddress)
	assert.ErrorIs(t, CheckAddress(MaxAddress+1), ErrInvalidAddress)
}

func TestUpperNibble(t *testing.T) {
	want := map[int]bool{1: false, 2: false, 3: true, 4: true, 5: false, 7: true, 18: false, 20: true}
	for addr, upper := range want {
		assert.Equal(t, upper, UpperNibble(addr), "address %d", addr)
	}
}
