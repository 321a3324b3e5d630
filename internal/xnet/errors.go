package xnet

import "errors"

// Domain errors for the XpressNet codec.
var (
	// ErrInvalidFrame is returned when a received frame is too short, its
	// length does not match the header, or its parity byte is wrong.
	ErrInvalidFrame = errors.New("xnet: invalid frame")

	// ErrInvalidAddress is returned for accessory addresses outside 1..MaxAddress.
	ErrInvalidAddress = errors.New("xnet: invalid accessory address")
)
