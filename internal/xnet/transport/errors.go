package transport

import "errors"

// Domain errors for the XpressNet transport.
var (
	// ErrNotConnected is returned when the link has no open port or socket.
	ErrNotConnected = errors.New("transport: link not connected")

	// ErrConnectionFailed is returned when the link cannot be opened.
	ErrConnectionFailed = errors.New("transport: connection failed")

	// ErrClosed is returned by operations on a closed controller.
	ErrClosed = errors.New("transport: closed")

	// ErrLinkConfig is returned for incomplete link settings.
	ErrLinkConfig = errors.New("transport: invalid link configuration")
)
