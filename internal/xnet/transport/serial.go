package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
)

// serialReadTimeout bounds each read so ReadFrame notices cancellation.
const serialReadTimeout = 200 * time.Millisecond

// SerialLink talks to an LI101 or LI-USB interface on a serial port (8N1).
type SerialLink struct {
	portName string
	baudRate int

	mu      sync.Mutex
	port    serial.Port
	writeMu sync.Mutex
}

// NewSerialLink returns an unopened serial link.
func NewSerialLink(portName string, baudRate int) *SerialLink {
	return &SerialLink{portName: portName, baudRate: baudRate}
}

// Name implements Link.
func (l *SerialLink) Name() string {
	return "serial:" + l.portName
}

// Open implements Link.
func (l *SerialLink) Open(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.port != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.portName == "" {
		return fmt.Errorf("%w: serial port is empty", ErrLinkConfig)
	}
	if l.baudRate <= 0 {
		return fmt.Errorf("%w: invalid baud rate %d", ErrLinkConfig, l.baudRate)
	}

	port, err := serial.Open(l.portName, &serial.Mode{
		BaudRate: l.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return fmt.Errorf("%w: open %q: %w", ErrConnectionFailed, l.portName, err)
	}
	if err := port.SetReadTimeout(serialReadTimeout); err != nil {
		_ = port.Close()
		return fmt.Errorf("%w: set read timeout: %w", ErrConnectionFailed, err)
	}
	l.port = port
	return nil
}

// Close implements Link.
func (l *SerialLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.port == nil {
		return nil
	}
	err := l.port.Close()
	l.port = nil
	return err
}

// ReadFrame implements Link.
func (l *SerialLink) ReadFrame(ctx context.Context) ([]byte, error) {
	port, err := l.current()
	if err != nil {
		return nil, err
	}
	return readFrame(ctx, port)
}

// WriteFrame implements Link.
func (l *SerialLink) WriteFrame(ctx context.Context, frame []byte) error {
	port, err := l.current()
	if err != nil {
		return err
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if err := writeFull(ctx, port, frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (l *SerialLink) current() (serial.Port, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.port == nil {
		return nil, ErrNotConnected
	}
	return l.port, nil
}
