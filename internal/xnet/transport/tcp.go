package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

const (
	tcpDialTimeout  = 10 * time.Second
	tcpPollInterval = 200 * time.Millisecond
	tcpWriteTimeout = 2 * time.Second
)

// TCPLink talks to an XpressNet-over-TCP adapter (LI-ETH, XnTcp).
type TCPLink struct {
	address string

	mu      sync.Mutex
	conn    net.Conn
	writeMu sync.Mutex
}

// NewTCPLink returns an unopened TCP link to host:port.
func NewTCPLink(address string) *TCPLink {
	return &TCPLink{address: address}
}

// Name implements Link.
func (l *TCPLink) Name() string {
	return "tcp:" + l.address
}

// Open implements Link.
func (l *TCPLink) Open(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return nil
	}
	if l.address == "" {
		return fmt.Errorf("%w: tcp address is empty", ErrLinkConfig)
	}

	dialCtx, cancel := context.WithTimeout(ctx, tcpDialTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", l.address)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %w", ErrConnectionFailed, l.address, err)
	}
	l.conn = conn
	return nil
}

// Close implements Link.
func (l *TCPLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	err := l.conn.Close()
	l.conn = nil
	return err
}

// ReadFrame implements Link.
func (l *TCPLink) ReadFrame(ctx context.Context) ([]byte, error) {
	conn, err := l.current()
	if err != nil {
		return nil, err
	}
	return readFrame(ctx, pollingReader{conn: conn})
}

// WriteFrame implements Link.
func (l *TCPLink) WriteFrame(ctx context.Context, frame []byte) error {
	conn, err := l.current()
	if err != nil {
		return err
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	deadline := time.Now().Add(tcpWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := writeFull(ctx, conn, frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (l *TCPLink) current() (net.Conn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil, ErrNotConnected
	}
	return l.conn, nil
}

// pollingReader makes a socket behave like a serial port with a read
// timeout: an idle interval yields (0, nil) instead of blocking forever.
type pollingReader struct {
	conn net.Conn
}

func (p pollingReader) Read(b []byte) (int, error) {
	if err := p.conn.SetReadDeadline(time.Now().Add(tcpPollInterval)); err != nil {
		return 0, err
	}
	n, err := p.conn.Read(b)
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return n, nil
	}
	return n, err
}
