package transport

import (
	"context"
	"fmt"
	"io"

	"github.com/nerrad567/xnet-bridge/internal/xnet"
)

// Link moves raw XpressNet frames to and from the computer interface.
//
// A Link can be reopened after Close; the controller does so when the
// interface disappears (USB unplugged, TCP adapter rebooted).
type Link interface {
	// Open connects the port or socket. Opening an open link is a no-op.
	Open(ctx context.Context) error

	// ReadFrame blocks until one complete frame has been read or ctx ends.
	ReadFrame(ctx context.Context) ([]byte, error)

	// WriteFrame writes one encoded frame.
	WriteFrame(ctx context.Context, frame []byte) error

	// Close releases the port or socket.
	Close() error

	// Name describes the link for logs, e.g. "serial:/dev/ttyUSB0".
	Name() string
}

// LI-USB and LI-ETH prefix every frame with 0xFF and a direction byte.
const interfacePrefix byte = 0xFF

// readFrame reads one frame using the header nibble to find its length.
// Interface prefixes are skipped.
func readFrame(ctx context.Context, r io.Reader) ([]byte, error) {
	head := make([]byte, 1)
	for {
		if err := readFull(ctx, r, head); err != nil {
			return nil, err
		}
		if head[0] != interfacePrefix {
			break
		}
		// Discard the direction byte (0xFD or 0xFE) and read the real header.
		if err := readFull(ctx, r, head); err != nil {
			return nil, err
		}
	}

	frame := make([]byte, xnet.FrameLength(head[0]))
	frame[0] = head[0]
	if err := readFull(ctx, r, frame[1:]); err != nil {
		return nil, fmt.Errorf("read frame body: %w", err)
	}
	return frame, nil
}

// readFull fills buf. Readers with a read timeout return (0, nil) when idle,
// so the loop also serves as the cancellation check.
func readFull(ctx context.Context, r io.Reader, buf []byte) error {
	read := 0
	for read < len(buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buf[read:])
		if err != nil {
			return err
		}
		read += n
	}
	return nil
}

func writeFull(ctx context.Context, w io.Writer, buf []byte) error {
	written := 0
	for written < len(buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := w.Write(buf[written:])
		if err != nil {
			return err
		}
		written += n
	}
	return nil
}
