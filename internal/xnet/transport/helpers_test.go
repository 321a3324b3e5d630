package transport

import (
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

// startEchoServer accepts one connection and echoes everything back.
func startEchoServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = io.Copy(conn, conn)
	}()
	return ln.Addr().String()
}
