package serialtcp

import (
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/fornellas/slogxt/log"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

func TestTcpPort(t *testing.T) {
	ctx := log.WithLogger(t.Context(), slog.New(slog.DiscardHandler))

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := listener.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	port, err := Dial(ctx, listener.Addr().String(), time.Second)
	require.NoError(t, err)
	defer port.Close()
	var _ serial.Port = port

	remote := <-accepted
	defer remote.Close()

	require.NoError(t, port.SetMode(&serial.Mode{BaudRate: 115200}))
	require.Equal(t, 115200, port.Mode().BaudRate)

	_, err = port.Write([]byte("?"))
	require.NoError(t, err)
	buf := make([]byte, 1)
	_, err = remote.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "?", string(buf))

	require.NoError(t, port.SetReadTimeout(10*time.Millisecond))
	n, err := port.Read(buf)
	require.NoError(t, err)
	require.Zero(t, n)

	_, err = remote.Write([]byte("ok\n"))
	require.NoError(t, err)
	require.NoError(t, port.SetReadTimeout(time.Second))
	data := make([]byte, 3)
	n, err = port.Read(data)
	require.NoError(t, err)
	require.Equal(t, "ok\n"[:n], string(data[:n]))

	require.ErrorIs(t, port.SetDTR(true), ErrNotSupported)
}
