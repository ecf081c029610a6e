package main

import (
	"context"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/fornellas/slogxt/log"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	"github.com/mrbeam/mrb3-octoPrint/settings"
	"github.com/mrbeam/mrb3-octoPrint/transport"
	"github.com/mrbeam/mrb3-octoPrint/virtual"
)

func readUntil(t *testing.T, port serial.Port, want string) string {
	t.Helper()
	var received strings.Builder
	buf := make([]byte, 256)
	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(received.String(), want) {
		require.True(t, time.Now().Before(deadline), "received %q, want %q", received.String(), want)
		n, err := port.Read(buf)
		require.NoError(t, err)
		received.Write(buf[:n])
	}
	return received.String()
}

func TestServeBridge(t *testing.T) {
	ctx := log.WithLogger(t.Context(), slog.New(slog.DiscardHandler))
	device := virtual.New(virtual.Config{})

	open, err := newSerialOpener(ctx, settings.NewDefault(), virtual.PortName, 0, device)
	require.NoError(t, err)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- serveBridge(serveCtx, listener, open) }()

	name := transport.PrefixTCP + listener.Addr().String()
	for range 2 {
		port, err := transport.Open(ctx, transport.DefaultFactories(nil), name, 115200, 50*time.Millisecond)
		require.NoError(t, err)

		readUntil(t, port, "Grbl 0.9g_20150509")
		_, err = port.Write([]byte("?"))
		require.NoError(t, err)
		readUntil(t, port, "<Idle,MPos:0.000,0.000,0.000")

		require.NoError(t, port.Close())
	}
	// Each connection opens the port anew.
	require.Eventually(t, func() bool { return device.Opens() >= 4 }, 5*time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serveBridge did not return")
	}
}

func TestNewSerialOpenerBaudrate(t *testing.T) {
	ctx := log.WithLogger(t.Context(), slog.New(slog.DiscardHandler))
	device := virtual.New(virtual.Config{})
	s := settings.NewDefault()
	s.Set(settings.SerialBaudrate, 57600)

	open, err := newSerialOpener(ctx, s, virtual.PortName, 0, device)
	require.NoError(t, err)
	port, err := open(ctx)
	require.NoError(t, err)
	require.NoError(t, port.Close())
	require.Equal(t, 57600, device.Baudrates()[len(device.Baudrates())-1])
}
