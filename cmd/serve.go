package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/fornellas/slogxt/log"
	"github.com/spf13/cobra"
	"go.bug.st/serial"

	"github.com/mrbeam/mrb3-octoPrint/settings"
	"github.com/mrbeam/mrb3-octoPrint/transport"
	"github.com/mrbeam/mrb3-octoPrint/virtual"
)

var listenAddress string
var defaultListenAddress = "127.0.0.1:9999"

// serialOpener opens the port a bridged connection is piped to.
type serialOpener func(ctx context.Context) (serial.Port, error)

// newSerialOpener resolves port once: AUTO is detected here, and a baudrate of 0 picks the preferred
// one. Every connection then opens the same port through the default factories, VIRTUAL included.
func newSerialOpener(
	ctx context.Context, s settings.Provider, port string, baud int, device *virtual.Device,
) (serialOpener, error) {
	factories := transport.DefaultFactories(device)
	if baud == 0 {
		baud = transport.ListBauds(s)[0]
	}
	if port == "" || port == transport.PortAuto {
		prober := &transport.Stk500v2Prober{
			Factories: factories,
			Baudrate:  baud,
			Timeout:   s.GetDuration(settings.SerialTimeoutConnection),
		}
		found, err := transport.Detect(ctx, transport.ListPorts(ctx, s), prober)
		if err != nil {
			return nil, err
		}
		port = found
	}
	log.MustLogger(ctx).Info("Bridging", "port", port, "baudrate", baud)
	return func(ctx context.Context) (serial.Port, error) {
		return transport.Open(ctx, factories, port, baud, serial.NoTimeout)
	}, nil
}

// bridge pipes conn to a freshly opened port until either side closes or ctx is done.
func bridge(ctx context.Context, conn net.Conn, open serialOpener) error {
	logger := log.MustLogger(ctx)

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.SetNoDelay(true); err != nil {
			return errors.Join(fmt.Errorf("failed to set TCP no delay: %w", err), conn.Close())
		}
	}

	port, err := open(ctx)
	if err != nil {
		return errors.Join(err, conn.Close())
	}

	var closeOnce sync.Once
	var closeErr error
	closeBoth := func() {
		closeOnce.Do(func() {
			logger.Debug("Closing")
			closeErr = errors.Join(conn.Close(), port.Close())
		})
	}
	stop := context.AfterFunc(ctx, closeBoth)
	defer stop()

	errCh := make(chan error, 2)
	go func() {
		_, err := io.Copy(conn, port)
		errCh <- err
	}()
	go func() {
		_, err := io.Copy(port, conn)
		errCh <- err
	}()

	err = <-errCh
	closeBoth()
	// The other copy fails on the closed side.
	<-errCh
	if ctx.Err() != nil {
		return nil
	}
	return errors.Join(err, closeErr)
}

// serveBridge bridges the connections accepted on listener, one at a time, until ctx is done.
func serveBridge(ctx context.Context, listener net.Listener, open serialOpener) error {
	logger := log.MustLogger(ctx)
	stop := context.AfterFunc(ctx, func() {
		if err := listener.Close(); err != nil {
			logger.Debug("Closing listener failed", "err", err)
		}
	})
	defer stop()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			logger.Error("Failed to accept connection", "err", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}
		connCtx, connLogger := log.MustWithGroupAttrs(ctx, "Connection", "remote", conn.RemoteAddr().String())
		connLogger.Info("Accepted")
		if err := bridge(connCtx, conn, open); err != nil {
			connLogger.Error("Bridge failed", "err", err)
			continue
		}
		connLogger.Info("Closed")
	}
}

var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Share a controller port over TCP.",
	Long: "Opens the port for every TCP connection and pipes both ways. Any --port works, " +
		"VIRTUAL and AUTO included. Other commands connect with --port tcp://host:port. " +
		"There is no authentication: use it only on trusted networks.",
	Args: cobra.NoArgs,
	Run: GetRunFn(func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings()
		if err != nil {
			return err
		}
		port, baud := resolvePort(s)
		ctx, logger := log.MustWithAttrs(cmd.Context(), "listen-address", listenAddress)

		open, err := newSerialOpener(ctx, s, port, baud, virtual.New(virtual.Config{Locked: virtualLocked}))
		if err != nil {
			return err
		}

		listener, err := net.Listen("tcp", listenAddress)
		if err != nil {
			return fmt.Errorf("failed to listen: %s: %w", listenAddress, err)
		}
		logger.Info("Listening")
		return serveBridge(ctx, listener, open)
	}),
}

func init() {
	AddPortFlags(ServeCmd)
	ServeCmd.PersistentFlags().StringVar(&listenAddress, "listen-address", defaultListenAddress, "TCP address to listen on (host:port)")

	RootCmd.AddCommand(ServeCmd)

	resetFlagsFns = append(resetFlagsFns, func() {
		listenAddress = defaultListenAddress
	})
}
