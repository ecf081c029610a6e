package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/fornellas/slogxt/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mrbeam/mrb3-octoPrint/comm"
	"github.com/mrbeam/mrb3-octoPrint/events"
	"github.com/mrbeam/mrb3-octoPrint/hooks"
	"github.com/mrbeam/mrb3-octoPrint/metrics"
	"github.com/mrbeam/mrb3-octoPrint/settings"
	"github.com/mrbeam/mrb3-octoPrint/virtual"
)

var portName string
var defaultPortName = ""

var baudrate int
var defaultBaudrate = 0

var hookScripts []string
var defaultHookScripts = []string{}

var metricsAddress string
var defaultMetricsAddress = ""

var virtualLocked bool
var defaultVirtualLocked = false

// AddPortFlags adds the flags resolvePort uses.
func AddPortFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVarP(
		&portName, "port", "p", defaultPortName,
		"Port to connect to: a serial device, tcp://host:port, tarm:device, VIRTUAL or AUTO. Defaults to the "+settings.SerialPort+" setting.",
	)
	cmd.PersistentFlags().IntVarP(
		&baudrate, "baudrate", "b", defaultBaudrate,
		"Baudrate, 0 to detect it. Defaults to the "+settings.SerialBaudrate+" setting.",
	)
	cmd.PersistentFlags().BoolVar(
		&virtualLocked, "virtual-locked", defaultVirtualLocked,
		"The VIRTUAL port controller starts in alarm lock.",
	)
}

// resolvePort returns the port and baudrate flags, defaulting to the settings.
func resolvePort(s settings.Provider) (string, int) {
	port := portName
	if port == "" {
		port = s.GetString(settings.SerialPort)
	}
	baud := baudrate
	if baud == 0 {
		baud = s.GetInt(settings.SerialBaudrate)
	}
	return port, baud
}

// AddMachineFlags adds the flags newSession uses.
func AddMachineFlags(cmd *cobra.Command) {
	AddPortFlags(cmd)
	cmd.PersistentFlags().StringSliceVar(
		&hookScripts, "hook-script", defaultHookScripts,
		"Go script applied to every command sent, may be repeated.",
	)
	cmd.PersistentFlags().StringVar(
		&metricsAddress, "metrics-address", defaultMetricsAddress,
		"Serve Prometheus metrics on this address (host:port).",
	)
}

// Session is a machine with the collaborators it was built with.
type Session struct {
	Machine  *comm.Machine
	Bus      *events.Bus
	Settings *viper.Viper
	Device   *virtual.Device
	server   *http.Server
}

// newSession creates a machine from the settings and the machine flags.
func newSession(ctx context.Context) (*Session, error) {
	s, err := loadSettings()
	if err != nil {
		return nil, err
	}

	registry := hooks.NewRegistry()
	for _, path := range hookScripts {
		hook, err := hooks.LoadScript(ctx, path)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(path, hook); err != nil {
			return nil, err
		}
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	port, baud := resolvePort(s)

	session := &Session{
		Bus:      events.NewBus(),
		Settings: s,
		Device:   virtual.New(virtual.Config{Locked: virtualLocked}),
	}
	session.Machine, err = comm.New(comm.Options{
		Port:     port,
		Baudrate: baud,
		Settings: s,
		Events:   session.Bus,
		Hooks:    registry,
		Metrics:  metrics.New(promRegistry),
		Virtual:  session.Device,
	})
	if err != nil {
		session.Bus.Close()
		return nil, err
	}

	if metricsAddress != "" {
		if err := session.serveMetrics(ctx, promRegistry); err != nil {
			session.Bus.Close()
			return nil, err
		}
	}
	return session, nil
}

func (s *Session) serveMetrics(ctx context.Context, gatherer prometheus.Gatherer) error {
	logger := log.MustLogger(ctx)
	listener, err := net.Listen("tcp", metricsAddress)
	if err != nil {
		return fmt.Errorf("failed to listen: %s: %w", metricsAddress, err)
	}
	s.server = &http.Server{
		Handler:           metrics.NewHandler(gatherer),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Info("Serving metrics", "address", listener.Addr().String())
	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", "err", err)
		}
	}()
	return nil
}

// Close disconnects the machine and stops everything started with it.
func (s *Session) Close(ctx context.Context) error {
	err := s.Machine.Close(ctx)
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		err = errors.Join(err, s.server.Shutdown(shutdownCtx))
	}
	s.Bus.Close()
	return err
}

// waitEvent blocks until an event of one of types is received from ch.
func waitEvent(ctx context.Context, ch <-chan events.Event, types ...events.Type) (events.Event, error) {
	for {
		select {
		case <-ctx.Done():
			return events.Event{}, ctx.Err()
		case e, ok := <-ch:
			if !ok {
				return events.Event{}, errors.New("event bus closed")
			}
			for _, t := range types {
				if e.Type == t {
					return e, nil
				}
			}
		}
	}
}

func init() {
	resetFlagsFns = append(resetFlagsFns, func() {
		portName = defaultPortName
		baudrate = defaultBaudrate
		hookScripts = defaultHookScripts
		metricsAddress = defaultMetricsAddress
		virtualLocked = defaultVirtualLocked
	})
}
