// Package transport finds, probes and opens the serial links to a controller.
package transport

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"slices"
	"sort"
	"time"

	"github.com/fornellas/slogxt/log"
	"go.bug.st/serial"

	"github.com/mrbeam/mrb3-octoPrint/settings"
	"github.com/mrbeam/mrb3-octoPrint/virtual"
)

// PortAuto asks for port autodetection.
const PortAuto = "AUTO"

var ErrAutodetectFailed = errors.New("failed to autodetect serial port, please set it manually")

// ConnectionError reports a failure to open a port.
type ConnectionError struct {
	Port     string
	Baudrate int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("transport: open %s at %d baud: %s", e.Port, e.Baudrate, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Baudrates are the standard rates, from the most to the least preferred.
var Baudrates = []int{250000, 230400, 115200, 57600, 38400, 19200, 9600}

var portGlobs = map[string][]string{
	"linux":   {"/dev/ttyUSB*", "/dev/ttyACM*", "/dev/rfcomm*"},
	"darwin":  {"/dev/tty.usb*", "/dev/cu.*"},
	"freebsd": {"/dev/cuaU*"},
}

var getPortsList = serial.GetPortsList

// ListPorts returns the candidate port names: platform globs, configured additional globs and
// ports the OS reports, then VIRTUAL when the virtual printer is enabled. The configured port, when
// present, comes first.
func ListPorts(ctx context.Context, s settings.Provider) []string {
	logger := log.MustLogger(ctx)

	var ports []string
	add := func(names ...string) {
		for _, name := range names {
			if !slices.Contains(ports, name) {
				ports = append(ports, name)
			}
		}
	}

	globs := append(slices.Clone(portGlobs[runtime.GOOS]), s.GetStringSlice(settings.SerialAdditionalPorts)...)
	for _, glob := range globs {
		matches, err := filepath.Glob(glob)
		if err != nil {
			logger.Warn("Bad port pattern", "pattern", glob, "err", err)
			continue
		}
		sort.Strings(matches)
		add(matches...)
	}

	if osPorts, err := getPortsList(); err != nil {
		logger.Debug("Failed to list OS ports", "err", err)
	} else {
		add(osPorts...)
	}

	if s.GetBool(settings.FeatureVirtualPrinter) {
		add(virtual.PortName)
	}

	return moveToFront(ports, s.GetString(settings.SerialPort))
}

// ListBauds returns the baud rates to try, with the configured one first.
func ListBauds(s settings.Provider) []int {
	return moveToFront(slices.Clone(Baudrates), s.GetInt(settings.SerialBaudrate))
}

func moveToFront[T comparable](list []T, preferred T) []T {
	i := slices.Index(list, preferred)
	if i <= 0 {
		return list
	}
	return append([]T{preferred}, slices.Delete(list, i, i+1)...)
}

// Mode returns the 8N1 mode for the baud rate.
func Mode(baudrate int) *serial.Mode {
	return &serial.Mode{
		BaudRate: baudrate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

// Factory opens ports. A factory returns a nil port and nil error for names it does not handle.
type Factory interface {
	Open(ctx context.Context, name string, baudrate int, readTimeout time.Duration) (serial.Port, error)
}

// FactoryFunc adapts a function to a Factory.
type FactoryFunc func(ctx context.Context, name string, baudrate int, readTimeout time.Duration) (serial.Port, error)

func (f FactoryFunc) Open(ctx context.Context, name string, baudrate int, readTimeout time.Duration) (serial.Port, error) {
	return f(ctx, name, baudrate, readTimeout)
}

// Open opens name with the first factory returning a port.
func Open(ctx context.Context, factories []Factory, name string, baudrate int, readTimeout time.Duration) (serial.Port, error) {
	ctx, logger := log.MustWithAttrs(ctx, "port", name, "baudrate", baudrate)
	for _, factory := range factories {
		port, err := factory.Open(ctx, name, baudrate, readTimeout)
		if err != nil {
			return nil, &ConnectionError{Port: name, Baudrate: baudrate, Err: err}
		}
		if port != nil {
			logger.Debug("Port open")
			return port, nil
		}
	}
	return nil, &ConnectionError{Port: name, Baudrate: baudrate, Err: errors.New("no transport for port")}
}

// Prober tells whether a controller answers on the named port.
type Prober interface {
	Probe(ctx context.Context, name string) error
}

// ProberFunc adapts a function to a Prober.
type ProberFunc func(ctx context.Context, name string) error

func (f ProberFunc) Probe(ctx context.Context, name string) error {
	return f(ctx, name)
}

// Detect probes every candidate port in order and returns the first one answering.
func Detect(ctx context.Context, candidates []string, prober Prober) (string, error) {
	logger := log.MustLogger(ctx)
	for _, name := range candidates {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		logger.Info("Probing port", "port", name)
		if err := prober.Probe(ctx, name); err != nil {
			logger.Debug("Probe failed", "port", name, "err", err)
			continue
		}
		logger.Info("Found controller", "port", name)
		return name, nil
	}
	return "", ErrAutodetectFailed
}
