package transport

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/fornellas/slogxt/log"
	"go.bug.st/serial"

	"github.com/mrbeam/mrb3-octoPrint/serialtcp"
	"github.com/mrbeam/mrb3-octoPrint/transport/stk500v2"
	"github.com/mrbeam/mrb3-octoPrint/virtual"
)

// Port name prefixes selecting a non default factory.
const (
	PrefixTCP  = "tcp://"
	PrefixTarm = "tarm:"
)

// openWithParityQuirk opens with odd parity, closes, then reopens with no parity: the controller
// serial initialization does not come up reliably otherwise.
func openWithParityQuirk(ctx context.Context, open func(*serial.Mode) (serial.Port, error), baudrate int) (serial.Port, error) {
	logger := log.MustLogger(ctx)
	mode := Mode(baudrate)
	mode.Parity = serial.OddParity
	port, err := open(mode)
	if err != nil {
		return nil, err
	}
	if err := port.Close(); err != nil {
		logger.Debug("Closing odd parity port failed", "err", err)
	}
	mode.Parity = serial.NoParity
	return open(mode)
}

func setReadTimeout(port serial.Port, readTimeout time.Duration) (serial.Port, error) {
	if err := port.SetReadTimeout(readTimeout); err != nil {
		return nil, errors.Join(err, port.Close())
	}
	return port, nil
}

// SerialFactory opens OS serial ports.
var SerialFactory = FactoryFunc(func(ctx context.Context, name string, baudrate int, readTimeout time.Duration) (serial.Port, error) {
	if name == virtual.PortName || strings.HasPrefix(name, PrefixTCP) || strings.HasPrefix(name, PrefixTarm) {
		return nil, nil
	}
	port, err := openWithParityQuirk(ctx, func(mode *serial.Mode) (serial.Port, error) {
		return serial.Open(name, mode)
	}, baudrate)
	if err != nil {
		return nil, err
	}
	return setReadTimeout(port, readTimeout)
})

// TCPFactory opens "tcp://host:port" names, connecting to a serial bridge.
var TCPFactory = FactoryFunc(func(ctx context.Context, name string, baudrate int, readTimeout time.Duration) (serial.Port, error) {
	address, ok := strings.CutPrefix(name, PrefixTCP)
	if !ok {
		return nil, nil
	}
	port, err := serialtcp.Dial(ctx, address, 10*time.Second)
	if err != nil {
		return nil, err
	}
	if err := port.SetMode(Mode(baudrate)); err != nil {
		return nil, errors.Join(err, port.Close())
	}
	return setReadTimeout(port, readTimeout)
})

// NewVirtualFactory opens the VIRTUAL port onto device.
func NewVirtualFactory(device *virtual.Device) Factory {
	return FactoryFunc(func(ctx context.Context, name string, baudrate int, readTimeout time.Duration) (serial.Port, error) {
		if name != virtual.PortName {
			return nil, nil
		}
		port, err := openWithParityQuirk(ctx, device.Open, baudrate)
		if err != nil {
			return nil, err
		}
		return setReadTimeout(port, readTimeout)
	})
}

// DefaultFactories returns the factories tried after any collaborator supplied ones.
func DefaultFactories(device *virtual.Device) []Factory {
	return []Factory{NewVirtualFactory(device), TCPFactory, TarmFactory, SerialFactory}
}

// Stk500v2Prober probes for an STK500v2 bootloader: the port is opened, which resets the board into
// its bootloader, then signed on and told to start the application.
type Stk500v2Prober struct {
	Factories []Factory
	Baudrate  int
	Timeout   time.Duration
}

func (p *Stk500v2Prober) Probe(ctx context.Context, name string) (err error) {
	if name == virtual.PortName {
		return nil
	}
	port, err := Open(ctx, p.Factories, name, p.Baudrate, 100*time.Millisecond)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, port.Close()) }()

	client := stk500v2.NewClient(port, p.Timeout)
	signature, err := client.SignOn()
	if err != nil {
		return err
	}
	log.MustLogger(ctx).Debug("Bootloader signed on", "port", name, "signature", signature)
	return client.LeaveISP()
}
