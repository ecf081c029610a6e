// Package events defines the lifecycle events published by the communication engine.
package events

import (
	"github.com/mrbeam/mrb3-octoPrint/broker"
)

// Type names an event.
type Type string

const (
	Connected       Type = "CONNECTED"
	Disconnected    Type = "DISCONNECTED"
	PrintStarted    Type = "PRINT_STARTED"
	PrintPaused     Type = "PRINT_PAUSED"
	PrintResumed    Type = "PRINT_RESUMED"
	PrintCancelled  Type = "PRINT_CANCELLED"
	PrintDone       Type = "PRINT_DONE"
	PrintFailed     Type = "PRINT_FAILED"
	Error           Type = "ERROR"
	StateChanged    Type = "STATE_CHANGED"
	Position        Type = "POSITION"
	ZChange         Type = "Z_CHANGE"
	Temperature     Type = "TEMPERATURE"
	FileSelected    Type = "FILE_SELECTED"
	FileDeselected  Type = "FILE_DESELECTED"
	TransferStarted Type = "TRANSFER_STARTED"
	TransferDone    Type = "TRANSFER_DONE"
	SdFiles         Type = "SD_FILES"
	LimitsHit       Type = "LIMITS_HIT"
	Action          Type = "ACTION"
	Firmware        Type = "FIRMWARE"
	Waiting         Type = "WAITING"
	Dwell           Type = "DWELL"
	Cooling         Type = "COOLING"
	Conveyor        Type = "CONVEYOR"
	Eject           Type = "EJECT"
	Alert           Type = "ALERT"
	Home            Type = "HOME"
	EStop           Type = "E_STOP"
	PowerOn         Type = "POWER_ON"
	PowerOff        Type = "POWER_OFF"
)

// Payload is the opaque map attached to an event.
type Payload map[string]any

type Event struct {
	Type    Type
	Payload Payload
}

// Sink receives published events. Publish must not block.
type Sink interface {
	Publish(Event)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(Event)

func (f SinkFunc) Publish(e Event) {
	f(e)
}

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

var commandEvents = map[string]Type{
	"M226": Waiting,
	"M0":   Waiting,
	"M1":   Waiting,
	"G4":   Dwell,
	"M245": Cooling,
	"M240": Conveyor,
	"M40":  Eject,
	"M300": Alert,
	"H":    Home,
	"G28":  Home,
	"M112": EStop,
	"M80":  PowerOn,
	"M81":  PowerOff,
}

// ForCommand returns the event announced when a command with the given identifier is queued.
func ForCommand(commandID string) (Type, bool) {
	t, ok := commandEvents[commandID]
	return t, ok
}

// Bus fans events out to named subscribers.
type Bus struct {
	broker *broker.Broker[Event]
}

func NewBus() *Bus {
	return &Bus{broker: broker.NewBroker[Event]()}
}

func (b *Bus) Publish(e Event) {
	b.broker.Publish(e)
}

// Subscribe returns a channel receiving every event published after the call. Events are dropped
// for this subscriber while its buffer is full.
func (b *Bus) Subscribe(name string, size int) <-chan Event {
	return b.broker.Subscribe(name, size)
}

func (b *Bus) Unsubscribe(name string) {
	b.broker.Unsubscribe(name)
}

func (b *Bus) Close() {
	b.broker.Close()
}
