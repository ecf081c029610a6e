package events

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestForCommand(t *testing.T) {
	for _, tc := range []struct {
		commandID string
		expected  Type
		ok        bool
	}{
		{"M0", Waiting, true},
		{"G4", Dwell, true},
		{"H", Home, true},
		{"M112", EStop, true},
		{"M81", PowerOff, true},
		{"G1", "", false},
	} {
		t.Run(tc.commandID, func(t *testing.T) {
			eventType, ok := ForCommand(tc.commandID)
			require.Equal(t, tc.ok, ok)
			require.Equal(t, tc.expected, eventType)
		})
	}
}

func TestBus(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe("test", 4)
	var sink Sink = bus

	sink.Publish(Event{Type: Connected, Payload: Payload{"port": "VIRTUAL", "baudrate": 115200}})

	e := <-ch
	require.Equal(t, Connected, e.Type)
	require.Equal(t, "VIRTUAL", e.Payload["port"])

	bus.Unsubscribe("test")
	_, ok := <-ch
	require.False(t, ok)
	bus.Close()
}

func TestSinkFunc(t *testing.T) {
	var got []Type
	sink := SinkFunc(func(e Event) { got = append(got, e.Type) })
	sink.Publish(Event{Type: PrintDone})
	Discard.Publish(Event{Type: PrintFailed})
	require.Equal(t, []Type{PrintDone}, got)
}
