package terminal

import (
	"testing"

	"github.com/gdamore/tcell/v2"
	"github.com/stretchr/testify/require"

	"github.com/mrbeam/mrb3-octoPrint/comm"
	"github.com/mrbeam/mrb3-octoPrint/events"
	"github.com/mrbeam/mrb3-octoPrint/grbl"
)

func TestSprintFloat(t *testing.T) {
	for _, tc := range []struct {
		value    float64
		decimal  uint
		expected string
	}{
		{1.5, 4, "[orange]1.5[-]"},
		{2, 4, "[orange]2[-]"},
		{-0.125, 2, "[orange]-0.12[-]"},
		{12.7, 0, "[orange]13[-]"},
	} {
		t.Run(tc.expected, func(t *testing.T) {
			require.Equal(t, tc.expected, sprintFloat(tc.value, tc.decimal))
		})
	}
}

func TestSprintCoordinatesSingleLine(t *testing.T) {
	a := 4.0
	require.Equal(t,
		"X:[orange]1[-] Y:[orange]2[-] Z:[orange]3[-]",
		sprintCoordinatesSingleLine(grbl.Coordinates{X: 1, Y: 2, Z: 3}, " "),
	)
	require.Equal(t,
		"X:[orange]1[-]|Y:[orange]2[-]|Z:[orange]3[-]|A:[orange]4[-]",
		sprintCoordinatesSingleLine(grbl.Coordinates{X: 1, Y: 2, Z: 3, A: &a}, "|"),
	)
}

func TestSprintEvent(t *testing.T) {
	require.Equal(t,
		"[blue]CONNECTED[-] baudrate=115200 port=VIRTUAL",
		sprintEvent(events.Event{
			Type:    events.Connected,
			Payload: events.Payload{"port": "VIRTUAL", "baudrate": 115200},
		}),
	)
	require.Equal(t, "[blue]DISCONNECTED[-]", sprintEvent(events.Event{Type: events.Disconnected}))
}

func TestSprintStatus(t *testing.T) {
	target := 60.0
	progress := 0.25
	status := Status{
		State: comm.StatePrinting,
		Position: &comm.Position{
			Machine: grbl.Coordinates{X: 1, Y: 2, Z: 3},
			Work:    grbl.Coordinates{X: 0, Y: 1, Z: 2},
		},
		Temperatures: comm.Temperatures{
			Tools: map[int]comm.Temperature{0: {Actual: 21.5}},
			Bed:   &comm.Temperature{Actual: 40, Target: &target},
		},
		Progress: &progress,
	}
	require.Equal(t,
		"Machine: X:[orange]1[-] Y:[orange]2[-] Z:[orange]3[-]\n"+
			"Work:    X:[orange]0[-] Y:[orange]1[-] Z:[orange]2[-]\n"+
			"T0: [orange]21.5[-]\n"+
			"Bed: [orange]40[-]/[orange]60[-]\n"+
			"Progress: [orange]25[-]%\n",
		sprintStatus(status),
	)
	require.Empty(t, sprintStatus(Status{}))
}

func TestGetStateColor(t *testing.T) {
	require.Equal(t, tcell.ColorRed, getStateColor(comm.StateError))
	require.Equal(t, tcell.ColorGreen, getStateColor(comm.StatePrinting))
	require.Equal(t, tcell.ColorDarkBlue, getStateColor(comm.StateConnecting))
}
