package terminal

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/gdamore/tcell/v2"

	"github.com/mrbeam/mrb3-octoPrint/comm"
	"github.com/mrbeam/mrb3-octoPrint/events"
	"github.com/mrbeam/mrb3-octoPrint/grbl"
	iFmt "github.com/mrbeam/mrb3-octoPrint/internal/fmt"
)

func sprintFloat(value float64, decimal uint) string {
	return fmt.Sprintf("[%s]%s[-]", tcell.ColorOrange, iFmt.SprintFloat(value, decimal))
}

func sprintCoordinate(value float64) string {
	return sprintFloat(value, 4)
}

func sprintCoordinatesSingleLine(coordinates grbl.Coordinates, sep string) string {
	var b strings.Builder
	fmt.Fprintf(
		&b, "X:%s%sY:%s%sZ:%s",
		sprintCoordinate(coordinates.X), sep, sprintCoordinate(coordinates.Y), sep, sprintCoordinate(coordinates.Z),
	)
	if coordinates.A != nil {
		fmt.Fprintf(&b, "%sA:%s", sep, sprintCoordinate(*coordinates.A))
	}
	return b.String()
}

func sprintTemperature(t comm.Temperature) string {
	if t.Target == nil {
		return sprintFloat(t.Actual, 1)
	}
	return fmt.Sprintf("%s/%s", sprintFloat(t.Actual, 1), sprintFloat(*t.Target, 1))
}

func getStateColor(state comm.State) tcell.Color {
	switch state {
	case comm.StateOperational:
		return tcell.ColorBlack
	case comm.StatePrinting, comm.StateTransferringFile:
		return tcell.ColorGreen
	case comm.StatePaused:
		return tcell.ColorYellow
	case comm.StateLocked:
		return tcell.ColorOrange
	case comm.StateHoming:
		return tcell.ColorLightGreen
	case comm.StateError, comm.StateClosedWithError:
		return tcell.ColorRed
	case comm.StateFlashing:
		return tcell.ColorDarkCyan
	case comm.StateOffline, comm.StateClosed:
		return tcell.ColorGray
	default:
		return tcell.ColorDarkBlue
	}
}

// sprintEvent renders an event as a single line, payload keys sorted.
func sprintEvent(e events.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]%s[-]", tcell.ColorBlue, e.Type)
	for _, key := range slices.Sorted(maps.Keys(e.Payload)) {
		fmt.Fprintf(&b, " %s=%v", key, e.Payload[key])
	}
	return b.String()
}

// sprintStatus renders the status panel content.
func sprintStatus(status Status) string {
	var b strings.Builder
	if status.Position != nil {
		fmt.Fprintf(&b, "Machine: %s\n", sprintCoordinatesSingleLine(status.Position.Machine, " "))
		fmt.Fprintf(&b, "Work:    %s\n", sprintCoordinatesSingleLine(status.Position.Work, " "))
	}
	for _, tool := range slices.Sorted(maps.Keys(status.Temperatures.Tools)) {
		fmt.Fprintf(&b, "T%d: %s\n", tool, sprintTemperature(status.Temperatures.Tools[tool]))
	}
	if status.Temperatures.Bed != nil {
		fmt.Fprintf(&b, "Bed: %s\n", sprintTemperature(*status.Temperatures.Bed))
	}
	if status.Progress != nil {
		fmt.Fprintf(&b, "Progress: %s%%\n", sprintFloat(*status.Progress*100, 1))
	}
	return b.String()
}
