package comm

import (
	"fmt"
)

// State is the protocol state of a Machine.
type State int32

const (
	StateOffline State = iota
	StateOpeningSerial
	StateDetectingSerial
	StateDetectingBaudrate
	StateConnecting
	StateOperational
	StatePrinting
	StatePaused
	StateClosed
	StateError
	StateClosedWithError
	StateTransferringFile
	StateLocked
	StateHoming
	StateFlashing
)

var stateNames = map[State]string{
	StateOffline:           "OFFLINE",
	StateOpeningSerial:     "OPENING_SERIAL",
	StateDetectingSerial:   "DETECTING_SERIAL",
	StateDetectingBaudrate: "DETECTING_BAUDRATE",
	StateConnecting:        "CONNECTING",
	StateOperational:       "OPERATIONAL",
	StatePrinting:          "PRINTING",
	StatePaused:            "PAUSED",
	StateClosed:            "CLOSED",
	StateError:             "ERROR",
	StateClosedWithError:   "CLOSED_WITH_ERROR",
	StateTransferringFile:  "TRANSFERRING_FILE",
	StateLocked:            "LOCKED",
	StateHoming:            "HOMING",
	StateFlashing:          "FLASHING",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", int32(s))
}

// IsOperational tells whether commands may be sent in this state.
func (s State) IsOperational() bool {
	switch s {
	case StateOperational, StatePrinting, StatePaused, StateTransferringFile:
		return true
	default:
		return false
	}
}

func (s State) IsClosedOrError() bool {
	switch s {
	case StateError, StateClosedWithError, StateClosed:
		return true
	default:
		return false
	}
}

// isClosed is true once the port is released.
func (s State) isClosed() bool {
	return s == StateClosed || s == StateClosedWithError
}

func (s State) IsError() bool {
	return s == StateError || s == StateClosedWithError
}

// isConnecting is true until the controller first answered.
func (s State) isConnecting() bool {
	switch s {
	case StateOffline, StateOpeningSerial, StateDetectingSerial, StateDetectingBaudrate, StateConnecting:
		return true
	default:
		return false
	}
}
