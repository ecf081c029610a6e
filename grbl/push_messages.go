package grbl

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

////////////////////////////////////////////////////////////////////////////////////////////////////
// Alarm
////////////////////////////////////////////////////////////////////////////////////////////////////

var alarmPushMessagePrefix = "ALARM:"

var alarmDescriptions = map[int]string{
	1:  "Hard limit triggered. Machine position is likely lost due to sudden and immediate halt. Re-homing is highly recommended.",
	2:  "G-code motion target exceeds machine travel. Machine position safely retained. Alarm may be unlocked.",
	3:  "Reset while in motion. Grbl cannot guarantee position. Lost steps are likely. Re-homing is highly recommended.",
	4:  "Probe fail. The probe is not in the expected initial state before starting probe cycle, where G38.2 and G38.3 is not triggered and G38.4 and G38.5 is triggered.",
	5:  "Probe fail. Probe did not contact the workpiece within the programmed travel for G38.2 and G38.4.",
	6:  "Homing fail. Reset during active homing cycle.",
	7:  "Homing fail. Safety door was opened during active homing cycle.",
	8:  "Homing fail. Cycle failed to clear limit switch when pulling off. Try increasing pull-off setting or check wiring.",
	9:  "Homing fail. Could not find limit switch within search distance. Defined as 1.5 * max_travel on search and 5 * pulloff on locate phases.",
	10: "Homing fail. On dual axis machines, could not find the second limit switch for self-squaring.",
}

// AlarmPushMessage is an "ALARM:<code>" (1.1) or "ALARM: <description>" (0.9) push message.
type AlarmPushMessage struct {
	Message string
}

// NewAlarmPushMessage returns nil when message is not an alarm.
func NewAlarmPushMessage(message string) *AlarmPushMessage {
	message = strings.TrimSpace(message)
	if !strings.HasPrefix(message, alarmPushMessagePrefix) {
		return nil
	}
	return &AlarmPushMessage{Message: message}
}

func (m *AlarmPushMessage) String() string {
	return m.Message
}

func (m *AlarmPushMessage) value() string {
	return strings.TrimSpace(m.Message[len(alarmPushMessagePrefix):])
}

// IsLimit tells whether a hard or soft limit triggered the alarm.
func (m *AlarmPushMessage) IsLimit() bool {
	switch value := m.value(); value {
	case "1", "2":
		return true
	default:
		return strings.HasPrefix(value, "Hard/soft limit")
	}
}

func (m *AlarmPushMessage) Error() error {
	value := m.value()
	n, err := strconv.Atoi(value)
	if err != nil {
		//lint:ignore ST1005 vanilla Grbl message
		return errors.New(value)
	}
	if description, ok := alarmDescriptions[n]; ok {
		//lint:ignore ST1005 vanilla Grbl message
		return errors.New(description)
	}
	return fmt.Errorf("unknown (%s)", m.Message)
}

////////////////////////////////////////////////////////////////////////////////////////////////////
// StatusReport
////////////////////////////////////////////////////////////////////////////////////////////////////

type State string

var StateIdle State = "Idle"
var StateRun State = "Run"
var StateHold State = "Hold"
var StateJog State = "Jog"
var StateAlarm State = "Alarm"
var StateDoor State = "Door"
var StateCheck State = "Check"
var StateHome State = "Home"
var StateSleep State = "Sleep"

// StatusReportPushMessage is the answer to the status report query. Both the 0.9 layout
//
//	<Idle,MPos:-434.000,-596.000,0.000,WPos:0.000,0.000,0.000,S:0,laser off:0>
//
// and the 1.1 layout
//
//	<Idle|MPos:1.000,2.000,0.000|FS:0,0|WCO:0.000,0.000,0.000>
//
// are understood. Fields other than the positions are ignored.
type StatusReportPushMessage struct {
	Message              string
	State                State
	SubState             *int
	MachinePosition      *Coordinates
	WorkPosition         *Coordinates
	WorkCoordinateOffset *Coordinates
}

// NewStatusReportPushMessage parses a status report.
//
//gocyclo:ignore
func NewStatusReportPushMessage(message string) (*StatusReportPushMessage, error) {
	message = strings.TrimSpace(message)
	if !strings.HasPrefix(message, "<") || !strings.HasSuffix(message, ">") {
		return nil, fmt.Errorf("status report message: not enclosed in <>: %#v", message)
	}
	body := message[1 : len(message)-1]

	var fields []string
	if strings.Contains(body, "|") {
		fields = strings.Split(body, "|")
	} else {
		fields = splitLegacyStatusReport(body)
	}
	if len(fields) == 0 || fields[0] == "" {
		return nil, fmt.Errorf("status report message: missing state: %#v", message)
	}

	m := &StatusReportPushMessage{Message: message}
	stateParts := strings.SplitN(fields[0], ":", 2)
	m.State = State(stateParts[0])
	if len(stateParts) == 2 {
		subState, err := strconv.Atoi(stateParts[1])
		if err != nil {
			return nil, fmt.Errorf("status report message: bad substate: %#v", fields[0])
		}
		m.SubState = &subState
	}

	for _, field := range fields[1:] {
		name, data, ok := strings.Cut(field, ":")
		if !ok {
			continue
		}
		var target **Coordinates
		switch name {
		case "MPos":
			target = &m.MachinePosition
		case "WPos":
			target = &m.WorkPosition
		case "WCO":
			target = &m.WorkCoordinateOffset
		default:
			continue
		}
		coordinates, err := NewCoordinatesFromStrValues(strings.Split(data, ","))
		if err != nil {
			return nil, fmt.Errorf("status report message: failed to parse %s: %w", name, err)
		}
		*target = coordinates
	}

	if m.WorkPosition == nil && m.MachinePosition != nil && m.WorkCoordinateOffset != nil {
		workPosition := m.MachinePosition.Sub(*m.WorkCoordinateOffset)
		m.WorkPosition = &workPosition
	}

	return m, nil
}

// splitLegacyStatusReport groups the comma separated 0.9 report into "Name:v1,v2,v3" fields.
func splitLegacyStatusReport(body string) []string {
	var fields []string
	for _, part := range strings.Split(body, ",") {
		if len(fields) > 0 && !strings.Contains(part, ":") {
			fields[len(fields)-1] += "," + part
			continue
		}
		fields = append(fields, part)
	}
	return fields
}

func (m *StatusReportPushMessage) String() string {
	return m.Message
}
