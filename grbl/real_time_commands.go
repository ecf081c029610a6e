package grbl

import (
	"fmt"
)

type RealTimeCommand byte

var (
	// Soft-Reset
	RealTimeCommandSoftReset RealTimeCommand = 0x18
	// Status Report Query
	RealTimeCommandStatusReportQuery RealTimeCommand = '?'
	// Cycle Start / Resume
	RealTimeCommandCycleStartResume RealTimeCommand = '~'
	// Feed Hold
	RealTimeCommandFeedHold RealTimeCommand = '!'
)

var realTimeCommandStringsMap = map[RealTimeCommand]string{
	RealTimeCommandSoftReset:         "Soft-Reset",
	RealTimeCommandStatusReportQuery: "Status Report Query",
	RealTimeCommandCycleStartResume:  "Cycle Start / Resume",
	RealTimeCommandFeedHold:          "Feed Hold",
}

func (c RealTimeCommand) String() string {
	if str, ok := realTimeCommandStringsMap[c]; ok {
		return str
	}
	return fmt.Sprintf("Unknown (%#v)", c)
}

// Line gives the command as a one character line.
func (c RealTimeCommand) Line() string {
	return string([]byte{byte(c)})
}

// IsRealTimeCommand tells whether line is a single real time command. Grbl acts on those as soon as
// they are received: they are never line numbered nor acknowledged.
func IsRealTimeCommand(line string) bool {
	if len(line) != 1 {
		return false
	}
	_, ok := realTimeCommandStringsMap[RealTimeCommand(line[0])]
	return ok
}
