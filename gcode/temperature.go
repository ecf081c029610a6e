package gcode

import (
	"fmt"
	"regexp"
	"strconv"

	internalFmt "github.com/mrbeam/mrb3-octoPrint/internal/fmt"
)

// OffsetBed is the offsets key for the heated bed. Tools use "tool<n>".
const OffsetBed = "bed"

// ToolOffsetKey gives the offsets key for the given tool.
func ToolOffsetKey(tool int) string {
	return fmt.Sprintf("tool%d", tool)
}

var temperatureSetCommands = map[string]bool{
	"M104": true, // Set hotend temperature
	"M109": true, // Set hotend temperature and wait
	"M140": true, // Set bed temperature
	"M190": true, // Set bed temperature and wait
}

var sArgumentRegexp = regexp.MustCompile(`[Ss](\d+(?:\.\d+)?)`)

// IsTemperatureSet returns whether the command identifier sets a heater target.
func IsTemperatureSet(commandID string) bool {
	return temperatureSetCommands[commandID]
}

// ApplyTemperatureOffsets adds the configured offset to the S argument of temperature set commands.
// Hotend commands use the offset of the tool given by their T argument, or currentTool.
func ApplyTemperatureOffsets(line string, offsets map[string]float64, currentTool int) string {
	if len(offsets) == 0 {
		return line
	}
	commandID := CommandID(line)
	if !IsTemperatureSet(commandID) {
		return line
	}

	var key string
	if commandID == "M140" || commandID == "M190" {
		key = OffsetBed
	} else {
		tool := currentTool
		if t, ok := Argument(line, 'T'); ok {
			tool = int(t)
		}
		key = ToolOffsetKey(tool)
	}
	offset := offsets[key]
	if offset == 0 {
		return line
	}

	loc := sArgumentRegexp.FindStringSubmatchIndex(line)
	if loc == nil {
		return line
	}
	value, err := strconv.ParseFloat(line[loc[2]:loc[3]], 64)
	if err != nil {
		return line
	}
	return line[:loc[2]] + internalFmt.SprintFloat(value+offset, 2) + line[loc[3]:]
}
