package gcode

import (
	"fmt"
	"regexp"
	"strconv"
)

// Checksum gives the exclusive-or of all bytes of "N<lineNumber> <command>".
func Checksum(lineNumber int, command string) byte {
	var checksum byte
	for _, b := range []byte(fmt.Sprintf("N%d %s", lineNumber, command)) {
		checksum ^= b
	}
	return checksum
}

// Frame gives the line numbered and checksummed wire representation of a command, without the
// trailing newline.
func Frame(lineNumber int, command string) string {
	return fmt.Sprintf("N%d %s*%d", lineNumber, command, Checksum(lineNumber, command))
}

var frameRegexp = regexp.MustCompile(`^N(-?\d+) (.*)\*(\d+)$`)

// ParseFrame splits a framed line into its line number, command and checksum. ok is false if the
// line is not framed.
func ParseFrame(frame string) (lineNumber int, command string, checksum byte, ok bool) {
	m := frameRegexp.FindStringSubmatch(frame)
	if m == nil {
		return 0, "", 0, false
	}
	lineNumber, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, "", 0, false
	}
	c, err := strconv.ParseUint(m[3], 10, 8)
	if err != nil {
		return 0, "", 0, false
	}
	return lineNumber, m[2], byte(c), true
}
