package gcode

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWordNormalizedString(t *testing.T) {
	testCases := []struct {
		letter   rune
		number   float64
		expected string
	}{
		{'G', 1.0, "G1"},
		{'G', 1.1, "G1.1"},
		{'M', 104, "M104"},
		{'X', 1.2345, "X1.2345"},
	}

	for _, tc := range testCases {
		t.Run(fmt.Sprintf("%c%f", tc.letter, tc.number), func(t *testing.T) {
			word := NewWord(tc.letter, tc.number)
			require.Equal(t, tc.expected, word.NormalizedString())
		})
	}
}

func TestWords(t *testing.T) {
	words := Words("G1 x10.5 Y-3 F.5")
	require.Len(t, words, 4)
	require.Equal(t, 'X', words[1].Letter())
	require.Equal(t, 10.5, words[1].Number())
	require.Equal(t, "x10.5", words[1].String())
	require.Equal(t, -3.0, words[2].Number())
	require.Equal(t, 0.5, words[3].Number())
}

func TestArgument(t *testing.T) {
	for _, tc := range []struct {
		line     string
		letter   rune
		number   float64
		expected bool
	}{
		{"G4 P500", 'P', 500, true},
		{"G4 S2", 'S', 2, true},
		{"G1 Z0.2 F300", 'Z', 0.2, true},
		{"G1 X10", 'Z', 0, false},
		{"M110 N0", 'N', 0, true},
		{"T1", 'T', 1, true},
	} {
		t.Run(tc.line, func(t *testing.T) {
			number, ok := Argument(tc.line, tc.letter)
			require.Equal(t, tc.expected, ok)
			require.Equal(t, tc.number, number)
		})
	}
}

func TestCommandID(t *testing.T) {
	for _, tc := range []struct {
		line     string
		expected string
	}{
		{"G1 X10", "G1"},
		{"g01 X10", "G1"},
		{"  M104 S200", "M104"},
		{"$H", "H"},
		{"T2", "T"},
		{"!", CommandHold},
		{"~", CommandResume},
		{"?", ""},
		{"$X", ""},
		{"$$", ""},
		{"", ""},
	} {
		t.Run(tc.line, func(t *testing.T) {
			require.Equal(t, tc.expected, CommandID(tc.line))
		})
	}
}

func TestProcess(t *testing.T) {
	for _, tc := range []struct {
		line     string
		expected string
	}{
		{"G1 X10 ; move", "G1 X10"},
		{"; only a comment", ""},
		{`M117 a\;b ; note`, `M117 a\;b`},
		{"  G28  \r\n", "G28"},
	} {
		t.Run(tc.line, func(t *testing.T) {
			require.Equal(t, tc.expected, Process(tc.line))
		})
	}
}
