package gcode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyTemperatureOffsets(t *testing.T) {
	offsets := map[string]float64{
		"tool0":   5,
		"tool1":   -10,
		OffsetBed: 2.5,
	}
	for _, tc := range []struct {
		name        string
		line        string
		currentTool int
		expected    string
	}{
		{"hotend current tool", "M104 S200", 0, "M104 S205"},
		{"hotend explicit tool", "M109 T1 S200", 0, "M109 T1 S190"},
		{"hotend tool change tracked", "M104 S210", 1, "M104 S200"},
		{"bed", "M140 S60", 0, "M140 S62.5"},
		{"bed wait", "M190 S60.5", 0, "M190 S63"},
		{"no offset for tool", "M104 T3 S200", 0, "M104 T3 S200"},
		{"not a temperature command", "G1 X10 S200", 0, "G1 X10 S200"},
		{"no S argument", "M104", 0, "M104"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, ApplyTemperatureOffsets(tc.line, offsets, tc.currentTool))
		})
	}
}
