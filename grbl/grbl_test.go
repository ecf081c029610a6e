package grbl

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIsRealTimeCommand(t *testing.T) {
	for _, tc := range []struct {
		line     string
		expected bool
	}{
		{"?", true},
		{"!", true},
		{"~", true},
		{"\x18", true},
		{"$", false},
		{"??", false},
		{"", false},
		{"G0", false},
	} {
		t.Run(tc.line, func(t *testing.T) {
			require.Equal(t, tc.expected, IsRealTimeCommand(tc.line))
		})
	}
	require.Equal(t, "?", RealTimeCommandStatusReportQuery.Line())
	require.Equal(t, "Feed Hold", RealTimeCommandFeedHold.String())
}

func TestErrorResponseDescription(t *testing.T) {
	for _, tc := range []struct {
		line        string
		description string
		ok          bool
	}{
		{"error:20", "Unsupported or invalid g-code command found in block", true},
		{"error:99", "unknown (error:99)", true},
		{"error: Alarm lock", "Alarm lock", true},
		{"ok", "", false},
	} {
		t.Run(tc.line, func(t *testing.T) {
			description, ok := ErrorResponseDescription(tc.line)
			require.Equal(t, tc.ok, ok)
			require.Equal(t, tc.description, description)
		})
	}
}

func TestAlarmPushMessage(t *testing.T) {
	require.Nil(t, NewAlarmPushMessage("ok"))

	legacy := NewAlarmPushMessage("ALARM: Hard/soft limit")
	require.NotNil(t, legacy)
	require.True(t, legacy.IsLimit())
	require.EqualError(t, legacy.Error(), "Hard/soft limit")

	hard := NewAlarmPushMessage("ALARM:1")
	require.True(t, hard.IsLimit())
	require.Contains(t, hard.Error().Error(), "Hard limit triggered")

	probe := NewAlarmPushMessage("ALARM:4")
	require.False(t, probe.IsLimit())
}

func TestNewStatusReportPushMessage(t *testing.T) {
	t.Run("legacy", func(t *testing.T) {
		m, err := NewStatusReportPushMessage("<Idle,MPos:-434.000,-596.000,0.000,WPos:0.000,1.500,0.000,S:0,laser off:0>")
		require.NoError(t, err)
		require.Equal(t, StateIdle, m.State)
		require.Equal(t, &Coordinates{X: -434, Y: -596}, m.MachinePosition)
		require.Equal(t, &Coordinates{Y: 1.5}, m.WorkPosition)
	})
	t.Run("1.1 with offset", func(t *testing.T) {
		m, err := NewStatusReportPushMessage("<Hold:0|MPos:10.000,20.000,3.000|FS:0,0|WCO:1.000,2.000,3.000>")
		require.NoError(t, err)
		require.Equal(t, StateHold, m.State)
		require.NotNil(t, m.SubState)
		require.Equal(t, 0, *m.SubState)
		require.Equal(t, &Coordinates{X: 9, Y: 18}, m.WorkPosition)
	})
	t.Run("not a report", func(t *testing.T) {
		_, err := NewStatusReportPushMessage("ok")
		require.Error(t, err)
	})
	t.Run("bad coordinates", func(t *testing.T) {
		_, err := NewStatusReportPushMessage("<Idle|MPos:a,b,c>")
		require.Error(t, err)
	})
}

func TestParseWelcome(t *testing.T) {
	for _, tc := range []struct {
		line     string
		version  Version
		key      string
		expected bool
	}{
		{"Grbl 0.9g ['$' for help]", Version{Grbl: "0.9g"}, "0.9g", true},
		{"Grbl 0.9g_20150509 ['$' for help]", Version{Grbl: "0.9g_20150509"}, "0.9g_20150509", true},
		{"Grbl 0.9g_a1b2c3d-dirty ['$' for help]", Version{Grbl: "0.9g", Git: "a1b2c3d", Dirty: true}, "0.9g_a1b2c3d-dirty", true},
		{"Grbl 1.1f_0123abc ['$' for help]", Version{Grbl: "1.1f", Git: "0123abc"}, "1.1f_0123abc", true},
		{"ok", Version{}, "", false},
	} {
		t.Run(tc.line, func(t *testing.T) {
			version, ok := ParseWelcome(tc.line)
			require.Equal(t, tc.expected, ok)
			require.Equal(t, tc.version, version)
			require.Equal(t, tc.key, version.String())
		})
	}
}

func TestVersionRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grbl_version.yml")
	version := Version{Grbl: "0.9g", Git: "a1b2c3d", Dirty: true}
	require.NoError(t, WriteVersionRecord(path, version, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)))

	read, err := ReadVersion(path)
	require.NoError(t, err)
	require.Equal(t, version, read)

	_, err = ReadVersion(filepath.Join(t.TempDir(), "missing.yml"))
	require.Error(t, err)
}

func TestAvrdudeArgs(t *testing.T) {
	a := &Avrdude{Command: "avrdude", HexFile: "/fw/grbl.hex", Part: "atmega328p", Programmer: "arduino"}
	require.Equal(t, []string{
		"-patmega328p", "-carduino", "-b115200", "-P/dev/ttyACM0", "-D", "-Uflash:w:/fw/grbl.hex:i",
	}, a.Args("/dev/ttyACM0", 115200))

	err := (&Avrdude{Command: "avrdude"}).Flash(t.Context(), "/dev/null", 115200)
	require.Error(t, err)
}
