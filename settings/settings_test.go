package settings

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewDefault(t *testing.T) {
	var p Provider = NewDefault()
	require.Equal(t, 50, p.GetInt(SerialHistoryDepth))
	require.Equal(t, 10, p.GetInt(SerialFlowControlCapacity))
	require.Equal(t, 127, p.GetInt(SerialRxBufferSize))
	require.Equal(t, 30*time.Second, p.GetDuration(SerialTimeoutCommunication))
	require.True(t, p.GetBool(FeatureGrbl))
	require.Equal(t, []string{"M5", "G0X0Y0", "M9"}, p.GetStringSlice(PrinterStopCommands))
}

func TestNewConfigFile(t *testing.T) {
	for _, tc := range []struct {
		name    string
		content string
	}{
		{"settings.yaml", "serial:\n  baudrate: 115200\n  timeout:\n    communication: 5s\nfeature:\n  sdSupport: true\n"},
		{"settings.toml", "[serial]\nbaudrate = 115200\n[serial.timeout]\ncommunication = \"5s\"\n[feature]\nsdSupport = true\n"},
		{"settings.json", `{"serial": {"baudrate": 115200, "timeout": {"communication": "5s"}}, "feature": {"sdSupport": true}}`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tc.name)
			require.NoError(t, os.WriteFile(path, []byte(tc.content), 0644))

			v, err := New(path)
			require.NoError(t, err)
			require.Equal(t, 115200, v.GetInt(SerialBaudrate))
			require.Equal(t, 5*time.Second, v.GetDuration(SerialTimeoutCommunication))
			require.True(t, v.GetBool(FeatureSdSupport))
			require.Equal(t, 50, v.GetInt(SerialHistoryDepth))
		})
	}
}

func TestNewEnv(t *testing.T) {
	t.Setenv("GRBLCOMM_SERIAL_PORT", "/dev/ttyUSB3")
	v, err := New("")
	require.NoError(t, err)
	require.Equal(t, "/dev/ttyUSB3", v.GetString(SerialPort))
}

func TestNewMissingFile(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
