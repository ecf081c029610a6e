// Package settings holds the read-only configuration consumed by the communication engine.
package settings

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Provider is a read-only key lookup. *viper.Viper satisfies it.
type Provider interface {
	GetBool(key string) bool
	GetInt(key string) int
	GetFloat64(key string) float64
	GetDuration(key string) time.Duration
	GetString(key string) string
	GetStringSlice(key string) []string
	IsSet(key string) bool
}

const (
	SerialPort                 = "serial.port"
	SerialBaudrate             = "serial.baudrate"
	SerialAdditionalPorts      = "serial.additionalPorts"
	SerialTimeoutConnection    = "serial.timeout.connection"
	SerialTimeoutDetection     = "serial.timeout.detection"
	SerialTimeoutCommunication = "serial.timeout.communication"
	SerialTimeoutRead          = "serial.timeout.read"
	SerialBaudrateRetries      = "serial.baudrateRetries"
	SerialHistoryDepth         = "serial.historyDepth"
	SerialFlowControlCapacity  = "serial.flowControlCapacity"
	SerialRxBufferSize         = "serial.rxBufferSize"
	SerialRxBufferReserve      = "serial.rxBufferReserve"
	SerialStatusInterval       = "serial.statusInterval"
	SerialSdStatusInterval     = "serial.sdStatusInterval"
	SerialLongRunningCommands  = "serial.longRunningCommands"
	SerialHelloCommand         = "serial.helloCommand"
	FeatureGrbl                = "feature.grbl"
	FeatureAlwaysSendChecksum  = "feature.alwaysSendChecksum"
	FeatureChecksumUnknown     = "feature.sendChecksumWithUnknownCommands"
	FeatureUnknownCommandsAck  = "feature.unknownCommandsNeedAck"
	FeatureSupportWait         = "feature.supportWait"
	FeatureWaitForStart        = "feature.waitForStartOnConnect"
	FeatureSdSupport           = "feature.sdSupport"
	FeatureVirtualPrinter      = "feature.virtualPrinter"
	PrinterStartCommands       = "printer.startCommands"
	PrinterStopCommands        = "printer.stopCommands"
	PrinterHomingDoneCommands  = "printer.homingDoneCommands"
	GrblVersionFile            = "grbl.versionFile"
	GrblRequiredVersionFile    = "grbl.requiredVersionFile"
	GrblFlashCommand           = "grbl.flash.command"
	GrblFlashHexFile           = "grbl.flash.hexFile"
	GrblFlashPart              = "grbl.flash.part"
	GrblFlashProgrammer        = "grbl.flash.programmer"
)

// Defaults for every key.
var Defaults = map[string]any{
	SerialPort:                 "",
	SerialBaudrate:             0,
	SerialAdditionalPorts:      []string{},
	SerialTimeoutConnection:    10 * time.Second,
	SerialTimeoutDetection:     500 * time.Millisecond,
	SerialTimeoutCommunication: 30 * time.Second,
	SerialTimeoutRead:          100 * time.Millisecond,
	SerialBaudrateRetries:      5,
	SerialHistoryDepth:         50,
	SerialFlowControlCapacity:  10,
	SerialRxBufferSize:         127,
	SerialRxBufferReserve:      20,
	SerialStatusInterval:       500 * time.Millisecond,
	SerialSdStatusInterval:     time.Second,
	SerialLongRunningCommands:  []string{"G4", "G28", "G29", "G30", "G32", "M400", "M226", "H"},
	SerialHelloCommand:         "?",
	FeatureGrbl:                true,
	FeatureAlwaysSendChecksum:  false,
	FeatureChecksumUnknown:     false,
	FeatureUnknownCommandsAck:  false,
	FeatureSupportWait:         true,
	FeatureWaitForStart:        false,
	FeatureSdSupport:           false,
	FeatureVirtualPrinter:      false,
	PrinterStartCommands:       []string{"M08"},
	PrinterStopCommands:        []string{"M5", "G0X0Y0", "M9"},
	PrinterHomingDoneCommands:  []string{"G92X0Y0Z0", "G90", "G21"},
	GrblVersionFile:            "",
	GrblRequiredVersionFile:    "",
	GrblFlashCommand:           "avrdude",
	GrblFlashHexFile:           "",
	GrblFlashPart:              "atmega328p",
	GrblFlashProgrammer:        "arduino",
}

// EnvPrefix is the prefix of environment variables overriding settings.
const EnvPrefix = "GRBLCOMM"

// NewDefault returns a viper instance holding only defaults.
func NewDefault() *viper.Viper {
	v := viper.New()
	for key, value := range Defaults {
		v.SetDefault(key, value)
	}
	return v
}

// New loads settings from defaults, the optional config file at path (format by extension, any
// viper supports) and GRBLCOMM_ prefixed environment variables.
func New(path string) (*viper.Viper, error) {
	v := NewDefault()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("settings: read %s: %w", path, err)
		}
	}
	return v, nil
}
