package comm

import (
	"maps"
	"regexp"
	"strconv"

	"github.com/mrbeam/mrb3-octoPrint/events"
	"github.com/mrbeam/mrb3-octoPrint/gcode"
)

// Temperature of a heater.
type Temperature struct {
	Actual float64
	// Target is nil until known.
	Target *float64
}

// Temperatures is the last known temperature of every heater.
type Temperatures struct {
	Tools map[int]Temperature
	Bed   *Temperature
}

var temperatureRegexp = regexp.MustCompile(`(?:^|\s)(B|T(\d*)):\s*([-+]?\d*\.?\d+)(\s*/?\s*([-+]?\d*\.?\d+))?`)

// handleTemperatures updates temperatures from "T:21.3 /0.0 B:20.1 /60.0" like reports.
func (m *Machine) handleTemperatures(line string) {
	matches := temperatureRegexp.FindAllStringSubmatch(line, -1)
	if len(matches) == 0 {
		return
	}

	m.mu.Lock()
	currentTool := m.currentTool
	for _, match := range matches {
		actual, err := strconv.ParseFloat(match[3], 64)
		if err != nil {
			continue
		}
		t := Temperature{Actual: actual}
		if match[5] != "" {
			if target, err := strconv.ParseFloat(match[5], 64); err == nil {
				t.Target = &target
			}
		}
		if match[1] == "B" {
			if t.Target == nil && m.temperatures.Bed != nil {
				t.Target = m.temperatures.Bed.Target
			}
			m.temperatures.Bed = &t
			continue
		}
		tool := currentTool
		if match[2] != "" {
			if n, err := strconv.Atoi(match[2]); err == nil {
				tool = n
			}
		}
		if t.Target == nil {
			t.Target = m.temperatures.Tools[tool].Target
		}
		m.temperatures.Tools[tool] = t
	}
	payload := temperaturesPayload(m.temperatures)
	m.mu.Unlock()

	m.publish(events.Temperature, payload)
}

func temperaturesPayload(t Temperatures) events.Payload {
	payload := events.Payload{}
	for tool, temperature := range t.Tools {
		payload[gcode.ToolOffsetKey(tool)] = temperaturePayload(temperature)
	}
	if t.Bed != nil {
		payload[gcode.OffsetBed] = temperaturePayload(*t.Bed)
	}
	return payload
}

func temperaturePayload(t Temperature) map[string]any {
	p := map[string]any{"actual": t.Actual}
	if t.Target != nil {
		p["target"] = *t.Target
	}
	return p
}

// setTarget records the target of a heater, as set by a temperature command.
func (m *Machine) setTarget(commandID, line string) {
	s, ok := gcode.Argument(line, 'S')
	if !ok {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if commandID == "M140" || commandID == "M190" {
		bed := Temperature{Target: &s}
		if m.temperatures.Bed != nil {
			bed.Actual = m.temperatures.Bed.Actual
		}
		m.temperatures.Bed = &bed
		return
	}
	tool := m.currentTool
	if t, ok := gcode.Argument(line, 'T'); ok {
		tool = int(t)
	}
	temperature := m.temperatures.Tools[tool]
	temperature.Target = &s
	m.temperatures.Tools[tool] = temperature
}

// SetTemperatureOffset replaces the offsets added to temperatures set by local jobs, keyed by
// "bed" or "tool<n>".
func (m *Machine) SetTemperatureOffset(offsets map[string]float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tempOffsets = maps.Clone(offsets)
}

// applyTemperatureOffsets is the job line processor of local jobs.
func (m *Machine) applyTemperatureOffsets(line string) string {
	m.mu.Lock()
	offsets := m.tempOffsets
	tool := m.currentTool
	m.mu.Unlock()
	return gcode.ApplyTemperatureOffsets(line, offsets, tool)
}
