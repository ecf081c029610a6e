package transport

import (
	"fmt"
	"sort"

	"go.bug.st/serial/enumerator"
)

// PortInfo describes a port found by the OS.
type PortInfo struct {
	Name         string
	IsUSB        bool
	VID          string
	PID          string
	SerialNumber string
}

func (p PortInfo) String() string {
	if !p.IsUSB {
		return p.Name
	}
	return fmt.Sprintf("%s (USB %s:%s serial %s)", p.Name, p.VID, p.PID, p.SerialNumber)
}

var getDetailedPortsList = enumerator.GetDetailedPortsList

// DetailedPorts lists OS ports with their USB details, USB ports first.
func DetailedPorts() ([]PortInfo, error) {
	details, err := getDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("transport: list ports: %w", err)
	}
	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		ports = append(ports, PortInfo{
			Name:         d.Name,
			IsUSB:        d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
		})
	}
	sort.SliceStable(ports, func(i, j int) bool {
		if ports[i].IsUSB != ports[j].IsUSB {
			return ports[i].IsUSB
		}
		return ports[i].Name < ports[j].Name
	})
	return ports, nil
}
