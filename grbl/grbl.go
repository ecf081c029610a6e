// Package grbl knows the Grbl firmware dialect: real time commands, status reports, alarms, error
// codes and the welcome banner.
package grbl

import (
	"fmt"
	"strconv"
	"strings"
)

type Coordinates struct {
	X float64
	Y float64
	Z float64
	A *float64
}

// NewCoordinatesFromStrValues parses the comma separated values of a report field, eg: the
// "1.000,2.000,3.000" of "MPos:1.000,2.000,3.000".
func NewCoordinatesFromStrValues(dataValues []string) (*Coordinates, error) {
	if len(dataValues) < 3 || len(dataValues) > 4 {
		return nil, fmt.Errorf("coordinates: expected 3 or 4 values, got %d: %#v", len(dataValues), dataValues)
	}
	values := make([]float64, len(dataValues))
	for i, str := range dataValues {
		value, err := strconv.ParseFloat(strings.TrimSpace(str), 64)
		if err != nil {
			return nil, fmt.Errorf("coordinates: %#v: %w", str, err)
		}
		values[i] = value
	}
	c := &Coordinates{X: values[0], Y: values[1], Z: values[2]}
	if len(values) == 4 {
		c.A = &values[3]
	}
	return c, nil
}

// Sub returns c - o, component wise.
func (c Coordinates) Sub(o Coordinates) Coordinates {
	r := Coordinates{X: c.X - o.X, Y: c.Y - o.Y, Z: c.Z - o.Z}
	if c.A != nil && o.A != nil {
		a := *c.A - *o.A
		r.A = &a
	}
	return r
}

func (c Coordinates) String() string {
	if c.A != nil {
		return fmt.Sprintf("X:%.3f Y:%.3f Z:%.3f A:%.3f", c.X, c.Y, c.Z, *c.A)
	}
	return fmt.Sprintf("X:%.3f Y:%.3f Z:%.3f", c.X, c.Y, c.Z)
}
