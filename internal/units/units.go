// Package units provides shared constants, parsing and conversion for the
// physical length units accepted at the operator boundary, and the conversion
// from physical millimetres to native device units.
package units

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Unit constants
const (
	MM  = "mm"
	CM  = "cm"
	IN  = "in"
	MIL = "mil"
	UM  = "um"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{MM, CM, IN, MIL, UM}

// ErrInvalidLength is returned when a length string cannot be parsed.
var ErrInvalidLength = errors.New("invalid length")

// mmPer holds the size of one unit in millimetres.
var mmPer = map[string]float64{
	MM:  1,
	CM:  10,
	IN:  25.4,
	MIL: 0.0254,
	UM:  0.001,
}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return strings.Join(ValidUnits, ", ")
}

// ConvertLength converts a length between two units. Unknown units are
// treated as millimetres.
func ConvertLength(value float64, fromUnits, toUnits string) float64 {
	from, ok := mmPer[fromUnits]
	if !ok {
		from = 1
	}
	to, ok := mmPer[toUnits]
	if !ok {
		to = 1
	}
	return value * from / to
}

// Length is a parsed physical length.
type Length struct {
	Value float64
	Unit  string
}

// MM returns the length in millimetres.
func (l Length) MM() float64 {
	return ConvertLength(l.Value, l.Unit, MM)
}

func (l Length) String() string {
	return strconv.FormatFloat(l.Value, 'f', -1, 64) + l.Unit
}

// ParseLength parses strings such as "12.5mm", "1in" or "40". A bare number
// is taken to be millimetres.
func ParseLength(s string) (Length, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return Length{}, fmt.Errorf("%w: empty", ErrInvalidLength)
	}
	unit := MM
	for _, u := range ValidUnits {
		if strings.HasSuffix(s, u) {
			unit = u
			s = strings.TrimSpace(strings.TrimSuffix(s, u))
			break
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Length{}, fmt.Errorf("%w: %q", ErrInvalidLength, s)
	}
	return Length{Value: v, Unit: unit}, nil
}

// DefaultUnitsPerMM is the native resolution of the device coordinate space:
// one device unit is one mil (1/1000 inch).
const DefaultUnitsPerMM = 1000 / 25.4

// Converter maps physical millimetre coordinates onto device units. The
// device origin is top-left; FlipX and FlipY mirror the bed.
type Converter struct {
	UnitsPerMM  float64
	FlipX       bool
	FlipY       bool
	BedWidthMM  float64
	BedHeightMM float64
}

func (c Converter) scale() float64 {
	if c.UnitsPerMM <= 0 {
		return DefaultUnitsPerMM
	}
	return c.UnitsPerMM
}

// PhysicalToDevicePosition converts an absolute position in millimetres to
// device units.
func (c Converter) PhysicalToDevicePosition(x, y float64) (float64, float64) {
	if c.FlipX {
		x = c.BedWidthMM - x
	}
	if c.FlipY {
		y = c.BedHeightMM - y
	}
	s := c.scale()
	return x * s, y * s
}

// PhysicalToDeviceLength converts a relative displacement in millimetres to
// device units.
func (c Converter) PhysicalToDeviceLength(dx, dy float64) (float64, float64) {
	if c.FlipX {
		dx = -dx
	}
	if c.FlipY {
		dy = -dy
	}
	s := c.scale()
	return dx * s, dy * s
}

// DeviceToMM converts a device coordinate back to millimetres.
func (c Converter) DeviceToMM(v float64) float64 {
	return v / c.scale()
}
