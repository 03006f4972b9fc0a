package tion

import (
	"fmt"
	"strings"
	"time"
)

// MaxCO2 is the upper bound of the CO2 sensor domain in ppm. Values decoded
// above it indicate a corrupted frame, not air quality.
const MaxCO2 = 5000

// Mode is the air intake mode of a breezer.
type Mode uint8

const (
	// ModeOutside takes air from outside only.
	ModeOutside Mode = iota

	// ModeRecirculation recirculates room air.
	ModeRecirculation

	// ModeMixed mixes outside and room air.
	ModeMixed
)

// String returns the wire-stable lowercase mode name.
func (m Mode) String() string {
	switch m {
	case ModeOutside:
		return "outside"
	case ModeRecirculation:
		return "recirculation"
	case ModeMixed:
		return "mixed"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// ParseMode converts a mode name to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "outside":
		return ModeOutside, nil
	case "recirculation":
		return ModeRecirculation, nil
	case "mixed":
		return ModeMixed, nil
	default:
		return 0, fmt.Errorf("unknown mode %q (must be outside, recirculation or mixed)", s)
	}
}

// ErrorFlag is a firmware error code reported by the device.
type ErrorFlag uint8

const (
	ErrFlagFan ErrorFlag = 1 << iota
	ErrFlagHeater
	ErrFlagSensor
	ErrFlagFilter
)

// flagNames lists each error flag bit with its symbolic name, in wire order.
var flagNames = []struct {
	flag ErrorFlag
	name string
}{
	{ErrFlagFan, "fan"},
	{ErrFlagHeater, "heater"},
	{ErrFlagSensor, "sensor"},
	{ErrFlagFilter, "filter"},
}

// ErrorFlags is the set of firmware error codes from a status frame.
type ErrorFlags uint8

// Has reports whether the flag is set.
func (f ErrorFlags) Has(flag ErrorFlag) bool { return uint8(f)&uint8(flag) != 0 }

// Names returns the symbolic names of all set flags.
func (f ErrorFlags) Names() []string {
	var names []string
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			names = append(names, fn.name)
		}
	}
	return names
}

// Reading is an immutable snapshot of decoded device state. It is replaced
// wholesale on every successful decode, never mutated in place.
type Reading struct {
	PowerOn    bool
	Speed      int // 0..Codec.MaxSpeed()
	Mode       Mode
	CO2        int // ppm, 0..MaxCO2
	InTemp     int // incoming air, Celsius
	OutTemp    int // outgoing air, Celsius
	Humidity   int // percent
	HeaterOn   bool
	HeaterTemp int // target, Celsius
	SoundOn    bool
	LightOn    bool
	FilterDays int // estimated days of filter life left
	Errors     ErrorFlags
}

// CachedReading pairs a Reading with its capture time so callers can judge
// staleness themselves.
type CachedReading struct {
	Reading    Reading
	CapturedAt time.Time
}

// Age returns how old the reading is.
func (c CachedReading) Age() time.Duration {
	return time.Since(c.CapturedAt)
}
