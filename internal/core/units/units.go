// Package units carries physical quantities together with the unit the caller authored
// them in. Internally everything is compared in centimeters and radians; values written
// back are re-expressed in the original unit.
package units

import (
	"fmt"
	"math"
)

// LengthUnit names a distance unit.
type LengthUnit string

const (
	Centimeters LengthUnit = "cm"
	Meters      LengthUnit = "m"
	Millimeters LengthUnit = "mm"
	Inches      LengthUnit = "in"
	Feet        LengthUnit = "ft"
)

var centimetersPer = map[LengthUnit]float64{
	Centimeters: 1,
	Meters:      100,
	Millimeters: 0.1,
	Inches:      2.54,
	Feet:        30.48,
}

// AngleUnit names an angle unit.
type AngleUnit string

const (
	Radians AngleUnit = "rad"
	Degrees AngleUnit = "deg"
)

// Distance is a length in a specific unit.
type Distance struct {
	Value float64    `json:"value" yaml:"value"`
	Unit  LengthUnit `json:"unit" yaml:"unit"`
}

// Cm builds a distance in centimeters.
func Cm(v float64) Distance { return Distance{Value: v, Unit: Centimeters} }

// M builds a distance in meters.
func M(v float64) Distance { return Distance{Value: v, Unit: Meters} }

// Centimeters converts d to centimeters. An empty unit is read as centimeters.
func (d Distance) Centimeters() float64 {
	return d.Value * lengthFactor(d.Unit)
}

// WithCentimeters returns cm re-expressed in d's unit.
func (d Distance) WithCentimeters(cm float64) Distance {
	return Distance{Value: cm / lengthFactor(d.Unit), Unit: d.normalizedUnit()}
}

func (d Distance) normalizedUnit() LengthUnit {
	if d.Unit == "" {
		return Centimeters
	}
	return d.Unit
}

func (d Distance) String() string {
	return fmt.Sprintf("%g%s", d.Value, d.normalizedUnit())
}

func lengthFactor(u LengthUnit) float64 {
	if f, ok := centimetersPer[u]; ok {
		return f
	}
	return 1
}

// Valid reports whether the unit is known (or empty).
func (u LengthUnit) Valid() bool {
	if u == "" {
		return true
	}
	_, ok := centimetersPer[u]
	return ok
}

// Angle is an angle in a specific unit.
type Angle struct {
	Value float64   `json:"value" yaml:"value"`
	Unit  AngleUnit `json:"unit" yaml:"unit"`
}

// Rad builds an angle in radians.
func Rad(v float64) Angle { return Angle{Value: v, Unit: Radians} }

// Deg builds an angle in degrees.
func Deg(v float64) Angle { return Angle{Value: v, Unit: Degrees} }

// Radians converts a to radians. An empty unit is read as radians.
func (a Angle) Radians() float64 {
	if a.Unit == Degrees {
		return a.Value * math.Pi / 180
	}
	return a.Value
}

// WithRadians returns rad re-expressed in a's unit.
func (a Angle) WithRadians(rad float64) Angle {
	if a.Unit == Degrees {
		return Angle{Value: rad * 180 / math.Pi, Unit: Degrees}
	}
	return Angle{Value: rad, Unit: Radians}
}

func (a Angle) String() string {
	u := a.Unit
	if u == "" {
		u = Radians
	}
	return fmt.Sprintf("%g%s", a.Value, u)
}

// Valid reports whether the unit is known (or empty).
func (u AngleUnit) Valid() bool {
	return u == "" || u == Radians || u == Degrees
}
