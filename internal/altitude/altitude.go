package altitude

import (
	"fmt"
	"math"
)

// Absolute returns the barometric altitude in meters of pressurePa relative to
// the reference pressure referencePa:
//
//	h = 44330 * ((p0/p)^0.1903 - 1)
func Absolute(referencePa, pressurePa float64) float64 {
	return 44330.0 * (math.Pow(referencePa/pressurePa, 0.1903) - 1.0)
}

// Converter turns frame pressures into launch-relative altitude.
//
// The first valid frame fixes the baseline and reports 0. The baseline is
// never moved afterwards. Converter is owned by the acquisition context.
type Converter struct {
	referencePa float64
	baselineM   float64
}

func NewConverter(referencePa float64) (*Converter, error) {
	if math.IsNaN(referencePa) || math.IsInf(referencePa, 0) || referencePa <= 0 {
		return nil, fmt.Errorf("altitude: invalid reference pressure %v", referencePa)
	}
	return &Converter{referencePa: referencePa, baselineM: math.NaN()}, nil
}

func (c *Converter) ReferencePa() float64 { return c.referencePa }

// Baseline returns the absolute altitude captured by the first valid frame.
func (c *Converter) Baseline() (float64, bool) {
	if math.IsNaN(c.baselineM) {
		return 0, false
	}
	return c.baselineM, true
}

// Relative converts one frame. ok is false for pressures that cannot produce a
// finite altitude; such frames neither set the baseline nor get logged.
func (c *Converter) Relative(pressurePa float64) (altM float32, ok bool) {
	if math.IsNaN(pressurePa) || pressurePa <= 0 {
		return 0, false
	}
	abs := Absolute(c.referencePa, pressurePa)
	if math.IsNaN(abs) || math.IsInf(abs, 0) {
		return 0, false
	}
	if math.IsNaN(c.baselineM) {
		c.baselineM = abs
		return 0, true
	}
	return float32(abs - c.baselineM), true
}
