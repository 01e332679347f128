package joystick

import "math"

// deadzonePolicy decides whether a normalized radius is inside the neutral zone.
type deadzonePolicy interface {
	// Neutral reports whether output should be forced to zero for radius rN.
	// Stateful policies update their memory.
	Neutral(rN float64) bool
	// Reset returns the policy to its initial (neutral) state.
	Reset()
}

// hysteresisPolicy is a Schmitt trigger with one bit of memory.
type hysteresisPolicy struct {
	enter     float64
	exit      float64
	inNeutral bool
}

func newHysteresisPolicy(enter, exit float64) *hysteresisPolicy {
	if exit < enter {
		exit = enter
	}
	return &hysteresisPolicy{enter: enter, exit: exit, inNeutral: true}
}

func (p *hysteresisPolicy) Neutral(rN float64) bool {
	if p.inNeutral {
		if rN > p.exit {
			p.inNeutral = false
		}
	} else if rN < p.enter {
		p.inNeutral = true
	}
	return p.inNeutral
}

func (p *hysteresisPolicy) Reset() { p.inNeutral = true }

// staticPolicy is a plain radial deadzone.
type staticPolicy struct {
	radius float64
}

func (p staticPolicy) Neutral(rN float64) bool { return rN < p.radius }
func (p staticPolicy) Reset()                  {}

func policyFor(c Calibration) deadzonePolicy {
	if c.Hysteresis.Enabled {
		return newHysteresisPolicy(c.Hysteresis.EnterNorm, c.Hysteresis.ExitNorm)
	}
	return staticPolicy{radius: c.DeadzoneNorm}
}

// Sample is one decoded joystick reading.
type Sample struct {
	Field Vec2 `json:"field_mt"`
	// RAbsMT is the recentered radius in mT, reported even when gated.
	RAbsMT float64 `json:"r_abs_mt"`
	// Unit is the normalized vector before the deadzone decision.
	Unit Vec2 `json:"unit"`
	// RadiusNorm is |Unit|.
	RadiusNorm float64 `json:"r_norm"`
	// Norm is the output vector, exactly zero inside the deadzone.
	Norm      Vec2      `json:"norm"`
	Direction Direction `json:"direction"`
	Neutral   bool      `json:"neutral"`
	// Gated is set when the absolute deadzone short-circuited decoding.
	Gated bool `json:"gated,omitempty"`
}

// Decoder converts raw field samples into normalized vectors and 8-way directions.
//
// Not safe for concurrent use; the sensor task owns it.
type Decoder struct {
	cal     Calibration
	policy  deadzonePolicy
	biasRad float64
}

// NewDecoder returns a decoder for cal. biasRad rotates the 8-way sector grid.
func NewDecoder(cal Calibration, biasRad float64) *Decoder {
	cal.Normalize()
	return &Decoder{cal: cal, policy: policyFor(cal), biasRad: biasRad}
}

// Calibration returns the decoder's calibration.
func (d *Decoder) Calibration() Calibration { return d.cal }

// SetCalibration swaps the calibration. The deadzone policy is rebuilt only when
// its parameters change, so hysteresis memory survives unrelated updates.
func (d *Decoder) SetCalibration(cal Calibration) {
	cal.Normalize()
	old := d.cal
	d.cal = cal
	if old.Hysteresis != cal.Hysteresis || old.DeadzoneNorm != cal.DeadzoneNorm || d.policy == nil {
		d.policy = policyFor(cal)
	}
}

// Reset clears deadzone memory.
func (d *Decoder) Reset() {
	if d.policy != nil {
		d.policy.Reset()
	}
}

// Decode maps one raw field sample (mT) to calibrated outputs.
func (d *Decoder) Decode(field Vec2) Sample {
	c := d.cal
	s := Sample{Field: field, Direction: Neutral, Neutral: true}

	delta := field.Sub(c.Center)
	s.RAbsMT = delta.Len()
	if c.AbsDeadzoneEnabled && s.RAbsMT < c.AbsDeadzoneMT {
		s.Gated = true
		return s
	}

	r := c.invert(c.Rotation.Apply(delta))
	u := Vec2{X: r.X / c.Span.X, Y: r.Y / c.Span.Y}
	rN := u.Len()
	s.Unit = u
	s.RadiusNorm = rN

	if !d.policy.Neutral(rN) {
		s.Norm = u
		s.Neutral = false
	}

	if rN >= c.DigitalThresholdNorm {
		s.Direction = SectorDirection(u, d.biasRad)
	}
	return s
}

// DecodeRead reads one sample through read and decodes it. A failed read
// returns a neutral sample and leaves the hysteresis memory untouched.
func (d *Decoder) DecodeRead(read func() (Vec2, error)) (Sample, error) {
	field, err := read()
	if err != nil {
		return Sample{Direction: Neutral, Neutral: true}, err
	}
	return d.Decode(field), nil
}

// Proportional remaps a normalized vector through a radial deadzone and a
// gamma response curve, preserving direction.
func Proportional(n Vec2, dz, gamma float64) Vec2 {
	r := n.Len()
	if r <= dz || r == 0 {
		return Vec2{}
	}
	if dz >= 1 {
		return Vec2{}
	}
	k := clamp((r-dz)/(1-dz), 0, 1)
	if gamma > 0 && gamma != 1 {
		k = math.Pow(k, gamma)
	}
	return n.Scale(k / r)
}
