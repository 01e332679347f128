package joystick

import "math"

// Vec2 is a 2D vector. Raw field samples are in mT; normalized vectors are unitless.
type Vec2 struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

func (v Vec2) Sub(o Vec2) Vec2      { return Vec2{v.X - o.X, v.Y - o.Y} }
func (v Vec2) Add(o Vec2) Vec2      { return Vec2{v.X + o.X, v.Y + o.Y} }
func (v Vec2) Scale(k float64) Vec2 { return Vec2{v.X * k, v.Y * k} }
func (v Vec2) Len() float64         { return math.Hypot(v.X, v.Y) }
func (v Vec2) Dot(o Vec2) float64   { return v.X*o.X + v.Y*o.Y }
func (v Vec2) Cross(o Vec2) float64 { return v.X*o.Y - v.Y*o.X }

func (v Vec2) unit() (Vec2, bool) {
	n := v.Len()
	if n <= 0 {
		return Vec2{}, false
	}
	return v.Scale(1 / n), true
}

// Rotation is an angle stored as its cosine/sine pair.
type Rotation struct {
	Cos float64
	Sin float64
}

// Identity returns the zero rotation.
func Identity() Rotation { return Rotation{Cos: 1, Sin: 0} }

// RotationFromRad builds a rotation from an angle in radians.
func RotationFromRad(rad float64) Rotation {
	return Rotation{Cos: math.Cos(rad), Sin: math.Sin(rad)}
}

// RotationFromDeg builds a rotation from an angle in degrees.
func RotationFromDeg(deg float64) Rotation {
	return RotationFromRad(deg * math.Pi / 180)
}

// Deg returns the rotation angle in degrees.
func (r Rotation) Deg() float64 {
	return math.Atan2(r.Sin, r.Cos) * 180 / math.Pi
}

// Apply rotates v counter-clockwise.
func (r Rotation) Apply(v Vec2) Vec2 {
	return Vec2{
		X: v.X*r.Cos - v.Y*r.Sin,
		Y: v.X*r.Sin + v.Y*r.Cos,
	}
}

// Hysteresis is the two-threshold (Schmitt) neutral zone.
// ExitNorm >= EnterNorm always holds after Normalize.
type Hysteresis struct {
	Enabled   bool
	EnterNorm float64
	ExitNorm  float64
}

const (
	// MinSpan is the floor applied to any computed per-axis span (mT).
	MinSpan = 1.0
	// MaxDeadzoneNorm bounds the radial deadzone.
	MaxDeadzoneNorm = 0.9

	defaultDeadzoneNorm     = 0.12
	defaultAbsDeadzoneMT    = 1.5
	defaultHystEnter        = 0.10
	defaultHystExit         = 0.16
	defaultDigitalThreshold = 0.35
	minDigitalThreshold     = 0.05
	maxDigitalThreshold     = 0.9
)

// Calibration is the live joystick calibration.
//
// It is owned by the sensor task and copied by value to anyone else.
type Calibration struct {
	Center   Vec2
	Span     Vec2
	Rotation Rotation
	InvertX  bool
	InvertY  bool

	DeadzoneNorm float64

	AbsDeadzoneEnabled bool
	AbsDeadzoneMT      float64

	Hysteresis Hysteresis

	DigitalThresholdNorm float64
	// ThresholdMT is the analog/digital discrimination threshold captured by the sweep.
	ThresholdMT Vec2

	// Valid is true once loaded from a valid record or committed by a completed calibration.
	Valid bool
}

// DefaultCalibration returns the identity calibration used at boot.
func DefaultCalibration() Calibration {
	return Calibration{
		Span:          Vec2{MinSpan, MinSpan},
		Rotation:      Identity(),
		DeadzoneNorm:  defaultDeadzoneNorm,
		AbsDeadzoneMT: defaultAbsDeadzoneMT,
		Hysteresis: Hysteresis{
			Enabled:   true,
			EnterNorm: defaultHystEnter,
			ExitNorm:  defaultHystExit,
		},
		DigitalThresholdNorm: defaultDigitalThreshold,
	}
}

// Normalize enforces the calibration invariants in place.
func (c *Calibration) Normalize() {
	c.Span.X = floorSpan(c.Span.X)
	c.Span.Y = floorSpan(c.Span.Y)
	if c.Rotation.Cos == 0 && c.Rotation.Sin == 0 {
		c.Rotation = Identity()
	}
	c.DeadzoneNorm = clamp(c.DeadzoneNorm, 0, MaxDeadzoneNorm)
	if c.AbsDeadzoneMT < 0 || math.IsNaN(c.AbsDeadzoneMT) {
		c.AbsDeadzoneMT = 0
	}
	c.Hysteresis.EnterNorm = clamp(c.Hysteresis.EnterNorm, 0, MaxDeadzoneNorm)
	if c.Hysteresis.ExitNorm < c.Hysteresis.EnterNorm {
		c.Hysteresis.ExitNorm = c.Hysteresis.EnterNorm
	}
	if c.DigitalThresholdNorm <= 0 {
		c.DigitalThresholdNorm = defaultDigitalThreshold
	}
}

// DeadzoneStep is the per-request deadzone adjustment.
const DeadzoneStep = 0.02

// SetDeadzone moves the radial deadzone to dz and shifts the hysteresis band
// by the same amount, keeping its width.
func (c *Calibration) SetDeadzone(dz float64) {
	if math.IsNaN(dz) {
		return
	}
	dz = clamp(dz, 0, MaxDeadzoneNorm)
	delta := dz - c.DeadzoneNorm
	c.DeadzoneNorm = dz
	gap := math.Max(0, c.Hysteresis.ExitNorm-c.Hysteresis.EnterNorm)
	c.Hysteresis.EnterNorm = clamp(c.Hysteresis.EnterNorm+delta, 0, MaxDeadzoneNorm)
	c.Hysteresis.ExitNorm = c.Hysteresis.EnterNorm + gap
}

// Transform applies recenter → rotate → invert to a raw field sample.
// The result is still in mT; divide by Span to normalize.
func (c Calibration) Transform(field Vec2) Vec2 {
	r := c.Rotation.Apply(field.Sub(c.Center))
	return c.invert(r)
}

func (c Calibration) invert(v Vec2) Vec2 {
	if c.InvertX {
		v.X = -v.X
	}
	if c.InvertY {
		v.Y = -v.Y
	}
	return v
}

// thresholdNormFromMT converts a sweep threshold in mT into a normalized radius.
func thresholdNormFromMT(thrMT float64, span Vec2) float64 {
	s := math.Min(span.X, span.Y)
	if s <= 0 {
		return defaultDigitalThreshold
	}
	return clamp(thrMT/s, minDigitalThreshold, maxDigitalThreshold)
}

// Record is the flat persisted shape exchanged with the settings bridge.
type Record struct {
	CenterX            float64 `yaml:"center_x" json:"center_x"`
	CenterY            float64 `yaml:"center_y" json:"center_y"`
	SpanX              float64 `yaml:"span_x" json:"span_x"`
	SpanY              float64 `yaml:"span_y" json:"span_y"`
	RotationDeg        float64 `yaml:"rotation_deg" json:"rotation_deg"`
	InvertX            bool    `yaml:"invert_x" json:"invert_x"`
	InvertY            bool    `yaml:"invert_y" json:"invert_y"`
	ThresholdXMT       float64 `yaml:"threshold_x_mt" json:"threshold_x_mt"`
	ThresholdYMT       float64 `yaml:"threshold_y_mt" json:"threshold_y_mt"`
	AbsDeadzoneEnabled bool    `yaml:"abs_deadzone_enabled" json:"abs_deadzone_enabled"`
	AbsDeadzoneMT      float64 `yaml:"abs_deadzone_mt" json:"abs_deadzone_mt"`
	Valid              bool    `yaml:"valid" json:"valid"`
}

// Record flattens the calibration for persistence.
func (c Calibration) Record() Record {
	return Record{
		CenterX:            c.Center.X,
		CenterY:            c.Center.Y,
		SpanX:              c.Span.X,
		SpanY:              c.Span.Y,
		RotationDeg:        c.Rotation.Deg(),
		InvertX:            c.InvertX,
		InvertY:            c.InvertY,
		ThresholdXMT:       c.ThresholdMT.X,
		ThresholdYMT:       c.ThresholdMT.Y,
		AbsDeadzoneEnabled: c.AbsDeadzoneEnabled,
		AbsDeadzoneMT:      c.AbsDeadzoneMT,
		Valid:              c.Valid,
	}
}

// ApplyRecord overlays a persisted record onto base.
// An invalid record yields base unchanged, so callers fall back to defaults.
func ApplyRecord(base Calibration, rec Record) Calibration {
	if !rec.Valid {
		return base
	}
	c := base
	c.Center = Vec2{rec.CenterX, rec.CenterY}
	c.Span = Vec2{rec.SpanX, rec.SpanY}
	c.Rotation = RotationFromDeg(rec.RotationDeg)
	c.InvertX = rec.InvertX
	c.InvertY = rec.InvertY
	c.ThresholdMT = Vec2{rec.ThresholdXMT, rec.ThresholdYMT}
	c.AbsDeadzoneEnabled = rec.AbsDeadzoneEnabled
	c.AbsDeadzoneMT = rec.AbsDeadzoneMT
	c.Valid = true
	c.Normalize()
	if thr := math.Max(rec.ThresholdXMT, rec.ThresholdYMT); thr > 0 {
		c.DigitalThresholdNorm = thresholdNormFromMT(thr, c.Span)
	}
	return c
}

func floorSpan(v float64) float64 {
	if !(v >= MinSpan) {
		return MinSpan
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
