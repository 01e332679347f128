package joystick

import (
	"errors"
	"math"
	"testing"
)

func approx(a, b, eps float64) bool { return math.Abs(a-b) <= eps }

func testCal() Calibration {
	c := DefaultCalibration()
	c.Span = Vec2{10, 10}
	return c
}

func TestDecode_AbsDeadzoneShortCircuits(t *testing.T) {
	c := testCal()
	c.Center = Vec2{10, 10}
	c.AbsDeadzoneEnabled = true
	c.AbsDeadzoneMT = 2.0
	d := NewDecoder(c, 0)

	s := d.Decode(Vec2{10, 10})
	if !s.Gated {
		t.Fatalf("expected gated sample")
	}
	if s.Norm != (Vec2{}) || s.Direction != Neutral || !s.Neutral {
		t.Fatalf("sample=%+v want zero/neutral", s)
	}
	if s.RAbsMT != 0 {
		t.Fatalf("r_abs=%v want 0", s.RAbsMT)
	}

	// Inside the gate but non-zero radius is still reported for telemetry.
	s = d.Decode(Vec2{11, 10})
	if !s.Gated || !approx(s.RAbsMT, 1, 1e-12) {
		t.Fatalf("sample=%+v want gated with r_abs=1", s)
	}
}

func TestDecode_GateDoesNotTouchHysteresis(t *testing.T) {
	c := testCal()
	c.AbsDeadzoneEnabled = true
	c.AbsDeadzoneMT = 0.5
	d := NewDecoder(c, 0)

	if s := d.Decode(Vec2{5, 0}); s.Neutral {
		t.Fatalf("expected active after large deflection")
	}
	// Gated sample must not re-enter neutral.
	_ = d.Decode(Vec2{0.1, 0})
	// 0.13 is between enter (0.10) and exit (0.16): stays active only if memory survived.
	if s := d.Decode(Vec2{1.3, 0}); s.Neutral {
		t.Fatalf("hysteresis memory was reset by gated sample")
	}
}

func TestDecode_RotateInvertScaleOrder(t *testing.T) {
	c := DefaultCalibration()
	c.Center = Vec2{1, 2}
	c.Span = Vec2{4, 8}
	c.Rotation = RotationFromDeg(90)
	c.InvertX = true
	c.Hysteresis.Enabled = false
	c.DeadzoneNorm = 0
	d := NewDecoder(c, 0)

	// delta (2,0) → rotate 90° → (0,2) → invert x → (0,2) → scale → (0, 0.25)
	s := d.Decode(Vec2{3, 2})
	if !approx(s.Norm.X, 0, 1e-12) || !approx(s.Norm.Y, 0.25, 1e-12) {
		t.Fatalf("norm=%+v want (0,0.25)", s.Norm)
	}

	// delta (0,4) → rotate → (-4,0) → invert x → (4,0) → scale → (1,0)
	s = d.Decode(Vec2{1, 6})
	if !approx(s.Norm.X, 1, 1e-12) || !approx(s.Norm.Y, 0, 1e-12) {
		t.Fatalf("norm=%+v want (1,0)", s.Norm)
	}
	if s.Direction != Right {
		t.Fatalf("direction=%s want right", s.Direction)
	}
}

func TestDecode_StaticPolicyIsPure(t *testing.T) {
	c := testCal()
	c.Hysteresis.Enabled = false
	c.DeadzoneNorm = 0.2
	d := NewDecoder(c, 0)

	inputs := []Vec2{{1, 0}, {3, 4}, {-2.5, 0.1}, {0, -9}}
	for _, in := range inputs {
		a := d.Decode(in)
		b := d.Decode(in)
		if a != b {
			t.Fatalf("decode(%v) not idempotent: %+v vs %+v", in, a, b)
		}
	}
	if s := d.Decode(Vec2{1.9, 0}); !s.Neutral {
		t.Fatalf("r=0.19 should be inside static deadzone")
	}
	if s := d.Decode(Vec2{2.1, 0}); s.Neutral {
		t.Fatalf("r=0.21 should be outside static deadzone")
	}
}

func TestDecode_HysteresisSingleTransitionPerExcursion(t *testing.T) {
	c := testCal()
	c.Hysteresis = Hysteresis{Enabled: true, EnterNorm: 0.2, ExitNorm: 0.3}
	d := NewDecoder(c, 0)

	var radii []float64
	for r := 0.0; r <= 0.6; r += 0.01 {
		radii = append(radii, r)
	}
	for r := 0.6; r >= 0; r -= 0.01 {
		radii = append(radii, r)
	}
	// Dwell exactly on both thresholds as well.
	radii = append(radii, 0.2, 0.2, 0.3, 0.3, 0.2)

	var toActive, toNeutral int
	prevNeutral := true
	for _, r := range radii {
		s := d.Decode(Vec2{r * 10, 0})
		if prevNeutral && !s.Neutral {
			toActive++
		}
		if !prevNeutral && s.Neutral {
			toNeutral++
		}
		prevNeutral = s.Neutral
	}
	if toActive != 1 || toNeutral != 1 {
		t.Fatalf("transitions active=%d neutral=%d want 1/1", toActive, toNeutral)
	}
}

func TestDecodeRead_FailureIsNeutralAndStateless(t *testing.T) {
	c := testCal()
	c.Hysteresis = Hysteresis{Enabled: true, EnterNorm: 0.2, ExitNorm: 0.3}
	d := NewDecoder(c, 0)
	_ = d.Decode(Vec2{5, 0})

	s, err := d.DecodeRead(func() (Vec2, error) { return Vec2{}, errors.New("i2c nack") })
	if err == nil {
		t.Fatalf("expected error")
	}
	if !s.Neutral || s.Direction != Neutral || s.Norm != (Vec2{}) {
		t.Fatalf("sample=%+v want neutral", s)
	}
	if s := d.Decode(Vec2{2.5, 0}); s.Neutral {
		t.Fatalf("failed read must not reset hysteresis")
	}
}

func TestSectorDirection(t *testing.T) {
	cases := []struct {
		deg  float64
		want Direction
	}{
		{0, Right},
		{22, Right},
		{23, UpRight},
		{45, UpRight},
		{90, Up},
		{135, UpLeft},
		{180, Left},
		{-180, Left},
		{-135, DownLeft},
		{-90, Down},
		{-45, DownRight},
		{-22, Right},
		{340, Right},
	}
	for _, tc := range cases {
		rad := tc.deg * math.Pi / 180
		v := Vec2{math.Cos(rad), math.Sin(rad)}
		if got := SectorDirection(v, 0); got != tc.want {
			t.Fatalf("deg=%v got %s want %s", tc.deg, got, tc.want)
		}
	}
	if got := SectorDirection(Vec2{}, 0); got != Neutral {
		t.Fatalf("zero vector got %s want neutral", got)
	}
	// A +30° bias pushes 20° over the Right/UpRight boundary.
	v := Vec2{math.Cos(20 * math.Pi / 180), math.Sin(20 * math.Pi / 180)}
	if got := SectorDirection(v, 30*math.Pi/180); got != UpRight {
		t.Fatalf("biased got %s want up_right", got)
	}
}

func TestDecode_DirectionRequiresDigitalThreshold(t *testing.T) {
	c := testCal()
	c.Hysteresis.Enabled = false
	c.DeadzoneNorm = 0
	c.DigitalThresholdNorm = 0.5
	d := NewDecoder(c, 0)

	if s := d.Decode(Vec2{0, 4}); s.Direction != Neutral {
		t.Fatalf("r=0.4 direction=%s want neutral", s.Direction)
	}
	if s := d.Decode(Vec2{0, 6}); s.Direction != Up {
		t.Fatalf("r=0.6 direction=%s want up", s.Direction)
	}
}

func TestProportional(t *testing.T) {
	// dz=0.2, gamma=1, r=0.6 → k=0.5 along the same direction.
	n := Vec2{0.6 * math.Cos(1), 0.6 * math.Sin(1)}
	out := Proportional(n, 0.2, 1.0)
	if !approx(out.Len(), 0.5, 1e-12) {
		t.Fatalf("|out|=%v want 0.5", out.Len())
	}
	if !approx(math.Atan2(out.Y, out.X), 1, 1e-12) {
		t.Fatalf("direction changed: %v", math.Atan2(out.Y, out.X))
	}

	if out := Proportional(Vec2{0.2, 0}, 0.2, 1); out != (Vec2{}) {
		t.Fatalf("r==dz got %+v want zero", out)
	}
	if out := Proportional(Vec2{3, 0}, 0.2, 1); !approx(out.X, 1, 1e-12) {
		t.Fatalf("r>1 got %+v want clamp to 1", out)
	}

	soft := Proportional(Vec2{0.6, 0}, 0.2, 2.0)
	if !approx(soft.X, 0.25, 1e-12) {
		t.Fatalf("gamma=2 got %v want 0.25", soft.X)
	}
	snappy := Proportional(Vec2{0.6, 0}, 0.2, 0.5)
	if !approx(snappy.X, math.Sqrt(0.5), 1e-12) {
		t.Fatalf("gamma=0.5 got %v want %v", snappy.X, math.Sqrt(0.5))
	}
}

func TestCalibrationNormalize_SpanFloor(t *testing.T) {
	cases := []Vec2{{0, 0}, {-3, 0.2}, {math.NaN(), 5}, {0.999, 1}}
	for _, span := range cases {
		c := DefaultCalibration()
		c.Span = span
		c.Normalize()
		if !(c.Span.X >= MinSpan) || !(c.Span.Y >= MinSpan) {
			t.Fatalf("span %v normalized to %v", span, c.Span)
		}
	}
	c := DefaultCalibration()
	c.Hysteresis = Hysteresis{Enabled: true, EnterNorm: 0.4, ExitNorm: 0.1}
	c.Normalize()
	if c.Hysteresis.ExitNorm < c.Hysteresis.EnterNorm {
		t.Fatalf("exit %v < enter %v", c.Hysteresis.ExitNorm, c.Hysteresis.EnterNorm)
	}
}

func TestApplyRecord_InvalidFallsBack(t *testing.T) {
	base := DefaultCalibration()
	got := ApplyRecord(base, Record{CenterX: 5, SpanX: 9, Valid: false})
	if got != base {
		t.Fatalf("invalid record changed calibration: %+v", got)
	}

	rec := Record{CenterX: 1, CenterY: -2, SpanX: 0, SpanY: 12, RotationDeg: 30, InvertY: true, Valid: true}
	got = ApplyRecord(base, rec)
	if !got.Valid || got.Center != (Vec2{1, -2}) || got.Span.X != MinSpan || got.Span.Y != 12 || !got.InvertY {
		t.Fatalf("applied=%+v", got)
	}
	if !approx(got.Rotation.Deg(), 30, 1e-9) {
		t.Fatalf("rotation=%v want 30", got.Rotation.Deg())
	}
}

func TestSetDeadzone_ShiftsHysteresisBand(t *testing.T) {
	c := DefaultCalibration()
	c.SetDeadzone(c.DeadzoneNorm + DeadzoneStep)
	if !approx(c.DeadzoneNorm, 0.14, 1e-12) {
		t.Fatalf("deadzone=%v want 0.14", c.DeadzoneNorm)
	}
	if !approx(c.Hysteresis.EnterNorm, 0.12, 1e-12) || !approx(c.Hysteresis.ExitNorm, 0.18, 1e-12) {
		t.Fatalf("hysteresis=%+v want 0.12/0.18", c.Hysteresis)
	}

	c.SetDeadzone(-1)
	if c.DeadzoneNorm != 0 || c.Hysteresis.EnterNorm != 0 || !approx(c.Hysteresis.ExitNorm, 0.06, 1e-12) {
		t.Fatalf("after floor: %+v", c)
	}
	c.SetDeadzone(5)
	if c.DeadzoneNorm != MaxDeadzoneNorm || c.Hysteresis.ExitNorm < c.Hysteresis.EnterNorm {
		t.Fatalf("after ceiling: %+v", c)
	}
}
