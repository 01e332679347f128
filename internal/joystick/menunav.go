package joystick

import "math"

// MenuTuning holds the menu-navigation thresholds.
// ReleaseNorm < PressNorm always holds after Clamp.
type MenuTuning struct {
	PressNorm   float64 `yaml:"press_norm" json:"press_norm"`
	ReleaseNorm float64 `yaml:"release_norm" json:"release_norm"`
	AxisRatio   float64 `yaml:"axis_ratio" json:"axis_ratio"`
}

const (
	MenuPressMin   = 0.20
	MenuPressMax   = 0.95
	MenuReleaseMin = 0.05
	MenuMinGap     = 0.05
	MenuRatioMin   = 1.0
	MenuRatioMax   = 4.0

	// MenuNormStep and MenuRatioStep are the per-request adjustment increments.
	MenuNormStep  = 0.05
	MenuRatioStep = 0.25
)

// DefaultMenuTuning returns stock menu thresholds.
func DefaultMenuTuning() MenuTuning {
	return MenuTuning{PressNorm: 0.55, ReleaseNorm: 0.30, AxisRatio: 2.0}
}

// Clamp returns t with every field in range and the press/release gap enforced.
// Press wins over release when they conflict.
func (t MenuTuning) Clamp() MenuTuning {
	if math.IsNaN(t.PressNorm) {
		t.PressNorm = DefaultMenuTuning().PressNorm
	}
	if math.IsNaN(t.ReleaseNorm) {
		t.ReleaseNorm = DefaultMenuTuning().ReleaseNorm
	}
	if math.IsNaN(t.AxisRatio) {
		t.AxisRatio = DefaultMenuTuning().AxisRatio
	}
	t.PressNorm = clamp(t.PressNorm, MenuPressMin, MenuPressMax)
	t.ReleaseNorm = clamp(t.ReleaseNorm, MenuReleaseMin, t.PressNorm-MenuMinGap)
	t.AxisRatio = clamp(t.AxisRatio, MenuRatioMin, MenuRatioMax)
	return t
}

// MenuAdjust is one of the six tuning adjustments.
type MenuAdjust int

const (
	PressUp MenuAdjust = iota
	PressDown
	ReleaseUp
	ReleaseDown
	RatioUp
	RatioDown
)

// Adjust applies one step of a and re-clamps.
func (t MenuTuning) Adjust(a MenuAdjust) MenuTuning {
	switch a {
	case PressUp:
		t.PressNorm += MenuNormStep
	case PressDown:
		t.PressNorm -= MenuNormStep
	case ReleaseUp:
		t.ReleaseNorm += MenuNormStep
	case ReleaseDown:
		t.ReleaseNorm -= MenuNormStep
	case RatioUp:
		t.AxisRatio += MenuRatioStep
	case RatioDown:
		t.AxisRatio -= MenuRatioStep
	}
	return t.Clamp()
}

// MenuNav turns the normalized stick vector into one button event per
// physical excursion: fire above PressNorm, re-arm below ReleaseNorm.
type MenuNav struct {
	tuning            MenuTuning
	waitingForNeutral bool
	lastFired         Direction
}

// NewMenuNav returns a menu decoder with t clamped.
func NewMenuNav(t MenuTuning) *MenuNav {
	return &MenuNav{tuning: t.Clamp()}
}

func (m *MenuNav) Tuning() MenuTuning { return m.tuning }

// SetTuning replaces the thresholds without touching the latch.
func (m *MenuNav) SetTuning(t MenuTuning) { m.tuning = t.Clamp() }

// WaitingForNeutral reports whether an event fired and the stick has not returned.
func (m *MenuNav) WaitingForNeutral() bool { return m.waitingForNeutral }

// LastFired is the direction of the most recent event.
func (m *MenuNav) LastFired() Direction { return m.lastFired }

// Reset re-arms the latch.
func (m *MenuNav) Reset() {
	m.waitingForNeutral = false
	m.lastFired = Neutral
}

// Update feeds one normalized vector. It returns the fired direction and true
// when a new event should be emitted.
func (m *MenuNav) Update(n Vec2) (Direction, bool) {
	r := n.Len()
	if m.waitingForNeutral {
		if r < m.tuning.ReleaseNorm {
			m.waitingForNeutral = false
		}
		return Neutral, false
	}
	if r <= m.tuning.PressNorm {
		return Neutral, false
	}
	d := classifyMenu(n, m.tuning.AxisRatio)
	m.waitingForNeutral = true
	m.lastFired = d
	return d, true
}

// classifyMenu buckets n into 4 cardinal directions when one axis dominates
// the other by ratio, otherwise into a diagonal.
func classifyMenu(n Vec2, ratio float64) Direction {
	ax, ay := math.Abs(n.X), math.Abs(n.Y)
	switch {
	case ax >= ay*ratio:
		if n.X >= 0 {
			return Right
		}
		return Left
	case ay >= ax*ratio:
		if n.Y >= 0 {
			return Up
		}
		return Down
	case n.X >= 0 && n.Y >= 0:
		return UpRight
	case n.X < 0 && n.Y >= 0:
		return UpLeft
	case n.X < 0:
		return DownLeft
	default:
		return DownRight
	}
}
