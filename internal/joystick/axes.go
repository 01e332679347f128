package joystick

import "math"

// AxisFit is the sensor-to-mechanical alignment recovered from the four
// direction captures.
type AxisFit struct {
	Rotation Rotation
	InvertX  bool
	InvertY  bool
	// Residual is the summed squared angular error (rad²) of the chosen fit.
	Residual float64
}

var axisTargets = [4]Vec2{
	{0, 1},  // up
	{1, 0},  // right
	{0, -1}, // down
	{-1, 0}, // left
}

// SolveAxes picks the axis inversion and rotation that best map the measured
// up/right/down/left vectors onto their ideal unit targets.
//
// For each of the four inversion combinations the optimal angle is solved in
// closed form from the summed cross and dot products; the combination with the
// smallest squared angular residual wins. Ties keep the earlier combination,
// so the no-inversion solution is preferred over its 180° equivalent.
func SolveAxes(up, right, down, left Vec2) AxisFit {
	measured := [4]Vec2{up, right, down, left}
	var units [4]Vec2
	var have [4]bool
	for i, m := range measured {
		units[i], have[i] = m.unit()
	}

	best := AxisFit{Rotation: Identity(), Residual: math.Inf(1)}
	for combo := 0; combo < 4; combo++ {
		invX := combo&1 != 0
		invY := combo&2 != 0

		// Decoding applies rotate then invert; inversion is its own inverse,
		// so the rotation must carry each measurement onto the inverted target.
		var cross, dot float64
		var targets [4]Vec2
		for i, t := range axisTargets {
			if invX {
				t.X = -t.X
			}
			if invY {
				t.Y = -t.Y
			}
			targets[i] = t
			if !have[i] {
				continue
			}
			cross += units[i].Cross(t)
			dot += units[i].Dot(t)
		}
		theta := math.Atan2(cross, dot)
		rot := RotationFromRad(theta)

		var residual float64
		for i := range targets {
			if !have[i] {
				continue
			}
			r := rot.Apply(units[i])
			e := math.Atan2(r.Cross(targets[i]), r.Dot(targets[i]))
			residual += e * e
		}
		if residual < best.Residual {
			best = AxisFit{Rotation: rot, InvertX: invX, InvertY: invY, Residual: residual}
		}
	}
	return best
}
