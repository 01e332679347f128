package joystick

import "math"

// Direction is one of the 8 compass directions or Neutral.
type Direction int

const (
	Neutral Direction = iota
	Right
	UpRight
	Up
	UpLeft
	Left
	DownLeft
	Down
	DownRight
)

const sectorRad = math.Pi / 4

var directionNames = [...]string{
	Neutral:   "neutral",
	Right:     "right",
	UpRight:   "up_right",
	Up:        "up",
	UpLeft:    "up_left",
	Left:      "left",
	DownLeft:  "down_left",
	Down:      "down",
	DownRight: "down_right",
}

func (d Direction) String() string {
	if d < 0 || int(d) >= len(directionNames) {
		return "unknown"
	}
	return directionNames[d]
}

// MarshalText encodes the direction by name for JSON/YAML consumers.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Diagonal reports whether d is one of the four diagonal directions.
func (d Direction) Diagonal() bool {
	switch d {
	case UpRight, UpLeft, DownLeft, DownRight:
		return true
	}
	return false
}

// SectorDirection buckets v into one of 8 equal 45° sectors centered on the
// compass directions, Right at 0° and counting counter-clockwise. biasRad is
// added to the angle before bucketing. A zero vector yields Neutral.
func SectorDirection(v Vec2, biasRad float64) Direction {
	if v.X == 0 && v.Y == 0 {
		return Neutral
	}
	angle := math.Atan2(v.Y, v.X) + biasRad
	idx := int(math.Floor((angle+sectorRad/2)/sectorRad)) & 7
	return Direction(idx + 1)
}
