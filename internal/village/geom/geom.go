package geom

import "math"

// MinGridSize keeps snapping away from division by zero.
const MinGridSize = 0.001

// Vec3 is a world position. X and Y are the ground plane; Z is the draw layer.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type Scale struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

var UnitScale = Scale{X: 1, Y: 1}

func ClampGrid(size float64) float64 {
	if math.IsNaN(size) || size < MinGridSize {
		return MinGridSize
	}
	return size
}

// SnapAxis rounds v to the nearest multiple of grid.
func SnapAxis(v, grid float64) float64 {
	grid = ClampGrid(grid)
	return math.Round(v/grid) * grid
}

func (v Vec3) Finite() bool {
	return finite(v.X) && finite(v.Y) && finite(v.Z)
}

func (s Scale) Finite() bool { return finite(s.X) && finite(s.Y) }

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

// Snap snaps the planar axes and leaves Z untouched.
func Snap(p Vec3, grid float64) Vec3 {
	return Vec3{X: SnapAxis(p.X, grid), Y: SnapAxis(p.Y, grid), Z: p.Z}
}
