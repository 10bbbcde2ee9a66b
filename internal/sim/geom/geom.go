// Package geom holds the small integer and real vector types shared by the grid,
// gadgets and the agent.
package geom

import "math"

// XY is an integer grid coordinate or displacement.
type XY struct {
	X int
	Y int
}

// WH is a footprint size in cells. Both components are expected to be positive.
type WH struct {
	W int
	H int
}

// Vec2 is a real 2D coordinate, used for port positions and rotation centers.
type Vec2 struct {
	X float64
	Y float64
}

var (
	North = XY{X: 0, Y: 1}
	South = XY{X: 0, Y: -1}
	East  = XY{X: 1, Y: 0}
	West  = XY{X: -1, Y: 0}
)

func (v XY) Add(o XY) XY     { return XY{X: v.X + o.X, Y: v.Y + o.Y} }
func (v XY) Sub(o XY) XY     { return XY{X: v.X - o.X, Y: v.Y - o.Y} }
func (v XY) Scale(k int) XY  { return XY{X: v.X * k, Y: v.Y * k} }
func (v XY) Neg() XY         { return XY{X: -v.X, Y: -v.Y} }
func (v XY) Dot(o XY) int    { return v.X*o.X + v.Y*o.Y }
func (v XY) ToArray() [2]int { return [2]int{v.X, v.Y} }

// RightCCW rotates the vector 90 degrees counterclockwise.
func (v XY) RightCCW() XY { return XY{X: -v.Y, Y: v.X} }

// RightCW rotates the vector 90 degrees clockwise.
func (v XY) RightCW() XY { return XY{X: v.Y, Y: -v.X} }

// IsCardinal reports whether v is one of the four unit directions.
func (v XY) IsCardinal() bool {
	return (v.X == 0 && (v.Y == 1 || v.Y == -1)) || (v.Y == 0 && (v.X == 1 || v.X == -1))
}

func (s WH) Area() int      { return s.W * s.H }
func (s WH) Perimeter() int { return 2*s.W + 2*s.H }
func (s WH) Swap() WH       { return WH{W: s.H, H: s.W} }
func (s WH) ToArray() [2]int {
	return [2]int{s.W, s.H}
}

func (v Vec2) Add(o Vec2) Vec2        { return Vec2{X: v.X + o.X, Y: v.Y + o.Y} }
func (v Vec2) Scale(k float64) Vec2   { return Vec2{X: v.X * k, Y: v.Y * k} }
func (v Vec2) Floor() XY              { return XY{X: int(math.Floor(v.X)), Y: int(math.Floor(v.Y))} }
func (v XY) ToVec2() Vec2             { return Vec2{X: float64(v.X), Y: float64(v.Y)} }
func (v Vec2) ToArray() [2]float64    { return [2]float64{v.X, v.Y} }
func Vec2FromArray(a [2]float64) Vec2 { return Vec2{X: a[0], Y: a[1]} }

// Round converts a real coordinate to the nearest integer coordinate.
func (v Vec2) Round() XY { return XY{X: int(math.Round(v.X)), Y: int(math.Round(v.Y))} }

// Mod is the euclidean remainder: the result is always in [0, |m|).
func Mod(a, m int) int {
	r := a % m
	if r < 0 {
		if m < 0 {
			r -= m
		} else {
			r += m
		}
	}
	return r
}

// FloorDiv is integer division rounding toward negative infinity.
func FloorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
