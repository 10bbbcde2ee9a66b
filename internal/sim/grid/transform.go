package grid

import (
	"gadgetgrid/internal/sim/geom"
)

// The transforms below consume the receiver: they return a rebuilt grid and the
// old one must not be used afterwards, since items are moved, not copied.

// Translate shifts every occupant by vec.
func (g *Grid[T]) Translate(vec geom.XY) *Grid[T] {
	out := New[T]()
	for _, e := range g.Entries() {
		out.Insert(e.Item, e.Origin.Add(vec), e.Size)
	}
	return out
}

// Rotate turns the grid by turns counterclockwise quarter turns around center. The
// center is floored to a cell, so (0.5, 0.5) rotates around cell (0, 0).
func (g *Grid[T]) Rotate(center geom.Vec2, turns int) *Grid[T] {
	turns = geom.Mod(turns, 4)
	c := center.Floor()

	out := New[T]()
	for _, e := range g.Entries() {
		xy, wh := e.Origin, e.Size
		for i := 0; i < turns; i++ {
			xy = xy.Sub(c).RightCCW().Add(c)
			wh = wh.Swap()
			// Rotating moved the minimal corner to the maximal x side.
			xy.X += 1 - wh.W
		}
		if turns != 0 {
			e.Item.RotateInGrid(turns)
		}
		out.Insert(e.Item, xy, wh)
	}
	return out
}

// FlipX mirrors the grid across the vertical line through cell column floor(axis).
func (g *Grid[T]) FlipX(axis float64) *Grid[T] {
	a := geom.Vec2{X: axis}.Floor().X

	out := New[T]()
	for _, e := range g.Entries() {
		xy := e.Origin
		xy.X = 2*a + 1 - xy.X - e.Size.W
		e.Item.FlipXInGrid()
		out.Insert(e.Item, xy, e.Size)
	}
	return out
}

// FlipY mirrors the grid across the horizontal line through cell row floor(axis).
func (g *Grid[T]) FlipY(axis float64) *Grid[T] {
	a := geom.Vec2{Y: axis}.Floor().Y

	out := New[T]()
	for _, e := range g.Entries() {
		xy := e.Origin
		xy.Y = 2*a + 1 - xy.Y - e.Size.H
		e.Item.FlipYInGrid()
		out.Insert(e.Item, xy, e.Size)
	}
	return out
}

// Center translates the grid so the bounding box of its occupants is centered on
// the origin. Odd extents are biased toward the lower left.
func (g *Grid[T]) Center() *Grid[T] {
	lo, hi, ok := g.Bounds()
	if !ok {
		return g
	}
	offset := geom.XY{
		X: -geom.FloorDiv(lo.X+hi.X, 2),
		Y: -geom.FloorDiv(lo.Y+hi.Y, 2),
	}
	return g.Translate(offset)
}
