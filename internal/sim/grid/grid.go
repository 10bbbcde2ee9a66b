// Package grid implements a sparse spatial index for items whose footprint is an
// axis-aligned rectangle of cells.
//
// Every cell covered by an item maps to the same entry, and footprints never overlap:
// inserting over occupied cells evicts whatever was there. Whole-grid transforms
// (translate, rotate, flip) rebuild the grid and ask each item to reorient itself so
// that orientation-dependent item state stays consistent with its new placement.
package grid

import (
	"iter"
	"math"
	"sort"

	"gadgetgrid/internal/sim/geom"
)

// CoordLimit bounds every coordinate an occupant may cover. Footprint loops stay
// far from integer overflow inside it.
const CoordLimit = 1 << 24

// InLimit reports whether a footprint at origin lies inside
// [-CoordLimit, CoordLimit] on both axes.
func InLimit(origin geom.XY, size geom.WH) bool {
	return origin.X >= -CoordLimit && origin.Y >= -CoordLimit &&
		size.W <= CoordLimit && size.H <= CoordLimit &&
		origin.X <= CoordLimit-size.W && origin.Y <= CoordLimit-size.H
}

// Item is the reorientation capability a grid occupant must provide so the generic
// transforms can keep it consistent.
type Item interface {
	// RotateInGrid is called once per whole-grid rotation with the number of
	// counterclockwise quarter turns in [0, 4).
	RotateInGrid(turns int)
	FlipXInGrid()
	FlipYInGrid()
}

// Entry is an occupant together with its minimal corner and footprint size.
type Entry[T any] struct {
	Item   T
	Origin geom.XY
	Size   geom.WH
}

// Contains reports whether cell xy lies in the entry's footprint.
func (e Entry[T]) Contains(xy geom.XY) bool {
	return xy.X >= e.Origin.X && xy.X < e.Origin.X+e.Size.W &&
		xy.Y >= e.Origin.Y && xy.Y < e.Origin.Y+e.Size.H
}

// Touch is the result of an edge query: the occupant on one side of a unit edge and
// the perimeter index of that edge relative to the occupant.
type Touch[T any] struct {
	Item   *T
	Origin geom.XY
	Size   geom.WH
	Index  int
}

type Grid[T Item] struct {
	items  map[uint64]*Entry[T]
	cells  map[geom.XY]uint64
	nextID uint64
}

func New[T Item]() *Grid[T] {
	return &Grid[T]{
		items: map[uint64]*Entry[T]{},
		cells: map[geom.XY]uint64{},
	}
}

// FromEntries builds a grid by inserting entries in order; later entries evict
// earlier overlapping ones.
func FromEntries[T Item](entries []Entry[T]) *Grid[T] {
	g := New[T]()
	for _, e := range entries {
		g.Insert(e.Item, e.Origin, e.Size)
	}
	return g
}

func (g *Grid[T]) Len() int      { return len(g.items) }
func (g *Grid[T]) IsEmpty() bool { return len(g.items) == 0 }

// Get returns the entry covering cell xy.
func (g *Grid[T]) Get(xy geom.XY) (Entry[T], bool) {
	id, ok := g.cells[xy]
	if !ok {
		return Entry[T]{}, false
	}
	return *g.items[id], true
}

// GetMut returns a pointer to the item covering cell xy so it can be changed in
// place. Origin and size are returned by value: moving an item means Remove then
// Insert.
func (g *Grid[T]) GetMut(xy geom.XY) (*T, geom.XY, geom.WH, bool) {
	id, ok := g.cells[xy]
	if !ok {
		return nil, geom.XY{}, geom.WH{}, false
	}
	e := g.items[id]
	return &e.Item, e.Origin, e.Size, true
}

// Insert places item with its minimal corner at origin, evicting every occupant that
// overlaps the new footprint. The evicted entries are returned in eviction order.
// Size components must be positive.
func (g *Grid[T]) Insert(item T, origin geom.XY, size geom.WH) []Entry[T] {
	if size.W <= 0 || size.H <= 0 {
		panic("grid: insert with non-positive size")
	}

	var evicted []Entry[T]
	for y := origin.Y; y < origin.Y+size.H; y++ {
		for x := origin.X; x < origin.X+size.W; x++ {
			if e, ok := g.Remove(geom.XY{X: x, Y: y}); ok {
				evicted = append(evicted, e)
			}
		}
	}

	id := g.nextID
	g.nextID++
	g.items[id] = &Entry[T]{Item: item, Origin: origin, Size: size}
	for y := origin.Y; y < origin.Y+size.H; y++ {
		for x := origin.X; x < origin.X+size.W; x++ {
			g.cells[geom.XY{X: x, Y: y}] = id
		}
	}
	return evicted
}

// Remove takes out the occupant covering cell xy, if any.
func (g *Grid[T]) Remove(xy geom.XY) (Entry[T], bool) {
	id, ok := g.cells[xy]
	if !ok {
		return Entry[T]{}, false
	}
	e := g.items[id]
	delete(g.items, id)
	for y := e.Origin.Y; y < e.Origin.Y+e.Size.H; y++ {
		for x := e.Origin.X; x < e.Origin.X+e.Size.W; x++ {
			delete(g.cells, geom.XY{X: x, Y: y})
		}
	}
	return *e, true
}

// Entries returns every occupant ordered by insertion.
func (g *Grid[T]) Entries() []Entry[T] {
	ids := g.sortedIDs()
	out := make([]Entry[T], 0, len(ids))
	for _, id := range ids {
		out = append(out, *g.items[id])
	}
	return out
}

func (g *Grid[T]) sortedIDs() []uint64 {
	ids := make([]uint64, 0, len(g.items))
	for id := range g.items {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// InBounds lazily yields the occupants whose rectangle intersects the closed box.
// Order is unspecified.
func (g *Grid[T]) InBounds(minX, maxX, minY, maxY float64) iter.Seq[Entry[T]] {
	return func(yield func(Entry[T]) bool) {
		for _, e := range g.items {
			x, y := float64(e.Origin.X), float64(e.Origin.Y)
			w, h := float64(e.Size.W), float64(e.Size.H)
			if x+w >= minX && x <= maxX && y+h >= minY && y <= maxY {
				if !yield(*e) {
					return
				}
			}
		}
	}
}

// EmptyInBounds lists the unoccupied cells of the box, rounded outward to integers.
func (g *Grid[T]) EmptyInBounds(minX, maxX, minY, maxY float64) []geom.XY {
	x0, x1 := int(math.Floor(minX)), int(math.Ceil(maxX))
	y0, y1 := int(math.Floor(minY)), int(math.Ceil(maxY))

	var out []geom.XY
	for x := x0; x <= x1; x++ {
		for y := y0; y <= y1; y++ {
			xy := geom.XY{X: x, Y: y}
			if _, ok := g.cells[xy]; !ok {
				out = append(out, xy)
			}
		}
	}
	return out
}

// ItemTouchingEdge finds the occupant touching the unit edge whose midpoint is
// doubleXY/2, on the side that direction points to, and the index of that edge along
// the occupant's perimeter. The perimeter is walked counterclockwise starting just
// after the bottom-left corner: bottom [0,W), right [W,W+H), top [W+H,2W+H),
// left [2W+H,2W+2H).
//
// doubleXY must have exactly one odd component.
func (g *Grid[T]) ItemTouchingEdge(doubleXY, direction geom.XY) (Touch[T], bool) {
	xOdd := geom.Mod(doubleXY.X, 2)
	yOdd := geom.Mod(doubleXY.Y, 2)
	if xOdd == yOdd {
		panic("grid: position is not on an edge midpoint")
	}

	xy := geom.XY{X: geom.FloorDiv(doubleXY.X, 2), Y: geom.FloorDiv(doubleXY.Y, 2)}
	cell := xy
	if direction.X < 0 {
		cell.X--
	}
	if direction.Y < 0 {
		cell.Y--
	}

	item, origin, size, ok := g.GetMut(cell)
	if !ok {
		return Touch[T]{}, false
	}
	w, h := size.W, size.H

	var idx int
	if xOdd != 0 {
		if xy.Y == origin.Y {
			idx = xy.X - origin.X
		} else {
			idx = (w + h + w) - (xy.X - origin.X) - 1
		}
	} else {
		if xy.X == origin.X {
			idx = (w + h + w + h) - (xy.Y - origin.Y) - 1
		} else {
			idx = w + (xy.Y - origin.Y)
		}
	}
	return Touch[T]{Item: item, Origin: origin, Size: size, Index: idx}, true
}

// Bounds returns the minimal corner and the exclusive maximal corner of the box
// enclosing every occupant. ok is false for an empty grid.
func (g *Grid[T]) Bounds() (lo, hi geom.XY, ok bool) {
	for _, e := range g.items {
		elo := e.Origin
		ehi := geom.XY{X: e.Origin.X + e.Size.W, Y: e.Origin.Y + e.Size.H}
		if !ok {
			lo, hi, ok = elo, ehi, true
			continue
		}
		lo.X = min(lo.X, elo.X)
		lo.Y = min(lo.Y, elo.Y)
		hi.X = max(hi.X, ehi.X)
		hi.Y = max(hi.Y, ehi.Y)
	}
	return lo, hi, ok
}
