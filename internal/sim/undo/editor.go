package undo

import (
	"cmp"
	"slices"

	"gadgetgrid/internal/sim/agent"
	"gadgetgrid/internal/sim/gadget"
	"gadgetgrid/internal/sim/geom"
	"gadgetgrid/internal/sim/grid"
)

// Editor applies edits to a Field and records their inverses, one batch per edit.
type Editor struct {
	Field Field
	Stack *Stack
}

func NewEditor(f Field, maxDepth int) *Editor {
	return &Editor{Field: f, Stack: NewStack(maxDepth)}
}

// Place inserts g at origin, evicting whatever it overlaps.
func (e *Editor) Place(g *gadget.Gadget, origin geom.XY) {
	evicted := e.Field.Grid.Insert(g, origin, g.Size())
	for _, ev := range evicted {
		e.Stack.Push(GadgetRemove{Gadget: ev.Item, Origin: ev.Origin})
	}
	e.Stack.Push(GadgetInsert{Origin: origin})
	e.Stack.Batch()
}

// Remove deletes the gadget covering xy, if any.
func (e *Editor) Remove(xy geom.XY) (*gadget.Gadget, bool) {
	ent, ok := e.Field.Grid.Remove(xy)
	if !ok {
		return nil, false
	}
	e.Stack.Push(GadgetRemove{Gadget: ent.Item, Origin: ent.Origin})
	e.Stack.Batch()
	return ent.Item, true
}

// CycleState advances the state of the gadget covering xy.
func (e *Editor) CycleState(xy geom.XY) bool {
	item, origin, _, ok := e.Field.Grid.GetMut(xy)
	if !ok {
		return false
	}
	g := *item
	e.Stack.Push(GadgetChangeState{Origin: origin, State: g.State()})
	g.CycleState()
	e.Stack.Batch()
	return true
}

// Reorient replaces the gadget covering xy with a copy changed by fn, keeping its
// origin. A rotation can grow the footprint and evict neighbours.
func (e *Editor) Reorient(xy geom.XY, fn func(g *gadget.Gadget)) bool {
	ent, ok := e.Field.Grid.Remove(xy)
	if !ok {
		return false
	}
	e.Stack.Push(GadgetRemove{Gadget: ent.Item, Origin: ent.Origin})
	g := ent.Item.Clone()
	fn(g)
	e.insert(g, ent.Origin)
	e.Stack.Batch()
	return true
}

func (e *Editor) insert(g *gadget.Gadget, origin geom.XY) {
	for _, ev := range e.Field.Grid.Insert(g, origin, g.Size()) {
		e.Stack.Push(GadgetRemove{Gadget: ev.Item, Origin: ev.Origin})
	}
	e.Stack.Push(GadgetInsert{Origin: origin})
}

// Region selects every gadget touching the cells from Min to Max inclusive.
type Region struct {
	Min geom.XY
	Max geom.XY
}

// Selected lists copies of the gadgets in r, ordered by origin so the result does
// not depend on map order.
func (e *Editor) Selected(r Region) []grid.Entry[*gadget.Gadget] {
	var out []grid.Entry[*gadget.Gadget]
	for ent := range e.Field.Grid.InBounds(float64(r.Min.X)+0.5, float64(r.Max.X)+0.5, float64(r.Min.Y)+0.5, float64(r.Max.Y)+0.5) {
		out = append(out, ent)
	}
	slices.SortFunc(out, func(a, b grid.Entry[*gadget.Gadget]) int {
		if c := cmp.Compare(a.Origin.Y, b.Origin.Y); c != 0 {
			return c
		}
		return cmp.Compare(a.Origin.X, b.Origin.X)
	})
	return out
}

// Clip builds a standalone grid from copies of the selected gadgets, moved so
// that r.Min lands on (0, 0), or centered on (0, 0) when center is set.
func Clip(sel []grid.Entry[*gadget.Gadget], r Region, center bool) *grid.Grid[*gadget.Gadget] {
	clip := grid.New[*gadget.Gadget]()
	for _, ent := range sel {
		clip.Insert(ent.Item.Clone(), ent.Origin, ent.Size)
	}
	if center {
		return clip.Center()
	}
	return clip.Translate(r.Min.Neg())
}

// Stamp inserts every gadget of clip shifted by to. When cut is set the gadgets
// in sel are removed first, all in the same batch. It returns how many gadgets
// were placed.
func (e *Editor) Stamp(clip *grid.Grid[*gadget.Gadget], to geom.XY, sel []grid.Entry[*gadget.Gadget], cut bool) int {
	if cut {
		for _, ent := range sel {
			if removed, ok := e.Field.Grid.Remove(ent.Origin); ok {
				e.Stack.Push(GadgetRemove{Gadget: removed.Item, Origin: removed.Origin})
			}
		}
	}
	n := 0
	for _, ent := range clip.Translate(to).Entries() {
		e.insert(ent.Item, ent.Origin)
		n++
	}
	e.Stack.Batch()
	return n
}

// Fill places a copy of proto at every empty cell of r where its whole footprint
// is empty and inside r. It returns how many copies were placed.
func (e *Editor) Fill(proto *gadget.Gadget, r Region) int {
	size := proto.Size()
	n := 0
	for _, xy := range e.Field.Grid.EmptyInBounds(float64(r.Min.X), float64(r.Max.X), float64(r.Min.Y), float64(r.Max.Y)) {
		if xy.X+size.W-1 > r.Max.X || xy.Y+size.H-1 > r.Max.Y || !e.free(xy, size) {
			continue
		}
		e.insert(proto.Clone(), xy)
		n++
	}
	if n > 0 {
		e.Stack.Batch()
	}
	return n
}

func (e *Editor) free(origin geom.XY, size geom.WH) bool {
	for y := origin.Y; y < origin.Y+size.H; y++ {
		for x := origin.X; x < origin.X+size.W; x++ {
			if _, taken := e.Field.Grid.Get(geom.XY{X: x, Y: y}); taken {
				return false
			}
		}
	}
	return true
}

// Advance moves the agent and records the move, including a bare turn-around.
func (e *Editor) Advance(input geom.XY) (agent.Step, bool) {
	a := e.Field.Agent
	if a == nil {
		return agent.Step{}, false
	}
	prev := AgentMove{DoubleXY: a.DoubleXY(), Facing: a.Facing()}
	step, moved := a.Advance(e.Field.Grid, input)
	if moved && step.PrevState != step.NewState {
		e.Stack.Push(GadgetChangeState{Origin: step.Origin, State: step.PrevState})
	}
	if a.DoubleXY() != prev.DoubleXY || a.Facing() != prev.Facing {
		e.Stack.Push(prev)
	}
	e.Stack.Batch()
	return step, moved
}

func (e *Editor) Undo() bool { return e.Stack.Undo(&e.Field) }
func (e *Editor) Redo() bool { return e.Stack.Redo(&e.Field) }
