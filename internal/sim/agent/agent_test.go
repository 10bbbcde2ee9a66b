package agent

import (
	"testing"

	"gadgetgrid/internal/sim/gadget"
	"gadgetgrid/internal/sim/geom"
	"gadgetgrid/internal/sim/grid"
)

func tr(s0, p0, s1, p1 int) gadget.Traversal {
	return gadget.Traversal{
		From: gadget.SP{State: gadget.State(s0), Port: gadget.Port(p0)},
		To:   gadget.SP{State: gadget.State(s1), Port: gadget.Port(p1)},
	}
}

func xy(x, y int) geom.XY { return geom.XY{X: x, Y: y} }

var one = geom.WH{W: 1, H: 1}

func place(g *grid.Grid[*gadget.Gadget], gad *gadget.Gadget, origin geom.XY) *gadget.Gadget {
	g.Insert(gad, origin, gad.Size())
	return gad
}

func assertAgent(t *testing.T, a *Agent, double, facing geom.XY) {
	t.Helper()
	if a.DoubleXY() != double || a.Facing() != facing {
		t.Fatalf("agent at %v facing %v, want %v facing %v", a.DoubleXY(), a.Facing(), double, facing)
	}
}

func TestAdvance_StraightThrough(t *testing.T) {
	g := grid.New[*gadget.Gadget]()
	def := gadget.NewDefFromTraversals(1, 2, []gadget.Traversal{tr(0, 0, 0, 1)})
	gad := place(g, gadget.New(def, one, []int{0, 2}, 0), xy(0, 0))

	a := NewDouble(xy(1, 0), geom.North)
	step, ok := a.Advance(g, geom.North)
	if !ok {
		t.Fatalf("expected a move")
	}
	assertAgent(t, a, xy(1, 2), geom.North)
	if p := a.Position(); p.X != 0.5 || p.Y != 1.0 {
		t.Fatalf("position = %v", p)
	}
	if gad.State() != 0 || step.PrevState != 0 || step.Origin != xy(0, 0) {
		t.Fatalf("state=%d step=%+v", gad.State(), step)
	}
	if step.EnterPort != 0 || step.ExitPort != 1 {
		t.Fatalf("ports = %d -> %d", step.EnterPort, step.ExitPort)
	}
}

func TestAdvance_TurnAroundOnly(t *testing.T) {
	g := grid.New[*gadget.Gadget]()
	def := gadget.NewDefFromTraversals(2, 2, []gadget.Traversal{tr(0, 0, 1, 1)})
	gad := place(g, gadget.New(def, one, []int{0, 2}, 0), xy(0, 0))

	a := NewDouble(xy(1, 0), geom.North)
	v := gad.Version()
	if _, ok := a.Advance(g, geom.South); ok {
		t.Fatalf("turning around should not report a move")
	}
	assertAgent(t, a, xy(1, 0), geom.South)
	if gad.State() != 0 || gad.Version() != v {
		t.Fatalf("gadget touched by a turn-around")
	}
}

func TestAdvance_DeadEnd(t *testing.T) {
	g := grid.New[*gadget.Gadget]()
	def := gadget.NewDefFromTraversals(1, 1, []gadget.Traversal{tr(0, 0, 0, 0)})
	place(g, gadget.New(def, one, []int{2}, 0), xy(0, 0))

	a := NewDouble(xy(1, 0), geom.North)
	for _, in := range []geom.XY{geom.North, geom.East, geom.West} {
		if _, ok := a.Advance(g, in); ok {
			t.Fatalf("input %v: unexpected move", in)
		}
		assertAgent(t, a, xy(1, 0), geom.North)
	}
}

func TestAdvance_NoGadget(t *testing.T) {
	a := NewDouble(xy(1, 0), geom.North)
	if _, ok := a.Advance(grid.New[*gadget.Gadget](), geom.North); ok {
		t.Fatalf("unexpected move on an empty grid")
	}
	assertAgent(t, a, xy(1, 0), geom.North)
}

func TestAdvance_ToggleChangesState(t *testing.T) {
	g := grid.New[*gadget.Gadget]()
	def := gadget.NewDefFromTraversals(2, 2, []gadget.Traversal{tr(0, 0, 1, 1), tr(1, 1, 0, 0)})
	gad := place(g, gadget.New(def, one, []int{0, 2}, 0), xy(0, 0))

	a := NewDouble(xy(1, 0), geom.North)
	step, ok := a.Advance(g, geom.North)
	if !ok || gad.State() != 1 || step.PrevState != 0 || step.NewState != 1 {
		t.Fatalf("first pass: ok=%v state=%d step=%+v", ok, gad.State(), step)
	}
	assertAgent(t, a, xy(1, 2), geom.North)

	// Nothing above: going on does nothing.
	if _, ok := a.Advance(g, geom.North); ok {
		t.Fatalf("unexpected move past the top")
	}
	a.Advance(g, geom.South)
	assertAgent(t, a, xy(1, 2), geom.South)

	step, ok = a.Advance(g, geom.South)
	if !ok || gad.State() != 0 || step.PrevState != 1 {
		t.Fatalf("return pass: ok=%v state=%d step=%+v", ok, gad.State(), step)
	}
	assertAgent(t, a, xy(1, 0), geom.South)
}

func TestAdvance_LoneSideExitWhenGoingForward(t *testing.T) {
	g := grid.New[*gadget.Gadget]()
	def := gadget.NewDefFromTraversals(1, 2, []gadget.Traversal{tr(0, 0, 0, 1), tr(0, 1, 0, 0)})
	place(g, gadget.New(def, one, []int{0, 1}, 0), xy(0, 0))

	a := NewDouble(xy(1, 0), geom.North)
	if _, ok := a.Advance(g, geom.West); ok {
		t.Fatalf("left turn should find no exit")
	}
	if _, ok := a.Advance(g, geom.North); !ok {
		t.Fatalf("forward should take the lone right exit")
	}
	assertAgent(t, a, xy(2, 1), geom.East)

	b := NewDouble(xy(1, 0), geom.North)
	if _, ok := b.Advance(g, geom.East); !ok {
		t.Fatalf("right turn should take the right exit")
	}
	assertAgent(t, b, xy(2, 1), geom.East)
}

func threeWay() *gadget.Gadget {
	var ts []gadget.Traversal
	for a := 0; a < 3; a++ {
		for b := 0; b < 3; b++ {
			if a != b {
				ts = append(ts, tr(0, a, 0, b))
			}
		}
	}
	return gadget.New(gadget.NewDefFromTraversals(1, 3, ts), one, []int{0, 1, 3}, 0)
}

func TestAdvance_ForwardTieSkipsSides(t *testing.T) {
	g := grid.New[*gadget.Gadget]()
	place(g, threeWay(), xy(0, 0))

	a := NewDouble(xy(1, 0), geom.North)
	if _, ok := a.Advance(g, geom.North); ok {
		t.Fatalf("left/right tie should not move")
	}
	assertAgent(t, a, xy(1, 0), geom.North)

	if _, ok := a.Advance(g, geom.West); !ok {
		t.Fatalf("explicit left turn should move")
	}
	assertAgent(t, a, xy(0, 1), geom.West)
}

func TestAdvance_BackAsLastResort(t *testing.T) {
	g := grid.New[*gadget.Gadget]()
	def := gadget.NewDefFromTraversals(1, 1, []gadget.Traversal{tr(0, 0, 0, 0)})
	place(g, gadget.New(def, one, []int{0}, 0), xy(0, 0))

	a := NewDouble(xy(1, 0), geom.North)
	if _, ok := a.Advance(g, geom.North); !ok {
		t.Fatalf("forward should bounce back out")
	}
	assertAgent(t, a, xy(1, 0), geom.South)
}

func TestAdvance_WideGadgetOffsetOrigin(t *testing.T) {
	g := grid.New[*gadget.Gadget]()
	def := gadget.NewDefFromTraversals(2, 6, []gadget.Traversal{
		tr(0, 0, 1, 1),
		tr(0, 2, 0, 3),
		tr(1, 0, 1, 1),
		tr(1, 2, 0, 3),
		tr(1, 4, 1, 5),
	})
	gad := place(g, gadget.New(def, geom.WH{W: 2, H: 1}, []int{4, 5, 1, 2, 0, 3}, 1), xy(3, 4))

	a := NewDouble(xy(7, 8), geom.North)
	step, ok := a.Advance(g, geom.North)
	if !ok {
		t.Fatalf("expected to pass through the door")
	}
	assertAgent(t, a, xy(9, 10), geom.North)
	if step.Origin != xy(3, 4) || gad.State() != 1 {
		t.Fatalf("step=%+v state=%d", step, gad.State())
	}

	// Through port 2 on the bottom right, out of the right edge, closing the door.
	b := NewDouble(xy(9, 8), geom.North)
	if _, ok := b.Advance(g, geom.East); !ok {
		t.Fatalf("expected right turn out of port 3")
	}
	assertAgent(t, b, xy(10, 9), geom.East)
	if gad.State() != 0 {
		t.Fatalf("state = %d, want 0", gad.State())
	}
}

func TestRotateAndFlip(t *testing.T) {
	a := New(geom.Vec2{X: 0.5, Y: 0}, geom.North)
	if a.DoubleXY() != xy(1, 0) {
		t.Fatalf("double = %v", a.DoubleXY())
	}
	a.Rotate(1)
	if a.Facing() != geom.West {
		t.Fatalf("facing = %v", a.Facing())
	}
	a.Rotate(-1)
	a.Flip()
	if a.Facing() != geom.South {
		t.Fatalf("facing = %v", a.Facing())
	}
	a.SetPosition(geom.Vec2{X: 2, Y: -1.5})
	if a.DoubleXY() != xy(4, -3) {
		t.Fatalf("double = %v", a.DoubleXY())
	}
}
