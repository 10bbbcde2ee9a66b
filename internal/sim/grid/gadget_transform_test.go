package grid_test

import (
	"testing"

	"gadgetgrid/internal/sim/agent"
	"gadgetgrid/internal/sim/catalogs"
	"gadgetgrid/internal/sim/gadget"
	"gadgetgrid/internal/sim/geom"
	"gadgetgrid/internal/sim/grid"
)

// worldMap is a whole-grid transform together with the map it applies to doubled
// world coordinates and to directions.
type worldMap struct {
	name   string
	apply  func(g *grid.Grid[*gadget.Gadget]) *grid.Grid[*gadget.Gadget]
	point  func(d geom.XY) geom.XY
	facing func(f geom.XY) geom.XY
}

func rotation(turns int) worldMap {
	// Quarter turns around (0.5, 0.5), which is (1, 1) doubled.
	c := geom.XY{X: 1, Y: 1}
	return worldMap{
		name:  "rotate",
		apply: func(g *grid.Grid[*gadget.Gadget]) *grid.Grid[*gadget.Gadget] { return g.Rotate(geom.Vec2{X: 0.5, Y: 0.5}, turns) },
		point: func(d geom.XY) geom.XY {
			for i := 0; i < turns; i++ {
				d = d.Sub(c).RightCCW().Add(c)
			}
			return d
		},
		facing: func(f geom.XY) geom.XY {
			for i := 0; i < turns; i++ {
				f = f.RightCCW()
			}
			return f
		},
	}
}

var worldMaps = []worldMap{
	rotation(1),
	rotation(2),
	rotation(3),
	{
		name:   "flip x",
		apply:  func(g *grid.Grid[*gadget.Gadget]) *grid.Grid[*gadget.Gadget] { return g.FlipX(0.5) },
		point:  func(d geom.XY) geom.XY { return geom.XY{X: 2 - d.X, Y: d.Y} },
		facing: func(f geom.XY) geom.XY { return geom.XY{X: -f.X, Y: f.Y} },
	},
	{
		name:   "flip y",
		apply:  func(g *grid.Grid[*gadget.Gadget]) *grid.Grid[*gadget.Gadget] { return g.FlipY(0.5) },
		point:  func(d geom.XY) geom.XY { return geom.XY{X: d.X, Y: 2 - d.Y} },
		facing: func(f geom.XY) geom.XY { return geom.XY{X: f.X, Y: -f.Y} },
	},
}

// doorField places an open Door at (3, 4) and an agent about to walk into its
// bottom-left port from below.
func doorField(t *testing.T) (*grid.Grid[*gadget.Gadget], *gadget.Gadget, *agent.Agent) {
	t.Helper()
	door, ok := catalogs.Builtin().Gadgets.Preset("Door")
	if !ok {
		t.Fatalf("missing Door preset")
	}
	door.SetState(1)
	g := grid.New[*gadget.Gadget]()
	g.Insert(door, geom.XY{X: 3, Y: 4}, door.Size())
	return g, door, agent.NewDouble(geom.XY{X: 7, Y: 8}, geom.North)
}

// worldPorts returns each port's doubled world position.
func worldPorts(g *grid.Grid[*gadget.Gadget]) []geom.XY {
	es := g.Entries()
	if len(es) != 1 {
		return nil
	}
	var out []geom.XY
	for _, p := range es[0].Item.PortPositions() {
		out = append(out, es[0].Origin.Scale(2).Add(p.Scale(2).Round()))
	}
	return out
}

func TestTransformedDoorKeepsWorldGeometry(t *testing.T) {
	for _, m := range worldMaps {
		g, _, _ := doorField(t)
		before := worldPorts(g)

		g = m.apply(g)
		after := worldPorts(g)
		if len(after) != len(before) {
			t.Fatalf("%s: ports %v", m.name, after)
		}
		for p := range before {
			if want := m.point(before[p]); after[p] != want {
				t.Fatalf("%s: port %d at %v, want %v", m.name, p, after[p], want)
			}
		}
	}
}

func TestTransformedDoorStepsToTransformedExit(t *testing.T) {
	ref, _, refAgent := doorField(t)
	if _, ok := refAgent.Advance(ref, geom.North); !ok {
		t.Fatalf("untransformed step failed")
	}
	exit, exitFacing := refAgent.DoubleXY(), refAgent.Facing()
	if exit != (geom.XY{X: 9, Y: 10}) || exitFacing != geom.North {
		t.Fatalf("untransformed exit %v facing %v", exit, exitFacing)
	}

	for _, m := range worldMaps {
		g, door, a := doorField(t)
		g = m.apply(g)
		a = agent.NewDouble(m.point(a.DoubleXY()), m.facing(a.Facing()))

		step, ok := a.Advance(g, m.facing(geom.North))
		if !ok {
			t.Fatalf("%s: no step", m.name)
		}
		if a.DoubleXY() != m.point(exit) || a.Facing() != m.facing(exitFacing) {
			t.Fatalf("%s: agent at %v facing %v, want %v facing %v",
				m.name, a.DoubleXY(), a.Facing(), m.point(exit), m.facing(exitFacing))
		}
		if step.PrevState != 1 || door.State() != 1 {
			t.Fatalf("%s: step=%+v state=%d", m.name, step, door.State())
		}
	}
}
