// Package agent implements the token that walks through a grid of gadgets.
package agent

import (
	"gadgetgrid/internal/sim/gadget"
	"gadgetgrid/internal/sim/geom"
	"gadgetgrid/internal/sim/grid"
)

// Agent stores its position doubled so that edge midpoints are integers. It always
// sits on an edge midpoint and faces one of the four cardinal directions.
type Agent struct {
	doubleXY geom.XY
	facing   geom.XY
}

func New(position geom.Vec2, facing geom.XY) *Agent {
	return &Agent{doubleXY: position.Scale(2).Round(), facing: facing}
}

// NewDouble builds an agent from an already doubled position.
func NewDouble(doubleXY, facing geom.XY) *Agent {
	return &Agent{doubleXY: doubleXY, facing: facing}
}

func (a *Agent) DoubleXY() geom.XY { return a.doubleXY }
func (a *Agent) Facing() geom.XY   { return a.facing }

func (a *Agent) Position() geom.Vec2 {
	return geom.Vec2{X: float64(a.doubleXY.X) / 2, Y: float64(a.doubleXY.Y) / 2}
}

func (a *Agent) SetPosition(position geom.Vec2) { a.doubleXY = position.Scale(2).Round() }
func (a *Agent) SetDoubleXY(doubleXY geom.XY)   { a.doubleXY = doubleXY }
func (a *Agent) SetFacing(facing geom.XY)       { a.facing = facing }

// Flip turns the agent around in place.
func (a *Agent) Flip() { a.facing = a.facing.Neg() }

// Rotate turns the agent by n counterclockwise quarter turns.
func (a *Agent) Rotate(n int) {
	for i := 0; i < geom.Mod(n, 4); i++ {
		a.facing = a.facing.RightCCW()
	}
}

// Step describes a move through a gadget, with what an undo needs to revert it.
type Step struct {
	Origin    geom.XY
	PrevState gadget.State
	NewState  gadget.State
	EnterPort gadget.Port
	ExitPort  gadget.Port
}

// Advance moves the agent one step given the direction the player asked for.
//
// Asking for the opposite of the current facing only turns the agent around.
// Otherwise the agent enters the gadget in front of it through the port on its
// edge, and leaves through a destination picked relative to its facing: going
// forward prefers the front exit, then a lone left or right exit, then the back;
// turning left or right only takes an exit on that side. When a left and a right
// exit are both available while going forward neither side is taken and only the
// back exit can apply.
//
// ok is false when nothing besides a possible turn-around happened.
func (a *Agent) Advance(g *grid.Grid[*gadget.Gadget], input geom.XY) (step Step, ok bool) {
	if input.Dot(a.facing) == -1 {
		a.Flip()
		return Step{}, false
	}

	touch, found := g.ItemTouchingEdge(a.doubleXY, a.facing)
	if !found {
		return Step{}, false
	}
	gad := *touch.Item
	port, hasPort := gad.Port(touch.Index)
	if !hasPort {
		return Step{}, false
	}

	brfl := gad.TargetsFromStatePortBRFL(port, a.facing)
	dest, chosen := choose(brfl, a.facing, input)
	if !chosen {
		return Step{}, false
	}

	pos2 := gad.PortPositions()[dest.Port].Scale(2).Round()
	a.facing = exitFacing(pos2)
	a.doubleXY = touch.Origin.Scale(2).Add(pos2)

	step = Step{
		Origin:    touch.Origin,
		PrevState: gad.State(),
		NewState:  dest.State,
		EnterPort: port,
		ExitPort:  dest.Port,
	}
	gad.SetState(dest.State)
	return step, true
}

func first(sps []gadget.SP) (gadget.SP, bool) {
	if len(sps) == 0 {
		return gadget.SP{}, false
	}
	return sps[0], true
}

func choose(brfl [4][]gadget.SP, facing, input geom.XY) (gadget.SP, bool) {
	switch {
	case input.Dot(facing) == 1:
		if sp, ok := first(brfl[gadget.Front]); ok {
			return sp, true
		}
		left, lok := first(brfl[gadget.Left])
		right, rok := first(brfl[gadget.Right])
		if lok != rok {
			if lok {
				return left, true
			}
			return right, true
		}
		return first(brfl[gadget.Back])
	case input == facing.RightCCW():
		return first(brfl[gadget.Left])
	default:
		return first(brfl[gadget.Right])
	}
}

// exitFacing derives the new facing from the doubled position of the exit port
// relative to the gadget's bottom-left corner: odd x is a horizontal edge.
func exitFacing(pos2 geom.XY) geom.XY {
	if geom.Mod(pos2.X, 2) != 0 {
		if pos2.Y == 0 {
			return geom.South
		}
		return geom.North
	}
	if pos2.X == 0 {
		return geom.West
	}
	return geom.East
}
