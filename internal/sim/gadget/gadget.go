// Package gadget holds the gadget transition tables and their spatial instances.
//
// Ports sit at the midpoints of the unit segments of a gadget's rectangular boundary.
// A perimeter index numbers those segments counterclockwise, starting just after the
// bottom-left corner: bottom [0,W), right [W,W+H), top [W+H,2W+H), left [2W+H,2W+2H).
package gadget

import (
	"fmt"

	"gadgetgrid/internal/sim/geom"
)

type Gadget struct {
	def     *Def
	size    geom.WH
	portMap []int // port -> perimeter index
	state   State

	version uint64
	dirty   bool
}

// New places def in a footprint of the given size. portMap[p] is the perimeter index
// of port p. Inputs are trusted; use Validate on anything read from outside.
func New(def *Def, size geom.WH, portMap []int, state State) *Gadget {
	return &Gadget{
		def:     def,
		size:    size,
		portMap: append([]int(nil), portMap...),
		state:   state,
		dirty:   true,
	}
}

// Validate checks that a gadget built from these parts would satisfy every invariant.
func Validate(def *Def, size geom.WH, portMap []int, state State) error {
	if def == nil {
		return fmt.Errorf("nil def")
	}
	if err := def.Validate(); err != nil {
		return err
	}
	if size.W <= 0 || size.H <= 0 {
		return fmt.Errorf("size must be positive, got %dx%d", size.W, size.H)
	}
	if state < 0 || int(state) >= def.NumStates() {
		return fmt.Errorf("state %d out of range [0,%d)", state, def.NumStates())
	}
	if len(portMap) != def.NumPorts() {
		return fmt.Errorf("port map has %d entries, want %d", len(portMap), def.NumPorts())
	}
	perim := size.Perimeter()
	seen := make(map[int]Port, len(portMap))
	for p, idx := range portMap {
		if idx < 0 || idx >= perim {
			return fmt.Errorf("port %d at perimeter index %d out of range [0,%d)", p, idx, perim)
		}
		if other, dup := seen[idx]; dup {
			return fmt.Errorf("ports %d and %d share perimeter index %d", other, p, idx)
		}
		seen[idx] = Port(p)
	}
	return nil
}

func (g *Gadget) Def() *Def       { return g.def }
func (g *Gadget) Size() geom.WH   { return g.size }
func (g *Gadget) State() State    { return g.state }
func (g *Gadget) Perimeter() int  { return g.size.Perimeter() }
func (g *Gadget) Version() uint64 { return g.version }

// PortMap returns a copy of the port to perimeter index mapping.
func (g *Gadget) PortMap() []int { return append([]int(nil), g.portMap...) }

// Dirty reports whether anything visible changed since the renderer last called
// ClearDirty.
func (g *Gadget) Dirty() bool { return g.dirty }
func (g *Gadget) ClearDirty() { g.dirty = false }

func (g *Gadget) touch() {
	g.version++
	g.dirty = true
}

func (g *Gadget) SetState(state State) {
	g.state = state
	g.touch()
}

// CycleState advances to the next state, wrapping to 0.
func (g *Gadget) CycleState() {
	g.SetState(State((int(g.state) + 1) % g.def.NumStates()))
}

// Port returns the port at a perimeter index, if there is one.
func (g *Gadget) Port(index int) (Port, bool) {
	for p, idx := range g.portMap {
		if idx == index {
			return Port(p), true
		}
	}
	return 0, false
}

// Clone copies the instance; the definition stays shared.
func (g *Gadget) Clone() *Gadget {
	c := *g
	c.portMap = append([]int(nil), g.portMap...)
	return &c
}

func facingOffset(facing geom.XY) int {
	if facing.X == 0 {
		if facing.Y > 0 {
			return 0
		}
		return 2
	}
	if facing.X > 0 {
		return 1
	}
	return 3
}

// Relative directions returned by TargetsFromStatePortBRFL.
const (
	Back = iota
	Right
	Front
	Left
)

// TargetsFromStatePortBRFL lists the destinations reachable from port in the current
// state, bucketed by the side of the gadget they leave through, relative to facing:
// back, right, front, left. An agent facing north that entered through the bottom
// finds exits on the top edge in the front bucket.
func (g *Gadget) TargetsFromStatePortBRFL(port Port, facing geom.XY) [4][]SP {
	offset := facingOffset(facing)
	w, h := g.size.W, g.size.H

	var out [4][]SP
	for _, sp := range g.def.TargetsFromStatePort(SP{State: g.state, Port: port}) {
		idx := g.portMap[sp.Port]
		var side int
		switch {
		case idx < w:
			side = 0
		case idx < w+h:
			side = 1
		case idx < w+h+w:
			side = 2
		default:
			side = 3
		}
		b := (side + offset) % 4
		out[b] = append(out[b], sp)
	}
	return out
}

// RotatePorts shifts every port along the perimeter; positive is counterclockwise.
func (g *Gadget) RotatePorts(n int) {
	perim := g.Perimeter()
	for p := range g.portMap {
		g.portMap[p] = geom.Mod(g.portMap[p]+n, perim)
	}
	g.touch()
}

// Rotate turns the gadget by n counterclockwise quarter turns.
func (g *Gadget) Rotate(n int) {
	for i := 0; i < geom.Mod(n, 4); i++ {
		// The right edge becomes the top edge: shifting by the height lines the old
		// W x H numbering up with the new H x W one.
		g.RotatePorts(g.size.H)
		g.size = g.size.Swap()
	}
	g.touch()
}

// FlipPortsX mirrors the ports left to right.
func (g *Gadget) FlipPortsX() {
	perim := g.Perimeter()
	for p := range g.portMap {
		g.portMap[p] = geom.Mod(g.size.W-g.portMap[p]-1, perim)
	}
	g.touch()
}

// FlipPortsY mirrors the ports bottom to top.
func (g *Gadget) FlipPortsY() {
	perim := g.Perimeter()
	for p := range g.portMap {
		g.portMap[p] = geom.Mod(perim-g.size.H-g.portMap[p]-1, perim)
	}
	g.touch()
}

// TwistBottomRight swaps the bottom edge of the bottom-right cell with the lowest
// segment of the right edge.
func (g *Gadget) TwistBottomRight() {
	a, b := g.size.W-1, g.size.W
	for p, idx := range g.portMap {
		switch idx {
		case a:
			g.portMap[p] = b
		case b:
			g.portMap[p] = a
		}
	}
	g.touch()
}

// PerimeterPosition is the midpoint of the unit segment at a perimeter index, with
// the bottom-left corner at the origin.
func (g *Gadget) PerimeterPosition(index int) geom.Vec2 {
	w, h := g.size.W, g.size.H
	switch {
	case index < w:
		return geom.Vec2{X: 0.5 + float64(index), Y: 0}
	case index < w+h:
		return geom.Vec2{X: float64(w), Y: 0.5 + float64(index-w)}
	case index < w+h+w:
		return geom.Vec2{X: float64(w) - 0.5 - float64(index-w-h), Y: float64(h)}
	default:
		return geom.Vec2{X: 0, Y: float64(h) - 0.5 - float64(index-w-h-w)}
	}
}

// PortPositions returns one position per port, in port order.
func (g *Gadget) PortPositions() []geom.Vec2 {
	out := make([]geom.Vec2, len(g.portMap))
	for p, idx := range g.portMap {
		out[p] = g.PerimeterPosition(idx)
	}
	return out
}

func (g *Gadget) RotateInGrid(turns int) { g.Rotate(turns) }
func (g *Gadget) FlipXInGrid()           { g.FlipPortsX() }
func (g *Gadget) FlipYInGrid()           { g.FlipPortsY() }
