// Package undo records reversible edits to a play field.
//
// Every recorded action holds what is needed to revert it. Reverting an action
// yields its inverse, which goes onto the opposite stack.
package undo

import (
	"gadgetgrid/internal/sim/agent"
	"gadgetgrid/internal/sim/gadget"
	"gadgetgrid/internal/sim/geom"
	"gadgetgrid/internal/sim/grid"
)

// Field is what actions apply to. Agent is nil outside of play.
type Field struct {
	Grid  *grid.Grid[*gadget.Gadget]
	Agent *agent.Agent
}

type Action interface {
	// revert applies the action and returns its inverse. ok is false when the
	// action no longer applies and should be dropped.
	revert(f *Field) (inv Action, ok bool)
}

// GadgetInsert reverts a placement by removing the gadget at Origin.
type GadgetInsert struct {
	Origin geom.XY
}

// GadgetRemove reverts a removal by inserting Gadget back at Origin.
type GadgetRemove struct {
	Gadget *gadget.Gadget
	Origin geom.XY
}

// AgentMove puts the agent back at DoubleXY facing Facing.
type AgentMove struct {
	DoubleXY geom.XY
	Facing   geom.XY
}

// GadgetChangeState restores State on the gadget covering Origin.
type GadgetChangeState struct {
	Origin geom.XY
	State  gadget.State
}

type Batch []Action

func (a GadgetInsert) revert(f *Field) (Action, bool) {
	e, ok := f.Grid.Remove(a.Origin)
	if !ok {
		panic("undo: no gadget to remove for a recorded insert")
	}
	return GadgetRemove{Gadget: e.Item, Origin: e.Origin}, true
}

func (a GadgetRemove) revert(f *Field) (Action, bool) {
	f.Grid.Insert(a.Gadget, a.Origin, a.Gadget.Size())
	return GadgetInsert{Origin: a.Origin}, true
}

func (a AgentMove) revert(f *Field) (Action, bool) {
	if f.Agent == nil {
		return nil, false
	}
	inv := AgentMove{DoubleXY: f.Agent.DoubleXY(), Facing: f.Agent.Facing()}
	f.Agent.SetDoubleXY(a.DoubleXY)
	f.Agent.SetFacing(a.Facing)
	return inv, true
}

func (a GadgetChangeState) revert(f *Field) (Action, bool) {
	item, _, _, ok := f.Grid.GetMut(a.Origin)
	if !ok {
		panic("undo: no gadget for a recorded state change")
	}
	g := *item
	inv := GadgetChangeState{Origin: a.Origin, State: g.State()}
	g.SetState(a.State)
	return inv, true
}

func (b Batch) revert(f *Field) (Action, bool) {
	inv := make(Batch, 0, len(b))
	for i := len(b) - 1; i >= 0; i-- {
		if a, ok := b[i].revert(f); ok {
			inv = append(inv, a)
		}
	}
	return inv, true
}

// Stack holds undo and redo histories. If an action on the undo side is a
// Batch, so is every action below it.
type Stack struct {
	undo []Action
	redo []Action
	// MaxDepth bounds the number of batches kept; 0 means unbounded.
	MaxDepth int
}

func NewStack(maxDepth int) *Stack {
	return &Stack{MaxDepth: maxDepth}
}

// Push records an action and drops the redo history.
func (s *Stack) Push(a Action) {
	s.redo = nil
	s.undo = append(s.undo, a)
}

// Batch groups the unbatched actions at the top into one batch.
func (s *Stack) Batch() {
	first := -1
	for i, a := range s.undo {
		if _, ok := a.(Batch); !ok {
			first = i
			break
		}
	}
	if first < 0 {
		return
	}
	b := make(Batch, len(s.undo)-first)
	copy(b, s.undo[first:])
	s.undo = append(s.undo[:first], b)
	s.trim()
}

func (s *Stack) trim() {
	if s.MaxDepth > 0 && len(s.undo) > s.MaxDepth {
		n := len(s.undo) - s.MaxDepth
		s.undo = append(s.undo[:0], s.undo[n:]...)
	}
}

// Undo reverts the most recent batch. It reports whether anything was undone.
func (s *Stack) Undo(f *Field) bool {
	s.Batch()
	if len(s.undo) == 0 {
		return false
	}
	a := s.undo[len(s.undo)-1]
	s.undo = s.undo[:len(s.undo)-1]
	if inv, ok := a.revert(f); ok {
		s.redo = append(s.redo, inv)
	}
	return true
}

// Redo reapplies the most recently undone batch.
func (s *Stack) Redo(f *Field) bool {
	s.Batch()
	if len(s.redo) == 0 {
		return false
	}
	a := s.redo[len(s.redo)-1]
	s.redo = s.redo[:len(s.redo)-1]
	if inv, ok := a.revert(f); ok {
		s.undo = append(s.undo, inv)
	}
	return true
}

func (s *Stack) Clear() {
	s.undo = nil
	s.redo = nil
}

// AppendAsBatch moves everything recorded in other onto s as a single batch.
func (s *Stack) AppendAsBatch(other *Stack) {
	if len(other.undo) == 0 {
		return
	}
	b := Batch(other.undo)
	other.undo = nil
	s.Batch()
	s.Push(b)
	s.trim()
}

func (s *Stack) IsUndoEmpty() bool { return len(s.undo) == 0 }
func (s *Stack) IsRedoEmpty() bool { return len(s.redo) == 0 }
func (s *Stack) UndoLen() int      { return len(s.undo) }
