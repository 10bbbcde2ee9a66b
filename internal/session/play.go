package session

import (
	"cmp"
	"fmt"
	"slices"

	"gadgetgrid/internal/persistence/snapshot"
	persistlog "gadgetgrid/internal/persistence/log"
	"gadgetgrid/internal/protocol"
	"gadgetgrid/internal/sim/agent"
	"gadgetgrid/internal/sim/catalogs"
	"gadgetgrid/internal/sim/gadget"
	"gadgetgrid/internal/sim/geom"
	"gadgetgrid/internal/sim/grid"
	"gadgetgrid/internal/sim/undo"
)

// Command is one client request in protocol terms.
type Command struct {
	Kind   string // protocol.TypeInput, TypeEdit, TypeUndo or TypeRedo
	Op     string // for TypeEdit
	Dir    [2]int
	Preset string
	Pos    [2]int
	Turns  int
	Facing [2]int

	// Region edits: MOVE, PASTE and FILL.
	Size   [2]int
	To     [2]int
	FlipX  bool
	FlipY  bool
	Center bool
}

// Result is what a command did. OK is false when it was accepted but had no effect.
type Result struct {
	OK    bool
	Moved bool
	Step  agent.Step
	// Count is how many gadgets a region edit placed.
	Count int
}

// maxRegionCells bounds the block a single region edit may cover.
const maxRegionCells = 1 << 16

// CommandError rejects a malformed command. The field is left untouched.
type CommandError struct {
	Code    string
	Message string
}

func (e *CommandError) Error() string { return e.Code + ": " + e.Message }

func reject(code, format string, args ...any) *CommandError {
	return &CommandError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Play is the deterministic core of a session: a field, its undo history and a
// step counter. It is not safe for concurrent use.
type Play struct {
	editor *undo.Editor
	cats   *catalogs.Catalogs
	step   uint64
}

func NewPlay(g *grid.Grid[*gadget.Gadget], a *agent.Agent, cats *catalogs.Catalogs, undoDepth int) *Play {
	if g == nil {
		g = grid.New[*gadget.Gadget]()
	}
	return &Play{
		editor: undo.NewEditor(undo.Field{Grid: g, Agent: a}, undoDepth),
		cats:   cats,
	}
}

func (p *Play) Step() uint64                     { return p.step }
func (p *Play) SetStep(step uint64)              { p.step = step }
func (p *Play) Grid() *grid.Grid[*gadget.Gadget] { return p.editor.Field.Grid }
func (p *Play) Agent() *agent.Agent              { return p.editor.Field.Agent }

func xy(v [2]int) geom.XY { return geom.XY{X: v[0], Y: v[1]} }

// Apply runs one command. Every call that does not return an error advances the
// step counter, including commands with no effect.
func (p *Play) Apply(c Command) (Result, error) {
	r, err := p.apply(c)
	if err != nil {
		return Result{}, err
	}
	p.step++
	return r, nil
}

func (p *Play) apply(c Command) (Result, error) {
	switch c.Kind {
	case protocol.TypeInput:
		if !protocol.IsCardinal(c.Dir) {
			return Result{}, reject(protocol.ErrBadRequest, "dir %v is not a unit direction", c.Dir)
		}
		if p.Agent() == nil {
			return Result{}, reject(protocol.ErrNoAgent, "no agent placed")
		}
		before := *p.Agent()
		step, moved := p.editor.Advance(xy(c.Dir))
		return Result{OK: moved || *p.Agent() != before, Moved: moved, Step: step}, nil

	case protocol.TypeUndo:
		return Result{OK: p.editor.Undo()}, nil

	case protocol.TypeRedo:
		return Result{OK: p.editor.Redo()}, nil

	case protocol.TypeEdit:
		return p.applyEdit(c)
	}
	return Result{}, reject(protocol.ErrBadRequest, "unknown command %q", c.Kind)
}

func (p *Play) applyEdit(c Command) (Result, error) {
	pos := xy(c.Pos)
	switch c.Op {
	case protocol.OpPlace:
		g, ok := p.cats.Gadgets.Preset(c.Preset)
		if !ok {
			return Result{}, reject(protocol.ErrUnknownPreset, "unknown preset %q", c.Preset)
		}
		g.Rotate(c.Turns)
		if !grid.InLimit(pos, g.Size()) {
			return Result{}, reject(protocol.ErrInvalidTarget, "%v is out of range", c.Pos)
		}
		p.editor.Place(g, pos)
		return Result{OK: true}, nil

	case protocol.OpRemove:
		_, ok := p.editor.Remove(pos)
		return Result{OK: ok}, nil

	case protocol.OpCycle:
		return Result{OK: p.editor.CycleState(pos)}, nil

	case protocol.OpRotate:
		ent, ok := p.Grid().Get(pos)
		if !ok {
			return Result{}, nil
		}
		size := ent.Size
		if geom.Mod(c.Turns, 2) == 1 {
			size = size.Swap()
		}
		if !grid.InLimit(ent.Origin, size) {
			return Result{}, reject(protocol.ErrInvalidTarget, "rotating the gadget at %v leaves the field", c.Pos)
		}
		return Result{OK: p.editor.Reorient(pos, func(g *gadget.Gadget) { g.Rotate(c.Turns) })}, nil

	case protocol.OpFlipX:
		return Result{OK: p.editor.Reorient(pos, (*gadget.Gadget).FlipPortsX)}, nil

	case protocol.OpFlipY:
		return Result{OK: p.editor.Reorient(pos, (*gadget.Gadget).FlipPortsY)}, nil

	case protocol.OpTwist:
		return Result{OK: p.editor.Reorient(pos, (*gadget.Gadget).TwistBottomRight)}, nil

	case protocol.OpMove, protocol.OpPaste:
		r, err := region(c)
		if err != nil {
			return Result{}, err
		}
		sel := p.editor.Selected(r)
		if len(sel) == 0 {
			return Result{}, nil
		}
		clip := undo.Clip(sel, r, c.Center)
		clip = clip.Rotate(geom.Vec2{X: 0.5, Y: 0.5}, c.Turns)
		if c.FlipX {
			clip = clip.FlipX(0.5)
		}
		if c.FlipY {
			clip = clip.FlipY(0.5)
		}
		to := xy(c.To)
		for _, e := range clip.Entries() {
			if !grid.InLimit(e.Origin.Add(to), e.Size) {
				return Result{}, reject(protocol.ErrInvalidTarget, "block moved to %v leaves the field", c.To)
			}
		}
		n := p.editor.Stamp(clip, to, sel, c.Op == protocol.OpMove)
		return Result{OK: true, Count: n}, nil

	case protocol.OpFill:
		r, err := region(c)
		if err != nil {
			return Result{}, err
		}
		g, ok := p.cats.Gadgets.Preset(c.Preset)
		if !ok {
			return Result{}, reject(protocol.ErrUnknownPreset, "unknown preset %q", c.Preset)
		}
		g.Rotate(c.Turns)
		n := p.editor.Fill(g, r)
		return Result{OK: n > 0, Count: n}, nil

	case protocol.OpAgent:
		if !protocol.IsCardinal(c.Facing) {
			return Result{}, reject(protocol.ErrBadRequest, "facing %v is not a unit direction", c.Facing)
		}
		oddX, oddY := geom.Mod(c.Pos[0], 2) == 1, geom.Mod(c.Pos[1], 2) == 1
		if oddX == oddY || oddX != (c.Facing[0] == 0) {
			return Result{}, reject(protocol.ErrInvalidTarget, "%v facing %v is not an edge crossing", c.Pos, c.Facing)
		}
		if !grid.InLimit(geom.XY{X: geom.FloorDiv(c.Pos[0], 2), Y: geom.FloorDiv(c.Pos[1], 2)}, geom.WH{W: 1, H: 1}) {
			return Result{}, reject(protocol.ErrInvalidTarget, "%v is out of range", c.Pos)
		}
		if a := p.Agent(); a != nil {
			p.editor.Stack.Push(undo.AgentMove{DoubleXY: a.DoubleXY(), Facing: a.Facing()})
			p.editor.Stack.Batch()
			a.SetDoubleXY(pos)
			a.SetFacing(xy(c.Facing))
		} else {
			p.editor.Field.Agent = agent.NewDouble(pos, xy(c.Facing))
		}
		return Result{OK: true}, nil
	}
	return Result{}, reject(protocol.ErrBadRequest, "unknown edit op %q", c.Op)
}

// region checks the block a region edit covers.
func region(c Command) (undo.Region, error) {
	size := geom.WH{W: c.Size[0], H: c.Size[1]}
	if size.W <= 0 || size.H <= 0 || size.W > maxRegionCells || size.H > maxRegionCells || size.Area() > maxRegionCells {
		return undo.Region{}, reject(protocol.ErrBadRequest, "region size %v", c.Size)
	}
	lo := xy(c.Pos)
	if !grid.InLimit(lo, size) {
		return undo.Region{}, reject(protocol.ErrInvalidTarget, "region at %v is out of range", c.Pos)
	}
	if c.Op != protocol.OpFill && !grid.InLimit(xy(c.To), geom.WH{W: 1, H: 1}) {
		return undo.Region{}, reject(protocol.ErrInvalidTarget, "%v is out of range", c.To)
	}
	return undo.Region{Min: lo, Max: geom.XY{X: lo.X + size.W - 1, Y: lo.Y + size.H - 1}}, nil
}

// Entry describes an applied command for the step log. Call it right after Apply.
func (p *Play) Entry(c Command, r Result) persistlog.StepEntry {
	e := persistlog.StepEntry{
		Step:   p.step,
		Kind:   c.Kind,
		Dir:    c.Dir,
		Preset: c.Preset,
		Pos:    c.Pos,
		Turns:  c.Turns,
		OK:     r.OK,
		Moved:  r.Moved,
		Count:  r.Count,
	}
	if c.Kind == protocol.TypeEdit {
		e.Kind = c.Op
		if c.Op == protocol.OpAgent {
			e.Dir = c.Facing
		}
		if protocol.IsRegionOp(c.Op) {
			e.Size = c.Size
			e.To = c.To
			e.FlipX = c.FlipX
			e.FlipY = c.FlipY
			e.Center = c.Center
		}
	}
	if r.Moved {
		e.Origin = r.Step.Origin.ToArray()
		e.PrevState = int(r.Step.PrevState)
		e.NewState = int(r.Step.NewState)
	}
	if a := p.Agent(); a != nil {
		e.DoubleXY = a.DoubleXY().ToArray()
		e.Facing = a.Facing().ToArray()
	}
	return e
}

// CommandFromEntry rebuilds the command a step log entry recorded.
func CommandFromEntry(e persistlog.StepEntry) Command {
	switch e.Kind {
	case protocol.OpPlace, protocol.OpRemove, protocol.OpCycle,
		protocol.OpRotate, protocol.OpFlipX, protocol.OpFlipY, protocol.OpTwist:
		return Command{Kind: protocol.TypeEdit, Op: e.Kind, Preset: e.Preset, Pos: e.Pos, Turns: e.Turns}
	case protocol.OpMove, protocol.OpPaste, protocol.OpFill:
		return Command{
			Kind:   protocol.TypeEdit,
			Op:     e.Kind,
			Preset: e.Preset,
			Pos:    e.Pos,
			Turns:  e.Turns,
			Size:   e.Size,
			To:     e.To,
			FlipX:  e.FlipX,
			FlipY:  e.FlipY,
			Center: e.Center,
		}
	case protocol.OpAgent:
		return Command{Kind: protocol.TypeEdit, Op: e.Kind, Pos: e.Pos, Facing: e.Dir}
	}
	return Command{Kind: e.Kind, Dir: e.Dir}
}

// Snapshot captures the field with the current step in the header.
func (p *Play) Snapshot(puzzleID string) snapshot.SnapshotV1 {
	snap := snapshot.Encode(p.Grid(), p.Agent())
	snap.Header.PuzzleID = puzzleID
	snap.Header.Step = p.step
	snap.Header.CatalogDigest = p.cats.Gadgets.Digest
	return snap
}

// State renders the field for clients.
func (p *Play) State(seq uint64, r Result) protocol.StateMsg {
	msg := protocol.StateMsg{
		Type:            protocol.TypeState,
		ProtocolVersion: protocol.Version,
		Seq:             seq,
		Step:            p.step,
		Moved:           r.Moved,
		Gadgets:         []protocol.GadgetState{},
		CanUndo:         !p.editor.Stack.IsUndoEmpty(),
		CanRedo:         !p.editor.Stack.IsRedoEmpty(),
	}
	if a := p.Agent(); a != nil {
		pos := a.Position()
		msg.Agent = &protocol.AgentState{Pos: pos.ToArray(), Facing: a.Facing().ToArray()}
	}
	for _, e := range p.Grid().Entries() {
		g := e.Item
		ports := [][2]float64{}
		for _, pp := range g.PortPositions() {
			ports = append(ports, pp.ToArray())
		}
		paths := [][2]int{}
		g.Def().PortTraversalsInState(g.State()).Each(func(pp gadget.PP) {
			paths = append(paths, [2]int{int(pp.From), int(pp.To)})
		})
		sortPairs(paths)
		msg.Gadgets = append(msg.Gadgets, protocol.GadgetState{
			Origin:    e.Origin.ToArray(),
			Size:      e.Size.ToArray(),
			State:     int(g.State()),
			NumStates: g.Def().NumStates(),
			Ports:     ports,
			Paths:     paths,
			Version:   g.Version(),
		})
	}
	return msg
}

func sortPairs(ps [][2]int) {
	slices.SortFunc(ps, func(a, b [2]int) int {
		if c := cmp.Compare(a[0], b[0]); c != 0 {
			return c
		}
		return cmp.Compare(a[1], b[1])
	})
}
