package gadget

import (
	"fmt"
	"sort"

	"github.com/zyedidia/generic/mapset"
)

type Port int

type State int

// SP is a (state, port) pair: "in this state, at this port".
type SP struct {
	State State
	Port  Port
}

// PP is a directed port-to-port pair with the state collapsed.
type PP struct {
	From Port
	To   Port
}

// Traversal is a directed edge: an agent entering From.Port while the gadget is in
// From.State may leave through To.Port, leaving the gadget in To.State.
type Traversal struct {
	From SP
	To   SP
}

func less(a, b Traversal) bool {
	ka := [4]int{int(a.From.State), int(a.From.Port), int(a.To.State), int(a.To.Port)}
	kb := [4]int{int(b.From.State), int(b.From.Port), int(b.To.State), int(b.To.Port)}
	for i := range ka {
		if ka[i] != kb[i] {
			return ka[i] < kb[i]
		}
	}
	return false
}

// Def is the immutable transition table shared by every gadget with the same
// mechanical behavior. It is never modified after construction; share it by pointer.
type Def struct {
	numStates  int
	numPorts   int
	traversals []Traversal
}

// NewDef returns a definition without traversals (the "nope" gadget).
func NewDef(numStates, numPorts int) *Def {
	return &Def{numStates: numStates, numPorts: numPorts}
}

// NewDefFromTraversals builds a definition; duplicate traversals collapse. Bounds are
// not checked here, see Validate.
func NewDefFromTraversals(numStates, numPorts int, traversals []Traversal) *Def {
	seen := mapset.New[Traversal]()
	out := make([]Traversal, 0, len(traversals))
	for _, t := range traversals {
		if seen.Has(t) {
			continue
		}
		seen.Put(t)
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return &Def{numStates: numStates, numPorts: numPorts, traversals: out}
}

func (d *Def) NumStates() int { return d.numStates }
func (d *Def) NumPorts() int  { return d.numPorts }

// Traversals returns a copy of the edge set in a stable order.
func (d *Def) Traversals() []Traversal {
	return append([]Traversal(nil), d.traversals...)
}

// TargetsFromStatePort lists every (state, port) reachable from sp.
func (d *Def) TargetsFromStatePort(sp SP) []SP {
	var out []SP
	for _, t := range d.traversals {
		if t.From == sp {
			out = append(out, t.To)
		}
	}
	return out
}

// PortTraversalsInState is the set of port pairs with at least one edge in state.
// It exists for drawing; simulation never consults it.
func (d *Def) PortTraversalsInState(state State) mapset.Set[PP] {
	out := mapset.New[PP]()
	for _, t := range d.traversals {
		if t.From.State == state {
			out.Put(PP{From: t.From.Port, To: t.To.Port})
		}
	}
	return out
}

// Validate checks the structural invariants of a definition read from untrusted input.
func (d *Def) Validate() error {
	if d.numStates <= 0 {
		return fmt.Errorf("num_states must be > 0, got %d", d.numStates)
	}
	if d.numPorts < 0 {
		return fmt.Errorf("num_ports must be >= 0, got %d", d.numPorts)
	}
	for i, t := range d.traversals {
		for _, sp := range [2]SP{t.From, t.To} {
			if sp.State < 0 || int(sp.State) >= d.numStates {
				return fmt.Errorf("traversal %d: state %d out of range [0,%d)", i, sp.State, d.numStates)
			}
			if sp.Port < 0 || int(sp.Port) >= d.numPorts {
				return fmt.Errorf("traversal %d: port %d out of range [0,%d)", i, sp.Port, d.numPorts)
			}
		}
	}
	return nil
}
