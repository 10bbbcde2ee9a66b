package snapshot

import (
	"bufio"
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"gadgetgrid/internal/sim/agent"
	"gadgetgrid/internal/sim/gadget"
	"gadgetgrid/internal/sim/geom"
	"gadgetgrid/internal/sim/grid"
)

const Version = 1

// MaxCells bounds the total footprint area a snapshot may describe.
const MaxCells = 1 << 20

var ErrInvalidSnapshot = errors.New("invalid snapshot")

type Header struct {
	Version       int    `json:"version"`
	PuzzleID      string `json:"puzzle_id,omitempty"`
	Step          uint64 `json:"step,omitempty"`
	CatalogDigest string `json:"catalog_digest,omitempty"`
}

type SnapshotV1 struct {
	Header Header `json:"header"`

	// Defs holds each distinct def once; gadgets refer to it by index.
	Defs    []DefV1    `json:"defs"`
	Gadgets []GadgetV1 `json:"gadgets"`
	Agent   *AgentV1   `json:"agent,omitempty"`
}

type DefV1 struct {
	NumStates int `json:"num_states"`
	NumPorts  int `json:"num_ports"`
	// [from_state, from_port, to_state, to_port]
	Traversals [][4]int `json:"traversals,omitempty"`
}

type GadgetV1 struct {
	Def     int    `json:"def"`
	Size    [2]int `json:"size"`
	PortMap []int  `json:"port_map"`
	State   int    `json:"state"`
	Origin  [2]int `json:"origin"`
}

type AgentV1 struct {
	DoubleXY [2]int `json:"double_xy"`
	Facing   [2]int `json:"facing"`
}

// Encode captures a grid and an optional agent. Gadgets appear in grid insertion
// order and defs in order of first use.
func Encode(g *grid.Grid[*gadget.Gadget], a *agent.Agent) SnapshotV1 {
	snap := SnapshotV1{
		Header:  Header{Version: Version},
		Defs:    []DefV1{},
		Gadgets: []GadgetV1{},
	}
	index := map[*gadget.Def]int{}
	for _, e := range g.Entries() {
		gad := e.Item
		def := gad.Def()
		di, ok := index[def]
		if !ok {
			di = len(snap.Defs)
			index[def] = di
			snap.Defs = append(snap.Defs, encodeDef(def))
		}
		portMap := gad.PortMap()
		if portMap == nil {
			portMap = []int{}
		}
		snap.Gadgets = append(snap.Gadgets, GadgetV1{
			Def:     di,
			Size:    gad.Size().ToArray(),
			PortMap: portMap,
			State:   int(gad.State()),
			Origin:  e.Origin.ToArray(),
		})
	}
	if a != nil {
		snap.Agent = &AgentV1{DoubleXY: a.DoubleXY().ToArray(), Facing: a.Facing().ToArray()}
	}
	return snap
}

func encodeDef(def *gadget.Def) DefV1 {
	out := DefV1{NumStates: def.NumStates(), NumPorts: def.NumPorts()}
	for _, t := range def.Traversals() {
		out.Traversals = append(out.Traversals, [4]int{
			int(t.From.State), int(t.From.Port), int(t.To.State), int(t.To.Port),
		})
	}
	return out
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidSnapshot, fmt.Sprintf(format, args...))
}

// Validate checks every structural invariant without building anything.
func Validate(snap SnapshotV1) error {
	if snap.Header.Version != Version {
		return invalid("version %d, want %d", snap.Header.Version, Version)
	}
	for i, d := range snap.Defs {
		if d.NumStates <= 0 {
			return invalid("def %d: num_states %d", i, d.NumStates)
		}
		if d.NumPorts < 0 {
			return invalid("def %d: num_ports %d", i, d.NumPorts)
		}
		for j, t := range d.Traversals {
			if !inRange(t[0], d.NumStates) || !inRange(t[2], d.NumStates) ||
				!inRange(t[1], d.NumPorts) || !inRange(t[3], d.NumPorts) {
				return invalid("def %d: traversal %d out of range", i, j)
			}
		}
	}

	cells := map[geom.XY]int{}
	area := 0
	for i, g := range snap.Gadgets {
		if !inRange(g.Def, len(snap.Defs)) {
			return invalid("gadget %d: def index %d of %d", i, g.Def, len(snap.Defs))
		}
		d := snap.Defs[g.Def]
		w, h := g.Size[0], g.Size[1]
		if w <= 0 || h <= 0 {
			return invalid("gadget %d: size %dx%d", i, w, h)
		}
		if w > MaxCells || h > MaxCells {
			return invalid("gadget %d: footprint too large", i)
		}
		area += w * h
		if area > MaxCells {
			return invalid("gadget %d: footprint too large", i)
		}
		if !grid.InLimit(geom.XY{X: g.Origin[0], Y: g.Origin[1]}, geom.WH{W: w, H: h}) {
			return invalid("gadget %d: origin %v out of range", i, g.Origin)
		}
		if !inRange(g.State, d.NumStates) {
			return invalid("gadget %d: state %d of %d", i, g.State, d.NumStates)
		}
		if len(g.PortMap) != d.NumPorts {
			return invalid("gadget %d: port map has %d entries, want %d", i, len(g.PortMap), d.NumPorts)
		}
		perim := 2*w + 2*h
		seen := map[int]bool{}
		for p, idx := range g.PortMap {
			if !inRange(idx, perim) {
				return invalid("gadget %d: port %d at %d outside perimeter %d", i, p, idx, perim)
			}
			if seen[idx] {
				return invalid("gadget %d: perimeter index %d used twice", i, idx)
			}
			seen[idx] = true
		}
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				c := geom.XY{X: g.Origin[0] + x, Y: g.Origin[1] + y}
				if other, taken := cells[c]; taken {
					return invalid("gadget %d overlaps gadget %d at %v", i, other, c)
				}
				cells[c] = i
			}
		}
	}

	if a := snap.Agent; a != nil {
		facing := geom.XY{X: a.Facing[0], Y: a.Facing[1]}
		if !facing.IsCardinal() {
			return invalid("agent facing %v", facing)
		}
		cell := geom.XY{X: geom.FloorDiv(a.DoubleXY[0], 2), Y: geom.FloorDiv(a.DoubleXY[1], 2)}
		if !grid.InLimit(cell, geom.WH{W: 1, H: 1}) {
			return invalid("agent at %v out of range", a.DoubleXY)
		}
		oddX, oddY := geom.Mod(a.DoubleXY[0], 2) == 1, geom.Mod(a.DoubleXY[1], 2) == 1
		if oddX == oddY {
			return invalid("agent not on an edge midpoint: %v", a.DoubleXY)
		}
		// On a horizontal edge the agent faces across it vertically, and vice versa.
		if oddX != (facing.X == 0) {
			return invalid("agent facing %v along its edge", facing)
		}
	}
	return nil
}

func inRange(v, n int) bool { return v >= 0 && v < n }

// Decode validates snap and then rebuilds the grid and agent. Gadgets sharing a
// def index share one *gadget.Def.
func Decode(snap SnapshotV1) (*grid.Grid[*gadget.Gadget], *agent.Agent, error) {
	if err := Validate(snap); err != nil {
		return nil, nil, err
	}
	defs := make([]*gadget.Def, len(snap.Defs))
	for i, d := range snap.Defs {
		ts := make([]gadget.Traversal, 0, len(d.Traversals))
		for _, t := range d.Traversals {
			ts = append(ts, gadget.Traversal{
				From: gadget.SP{State: gadget.State(t[0]), Port: gadget.Port(t[1])},
				To:   gadget.SP{State: gadget.State(t[2]), Port: gadget.Port(t[3])},
			})
		}
		defs[i] = gadget.NewDefFromTraversals(d.NumStates, d.NumPorts, ts)
	}

	g := grid.New[*gadget.Gadget]()
	for _, gv := range snap.Gadgets {
		size := geom.WH{W: gv.Size[0], H: gv.Size[1]}
		gad := gadget.New(defs[gv.Def], size, gv.PortMap, gadget.State(gv.State))
		g.Insert(gad, geom.XY{X: gv.Origin[0], Y: gv.Origin[1]}, size)
	}

	var a *agent.Agent
	if snap.Agent != nil {
		a = agent.NewDouble(
			geom.XY{X: snap.Agent.DoubleXY[0], Y: snap.Agent.DoubleXY[1]},
			geom.XY{X: snap.Agent.Facing[0], Y: snap.Agent.Facing[1]},
		)
	}
	return g, a, nil
}

//go:embed grid.schema.json
var gridSchemaJSON string

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString("grid.schema.json", gridSchemaJSON)
	})
	return schema, schemaErr
}

// ValidateJSON checks raw against the snapshot JSON schema.
func ValidateJSON(raw []byte) error {
	s, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("grid.schema.json: %w", err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	return nil
}

// Parse runs the schema check on an uncompressed JSON body and unmarshals it.
// The result still needs Decode to be turned into a grid.
func Parse(raw []byte) (SnapshotV1, error) {
	var snap SnapshotV1
	if err := ValidateJSON(raw); err != nil {
		return snap, err
	}
	if err := json.Unmarshal(raw, &snap); err != nil {
		return snap, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	return snap, nil
}

// Write stores a JSON header line followed by the JSON body in one zstd stream.
func Write(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := writeTo(f, snap); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func writeTo(w io.Writer, snap SnapshotV1) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)

	hb, _ := json.Marshal(snap.Header)
	body, err := json.Marshal(&snap)
	if err != nil {
		_ = enc.Close()
		return fmt.Errorf("json encode: %w", err)
	}
	for _, b := range [][]byte{hb, {'\n'}, body, {'\n'}} {
		if _, err := bw.Write(b); err != nil {
			_ = enc.Close()
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

// ReadHeader returns only the header line, without touching the body.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("%w: header: %v", ErrInvalidSnapshot, err)
	}
	return h, nil
}

// Read loads a snapshot file and schema-checks its body.
func Read(path string) (SnapshotV1, error) {
	f, err := os.Open(path)
	if err != nil {
		return SnapshotV1{}, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return SnapshotV1{}, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)
	if _, err := br.ReadBytes('\n'); err != nil {
		return SnapshotV1{}, fmt.Errorf("read header: %w", err)
	}
	body, err := io.ReadAll(br)
	if err != nil {
		return SnapshotV1{}, fmt.Errorf("zstd decode: %w", err)
	}
	return Parse(bytes.TrimSpace(body))
}
