package catalogs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuiltin_PresetsValidAndShareDefs(t *testing.T) {
	c := Builtin()
	if got := len(c.Gadgets.Presets); got != 22 {
		t.Fatalf("presets = %d, want 22", got)
	}
	straight := c.Gadgets.Presets[c.Gadgets.ByName["Straight"]]
	turn := c.Gadgets.Presets[c.Gadgets.ByName["Turn"]]
	if straight.Def != turn.Def {
		t.Fatalf("Straight and Turn should share a def")
	}
	for _, p := range c.Gadgets.Presets {
		g := p.Gadget()
		if g.Def() != p.Def {
			t.Fatalf("%s: gadget def differs from preset def", p.Name)
		}
	}
	if id, ok := c.Gadgets.DefID(straight.Def); !ok || id != "straight" {
		t.Fatalf("DefID = %q, %v", id, ok)
	}
}

func TestPreset_ReturnsFreshGadget(t *testing.T) {
	c := Builtin()
	a, ok := c.Gadgets.Preset("Toggle")
	if !ok {
		t.Fatalf("missing Toggle")
	}
	b, _ := c.Gadgets.Preset("Toggle")
	a.CycleState()
	if a.State() == b.State() {
		t.Fatalf("presets should not share gadget state")
	}
	if _, ok := c.Gadgets.Preset("Teleporter"); ok {
		t.Fatalf("unexpected preset")
	}
}

func TestLoad_MissingFileUsesBuiltins(t *testing.T) {
	c, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Gadgets.Digest != Builtin().Gadgets.Digest {
		t.Fatalf("digest differs from builtin")
	}
}

func TestLoad_ExtendsBuiltins(t *testing.T) {
	dir := t.TempDir()
	raw := `
defs:
  - id: one_way_turn
    states: 1
    ports: 2
    traversals:
      - [0, 0, 0, 1]
presets:
  - name: One-way turn
    def: one_way_turn
    size: [1, 1]
    port_map: [0, 1]
  - name: Wide diode
    def: diode
    size: [2, 1]
    port_map: [0, 3]
`
	if err := os.WriteFile(filepath.Join(dir, "gadgets.yaml"), []byte(raw), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := len(c.Gadgets.Presets); got != 24 {
		t.Fatalf("presets = %d, want 24", got)
	}
	g, ok := c.Gadgets.Preset("Wide diode")
	if !ok || g.Size().W != 2 {
		t.Fatalf("Wide diode missing or wrong size")
	}
	if c.Gadgets.Digest == Builtin().Gadgets.Digest {
		t.Fatalf("digest should cover the file")
	}
}

func TestLoad_RejectsBadFiles(t *testing.T) {
	cases := map[string]string{
		"unknown def":    "presets:\n  - {name: X, def: nope_nope, size: [1, 1], port_map: []}\n",
		"duplicate name": "presets:\n  - {name: Straight, def: straight, size: [1, 1], port_map: [0, 2]}\n",
		"port collision": "presets:\n  - {name: X, def: straight, size: [1, 1], port_map: [1, 1]}\n",
		"bad traversal":  "defs:\n  - {id: x, states: 1, ports: 1, traversals: [[0, 0, 1, 0]]}\n",
		"zero size":      "presets:\n  - {name: X, def: nope, size: [0, 1], port_map: []}\n",
		"not yaml":       "defs: [\n",
	}
	for name, raw := range cases {
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, "gadgets.yaml"), []byte(raw), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		_, err := Load(dir)
		if err == nil {
			t.Fatalf("%s: expected error", name)
		}
		if !strings.Contains(err.Error(), "gadgets.yaml") {
			t.Fatalf("%s: error %q should name the file", name, err)
		}
	}
}

func TestLoad_RepoConfig(t *testing.T) {
	c, err := Load(filepath.Join("..", "..", "..", "configs"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := c.Gadgets.Preset("Rotator"); !ok {
		t.Fatalf("missing Rotator")
	}
}
