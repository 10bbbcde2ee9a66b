package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"gadgetgrid/internal/sim/gadget"
	"gadgetgrid/internal/sim/geom"
)

type Catalogs struct {
	Gadgets GadgetCatalog
}

type GadgetCatalog struct {
	Defs    map[string]*gadget.Def
	Presets []Preset
	ByName  map[string]int
	// Digest covers the canonical built-in table followed by the raw gadgets.yaml.
	Digest string
}

// Preset is a named gadget prototype. Presets with the same behavior share a Def.
type Preset struct {
	Name    string
	DefID   string
	Def     *gadget.Def
	Size    geom.WH
	PortMap []int
	State   gadget.State
}

// Gadget returns a fresh gadget built from the preset.
func (p Preset) Gadget() *gadget.Gadget {
	return gadget.New(p.Def, p.Size, p.PortMap, p.State)
}

type fileDoc struct {
	Defs    []DefSpec    `yaml:"defs"`
	Presets []PresetSpec `yaml:"presets"`
}

type DefSpec struct {
	ID     string `yaml:"id"`
	States int    `yaml:"states"`
	Ports  int    `yaml:"ports"`
	// Each traversal is [from_state, from_port, to_state, to_port].
	Traversals [][4]int `yaml:"traversals"`
}

type PresetSpec struct {
	Name    string `yaml:"name"`
	Def     string `yaml:"def"`
	Size    [2]int `yaml:"size"`
	PortMap []int  `yaml:"port_map"`
	State   int    `yaml:"state"`
}

// Load builds the built-in presets extended by <configDir>/gadgets.yaml. A
// missing file or an empty configDir yields the built-ins alone. Ids and names in
// the file must not collide with the built-ins.
func Load(configDir string) (*Catalogs, error) {
	var c Catalogs
	if configDir == "" {
		return &c, loadBuiltin(&c.Gadgets)
	}
	if err := loadGadgets(filepath.Join(configDir, "gadgets.yaml"), &c.Gadgets); err != nil {
		return nil, err
	}
	return &c, nil
}

// Builtin returns the catalog of built-in presets.
func Builtin() *Catalogs {
	var c Catalogs
	if err := loadBuiltin(&c.Gadgets); err != nil {
		panic(err)
	}
	return &c
}

// Preset returns a fresh gadget of the named preset.
func (c *GadgetCatalog) Preset(name string) (*gadget.Gadget, bool) {
	i, ok := c.ByName[name]
	if !ok {
		return nil, false
	}
	return c.Presets[i].Gadget(), true
}

// Names lists preset names in catalog order.
func (c *GadgetCatalog) Names() []string {
	out := make([]string, len(c.Presets))
	for i, p := range c.Presets {
		out[i] = p.Name
	}
	return out
}

// DefID finds the catalog id of def, compared by identity.
func (c *GadgetCatalog) DefID(def *gadget.Def) (string, bool) {
	for id, d := range c.Defs {
		if d == def {
			return id, true
		}
	}
	return "", false
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func loadBuiltin(out *GadgetCatalog) error {
	doc := builtinDoc()
	raw, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("builtin gadgets: %w", err)
	}
	out.Digest = sha256Hex(raw)
	return build(doc, out, "builtin gadgets")
}

func loadGadgets(path string, out *GadgetCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return loadBuiltin(out)
		}
		return err
	}
	var doc fileDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("gadgets.yaml: %w", err)
	}
	base := builtinDoc()
	builtinRaw, err := yaml.Marshal(base)
	if err != nil {
		return fmt.Errorf("builtin gadgets: %w", err)
	}
	out.Digest = sha256Hex(append(builtinRaw, raw...))
	base.Defs = append(base.Defs, doc.Defs...)
	base.Presets = append(base.Presets, doc.Presets...)
	return build(base, out, "gadgets.yaml")
}

func build(doc fileDoc, out *GadgetCatalog, src string) error {
	out.Defs = map[string]*gadget.Def{}
	for _, d := range doc.Defs {
		if d.ID == "" {
			return fmt.Errorf("%s: def with empty id", src)
		}
		if _, dup := out.Defs[d.ID]; dup {
			return fmt.Errorf("%s: duplicate def %q", src, d.ID)
		}
		ts := make([]gadget.Traversal, 0, len(d.Traversals))
		for _, t := range d.Traversals {
			ts = append(ts, gadget.Traversal{
				From: gadget.SP{State: gadget.State(t[0]), Port: gadget.Port(t[1])},
				To:   gadget.SP{State: gadget.State(t[2]), Port: gadget.Port(t[3])},
			})
		}
		def := gadget.NewDefFromTraversals(d.States, d.Ports, ts)
		if err := def.Validate(); err != nil {
			return fmt.Errorf("%s: def %q: %w", src, d.ID, err)
		}
		out.Defs[d.ID] = def
	}

	out.Presets = make([]Preset, 0, len(doc.Presets))
	out.ByName = make(map[string]int, len(doc.Presets))
	for _, p := range doc.Presets {
		if p.Name == "" {
			return fmt.Errorf("%s: preset with empty name", src)
		}
		if _, dup := out.ByName[p.Name]; dup {
			return fmt.Errorf("%s: duplicate preset %q", src, p.Name)
		}
		def, ok := out.Defs[p.Def]
		if !ok {
			return fmt.Errorf("%s: preset %q: unknown def %q", src, p.Name, p.Def)
		}
		size := geom.WH{W: p.Size[0], H: p.Size[1]}
		portMap := append([]int{}, p.PortMap...)
		if err := gadget.Validate(def, size, portMap, gadget.State(p.State)); err != nil {
			return fmt.Errorf("%s: preset %q: %w", src, p.Name, err)
		}
		out.ByName[p.Name] = len(out.Presets)
		out.Presets = append(out.Presets, Preset{
			Name:    p.Name,
			DefID:   p.Def,
			Def:     def,
			Size:    size,
			PortMap: portMap,
			State:   gadget.State(p.State),
		})
	}
	return nil
}

// SortedDefIDs is used for stable output in tools.
func (c *GadgetCatalog) SortedDefIDs() []string {
	ids := make([]string, 0, len(c.Defs))
	for id := range c.Defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
