package catalogs

func t(s0, p0, s1, p1 int) [4]int { return [4]int{s0, p0, s1, p1} }

// pairs adds both directions of every single-state port pair.
func pairs(ps ...[2]int) [][4]int {
	var out [][4]int
	for _, p := range ps {
		out = append(out, t(0, p[0], 0, p[1]), t(0, p[1], 0, p[0]))
	}
	return out
}

var unit = [2]int{1, 1}

func builtinDoc() fileDoc {
	return fileDoc{
		Defs: []DefSpec{
			{ID: "nope", States: 1, Ports: 0},
			{ID: "straight", States: 1, Ports: 2, Traversals: pairs([2]int{0, 1})},
			{ID: "cross", States: 1, Ports: 4, Traversals: pairs([2]int{0, 1}, [2]int{2, 3})},
			{ID: "3_way", States: 1, Ports: 3, Traversals: pairs([2]int{0, 1}, [2]int{1, 2}, [2]int{2, 0})},
			{ID: "4_way", States: 1, Ports: 4, Traversals: pairs(
				[2]int{0, 1}, [2]int{1, 2}, [2]int{2, 0},
				[2]int{0, 3}, [2]int{1, 3}, [2]int{2, 3},
			)},
			{ID: "diode", States: 1, Ports: 2, Traversals: [][4]int{t(0, 0, 0, 1)}},
			{ID: "toggle", States: 2, Ports: 2, Traversals: [][4]int{t(0, 0, 1, 1), t(1, 1, 0, 0)}},
			{ID: "directed_crumbler", States: 2, Ports: 2, Traversals: [][4]int{t(0, 0, 1, 1)}},
			{ID: "crumbler", States: 2, Ports: 2, Traversals: [][4]int{t(0, 0, 1, 1), t(0, 1, 1, 0)}},
			{ID: "self_closing_door", States: 2, Ports: 3, Traversals: [][4]int{t(0, 0, 1, 0), t(1, 1, 0, 2)}},
			{ID: "2_toggle", States: 2, Ports: 4, Traversals: [][4]int{
				t(0, 0, 1, 1), t(1, 1, 0, 0), t(0, 2, 1, 3), t(1, 3, 0, 2),
			}},
			{ID: "locking_2_toggle", States: 3, Ports: 4, Traversals: [][4]int{
				t(0, 0, 1, 1), t(1, 1, 0, 0), t(0, 2, 2, 3), t(2, 3, 0, 2),
			}},
			{ID: "mismatched_dicrumblers", States: 2, Ports: 4, Traversals: [][4]int{t(0, 0, 1, 1), t(1, 2, 0, 3)}},
			{ID: "mismatched_crumblers", States: 2, Ports: 4, Traversals: [][4]int{
				t(0, 0, 1, 1), t(0, 1, 1, 0), t(1, 2, 0, 3), t(1, 3, 0, 2),
			}},
			{ID: "matched_dicrumblers", States: 2, Ports: 4, Traversals: [][4]int{t(0, 0, 1, 1), t(0, 2, 1, 3)}},
			{ID: "matched_crumblers", States: 2, Ports: 4, Traversals: [][4]int{
				t(0, 0, 1, 1), t(0, 1, 1, 0), t(0, 2, 1, 3), t(0, 3, 1, 2),
			}},
			{ID: "toggle_lock", States: 2, Ports: 4, Traversals: [][4]int{
				t(0, 0, 1, 1), t(1, 1, 0, 0), t(0, 2, 0, 3), t(0, 3, 0, 2),
			}},
			{ID: "tripwire_lock", States: 2, Ports: 4, Traversals: [][4]int{
				t(0, 0, 1, 1), t(1, 1, 0, 0), t(0, 1, 1, 0), t(1, 0, 0, 1), t(0, 2, 0, 3), t(0, 3, 0, 2),
			}},
			{ID: "tripwire_toggle", States: 2, Ports: 4, Traversals: [][4]int{
				t(0, 0, 1, 1), t(1, 1, 0, 0), t(0, 1, 1, 0), t(1, 0, 0, 1), t(0, 2, 1, 3), t(1, 3, 0, 2),
			}},
			{ID: "door", States: 2, Ports: 6, Traversals: [][4]int{
				t(0, 0, 1, 1), t(0, 2, 0, 3), t(1, 0, 1, 1), t(1, 2, 0, 3), t(1, 4, 1, 5),
			}},
		},
		Presets: []PresetSpec{
			{Name: "Nope", Def: "nope", Size: unit, PortMap: []int{}},
			{Name: "Straight", Def: "straight", Size: unit, PortMap: []int{0, 2}},
			{Name: "Turn", Def: "straight", Size: unit, PortMap: []int{0, 1}},
			{Name: "Cross", Def: "cross", Size: unit, PortMap: []int{0, 2, 1, 3}},
			{Name: "2 turns", Def: "cross", Size: unit, PortMap: []int{0, 1, 2, 3}},
			{Name: "3-way", Def: "3_way", Size: unit, PortMap: []int{0, 1, 3}},
			{Name: "4-way", Def: "4_way", Size: unit, PortMap: []int{0, 1, 2, 3}},
			{Name: "Diode", Def: "diode", Size: unit, PortMap: []int{0, 2}},
			{Name: "Toggle", Def: "toggle", Size: unit, PortMap: []int{0, 2}},
			{Name: "Directed crumbler", Def: "directed_crumbler", Size: unit, PortMap: []int{0, 2}},
			{Name: "Crumbler", Def: "crumbler", Size: unit, PortMap: []int{0, 2}},
			{Name: "Self-closing door", Def: "self_closing_door", Size: unit, PortMap: []int{0, 3, 1}},
			{Name: "2-toggle", Def: "2_toggle", Size: unit, PortMap: []int{0, 1, 2, 3}},
			{Name: "Locking 2-toggle", Def: "locking_2_toggle", Size: unit, PortMap: []int{0, 1, 2, 3}},
			{Name: "Mismatched dicrumblers", Def: "mismatched_dicrumblers", Size: unit, PortMap: []int{0, 1, 2, 3}},
			{Name: "Mismatched crumblers", Def: "mismatched_crumblers", Size: unit, PortMap: []int{0, 1, 2, 3}},
			{Name: "Matched dicrumblers", Def: "matched_dicrumblers", Size: unit, PortMap: []int{0, 1, 2, 3}},
			{Name: "Matched crumblers", Def: "matched_crumblers", Size: unit, PortMap: []int{0, 1, 2, 3}},
			{Name: "Toggle lock", Def: "toggle_lock", Size: unit, PortMap: []int{0, 1, 2, 3}},
			{Name: "Tripwire lock", Def: "tripwire_lock", Size: unit, PortMap: []int{0, 1, 2, 3}},
			{Name: "Tripwire toggle", Def: "tripwire_toggle", Size: unit, PortMap: []int{0, 1, 2, 3}},
			{Name: "Door", Def: "door", Size: [2]int{2, 1}, PortMap: []int{4, 5, 1, 2, 0, 3}},
		},
	}
}
