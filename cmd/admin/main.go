package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	persistlog "gadgetgrid/internal/persistence/log"
	"gadgetgrid/internal/persistence/snapshot"
	"gadgetgrid/internal/session"
	"gadgetgrid/internal/sim/catalogs"
	"gadgetgrid/internal/sim/tuning"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "rewind":
			rewindCmd(os.Args[2:])
			return
		case "inspect":
			inspectCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "save":
			saveCmd(os.Args[2:])
			return
		case "saves":
			savesCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	puzzleID := fs.String("puzzle", "", "puzzle id (optional)")
	_ = fs.Parse(args)

	base := filepath.Join(*dataDir, "puzzles")
	if *puzzleID != "" {
		base = filepath.Join(base, *puzzleID)
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		fmt.Println(e.Name())
	}
}

func inspectCmd(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	snapPath := fs.String("snapshot", "", "snapshot path")
	_ = fs.Parse(args)

	if strings.TrimSpace(*snapPath) == "" {
		fmt.Fprintln(os.Stderr, "missing -snapshot")
		os.Exit(2)
	}
	snap, err := snapshot.Read(*snapPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	printJSON(summarize(snap))
}

type snapshotSummary struct {
	snapshot.Header
	Defs    int               `json:"defs"`
	Gadgets int               `json:"gadgets"`
	Cells   int               `json:"cells"`
	Agent   *snapshot.AgentV1 `json:"agent,omitempty"`
}

func summarize(snap snapshot.SnapshotV1) snapshotSummary {
	s := snapshotSummary{Header: snap.Header, Defs: len(snap.Defs), Gadgets: len(snap.Gadgets), Agent: snap.Agent}
	for _, g := range snap.Gadgets {
		s.Cells += g.Size[0] * g.Size[1]
	}
	return s
}

// rewindCmd rebuilds the field as it was at an earlier step from the newest
// snapshot at or before it plus the step log, and writes it as a new snapshot.
func rewindCmd(args []string) {
	fs := flag.NewFlagSet("rewind", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	puzzleID := fs.String("puzzle", "", "puzzle id")
	configDir := fs.String("configs", "./configs", "config directory")
	toStep := fs.Uint64("to_step", 0, "step to rewind to (required)")
	outPath := fs.String("out", "", "output snapshot path (optional)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*puzzleID) == "" {
		fmt.Fprintln(os.Stderr, "missing -puzzle")
		os.Exit(2)
	}
	if *toStep == 0 {
		fmt.Fprintln(os.Stderr, "missing -to_step")
		os.Exit(2)
	}

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load catalogs:", err)
		os.Exit(1)
	}
	tune, err := tuning.Load(filepath.Join(*configDir, "tuning.yaml"))
	if err != nil {
		tune = tuning.Defaults()
	}

	puzzleDir := filepath.Join(*dataDir, "puzzles", *puzzleID)
	play, from, err := rewind(puzzleDir, *puzzleID, *toStep, cats, tune)
	if err != nil {
		fmt.Fprintln(os.Stderr, "rewind:", err)
		os.Exit(1)
	}

	if strings.TrimSpace(*outPath) == "" {
		*outPath = filepath.Join(puzzleDir, "snapshots", fmt.Sprintf("%d.rewind.snap.zst", play.Step()))
	}
	if err := snapshot.Write(*outPath, play.Snapshot(*puzzleID)); err != nil {
		fmt.Fprintln(os.Stderr, "write snapshot:", err)
		os.Exit(1)
	}
	fmt.Printf("rewind ok: from=%s step=%d gadgets=%d out=%s\n", from, play.Step(), play.Grid().Len(), *outPath)
}

func rewind(puzzleDir, puzzleID string, toStep uint64, cats *catalogs.Catalogs, tune tuning.Tuning) (*session.Play, string, error) {
	play := session.NewPlay(nil, nil, cats, tune.UndoDepth)
	from := "empty"
	if path := snapshotAtOrBefore(puzzleDir, toStep); path != "" {
		snap, err := snapshot.Read(path)
		if err != nil {
			return nil, "", err
		}
		if snap.Header.PuzzleID != "" && snap.Header.PuzzleID != puzzleID {
			return nil, "", fmt.Errorf("%s belongs to puzzle %s", filepath.Base(path), snap.Header.PuzzleID)
		}
		g, a, err := snapshot.Decode(snap)
		if err != nil {
			return nil, "", err
		}
		play = session.NewPlay(g, a, cats, tune.UndoDepth)
		play.SetStep(snap.Header.Step)
		from = filepath.Base(path)
	}
	if play.Step() < toStep {
		files, err := persistlog.ListFiles(filepath.Join(puzzleDir, "steps"), persistlog.StepPrefix)
		if err != nil {
			return nil, "", err
		}
		if _, err := session.Replay(play, files, toStep); err != nil {
			return nil, "", err
		}
	}
	if play.Step() != toStep {
		return nil, "", fmt.Errorf("log ends at step %d", play.Step())
	}
	return play, from, nil
}

func snapshotAtOrBefore(puzzleDir string, step uint64) string {
	dir := filepath.Join(puzzleDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestStep uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		n, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil || n > step {
			continue
		}
		if best == "" || n > bestStep {
			bestStep = n
			best = filepath.Join(dir, name)
		}
	}
	return best
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
