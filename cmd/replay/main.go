package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	persistlog "gadgetgrid/internal/persistence/log"
	"gadgetgrid/internal/persistence/snapshot"
	"gadgetgrid/internal/session"
	"gadgetgrid/internal/sim/catalogs"
	"gadgetgrid/internal/sim/tuning"
)

func main() {
	var (
		snapPath   = flag.String("snapshot", "", "path to .snap.zst (optional: start from an empty field)")
		stepsDir   = flag.String("steps", "", "steps dir containing steps-*.jsonl.zst")
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		toStep     = flag.Uint64("to_step", 0, "stop at step (inclusive, optional)")
	)
	flag.Parse()

	if *snapPath == "" && *stepsDir == "" {
		fmt.Fprintln(os.Stderr, "need -snapshot and/or -steps")
		os.Exit(2)
	}

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load catalogs:", err)
		os.Exit(1)
	}

	tp := *tuningPath
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintln(os.Stderr, "load tuning:", err)
			os.Exit(1)
		}
		tune = tuning.Defaults()
	}

	// Undo history starts empty here as it does after a server resume.
	play := session.NewPlay(nil, nil, cats, tune.UndoDepth)
	if *snapPath != "" {
		snap, err := snapshot.Read(*snapPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read snapshot:", err)
			os.Exit(1)
		}
		fmt.Printf("snapshot v%d puzzle=%s step=%d defs=%d gadgets=%d agent=%v\n",
			snap.Header.Version, snap.Header.PuzzleID, snap.Header.Step, len(snap.Defs), len(snap.Gadgets), snap.Agent != nil)
		g, a, err := snapshot.Decode(snap)
		if err != nil {
			fmt.Fprintln(os.Stderr, "decode snapshot:", err)
			os.Exit(1)
		}
		play = session.NewPlay(g, a, cats, tune.UndoDepth)
		play.SetStep(snap.Header.Step)
	}
	if *stepsDir == "" {
		return
	}

	files, err := persistlog.ListFiles(*stepsDir, persistlog.StepPrefix)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list steps:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no step files found in", *stepsDir)
		os.Exit(1)
	}

	start := play.Step()
	checked, err := session.Replay(play, files, *toStep)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	fmt.Printf("replay ok: checked=%d steps (from step=%d, now step=%d)\n", checked, start, play.Step())
}
