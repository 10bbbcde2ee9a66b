package log

import (
	"path/filepath"
	"testing"
	"time"
)

func TestStepLogger_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	l := NewStepLogger(dir)
	want := []StepEntry{
		{Step: 1, Kind: "INPUT", Dir: [2]int{0, 1}, OK: true, Moved: true, NewState: 1, DoubleXY: [2]int{1, 2}, Facing: [2]int{0, 1}},
		{Step: 2, Kind: "UNDO", OK: true, DoubleXY: [2]int{1, 0}, Facing: [2]int{0, 1}},
		{Step: 3, Kind: "PLACE", Preset: "Toggle", Pos: [2]int{4, -2}, Turns: 1, OK: true},
	}
	for _, e := range want {
		if err := l.WriteStep(e); err != nil {
			t.Fatalf("WriteStep: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	files, err := ListFiles(filepath.Join(dir, "steps"), StepPrefix)
	if err != nil || len(files) != 1 {
		t.Fatalf("files=%v err=%v", files, err)
	}
	var got []StepEntry
	if err := ReadSteps(files[0], func(e StepEntry) error {
		got = append(got, e)
		return nil
	}); err != nil {
		t.Fatalf("ReadSteps: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d entries", len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("entry %d: got %+v want %+v", i, got[i], want[i])
		}
	}
}

func TestJSONLZstdWriter_RotatesHourly(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLZstdWriter(dir, StepPrefix)
	clock := time.Date(2024, 3, 1, 10, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return clock }

	if err := w.Write(StepEntry{Step: 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	clock = clock.Add(2 * time.Minute)
	if err := w.Write(StepEntry{Step: 2}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := ListFiles(dir, StepPrefix)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(files) != 2 || filepath.Base(files[0]) != "steps-2024-03-01-10.jsonl.zst" {
		t.Fatalf("files = %v", files)
	}
	var steps []uint64
	for _, f := range files {
		if err := ReadSteps(f, func(e StepEntry) error {
			steps = append(steps, e.Step)
			return nil
		}); err != nil {
			t.Fatalf("read: %v", err)
		}
	}
	if len(steps) != 2 || steps[0] != 1 || steps[1] != 2 {
		t.Fatalf("steps = %v", steps)
	}
}

func TestJSONLZstdWriter_RestartOpensNewFile(t *testing.T) {
	dir := t.TempDir()
	clock := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	for step := uint64(1); step <= 2; step++ {
		w := NewJSONLZstdWriter(dir, StepPrefix)
		w.now = func() time.Time { return clock }
		if err := w.Write(StepEntry{Step: step}); err != nil {
			t.Fatalf("write: %v", err)
		}
		if step == 1 {
			// Abandon the first writer without closing its frame.
			w.w.Flush()
			continue
		}
		if err := w.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}

	files, err := ListFiles(dir, StepPrefix)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(files) != 2 || filepath.Base(files[1]) != "steps-2024-03-01-10~001.jsonl.zst" {
		t.Fatalf("files = %v", files)
	}
	var steps []uint64
	if err := ReadSteps(files[1], func(e StepEntry) error {
		steps = append(steps, e.Step)
		return nil
	}); err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(steps) != 1 || steps[0] != 2 {
		t.Fatalf("steps = %v", steps)
	}
}
