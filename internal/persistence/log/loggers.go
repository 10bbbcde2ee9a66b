package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// JSONLZstdWriter appends JSON lines to one zstd file per UTC hour.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	return w.enc.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
		return err
	}
	path, err := w.freshPath(hour)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// freshPath never reuses an existing file: a process that crashed may have left
// an unterminated zstd frame behind, and frames appended after it are unreadable.
// Later files for the same hour get a "~NNN" suffix, which sorts after the first.
func (w *JSONLZstdWriter) freshPath(hour string) (string, error) {
	p := w.pathForHour(hour)
	for n := 1; n < 1000; n++ {
		_, err := os.Stat(p)
		if errors.Is(err, fs.ErrNotExist) {
			return p, nil
		}
		if err != nil {
			return "", err
		}
		p = filepath.Join(w.baseDir, fmt.Sprintf("%s-%s~%03d.jsonl.zst", w.prefix, hour, n))
	}
	return "", fmt.Errorf("no free %s file for hour %s", w.prefix, hour)
}

// StepEntry is one applied session command and what it did to the agent.
type StepEntry struct {
	Step uint64 `json:"step"`
	Kind string `json:"kind"`

	Dir    [2]int `json:"dir,omitempty"`
	Preset string `json:"preset,omitempty"`
	Pos    [2]int `json:"pos,omitempty"`
	Turns  int    `json:"turns,omitempty"`

	// Region edits.
	Size   [2]int `json:"size,omitempty"`
	To     [2]int `json:"to,omitempty"`
	FlipX  bool   `json:"flip_x,omitempty"`
	FlipY  bool   `json:"flip_y,omitempty"`
	Center bool   `json:"center,omitempty"`
	Count  int    `json:"count,omitempty"`

	OK        bool   `json:"ok"`
	Moved     bool   `json:"moved,omitempty"`
	Origin    [2]int `json:"origin,omitempty"`
	PrevState int    `json:"prev_state,omitempty"`
	NewState  int    `json:"new_state,omitempty"`
	DoubleXY  [2]int `json:"double_xy"`
	Facing    [2]int `json:"facing"`
}

// StepLogger writes one JSONL entry per applied command (compressed).
type StepLogger struct{ w *JSONLZstdWriter }

func NewStepLogger(puzzleDir string) *StepLogger {
	return &StepLogger{w: NewJSONLZstdWriter(filepath.Join(puzzleDir, "steps"), StepPrefix)}
}

const StepPrefix = "steps"

func (l *StepLogger) WriteStep(e StepEntry) error { return l.w.Write(e) }
func (l *StepLogger) Close() error                { return l.w.Close() }

// ListFiles returns the <prefix>-*.jsonl.zst files in dir, oldest first.
func ListFiles(dir, prefix string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, prefix+"-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

// ReadSteps decodes every entry of a step log file in order.
func ReadSteps(path string, fn func(StepEntry) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		var e StepEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return nil
}
