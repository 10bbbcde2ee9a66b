package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	persistlog "gadgetgrid/internal/persistence/log"
	"gadgetgrid/internal/sim/catalogs"
	"gadgetgrid/internal/sim/tuning"
)

var ErrClosed = errors.New("index closed")

// SQLiteIndex is a queryable read model of saves and applied steps. The step
// logs and snapshot files stay the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropSteps atomic.Uint64
	dropSaves atomic.Uint64
}

type reqKind int

const (
	reqStep reqKind = iota + 1
	reqSave
)

type req struct {
	kind reqKind

	puzzleID string
	step     persistlog.StepEntry
	save     SaveRecord
	done     chan error
}

// SaveRecord describes one snapshot file written for a puzzle.
type SaveRecord struct {
	PuzzleID      string
	Step          uint64
	Path          string
	Gadgets       int
	Defs          int
	CatalogDigest string
	CreatedAt     string
}

type QueueStats struct {
	QueueDepth    int
	QueueCapacity int
	DropStepTotal uint64
	DropSaveTotal uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer connection held by the loop, one for readers under WAL.
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS saves (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			puzzle_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			path TEXT NOT NULL,
			gadgets INTEGER NOT NULL,
			defs INTEGER NOT NULL,
			catalog_digest TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_saves_puzzle_step ON saves(puzzle_id, step);`,
		`CREATE TABLE IF NOT EXISTS steps (
			puzzle_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			kind TEXT NOT NULL,
			ok INTEGER NOT NULL,
			moved INTEGER NOT NULL,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (puzzle_id, step)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	if s == nil {
		return nil
	}
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() QueueStats {
	if s == nil {
		return QueueStats{}
	}
	return QueueStats{
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
		DropStepTotal: s.dropSteps.Load(),
		DropSaveTotal: s.dropSaves.Load(),
	}
}

// WriteStep queues a step row. Rows are dropped when the writer falls behind.
func (s *SQLiteIndex) WriteStep(puzzleID string, e persistlog.StepEntry) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqStep, puzzleID: puzzleID, step: e}:
	default:
		s.dropSteps.Add(1)
	}
}

// RecordSave stores a save row and waits until it is committed.
func (s *SQLiteIndex) RecordSave(ctx context.Context, r SaveRecord) error {
	if s == nil {
		return nil
	}
	if s.closed.Load() {
		return ErrClosed
	}
	if r.PuzzleID == "" || r.Path == "" {
		return fmt.Errorf("save record needs puzzle id and path")
	}
	if r.CreatedAt == "" {
		r.CreatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	done := make(chan error, 1)
	select {
	case s.ch <- req{kind: reqSave, save: r, done: done}:
	default:
		s.dropSaves.Add(1)
		return fmt.Errorf("index queue full")
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LatestSave returns the save with the highest step for a puzzle.
func (s *SQLiteIndex) LatestSave(ctx context.Context, puzzleID string) (SaveRecord, bool, error) {
	saves, err := s.ListSaves(ctx, puzzleID, 1)
	if err != nil || len(saves) == 0 {
		return SaveRecord{}, false, err
	}
	return saves[0], true, nil
}

// ListSaves returns up to limit saves for a puzzle, newest first.
func (s *SQLiteIndex) ListSaves(ctx context.Context, puzzleID string, limit int) ([]SaveRecord, error) {
	if s == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT puzzle_id, step, path, gadgets, defs, catalog_digest, created_at
		FROM saves WHERE puzzle_id = ? ORDER BY step DESC, id DESC LIMIT ?`, puzzleID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SaveRecord
	for rows.Next() {
		var r SaveRecord
		var step int64
		if err := rows.Scan(&r.PuzzleID, &step, &r.Path, &r.Gadgets, &r.Defs, &r.CatalogDigest, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Step = uint64(step)
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountSteps reports how many step rows are indexed for a puzzle.
func (s *SQLiteIndex) CountSteps(ctx context.Context, puzzleID string) (int, error) {
	if s == nil {
		return 0, nil
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM steps WHERE puzzle_id = ?`, puzzleID).Scan(&n)
	return n, err
}

// UpsertCatalogs stores the effective gadget catalog and tuning as canonical JSON.
func (s *SQLiteIndex) UpsertCatalogs(ctx context.Context, cats *catalogs.Catalogs, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	type presetRow struct {
		Name    string `json:"name"`
		Def     string `json:"def"`
		Size    [2]int `json:"size"`
		PortMap []int  `json:"port_map"`
		State   int    `json:"state"`
	}
	presets := make([]presetRow, 0, len(cats.Gadgets.Presets))
	for _, p := range cats.Gadgets.Presets {
		presets = append(presets, presetRow{
			Name:    p.Name,
			Def:     p.DefID,
			Size:    p.Size.ToArray(),
			PortMap: p.PortMap,
			State:   int(p.State),
		})
	}
	presetJSON, err := json.Marshal(presets)
	if err != nil {
		return err
	}
	tuneJSON, err := tune.JSON()
	if err != nil {
		return err
	}
	tuneDigest, err := tune.Digest()
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	if _, err := stmt.ExecContext(ctx, "gadgets", cats.Gadgets.Digest, string(presetJSON), now); err != nil {
		return err
	}
	if _, err := stmt.ExecContext(ctx, "tuning", tuneDigest, string(tuneJSON), now); err != nil {
		return err
	}
	return tx.Commit()
}

// CatalogDigest returns the stored digest for a catalog name.
func (s *SQLiteIndex) CatalogDigest(ctx context.Context, name string) (string, bool, error) {
	if s == nil {
		return "", false, nil
	}
	var d string
	err := s.db.QueryRowContext(ctx, `SELECT digest FROM catalogs WHERE name = ?`, name).Scan(&d)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return d, true, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertStep, _ := s.db.Prepare(`INSERT OR REPLACE INTO steps(puzzle_id,step,kind,ok,moved,raw_json) VALUES(?,?,?,?,?,?)`)
	insertSave, _ := s.db.Prepare(`INSERT INTO saves(puzzle_id,step,path,gadgets,defs,catalog_digest,created_at) VALUES(?,?,?,?,?,?,?)`)
	defer func() {
		if insertStep != nil {
			_ = insertStep.Close()
		}
		if insertSave != nil {
			_ = insertSave.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = time.Second
	)

	begin := func() error {
		if tx != nil {
			return nil
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
		return nil
	}
	commit := func() error {
		if tx == nil {
			return nil
		}
		err := tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
		return err
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			_ = commit()
		}
	}

	ticker := time.NewTicker(commitMaxWait)
	defer ticker.Stop()

	for {
		var r req
		select {
		case rr, ok := <-s.ch:
			if !ok {
				_ = commit()
				return
			}
			r = rr
		case <-ticker.C:
			flushIfNeeded()
			continue
		}

		if err := begin(); err != nil {
			if r.done != nil {
				r.done <- err
			}
			time.Sleep(50 * time.Millisecond)
			continue
		}

		switch r.kind {
		case reqStep:
			if insertStep == nil {
				continue
			}
			raw, _ := json.Marshal(r.step)
			if _, err := tx.Stmt(insertStep).Exec(
				r.puzzleID,
				int64(r.step.Step),
				r.step.Kind,
				boolInt(r.step.OK),
				boolInt(r.step.Moved),
				string(raw),
			); err != nil {
				rollback()
				continue
			}
			opCount++
			flushIfNeeded()

		case reqSave:
			sv := r.save
			if insertSave == nil {
				r.done <- fmt.Errorf("saves statement unavailable")
				continue
			}
			if _, err := tx.Stmt(insertSave).Exec(
				sv.PuzzleID,
				int64(sv.Step),
				sv.Path,
				sv.Gadgets,
				sv.Defs,
				sv.CatalogDigest,
				sv.CreatedAt,
			); err != nil {
				rollback()
				r.done <- err
				continue
			}
			r.done <- commit()
		}
	}
}
