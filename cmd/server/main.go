package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"gadgetgrid/internal/persistence/indexdb"
	"gadgetgrid/internal/persistence/snapshot"
	"gadgetgrid/internal/session"
	"gadgetgrid/internal/sim/catalogs"
	"gadgetgrid/internal/sim/tuning"
	"gadgetgrid/internal/transport/observer"
	"gadgetgrid/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		puzzleID   = flag.String("puzzle", "puzzle_1", "puzzle id")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite index (steps + saves + catalogs)")
		origins    = flag.String("cors_origins", "*", "comma separated allowed origins")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest save from data dir if present (when -snapshot is empty)")
		replayLog  = flag.Bool("replay_log", true, "replay steps logged after the loaded snapshot (disable when starting from a rewind snapshot)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}

	puzzleDir := filepath.Join(*dataDir, "puzzles", *puzzleID)
	_ = os.MkdirAll(puzzleDir, 0o755)

	idx, err := openRuntimeIndex(puzzleDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
	}

	ctx, cancel := signalContext()
	defer cancel()

	if err := idx.UpsertCatalogs(ctx, cats, tune); err != nil {
		logger.Printf("index backend: upsert catalogs: %v", err)
	}

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = latestSave(ctx, idx, *puzzleID, puzzleDir, logger)
	}
	play, err := loadPlay(snapshotToLoad, *puzzleID, cats, tune, logger)
	if err != nil {
		logger.Fatalf("load snapshot: %v", err)
	}
	resumed, err := resumeFromLog(play, puzzleDir, *replayLog, logger)
	if err != nil {
		logger.Fatalf("resume from step log: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registerIndexMetrics(reg, idx)

	mirror, err := buildMirror(*dataDir, logger)
	if err != nil {
		logger.Fatalf("mirror: %v", err)
	}
	registerMirrorMetrics(reg, mirror)

	sess := session.New(session.Config{
		PuzzleID: *puzzleID,
		Dir:      puzzleDir,
		Tuning:   tune,
		Index:    idx,
		Metrics:  session.NewMetrics(reg),
		Logger:   logger,
		OnSave:   mirror.Enqueue,
	}, play)

	sessDone := make(chan struct{})
	go func() {
		defer close(sessDone)
		if err := sess.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("session stopped: %v", err)
		}
	}()
	if resumed.Skipped {
		if _, err := sess.Save(ctx, 0); err != nil {
			logger.Printf("baseline save after skipped steps: %v", err)
		}
	}

	obs := observer.NewServer(sess, cats, logger)
	promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "gadgetgrid_observers",
		Help: "Connected read-only spectators",
	}, func() float64 { return float64(obs.Watching()) })

	handler := newRouter(routerConfig{
		Session:        sess,
		Index:          idx,
		WS:             ws.NewServer(sess, cats, tune, logger),
		Observer:       obs,
		Registry:       reg,
		AllowedOrigins: splitList(*origins),
		EnableAdmin:    envBool("GG_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()),
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:              *addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("puzzle=%s step=%d listening on %s", *puzzleID, play.Step(), *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
	<-sessDone
	mirror.Close()
}

// loadPlay resumes from a snapshot, or starts an empty field when path is empty.
func loadPlay(path, puzzleID string, cats *catalogs.Catalogs, tune tuning.Tuning, logger *log.Logger) (*session.Play, error) {
	if path == "" {
		return session.NewPlay(nil, nil, cats, tune.UndoDepth), nil
	}
	snap, err := snapshot.Read(path)
	if err != nil {
		return nil, err
	}
	if snap.Header.PuzzleID != "" && snap.Header.PuzzleID != puzzleID {
		return nil, fmt.Errorf("snapshot puzzle id mismatch: flag=%s snap=%s", puzzleID, snap.Header.PuzzleID)
	}
	if snap.Header.CatalogDigest != cats.Gadgets.Digest {
		logger.Printf("snapshot %s was written with another gadget catalog; presets may differ", filepath.Base(path))
	}
	g, a, err := snapshot.Decode(snap)
	if err != nil {
		return nil, err
	}
	play := session.NewPlay(g, a, cats, tune.UndoDepth)
	play.SetStep(snap.Header.Step)
	logger.Printf("resumed from snapshot=%s step=%d gadgets=%d", filepath.Base(path), snap.Header.Step, g.Len())
	return play, nil
}

// resumeFromLog applies the steps logged after the loaded snapshot. Steps that
// cannot be applied are skipped so that new ones get fresh numbers.
func resumeFromLog(play *session.Play, puzzleDir string, replay bool, logger *log.Logger) (session.Resumed, error) {
	res, err := session.Resume(play, filepath.Join(puzzleDir, "steps"), replay)
	if err != nil {
		return res, err
	}
	if res.Replayed > 0 {
		logger.Printf("replayed %d logged steps; step=%d", res.Replayed, play.Step())
	}
	if res.Err != nil {
		logger.Printf("step log replay stopped: %v", res.Err)
	}
	if res.Skipped {
		logger.Printf("skipped logged steps up to %d; saving a new baseline", res.LastLogged)
	}
	return res, nil
}

// latestSave prefers the index and falls back to scanning the snapshot directory.
func latestSave(ctx context.Context, idx *indexdb.SQLiteIndex, puzzleID, puzzleDir string, logger *log.Logger) string {
	rec, ok, err := idx.LatestSave(ctx, puzzleID)
	if err != nil {
		logger.Printf("index backend: latest save: %v", err)
	}
	if ok {
		if _, err := os.Stat(rec.Path); err == nil {
			return rec.Path
		}
		logger.Printf("indexed save %s is missing; scanning %s", rec.Path, puzzleDir)
	}
	return latestSnapshot(puzzleDir)
}

func latestSnapshot(puzzleDir string) string {
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
		base := strings.TrimSuffix(name, ".snap.zst")
		step, err := strconv.ParseUint(base, 10, 64)
		if err != nil {
			continue
		}
		if best == "" || step > bestStep {
			bestStep = step
			best = filepath.Join(dir, name)
		}
	}
	return best
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
