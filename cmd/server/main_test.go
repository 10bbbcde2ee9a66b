package main

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"gadgetgrid/internal/observerproto"
	"gadgetgrid/internal/persistence/indexdb"
	persistlog "gadgetgrid/internal/persistence/log"
	"gadgetgrid/internal/persistence/snapshot"
	"gadgetgrid/internal/protocol"
	"gadgetgrid/internal/session"
	"gadgetgrid/internal/sim/catalogs"
	"gadgetgrid/internal/sim/tuning"
	"gadgetgrid/internal/transport/observer"
	"gadgetgrid/internal/transport/ws"
)

func newTestRouter(t *testing.T) (http.Handler, string) {
	t.Helper()
	dir := t.TempDir()
	logger := log.New(io.Discard, "", 0)
	cats := catalogs.Builtin()
	tune := tuning.Defaults()

	idx, err := indexdb.OpenSQLite(filepath.Join(dir, "index", "puzzle.sqlite"))
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	reg := prometheus.NewRegistry()
	registerIndexMetrics(reg, idx)
	sess := session.New(session.Config{
		PuzzleID: "p1",
		Dir:      dir,
		Tuning:   tune,
		Index:    idx,
		Metrics:  session.NewMetrics(reg),
		Logger:   logger,
	}, session.NewPlay(nil, nil, cats, tune.UndoDepth))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sess.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = idx.Close()
	})

	h := newRouter(routerConfig{
		Session:        sess,
		Index:          idx,
		WS:             ws.NewServer(sess, cats, tune, logger),
		Observer:       observer.NewServer(sess, cats, logger),
		Registry:       reg,
		AllowedOrigins: []string{"*"},
		EnableAdmin:    true,
		Logger:         logger,
	})
	return h, dir
}

func do(h http.Handler, method, path, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if remote != "" {
		req.RemoteAddr = remote
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	h, _ := newTestRouter(t)

	rec := do(h, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz: %d %q", rec.Code, rec.Body.String())
	}

	rec = do(h, http.MethodGet, "/metrics", "")
	body := rec.Body.String()
	for _, want := range []string{"gadgetgrid_agent_moves_total", "gadgetgrid_index_queue_capacity", "gadgetgrid_state_subscribers"} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %s:\n%s", want, body)
		}
	}
}

func TestRouter_CORSPreflight(t *testing.T) {
	h, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodOptions, "/admin/v1/state", nil)
	req.Header.Set("Origin", "http://example.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("allow origin: %q", got)
	}
}

func TestRouter_AdminLoopbackOnly(t *testing.T) {
	h, dir := newTestRouter(t)

	if rec := do(h, http.MethodGet, "/admin/v1/state", "203.0.113.5:4000"); rec.Code != http.StatusForbidden {
		t.Fatalf("remote admin: %d", rec.Code)
	}

	rec := do(h, http.MethodGet, "/admin/v1/state", "127.0.0.1:4000")
	if rec.Code != http.StatusOK {
		t.Fatalf("state: %d", rec.Code)
	}
	var st protocol.StateMsg
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil || st.Type != protocol.TypeState {
		t.Fatalf("state body %s: %v", rec.Body.String(), err)
	}

	rec = do(h, http.MethodPost, "/admin/v1/save", "[::1]:4000")
	var saved struct {
		OK   bool   `json:"ok"`
		Path string `json:"path"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &saved); err != nil || !saved.OK {
		t.Fatalf("save %d %s: %v", rec.Code, rec.Body.String(), err)
	}
	if saved.Path != filepath.Join(dir, "snapshots", "0.snap.zst") {
		t.Fatalf("save path: %q", saved.Path)
	}

	rec = do(h, http.MethodGet, "/admin/v1/saves?limit=5", "127.0.0.1:4000")
	var list struct {
		Saves []indexdb.SaveRecord `json:"saves"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil || len(list.Saves) != 1 || list.Saves[0].Path != saved.Path {
		t.Fatalf("saves %s: %v", rec.Body.String(), err)
	}

	if rec := do(h, http.MethodGet, "/admin/v1/observer/bootstrap", "203.0.113.5:4000"); rec.Code != http.StatusForbidden {
		t.Fatalf("remote observer bootstrap: %d", rec.Code)
	}
	rec = do(h, http.MethodGet, "/admin/v1/observer/bootstrap", "127.0.0.1:4000")
	var boot observerproto.BootstrapResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &boot); err != nil || boot.PuzzleID != "p1" {
		t.Fatalf("observer bootstrap %d %s: %v", rec.Code, rec.Body.String(), err)
	}
}

func TestLoadPlay_ResumesSnapshot(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	cats := catalogs.Builtin()
	tune := tuning.Defaults()

	p := session.NewPlay(nil, nil, cats, tune.UndoDepth)
	for _, c := range []session.Command{
		{Kind: protocol.TypeEdit, Op: protocol.OpPlace, Preset: "Toggle"},
		{Kind: protocol.TypeEdit, Op: protocol.OpAgent, Pos: [2]int{1, 0}, Facing: [2]int{0, 1}},
		{Kind: protocol.TypeInput, Dir: [2]int{0, 1}},
	} {
		if _, err := p.Apply(c); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}
	path := filepath.Join(t.TempDir(), "snapshots", "3.snap.zst")
	if err := snapshot.Write(path, p.Snapshot("p1")); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := loadPlay(path, "p1", cats, tune, logger)
	if err != nil {
		t.Fatalf("loadPlay: %v", err)
	}
	if got.Step() != 3 || got.Grid().Len() != 1 || got.Agent().DoubleXY().ToArray() != [2]int{1, 2} {
		t.Fatalf("resumed play: step=%d gadgets=%d", got.Step(), got.Grid().Len())
	}

	if _, err := loadPlay(path, "other", cats, tune, logger); err == nil {
		t.Fatalf("expected puzzle id mismatch")
	}
	fresh, err := loadPlay("", "p1", cats, tune, logger)
	if err != nil || fresh.Step() != 0 || fresh.Grid().Len() != 0 {
		t.Fatalf("fresh play: %v", err)
	}
}

// crashedPuzzle leaves a puzzle dir as a crash after step 4 would: a snapshot at
// step 2 and a step log up to 4. It returns the play as it was at the crash.
func crashedPuzzle(t *testing.T) (string, *session.Play) {
	t.Helper()
	dir := t.TempDir()
	cats := catalogs.Builtin()
	p := session.NewPlay(nil, nil, cats, tuning.Defaults().UndoDepth)
	steps := persistlog.NewStepLogger(dir)
	for i, c := range []session.Command{
		{Kind: protocol.TypeEdit, Op: protocol.OpPlace, Preset: "Toggle", Pos: [2]int{0, 0}},
		{Kind: protocol.TypeEdit, Op: protocol.OpPlace, Preset: "Door", Pos: [2]int{3, 4}},
		{Kind: protocol.TypeEdit, Op: protocol.OpCycle, Pos: [2]int{3, 4}},
		{Kind: protocol.TypeEdit, Op: protocol.OpPlace, Preset: "Toggle", Pos: [2]int{6, 0}},
	} {
		r, err := p.Apply(c)
		if err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
		if err := steps.WriteStep(p.Entry(c, r)); err != nil {
			t.Fatalf("log step: %v", err)
		}
		if p.Step() == 2 {
			if err := snapshot.Write(filepath.Join(dir, "snapshots", "2.snap.zst"), p.Snapshot("p1")); err != nil {
				t.Fatalf("write snapshot: %v", err)
			}
		}
	}
	if err := steps.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return dir, p
}

func TestResumeFromLog_AfterCrash(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	cats := catalogs.Builtin()
	tune := tuning.Defaults()
	dir, live := crashedPuzzle(t)

	play, err := loadPlay(latestSnapshot(dir), "p1", cats, tune, logger)
	if err != nil {
		t.Fatalf("loadPlay: %v", err)
	}
	if play.Step() != 2 {
		t.Fatalf("loaded step %d", play.Step())
	}
	res, err := resumeFromLog(play, dir, true, logger)
	if err != nil {
		t.Fatalf("resumeFromLog: %v", err)
	}
	if res.Replayed != 2 || res.Skipped || res.Err != nil || play.Step() != 4 {
		t.Fatalf("resumed %+v at step %d", res, play.Step())
	}
	if !reflect.DeepEqual(play.Snapshot("p1"), live.Snapshot("p1")) {
		t.Fatalf("resumed field differs from the one before the crash")
	}

	// The next step continues the numbering instead of reusing step 3.
	c := session.Command{Kind: protocol.TypeEdit, Op: protocol.OpRemove, Pos: [2]int{0, 0}}
	r, err := play.Apply(c)
	if err != nil || play.Entry(c, r).Step != 5 {
		t.Fatalf("next step: %+v err=%v", play.Entry(c, r), err)
	}
}

func TestResumeFromLog_WithoutReplaySkipsLoggedSteps(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	cats := catalogs.Builtin()
	tune := tuning.Defaults()
	dir, _ := crashedPuzzle(t)

	play, err := loadPlay(latestSnapshot(dir), "p1", cats, tune, logger)
	if err != nil {
		t.Fatalf("loadPlay: %v", err)
	}
	res, err := resumeFromLog(play, dir, false, logger)
	if err != nil {
		t.Fatalf("resumeFromLog: %v", err)
	}
	if res.Replayed != 0 || !res.Skipped || res.LastLogged != 4 || play.Step() != 4 {
		t.Fatalf("resumed %+v at step %d", res, play.Step())
	}
	if play.Grid().Len() != 2 {
		t.Fatalf("field changed without replay: %d gadgets", play.Grid().Len())
	}
}

func TestResumeFromLog_NoLog(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	play := session.NewPlay(nil, nil, catalogs.Builtin(), 8)
	res, err := resumeFromLog(play, t.TempDir(), true, logger)
	if err != nil || res != (session.Resumed{}) || play.Step() != 0 {
		t.Fatalf("resumed %+v err=%v", res, err)
	}
}

func TestLatestSnapshot(t *testing.T) {
	dir := t.TempDir()
	snaps := filepath.Join(dir, "snapshots")
	if err := os.MkdirAll(snaps, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"9.snap.zst", "120.snap.zst", "30.snap.zst", "notes.txt", "x.snap.zst"} {
		if err := os.WriteFile(filepath.Join(snaps, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if got := latestSnapshot(dir); got != filepath.Join(snaps, "120.snap.zst") {
		t.Fatalf("latest: %s", got)
	}
	if got := latestSnapshot(t.TempDir()); got != "" {
		t.Fatalf("empty dir: %q", got)
	}
}
