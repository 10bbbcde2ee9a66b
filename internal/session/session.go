package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"gadgetgrid/internal/persistence/indexdb"
	persistlog "gadgetgrid/internal/persistence/log"
	"gadgetgrid/internal/persistence/snapshot"
	"gadgetgrid/internal/protocol"
	"gadgetgrid/internal/sim/tuning"
)

var ErrClosed = errors.New("session closed")

type Config struct {
	PuzzleID string
	// Dir holds steps/ and snapshots/ for the puzzle. Empty disables both.
	Dir     string
	Tuning  tuning.Tuning
	Index   *indexdb.SQLiteIndex
	Metrics *Metrics
	Logger  *log.Logger
	// OnSave is called with the path of each snapshot written.
	OnSave func(path string)
}

type request struct {
	cmd   Command
	save  bool
	seq   uint64
	reply chan response
}

type response struct {
	state protocol.StateMsg
	err   error
}

// Session owns a Play and serializes every command through the goroutine running Run.
type Session struct {
	cfg    Config
	play   *Play
	steps  *persistlog.StepLogger
	reqs   chan request
	done   chan struct{}
	logger *log.Logger

	movesSinceSave int
	unsaved        bool

	mu     sync.Mutex
	subs   map[chan protocol.StateMsg]struct{}
	latest protocol.StateMsg
}

func New(cfg Config, play *Play) *Session {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(nil)
	}
	queue := cfg.Tuning.InputQueue
	if queue <= 0 {
		queue = 1
	}
	s := &Session{
		cfg:    cfg,
		play:   play,
		reqs:   make(chan request, queue),
		done:   make(chan struct{}),
		logger: cfg.Logger,
		subs:   map[chan protocol.StateMsg]struct{}{},
	}
	if cfg.Dir != "" {
		s.steps = persistlog.NewStepLogger(cfg.Dir)
	}
	s.latest = play.State(0, Result{})
	return s
}

func (s *Session) PuzzleID() string { return s.cfg.PuzzleID }

// Run handles requests until ctx is done, then writes a final save when anything
// changed since the last one.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)
	defer func() {
		if s.steps != nil {
			_ = s.steps.Close()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			if s.unsaved {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if _, err := s.save(sctx, "shutdown"); err != nil {
					s.logger.Printf("final save: %v", err)
				}
				cancel()
			}
			return ctx.Err()
		case req := <-s.reqs:
			req.reply <- s.handle(ctx, req)
		}
	}
}

func (s *Session) handle(ctx context.Context, req request) response {
	if req.save {
		path, err := s.save(ctx, "request")
		if err != nil {
			return response{err: &CommandError{Code: protocol.ErrInternal, Message: err.Error()}}
		}
		st := s.play.State(req.seq, Result{})
		st.SavedPath = path
		return response{state: st}
	}

	start := time.Now()
	res, err := s.play.Apply(req.cmd)
	s.cfg.Metrics.ApplyDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		s.cfg.Metrics.Commands.WithLabelValues(req.cmd.Kind, "rejected").Inc()
		return response{err: err}
	}
	result := "noop"
	if res.OK {
		result = "ok"
	}
	s.cfg.Metrics.Commands.WithLabelValues(req.cmd.Kind, result).Inc()

	s.unsaved = true
	entry := s.play.Entry(req.cmd, res)
	if s.steps != nil {
		if err := s.steps.WriteStep(entry); err != nil {
			s.logger.Printf("step log: %v", err)
		}
	}
	s.cfg.Index.WriteStep(s.cfg.PuzzleID, entry)

	if res.Moved {
		s.cfg.Metrics.Moves.Inc()
		s.movesSinceSave++
		if every := s.cfg.Tuning.SaveEverySteps; every > 0 && s.movesSinceSave >= every {
			if _, err := s.save(ctx, "auto"); err != nil {
				s.logger.Printf("autosave: %v", err)
			}
		}
	}

	st := s.play.State(req.seq, res)
	s.broadcast(st)
	return response{state: st}
}

// save writes a snapshot and records it in the index. With no Dir configured
// it does nothing and returns an empty path.
func (s *Session) save(ctx context.Context, reason string) (string, error) {
	if s.cfg.Dir == "" {
		return "", nil
	}
	snap := s.play.Snapshot(s.cfg.PuzzleID)
	path := filepath.Join(s.cfg.Dir, "snapshots", fmt.Sprintf("%d.snap.zst", snap.Header.Step))
	if err := snapshot.Write(path, snap); err != nil {
		s.cfg.Metrics.Saves.WithLabelValues(reason, "error").Inc()
		return "", err
	}
	s.movesSinceSave = 0
	s.unsaved = false
	s.cfg.Metrics.Saves.WithLabelValues(reason, "ok").Inc()
	err := s.cfg.Index.RecordSave(ctx, indexdb.SaveRecord{
		PuzzleID:      s.cfg.PuzzleID,
		Step:          snap.Header.Step,
		Path:          path,
		Gadgets:       len(snap.Gadgets),
		Defs:          len(snap.Defs),
		CatalogDigest: snap.Header.CatalogDigest,
	})
	if err != nil {
		s.logger.Printf("index save %s: %v", path, err)
	}
	if s.cfg.OnSave != nil {
		s.cfg.OnSave(path)
	}
	return path, nil
}

func (s *Session) do(ctx context.Context, req request) (protocol.StateMsg, error) {
	req.reply = make(chan response, 1)
	select {
	case <-s.done:
		return protocol.StateMsg{}, &CommandError{Code: protocol.ErrSessionClosed, Message: ErrClosed.Error()}
	default:
	}
	select {
	case s.reqs <- req:
	default:
		return protocol.StateMsg{}, &CommandError{Code: protocol.ErrSessionBusy, Message: "input queue full"}
	}
	select {
	case r := <-req.reply:
		return r.state, r.err
	case <-s.done:
		return protocol.StateMsg{}, &CommandError{Code: protocol.ErrSessionClosed, Message: ErrClosed.Error()}
	case <-ctx.Done():
		return protocol.StateMsg{}, ctx.Err()
	}
}

// Submit queues a command and waits for the resulting state. Errors are
// *CommandError except for ctx cancellation.
func (s *Session) Submit(ctx context.Context, seq uint64, cmd Command) (protocol.StateMsg, error) {
	return s.do(ctx, request{cmd: cmd, seq: seq})
}

// Save forces a snapshot write.
func (s *Session) Save(ctx context.Context, seq uint64) (protocol.StateMsg, error) {
	return s.do(ctx, request{save: true, seq: seq})
}

// Latest returns the most recent broadcast state.
func (s *Session) Latest() protocol.StateMsg {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// Subscribe returns a channel that always holds the newest state; slow readers
// skip intermediate ones. Call the returned func to unsubscribe.
func (s *Session) Subscribe() (<-chan protocol.StateMsg, func()) {
	ch := make(chan protocol.StateMsg, 1)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	ch <- s.latest
	s.mu.Unlock()
	s.cfg.Metrics.Subscribers.Inc()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, ch)
			s.mu.Unlock()
			s.cfg.Metrics.Subscribers.Dec()
		})
	}
}

func (s *Session) broadcast(st protocol.StateMsg) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = st
	for ch := range s.subs {
		sendLatest(ch, st)
	}
}

func sendLatest(ch chan protocol.StateMsg, st protocol.StateMsg) {
	select {
	case ch <- st:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- st:
	default:
	}
}
