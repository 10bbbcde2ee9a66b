package r2s3

import (
	"context"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Stats struct {
	QueueDepth      int
	QueueCapacity   int
	Enqueued        uint64
	Dropped         uint64
	Uploaded        uint64
	Failed          uint64
	LastSuccessUnix int64
}

// Uploader is the part of Client the mirror needs.
type Uploader interface {
	PutFile(ctx context.Context, key, localPath string) error
}

type MirrorConfig struct {
	// DataDir is the local root; object keys are paths relative to it.
	DataDir     string
	Prefix      string
	Workers     int
	Queue       int
	EnqueueWait time.Duration
	Attempts    int
	Backoff     time.Duration
	Logger      *log.Logger
}

// Mirror uploads files in the background. Enqueue never blocks longer than
// EnqueueWait; files that do not fit the queue are dropped and counted.
type Mirror struct {
	up  Uploader
	cfg MirrorConfig

	jobs chan string
	wg   sync.WaitGroup
	once sync.Once

	enqueued    atomic.Uint64
	dropped     atomic.Uint64
	uploaded    atomic.Uint64
	failed      atomic.Uint64
	lastSuccess atomic.Int64
}

func NewMirror(up Uploader, cfg MirrorConfig) *Mirror {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Queue <= 0 {
		cfg.Queue = 256
	}
	if cfg.EnqueueWait <= 0 {
		cfg.EnqueueWait = 25 * time.Millisecond
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 4
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 200 * time.Millisecond
	}
	cfg.Prefix = strings.Trim(strings.ReplaceAll(cfg.Prefix, "\\", "/"), "/")

	m := &Mirror{up: up, cfg: cfg, jobs: make(chan string, cfg.Queue)}
	for i := 0; i < cfg.Workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for p := range m.jobs {
				m.upload(p)
			}
		}()
	}
	return m
}

func (m *Mirror) Enqueue(localPath string) {
	if m == nil {
		return
	}
	m.enqueued.Add(1)
	select {
	case m.jobs <- localPath:
		return
	default:
	}
	t := time.NewTimer(m.cfg.EnqueueWait)
	defer t.Stop()
	select {
	case m.jobs <- localPath:
	case <-t.C:
		n := m.dropped.Add(1)
		m.printf("mirror drop %s: queue full (dropped=%d)", localPath, n)
	}
}

// Close stops accepting files and waits for queued uploads to finish.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	m.once.Do(func() { close(m.jobs) })
	m.wg.Wait()
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:      len(m.jobs),
		QueueCapacity:   cap(m.jobs),
		Enqueued:        m.enqueued.Load(),
		Dropped:         m.dropped.Load(),
		Uploaded:        m.uploaded.Load(),
		Failed:          m.failed.Load(),
		LastSuccessUnix: m.lastSuccess.Load(),
	}
}

func (m *Mirror) upload(localPath string) {
	key, err := m.objectKey(localPath)
	if err != nil {
		m.failed.Add(1)
		m.printf("mirror skip %s: %v", localPath, err)
		return
	}
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err = m.up.PutFile(ctx, key, localPath)
		cancel()
		if err == nil {
			break
		}
		if attempt >= m.cfg.Attempts {
			m.failed.Add(1)
			m.printf("mirror upload %s failed after %d attempts: %v", key, attempt, err)
			return
		}
		time.Sleep(time.Duration(attempt*attempt) * m.cfg.Backoff)
	}
	m.uploaded.Add(1)
	m.lastSuccess.Store(time.Now().Unix())
	m.printf("mirror uploaded %s", key)
}

func (m *Mirror) objectKey(localPath string) (string, error) {
	if localPath == "" {
		return "", fmt.Errorf("empty path")
	}
	if _, err := os.Stat(localPath); err != nil {
		return "", err
	}
	base, err := filepath.Abs(m.cfg.DataDir)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(base, abs)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%s is outside %s", abs, base)
	}
	if m.cfg.Prefix != "" {
		rel = path.Join(m.cfg.Prefix, rel)
	}
	return rel, nil
}

func (m *Mirror) printf(format string, args ...any) {
	if m.cfg.Logger != nil {
		m.cfg.Logger.Printf(format, args...)
	}
}
