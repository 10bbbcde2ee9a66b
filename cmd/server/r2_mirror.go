package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"gadgetgrid/internal/persistence/r2s3"
)

// buildMirror returns nil unless GG_MIRROR is set. A nil mirror ignores
// Enqueue and Close.
func buildMirror(dataDir string, logger *log.Logger) (*r2s3.Mirror, error) {
	if !envBool("GG_MIRROR", false) {
		return nil, nil
	}
	client, err := r2s3.New(r2s3.Options{
		Endpoint:        os.Getenv("GG_MIRROR_ENDPOINT"),
		Bucket:          os.Getenv("GG_MIRROR_BUCKET"),
		Region:          os.Getenv("GG_MIRROR_REGION"),
		AccessKeyID:     os.Getenv("GG_MIRROR_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("GG_MIRROR_SECRET_ACCESS_KEY"),
	})
	if err != nil {
		return nil, fmt.Errorf("GG_MIRROR=true: %w", err)
	}
	return r2s3.NewMirror(client, r2s3.MirrorConfig{
		DataDir: dataDir,
		Prefix:  strings.TrimSpace(os.Getenv("GG_MIRROR_PREFIX")),
		Workers: envInt("GG_MIRROR_WORKERS", 2),
		Logger:  logger,
	}), nil
}

func registerMirrorMetrics(reg prometheus.Registerer, m *r2s3.Mirror) {
	if m == nil {
		return
	}
	f := promauto.With(reg)
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "gadgetgrid_mirror_queue_depth",
		Help: "Snapshots waiting to be uploaded",
	}, func() float64 { return float64(m.Stats().QueueDepth) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Name: "gadgetgrid_mirror_uploaded_total",
		Help: "Snapshots uploaded to the mirror bucket",
	}, func() float64 { return float64(m.Stats().Uploaded) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Name: "gadgetgrid_mirror_failed_total",
		Help: "Snapshots that could not be uploaded",
	}, func() float64 { return float64(m.Stats().Failed) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Name: "gadgetgrid_mirror_dropped_total",
		Help: "Snapshots dropped because the upload queue was full",
	}, func() float64 { return float64(m.Stats().Dropped) })
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
