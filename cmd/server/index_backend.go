package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"gadgetgrid/internal/persistence/indexdb"
)

// openRuntimeIndex returns nil when indexing is off; every index method is a
// no-op on a nil receiver.
func openRuntimeIndex(puzzleDir string, disableDB bool) (*indexdb.SQLiteIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("GG_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		dbPath := filepath.Join(puzzleDir, "index", "puzzle.sqlite")
		return indexdb.OpenSQLite(dbPath)
	default:
		return nil, fmt.Errorf("unsupported GG_INDEX_BACKEND: %s", backend)
	}
}

func registerIndexMetrics(reg prometheus.Registerer, idx *indexdb.SQLiteIndex) {
	if idx == nil {
		return
	}
	f := promauto.With(reg)
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "gadgetgrid_index_queue_depth",
		Help: "Pending index writes",
	}, func() float64 { return float64(idx.Stats().QueueDepth) })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "gadgetgrid_index_queue_capacity",
		Help: "Index write queue capacity",
	}, func() float64 { return float64(idx.Stats().QueueCapacity) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Name: "gadgetgrid_index_dropped_steps_total",
		Help: "Step rows dropped because the index queue was full",
	}, func() float64 { return float64(idx.Stats().DropStepTotal) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Name: "gadgetgrid_index_dropped_saves_total",
		Help: "Save rows rejected because the index queue was full",
	}, func() float64 { return float64(idx.Stats().DropSaveTotal) })
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
