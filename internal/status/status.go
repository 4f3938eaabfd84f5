// Package status periodically writes a JSON snapshot of the server's
// metrics to disk using an atomic rename so readers never observe a
// half-written file. Grounded on the teacher's startMetricsLogger
// ticker shape (cmd/can-server/metrics_logger.go) and on
// natefinch/atomic's WriteFile usage in calvinalkan-agent-task's
// internal/fs.Real.WriteFileAtomic.
package status

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/natefinch/atomic"

	"github.com/tp0-distribuidos/lottery-server/internal/coordinator"
	"github.com/tp0-distribuidos/lottery-server/internal/metrics"
)

// Snapshot is the JSON document written to the status file.
type Snapshot struct {
	Timestamp        time.Time        `json:"timestamp"`
	AgenciesNotified int              `json:"agencies_notified"`
	NotifiedAgencies []int            `json:"notified_agencies"`
	Metrics          metrics.Snapshot `json:"metrics"`
}

// Writer owns the destination path and the coordinator it reads from
// to build each snapshot.
type Writer struct {
	path        string
	coordinator *coordinator.Coordinator
}

func NewWriter(path string, c *coordinator.Coordinator) *Writer {
	return &Writer{path: path, coordinator: c}
}

// WriteOnce renders and atomically writes a single snapshot.
func (w *Writer) WriteOnce() error {
	snap := Snapshot{
		Timestamp:        time.Now(),
		AgenciesNotified: w.coordinator.Count(),
		NotifiedAgencies: w.coordinator.Snapshot(),
		Metrics:          metrics.Snap(),
	}
	buf, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return atomic.WriteFile(w.path, bytes.NewReader(buf))
}

// Start runs WriteOnce on every tick until ctx is cancelled. If
// interval is non-positive it is a no-op, matching the teacher's
// startMetricsLogger guard.
func Start(ctx context.Context, w *Writer, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 || w == nil {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				if err := w.WriteOnce(); err != nil {
					l.Warn("status_write_failed", "error", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}
