package main

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tp0-distribuidos/lottery-server/internal/coordinator"
	"github.com/tp0-distribuidos/lottery-server/internal/status"
	"github.com/tp0-distribuidos/lottery-server/internal/store"
)

// startStatusWriter wires the status package's periodic snapshot writer
// into the process's lifecycle, plus an on-Append hook so a snapshot is
// refreshed immediately after every stored batch rather than only on
// the next tick; a no-op when cfg.statusPath is empty. The periodic
// writer only runs when cfg.statusInterval is positive.
func startStatusWriter(ctx context.Context, cfg *appConfig, st *store.Store, c *coordinator.Coordinator, l *slog.Logger, wg *sync.WaitGroup) {
	if cfg.statusPath == "" {
		return
	}
	w := status.NewWriter(cfg.statusPath, c)
	status.Start(ctx, w, cfg.statusInterval, l, wg)
	st.SetAppendHook(func() {
		if err := w.WriteOnce(); err != nil {
			l.Warn("status_write_failed", "error", err)
		}
	})
}
