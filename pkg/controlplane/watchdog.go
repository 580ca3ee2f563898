package controlplane

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DeBrosOfficial/dataspace/pkg/logging"
	"github.com/DeBrosOfficial/dataspace/pkg/model"
)

// WatchdogReason is the error detail of transfers the watchdog stopped.
const WatchdogReason = "timeout by watchdog"

// Watchdog terminates transfers that stay STARTED longer than a maximum age.
type Watchdog struct {
	transfers *TransferManager
	interval  time.Duration
	maxAge    time.Duration
	batch     int
	owner     string
	logger    *logging.ColoredLogger
}

// NewWatchdog creates a watchdog over the transfers of m. Zero durations
// default to one minute for the interval and ten minutes for the age.
func NewWatchdog(m *TransferManager, interval, maxAge time.Duration) *Watchdog {
	if interval <= 0 {
		interval = time.Minute
	}
	if maxAge <= 0 {
		maxAge = 10 * time.Minute
	}
	return &Watchdog{
		transfers: m,
		interval:  interval,
		maxAge:    maxAge,
		batch:     m.settings.BatchSize,
		owner:     "watchdog-" + uuid.NewString()[:8],
		logger:    m.deps.Logger,
	}
}

// Run checks every interval until ctx is done.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce terminates one batch of stale transfers and returns how many.
func (w *Watchdog) RunOnce(ctx context.Context) int {
	m := w.transfers
	cutoff := m.deps.Clock().Add(-w.maxAge).UnixMilli()
	stale, err := m.deps.Store.Transfers().NextNotLeasedBefore(ctx, w.owner, w.batch, cutoff, int(model.TransferStarted))
	if err != nil {
		w.logger.ComponentError(logging.ComponentTransfer, "Watchdog failed to lease transfers", zap.Error(err))
		return 0
	}
	n := 0
	for _, tp := range stale {
		if err := tp.Terminate(WatchdogReason, false, m.now()); err != nil {
			m.release(ctx, tp.ID, w.owner)
			continue
		}
		if err := m.save(ctx, tp, w.owner); err != nil {
			w.logger.ComponentWarn(logging.ComponentTransfer, "Watchdog failed to save transfer",
				zap.String("id", tp.ID), zap.Error(err))
			m.release(ctx, tp.ID, w.owner)
			continue
		}
		w.logger.ComponentInfo(logging.ComponentTransfer, "Transfer timed out",
			zap.String("id", tp.ID), zap.Duration("max_age", w.maxAge))
		n++
	}
	return n
}
