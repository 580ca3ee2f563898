package selector

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DeBrosOfficial/dataspace/pkg/logging"
	"github.com/DeBrosOfficial/dataspace/pkg/model"
	"github.com/DeBrosOfficial/dataspace/pkg/signaling"
)

// HealthChecker probes every registered data plane and marks it AVAILABLE
// or UNAVAILABLE.
type HealthChecker struct {
	service  *Service
	clients  signaling.ClientFactory
	interval time.Duration
	timeout  time.Duration
	logger   *logging.ColoredLogger
}

// NewHealthChecker creates a checker. interval defaults to 30 seconds.
func NewHealthChecker(service *Service, clients signaling.ClientFactory, interval time.Duration, logger *logging.ColoredLogger) *HealthChecker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &HealthChecker{
		service:  service,
		clients:  clients,
		interval: interval,
		timeout:  5 * time.Second,
		logger:   logger,
	}
}

// Run checks all instances every interval until ctx is done.
func (h *HealthChecker) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		h.CheckAll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// CheckAll probes every instance concurrently.
func (h *HealthChecker) CheckAll(ctx context.Context) {
	instances, err := h.service.List(ctx)
	if err != nil {
		h.logger.ComponentWarn(logging.ComponentSelector, "Failed to list data planes", zap.Error(err))
		return
	}
	var wg sync.WaitGroup
	for _, inst := range instances {
		wg.Add(1)
		go func(inst model.DataPlaneInstance) {
			defer wg.Done()
			h.check(ctx, inst)
		}(inst)
	}
	wg.Wait()
}

func (h *HealthChecker) check(ctx context.Context, inst model.DataPlaneInstance) {
	cctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	state := model.DataPlaneAvailable
	if err := h.clients(inst).Check(cctx); err != nil {
		state = model.DataPlaneUnavailable
		h.logger.ComponentWarn(logging.ComponentSelector, "Data plane health check failed",
			zap.String("id", inst.ID),
			zap.String("url", inst.URL),
			zap.Error(err),
		)
	}
	if state != inst.State {
		h.logger.ComponentInfo(logging.ComponentSelector, "Data plane state changed",
			zap.String("id", inst.ID),
			zap.String("from", string(inst.State)),
			zap.String("to", string(state)),
		)
	}
	if err := h.service.SetState(ctx, inst.ID, state); err != nil {
		h.logger.ComponentWarn(logging.ComponentSelector, "Failed to record data plane state",
			zap.String("id", inst.ID), zap.Error(err))
	}
}
