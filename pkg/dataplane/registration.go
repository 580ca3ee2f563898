package dataplane

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/DeBrosOfficial/dataspace/pkg/logging"
	"github.com/DeBrosOfficial/dataspace/pkg/model"
	"github.com/DeBrosOfficial/dataspace/pkg/signaling"
)

// Registrar accepts data plane registrations. *selector.Service registers
// in-process; RemoteRegistrar goes through a control API.
type Registrar interface {
	Register(ctx context.Context, instance model.DataPlaneInstance) error
}

// RemoteRegistrar registers with the control API at URL.
type RemoteRegistrar struct {
	Client *signaling.ControlClient
	URL    string
}

// Register implements Registrar.
func (r RemoteRegistrar) Register(ctx context.Context, instance model.DataPlaneInstance) error {
	return r.Client.Register(ctx, r.URL, instance)
}

// Instance describes this data plane for the selector. Source types default
// to the registered source factories.
func (m *Manager) Instance() model.DataPlaneInstance {
	sources := m.cfg.AllowedSourceTypes
	if len(sources) == 0 {
		sources = m.pipeline.SourceTypes()
	}
	return model.DataPlaneInstance{
		ID:                   m.cfg.ID,
		URL:                  m.cfg.SignalingURL,
		AllowedSourceTypes:   sources,
		AllowedDestTypes:     m.pipeline.SinkTypes(),
		AllowedTransferTypes: m.cfg.AllowedTransferTypes,
	}
}

const (
	registerInitialBackoff = time.Second
	registerMaxBackoff     = 30 * time.Second
)

// RegisterWithRetry registers instance, retrying with exponential backoff
// until it succeeds or ctx is done.
func RegisterWithRetry(ctx context.Context, reg Registrar, instance model.DataPlaneInstance, logger *logging.ColoredLogger) error {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	backoff := registerInitialBackoff
	for attempt := 1; ; attempt++ {
		err := reg.Register(ctx, instance)
		if err == nil {
			logger.ComponentInfo(logging.ComponentDataPlane, "Data plane registered",
				zap.String("id", instance.ID), zap.String("url", instance.URL))
			return nil
		}
		logger.ComponentWarn(logging.ComponentDataPlane, "Data plane registration failed",
			zap.String("id", instance.ID),
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", backoff),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > registerMaxBackoff {
			backoff = registerMaxBackoff
		}
	}
}
