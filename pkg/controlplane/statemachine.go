package controlplane

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DeBrosOfficial/dataspace/pkg/logging"
	"github.com/DeBrosOfficial/dataspace/pkg/store"
)

// processor handles entities in one of its states. The entity is leased by
// the state machine; process saves it when it changed and reports whether
// it did any work.
type processor[T any] struct {
	name    string
	states  []int
	process func(ctx context.Context, v *T) (bool, error)
}

// stateMachine leases batches of entities per processor on every tick.
type stateMachine[T any] struct {
	name       string
	repo       store.LeasedRepository[T]
	id         func(*T) string
	owner      string
	batch      int
	tick       time.Duration
	processors []processor[T]
	component  logging.Component
	logger     *logging.ColoredLogger

	mu sync.Mutex // one RunOnce at a time
}

// RunOnce runs every processor once and returns how many entities made
// progress.
func (m *stateMachine[T]) RunOnce(ctx context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	handled := 0
	for _, p := range m.processors {
		batch, err := m.repo.NextNotLeased(ctx, m.owner, m.batch, p.states...)
		if err != nil {
			m.logger.ComponentError(m.component, "Failed to lease entities",
				zap.String("processor", p.name), zap.Error(err))
			continue
		}
		for _, v := range batch {
			worked, err := p.process(ctx, v)
			if err != nil {
				m.logger.ComponentWarn(m.component, "Processing failed",
					zap.String("processor", p.name),
					zap.String("id", m.id(v)),
					zap.Error(err),
				)
			}
			// No-op when process saved, which already released the lease.
			if err := m.repo.Release(ctx, m.id(v), m.owner); err != nil {
				m.logger.ComponentWarn(m.component, "Failed to release lease",
					zap.String("id", m.id(v)), zap.Error(err))
			}
			if worked {
				handled++
			}
		}
	}
	return handled
}

// Run calls RunOnce every tick until ctx is done. A busy machine runs again
// right away.
func (m *stateMachine[T]) Run(ctx context.Context) {
	m.logger.ComponentInfo(m.component, "State machine started",
		zap.String("name", m.name),
		zap.Duration("tick", m.tick),
		zap.Int("batch", m.batch),
	)
	timer := time.NewTimer(m.tick)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			m.logger.ComponentInfo(m.component, "State machine stopped", zap.String("name", m.name))
			return
		case <-timer.C:
		}
		next := m.tick
		if m.RunOnce(ctx) >= m.batch {
			next = 0
		}
		timer.Reset(next)
	}
}
