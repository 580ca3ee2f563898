// Package selector keeps track of the data planes a control plane may use
// and picks one for each transfer.
package selector

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DeBrosOfficial/dataspace/pkg/errors"
	"github.com/DeBrosOfficial/dataspace/pkg/logging"
	"github.com/DeBrosOfficial/dataspace/pkg/model"
)

// InstanceStore persists registered data planes.
type InstanceStore interface {
	Upsert(ctx context.Context, inst *model.DataPlaneInstance) error
	Update(ctx context.Context, inst *model.DataPlaneInstance) error
	FindByID(ctx context.Context, id string) (*model.DataPlaneInstance, error)
	Delete(ctx context.Context, id string) error
	All(ctx context.Context) ([]model.DataPlaneInstance, error)
}

// Service registers and selects data planes.
type Service struct {
	store           InstanceStore
	strategies      *StrategyRegistry
	defaultStrategy string
	logger          *logging.ColoredLogger
	clock           func() time.Time

	mu sync.Mutex // serializes turn count updates
}

// NewService creates a selector. An empty defaultStrategy means random.
func NewService(store InstanceStore, defaultStrategy string, logger *logging.ColoredLogger) *Service {
	if defaultStrategy == "" {
		defaultStrategy = StrategyRandom
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Service{
		store:           store,
		strategies:      NewStrategyRegistry(),
		defaultStrategy: defaultStrategy,
		logger:          logger,
		clock:           time.Now,
	}
}

// Strategies exposes the strategy registry for custom strategies.
func (s *Service) Strategies() *StrategyRegistry { return s.strategies }

// Register adds a data plane or replaces the one with the same id.
func (s *Service) Register(ctx context.Context, inst model.DataPlaneInstance) error {
	if err := inst.Validate(); err != nil {
		return errors.NewValidationError("dataplane", err.Error(), nil)
	}
	if inst.State == "" {
		inst.State = model.DataPlaneRegistered
	}
	inst.LastActive = s.clock().UnixMilli()
	if err := s.store.Upsert(ctx, &inst); err != nil {
		return err
	}
	s.logger.ComponentInfo(logging.ComponentSelector, "Data plane registered",
		zap.String("id", inst.ID),
		zap.String("url", inst.URL),
		zap.Strings("source_types", inst.AllowedSourceTypes),
		zap.Strings("transfer_types", inst.AllowedTransferTypes),
	)
	return nil
}

// Unregister removes a data plane.
func (s *Service) Unregister(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.ComponentInfo(logging.ComponentSelector, "Data plane unregistered", zap.String("id", id))
	return nil
}

// Get returns one data plane.
func (s *Service) Get(ctx context.Context, id string) (*model.DataPlaneInstance, error) {
	return s.store.FindByID(ctx, id)
}

// List returns all registered data planes sorted by id.
func (s *Service) List(ctx context.Context) ([]model.DataPlaneInstance, error) {
	all, err := s.store.All(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all, nil
}

// Select picks a data plane able to serve source with transferType. An
// empty strategy uses the configured default.
func (s *Service) Select(ctx context.Context, source model.DataAddress, transferType, strategy string) (*model.DataPlaneInstance, error) {
	if strategy == "" {
		strategy = s.defaultStrategy
	}
	strat, ok := s.strategies.Get(strategy)
	if !ok {
		return nil, errors.NewValidationError("strategy", fmt.Sprintf("unknown selection strategy %q", strategy), strategy)
	}

	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	eligible := make([]model.DataPlaneInstance, 0, len(all))
	for _, inst := range all {
		if inst.State == model.DataPlaneUnavailable {
			continue
		}
		if inst.CanHandle(source, transferType) {
			eligible = append(eligible, inst)
		}
	}
	if len(eligible) == 0 {
		return nil, errors.NewNotFoundError("data plane",
			fmt.Sprintf("source %s, transfer type %s", source.Type(), transferType))
	}

	chosen := strat.Apply(eligible)
	s.logger.ComponentDebug(logging.ComponentSelector, "Data plane selected",
		zap.String("id", chosen.ID),
		zap.String("strategy", strategy),
		zap.Int("eligible", len(eligible)),
	)

	s.mu.Lock()
	defer s.mu.Unlock()
	stored, err := s.store.FindByID(ctx, chosen.ID)
	if err != nil {
		return nil, err
	}
	stored.TurnCount++
	if err := s.store.Update(ctx, stored); err != nil {
		return nil, err
	}
	return stored, nil
}

// SetState records the outcome of a health check.
func (s *Service) SetState(ctx context.Context, id string, state model.DataPlaneState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, err := s.store.FindByID(ctx, id)
	if err != nil {
		return err
	}
	inst.State = state
	if state == model.DataPlaneAvailable {
		inst.LastActive = s.clock().UnixMilli()
	}
	return s.store.Update(ctx, inst)
}
