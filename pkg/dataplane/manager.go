package dataplane

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/DeBrosOfficial/dataspace/pkg/config"
	"github.com/DeBrosOfficial/dataspace/pkg/errors"
	"github.com/DeBrosOfficial/dataspace/pkg/logging"
	"github.com/DeBrosOfficial/dataspace/pkg/model"
	"github.com/DeBrosOfficial/dataspace/pkg/signaling"
)

// FlowStore persists data flows.
type FlowStore interface {
	Create(ctx context.Context, f *model.DataFlow) error
	Update(ctx context.Context, f *model.DataFlow) error
	FindByID(ctx context.Context, id string) (*model.DataFlow, error)
	FindByProcessID(ctx context.Context, processID string) (*model.DataFlow, error)
}

// Reporter tells the control plane how a PUSH flow ended.
// *signaling.ControlClient implements it.
type Reporter interface {
	Complete(ctx context.Context, callback, processID string) error
	Fail(ctx context.Context, callback, processID, reason string) error
}

const (
	reportTimeout  = 30 * time.Second
	reportAttempts = 5
)

// Manager executes data flows. It implements signaling.Client so an
// embedded data plane is driven in-process and a remote one through the
// signaling API.
type Manager struct {
	flows    FlowStore
	pipeline *PipelineService
	tokens   *TokenService
	reporter Reporter
	cfg      config.DataPlaneConfig
	logger   *logging.ColoredLogger
	now      func() time.Time

	// reportBackoff is the first wait between report attempts; it doubles.
	reportBackoff time.Duration

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	// mu serializes state changes of stored flows and guards running.
	mu      sync.Mutex
	running map[string]*run

	base context.Context
	stop context.CancelFunc
}

var _ signaling.Client = (*Manager)(nil)

// NewManager creates a manager. cfg.Workers bounds concurrently running
// PUSH flows and defaults to 4.
func NewManager(flows FlowStore, pipeline *PipelineService, tokens *TokenService, reporter Reporter, cfg config.DataPlaneConfig, logger *logging.ColoredLogger) *Manager {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	base, stop := context.WithCancel(context.Background())
	return &Manager{
		flows:    flows,
		pipeline: pipeline,
		tokens:   tokens,
		reporter: reporter,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		sem:      semaphore.NewWeighted(int64(cfg.Workers)),
		running:  map[string]*run{},
		base:     base,
		stop:     stop,

		reportBackoff: 500 * time.Millisecond,
	}
}

// Pipeline returns the manager's pipeline.
func (m *Manager) Pipeline() *PipelineService { return m.pipeline }

// Tokens returns the manager's token service.
func (m *Manager) Tokens() *TokenService { return m.tokens }

// Start implements signaling.Client. Starting a suspended flow resumes it;
// starting a running PULL flow hands out a fresh reference.
func (m *Manager) Start(ctx context.Context, msg signaling.DataFlowStartMessage) (*signaling.DataFlowResponseMessage, error) {
	if err := m.pipeline.Validate(msg); err != nil {
		return nil, err
	}

	m.mu.Lock()
	flow, err := m.flows.FindByProcessID(ctx, msg.ProcessID)
	switch {
	case err == nil:
		if flow.State.IsFinal() {
			m.mu.Unlock()
			return nil, errors.NewStateTransitionError("data flow", flow.ID, string(flow.State), string(model.FlowStarted))
		}
		if flow.State == model.FlowStarted && flow.FlowType == model.FlowPush {
			m.mu.Unlock()
			return &signaling.DataFlowResponseMessage{}, nil
		}
	case errors.IsNotFound(err):
		now := m.now().UnixMilli()
		flow = &model.DataFlow{
			ID:              uuid.NewString(),
			ProcessID:       msg.ProcessID,
			AgreementID:     msg.AgreementID,
			AssetID:         msg.AssetID,
			ParticipantID:   msg.ParticipantID,
			Source:          msg.SourceDataAddress,
			Destination:     msg.DestinationDataAddress,
			FlowType:        msg.FlowType,
			TransferType:    msg.TransferType,
			CallbackAddress: msg.CallbackAddress,
			State:           model.FlowReceived,
			Properties:      msg.Properties,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := m.flows.Create(ctx, flow); err != nil {
			m.mu.Unlock()
			return nil, err
		}
	default:
		m.mu.Unlock()
		return nil, err
	}

	if err := flow.TransitionTo(model.FlowStarted, m.now().UnixMilli()); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if err := m.flows.Update(ctx, flow); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.mu.Unlock()

	m.logger.ComponentInfo(logging.ComponentDataPlane, "Data flow started",
		zap.String("flow_id", flow.ID),
		zap.String("process_id", flow.ProcessID),
		zap.String("transfer_type", flow.TransferType),
	)

	if flow.FlowType == model.FlowPush {
		m.launch(flow)
		return &signaling.DataFlowResponseMessage{}, nil
	}
	edr, err := m.reference(flow)
	if err != nil {
		return nil, err
	}
	return &signaling.DataFlowResponseMessage{DataAddress: edr}, nil
}

// reference builds the endpoint data reference of a PULL flow.
func (m *Manager) reference(flow *model.DataFlow) (model.DataAddress, error) {
	if m.tokens == nil || m.cfg.PublicEndpoint == "" {
		return nil, errors.WithCode(errors.CodeFailedPrecondition, "data plane has no public API for PULL flows", nil)
	}
	token, err := m.tokens.Issue(flow)
	if err != nil {
		return nil, err
	}
	return model.NewEndpointDataReference(flow.ProcessID, m.cfg.PublicEndpoint, token, flow.AgreementID), nil
}

func messageFor(flow *model.DataFlow) signaling.DataFlowStartMessage {
	return signaling.DataFlowStartMessage{
		ProcessID:              flow.ProcessID,
		AssetID:                flow.AssetID,
		AgreementID:            flow.AgreementID,
		ParticipantID:          flow.ParticipantID,
		SourceDataAddress:      flow.Source,
		DestinationDataAddress: flow.Destination,
		FlowType:               flow.FlowType,
		TransferType:           flow.TransferType,
		CallbackAddress:        flow.CallbackAddress,
		Properties:             flow.Properties,
	}
}

// run is one execution of a PUSH flow. A resumed flow gets a new run.
type run struct {
	cancel context.CancelFunc
}

// launch runs a PUSH flow on the worker pool.
func (m *Manager) launch(flow *model.DataFlow) {
	ctx, cancel := context.WithCancel(m.base)
	r := &run{cancel: cancel}
	m.mu.Lock()
	m.running[flow.ID] = r
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.mu.Lock()
			if m.running[flow.ID] == r {
				delete(m.running, flow.ID)
			}
			m.mu.Unlock()
			cancel()
		}()
		if err := m.sem.Acquire(ctx, 1); err != nil {
			return
		}
		err := m.pipeline.Transfer(ctx, messageFor(flow))
		m.sem.Release(1)
		if ctx.Err() != nil {
			// Suspended, terminated or shut down; the state is already set.
			return
		}
		m.finish(flow.ID, err)
	}()
}

// finish records the outcome of a PUSH flow and reports it.
func (m *Manager) finish(flowID string, transferErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
	defer cancel()

	m.mu.Lock()
	flow, err := m.flows.FindByID(ctx, flowID)
	if err != nil || flow.State != model.FlowStarted {
		m.mu.Unlock()
		return
	}
	target := model.FlowCompleted
	if transferErr != nil {
		target = model.FlowFailed
		flow.ErrorDetail = transferErr.Error()
	}
	if err := flow.TransitionTo(target, m.now().UnixMilli()); err == nil {
		err = m.flows.Update(ctx, flow)
		if err != nil {
			m.logger.ComponentError(logging.ComponentDataPlane, "Failed to store flow result",
				zap.String("flow_id", flow.ID), zap.Error(err))
		}
	}
	m.mu.Unlock()

	if transferErr != nil {
		m.logger.ComponentWarn(logging.ComponentDataPlane, "Data flow failed",
			zap.String("process_id", flow.ProcessID), zap.Error(transferErr))
	} else {
		m.logger.ComponentInfo(logging.ComponentDataPlane, "Data flow completed",
			zap.String("process_id", flow.ProcessID))
	}

	if m.reporter == nil || flow.CallbackAddress == "" {
		return
	}
	if err := m.report(ctx, flow, transferErr); err != nil {
		m.logger.ComponentWarn(logging.ComponentDataPlane, "Failed to report flow result",
			zap.String("process_id", flow.ProcessID),
			zap.String("callback", flow.CallbackAddress),
			zap.Error(err),
		)
	}
}

// report sends the flow result to the control plane. A transfer that is
// still being started answers with a conflict, so those are retried along
// with transient failures.
func (m *Manager) report(ctx context.Context, flow *model.DataFlow, transferErr error) error {
	wait := m.reportBackoff
	for attempt := 1; ; attempt++ {
		var err error
		if transferErr != nil {
			err = m.reporter.Fail(ctx, flow.CallbackAddress, flow.ProcessID, transferErr.Error())
		} else {
			err = m.reporter.Complete(ctx, flow.CallbackAddress, flow.ProcessID)
		}
		if err == nil || attempt >= reportAttempts || !reportRetryable(err) {
			return err
		}
		m.logger.ComponentDebug(logging.ComponentDataPlane, "Flow result not accepted, retrying",
			zap.String("process_id", flow.ProcessID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return err
		case <-m.base.Done():
			return err
		case <-time.After(wait):
		}
		wait *= 2
	}
}

func reportRetryable(err error) bool {
	switch errors.GetErrorCode(err) {
	case errors.CodeConflict, errors.CodeIllegalState:
		return true
	}
	return errors.ShouldRetry(err)
}

// cancelRunning stops the goroutine of a flow, if any. Callers hold mu.
func (m *Manager) cancelRunning(flowID string) {
	if r, ok := m.running[flowID]; ok {
		r.cancel()
		delete(m.running, flowID)
	}
}

// Suspend implements signaling.Client.
func (m *Manager) Suspend(ctx context.Context, processID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	flow, err := m.flows.FindByProcessID(ctx, processID)
	if err != nil {
		return err
	}
	if err := flow.TransitionTo(model.FlowSuspended, m.now().UnixMilli()); err != nil {
		return err
	}
	m.cancelRunning(flow.ID)
	if err := m.flows.Update(ctx, flow); err != nil {
		return err
	}
	m.logger.ComponentInfo(logging.ComponentDataPlane, "Data flow suspended",
		zap.String("process_id", processID), zap.String("reason", reason))
	return nil
}

// Terminate implements signaling.Client. Terminating a finished flow is a
// no-op.
func (m *Manager) Terminate(ctx context.Context, processID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	flow, err := m.flows.FindByProcessID(ctx, processID)
	if err != nil {
		return err
	}
	if flow.State.IsFinal() {
		return nil
	}
	if err := flow.TransitionTo(model.FlowTerminated, m.now().UnixMilli()); err != nil {
		return err
	}
	flow.ErrorDetail = reason
	m.cancelRunning(flow.ID)
	if err := m.flows.Update(ctx, flow); err != nil {
		return err
	}
	m.logger.ComponentInfo(logging.ComponentDataPlane, "Data flow terminated",
		zap.String("process_id", processID), zap.String("reason", reason))
	return nil
}

// GetState implements signaling.Client.
func (m *Manager) GetState(ctx context.Context, processID string) (model.DataFlowState, error) {
	flow, err := m.flows.FindByProcessID(ctx, processID)
	if err != nil {
		return "", err
	}
	return flow.State, nil
}

// Check implements signaling.Client.
func (m *Manager) Check(context.Context) error { return nil }

// Flow returns a stored flow by id.
func (m *Manager) Flow(ctx context.Context, id string) (*model.DataFlow, error) {
	return m.flows.FindByID(ctx, id)
}

// FlowByProcess returns the flow of a transfer process.
func (m *Manager) FlowByProcess(ctx context.Context, processID string) (*model.DataFlow, error) {
	return m.flows.FindByProcessID(ctx, processID)
}

// Shutdown cancels running flows and waits for their goroutines.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.stop()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
