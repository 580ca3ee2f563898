package signaling

import (
	"context"

	"github.com/DeBrosOfficial/dataspace/pkg/model"
)

type mockFlows struct {
	StartFunc     func(ctx context.Context, msg DataFlowStartMessage) (*DataFlowResponseMessage, error)
	SuspendFunc   func(ctx context.Context, processID, reason string) error
	TerminateFunc func(ctx context.Context, processID, reason string) error
	GetStateFunc  func(ctx context.Context, processID string) (model.DataFlowState, error)
	CheckFunc     func(ctx context.Context) error
}

func (m *mockFlows) Start(ctx context.Context, msg DataFlowStartMessage) (*DataFlowResponseMessage, error) {
	return m.StartFunc(ctx, msg)
}

func (m *mockFlows) Suspend(ctx context.Context, processID, reason string) error {
	return m.SuspendFunc(ctx, processID, reason)
}

func (m *mockFlows) Terminate(ctx context.Context, processID, reason string) error {
	return m.TerminateFunc(ctx, processID, reason)
}

func (m *mockFlows) GetState(ctx context.Context, processID string) (model.DataFlowState, error) {
	return m.GetStateFunc(ctx, processID)
}

func (m *mockFlows) Check(ctx context.Context) error {
	if m.CheckFunc == nil {
		return nil
	}
	return m.CheckFunc(ctx)
}

type mockCallbacks struct {
	completed  []string
	failed     map[string]string
	registered []model.DataPlaneInstance
}

func (m *mockCallbacks) CompleteTransfer(_ context.Context, id string) error {
	m.completed = append(m.completed, id)
	return nil
}

func (m *mockCallbacks) FailTransfer(_ context.Context, id, reason string) error {
	if m.failed == nil {
		m.failed = map[string]string{}
	}
	m.failed[id] = reason
	return nil
}

func (m *mockCallbacks) Register(_ context.Context, inst model.DataPlaneInstance) error {
	m.registered = append(m.registered, inst)
	return nil
}
