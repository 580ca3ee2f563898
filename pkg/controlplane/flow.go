package controlplane

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/DeBrosOfficial/dataspace/pkg/errors"
	"github.com/DeBrosOfficial/dataspace/pkg/logging"
	"github.com/DeBrosOfficial/dataspace/pkg/model"
	"github.com/DeBrosOfficial/dataspace/pkg/selector"
	"github.com/DeBrosOfficial/dataspace/pkg/signaling"
	"github.com/DeBrosOfficial/dataspace/pkg/vault"
)

// FlowResult is what starting a data flow yields: the data plane serving it
// and, for PULL transfers, the address the consumer uses.
type FlowResult struct {
	DataPlaneID string
	DataAddress model.DataAddress
}

// DataFlowController moves the data of provider transfers.
type DataFlowController interface {
	CanHandle(tp *model.TransferProcess) bool
	Start(ctx context.Context, tp *model.TransferProcess, agreement *model.ContractAgreement) (*FlowResult, error)
	Suspend(ctx context.Context, tp *model.TransferProcess, reason string) error
	Terminate(ctx context.Context, tp *model.TransferProcess, reason string) error
}

// DataFlowManager dispatches to the first controller that can handle a
// transfer, in registration order.
type DataFlowManager struct {
	mu          sync.RWMutex
	controllers []DataFlowController
}

// NewDataFlowManager creates a manager over controllers.
func NewDataFlowManager(controllers ...DataFlowController) *DataFlowManager {
	return &DataFlowManager{controllers: controllers}
}

// Register appends a controller.
func (m *DataFlowManager) Register(c DataFlowController) {
	m.mu.Lock()
	m.controllers = append(m.controllers, c)
	m.mu.Unlock()
}

func (m *DataFlowManager) resolve(tp *model.TransferProcess) (DataFlowController, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.controllers {
		if c.CanHandle(tp) {
			return c, nil
		}
	}
	return nil, errors.NewNotFoundError("data flow controller for "+tp.TransferType, tp.ID)
}

// Start starts the data flow of tp.
func (m *DataFlowManager) Start(ctx context.Context, tp *model.TransferProcess, agreement *model.ContractAgreement) (*FlowResult, error) {
	c, err := m.resolve(tp)
	if err != nil {
		return nil, err
	}
	return c.Start(ctx, tp, agreement)
}

// Suspend pauses the data flow of tp.
func (m *DataFlowManager) Suspend(ctx context.Context, tp *model.TransferProcess, reason string) error {
	c, err := m.resolve(tp)
	if err != nil {
		return err
	}
	return c.Suspend(ctx, tp, reason)
}

// Terminate stops the data flow of tp.
func (m *DataFlowManager) Terminate(ctx context.Context, tp *model.TransferProcess, reason string) error {
	c, err := m.resolve(tp)
	if err != nil {
		return err
	}
	return c.Terminate(ctx, tp, reason)
}

// SignalingFlowController selects a data plane and drives it over the
// signaling API.
type SignalingFlowController struct {
	selector *selector.Service
	clients  signaling.ClientFactory
	strategy string
	callback string
	logger   *logging.ColoredLogger
}

// NewSignalingFlowController creates the controller. callback is the
// control API base URL the data plane reports to.
func NewSignalingFlowController(sel *selector.Service, clients signaling.ClientFactory, strategy, callback string, logger *logging.ColoredLogger) *SignalingFlowController {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &SignalingFlowController{selector: sel, clients: clients, strategy: strategy, callback: callback, logger: logger}
}

// CanHandle accepts every transfer; register it last.
func (c *SignalingFlowController) CanHandle(*model.TransferProcess) bool { return true }

// Start implements DataFlowController.
func (c *SignalingFlowController) Start(ctx context.Context, tp *model.TransferProcess, agreement *model.ContractAgreement) (*FlowResult, error) {
	var (
		inst *model.DataPlaneInstance
		err  error
	)
	if tp.DataPlaneID != "" {
		inst, err = c.selector.Get(ctx, tp.DataPlaneID)
	} else {
		inst, err = c.selector.Select(ctx, tp.ContentDataAddress, tp.TransferType, c.strategy)
	}
	if err != nil {
		return nil, err
	}

	msg := signaling.NewStartMessage(tp, agreement, tp.ContentDataAddress, c.callback)
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	resp, err := c.clients(*inst).Start(ctx, msg)
	if err != nil {
		return nil, err
	}
	c.logger.ComponentInfo(logging.ComponentTransfer, "Data flow started",
		zap.String("transfer", tp.ID),
		zap.String("data_plane", inst.ID),
		zap.String("transfer_type", tp.TransferType),
	)
	out := &FlowResult{DataPlaneID: inst.ID}
	if resp != nil {
		out.DataAddress = resp.DataAddress
	}
	return out, nil
}

func (c *SignalingFlowController) client(ctx context.Context, tp *model.TransferProcess) (signaling.Client, error) {
	if tp.DataPlaneID == "" {
		return nil, errors.NewNotFoundError("data plane of transfer", tp.ID)
	}
	inst, err := c.selector.Get(ctx, tp.DataPlaneID)
	if err != nil {
		return nil, err
	}
	return c.clients(*inst), nil
}

// Suspend implements DataFlowController.
func (c *SignalingFlowController) Suspend(ctx context.Context, tp *model.TransferProcess, reason string) error {
	cl, err := c.client(ctx, tp)
	if err != nil {
		return err
	}
	return cl.Suspend(ctx, tp.ID, reason)
}

// Terminate implements DataFlowController. A transfer that never reached a
// data plane has nothing to stop.
func (c *SignalingFlowController) Terminate(ctx context.Context, tp *model.TransferProcess, reason string) error {
	if tp.DataPlaneID == "" {
		return nil
	}
	cl, err := c.client(ctx, tp)
	if err != nil {
		return err
	}
	return cl.Terminate(ctx, tp.ID, reason)
}

// StaticEndpointFlowController serves PULL transfers of Kafka assets
// without a data plane: the consumer gets the broker endpoint and the
// credentials stored with the asset.
type StaticEndpointFlowController struct {
	vault  vault.Vault
	logger *logging.ColoredLogger
}

// NewStaticEndpointFlowController creates the controller. v resolves the
// secret an asset names in keyName and may be nil.
func NewStaticEndpointFlowController(v vault.Vault, logger *logging.ColoredLogger) *StaticEndpointFlowController {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &StaticEndpointFlowController{vault: v, logger: logger}
}

// CanHandle implements DataFlowController.
func (c *StaticEndpointFlowController) CanHandle(tp *model.TransferProcess) bool {
	return tp.ContentDataAddress.Type() == model.TypeKafka && tp.FlowType() == model.FlowPull
}

// Start implements DataFlowController.
func (c *StaticEndpointFlowController) Start(ctx context.Context, tp *model.TransferProcess, _ *model.ContractAgreement) (*FlowResult, error) {
	src := tp.ContentDataAddress
	endpoint := src.GetString(model.KeyEndpoint)
	if endpoint == "" {
		endpoint = src.GetString("kafka.bootstrap.servers")
	}
	if endpoint == "" {
		return nil, errors.NewValidationError("dataAddress.endpoint", "kafka asset has no endpoint", nil)
	}
	token := src.GetString(model.KeyAuthorization)
	if token == "" && src.KeyName() != "" && c.vault != nil {
		secret, err := c.vault.ResolveSecret(ctx, src.KeyName())
		if err != nil {
			return nil, err
		}
		token = secret
	}
	edr := model.NewEndpointDataReference(tp.ID, endpoint, token, tp.ContractID).
		Set(model.KeyEndpointType, model.TypeKafka).
		Set(model.KeyTopic, src.GetString(model.KeyTopic))
	c.logger.ComponentInfo(logging.ComponentTransfer, "Static endpoint issued",
		zap.String("transfer", tp.ID), zap.String("endpoint", endpoint))
	return &FlowResult{DataAddress: edr}, nil
}

// Suspend implements DataFlowController; the endpoint stays reachable.
func (c *StaticEndpointFlowController) Suspend(context.Context, *model.TransferProcess, string) error {
	return nil
}

// Terminate implements DataFlowController.
func (c *StaticEndpointFlowController) Terminate(context.Context, *model.TransferProcess, string) error {
	return nil
}
