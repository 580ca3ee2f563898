package controlplane

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DeBrosOfficial/dataspace/pkg/errors"
	"github.com/DeBrosOfficial/dataspace/pkg/events"
	"github.com/DeBrosOfficial/dataspace/pkg/logging"
	"github.com/DeBrosOfficial/dataspace/pkg/model"
	"github.com/DeBrosOfficial/dataspace/pkg/policy"
	"github.com/DeBrosOfficial/dataspace/pkg/protocol"
	"github.com/DeBrosOfficial/dataspace/pkg/signaling"
)

// Private properties kept on provider transfers between attempts.
const (
	propFlowStarted       = "flowStarted"
	propFlowAddress       = "flowDataAddress"
	propSuspendReason     = "suspendReason"
	propCompletionPending = "completionPending"
)

// TransferRequest starts a transfer from the consumer side.
type TransferRequest struct {
	CounterPartyAddress string                  `json:"counterPartyAddress"`
	ContractID          string                  `json:"contractId"`
	AssetID             string                  `json:"assetId,omitempty"`
	Protocol            string                  `json:"protocol,omitempty"`
	TransferType        string                  `json:"transferType"`
	DataDestination     model.DataAddress       `json:"dataDestination,omitempty"`
	CallbackAddresses   []model.CallbackAddress `json:"callbackAddresses,omitempty"`
	PrivateProperties   map[string]any          `json:"privateProperties,omitempty"`
}

// Validate checks required fields.
func (r TransferRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.CounterPartyAddress) == "":
		return errors.NewValidationError("counterPartyAddress", "counterPartyAddress is required", nil)
	case r.ContractID == "":
		return errors.NewValidationError("contractId", "contractId is required", nil)
	case r.Protocol != "" && r.Protocol != model.ProtocolDSP:
		return errors.NewValidationError("protocol", "unsupported protocol", r.Protocol)
	}
	_, flow, err := model.ParseTransferType(r.TransferType)
	if err != nil {
		return errors.NewValidationError("transferType", err.Error(), r.TransferType)
	}
	if flow == model.FlowPush {
		if r.DataDestination == nil {
			return errors.NewValidationError("dataDestination", "PUSH transfers need a data destination", nil)
		}
		if err := r.DataDestination.Validate(); err != nil {
			return errors.NewValidationError("dataDestination", err.Error(), nil)
		}
	}
	return nil
}

// TransferOptions are the pluggable parts of the transfer manager. Nil
// fields get empty defaults.
type TransferOptions struct {
	Flows        *DataFlowManager
	Provisioning *ProvisionManager
	Checkers     *StatusCheckerRegistry
	Listeners    *TransferObservable
}

// TransferManager runs transfer processes on both sides.
type TransferManager struct {
	deps     Dependencies
	settings Settings
	flows    *DataFlowManager
	prov     *ProvisionManager
	checkers *StatusCheckerRegistry
	obs      *TransferObservable
	machine  *stateMachine[model.TransferProcess]
}

var (
	_ protocol.TransferService    = (*TransferManager)(nil)
	_ signaling.TransferCallbacks = (*TransferManager)(nil)
)

// NewTransferManager creates the manager.
func NewTransferManager(deps Dependencies, settings Settings, opts TransferOptions) *TransferManager {
	deps.defaults()
	settings.defaults()
	if opts.Flows == nil {
		opts.Flows = NewDataFlowManager()
	}
	if opts.Provisioning == nil {
		opts.Provisioning = NewProvisionManager()
	}
	if opts.Checkers == nil {
		opts.Checkers = NewStatusCheckerRegistry()
	}
	if opts.Listeners == nil {
		opts.Listeners = NewTransferObservable(deps.Logger)
	}
	m := &TransferManager{
		deps:     deps,
		settings: settings,
		flows:    opts.Flows,
		prov:     opts.Provisioning,
		checkers: opts.Checkers,
		obs:      opts.Listeners,
	}
	m.machine = &stateMachine[model.TransferProcess]{
		name:      "transfer-process",
		repo:      deps.Store.Transfers(),
		id:        func(tp *model.TransferProcess) string { return tp.ID },
		owner:     settings.ParticipantID + "-transfer-" + uuid.NewString()[:8],
		batch:     settings.BatchSize,
		tick:      settings.Tick,
		component: logging.ComponentTransfer,
		logger:    deps.Logger,
		processors: []processor[model.TransferProcess]{
			{name: "initial", states: transferStates(model.TransferInitial), process: m.processInitial},
			{name: "provisioning", states: transferStates(model.TransferProvisioning), process: m.processProvisioning},
			{name: "provisioned", states: transferStates(model.TransferProvisioned), process: m.processProvisioned},
			{name: "requesting", states: transferStates(model.TransferRequesting), process: m.processRequesting},
			{name: "requested", states: transferStates(model.TransferRequested), process: m.processRequested},
			{name: "starting", states: transferStates(model.TransferStarting), process: m.processStarting},
			{name: "started", states: transferStates(model.TransferStarted), process: m.processStarted},
			{name: "suspending", states: transferStates(model.TransferSuspending), process: m.processSuspending},
			{name: "resuming", states: transferStates(model.TransferResuming), process: m.processResuming},
			{name: "completing", states: transferStates(model.TransferCompleting), process: m.processCompleting},
			{name: "terminating", states: transferStates(model.TransferTerminating), process: m.processTerminating},
			{name: "deprovisioning", states: transferStates(model.TransferDeprovisioning), process: m.processDeprovisioning},
		},
	}
	return m
}

func transferStates(states ...model.TransferState) []int {
	out := make([]int, len(states))
	for i, s := range states {
		out[i] = int(s)
	}
	return out
}

// Listeners returns the observable transfer hooks are registered on.
func (m *TransferManager) Listeners() *TransferObservable { return m.obs }

// RunOnce processes one batch per state.
func (m *TransferManager) RunOnce(ctx context.Context) int { return m.machine.RunOnce(ctx) }

// Run processes transfers until ctx is done.
func (m *TransferManager) Run(ctx context.Context) { m.machine.Run(ctx) }

func (m *TransferManager) now() int64 { return m.deps.Clock().UnixMilli() }

// save stores tp and releases the lease. Transactional callbacks run first
// and can reject the change, which leaves the stored entity untouched.
func (m *TransferManager) save(ctx context.Context, tp *model.TransferProcess, owner string) error {
	e := transferEvent(tp)
	if err := m.deps.commit(ctx, e); err != nil {
		m.release(ctx, tp.ID, owner)
		return err
	}
	if err := m.deps.Store.Transfers().Save(ctx, tp, owner); err != nil {
		return err
	}
	m.emit(tp, e)
	return nil
}

func transferEvent(tp *model.TransferProcess) events.Event {
	cp := *tp
	return events.NewEvent(events.TransferEventType(tp.State), cp, tp.CallbackAddresses)
}

func (m *TransferManager) emit(tp *model.TransferProcess, e events.Event) {
	m.deps.Events.Publish(e)
	m.obs.notifyState(tp)
}

func (m *TransferManager) publish(tp *model.TransferProcess) { m.emit(tp, transferEvent(tp)) }

func (m *TransferManager) release(ctx context.Context, id, owner string) {
	if err := m.deps.Store.Transfers().Release(ctx, id, owner); err != nil {
		m.deps.Logger.ComponentWarn(logging.ComponentTransfer, "Failed to release lease", zap.String("id", id), zap.Error(err))
	}
}

func (m *TransferManager) due(tp *model.TransferProcess) bool {
	return retryDue(tp.StateCount, tp.StateTimestamp, m.settings.Tick, m.deps.Clock())
}

func (m *TransferManager) transition(ctx context.Context, tp *model.TransferProcess, state model.TransferState) (bool, error) {
	if err := tp.TransitionTo(state, m.now()); err != nil {
		return false, err
	}
	return true, m.save(ctx, tp, m.machine.owner)
}

func (m *TransferManager) terminateLocally(ctx context.Context, tp *model.TransferProcess, detail string) (bool, error) {
	m.deps.Logger.ComponentWarn(logging.ComponentTransfer, "Transfer process terminated",
		zap.String("id", tp.ID), zap.String("reason", detail))
	if err := tp.TransitionTo(model.TransferTerminated, m.now()); err != nil {
		return false, err
	}
	tp.ErrorDetail = detail
	return true, m.save(ctx, tp, m.machine.owner)
}

// retryOrFail handles a failed step. Retryable errors below the retry limit
// keep the state for another attempt. Otherwise the process terminates; with
// notify set, the counter-party is told through TERMINATING.
func (m *TransferManager) retryOrFail(ctx context.Context, tp *model.TransferProcess, step string, err error, notify bool) (bool, error) {
	now := m.now()
	if errors.ShouldRetry(err) && tp.StateCount < m.settings.RetryLimit {
		m.deps.Logger.ComponentWarn(logging.ComponentTransfer, "Transfer step failed, will retry",
			zap.String("id", tp.ID),
			zap.String("step", step),
			zap.Int("attempt", tp.StateCount),
			zap.Error(err),
		)
		if terr := tp.TransitionTo(tp.State, now); terr != nil {
			return false, terr
		}
		return false, m.save(ctx, tp, m.machine.owner)
	}
	detail := fmt.Sprintf("failed to %s: %s", step, errors.GetErrorMessage(err))
	if notify && tp.CorrelationID != "" {
		if terr := tp.Terminate(detail, false, now); terr != nil {
			return false, terr
		}
		return false, m.save(ctx, tp, m.machine.owner)
	}
	return m.terminateLocally(ctx, tp, detail)
}

func (m *TransferManager) send(ctx context.Context, tp *model.TransferProcess, path string, msg, response any) error {
	sendCtx, cancel := context.WithTimeout(ctx, m.settings.SendTimeout)
	defer cancel()
	return m.deps.Dispatcher.Send(sendCtx, tp.CounterPartyAddress, path, msg, response)
}

// transferPids returns the consumer and provider process ids of tp.
func transferPids(tp *model.TransferProcess) (consumer, provider string) {
	if tp.Type == model.Consumer {
		return tp.ID, tp.CorrelationID
	}
	return tp.CorrelationID, tp.ID
}

func (m *TransferManager) agreement(ctx context.Context, tp *model.TransferProcess) (*model.ContractAgreement, error) {
	return m.deps.Store.Negotiations().FindAgreement(ctx, tp.ContractID)
}

// Initiate creates a consumer transfer under a finalized agreement.
func (m *TransferManager) Initiate(ctx context.Context, req TransferRequest) (*model.TransferProcess, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	agreement, err := m.deps.Store.Negotiations().FindAgreement(ctx, req.ContractID)
	if err != nil {
		return nil, err
	}
	neg, err := m.deps.Store.Negotiations().FindByAgreementID(ctx, req.ContractID)
	if err != nil {
		return nil, err
	}
	if neg.State != model.NegotiationFinalized {
		return nil, errors.NewStateTransitionError("contract negotiation", neg.ID, neg.State.String(), model.NegotiationFinalized.String())
	}
	if req.AssetID != "" && req.AssetID != agreement.AssetID {
		return nil, errors.NewValidationError("assetId", "asset does not match the agreement", req.AssetID)
	}

	now := m.now()
	tp := &model.TransferProcess{
		ID:                  uuid.NewString(),
		Type:                model.Consumer,
		State:               model.TransferInitial,
		StateCount:          1,
		StateTimestamp:      now,
		AssetID:             agreement.AssetID,
		ContractID:          agreement.ID,
		CounterPartyID:      agreement.ProviderID,
		CounterPartyAddress: req.CounterPartyAddress,
		Protocol:            model.ProtocolDSP,
		TransferType:        req.TransferType,
		DataDestination:     req.DataDestination.Clone(),
		CallbackAddresses:   req.CallbackAddresses,
		PrivateProperties:   req.PrivateProperties,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	e := transferEvent(tp)
	if err := m.deps.commit(ctx, e); err != nil {
		return nil, err
	}
	if err := m.deps.Store.Transfers().Create(ctx, tp); err != nil {
		return nil, err
	}
	m.deps.Logger.ComponentInfo(logging.ComponentTransfer, "Transfer process initiated",
		zap.String("id", tp.ID),
		zap.String("agreement", tp.ContractID),
		zap.String("transfer_type", tp.TransferType),
	)
	m.emit(tp, e)
	return tp, nil
}

// processInitial builds and verifies the resource manifest of a consumer
// transfer.
func (m *TransferManager) processInitial(ctx context.Context, tp *model.TransferProcess) (bool, error) {
	if tp.Type != model.Consumer {
		return false, nil
	}
	agreement, err := m.agreement(ctx, tp)
	if err != nil {
		if errors.IsNotFound(err) {
			return m.terminateLocally(ctx, tp, "contract agreement not found")
		}
		return false, err
	}
	manifest, err := m.prov.GenerateManifest(tp, agreement.Policy)
	if err != nil {
		return m.terminateLocally(ctx, tp, "failed to generate resource manifest: "+err.Error())
	}
	pctx := policy.NewContext(model.ParticipantAgent{ID: m.settings.ParticipantID}).
		Set(policy.DataResourceManifest, manifest).
		Set(policy.DataAgreement, agreement)
	pctx.Now = m.deps.Clock
	if err := m.deps.Policy.Evaluate(policy.ScopeProvision, agreement.Policy, pctx); err != nil {
		return m.terminateLocally(ctx, tp, errors.GetErrorMessage(err))
	}
	tp.ResourceManifest = manifest
	if len(manifest.Definitions) == 0 {
		return m.transition(ctx, tp, model.TransferRequesting)
	}
	return m.transition(ctx, tp, model.TransferProvisioning)
}

func (m *TransferManager) processProvisioning(ctx context.Context, tp *model.TransferProcess) (bool, error) {
	if tp.ResourceManifest == nil {
		return m.transition(ctx, tp, model.TransferProvisioned)
	}
	agreement, err := m.agreement(ctx, tp)
	if err != nil {
		return false, err
	}
	resources := m.prov.Provision(ctx, tp.ResourceManifest, agreement.Policy)
	var failures []string
	for _, r := range resources {
		if r.Error != "" {
			failures = append(failures, r.Error)
		}
	}
	tp.AddProvisioned(resources...)
	if len(failures) > 0 {
		return m.terminateLocally(ctx, tp, "provisioning failed: "+strings.Join(failures, "; "))
	}
	return m.transition(ctx, tp, model.TransferProvisioned)
}

func (m *TransferManager) processProvisioned(ctx context.Context, tp *model.TransferProcess) (bool, error) {
	if tp.Type == model.Consumer {
		return m.transition(ctx, tp, model.TransferRequesting)
	}
	return m.transition(ctx, tp, model.TransferStarting)
}

func (m *TransferManager) processRequesting(ctx context.Context, tp *model.TransferProcess) (bool, error) {
	if tp.Type != model.Consumer || !m.due(tp) {
		return false, nil
	}
	msg := protocol.TransferRequestMessage{
		Type:            protocol.TypeTransferRequest,
		ConsumerPid:     tp.ID,
		AgreementID:     tp.ContractID,
		Format:          tp.TransferType,
		CallbackAddress: m.settings.ProtocolURL,
	}
	if tp.FlowType() == model.FlowPush {
		msg.DataAddress = tp.DataDestination
	}
	var ack protocol.TransferProcessAck
	if err := m.send(ctx, tp, protocol.PathTransferRequest, msg, &ack); err != nil {
		return m.retryOrFail(ctx, tp, "send transfer request", err, false)
	}
	if ack.ProviderPid != "" {
		tp.CorrelationID = ack.ProviderPid
	}
	m.deps.Logger.ComponentInfo(logging.ComponentTransfer, "Transfer requested",
		zap.String("id", tp.ID), zap.String("provider_pid", tp.CorrelationID))
	return m.transition(ctx, tp, model.TransferRequested)
}

// processRequested moves accepted provider transfers on to start.
func (m *TransferManager) processRequested(ctx context.Context, tp *model.TransferProcess) (bool, error) {
	if tp.Type != model.Provider {
		return false, nil
	}
	return m.transition(ctx, tp, model.TransferStarting)
}

func (m *TransferManager) processStarting(ctx context.Context, tp *model.TransferProcess) (bool, error) {
	if tp.Type != model.Provider || !m.due(tp) {
		return false, nil
	}
	if tp.PrivateProperties == nil {
		tp.PrivateProperties = map[string]any{}
	}
	if started, _ := tp.PrivateProperties[propFlowStarted].(bool); !started {
		agreement, err := m.agreement(ctx, tp)
		if err != nil {
			return m.retryOrFail(ctx, tp, "load contract agreement", err, true)
		}
		m.obs.notify(tp, TransferProcessListener.PreStarted)
		res, err := m.flows.Start(ctx, tp, agreement)
		if err != nil {
			return m.retryOrFail(ctx, tp, "start data flow", err, true)
		}
		tp.DataPlaneID = res.DataPlaneID
		tp.PrivateProperties[propFlowStarted] = true
		if res.DataAddress != nil {
			tp.PrivateProperties[propFlowAddress] = map[string]any(res.DataAddress)
		} else {
			delete(tp.PrivateProperties, propFlowAddress)
		}
	}

	msg := protocol.TransferStartMessage{
		Type:        protocol.TypeTransferStart,
		ConsumerPid: tp.CorrelationID,
		ProviderPid: tp.ID,
		DataAddress: flowAddress(tp),
	}
	if err := m.send(ctx, tp, protocol.TransferPath(tp.CorrelationID, protocol.SuffixTransferStart), msg, nil); err != nil {
		return m.retryOrFail(ctx, tp, "send transfer start", err, false)
	}
	delete(tp.PrivateProperties, propFlowStarted)
	m.deps.Logger.ComponentInfo(logging.ComponentTransfer, "Transfer started",
		zap.String("id", tp.ID),
		zap.String("data_plane", tp.DataPlaneID),
		zap.String("flow", string(tp.FlowType())),
	)
	if pending, _ := tp.PrivateProperties[propCompletionPending].(bool); !pending {
		return m.transition(ctx, tp, model.TransferStarted)
	}

	// The data plane finished before the consumer was told about the start.
	delete(tp.PrivateProperties, propCompletionPending)
	if err := tp.TransitionTo(model.TransferStarted, m.now()); err != nil {
		return false, err
	}
	started := transferEvent(tp)
	if err := m.deps.commit(ctx, started); err != nil {
		return false, err
	}
	m.emit(tp, started)
	return m.transition(ctx, tp, model.TransferCompleting)
}

// flowAddress returns the address a started flow handed out, if any.
func flowAddress(tp *model.TransferProcess) model.DataAddress {
	switch v := tp.PrivateProperties[propFlowAddress].(type) {
	case model.DataAddress:
		return v
	case map[string]any:
		return model.DataAddress(v)
	}
	return nil
}

// processStarted completes consumer push transfers whose destination
// reports the data arrived.
func (m *TransferManager) processStarted(ctx context.Context, tp *model.TransferProcess) (bool, error) {
	if tp.Type != model.Consumer || tp.FlowType() != model.FlowPush {
		return false, nil
	}
	checker := m.checkers.Resolve(tp.DestinationType())
	if checker == nil {
		return false, nil
	}
	done, err := checker.IsComplete(tp, tp.ProvisionedResources)
	if err != nil || !done {
		return false, err
	}
	m.deps.Logger.ComponentInfo(logging.ComponentTransfer, "Transfer destination complete", zap.String("id", tp.ID))
	return m.transition(ctx, tp, model.TransferCompleting)
}

func (m *TransferManager) processSuspending(ctx context.Context, tp *model.TransferProcess) (bool, error) {
	if !m.due(tp) {
		return false, nil
	}
	reason, _ := tp.PrivateProperties[propSuspendReason].(string)
	if tp.Type == model.Provider {
		if err := m.flows.Suspend(ctx, tp, reason); err != nil {
			m.deps.Logger.ComponentWarn(logging.ComponentTransfer, "Failed to suspend data flow",
				zap.String("id", tp.ID), zap.Error(err))
		}
	}
	if tp.CorrelationID != "" {
		consumer, provider := transferPids(tp)
		msg := protocol.TransferSuspensionMessage{
			Type:        protocol.TypeTransferSuspension,
			ConsumerPid: consumer,
			ProviderPid: provider,
			Reason:      reason,
		}
		if err := m.send(ctx, tp, protocol.TransferPath(tp.CorrelationID, protocol.SuffixTransferSuspend), msg, nil); err != nil {
			return m.retryOrFail(ctx, tp, "send transfer suspension", err, false)
		}
	}
	return m.transition(ctx, tp, model.TransferSuspended)
}

func (m *TransferManager) processResuming(ctx context.Context, tp *model.TransferProcess) (bool, error) {
	if tp.Type == model.Provider {
		return m.transition(ctx, tp, model.TransferStarting)
	}
	if !m.due(tp) {
		return false, nil
	}
	msg := protocol.TransferStartMessage{
		Type:        protocol.TypeTransferStart,
		ConsumerPid: tp.ID,
		ProviderPid: tp.CorrelationID,
	}
	if err := m.send(ctx, tp, protocol.TransferPath(tp.CorrelationID, protocol.SuffixTransferStart), msg, nil); err != nil {
		return m.retryOrFail(ctx, tp, "send transfer start", err, false)
	}
	return m.transition(ctx, tp, model.TransferRequested)
}

func (m *TransferManager) processCompleting(ctx context.Context, tp *model.TransferProcess) (bool, error) {
	if !m.due(tp) {
		return false, nil
	}
	if tp.CorrelationID != "" {
		consumer, provider := transferPids(tp)
		msg := protocol.TransferCompletionMessage{
			Type:        protocol.TypeTransferCompletion,
			ConsumerPid: consumer,
			ProviderPid: provider,
		}
		if err := m.send(ctx, tp, protocol.TransferPath(tp.CorrelationID, protocol.SuffixTransferComplete), msg, nil); err != nil {
			return m.retryOrFail(ctx, tp, "send transfer completion", err, false)
		}
	}
	m.deps.Logger.ComponentInfo(logging.ComponentTransfer, "Transfer completed", zap.String("id", tp.ID))
	return m.transition(ctx, tp, model.TransferCompleted)
}

func (m *TransferManager) processTerminating(ctx context.Context, tp *model.TransferProcess) (bool, error) {
	if !m.due(tp) {
		return false, nil
	}
	if tp.Type == model.Provider {
		if err := m.flows.Terminate(ctx, tp, tp.ErrorDetail); err != nil {
			m.deps.Logger.ComponentWarn(logging.ComponentTransfer, "Failed to terminate data flow",
				zap.String("id", tp.ID), zap.Error(err))
		}
	}
	if tp.CorrelationID != "" {
		consumer, provider := transferPids(tp)
		msg := protocol.TransferTerminationMessage{
			Type:        protocol.TypeTransferTermination,
			ConsumerPid: consumer,
			ProviderPid: provider,
			Code:        errors.CodeFailedPrecondition,
			Reason:      tp.ErrorDetail,
		}
		if err := m.send(ctx, tp, protocol.TransferPath(tp.CorrelationID, protocol.SuffixTransferTerminate), msg, nil); err != nil {
			return m.retryOrFail(ctx, tp, "send transfer termination", err, false)
		}
	}
	m.deps.Logger.ComponentInfo(logging.ComponentTransfer, "Transfer terminated",
		zap.String("id", tp.ID), zap.String("reason", tp.ErrorDetail))
	return m.transition(ctx, tp, model.TransferTerminated)
}

func (m *TransferManager) processDeprovisioning(ctx context.Context, tp *model.TransferProcess) (bool, error) {
	if err := m.prov.Deprovision(ctx, tp.ProvisionedResources); err != nil {
		m.deps.Logger.ComponentWarn(logging.ComponentTransfer, "Deprovisioning failed",
			zap.String("id", tp.ID), zap.Error(err))
		tp.ErrorDetail = "deprovisioning failed: " + err.Error()
	}
	return m.transition(ctx, tp, model.TransferDeprovisioned)
}

// lease leases a transfer for a handler or management call.
func (m *TransferManager) lease(ctx context.Context, id string) (*model.TransferProcess, string, error) {
	owner := uuid.NewString()
	tp, err := leaseEntity(ctx, m.deps.Store.Transfers(), id, owner)
	return tp, owner, err
}

// update leases id, applies fn and saves the result. fn returning
// errSkip releases the lease without saving.
func (m *TransferManager) update(ctx context.Context, id string, fn func(tp *model.TransferProcess) error) error {
	tp, owner, err := m.lease(ctx, id)
	if err != nil {
		return err
	}
	if err := fn(tp); err != nil {
		m.release(ctx, id, owner)
		if err == errSkip {
			return nil
		}
		return err
	}
	return m.save(ctx, tp, owner)
}

var errSkip = errors.New("skip")

// Terminate asks the processing loop to terminate a transfer.
func (m *TransferManager) Terminate(ctx context.Context, id, reason string) error {
	return m.update(ctx, id, func(tp *model.TransferProcess) error {
		return tp.Terminate(reason, false, m.now())
	})
}

// Suspend asks the processing loop to suspend a started transfer.
func (m *TransferManager) Suspend(ctx context.Context, id, reason string) error {
	return m.update(ctx, id, func(tp *model.TransferProcess) error {
		if tp.State != model.TransferStarted {
			return errors.NewStateTransitionError("transfer process", tp.ID, tp.State.String(), model.TransferSuspending.String())
		}
		if tp.PrivateProperties == nil {
			tp.PrivateProperties = map[string]any{}
		}
		tp.PrivateProperties[propSuspendReason] = reason
		return tp.TransitionTo(model.TransferSuspending, m.now())
	})
}

// Resume restarts a suspended transfer.
func (m *TransferManager) Resume(ctx context.Context, id string) error {
	return m.update(ctx, id, func(tp *model.TransferProcess) error {
		if tp.State != model.TransferSuspended {
			return errors.NewStateTransitionError("transfer process", tp.ID, tp.State.String(), model.TransferResuming.String())
		}
		delete(tp.PrivateProperties, propSuspendReason)
		return tp.TransitionTo(model.TransferResuming, m.now())
	})
}

// Deprovision releases the resources of a finished transfer.
func (m *TransferManager) Deprovision(ctx context.Context, id string) error {
	return m.update(ctx, id, func(tp *model.TransferProcess) error {
		return tp.TransitionTo(model.TransferDeprovisioning, m.now())
	})
}

// CompleteTransfer records a data plane's report that a provider transfer
// finished.
func (m *TransferManager) CompleteTransfer(ctx context.Context, id string) error {
	return m.update(ctx, id, func(tp *model.TransferProcess) error {
		if tp.Type != model.Provider {
			return errors.NewNotFoundError("transfer process", id)
		}
		switch tp.State {
		case model.TransferRequested, model.TransferStarting, model.TransferResuming:
			// Applied once processStarting has sent the start message.
			if tp.PrivateProperties == nil {
				tp.PrivateProperties = map[string]any{}
			}
			tp.PrivateProperties[propCompletionPending] = true
			return nil
		case model.TransferCompleting:
			return errSkip
		}
		if tp.State.IsFinal() {
			return errSkip
		}
		return tp.TransitionTo(model.TransferCompleting, m.now())
	})
}

// FailTransfer records a data plane's report that a provider transfer
// failed.
func (m *TransferManager) FailTransfer(ctx context.Context, id, reason string) error {
	return m.update(ctx, id, func(tp *model.TransferProcess) error {
		if tp.Type != model.Provider {
			return errors.NewNotFoundError("transfer process", id)
		}
		if tp.State.IsFinal() || tp.State == model.TransferTerminating {
			return errSkip
		}
		return tp.Terminate(reason, false, m.now())
	})
}

func transferAck(tp *model.TransferProcess) *protocol.TransferProcessAck {
	consumer, provider := transferPids(tp)
	return &protocol.TransferProcessAck{
		Type:        protocol.TypeTransferProcess,
		ConsumerPid: consumer,
		ProviderPid: provider,
		State:       "dspace:" + tp.State.String(),
	}
}

// HandleRequest validates a consumer's transfer request against its
// agreement and creates the provider transfer.
func (m *TransferManager) HandleRequest(ctx context.Context, agent model.ParticipantAgent, msg protocol.TransferRequestMessage) (*protocol.TransferProcessAck, error) {
	switch {
	case msg.ConsumerPid == "":
		return nil, errors.NewValidationError("dspace:consumerPid", "consumerPid is required", nil)
	case msg.AgreementID == "":
		return nil, errors.NewValidationError("dspace:agreementId", "agreementId is required", nil)
	case msg.CallbackAddress == "":
		return nil, errors.NewValidationError("dspace:callbackAddress", "callbackAddress is required", nil)
	}
	_, flow, err := model.ParseTransferType(msg.Format)
	if err != nil {
		return nil, errors.NewValidationError("dct:format", err.Error(), msg.Format)
	}
	if flow == model.FlowPush && msg.DataAddress == nil {
		return nil, errors.NewValidationError("dspace:dataAddress", "PUSH transfers need a data address", nil)
	}
	if existing, err := m.deps.Store.Transfers().FindByCorrelationID(ctx, msg.ConsumerPid); err == nil {
		if existing.CounterPartyID != agent.ID {
			return nil, errors.NewConflictError("transfer process", "consumerPid", msg.ConsumerPid)
		}
		return transferAck(existing), nil
	} else if !errors.IsNotFound(err) {
		return nil, err
	}

	agreement, err := m.deps.Store.Negotiations().FindAgreement(ctx, msg.AgreementID)
	if err != nil {
		return nil, err
	}
	if agreement.ConsumerID != agent.ID {
		return nil, errors.NewForbiddenError("contract agreement "+agreement.ID, "transfer")
	}
	neg, err := m.deps.Store.Negotiations().FindByAgreementID(ctx, agreement.ID)
	if err != nil {
		return nil, err
	}
	if neg.State != model.NegotiationFinalized {
		return nil, errors.NewStateTransitionError("contract negotiation", neg.ID, neg.State.String(), model.NegotiationFinalized.String())
	}
	pctx := policy.NewContext(agent).Set(policy.DataAgreement, agreement)
	pctx.Now = m.deps.Clock
	if err := m.deps.Policy.Evaluate(policy.ScopeTransfer, agreement.Policy, pctx); err != nil {
		return nil, err
	}
	asset, err := m.deps.Store.Assets().FindByID(ctx, agreement.AssetID)
	if err != nil {
		return nil, err
	}

	now := m.now()
	tp := &model.TransferProcess{
		ID:                  uuid.NewString(),
		Type:                model.Provider,
		CorrelationID:       msg.ConsumerPid,
		State:               model.TransferInitial,
		StateTimestamp:      now,
		AssetID:             asset.ID,
		ContractID:          agreement.ID,
		CounterPartyID:      agent.ID,
		CounterPartyAddress: msg.CallbackAddress,
		Protocol:            model.ProtocolDSP,
		TransferType:        msg.Format,
		DataDestination:     msg.DataAddress.Clone(),
		ContentDataAddress:  asset.DataAddress.Clone(),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := tp.TransitionTo(model.TransferRequested, now); err != nil {
		return nil, err
	}
	if err := m.deps.Store.Transfers().Create(ctx, tp); err != nil {
		return nil, err
	}
	m.deps.Logger.ComponentInfo(logging.ComponentTransfer, "Transfer request accepted",
		zap.String("id", tp.ID),
		zap.String("consumer", agent.ID),
		zap.String("asset", asset.ID),
		zap.String("transfer_type", tp.TransferType),
	)
	m.publish(tp)
	return transferAck(tp), nil
}

// handle leases pid for a message from agent. Messages for processes that
// already ended are ignored.
func (m *TransferManager) handle(ctx context.Context, agent model.ParticipantAgent, pid string, fn func(tp *model.TransferProcess) error) error {
	return m.update(ctx, pid, func(tp *model.TransferProcess) error {
		if tp.CounterPartyID != "" && tp.CounterPartyID != agent.ID {
			return errors.NewNotFoundError("transfer process", pid)
		}
		if tp.State.IsFinal() {
			m.deps.Logger.ComponentDebug(logging.ComponentTransfer, "Message for finished transfer ignored",
				zap.String("id", tp.ID), zap.String("state", tp.State.String()))
			return errSkip
		}
		return fn(tp)
	})
}

// HandleStart marks a consumer transfer started and caches the endpoint
// data reference of PULL transfers. On the provider it resumes a suspended
// transfer.
func (m *TransferManager) HandleStart(ctx context.Context, agent model.ParticipantAgent, pid string, msg protocol.TransferStartMessage) error {
	return m.handle(ctx, agent, pid, func(tp *model.TransferProcess) error {
		now := m.now()
		if tp.Type == model.Provider {
			if tp.State != model.TransferSuspended {
				return errors.NewStateTransitionError("transfer process", tp.ID, tp.State.String(), model.TransferStarting.String())
			}
			return tp.TransitionTo(model.TransferStarting, now)
		}
		if tp.CorrelationID == "" {
			tp.CorrelationID = msg.ProviderPid
		}
		if err := tp.TransitionTo(model.TransferStarted, now); err != nil {
			return err
		}
		if len(msg.DataAddress) > 0 {
			entry := &model.EDREntry{
				TransferProcessID: tp.ID,
				AssetID:           tp.AssetID,
				AgreementID:       tp.ContractID,
				ProviderID:        tp.CounterPartyID,
				DataAddress:       msg.DataAddress,
				CreatedAt:         now,
			}
			if err := m.deps.Store.EDRs().Upsert(ctx, entry); err != nil {
				return err
			}
			m.deps.Logger.ComponentInfo(logging.ComponentTransfer, "Endpoint data reference stored",
				zap.String("id", tp.ID), zap.String("endpoint", msg.DataAddress.GetString(model.KeyEndpoint)))
		}
		return nil
	})
}

// HandleCompletion completes a transfer at the counter-party's request.
func (m *TransferManager) HandleCompletion(ctx context.Context, agent model.ParticipantAgent, pid string, _ protocol.TransferCompletionMessage) error {
	return m.handle(ctx, agent, pid, func(tp *model.TransferProcess) error {
		if err := tp.TransitionTo(model.TransferCompleted, m.now()); err != nil {
			return err
		}
		if tp.Type == model.Provider {
			m.stopFlow(ctx, tp, "completed by consumer")
		}
		return nil
	})
}

// HandleTermination terminates a transfer at the counter-party's request.
func (m *TransferManager) HandleTermination(ctx context.Context, agent model.ParticipantAgent, pid string, msg protocol.TransferTerminationMessage) error {
	return m.handle(ctx, agent, pid, func(tp *model.TransferProcess) error {
		reason := msg.Reason
		if reason == "" {
			reason = "terminated by counter-party"
		}
		if err := tp.Terminate(reason, true, m.now()); err != nil {
			return err
		}
		if tp.Type == model.Provider {
			m.stopFlow(ctx, tp, reason)
		}
		return nil
	})
}

// HandleSuspension suspends a transfer at the counter-party's request.
func (m *TransferManager) HandleSuspension(ctx context.Context, agent model.ParticipantAgent, pid string, msg protocol.TransferSuspensionMessage) error {
	return m.handle(ctx, agent, pid, func(tp *model.TransferProcess) error {
		if err := tp.TransitionTo(model.TransferSuspended, m.now()); err != nil {
			return err
		}
		if tp.Type == model.Provider {
			if err := m.flows.Suspend(ctx, tp, msg.Reason); err != nil {
				m.deps.Logger.ComponentWarn(logging.ComponentTransfer, "Failed to suspend data flow",
					zap.String("id", tp.ID), zap.Error(err))
			}
		}
		return nil
	})
}

func (m *TransferManager) stopFlow(ctx context.Context, tp *model.TransferProcess, reason string) {
	if err := m.flows.Terminate(ctx, tp, reason); err != nil {
		m.deps.Logger.ComponentDebug(logging.ComponentTransfer, "Data flow not terminated",
			zap.String("id", tp.ID), zap.Error(err))
	}
}

// GetTransfer returns the state of a transfer to its counter-party.
func (m *TransferManager) GetTransfer(ctx context.Context, agent model.ParticipantAgent, pid string) (*protocol.TransferProcessAck, error) {
	tp, err := m.deps.Store.Transfers().FindByID(ctx, pid)
	if err != nil {
		return nil, err
	}
	if tp.CounterPartyID != agent.ID {
		return nil, errors.NewNotFoundError("transfer process", pid)
	}
	return transferAck(tp), nil
}
