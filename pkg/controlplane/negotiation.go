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
	"github.com/DeBrosOfficial/dataspace/pkg/protocol"
)

// propAgreementID holds the agreement id between sending attempts.
const propAgreementID = "agreementId"

// ContractRequest starts a negotiation from the consumer side.
type ContractRequest struct {
	CounterPartyAddress string                  `json:"counterPartyAddress"`
	ProviderID          string                  `json:"providerId,omitempty"`
	Protocol            string                  `json:"protocol,omitempty"`
	Policy              model.Policy            `json:"policy"`
	CallbackAddresses   []model.CallbackAddress `json:"callbackAddresses,omitempty"`
}

// Validate checks required fields.
func (r ContractRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.CounterPartyAddress) == "":
		return errors.NewValidationError("counterPartyAddress", "counterPartyAddress is required", nil)
	case r.Policy.ID == "":
		return errors.NewValidationError("policy.@id", "the offer id is required", nil)
	case r.Protocol != "" && r.Protocol != model.ProtocolDSP:
		return errors.NewValidationError("protocol", "unsupported protocol", r.Protocol)
	}
	if _, err := model.ParseContractOfferID(r.Policy.ID); err != nil {
		return errors.NewValidationError("policy.@id", err.Error(), r.Policy.ID)
	}
	return nil
}

// NegotiationManager runs contract negotiations on both sides.
type NegotiationManager struct {
	deps     Dependencies
	settings Settings
	catalog  *CatalogService
	machine  *stateMachine[model.ContractNegotiation]
}

var _ protocol.NegotiationService = (*NegotiationManager)(nil)

// NewNegotiationManager creates the manager. catalog validates incoming
// offers.
func NewNegotiationManager(deps Dependencies, settings Settings, catalog *CatalogService) *NegotiationManager {
	deps.defaults()
	settings.defaults()
	m := &NegotiationManager{deps: deps, settings: settings, catalog: catalog}
	m.machine = &stateMachine[model.ContractNegotiation]{
		name:      "contract-negotiation",
		repo:      deps.Store.Negotiations(),
		id:        func(n *model.ContractNegotiation) string { return n.ID },
		owner:     settings.ParticipantID + "-negotiation-" + uuid.NewString()[:8],
		batch:     settings.BatchSize,
		tick:      settings.Tick,
		component: logging.ComponentNegotiation,
		logger:    deps.Logger,
		processors: []processor[model.ContractNegotiation]{
			{name: "requesting", states: negotiationStates(model.NegotiationRequesting), process: m.processRequesting},
			{name: "requested", states: negotiationStates(model.NegotiationRequested), process: m.processRequested},
			{name: "agreeing", states: negotiationStates(model.NegotiationAgreeing), process: m.processAgreeing},
			{name: "verifying", states: negotiationStates(model.NegotiationVerifying), process: m.processVerifying},
			{name: "verified", states: negotiationStates(model.NegotiationVerified), process: m.processVerified},
			{name: "finalizing", states: negotiationStates(model.NegotiationFinalizing), process: m.processFinalizing},
			{name: "terminating", states: negotiationStates(model.NegotiationTerminating), process: m.processTerminating},
		},
	}
	return m
}

func negotiationStates(states ...model.NegotiationState) []int {
	out := make([]int, len(states))
	for i, s := range states {
		out[i] = int(s)
	}
	return out
}

// RunOnce processes one batch per state.
func (m *NegotiationManager) RunOnce(ctx context.Context) int { return m.machine.RunOnce(ctx) }

// Run processes negotiations until ctx is done.
func (m *NegotiationManager) Run(ctx context.Context) { m.machine.Run(ctx) }

func (m *NegotiationManager) now() int64 { return m.deps.Clock().UnixMilli() }

// Initiate creates a consumer negotiation for an offer taken from the
// provider's catalog. The request is sent by the processing loop.
func (m *NegotiationManager) Initiate(ctx context.Context, req ContractRequest) (*model.ContractNegotiation, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	providerID := req.ProviderID
	if providerID == "" {
		providerID = req.Policy.Assigner
	}
	offerID, _ := model.ParseContractOfferID(req.Policy.ID)
	offer := req.Policy.Copy()
	if offer.Target == "" {
		offer.Target = offerID.AssetID
	}
	offer.Type = model.PolicyTypeOffer

	now := m.now()
	n := &model.ContractNegotiation{
		ID:                  uuid.NewString(),
		Type:                model.Consumer,
		CounterPartyID:      providerID,
		CounterPartyAddress: req.CounterPartyAddress,
		Protocol:            model.ProtocolDSP,
		State:               model.NegotiationInitial,
		StateTimestamp:      now,
		Offers:              []model.ContractOffer{model.OfferFromPolicy(offer)},
		CallbackAddresses:   req.CallbackAddresses,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	m.publish(n)
	if err := n.TransitionTo(model.NegotiationRequesting, now); err != nil {
		return nil, err
	}
	e := negotiationEvent(n)
	if err := m.deps.commit(ctx, e); err != nil {
		return nil, err
	}
	if err := m.deps.Store.Negotiations().Create(ctx, n); err != nil {
		return nil, err
	}
	m.deps.Logger.ComponentInfo(logging.ComponentNegotiation, "Contract negotiation initiated",
		zap.String("id", n.ID),
		zap.String("provider", providerID),
		zap.String("asset", offer.Target),
	)
	m.deps.Events.Publish(e)
	return n, nil
}

// Terminate asks the processing loop to terminate a negotiation and tell the
// counter-party.
func (m *NegotiationManager) Terminate(ctx context.Context, id, reason string) error {
	owner := uuid.NewString()
	n, err := leaseEntity(ctx, m.deps.Store.Negotiations(), id, owner)
	if err != nil {
		return err
	}
	if err := n.Terminate(reason, false, m.now()); err != nil {
		m.release(ctx, id, owner)
		return err
	}
	return m.save(ctx, n, owner)
}

// save stores n and releases the lease. Transactional callbacks run first
// and can reject the change, which leaves the stored entity untouched.
func (m *NegotiationManager) save(ctx context.Context, n *model.ContractNegotiation, owner string) error {
	e := negotiationEvent(n)
	if err := m.deps.commit(ctx, e); err != nil {
		m.release(ctx, n.ID, owner)
		return err
	}
	if err := m.deps.Store.Negotiations().Save(ctx, n, owner); err != nil {
		return err
	}
	m.deps.Events.Publish(e)
	return nil
}

func (m *NegotiationManager) release(ctx context.Context, id, owner string) {
	if err := m.deps.Store.Negotiations().Release(ctx, id, owner); err != nil {
		m.deps.Logger.ComponentWarn(logging.ComponentNegotiation, "Failed to release lease", zap.String("id", id), zap.Error(err))
	}
}

func negotiationEvent(n *model.ContractNegotiation) events.Event {
	cp := *n
	return events.NewEvent(events.NegotiationEventType(n.State), cp, n.CallbackAddresses)
}

func (m *NegotiationManager) publish(n *model.ContractNegotiation) {
	m.deps.Events.Publish(negotiationEvent(n))
}

// pids returns the consumer and provider process ids of n.
func pids(n *model.ContractNegotiation) (consumer, provider string) {
	if n.Type == model.Consumer {
		return n.ID, n.CorrelationID
	}
	return n.CorrelationID, n.ID
}

// send delivers msg to the counter-party. On failure n is either kept in
// its state for a retry or terminated; the entity is saved either way and
// the returned bool is false.
func (m *NegotiationManager) send(ctx context.Context, n *model.ContractNegotiation, path string, msg, response any) (bool, error) {
	sendCtx, cancel := context.WithTimeout(ctx, m.settings.SendTimeout)
	defer cancel()
	err := m.deps.Dispatcher.Send(sendCtx, n.CounterPartyAddress, path, msg, response)
	if err == nil {
		return true, nil
	}
	now := m.now()
	if errors.ShouldRetry(err) && n.StateCount < m.settings.RetryLimit {
		m.deps.Logger.ComponentWarn(logging.ComponentNegotiation, "Sending failed, will retry",
			zap.String("id", n.ID),
			zap.String("state", n.State.String()),
			zap.Int("attempt", n.StateCount),
			zap.Error(err),
		)
		if terr := n.TransitionTo(n.State, now); terr != nil {
			return false, terr
		}
		return false, m.save(ctx, n, m.machine.owner)
	}
	m.deps.Logger.ComponentError(logging.ComponentNegotiation, "Sending failed, negotiation terminated",
		zap.String("id", n.ID),
		zap.String("state", n.State.String()),
		zap.Error(err),
	)
	step := strings.ToLower(n.State.String())
	if terr := n.TransitionTo(model.NegotiationTerminated, now); terr != nil {
		return false, terr
	}
	n.ErrorDetail = fmt.Sprintf("failed to send %s: %s", step, errors.GetErrorMessage(err))
	return false, m.save(ctx, n, m.machine.owner)
}

func (m *NegotiationManager) due(n *model.ContractNegotiation) bool {
	return retryDue(n.StateCount, n.StateTimestamp, m.settings.Tick, m.deps.Clock())
}

// transition moves n to state and saves it with the loop's lease.
func (m *NegotiationManager) transition(ctx context.Context, n *model.ContractNegotiation, state model.NegotiationState) (bool, error) {
	if err := n.TransitionTo(state, m.now()); err != nil {
		return false, err
	}
	return true, m.save(ctx, n, m.machine.owner)
}

func (m *NegotiationManager) processRequesting(ctx context.Context, n *model.ContractNegotiation) (bool, error) {
	if n.Type != model.Consumer || !m.due(n) {
		return false, nil
	}
	offer := n.LastOffer()
	if offer == nil {
		return m.terminateLocally(ctx, n, "negotiation has no offer")
	}
	msg := protocol.ContractRequestMessage{
		Type:            protocol.TypeContractRequest,
		ConsumerPid:     n.ID,
		ProviderPid:     n.CorrelationID,
		Offer:           offer.Policy,
		CallbackAddress: m.settings.ProtocolURL,
	}
	var ack protocol.ContractNegotiationAck
	if ok, err := m.send(ctx, n, protocol.PathNegotiationRequest, msg, &ack); !ok {
		return false, err
	}
	if ack.ProviderPid != "" {
		n.CorrelationID = ack.ProviderPid
	}
	return m.transition(ctx, n, model.NegotiationRequested)
}

// processRequested agrees to every validated request.
func (m *NegotiationManager) processRequested(ctx context.Context, n *model.ContractNegotiation) (bool, error) {
	if n.Type != model.Provider {
		return false, nil
	}
	return m.transition(ctx, n, model.NegotiationAgreeing)
}

func (m *NegotiationManager) processAgreeing(ctx context.Context, n *model.ContractNegotiation) (bool, error) {
	if n.Type != model.Provider || !m.due(n) {
		return false, nil
	}
	offer := n.LastOffer()
	if offer == nil {
		return m.terminateLocally(ctx, n, "negotiation has no offer")
	}
	offerID, err := model.ParseContractOfferID(offer.ID)
	if err != nil {
		return m.terminateLocally(ctx, n, err.Error())
	}

	p := offer.Policy.WithTarget(offer.AssetID)
	p.Type = model.PolicyTypeAgreement
	p.Assigner = m.settings.ParticipantID
	p.Assignee = n.CounterPartyID
	// The id is kept across retries so the consumer never sees two agreements.
	if n.PrivateProperties == nil {
		n.PrivateProperties = map[string]any{}
	}
	agreementID, _ := n.PrivateProperties[propAgreementID].(string)
	if agreementID == "" {
		agreementID = model.NewContractOfferID(offerID.DefinitionID, offer.AssetID).String()
		n.PrivateProperties[propAgreementID] = agreementID
	}
	agreement := model.ContractAgreement{
		ID:          agreementID,
		Type:        "dspace:ContractAgreement",
		ProviderID:  m.settings.ParticipantID,
		ConsumerID:  n.CounterPartyID,
		AssetID:     offer.AssetID,
		Policy:      p,
		SigningDate: m.deps.Clock().Unix(),
	}
	p.ID = agreement.ID
	agreement.Policy = p

	msg := protocol.ContractAgreementMessage{
		Type:            protocol.TypeContractAgreement,
		ConsumerPid:     n.CorrelationID,
		ProviderPid:     n.ID,
		Agreement:       agreement,
		CallbackAddress: m.settings.ProtocolURL,
	}
	if ok, err := m.send(ctx, n, protocol.NegotiationPath(n.CorrelationID, protocol.SuffixAgreement), msg, nil); !ok {
		return false, err
	}
	delete(n.PrivateProperties, propAgreementID)
	n.SetAgreement(agreement)
	m.deps.Logger.ComponentInfo(logging.ComponentNegotiation, "Contract agreement sent",
		zap.String("id", n.ID),
		zap.String("agreement", agreement.ID),
		zap.String("consumer", n.CounterPartyID),
	)
	return m.transition(ctx, n, model.NegotiationAgreed)
}

func (m *NegotiationManager) processVerifying(ctx context.Context, n *model.ContractNegotiation) (bool, error) {
	if n.Type != model.Consumer || !m.due(n) {
		return false, nil
	}
	msg := protocol.ContractAgreementVerificationMessage{
		Type:        protocol.TypeAgreementVerification,
		ConsumerPid: n.ID,
		ProviderPid: n.CorrelationID,
	}
	if ok, err := m.send(ctx, n, protocol.NegotiationPath(n.CorrelationID, protocol.SuffixVerification), msg, nil); !ok {
		return false, err
	}
	return m.transition(ctx, n, model.NegotiationVerified)
}

func (m *NegotiationManager) processVerified(ctx context.Context, n *model.ContractNegotiation) (bool, error) {
	if n.Type != model.Provider {
		return false, nil
	}
	return m.transition(ctx, n, model.NegotiationFinalizing)
}

func (m *NegotiationManager) processFinalizing(ctx context.Context, n *model.ContractNegotiation) (bool, error) {
	if n.Type != model.Provider || !m.due(n) {
		return false, nil
	}
	msg := protocol.ContractNegotiationEventMessage{
		Type:        protocol.TypeNegotiationEvent,
		ConsumerPid: n.CorrelationID,
		ProviderPid: n.ID,
		EventType:   protocol.EventFinalized,
	}
	if ok, err := m.send(ctx, n, protocol.NegotiationPath(n.CorrelationID, protocol.SuffixEvents), msg, nil); !ok {
		return false, err
	}
	m.deps.Logger.ComponentInfo(logging.ComponentNegotiation, "Contract negotiation finalized",
		zap.String("id", n.ID), zap.String("agreement", n.ContractAgreementID))
	return m.transition(ctx, n, model.NegotiationFinalized)
}

func (m *NegotiationManager) processTerminating(ctx context.Context, n *model.ContractNegotiation) (bool, error) {
	if !m.due(n) {
		return false, nil
	}
	// Nothing to tell a provider that never acknowledged the request.
	if n.CorrelationID != "" {
		consumer, provider := pids(n)
		msg := protocol.ContractNegotiationTerminationMessage{
			Type:        protocol.TypeNegotiationTerminate,
			ConsumerPid: consumer,
			ProviderPid: provider,
			Code:        errors.CodeFailedPrecondition,
			Reason:      n.ErrorDetail,
		}
		if ok, err := m.send(ctx, n, protocol.NegotiationPath(n.CorrelationID, protocol.SuffixNegotiationTerm), msg, nil); !ok {
			return false, err
		}
	}
	m.deps.Logger.ComponentInfo(logging.ComponentNegotiation, "Contract negotiation terminated",
		zap.String("id", n.ID), zap.String("reason", n.ErrorDetail))
	return m.transition(ctx, n, model.NegotiationTerminated)
}

func (m *NegotiationManager) terminateLocally(ctx context.Context, n *model.ContractNegotiation, detail string) (bool, error) {
	if err := n.TransitionTo(model.NegotiationTerminated, m.now()); err != nil {
		return false, err
	}
	n.ErrorDetail = detail
	return true, m.save(ctx, n, m.machine.owner)
}

func negotiationAck(n *model.ContractNegotiation) *protocol.ContractNegotiationAck {
	consumer, provider := pids(n)
	return &protocol.ContractNegotiationAck{
		Type:        protocol.TypeContractNegotiation,
		ConsumerPid: consumer,
		ProviderPid: provider,
		State:       "dspace:" + n.State.String(),
	}
}

// HandleRequest creates a provider negotiation for an incoming request. An
// offer that fails validation still yields a negotiation, which is
// terminated and reported back by the processing loop.
func (m *NegotiationManager) HandleRequest(ctx context.Context, agent model.ParticipantAgent, msg protocol.ContractRequestMessage) (*protocol.ContractNegotiationAck, error) {
	switch {
	case msg.ConsumerPid == "":
		return nil, errors.NewValidationError("dspace:consumerPid", "consumerPid is required", nil)
	case msg.CallbackAddress == "":
		return nil, errors.NewValidationError("dspace:callbackAddress", "callbackAddress is required", nil)
	case msg.ProviderPid != "":
		return nil, errors.NewValidationError("dspace:providerPid", "counter-offers are not supported", msg.ProviderPid)
	}
	if existing, err := m.deps.Store.Negotiations().FindByCorrelationID(ctx, msg.ConsumerPid); err == nil {
		if existing.CounterPartyID != agent.ID {
			return nil, errors.NewConflictError("contract negotiation", "consumerPid", msg.ConsumerPid)
		}
		return negotiationAck(existing), nil
	} else if !errors.IsNotFound(err) {
		return nil, err
	}

	now := m.now()
	n := &model.ContractNegotiation{
		ID:                  uuid.NewString(),
		Type:                model.Provider,
		CorrelationID:       msg.ConsumerPid,
		CounterPartyID:      agent.ID,
		CounterPartyAddress: msg.CallbackAddress,
		Protocol:            model.ProtocolDSP,
		State:               model.NegotiationInitial,
		StateTimestamp:      now,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	validated, err := m.catalog.ValidateOffer(ctx, agent, msg.Offer)
	switch {
	case err == nil:
		n.Offers = []model.ContractOffer{validated.Offer}
		if err := n.TransitionTo(model.NegotiationRequested, now); err != nil {
			return nil, err
		}
		m.deps.Logger.ComponentInfo(logging.ComponentNegotiation, "Contract request accepted",
			zap.String("id", n.ID),
			zap.String("consumer", agent.ID),
			zap.String("asset", validated.Asset.ID),
		)
	case errors.IsValidation(err) || errors.IsNotFound(err) || errors.IsPolicyViolation(err):
		n.Offers = []model.ContractOffer{model.OfferFromPolicy(msg.Offer)}
		if terr := n.Terminate(errors.GetErrorMessage(err), false, now); terr != nil {
			return nil, terr
		}
		m.deps.Logger.ComponentWarn(logging.ComponentNegotiation, "Contract request rejected",
			zap.String("id", n.ID),
			zap.String("consumer", agent.ID),
			zap.Error(err),
		)
	default:
		return nil, err
	}

	if err := m.deps.Store.Negotiations().Create(ctx, n); err != nil {
		return nil, err
	}
	m.publish(n)
	return negotiationAck(n), nil
}

// handle leases the negotiation pid names for a message from agent and
// saves it when apply succeeds.
func (m *NegotiationManager) handle(ctx context.Context, agent model.ParticipantAgent, pid string, side model.ProcessType, apply func(n *model.ContractNegotiation) error) error {
	owner := uuid.NewString()
	n, err := leaseEntity(ctx, m.deps.Store.Negotiations(), pid, owner)
	if err != nil {
		return err
	}
	if n.Type != side || (n.CounterPartyID != "" && n.CounterPartyID != agent.ID) {
		m.release(ctx, pid, owner)
		return errors.NewNotFoundError("contract negotiation", pid)
	}
	if err := apply(n); err != nil {
		m.release(ctx, pid, owner)
		return err
	}
	return m.save(ctx, n, owner)
}

// HandleAgreement stores the provider's agreement and starts verification.
func (m *NegotiationManager) HandleAgreement(ctx context.Context, agent model.ParticipantAgent, pid string, msg protocol.ContractAgreementMessage) error {
	return m.handle(ctx, agent, pid, model.Consumer, func(n *model.ContractNegotiation) error {
		if msg.ProviderPid != "" && n.CorrelationID == "" {
			n.CorrelationID = msg.ProviderPid
		}
		if n.CounterPartyID == "" {
			n.CounterPartyID = agent.ID
		}
		if msg.Agreement.ID == "" {
			return errors.NewValidationError("dspace:agreement", "agreement @id is required", nil)
		}
		now := m.now()
		if err := n.TransitionTo(model.NegotiationAgreed, now); err != nil {
			return err
		}
		agreement := msg.Agreement
		if agreement.ProviderID == "" {
			agreement.ProviderID = agent.ID
		}
		if agreement.ConsumerID == "" {
			agreement.ConsumerID = m.settings.ParticipantID
		}
		if agreement.AssetID == "" {
			agreement.AssetID = agreement.Policy.Target
		}
		n.SetAgreement(agreement)
		m.publish(n)
		return n.TransitionTo(model.NegotiationVerifying, now)
	})
}

// HandleVerification records the consumer's verification.
func (m *NegotiationManager) HandleVerification(ctx context.Context, agent model.ParticipantAgent, pid string, _ protocol.ContractAgreementVerificationMessage) error {
	return m.handle(ctx, agent, pid, model.Provider, func(n *model.ContractNegotiation) error {
		return n.TransitionTo(model.NegotiationVerified, m.now())
	})
}

// HandleEvent finalizes a consumer negotiation.
func (m *NegotiationManager) HandleEvent(ctx context.Context, agent model.ParticipantAgent, pid string, msg protocol.ContractNegotiationEventMessage) error {
	if model.StripNamespace(msg.EventType) != model.StripNamespace(protocol.EventFinalized) {
		return errors.NewValidationError("dspace:eventType", "only FINALIZED events are supported", msg.EventType)
	}
	return m.handle(ctx, agent, pid, model.Consumer, func(n *model.ContractNegotiation) error {
		if n.Agreement == nil {
			return errors.NewStateTransitionError("contract negotiation", n.ID, n.State.String(), model.NegotiationFinalized.String())
		}
		if err := n.TransitionTo(model.NegotiationFinalized, m.now()); err != nil {
			return err
		}
		m.deps.Logger.ComponentInfo(logging.ComponentNegotiation, "Contract negotiation finalized",
			zap.String("id", n.ID), zap.String("agreement", n.ContractAgreementID))
		return nil
	})
}

// HandleTermination terminates a negotiation at the counter-party's request.
func (m *NegotiationManager) HandleTermination(ctx context.Context, agent model.ParticipantAgent, pid string, msg protocol.ContractNegotiationTerminationMessage) error {
	owner := uuid.NewString()
	n, err := leaseEntity(ctx, m.deps.Store.Negotiations(), pid, owner)
	if err != nil {
		return err
	}
	if n.CounterPartyID != "" && n.CounterPartyID != agent.ID {
		m.release(ctx, pid, owner)
		return errors.NewNotFoundError("contract negotiation", pid)
	}
	if n.State == model.NegotiationTerminated {
		m.release(ctx, pid, owner)
		return nil
	}
	reason := msg.Reason
	if reason == "" {
		reason = "terminated by counter-party"
	}
	if err := n.Terminate(reason, true, m.now()); err != nil {
		m.release(ctx, pid, owner)
		return err
	}
	m.deps.Logger.ComponentInfo(logging.ComponentNegotiation, "Contract negotiation terminated by counter-party",
		zap.String("id", n.ID), zap.String("reason", reason))
	return m.save(ctx, n, owner)
}

// GetNegotiation returns the state of a negotiation to its counter-party.
func (m *NegotiationManager) GetNegotiation(ctx context.Context, agent model.ParticipantAgent, pid string) (*protocol.ContractNegotiationAck, error) {
	n, err := m.deps.Store.Negotiations().FindByID(ctx, pid)
	if err != nil {
		return nil, err
	}
	if n.CounterPartyID != agent.ID {
		return nil, errors.NewNotFoundError("contract negotiation", pid)
	}
	return negotiationAck(n), nil
}
