package model

import (
	"github.com/DeBrosOfficial/dataspace/pkg/errors"
)

// NegotiationState is a contract negotiation state code.
type NegotiationState int

const (
	NegotiationInitial     NegotiationState = 50
	NegotiationRequesting  NegotiationState = 100
	NegotiationRequested   NegotiationState = 200
	NegotiationOffering    NegotiationState = 300
	NegotiationOffered     NegotiationState = 400
	NegotiationAccepting   NegotiationState = 700
	NegotiationAccepted    NegotiationState = 800
	NegotiationAgreeing    NegotiationState = 825
	NegotiationAgreed      NegotiationState = 850
	NegotiationVerifying   NegotiationState = 1050
	NegotiationVerified    NegotiationState = 1100
	NegotiationFinalizing  NegotiationState = 1150
	NegotiationFinalized   NegotiationState = 1200
	NegotiationTerminating NegotiationState = 1300
	NegotiationTerminated  NegotiationState = 1400
)

var negotiationStates = newStateTable(map[int]string{
	50: "INITIAL", 100: "REQUESTING", 200: "REQUESTED", 300: "OFFERING",
	400: "OFFERED", 700: "ACCEPTING", 800: "ACCEPTED", 825: "AGREEING",
	850: "AGREED", 1050: "VERIFYING", 1100: "VERIFIED", 1150: "FINALIZING",
	1200: "FINALIZED", 1300: "TERMINATING", 1400: "TERMINATED",
})

var negotiationTransitions = map[NegotiationState][]NegotiationState{
	NegotiationInitial:    {NegotiationRequesting, NegotiationRequested, NegotiationOffering},
	NegotiationRequesting: {NegotiationRequested},
	NegotiationRequested:  {NegotiationOffering, NegotiationAccepting, NegotiationAgreeing, NegotiationAgreed},
	NegotiationOffering:   {NegotiationOffered},
	NegotiationOffered:    {NegotiationAccepting, NegotiationAgreeing, NegotiationRequesting},
	NegotiationAccepting:  {NegotiationAccepted},
	NegotiationAccepted:   {NegotiationAgreeing, NegotiationAgreed},
	NegotiationAgreeing:   {NegotiationAgreed},
	NegotiationAgreed:     {NegotiationVerifying, NegotiationVerified, NegotiationFinalized},
	NegotiationVerifying:  {NegotiationVerified},
	NegotiationVerified:   {NegotiationFinalizing, NegotiationFinalized},
	NegotiationFinalizing: {NegotiationFinalized},

	NegotiationTerminating: {NegotiationTerminated},
}

func (s NegotiationState) String() string { return negotiationStates.name(int(s)) }

// IsFinal reports whether no further transition is possible.
func (s NegotiationState) IsFinal() bool {
	return s == NegotiationFinalized || s == NegotiationTerminated
}

// ParseNegotiationState parses a state name such as "FINALIZED".
func ParseNegotiationState(name string) (NegotiationState, error) {
	c, err := negotiationStates.parse(name)
	return NegotiationState(c), err
}

func (s NegotiationState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

func (s *NegotiationState) UnmarshalJSON(b []byte) error {
	c, err := negotiationStates.unmarshal(b)
	if err != nil {
		return err
	}
	*s = NegotiationState(c)
	return nil
}

// CanTransition reports whether from may move to to. Repeating a
// non-final state is allowed and counts as a retry; any non-final state may
// terminate.
func (s NegotiationState) CanTransition(to NegotiationState) bool {
	if s.IsFinal() {
		return false
	}
	if s == to || to == NegotiationTerminated {
		return true
	}
	if to == NegotiationTerminating {
		return s != NegotiationTerminating
	}
	for _, allowed := range negotiationTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ContractNegotiation tracks one negotiation on either side.
type ContractNegotiation struct {
	ID                  string             `json:"@id"`
	Type                ProcessType        `json:"type"`
	CorrelationID       string             `json:"correlationId,omitempty"`
	CounterPartyID      string             `json:"counterPartyId"`
	CounterPartyAddress string             `json:"counterPartyAddress"`
	Protocol            string             `json:"protocol"`
	State               NegotiationState   `json:"state"`
	StateCount          int                `json:"stateCount"`
	StateTimestamp      int64              `json:"stateTimestamp"`
	ErrorDetail         string             `json:"errorDetail,omitempty"`
	Offers              []ContractOffer    `json:"contractOffers,omitempty"`
	Agreement           *ContractAgreement `json:"contractAgreement,omitempty"`
	ContractAgreementID string             `json:"contractAgreementId,omitempty"`
	CallbackAddresses   []CallbackAddress  `json:"callbackAddresses,omitempty"`
	PrivateProperties   map[string]any     `json:"privateProperties,omitempty"`
	CreatedAt           int64              `json:"createdAt"`
	UpdatedAt           int64              `json:"updatedAt"`
}

// LastOffer returns the most recent offer, or nil.
func (n *ContractNegotiation) LastOffer() *ContractOffer {
	if len(n.Offers) == 0 {
		return nil
	}
	return &n.Offers[len(n.Offers)-1]
}

// SetAgreement attaches the agreement and exposes its id.
func (n *ContractNegotiation) SetAgreement(a ContractAgreement) {
	n.Agreement = &a
	n.ContractAgreementID = a.ID
}

// TransitionTo moves the negotiation to state at time nowMillis.
func (n *ContractNegotiation) TransitionTo(state NegotiationState, nowMillis int64) error {
	if !n.State.CanTransition(state) {
		return errors.NewStateTransitionError("contract negotiation", n.ID, n.State.String(), state.String())
	}
	if n.State == state {
		n.StateCount++
	} else {
		n.StateCount = 1
	}
	n.State = state
	n.StateTimestamp = nowMillis
	n.UpdatedAt = nowMillis
	return nil
}

// Terminate moves to TERMINATING (or straight to TERMINATED when the
// counter-party initiated it) and records why.
func (n *ContractNegotiation) Terminate(detail string, remote bool, nowMillis int64) error {
	target := NegotiationTerminating
	if remote {
		target = NegotiationTerminated
	}
	if err := n.TransitionTo(target, nowMillis); err != nil {
		return err
	}
	n.ErrorDetail = detail
	return nil
}
