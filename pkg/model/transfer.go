package model

import (
	"fmt"
	"strings"

	"github.com/DeBrosOfficial/dataspace/pkg/errors"
)

// TransferState is a transfer process state code.
type TransferState int

const (
	TransferInitial        TransferState = 100
	TransferProvisioning   TransferState = 200
	TransferProvisioned    TransferState = 300
	TransferRequesting     TransferState = 400
	TransferRequested      TransferState = 500
	TransferStarting       TransferState = 550
	TransferStarted        TransferState = 600
	TransferSuspending     TransferState = 650
	TransferSuspended      TransferState = 700
	TransferResuming       TransferState = 720
	TransferCompleting     TransferState = 750
	TransferCompleted      TransferState = 800
	TransferTerminating    TransferState = 825
	TransferTerminated     TransferState = 850
	TransferDeprovisioning TransferState = 900
	TransferDeprovisioned  TransferState = 1100
)

var transferStates = newStateTable(map[int]string{
	100: "INITIAL", 200: "PROVISIONING", 300: "PROVISIONED", 400: "REQUESTING",
	500: "REQUESTED", 550: "STARTING", 600: "STARTED", 650: "SUSPENDING",
	700: "SUSPENDED", 720: "RESUMING", 750: "COMPLETING", 800: "COMPLETED",
	825: "TERMINATING", 850: "TERMINATED", 900: "DEPROVISIONING",
	1100: "DEPROVISIONED",
})

var transferTransitions = map[TransferState][]TransferState{
	TransferInitial:      {TransferProvisioning, TransferRequesting, TransferRequested, TransferStarting},
	TransferProvisioning: {TransferProvisioned},
	TransferProvisioned:  {TransferRequesting, TransferStarting},
	TransferRequesting:   {TransferRequested},
	TransferRequested:    {TransferStarting, TransferStarted, TransferCompleted},
	TransferStarting:     {TransferStarted},
	TransferStarted:      {TransferCompleting, TransferCompleted, TransferSuspending, TransferSuspended},
	TransferSuspending:   {TransferSuspended},
	TransferSuspended:    {TransferResuming, TransferStarting, TransferStarted},
	TransferResuming:     {TransferStarting, TransferStarted, TransferRequested},
	TransferCompleting:   {TransferCompleted},
	TransferCompleted:    {TransferDeprovisioning},
	TransferTerminating:  {TransferTerminated},
	TransferTerminated:   {TransferDeprovisioning},

	TransferDeprovisioning: {TransferDeprovisioned},
}

func (s TransferState) String() string { return transferStates.name(int(s)) }

// IsFinal reports whether data can no longer move for the process.
func (s TransferState) IsFinal() bool {
	switch s {
	case TransferCompleted, TransferTerminated, TransferDeprovisioning, TransferDeprovisioned:
		return true
	}
	return false
}

// ParseTransferState parses a state name such as "STARTED".
func ParseTransferState(name string) (TransferState, error) {
	c, err := transferStates.parse(name)
	return TransferState(c), err
}

func (s TransferState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

func (s *TransferState) UnmarshalJSON(b []byte) error {
	c, err := transferStates.unmarshal(b)
	if err != nil {
		return err
	}
	*s = TransferState(c)
	return nil
}

// CanTransition reports whether s may move to to.
func (s TransferState) CanTransition(to TransferState) bool {
	if s == to && !s.IsFinal() {
		return true
	}
	if !s.IsFinal() && (to == TransferTerminated || (to == TransferTerminating && s != TransferTerminating)) {
		return true
	}
	for _, allowed := range transferTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// FlowType is the direction data moves relative to the consumer.
type FlowType string

const (
	FlowPush FlowType = "PUSH"
	FlowPull FlowType = "PULL"
)

// ParseTransferType splits "HttpData-PULL" into its destination type and flow.
func ParseTransferType(transferType string) (string, FlowType, error) {
	idx := strings.LastIndex(transferType, "-")
	if idx <= 0 || idx == len(transferType)-1 {
		return "", "", fmt.Errorf("transfer type %q must look like <type>-PUSH or <type>-PULL", transferType)
	}
	flow := FlowType(strings.ToUpper(transferType[idx+1:]))
	if flow != FlowPush && flow != FlowPull {
		return "", "", fmt.Errorf("transfer type %q has unknown flow %q", transferType, flow)
	}
	return transferType[:idx], flow, nil
}

// ResourceTypeLocal marks a definition provisioned as a local file.
const ResourceTypeLocal = "LocalResource"

// ResourceDefinition describes a resource to provision before a transfer.
type ResourceDefinition struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	PathName   string         `json:"pathName,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// ResourceManifest lists the resources a transfer needs.
type ResourceManifest struct {
	Definitions []ResourceDefinition `json:"definitions"`
}

// ProvisionedResource is the outcome of provisioning one definition.
type ProvisionedResource struct {
	ID           string      `json:"id"`
	DefinitionID string      `json:"resourceDefinitionId"`
	Type         string      `json:"type"`
	DataAddress  DataAddress `json:"dataAddress,omitempty"`
	Error        string      `json:"error,omitempty"`
}

// TransferProcess tracks one transfer on either side.
type TransferProcess struct {
	ID                   string                `json:"@id"`
	Type                 ProcessType           `json:"type"`
	CorrelationID        string                `json:"correlationId,omitempty"`
	State                TransferState         `json:"state"`
	StateCount           int                   `json:"stateCount"`
	StateTimestamp       int64                 `json:"stateTimestamp"`
	ErrorDetail          string                `json:"errorDetail,omitempty"`
	AssetID              string                `json:"assetId"`
	ContractID           string                `json:"contractId"`
	CounterPartyID       string                `json:"counterPartyId,omitempty"`
	CounterPartyAddress  string                `json:"counterPartyAddress"`
	Protocol             string                `json:"protocol"`
	TransferType         string                `json:"transferType"`
	DataDestination      DataAddress           `json:"dataDestination,omitempty"`
	ContentDataAddress   DataAddress           `json:"contentDataAddress,omitempty"`
	ResourceManifest     *ResourceManifest     `json:"resourceManifest,omitempty"`
	ProvisionedResources []ProvisionedResource `json:"provisionedResources,omitempty"`
	DataPlaneID          string                `json:"dataPlaneId,omitempty"`
	CallbackAddresses    []CallbackAddress     `json:"callbackAddresses,omitempty"`
	PrivateProperties    map[string]any        `json:"privateProperties,omitempty"`
	CreatedAt            int64                 `json:"createdAt"`
	UpdatedAt            int64                 `json:"updatedAt"`
}

// FlowType derives the flow direction from the transfer type.
func (t *TransferProcess) FlowType() FlowType {
	_, flow, err := ParseTransferType(t.TransferType)
	if err != nil {
		return FlowPush
	}
	return flow
}

// DestinationType returns the destination type named by the transfer type,
// falling back to the destination address type.
func (t *TransferProcess) DestinationType() string {
	if dest, _, err := ParseTransferType(t.TransferType); err == nil {
		return dest
	}
	return t.DataDestination.Type()
}

// TransitionTo moves the process to state at time nowMillis.
func (t *TransferProcess) TransitionTo(state TransferState, nowMillis int64) error {
	if !t.State.CanTransition(state) {
		return errors.NewStateTransitionError("transfer process", t.ID, t.State.String(), state.String())
	}
	if t.State == state {
		t.StateCount++
	} else {
		t.StateCount = 1
	}
	t.State = state
	t.StateTimestamp = nowMillis
	t.UpdatedAt = nowMillis
	return nil
}

// Terminate moves to TERMINATING, or TERMINATED for remote requests.
func (t *TransferProcess) Terminate(detail string, remote bool, nowMillis int64) error {
	target := TransferTerminating
	if remote {
		target = TransferTerminated
	}
	if err := t.TransitionTo(target, nowMillis); err != nil {
		return err
	}
	t.ErrorDetail = detail
	return nil
}

// AddProvisioned records provisioned resources and applies any destination
// address they produced.
func (t *TransferProcess) AddProvisioned(resources ...ProvisionedResource) {
	for _, r := range resources {
		t.ProvisionedResources = append(t.ProvisionedResources, r)
		if r.Error == "" && r.DataAddress != nil {
			t.DataDestination = r.DataAddress.Clone()
		}
	}
}

// ProvisioningComplete reports whether every definition has a result.
func (t *TransferProcess) ProvisioningComplete() bool {
	if t.ResourceManifest == nil {
		return true
	}
	done := map[string]bool{}
	for _, r := range t.ProvisionedResources {
		done[r.DefinitionID] = true
	}
	for _, d := range t.ResourceManifest.Definitions {
		if !done[d.ID] {
			return false
		}
	}
	return true
}
