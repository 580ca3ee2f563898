package model

import (
	"fmt"
	"slices"
	"strings"

	"github.com/DeBrosOfficial/dataspace/pkg/errors"
)

// DataPlaneState is the selector's view of a data plane instance.
type DataPlaneState string

const (
	DataPlaneRegistered  DataPlaneState = "REGISTERED"
	DataPlaneAvailable   DataPlaneState = "AVAILABLE"
	DataPlaneUnavailable DataPlaneState = "UNAVAILABLE"
)

// DataPlaneInstance is a data plane registered with the selector.
type DataPlaneInstance struct {
	ID                   string         `json:"@id"`
	URL                  string         `json:"url"`
	AllowedSourceTypes   []string       `json:"allowedSourceTypes"`
	AllowedDestTypes     []string       `json:"allowedDestTypes,omitempty"`
	AllowedTransferTypes []string       `json:"allowedTransferTypes,omitempty"`
	State                DataPlaneState `json:"state,omitempty"`
	LastActive           int64          `json:"lastActive,omitempty"`
	TurnCount            int            `json:"turnCount"`
	Properties           map[string]any `json:"properties,omitempty"`
}

// Validate checks required fields.
func (d DataPlaneInstance) Validate() error {
	switch {
	case strings.TrimSpace(d.ID) == "":
		return fmt.Errorf("@id is required")
	case strings.TrimSpace(d.URL) == "":
		return fmt.Errorf("url is required")
	case len(d.AllowedSourceTypes) == 0:
		return fmt.Errorf("allowedSourceTypes must not be empty")
	}
	return nil
}

// CanHandle reports whether the instance can move data from source using
// transferType. Instances that only declare destination types are matched
// on the destination part of the transfer type.
func (d DataPlaneInstance) CanHandle(source DataAddress, transferType string) bool {
	if !slices.Contains(d.AllowedSourceTypes, source.Type()) {
		return false
	}
	if len(d.AllowedTransferTypes) > 0 {
		return slices.Contains(d.AllowedTransferTypes, transferType)
	}
	dest, _, err := ParseTransferType(transferType)
	if err != nil {
		return false
	}
	return slices.Contains(d.AllowedDestTypes, dest)
}

// DataFlowState is the data plane's view of a transfer.
type DataFlowState string

const (
	FlowReceived   DataFlowState = "RECEIVED"
	FlowStarted    DataFlowState = "STARTED"
	FlowSuspended  DataFlowState = "SUSPENDED"
	FlowCompleted  DataFlowState = "COMPLETED"
	FlowFailed     DataFlowState = "FAILED"
	FlowTerminated DataFlowState = "TERMINATED"
)

// IsFinal reports whether the flow is over.
func (s DataFlowState) IsFinal() bool {
	return s == FlowCompleted || s == FlowFailed || s == FlowTerminated
}

var flowTransitions = map[DataFlowState][]DataFlowState{
	FlowReceived:  {FlowStarted, FlowFailed, FlowTerminated},
	FlowStarted:   {FlowCompleted, FlowFailed, FlowSuspended, FlowTerminated},
	FlowSuspended: {FlowStarted, FlowTerminated, FlowFailed},
}

// DataFlow is a transfer as executed by a data plane.
type DataFlow struct {
	ID              string         `json:"id"`
	ProcessID       string         `json:"processId"`
	AgreementID     string         `json:"agreementId,omitempty"`
	AssetID         string         `json:"assetId,omitempty"`
	ParticipantID   string         `json:"participantId,omitempty"`
	Source          DataAddress    `json:"source"`
	Destination     DataAddress    `json:"destination,omitempty"`
	FlowType        FlowType       `json:"flowType"`
	TransferType    string         `json:"transferType"`
	CallbackAddress string         `json:"callbackAddress,omitempty"`
	State           DataFlowState  `json:"state"`
	ErrorDetail     string         `json:"errorDetail,omitempty"`
	Properties      map[string]any `json:"properties,omitempty"`
	CreatedAt       int64          `json:"createdAt"`
	UpdatedAt       int64          `json:"updatedAt"`
}

// TransitionTo moves the flow to state.
func (f *DataFlow) TransitionTo(state DataFlowState, nowMillis int64) error {
	if f.State == state {
		return nil
	}
	if !slices.Contains(flowTransitions[f.State], state) {
		return errors.NewStateTransitionError("data flow", f.ID, string(f.State), string(state))
	}
	f.State = state
	f.UpdatedAt = nowMillis
	return nil
}
