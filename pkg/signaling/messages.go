// Package signaling is the protocol between a control plane and its data
// planes: the control plane starts, suspends and terminates data flows, the
// data plane reports completion or failure back through the control API.
package signaling

import (
	"fmt"

	"github.com/DeBrosOfficial/dataspace/pkg/model"
)

// Paths of the data plane signaling API, relative to the instance URL.
const (
	PathDataFlows = "/v1/dataflows"
	PathCheck     = "/v1/dataflows/check"
)

// Paths of the control API the data plane calls back.
const (
	PathTransferProcesses = "/transferprocesses"
	PathDataPlanes        = "/v1/dataplanes"
)

// DataFlowStartMessage asks a data plane to move data for a transfer.
type DataFlowStartMessage struct {
	ProcessID              string            `json:"processId"`
	AssetID                string            `json:"assetId"`
	AgreementID            string            `json:"agreementId"`
	ParticipantID          string            `json:"participantId"`
	SourceDataAddress      model.DataAddress `json:"sourceDataAddress"`
	DestinationDataAddress model.DataAddress `json:"destinationDataAddress,omitempty"`
	FlowType               model.FlowType    `json:"flowType"`
	TransferType           string            `json:"transferType"`
	CallbackAddress        string            `json:"callbackAddress,omitempty"`
	Properties             map[string]any    `json:"properties,omitempty"`
}

// Validate checks the fields every flow needs.
func (m DataFlowStartMessage) Validate() error {
	switch {
	case m.ProcessID == "":
		return fmt.Errorf("processId is required")
	case m.SourceDataAddress.Validate() != nil:
		return fmt.Errorf("sourceDataAddress: %w", m.SourceDataAddress.Validate())
	case m.FlowType != model.FlowPush && m.FlowType != model.FlowPull:
		return fmt.Errorf("flowType must be PUSH or PULL, got %q", m.FlowType)
	case m.FlowType == model.FlowPush && m.DestinationDataAddress.Validate() != nil:
		return fmt.Errorf("destinationDataAddress: %w", m.DestinationDataAddress.Validate())
	}
	return nil
}

// DataFlowResponseMessage answers a start. DataAddress is the EDR of a PULL
// flow and empty for PUSH.
type DataFlowResponseMessage struct {
	DataAddress model.DataAddress `json:"dataAddress,omitempty"`
}

// DataFlowSuspendMessage suspends a running flow.
type DataFlowSuspendMessage struct {
	Reason string `json:"reason,omitempty"`
}

// DataFlowTerminateMessage terminates a flow.
type DataFlowTerminateMessage struct {
	Reason string `json:"reason,omitempty"`
}

// DataFlowStatusMessage reports the state of a flow.
type DataFlowStatusMessage struct {
	ID    string              `json:"id"`
	State model.DataFlowState `json:"state"`
}

// TransferFailMessage is sent to the control API when a flow failed.
type TransferFailMessage struct {
	ErrorMessage string `json:"errorMessage"`
}

// NewStartMessage builds the start message for a provider transfer.
func NewStartMessage(tp *model.TransferProcess, agreement *model.ContractAgreement, source model.DataAddress, callback string) DataFlowStartMessage {
	msg := DataFlowStartMessage{
		ProcessID:              tp.ID,
		AssetID:                tp.AssetID,
		AgreementID:            tp.ContractID,
		ParticipantID:          tp.CounterPartyID,
		SourceDataAddress:      source,
		DestinationDataAddress: tp.DataDestination,
		FlowType:               tp.FlowType(),
		TransferType:           tp.TransferType,
		CallbackAddress:        callback,
	}
	if agreement != nil {
		msg.ParticipantID = agreement.ConsumerID
	}
	return msg
}
