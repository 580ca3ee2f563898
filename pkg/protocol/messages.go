// Package protocol implements the Dataspace Protocol HTTP binding used
// between connectors: catalog requests, contract negotiation and transfer
// process messages.
package protocol

import (
	"github.com/DeBrosOfficial/dataspace/pkg/model"
)

// Message types.
const (
	TypeCatalogRequest        = "dspace:CatalogRequestMessage"
	TypeDatasetRequest        = "dspace:DatasetRequestMessage"
	TypeContractRequest       = "dspace:ContractRequestMessage"
	TypeContractAgreement     = "dspace:ContractAgreementMessage"
	TypeAgreementVerification = "dspace:ContractAgreementVerificationMessage"
	TypeNegotiationEvent      = "dspace:ContractNegotiationEventMessage"
	TypeNegotiationTerminate  = "dspace:ContractNegotiationTerminationMessage"
	TypeContractNegotiation   = "dspace:ContractNegotiation"
	TypeNegotiationError      = "dspace:ContractNegotiationError"
	TypeTransferRequest       = "dspace:TransferRequestMessage"
	TypeTransferStart         = "dspace:TransferStartMessage"
	TypeTransferCompletion    = "dspace:TransferCompletionMessage"
	TypeTransferTermination   = "dspace:TransferTerminationMessage"
	TypeTransferSuspension    = "dspace:TransferSuspensionMessage"
	TypeTransferProcess       = "dspace:TransferProcess"
	TypeTransferError         = "dspace:TransferError"
	TypeCatalogError          = "dspace:CatalogError"
)

// Negotiation event types.
const (
	EventAccepted  = "dspace:ACCEPTED"
	EventFinalized = "dspace:FINALIZED"
)

// Paths relative to the protocol base URL.
const (
	PathCatalogRequest      = "/catalog/request"
	PathDatasets            = "/catalog/datasets/"
	PathNegotiationRequest  = "/negotiations/request"
	PathNegotiations        = "/negotiations/"
	PathTransferRequest     = "/transfers/request"
	PathTransfers           = "/transfers/"
	SuffixAgreement         = "/agreement"
	SuffixVerification      = "/agreement/verification"
	SuffixEvents            = "/events"
	SuffixNegotiationTerm   = "/termination"
	SuffixTransferStart     = "/start"
	SuffixTransferComplete  = "/completion"
	SuffixTransferTerminate = "/termination"
	SuffixTransferSuspend   = "/suspension"
)

// NegotiationPath returns the path of a negotiation resource on the
// receiving connector.
func NegotiationPath(pid, suffix string) string { return PathNegotiations + pid + suffix }

// TransferPath returns the path of a transfer resource on the receiving
// connector.
func TransferPath(pid, suffix string) string { return PathTransfers + pid + suffix }

// CatalogRequestMessage asks a provider for its catalog.
type CatalogRequestMessage struct {
	Type   string           `json:"@type"`
	Filter *model.QuerySpec `json:"dspace:filter,omitempty"`
}

// NewCatalogRequest builds a catalog request with an optional filter.
func NewCatalogRequest(q *model.QuerySpec) CatalogRequestMessage {
	return CatalogRequestMessage{Type: TypeCatalogRequest, Filter: q}
}

// ContractRequestMessage starts a negotiation on the provider.
type ContractRequestMessage struct {
	Type            string       `json:"@type"`
	ConsumerPid     string       `json:"dspace:consumerPid"`
	ProviderPid     string       `json:"dspace:providerPid,omitempty"`
	Offer           model.Policy `json:"dspace:offer"`
	CallbackAddress string       `json:"dspace:callbackAddress"`
}

// ContractAgreementMessage carries the provider's agreement.
type ContractAgreementMessage struct {
	Type            string                  `json:"@type"`
	ConsumerPid     string                  `json:"dspace:consumerPid"`
	ProviderPid     string                  `json:"dspace:providerPid"`
	Agreement       model.ContractAgreement `json:"dspace:agreement"`
	CallbackAddress string                  `json:"dspace:callbackAddress,omitempty"`
}

// ContractAgreementVerificationMessage confirms the agreement.
type ContractAgreementVerificationMessage struct {
	Type        string `json:"@type"`
	ConsumerPid string `json:"dspace:consumerPid"`
	ProviderPid string `json:"dspace:providerPid"`
}

// ContractNegotiationEventMessage announces ACCEPTED or FINALIZED.
type ContractNegotiationEventMessage struct {
	Type        string `json:"@type"`
	ConsumerPid string `json:"dspace:consumerPid"`
	ProviderPid string `json:"dspace:providerPid"`
	EventType   string `json:"dspace:eventType"`
}

// ContractNegotiationTerminationMessage ends a negotiation.
type ContractNegotiationTerminationMessage struct {
	Type        string `json:"@type"`
	ConsumerPid string `json:"dspace:consumerPid"`
	ProviderPid string `json:"dspace:providerPid"`
	Code        string `json:"dspace:code,omitempty"`
	Reason      string `json:"dspace:reason,omitempty"`
}

// ContractNegotiationAck is the state of a negotiation as seen by the
// answering connector.
type ContractNegotiationAck struct {
	Type        string `json:"@type"`
	ConsumerPid string `json:"dspace:consumerPid"`
	ProviderPid string `json:"dspace:providerPid"`
	State       string `json:"dspace:state"`
}

// TransferRequestMessage asks the provider to start a transfer.
type TransferRequestMessage struct {
	Type            string            `json:"@type"`
	ConsumerPid     string            `json:"dspace:consumerPid"`
	AgreementID     string            `json:"dspace:agreementId"`
	Format          string            `json:"dct:format"`
	DataAddress     model.DataAddress `json:"dspace:dataAddress,omitempty"`
	CallbackAddress string            `json:"dspace:callbackAddress"`
}

// TransferStartMessage tells the consumer data is flowing. For PULL
// transfers it carries the endpoint data reference.
type TransferStartMessage struct {
	Type        string            `json:"@type"`
	ConsumerPid string            `json:"dspace:consumerPid"`
	ProviderPid string            `json:"dspace:providerPid"`
	DataAddress model.DataAddress `json:"dspace:dataAddress,omitempty"`
}

// TransferCompletionMessage ends a transfer successfully.
type TransferCompletionMessage struct {
	Type        string `json:"@type"`
	ConsumerPid string `json:"dspace:consumerPid"`
	ProviderPid string `json:"dspace:providerPid"`
}

// TransferTerminationMessage ends a transfer with an error.
type TransferTerminationMessage struct {
	Type        string `json:"@type"`
	ConsumerPid string `json:"dspace:consumerPid"`
	ProviderPid string `json:"dspace:providerPid"`
	Code        string `json:"dspace:code,omitempty"`
	Reason      string `json:"dspace:reason,omitempty"`
}

// TransferSuspensionMessage pauses a transfer.
type TransferSuspensionMessage struct {
	Type        string `json:"@type"`
	ConsumerPid string `json:"dspace:consumerPid"`
	ProviderPid string `json:"dspace:providerPid"`
	Code        string `json:"dspace:code,omitempty"`
	Reason      string `json:"dspace:reason,omitempty"`
}

// TransferProcessAck is the state of a transfer as seen by the answering
// connector.
type TransferProcessAck struct {
	Type        string `json:"@type"`
	ConsumerPid string `json:"dspace:consumerPid"`
	ProviderPid string `json:"dspace:providerPid"`
	State       string `json:"dspace:state"`
}

// Error is the body of a failed protocol request.
type Error struct {
	Type        string   `json:"@type"`
	ConsumerPid string   `json:"dspace:consumerPid,omitempty"`
	ProviderPid string   `json:"dspace:providerPid,omitempty"`
	Code        string   `json:"dspace:code"`
	Reasons     []string `json:"dspace:reason,omitempty"`
}
