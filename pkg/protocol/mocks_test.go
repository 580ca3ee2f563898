package protocol

import (
	"context"

	"github.com/DeBrosOfficial/dataspace/pkg/model"
)

// mockCatalogService implements CatalogService for testing
type mockCatalogService struct {
	BuildCatalogFunc func(ctx context.Context, agent model.ParticipantAgent, q model.QuerySpec) (*model.Catalog, error)
	GetDatasetFunc   func(ctx context.Context, agent model.ParticipantAgent, id string) (*model.Dataset, error)
}

func (m *mockCatalogService) BuildCatalog(ctx context.Context, agent model.ParticipantAgent, q model.QuerySpec) (*model.Catalog, error) {
	if m.BuildCatalogFunc != nil {
		return m.BuildCatalogFunc(ctx, agent, q)
	}
	return &model.Catalog{Type: model.TypeCatalog}, nil
}

func (m *mockCatalogService) GetDataset(ctx context.Context, agent model.ParticipantAgent, id string) (*model.Dataset, error) {
	if m.GetDatasetFunc != nil {
		return m.GetDatasetFunc(ctx, agent, id)
	}
	return &model.Dataset{ID: id, Type: model.TypeDataset}, nil
}

// mockNegotiationService implements NegotiationService for testing
type mockNegotiationService struct {
	HandleRequestFunc     func(ctx context.Context, agent model.ParticipantAgent, msg ContractRequestMessage) (*ContractNegotiationAck, error)
	HandleAgreementFunc   func(ctx context.Context, agent model.ParticipantAgent, pid string, msg ContractAgreementMessage) error
	HandleTerminationFunc func(ctx context.Context, agent model.ParticipantAgent, pid string, msg ContractNegotiationTerminationMessage) error
}

func (m *mockNegotiationService) HandleRequest(ctx context.Context, agent model.ParticipantAgent, msg ContractRequestMessage) (*ContractNegotiationAck, error) {
	if m.HandleRequestFunc != nil {
		return m.HandleRequestFunc(ctx, agent, msg)
	}
	return &ContractNegotiationAck{Type: TypeContractNegotiation, ConsumerPid: msg.ConsumerPid}, nil
}

func (m *mockNegotiationService) HandleAgreement(ctx context.Context, agent model.ParticipantAgent, pid string, msg ContractAgreementMessage) error {
	if m.HandleAgreementFunc != nil {
		return m.HandleAgreementFunc(ctx, agent, pid, msg)
	}
	return nil
}

func (m *mockNegotiationService) HandleVerification(context.Context, model.ParticipantAgent, string, ContractAgreementVerificationMessage) error {
	return nil
}

func (m *mockNegotiationService) HandleEvent(context.Context, model.ParticipantAgent, string, ContractNegotiationEventMessage) error {
	return nil
}

func (m *mockNegotiationService) HandleTermination(ctx context.Context, agent model.ParticipantAgent, pid string, msg ContractNegotiationTerminationMessage) error {
	if m.HandleTerminationFunc != nil {
		return m.HandleTerminationFunc(ctx, agent, pid, msg)
	}
	return nil
}

func (m *mockNegotiationService) GetNegotiation(_ context.Context, _ model.ParticipantAgent, pid string) (*ContractNegotiationAck, error) {
	return &ContractNegotiationAck{Type: TypeContractNegotiation, ProviderPid: pid, State: "dspace:REQUESTED"}, nil
}

// mockTransferService implements TransferService for testing
type mockTransferService struct {
	HandleRequestFunc func(ctx context.Context, agent model.ParticipantAgent, msg TransferRequestMessage) (*TransferProcessAck, error)
	HandleStartFunc   func(ctx context.Context, agent model.ParticipantAgent, pid string, msg TransferStartMessage) error
}

func (m *mockTransferService) HandleRequest(ctx context.Context, agent model.ParticipantAgent, msg TransferRequestMessage) (*TransferProcessAck, error) {
	if m.HandleRequestFunc != nil {
		return m.HandleRequestFunc(ctx, agent, msg)
	}
	return &TransferProcessAck{Type: TypeTransferProcess, ConsumerPid: msg.ConsumerPid}, nil
}

func (m *mockTransferService) HandleStart(ctx context.Context, agent model.ParticipantAgent, pid string, msg TransferStartMessage) error {
	if m.HandleStartFunc != nil {
		return m.HandleStartFunc(ctx, agent, pid, msg)
	}
	return nil
}

func (m *mockTransferService) HandleCompletion(context.Context, model.ParticipantAgent, string, TransferCompletionMessage) error {
	return nil
}

func (m *mockTransferService) HandleTermination(context.Context, model.ParticipantAgent, string, TransferTerminationMessage) error {
	return nil
}

func (m *mockTransferService) HandleSuspension(context.Context, model.ParticipantAgent, string, TransferSuspensionMessage) error {
	return nil
}

func (m *mockTransferService) GetTransfer(_ context.Context, _ model.ParticipantAgent, pid string) (*TransferProcessAck, error) {
	return &TransferProcessAck{Type: TypeTransferProcess, ProviderPid: pid, State: "dspace:STARTED"}, nil
}
