package controlplane

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DeBrosOfficial/dataspace/pkg/errors"
	"github.com/DeBrosOfficial/dataspace/pkg/logging"
	"github.com/DeBrosOfficial/dataspace/pkg/model"
	"github.com/DeBrosOfficial/dataspace/pkg/protocol"
	"github.com/DeBrosOfficial/dataspace/pkg/selector"
)

// CatalogRequest asks a counter-party for its catalog.
type CatalogRequest struct {
	CounterPartyAddress string           `json:"counterPartyAddress"`
	CounterPartyID      string           `json:"counterPartyId,omitempty"`
	Protocol            string           `json:"protocol,omitempty"`
	QuerySpec           *model.QuerySpec `json:"querySpec,omitempty"`
}

// DatasetRequest asks a counter-party for one dataset.
type DatasetRequest struct {
	ID                  string `json:"@id"`
	CounterPartyAddress string `json:"counterPartyAddress"`
	Protocol            string `json:"protocol,omitempty"`
}

// ManagementService is the facade behind the management API.
type ManagementService struct {
	deps         Dependencies
	negotiations *NegotiationManager
	transfers    *TransferManager
	selector     *selector.Service
}

// NewManagementService creates the facade. sel may be nil when the
// connector has no data plane selector.
func NewManagementService(deps Dependencies, negotiations *NegotiationManager, transfers *TransferManager, sel *selector.Service) *ManagementService {
	deps.defaults()
	return &ManagementService{deps: deps, negotiations: negotiations, transfers: transfers, selector: sel}
}

func (s *ManagementService) now() int64 { return s.deps.Clock().UnixMilli() }

// CreateAsset stores a new asset; a missing id is generated.
func (s *ManagementService) CreateAsset(ctx context.Context, a *model.Asset) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if err := a.Validate(); err != nil {
		return errors.NewValidationError("asset", err.Error(), nil)
	}
	a.CreatedAt = s.now()
	if err := s.deps.Store.Assets().Create(ctx, a); err != nil {
		return err
	}
	s.deps.Logger.ComponentInfo(logging.ComponentControl, "Asset created", zap.String("id", a.ID))
	return nil
}

// UpdateAsset replaces an asset.
func (s *ManagementService) UpdateAsset(ctx context.Context, a *model.Asset) error {
	if err := a.Validate(); err != nil {
		return errors.NewValidationError("asset", err.Error(), nil)
	}
	old, err := s.deps.Store.Assets().FindByID(ctx, a.ID)
	if err != nil {
		return err
	}
	a.CreatedAt = old.CreatedAt
	return s.deps.Store.Assets().Update(ctx, a)
}

// GetAsset loads an asset.
func (s *ManagementService) GetAsset(ctx context.Context, id string) (*model.Asset, error) {
	return s.deps.Store.Assets().FindByID(ctx, id)
}

// DeleteAsset removes an asset no agreement references.
func (s *ManagementService) DeleteAsset(ctx context.Context, id string) error {
	return s.deps.Store.Assets().Delete(ctx, id)
}

// QueryAssets lists assets.
func (s *ManagementService) QueryAssets(ctx context.Context, q model.QuerySpec) ([]model.Asset, error) {
	return s.deps.Store.Assets().Query(ctx, q)
}

// CreatePolicy stores a policy definition.
func (s *ManagementService) CreatePolicy(ctx context.Context, p *model.PolicyDefinition) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if err := p.Validate(); err != nil {
		return errors.NewValidationError("policy", err.Error(), nil)
	}
	if p.Policy.Type == "" {
		p.Policy.Type = model.PolicyTypeSet
	}
	p.CreatedAt = s.now()
	if err := s.deps.Store.PolicyDefinitions().Create(ctx, p); err != nil {
		return err
	}
	s.deps.Logger.ComponentInfo(logging.ComponentControl, "Policy definition created", zap.String("id", p.ID))
	return nil
}

// UpdatePolicy replaces a policy definition.
func (s *ManagementService) UpdatePolicy(ctx context.Context, p *model.PolicyDefinition) error {
	if err := p.Validate(); err != nil {
		return errors.NewValidationError("policy", err.Error(), nil)
	}
	old, err := s.deps.Store.PolicyDefinitions().FindByID(ctx, p.ID)
	if err != nil {
		return err
	}
	p.CreatedAt = old.CreatedAt
	return s.deps.Store.PolicyDefinitions().Update(ctx, p)
}

// GetPolicy loads a policy definition.
func (s *ManagementService) GetPolicy(ctx context.Context, id string) (*model.PolicyDefinition, error) {
	return s.deps.Store.PolicyDefinitions().FindByID(ctx, id)
}

// DeletePolicy removes a policy no contract definition references.
func (s *ManagementService) DeletePolicy(ctx context.Context, id string) error {
	return s.deps.Store.PolicyDefinitions().Delete(ctx, id)
}

// QueryPolicies lists policy definitions.
func (s *ManagementService) QueryPolicies(ctx context.Context, q model.QuerySpec) ([]model.PolicyDefinition, error) {
	return s.deps.Store.PolicyDefinitions().Query(ctx, q)
}

func (s *ManagementService) checkDefinition(ctx context.Context, d *model.ContractDefinition) error {
	if err := d.Validate(); err != nil {
		return errors.NewValidationError("contractDefinition", err.Error(), nil)
	}
	for _, id := range []string{d.AccessPolicyID, d.ContractPolicyID} {
		if _, err := s.deps.Store.PolicyDefinitions().FindByID(ctx, id); err != nil {
			if errors.IsNotFound(err) {
				return errors.NewValidationError("contractDefinition", "policy "+id+" does not exist", id)
			}
			return err
		}
	}
	return nil
}

// CreateContractDefinition stores a contract definition whose policies
// exist.
func (s *ManagementService) CreateContractDefinition(ctx context.Context, d *model.ContractDefinition) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if err := s.checkDefinition(ctx, d); err != nil {
		return err
	}
	d.CreatedAt = s.now()
	if err := s.deps.Store.ContractDefinitions().Create(ctx, d); err != nil {
		return err
	}
	s.deps.Logger.ComponentInfo(logging.ComponentControl, "Contract definition created", zap.String("id", d.ID))
	return nil
}

// UpdateContractDefinition replaces a contract definition.
func (s *ManagementService) UpdateContractDefinition(ctx context.Context, d *model.ContractDefinition) error {
	if err := s.checkDefinition(ctx, d); err != nil {
		return err
	}
	old, err := s.deps.Store.ContractDefinitions().FindByID(ctx, d.ID)
	if err != nil {
		return err
	}
	d.CreatedAt = old.CreatedAt
	return s.deps.Store.ContractDefinitions().Update(ctx, d)
}

// GetContractDefinition loads a contract definition.
func (s *ManagementService) GetContractDefinition(ctx context.Context, id string) (*model.ContractDefinition, error) {
	return s.deps.Store.ContractDefinitions().FindByID(ctx, id)
}

// DeleteContractDefinition removes a contract definition.
func (s *ManagementService) DeleteContractDefinition(ctx context.Context, id string) error {
	return s.deps.Store.ContractDefinitions().Delete(ctx, id)
}

// QueryContractDefinitions lists contract definitions.
func (s *ManagementService) QueryContractDefinitions(ctx context.Context, q model.QuerySpec) ([]model.ContractDefinition, error) {
	return s.deps.Store.ContractDefinitions().Query(ctx, q)
}

// RequestCatalog fetches a counter-party's catalog.
func (s *ManagementService) RequestCatalog(ctx context.Context, req CatalogRequest) (*model.Catalog, error) {
	if req.CounterPartyAddress == "" {
		return nil, errors.NewValidationError("counterPartyAddress", "counterPartyAddress is required", nil)
	}
	return protocol.RequestCatalog(ctx, s.deps.Dispatcher, req.CounterPartyAddress, req.QuerySpec)
}

// RequestDataset fetches one dataset from a counter-party.
func (s *ManagementService) RequestDataset(ctx context.Context, req DatasetRequest) (*model.Dataset, error) {
	switch {
	case req.CounterPartyAddress == "":
		return nil, errors.NewValidationError("counterPartyAddress", "counterPartyAddress is required", nil)
	case req.ID == "":
		return nil, errors.NewValidationError("@id", "dataset id is required", nil)
	}
	return protocol.RequestDataset(ctx, s.deps.Dispatcher, req.CounterPartyAddress, req.ID)
}

// InitiateNegotiation starts a consumer negotiation.
func (s *ManagementService) InitiateNegotiation(ctx context.Context, req ContractRequest) (*model.ContractNegotiation, error) {
	return s.negotiations.Initiate(ctx, req)
}

// GetNegotiation loads a negotiation.
func (s *ManagementService) GetNegotiation(ctx context.Context, id string) (*model.ContractNegotiation, error) {
	return s.deps.Store.Negotiations().FindByID(ctx, id)
}

// NegotiationAgreement returns the agreement of a negotiation.
func (s *ManagementService) NegotiationAgreement(ctx context.Context, id string) (*model.ContractAgreement, error) {
	n, err := s.GetNegotiation(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.ContractAgreementID == "" {
		return nil, errors.NewNotFoundError("contract agreement of negotiation", id)
	}
	return s.deps.Store.Negotiations().FindAgreement(ctx, n.ContractAgreementID)
}

// TerminateNegotiation terminates a negotiation.
func (s *ManagementService) TerminateNegotiation(ctx context.Context, id, reason string) error {
	return s.negotiations.Terminate(ctx, id, reason)
}

// QueryNegotiations lists negotiations.
func (s *ManagementService) QueryNegotiations(ctx context.Context, q model.QuerySpec) ([]model.ContractNegotiation, error) {
	return s.deps.Store.Negotiations().Query(ctx, q)
}

// GetAgreement loads an agreement.
func (s *ManagementService) GetAgreement(ctx context.Context, id string) (*model.ContractAgreement, error) {
	return s.deps.Store.Negotiations().FindAgreement(ctx, id)
}

// QueryAgreements lists agreements.
func (s *ManagementService) QueryAgreements(ctx context.Context, q model.QuerySpec) ([]model.ContractAgreement, error) {
	return s.deps.Store.Negotiations().QueryAgreements(ctx, q)
}

// InitiateTransfer starts a consumer transfer.
func (s *ManagementService) InitiateTransfer(ctx context.Context, req TransferRequest) (*model.TransferProcess, error) {
	return s.transfers.Initiate(ctx, req)
}

// GetTransfer loads a transfer.
func (s *ManagementService) GetTransfer(ctx context.Context, id string) (*model.TransferProcess, error) {
	return s.deps.Store.Transfers().FindByID(ctx, id)
}

// QueryTransfers lists transfers.
func (s *ManagementService) QueryTransfers(ctx context.Context, q model.QuerySpec) ([]model.TransferProcess, error) {
	return s.deps.Store.Transfers().Query(ctx, q)
}

// TerminateTransfer terminates a transfer.
func (s *ManagementService) TerminateTransfer(ctx context.Context, id, reason string) error {
	return s.transfers.Terminate(ctx, id, reason)
}

// SuspendTransfer suspends a started transfer.
func (s *ManagementService) SuspendTransfer(ctx context.Context, id, reason string) error {
	return s.transfers.Suspend(ctx, id, reason)
}

// ResumeTransfer resumes a suspended transfer.
func (s *ManagementService) ResumeTransfer(ctx context.Context, id string) error {
	return s.transfers.Resume(ctx, id)
}

// DeprovisionTransfer releases the resources of a finished transfer.
func (s *ManagementService) DeprovisionTransfer(ctx context.Context, id string) error {
	return s.transfers.Deprovision(ctx, id)
}

// EDRDataAddress returns the cached endpoint data reference of a transfer.
func (s *ManagementService) EDRDataAddress(ctx context.Context, transferProcessID string) (model.DataAddress, error) {
	entry, err := s.deps.Store.EDRs().FindByID(ctx, transferProcessID)
	if err != nil {
		return nil, err
	}
	return entry.DataAddress, nil
}

// QueryEDRs lists cached endpoint data references.
func (s *ManagementService) QueryEDRs(ctx context.Context, q model.QuerySpec) ([]model.EDREntry, error) {
	return s.deps.Store.EDRs().Query(ctx, q)
}

func (s *ManagementService) requireSelector() error {
	if s.selector == nil {
		return errors.WithCode(errors.CodeUnimplemented, "this connector has no data plane selector", nil)
	}
	return nil
}

// RegisterDataPlane adds a data plane to the selector.
func (s *ManagementService) RegisterDataPlane(ctx context.Context, inst model.DataPlaneInstance) error {
	if err := s.requireSelector(); err != nil {
		return err
	}
	return s.selector.Register(ctx, inst)
}

// ListDataPlanes lists registered data planes.
func (s *ManagementService) ListDataPlanes(ctx context.Context) ([]model.DataPlaneInstance, error) {
	if err := s.requireSelector(); err != nil {
		return nil, err
	}
	return s.selector.List(ctx)
}

// UnregisterDataPlane removes a data plane.
func (s *ManagementService) UnregisterDataPlane(ctx context.Context, id string) error {
	if err := s.requireSelector(); err != nil {
		return err
	}
	return s.selector.Unregister(ctx, id)
}
