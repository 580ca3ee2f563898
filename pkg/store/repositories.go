package store

import (
	"context"

	"github.com/DeBrosOfficial/dataspace/pkg/errors"
	"github.com/DeBrosOfficial/dataspace/pkg/model"
)

// Repository is the CRUD surface shared by every entity store.
type Repository[T any] interface {
	Create(ctx context.Context, v *T) error
	Update(ctx context.Context, v *T) error
	FindByID(ctx context.Context, id string) (*T, error)
	Delete(ctx context.Context, id string) error
	Query(ctx context.Context, q model.QuerySpec) ([]T, error)
}

// LeasedRepository stores entities processed by state machine loops.
type LeasedRepository[T any] interface {
	Repository[T]
	NextNotLeased(ctx context.Context, owner string, max int, states ...int) ([]*T, error)
	NextNotLeasedBefore(ctx context.Context, owner string, max int, before int64, states ...int) ([]*T, error)
	FindByIDAndLease(ctx context.Context, id, owner string) (*T, error)
	FindByCorrelationID(ctx context.Context, correlationID string) (*T, error)
	Save(ctx context.Context, v *T, owner string) error
	Release(ctx context.Context, id, owner string) error
}

var (
	_ Repository[model.Asset]                     = (*AssetStore)(nil)
	_ Repository[model.PolicyDefinition]          = (*PolicyDefinitionStore)(nil)
	_ Repository[model.ContractDefinition]        = (*ContractDefinitionStore)(nil)
	_ LeasedRepository[model.ContractNegotiation] = (*ContractNegotiationStore)(nil)
	_ LeasedRepository[model.TransferProcess]     = (*TransferProcessStore)(nil)
	_ Repository[model.DataPlaneInstance]         = (*DataPlaneInstanceStore)(nil)
	_ Repository[model.DataFlow]                  = (*DataFlowStore)(nil)
	_ Repository[model.EDREntry]                  = (*EDRStore)(nil)
)

// AssetStore is the asset index.
type AssetStore struct {
	table[model.Asset]
}

// Delete removes an asset unless a contract agreement references it.
func (s *AssetStore) Delete(ctx context.Context, id string) error {
	n, err := s.s.negotiations.agreements.count(ctx, "asset_id = ?", id)
	if err != nil {
		return err
	}
	if n > 0 {
		return errors.NewReferencedError("asset", id, "a contract agreement")
	}
	return s.table.Delete(ctx, id)
}

func assetDocument(a model.Asset) (map[string]any, error) {
	doc, err := model.ToDocument(a)
	if err != nil {
		return nil, err
	}
	for k, v := range a.SelectorDocument() {
		if _, ok := doc[k]; !ok {
			doc[k] = v
		}
	}
	return doc, nil
}

// PolicyDefinitionStore stores named policies.
type PolicyDefinitionStore struct {
	table[model.PolicyDefinition]
}

// Delete removes a policy unless a contract definition references it.
func (s *PolicyDefinitionStore) Delete(ctx context.Context, id string) error {
	n, err := s.s.definitions.count(ctx, "access_policy_id = ? OR contract_policy_id = ?", id, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return errors.NewReferencedError("policy definition", id, "a contract definition")
	}
	return s.table.Delete(ctx, id)
}

// ContractDefinitionStore stores contract definitions.
type ContractDefinitionStore struct {
	table[model.ContractDefinition]
}

// ContractNegotiationStore stores negotiations and the agreements they
// produce.
type ContractNegotiationStore struct {
	leasedTable[model.ContractNegotiation]
	agreements table[model.ContractAgreement]
}

// Create inserts a negotiation and its agreement, if any.
func (s *ContractNegotiationStore) Create(ctx context.Context, n *model.ContractNegotiation) error {
	if err := s.leasedTable.Create(ctx, n); err != nil {
		return err
	}
	return s.saveAgreement(ctx, n)
}

// Save writes a negotiation, stores its agreement and releases the lease.
func (s *ContractNegotiationStore) Save(ctx context.Context, n *model.ContractNegotiation, owner string) error {
	if err := s.leasedTable.Save(ctx, n, owner); err != nil {
		return err
	}
	return s.saveAgreement(ctx, n)
}

func (s *ContractNegotiationStore) saveAgreement(ctx context.Context, n *model.ContractNegotiation) error {
	if n.Agreement == nil {
		return nil
	}
	return s.agreements.Upsert(ctx, n.Agreement)
}

// FindAgreement loads an agreement by id.
func (s *ContractNegotiationStore) FindAgreement(ctx context.Context, id string) (*model.ContractAgreement, error) {
	return s.agreements.FindByID(ctx, id)
}

// QueryAgreements lists agreements.
func (s *ContractNegotiationStore) QueryAgreements(ctx context.Context, q model.QuerySpec) ([]model.ContractAgreement, error) {
	return s.agreements.Query(ctx, q)
}

// FindByAgreementID returns the negotiation that produced an agreement.
func (s *ContractNegotiationStore) FindByAgreementID(ctx context.Context, agreementID string) (*model.ContractNegotiation, error) {
	all, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].ContractAgreementID == agreementID {
			return &all[i], nil
		}
	}
	return nil, errors.NewNotFoundError("contract negotiation for agreement", agreementID)
}

// TransferProcessStore stores transfer processes.
type TransferProcessStore struct {
	leasedTable[model.TransferProcess]
}

// DataPlaneInstanceStore stores data planes known to the selector.
type DataPlaneInstanceStore struct {
	table[model.DataPlaneInstance]
}

// DataFlowStore stores data flows of the embedded data plane.
type DataFlowStore struct {
	table[model.DataFlow]
}

// FindByProcessID returns the flow started for a transfer process.
func (s *DataFlowStore) FindByProcessID(ctx context.Context, processID string) (*model.DataFlow, error) {
	return s.findBy(ctx, "process_id", processID)
}

// EDRStore caches endpoint data references received by the consumer, keyed
// by transfer process id.
type EDRStore struct {
	table[model.EDREntry]
}
