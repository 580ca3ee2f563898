package controlplane

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DeBrosOfficial/dataspace/pkg/errors"
	"github.com/DeBrosOfficial/dataspace/pkg/logging"
	"github.com/DeBrosOfficial/dataspace/pkg/model"
	"github.com/DeBrosOfficial/dataspace/pkg/policy"
	"github.com/DeBrosOfficial/dataspace/pkg/protocol"
)

// DataPlaneLister lists registered data planes; distributions are derived
// from them.
type DataPlaneLister interface {
	List(ctx context.Context) ([]model.DataPlaneInstance, error)
}

// CatalogService builds the catalog a participant is allowed to see and
// validates the offers it contains.
type CatalogService struct {
	deps       Dependencies
	settings   Settings
	dataPlanes DataPlaneLister
}

var _ protocol.CatalogService = (*CatalogService)(nil)

// NewCatalogService creates the catalog service. dataPlanes may be nil.
func NewCatalogService(deps Dependencies, settings Settings, dataPlanes DataPlaneLister) *CatalogService {
	deps.defaults()
	settings.defaults()
	return &CatalogService{deps: deps, settings: settings, dataPlanes: dataPlanes}
}

func (c *CatalogService) dataServiceID() string {
	return c.settings.ParticipantID + "-dsp"
}

// BuildCatalog returns one dataset per visible asset. An asset is visible
// through a contract definition whose access policy admits the agent and
// whose selector matches the asset; each such definition adds an offer.
func (c *CatalogService) BuildCatalog(ctx context.Context, agent model.ParticipantAgent, q model.QuerySpec) (*model.Catalog, error) {
	q, err := q.Normalize()
	if err != nil {
		return nil, errors.NewValidationError("querySpec", err.Error(), nil)
	}
	datasets, err := c.datasets(ctx, agent, q.FilterExpression)
	if err != nil {
		return nil, err
	}

	paged := []model.Dataset{}
	for i := q.Offset; i < len(datasets) && len(paged) < q.Limit; i++ {
		paged = append(paged, datasets[i])
	}

	c.deps.Logger.ComponentDebug(logging.ComponentCatalog, "Catalog built",
		zap.String("participant", agent.ID),
		zap.Int("datasets", len(paged)),
	)
	return &model.Catalog{
		ID:            uuid.NewString(),
		Type:          model.TypeCatalog,
		ParticipantID: c.settings.ParticipantID,
		Datasets:      paged,
		DataServices: []model.DataService{{
			ID:          c.dataServiceID(),
			Type:        model.TypeDataService,
			EndpointURL: c.settings.ProtocolURL,
		}},
	}, nil
}

// GetDataset returns the dataset of one asset as visible to agent.
func (c *CatalogService) GetDataset(ctx context.Context, agent model.ParticipantAgent, id string) (*model.Dataset, error) {
	datasets, err := c.datasets(ctx, agent, []model.Criterion{model.NewCriterion(model.PropertyID, "=", id)})
	if err != nil {
		return nil, err
	}
	if len(datasets) == 0 {
		return nil, errors.NewNotFoundError("dataset", id)
	}
	return &datasets[0], nil
}

func (c *CatalogService) datasets(ctx context.Context, agent model.ParticipantAgent, filter []model.Criterion) ([]model.Dataset, error) {
	defs, err := c.deps.Store.ContractDefinitions().All(ctx)
	if err != nil {
		return nil, err
	}
	assets, err := c.deps.Store.Assets().All(ctx)
	if err != nil {
		return nil, err
	}
	distributions := c.distributions(ctx)

	byAsset := map[string]*model.Dataset{}
	for _, def := range defs {
		if !c.admits(ctx, def, agent) {
			continue
		}
		contract, err := c.deps.Store.PolicyDefinitions().FindByID(ctx, def.ContractPolicyID)
		if err != nil {
			c.deps.Logger.ComponentWarn(logging.ComponentCatalog, "Contract policy missing, definition skipped",
				zap.String("definition", def.ID), zap.String("policy", def.ContractPolicyID))
			continue
		}
		for _, a := range assets {
			if !def.Selects(a) || !model.MatchesAll(a.SelectorDocument(), filter) {
				continue
			}
			ds, ok := byAsset[a.ID]
			if !ok {
				ds = &model.Dataset{
					ID:            a.ID,
					Type:          model.TypeDataset,
					Offers:        []model.Policy{},
					Distributions: distributions[a.DataAddress.Type()],
					Properties:    a.Properties,
				}
				byAsset[a.ID] = ds
			}
			ds.Offers = append(ds.Offers, c.offerPolicy(def, a.ID, contract.Policy))
		}
	}

	out := make([]model.Dataset, 0, len(byAsset))
	for _, ds := range byAsset {
		out = append(out, *ds)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// admits evaluates the access policy of def in the catalog scope.
func (c *CatalogService) admits(ctx context.Context, def model.ContractDefinition, agent model.ParticipantAgent) bool {
	access, err := c.deps.Store.PolicyDefinitions().FindByID(ctx, def.AccessPolicyID)
	if err != nil {
		c.deps.Logger.ComponentWarn(logging.ComponentCatalog, "Access policy missing, definition skipped",
			zap.String("definition", def.ID), zap.String("policy", def.AccessPolicyID))
		return false
	}
	pctx := policy.NewContext(agent)
	pctx.Now = c.deps.Clock
	return c.deps.Policy.Evaluate(policy.ScopeCatalog, access.Policy, pctx) == nil
}

func (c *CatalogService) offerPolicy(def model.ContractDefinition, assetID string, p model.Policy) model.Policy {
	offer := p.WithTarget(assetID)
	offer.ID = model.NewContractOfferID(def.ID, assetID).String()
	offer.Type = model.PolicyTypeOffer
	offer.Assigner = c.settings.ParticipantID
	return offer
}

// distributions maps a source type to the transfer types data planes offer
// for it.
func (c *CatalogService) distributions(ctx context.Context) map[string][]model.Distribution {
	out := map[string][]model.Distribution{}
	if c.dataPlanes == nil {
		return out
	}
	instances, err := c.dataPlanes.List(ctx)
	if err != nil {
		c.deps.Logger.ComponentWarn(logging.ComponentCatalog, "Failed to list data planes", zap.Error(err))
		return out
	}
	for _, inst := range instances {
		for _, src := range inst.AllowedSourceTypes {
			for _, tt := range inst.AllowedTransferTypes {
				d := model.Distribution{Type: model.TypeDistribution, Format: tt, AccessService: c.dataServiceID()}
				if !slices.Contains(out[src], d) {
					out[src] = append(out[src], d)
				}
			}
		}
	}
	return out
}

// ValidatedOffer is an offer the provider accepted for negotiation.
type ValidatedOffer struct {
	Offer      model.ContractOffer
	Definition *model.ContractDefinition
	Asset      *model.Asset
}

// ValidateOffer checks a consumer's offer: the id must name an existing
// definition and asset, the access policy must admit the agent, the
// selector must match the asset, the policy must equal the definition's
// contract policy and that policy must pass the negotiation scope.
func (c *CatalogService) ValidateOffer(ctx context.Context, agent model.ParticipantAgent, offer model.Policy) (*ValidatedOffer, error) {
	id, err := model.ParseContractOfferID(offer.ID)
	if err != nil {
		return nil, errors.NewValidationError("offer.@id", err.Error(), offer.ID)
	}
	if offer.Target != "" && offer.Target != id.AssetID {
		return nil, errors.NewValidationError("offer.target", fmt.Sprintf("offer is for asset %s, not %s", id.AssetID, offer.Target), offer.Target)
	}
	def, err := c.deps.Store.ContractDefinitions().FindByID(ctx, id.DefinitionID)
	if err != nil {
		return nil, err
	}
	if !c.admits(ctx, *def, agent) {
		return nil, errors.NewPolicyViolationError(policy.ScopeCatalog, []string{"access policy " + def.AccessPolicyID + " denies " + agent.ID})
	}
	asset, err := c.deps.Store.Assets().FindByID(ctx, id.AssetID)
	if err != nil {
		return nil, err
	}
	if !def.Selects(*asset) {
		return nil, errors.NewValidationError("offer.@id", fmt.Sprintf("contract definition %s does not cover asset %s", def.ID, asset.ID), nil)
	}
	contract, err := c.deps.Store.PolicyDefinitions().FindByID(ctx, def.ContractPolicyID)
	if err != nil {
		return nil, err
	}
	if !contract.Policy.SameRules(offer) {
		return nil, errors.NewValidationError("offer", "offer policy differs from the contract policy", nil)
	}
	pctx := policy.NewContext(agent)
	pctx.Now = c.deps.Clock
	if err := c.deps.Policy.Evaluate(policy.ScopeNegotiation, contract.Policy, pctx); err != nil {
		return nil, err
	}

	validated := offer.WithTarget(asset.ID)
	validated.Assigner = c.settings.ParticipantID
	return &ValidatedOffer{
		Offer:      model.ContractOffer{ID: offer.ID, AssetID: asset.ID, ProviderID: c.settings.ParticipantID, Policy: validated},
		Definition: def,
		Asset:      asset,
	}, nil
}
