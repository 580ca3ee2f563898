package runtime

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/DeBrosOfficial/dataspace/pkg/config"
	"github.com/DeBrosOfficial/dataspace/pkg/controlplane"
	"github.com/DeBrosOfficial/dataspace/pkg/errors"
	"github.com/DeBrosOfficial/dataspace/pkg/logging"
	"github.com/DeBrosOfficial/dataspace/pkg/model"
)

// seedAsset converts a configured asset.
func seedAsset(s config.AssetSeed) *model.Asset {
	addr := model.DataAddress{}
	for k, v := range s.DataAddress {
		addr[k] = v
	}
	return &model.Asset{ID: s.ID, Properties: s.Properties, DataAddress: addr}
}

// seedPolicy decodes the ODRL document the way the management API would.
func seedPolicy(s config.PolicySeed) (*model.PolicyDefinition, error) {
	raw, err := json.Marshal(s.Policy)
	if err != nil {
		return nil, fmt.Errorf("policy %s: %w", s.ID, err)
	}
	def := &model.PolicyDefinition{ID: s.ID}
	if err := json.Unmarshal(raw, &def.Policy); err != nil {
		return nil, fmt.Errorf("policy %s: %w", s.ID, err)
	}
	return def, nil
}

func seedDefinition(s config.ContractDefinitionSeed) *model.ContractDefinition {
	d := &model.ContractDefinition{
		ID:               s.ID,
		AccessPolicyID:   s.AccessPolicyID,
		ContractPolicyID: s.ContractPolicyID,
	}
	for _, c := range s.AssetsSelector {
		d.AssetsSelector = append(d.AssetsSelector, model.Criterion{
			OperandLeft:  c.OperandLeft,
			Operator:     c.Operator,
			OperandRight: c.OperandRight,
		})
	}
	return d
}

// Seed creates the configured assets, policies and contract definitions.
// Entities that already exist are left untouched, so a persistent store can
// be restarted with the same config.
func Seed(ctx context.Context, mgmt *controlplane.ManagementService, seed config.SeedConfig, logger *logging.ColoredLogger) error {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	created := 0
	done := func(kind, id string, err error) error {
		switch {
		case err == nil:
			created++
			return nil
		case errors.GetErrorCode(err) == errors.CodeConflict:
			logger.ComponentDebug(logging.ComponentGeneral, "Seed entity exists",
				zap.String("kind", kind), zap.String("id", id))
			return nil
		default:
			return fmt.Errorf("seed %s %s: %w", kind, id, err)
		}
	}

	for _, a := range seed.Assets {
		if err := done("asset", a.ID, mgmt.CreateAsset(ctx, seedAsset(a))); err != nil {
			return err
		}
	}
	for _, p := range seed.Policies {
		def, err := seedPolicy(p)
		if err != nil {
			return err
		}
		if err := done("policy", p.ID, mgmt.CreatePolicy(ctx, def)); err != nil {
			return err
		}
	}
	for _, d := range seed.ContractDefinitions {
		if err := done("contract definition", d.ID, mgmt.CreateContractDefinition(ctx, seedDefinition(d))); err != nil {
			return err
		}
	}
	if created > 0 {
		logger.ComponentInfo(logging.ComponentGeneral, "Seeded entities", zap.Int("created", created))
	}
	return nil
}
