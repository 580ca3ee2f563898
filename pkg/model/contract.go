package model

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ContractDefinition links an access policy and a contract policy to the
// assets its selector matches.
type ContractDefinition struct {
	ID               string      `json:"@id"`
	Type             string      `json:"@type,omitempty"`
	AccessPolicyID   string      `json:"accessPolicyId"`
	ContractPolicyID string      `json:"contractPolicyId"`
	AssetsSelector   []Criterion `json:"assetsSelector"`
	CreatedAt        int64       `json:"createdAt"`
}

func (d *ContractDefinition) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID               string          `json:"@id"`
		Type             string          `json:"@type"`
		AccessPolicyID   string          `json:"accessPolicyId"`
		ContractPolicyID string          `json:"contractPolicyId"`
		AssetsSelector   json.RawMessage `json:"assetsSelector"`
		CreatedAt        int64           `json:"createdAt"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	sel, err := oneOrMany[Criterion](raw.AssetsSelector)
	if err != nil {
		return fmt.Errorf("assetsSelector: %w", err)
	}
	*d = ContractDefinition{
		ID:               raw.ID,
		Type:             raw.Type,
		AccessPolicyID:   raw.AccessPolicyID,
		ContractPolicyID: raw.ContractPolicyID,
		AssetsSelector:   sel,
		CreatedAt:        raw.CreatedAt,
	}
	return nil
}

// Validate checks required fields.
func (d ContractDefinition) Validate() error {
	switch {
	case strings.TrimSpace(d.ID) == "":
		return fmt.Errorf("@id is required")
	case d.AccessPolicyID == "":
		return fmt.Errorf("accessPolicyId is required")
	case d.ContractPolicyID == "":
		return fmt.Errorf("contractPolicyId is required")
	}
	for _, c := range d.AssetsSelector {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("assetsSelector: %w", err)
		}
	}
	return nil
}

// Selects reports whether the definition covers the asset. An empty
// selector covers every asset.
func (d ContractDefinition) Selects(a Asset) bool {
	return MatchesAll(a.SelectorDocument(), d.AssetsSelector)
}

// ContractOfferID packs the definition and asset an offer was derived from
// into the offer id: base64(definition):base64(asset):base64(nonce).
type ContractOfferID struct {
	DefinitionID string
	AssetID      string
	Nonce        string
}

// NewContractOfferID creates an id with a fresh nonce.
func NewContractOfferID(definitionID, assetID string) ContractOfferID {
	return ContractOfferID{DefinitionID: definitionID, AssetID: assetID, Nonce: uuid.NewString()}
}

func (id ContractOfferID) String() string {
	enc := base64.StdEncoding
	return enc.EncodeToString([]byte(id.DefinitionID)) + ":" +
		enc.EncodeToString([]byte(id.AssetID)) + ":" +
		enc.EncodeToString([]byte(id.Nonce))
}

// ParseContractOfferID decodes an offer or agreement id.
func ParseContractOfferID(s string) (ContractOfferID, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return ContractOfferID{}, fmt.Errorf("offer id %q must have three parts", s)
	}
	dec := make([]string, 3)
	for i, p := range parts {
		b, err := base64.StdEncoding.DecodeString(p)
		if err != nil {
			return ContractOfferID{}, fmt.Errorf("offer id %q: part %d: %w", s, i, err)
		}
		dec[i] = string(b)
	}
	return ContractOfferID{DefinitionID: dec[0], AssetID: dec[1], Nonce: dec[2]}, nil
}

// ContractOffer is a policy offered for an asset.
type ContractOffer struct {
	ID         string `json:"@id"`
	AssetID    string `json:"assetId"`
	ProviderID string `json:"providerId,omitempty"`
	Policy     Policy `json:"policy"`
}

// OfferFromPolicy builds an offer from the policy a consumer sends; the
// policy @id is the offer id and its target is the asset.
func OfferFromPolicy(p Policy) ContractOffer {
	return ContractOffer{ID: p.ID, AssetID: p.Target, ProviderID: p.Assigner, Policy: p}
}

// ContractAgreement is the result of a finalized negotiation.
type ContractAgreement struct {
	ID          string `json:"@id"`
	Type        string `json:"@type,omitempty"`
	ProviderID  string `json:"providerId"`
	ConsumerID  string `json:"consumerId"`
	AssetID     string `json:"assetId"`
	Policy      Policy `json:"policy"`
	SigningDate int64  `json:"contractSigningDate"`
}
