package client

import (
	"context"
	"net/http"

	"github.com/DeBrosOfficial/dataspace/pkg/httputil"
	"github.com/DeBrosOfficial/dataspace/pkg/model"
)

const (
	pathAssets              = "/v3/assets"
	pathPolicies            = "/v2/policydefinitions"
	pathContractDefinitions = "/v2/contractdefinitions"
	pathAgreements          = "/v2/contractagreements"
	pathDataPlanes          = "/v2/dataplanes"
)

// IDResponse is the answer to every create call.
type IDResponse = httputil.IDResponse

// CreateAsset registers an asset and returns its id.
func (c *Client) CreateAsset(ctx context.Context, asset model.Asset) (*IDResponse, error) {
	var out IDResponse
	if err := c.do(ctx, "create asset", http.MethodPost, pathAssets, asset, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetAsset fetches one asset.
func (c *Client) GetAsset(ctx context.Context, id string) (*model.Asset, error) {
	var out model.Asset
	if err := c.do(ctx, "get asset", http.MethodGet, pathAssets+"/"+escape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateAsset replaces an asset.
func (c *Client) UpdateAsset(ctx context.Context, asset model.Asset) error {
	return c.do(ctx, "update asset", http.MethodPut, pathAssets+"/"+escape(asset.ID), asset, nil)
}

// DeleteAsset removes an asset that no contract references.
func (c *Client) DeleteAsset(ctx context.Context, id string) error {
	return c.do(ctx, "delete asset", http.MethodDelete, pathAssets+"/"+escape(id), nil, nil)
}

// QueryAssets lists assets.
func (c *Client) QueryAssets(ctx context.Context, q model.QuerySpec) ([]model.Asset, error) {
	var out []model.Asset
	err := c.do(ctx, "query assets", http.MethodPost, pathAssets+"/request", q, &out)
	return out, err
}

// CreatePolicy registers a policy definition.
func (c *Client) CreatePolicy(ctx context.Context, def model.PolicyDefinition) (*IDResponse, error) {
	var out IDResponse
	if err := c.do(ctx, "create policy", http.MethodPost, pathPolicies, def, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetPolicy(ctx context.Context, id string) (*model.PolicyDefinition, error) {
	var out model.PolicyDefinition
	if err := c.do(ctx, "get policy", http.MethodGet, pathPolicies+"/"+escape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeletePolicy(ctx context.Context, id string) error {
	return c.do(ctx, "delete policy", http.MethodDelete, pathPolicies+"/"+escape(id), nil, nil)
}

func (c *Client) QueryPolicies(ctx context.Context, q model.QuerySpec) ([]model.PolicyDefinition, error) {
	var out []model.PolicyDefinition
	err := c.do(ctx, "query policies", http.MethodPost, pathPolicies+"/request", q, &out)
	return out, err
}

// CreateContractDefinition offers the selected assets under the given
// access and contract policies.
func (c *Client) CreateContractDefinition(ctx context.Context, def model.ContractDefinition) (*IDResponse, error) {
	var out IDResponse
	if err := c.do(ctx, "create contract definition", http.MethodPost, pathContractDefinitions, def, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetContractDefinition(ctx context.Context, id string) (*model.ContractDefinition, error) {
	var out model.ContractDefinition
	if err := c.do(ctx, "get contract definition", http.MethodGet, pathContractDefinitions+"/"+escape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteContractDefinition(ctx context.Context, id string) error {
	return c.do(ctx, "delete contract definition", http.MethodDelete, pathContractDefinitions+"/"+escape(id), nil, nil)
}

func (c *Client) QueryContractDefinitions(ctx context.Context, q model.QuerySpec) ([]model.ContractDefinition, error) {
	var out []model.ContractDefinition
	err := c.do(ctx, "query contract definitions", http.MethodPost, pathContractDefinitions+"/request", q, &out)
	return out, err
}

// GetAgreement fetches a contract agreement.
func (c *Client) GetAgreement(ctx context.Context, id string) (*model.ContractAgreement, error) {
	var out model.ContractAgreement
	if err := c.do(ctx, "get agreement", http.MethodGet, pathAgreements+"/"+escape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) QueryAgreements(ctx context.Context, q model.QuerySpec) ([]model.ContractAgreement, error) {
	var out []model.ContractAgreement
	err := c.do(ctx, "query agreements", http.MethodPost, pathAgreements+"/request", q, &out)
	return out, err
}

// RegisterDataPlane adds a data plane to the connector's selector.
func (c *Client) RegisterDataPlane(ctx context.Context, inst model.DataPlaneInstance) error {
	return c.do(ctx, "register data plane", http.MethodPost, pathDataPlanes, inst, nil)
}

// ListDataPlanes returns the registered data planes.
func (c *Client) ListDataPlanes(ctx context.Context) ([]model.DataPlaneInstance, error) {
	var out []model.DataPlaneInstance
	err := c.do(ctx, "list data planes", http.MethodGet, pathDataPlanes, nil, &out)
	return out, err
}

func (c *Client) UnregisterDataPlane(ctx context.Context, id string) error {
	return c.do(ctx, "unregister data plane", http.MethodDelete, pathDataPlanes+"/"+escape(id), nil, nil)
}
