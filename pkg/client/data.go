package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/DeBrosOfficial/dataspace/pkg/catalog"
	"github.com/DeBrosOfficial/dataspace/pkg/model"
)

// QueryFederatedCatalog queries the crawled catalogs of a federated catalog
// node.
func (c *Client) QueryFederatedCatalog(ctx context.Context, q model.QuerySpec) ([]model.Catalog, error) {
	if strings.TrimSpace(c.config.CatalogURL) == "" {
		return nil, ErrNoCatalog
	}
	var out []model.Catalog
	target := strings.TrimSuffix(c.config.CatalogURL, "/") + catalog.PathQuery
	err := c.doURL(ctx, "query federated catalog", http.MethodPost, target, false, q, &out)
	return out, err
}

// FetchData pulls data through the provider's public API using an endpoint
// data reference. path and rawQuery are appended to the EDR endpoint.
func (c *Client) FetchData(ctx context.Context, edr model.DataAddress, path, rawQuery string) ([]byte, error) {
	const op = "fetch data"
	if edr.Type() != model.TypeEDR {
		return nil, NewClientError(op, 0, ErrNotEDR)
	}
	endpoint := strings.TrimSuffix(edr.GetString(model.KeyEndpoint), "/")
	if endpoint == "" {
		return nil, NewClientError(op, 0, fmt.Errorf("%w: endpoint missing", ErrNotEDR))
	}
	target := endpoint
	if p := strings.TrimPrefix(path, "/"); p != "" {
		target += "/" + p
	}
	if rawQuery != "" {
		target += "?" + rawQuery
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, NewClientError(op, 0, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Authorization", edr.GetString(model.KeyAuthorization))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, NewClientError(op, 0, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, decodeError(op, resp.StatusCode, raw)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewClientError(op, resp.StatusCode, fmt.Errorf("failed to read body: %w", err))
	}
	return data, nil
}

// TokenExpiry reads the expiry of an EDR access token without verifying it.
// The zero time is returned for tokens without an exp claim.
func TokenExpiry(token string) (time.Time, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("failed to parse token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, nil
	}
	return claims.ExpiresAt.Time, nil
}
