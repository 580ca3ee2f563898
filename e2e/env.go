//go:build e2e

package e2e

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/DeBrosOfficial/dataspace/pkg/client"
	"github.com/DeBrosOfficial/dataspace/pkg/config"
	"github.com/DeBrosOfficial/dataspace/pkg/logging"
	"github.com/DeBrosOfficial/dataspace/pkg/model"
)

// ConnectorEndpoint addresses one running connector.
type ConnectorEndpoint struct {
	ManagementURL string `yaml:"management_url"`
	ProtocolURL   string `yaml:"protocol_url"`
	APIKey        string `yaml:"api_key"`
}

// E2EConfig describes the deployment the suite runs against: a provider and
// a consumer connector plus an optional federated catalog.
type E2EConfig struct {
	Provider ConnectorEndpoint `yaml:"provider"`
	Consumer ConnectorEndpoint `yaml:"consumer"`

	// CatalogURL is the federated catalog base URL, e.g.
	// "http://localhost:19191/api/catalog". Catalog tests skip when empty.
	CatalogURL string `yaml:"catalog_url"`

	// SourceHost is the host the provider uses to reach servers started by
	// the tests. Defaults to 127.0.0.1.
	SourceHost string `yaml:"source_host"`

	WaitTimeout time.Duration `yaml:"wait_timeout"`
}

var (
	cfgOnce   sync.Once
	cfgCached *E2EConfig
	cfgErr    error
)

func defaultE2EConfig() *E2EConfig {
	return &E2EConfig{
		Provider: ConnectorEndpoint{
			ManagementURL: "http://localhost:19193/management",
			ProtocolURL:   "http://localhost:19194/protocol",
			APIKey:        "password",
		},
		Consumer: ConnectorEndpoint{
			ManagementURL: "http://localhost:29193/management",
			ProtocolURL:   "http://localhost:29194/protocol",
			APIKey:        "password",
		},
		SourceHost:  "127.0.0.1",
		WaitTimeout: 60 * time.Second,
	}
}

// loadE2EConfig reads DS_E2E_CONFIG, or e2e.yaml from the working directory
// or ~/.dataspace. A missing file leaves the local defaults in place.
func loadE2EConfig() (*E2EConfig, error) {
	cfg := defaultE2EConfig()

	path := os.Getenv("DS_E2E_CONFIG")
	if path == "" {
		p, err := config.DefaultPath("e2e.yaml")
		if err != nil {
			return nil, err
		}
		path = p
	}
	data, err := os.ReadFile(filepath.Clean(path))
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read e2e config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse e2e config: %w", err)
		}
	}

	if v := os.Getenv("DS_E2E_PROVIDER_URL"); v != "" {
		cfg.Provider.ManagementURL = v
	}
	if v := os.Getenv("DS_E2E_PROVIDER_PROTOCOL_URL"); v != "" {
		cfg.Provider.ProtocolURL = v
	}
	if v := os.Getenv("DS_E2E_CONSUMER_URL"); v != "" {
		cfg.Consumer.ManagementURL = v
	}
	if v := os.Getenv("DS_E2E_CATALOG_URL"); v != "" {
		cfg.CatalogURL = v
	}
	if v := os.Getenv("DS_API_KEY"); v != "" {
		cfg.Provider.APIKey = v
		cfg.Consumer.APIKey = v
	}
	return cfg, nil
}

// GetE2EConfig returns the suite config, failing the test if it cannot be
// loaded.
func GetE2EConfig(t *testing.T) *E2EConfig {
	t.Helper()
	cfgOnce.Do(func() { cfgCached, cfgErr = loadE2EConfig() })
	if cfgErr != nil {
		t.Fatalf("e2e config: %v", cfgErr)
	}
	return cfgCached
}

func newClient(t *testing.T, ep ConnectorEndpoint, catalogURL string) *client.Client {
	t.Helper()
	c, err := client.NewClient(&client.ClientConfig{
		ManagementURL: ep.ManagementURL,
		CatalogURL:    catalogURL,
		APIKey:        ep.APIKey,
		Timeout:       10 * time.Second,
		PollInterval:  250 * time.Millisecond,
	}, logging.NewNopLogger())
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	return c
}

// ProviderClient returns a client for the provider's management API.
func ProviderClient(t *testing.T) *client.Client {
	cfg := GetE2EConfig(t)
	return newClient(t, cfg.Provider, "")
}

// ConsumerClient returns a client for the consumer's management API.
func ConsumerClient(t *testing.T) *client.Client {
	cfg := GetE2EConfig(t)
	return newClient(t, cfg.Consumer, cfg.CatalogURL)
}

// RequireConnectors skips the test unless both connectors answer on their
// management API.
func RequireConnectors(t *testing.T) (provider, consumer *client.Client) {
	t.Helper()
	provider, consumer = ProviderClient(t), ConsumerClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for name, c := range map[string]*client.Client{"provider": provider, "consumer": consumer} {
		if _, err := c.QueryAssets(ctx, model.QuerySpec{Limit: 1}); err != nil && client.StatusOf(err) == 0 {
			t.Skipf("%s connector not reachable at %s: %v", name, c.Config().ManagementURL, err)
		}
	}
	return provider, consumer
}
