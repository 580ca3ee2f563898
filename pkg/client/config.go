package client

import (
	"fmt"
	"strings"
	"time"
)

// ClientConfig configures a management API client.
type ClientConfig struct {
	ManagementURL string        `json:"management_url" yaml:"management_url"` // e.g. http://localhost:19193/management
	CatalogURL    string        `json:"catalog_url" yaml:"catalog_url"`       // federated catalog listener, optional
	APIKey        string        `json:"api_key" yaml:"api_key"`
	Timeout       time.Duration `json:"timeout" yaml:"timeout"`
	PollInterval  time.Duration `json:"poll_interval" yaml:"poll_interval"` // used by the Wait* helpers
	QuietMode     bool          `json:"quiet_mode" yaml:"quiet_mode"`
}

// DefaultClientConfig returns the settings matching a connector started with
// the default config.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		ManagementURL: "http://localhost:19193/management",
		CatalogURL:    "http://localhost:19191/api/catalog",
		APIKey:        "password",
		Timeout:       30 * time.Second,
		PollInterval:  time.Second,
		QuietMode:     true,
	}
}

func (c *ClientConfig) validate() error {
	if strings.TrimSpace(c.ManagementURL) == "" {
		return fmt.Errorf("%w: management url is required", ErrInvalidConfig)
	}
	if c.Timeout < 0 || c.PollInterval < 0 {
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidConfig)
	}
	return nil
}
