package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Environment variables that override file settings.
const (
	EnvParticipantID = "DS_PARTICIPANT_ID"
	EnvRegion        = "DS_REGION"
	EnvAPIKey        = "DS_API_KEY"
	EnvStoreDriver   = "DS_STORE_DRIVER"
	EnvStoreDSN      = "DS_STORE_DSN"
	EnvLogLevel      = "DS_LOG_LEVEL"
)

// Load reads a YAML or TOML file (chosen by extension) on top of
// DefaultConfig and applies environment overrides. An empty path returns
// the defaults with overrides applied. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open config %s: %w", path, err)
		}
		defer f.Close()

		switch strings.ToLower(filepath.Ext(path)) {
		case ".toml":
			err = DecodeStrictTOML(f, cfg)
		default:
			err = DecodeStrict(f, cfg)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	return cfg, nil
}

// ApplyEnv overrides settings from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvParticipantID); ok && v != "" {
		c.Participant.ID = v
	}
	if v, ok := lookup(EnvRegion); ok && v != "" {
		c.Participant.Region = v
	}
	if v, ok := lookup(EnvAPIKey); ok {
		c.Auth.APIKey = v
	}
	if v, ok := lookup(EnvStoreDriver); ok && v != "" {
		c.Store.Driver = v
	}
	if v, ok := lookup(EnvStoreDSN); ok && v != "" {
		c.Store.DSN = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Logging.Level = v
	}
}

// ProtocolURL is the DSP address counter-parties call back on.
func (c *Config) ProtocolURL() string {
	if c.Web.ProtocolAddress != "" {
		return strings.TrimRight(c.Web.ProtocolAddress, "/")
	}
	return c.Web.listenerURL(c.Web.Protocol)
}

// ControlURL is the control API address data planes call back on.
func (c *Config) ControlURL() string {
	if c.Web.ControlAddress != "" {
		return strings.TrimRight(c.Web.ControlAddress, "/")
	}
	return c.Web.listenerURL(c.Web.Control)
}

// PublicURL is the data plane public API address placed in EDRs.
func (c *Config) PublicURL() string {
	if c.DataPlane.PublicEndpoint != "" {
		return strings.TrimRight(c.DataPlane.PublicEndpoint, "/")
	}
	return c.Web.listenerURL(c.Web.Public)
}

// SignalingURL is the base address of the embedded data plane's signaling
// API; clients append the /v1/dataflows paths.
func (c *Config) SignalingURL() string {
	if c.DataPlane.SignalingURL != "" {
		return strings.TrimRight(c.DataPlane.SignalingURL, "/")
	}
	return c.ControlURL()
}

func (w WebConfig) listenerURL(l ListenerConfig) string {
	host := w.Host
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(l.Port)) + strings.TrimRight(l.Path, "/")
}
