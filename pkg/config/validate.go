package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ValidationError represents a single validation error with context.
type ValidationError struct {
	Path    string // e.g., "federated_catalog.directory.nodes[0].url"
	Message string // e.g., "must be an absolute http(s) URL"
	Hint    string // e.g., "expected http://host:port/protocol"
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s; %s", e.Path, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validate performs comprehensive validation of the entire config.
// It aggregates all errors and returns them, allowing the caller to print all issues at once.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateParticipant()...)
	errs = append(errs, c.validateWeb()...)
	errs = append(errs, c.validateAuth()...)
	errs = append(errs, c.validateStore()...)
	errs = append(errs, c.validateControlPlane()...)
	errs = append(errs, c.validateDataPlane()...)
	errs = append(errs, c.validateSelector()...)
	errs = append(errs, c.validatePolicy()...)
	errs = append(errs, c.validateFederatedCatalog()...)
	errs = append(errs, c.validateSeed()...)
	errs = append(errs, c.validateLogging()...)

	return errs
}

func (c *Config) validateParticipant() []error {
	if strings.TrimSpace(c.Participant.ID) == "" {
		return []error{ValidationError{
			Path:    "participant.id",
			Message: "must not be empty",
			Hint:    "set it in the file or through " + EnvParticipantID,
		}}
	}
	return nil
}

func (c *Config) validateWeb() []error {
	var errs []error
	listeners := []struct {
		name string
		l    ListenerConfig
	}{
		{"default", c.Web.Default},
		{"management", c.Web.Management},
		{"protocol", c.Web.Protocol},
		{"control", c.Web.Control},
		{"public", c.Web.Public},
		{"catalog", c.Web.Catalog},
	}

	seen := make(map[string]string)
	for _, entry := range listeners {
		path := "web." + entry.name
		if err := validatePort(entry.l.Port); err != nil {
			errs = append(errs, ValidationError{Path: path + ".port", Message: err.Error()})
		}
		if !strings.HasPrefix(entry.l.Path, "/") {
			errs = append(errs, ValidationError{
				Path:    path + ".path",
				Message: fmt.Sprintf("must start with '/'; got %q", entry.l.Path),
			})
			continue
		}
		// The catalog API is mounted below the default context on purpose.
		if entry.name == "catalog" {
			continue
		}
		key := strconv.Itoa(entry.l.Port) + entry.l.Path
		if other, ok := seen[key]; ok {
			errs = append(errs, ValidationError{
				Path:    path,
				Message: fmt.Sprintf("same port and path as web.%s", other),
			})
		}
		seen[key] = entry.name
	}

	for path, addr := range map[string]string{
		"web.protocol_address": c.Web.ProtocolAddress,
		"web.control_address":  c.Web.ControlAddress,
	} {
		if addr == "" {
			continue
		}
		if err := validateHTTPURL(addr); err != nil {
			errs = append(errs, ValidationError{Path: path, Message: err.Error()})
		}
	}
	if c.Web.ReadTimeout < 0 || c.Web.WriteTimeout < 0 {
		errs = append(errs, ValidationError{Path: "web", Message: "timeouts must not be negative"})
	}
	return errs
}

func (c *Config) validateAuth() []error {
	var errs []error
	if c.Auth.APIKeyHash != "" && !strings.HasPrefix(c.Auth.APIKeyHash, "$2") {
		errs = append(errs, ValidationError{
			Path:    "auth.api_key_hash",
			Message: "is not a bcrypt hash",
			Hint:    "generate one with: dsctl hash-key <key>",
		})
	}
	if c.Auth.RateLimit < 0 {
		errs = append(errs, ValidationError{
			Path:    "auth.rate_limit",
			Message: fmt.Sprintf("must be >= 0; got %d", c.Auth.RateLimit),
		})
	}
	if c.Auth.RateLimit > 0 && c.Auth.RateBurst < 1 {
		errs = append(errs, ValidationError{
			Path:    "auth.rate_burst",
			Message: fmt.Sprintf("must be >= 1 when rate_limit is set; got %d", c.Auth.RateBurst),
		})
	}
	return errs
}

func (c *Config) validateStore() []error {
	var errs []error
	switch c.Store.Driver {
	case "sqlite3", "rqlite":
	default:
		errs = append(errs, ValidationError{
			Path:    "store.driver",
			Message: fmt.Sprintf("invalid value %q", c.Store.Driver),
			Hint:    "allowed values: sqlite3, rqlite",
		})
	}
	if c.Store.DSN == "" {
		errs = append(errs, ValidationError{Path: "store.dsn", Message: "must not be empty"})
	} else if c.Store.Driver == "rqlite" {
		if err := validateHTTPURL(c.Store.DSN); err != nil {
			errs = append(errs, ValidationError{
				Path:    "store.dsn",
				Message: err.Error(),
				Hint:    "expected http://host:4001",
			})
		}
	}
	if c.Store.LeaseDuration < time.Second {
		errs = append(errs, ValidationError{
			Path:    "store.lease_duration",
			Message: fmt.Sprintf("must be >= 1s; got %v", c.Store.LeaseDuration),
		})
	}
	if c.Store.MaxOpenConns < 0 {
		errs = append(errs, ValidationError{
			Path:    "store.max_open_conns",
			Message: fmt.Sprintf("must be >= 0; got %d", c.Store.MaxOpenConns),
		})
	}
	return errs
}

func (c *Config) validateControlPlane() []error {
	var errs []error
	cp := c.ControlPlane
	if cp.Tick <= 0 {
		errs = append(errs, ValidationError{
			Path:    "control_plane.tick",
			Message: fmt.Sprintf("must be > 0; got %v", cp.Tick),
			Hint:    "recommended: 500ms",
		})
	}
	if cp.BatchSize < 1 {
		errs = append(errs, ValidationError{
			Path:    "control_plane.batch_size",
			Message: fmt.Sprintf("must be >= 1; got %d", cp.BatchSize),
		})
	}
	if cp.RetryLimit < 0 {
		errs = append(errs, ValidationError{
			Path:    "control_plane.retry_limit",
			Message: fmt.Sprintf("must be >= 0; got %d", cp.RetryLimit),
		})
	}
	if cp.SendTimeout <= 0 {
		errs = append(errs, ValidationError{
			Path:    "control_plane.send_timeout",
			Message: fmt.Sprintf("must be > 0; got %v", cp.SendTimeout),
		})
	}
	if cp.Watchdog.Enabled {
		if cp.Watchdog.Interval <= 0 {
			errs = append(errs, ValidationError{
				Path:    "control_plane.watchdog.interval",
				Message: fmt.Sprintf("must be > 0 when the watchdog is enabled; got %v", cp.Watchdog.Interval),
			})
		}
		if cp.Watchdog.MaxAge <= 0 {
			errs = append(errs, ValidationError{
				Path:    "control_plane.watchdog.max_age",
				Message: fmt.Sprintf("must be > 0 when the watchdog is enabled; got %v", cp.Watchdog.MaxAge),
			})
		}
	}
	return errs
}

func (c *Config) validateDataPlane() []error {
	dp := c.DataPlane
	var errs []error
	if dp.RegisterWith != "" {
		if err := validateHTTPURL(dp.RegisterWith); err != nil {
			errs = append(errs, ValidationError{Path: "data_plane.register_with", Message: err.Error()})
		}
	}
	if !dp.Enabled {
		return errs
	}
	if dp.ID == "" {
		errs = append(errs, ValidationError{Path: "data_plane.id", Message: "must not be empty"})
	}
	if dp.PublicEndpoint != "" {
		if err := validateHTTPURL(dp.PublicEndpoint); err != nil {
			errs = append(errs, ValidationError{Path: "data_plane.public_endpoint", Message: err.Error()})
		}
	}
	if len(dp.AllowedSourceTypes) == 0 {
		errs = append(errs, ValidationError{Path: "data_plane.allowed_source_types", Message: "must not be empty"})
	}
	for i, tt := range dp.AllowedTransferTypes {
		if err := validateTransferType(tt); err != nil {
			errs = append(errs, ValidationError{
				Path:    fmt.Sprintf("data_plane.allowed_transfer_types[%d]", i),
				Message: err.Error(),
				Hint:    "expected <type>-PUSH or <type>-PULL",
			})
		}
	}
	if dp.Workers < 1 {
		errs = append(errs, ValidationError{
			Path:    "data_plane.workers",
			Message: fmt.Sprintf("must be >= 1; got %d", dp.Workers),
		})
	}
	if dp.PartSize < 1024 {
		errs = append(errs, ValidationError{
			Path:    "data_plane.part_size",
			Message: fmt.Sprintf("must be >= 1024 bytes; got %d", dp.PartSize),
		})
	}
	if dp.MaxPublicConns < 0 {
		errs = append(errs, ValidationError{
			Path:    "data_plane.max_public_connections",
			Message: fmt.Sprintf("must be >= 0; got %d", dp.MaxPublicConns),
		})
	}
	if dp.TokenTTL < time.Second {
		errs = append(errs, ValidationError{
			Path:    "data_plane.token_ttl",
			Message: fmt.Sprintf("must be >= 1s; got %v", dp.TokenTTL),
		})
	}
	return errs
}

func (c *Config) validateSelector() []error {
	var errs []error
	switch c.Selector.Strategy {
	case "random", "round-robin", "first":
	default:
		errs = append(errs, ValidationError{
			Path:    "selector.strategy",
			Message: fmt.Sprintf("invalid value %q", c.Selector.Strategy),
			Hint:    "allowed values: random, round-robin, first",
		})
	}
	if c.Selector.HealthCheckInterval < 0 {
		errs = append(errs, ValidationError{
			Path:    "selector.health_check_interval",
			Message: "must not be negative; use 0 to disable",
		})
	}
	seen := make(map[string]bool)
	for i, inst := range c.Selector.Instances {
		path := fmt.Sprintf("selector.instances[%d]", i)
		if inst.ID == "" {
			errs = append(errs, ValidationError{Path: path + ".id", Message: "must not be empty"})
		} else if seen[inst.ID] {
			errs = append(errs, ValidationError{Path: path + ".id", Message: "duplicate data plane id"})
		}
		seen[inst.ID] = true
		if err := validateHTTPURL(inst.URL); err != nil {
			errs = append(errs, ValidationError{Path: path + ".url", Message: err.Error()})
		}
		if len(inst.AllowedSourceTypes) == 0 {
			errs = append(errs, ValidationError{Path: path + ".allowed_source_types", Message: "must not be empty"})
		}
	}
	return errs
}

var policyScopes = map[string]bool{
	"*": true, "catalog": true, "contract.negotiation": true,
	"transfer.process": true, "provision.manifest.verify": true,
}

func (c *Config) validatePolicy() []error {
	var errs []error
	for i, b := range c.Policy.Bindings {
		path := fmt.Sprintf("policy.bindings[%d]", i)
		if b.Key == "" {
			errs = append(errs, ValidationError{Path: path + ".key", Message: "must not be empty"})
		}
		if !policyScopes[b.Scope] {
			errs = append(errs, ValidationError{
				Path:    path + ".scope",
				Message: fmt.Sprintf("unknown scope %q", b.Scope),
				Hint:    "allowed values: *, catalog, contract.negotiation, transfer.process, provision.manifest.verify",
			})
		}
	}
	return errs
}

func (c *Config) validateFederatedCatalog() []error {
	fc := c.FederatedCatalog
	if !fc.Enabled {
		return nil
	}
	var errs []error
	switch fc.Directory.Type {
	case "fixed":
		for i, n := range fc.Directory.Nodes {
			path := fmt.Sprintf("federated_catalog.directory.nodes[%d]", i)
			if n.Name == "" && n.ID == "" {
				errs = append(errs, ValidationError{Path: path, Message: "needs a name or id"})
			}
			if err := validateHTTPURL(n.URL); err != nil {
				errs = append(errs, ValidationError{
					Path:    path + ".url",
					Message: err.Error(),
					Hint:    "expected the node's protocol address, e.g. http://localhost:19194/protocol",
				})
			}
		}
	case "file":
		if fc.Directory.File == "" {
			errs = append(errs, ValidationError{
				Path:    "federated_catalog.directory.file",
				Message: "must not be empty for a file directory",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Path:    "federated_catalog.directory.type",
			Message: fmt.Sprintf("invalid value %q", fc.Directory.Type),
			Hint:    "allowed values: fixed, file",
		})
	}
	if fc.ExecutionDelay < 0 {
		errs = append(errs, ValidationError{Path: "federated_catalog.execution_delay", Message: "must not be negative"})
	}
	if fc.ExecutionPeriod < time.Second {
		errs = append(errs, ValidationError{
			Path:    "federated_catalog.execution_period",
			Message: fmt.Sprintf("must be >= 1s; got %v", fc.ExecutionPeriod),
		})
	}
	if fc.Workers < 1 {
		errs = append(errs, ValidationError{
			Path:    "federated_catalog.workers",
			Message: fmt.Sprintf("must be >= 1; got %d", fc.Workers),
		})
	}
	switch fc.Cache.Backend {
	case "memory":
	case "olric":
		if len(fc.Cache.OlricServers) == 0 {
			errs = append(errs, ValidationError{
				Path:    "federated_catalog.cache.olric_servers",
				Message: "must not be empty for the olric backend",
			})
		}
		for i, s := range fc.Cache.OlricServers {
			if err := validateHostPort(s); err != nil {
				errs = append(errs, ValidationError{
					Path:    fmt.Sprintf("federated_catalog.cache.olric_servers[%d]", i),
					Message: err.Error(),
					Hint:    "expected format: host:port",
				})
			}
		}
		if fc.Cache.DMap == "" {
			errs = append(errs, ValidationError{Path: "federated_catalog.cache.dmap", Message: "must not be empty"})
		}
	default:
		errs = append(errs, ValidationError{
			Path:    "federated_catalog.cache.backend",
			Message: fmt.Sprintf("invalid value %q", fc.Cache.Backend),
			Hint:    "allowed values: memory, olric",
		})
	}
	return errs
}

func (c *Config) validateSeed() []error {
	var errs []error
	assets := make(map[string]bool)
	for i, a := range c.Seed.Assets {
		path := fmt.Sprintf("seed.assets[%d]", i)
		if a.ID == "" {
			errs = append(errs, ValidationError{Path: path + ".id", Message: "must not be empty"})
		}
		if _, ok := a.DataAddress["type"]; !ok {
			errs = append(errs, ValidationError{Path: path + ".data_address.type", Message: "must be set"})
		}
		assets[a.ID] = true
	}
	policies := make(map[string]bool)
	for i, p := range c.Seed.Policies {
		if p.ID == "" {
			errs = append(errs, ValidationError{Path: fmt.Sprintf("seed.policies[%d].id", i), Message: "must not be empty"})
		}
		policies[p.ID] = true
	}
	for i, d := range c.Seed.ContractDefinitions {
		path := fmt.Sprintf("seed.contract_definitions[%d]", i)
		if d.ID == "" {
			errs = append(errs, ValidationError{Path: path + ".id", Message: "must not be empty"})
		}
		for field, id := range map[string]string{"access_policy_id": d.AccessPolicyID, "contract_policy_id": d.ContractPolicyID} {
			if !policies[id] {
				errs = append(errs, ValidationError{
					Path:    path + "." + field,
					Message: fmt.Sprintf("references unknown seeded policy %q", id),
				})
			}
		}
	}
	return errs
}

func (c *Config) validateLogging() []error {
	var errs []error
	log := c.Logging

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[log.Level] {
		errs = append(errs, ValidationError{
			Path:    "logging.level",
			Message: fmt.Sprintf("invalid value %q", log.Level),
			Hint:    "allowed values: debug, info, warn, error",
		})
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[log.Format] {
		errs = append(errs, ValidationError{
			Path:    "logging.format",
			Message: fmt.Sprintf("invalid value %q", log.Format),
			Hint:    "allowed values: json, console",
		})
	}
	return errs
}

func validatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("must be between 1 and 65535; got %d", port)
	}
	return nil
}

func validateHostPort(hostPort string) error {
	parts := strings.Split(hostPort, ":")
	if len(parts) != 2 {
		return fmt.Errorf("expected format host:port")
	}

	host := parts[0]
	port := parts[1]

	if host == "" {
		return fmt.Errorf("host must not be empty")
	}

	portNum, err := strconv.Atoi(port)
	if err != nil || portNum < 1 || portNum > 65535 {
		return fmt.Errorf("port must be a number between 1 and 65535; got %q", port)
	}

	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %v", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("must be an absolute http(s) URL; got %q", raw)
	}
	return nil
}

func validateTransferType(tt string) error {
	idx := strings.LastIndex(tt, "-")
	if idx <= 0 {
		return fmt.Errorf("invalid transfer type %q", tt)
	}
	switch strings.ToUpper(tt[idx+1:]) {
	case "PUSH", "PULL":
		return nil
	}
	return fmt.Errorf("invalid flow in transfer type %q", tt)
}
