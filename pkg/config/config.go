package config

import "time"

// Config is the configuration of a connector runtime. Sections that are not
// enabled are ignored when the runtime is assembled.
type Config struct {
	Participant      ParticipantConfig      `yaml:"participant"`
	Web              WebConfig              `yaml:"web"`
	Auth             AuthConfig             `yaml:"auth"`
	Store            StoreConfig            `yaml:"store"`
	ControlPlane     ControlPlaneConfig     `yaml:"control_plane"`
	DataPlane        DataPlaneConfig        `yaml:"data_plane"`
	Selector         SelectorConfig         `yaml:"selector"`
	Policy           PolicyConfig           `yaml:"policy"`
	Vault            VaultConfig            `yaml:"vault"`
	FederatedCatalog FederatedCatalogConfig `yaml:"federated_catalog"`
	Seed             SeedConfig             `yaml:"seed"`
	Logging          LoggingConfig          `yaml:"logging"`
}

// ParticipantConfig identifies this connector in the dataspace.
type ParticipantConfig struct {
	ID     string            `yaml:"id"`
	Region string            `yaml:"region"` // sent as the "region" claim
	Claims map[string]string `yaml:"claims"` // extra claims for the mock identity
}

// ListenerConfig is one HTTP context. Contexts sharing a port share a server.
type ListenerConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// WebConfig contains the HTTP listeners.
type WebConfig struct {
	Host       string         `yaml:"host"`
	Default    ListenerConfig `yaml:"default"` // health endpoints
	Management ListenerConfig `yaml:"management"`
	Protocol   ListenerConfig `yaml:"protocol"`
	Control    ListenerConfig `yaml:"control"`
	Public     ListenerConfig `yaml:"public"`
	Catalog    ListenerConfig `yaml:"catalog"` // federated catalog query API

	// ProtocolAddress is the externally reachable DSP callback URL, e.g.
	// "http://localhost:19194/protocol". Derived from host and port if empty.
	ProtocolAddress string `yaml:"protocol_address"`
	// ControlAddress is the externally reachable control API URL.
	ControlAddress string `yaml:"control_address"`

	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// AuthConfig protects the management API.
type AuthConfig struct {
	APIKey     string `yaml:"api_key"`      // plain key, compared in constant time
	APIKeyHash string `yaml:"api_key_hash"` // bcrypt hash, preferred over api_key
	RateLimit  int    `yaml:"rate_limit"`   // requests per minute per client, 0 disables
	RateBurst  int    `yaml:"rate_burst"`
}

// StoreConfig selects the SQL backend.
type StoreConfig struct {
	Driver        string        `yaml:"driver"` // sqlite3 or rqlite
	DSN           string        `yaml:"dsn"`
	LeaseDuration time.Duration `yaml:"lease_duration"`
	MaxOpenConns  int           `yaml:"max_open_conns"`
}

// ControlPlaneConfig tunes the negotiation and transfer state machines.
type ControlPlaneConfig struct {
	Tick        time.Duration  `yaml:"tick"`
	BatchSize   int            `yaml:"batch_size"`
	RetryLimit  int            `yaml:"retry_limit"`
	SendTimeout time.Duration  `yaml:"send_timeout"`
	Watchdog    WatchdogConfig `yaml:"watchdog"`
	// ProvisionMaxRetries bounds attempts of the local resource provisioner.
	ProvisionMaxRetries int `yaml:"provision_max_retries"`
	// MarkerFile enables writing marker.txt next to completed File transfers.
	MarkerFile bool `yaml:"marker_file"`
}

// WatchdogConfig terminates transfers that stay STARTED for too long.
type WatchdogConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	MaxAge   time.Duration `yaml:"max_age"`
}

// DataPlaneConfig configures the embedded data plane.
type DataPlaneConfig struct {
	Enabled              bool          `yaml:"enabled"`
	ID                   string        `yaml:"id"`
	PublicEndpoint       string        `yaml:"public_endpoint"`
	SignalingURL         string        `yaml:"signaling_url"`
	AllowedSourceTypes   []string      `yaml:"allowed_source_types"`
	AllowedTransferTypes []string      `yaml:"allowed_transfer_types"`
	RegisterWith         string        `yaml:"register_with"` // remote control API base URL
	Workers              int           `yaml:"workers"`
	PartSize             int           `yaml:"part_size"`
	MaxPublicConns       int           `yaml:"max_public_connections"`
	TokenTTL             time.Duration `yaml:"token_ttl"`
	TokenKeyAlias        string        `yaml:"token_key_alias"`
}

// DataPlaneEntry is a remote data plane registered at boot.
type DataPlaneEntry struct {
	ID                   string   `yaml:"id"`
	URL                  string   `yaml:"url"`
	AllowedSourceTypes   []string `yaml:"allowed_source_types"`
	AllowedTransferTypes []string `yaml:"allowed_transfer_types"`
}

// SelectorConfig configures data plane selection.
type SelectorConfig struct {
	Strategy            string           `yaml:"strategy"`
	HealthCheckInterval time.Duration    `yaml:"health_check_interval"`
	Instances           []DataPlaneEntry `yaml:"instances"`
}

// RuleBinding binds a rule key (action or left operand) to a policy scope.
type RuleBinding struct {
	Key   string `yaml:"key"`
	Scope string `yaml:"scope"`
}

// PolicyConfig configures the policy engine.
type PolicyConfig struct {
	SampleFunctions bool          `yaml:"sample_functions"`
	Bindings        []RuleBinding `yaml:"bindings"`
}

// VaultConfig seeds the in-memory vault.
type VaultConfig struct {
	Files          map[string]string `yaml:"files"`           // secret key -> file path
	PropertiesFile string            `yaml:"properties_file"` // key=value lines
	Secrets        map[string]string `yaml:"secrets"`
}

// NodeConfig is a catalog node known to a fixed directory.
type NodeConfig struct {
	Name               string   `yaml:"name"`
	ID                 string   `yaml:"id"`
	URL                string   `yaml:"url"`
	SupportedProtocols []string `yaml:"supported_protocols"`
}

// DirectoryConfig selects the node resolver of the crawler.
type DirectoryConfig struct {
	Type  string       `yaml:"type"` // fixed or file
	Nodes []NodeConfig `yaml:"nodes"`
	File  string       `yaml:"file"`
}

// CacheConfig selects the federated catalog cache backend.
type CacheConfig struct {
	Backend      string        `yaml:"backend"` // memory or olric
	OlricServers []string      `yaml:"olric_servers"`
	DMap         string        `yaml:"dmap"`
	Timeout      time.Duration `yaml:"timeout"`
}

// FederatedCatalogConfig configures the crawler and its cache.
type FederatedCatalogConfig struct {
	Enabled         bool            `yaml:"enabled"`
	Directory       DirectoryConfig `yaml:"directory"`
	ExecutionDelay  time.Duration   `yaml:"execution_delay"`
	ExecutionPeriod time.Duration   `yaml:"execution_period"`
	Workers         int             `yaml:"workers"`
	Cache           CacheConfig     `yaml:"cache"`
	// Retention drops catalogs not refreshed for this long; zero means
	// five execution periods.
	Retention time.Duration `yaml:"retention"`
}

// AssetSeed is an asset created at boot.
type AssetSeed struct {
	ID          string         `yaml:"id"`
	Properties  map[string]any `yaml:"properties"`
	DataAddress map[string]any `yaml:"data_address"`
}

// PolicySeed is a policy definition created at boot. Policy holds the ODRL
// document as it would be posted to the management API.
type PolicySeed struct {
	ID     string         `yaml:"id"`
	Policy map[string]any `yaml:"policy"`
}

// CriterionSeed is one asset selector criterion.
type CriterionSeed struct {
	OperandLeft  string `yaml:"operand_left"`
	Operator     string `yaml:"operator"`
	OperandRight any    `yaml:"operand_right"`
}

// ContractDefinitionSeed is a contract definition created at boot.
type ContractDefinitionSeed struct {
	ID               string          `yaml:"id"`
	AccessPolicyID   string          `yaml:"access_policy_id"`
	ContractPolicyID string          `yaml:"contract_policy_id"`
	AssetsSelector   []CriterionSeed `yaml:"assets_selector"`
}

// SeedConfig lists entities created when the runtime starts.
type SeedConfig struct {
	Assets              []AssetSeed              `yaml:"assets"`
	Policies            []PolicySeed             `yaml:"policies"`
	ContractDefinitions []ContractDefinitionSeed `yaml:"contract_definitions"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level"`       // debug, info, warn, error
	Format     string `yaml:"format"`      // json, console
	OutputFile string `yaml:"output_file"` // Empty for stdout
}

// DefaultConfig returns a default configuration matching the provider
// sample ports.
func DefaultConfig() *Config {
	return &Config{
		Participant: ParticipantConfig{
			ID:     "provider",
			Region: "eu",
		},
		Web: WebConfig{
			Host:         "localhost",
			Default:      ListenerConfig{Port: 19191, Path: "/api"},
			Management:   ListenerConfig{Port: 19193, Path: "/management"},
			Protocol:     ListenerConfig{Port: 19194, Path: "/protocol"},
			Control:      ListenerConfig{Port: 19192, Path: "/control"},
			Public:       ListenerConfig{Port: 19291, Path: "/public"},
			Catalog:      ListenerConfig{Port: 19191, Path: "/api/catalog"},
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Auth: AuthConfig{
			APIKey:    "password",
			RateLimit: 600,
			RateBurst: 100,
		},
		Store: StoreConfig{
			Driver:        "sqlite3",
			DSN:           "file:connector.db?_busy_timeout=5000&_journal_mode=WAL",
			LeaseDuration: 60 * time.Second,
			MaxOpenConns:  1,
		},
		ControlPlane: ControlPlaneConfig{
			Tick:                500 * time.Millisecond,
			BatchSize:           20,
			RetryLimit:          7,
			SendTimeout:         30 * time.Second,
			ProvisionMaxRetries: 3,
			MarkerFile:          true,
			Watchdog: WatchdogConfig{
				Enabled:  false,
				Interval: 5 * time.Second,
				MaxAge:   10 * time.Second,
			},
		},
		DataPlane: DataPlaneConfig{
			Enabled:              true,
			ID:                   "embedded-dataplane",
			AllowedSourceTypes:   []string{"HttpData", "File", "HttpStreaming", "AmazonS3"},
			AllowedTransferTypes: []string{"HttpData-PULL", "HttpData-PUSH", "File-PUSH", "AmazonS3-PUSH"},
			Workers:              4,
			PartSize:             1 << 20,
			MaxPublicConns:       256,
			TokenTTL:             10 * time.Minute,
			TokenKeyAlias:        "private-key",
		},
		Selector: SelectorConfig{
			Strategy:            "random",
			HealthCheckInterval: 30 * time.Second,
		},
		Policy: PolicyConfig{
			SampleFunctions: true,
		},
		FederatedCatalog: FederatedCatalogConfig{
			Enabled:         false,
			Directory:       DirectoryConfig{Type: "fixed"},
			ExecutionDelay:  5 * time.Second,
			ExecutionPeriod: time.Minute,
			Workers:         4,
			Cache: CacheConfig{
				Backend: "memory",
				DMap:    "federated-catalog",
				Timeout: 10 * time.Second,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
