package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "consumer.yaml", `
participant:
  id: consumer
  region: us
web:
  protocol:
    port: 29194
    path: /protocol
control_plane:
  tick: 250ms
  watchdog:
    enabled: true
    interval: 2s
    max_age: 10s
seed:
  assets:
    - id: assetId
      properties:
        name: product description
      data_address:
        type: HttpData
        baseUrl: https://jsonplaceholder.typicode.com/users
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Participant.ID != "consumer" || cfg.Participant.Region != "us" {
		t.Errorf("participant = %+v", cfg.Participant)
	}
	if cfg.Web.Protocol.Port != 29194 {
		t.Errorf("protocol port = %d", cfg.Web.Protocol.Port)
	}
	// Unset keys keep their defaults.
	if cfg.Web.Management.Port != 19193 || cfg.Store.Driver != "sqlite3" {
		t.Errorf("defaults lost: management=%d driver=%s", cfg.Web.Management.Port, cfg.Store.Driver)
	}
	if cfg.ControlPlane.Tick != 250*time.Millisecond || cfg.ControlPlane.Watchdog.MaxAge != 10*time.Second {
		t.Errorf("durations not parsed: %+v", cfg.ControlPlane)
	}
	if len(cfg.Seed.Assets) != 1 || cfg.Seed.Assets[0].DataAddress["baseUrl"] == nil {
		t.Errorf("seed not parsed: %+v", cfg.Seed)
	}
	if got := cfg.ProtocolURL(); got != "http://localhost:29194/protocol" {
		t.Errorf("ProtocolURL() = %s", got)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "bad.yaml", "participant:\n  id: x\n  nickname: y\n")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "nickname") {
		t.Fatalf("expected unknown field error, got %v", err)
	}
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "catalog.toml", `
[participant]
id = "federated-catalog"

[federated_catalog]
enabled = true
execution_period = "30s"
workers = 2

[federated_catalog.directory]
type = "file"
file = "participants.json"

[federated_catalog.cache]
backend = "olric"
olric_servers = ["localhost:3320"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	fc := cfg.FederatedCatalog
	if !fc.Enabled || fc.ExecutionPeriod != 30*time.Second || fc.Workers != 2 {
		t.Errorf("federated catalog = %+v", fc)
	}
	if fc.Directory.Type != "file" || fc.Cache.OlricServers[0] != "localhost:3320" {
		t.Errorf("nested tables not decoded: %+v", fc)
	}
	if fc.Cache.DMap != "federated-catalog" {
		t.Errorf("default dmap lost: %q", fc.Cache.DMap)
	}

	bad := writeFile(t, "bad.toml", "[participant]\nnickname = \"y\"\n")
	if _, err := Load(bad); err == nil {
		t.Error("expected unknown key error for TOML")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvParticipantID: "consumer",
		EnvAPIKey:        "",
		EnvStoreDSN:      "file:consumer.db",
		EnvLogLevel:      "debug",
	}
	cfg := DefaultConfig()
	cfg.ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	if cfg.Participant.ID != "consumer" || cfg.Store.DSN != "file:consumer.db" || cfg.Logging.Level != "debug" {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.Auth.APIKey != "" {
		t.Errorf("an explicitly empty api key disables the plain key, got %q", cfg.Auth.APIKey)
	}
	if cfg.Participant.Region != "eu" {
		t.Errorf("unset variables must not change values")
	}
}

func TestDerivedURLs(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.ControlURL(); got != "http://localhost:19192/control" {
		t.Errorf("ControlURL() = %s", got)
	}
	if got := cfg.SignalingURL(); got != "http://localhost:19192/control" {
		t.Errorf("SignalingURL() = %s", got)
	}
	cfg.DataPlane.PublicEndpoint = "http://dp.example.com/public/"
	if got := cfg.PublicURL(); got != "http://dp.example.com/public" {
		t.Errorf("PublicURL() = %s", got)
	}
}

func TestExampleConfigsValidate(t *testing.T) {
	for _, name := range []string{"provider.yaml", "consumer.yaml"} {
		t.Run(name, func(t *testing.T) {
			cfg, err := Load(filepath.Join("..", "..", "examples", "config", name))
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if errs := cfg.Validate(); len(errs) > 0 {
				t.Fatalf("validate: %v", errs)
			}
		})
	}
}

func TestDefaultPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv(EnvHome, home)

	abs := filepath.Join(home, "abs.yaml")
	if got, err := DefaultPath(abs); err != nil || got != abs {
		t.Fatalf("absolute path: got %q, %v", got, err)
	}
	if got, _ := DefaultPath(""); got != "" {
		t.Fatalf("empty name resolved to %q", got)
	}

	// load_test.go sits in the working directory of the test binary
	if got, _ := DefaultPath("load_test.go"); got != "load_test.go" {
		t.Fatalf("local file resolved to %q", got)
	}

	got, err := DefaultPath("provider.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(home, "provider.yaml"); got != want {
		t.Fatalf("bare name: got %q, want %q", got, want)
	}
}
