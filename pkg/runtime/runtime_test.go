package runtime

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DeBrosOfficial/dataspace/pkg/config"
	"github.com/DeBrosOfficial/dataspace/pkg/controlplane"
	"github.com/DeBrosOfficial/dataspace/pkg/gateway"
	"github.com/DeBrosOfficial/dataspace/pkg/model"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func testConfig(t *testing.T, participant string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Participant.ID = participant
	cfg.Web.Host = "127.0.0.1"
	cfg.Web.Default.Port = freePort(t)
	cfg.Web.Catalog.Port = cfg.Web.Default.Port
	cfg.Web.Management.Port = freePort(t)
	cfg.Web.Protocol.Port = freePort(t)
	cfg.Web.Control.Port = freePort(t)
	cfg.Web.Public.Port = freePort(t)
	cfg.Store.DSN = fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	cfg.ControlPlane.Tick = 20 * time.Millisecond
	cfg.ControlPlane.MarkerFile = false
	cfg.Selector.HealthCheckInterval = 0
	cfg.Auth.RateLimit = 0
	return cfg
}

func startRuntime(t *testing.T, cfg *config.Config, opts ...Option) *Runtime {
	t.Helper()
	ctx := context.Background()
	rt, err := New(ctx, cfg, nil, opts...)
	require.NoError(t, err)
	require.NoError(t, rt.Start(ctx))
	t.Cleanup(func() {
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		rt.Shutdown(sctx)
	})
	return rt
}

type recordingExtension struct {
	BaseExtension
	mu    sync.Mutex
	calls []string
}

func (e *recordingExtension) Name() string { return "recorder" }

func (e *recordingExtension) record(s string) {
	e.mu.Lock()
	e.calls = append(e.calls, s)
	e.mu.Unlock()
}

func (e *recordingExtension) Initialize(c *Context) error {
	e.record("initialize")
	c.Health.Register(gateway.HealthCheck{Component: "recorder", Check: func(context.Context) error { return nil }})
	return nil
}

func (e *recordingExtension) Start(context.Context) error {
	e.record("start")
	return nil
}

func (e *recordingExtension) Shutdown(context.Context) error {
	e.record("shutdown")
	return nil
}

func TestFilePushBetweenConnectors(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	src := filepath.Join(dir, "source.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello from the provider"), 0o644))
	dst := filepath.Join(dir, "received", "copy.txt")

	pcfg := testConfig(t, "provider")
	pcfg.Seed = config.SeedConfig{
		Assets: []config.AssetSeed{{
			ID:          "file-asset",
			Properties:  map[string]any{"name": "sample file"},
			DataAddress: map[string]any{"type": "File", "path": src},
		}},
		Policies: []config.PolicySeed{{
			ID:     "use",
			Policy: map[string]any{"permission": []any{map[string]any{"action": "USE"}}},
		}},
		ContractDefinitions: []config.ContractDefinitionSeed{{
			ID:               "def-1",
			AccessPolicyID:   "use",
			ContractPolicyID: "use",
			AssetsSelector:   []config.CriterionSeed{{OperandLeft: model.PropertyID, Operator: "=", OperandRight: "file-asset"}},
		}},
	}
	provider := startRuntime(t, pcfg)

	ccfg := testConfig(t, "consumer")
	ccfg.DataPlane.Enabled = false
	consumer := startRuntime(t, ccfg)

	cm := consumer.Management()
	cat, err := cm.RequestCatalog(ctx, controlplane.CatalogRequest{CounterPartyAddress: pcfg.ProtocolURL()})
	require.NoError(t, err)
	require.Len(t, cat.Datasets, 1)
	require.NotEmpty(t, cat.Datasets[0].Offers)

	n, err := cm.InitiateNegotiation(ctx, controlplane.ContractRequest{
		CounterPartyAddress: pcfg.ProtocolURL(),
		ProviderID:          "provider",
		Policy:              cat.Datasets[0].Offers[0],
	})
	require.NoError(t, err)

	var agreementID string
	require.Eventually(t, func() bool {
		got, err := cm.GetNegotiation(ctx, n.ID)
		if err != nil || got.State != model.NegotiationFinalized {
			return false
		}
		agreementID = got.ContractAgreementID
		return true
	}, 10*time.Second, 20*time.Millisecond)
	require.NotEmpty(t, agreementID)

	tp, err := cm.InitiateTransfer(ctx, controlplane.TransferRequest{
		CounterPartyAddress: pcfg.ProtocolURL(),
		ContractID:          agreementID,
		AssetID:             "file-asset",
		TransferType:        "File-PUSH",
		DataDestination:     model.NewDataAddress(model.TypeFile).Set(model.KeyPath, dst),
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := cm.GetTransfer(ctx, tp.ID)
		return err == nil && got.State == model.TransferCompleted
	}, 10*time.Second, 20*time.Millisecond)

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "hello from the provider", string(data))

	planes, err := provider.Management().ListDataPlanes(ctx)
	require.NoError(t, err)
	require.Len(t, planes, 1)
	assert.Equal(t, "embedded-dataplane", planes[0].ID)
}

func TestRuntimeRestartKeepsSeed(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, "provider")
	cfg.DataPlane.Enabled = false
	cfg.Store.DSN = "file:" + filepath.Join(t.TempDir(), "connector.db")
	cfg.Seed.Assets = []config.AssetSeed{{
		ID:          "a1",
		DataAddress: map[string]any{"type": "HttpData", "baseUrl": "https://example.com"},
	}}

	for i := 0; i < 2; i++ {
		rt, err := New(ctx, cfg, nil)
		require.NoError(t, err)
		require.NoError(t, rt.Start(ctx), "start %d", i)
		assets, err := rt.Management().QueryAssets(ctx, model.QuerySpec{})
		require.NoError(t, err)
		assert.Len(t, assets, 1)
		sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		require.NoError(t, rt.Shutdown(sctx))
		cancel()
	}
}

func TestExtensionLifecycleAndHealth(t *testing.T) {
	ext := &recordingExtension{}
	cfg := testConfig(t, "provider")
	cfg.DataPlane.Enabled = false
	rt := startRuntime(t, cfg, WithExtensions(ext))

	res, err := http.Get(fmt.Sprintf("http://%s/api/check/startup", rt.Addr("default")))
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, rt.Shutdown(sctx))

	ext.mu.Lock()
	defer ext.mu.Unlock()
	assert.Equal(t, []string{"initialize", "start", "shutdown"}, ext.calls)
}

func TestNewRejectsUnknownCacheBackend(t *testing.T) {
	cfg := testConfig(t, "catalog")
	cfg.DataPlane.Enabled = false
	cfg.FederatedCatalog.Enabled = true
	cfg.FederatedCatalog.Cache.Backend = "redis"
	_, err := New(context.Background(), cfg, nil)
	assert.Error(t, err)
}
