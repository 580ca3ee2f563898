package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DeBrosOfficial/dataspace/pkg/config"
	"github.com/DeBrosOfficial/dataspace/pkg/controlplane"
	"github.com/DeBrosOfficial/dataspace/pkg/errors"
	"github.com/DeBrosOfficial/dataspace/pkg/store"
)

const testKey = "password"

type testServer struct {
	base  string
	store *store.SQLStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, config.StoreConfig{
		Driver:       "sqlite3",
		DSN:          fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
		MaxOpenConns: 1,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	deps := controlplane.Dependencies{Store: st}
	mgmt := controlplane.NewManagementService(deps, nil, nil, nil)

	health := NewHealth(nil)
	health.Register(HealthCheck{Component: "store", Check: st.Ping})
	health.Register(HealthCheck{
		Component: "crawler",
		Probes:    []string{ProbeReadiness},
		Check:     func(context.Context) error { return errors.NewInternalError("not crawled yet", nil) },
	})

	srv := NewServer(config.WebConfig{Host: "127.0.0.1"}, nil)
	srv.Add(Context{
		Name:       "management",
		Listener:   config.ListenerConfig{Port: 0, Path: "/management"},
		Mount:      NewManagementHandlers(mgmt, nil, nil).Routes,
		Middleware: []func(http.Handler) http.Handler{APIKeyAuth(config.AuthConfig{APIKey: testKey}, nil)},
	})
	srv.Add(Context{
		Name:     "default",
		Listener: config.ListenerConfig{Port: 0, Path: "/api"},
		Mount:    health.Routes,
	})
	require.NoError(t, srv.Start(ctx))
	t.Cleanup(func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(sctx)
	})
	require.Equal(t, srv.Addr("management"), srv.Addr("default"))
	return &testServer{base: "http://" + srv.Addr("management"), store: st}
}

func (s *testServer) do(t *testing.T, method, path, body string) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, s.base+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", testKey)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res.StatusCode, data
}

func TestManagementAssetLifecycle(t *testing.T) {
	s := newTestServer(t)
	asset := `{"@id":"assetId","properties":{"name":"product description","contenttype":"application/json"},
		"dataAddress":{"type":"HttpData","baseUrl":"https://jsonplaceholder.typicode.com/users"}}`

	code, body := s.do(t, http.MethodPost, "/management/v3/assets", asset)
	require.Equal(t, http.StatusOK, code, string(body))
	var created struct {
		ID        string `json:"@id"`
		CreatedAt int64  `json:"createdAt"`
	}
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, "assetId", created.ID)
	assert.NotZero(t, created.CreatedAt)

	code, _ = s.do(t, http.MethodPost, "/management/v3/assets", asset)
	assert.Equal(t, http.StatusConflict, code)

	code, body = s.do(t, http.MethodGet, "/management/v3/assets/assetId", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), `"baseUrl":"https://jsonplaceholder.typicode.com/users"`)

	code, body = s.do(t, http.MethodPost, "/management/v3/assets/request", "")
	require.Equal(t, http.StatusOK, code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Len(t, list, 1)

	code, body = s.do(t, http.MethodPost, "/management/v3/assets/request",
		`{"filterExpression":[{"operandLeft":"id","operator":"=","operandRight":"other"}]}`)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, string(body))

	code, _ = s.do(t, http.MethodDelete, "/management/v3/assets/assetId", "")
	assert.Equal(t, http.StatusNoContent, code)
	code, _ = s.do(t, http.MethodGet, "/management/v3/assets/assetId", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestManagementValidation(t *testing.T) {
	s := newTestServer(t)

	code, _ := s.do(t, http.MethodPost, "/management/v3/assets", `{"@id":"a"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(t, http.MethodPost, "/management/v2/policydefinitions", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(t, http.MethodPost, "/management/v2/contractdefinitions",
		`{"@id":"def","accessPolicyId":"missing","contractPolicyId":"missing"}`)
	assert.NotEqual(t, http.StatusOK, code)
}

func TestManagementPolicyAndDefinition(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(t, http.MethodPost, "/management/v2/policydefinitions",
		`{"@id":"aPolicy","policy":{"@type":"Set","permission":[],"prohibition":[],"obligation":[]}}`)
	require.Equal(t, http.StatusOK, code, string(body))

	code, body = s.do(t, http.MethodPost, "/management/v2/contractdefinitions",
		`{"@id":"1","accessPolicyId":"aPolicy","contractPolicyId":"aPolicy","assetsSelector":[]}`)
	require.Equal(t, http.StatusOK, code, string(body))

	code, body = s.do(t, http.MethodGet, "/management/v2/contractdefinitions/1", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), `"accessPolicyId":"aPolicy"`)
}

func TestManagementRequiresAPIKey(t *testing.T) {
	s := newTestServer(t)
	res, err := http.Get(s.base + "/management/v3/assets/x")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestManagementUnknownProcesses(t *testing.T) {
	s := newTestServer(t)
	code, _ := s.do(t, http.MethodGet, "/management/v2/transferprocesses/nope/state", "")
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = s.do(t, http.MethodGet, "/management/v2/contractnegotiations/nope", "")
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = s.do(t, http.MethodGet, "/management/v2/contractagreements/nope", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestManagementDataPlanesWithoutSelector(t *testing.T) {
	s := newTestServer(t)
	code, _ := s.do(t, http.MethodGet, "/management/v2/dataplanes", "")
	assert.Equal(t, http.StatusNotImplemented, code)
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t)

	res, err := http.Get(s.base + "/api/health")
	require.NoError(t, err)
	data, _ := io.ReadAll(res.Body)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"response":"I'm alive!"}`, string(data))

	get := func(probe string) (int, HealthStatus) {
		res, err := http.Get(s.base + "/api/check/" + probe)
		require.NoError(t, err)
		defer res.Body.Close()
		var st HealthStatus
		if res.StatusCode != http.StatusNotFound {
			require.NoError(t, json.NewDecoder(res.Body).Decode(&st))
		}
		return res.StatusCode, st
	}

	code, st := get(ProbeLiveness)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, st.IsSystemHealthy)
	require.Len(t, st.ComponentResults, 1)
	assert.Equal(t, "store", st.ComponentResults[0].Component)

	code, st = get(ProbeReadiness)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.False(t, st.IsSystemHealthy)

	code, st = get(ProbeStartup)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.False(t, st.IsSystemHealthy)

	code, _ = get("bogus")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestHealthStartupAfterMarkStarted(t *testing.T) {
	h := NewHealth(nil)
	h.MarkStarted()
	st := h.Status(context.Background(), ProbeStartup)
	assert.True(t, st.IsSystemHealthy)
	st = h.Status(context.Background(), ProbeHealth)
	require.NotEmpty(t, st.ComponentResults)
	assert.Equal(t, "host", st.ComponentResults[len(st.ComponentResults)-1].Component)
}
