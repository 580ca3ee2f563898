package controlplane

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DeBrosOfficial/dataspace/pkg/config"
	"github.com/DeBrosOfficial/dataspace/pkg/events"
	"github.com/DeBrosOfficial/dataspace/pkg/identity"
	"github.com/DeBrosOfficial/dataspace/pkg/model"
	"github.com/DeBrosOfficial/dataspace/pkg/policy"
	"github.com/DeBrosOfficial/dataspace/pkg/protocol"
	"github.com/DeBrosOfficial/dataspace/pkg/signaling"
	"github.com/DeBrosOfficial/dataspace/pkg/store"
)

// testConnector is one participant with its own store and protocol server.
type testConnector struct {
	id           string
	url          string
	control      string
	store        *store.SQLStore
	catalog      *CatalogService
	negotiations *NegotiationManager
	transfers    *TransferManager
	flows        *DataFlowManager
	mgmt         *ManagementService

	mu     sync.Mutex
	events []string
}

func newTestStore(t *testing.T) *store.SQLStore {
	t.Helper()
	st, err := store.Open(context.Background(), config.StoreConfig{
		Driver:        "sqlite3",
		DSN:           fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
		LeaseDuration: 10 * time.Second,
		MaxOpenConns:  1,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestConnector(t *testing.T, id, region string, engine policy.Evaluator) *testConnector {
	t.Helper()
	var handler http.Handler
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	ids := identity.NewMockService(id, region, nil)
	bus := events.NewBus(nil)
	tc := &testConnector{
		id:      id,
		url:     srv.URL + "/protocol",
		control: srv.URL + "/control",
		store:   newTestStore(t),
		flows:   NewDataFlowManager(),
	}
	bus.Subscribe(func(e events.Event) {
		tc.mu.Lock()
		tc.events = append(tc.events, e.Type)
		tc.mu.Unlock()
	})

	deps := Dependencies{
		Store:      tc.store,
		Dispatcher: protocol.NewHTTPDispatcher(ids, 5*time.Second, nil),
		Policy:     engine,
		Events:     bus,
	}
	settings := Settings{
		ParticipantID: id,
		ProtocolURL:   tc.url,
		ControlURL:    tc.control,
		ControlPlaneConfig: config.ControlPlaneConfig{
			Tick:       10 * time.Millisecond,
			RetryLimit: 3,
		},
	}
	tc.catalog = NewCatalogService(deps, settings, nil)
	tc.negotiations = NewNegotiationManager(deps, settings, tc.catalog)
	tc.transfers = NewTransferManager(deps, settings, TransferOptions{Flows: tc.flows})
	tc.mgmt = NewManagementService(deps, tc.negotiations, tc.transfers, nil)

	r := chi.NewRouter()
	r.Route("/protocol", protocol.NewHandlers(tc.catalog, tc.negotiations, tc.transfers, ids, nil).Routes)
	r.Route("/control", signaling.NewControlHandlers(tc.transfers, nil, nil).Routes)
	handler = r
	return tc
}

func (tc *testConnector) runOnce(ctx context.Context) int {
	return tc.negotiations.RunOnce(ctx) + tc.transfers.RunOnce(ctx)
}

func (tc *testConnector) sawEvent(typ string) bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	for _, e := range tc.events {
		if e == typ {
			return true
		}
	}
	return false
}

// drive runs both connectors until done reports true.
func drive(t *testing.T, done func() bool, connectors ...*testConnector) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 30; i++ {
		if done() {
			return
		}
		for _, c := range connectors {
			c.runOnce(ctx)
		}
	}
	require.True(t, done(), "condition not reached")
}

// seedOffer creates an asset with an open access policy and the given
// contract policy on the provider.
func seedOffer(t *testing.T, provider *testConnector, assetID string, contract model.Policy) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, provider.mgmt.CreateAsset(ctx, &model.Asset{
		ID:          assetID,
		Properties:  map[string]any{"name": "product description"},
		DataAddress: model.DataAddress{"type": model.TypeHTTPData, "baseUrl": "https://jsonplaceholder.typicode.com/users"},
	}))
	if _, err := provider.mgmt.GetPolicy(ctx, "open"); err != nil {
		require.NoError(t, provider.mgmt.CreatePolicy(ctx, &model.PolicyDefinition{ID: "open"}))
	}
	require.NoError(t, provider.mgmt.CreatePolicy(ctx, &model.PolicyDefinition{ID: "contract-" + assetID, Policy: contract}))
	require.NoError(t, provider.mgmt.CreateContractDefinition(ctx, &model.ContractDefinition{
		ID:               "def-" + assetID,
		AccessPolicyID:   "open",
		ContractPolicyID: "contract-" + assetID,
		AssetsSelector:   []model.Criterion{model.NewCriterion(model.PropertyID, "=", assetID)},
	}))
}

func usePolicy() model.Policy {
	return model.Policy{Permissions: []model.Rule{{Action: "USE"}}}
}

// negotiate runs a full negotiation for assetID and returns the consumer side.
func negotiate(t *testing.T, consumer, provider *testConnector, assetID string) *model.ContractNegotiation {
	t.Helper()
	ctx := context.Background()
	cat, err := consumer.mgmt.RequestCatalog(ctx, CatalogRequest{CounterPartyAddress: provider.url})
	require.NoError(t, err)
	var offer *model.Policy
	for _, ds := range cat.Datasets {
		if ds.ID == assetID {
			offer = &ds.Offers[0]
		}
	}
	require.NotNil(t, offer, "asset %s not in catalog", assetID)

	n, err := consumer.mgmt.InitiateNegotiation(ctx, ContractRequest{
		CounterPartyAddress: provider.url,
		ProviderID:          provider.id,
		Policy:              *offer,
	})
	require.NoError(t, err)

	drive(t, func() bool {
		got, err := consumer.mgmt.GetNegotiation(ctx, n.ID)
		require.NoError(t, err)
		return got.State.IsFinal()
	}, consumer, provider)

	got, err := consumer.mgmt.GetNegotiation(ctx, n.ID)
	require.NoError(t, err)
	return got
}

func TestRetryDue(t *testing.T) {
	now := time.UnixMilli(1_000_000)
	tick := 100 * time.Millisecond

	assert.True(t, retryDue(1, now.UnixMilli(), tick, now), "first attempt is always due")
	assert.False(t, retryDue(2, now.UnixMilli(), tick, now))
	assert.True(t, retryDue(2, now.UnixMilli()-100, tick, now))
	assert.False(t, retryDue(4, now.UnixMilli()-300, tick, now), "third retry waits 400ms")
	assert.True(t, retryDue(4, now.UnixMilli()-400, tick, now))
	assert.True(t, retryDue(100, now.UnixMilli()-time.Minute.Milliseconds(), tick, now), "backoff is capped")
}

func TestNegotiationReachesFinalized(t *testing.T) {
	consumer := newTestConnector(t, "consumer", "eu", nil)
	provider := newTestConnector(t, "provider", "eu", nil)
	seedOffer(t, provider, "asset-1", usePolicy())

	n := negotiate(t, consumer, provider, "asset-1")
	require.Equal(t, model.NegotiationFinalized, n.State, n.ErrorDetail)
	require.NotNil(t, n.Agreement)
	assert.Equal(t, "asset-1", n.Agreement.AssetID)
	assert.Equal(t, "provider", n.Agreement.ProviderID)
	assert.Equal(t, "consumer", n.Agreement.ConsumerID)

	ctx := context.Background()
	agreement, err := provider.store.Negotiations().FindAgreement(ctx, n.Agreement.ID)
	require.NoError(t, err, "provider stores the same agreement")
	assert.Equal(t, n.Agreement.AssetID, agreement.AssetID)

	provSide, err := provider.store.Negotiations().FindByCorrelationID(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, model.NegotiationFinalized, provSide.State)

	assert.Eventually(t, func() bool {
		return consumer.sawEvent("contract.negotiation.finalized") && provider.sawEvent("contract.negotiation.finalized")
	}, time.Second, 10*time.Millisecond)
}

func TestNegotiationRejectedByContractPolicy(t *testing.T) {
	engine := policy.NewEngine(nil, nil)
	policy.RegisterSampleFunctions(engine, nil)

	consumer := newTestConnector(t, "consumer", "us", nil)
	provider := newTestConnector(t, "provider", "eu", engine)
	seedOffer(t, provider, "eu-only", model.Policy{Permissions: []model.Rule{{
		Action:      "USE",
		Constraints: []model.Constraint{{LeftOperand: "region", Operator: model.OpEq, RightOperand: "eu"}},
	}}})

	n := negotiate(t, consumer, provider, "eu-only")
	assert.Equal(t, model.NegotiationTerminated, n.State)
	assert.Nil(t, n.Agreement)

	_, err := consumer.mgmt.InitiateTransfer(context.Background(), TransferRequest{
		CounterPartyAddress: provider.url,
		ContractID:          "missing",
		TransferType:        "HttpData-PULL",
	})
	assert.Error(t, err, "no agreement, no transfer")
}

func TestInitiateNegotiationValidation(t *testing.T) {
	consumer := newTestConnector(t, "consumer", "eu", nil)
	_, err := consumer.mgmt.InitiateNegotiation(context.Background(), ContractRequest{ProviderID: "provider"})
	assert.Error(t, err)
}

// pullFlows hands out a fixed endpoint data reference.
type pullFlows struct {
	mu         sync.Mutex
	started    []string
	terminated []string
}

func (f *pullFlows) CanHandle(*model.TransferProcess) bool { return true }

func (f *pullFlows) Start(_ context.Context, tp *model.TransferProcess, _ *model.ContractAgreement) (*FlowResult, error) {
	f.mu.Lock()
	f.started = append(f.started, tp.ID)
	f.mu.Unlock()
	addr := model.NewDataAddress(model.TypeEDR).
		Set(model.KeyEndpoint, "http://public.example/api").
		Set(model.KeyAuthorization, "token-"+tp.ID)
	return &FlowResult{DataPlaneID: "dp-1", DataAddress: addr}, nil
}

func (f *pullFlows) Suspend(context.Context, *model.TransferProcess, string) error { return nil }

func (f *pullFlows) Terminate(_ context.Context, tp *model.TransferProcess, _ string) error {
	f.mu.Lock()
	f.terminated = append(f.terminated, tp.ID)
	f.mu.Unlock()
	return nil
}

func TestPullTransferLifecycle(t *testing.T) {
	ctx := context.Background()
	consumer := newTestConnector(t, "consumer", "eu", nil)
	provider := newTestConnector(t, "provider", "eu", nil)
	flows := &pullFlows{}
	provider.flows.Register(flows)
	seedOffer(t, provider, "asset-1", usePolicy())

	n := negotiate(t, consumer, provider, "asset-1")
	require.Equal(t, model.NegotiationFinalized, n.State, n.ErrorDetail)

	tp, err := consumer.mgmt.InitiateTransfer(ctx, TransferRequest{
		CounterPartyAddress: provider.url,
		ContractID:          n.Agreement.ID,
		TransferType:        "HttpData-PULL",
	})
	require.NoError(t, err)

	state := func(c *testConnector, id string) model.TransferState {
		got, err := c.mgmt.GetTransfer(ctx, id)
		require.NoError(t, err)
		return got.State
	}
	drive(t, func() bool { return state(consumer, tp.ID) == model.TransferStarted }, consumer, provider)

	edr, err := consumer.mgmt.EDRDataAddress(ctx, tp.ID)
	require.NoError(t, err)
	assert.Equal(t, "http://public.example/api", edr.GetString(model.KeyEndpoint))

	got, err := consumer.mgmt.GetTransfer(ctx, tp.ID)
	require.NoError(t, err)
	providerID := got.CorrelationID
	require.NotEmpty(t, providerID)
	assert.Equal(t, model.TransferStarted, state(provider, providerID))
	assert.Equal(t, []string{providerID}, flows.started)
	assert.Equal(t, "token-"+providerID, edr.GetString(model.KeyAuthorization))

	require.NoError(t, provider.transfers.CompleteTransfer(ctx, providerID))
	drive(t, func() bool { return state(consumer, tp.ID) == model.TransferCompleted }, consumer, provider)
	assert.Equal(t, model.TransferCompleted, state(provider, providerID))
}

func TestTransferTerminatedByConsumer(t *testing.T) {
	ctx := context.Background()
	consumer := newTestConnector(t, "consumer", "eu", nil)
	provider := newTestConnector(t, "provider", "eu", nil)
	flows := &pullFlows{}
	provider.flows.Register(flows)
	seedOffer(t, provider, "asset-1", usePolicy())

	n := negotiate(t, consumer, provider, "asset-1")
	require.Equal(t, model.NegotiationFinalized, n.State, n.ErrorDetail)
	tp, err := consumer.mgmt.InitiateTransfer(ctx, TransferRequest{
		CounterPartyAddress: provider.url,
		ContractID:          n.Agreement.ID,
		TransferType:        "HttpData-PULL",
	})
	require.NoError(t, err)

	current := func(c *testConnector, id string) *model.TransferProcess {
		got, err := c.mgmt.GetTransfer(ctx, id)
		require.NoError(t, err)
		return got
	}
	drive(t, func() bool { return current(consumer, tp.ID).State == model.TransferStarted }, consumer, provider)

	require.NoError(t, consumer.mgmt.TerminateTransfer(ctx, tp.ID, "no longer needed"))
	drive(t, func() bool { return current(consumer, tp.ID).State == model.TransferTerminated }, consumer, provider)

	providerID := current(consumer, tp.ID).CorrelationID
	provSide := current(provider, providerID)
	assert.Equal(t, model.TransferTerminated, provSide.State)
	assert.Equal(t, []string{providerID}, flows.terminated)
}
