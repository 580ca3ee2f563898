package controlplane

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DeBrosOfficial/dataspace/pkg/config"
	"github.com/DeBrosOfficial/dataspace/pkg/identity"
	"github.com/DeBrosOfficial/dataspace/pkg/model"
	"github.com/DeBrosOfficial/dataspace/pkg/protocol"
)

// flakyConsumer answers agreement messages with 503 until failures runs
// out and records every agreement id it was offered.
type flakyConsumer struct {
	mu         sync.Mutex
	failures   int
	agreements []string
}

func (c *flakyConsumer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var msg protocol.ContractAgreementMessage
	_ = json.NewDecoder(r.Body).Decode(&msg)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agreements = append(c.agreements, msg.Agreement.ID)
	if c.failures > 0 {
		c.failures--
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (c *flakyConsumer) offered() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.agreements...)
}

// agreeingProvider returns a provider manager with one negotiation in
// AGREEING towards address, and a function that advances its clock.
func agreeingProvider(t *testing.T, address string, retryLimit int) (*NegotiationManager, func()) {
	t.Helper()
	now := time.Now()
	m := NewNegotiationManager(Dependencies{
		Store:      newTestStore(t),
		Dispatcher: protocol.NewHTTPDispatcher(identity.NewMockService("provider", "eu", nil), time.Second, nil),
		Clock:      func() time.Time { return now },
	}, Settings{
		ParticipantID: "provider",
		ProtocolURL:   "http://provider/protocol",
		ControlPlaneConfig: config.ControlPlaneConfig{
			Tick:       10 * time.Millisecond,
			RetryLimit: retryLimit,
		},
	}, nil)

	offer := model.ContractOffer{
		ID:      model.NewContractOfferID("def-1", "asset-1").String(),
		AssetID: "asset-1",
		Policy:  usePolicy(),
	}
	require.NoError(t, m.deps.Store.Negotiations().Create(context.Background(), &model.ContractNegotiation{
		ID: "neg-1", Type: model.Provider, CorrelationID: "cn-1",
		CounterPartyID: "consumer", CounterPartyAddress: address, Protocol: model.ProtocolDSP,
		State: model.NegotiationAgreeing, StateCount: 1, StateTimestamp: now.UnixMilli(),
		Offers: []model.ContractOffer{offer},
	}))
	return m, func() { now = now.Add(time.Minute) }
}

func runNegotiation(t *testing.T, m *NegotiationManager, advance func()) *model.ContractNegotiation {
	t.Helper()
	ctx := context.Background()
	var n *model.ContractNegotiation
	for i := 0; i < 10; i++ {
		m.RunOnce(ctx)
		advance()
		var err error
		n, err = m.deps.Store.Negotiations().FindByID(ctx, "neg-1")
		require.NoError(t, err)
		if n.State != model.NegotiationAgreeing {
			break
		}
	}
	return n
}

func TestAgreementIDStableAcrossRetries(t *testing.T) {
	consumer := &flakyConsumer{failures: 2}
	srv := httptest.NewServer(consumer)
	defer srv.Close()

	m, advance := agreeingProvider(t, srv.URL, 5)
	n := runNegotiation(t, m, advance)

	require.Equal(t, model.NegotiationAgreed, n.State, n.ErrorDetail)
	offered := consumer.offered()
	require.Len(t, offered, 3)
	assert.Equal(t, offered[0], offered[1])
	assert.Equal(t, offered[0], offered[2])
	assert.Equal(t, offered[0], n.ContractAgreementID)
	assert.NotContains(t, n.PrivateProperties, propAgreementID)

	stored, err := m.deps.Store.Negotiations().FindAgreement(context.Background(), n.ContractAgreementID)
	require.NoError(t, err)
	assert.Equal(t, "asset-1", stored.AssetID)
}

func TestSendFailureNamesTheStep(t *testing.T) {
	consumer := &flakyConsumer{failures: 100}
	srv := httptest.NewServer(consumer)
	defer srv.Close()

	m, advance := agreeingProvider(t, srv.URL, 2)
	n := runNegotiation(t, m, advance)

	assert.Equal(t, model.NegotiationTerminated, n.State)
	assert.Contains(t, n.ErrorDetail, "failed to send agreeing: ")
	assert.NotContains(t, n.ErrorDetail, "terminated")
	assert.Len(t, consumer.offered(), 2)
	assert.Nil(t, n.Agreement)
}
