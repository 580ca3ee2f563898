package protocol

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DeBrosOfficial/dataspace/pkg/errors"
	"github.com/DeBrosOfficial/dataspace/pkg/identity"
	"github.com/DeBrosOfficial/dataspace/pkg/model"
)

type testConnector struct {
	url         string
	catalog     *mockCatalogService
	negotiation *mockNegotiationService
	transfer    *mockTransferService
}

func startProvider(t *testing.T) *testConnector {
	t.Helper()
	tc := &testConnector{
		catalog:     &mockCatalogService{},
		negotiation: &mockNegotiationService{},
		transfer:    &mockTransferService{},
	}
	h := NewHandlers(tc.catalog, tc.negotiation, tc.transfer, identity.NewMockService("provider", "eu", nil), nil)
	r := chi.NewRouter()
	r.Route("/protocol", h.Routes)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	tc.url = srv.URL + "/protocol"
	return tc
}

func consumerDispatcher() *HTTPDispatcher {
	return NewHTTPDispatcher(identity.NewMockService("consumer", "eu", nil), 0, nil)
}

func TestCatalogRequest(t *testing.T) {
	provider := startProvider(t)
	var seen model.ParticipantAgent
	var seenQuery model.QuerySpec
	provider.catalog.BuildCatalogFunc = func(_ context.Context, agent model.ParticipantAgent, q model.QuerySpec) (*model.Catalog, error) {
		seen, seenQuery = agent, q
		return &model.Catalog{ID: "cat", Type: model.TypeCatalog, ParticipantID: "provider",
			Datasets: []model.Dataset{{ID: "assetId", Type: model.TypeDataset}}}, nil
	}

	q := &model.QuerySpec{Limit: 10}
	cat, err := RequestCatalog(context.Background(), consumerDispatcher(), provider.url, q)
	require.NoError(t, err)
	assert.Equal(t, "provider", cat.ParticipantID)
	require.Len(t, cat.Datasets, 1)
	assert.Equal(t, "consumer", seen.ID)
	assert.Equal(t, "eu", seen.Claim(model.ClaimRegion))
	assert.Equal(t, 10, seenQuery.Limit)

	ds, err := RequestDataset(context.Background(), consumerDispatcher(), provider.url, "assetId")
	require.NoError(t, err)
	assert.Equal(t, "assetId", ds.ID)
}

func TestMissingTokenIsRejected(t *testing.T) {
	provider := startProvider(t)
	resp, err := http.Post(provider.url+PathCatalogRequest, "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestNegotiationRequestAck(t *testing.T) {
	provider := startProvider(t)
	provider.negotiation.HandleRequestFunc = func(_ context.Context, _ model.ParticipantAgent, msg ContractRequestMessage) (*ContractNegotiationAck, error) {
		assert.Equal(t, "http://consumer/protocol", msg.CallbackAddress)
		assert.Equal(t, "offer-1", msg.Offer.ID)
		return &ContractNegotiationAck{Type: TypeContractNegotiation, ConsumerPid: msg.ConsumerPid, ProviderPid: "provider-pid", State: "dspace:REQUESTED"}, nil
	}

	var ack ContractNegotiationAck
	err := consumerDispatcher().Send(context.Background(), provider.url, PathNegotiationRequest, ContractRequestMessage{
		Type:            TypeContractRequest,
		ConsumerPid:     "consumer-pid",
		Offer:           model.Policy{ID: "offer-1", Target: "assetId"},
		CallbackAddress: "http://consumer/protocol",
	}, &ack)
	require.NoError(t, err)
	assert.Equal(t, "provider-pid", ack.ProviderPid)
	assert.Equal(t, "consumer-pid", ack.ConsumerPid)
}

func TestRemoteErrorsKeepStatus(t *testing.T) {
	provider := startProvider(t)
	provider.negotiation.HandleAgreementFunc = func(context.Context, model.ParticipantAgent, string, ContractAgreementMessage) error {
		return errors.NewStateTransitionError("contract negotiation", "p", "FINALIZED", "AGREED")
	}
	provider.negotiation.HandleTerminationFunc = func(_ context.Context, _ model.ParticipantAgent, pid string, _ ContractNegotiationTerminationMessage) error {
		return errors.NewNotFoundError("contract negotiation", pid)
	}

	d := consumerDispatcher()
	err := d.Send(context.Background(), provider.url, NegotiationPath("p", SuffixAgreement), ContractAgreementMessage{Type: TypeContractAgreement}, nil)
	var svcErr *errors.ServiceError
	require.True(t, errors.As(err, &svcErr), "got %v", err)
	assert.Equal(t, http.StatusConflict, svcErr.StatusCode)
	assert.False(t, errors.ShouldRetry(err), "409 is final")
	assert.Contains(t, err.Error(), "cannot transition")

	err = d.Send(context.Background(), provider.url, NegotiationPath("missing", SuffixNegotiationTerm), ContractNegotiationTerminationMessage{}, nil)
	require.True(t, errors.As(err, &svcErr))
	assert.Equal(t, http.StatusNotFound, svcErr.StatusCode)
}

func TestUnreachableCounterPartyIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	err := consumerDispatcher().Send(context.Background(), addr, PathTransferRequest, TransferRequestMessage{}, nil)
	require.Error(t, err)
	assert.True(t, errors.ShouldRetry(err), "transport failures should be retried: %v", err)
}

func TestTransferMessages(t *testing.T) {
	provider := startProvider(t)
	var startedPid string
	var edr model.DataAddress
	provider.transfer.HandleStartFunc = func(_ context.Context, _ model.ParticipantAgent, pid string, msg TransferStartMessage) error {
		startedPid, edr = pid, msg.DataAddress
		return nil
	}
	d := consumerDispatcher()

	var ack TransferProcessAck
	require.NoError(t, d.Send(context.Background(), provider.url, PathTransferRequest, TransferRequestMessage{
		Type: TypeTransferRequest, ConsumerPid: "tp-consumer", AgreementID: "agr-1", Format: "HttpData-PULL",
		CallbackAddress: "http://consumer/protocol",
	}, &ack))
	assert.Equal(t, "tp-consumer", ack.ConsumerPid)

	start := TransferStartMessage{
		Type: TypeTransferStart, ConsumerPid: "tp-consumer", ProviderPid: "tp-provider",
		DataAddress: model.NewEndpointDataReference("tp-provider", "http://provider/public", "tok", "agr-1"),
	}
	require.NoError(t, d.Send(context.Background(), provider.url, TransferPath("tp-consumer", SuffixTransferStart), start, nil))
	assert.Equal(t, "tp-consumer", startedPid)
	assert.Equal(t, "tok", edr.GetString(model.KeyAuthorization))

	var state TransferProcessAck
	require.NoError(t, d.Send(context.Background(), provider.url, TransferPath("tp-provider", ""), nil, &state))
	assert.Equal(t, "dspace:STARTED", state.State)

	err := d.Send(context.Background(), provider.url, PathTransferRequest, TransferRequestMessage{Type: TypeTransferRequest}, nil)
	var svcErr *errors.ServiceError
	require.True(t, errors.As(err, &svcErr))
	assert.Equal(t, http.StatusBadRequest, svcErr.StatusCode)
}
