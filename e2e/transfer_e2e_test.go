//go:build e2e

package e2e

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DeBrosOfficial/dataspace/pkg/client"
	"github.com/DeBrosOfficial/dataspace/pkg/controlplane"
	"github.com/DeBrosOfficial/dataspace/pkg/model"
)

// startSource serves body on every path, reachable from the provider.
func startSource(t *testing.T, body string) *httptest.Server {
	t.Helper()
	l, err := net.Listen("tcp", net.JoinHostPort(GetE2EConfig(t).SourceHost, "0"))
	require.NoError(t, err)
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(body))
	}))
	srv.Listener.Close()
	srv.Listener = l
	srv.Start()
	t.Cleanup(srv.Close)
	return srv
}

// offerAsset creates an HttpData asset on the provider behind an
// unconstrained contract definition and returns the asset id.
func offerAsset(t *testing.T, ctx context.Context, provider *client.Client, baseURL string) string {
	t.Helper()
	suffix := uuid.NewString()[:8]
	assetID := "e2e-asset-" + suffix
	policyID := "e2e-policy-" + suffix
	defID := "e2e-def-" + suffix

	_, err := provider.CreateAsset(ctx, model.Asset{
		ID:          assetID,
		Properties:  map[string]any{"name": "e2e " + suffix},
		DataAddress: model.NewDataAddress(model.TypeHTTPData).Set(model.KeyBaseURL, baseURL),
	})
	require.NoError(t, err)
	_, err = provider.CreatePolicy(ctx, model.PolicyDefinition{
		ID:     policyID,
		Policy: model.Policy{Permissions: []model.Rule{{Action: "USE"}}},
	})
	require.NoError(t, err)
	_, err = provider.CreateContractDefinition(ctx, model.ContractDefinition{
		ID:               defID,
		AccessPolicyID:   policyID,
		ContractPolicyID: policyID,
		AssetsSelector:   []model.Criterion{model.NewCriterion(model.PropertyID, "=", assetID)},
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		bg := context.Background()
		provider.DeleteContractDefinition(bg, defID)
		provider.DeletePolicy(bg, policyID)
		provider.DeleteAsset(bg, assetID)
	})
	return assetID
}

// findOffer requests the provider catalog through the consumer and returns
// the provider id and the first offer for assetID.
func findOffer(t *testing.T, ctx context.Context, consumer *client.Client, assetID string) (string, model.Policy) {
	t.Helper()
	cfg := GetE2EConfig(t)
	cat, err := consumer.RequestCatalog(ctx, controlplane.CatalogRequest{CounterPartyAddress: cfg.Provider.ProtocolURL})
	require.NoError(t, err)
	for _, ds := range cat.Datasets {
		if ds.ID == assetID {
			require.NotEmpty(t, ds.Offers, "dataset %s has no offers", assetID)
			return cat.ParticipantID, ds.Offers[0]
		}
	}
	t.Fatalf("asset %s not in provider catalog", assetID)
	return "", model.Policy{}
}

func TestE2E_PullTransfer(t *testing.T) {
	provider, consumer := RequireConnectors(t)
	cfg := GetE2EConfig(t)
	ctx, cancel := context.WithTimeout(context.Background(), cfg.WaitTimeout)
	defer cancel()

	src := startSource(t, "hello from the provider")
	assetID := offerAsset(t, ctx, provider, src.URL)
	providerID, offer := findOffer(t, ctx, consumer, assetID)

	negotiationID, err := consumer.Negotiate(ctx, controlplane.ContractRequest{
		CounterPartyAddress: cfg.Provider.ProtocolURL,
		ProviderID:          providerID,
		Policy:              offer,
	})
	require.NoError(t, err)
	agreementID, err := consumer.WaitForAgreement(ctx, negotiationID)
	require.NoError(t, err)

	agreement, err := consumer.GetAgreement(ctx, agreementID)
	require.NoError(t, err)
	assert.Equal(t, assetID, agreement.AssetID)

	transferID, err := consumer.StartTransfer(ctx, controlplane.TransferRequest{
		CounterPartyAddress: cfg.Provider.ProtocolURL,
		ContractID:          agreementID,
		AssetID:             assetID,
		TransferType:        "HttpData-PULL",
	})
	require.NoError(t, err)
	require.NoError(t, consumer.WaitForTransferState(ctx, transferID, model.TransferStarted))

	edr, err := consumer.WaitForEDR(ctx, transferID)
	require.NoError(t, err)
	data, err := consumer.FetchData(ctx, edr, "", "")
	require.NoError(t, err)
	assert.Equal(t, "hello from the provider", string(data))

	require.NoError(t, consumer.TerminateTransfer(ctx, transferID, "e2e done"))
	require.NoError(t, consumer.WaitForTransferState(ctx, transferID, model.TransferTerminated))

	// the provider tears the flow down after it processes the termination
	err = client.WaitFor(ctx, consumer.Config().PollInterval, func(ctx context.Context) (bool, error) {
		_, err := consumer.FetchData(ctx, edr, "", "")
		return err != nil, nil
	})
	require.NoError(t, err, "token still accepted after termination")
}

func TestE2E_TamperedOfferIsTerminated(t *testing.T) {
	provider, consumer := RequireConnectors(t)
	cfg := GetE2EConfig(t)
	ctx, cancel := context.WithTimeout(context.Background(), cfg.WaitTimeout)
	defer cancel()

	src := startSource(t, "unused")
	assetID := offerAsset(t, ctx, provider, src.URL)
	providerID, offer := findOffer(t, ctx, consumer, assetID)
	offer.Permissions = append(offer.Permissions, model.Rule{Action: "DISTRIBUTE"})

	negotiationID, err := consumer.Negotiate(ctx, controlplane.ContractRequest{
		CounterPartyAddress: cfg.Provider.ProtocolURL,
		ProviderID:          providerID,
		Policy:              offer,
	})
	require.NoError(t, err)

	n, err := consumer.WaitForNegotiationState(ctx, negotiationID, model.NegotiationTerminated)
	require.NoError(t, err)
	assert.Empty(t, n.ContractAgreementID)
}

func TestE2E_TransferWithUnknownAgreementFails(t *testing.T) {
	_, consumer := RequireConnectors(t)
	cfg := GetE2EConfig(t)
	ctx, cancel := context.WithTimeout(context.Background(), cfg.WaitTimeout)
	defer cancel()

	transferID, err := consumer.StartTransfer(ctx, controlplane.TransferRequest{
		CounterPartyAddress: cfg.Provider.ProtocolURL,
		ContractID:          "no-such-agreement",
		AssetID:             "no-such-asset",
		TransferType:        "HttpData-PULL",
	})
	if err != nil {
		// rejected up front by the consumer
		assert.NotZero(t, client.StatusOf(err))
		return
	}
	require.NoError(t, consumer.WaitForTransferState(ctx, transferID, model.TransferTerminated))
}
