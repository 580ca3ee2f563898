package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DeBrosOfficial/dataspace/pkg/model"
)

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// fakeConnector answers the management calls the tests exercise.
func fakeConnector(t *testing.T) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Post("/v3/assets/request", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, []model.Asset{{
			ID:          "asset-1",
			Properties:  map[string]any{"name": "weather"},
			DataAddress: model.NewDataAddress(model.TypeHTTPData),
		}})
	})
	r.Post("/v2/catalog/request", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, model.Catalog{
			ID:            "cat",
			ParticipantID: "provider",
			Datasets: []model.Dataset{{
				ID:     "asset-1",
				Offers: []model.Policy{{ID: "offer-1", Permissions: []model.Rule{{Action: "USE"}}}},
			}},
		})
	})
	r.Post("/v2/contractnegotiations", func(w http.ResponseWriter, req *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		assert.Equal(t, "provider", body["providerId"])
		writeJSON(w, map[string]any{"@id": "n-1", "createdAt": 1})
	})
	r.Get("/v2/contractnegotiations/{id}", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"@id": "n-1", "state": "FINALIZED", "contractAgreementId": "agr-1"})
	})
	r.Get("/v2/transferprocesses/{id}/state", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"state": "STARTED"})
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestAssetList(t *testing.T) {
	srv := fakeConnector(t)
	out, err := execute(t, "--url", srv.URL, "asset", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "asset-1")
	assert.Contains(t, out, "weather")
}

func TestNegotiateAndWait(t *testing.T) {
	srv := fakeConnector(t)
	out, err := execute(t, "--url", srv.URL, "--poll", "5ms", "negotiate", "http://provider/protocol", "asset-1", "--wait")
	require.NoError(t, err)
	assert.Contains(t, out, "Negotiation n-1 started")
	assert.Contains(t, out, "Agreement agr-1")
}

func TestNegotiateUnknownAsset(t *testing.T) {
	srv := fakeConnector(t)
	_, err := execute(t, "--url", srv.URL, "negotiate", "http://provider/protocol", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not offered")
}

func TestWaitTransferDefaultsToStarted(t *testing.T) {
	srv := fakeConnector(t)
	out, err := execute(t, "--url", srv.URL, "--poll", "5ms", "wait", "transfer", "tp-1")
	require.NoError(t, err)
	assert.Contains(t, out, "Transfer tp-1 is STARTED")
}

func TestPushTransferNeedsDestination(t *testing.T) {
	srv := fakeConnector(t)
	_, err := execute(t, "--url", srv.URL, "transfer", "start", "http://provider/protocol", "agr-1", "asset-1", "--type", "HttpData-PUSH")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--dest-file")
}
