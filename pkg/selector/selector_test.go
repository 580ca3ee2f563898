package selector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DeBrosOfficial/dataspace/pkg/config"
	"github.com/DeBrosOfficial/dataspace/pkg/errors"
	"github.com/DeBrosOfficial/dataspace/pkg/model"
	"github.com/DeBrosOfficial/dataspace/pkg/signaling"
	"github.com/DeBrosOfficial/dataspace/pkg/store"
)

func newTestService(t *testing.T, strategy string) *Service {
	t.Helper()
	st, err := store.Open(context.Background(), config.StoreConfig{
		Driver:       "sqlite3",
		DSN:          "file:" + uuid.NewString() + "?mode=memory&cache=shared",
		MaxOpenConns: 1,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return NewService(st.DataPlanes(), strategy, nil)
}

func instance(id string, sources, transfers []string) model.DataPlaneInstance {
	return model.DataPlaneInstance{
		ID:                   id,
		URL:                  "http://" + id + "/control",
		AllowedSourceTypes:   sources,
		AllowedTransferTypes: transfers,
	}
}

func TestRegisterAndList(t *testing.T) {
	s := newTestService(t, "")
	ctx := context.Background()

	require.NoError(t, s.Register(ctx, instance("dp-b", []string{"HttpData"}, []string{"HttpData-PULL"})))
	require.NoError(t, s.Register(ctx, instance("dp-a", []string{"File"}, []string{"File-PUSH"})))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "dp-a", list[0].ID)
	assert.Equal(t, model.DataPlaneRegistered, list[0].State)
	assert.NotZero(t, list[0].LastActive)

	err = s.Register(ctx, model.DataPlaneInstance{ID: "bad"})
	assert.True(t, errors.IsValidation(err))

	require.NoError(t, s.Unregister(ctx, "dp-a"))
	list, err = s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSelectFiltersByCapability(t *testing.T) {
	s := newTestService(t, StrategyFirst)
	ctx := context.Background()
	require.NoError(t, s.Register(ctx, instance("dp-file", []string{"File"}, []string{"File-PUSH"})))
	require.NoError(t, s.Register(ctx, instance("dp-http", []string{"HttpData"}, []string{"HttpData-PULL", "HttpData-PUSH"})))

	got, err := s.Select(ctx, model.NewDataAddress("HttpData"), "HttpData-PUSH", "")
	require.NoError(t, err)
	assert.Equal(t, "dp-http", got.ID)
	assert.Equal(t, 1, got.TurnCount)

	_, err = s.Select(ctx, model.NewDataAddress("AmazonS3"), "AmazonS3-PUSH", "")
	assert.True(t, errors.IsNotFound(err), "got %v", err)

	_, err = s.Select(ctx, model.NewDataAddress("File"), "File-PUSH", "no-such-strategy")
	assert.True(t, errors.IsValidation(err))
}

func TestSelectSkipsUnavailable(t *testing.T) {
	s := newTestService(t, StrategyFirst)
	ctx := context.Background()
	require.NoError(t, s.Register(ctx, instance("dp-1", []string{"File"}, []string{"File-PUSH"})))
	require.NoError(t, s.Register(ctx, instance("dp-2", []string{"File"}, []string{"File-PUSH"})))
	require.NoError(t, s.SetState(ctx, "dp-1", model.DataPlaneUnavailable))

	got, err := s.Select(ctx, model.NewDataAddress("File"), "File-PUSH", "")
	require.NoError(t, err)
	assert.Equal(t, "dp-2", got.ID)
}

func TestRoundRobin(t *testing.T) {
	s := newTestService(t, StrategyRoundRobin)
	ctx := context.Background()
	for _, id := range []string{"dp-1", "dp-2", "dp-3"} {
		require.NoError(t, s.Register(ctx, instance(id, []string{"File"}, []string{"File-PUSH"})))
	}
	var got []string
	for i := 0; i < 4; i++ {
		inst, err := s.Select(ctx, model.NewDataAddress("File"), "File-PUSH", "")
		require.NoError(t, err)
		got = append(got, inst.ID)
	}
	assert.Equal(t, []string{"dp-1", "dp-2", "dp-3", "dp-1"}, got)
}

func TestRandomPicksEligible(t *testing.T) {
	s := newTestService(t, "")
	ctx := context.Background()
	require.NoError(t, s.Register(ctx, instance("dp-1", []string{"File"}, []string{"File-PUSH"})))
	require.NoError(t, s.Register(ctx, instance("dp-2", []string{"HttpData"}, []string{"HttpData-PUSH"})))
	for i := 0; i < 10; i++ {
		inst, err := s.Select(ctx, model.NewDataAddress("File"), "File-PUSH", "")
		require.NoError(t, err)
		assert.Equal(t, "dp-1", inst.ID)
	}
}

func TestHealthChecker(t *testing.T) {
	s := newTestService(t, "")
	ctx := context.Background()

	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == signaling.PathCheck {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer healthy.Close()
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	up := instance("dp-up", []string{"File"}, []string{"File-PUSH"})
	up.URL = healthy.URL
	dn := instance("dp-down", []string{"File"}, []string{"File-PUSH"})
	dn.URL = down.URL
	require.NoError(t, s.Register(ctx, up))
	require.NoError(t, s.Register(ctx, dn))

	NewHealthChecker(s, signaling.HTTPClientFactory(0, nil), 0, nil).CheckAll(ctx)

	list, err := s.List(ctx)
	require.NoError(t, err)
	states := map[string]model.DataPlaneState{}
	for _, inst := range list {
		states[inst.ID] = inst.State
	}
	assert.Equal(t, model.DataPlaneUnavailable, states["dp-down"])
	assert.Equal(t, model.DataPlaneAvailable, states["dp-up"])
}
