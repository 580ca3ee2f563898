package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DeBrosOfficial/dataspace/pkg/errors"
	"github.com/DeBrosOfficial/dataspace/pkg/model"
)

func transfer(id string, state model.TransferState, ts int64) *model.TransferProcess {
	return &model.TransferProcess{
		ID:             id,
		Type:           model.Provider,
		CorrelationID:  "consumer-" + id,
		State:          state,
		StateTimestamp: ts,
		AssetID:        "assetId",
		ContractID:     "agr-1",
		TransferType:   "HttpData-PULL",
	}
}

func TestNextNotLeased(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	tps := s.Transfers()
	require.NoError(t, tps.Create(ctx, transfer("tp-1", model.TransferRequested, 3)))
	require.NoError(t, tps.Create(ctx, transfer("tp-2", model.TransferRequested, 1)))
	require.NoError(t, tps.Create(ctx, transfer("tp-3", model.TransferStarted, 2)))

	batch, err := tps.NextNotLeased(ctx, "loop-a", 10, int(model.TransferRequested))
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, "tp-2", batch[0].ID, "oldest state timestamp first")

	// Leased rows are invisible to other owners.
	again, err := tps.NextNotLeased(ctx, "loop-b", 10, int(model.TransferRequested))
	require.NoError(t, err)
	assert.Empty(t, again)

	limited, err := tps.NextNotLeased(ctx, "loop-b", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "tp-3", limited[0].ID)
}

func TestLeaseExpires(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	tps := s.Transfers()
	require.NoError(t, tps.Create(ctx, transfer("tp-1", model.TransferStarted, 1)))

	_, err := tps.FindByIDAndLease(ctx, "tp-1", "loop-a")
	require.NoError(t, err)

	_, err = tps.FindByIDAndLease(ctx, "tp-1", "loop-b")
	assert.True(t, IsLeased(err), "expected leased error, got %v", err)
	assert.Equal(t, errors.CodeConflict, errors.GetErrorCode(err))

	// The holder may renew.
	_, err = tps.FindByIDAndLease(ctx, "tp-1", "loop-a")
	require.NoError(t, err)

	clock.advance(11 * time.Second)
	got, err := tps.FindByIDAndLease(ctx, "tp-1", "loop-b")
	require.NoError(t, err)
	assert.Equal(t, "tp-1", got.ID)
}

func TestSaveReleasesLease(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	tps := s.Transfers()
	require.NoError(t, tps.Create(ctx, transfer("tp-1", model.TransferRequested, 1)))

	tp, err := tps.FindByIDAndLease(ctx, "tp-1", "loop-a")
	require.NoError(t, err)

	tp.State = model.TransferStarted
	err = tps.Save(ctx, tp, "loop-b")
	assert.True(t, IsLeased(err), "foreign owner must not save, got %v", err)

	require.NoError(t, tps.Save(ctx, tp, "loop-a"))
	got, err := tps.FindByIDAndLease(ctx, "tp-1", "loop-b")
	require.NoError(t, err)
	assert.Equal(t, model.TransferStarted, got.State)
	require.NoError(t, tps.Release(ctx, "tp-1", "loop-b"))

	// Save inserts entities that do not exist yet.
	require.NoError(t, tps.Save(ctx, transfer("tp-new", model.TransferInitial, 5), "loop-a"))
	_, err = tps.FindByID(ctx, "tp-new")
	require.NoError(t, err)
}

func TestNextNotLeasedBefore(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	tps := s.Transfers()
	require.NoError(t, tps.Create(ctx, transfer("old", model.TransferStarted, 1_000)))
	require.NoError(t, tps.Create(ctx, transfer("fresh", model.TransferStarted, 9_000)))

	batch, err := tps.NextNotLeasedBefore(ctx, "watchdog", 10, 5_000, int(model.TransferStarted))
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, "old", batch[0].ID)
}

func TestFindByCorrelationID(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	n := &model.ContractNegotiation{ID: "provider-side", Type: model.Provider, CorrelationID: "consumer-pid", State: model.NegotiationRequested}
	require.NoError(t, s.Negotiations().Create(ctx, n))

	got, err := s.Negotiations().FindByCorrelationID(ctx, "consumer-pid")
	require.NoError(t, err)
	assert.Equal(t, "provider-side", got.ID)

	_, err = s.Negotiations().FindByCorrelationID(ctx, "other")
	assert.True(t, errors.IsNotFound(err))
}
