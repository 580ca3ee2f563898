package store

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DeBrosOfficial/dataspace/pkg/config"
	"github.com/DeBrosOfficial/dataspace/pkg/errors"
	"github.com/DeBrosOfficial/dataspace/pkg/model"
)

// testClock is a settable clock for lease expiry.
type testClock struct{ ms atomic.Int64 }

func (c *testClock) now() time.Time          { return time.UnixMilli(c.ms.Load()) }
func (c *testClock) advance(d time.Duration) { c.ms.Add(d.Milliseconds()) }

func newTestStore(t *testing.T) (*SQLStore, *testClock) {
	t.Helper()
	clock := &testClock{}
	clock.ms.Store(1_700_000_000_000)
	cfg := config.StoreConfig{
		Driver:        "sqlite3",
		DSN:           fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
		LeaseDuration: 10 * time.Second,
		MaxOpenConns:  1,
	}
	s, err := Open(context.Background(), cfg, nil, WithClock(clock.now))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, clock
}

func httpAsset(id string) *model.Asset {
	return &model.Asset{
		ID:          id,
		Properties:  map[string]any{"name": "product description", "contenttype": "application/json"},
		DataAddress: model.DataAddress{"type": "HttpData", "baseUrl": "https://jsonplaceholder.typicode.com/users"},
		CreatedAt:   1,
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, ApplyMigrations(ctx, s.DB(), Migrations(), nil))

	var n int
	require.NoError(t, s.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&n))
	assert.Equal(t, 3, n)
}

func TestAssetCRUD(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	assets := s.Assets()

	require.NoError(t, assets.Create(ctx, httpAsset("assetId")))

	err := assets.Create(ctx, httpAsset("assetId"))
	assert.True(t, errors.IsConflict(err), "duplicate create should conflict, got %v", err)

	got, err := assets.FindByID(ctx, "assetId")
	require.NoError(t, err)
	assert.Equal(t, "HttpData", got.DataAddress.Type())
	assert.Equal(t, "product description", got.Property("name"))

	got.Properties["name"] = "changed"
	require.NoError(t, assets.Update(ctx, got))
	got, _ = assets.FindByID(ctx, "assetId")
	assert.Equal(t, "changed", got.Property("name"))

	err = assets.Update(ctx, httpAsset("missing"))
	assert.True(t, errors.IsNotFound(err))

	require.NoError(t, assets.Delete(ctx, "assetId"))
	_, err = assets.FindByID(ctx, "assetId")
	assert.True(t, errors.IsNotFound(err))
	assert.True(t, errors.IsNotFound(assets.Delete(ctx, "assetId")))
}

func TestAssetQuery(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	for i, id := range []string{"asset-1", "asset-2", "asset-3"} {
		a := httpAsset(id)
		a.CreatedAt = int64(i)
		if i == 2 {
			a.Properties["contenttype"] = "text/plain"
		}
		require.NoError(t, s.Assets().Create(ctx, a))
	}

	byID, err := s.Assets().Query(ctx, model.QuerySpec{
		FilterExpression: []model.Criterion{model.NewCriterion(model.PropertyID, "=", "asset-2")},
	})
	require.NoError(t, err)
	require.Len(t, byID, 1)
	assert.Equal(t, "asset-2", byID[0].ID)

	json, err := s.Assets().Query(ctx, model.QuerySpec{
		FilterExpression: []model.Criterion{model.NewCriterion("contenttype", "=", "application/json")},
		SortField:        "createdAt",
		SortOrder:        model.SortDesc,
	})
	require.NoError(t, err)
	require.Len(t, json, 2)
	assert.Equal(t, "asset-2", json[0].ID)

	_, err = s.Assets().Query(ctx, model.QuerySpec{Offset: -1})
	assert.True(t, errors.IsValidation(err))
}

func TestAssetDeleteReferencedByAgreement(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Assets().Create(ctx, httpAsset("assetId")))

	n := &model.ContractNegotiation{ID: "neg-1", Type: model.Provider, State: model.NegotiationFinalized}
	n.SetAgreement(model.ContractAgreement{ID: "agr-1", AssetID: "assetId", ProviderID: "provider", ConsumerID: "consumer"})
	require.NoError(t, s.Negotiations().Create(ctx, n))

	err := s.Assets().Delete(ctx, "assetId")
	assert.True(t, errors.IsConflict(err), "expected conflict, got %v", err)

	agr, err := s.Negotiations().FindAgreement(ctx, "agr-1")
	require.NoError(t, err)
	assert.Equal(t, "consumer", agr.ConsumerID)

	found, err := s.Negotiations().FindByAgreementID(ctx, "agr-1")
	require.NoError(t, err)
	assert.Equal(t, "neg-1", found.ID)
}

func TestPolicyDeleteReferencedByDefinition(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.PolicyDefinitions().Create(ctx, &model.PolicyDefinition{ID: "aPolicy"}))
	require.NoError(t, s.ContractDefinitions().Create(ctx, &model.ContractDefinition{
		ID: "1", AccessPolicyID: "aPolicy", ContractPolicyID: "aPolicy",
	}))

	assert.True(t, errors.IsConflict(s.PolicyDefinitions().Delete(ctx, "aPolicy")))

	require.NoError(t, s.ContractDefinitions().Delete(ctx, "1"))
	require.NoError(t, s.PolicyDefinitions().Delete(ctx, "aPolicy"))
}

func TestUpsertAndFindByProcessID(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	flow := &model.DataFlow{ID: "flow-1", ProcessID: "tp-1", State: model.FlowReceived}
	require.NoError(t, s.DataFlows().Upsert(ctx, flow))
	flow.State = model.FlowStarted
	require.NoError(t, s.DataFlows().Upsert(ctx, flow))

	got, err := s.DataFlows().FindByProcessID(ctx, "tp-1")
	require.NoError(t, err)
	assert.Equal(t, model.FlowStarted, got.State)

	_, err = s.DataFlows().FindByProcessID(ctx, "tp-2")
	assert.True(t, errors.IsNotFound(err))
}

func TestEDRStore(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	edr := &model.EDREntry{
		TransferProcessID: "tp-1",
		AgreementID:       "agr-1",
		DataAddress:       model.NewEndpointDataReference("tp-1", "http://localhost:19291/public", "token", "agr-1"),
	}
	require.NoError(t, s.EDRs().Upsert(ctx, edr))

	got, err := s.EDRs().FindByID(ctx, "tp-1")
	require.NoError(t, err)
	assert.Equal(t, "token", got.DataAddress.GetString(model.KeyAuthorization))
	assert.Equal(t, "http://localhost:19291/public", got.DataAddress.GetString(model.KeyEndpoint))
}

func TestSplitStatements(t *testing.T) {
	script := `
-- leading comment; with semicolon
CREATE TABLE a (x TEXT DEFAULT 'a;b');
/* block; comment */
INSERT INTO a(x) VALUES ('it''s');
begin   transaction;
INSERT INTO "we;ird"(x) VALUES ('y');
COMMIT`
	stmts := splitStatements(script)
	require.Len(t, stmts, 3)
	assert.Contains(t, stmts[0], "'a;b'")
	assert.Contains(t, stmts[1], "'it''s'")
	assert.Contains(t, stmts[2], `"we;ird"`)
	for _, s := range stmts {
		assert.NotContains(t, s, "comment")
	}
}

func TestLoadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"010_later.sql":  {Data: []byte("CREATE TABLE b (y INT);")},
		"002_first.sql":  {Data: []byte("CREATE TABLE a (x INT); CREATE INDEX a_x ON a(x);")},
		"notes.sql":      {Data: []byte("ignored")},
		"003_readme.txt": {Data: []byte("ignored")},
	}
	migs, err := LoadMigrations(fsys)
	require.NoError(t, err)
	require.Len(t, migs, 2)
	assert.Equal(t, 2, migs[0].Version)
	assert.Len(t, migs[0].Statements, 2)
	assert.Equal(t, "010_later.sql", migs[1].Name)

	fsys["2_dup.sql"] = &fstest.MapFile{Data: []byte("SELECT 1;")}
	_, err = LoadMigrations(fsys)
	assert.ErrorContains(t, err, "share version 2")
}

func TestShippedMigrationsParse(t *testing.T) {
	migs, err := LoadMigrations(Migrations())
	require.NoError(t, err)
	require.Len(t, migs, 3)
	for i, m := range migs {
		assert.Equal(t, i+1, m.Version)
		assert.NotEmpty(t, m.Statements, m.Name)
	}
}
