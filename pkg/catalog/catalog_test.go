package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DeBrosOfficial/dataspace/pkg/config"
	"github.com/DeBrosOfficial/dataspace/pkg/errors"
	"github.com/DeBrosOfficial/dataspace/pkg/model"
)

func node(id string) model.TargetNode {
	return model.TargetNode{Name: id, ID: id, TargetURL: "http://" + id + "/protocol"}
}

func catalogWith(datasets ...string) *model.Catalog {
	cat := &model.Catalog{ID: "cat", Type: model.TypeCatalog}
	for _, id := range datasets {
		cat.Datasets = append(cat.Datasets, model.Dataset{ID: id, Type: model.TypeDataset})
	}
	return cat
}

type fakeFetcher struct {
	mu       sync.Mutex
	catalogs map[string]*model.Catalog
	calls    []string
}

func (f *fakeFetcher) Fetch(_ context.Context, n model.TargetNode) (*model.Catalog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, n.ID)
	cat, ok := f.catalogs[n.ID]
	if !ok {
		return nil, errors.NewServiceError("counter-party", "unreachable", http.StatusBadGateway, nil)
	}
	return cat, nil
}

func TestFixedDirectoryInsertReplaces(t *testing.T) {
	ctx := context.Background()
	d := NewFixedDirectory(node("a"))
	require.NoError(t, d.Insert(ctx, node("b")))
	updated := node("a")
	updated.TargetURL = "http://a2/protocol"
	require.NoError(t, d.Insert(ctx, updated))

	nodes, err := d.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "http://a2/protocol", nodes[0].TargetURL)

	err = d.Insert(ctx, model.TargetNode{ID: "c"})
	assert.True(t, errors.IsValidation(err))
}

func TestFileDirectory(t *testing.T) {
	ctx := context.Background()
	_, err := NewFileDirectory(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "participants.json")
	data, _ := json.Marshal([]model.TargetNode{node("provider")})
	require.NoError(t, os.WriteFile(path, data, 0o644))

	d, err := NewFileDirectory(path)
	require.NoError(t, err)
	nodes, err := d.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "http://provider/protocol", nodes[0].TargetURL)

	require.NoError(t, d.Insert(ctx, node("consumer")))
	nodes, err = d.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, nodes, 2)

	// Edits to the file are visible without reloading.
	require.NoError(t, os.WriteFile(path, []byte(`[]`), 0o644))
	nodes, err = d.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func TestNewDirectory(t *testing.T) {
	d, err := NewDirectory(config.DirectoryConfig{
		Type:  "fixed",
		Nodes: []config.NodeConfig{{Name: "p", ID: "p", URL: "http://p/protocol"}},
	})
	require.NoError(t, err)
	nodes, _ := d.GetAll(context.Background())
	assert.Equal(t, []model.TargetNode{{Name: "p", ID: "p", TargetURL: "http://p/protocol"}}, nodes)

	_, err = NewDirectory(config.DirectoryConfig{Type: "ldap"})
	assert.Error(t, err)
}

func TestCrawlerKeepsPreviousEntryOnFailure(t *testing.T) {
	ctx := context.Background()
	other := node("legacy")
	other.SupportedProtocols = []string{"ids-multipart"}
	dir := NewFixedDirectory(node("p1"), node("p2"), other)
	fetcher := &fakeFetcher{catalogs: map[string]*model.Catalog{
		"p1": catalogWith("asset-1", "asset-2"),
		"p2": catalogWith("asset-3"),
	}}
	cache := NewMemoryCache()
	c := NewCrawler(dir, fetcher, cache, CrawlerConfig{Workers: 2}, nil)
	c.now = func() time.Time { return time.UnixMilli(1000) }

	stats, err := c.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, CrawlStats{Nodes: 3, Succeeded: 2, Skipped: 1}, stats)
	assert.ElementsMatch(t, []string{"p1", "p2"}, fetcher.calls)

	delete(fetcher.catalogs, "p2")
	c.now = func() time.Time { return time.UnixMilli(2000) }
	stats, err = c.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, int64(2), c.Crawls())
	assert.Equal(t, int64(1), c.Failures())

	cats, err := cache.Query(ctx, model.QuerySpec{})
	require.NoError(t, err)
	require.Len(t, cats, 2)
	assert.Equal(t, "http://p1/protocol", cats[0].Properties[PropertyOriginator])
	assert.Equal(t, int64(2000), cats[0].Properties[PropertyUpdatedAt])
	assert.Equal(t, int64(1000), cats[1].Properties[PropertyUpdatedAt])

	removed, err := cache.DeleteExpired(ctx, 1500)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	cats, _ = cache.Query(ctx, model.QuerySpec{})
	assert.Len(t, cats, 1)
}

func TestCrawlerDropsEntriesPastRetention(t *testing.T) {
	ctx := context.Background()
	fetcher := &fakeFetcher{catalogs: map[string]*model.Catalog{
		"p1": catalogWith("asset-1"),
		"p2": catalogWith("asset-2"),
	}}
	cache := NewMemoryCache()
	c := NewCrawler(NewFixedDirectory(node("p1"), node("p2")), fetcher, cache,
		CrawlerConfig{Period: time.Second, Retention: 3 * time.Second}, nil)
	c.now = func() time.Time { return time.UnixMilli(10_000) }
	_, err := c.RunOnce(ctx)
	require.NoError(t, err)

	// p2 stops answering; its entry survives one crawl inside the retention.
	delete(fetcher.catalogs, "p2")
	c.now = func() time.Time { return time.UnixMilli(12_000) }
	stats, err := c.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Expired)
	cats, _ := cache.Query(ctx, model.QuerySpec{})
	assert.Len(t, cats, 2)

	c.now = func() time.Time { return time.UnixMilli(14_000) }
	stats, err = c.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Expired)
	cats, _ = cache.Query(ctx, model.QuerySpec{})
	require.Len(t, cats, 1)
	assert.Equal(t, "p1", cats[0].Properties[PropertyNodeID])
}

func TestCrawlerRetentionDefaultsToFivePeriods(t *testing.T) {
	c := NewCrawler(NewFixedDirectory(), &fakeFetcher{}, NewMemoryCache(), CrawlerConfig{Period: 2 * time.Second}, nil)
	assert.Equal(t, 10*time.Second, c.cfg.Retention)
}

func TestCrawlerRunStopsWithContext(t *testing.T) {
	fetcher := &fakeFetcher{catalogs: map[string]*model.Catalog{"p1": catalogWith("a")}}
	c := NewCrawler(NewFixedDirectory(node("p1")), fetcher, NewMemoryCache(),
		CrawlerConfig{Delay: time.Millisecond, Period: 10 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return c.Crawls() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("crawler did not stop")
	}
}

func TestQueryAPI(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache()
	for i, id := range []string{"p1", "p2"} {
		require.NoError(t, cache.Save(ctx, Entry{
			NodeID:    id,
			Origin:    "http://" + id + "/protocol",
			UpdatedAt: int64(i),
			Catalog:   *catalogWith(fmt.Sprintf("asset-%s", id)),
		}))
	}

	r := chi.NewRouter()
	r.Route("/api/catalog", NewQueryHandlers(cache).Routes)
	srv := httptest.NewServer(r)
	defer srv.Close()

	post := func(body string) (*http.Response, []model.Catalog) {
		res, err := http.Post(srv.URL+"/api/catalog"+PathQuery, "application/json", strings.NewReader(body))
		require.NoError(t, err)
		defer res.Body.Close()
		var cats []model.Catalog
		if res.StatusCode == http.StatusOK {
			require.NoError(t, json.NewDecoder(res.Body).Decode(&cats))
		}
		return res, cats
	}

	res, cats := post(`{}`)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Len(t, cats, 2)

	res, cats = post(`{"filterExpression":[{"operandLeft":"dcat:dataset.@id","operator":"=","operandRight":"asset-p2"}]}`)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	require.Len(t, cats, 1)
	assert.Equal(t, "http://p2/protocol", cats[0].Properties[PropertyOriginator])

	res, _ = post(`{"filterExpression":[{"operandLeft":"x","operator":"~","operandRight":"y"}]}`)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}
