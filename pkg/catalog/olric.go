package catalog

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"

	olriclib "github.com/olric-data/olric"
	"go.uber.org/zap"

	"github.com/DeBrosOfficial/dataspace/pkg/errors"
	"github.com/DeBrosOfficial/dataspace/pkg/logging"
	"github.com/DeBrosOfficial/dataspace/pkg/model"
	"github.com/DeBrosOfficial/dataspace/pkg/olric"
)

// OlricCache stores entries as JSON in an Olric DMap keyed by node id, so
// several catalog instances share one crawl result.
type OlricCache struct {
	client *olric.Client
	dmap   olriclib.DMap
	logger *logging.ColoredLogger
}

var _ Cache = (*OlricCache)(nil)

// NewOlricCache opens the DMap named dmap.
func NewOlricCache(client *olric.Client, dmap string, logger *logging.ColoredLogger) (*OlricCache, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	dm, err := client.DMap(dmap)
	if err != nil {
		return nil, errors.WithCode(errors.CodeCacheError, "open catalog cache", err)
	}
	return &OlricCache{client: client, dmap: dm, logger: logger}, nil
}

func (c *OlricCache) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.client.Timeout())
}

// Save implements Cache.
func (c *OlricCache) Save(ctx context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	if err := c.dmap.Put(ctx, e.NodeID, data); err != nil {
		return errors.WithCode(errors.CodeCacheError, "store catalog of "+e.NodeID, err)
	}
	return nil
}

// entries scans the whole DMap. Keys removed during the scan are skipped.
func (c *OlricCache) entries(ctx context.Context) ([]Entry, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	it, err := c.dmap.Scan(ctx)
	if err != nil {
		return nil, errors.WithCode(errors.CodeCacheError, "scan catalog cache", err)
	}
	defer it.Close()

	var keys []string
	for it.Next() {
		keys = append(keys, it.Key())
	}

	out := make([]Entry, 0, len(keys))
	for _, key := range keys {
		gr, err := c.dmap.Get(ctx, key)
		if stderrors.Is(err, olriclib.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, errors.WithCode(errors.CodeCacheError, "read catalog of "+key, err)
		}
		var raw []byte
		if err := gr.Scan(&raw); err != nil {
			return nil, errors.WithCode(errors.CodeCacheError, "read catalog of "+key, err)
		}
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			c.logger.ComponentWarn(logging.ComponentCatalog, "Skipping undecodable cache entry",
				zap.String("key", key), zap.Error(err))
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Query implements Cache.
func (c *OlricCache) Query(ctx context.Context, q model.QuerySpec) ([]model.Catalog, error) {
	entries, err := c.entries(ctx)
	if err != nil {
		return nil, err
	}
	return queryEntries(entries, q)
}

// DeleteExpired implements Cache.
func (c *OlricCache) DeleteExpired(ctx context.Context, beforeMillis int64) (int, error) {
	entries, err := c.entries(ctx)
	if err != nil {
		return 0, err
	}
	var stale []string
	for _, e := range entries {
		if e.UpdatedAt < beforeMillis {
			stale = append(stale, e.NodeID)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	n, err := c.dmap.Delete(ctx, stale...)
	if err != nil {
		return n, fmt.Errorf("delete expired catalogs: %w", err)
	}
	return n, nil
}
