package catalog

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DeBrosOfficial/dataspace/pkg/logging"
	"github.com/DeBrosOfficial/dataspace/pkg/model"
	"github.com/DeBrosOfficial/dataspace/pkg/protocol"
)

// Fetcher requests the catalog of one node.
type Fetcher interface {
	Fetch(ctx context.Context, node model.TargetNode) (*model.Catalog, error)
}

// DSPFetcher fetches catalogs over the dataspace protocol.
type DSPFetcher struct {
	Dispatcher protocol.Dispatcher
}

// Fetch implements Fetcher.
func (f DSPFetcher) Fetch(ctx context.Context, node model.TargetNode) (*model.Catalog, error) {
	return protocol.RequestCatalog(ctx, f.Dispatcher, node.TargetURL, nil)
}

// CrawlerConfig tunes a crawler.
type CrawlerConfig struct {
	Delay     time.Duration // before the first crawl
	Period    time.Duration // between crawls; zero means one minute
	Workers   int           // concurrent requests; zero means 4
	Retention time.Duration // age at which entries are dropped; zero means five periods
}

// CrawlStats summarizes one crawl.
type CrawlStats struct {
	Nodes     int
	Succeeded int
	Failed    int
	Skipped   int
	Expired   int
}

// Crawler fills a cache with the catalogs of every node of a directory.
type Crawler struct {
	dir     NodeDirectory
	fetcher Fetcher
	cache   Cache
	cfg     CrawlerConfig
	logger  *logging.ColoredLogger
	now     func() time.Time

	crawls   atomic.Int64
	failures atomic.Int64
}

// NewCrawler creates a crawler.
func NewCrawler(dir NodeDirectory, fetcher Fetcher, cache Cache, cfg CrawlerConfig, logger *logging.ColoredLogger) *Crawler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if cfg.Period <= 0 {
		cfg.Period = time.Minute
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 5 * cfg.Period
	}
	return &Crawler{dir: dir, fetcher: fetcher, cache: cache, cfg: cfg, logger: logger, now: time.Now}
}

// Cache returns the crawler's cache.
func (c *Crawler) Cache() Cache { return c.cache }

// Crawls is the number of completed crawls.
func (c *Crawler) Crawls() int64 { return c.crawls.Load() }

// Failures is the number of failed node requests over all crawls.
func (c *Crawler) Failures() int64 { return c.failures.Load() }

// RunOnce crawls every node once. Failed nodes keep their previous entry
// until it is older than the retention. Only a directory error fails the
// crawl.
func (c *Crawler) RunOnce(ctx context.Context) (CrawlStats, error) {
	nodes, err := c.dir.GetAll(ctx)
	if err != nil {
		return CrawlStats{}, err
	}
	stats := CrawlStats{Nodes: len(nodes)}
	var succeeded, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Workers)
	for _, node := range nodes {
		if !node.SupportsProtocol(model.ProtocolDSP) {
			stats.Skipped++
			continue
		}
		g.Go(func() error {
			cat, err := c.fetcher.Fetch(gctx, node)
			if err == nil {
				err = c.cache.Save(gctx, Entry{
					NodeID:    node.ID,
					Origin:    node.TargetURL,
					UpdatedAt: c.now().UnixMilli(),
					Catalog:   *cat,
				})
			}
			if err != nil {
				failed.Add(1)
				c.logger.ComponentWarn(logging.ComponentCatalog, "Catalog crawl of node failed",
					zap.String("node", node.ID),
					zap.String("url", node.TargetURL),
					zap.Error(err),
				)
				return nil
			}
			succeeded.Add(1)
			c.logger.ComponentDebug(logging.ComponentCatalog, "Catalog crawled",
				zap.String("node", node.ID), zap.Int("datasets", len(cat.Datasets)))
			return nil
		})
	}
	_ = g.Wait()

	stats.Succeeded = int(succeeded.Load())
	stats.Failed = int(failed.Load())
	if ctx.Err() == nil {
		stats.Expired = c.expire(ctx)
	}
	c.crawls.Add(1)
	c.failures.Add(int64(stats.Failed))
	c.logger.ComponentInfo(logging.ComponentCatalog, "Crawl finished",
		zap.Int("nodes", stats.Nodes),
		zap.Int("succeeded", stats.Succeeded),
		zap.Int("failed", stats.Failed),
		zap.Int("skipped", stats.Skipped),
		zap.Int("expired", stats.Expired),
	)
	return stats, ctx.Err()
}

// expire drops entries of nodes that have not answered within the
// retention, including nodes gone from the directory.
func (c *Crawler) expire(ctx context.Context) int {
	cutoff := c.now().Add(-c.cfg.Retention).UnixMilli()
	n, err := c.cache.DeleteExpired(ctx, cutoff)
	if err != nil {
		c.logger.ComponentWarn(logging.ComponentCatalog, "Failed to drop expired catalogs", zap.Error(err))
	}
	return n
}

// Run crawls after the configured delay and then every period until ctx is
// done.
func (c *Crawler) Run(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(c.cfg.Delay):
	}
	ticker := time.NewTicker(c.cfg.Period)
	defer ticker.Stop()
	for {
		if _, err := c.RunOnce(ctx); err != nil && ctx.Err() == nil {
			c.logger.ComponentError(logging.ComponentCatalog, "Crawl failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
