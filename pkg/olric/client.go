// Package olric holds the connection to the Olric cluster that federated
// catalog instances share their crawl results through.
package olric

import (
	"context"
	"fmt"
	"sync"
	"time"

	olriclib "github.com/olric-data/olric"
	"go.uber.org/zap"

	"github.com/DeBrosOfficial/dataspace/pkg/logging"
)

const (
	DefaultServer  = "localhost:3320"
	DefaultTimeout = 10 * time.Second

	probeMap = "dataspace.probe"
)

// Config selects the cluster members to talk to.
type Config struct {
	Servers []string // defaults to DefaultServer
	Timeout time.Duration
}

// Client is a cluster client that hands out DMaps by name and reuses them.
type Client struct {
	cluster olriclib.Client
	timeout time.Duration
	logger  *logging.ColoredLogger

	mu    sync.Mutex
	dmaps map[string]olriclib.DMap
}

// NewClient dials the cluster. Olric connects lazily, so an unreachable
// cluster shows up on the first operation or on Health.
func NewClient(cfg Config, logger *logging.ColoredLogger) (*Client, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if len(cfg.Servers) == 0 {
		cfg.Servers = []string{DefaultServer}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	cluster, err := olriclib.NewClusterClient(cfg.Servers)
	if err != nil {
		return nil, fmt.Errorf("olric cluster %v: %w", cfg.Servers, err)
	}
	logger.ComponentInfo(logging.ComponentCatalog, "Using Olric catalog cache",
		zap.Strings("servers", cfg.Servers),
		zap.Duration("timeout", cfg.Timeout),
	)
	return &Client{
		cluster: cluster,
		timeout: cfg.Timeout,
		logger:  logger,
		dmaps:   map[string]olriclib.DMap{},
	}, nil
}

// Timeout bounds a single cache operation.
func (c *Client) Timeout() time.Duration { return c.timeout }

// DMap returns the distributed map called name, opening it on first use.
func (c *Client) DMap(name string) (olriclib.DMap, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if dm, ok := c.dmaps[name]; ok {
		return dm, nil
	}
	dm, err := c.cluster.NewDMap(name)
	if err != nil {
		return nil, fmt.Errorf("olric dmap %s: %w", name, err)
	}
	c.dmaps[name] = dm
	return dm, nil
}

// Health round-trips a short-lived key through the cluster.
func (c *Client) Health(ctx context.Context) error {
	dm, err := c.DMap(probeMap)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	key := "probe-" + time.Now().UTC().Format(time.RFC3339Nano)
	if err := dm.Put(ctx, key, key, olriclib.EX(time.Minute)); err != nil {
		return fmt.Errorf("olric probe write: %w", err)
	}
	defer dm.Delete(ctx, key)

	resp, err := dm.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("olric probe read: %w", err)
	}
	got, err := resp.String()
	if err != nil {
		return fmt.Errorf("olric probe read: %w", err)
	}
	if got != key {
		return fmt.Errorf("olric probe read back %q, wrote %q", got, key)
	}
	return nil
}

// Close releases the cluster connections. It is safe on a nil client.
func (c *Client) Close(ctx context.Context) error {
	if c == nil || c.cluster == nil {
		return nil
	}
	return c.cluster.Close(ctx)
}
