package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/DeBrosOfficial/dataspace/pkg/httputil"
	"github.com/DeBrosOfficial/dataspace/pkg/logging"
)

const maxErrorBody = 8 << 10

// Client talks to a connector's management API.
type Client struct {
	config     *ClientConfig
	baseURL    string
	httpClient *http.Client
	logger     *logging.ColoredLogger
}

// NewClient creates a client. A nil logger is derived from QuietMode.
func NewClient(config *ClientConfig, logger *logging.ColoredLogger) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("%w: config cannot be nil", ErrInvalidConfig)
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	cfg := *config
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Second
	}
	if logger == nil {
		logger = newClientLogger(cfg.QuietMode)
	}
	return &Client{
		config:     &cfg,
		baseURL:    strings.TrimSuffix(cfg.ManagementURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}, nil
}

// Config returns a copy of the effective configuration.
func (c *Client) Config() ClientConfig {
	return *c.config
}

func (c *Client) addAuthHeaders(req *http.Request) {
	if c.config.APIKey != "" {
		req.Header.Set(httputil.APIKeyHeader, c.config.APIKey)
	}
}

// do sends one management call. in is JSON encoded when non-nil; out is
// decoded from a 2xx body when non-nil.
func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	return c.doURL(ctx, op, method, c.baseURL+path, true, in, out)
}

func (c *Client) doURL(ctx context.Context, op, method, target string, auth bool, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return NewClientError(op, 0, fmt.Errorf("failed to marshal request: %w", err))
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return NewClientError(op, 0, fmt.Errorf("failed to create request: %w", err))
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if auth {
		c.addAuthHeaders(req)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return NewClientError(op, 0, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	c.logger.ComponentDebug(logging.ComponentGeneral, "Management call",
		zap.String("op", op),
		zap.String("method", method),
		zap.String("url", target),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return decodeError(op, resp.StatusCode, raw)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return NewClientError(op, resp.StatusCode, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

func escape(id string) string {
	return url.PathEscape(id)
}
