package signaling

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

	"github.com/DeBrosOfficial/dataspace/pkg/errors"
	"github.com/DeBrosOfficial/dataspace/pkg/logging"
	"github.com/DeBrosOfficial/dataspace/pkg/model"
)

// Client controls data flows on one data plane.
type Client interface {
	Start(ctx context.Context, msg DataFlowStartMessage) (*DataFlowResponseMessage, error)
	Suspend(ctx context.Context, processID, reason string) error
	Terminate(ctx context.Context, processID, reason string) error
	GetState(ctx context.Context, processID string) (model.DataFlowState, error)
	Check(ctx context.Context) error
}

// ClientFactory returns the client for a registered data plane.
type ClientFactory func(instance model.DataPlaneInstance) Client

// HTTPClient talks to a remote data plane's signaling API.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.ColoredLogger
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a client for the data plane at baseURL. If timeout is
// zero it defaults to 30 seconds.
func NewHTTPClient(baseURL string, timeout time.Duration, logger *logging.ColoredLogger) *HTTPClient {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &HTTPClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// HTTPClientFactory builds HTTP clients for remote instances.
func HTTPClientFactory(timeout time.Duration, logger *logging.ColoredLogger) ClientFactory {
	return func(instance model.DataPlaneInstance) Client {
		return NewHTTPClient(instance.URL, timeout, logger)
	}
}

// Start implements Client.
func (c *HTTPClient) Start(ctx context.Context, msg DataFlowStartMessage) (*DataFlowResponseMessage, error) {
	var resp DataFlowResponseMessage
	if err := c.do(ctx, http.MethodPost, PathDataFlows, msg, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Suspend implements Client.
func (c *HTTPClient) Suspend(ctx context.Context, processID, reason string) error {
	return c.do(ctx, http.MethodPost, flowPath(processID, "/suspend"), DataFlowSuspendMessage{Reason: reason}, nil)
}

// Terminate implements Client.
func (c *HTTPClient) Terminate(ctx context.Context, processID, reason string) error {
	return c.do(ctx, http.MethodPost, flowPath(processID, "/terminate"), DataFlowTerminateMessage{Reason: reason}, nil)
}

// GetState implements Client.
func (c *HTTPClient) GetState(ctx context.Context, processID string) (model.DataFlowState, error) {
	var st DataFlowStatusMessage
	if err := c.do(ctx, http.MethodGet, flowPath(processID, "/state"), nil, &st); err != nil {
		return "", err
	}
	return st.State, nil
}

// Check implements Client.
func (c *HTTPClient) Check(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, PathCheck, nil, nil)
}

func flowPath(processID, suffix string) string {
	return PathDataFlows + "/" + url.PathEscape(processID) + suffix
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	return doJSON(ctx, c.httpClient, c.logger, "data plane", method, c.baseURL+path, in, out)
}

// doJSON performs one JSON call and maps failures onto typed errors.
func doJSON(ctx context.Context, hc *http.Client, logger *logging.ColoredLogger, service, method, target string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return errors.WithCode(errors.CodeSerializationError, "encode signaling message", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", service, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return errors.NewServiceError(service, fmt.Sprintf("%s %s failed", method, target), 0, err)
	}
	defer resp.Body.Close()

	logger.ComponentDebug(logging.ComponentSignaling, "Signaling call",
		zap.String("method", method),
		zap.String("url", target),
		zap.Int("status", resp.StatusCode),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		msg := strings.TrimSpace(string(raw))
		var herr errors.HTTPError
		if json.Unmarshal(raw, &herr) == nil && herr.Message != "" {
			msg = herr.Message
		}
		return errors.FromHTTPStatus(service, resp.StatusCode, msg)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return errors.WithCode(errors.CodeSerializationError, "decode signaling response", err)
	}
	return nil
}
