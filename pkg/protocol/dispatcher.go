package protocol

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
	"github.com/DeBrosOfficial/dataspace/pkg/identity"
	"github.com/DeBrosOfficial/dataspace/pkg/logging"
	"github.com/DeBrosOfficial/dataspace/pkg/model"
)

// Dispatcher sends protocol messages to a counter-party. A nil msg issues
// a GET; otherwise msg is POSTed as JSON. A non-nil response is decoded
// from the answer body.
type Dispatcher interface {
	Send(ctx context.Context, address, path string, msg, response any) error
}

// HTTPDispatcher is the Dispatcher used between connectors.
type HTTPDispatcher struct {
	httpClient *http.Client
	identity   identity.Service
	logger     *logging.ColoredLogger
}

var _ Dispatcher = (*HTTPDispatcher)(nil)

// NewHTTPDispatcher creates a dispatcher signing requests with ids.
// timeout bounds each request; zero means 30 seconds.
func NewHTTPDispatcher(ids identity.Service, timeout time.Duration, logger *logging.ColoredLogger) *HTTPDispatcher {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &HTTPDispatcher{
		httpClient: &http.Client{Timeout: timeout},
		identity:   ids,
		logger:     logger,
	}
}

// Send implements Dispatcher.
func (d *HTTPDispatcher) Send(ctx context.Context, address, path string, msg, response any) error {
	target := strings.TrimSuffix(address, "/") + path

	method := http.MethodGet
	var body io.Reader
	if msg != nil {
		method = http.MethodPost
		b, err := json.Marshal(msg)
		if err != nil {
			return errors.WithCode(errors.CodeSerializationError, "encode protocol message", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return errors.NewValidationError("counterPartyAddress", fmt.Sprintf("invalid address %q", address), nil)
	}
	req.Header.Set("Content-Type", "application/json")
	token, err := d.identity.ObtainToken(address)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", token)

	start := time.Now()
	resp, err := d.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return errors.NewTimeoutError("send "+path, time.Since(start).String())
		}
		return errors.NewServiceError("counter-party", fmt.Sprintf("%s %s failed", method, target), 0, err)
	}
	defer resp.Body.Close()

	d.logger.ComponentDebug(logging.ComponentProtocol, "Protocol message sent",
		zap.String("method", method),
		zap.String("url", target),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return remoteError(resp.StatusCode, raw)
	}
	if response == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(response); err != nil {
		return errors.WithCode(errors.CodeSerializationError, "decode protocol response", err)
	}
	return nil
}

// remoteError builds a ServiceError from a failed answer, keeping the
// remote reasons when the body is a protocol error.
func remoteError(status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	var perr Error
	if json.Unmarshal(body, &perr) == nil && len(perr.Reasons) > 0 {
		msg = strings.Join(perr.Reasons, "; ")
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return errors.NewServiceError("counter-party", fmt.Sprintf("counter-party answered %d: %s", status, msg), status, nil)
}

// RequestCatalog fetches the catalog of the connector at address.
func RequestCatalog(ctx context.Context, d Dispatcher, address string, q *model.QuerySpec) (*model.Catalog, error) {
	var cat model.Catalog
	if err := d.Send(ctx, address, PathCatalogRequest, NewCatalogRequest(q), &cat); err != nil {
		return nil, err
	}
	return &cat, nil
}

// RequestDataset fetches a single dataset.
func RequestDataset(ctx context.Context, d Dispatcher, address, id string) (*model.Dataset, error) {
	var ds model.Dataset
	if err := d.Send(ctx, address, PathDatasets+url.PathEscape(id), nil, &ds); err != nil {
		return nil, err
	}
	return &ds, nil
}
