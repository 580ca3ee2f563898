package signaling

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/DeBrosOfficial/dataspace/pkg/logging"
	"github.com/DeBrosOfficial/dataspace/pkg/model"
)

// ControlClient is used by a data plane to report back to a control plane.
type ControlClient struct {
	httpClient *http.Client
	logger     *logging.ColoredLogger
}

// NewControlClient creates a control API client.
func NewControlClient(timeout time.Duration, logger *logging.ColoredLogger) *ControlClient {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &ControlClient{httpClient: &http.Client{Timeout: timeout}, logger: logger}
}

// Complete tells the control plane at callback that the transfer finished.
func (c *ControlClient) Complete(ctx context.Context, callback, processID string) error {
	return doJSON(ctx, c.httpClient, c.logger, "control plane", http.MethodPost,
		transferURL(callback, processID, "/complete"), struct{}{}, nil)
}

// Fail tells the control plane that the transfer failed.
func (c *ControlClient) Fail(ctx context.Context, callback, processID, reason string) error {
	return doJSON(ctx, c.httpClient, c.logger, "control plane", http.MethodPost,
		transferURL(callback, processID, "/fail"), TransferFailMessage{ErrorMessage: reason}, nil)
}

// Register announces a data plane to the control API at controlURL.
func (c *ControlClient) Register(ctx context.Context, controlURL string, instance model.DataPlaneInstance) error {
	return doJSON(ctx, c.httpClient, c.logger, "control plane", http.MethodPost,
		strings.TrimSuffix(controlURL, "/")+PathDataPlanes, instance, nil)
}

func transferURL(callback, processID, suffix string) string {
	return strings.TrimSuffix(callback, "/") + PathTransferProcesses + "/" + url.PathEscape(processID) + suffix
}
