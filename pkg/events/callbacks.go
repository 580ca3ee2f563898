package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/DeBrosOfficial/dataspace/pkg/logging"
	"github.com/DeBrosOfficial/dataspace/pkg/model"
	"github.com/DeBrosOfficial/dataspace/pkg/vault"
)

type delivery struct {
	event    Event
	callback model.CallbackAddress
}

// CallbackDispatcher POSTs events to the callback addresses registered on
// negotiations and transfers.
type CallbackDispatcher struct {
	httpClient *http.Client
	vault      vault.Vault
	logger     *logging.ColoredLogger
	queue      chan delivery
	attempts   int
	backoff    time.Duration
}

// NewCallbackDispatcher creates a dispatcher. v resolves AuthCodeID
// secrets and may be nil.
func NewCallbackDispatcher(v vault.Vault, logger *logging.ColoredLogger) *CallbackDispatcher {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &CallbackDispatcher{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		vault:      v,
		logger:     logger,
		queue:      make(chan delivery, 256),
		attempts:   3,
		backoff:    500 * time.Millisecond,
	}
}

// Handle is a bus Subscriber queueing deliveries for matching callbacks.
// When the queue is full the delivery is dropped and logged. Transactional
// callbacks are left to DeliverTransactional.
func (d *CallbackDispatcher) Handle(e Event) {
	for _, cb := range e.Callbacks {
		if cb.Transactional || !cb.Matches(e.Type) {
			continue
		}
		select {
		case d.queue <- delivery{event: e, callback: cb}:
		default:
			d.logger.ComponentWarn(logging.ComponentEvents, "Callback queue full, dropping event",
				zap.String("type", e.Type), zap.String("uri", cb.URI))
		}
	}
}

// DeliverTransactional posts e to every matching transactional callback
// before the state change behind it is stored. Each callback gets one
// attempt; the first failure is returned and the caller rolls back.
func (d *CallbackDispatcher) DeliverTransactional(ctx context.Context, e Event) error {
	var body []byte
	for _, cb := range e.Callbacks {
		if !cb.Transactional || !cb.Matches(e.Type) {
			continue
		}
		if body == nil {
			b, err := json.Marshal(e)
			if err != nil {
				return err
			}
			body = b
		}
		if err := d.post(ctx, cb, body); err != nil {
			d.logger.ComponentWarn(logging.ComponentEvents, "Transactional callback failed",
				zap.String("type", e.Type), zap.String("uri", cb.URI), zap.Error(err))
			return fmt.Errorf("callback %s: %w", cb.URI, err)
		}
	}
	return nil
}

// Run delivers queued events until ctx is done.
func (d *CallbackDispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case dl := <-d.queue:
			if err := d.deliver(ctx, dl); err != nil {
				d.logger.ComponentWarn(logging.ComponentEvents, "Callback delivery failed",
					zap.String("type", dl.event.Type),
					zap.String("uri", dl.callback.URI),
					zap.Error(err))
			}
		}
	}
}

func (d *CallbackDispatcher) deliver(ctx context.Context, dl delivery) error {
	body, err := json.Marshal(dl.event)
	if err != nil {
		return err
	}
	var lastErr error
	wait := d.backoff
	for attempt := 1; attempt <= d.attempts; attempt++ {
		if lastErr = d.post(ctx, dl.callback, body); lastErr == nil {
			return nil
		}
		if attempt == d.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
	return lastErr
}

func (d *CallbackDispatcher) post(ctx context.Context, cb model.CallbackAddress, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cb.URI, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if cb.AuthKey != "" && cb.AuthCodeID != "" && d.vault != nil {
		secret, err := d.vault.ResolveSecret(ctx, cb.AuthCodeID)
		if err != nil {
			return fmt.Errorf("resolve callback auth code: %w", err)
		}
		req.Header.Set(cb.AuthKey, secret)
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("callback answered %d", resp.StatusCode)
	}
	return nil
}
