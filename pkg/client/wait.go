package client

import (
	"context"
	"time"
)

// WaitFor calls fn every poll interval until it reports done, returns an
// error, or ctx ends. fn is called once immediately.
func WaitFor(ctx context.Context, poll time.Duration, fn func(ctx context.Context) (bool, error)) error {
	if poll <= 0 {
		poll = time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		done, err := fn(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
