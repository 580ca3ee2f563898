// Package controlplane implements the connector's control plane: the
// catalog offered to other participants, the contract negotiation and
// transfer process state machines, and the management facade on top.
//
// State machines follow the same pattern on both sides of an exchange. An
// incoming protocol message or management call moves an entity into a
// state; a processing loop leases entities in states that need work
// (sending a message, signaling a data plane), does it and saves the next
// state. Leases come from the store, so concurrent loops never process the
// same entity twice.
package controlplane

import (
	"context"
	"time"

	"github.com/DeBrosOfficial/dataspace/pkg/config"
	"github.com/DeBrosOfficial/dataspace/pkg/errors"
	"github.com/DeBrosOfficial/dataspace/pkg/events"
	"github.com/DeBrosOfficial/dataspace/pkg/logging"
	"github.com/DeBrosOfficial/dataspace/pkg/policy"
	"github.com/DeBrosOfficial/dataspace/pkg/protocol"
	"github.com/DeBrosOfficial/dataspace/pkg/store"
)

// Dependencies are the collaborators shared by the control plane services.
type Dependencies struct {
	Store      *store.SQLStore
	Dispatcher protocol.Dispatcher
	Policy     policy.Evaluator
	Events     events.Publisher
	Logger     *logging.ColoredLogger

	// Callbacks delivers to transactional callback addresses. Optional.
	Callbacks TransactionalCallbacks

	// Clock defaults to time.Now.
	Clock func() time.Time
}

// TransactionalCallbacks delivers an event before the state change behind
// it is stored. *events.CallbackDispatcher implements it.
type TransactionalCallbacks interface {
	DeliverTransactional(ctx context.Context, e events.Event) error
}

// commit runs the transactional callbacks for e. An error rejects the
// state change; the processing loop tries it again on a later tick.
func (d *Dependencies) commit(ctx context.Context, e events.Event) error {
	if d.Callbacks == nil {
		return nil
	}
	if err := d.Callbacks.DeliverTransactional(ctx, e); err != nil {
		return errors.NewServiceError("callback", "transactional callback failed: "+err.Error(), 0, err)
	}
	return nil
}

func (d *Dependencies) defaults() {
	if d.Logger == nil {
		d.Logger = logging.NewNopLogger()
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Events == nil {
		d.Events = events.NewBus(d.Logger)
	}
	if d.Policy == nil {
		d.Policy = policy.NewEngine(nil, d.Logger)
	}
}

// Settings identify this connector and tune the state machines.
type Settings struct {
	ParticipantID string
	// ProtocolURL is where counter-parties reach this connector.
	ProtocolURL string
	// ControlURL is where data planes report back.
	ControlURL string

	config.ControlPlaneConfig
}

func (s *Settings) defaults() {
	if s.Tick <= 0 {
		s.Tick = 500 * time.Millisecond
	}
	if s.BatchSize <= 0 {
		s.BatchSize = 20
	}
	if s.RetryLimit <= 0 {
		s.RetryLimit = 7
	}
	if s.SendTimeout <= 0 {
		s.SendTimeout = 30 * time.Second
	}
	if s.ProvisionMaxRetries <= 0 {
		s.ProvisionMaxRetries = 3
	}
}

const (
	leaseAttempts = 50
	leaseWait     = 50 * time.Millisecond
	maxBackoff    = time.Minute
)

// leaseEntity leases id for a message handler, waiting while a processing
// loop holds it.
func leaseEntity[T any](ctx context.Context, repo store.LeasedRepository[T], id, owner string) (*T, error) {
	for i := 0; ; i++ {
		v, err := repo.FindByIDAndLease(ctx, id, owner)
		if !store.IsLeased(err) || i >= leaseAttempts {
			return v, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(leaseWait):
		}
	}
}

// retryDue reports whether an entity that already failed stateCount-1 times
// may be retried at now. Delays grow exponentially from tick.
func retryDue(stateCount int, stateTimestamp int64, tick time.Duration, now time.Time) bool {
	if stateCount <= 1 {
		return true
	}
	delay := tick
	for i := 1; i < stateCount-1 && delay < maxBackoff; i++ {
		delay *= 2
	}
	if delay > maxBackoff {
		delay = maxBackoff
	}
	return now.UnixMilli()-stateTimestamp >= delay.Milliseconds()
}
