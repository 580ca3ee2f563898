// Package events publishes negotiation and transfer state changes to
// in-process listeners, remote callback addresses and websocket clients.
package events

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DeBrosOfficial/dataspace/pkg/logging"
	"github.com/DeBrosOfficial/dataspace/pkg/model"
)

// Event type prefixes.
const (
	PrefixNegotiation = "contract.negotiation"
	PrefixTransfer    = "transfer.process"
)

// Event is one state change.
type Event struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	At      int64  `json:"at"`
	Payload any    `json:"payload"`

	// Callbacks are the entity's callback addresses; not sent to clients.
	Callbacks []model.CallbackAddress `json:"-"`
}

// NewEvent stamps an event with a fresh id and the current time.
func NewEvent(typ string, payload any, callbacks []model.CallbackAddress) Event {
	return Event{ID: uuid.NewString(), Type: typ, At: time.Now().UnixMilli(), Payload: payload, Callbacks: callbacks}
}

// NegotiationEventType returns e.g. "contract.negotiation.finalized".
func NegotiationEventType(state model.NegotiationState) string {
	return PrefixNegotiation + "." + strings.ToLower(state.String())
}

// TransferEventType returns e.g. "transfer.process.started".
func TransferEventType(state model.TransferState) string {
	return PrefixTransfer + "." + strings.ToLower(state.String())
}

// Subscriber receives published events. It must not block for long.
type Subscriber func(Event)

// Publisher is what state machines need from the bus.
type Publisher interface {
	Publish(Event)
}

// Bus fans events out to subscribers synchronously.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]Subscriber
	next   int
	logger *logging.ColoredLogger
}

var _ Publisher = (*Bus)(nil)

// NewBus creates an empty bus.
func NewBus(logger *logging.ColoredLogger) *Bus {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Bus{subs: map[int]Subscriber{}, logger: logger}
}

// Subscribe registers fn and returns a function removing it.
func (b *Bus) Subscribe(fn Subscriber) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Publish delivers e to every subscriber. A panicking subscriber is logged
// and does not affect the others.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	subs := make([]Subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(s, e)
	}
}

func (b *Bus) deliver(s Subscriber, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.ComponentError(logging.ComponentEvents, "Event subscriber panicked",
				zap.String("type", e.Type), zap.Any("panic", r))
		}
	}()
	s(e)
}
