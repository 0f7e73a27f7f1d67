package webhook

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jafarshop/webhookgw/internal/domain"
)

// ErrUnsupportedTopic is returned for topics with no registered handler
var ErrUnsupportedTopic = stderrors.New("unsupported topic")

// Envelope is a verified, first-time delivery handed to a domain handler
type Envelope struct {
	StoreID     string
	DeliveryID  string
	Topic       domain.Topic
	Payload     []byte
	TriggeredAt *time.Time
	ReceivedAt  time.Time
}

// EventTime is the best known time the event happened at
func (e Envelope) EventTime() time.Time {
	if e.TriggeredAt != nil {
		return *e.TriggeredAt
	}
	return e.ReceivedAt
}

// Handler applies one topic's mutation
type Handler interface {
	Handle(ctx context.Context, env Envelope) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, env Envelope) error

func (f HandlerFunc) Handle(ctx context.Context, env Envelope) error {
	return f(ctx, env)
}

// PanicError is returned when a handler panicked
type PanicError struct {
	Topic domain.Topic
	Value interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler for %s panicked: %v", e.Topic, e.Value)
}

// Dispatcher routes an envelope to exactly one handler by topic
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[domain.Topic]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[domain.Topic]Handler)}
}

func (d *Dispatcher) Register(topic domain.Topic, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("webhook: nil handler for %s", topic)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.handlers[topic]; exists {
		return fmt.Errorf("webhook: handler already registered for %s", topic)
	}
	d.handlers[topic] = handler
	return nil
}

// Topics lists registered topics in a stable order
func (d *Dispatcher) Topics() []domain.Topic {
	d.mu.RLock()
	defer d.mu.RUnlock()
	topics := make([]domain.Topic, 0, len(d.handlers))
	for t := range d.handlers {
		topics = append(topics, t)
	}
	sort.Slice(topics, func(i, j int) bool { return topics[i] < topics[j] })
	return topics
}

// Dispatch runs the handler for env.Topic. A panic inside the handler is
// returned as a *PanicError instead of crashing the process.
func (d *Dispatcher) Dispatch(ctx context.Context, env Envelope) (err error) {
	d.mu.RLock()
	handler, ok := d.handlers[env.Topic]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedTopic, env.Topic)
	}

	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Topic: env.Topic, Value: r}
		}
	}()

	return handler.Handle(ctx, env)
}
