package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jafarshop/webhookgw/internal/domain"
	"github.com/jafarshop/webhookgw/internal/events"
	"github.com/jafarshop/webhookgw/internal/metrics"
	"github.com/jafarshop/webhookgw/internal/repository"
	"github.com/jafarshop/webhookgw/pkg/errors"
)

// Inbound is one webhook request as received, before any processing
type Inbound struct {
	StoreID     string
	DeliveryID  string
	Topic       string
	TopicHint   string
	Signature   string
	TriggeredAt string
	RemoteAddr  string
	Body        []byte
}

// Outcome is what the gateway decided for one request
type Outcome struct {
	State      domain.DeliveryState
	Trail      []domain.DeliveryState
	StatusCode int
	Duplicate  bool
	Err        error
}

// Gateway runs the verify, dedupe, dispatch pipeline
type Gateway struct {
	verifier   *Verifier
	guard      *Guard
	dispatcher *Dispatcher
	stores     repository.StoreRepository
	publisher  events.Publisher
	timeout    time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

func NewGateway(
	verifier *Verifier,
	guard *Guard,
	dispatcher *Dispatcher,
	stores repository.StoreRepository,
	publisher events.Publisher,
	timeout time.Duration,
	logger *zap.Logger,
) *Gateway {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Gateway{
		verifier:   verifier,
		guard:      guard,
		dispatcher: dispatcher,
		stores:     stores,
		publisher:  publisher,
		timeout:    timeout,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

type trail struct {
	states []domain.DeliveryState
	logger *zap.Logger
}

func (t *trail) current() domain.DeliveryState {
	return t.states[len(t.states)-1]
}

func (t *trail) advance(next domain.DeliveryState) {
	if !t.current().CanTransitionTo(next) {
		t.logger.Error("Invalid delivery state transition",
			zap.String("from", string(t.current())),
			zap.String("to", string(next)),
		)
		return
	}
	t.states = append(t.states, next)
}

func (t *trail) outcome(status int, err error) Outcome {
	return Outcome{
		State:      t.current(),
		Trail:      append([]domain.DeliveryState(nil), t.states...),
		StatusCode: status,
		Err:        err,
	}
}

// Process handles one inbound request. Work runs detached from ctx's
// cancellation, so a client hanging up does not abort a mutation, but each
// persistence step is bounded by the gateway timeout.
func (g *Gateway) Process(ctx context.Context, in Inbound) Outcome {
	start := time.Now()
	out := g.process(ctx, in)
	metrics.ObserveWebhook(domain.ParseTopic(in.Topic), out.State, out.StatusCode, out.Duplicate, time.Since(start).Seconds())
	return out
}

func (g *Gateway) process(ctx context.Context, in Inbound) Outcome {
	base := context.WithoutCancel(ctx)
	receivedAt := g.now()
	storeID := strings.TrimSpace(in.StoreID)
	topic := domain.ParseTopic(in.Topic)

	log := g.logger.With(
		zap.String("store_id", storeID),
		zap.String("delivery_id", in.DeliveryID),
		zap.String("topic", string(topic)),
	)
	t := &trail{states: []domain.DeliveryState{domain.StateReceived}, logger: log}

	t.advance(domain.StateVerifying)
	var err error
	if storeID == "" || in.Signature == "" {
		err = &errors.ErrUnauthorized{Message: "missing store or signature header"}
	} else {
		err = g.call(base, func(ctx context.Context) error {
			return g.verifier.Verify(ctx, storeID, in.Body, in.Signature)
		})
	}
	if err != nil {
		if errors.IsUnauthorized(err) {
			log.Warn("Webhook verification failed",
				zap.String("reason", err.Error()),
				zap.String("remote_addr", in.RemoteAddr),
				zap.String("verification", string(domain.VerificationSignatureMismatch)),
			)
			t.advance(domain.StateRejected)
			return t.outcome(http.StatusUnauthorized, err)
		}
		log.Error("Webhook verification unavailable", zap.Error(err))
		return t.outcome(http.StatusInternalServerError, err)
	}

	// A secret served from cache may predate an uninstall; the store row
	// decides whether the connection is still live.
	touchErr := g.call(base, func(ctx context.Context) error {
		return g.stores.TouchLastSeen(ctx, storeID, receivedAt)
	})
	switch {
	case errors.IsNotFound(touchErr):
		log.Warn("Webhook verification failed",
			zap.String("reason", "store disconnected"),
			zap.String("remote_addr", in.RemoteAddr),
		)
		t.advance(domain.StateRejected)
		return t.outcome(http.StatusUnauthorized, &errors.ErrUnauthorized{Message: "store disconnected"})
	case touchErr != nil:
		log.Warn("Failed to update store last seen", zap.Error(touchErr))
	}

	deliveryID := strings.TrimSpace(in.DeliveryID)
	if deliveryID == "" || topic == "" {
		log.Warn("Verified webhook is missing delivery id or topic")
		t.advance(domain.StateRejected)
		return t.outcome(http.StatusBadRequest, &errors.ErrValidation{Message: "delivery id and topic headers are required"})
	}

	sum := sha256.Sum256(in.Body)
	delivery := &domain.WebhookDelivery{
		StoreID:      storeID,
		DeliveryID:   deliveryID,
		Topic:        topic,
		TopicHint:    in.TopicHint,
		PayloadHash:  hex.EncodeToString(sum[:]),
		Payload:      in.Body,
		ReceivedAt:   receivedAt,
		Verification: domain.VerificationVerified,
	}

	var claimed bool
	err = g.call(base, func(ctx context.Context) error {
		var claimErr error
		claimed, claimErr = g.guard.Claim(ctx, delivery)
		return claimErr
	})
	if err != nil {
		log.Error("Failed to claim delivery", zap.Error(err))
		return t.outcome(http.StatusInternalServerError, err)
	}
	if !claimed {
		log.Info("Duplicate delivery acknowledged")
		t.advance(domain.StateDuplicate)
		out := t.outcome(http.StatusOK, nil)
		out.Duplicate = true
		return out
	}

	t.advance(domain.StateDispatching)
	env := Envelope{
		StoreID:     storeID,
		DeliveryID:  deliveryID,
		Topic:       topic,
		Payload:     in.Body,
		TriggeredAt: parseTriggeredAt(in.TriggeredAt),
		ReceivedAt:  receivedAt,
	}
	err = g.call(base, func(ctx context.Context) error {
		return g.dispatcher.Dispatch(ctx, env)
	})

	switch {
	case err == nil:
		t.advance(domain.StateHandled)
		g.complete(base, log, delivery, domain.ResultAccepted, nil)
		g.publish(base, log, delivery)
		log.Info("Webhook handled", zap.Int("attempt", delivery.Attempts))
		return t.outcome(http.StatusOK, nil)

	case stderrors.Is(err, ErrUnsupportedTopic):
		t.advance(domain.StateHandled)
		g.complete(base, log, delivery, domain.ResultAccepted, err)
		log.Info("Ignoring unsupported topic", zap.String("topic_hint", in.TopicHint))
		return t.outcome(http.StatusOK, nil)

	case errors.IsBusiness(err):
		t.advance(domain.StateHandlerError)
		g.complete(base, log, delivery, domain.ResultRejected, err)
		log.Warn("Webhook rejected by handler", zap.Error(err))
		return t.outcome(http.StatusOK, err)

	default:
		t.advance(domain.StateHandlerError)
		g.complete(base, log, delivery, domain.ResultError, err)
		log.Error("Webhook handler failed", zap.Error(err))
		return t.outcome(http.StatusInternalServerError, err)
	}
}

func (g *Gateway) call(base context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(base, g.timeout)
	defer cancel()
	return fn(ctx)
}

func (g *Gateway) complete(base context.Context, log *zap.Logger, delivery *domain.WebhookDelivery, result domain.ProcessingResult, cause error) {
	err := g.call(base, func(ctx context.Context) error {
		return g.guard.Complete(ctx, delivery, result, cause)
	})
	if err != nil {
		// The claim lease expires on its own, so a lost completion only
		// delays a retry.
		log.Error("Failed to record delivery result", zap.String("result", string(result)), zap.Error(err))
	}
}

func (g *Gateway) publish(base context.Context, log *zap.Logger, delivery *domain.WebhookDelivery) {
	err := g.call(base, func(ctx context.Context) error {
		return g.publisher.Publish(ctx, events.DeliveryHandled{
			Event:      events.EventDeliveryHandled,
			StoreID:    delivery.StoreID,
			DeliveryID: delivery.DeliveryID,
			Topic:      string(delivery.Topic),
			Result:     string(domain.ResultAccepted),
			HandledAt:  g.now(),
		})
	})
	if err != nil {
		log.Warn("Failed to publish delivery event", zap.Error(err))
	}
}

func parseTriggeredAt(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}
