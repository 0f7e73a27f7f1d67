package webhook

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jafarshop/webhookgw/internal/domain"
)

func TestDispatcher_Register(t *testing.T) {
	d := NewDispatcher()
	noop := HandlerFunc(func(context.Context, Envelope) error { return nil })

	require.NoError(t, d.Register(domain.TopicOrderCreate, noop))
	require.NoError(t, d.Register(domain.TopicAppUninstalled, noop))
	assert.Error(t, d.Register(domain.TopicOrderCreate, noop), "duplicate registration")
	assert.Error(t, d.Register(domain.TopicOrderUpdate, nil), "nil handler")

	assert.Equal(t, []domain.Topic{domain.TopicAppUninstalled, domain.TopicOrderCreate}, d.Topics())
}

func TestDispatcher_Dispatch(t *testing.T) {
	var got Envelope
	d := NewDispatcher()
	require.NoError(t, d.Register(domain.TopicOrderCreate, HandlerFunc(func(_ context.Context, env Envelope) error {
		got = env
		return nil
	})))
	require.NoError(t, d.Register(domain.TopicOrderCancel, HandlerFunc(func(context.Context, Envelope) error {
		return assert.AnError
	})))
	require.NoError(t, d.Register(domain.TopicProductDelete, HandlerFunc(func(context.Context, Envelope) error {
		panic("boom")
	})))

	ctx := context.Background()

	t.Run("routes_by_topic", func(t *testing.T) {
		env := Envelope{StoreID: "s", DeliveryID: "d", Topic: domain.TopicOrderCreate, Payload: []byte(`{}`)}
		require.NoError(t, d.Dispatch(ctx, env))
		assert.Equal(t, env, got)
	})

	t.Run("handler_error_is_returned", func(t *testing.T) {
		err := d.Dispatch(ctx, Envelope{Topic: domain.TopicOrderCancel})
		assert.ErrorIs(t, err, assert.AnError)
	})

	t.Run("unsupported_topic", func(t *testing.T) {
		err := d.Dispatch(ctx, Envelope{Topic: "carts/create"})
		assert.True(t, stderrors.Is(err, ErrUnsupportedTopic))
	})

	t.Run("panic_is_recovered", func(t *testing.T) {
		err := d.Dispatch(ctx, Envelope{Topic: domain.TopicProductDelete})
		var panicErr *PanicError
		require.True(t, stderrors.As(err, &panicErr))
		assert.Equal(t, domain.TopicProductDelete, panicErr.Topic)
		assert.Equal(t, "boom", panicErr.Value)
	})
}

func TestEnvelope_EventTime(t *testing.T) {
	received := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	triggered := received.Add(-time.Minute)

	assert.Equal(t, received, Envelope{ReceivedAt: received}.EventTime())
	assert.Equal(t, triggered, Envelope{ReceivedAt: received, TriggeredAt: &triggered}.EventTime())
}
