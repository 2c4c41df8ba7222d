package rabbitmq

import (
	"context"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/queue-manager-go/messaging"
)

func newTestPublisher(t *testing.T, b *fakeBroker, topology Topology, options ...ClientOption) *Publisher {
	t.Helper()
	options = append([]ClientOption{WithClientDialer(b), WithClientLogger(discardLogger())}, options...)
	p, err := NewPublisher([]string{"amqp://h1"}, topology, options...)
	require.NoError(t, err)
	return p
}

func TestPublisher(t *testing.T) {
	t.Run("declares topology and waits for the confirm", func(t *testing.T) {
		b := newFakeBroker()
		p := newTestPublisher(t, b, Topology{
			Exchange:     "events",
			ExchangeKind: amqp.ExchangeTopic,
			Queue:        "orders",
			RoutingKey:   "order.created",
			Declare:      true,
		})

		err := p.Publish(context.Background(), []byte("hello"), messaging.Properties{Priority: 8})
		require.NoError(t, err)

		assert.Equal(t, []string{
			"dial amqp://h1",
			"open channel",
			"confirm",
			"declare exchange events topic",
			"declare queue orders exclusive=false",
			"bind orders order.created events",
			"publish events order.created hello",
			"close channel",
			"close connection",
		}, b.Ops())
		assert.Equal(t, uint8(8), b.messages["order.created"][0].Priority)
	})

	t.Run("routing key falls back to the queue", func(t *testing.T) {
		b := newFakeBroker()
		p := newTestPublisher(t, b, Topology{Queue: "orders"})

		assert.Equal(t, "orders", p.RoutingKey())
		require.NoError(t, p.Publish(context.Background(), []byte("hello"), messaging.Properties{}))
		assert.Contains(t, b.Ops(), "publish  orders hello")
		assert.NotContains(t, b.Ops(), "declare queue orders exclusive=false")
	})

	t.Run("exchange only never declares an anonymous queue", func(t *testing.T) {
		b := newFakeBroker()
		p := newTestPublisher(t, b, Topology{Exchange: "events", RoutingKey: "k", Declare: true})

		require.NoError(t, p.Publish(context.Background(), []byte("x"), messaging.Properties{}))
		assert.Contains(t, b.Ops(), "declare exchange events direct")
		assert.Equal(t, 0, b.countPrefix("declare queue"))
		assert.Equal(t, 0, b.countPrefix("bind"))
	})

	t.Run("nack is an error", func(t *testing.T) {
		b := newFakeBroker()
		b.nackNext = true
		p := newTestPublisher(t, b, Topology{Queue: "orders"})

		err := p.Publish(context.Background(), []byte("x"), messaging.Properties{})

		var pubErr *PublishError
		require.ErrorAs(t, err, &pubErr)
		assert.ErrorIs(t, err, ErrPublishNotConfirmed)
		assert.True(t, pubErr.Mandatory)
		assert.Equal(t, 1, b.count("close connection"))
	})

	t.Run("unroutable message is an error", func(t *testing.T) {
		b := newFakeBroker()
		b.returnNext = true
		p := newTestPublisher(t, b, Topology{Exchange: "events", RoutingKey: "nowhere"})

		err := p.Publish(context.Background(), []byte("x"), messaging.Properties{})

		var pubErr *PublishError
		require.ErrorAs(t, err, &pubErr)
		assert.ErrorIs(t, err, ErrUnroutable)
		assert.Equal(t, "nowhere", pubErr.RoutingKey)
		assert.Contains(t, err.Error(), "NO_ROUTE")
		assert.Empty(t, b.messages["nowhere"])
		assert.Equal(t, 1, b.count("close connection"))
	})

	t.Run("unroutable message without confirms", func(t *testing.T) {
		b := newFakeBroker()
		b.returnNext = true
		p := newTestPublisher(t, b, Topology{Exchange: "events", RoutingKey: "nowhere"}, WithConfirmMode(false))

		err := p.Publish(context.Background(), []byte("x"), messaging.Properties{})
		assert.ErrorIs(t, err, ErrUnroutable)
	})

	t.Run("confirm mode off", func(t *testing.T) {
		b := newFakeBroker()
		p := newTestPublisher(t, b, Topology{Queue: "orders"}, WithConfirmMode(false), WithConfirmTimeout(time.Millisecond))

		require.NoError(t, p.Publish(context.Background(), []byte("x"), messaging.Properties{}))
		assert.Equal(t, 0, b.count("confirm"))
	})

	t.Run("connection failure", func(t *testing.T) {
		b := newFakeBroker()
		b.failDials(errDialRefused)
		p := newTestPublisher(t, b, Topology{Queue: "orders"})

		err := p.Publish(context.Background(), []byte("x"), messaging.Properties{})

		var connErr *ConnectionError
		assert.ErrorAs(t, err, &connErr)
	})
}

func TestPublisherMessageCount(t *testing.T) {
	t.Run("counts the queue", func(t *testing.T) {
		b := newFakeBroker()
		b.counts["orders"] = 3
		p := newTestPublisher(t, b, Topology{Queue: "orders"})

		n, err := p.MessageCount(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		assert.Contains(t, b.Ops(), "inspect queue orders")
		assert.Equal(t, 1, b.count("close connection"))
	})

	t.Run("uses the routing key without a queue", func(t *testing.T) {
		b := newFakeBroker()
		p := newTestPublisher(t, b, Topology{Exchange: "events", RoutingKey: "jobs"})

		_, err := p.MessageCount(context.Background())
		require.NoError(t, err)
		assert.Contains(t, b.Ops(), "inspect queue jobs")
	})

	t.Run("requires a queue", func(t *testing.T) {
		b := newFakeBroker()
		p := newTestPublisher(t, b, Topology{Exchange: "events"})

		_, err := p.MessageCount(context.Background())
		assert.ErrorIs(t, err, ErrCountRequiresQueue)
		assert.Empty(t, b.Ops())
	})
}

func TestPublisherPing(t *testing.T) {
	b := newFakeBroker()
	p := newTestPublisher(t, b, Topology{Queue: "orders"})

	assert.True(t, p.Ping(context.Background()))
	assert.Equal(t, []string{"dial amqp://h1", "close connection"}, b.Ops())

	b.failDials(errDialRefused)
	assert.False(t, p.Ping(context.Background()))
}
