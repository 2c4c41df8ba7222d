package rabbitmq

import (
	"context"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/queue-manager-go/messaging"
)

func newTestQueueManager(t *testing.T, b *fakeBroker) *QueueManager {
	t.Helper()
	m, err := NewQueueManager([]string{"amqp://h1"}, WithClientDialer(b), WithClientLogger(discardLogger()))
	require.NoError(t, err)
	return m
}

func TestQueueManager(t *testing.T) {
	t.Run("push then pop", func(t *testing.T) {
		b := newFakeBroker()
		m := newTestQueueManager(t, b)
		ctx := context.Background()

		require.NoError(t, m.Push(ctx, "hello", []byte("Hello from QueueManager"), amqp.Table{"x-max-length": 10}, messaging.Properties{}))
		body, err := m.Pop(ctx, "hello", amqp.Table{"x-max-length": 10})
		require.NoError(t, err)

		assert.Equal(t, "Hello from QueueManager", string(body))
		assert.Equal(t, []string{
			"dial amqp://h1",
			"open channel",
			"declare queue hello exclusive=false",
			"publish  hello Hello from QueueManager",
			"close connection",
			"dial amqp://h1",
			"open channel",
			"declare queue hello exclusive=false",
			"get hello",
			"ack 1",
			"close connection",
		}, b.Ops())
	})

	t.Run("pop from an empty queue", func(t *testing.T) {
		b := newFakeBroker()
		m := newTestQueueManager(t, b)

		body, err := m.Pop(context.Background(), "empty", nil)
		require.NoError(t, err)
		assert.Nil(t, body)
		assert.Equal(t, 0, b.countPrefix("ack"))
	})

	t.Run("ping keeps the connection until close", func(t *testing.T) {
		b := newFakeBroker()
		m := newTestQueueManager(t, b)

		assert.True(t, m.Ping(context.Background()))
		assert.True(t, m.Ping(context.Background()))
		assert.Equal(t, []string{"dial amqp://h1"}, b.Ops())

		require.NoError(t, m.Close())
		assert.Equal(t, []string{"dial amqp://h1", "close connection"}, b.Ops())
	})

	t.Run("push fails without a broker", func(t *testing.T) {
		b := newFakeBroker()
		b.failDials(errDialRefused)
		m := newTestQueueManager(t, b)

		err := m.Push(context.Background(), "hello", []byte("x"), nil, messaging.Properties{})
		assert.ErrorIs(t, err, errDialRefused)
	})
}
