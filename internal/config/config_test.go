package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("full file", func(t *testing.T) {
		cfg, err := Parse([]byte(`
urls:
  - amqp://guest:guest@h1:5672/
  - amqp://guest:guest@h2:5672/
exchange: events
exchange_kind: topic
queue: orders
queue_arguments:
  x-max-priority: 10
routing_key: order.*
durable: true
prefetch_count: 4
reconnect_delay: 10s
handler_timeout: 1m
metrics_addr: ":9090"
pubsub:
  project: demo
  topic: orders
  subscription: orders-sub
`))
		require.NoError(t, err)

		assert.Equal(t, []string{"amqp://guest:guest@h1:5672/", "amqp://guest:guest@h2:5672/"}, cfg.URLs)
		assert.Equal(t, "events", cfg.Exchange)
		assert.Equal(t, "topic", cfg.ExchangeKind)
		assert.Equal(t, "orders", cfg.Queue)
		assert.Equal(t, 10, cfg.QueueArguments["x-max-priority"])
		assert.Equal(t, "order.*", cfg.RoutingKey)
		assert.True(t, cfg.Durable)
		assert.Equal(t, 4, cfg.PrefetchCount)
		assert.Equal(t, 10*time.Second, cfg.ReconnectDelay)
		assert.Equal(t, time.Minute, cfg.HandlerTimeout)
		assert.Equal(t, ":9090", cfg.MetricsAddr)
		assert.Equal(t, "orders-sub", cfg.PubSub.Subscription)
	})

	t.Run("defaults survive a partial file", func(t *testing.T) {
		cfg, err := Parse([]byte("queue: orders\n"))
		require.NoError(t, err)

		assert.True(t, cfg.Declare)
		assert.True(t, cfg.ConfirmDelivery)
		assert.Equal(t, 1, cfg.PrefetchCount)
		assert.Equal(t, 5*time.Second, cfg.ReconnectDelay)
		assert.Equal(t, 30*time.Second, cfg.ConnectTimeout)
		assert.Equal(t, "queue-manager", cfg.ConsumerTagPrefix)
	})

	t.Run("empty file", func(t *testing.T) {
		cfg, err := Parse(nil)
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})

	t.Run("declare can be switched off", func(t *testing.T) {
		cfg, err := Parse([]byte("declare: false\n"))
		require.NoError(t, err)
		assert.False(t, cfg.Declare)
	})

	t.Run("unknown keys are rejected", func(t *testing.T) {
		_, err := Parse([]byte("queue_name: orders\n"))
		assert.Error(t, err)
	})
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue-manager.yaml")
	require.NoError(t, os.WriteFile(path, []byte("queue: orders\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "orders", cfg.Queue)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := func(values map[string]string) func(string) (string, bool) {
		return func(key string) (string, bool) {
			v, ok := values[key]
			return v, ok
		}
	}

	t.Run("fills urls", func(t *testing.T) {
		cfg := Default()
		cfg.ApplyEnv(env(map[string]string{EnvURLs: "amqp://h1, amqp://h2,,"}))
		assert.Equal(t, []string{"amqp://h1", "amqp://h2"}, cfg.URLs)
	})

	t.Run("file wins over environment", func(t *testing.T) {
		cfg := Default()
		cfg.URLs = []string{"amqp://file"}
		cfg.ApplyEnv(env(map[string]string{EnvURLs: "amqp://env"}))
		assert.Equal(t, []string{"amqp://file"}, cfg.URLs)
	})
}

func TestValidate(t *testing.T) {
	cfg := Default()
	assert.ErrorIs(t, cfg.Validate(), ErrNoURLs)

	cfg.URLs = []string{"amqp://h1"}
	assert.NoError(t, cfg.Validate())

	cfg.PrefetchCount = 0
	assert.Error(t, cfg.Validate())

	cfg.PrefetchCount = 1
	cfg.ReconnectDelay = -time.Second
	assert.Error(t, cfg.Validate())
}
