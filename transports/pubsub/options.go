// Package pubsub is the Google Cloud Pub/Sub sibling of the RabbitMQ
// transport: a subscription consumer and a topic publisher sharing the
// messaging.Handler contract.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/pubsub"
	"code.cloudfoundry.org/clock"
	"google.golang.org/api/option"
)

var (
	// ErrConsumerStopped is returned by StartListening after Stop
	ErrConsumerStopped = errors.New("pubsub: consumer stopped")
	// ErrConsumerRunning is returned by a second StartListening call
	ErrConsumerRunning = errors.New("pubsub: consumer already listening")
	// ErrNoProject is returned when no project id is configured
	ErrNoProject = errors.New("pubsub: project id is required")
)

// PingTopic is the topic Publisher.Ping publishes to.
const PingTopic = "ping"

type config struct {
	credentialsFile string
	credentialsJSON []byte
	clientOptions   []option.ClientOption
	client          *pubsub.Client
	logger          *slog.Logger
	clock           clock.Clock
	assertionTTL    time.Duration
	maxOutstanding  int
	pingTimeout     time.Duration
}

// Option configures a Consumer or Publisher
type Option func(*config)

// WithCredentialsFile authenticates with a service account key file
func WithCredentialsFile(path string) Option {
	return func(c *config) {
		c.credentialsFile = path
	}
}

// WithCredentialsJSON authenticates with service account key contents
func WithCredentialsJSON(data []byte) Option {
	return func(c *config) {
		c.credentialsJSON = data
	}
}

// WithClientOptions passes options straight to the Pub/Sub client
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(c *config) {
		c.clientOptions = append(c.clientOptions, opts...)
	}
}

// WithClient uses an existing client instead of creating one. Close does
// not close a client supplied this way.
func WithClient(client *pubsub.Client) Option {
	return func(c *config) {
		c.client = client
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithClock sets the clock used for topic assertion expiry
func WithClock(clk clock.Clock) Option {
	return func(c *config) {
		c.clock = clk
	}
}

// WithAssertionTTL sets how long a topic is trusted to exist after it was
// last checked
func WithAssertionTTL(ttl time.Duration) Option {
	return func(c *config) {
		c.assertionTTL = ttl
	}
}

// WithMaxOutstandingMessages bounds how many messages are processed at once
func WithMaxOutstandingMessages(n int) Option {
	return func(c *config) {
		c.maxOutstanding = n
	}
}

// WithPingTimeout bounds Ping when the caller's context has no deadline
func WithPingTimeout(timeout time.Duration) Option {
	return func(c *config) {
		c.pingTimeout = timeout
	}
}

func newConfig(options []Option) *config {
	cfg := &config{
		logger:         slog.Default(),
		clock:          clock.NewClock(),
		assertionTTL:   30 * time.Second,
		maxOutstanding: 1,
		pingTimeout:    5 * time.Second,
	}
	for _, opt := range options {
		opt(cfg)
	}
	return cfg
}

// newClient returns the configured client and whether the caller owns it.
func (c *config) newClient(ctx context.Context, project string) (*pubsub.Client, bool, error) {
	if c.client != nil {
		return c.client, false, nil
	}
	if project == "" {
		return nil, false, ErrNoProject
	}

	var opts []option.ClientOption
	switch {
	case len(c.credentialsJSON) > 0:
		opts = append(opts, option.WithCredentialsJSON(c.credentialsJSON))
	case c.credentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(c.credentialsFile))
	}
	opts = append(opts, c.clientOptions...)

	client, err := pubsub.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create pubsub client: %w", err)
	}
	return client, true, nil
}

func (c *config) pingContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || c.pingTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.pingTimeout)
}
