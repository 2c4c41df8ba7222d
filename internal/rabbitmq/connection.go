package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Connector opens connections to one endpoint of an immutable endpoint set.
// It never blocks its caller: results are delivered through a callback.
type Connector struct {
	endpoints   []string
	dialer      Dialer
	dialTimeout time.Duration
	logger      *slog.Logger
}

// NewConnector creates a connector for the given endpoints. The slice is
// copied so later changes by the caller are not observed.
func NewConnector(endpoints []string, dialer Dialer, dialTimeout time.Duration, logger *slog.Logger) (*Connector, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	for i, e := range endpoints {
		if e == "" {
			return nil, fmt.Errorf("%w: endpoint %d is empty", ErrInvalidConfiguration, i)
		}
	}
	if dialer == nil {
		dialer = NewAMQPDialer(WithDialerLogger(logger))
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Connector{
		endpoints:   append([]string(nil), endpoints...),
		dialer:      dialer,
		dialTimeout: dialTimeout,
		logger:      logger,
	}, nil
}

// Endpoints returns a copy of the endpoint set.
func (c *Connector) Endpoints() []string {
	return append([]string(nil), c.endpoints...)
}

// Connect dials in the background and calls done exactly once with either a
// live connection or an error.
func (c *Connector) Connect(ctx context.Context, done func(Connection, error)) {
	c.logger.Info("connecting to RabbitMQ", "urls", SanitizeURLs(c.endpoints))

	go func() {
		conn, err := c.DialNow(ctx)
		done(conn, err)
	}()
}

// DialNow dials synchronously, bounded by the connector's dial timeout.
func (c *Connector) DialNow(ctx context.Context) (Connection, error) {
	if c.dialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.dialTimeout)
		defer cancel()
	}

	conn, err := c.dialer.Dial(ctx, c.endpoints)
	if err != nil {
		var connErr *ConnectionError
		if errors.As(err, &connErr) {
			return nil, err
		}
		return nil, &ConnectionError{
			Op:        "connect",
			URL:       SanitizeURL(c.endpoints[0]),
			Err:       err,
			Timestamp: time.Now(),
			Attempts:  len(c.endpoints),
		}
	}
	return conn, nil
}
