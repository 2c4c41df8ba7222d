package pubsub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"code.cloudfoundry.org/clock"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/glimte/queue-manager-go/messaging"
)

// Publisher publishes to one topic. Topics are created on first use and
// their existence is rechecked at most once per assertion TTL.
type Publisher struct {
	client     *pubsub.Client
	ownsClient bool
	topic      string
	clock      clock.Clock
	ttl        time.Duration
	cfg        *config
	logger     *slog.Logger

	mu       sync.Mutex
	asserted map[string]time.Time
	topics   map[string]*pubsub.Topic
}

// NewPublisher creates a publisher for topic. An empty topic publishes to
// PingTopic.
func NewPublisher(ctx context.Context, project, topic string, options ...Option) (*Publisher, error) {
	if topic == "" {
		topic = PingTopic
	}

	cfg := newConfig(options)
	client, owns, err := cfg.newClient(ctx, project)
	if err != nil {
		return nil, err
	}

	return &Publisher{
		client:     client,
		ownsClient: owns,
		topic:      topic,
		clock:      cfg.clock,
		ttl:        cfg.assertionTTL,
		cfg:        cfg,
		logger:     cfg.logger.With("topic", topic),
		asserted:   make(map[string]time.Time),
		topics:     make(map[string]*pubsub.Topic),
	}, nil
}

// Topic returns the topic id messages are published to
func (p *Publisher) Topic() string {
	return p.topic
}

// Send publishes body with attrs and returns the server-assigned message id.
func (p *Publisher) Send(ctx context.Context, body []byte, attrs map[string]string) (string, error) {
	return p.send(ctx, p.topic, body, attrs)
}

// Publish implements messaging.Publisher. String headers become attributes;
// other header values are formatted with %v.
func (p *Publisher) Publish(ctx context.Context, body []byte, props messaging.Properties) error {
	_, err := p.Send(ctx, body, Attributes(props))
	return err
}

// Ping publishes "OK" to the ping topic.
func (p *Publisher) Ping(ctx context.Context) bool {
	ctx, cancel := p.cfg.pingContext(ctx)
	defer cancel()

	id, err := p.send(ctx, PingTopic, []byte("OK"), nil)
	if err != nil {
		p.logger.Debug("ping failed", "error", err)
		return false
	}
	p.logger.Debug("ping published", "messageId", id)
	return true
}

// Close flushes pending messages and releases the client when the
// publisher created it.
func (p *Publisher) Close() error {
	p.mu.Lock()
	for _, t := range p.topics {
		t.Stop()
	}
	p.topics = make(map[string]*pubsub.Topic)
	p.mu.Unlock()

	if !p.ownsClient {
		return nil
	}
	return p.client.Close()
}

func (p *Publisher) send(ctx context.Context, topic string, body []byte, attrs map[string]string) (string, error) {
	t, err := p.assertTopic(ctx, topic)
	if err != nil {
		return "", err
	}

	id, err := t.Publish(ctx, &pubsub.Message{Data: body, Attributes: attrs}).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	p.logger.Debug("published message", "to", topic, "messageId", id, "size", len(body))
	return id, nil
}

// assertTopic returns the topic handle, creating the topic when it does not
// exist. A failed check clears the assertion so the next call retries.
func (p *Publisher) assertTopic(ctx context.Context, name string) (*pubsub.Topic, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.topics[name]
	if !ok {
		t = p.client.Topic(name)
		p.topics[name] = t
	}

	now := p.clock.Now()
	if last, ok := p.asserted[name]; ok && now.Sub(last) < p.ttl {
		return t, nil
	}

	exists, err := t.Exists(ctx)
	if err != nil {
		delete(p.asserted, name)
		p.logger.Error("failed to get topic", "to", name, "error", err)
		return nil, fmt.Errorf("failed to get topic %s: %w", name, err)
	}

	if !exists {
		p.logger.Info("topic does not exist, creating it", "to", name)
		if _, err := p.client.CreateTopic(ctx, name); err != nil && status.Code(err) != codes.AlreadyExists {
			delete(p.asserted, name)
			return nil, fmt.Errorf("failed to create topic %s: %w", name, err)
		}
	}

	p.asserted[name] = now
	return t, nil
}

// Attributes converts message properties to Pub/Sub attributes. Content type
// and correlation id travel as "content-type" and "correlation-id".
func Attributes(props messaging.Properties) map[string]string {
	attrs := make(map[string]string, len(props.Headers)+2)
	for k, v := range props.Headers {
		if s, ok := v.(string); ok {
			attrs[k] = s
			continue
		}
		attrs[k] = fmt.Sprintf("%v", v)
	}
	if props.ContentType != "" {
		attrs["content-type"] = props.ContentType
	}
	if props.CorrelationID != "" {
		attrs["correlation-id"] = props.CorrelationID
	}
	if len(attrs) == 0 {
		return nil
	}
	return attrs
}
