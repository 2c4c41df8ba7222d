package pubsub

import (
	"context"

	"github.com/glimte/queue-manager-go/messaging"
)

// Transport implements messaging.Transport for one topic and subscription
type Transport struct {
	project      string
	topic        string
	subscription string
	options      []Option
}

// NewTransport creates a Pub/Sub transport
func NewTransport(project, topic, subscription string, options ...Option) (*Transport, error) {
	if project == "" {
		return nil, ErrNoProject
	}
	return &Transport{
		project:      project,
		topic:        topic,
		subscription: subscription,
		options:      options,
	}, nil
}

// Name implements messaging.Transport
func (t *Transport) Name() string {
	return "pubsub"
}

// Consumer implements messaging.Transport
func (t *Transport) Consumer() (messaging.Consumer, error) {
	c, err := NewConsumer(context.Background(), t.project, t.subscription, t.topic, t.options...)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Publisher implements messaging.Transport
func (t *Transport) Publisher() (messaging.Publisher, error) {
	p, err := NewPublisher(context.Background(), t.project, t.topic, t.options...)
	if err != nil {
		return nil, err
	}
	return p, nil
}
