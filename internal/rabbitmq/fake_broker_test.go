package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"
)

// fakeBroker records every operation the code under test performs, in order.
type fakeBroker struct {
	mu         sync.Mutex
	ops        []string
	conns      []*fakeConnection
	dialErrs   []error
	dialed     [][]string
	serverName string
	declareErr error
	channelErr error
	consumeErr error
	messages   map[string][]amqp.Delivery
	counts     map[string]int
	nackNext   bool
	returnNext bool
	getTag     uint64
	gates      map[string]chan struct{}
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		serverName: "amq.gen-1",
		messages:   make(map[string][]amqp.Delivery),
		counts:     make(map[string]int),
		gates:      make(map[string]chan struct{}),
	}
}

// hold makes the next op block after it is recorded until release is called.
func (b *fakeBroker) hold(op string) (release func()) {
	gate := make(chan struct{})
	b.mu.Lock()
	b.gates[op] = gate
	b.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

func (b *fakeBroker) pass(op string) {
	b.mu.Lock()
	gate, ok := b.gates[op]
	delete(b.gates, op)
	b.mu.Unlock()
	if ok {
		<-gate
	}
}

func (b *fakeBroker) record(format string, args ...interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ops = append(b.ops, fmt.Sprintf(format, args...))
}

// Ops returns a snapshot of the operation log.
func (b *fakeBroker) Ops() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.ops...)
}

func (b *fakeBroker) count(op string) int {
	n := 0
	for _, o := range b.Ops() {
		if o == op {
			n++
		}
	}
	return n
}

func (b *fakeBroker) countPrefix(prefix string) int {
	n := 0
	for _, o := range b.Ops() {
		if strings.HasPrefix(o, prefix) {
			n++
		}
	}
	return n
}

// failDials makes the next dial attempts fail, one error per attempt.
func (b *fakeBroker) failDials(errs ...error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dialErrs = append(b.dialErrs, errs...)
}

func (b *fakeBroker) Dial(ctx context.Context, endpoints []string) (Connection, error) {
	b.mu.Lock()
	b.dialed = append(b.dialed, append([]string(nil), endpoints...))
	var err error
	if len(b.dialErrs) > 0 {
		err = b.dialErrs[0]
		b.dialErrs = b.dialErrs[1:]
	}
	b.mu.Unlock()

	b.record("dial %s", strings.Join(endpoints, ","))
	b.pass("dial")
	if err != nil {
		return nil, err
	}

	conn := &fakeConnection{broker: b}
	b.mu.Lock()
	b.conns = append(b.conns, conn)
	b.mu.Unlock()
	return conn, nil
}

func (b *fakeBroker) dials() [][]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]string(nil), b.dialed...)
}

func (b *fakeBroker) lastConnection() *fakeConnection {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.conns) == 0 {
		return nil
	}
	return b.conns[len(b.conns)-1]
}

func (b *fakeBroker) lastChannel() *fakeChannel {
	conn := b.lastConnection()
	if conn == nil {
		return nil
	}
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if len(conn.channels) == 0 {
		return nil
	}
	return conn.channels[len(conn.channels)-1]
}

type fakeConnection struct {
	broker   *fakeBroker
	mu       sync.Mutex
	closed   bool
	notify   []chan *amqp.Error
	channels []*fakeChannel
}

func (c *fakeConnection) Channel() (Channel, error) {
	c.broker.record("open channel")
	c.broker.pass("open channel")

	c.broker.mu.Lock()
	err := c.broker.channelErr
	c.broker.mu.Unlock()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, amqp.ErrClosed
	}
	ch := &fakeChannel{conn: c, broker: c.broker}
	c.channels = append(c.channels, ch)
	return ch, nil
}

func (c *fakeConnection) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notify = append(c.notify, receiver)
	return receiver
}

func (c *fakeConnection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConnection) Close() error {
	if c.IsClosed() {
		return amqp.ErrClosed
	}
	c.broker.record("close connection")
	c.shutdown(nil)
	return nil
}

// drop simulates the broker going away.
func (c *fakeConnection) drop() {
	c.shutdown(&amqp.Error{Code: amqp.ConnectionForced, Reason: "CONNECTION_FORCED", Server: true})
}

func (c *fakeConnection) shutdown(reason *amqp.Error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	channels := append([]*fakeChannel(nil), c.channels...)
	notify := c.notify
	c.notify = nil
	c.mu.Unlock()

	for _, ch := range channels {
		ch.shutdown(reason)
	}
	for _, n := range notify {
		if reason != nil {
			n <- reason
		}
		close(n)
	}
}

type fakeChannel struct {
	conn        *fakeConnection
	broker      *fakeBroker
	mu          sync.Mutex
	closed      bool
	notifyClose []chan *amqp.Error
	notifyCanc  []chan string
	deliveries  chan amqp.Delivery
	consumerTag string
	confirming  bool
	confirms    []chan amqp.Confirmation
	returns     []chan amqp.Return
	published   uint64
}

func (c *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	c.broker.record("declare exchange %s %s", name, kind)
	return c.declareError()
}

func (c *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	c.broker.record("declare queue %s exclusive=%v", name, exclusive)
	c.broker.pass("declare queue")
	if err := c.declareError(); err != nil {
		return amqp.Queue{}, err
	}
	if name == "" {
		c.broker.mu.Lock()
		name = c.broker.serverName
		c.broker.mu.Unlock()
	}
	return amqp.Queue{Name: name}, nil
}

func (c *fakeChannel) QueueDeclarePassive(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	c.broker.record("inspect queue %s", name)
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	return amqp.Queue{Name: name, Messages: c.broker.counts[name] + len(c.broker.messages[name])}, nil
}

func (c *fakeChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	c.broker.record("bind %s %s %s", name, key, exchange)
	return c.declareError()
}

func (c *fakeChannel) declareError() error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	return c.broker.declareErr
}

func (c *fakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	c.broker.record("qos %d", prefetchCount)
	return nil
}

func (c *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	c.broker.mu.Lock()
	err := c.broker.consumeErr
	c.broker.mu.Unlock()
	if err != nil {
		c.broker.record("consume %s", queue)
		return nil, err
	}

	// The consumer is live before the op is recorded, so tests can deliver
	// as soon as they see it.
	c.mu.Lock()
	c.consumerTag = consumer
	c.deliveries = make(chan amqp.Delivery, 8)
	deliveries := c.deliveries
	c.mu.Unlock()

	c.broker.record("consume %s", queue)
	return deliveries, nil
}

func (c *fakeChannel) Cancel(consumer string, noWait bool) error {
	c.broker.record("cancel %s", consumer)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeDeliveries()
	return nil
}

func (c *fakeChannel) Get(queue string, autoAck bool) (amqp.Delivery, bool, error) {
	c.broker.record("get %s", queue)
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	msgs := c.broker.messages[queue]
	if len(msgs) == 0 {
		return amqp.Delivery{}, false, nil
	}
	d := msgs[0]
	c.broker.messages[queue] = msgs[1:]
	c.broker.getTag++
	d.DeliveryTag = c.broker.getTag
	d.Acknowledger = c
	return d, true, nil
}

func (c *fakeChannel) Confirm(noWait bool) error {
	c.broker.record("confirm")
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirming = true
	return nil
}

func (c *fakeChannel) NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirms = append(c.confirms, confirm)
	return confirm
}

func (c *fakeChannel) NotifyReturn(returns chan amqp.Return) chan amqp.Return {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.returns = append(c.returns, returns)
	return returns
}

func (c *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	c.broker.record("publish %s %s %s", exchange, key, msg.Body)

	c.broker.mu.Lock()
	nack := c.broker.nackNext
	unroutable := c.broker.returnNext && mandatory
	if !unroutable {
		c.broker.messages[key] = append(c.broker.messages[key], amqp.Delivery{
			Body:          msg.Body,
			ContentType:   msg.ContentType,
			Priority:      msg.Priority,
			CorrelationId: msg.CorrelationId,
			Headers:       msg.Headers,
			RoutingKey:    key,
			Exchange:      exchange,
		})
	}
	c.broker.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if unroutable {
		// basic.return reaches the client before the ack, as with a real broker.
		for _, r := range c.returns {
			r <- amqp.Return{ReplyCode: amqp.NoRoute, ReplyText: "NO_ROUTE", Exchange: exchange, RoutingKey: key, Body: msg.Body}
		}
	}
	if c.confirming {
		c.published++
		for _, confirm := range c.confirms {
			confirm <- amqp.Confirmation{DeliveryTag: c.published, Ack: !nack}
		}
	}
	return nil
}

func (c *fakeChannel) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifyClose = append(c.notifyClose, receiver)
	return receiver
}

func (c *fakeChannel) NotifyCancel(receiver chan string) chan string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifyCanc = append(c.notifyCanc, receiver)
	return receiver
}

func (c *fakeChannel) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeChannel) Close() error {
	if c.IsClosed() {
		return amqp.ErrClosed
	}
	c.broker.record("close channel")
	c.shutdown(nil)
	return nil
}

func (c *fakeChannel) shutdown(reason *amqp.Error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.closeDeliveries()
	notify := c.notifyClose
	c.notifyClose = nil
	cancels := c.notifyCanc
	c.notifyCanc = nil
	c.mu.Unlock()

	for _, n := range notify {
		if reason != nil {
			n <- reason
		}
		close(n)
	}
	for _, n := range cancels {
		close(n)
	}
}

// closeDeliveries must be called with c.mu held.
func (c *fakeChannel) closeDeliveries() {
	if c.deliveries != nil {
		close(c.deliveries)
		c.deliveries = nil
	}
}

// deliver pushes a message to the active consumer.
func (c *fakeChannel) deliver(t *testing.T, tag uint64, redelivered bool, body string) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotNil(t, c.deliveries, "channel has no active consumer")
	c.deliveries <- amqp.Delivery{
		Acknowledger: c,
		DeliveryTag:  tag,
		Redelivered:  redelivered,
		Body:         []byte(body),
		ConsumerTag:  c.consumerTag,
	}
}

// cancelFromBroker simulates the broker revoking the subscription.
func (c *fakeChannel) cancelFromBroker() {
	c.mu.Lock()
	tag := c.consumerTag
	cancels := append([]chan string(nil), c.notifyCanc...)
	c.closeDeliveries()
	c.mu.Unlock()

	for _, n := range cancels {
		n <- tag
	}
}

// drop simulates a channel exception raised by the broker.
func (c *fakeChannel) drop() {
	c.shutdown(&amqp.Error{Code: amqp.PreconditionFailed, Reason: "PRECONDITION_FAILED", Server: true})
}

func (c *fakeChannel) Ack(tag uint64, multiple bool) error {
	c.broker.record("ack %d", tag)
	return nil
}

func (c *fakeChannel) Nack(tag uint64, multiple bool, requeue bool) error {
	c.broker.record("nack %d requeue=%v", tag, requeue)
	return nil
}

func (c *fakeChannel) Reject(tag uint64, requeue bool) error {
	c.broker.record("reject %d requeue=%v", tag, requeue)
	return nil
}

var errDialRefused = errors.New("dial tcp: connection refused")

// waitForOp blocks until the broker has seen op.
func waitForOp(t *testing.T, b *fakeBroker, op string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return b.count(op) > 0
	}, 2*time.Second, 5*time.Millisecond, "operation %q never happened; log: %v", op, b.Ops())
}
