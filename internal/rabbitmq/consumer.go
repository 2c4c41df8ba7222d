package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/glimte/queue-manager-go/messaging"
)

// Consumer keeps one subscription alive on a broker. All state changes run
// on a single control loop owned by StartListening; broker round trips run
// in the background and report back to that loop as events.
type Consumer struct {
	connector      *Connector
	topology       Topology
	clock          clock.Clock
	logger         *slog.Logger
	metrics        MetricsCollector
	reconnectDelay time.Duration
	prefetchCount  int
	tagPrefix      string
	pingTimeout    time.Duration

	events       chan event
	stopRequests chan struct{}
	done         chan struct{}

	mu          sync.RWMutex
	state       State
	intent      Intent
	started     bool
	conn        Connection
	queue       string
	consumerTag string

	// Owned by the control loop.
	handler       messaging.Handler
	ch            Channel
	generation    uint64
	steps         []Step
	stepIndex     int
	deliveries    <-chan amqp.Delivery
	connClosed    chan *amqp.Error
	chanClosed    chan *amqp.Error
	cancelled     chan string
	reconnect     clock.Timer
	connectedOnce bool
	result        error
}

type consumerConfig struct {
	topology       Topology
	dialer         Dialer
	dialTimeout    time.Duration
	clock          clock.Clock
	logger         *slog.Logger
	metrics        MetricsCollector
	reconnectDelay time.Duration
	prefetchCount  int
	tagPrefix      string
	pingTimeout    time.Duration
}

// ConsumerOption configures the consumer
type ConsumerOption func(*consumerConfig)

// WithTopology replaces the whole topology at once
func WithTopology(topology Topology) ConsumerOption {
	return func(c *consumerConfig) {
		c.topology = topology
	}
}

// WithExchange sets the exchange to declare and bind to
func WithExchange(name, kind string) ConsumerOption {
	return func(c *consumerConfig) {
		c.topology.Exchange = name
		c.topology.ExchangeKind = kind
	}
}

// WithQueue sets the queue to consume from and its declaration arguments
func WithQueue(name string, args amqp.Table) ConsumerOption {
	return func(c *consumerConfig) {
		c.topology.Queue = name
		c.topology.QueueArguments = args
	}
}

// WithRoutingKey sets the binding routing key
func WithRoutingKey(key string) ConsumerOption {
	return func(c *consumerConfig) {
		c.topology.RoutingKey = key
	}
}

// WithDeclare toggles topology declaration
func WithDeclare(declare bool) ConsumerOption {
	return func(c *consumerConfig) {
		c.topology.Declare = declare
	}
}

// WithDurable declares the exchange and named queue as durable
func WithDurable(durable bool) ConsumerOption {
	return func(c *consumerConfig) {
		c.topology.Durable = durable
	}
}

// WithDialer sets the connection strategy
func WithDialer(dialer Dialer) ConsumerOption {
	return func(c *consumerConfig) {
		c.dialer = dialer
	}
}

// WithConnectTimeout bounds each connection attempt
func WithConnectTimeout(timeout time.Duration) ConsumerOption {
	return func(c *consumerConfig) {
		c.dialTimeout = timeout
	}
}

// WithClock sets the clock used for reconnect scheduling
func WithClock(clk clock.Clock) ConsumerOption {
	return func(c *consumerConfig) {
		c.clock = clk
	}
}

// WithConsumerLogger sets the logger
func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(c *consumerConfig) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics collector
func WithMetrics(metrics MetricsCollector) ConsumerOption {
	return func(c *consumerConfig) {
		c.metrics = metrics
	}
}

// WithReconnectDelay sets the fixed delay before reconnecting
func WithReconnectDelay(delay time.Duration) ConsumerOption {
	return func(c *consumerConfig) {
		c.reconnectDelay = delay
	}
}

// WithPrefetchCount sets the prefetch count
func WithPrefetchCount(count int) ConsumerOption {
	return func(c *consumerConfig) {
		c.prefetchCount = count
	}
}

// WithConsumerTagPrefix sets the prefix of generated consumer tags
func WithConsumerTagPrefix(prefix string) ConsumerOption {
	return func(c *consumerConfig) {
		c.tagPrefix = prefix
	}
}

// WithPingTimeout bounds Ping when it has to open a throwaway connection
func WithPingTimeout(timeout time.Duration) ConsumerOption {
	return func(c *consumerConfig) {
		c.pingTimeout = timeout
	}
}

// NewConsumer creates a consumer for the given endpoints
func NewConsumer(endpoints []string, options ...ConsumerOption) (*Consumer, error) {
	cfg := &consumerConfig{
		topology:       Topology{Declare: true},
		dialTimeout:    30 * time.Second,
		clock:          clock.NewClock(),
		logger:         slog.Default(),
		metrics:        nopCollector{},
		reconnectDelay: 5 * time.Second,
		prefetchCount:  1,
		tagPrefix:      "queue-manager",
		pingTimeout:    5 * time.Second,
	}

	for _, opt := range options {
		opt(cfg)
	}

	if cfg.prefetchCount < 1 {
		return nil, fmt.Errorf("%w: prefetch count must be at least 1", ErrInvalidConfiguration)
	}
	if cfg.reconnectDelay < 0 {
		return nil, fmt.Errorf("%w: reconnect delay must not be negative", ErrInvalidConfiguration)
	}

	connector, err := NewConnector(endpoints, cfg.dialer, cfg.dialTimeout, cfg.logger)
	if err != nil {
		return nil, err
	}

	return &Consumer{
		connector:      connector,
		topology:       cfg.topology,
		clock:          cfg.clock,
		logger:         cfg.logger,
		metrics:        cfg.metrics,
		reconnectDelay: cfg.reconnectDelay,
		prefetchCount:  cfg.prefetchCount,
		tagPrefix:      cfg.tagPrefix,
		pingTimeout:    cfg.pingTimeout,
		events:         make(chan event, 16),
		stopRequests:   make(chan struct{}),
		done:           make(chan struct{}),
		state:          StateDisconnected,
		intent:         IntentRunning,
		queue:          cfg.topology.Queue,
	}, nil
}

// Topology returns the consumer's topology
func (c *Consumer) Topology() Topology {
	return c.topology
}

// Endpoints returns the consumer's endpoint set
func (c *Consumer) Endpoints() []string {
	return c.connector.Endpoints()
}

// State returns the current lifecycle state
func (c *Consumer) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Intent returns the current shutdown intent
func (c *Consumer) Intent() Intent {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.intent
}

// QueueName returns the queue being consumed. For broker-named queues it is
// empty until the declaration completes.
func (c *Consumer) QueueName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.queue
}

// ConsumerTag returns the active consumer tag, empty when not consuming
func (c *Consumer) ConsumerTag() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.consumerTag
}

// Done is closed when StartListening returns
func (c *Consumer) Done() <-chan struct{} {
	return c.done
}

// StartListening connects and consumes until the consumer is stopped.
//
// It returns nil after a graceful shutdown, a *ConnectionError when the
// very first connection attempt fails, or the handler's error when the
// handler returned messaging.ErrInterrupted. Cancelling ctx is equivalent
// to calling Stop.
func (c *Consumer) StartListening(ctx context.Context, handler messaging.Handler) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrConsumerRunning
	}
	if c.intent != IntentRunning {
		c.mu.Unlock()
		return ErrConsumerStopped
	}
	c.started = true
	c.mu.Unlock()

	if handler == nil {
		handler = messaging.LogHandler(c.logger)
	}
	c.handler = handler

	defer close(c.done)
	defer c.release()

	// Cancelling ctx shuts down like Stop; it never aborts a running handler.
	opCtx := context.WithoutCancel(ctx)
	ctxDone := ctx.Done()

	c.connect(opCtx)

	for {
		var reconnectC <-chan time.Time
		if c.reconnect != nil {
			reconnectC = c.reconnect.C()
		}

		select {
		case ev := <-c.events:
			c.handleEvent(ev)

		case err := <-c.connClosed:
			c.connClosed = nil
			c.onConnectionClosed(err)

		case err := <-c.chanClosed:
			c.chanClosed = nil
			c.onChannelClosed(err)

		case tag, ok := <-c.cancelled:
			if !ok {
				c.cancelled = nil
				continue
			}
			c.onConsumerCancelled(tag)

		case d, ok := <-c.deliveries:
			if !ok {
				c.deliveries = nil
				continue
			}
			c.dispatch(opCtx, d)

		case <-reconnectC:
			c.reconnect = nil
			c.connect(opCtx)

		case <-c.stopRequests:
			c.beginShutdown()

		case <-ctxDone:
			ctxDone = nil
			c.beginShutdown()
		}

		if c.State() == StateStopped {
			return c.result
		}
	}
}

// Stop requests a graceful shutdown: cancel the consumer, close the channel,
// close the connection. It waits until StartListening has returned or ctx
// is done. Calling Stop again is a no-op. Handlers must not call Stop; they
// return messaging.ErrInterrupted instead.
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.started {
		if c.intent == IntentRunning {
			c.intent = IntentStopped
			c.state = StateStopped
		}
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.logger.Info("stopping")

	select {
	case c.stopRequests <- struct{}{}:
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-c.done:
		c.logger.Info("stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ping reports whether a usable connection exists. Without a live
// connection it opens a throwaway one, bounded by the ping timeout.
func (c *Consumer) Ping(ctx context.Context) bool {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn != nil {
		return !conn.IsClosed()
	}

	if _, ok := ctx.Deadline(); !ok && c.pingTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.pingTimeout)
		defer cancel()
	}

	probe, err := c.connector.DialNow(ctx)
	if err != nil {
		c.logger.Debug("ping failed", "error", err)
		return false
	}
	defer probe.Close()

	return !probe.IsClosed()
}

type event interface{}

type connectedEvent struct {
	conn Connection
	err  error
}

type channelOpenedEvent struct {
	conn Connection
	ch   Channel
	err  error
}

type stepDoneEvent struct {
	generation uint64
	index      int
	queue      string
	err        error
}

type consumeStartedEvent struct {
	generation uint64
	deliveries <-chan amqp.Delivery
	err        error
}

type cancelOkEvent struct {
	generation uint64
	err        error
}

// post hands an event to the control loop, or drops it once the loop is gone.
func (c *Consumer) post(ev event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Consumer) handleEvent(ev event) {
	switch e := ev.(type) {
	case connectedEvent:
		c.onConnected(e)
	case channelOpenedEvent:
		c.onChannelOpened(e)
	case stepDoneEvent:
		c.onStepDone(e)
	case consumeStartedEvent:
		c.onConsumeStarted(e)
	case cancelOkEvent:
		c.onCancelOk(e)
	default:
		c.logger.Error("unknown consumer event", "event", fmt.Sprintf("%T", ev))
	}
}

func (c *Consumer) transition(to State) error {
	c.mu.Lock()
	from := c.state
	if from == to {
		c.mu.Unlock()
		return nil
	}
	if !CanTransition(from, to) {
		c.mu.Unlock()
		err := &TransitionError{From: from, To: to}
		c.logger.Error("rejected state transition", "from", from, "to", to)
		return err
	}
	c.state = to
	c.mu.Unlock()

	c.logger.Debug("state changed", "from", from, "to", to)
	c.metrics.StateChanged(from, to)
	return nil
}

func (c *Consumer) setIntent(intent Intent) {
	c.mu.Lock()
	c.intent = intent
	c.mu.Unlock()
}

func (c *Consumer) closing() bool {
	return c.Intent() != IntentRunning
}

func (c *Consumer) setConn(conn Connection) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *Consumer) setQueue(queue string) {
	c.mu.Lock()
	c.queue = queue
	c.mu.Unlock()
}

func (c *Consumer) setConsumerTag(tag string) {
	c.mu.Lock()
	c.consumerTag = tag
	c.mu.Unlock()
}

func (c *Consumer) connect(ctx context.Context) {
	if c.transition(StateConnecting) != nil {
		return
	}
	c.connector.Connect(ctx, func(conn Connection, err error) {
		c.post(connectedEvent{conn: conn, err: err})
	})
}

func (c *Consumer) onConnected(e connectedEvent) {
	if e.err != nil {
		switch {
		case c.closing():
			c.finish()
		case !c.connectedOnce:
			c.logger.Error("initial connection failed", "error", e.err)
			c.result = e.err
			c.finish()
		default:
			c.logger.Error("reconnection failed", "error", e.err)
			c.transition(StateDisconnected)
			c.scheduleReconnect()
		}
		return
	}

	c.setConn(e.conn)
	if c.closing() {
		c.finish()
		return
	}

	c.connectedOnce = true
	c.logger.Info("connection opened")
	c.connClosed = e.conn.NotifyClose(make(chan *amqp.Error, 1))

	c.transition(StateChannelOpening)
	c.openChannel()
}

func (c *Consumer) openChannel() {
	c.logger.Info("creating a new channel")
	conn := c.conn
	go func() {
		ch, err := conn.Channel()
		c.post(channelOpenedEvent{conn: conn, ch: ch, err: err})
	}()
}

func (c *Consumer) onChannelOpened(e channelOpenedEvent) {
	if e.conn != c.conn {
		if e.ch != nil {
			e.ch.Close()
		}
		return
	}

	if e.err != nil {
		if c.closing() {
			c.finish()
			return
		}
		c.logger.Error("failed to open channel", "error", &ChannelError{
			Op:        "open",
			ChannelID: "new",
			Err:       e.err,
			Timestamp: time.Now(),
		})
		c.closeConnection()
		return
	}

	c.generation++
	c.ch = e.ch
	c.chanClosed = e.ch.NotifyClose(make(chan *amqp.Error, 1))
	c.logger.Info("channel opened", "generation", c.generation)

	if c.closing() {
		c.closeChannel()
		return
	}

	c.setQueue(c.topology.Queue)
	c.steps = c.topology.Plan()
	c.stepIndex = 0

	c.transition(StateDeclaring)
	c.runNextStep()
}

func (c *Consumer) runNextStep() {
	if c.stepIndex >= len(c.steps) {
		c.onBindOk()
		return
	}

	step := c.steps[c.stepIndex]
	ch, generation, index, queue := c.ch, c.generation, c.stepIndex, c.QueueName()

	c.logger.Info("negotiating topology", "step", step.Kind, "queue", queue, "exchange", c.topology.Exchange)

	go func() {
		resolved, err := step.Run(ch, queue)
		c.post(stepDoneEvent{generation: generation, index: index, queue: resolved, err: err})
	}()
}

func (c *Consumer) onStepDone(e stepDoneEvent) {
	if c.ch == nil || e.generation != c.generation || e.index != c.stepIndex {
		c.logger.Debug("dropping topology result from a closed channel", "generation", e.generation)
		return
	}

	if c.closing() {
		c.closeChannel()
		return
	}

	if e.err != nil {
		c.logger.Error("topology negotiation failed", "error", e.err)
		c.closeChannel()
		return
	}

	c.setQueue(e.queue)
	c.stepIndex++
	c.runNextStep()
}

func (c *Consumer) onBindOk() {
	c.logger.Info("queue bound", "queue", c.QueueName())
	c.transition(StateConsuming)
	c.startConsuming()
}

func (c *Consumer) startConsuming() {
	c.logger.Info("issuing consumer related RPC commands")

	tag := fmt.Sprintf("%s-%s", c.tagPrefix, uuid.NewString())
	c.setConsumerTag(tag)
	c.cancelled = c.ch.NotifyCancel(make(chan string, 1))

	ch, generation, queue, prefetch := c.ch, c.generation, c.QueueName(), c.prefetchCount

	go func() {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			c.post(consumeStartedEvent{generation: generation, err: fmt.Errorf("failed to set QoS: %w", err)})
			return
		}
		deliveries, err := ch.Consume(queue, tag, false, false, false, false, nil)
		c.post(consumeStartedEvent{generation: generation, deliveries: deliveries, err: err})
	}()
}

func (c *Consumer) onConsumeStarted(e consumeStartedEvent) {
	if c.ch == nil || e.generation != c.generation {
		c.logger.Debug("dropping consume result from a closed channel", "generation", e.generation)
		return
	}

	if e.err != nil {
		c.logger.Error("failed to start consuming", "error", &ConsumerError{
			Queue:       c.QueueName(),
			ConsumerTag: c.ConsumerTag(),
			Op:          "consume",
			Err:         e.err,
			Timestamp:   time.Now(),
		})
		c.setConsumerTag("")
		c.closeChannel()
		return
	}

	c.deliveries = e.deliveries
	if c.closing() {
		c.cancelConsumer()
		return
	}

	c.logger.Info("consuming",
		"queue", c.QueueName(),
		"consumerTag", c.ConsumerTag(),
		"prefetchCount", c.prefetchCount)
}

// dispatch runs the handler for one delivery and settles it exactly once.
func (c *Consumer) dispatch(ctx context.Context, d amqp.Delivery) {
	generation := c.generation

	err := messaging.SafeHandle(ctx, c.handler, d.Body, propertiesFromDelivery(d))

	switch {
	case err == nil:
		c.settle(generation, d, OutcomeAcked, func() error { return d.Ack(false) })

	case messaging.IsInterrupt(err):
		c.logger.Warn("handler interrupted, rejecting message and stopping",
			"deliveryTag", d.DeliveryTag,
			"error", err)
		c.settle(generation, d, OutcomeInterrupted, func() error { return d.Reject(false) })
		if c.result == nil {
			c.result = err
		}
		c.beginShutdown()

	default:
		requeue := !d.Redelivered
		c.logger.Error("failed to process message",
			"error", err,
			"queue", c.QueueName(),
			"deliveryTag", d.DeliveryTag,
			"messageId", d.MessageId,
			"redelivered", d.Redelivered,
			"requeue", requeue)
		outcome := OutcomeRejected
		if requeue {
			outcome = OutcomeRequeued
		}
		c.settle(generation, d, outcome, func() error { return d.Reject(requeue) })
	}
}

// settle sends ack or reject only while the channel that produced the
// delivery is still the live one.
func (c *Consumer) settle(generation uint64, d amqp.Delivery, outcome Outcome, send func() error) {
	if c.ch == nil || generation != c.generation || c.ch.IsClosed() {
		c.logger.Warn("not settling delivery", "deliveryTag", d.DeliveryTag, "error", ErrStaleDelivery)
		c.metrics.DeliverySettled(OutcomeDropped)
		return
	}

	if err := send(); err != nil {
		c.logger.Error("failed to settle message",
			"outcome", outcome,
			"deliveryTag", d.DeliveryTag,
			"error", err)
		return
	}

	c.metrics.DeliverySettled(outcome)
}

func (c *Consumer) onConsumerCancelled(tag string) {
	c.logger.Info("consumer was cancelled remotely, shutting down", "consumerTag", tag)
	c.setConsumerTag("")
	c.deliveries = nil
	if c.ch != nil {
		c.closeChannel()
	}
}

func (c *Consumer) cancelConsumer() {
	tag := c.ConsumerTag()
	c.logger.Info("sending a Basic.Cancel RPC command to RabbitMQ", "consumerTag", tag)

	ch, generation := c.ch, c.generation
	go func() {
		err := ch.Cancel(tag, false)
		c.post(cancelOkEvent{generation: generation, err: err})
	}()
}

func (c *Consumer) onCancelOk(e cancelOkEvent) {
	if c.ch == nil || e.generation != c.generation {
		return
	}
	if e.err != nil {
		c.logger.Warn("consumer cancel failed", "error", e.err)
	} else {
		c.logger.Info("RabbitMQ acknowledged the cancellation of the consumer")
	}
	c.setConsumerTag("")
	c.closeChannel()
}

func (c *Consumer) closeChannel() {
	c.logger.Info("closing the channel")
	ch := c.ch
	go func() {
		if err := ch.Close(); err != nil {
			c.logger.Debug("channel close", "error", err)
		}
	}()
}

func (c *Consumer) closeConnection() {
	c.logger.Info("closing connection")
	conn := c.conn
	go func() {
		if err := conn.Close(); err != nil {
			c.logger.Debug("connection close", "error", err)
		}
	}()
}

// dropChannel forgets everything that belongs to the current channel and
// invalidates results still in flight for it.
func (c *Consumer) dropChannel() {
	c.ch = nil
	c.chanClosed = nil
	c.cancelled = nil
	c.deliveries = nil
	c.steps = nil
	c.generation++
	c.setConsumerTag("")
}

func (c *Consumer) onChannelClosed(reason *amqp.Error) {
	if reason != nil {
		c.logger.Error("channel was closed", "reason", reason)
	} else {
		c.logger.Info("channel closed")
	}
	c.dropChannel()

	if c.closing() {
		c.finish()
		return
	}

	if c.conn != nil && !c.conn.IsClosed() {
		c.closeConnection()
	}
}

func (c *Consumer) onConnectionClosed(reason *amqp.Error) {
	c.dropChannel()
	c.connClosed = nil
	c.setConn(nil)

	if c.closing() {
		c.finish()
		return
	}

	c.logger.Warn("connection closed, reopening",
		"reason", reason,
		"delay", c.reconnectDelay)
	c.transition(StateDisconnected)
	c.scheduleReconnect()
}

func (c *Consumer) scheduleReconnect() {
	if c.reconnect != nil {
		return
	}
	c.reconnect = c.clock.NewTimer(c.reconnectDelay)
	c.metrics.ReconnectScheduled(c.reconnectDelay)
}

func (c *Consumer) hasActiveConsumer() bool {
	return c.deliveries != nil && c.ConsumerTag() != ""
}

// beginShutdown flips the intent to closing and starts the teardown that fits
// the current state. Anything in flight finishes through the closing branches
// of the event handlers.
func (c *Consumer) beginShutdown() {
	if c.closing() {
		c.logger.Debug("shutdown already in progress")
		return
	}
	c.setIntent(IntentClosing)
	previous := c.State()
	c.transition(StateClosing)

	switch {
	case c.reconnect != nil:
		c.reconnect.Stop()
		c.reconnect = nil
		c.finish()

	case previous == StateDisconnected:
		c.finish()

	case c.hasActiveConsumer():
		c.cancelConsumer()
	}
}

// finish closes what is still open before reporting StateStopped.
func (c *Consumer) finish() {
	c.release()
	c.transition(StateStopped)
	c.setIntent(IntentStopped)
}

// release closes whatever is still open once the loop has stopped.
func (c *Consumer) release() {
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	if c.ch != nil && !c.ch.IsClosed() {
		c.ch.Close()
	}
	c.dropChannel()

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn != nil {
		c.logger.Info("closing connection")
		if err := conn.Close(); err != nil {
			c.logger.Debug("connection close", "error", err)
		}
		c.setConn(nil)
	}
}

func propertiesFromDelivery(d amqp.Delivery) messaging.Properties {
	return messaging.Properties{
		ContentType:     d.ContentType,
		ContentEncoding: d.ContentEncoding,
		Headers:         map[string]interface{}(d.Headers),
		DeliveryMode:    d.DeliveryMode,
		Priority:        d.Priority,
		CorrelationID:   d.CorrelationId,
		ReplyTo:         d.ReplyTo,
		Expiration:      d.Expiration,
		MessageID:       d.MessageId,
		Timestamp:       d.Timestamp,
		Type:            d.Type,
		UserID:          d.UserId,
		AppID:           d.AppId,
		DeliveryTag:     d.DeliveryTag,
		Redelivered:     d.Redelivered,
		Exchange:        d.Exchange,
		RoutingKey:      d.RoutingKey,
		ConsumerTag:     d.ConsumerTag,
	}
}
