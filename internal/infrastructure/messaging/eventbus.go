// Package messaging implements event bus functionality for badge events.
// It provides both in-memory and Redis-based event buses.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/alem-badges/internal/domain/shared"
)

// DefaultChannel is the Redis channel badge events are published on.
const DefaultChannel = "alem-badges:events"

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// anyEvent keys the subscribers registered through SubscribeAll.
const anyEvent shared.EventType = ""

// InMemoryEventBus delivers events to handlers in the same process. In async
// mode each handler call runs on its own goroutine, at most WorkerPoolSize at
// a time.
type InMemoryEventBus struct {
	mu     sync.RWMutex
	subs   map[shared.EventType][]shared.EventHandler
	closed bool

	async   bool
	slots   chan struct{}
	done    chan struct{}
	pending sync.WaitGroup

	logger  *slog.Logger
	metrics *EventBusMetrics
}

// InMemoryEventBusConfig tunes an InMemoryEventBus.
type InMemoryEventBusConfig struct {
	// AsyncMode makes Publish return before handlers run.
	AsyncMode      bool
	WorkerPoolSize int
	Logger         *slog.Logger
}

// DefaultInMemoryEventBusConfig is async with ten workers.
func DefaultInMemoryEventBusConfig() InMemoryEventBusConfig {
	return InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 10}
}

// NewInMemoryEventBus creates an open bus.
func NewInMemoryEventBus(config InMemoryEventBusConfig) *InMemoryEventBus {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workers := config.WorkerPoolSize
	if workers <= 0 {
		workers = 10
	}

	return &InMemoryEventBus{
		subs:    make(map[shared.EventType][]shared.EventHandler),
		async:   config.AsyncMode,
		slots:   make(chan struct{}, workers),
		done:    make(chan struct{}),
		logger:  logger,
		metrics: NewEventBusMetrics(),
	}
}

// Subscribe adds a handler for one event type.
func (b *InMemoryEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	if eventType == anyEvent {
		return errors.New("event type is required")
	}
	return b.subscribe(eventType, handler)
}

// SubscribeAll adds a handler that sees every event.
func (b *InMemoryEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.subscribe(anyEvent, handler)
}

func (b *InMemoryEventBus) subscribe(key shared.EventType, handler shared.EventHandler) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrEventBusClosed
	}
	b.subs[key] = append(b.subs[key], handler)
	b.logger.Debug("subscribed handler", "event_type", key)
	return nil
}

// Publish hands the event to typed subscribers first, then to the catch-all
// ones. Handler errors are logged and counted but never returned.
func (b *InMemoryEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errors.New("event cannot be nil")
	}
	et := event.EventType()

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrEventBusClosed
	}
	targets := append(slices.Clone(b.subs[et]), b.subs[anyEvent]...)
	if b.async {
		b.pending.Add(len(targets))
	}
	b.mu.RUnlock()

	b.metrics.RecordPublish(et)

	for _, h := range targets {
		if b.async {
			go b.runPooled(event, h)
			continue
		}
		b.run(event, h)
	}
	return nil
}

func (b *InMemoryEventBus) runPooled(event shared.Event, h shared.EventHandler) {
	defer b.pending.Done()
	select {
	case b.slots <- struct{}{}:
	case <-b.done:
		return
	}
	defer func() { <-b.slots }()
	b.run(event, h)
}

func (b *InMemoryEventBus) run(event shared.Event, h shared.EventHandler) {
	start := time.Now()
	err := h(event)
	b.metrics.RecordHandlerExecution(time.Since(start), err == nil)
	if err != nil {
		b.logger.Error("event handler failed", "event_type", event.EventType(), "async", b.async, "error", err)
	}
}

// Drain blocks until every async handler started so far has returned.
func (b *InMemoryEventBus) Drain() {
	b.pending.Wait()
}

// Close drains pending handlers. Later Subscribe and Publish calls fail with
// ErrEventBusClosed.
func (b *InMemoryEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.pending.Wait()
	close(b.done)
	b.logger.Info("event bus closed")
	return nil
}

// Metrics exposes the bus counters.
func (b *InMemoryEventBus) Metrics() *EventBusMetrics {
	return b.metrics
}

// ══════════════════════════════════════════════════════════════════════════════
// REDIS EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// RedisEventBus publishes events to a Redis Pub/Sub channel and delivers
// events from other instances to local subscribers.
type RedisEventBus struct {
	client      RedisClient
	localBus    *InMemoryEventBus
	channelName string
	instanceID  string
	logger      *slog.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	closed      atomic.Bool
}

// RedisClient is the Pub/Sub subset of a Redis client.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channels ...string) (<-chan RedisMessage, error)
	Close() error
}

// RedisMessage is a message received from Redis Pub/Sub.
type RedisMessage struct {
	Channel string
	Payload string
	Err     error
}

// RedisEventBusConfig contains configuration for RedisEventBus.
type RedisEventBusConfig struct {
	Client RedisClient

	// ChannelName defaults to DefaultChannel.
	ChannelName string

	// InstanceID identifies this process so it can skip its own messages.
	InstanceID string

	LocalBusConfig InMemoryEventBusConfig

	Logger *slog.Logger
}

// NewRedisEventBus creates a Redis-backed event bus and starts listening.
func NewRedisEventBus(config RedisEventBusConfig) (*RedisEventBus, error) {
	if config.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if config.ChannelName == "" {
		config.ChannelName = DefaultChannel
	}
	if config.InstanceID == "" {
		config.InstanceID = uuid.NewString()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.LocalBusConfig.Logger == nil {
		config.LocalBusConfig.Logger = config.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())

	bus := &RedisEventBus{
		client:      config.Client,
		localBus:    NewInMemoryEventBus(config.LocalBusConfig),
		channelName: config.ChannelName,
		instanceID:  config.InstanceID,
		logger:      config.Logger.With("component", "redis_event_bus"),
		ctx:         ctx,
		cancel:      cancel,
	}

	if err := bus.startSubscriber(); err != nil {
		cancel()
		return nil, fmt.Errorf("start subscriber: %w", err)
	}

	return bus, nil
}

// Subscribe registers a handler for a specific event type.
func (b *RedisEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.localBus.Subscribe(eventType, handler)
}

// SubscribeAll registers a handler for all events.
func (b *RedisEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.localBus.SubscribeAll(handler)
}

// Publish sends an event to Redis and to local handlers. A Redis failure is
// logged and local delivery still happens.
func (b *RedisEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errors.New("event cannot be nil")
	}

	if b.closed.Load() {
		return ErrEventBusClosed
	}

	data, err := json.Marshal(newEnvelope(b.instanceID, event))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := b.client.Publish(b.ctx, b.channelName, string(data)); err != nil {
		b.logger.Error("failed to publish to redis", "event_type", event.EventType(), "error", err)
	}

	return b.localBus.Publish(event)
}

func (b *RedisEventBus) startSubscriber() error {
	messages, err := b.client.Subscribe(b.ctx, b.channelName)
	if err != nil {
		return err
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.subscriptionLoop(messages)
	}()
	return nil
}

func (b *RedisEventBus) subscriptionLoop(messages <-chan RedisMessage) {
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			if msg.Err != nil {
				b.logger.Error("redis subscription error", "error", msg.Err)
				continue
			}
			b.handleRedisMessage(msg)
		}
	}
}

func (b *RedisEventBus) handleRedisMessage(msg RedisMessage) {
	event, instanceID, err := DecodeEvent([]byte(msg.Payload))
	if err != nil {
		b.logger.Error("failed to decode event", "error", err)
		return
	}

	// Already delivered locally by Publish.
	if instanceID == b.instanceID {
		return
	}

	if err := b.localBus.Publish(event); err != nil {
		b.logger.Error("failed to process remote event", "error", err)
	}
}

// Close stops the listener and the local bus.
func (b *RedisEventBus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}

	b.cancel()
	b.wg.Wait()

	if err := b.localBus.Close(); err != nil {
		b.logger.Error("failed to close local bus", "error", err)
	}

	b.logger.Info("redis event bus closed")
	return nil
}

// InstanceID returns the id this bus stamps on published messages.
func (b *RedisEventBus) InstanceID() string {
	return b.instanceID
}

// Metrics returns the local bus metrics.
func (b *RedisEventBus) Metrics() *EventBusMetrics {
	return b.localBus.Metrics()
}

// ══════════════════════════════════════════════════════════════════════════════
// EVENT ENVELOPE
// ══════════════════════════════════════════════════════════════════════════════

type eventEnvelope struct {
	InstanceID    string                 `json:"instance_id"`
	EventType     shared.EventType       `json:"event_type"`
	AggregateID   string                 `json:"aggregate_id"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	OccurredAt    time.Time              `json:"occurred_at"`
	Payload       map[string]interface{} `json:"payload"`
}

func newEnvelope(instanceID string, event shared.Event) eventEnvelope {
	return eventEnvelope{
		InstanceID:    instanceID,
		EventType:     event.EventType(),
		AggregateID:   event.AggregateID(),
		CorrelationID: shared.CorrelationOf(event),
		OccurredAt:    event.OccurredAt(),
		Payload:       event.Payload(),
	}
}

// DecodeEvent rebuilds an event from its wire form and returns the id of the
// instance that published it.
func DecodeEvent(data []byte) (shared.Event, string, error) {
	var envelope eventEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, "", fmt.Errorf("unmarshal event: %w", err)
	}
	if envelope.EventType == "" {
		return nil, "", ErrEventNotSupported
	}

	return &reconstructedEvent{
		eventType:     envelope.EventType,
		aggregateID:   envelope.AggregateID,
		correlationID: envelope.CorrelationID,
		occurredAt:    envelope.OccurredAt,
		payload:       envelope.Payload,
	}, envelope.InstanceID, nil
}

// reconstructedEvent is an event received from another instance.
type reconstructedEvent struct {
	eventType     shared.EventType
	aggregateID   string
	correlationID string
	occurredAt    time.Time
	payload       map[string]interface{}
}

func (e *reconstructedEvent) EventType() shared.EventType { return e.eventType }

func (e *reconstructedEvent) AggregateID() string { return e.aggregateID }

func (e *reconstructedEvent) OccurredAt() time.Time { return e.occurredAt }

func (e *reconstructedEvent) Payload() map[string]interface{} { return e.payload }

func (e *reconstructedEvent) Correlation() string { return e.correlationID }

// ══════════════════════════════════════════════════════════════════════════════
// METRICS
// ══════════════════════════════════════════════════════════════════════════════

// EventBusMetrics counts what went through a bus. Safe for concurrent use.
type EventBusMetrics struct {
	published sync.Map // shared.EventType -> *atomic.Int64

	handled  atomic.Int64
	failed   atomic.Int64
	busyTime atomic.Int64 // nanoseconds spent in handlers
}

// NewEventBusMetrics creates zeroed metrics.
func NewEventBusMetrics() *EventBusMetrics {
	return &EventBusMetrics{}
}

// RecordPublish counts one published event.
func (m *EventBusMetrics) RecordPublish(eventType shared.EventType) {
	n, _ := m.published.LoadOrStore(eventType, new(atomic.Int64))
	n.(*atomic.Int64).Add(1)
}

// RecordHandlerExecution counts one handler call.
func (m *EventBusMetrics) RecordHandlerExecution(duration time.Duration, success bool) {
	m.handled.Add(1)
	m.busyTime.Add(int64(duration))
	if !success {
		m.failed.Add(1)
	}
}

// Snapshot returns the current counters.
func (m *EventBusMetrics) Snapshot() EventBusMetricsSnapshot {
	snap := EventBusMetricsSnapshot{
		Published:         make(map[shared.EventType]int64),
		TotalHandlerExecs: m.handled.Load(),
		HandlerFailures:   m.failed.Load(),
	}
	m.published.Range(func(k, v any) bool {
		n := v.(*atomic.Int64).Load()
		snap.Published[k.(shared.EventType)] = n
		snap.TotalPublished += n
		return true
	})
	if snap.TotalHandlerExecs > 0 {
		snap.AverageHandlerDuration = time.Duration(m.busyTime.Load() / snap.TotalHandlerExecs)
	}
	return snap
}

// EventBusMetricsSnapshot is a point-in-time copy of EventBusMetrics.
type EventBusMetricsSnapshot struct {
	Published              map[shared.EventType]int64 `json:"published"`
	TotalPublished         int64                      `json:"total_published"`
	TotalHandlerExecs      int64                      `json:"total_handler_execs"`
	HandlerFailures        int64                      `json:"handler_failures"`
	AverageHandlerDuration time.Duration              `json:"average_handler_duration_ns"`
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrEventBusClosed is returned when operations are attempted on a closed bus.
	ErrEventBusClosed = errors.New("event bus is closed")

	// ErrEventNotSupported is returned for messages without an event type.
	ErrEventNotSupported = errors.New("event type not supported")
)
