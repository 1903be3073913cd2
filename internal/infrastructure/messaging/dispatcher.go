package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/alem-hub/alem-badges/internal/domain/shared"
	"github.com/alem-hub/alem-badges/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// DISPATCHER
// ══════════════════════════════════════════════════════════════════════════════

// Dispatcher fans bus events out to named handlers. Each call runs through
// the middleware chain under the retrier; a handler that still fails lands
// in the dead letter queue, if one is configured.
type Dispatcher struct {
	bus     shared.EventSubscriber
	retrier *retry.Retrier
	dlq     *DeadLetterQueue
	logger  *slog.Logger

	mu     sync.RWMutex
	routes map[shared.EventType][]HandlerRegistration
	chain  []Middleware

	stop    context.Context
	stopped context.CancelFunc
}

// HandlerRegistration names a handler so dead letters can be redelivered to it.
type HandlerRegistration struct {
	Name    string
	Handler shared.EventHandler
}

// DispatcherConfig wires a Dispatcher.
type DispatcherConfig struct {
	EventBus shared.EventSubscriber

	// Retrier defaults to retry.HandlerRetrier.
	Retrier *retry.Retrier

	// DeadLetterQueueSize of zero disables the queue.
	DeadLetterQueueSize int

	Logger *slog.Logger
}

// NewDispatcher builds an idle dispatcher. Call Start to subscribe it.
func NewDispatcher(config DispatcherConfig) *Dispatcher {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "dispatcher")

	retrier := config.Retrier
	if retrier == nil {
		retrier = retry.HandlerRetrier(func(attempt int, err error, delay time.Duration) {
			logger.Warn("handler attempt failed", "attempt", attempt, "retry_in", delay, "error", err)
		})
	}

	d := &Dispatcher{
		bus:     config.EventBus,
		retrier: retrier,
		logger:  logger,
		routes:  make(map[shared.EventType][]HandlerRegistration),
	}
	d.stop, d.stopped = context.WithCancel(context.Background())
	if config.DeadLetterQueueSize > 0 {
		d.dlq = NewDeadLetterQueue(config.DeadLetterQueueSize)
	}
	return d
}

// Register adds handler for eventType under name (the event type when empty).
func (d *Dispatcher) Register(eventType shared.EventType, name string, handler shared.EventHandler) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}
	if name == "" {
		name = string(eventType)
	}

	d.mu.Lock()
	d.routes[eventType] = append(d.routes[eventType], HandlerRegistration{Name: name, Handler: handler})
	d.mu.Unlock()

	d.logger.Debug("registered handler", "event_type", eventType, "handler_name", name)
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// Middleware wraps handler execution.
type Middleware func(shared.EventHandler) shared.EventHandler

// Use adds middleware to the dispatcher. The first added is the outermost.
func (d *Dispatcher) Use(middleware Middleware) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.chain = append(d.chain, middleware)
}

// RecoveryMiddleware turns handler panics into errors.
func RecoveryMiddleware(logger *slog.Logger) Middleware {
	return func(next shared.EventHandler) shared.EventHandler {
		return func(event shared.Event) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("handler panic recovered",
						"event_type", event.EventType(),
						"panic", r,
						"stack", string(debug.Stack()),
					)
					err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
				}
			}()
			return next(event)
		}
	}
}

// LoggingMiddleware logs handler execution.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	return func(next shared.EventHandler) shared.EventHandler {
		return func(event shared.Event) error {
			start := time.Now()
			err := next(event)

			attrs := []any{
				"event_type", event.EventType(),
				"aggregate_id", event.AggregateID(),
				"correlation_id", shared.CorrelationOf(event),
				"duration", time.Since(start),
			}
			if err != nil {
				logger.Error("handler failed", append(attrs, "error", err)...)
			} else {
				logger.Debug("handler completed", attrs...)
			}
			return err
		}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DISPATCHING
// ══════════════════════════════════════════════════════════════════════════════

// Start subscribes the dispatcher to every event on the bus.
func (d *Dispatcher) Start() error {
	if d.bus == nil {
		return errors.New("dispatcher has no event bus")
	}
	return d.bus.SubscribeAll(d.Dispatch)
}

// Dispatch runs every handler registered for the event type in order.
// It returns the joined errors of handlers that failed after retries.
func (d *Dispatcher) Dispatch(event shared.Event) error {
	d.mu.RLock()
	handlers := d.routes[event.EventType()]
	middlewares := d.chain
	d.mu.RUnlock()

	var errs []error
	for _, reg := range handlers {
		if err := d.execute(event, reg, middlewares); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) execute(event shared.Event, reg HandlerRegistration, middlewares []Middleware) error {
	handler := reg.Handler
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}

	attempts := 0
	err := d.retrier.Do(d.stop, func(context.Context) error {
		attempts++
		if err := handler(event); err != nil {
			if errors.Is(err, ErrHandlerPanic) {
				return retry.Permanent(err)
			}
			return retry.Retryable(err)
		}
		return nil
	})
	if err == nil {
		return nil
	}

	if d.dlq != nil {
		d.dlq.Add(DeadLetterEntry{
			Event:       event,
			HandlerName: reg.Name,
			Error:       err,
			Attempts:    attempts,
			FailedAt:    time.Now(),
		})
	}
	return fmt.Errorf("handler %s failed after %d attempts: %w", reg.Name, attempts, err)
}

// Stop cancels pending retries.
func (d *Dispatcher) Stop() error {
	d.stopped()
	d.logger.Info("dispatcher stopped")
	return nil
}

// DeadLetterQueue returns the dead letter queue, or nil when disabled.
func (d *Dispatcher) DeadLetterQueue() *DeadLetterQueue {
	return d.dlq
}

// Redeliver runs a dead lettered event through the handler that failed it.
// A failing handler puts the event back on the queue.
func (d *Dispatcher) Redeliver(entry DeadLetterEntry) error {
	d.mu.RLock()
	var (
		reg   HandlerRegistration
		found bool
	)
	for _, r := range d.routes[entry.Event.EventType()] {
		if r.Name == entry.HandlerName {
			reg, found = r, true
			break
		}
	}
	middlewares := d.chain
	d.mu.RUnlock()

	if !found {
		return fmt.Errorf("%w: %s", ErrHandlerNotRegistered, entry.HandlerName)
	}
	return d.execute(entry.Event, reg, middlewares)
}

// ══════════════════════════════════════════════════════════════════════════════
// DEAD LETTER QUEUE
// ══════════════════════════════════════════════════════════════════════════════

// DeadLetterEntry is an event a handler gave up on.
type DeadLetterEntry struct {
	Event       shared.Event
	HandlerName string
	Error       error
	Attempts    int
	FailedAt    time.Time
}

// DeadLetterQueue is a bounded FIFO ring of failed events. Adding to a full
// queue overwrites the oldest entry.
type DeadLetterQueue struct {
	mu    sync.Mutex
	ring  []DeadLetterEntry
	head  int
	count int
}

// NewDeadLetterQueue holds up to maxSize entries (1000 when maxSize <= 0).
func NewDeadLetterQueue(maxSize int) *DeadLetterQueue {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &DeadLetterQueue{ring: make([]DeadLetterEntry, maxSize)}
}

// Add appends entry.
func (q *DeadLetterQueue) Add(entry DeadLetterEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	tail := (q.head + q.count) % len(q.ring)
	q.ring[tail] = entry
	if q.count == len(q.ring) {
		q.head = (q.head + 1) % len(q.ring)
		return
	}
	q.count++
}

// Entries copies the queue, oldest first.
func (q *DeadLetterQueue) Entries() []DeadLetterEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]DeadLetterEntry, q.count)
	for i := range out {
		out[i] = q.ring[(q.head+i)%len(q.ring)]
	}
	return out
}

// Size is the number of queued entries.
func (q *DeadLetterQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Pop removes the oldest entry.
func (q *DeadLetterQueue) Pop() (DeadLetterEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return DeadLetterEntry{}, false
	}
	entry := q.ring[q.head]
	q.ring[q.head] = DeadLetterEntry{}
	q.head = (q.head + 1) % len(q.ring)
	q.count--
	return entry, true
}

var (
	// ErrHandlerPanic is returned when a handler panics.
	ErrHandlerPanic = errors.New("handler panicked")

	// ErrHandlerNotRegistered is returned when redelivering to an unknown handler.
	ErrHandlerNotRegistered = errors.New("handler not registered")
)
