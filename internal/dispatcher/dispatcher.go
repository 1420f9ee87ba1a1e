package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dinorun/posecontrol/pkg/core"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrClosed is returned by Dispatch after Close.
var ErrClosed = errors.New("dispatcher closed")

// Event is one classified gesture handed to the game side.
type Event struct {
	SessionID string
	Gesture   core.Gesture
	FrameSeq  uint64
	Timestamp time.Time
}

// HandlerFunc consumes a gesture event.
type HandlerFunc func(Event) error

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures handler registration.
type Option func(*config)

type config struct {
	bufferSize int
	blocking   bool
	logged     bool
}

// Buffered makes the handler async with a queue of the given size.
func Buffered(size int) Option {
	return func(c *config) {
		c.bufferSize = size
	}
}

// Blocking makes a buffered handler block when the queue is full instead of dropping.
func Blocking() Option {
	return func(c *config) {
		c.blocking = true
	}
}

// Logged adds debug logging to the handler.
func Logged() Option {
	return func(c *config) {
		c.logged = true
	}
}

// anyGesture is the route key for handlers registered with RegisterAll.
const anyGesture = "*"

type route struct {
	name    string
	gesture core.Gesture
	all     bool
	handle  HandlerFunc
}

// Dispatcher routes gesture events to registered handlers.
type Dispatcher struct {
	logger Logger

	// OTEL metrics
	queueSize metric.Int64ObservableGauge
	processed metric.Int64Counter
	dropped   metric.Int64Counter

	mu       sync.RWMutex
	routes   []route
	buffers  map[string]chan Event
	closed   bool
	closing  chan struct{} // closed when Close starts
	inflight sync.WaitGroup
	wg       sync.WaitGroup
}

// New creates a new Dispatcher with the given logger.
// Uses the global OTel meter for metrics (no-op if not configured).
func New(logger Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		buffers: make(map[string]chan Event),
		closing: make(chan struct{}),
		logger:  logger,
	}

	m := meter()

	var err error

	d.queueSize, err = m.Int64ObservableGauge(
		"gesture.queue.size",
		metric.WithDescription("Current number of gesture events waiting in handler queues"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating queue size gauge: %w", err)
	}

	_, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			d.mu.RLock()
			defer d.mu.RUnlock()
			for name, buf := range d.buffers {
				o.ObserveInt64(d.queueSize, int64(len(buf)),
					metric.WithAttributes(attribute.String("handler", name)))
			}
			return nil
		},
		d.queueSize,
	)
	if err != nil {
		return nil, fmt.Errorf("registering queue callback: %w", err)
	}

	d.processed, err = m.Int64Counter(
		"gesture.events.processed",
		metric.WithDescription("Total gesture events processed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processed counter: %w", err)
	}

	d.dropped, err = m.Int64Counter(
		"gesture.events.dropped",
		metric.WithDescription("Total gesture events dropped due to full queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}

	return d, nil
}

// Register adds a handler for one gesture.
func (d *Dispatcher) Register(g core.Gesture, h HandlerFunc, opts ...Option) {
	d.register(route{name: g.String(), gesture: g}, h, opts)
}

// RegisterAll adds a handler that receives every gesture.
func (d *Dispatcher) RegisterAll(h HandlerFunc, opts ...Option) {
	d.register(route{name: anyGesture, all: true}, h, opts)
}

func (d *Dispatcher) register(r route, h HandlerFunc, opts []Option) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	r.name = fmt.Sprintf("%s#%d", r.name, len(d.routes))
	handler := h

	if cfg.bufferSize > 0 {
		handler = d.withBuffer(r.name, cfg.bufferSize, cfg.blocking, handler)
	}

	if cfg.logged {
		handler = d.withLogging(r.name, handler)
	}

	r.handle = handler
	d.routes = append(d.routes, r)
}

// Dispatch hands the event to every handler matching its gesture.
// Handler errors are joined; delivery continues past a failing handler.
func (d *Dispatcher) Dispatch(e Event) error {
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return ErrClosed
	}
	routes := d.routes
	d.inflight.Add(1)
	d.mu.RUnlock()
	defer d.inflight.Done()

	var errs []error
	for _, r := range routes {
		if !r.all && r.gesture != e.Gesture {
			continue
		}
		if err := r.handle(e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HasHandler returns true if any handler would receive the gesture.
func (d *Dispatcher) HasHandler(g core.Gesture) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, r := range d.routes {
		if r.all || r.gesture == g {
			return true
		}
	}
	return false
}

// Close stops accepting events, waits for in-flight Dispatch calls, then
// drains buffered handlers and waits for them. A Dispatch blocked on a full
// Blocking queue gives up with ErrClosed. Must not be called from a
// synchronous handler. Safe to call more than once.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.closing)
	d.mu.Unlock()

	d.inflight.Wait()

	d.mu.Lock()
	for name, buf := range d.buffers {
		close(buf)
		delete(d.buffers, name)
	}
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) withBuffer(name string, size int, blocking bool, h HandlerFunc) HandlerFunc {
	buffer := make(chan Event, size)
	d.buffers[name] = buffer

	attrs := metric.WithAttributes(attribute.String("handler", name))

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for e := range buffer {
			if err := h(e); err != nil {
				d.logger.Error("buffered handler failed", "handler", name, "gesture", e.Gesture.String(), "error", err)
			}
			d.processed.Add(context.Background(), 1, attrs)
		}
	}()

	if blocking {
		return func(e Event) error {
			select {
			case buffer <- e:
				return nil
			case <-d.closing:
				d.dropped.Add(context.Background(), 1, attrs)
				return ErrClosed
			}
		}
	}

	return func(e Event) error {
		select {
		case buffer <- e:
			return nil
		default:
			d.dropped.Add(context.Background(), 1, attrs)
			return fmt.Errorf("queue full: %s", name)
		}
	}
}

func (d *Dispatcher) withLogging(name string, h HandlerFunc) HandlerFunc {
	return func(e Event) error {
		start := time.Now()
		d.logger.Debug("handling gesture", "handler", name, "gesture", e.Gesture.String(), "seq", e.FrameSeq)

		err := h(e)

		if err != nil {
			d.logger.Error("gesture handler failed", "handler", name, "duration", time.Since(start), "error", err)
		} else {
			d.logger.Debug("gesture handled", "handler", name, "duration", time.Since(start))
		}

		return err
	}
}
