// Package session owns the device lifecycle: it connects the transport, wires
// the command dispatcher and the telemetry tasks, and tears everything down
// exactly once.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/kilianp07/smartbattery/core/command"
	"github.com/kilianp07/smartbattery/core/logger"
	"github.com/kilianp07/smartbattery/core/metrics"
	"github.com/kilianp07/smartbattery/core/monitoring"
	"github.com/kilianp07/smartbattery/core/telemetry"
	"github.com/kilianp07/smartbattery/core/transport"
	"github.com/kilianp07/smartbattery/core/waveform"
	"github.com/kilianp07/smartbattery/internal/eventbus"
)

// State is the session lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StateChange is published on the event bus for every transition.
type StateChange struct {
	From State
	To   State
	Err  error
	Time time.Time
}

// ErrAlreadyStarted is returned when Start is called twice.
var ErrAlreadyStarted = errors.New("session already started")

// Options tunes the controller. Zero values select sane defaults.
type Options struct {
	Clock  clockwork.Clock
	Sink   metrics.Sink
	Logger logger.Logger
	Limits command.Limits
}

// Controller runs one device session.
type Controller struct {
	tr    transport.Transport
	gen   *waveform.Generator
	clock clockwork.Clock
	sink  metrics.Sink
	log   logger.Logger

	publisher  *telemetry.Publisher
	dispatcher *command.Dispatcher
	bus        *eventbus.TypedBus[StateChange]

	mu      sync.Mutex
	state   State
	started bool
	closed  bool
	done    chan struct{}
}

// New creates a controller for tr driven by gen.
func New(tr transport.Transport, gen *waveform.Generator, opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Sink == nil {
		opts.Sink = metrics.NopSink{}
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}
	c := &Controller{
		tr:    tr,
		gen:   gen,
		clock: opts.Clock,
		sink:  opts.Sink,
		log:   opts.Logger,
		bus:   eventbus.NewTyped[StateChange](),
		done:  make(chan struct{}),
	}
	c.publisher = telemetry.NewPublisher(tr, gen, opts.Clock, opts.Sink, opts.Logger)
	c.dispatcher = command.NewDispatcher(gen.Interval(), c.Close, opts.Clock, opts.Limits, opts.Sink, opts.Logger)
	return c
}

// Events subscribes to state changes. The channel is closed once the session
// has ended.
func (c *Controller) Events() <-chan StateChange { return c.bus.Subscribe() }

// Unsubscribe releases a channel returned by Events.
func (c *Controller) Unsubscribe(ch <-chan StateChange) { c.bus.Unsubscribe(ch) }

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed when the session reaches a terminal state.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Dispatcher exposes the command dispatcher wired to this session.
func (c *Controller) Dispatcher() *command.Dispatcher { return c.dispatcher }

// Start connects the transport, registers the command handlers and starts
// the telemetry tasks. It returns once the session is connected. On connect
// failure the session moves to Failed and the transport is closed; there is
// no reconnect.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("session: %w", transport.ErrClosed)
	}
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.mu.Unlock()
	c.transition(StateConnecting, nil)

	c.tr.OnConnectionLost(c.connectionLost)
	if err := c.tr.Connect(ctx); err != nil {
		c.log.Errorf("connect: %v", err)
		monitoring.CaptureException(err, map[string]string{"stage": "connect"})
		c.shutdown(StateFailed, err)
		return fmt.Errorf("session: %w", err)
	}
	if err := c.tr.HandleServiceInvocation(c.dispatcher.HandleService); err != nil {
		c.shutdown(StateFailed, err)
		return fmt.Errorf("session: subscribe services: %w", err)
	}
	if err := c.tr.HandleMeasurepointSet(c.dispatcher.HandleMeasurepointSet); err != nil {
		c.shutdown(StateFailed, err)
		return fmt.Errorf("session: subscribe measurepoint set: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		// Lost the connection while subscribing.
		c.mu.Unlock()
		return fmt.Errorf("session: %w", transport.ErrClosed)
	}
	// Tasks outlive the caller's context; Close stops them.
	c.publisher.Start(context.WithoutCancel(ctx))
	c.mu.Unlock()
	c.transition(StateConnected, nil)
	return nil
}

// Run starts the session and blocks until it ends or ctx is cancelled, in
// which case the session is closed.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.Start(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return c.Close()
	case <-c.done:
		return nil
	}
}

// Close stops the tasks, cancels pending disconnects and closes the
// transport. Only the first call has an effect.
func (c *Controller) Close() error {
	return c.shutdown(StateDisconnected, nil)
}

func (c *Controller) connectionLost(err error) {
	c.log.Warnf("connection lost: %v", err)
	monitoring.CaptureException(err, map[string]string{"stage": "connection"})
	_ = c.shutdown(StateDisconnected, err)
}

func (c *Controller) shutdown(to State, cause error) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.dispatcher.Stop()
	c.publisher.Stop()
	err := c.tr.Close()
	if err != nil {
		c.log.Errorf("close transport: %v", err)
		err = fmt.Errorf("session: close transport: %w", err)
	}
	if cause == nil {
		cause = err
	}
	c.transition(to, cause)
	c.bus.Close()
	close(c.done)
	return err
}

func (c *Controller) transition(to State, cause error) {
	c.mu.Lock()
	if c.closed && (to == StateConnecting || to == StateConnected) {
		c.mu.Unlock()
		return
	}
	from := c.state
	if from == to {
		c.mu.Unlock()
		return
	}
	c.state = to
	c.mu.Unlock()
	ev := StateChange{From: from, To: to, Err: cause, Time: c.clock.Now()}
	c.log.Infow("session state", map[string]any{"from": from.String(), "to": to.String()})
	if r, ok := c.sink.(metrics.SessionRecorder); ok {
		if err := r.RecordSessionState(to.String()); err != nil {
			c.log.Warnf("record session state: %v", err)
		}
	}
	c.bus.Publish(ev)
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any)         {}
func (nopLogger) Debugw(string, map[string]any) {}
func (nopLogger) Infof(string, ...any)          {}
func (nopLogger) Infow(string, map[string]any)  {}
func (nopLogger) Warnf(string, ...any)          {}
func (nopLogger) Errorf(string, ...any)         {}
