// Package command executes inbound cloud commands against the simulator
// state.
package command

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/kilianp07/smartbattery/core/factory"
	"github.com/kilianp07/smartbattery/core/logger"
	"github.com/kilianp07/smartbattery/core/metrics"
	"github.com/kilianp07/smartbattery/core/model"
	"github.com/kilianp07/smartbattery/core/waveform"
)

// Service names understood by the dispatcher.
const (
	ServiceHighFrequencyReport = "high_frequency_report_service"
	ServiceDisconnect          = "disconnect"
)

const (
	DefaultMaxIntervalSeconds = 3600
	DefaultMaxDisconnectDelay = 24 * time.Hour
)

// ErrInvalidParams is wrapped by every parameter validation failure.
var ErrInvalidParams = errors.New("invalid params")

// Limits bounds the values accepted from the cloud.
type Limits struct {
	MaxIntervalSeconds int
	MaxDisconnectDelay time.Duration
}

func (l Limits) withDefaults() Limits {
	if l.MaxIntervalSeconds <= 0 {
		l.MaxIntervalSeconds = DefaultMaxIntervalSeconds
	}
	if l.MaxDisconnectDelay <= 0 {
		l.MaxDisconnectDelay = DefaultMaxDisconnectDelay
	}
	return l
}

// Dispatcher answers service invocations and measure point set commands.
// Apart from pending disconnect timers it holds no state of its own.
type Dispatcher struct {
	interval *waveform.Interval
	closer   func() error
	clock    clockwork.Clock
	limits   Limits
	sink     metrics.CommandRecorder
	log      logger.Logger

	mu      sync.Mutex
	pending map[uint64]chan struct{}
	nextID  uint64
	stopped bool
}

// NewDispatcher creates a Dispatcher updating interval and calling closer
// when a disconnect fires.
func NewDispatcher(interval *waveform.Interval, closer func() error, clock clockwork.Clock, limits Limits, sink metrics.CommandRecorder, log logger.Logger) *Dispatcher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &Dispatcher{
		interval: interval,
		closer:   closer,
		clock:    clock,
		limits:   limits.withDefaults(),
		sink:     sink,
		log:      log,
		pending:  make(map[uint64]chan struct{}),
	}
}

// HandleService executes a service invocation and builds its reply.
func (d *Dispatcher) HandleService(cmd model.ServiceInvocation) model.Reply {
	d.log.Infow("service invocation", map[string]any{
		"id":          cmd.ID,
		"service":     cmd.Name,
		"product_key": cmd.Target.ProductKey,
		"device_key":  cmd.Target.DeviceKey,
		"params":      cmd.Params,
	})
	var reply model.Reply
	switch cmd.Name {
	case ServiceHighFrequencyReport:
		reply = d.reply(cmd.ID, d.setInterval(cmd.Params))
	case ServiceDisconnect:
		reply = d.reply(cmd.ID, d.disconnect(cmd.Params))
	default:
		d.log.Warnf("unknown service %q", cmd.Name)
		reply = model.FailureReply(cmd.ID, model.CodeUnknownService, "unknown service: "+cmd.Name)
	}
	d.record(metrics.KindService, cmd.Name, reply.Code)
	return reply
}

// HandleMeasurepointSet acknowledges the command. Nothing is applied.
func (d *Dispatcher) HandleMeasurepointSet(cmd model.MeasurepointSet) model.Reply {
	d.log.Infow("measurepoint set", map[string]any{
		"id":          cmd.ID,
		"product_key": cmd.Target.ProductKey,
		"device_key":  cmd.Target.DeviceKey,
		"params":      cmd.Params,
	})
	d.record(metrics.KindMeasurepointSet, "", model.CodeSuccess)
	return model.SuccessReply(cmd.ID)
}

func (d *Dispatcher) reply(id string, err error) model.Reply {
	if err != nil {
		d.log.Warnf("command %s rejected: %v", id, err)
		return model.FailureReply(id, model.CodeInvalidParams, err.Error())
	}
	return model.SuccessReply(id)
}

func (d *Dispatcher) record(kind, service string, code int) {
	if err := d.sink.RecordCommand(metrics.CommandEvent{Kind: kind, Service: service, Code: code, Time: d.clock.Now()}); err != nil {
		d.log.Warnf("record command: %v", err)
	}
}

type intervalParams struct {
	Interval *float64 `json:"interval"`
}

func (d *Dispatcher) setInterval(params map[string]any) error {
	var p intervalParams
	if err := factory.Decode(params, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	if p.Interval == nil {
		return fmt.Errorf("%w: interval is required", ErrInvalidParams)
	}
	v := *p.Interval
	if v != math.Trunc(v) || v < 1 || v > float64(d.limits.MaxIntervalSeconds) {
		return fmt.Errorf("%w: interval must be an integer in [1, %d], got %v", ErrInvalidParams, d.limits.MaxIntervalSeconds, v)
	}
	if err := d.interval.Set(int(v)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	d.log.Infof("report interval set to %ds", int(v))
	if r, ok := d.sink.(metrics.IntervalRecorder); ok {
		if err := r.RecordReportInterval(int(v)); err != nil {
			d.log.Warnf("record interval: %v", err)
		}
	}
	return nil
}

type disconnectParams struct {
	DelayMS *float64 `json:"delayMS"`
}

func (d *Dispatcher) disconnect(params map[string]any) error {
	var p disconnectParams
	if err := factory.Decode(params, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	if p.DelayMS == nil {
		return fmt.Errorf("%w: delayMS is required", ErrInvalidParams)
	}
	ms := *p.DelayMS
	maxMS := float64(d.limits.MaxDisconnectDelay / time.Millisecond)
	if ms != math.Trunc(ms) || ms < 0 || ms > maxMS {
		return fmt.Errorf("%w: delayMS must be an integer in [0, %d], got %v", ErrInvalidParams, int64(maxMS), ms)
	}
	d.schedule(time.Duration(ms) * time.Millisecond)
	return nil
}

// schedule arms a one-shot close. The reply is sent before the close runs,
// even with a zero delay.
func (d *Dispatcher) schedule(delay time.Duration) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		d.log.Warnf("disconnect ignored: dispatcher stopped")
		return
	}
	id := d.nextID
	d.nextID++
	cancel := make(chan struct{})
	d.pending[id] = cancel
	timer := d.clock.NewTimer(delay)
	d.mu.Unlock()

	d.log.Infof("disconnect scheduled in %s", delay)
	go func() {
		defer timer.Stop()
		select {
		case <-cancel:
			return
		case <-timer.Chan():
		}
		d.mu.Lock()
		_, live := d.pending[id]
		delete(d.pending, id)
		d.mu.Unlock()
		if !live {
			return
		}
		d.log.Infof("disconnecting on cloud request")
		if err := d.closer(); err != nil {
			d.log.Errorf("disconnect: %v", err)
		}
	}()
}

// Pending reports the number of armed disconnect timers.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Stop cancels every pending disconnect. It does not wait for timer
// goroutines, so it is safe to call from the closer itself.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for id, cancel := range d.pending {
		close(cancel)
		delete(d.pending, id)
	}
}
