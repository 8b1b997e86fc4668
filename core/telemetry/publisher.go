// Package telemetry runs the periodic tasks that push waveform readings to
// the transport, one task per channel.
package telemetry

import (
	"context"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/kilianp07/smartbattery/core/logger"
	"github.com/kilianp07/smartbattery/core/metrics"
	"github.com/kilianp07/smartbattery/core/model"
	"github.com/kilianp07/smartbattery/core/monitoring"
	"github.com/kilianp07/smartbattery/core/transport"
	"github.com/kilianp07/smartbattery/core/waveform"
)

// Publisher pushes readings to the transport at the shared report interval.
type Publisher struct {
	pub   transport.MeasurepointPublisher
	gen   *waveform.Generator
	clock clockwork.Clock
	sink  metrics.SampleRecorder
	log   logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewPublisher creates a Publisher. A nil clock selects the real clock and a
// nil sink disables sample recording.
func NewPublisher(pub transport.MeasurepointPublisher, gen *waveform.Generator, clock clockwork.Clock, sink metrics.SampleRecorder, log logger.Logger) *Publisher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &Publisher{pub: pub, gen: gen, clock: clock, sink: sink, log: log}
}

// Publish hands one reading to the transport. Failures are logged, reported
// and recorded; the caller decides whether to go on.
func (p *Publisher) Publish(ctx context.Context, ch model.Channel, value float64) error {
	err := p.pub.PublishMeasurepoint(ctx, ch.Measurepoint(), value)
	if rerr := p.sink.RecordSample(metrics.SampleEvent{
		Channel:   ch,
		Value:     value,
		Published: err == nil,
		Time:      p.clock.Now(),
	}); rerr != nil {
		p.log.Warnf("record sample: %v", rerr)
	}
	if err != nil {
		p.log.Errorf("publish %s=%.3f: %v", ch.Measurepoint(), value, err)
		monitoring.CaptureException(err, map[string]string{"channel": ch.String()})
		return fmt.Errorf("publish %s: %w", ch, err)
	}
	p.log.Debugw("published", map[string]any{"measurepoint": ch.Measurepoint(), "value": value})
	return nil
}

// Start launches one task per channel. Calling Start on a running publisher
// is a no-op.
func (p *Publisher) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	for _, ch := range model.Channels {
		p.wg.Add(1)
		go p.loop(ctx, ch)
	}
	p.log.Infof("telemetry started, interval %ds", p.gen.Interval().Seconds())
}

// loop publishes, then sleeps for the interval read fresh on every tick.
func (p *Publisher) loop(ctx context.Context, ch model.Channel) {
	defer p.wg.Done()
	defer monitoring.Recover()
	for {
		_ = p.Publish(ctx, ch, p.gen.Next(ch))
		select {
		case <-ctx.Done():
			return
		case <-p.clock.After(p.gen.Interval().Duration()):
		}
	}
}

// Stop cancels the tasks and waits for them to return.
func (p *Publisher) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	p.mu.Unlock()
	cancel()
	p.wg.Wait()
	p.log.Infof("telemetry stopped")
}

// Wait blocks until every task returned.
func (p *Publisher) Wait() { p.wg.Wait() }
