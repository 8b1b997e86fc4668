package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/smartbattery/config"
	coremetrics "github.com/kilianp07/smartbattery/core/metrics"
	coremon "github.com/kilianp07/smartbattery/core/monitoring"
	"github.com/kilianp07/smartbattery/core/session"
	"github.com/kilianp07/smartbattery/core/transport"
	"github.com/kilianp07/smartbattery/core/waveform"
	"github.com/kilianp07/smartbattery/infra/logger"
	"github.com/kilianp07/smartbattery/infra/metrics"
	"github.com/kilianp07/smartbattery/infra/monitoring"
	"github.com/kilianp07/smartbattery/infra/mqtt"
)

const flushTimeout = 2 * time.Second

// Service wires the configured transport, metrics sinks and monitoring
// around one device session.
type Service struct {
	Session *session.Controller

	cfg  *config.Config
	sink coremetrics.Sink
	log  logger.Logger
}

// New creates a Service connecting through the MQTT client described by cfg.
func New(cfg *config.Config) (*Service, error) {
	if err := setup(cfg); err != nil {
		return nil, err
	}
	client, err := mqtt.NewClient(cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("mqtt client: %w", err)
	}
	return newService(cfg, client)
}

// NewWithTransport creates a Service on top of an existing transport.
func NewWithTransport(cfg *config.Config, tr transport.Transport) (*Service, error) {
	if err := setup(cfg); err != nil {
		return nil, err
	}
	return newService(cfg, tr)
}

// setup configures logging and monitoring before any component exists.
func setup(cfg *config.Config) error {
	if err := logger.Configure(cfg.Logging.Options()); err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	mon, err := monitoring.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return fmt.Errorf("sentry: %w", err)
	}
	coremon.Init(mon)
	return nil
}

func newService(cfg *config.Config, tr transport.Transport) (*Service, error) {
	sink, err := coremetrics.NewSink(cfg.Metrics.Sinks)
	if err != nil {
		return nil, fmt.Errorf("metrics sink: %w", err)
	}

	gen := waveform.NewGenerator(waveform.NewInterval(cfg.Simulator.IntervalSeconds), cfg.Simulator.Seed)
	ctrl := session.New(tr, gen, session.Options{
		Sink:   sink,
		Logger: logger.New("session"),
		Limits: cfg.Simulator.Limits(),
	})
	return &Service{Session: ctrl, cfg: cfg, sink: sink, log: logger.New("service")}, nil
}

// Run starts the session and blocks until it ends or ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	defer coremon.Flush(flushTimeout)

	if addr := s.cfg.Metrics.PrometheusAddr; addr != "" {
		go func() {
			if err := metrics.StartPromServer(ctx, addr); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}

	events := s.Session.Events()
	go s.logStates(events)

	s.log.Infow("starting device session", map[string]any{
		"server":   s.cfg.MQTT.Server,
		"product":  s.cfg.MQTT.ProductKey,
		"device":   s.cfg.MQTT.DeviceKey,
		"interval": s.cfg.Simulator.IntervalSeconds,
	})
	if err := s.Session.Run(ctx); err != nil {
		coremon.CaptureException(err, map[string]string{"stage": "session"})
		return err
	}
	return nil
}

func (s *Service) logStates(events <-chan session.StateChange) {
	for ev := range events {
		if ev.Err != nil {
			s.log.Warnf("session %s -> %s: %v", ev.From, ev.To, ev.Err)
			continue
		}
		s.log.Infof("session %s -> %s", ev.From, ev.To)
	}
}

// Close ends the session and releases the metrics sinks.
func (s *Service) Close() error {
	err := s.Session.Close()
	closeSink(s.sink)
	return errors.Join(err, logger.Close())
}

func closeSink(sink coremetrics.Sink) {
	if m, ok := sink.(*coremetrics.MultiSink); ok {
		for _, inner := range m.Sinks {
			closeSink(inner)
		}
		return
	}
	if c, ok := sink.(interface{ Close() }); ok {
		c.Close()
	}
}
