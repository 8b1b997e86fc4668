package metrics

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/smartbattery/core/metrics"
)

var sessionStates = []string{"disconnected", "connecting", "connected", "failed"}

// PromSink exposes simulator activity as Prometheus metrics.
type PromSink struct {
	samples  *prometheus.CounterVec
	values   *prometheus.GaugeVec
	commands *prometheus.CounterVec
	interval prometheus.Gauge
	session  *prometheus.GaugeVec
}

// NewPromSink registers the metrics on the default Prometheus registerer.
// The HTTP endpoint is served separately by StartPromServer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer,
// reusing collectors that are already registered. A nil registerer defaults
// to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	samples := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "battery_samples_published_total",
		Help: "Telemetry publish attempts by channel and result",
	}, []string{"channel", "result"})
	values := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "battery_sample_value",
		Help: "Last generated reading per channel",
	}, []string{"channel"})
	commands := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "battery_commands_total",
		Help: "Handled cloud commands by kind, service and reply code",
	}, []string{"kind", "service", "code"})
	interval := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "battery_report_interval_seconds",
		Help: "Current telemetry report interval",
	})
	session := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "battery_session_state",
		Help: "1 for the current session state, 0 otherwise",
	}, []string{"state"})

	var err error
	if samples, err = register(reg, samples); err != nil {
		return nil, err
	}
	if values, err = register(reg, values); err != nil {
		return nil, err
	}
	if commands, err = register(reg, commands); err != nil {
		return nil, err
	}
	if interval, err = register(reg, interval); err != nil {
		return nil, err
	}
	if session, err = register(reg, session); err != nil {
		return nil, err
	}
	return &PromSink{samples: samples, values: values, commands: commands, interval: interval, session: session}, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordSample counts the attempt and keeps the last value.
func (s *PromSink) RecordSample(ev coremetrics.SampleEvent) error {
	result := "ok"
	if !ev.Published {
		result = "error"
	}
	ch := ev.Channel.String()
	s.samples.WithLabelValues(ch, result).Inc()
	s.values.WithLabelValues(ch).Set(ev.Value)
	return nil
}

// RecordCommand counts handled commands.
func (s *PromSink) RecordCommand(ev coremetrics.CommandEvent) error {
	s.commands.WithLabelValues(ev.Kind, ev.Service, strconv.Itoa(ev.Code)).Inc()
	return nil
}

// RecordReportInterval sets the interval gauge.
func (s *PromSink) RecordReportInterval(seconds int) error {
	s.interval.Set(float64(seconds))
	return nil
}

// RecordSessionState flags state as the current one.
func (s *PromSink) RecordSessionState(state string) error {
	for _, st := range sessionStates {
		v := 0.0
		if st == state {
			v = 1
		}
		s.session.WithLabelValues(st).Set(v)
	}
	return nil
}
