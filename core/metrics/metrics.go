package metrics

import (
	"time"

	"github.com/kilianp07/smartbattery/core/model"
)

// Command kinds reported in CommandEvent.
const (
	KindService         = "service"
	KindMeasurepointSet = "measurepoint_set"
)

// SampleEvent describes one publish attempt of a telemetry reading.
type SampleEvent struct {
	Channel   model.Channel
	Value     float64
	Published bool
	Time      time.Time
}

// SampleRecorder records telemetry publish attempts.
type SampleRecorder interface {
	RecordSample(ev SampleEvent) error
}

// CommandEvent describes a handled inbound command and its reply code.
type CommandEvent struct {
	Kind    string
	Service string
	Code    int
	Time    time.Time
}

// CommandRecorder records handled commands.
type CommandRecorder interface {
	RecordCommand(ev CommandEvent) error
}

// Sink is the minimal contract every configured sink fulfils.
type Sink interface {
	SampleRecorder
	CommandRecorder
}

// IntervalRecorder is implemented by sinks tracking the report interval.
type IntervalRecorder interface {
	RecordReportInterval(seconds int) error
}

// SessionRecorder is implemented by sinks tracking the session state.
type SessionRecorder interface {
	RecordSessionState(state string) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordSample(SampleEvent) error   { return nil }
func (NopSink) RecordCommand(CommandEvent) error { return nil }
func (NopSink) RecordReportInterval(int) error   { return nil }
func (NopSink) RecordSessionState(string) error  { return nil }
