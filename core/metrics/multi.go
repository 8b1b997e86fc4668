package metrics

import "errors"

// MultiSink fans records out to multiple sinks.
type MultiSink struct {
	Sinks []Sink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordSample forwards the sample to every sink. A failing sink does not
// prevent the others from recording; the errors are joined.
func (m *MultiSink) RecordSample(ev SampleEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		errs = append(errs, s.RecordSample(ev))
	}
	return errors.Join(errs...)
}

// RecordCommand forwards the command event to every sink.
func (m *MultiSink) RecordCommand(ev CommandEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		errs = append(errs, s.RecordCommand(ev))
	}
	return errors.Join(errs...)
}

// RecordReportInterval forwards the interval when supported by the sink.
func (m *MultiSink) RecordReportInterval(seconds int) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(IntervalRecorder); ok {
			errs = append(errs, r.RecordReportInterval(seconds))
		}
	}
	return errors.Join(errs...)
}

// RecordSessionState forwards the state when supported by the sink.
func (m *MultiSink) RecordSessionState(state string) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(SessionRecorder); ok {
			errs = append(errs, r.RecordSessionState(state))
		}
	}
	return errors.Join(errs...)
}
