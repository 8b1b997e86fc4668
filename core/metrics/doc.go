// Package metrics defines the sinks recording simulator activity: every
// published sample, every handled command, interval changes and session state
// transitions. Concrete sinks live in infra/metrics and register themselves
// with the factory so they can be selected from configuration. NewSink
// returns a MultiSink automatically when several sinks are configured.
package metrics
