package model

import "time"

// Channel identifies one telemetry stream of the battery.
type Channel int

const (
	ChannelVoltage Channel = iota
	ChannelCurrent
	ChannelTemperature
)

// Channels lists every telemetry channel in publish order.
var Channels = []Channel{ChannelVoltage, ChannelCurrent, ChannelTemperature}

// String returns a human-readable representation of the channel.
func (c Channel) String() string {
	switch c {
	case ChannelVoltage:
		return "voltage"
	case ChannelCurrent:
		return "current"
	case ChannelTemperature:
		return "temperature"
	default:
		return "unknown"
	}
}

// Measurepoint returns the identifier used for the channel on the wire.
func (c Channel) Measurepoint() string {
	if c == ChannelTemperature {
		return "temp"
	}
	return c.String()
}

// Sample is a single reading produced for one channel.
type Sample struct {
	Channel Channel
	Value   float64
	Time    time.Time
}

// TelemetrySet holds one reading per channel.
type TelemetrySet struct {
	Voltage     float64
	Current     float64
	Temperature float64
}

// Value returns the reading of the given channel.
func (s TelemetrySet) Value(c Channel) float64 {
	switch c {
	case ChannelVoltage:
		return s.Voltage
	case ChannelCurrent:
		return s.Current
	case ChannelTemperature:
		return s.Temperature
	default:
		return 0
	}
}

// Samples expands the set into individual samples stamped with t.
func (s TelemetrySet) Samples(t time.Time) []Sample {
	out := make([]Sample, 0, len(Channels))
	for _, c := range Channels {
		out = append(out, Sample{Channel: c, Value: s.Value(c), Time: t})
	}
	return out
}
