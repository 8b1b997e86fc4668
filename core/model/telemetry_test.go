package model

import (
	"testing"
	"time"
)

func TestChannelNames(t *testing.T) {
	cases := []struct {
		ch   Channel
		name string
		mp   string
	}{
		{ChannelVoltage, "voltage", "voltage"},
		{ChannelCurrent, "current", "current"},
		{ChannelTemperature, "temperature", "temp"},
		{Channel(42), "unknown", "unknown"},
	}
	for _, c := range cases {
		if c.ch.String() != c.name {
			t.Errorf("String() = %s, want %s", c.ch.String(), c.name)
		}
		if c.ch.Measurepoint() != c.mp {
			t.Errorf("Measurepoint() = %s, want %s", c.ch.Measurepoint(), c.mp)
		}
	}
}

func TestTelemetrySetSamples(t *testing.T) {
	now := time.Now()
	set := TelemetrySet{Voltage: 23, Current: -10, Temperature: 40}
	samples := set.Samples(now)
	if len(samples) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(samples))
	}
	if samples[1].Channel != ChannelCurrent || samples[1].Value != -10 {
		t.Fatalf("unexpected current sample %#v", samples[1])
	}
	if !samples[2].Time.Equal(now) {
		t.Fatalf("timestamp not propagated")
	}
}

func TestReplyHelpers(t *testing.T) {
	if !SuccessReply("1").OK() {
		t.Fatal("success reply not ok")
	}
	r := FailureReply("2", CodeUnknownService, "unknown service: x")
	if r.OK() || r.Code != 220 || r.Data == nil {
		t.Fatalf("unexpected failure reply %#v", r)
	}
}
