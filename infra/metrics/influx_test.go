package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coremetrics "github.com/kilianp07/smartbattery/core/metrics"
	"github.com/kilianp07/smartbattery/core/model"
)

type lineRecorder struct {
	mu     sync.Mutex
	bodies []string
}

func (l *lineRecorder) handler(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	l.mu.Lock()
	l.bodies = append(l.bodies, strings.TrimSpace(string(data)))
	l.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func TestInfluxSink_RecordSample(t *testing.T) {
	rec := &lineRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(rec.handler))
	defer srv.Close()

	sink := NewInfluxSink(InfluxConfig{URL: srv.URL, Token: "token", Org: "org", Bucket: "bucket", Device: "dk1"})
	defer sink.Close()
	now := time.Now()
	require.NoError(t, sink.RecordSample(coremetrics.SampleEvent{Channel: model.ChannelTemperature, Value: 12.34567, Published: true, Time: now}))

	p := write.NewPointWithMeasurement("battery_sample").
		AddTag("device", "dk1").
		AddTag("channel", "temperature").
		AddTag("published", "true").
		AddField("value", 12.346).
		SetTime(now)
	expected := strings.TrimSpace(write.PointToLineProtocol(p, time.Nanosecond))
	require.Len(t, rec.bodies, 1)
	assert.Equal(t, expected, rec.bodies[0])
}

func TestInfluxSink_RecordCommand(t *testing.T) {
	rec := &lineRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(rec.handler))
	defer srv.Close()

	sink := NewInfluxSink(InfluxConfig{URL: srv.URL + "/api/v2/write", Token: "token", Org: "org", Bucket: "bucket"})
	defer sink.Close()
	now := time.Now()
	require.NoError(t, sink.RecordCommand(coremetrics.CommandEvent{Kind: coremetrics.KindService, Service: "disconnect", Code: 200, Time: now}))
	require.NoError(t, sink.RecordCommand(coremetrics.CommandEvent{Kind: coremetrics.KindMeasurepointSet, Code: 200, Time: now}))

	p1 := write.NewPointWithMeasurement("battery_command").
		AddTag("kind", "service").
		AddTag("service", "disconnect").
		AddField("code", 200).
		SetTime(now)
	p2 := write.NewPointWithMeasurement("battery_command").
		AddTag("kind", "measurepoint_set").
		AddField("code", 200).
		SetTime(now)
	require.Len(t, rec.bodies, 2)
	assert.Equal(t, strings.TrimSpace(write.PointToLineProtocol(p1, time.Nanosecond)), rec.bodies[0])
	assert.Equal(t, strings.TrimSpace(write.PointToLineProtocol(p2, time.Nanosecond)), rec.bodies[1])
}

func TestInfluxSink_WriteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()
	sink := NewInfluxSink(InfluxConfig{URL: srv.URL, Token: "bad", Org: "org", Bucket: "bucket"})
	defer sink.Close()
	assert.Error(t, sink.RecordSample(coremetrics.SampleEvent{Channel: model.ChannelVoltage, Value: 1, Time: time.Now()}))
}

func TestNewInfluxSinkWithFallback(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			called = true
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}))
	defer srv.Close()

	sink := NewInfluxSinkWithFallback(InfluxConfig{URL: srv.URL + "/api/v2/write", Token: "tok", Org: "org", Bucket: "bucket"})
	_, isInflux := sink.(*InfluxSink)
	assert.False(t, isInflux, "expected NopSink on failing health check")
	assert.True(t, called, "health endpoint not called")
}

func TestNewInfluxSinkWithFallback_Healthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"name":"influxdb","message":"ready for queries and writes","status":"pass","checks":[]}`))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := NewInfluxSinkWithFallback(InfluxConfig{URL: srv.URL, Token: "tok", Org: "org", Bucket: "bucket"})
	s, ok := sink.(*InfluxSink)
	require.True(t, ok, "expected InfluxSink, got %T", sink)
	s.Close()
}
