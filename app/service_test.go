package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/smartbattery/config"
	"github.com/kilianp07/smartbattery/core/command"
	"github.com/kilianp07/smartbattery/core/factory"
	"github.com/kilianp07/smartbattery/core/model"
	"github.com/kilianp07/smartbattery/core/session"
	"github.com/kilianp07/smartbattery/core/transport"
	"github.com/kilianp07/smartbattery/infra/logger"
	"github.com/kilianp07/smartbattery/infra/mqtt"
)

func testConfig() *config.Config {
	cfg := &config.Config{
		MQTT: mqtt.Config{
			Server:       "tcp://localhost:1883",
			ProductKey:   "pk",
			DeviceKey:    "dk",
			DeviceSecret: "secret",
		},
		Simulator: config.SimulatorConfig{IntervalSeconds: 1, Seed: 1},
	}
	cfg.Metrics.Sinks = []factory.ModuleConfig{{Type: "nop"}}
	cfg.SetDefaults()
	return cfg
}

func TestServiceRunPublishesAndStops(t *testing.T) {
	tr := transport.NewMockTransport()
	svc, err := NewWithTransport(testConfig(), tr)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Run(ctx) }()

	require.Eventually(t, func() bool { return len(tr.Published()) >= 3 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return svc.Session.State() == session.StateConnected }, time.Second, 5*time.Millisecond)

	reply, err := tr.InvokeService(model.ServiceInvocation{
		Name:   command.ServiceHighFrequencyReport,
		Params: map[string]any{"interval": 2},
	})
	require.NoError(t, err)
	assert.Equal(t, model.CodeSuccess, reply.Code)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return")
	}
	assert.Equal(t, session.StateDisconnected, svc.Session.State())
	assert.Equal(t, 1, tr.CloseCalls())
	require.NoError(t, svc.Close())
	assert.Equal(t, 1, tr.CloseCalls())
}

func TestServiceRunConnectFailure(t *testing.T) {
	tr := transport.NewMockTransport()
	tr.ConnectErr = errors.New("refused")
	svc, err := NewWithTransport(testConfig(), tr)
	require.NoError(t, err)

	err = svc.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, transport.ErrConnect)
	assert.Equal(t, session.StateFailed, svc.Session.State())
}

func TestNewRejectsBadSink(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Sinks = []factory.ModuleConfig{{Type: "carrier-pigeon"}}
	_, err := NewWithTransport(cfg, transport.NewMockTransport())
	assert.Error(t, err)
}

func TestNewWritesTransportLogsToFile(t *testing.T) {
	cfg := testConfig()
	cfg.Logging.File = filepath.Join(t.TempDir(), "battery.log")
	cfg.SetDefaults()
	t.Cleanup(func() { _ = logger.Configure(logger.Options{}) })

	svc, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, svc.Close())

	data, err := os.ReadFile(cfg.Logging.File)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"mqtt_client"`)
}

func TestNewBuildsMQTTClient(t *testing.T) {
	svc, err := New(testConfig())
	require.NoError(t, err)
	require.NotNil(t, svc.Session)

	cfg := testConfig()
	cfg.MQTT.Server = ""
	_, err = New(cfg)
	assert.Error(t, err)
}
