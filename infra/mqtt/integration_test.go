package mqtt

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kilianp07/smartbattery/core/model"
)

// TestIntegration runs a device client and an invoker against a real
// Mosquitto broker.
func TestIntegration(t *testing.T) {
	if os.Getenv("DOCKER_AVAILABLE") != "true" && os.Getenv("DOCKER_AVAILABLE") != "1" {
		t.Skip("docker not available")
	}
	ctx := context.Background()
	req := tc.ContainerRequest{
		Image:        "eclipse-mosquitto:2.0",
		ExposedPorts: []string{"1883/tcp"},
		Cmd:          []string{"mosquitto", "-c", "/mosquitto-no-auth.conf"},
		WaitingFor:   wait.ForListeningPort("1883/tcp"),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	defer func() {
		if err := container.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %v", err)
		}
	}()

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "1883")
	require.NoError(t, err)

	cfg := Config{
		Server:     fmt.Sprintf("tcp://%s:%s", host, port.Port()),
		ProductKey: "pk",
		DeviceKey:  "dk",
		AuthMethod: AuthPassword,
	}

	device, err := NewClient(cfg)
	require.NoError(t, err)
	var connectErr error
	for i := 0; i < 5; i++ {
		if connectErr = device.Connect(ctx); connectErr == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	require.NoError(t, connectErr)
	defer device.Close()

	require.NoError(t, device.HandleServiceInvocation(func(cmd model.ServiceInvocation) model.Reply {
		if cmd.Name != "high_frequency_report_service" {
			return model.FailureReply(cmd.ID, model.CodeUnknownService, "unknown service: "+cmd.Name)
		}
		return model.SuccessReply(cmd.ID)
	}))

	// Observe telemetry with a plain client.
	var mu sync.Mutex
	var posts []string
	watcher := paho.NewClient(paho.NewClientOptions().AddBroker(cfg.Server).SetClientID("watcher"))
	tok := watcher.Connect()
	require.True(t, tok.WaitTimeout(5*time.Second))
	require.NoError(t, tok.Error())
	defer watcher.Disconnect(100)
	sub := watcher.Subscribe(device.Topics().Post(), 0, func(_ paho.Client, m paho.Message) {
		mu.Lock()
		posts = append(posts, string(m.Payload()))
		mu.Unlock()
	})
	require.True(t, sub.WaitTimeout(5*time.Second))

	require.NoError(t, device.PublishMeasurepoint(ctx, "voltage", 24.2))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(posts) == 1
	}, 5*time.Second, 50*time.Millisecond)

	inv, err := NewInvoker(ctx, cfg)
	require.NoError(t, err)
	defer inv.Close()

	callCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	reply, err := inv.InvokeService(callCtx, "high_frequency_report_service", map[string]any{"interval": 10})
	require.NoError(t, err)
	assert.True(t, reply.OK())

	reply, err = inv.InvokeService(callCtx, "unknown_name", nil)
	require.NoError(t, err)
	assert.Equal(t, model.CodeUnknownService, reply.Code)
	assert.Contains(t, reply.Message, "unknown service: unknown_name")
}
