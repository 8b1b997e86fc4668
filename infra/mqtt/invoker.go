package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/kilianp07/smartbattery/core/model"
	"github.com/kilianp07/smartbattery/core/transport"
	"github.com/kilianp07/smartbattery/infra/logger"
)

// Invoker plays the cloud side: it sends commands to a device and waits for
// the matching reply.
type Invoker struct {
	cfg    Config
	topics Topics
	log    logger.Logger

	mu  sync.Mutex
	cli pahoClient
}

// NewInvoker connects a command client for the device described by cfg. The
// client id is derived from the device key so it never collides with the
// device session.
func NewInvoker(ctx context.Context, cfg Config) (*Invoker, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts, err := NewClientOptions(cfg, time.Now())
	if err != nil {
		return nil, err
	}
	opts.SetClientID(cfg.DeviceKey + "-invoker-" + uuid.NewString()[:8])
	cli := newMQTTClient(opts)
	token := cli.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		go disconnectWhenDone(cli, token)
		return nil, fmt.Errorf("%w: %v", transport.ErrConnect, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %v", transport.ErrConnect, err)
	}
	return &Invoker{
		cfg:    cfg,
		topics: Topics{ProductKey: cfg.ProductKey, DeviceKey: cfg.DeviceKey},
		log:    logger.New("mqtt_invoker"),
		cli:    cli,
	}, nil
}

// InvokeService calls service name on the device.
func (i *Invoker) InvokeService(ctx context.Context, name string, params map[string]any) (model.Reply, error) {
	return i.request(ctx, i.topics.Service(name), methodServicePrefix+name, params)
}

// SetMeasurepoints sends a measure point set command to the device.
func (i *Invoker) SetMeasurepoints(ctx context.Context, params map[string]any) (model.Reply, error) {
	return i.request(ctx, i.topics.MeasurepointSet(), methodSet, params)
}

func (i *Invoker) request(ctx context.Context, topic, method string, params map[string]any) (model.Reply, error) {
	if params == nil {
		params = map[string]any{}
	}
	id := uuid.NewString()
	payload, err := json.Marshal(Request{ID: id, Version: protocolVersion, Method: method, Params: params})
	if err != nil {
		return model.Reply{}, err
	}

	replies := make(chan model.Reply, 1)
	replyTopic := Reply(topic)
	i.mu.Lock()
	cli := i.cli
	i.mu.Unlock()
	if cli == nil {
		return model.Reply{}, transport.ErrClosed
	}
	sub := cli.Subscribe(replyTopic, 0, func(_ paho.Client, msg paho.Message) {
		var r model.Reply
		if err := json.Unmarshal(msg.Payload(), &r); err != nil {
			i.log.Warnf("decode reply: %v", err)
			return
		}
		if r.ID != id {
			return
		}
		select {
		case replies <- r:
		default:
		}
	})
	if sub.Wait() && sub.Error() != nil {
		return model.Reply{}, fmt.Errorf("subscribe %s: %w", replyTopic, sub.Error())
	}
	defer cli.Unsubscribe(replyTopic)

	pub := cli.Publish(topic, 0, false, payload)
	if !pub.WaitTimeout(i.cfg.PublishTimeout()) {
		return model.Reply{}, fmt.Errorf("%w: %s", transport.ErrPublishTimeout, topic)
	}
	if err := pub.Error(); err != nil {
		return model.Reply{}, fmt.Errorf("publish %s: %w", topic, err)
	}
	i.log.Infof("sent %s id=%s", method, id)

	select {
	case r := <-replies:
		return r, nil
	case <-ctx.Done():
		return model.Reply{}, fmt.Errorf("waiting for reply to %s: %w", id, ctx.Err())
	}
}

// Close disconnects the command client.
func (i *Invoker) Close() {
	i.mu.Lock()
	cli := i.cli
	i.cli = nil
	i.mu.Unlock()
	if cli != nil && cli.IsConnected() {
		cli.Disconnect(250)
	}
}
