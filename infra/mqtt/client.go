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
	"github.com/kilianp07/smartbattery/core/monitoring"
	"github.com/kilianp07/smartbattery/core/transport"
	"github.com/kilianp07/smartbattery/infra/logger"
)

// pahoClient is the subset of paho.Client used by the adapter.
type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
	Unsubscribe(topics ...string) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// Client is the device side transport backed by Eclipse Paho.
type Client struct {
	cfg    Config
	topics Topics
	log    logger.Logger
	now    func() time.Time

	mu     sync.Mutex
	cli    pahoClient
	lost   func(error)
	closed bool
	// closing stops new command handlers while Close waits for the
	// in-flight ones to publish their replies.
	closing  bool
	inflight sync.WaitGroup
}

var _ transport.Transport = (*Client)(nil)

// NewClient validates cfg and prepares an unconnected client.
func NewClient(cfg Config) (*Client, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		cfg:    cfg,
		topics: Topics{ProductKey: cfg.ProductKey, DeviceKey: cfg.DeviceKey},
		log:    logger.New("mqtt_client"),
		now:    time.Now,
	}, nil
}

// Topics returns the device topics.
func (c *Client) Topics() Topics { return c.topics }

// Connect logs in and blocks until the broker accepted or refused the
// session, ctx is done or the connect timeout elapsed.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return transport.ErrClosed
	}
	c.mu.Unlock()

	opts, err := NewClientOptions(c.cfg, c.now())
	if err != nil {
		return fmt.Errorf("%w: %v", transport.ErrConnect, err)
	}
	opts.SetOnConnectHandler(func(paho.Client) {
		c.log.Infof("MQTT connected to %s", c.cfg.Server)
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		c.log.Errorf("connection lost: %v", err)
		c.mu.Lock()
		fn := c.lost
		closed := c.closing
		c.mu.Unlock()
		if fn != nil && !closed {
			fn(err)
		}
	})

	cli := newMQTTClient(opts)
	token := cli.Connect()
	timer := time.NewTimer(c.cfg.ConnectTimeout())
	defer timer.Stop()
	select {
	case <-token.Done():
	case <-ctx.Done():
		go disconnectWhenDone(cli, token)
		return fmt.Errorf("%w: %v", transport.ErrConnect, ctx.Err())
	case <-timer.C:
		go disconnectWhenDone(cli, token)
		return fmt.Errorf("%w: timed out after %s", transport.ErrConnect, c.cfg.ConnectTimeout())
	}
	if err := token.Error(); err != nil {
		monitoring.CaptureException(err, map[string]string{"module": "mqtt", "stage": "connect"})
		return fmt.Errorf("%w: %v", transport.ErrConnect, err)
	}

	c.mu.Lock()
	c.cli = cli
	c.mu.Unlock()
	return nil
}

// disconnectWhenDone releases an abandoned connect attempt. Paho ignores
// Disconnect until the connect token completes, so a late success would
// otherwise leave the session open.
func disconnectWhenDone(cli pahoClient, token paho.Token) {
	<-token.Done()
	if token.Error() == nil {
		cli.Disconnect(0)
	}
}

func (c *Client) client() (pahoClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, transport.ErrClosed
	}
	if c.cli == nil || !c.cli.IsConnected() {
		return nil, transport.ErrNotConnected
	}
	return c.cli, nil
}

// PublishMeasurepoint posts one measure point at QoS 0.
func (c *Client) PublishMeasurepoint(ctx context.Context, name string, value float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cli, err := c.client()
	if err != nil {
		return err
	}
	payload, err := json.Marshal(postRequest{
		ID:      uuid.NewString(),
		Version: protocolVersion,
		Method:  methodPost,
		Params: postParams{
			Measurepoints: map[string]float64{name: value},
			Time:          c.now().UnixMilli(),
		},
	})
	if err != nil {
		return err
	}
	return c.publish(cli, c.topics.Post(), payload)
}

func (c *Client) publish(cli pahoClient, topic string, payload []byte) error {
	token := cli.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(c.cfg.PublishTimeout()) {
		return fmt.Errorf("%w: %s", transport.ErrPublishTimeout, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// HandleServiceInvocation subscribes h to every service topic of the device.
func (c *Client) HandleServiceInvocation(h transport.ServiceHandler) error {
	return c.subscribe(c.topics.ServiceWildcard(), func(_ paho.Client, msg paho.Message) {
		target, name, ok := ParseServiceTopic(msg.Topic())
		if !ok {
			return
		}
		req, err := decodeRequest(msg.Payload())
		if err != nil {
			c.log.Warnf("service %s: %v", name, err)
			c.reply(msg.Topic(), model.FailureReply("", model.CodeInvalidParams, err.Error()))
			return
		}
		reply := h(model.ServiceInvocation{ID: req.ID, Target: target, Name: name, Params: req.Params})
		c.reply(msg.Topic(), reply)
	})
}

// HandleMeasurepointSet subscribes h to the measure point set topic.
func (c *Client) HandleMeasurepointSet(h transport.MeasurepointSetHandler) error {
	return c.subscribe(c.topics.MeasurepointSet(), func(_ paho.Client, msg paho.Message) {
		target, ok := ParseMeasurepointSetTopic(msg.Topic())
		if !ok {
			return
		}
		req, err := decodeRequest(msg.Payload())
		if err != nil {
			c.log.Warnf("measurepoint set: %v", err)
			c.reply(msg.Topic(), model.FailureReply("", model.CodeInvalidParams, err.Error()))
			return
		}
		c.reply(msg.Topic(), h(model.MeasurepointSet{ID: req.ID, Target: target, Params: req.Params}))
	})
}

func (c *Client) subscribe(topic string, cb paho.MessageHandler) error {
	cli, err := c.client()
	if err != nil {
		return err
	}
	wrapped := func(pc paho.Client, msg paho.Message) {
		c.mu.Lock()
		if c.closing {
			c.mu.Unlock()
			return
		}
		c.inflight.Add(1)
		c.mu.Unlock()
		defer c.inflight.Done()
		defer monitoring.Recover()
		cb(pc, msg)
	}
	token := cli.Subscribe(topic, 0, wrapped)
	if !token.WaitTimeout(c.cfg.ConnectTimeout()) {
		return fmt.Errorf("subscribe %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	c.log.Infof("subscribed to %s", topic)
	return nil
}

func (c *Client) reply(requestTopic string, r model.Reply) {
	if r.Data == nil {
		r.Data = map[string]any{}
	}
	payload, err := json.Marshal(r)
	if err != nil {
		c.log.Errorf("encode reply: %v", err)
		return
	}
	cli, err := c.client()
	if err != nil {
		c.log.Warnf("reply %s dropped: %v", r.ID, err)
		return
	}
	if err := c.publish(cli, Reply(requestTopic), payload); err != nil {
		c.log.Errorf("reply %s: %v", r.ID, err)
		monitoring.CaptureException(err, map[string]string{"module": "mqtt", "stage": "reply"})
	}
}

// OnConnectionLost registers the callback fired on unsolicited loss.
func (c *Client) OnConnectionLost(fn func(error)) {
	c.mu.Lock()
	c.lost = fn
	c.mu.Unlock()
}

// Close disconnects from the broker once the command handlers in flight have
// replied. It must not be called from a handler. Only the first call has an
// effect.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	c.mu.Unlock()

	c.inflight.Wait()

	c.mu.Lock()
	c.closed = true
	cli := c.cli
	c.mu.Unlock()
	if cli != nil && cli.IsConnected() {
		cli.Disconnect(250)
	}
	c.log.Infof("MQTT disconnected")
	return nil
}
