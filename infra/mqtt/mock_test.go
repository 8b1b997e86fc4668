package mqtt

import (
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

type publication struct {
	topic   string
	qos     byte
	payload []byte
}

// mockClient implements pahoClient for tests.
type mockClient struct {
	mu           sync.Mutex
	opts         *paho.ClientOptions
	connected    bool
	connectToken paho.Token
	publishToken paho.Token
	subs         map[string]paho.MessageHandler
	unsubscribed []string
	published    []publication
	disconnects  int
	onPublish    func(topic string, payload []byte)
}

func newMockClient() *mockClient {
	return &mockClient{subs: make(map[string]paho.MessageHandler)}
}

// install swaps the package client constructor for the mock.
func (m *mockClient) install() func() {
	prev := newMQTTClient
	newMQTTClient = func(o *paho.ClientOptions) pahoClient {
		m.mu.Lock()
		m.opts = o
		m.mu.Unlock()
		return m
	}
	return func() { newMQTTClient = prev }
}

func (m *mockClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockClient) Connect() paho.Token {
	m.mu.Lock()
	tok := m.connectToken
	opts := m.opts
	m.mu.Unlock()
	if tok != nil {
		return tok
	}
	m.mu.Lock()
	m.connected = true
	m.mu.Unlock()
	if opts != nil && opts.OnConnect != nil {
		opts.OnConnect(nil)
	}
	return &dummyToken{}
}

func (m *mockClient) Disconnect(uint) {
	m.mu.Lock()
	m.connected = false
	m.disconnects++
	m.mu.Unlock()
}

func (m *mockClient) Publish(topic string, qos byte, _ bool, payload interface{}) paho.Token {
	var b []byte
	switch p := payload.(type) {
	case []byte:
		b = p
	case string:
		b = []byte(p)
	}
	m.mu.Lock()
	m.published = append(m.published, publication{topic: topic, qos: qos, payload: b})
	tok := m.publishToken
	hook := m.onPublish
	m.mu.Unlock()
	if hook != nil {
		hook(topic, b)
	}
	if tok != nil {
		return tok
	}
	return &dummyToken{}
}

func (m *mockClient) Subscribe(topic string, _ byte, cb paho.MessageHandler) paho.Token {
	m.mu.Lock()
	m.subs[topic] = cb
	m.mu.Unlock()
	return &dummyToken{}
}

func (m *mockClient) Unsubscribe(topics ...string) paho.Token {
	m.mu.Lock()
	for _, t := range topics {
		delete(m.subs, t)
		m.unsubscribed = append(m.unsubscribed, t)
	}
	m.mu.Unlock()
	return &dummyToken{}
}

// deliver routes an inbound message to every matching subscription.
func (m *mockClient) deliver(topic string, payload []byte) {
	m.mu.Lock()
	var handlers []paho.MessageHandler
	for filter, cb := range m.subs {
		if topicMatches(filter, topic) {
			handlers = append(handlers, cb)
		}
	}
	m.mu.Unlock()
	for _, cb := range handlers {
		cb(nil, mockMessage{topic: topic, p: payload})
	}
}

func (m *mockClient) loseConnection(err error) {
	m.mu.Lock()
	m.connected = false
	opts := m.opts
	m.mu.Unlock()
	opts.OnConnectionLost(nil, err)
}

func (m *mockClient) publications() []publication {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]publication(nil), m.published...)
}

func topicMatches(filter, topic string) bool {
	fp := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")
	if len(fp) != len(tp) {
		return false
	}
	for i := range fp {
		if fp[i] != "+" && fp[i] != tp[i] {
			return false
		}
	}
	return true
}

type dummyToken struct{ err error }

func (d dummyToken) Wait() bool                     { return true }
func (d dummyToken) WaitTimeout(time.Duration) bool { return true }
func (d dummyToken) Done() <-chan struct{}          { ch := make(chan struct{}); close(ch); return ch }
func (d dummyToken) Error() error                   { return d.err }

// hangingToken never completes.
type hangingToken struct{}

func (hangingToken) Wait() bool                     { select {} }
func (hangingToken) WaitTimeout(time.Duration) bool { return false }
func (hangingToken) Done() <-chan struct{}          { return make(chan struct{}) }
func (hangingToken) Error() error                   { return nil }

// pendingToken completes when release is called.
type pendingToken struct {
	done chan struct{}
	err  error
}

func newPendingToken() *pendingToken { return &pendingToken{done: make(chan struct{})} }

func (p *pendingToken) release(err error) {
	p.err = err
	close(p.done)
}

func (p *pendingToken) Wait() bool { <-p.done; return true }
func (p *pendingToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-p.done:
		return true
	case <-time.After(d):
		return false
	}
}
func (p *pendingToken) Done() <-chan struct{} { return p.done }
func (p *pendingToken) Error() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

func (m *mockClient) disconnectCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnects
}

type mockMessage struct {
	topic string
	p     []byte
}

func (m mockMessage) Duplicate() bool   { return false }
func (m mockMessage) Qos() byte         { return 0 }
func (m mockMessage) Retained() bool    { return false }
func (m mockMessage) Topic() string     { return m.topic }
func (m mockMessage) MessageID() uint16 { return 0 }
func (m mockMessage) Payload() []byte   { return m.p }
func (m mockMessage) Ack()              {}
