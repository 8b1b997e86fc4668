package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/kilianp07/smartbattery/core/model"
)

// Publication is a measure point recorded by MockTransport.
type Publication struct {
	Name  string
	Value float64
}

// MockTransport is an in-memory Transport used in tests.
type MockTransport struct {
	ConnectErr error
	PublishErr error

	mu          sync.Mutex
	published   []Publication
	connected   bool
	closeCalls  int
	service     ServiceHandler
	measurement MeasurepointSetHandler
	lost        func(error)
}

// NewMockTransport creates an unconnected MockTransport.
func NewMockTransport() *MockTransport { return &MockTransport{} }

func (m *MockTransport) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.ConnectErr != nil {
		return fmt.Errorf("%w: %v", ErrConnect, m.ConnectErr)
	}
	m.mu.Lock()
	m.connected = true
	m.mu.Unlock()
	return nil
}

func (m *MockTransport) PublishMeasurepoint(_ context.Context, name string, value float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrNotConnected
	}
	if m.PublishErr != nil {
		return m.PublishErr
	}
	m.published = append(m.published, Publication{Name: name, Value: value})
	return nil
}

func (m *MockTransport) HandleServiceInvocation(h ServiceHandler) error {
	m.mu.Lock()
	m.service = h
	m.mu.Unlock()
	return nil
}

func (m *MockTransport) HandleMeasurepointSet(h MeasurepointSetHandler) error {
	m.mu.Lock()
	m.measurement = h
	m.mu.Unlock()
	return nil
}

func (m *MockTransport) OnConnectionLost(fn func(error)) {
	m.mu.Lock()
	m.lost = fn
	m.mu.Unlock()
}

func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalls++
	m.connected = false
	return nil
}

// Published returns a copy of every recorded publication.
func (m *MockTransport) Published() []Publication {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Publication, len(m.published))
	copy(out, m.published)
	return out
}

// CountByName returns the number of publications per measure point.
func (m *MockTransport) CountByName() map[string]int {
	counts := make(map[string]int)
	for _, p := range m.Published() {
		counts[p.Name]++
	}
	return counts
}

// CloseCalls returns how many times Close was invoked.
func (m *MockTransport) CloseCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCalls
}

// InvokeService delivers a service invocation to the registered handler.
func (m *MockTransport) InvokeService(cmd model.ServiceInvocation) (model.Reply, error) {
	m.mu.Lock()
	h := m.service
	m.mu.Unlock()
	if h == nil {
		return model.Reply{}, fmt.Errorf("no service handler registered")
	}
	return h(cmd), nil
}

// SetMeasurepoints delivers a measure point set command to the registered handler.
func (m *MockTransport) SetMeasurepoints(cmd model.MeasurepointSet) (model.Reply, error) {
	m.mu.Lock()
	h := m.measurement
	m.mu.Unlock()
	if h == nil {
		return model.Reply{}, fmt.Errorf("no measure point handler registered")
	}
	return h(cmd), nil
}

// LoseConnection simulates an unsolicited connection loss.
func (m *MockTransport) LoseConnection(err error) {
	m.mu.Lock()
	m.connected = false
	fn := m.lost
	m.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}
