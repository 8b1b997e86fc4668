package transport

import (
	"context"
	"errors"

	"github.com/kilianp07/smartbattery/core/model"
)

var (
	// ErrConnect wraps every failure to establish the session.
	ErrConnect = errors.New("connect failed")
	// ErrNotConnected is returned when publishing without a live session.
	ErrNotConnected = errors.New("not connected")
	// ErrPublishTimeout is returned when the broker did not take the message in time.
	ErrPublishTimeout = errors.New("publish timeout")
	// ErrClosed is returned by operations on a closed transport.
	ErrClosed = errors.New("transport closed")
)

// ServiceHandler answers a service invocation.
type ServiceHandler func(cmd model.ServiceInvocation) model.Reply

// MeasurepointSetHandler answers a measure point set command.
type MeasurepointSetHandler func(cmd model.MeasurepointSet) model.Reply

// MeasurepointPublisher posts a single measure point at QoS 0.
type MeasurepointPublisher interface {
	PublishMeasurepoint(ctx context.Context, name string, value float64) error
}

// Transport is the device side of the messaging session.
type Transport interface {
	MeasurepointPublisher

	// Connect blocks until the broker accepted or refused the session.
	Connect(ctx context.Context) error

	// HandleServiceInvocation subscribes h to inbound service invocations.
	HandleServiceInvocation(h ServiceHandler) error

	// HandleMeasurepointSet subscribes h to inbound measure point set commands.
	HandleMeasurepointSet(h MeasurepointSetHandler) error

	// OnConnectionLost registers the callback fired on unsolicited loss.
	OnConnectionLost(fn func(error))

	// Close ends the session. Calling it more than once is a no-op.
	Close() error
}
