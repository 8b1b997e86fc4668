package model

// Reply codes returned to the cloud.
const (
	CodeSuccess        = 200
	CodeInvalidParams  = 400
	CodeUnknownService = 220
)

// Target identifies the device a command is addressed to. For sub-devices
// the keys differ from the connected device's own keys.
type Target struct {
	ProductKey string
	DeviceKey  string
}

// ServiceInvocation is a named service call with its parameters.
type ServiceInvocation struct {
	ID     string
	Target Target
	Name   string
	Params map[string]any
}

// MeasurepointSet asks the device to write one or more measure points.
type MeasurepointSet struct {
	ID     string
	Target Target
	Params map[string]any
}

// Reply is the device answer to a command.
type Reply struct {
	ID      string         `json:"id"`
	Code    int            `json:"code"`
	Message string         `json:"message,omitempty"`
	Data    map[string]any `json:"data"`
}

// OK reports whether the reply carries the success code.
func (r Reply) OK() bool { return r.Code == CodeSuccess }

// SuccessReply builds a successful reply for the command id.
func SuccessReply(id string) Reply {
	return Reply{ID: id, Code: CodeSuccess, Data: map[string]any{}}
}

// FailureReply builds a failed reply with the given code and message.
func FailureReply(id string, code int, msg string) Reply {
	return Reply{ID: id, Code: code, Message: msg, Data: map[string]any{}}
}
