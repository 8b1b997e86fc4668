package mqtt

import (
	"encoding/json"
	"fmt"
)

const (
	protocolVersion     = "1.0"
	methodPost          = "thing.measurepoint.post"
	methodServicePrefix = "thing.service."
	methodSet           = "thing.service.measurepoint.set"
)

// Request is the envelope of every device-bound and cloud-bound request.
type Request struct {
	ID      string         `json:"id"`
	Version string         `json:"version"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params"`
}

type postParams struct {
	Measurepoints map[string]float64 `json:"measurepoints"`
	Time          int64              `json:"time"`
}

type postRequest struct {
	ID      string     `json:"id"`
	Version string     `json:"version"`
	Method  string     `json:"method"`
	Params  postParams `json:"params"`
}

func decodeRequest(payload []byte) (Request, error) {
	var r Request
	if err := json.Unmarshal(payload, &r); err != nil {
		return Request{}, fmt.Errorf("decode request: %w", err)
	}
	if r.Params == nil {
		r.Params = map[string]any{}
	}
	return r, nil
}
