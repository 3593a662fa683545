package sensornet

import (
	"fmt"

	"github.com/temoto/sensord/internal/sensor"
)

const (
	MessageSensorData = "sensor_data"
	MessageCommand    = "command"
	MessageResponse   = "response"

	CommandGetSensorData   = "get_sensor_data"
	CommandSetSamplingRate = "set_sampling_rate"
)

// Envelope is the single JSON shape for all frames. Type selects which
// fields are meaningful; the rest stay empty and are omitted on the wire.
type Envelope struct {
	Type      string         `json:"type"`
	Timestamp int64          `json:"timestamp,omitempty"`
	Data      *sensor.Data   `json:"data,omitempty"`
	Cmd       string         `json:"cmd,omitempty"`
	Params    *CommandParams `json:"params,omitempty"`
	Success   *bool          `json:"success,omitempty"`
	Message   string         `json:"message,omitempty"`
}

type CommandParams struct {
	RateMs *int64 `json:"rate_ms,omitempty"`
}

func NewSensorData(timestamp int64, data *sensor.Data) *Envelope {
	return &Envelope{
		Type:      MessageSensorData,
		Timestamp: timestamp,
		Data:      data,
	}
}

func NewCommand(cmd string, params *CommandParams) *Envelope {
	return &Envelope{
		Type:   MessageCommand,
		Cmd:    cmd,
		Params: params,
	}
}

// NewResponse always carries success on the wire, true or false.
func NewResponse(cmd string, success bool, message string) *Envelope {
	return &Envelope{
		Type:    MessageResponse,
		Cmd:     cmd,
		Success: &success,
		Message: message,
	}
}

func (e *Envelope) String() string {
	if e == nil {
		return "(nil)"
	}
	s := "(type=" + e.Type
	if e.Timestamp != 0 {
		s += fmt.Sprintf(" ts=%d", e.Timestamp)
	}
	if e.Cmd != "" {
		s += " cmd=" + e.Cmd
	}
	if e.Params != nil && e.Params.RateMs != nil {
		s += fmt.Sprintf(" rate_ms=%d", *e.Params.RateMs)
	}
	if e.Success != nil {
		s += fmt.Sprintf(" success=%t", *e.Success)
	}
	if e.Message != "" {
		s += fmt.Sprintf(" message=%q", e.Message)
	}
	if e.Data != nil {
		s += fmt.Sprintf(" data=%+v", *e.Data)
	}
	return s + ")"
}
