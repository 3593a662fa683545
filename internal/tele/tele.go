// Package tele mirrors device status to remote monitoring over MQTT.
// Vocabulary:
// - State: coarse device status, single byte, retained on the broker so
//   monitoring sees the last known state even while the device is offline.
// - Telemetry: sensor samples and errors, best effort.
//
// Tele contract:
// - Init() with Enabled=false turns every method into a cheap no-op.
// - Error/State/SensorData may be called from any goroutine and must not
//   block the caller on broker problems; messages are lost, not queued.
package tele

import (
	"context"
	"encoding/json"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/sensord/helpers"
	sensornet "github.com/temoto/sensord/internal/net"
	"github.com/temoto/sensord/internal/sensor"
	"github.com/temoto/sensord/log2"
)

const defaultStateInterval = 5 * time.Minute
const defaultNetworkTimeout = 30 * time.Second

// State values travel on the wire, do not renumber.
type State byte

const (
	StateInvalid State = iota
	StateBoot
	StateIdle
	StateServing
	StateProblem
	StateDisconnected // MQTT will payload
)

func (s State) String() string {
	switch s {
	case StateInvalid:
		return "invalid"
	case StateBoot:
		return "boot"
	case StateIdle:
		return "idle"
	case StateServing:
		return "serving"
	case StateProblem:
		return "problem"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

type Tele struct { //nolint:maligned
	enabled       bool
	log           *log2.Log
	transport     Transporter
	stateCh       chan State
	telemetryCh   chan []byte
	stopCh        chan struct{}
	deviceId      int32
	version       string
	stateInterval time.Duration
}

func New() *Tele { return &Tele{} }

func (self *Tele) Init(ctx context.Context, log *log2.Log, teleConfig Config) error {
	self.enabled = teleConfig.Enabled
	self.log = log
	if teleConfig.LogDebug {
		self.log.SetLevel(log2.LDebug)
	}
	if !self.enabled {
		return nil
	}

	self.deviceId = int32(teleConfig.DeviceId)
	self.version = teleConfig.BuildVersion
	self.stateInterval = helpers.IntSecondDefault(teleConfig.StateIntervalSec, defaultStateInterval)
	self.stateCh = make(chan State, 4)
	self.telemetryCh = make(chan []byte, 16)
	self.stopCh = make(chan struct{})

	willPayload := []byte{byte(StateDisconnected)}
	// test code sets transport
	if self.transport == nil { // production path
		self.transport = &transportMqtt{}
	}
	if err := self.transport.Init(ctx, self.log, teleConfig, willPayload); err != nil {
		return errors.Annotate(err, "tele transport")
	}

	go self.stateWorker()
	go self.telemetryWorker()
	self.stateCh <- StateBoot
	return nil
}

func (self *Tele) Close() {
	if !self.enabled {
		return
	}
	close(self.stopCh)
	self.transport.Close()
}

// State reports a status transition. Repeated values are deduplicated.
// When stateWorker lags behind a stuck broker the oldest pending
// transition is discarded, the latest state must win.
func (self *Tele) State(s State) {
	if !self.enabled {
		return
	}
	for {
		select {
		case self.stateCh <- s:
			return
		case <-self.stopCh:
			return
		default:
		}
		select {
		case <-self.stateCh:
		default:
		}
	}
}

// Error mirrors an error to monitoring. Wired as log2 error hook in
// state.Global so every logged error lands here automatically.
func (self *Tele) Error(e error) {
	if !self.enabled || e == nil {
		return
	}
	payload, err := json.Marshal(struct {
		Type    string `json:"type"`
		Message string `json:"message"`
		Version string `json:"version,omitempty"`
	}{"error", e.Error(), self.version})
	if err != nil {
		return
	}
	self.sendTelemetry(payload)
}

// SensorData mirrors a pushed sample. Signature matches the server
// OnSample hook so wiring is a plain method value.
func (self *Tele) SensorData(timestamp int64, data *sensor.Data) {
	if !self.enabled || data == nil {
		return
	}
	payload, err := json.Marshal(sensornet.NewSensorData(timestamp, data))
	if err != nil {
		self.log.Errorf("tele sensordata marshal err=%v", err)
		return
	}
	self.sendTelemetry(payload)
}

// sendTelemetry hands payload to telemetryWorker. Callers run on hot
// paths (server push loop, log error hook) so a slow broker must not
// stall them. Full buffer drops the message.
func (self *Tele) sendTelemetry(payload []byte) {
	select {
	case self.telemetryCh <- payload:
	default:
		self.log.Debugf("tele telemetry dropped len=%d", len(payload))
	}
}

func (self *Tele) telemetryWorker() {
	for {
		select {
		case payload := <-self.telemetryCh:
			self.transport.SendTelemetry(payload)
		case <-self.stopCh:
			return
		}
	}
}

// stateWorker owns the current state byte. Publishes on change,
// republishes on a regular interval to refresh the retained message,
// and retries failed sends on a short timer.
func (self *Tele) stateWorker() {
	const retryInterval = 17 * time.Second
	current := StateInvalid
	sent := true
	tmrRegular := time.NewTicker(self.stateInterval)
	tmrRetry := time.NewTicker(retryInterval)
	defer tmrRegular.Stop()
	defer tmrRetry.Stop()
	for {
		select {
		case next := <-self.stateCh:
			if next != current {
				self.log.Debugf("tele state %s -> %s", current, next)
				current = next
				sent = self.transport.SendState([]byte{byte(current)})
			}
		case <-tmrRegular.C:
			sent = self.transport.SendState([]byte{byte(current)})
		case <-tmrRetry.C:
			if !sent {
				sent = self.transport.SendState([]byte{byte(current)})
			}
		case <-self.stopCh:
			return
		}
	}
}
