package tele

import (
	"context"
	"testing"
	"time"

	"github.com/temoto/sensord/log2"
)

type transportMock struct {
	t              testing.TB
	networkTimeout time.Duration
	outBuffer      int
	outState       chan []byte
	outTelemetry   chan []byte
	willPayload    []byte
}

func (self *transportMock) Init(ctx context.Context, log *log2.Log, teleConfig Config, willPayload []byte) error {
	if self.networkTimeout == 0 {
		self.networkTimeout = defaultNetworkTimeout
	}
	self.outState = make(chan []byte, self.outBuffer)
	self.outTelemetry = make(chan []byte, self.outBuffer)
	self.willPayload = willPayload
	return nil
}

func (self *transportMock) Close() {}

func (self *transportMock) SendState(payload []byte) bool {
	select {
	case self.outState <- payload:
		return true
	case <-time.After(self.networkTimeout):
		self.t.Logf("transportMock SendState timeout payload=%x", payload)
		return false
	}
}

func (self *transportMock) SendTelemetry(payload []byte) bool {
	select {
	case self.outTelemetry <- payload:
		return true
	case <-time.After(self.networkTimeout):
		self.t.Logf("transportMock SendTelemetry timeout payload=%x", payload)
		return false
	}
}
