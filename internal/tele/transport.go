package tele

import (
	"context"

	"github.com/temoto/sensord/log2"
)

// Transporter publishes to remote monitoring. Implementations must be
// safe to call from multiple goroutines after Init.
type Transporter interface {
	Init(ctx context.Context, log *log2.Log, teleConfig Config, willPayload []byte) error
	SendState(payload []byte) bool
	SendTelemetry(payload []byte) bool
	Close()
}
