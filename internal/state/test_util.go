package state

import (
	"context"
	"testing"

	"github.com/temoto/sensord/internal/tele"
	"github.com/temoto/sensord/log2"
)

func NewTestContext(t testing.TB, buildVersion string, confString string) (context.Context, *Global) {
	fs := NewMockFullReader(map[string]string{
		"test-inline": confString,
	})

	log := log2.NewTest(t, log2.LDebug)
	log.SetFlags(log2.LTestFlags)
	ctx, g := NewContext(log, tele.New())
	g.BuildVersion = buildVersion
	g.MustInit(ctx, MustReadConfig(log, fs, "test-inline"))

	return ctx, g
}
