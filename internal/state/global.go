package state

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/sensord/helpers"
	sensornet "github.com/temoto/sensord/internal/net"
	"github.com/temoto/sensord/internal/tele"
	"github.com/temoto/sensord/log2"
)

type Global struct {
	Alive        *alive.Alive
	BuildVersion string
	Config       *Config
	Log          *log2.Log
	Tele         *tele.Tele
}

const ContextKey = "run/state-global"

func NewContext(log *log2.Log, teler *tele.Tele) (context.Context, *Global) {
	if log == nil {
		panic("code error NewContext() log=nil")
	}
	if teler == nil {
		teler = tele.New()
	}

	g := &Global{
		Alive: alive.NewAlive(),
		Log:   log,
		Tele:  teler,
	}
	ctx := context.WithValue(context.Background(), ContextKey, g)
	return ctx, g
}

func GetGlobal(ctx context.Context) *Global {
	v := ctx.Value(ContextKey)
	if v == nil {
		panic(fmt.Sprintf("context['%s'] is nil", ContextKey))
	}
	if g, ok := v.(*Global); ok {
		return g
	}
	panic(fmt.Sprintf("context['%s'] expected type *Global actual=%#v", ContextKey, v))
}

// If `Init` fails, consider `Global` is in broken state.
func (g *Global) Init(ctx context.Context, cfg *Config) error {
	g.Config = cfg

	g.Log.Infof("build version=%s", g.BuildVersion)

	if g.Config.Listen.Address == "" {
		g.Config.Listen.Address = sensornet.DefaultListenAddress
		g.Log.Debugf("config: listen.address=empty changed=%s", g.Config.Listen.Address)
	}

	// Since tele is remote error reporting mechanism, it must be inited before anything else
	// Tele.Init gets g.Log clone before SetErrorFunc, so Tele.Log.Error doesn't recurse on itself
	g.Config.Tele.BuildVersion = g.BuildVersion
	if err := g.Tele.Init(ctx, g.Log.Clone(log2.LInfo), g.Config.Tele); err != nil {
		return errors.Annotate(err, "tele init")
	}
	g.Log.SetErrorFunc(g.Tele.Error)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		g.Log.Infof("graceful stop on signal=%v", sig)
		g.Stop()
	}()

	errs := make([]error, 0)
	if g.Config.Listen.IntervalMs < 0 {
		errs = append(errs, errors.NotValidf("config: listen.interval_ms=%d", g.Config.Listen.IntervalMs))
	}
	if g.Config.Listen.NetworkTimeoutSec < 0 {
		errs = append(errs, errors.NotValidf("config: listen.network_timeout_sec=%d", g.Config.Listen.NetworkTimeoutSec))
	}
	if g.Config.Listen.ReadLimit < 0 {
		errs = append(errs, errors.NotValidf("config: listen.read_limit=%d", g.Config.Listen.ReadLimit))
	}
	return helpers.FoldErrors(errs)
}

func (g *Global) MustInit(ctx context.Context, cfg *Config) {
	if err := g.Init(ctx, cfg); err != nil {
		g.Fatal(err)
	}
}

func (g *Global) Error(err error, args ...interface{}) {
	if err != nil {
		if len(args) != 0 {
			msg := args[0].(string)
			args = args[1:]
			err = errors.Annotatef(err, msg, args...)
		}
		g.Log.Error(err)
	}
}

func (g *Global) Fatal(err error, args ...interface{}) {
	if err != nil {
		g.Error(err, args...)
		g.StopWait(5 * time.Second)
		g.Log.Fatal(err)
	}
}

func (g *Global) Stop() {
	g.Alive.Stop()
}

func (g *Global) StopWait(timeout time.Duration) bool {
	g.Alive.Stop()
	select {
	case <-g.Alive.WaitChan():
		return true
	case <-time.After(timeout):
		return false
	}
}
