// Sensor telemetry daemon. Serves one TCP client at a time with
// periodic sensor pushes and a small command protocol on the same
// socket. Optionally mirrors samples and status to MQTT monitoring.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/mattn/go-isatty"
	"github.com/temoto/sensord/helpers"
	sensornet "github.com/temoto/sensord/internal/net"
	"github.com/temoto/sensord/internal/sensor"
	"github.com/temoto/sensord/internal/state"
	"github.com/temoto/sensord/internal/tele"
	"github.com/temoto/sensord/log2"
)

var log = log2.NewStderr(log2.LDebug)

var BuildVersion string = "unknown" // set by ldflags -X main.BuildVersion

func main() {
	cmdline := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	flagConfig := cmdline.String("config", "sensord.hcl", "")
	flagVersion := cmdline.Bool("version", false, "print build version and exit")
	_ = cmdline.Parse(os.Args[1:])

	if *flagVersion {
		fmt.Printf("sensord %s\n", BuildVersion)
		return
	}

	if isatty.IsTerminal(os.Stderr.Fd()) {
		log.SetFlags(log2.LInteractiveFlags)
	} else {
		// under systemd journal already timestamps every line
		log.SetFlags(log2.LServiceFlags)
	}

	config := state.MustReadConfig(log, state.NewOsFullReader(), *flagConfig)
	ctx, g := state.NewContext(log, tele.New())
	g.BuildVersion = BuildVersion
	g.MustInit(ctx, config)
	g.Log.Debugf("config=%+v", g.Config)

	src := sensor.NewSource(sensor.Options{
		Log:         g.Log,
		ProcStat:    g.Config.Sensor.ProcStat,
		ProcMeminfo: g.Config.Sensor.ProcMeminfo,
	})
	srv := sensornet.NewServer(sensornet.ServerOptions{
		Log:            g.Log,
		Source:         src,
		ListenAddress:  g.Config.Listen.Address,
		NetworkTimeout: helpers.IntSecondDefault(g.Config.Listen.NetworkTimeoutSec, sensornet.DefaultNetworkTimeout),
		ReadLimit:      uint32(g.Config.Listen.ReadLimit),
		IntervalMs:     int64(g.Config.Listen.IntervalMs),
		OnSample:       g.Tele.SensorData,
		OnSession: func(remote net.Addr, connected bool) {
			if connected {
				g.Tele.State(tele.StateServing)
			} else {
				g.Tele.State(tele.StateIdle)
			}
		},
	})
	if err := srv.Listen(); err != nil {
		g.Fatal(err)
	}
	go func() {
		<-g.Alive.StopChan()
		srv.Stop()
	}()

	g.Tele.State(tele.StateIdle)
	sdnotify(daemon.SdNotifyReady)
	g.Log.Debugf("sensord init complete, serving")

	if err := srv.Run(); err != nil && err != sensornet.ErrClosing {
		g.Error(err)
	}
	sdnotify(daemon.SdNotifyStopping)
	g.StopWait(5 * time.Second)
	g.Tele.Close()
	g.Log.Infof("stopped")
}

func sdnotify(s string) bool {
	ok, err := daemon.SdNotify(false, s)
	if err != nil {
		log.Fatal("sdnotify: ", errors.ErrorStack(err))
	}
	return ok
}
