// Interactive client for sensord. Streams pushed sensor data to the
// terminal and sends control commands typed by the user.
package main

import (
	"flag"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	prompt "github.com/c-bata/go-prompt"
	"github.com/juju/errors"
	"github.com/temoto/sensord/helpers/cli"
	sensornet "github.com/temoto/sensord/internal/net"
	"github.com/temoto/sensord/internal/sensor"
	"github.com/temoto/sensord/log2"
)

const usage = `syntax: commands separated by whitespace
(main)
- get      request sensor data push right now
- rate=N   set sampling rate to N milliseconds
- sN       pause N milliseconds

(meta)
- watch=yes|no  print periodic pushes (default yes)
- log=yes|no    debug logging
- loop=N        repeat N times all commands on this line
`

var log = log2.NewStderr(log2.LDebug)

// 1 prints pushed sensor data, 0 keeps the terminal quiet
var watch int32 = 1

func main() {
	cmdline := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	flagAddr := cmdline.String("addr", "127.0.0.1:8080", "sensord address")
	_ = cmdline.Parse(os.Args[1:])

	log.SetFlags(log2.LInteractiveFlags)
	log.SetLevel(log2.LInfo)

	client := sensornet.NewClient(sensornet.ClientOptions{
		Log:           log,
		Address:       *flagAddr,
		AutoReconnect: true,
		OnSensorData:  onSensorData,
		OnResponse:    onResponse,
		OnState: func(s sensornet.State) {
			log.Infof("connection %s", s)
		},
	})
	if err := client.Connect(); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	defer client.Close()

	cli.MainLoop("sensor-cli", newExecutor(client), newCompleter())
}

func onSensorData(timestamp int64, data *sensor.Data) {
	if atomic.LoadInt32(&watch) != 1 {
		return
	}
	log.Infof("%s temp=%.2f hum=%.2f press=%.2f light=%.2f motion=%t cpu=%.2f mem=%.2f",
		time.UnixMilli(timestamp).Format("15:04:05.000"),
		data.Temperature, data.Humidity, data.Pressure, data.Light,
		data.MotionDetected, data.CPUUsage, data.MemoryUsage)
}

func onResponse(e *sensornet.Envelope) {
	success := e.Success != nil && *e.Success
	log.Infof("response success=%t message=%s", success, e.Message)
}

func newCompleter() func(d prompt.Document) []prompt.Suggest {
	suggests := []prompt.Suggest{
		prompt.Suggest{Text: "get", Description: "request sensor data push right now"},
		prompt.Suggest{Text: "rate=N", Description: "set sampling rate to N ms"},
		prompt.Suggest{Text: "sN", Description: "pause for N ms"},
		prompt.Suggest{Text: "watch=", Description: "yes|no print periodic pushes"},
		prompt.Suggest{Text: "log=", Description: "yes|no debug logging"},
		prompt.Suggest{Text: "loop=N", Description: "repeat line N times"},
	}

	return func(d prompt.Document) []prompt.Suggest {
		return prompt.FilterFuzzy(suggests, d.GetWordBeforeCursor(), true)
	}
}

func newExecutor(client *sensornet.Client) func(string) {
	return func(line string) {
		cmds, loopn, err := parseLine(client, line)
		if err != nil {
			log.Errorf(errors.ErrorStack(err))
			return
		}
		if loopn == 0 {
			loopn = 1
		}
		for i := uint(0); i < loopn; i++ {
			for _, cmd := range cmds {
				if err := cmd(); err != nil {
					log.Errorf(errors.ErrorStack(err))
					return
				}
			}
		}
	}
}

type command func() error

func parseLine(client *sensornet.Client, line string) ([]command, uint, error) {
	words := strings.Split(line, " ")

	// pre-parse special commands
	loopn := uint(0)
	cmds := make([]command, 0, len(words))
	for _, word := range words {
		word = strings.TrimSpace(word)
		switch {
		case word == "":
		case word == "help":
			return []command{doUsage}, 0, nil
		case strings.HasPrefix(word, "loop="):
			if loopn != 0 {
				return nil, 0, errors.Errorf("multiple loop commands, expected at most one")
			}
			i, err := strconv.ParseUint(word[5:], 10, 32)
			if err != nil {
				return nil, 0, errors.Annotatef(err, "word=%s", word)
			}
			loopn = uint(i)
		default:
			cmd, err := parseCommand(client, word)
			if err != nil {
				return nil, 0, err
			}
			cmds = append(cmds, cmd)
		}
	}
	return cmds, loopn, nil
}

func parseCommand(client *sensornet.Client, word string) (command, error) {
	switch {
	case word == "get":
		return client.RequestSensorData, nil
	case strings.HasPrefix(word, "rate="):
		i, err := strconv.ParseInt(word[5:], 10, 64)
		if err != nil {
			return nil, errors.Annotatef(err, "word=%s", word)
		}
		return func() error { return client.SetSamplingRate(i) }, nil
	case word == "watch=yes":
		return func() error { atomic.StoreInt32(&watch, 1); return nil }, nil
	case word == "watch=no":
		return func() error { atomic.StoreInt32(&watch, 0); return nil }, nil
	case word == "log=yes":
		return func() error { log.SetLevel(log2.LDebug); return nil }, nil
	case word == "log=no":
		return func() error { log.SetLevel(log2.LInfo); return nil }, nil
	case word[0] == 's':
		i, err := strconv.ParseUint(word[1:], 10, 32)
		if err != nil {
			return nil, errors.Annotatef(err, "word=%s", word)
		}
		return func() error { time.Sleep(time.Duration(i) * time.Millisecond); return nil }, nil
	default:
		return nil, errors.Errorf("invalid command: '%s'", word)
	}
}

func doUsage() error {
	log.Infof(usage)
	return nil
}
