package sensornet

import (
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/sensord/internal/sensor"
	"github.com/temoto/sensord/log2"
)

const (
	DefaultIntervalMs = int64(1000)
	MinIntervalMs     = int64(100)
	MaxIntervalMs     = int64(10000)
)

type SessionOptions struct {
	Log        *log2.Log
	Source     *sensor.Source
	IntervalMs int64 // initial sampling interval, default=DefaultIntervalMs
	Stat       *ServerStat

	// OnSample observes every pushed sample, both periodic and requested.
	OnSample func(timestamp int64, data *sensor.Data)
}

// Session serves one connected client: pushes sensor_data on a timer
// and answers commands from the receive side. The sampling interval is
// shared between both loops.
type Session struct {
	alive    *alive.Alive
	conn     *Conn
	log      *log2.Log
	source   *sensor.Source
	stat     *ServerStat
	onSample func(int64, *sensor.Data)
	interval int64 // atomic, milliseconds
}

func NewSession(conn *Conn, opt SessionOptions) *Session {
	initial := opt.IntervalMs
	if initial == 0 {
		initial = DefaultIntervalMs
	}
	if opt.Stat == nil {
		opt.Stat = &ServerStat{}
	}
	se := &Session{
		alive:    alive.NewAlive(),
		conn:     conn,
		log:      opt.Log,
		source:   opt.Source,
		stat:     opt.Stat,
		onSample: opt.OnSample,
		interval: clampIntervalMs(initial),
	}
	return se
}

// Run blocks until the client disconnects, the stream fails or Stop.
// Normal disconnect returns nil.
func (se *Session) Run() error {
	remote := addrString(se.conn.RemoteAddr())
	if !se.alive.Add(1) {
		_ = se.conn.Close()
		return nil
	}
	go se.pushLoop()
	err := se.recvLoop()
	se.alive.Stop()
	_ = se.conn.Close()
	se.alive.Wait()
	se.log.Infof("session done remote=%s stat=%s idle=%s", remote, se.conn.Stat().String(), se.conn.SinceLastRecv())
	return err
}

func (se *Session) Stop() {
	se.alive.Stop()
	_ = se.conn.Close()
}

func (se *Session) IntervalMs() int64 { return atomic.LoadInt64(&se.interval) }

// pushLoop sends a sample first, then waits the current interval.
// Interval changes apply from the next wait.
func (se *Session) pushLoop() {
	defer se.alive.Done()
	for se.alive.IsRunning() {
		if err := se.push(); err != nil {
			se.alive.Stop()
			return
		}
		delay := time.Duration(atomic.LoadInt64(&se.interval)) * time.Millisecond
		select {
		case <-se.alive.StopChan():
			return
		case <-time.After(delay):
		}
	}
}

func (se *Session) push() error {
	d := se.source.Sample()
	ts := time.Now().UnixMilli()
	if se.onSample != nil {
		se.onSample(ts, d)
	}
	return se.conn.Send(NewSensorData(ts, d))
}

func (se *Session) recvLoop() error {
	for se.alive.IsRunning() {
		e, err := se.conn.Receive()
		switch {
		case err == nil:
			se.dispatch(e)
		case errors.Cause(err) == ErrFrameMalformed:
			se.log.Debugf("session drop malformed frame remote=%s e=%v", addrString(se.conn.RemoteAddr()), err)
		case closedError(err):
			return nil
		default:
			return errors.Annotate(err, "session")
		}
	}
	return nil
}

// dispatch handles command frames. Other types are legal on the wire
// and ignored; unknown commands are dropped without response so future
// clients stay compatible.
func (se *Session) dispatch(e *Envelope) {
	if e.Type != MessageCommand {
		se.log.Debugf("session ignore type=%q remote=%s", e.Type, addrString(se.conn.RemoteAddr()))
		return
	}
	se.stat.Commands.Add(1)
	switch e.Cmd {
	case CommandGetSensorData:
		if err := se.push(); err != nil {
			se.alive.Stop()
		}
	case CommandSetSamplingRate:
		rate := DefaultIntervalMs
		if e.Params != nil && e.Params.RateMs != nil {
			rate = *e.Params.RateMs
		}
		rate = clampIntervalMs(rate)
		atomic.StoreInt64(&se.interval, rate)
		se.log.Infof("session rate=%dms remote=%s", rate, addrString(se.conn.RemoteAddr()))
		msg := fmt.Sprintf("Sampling rate set to %dms", rate)
		if err := se.conn.Send(NewResponse(e.Cmd, true, msg)); err != nil {
			se.alive.Stop()
		}
	default:
		se.log.Debugf("session ignore cmd=%q remote=%s", e.Cmd, addrString(se.conn.RemoteAddr()))
	}
}

func clampIntervalMs(x int64) int64 {
	if x < MinIntervalMs {
		return MinIntervalMs
	}
	if x > MaxIntervalMs {
		return MaxIntervalMs
	}
	return x
}

// closedError reports errors that mean the session is simply over:
// remote closed, remote vanished or we closed our own socket.
func closedError(e error) bool {
	switch errors.Cause(e) {
	case nil, io.EOF, ErrClosing:
		return true
	}
	s := e.Error()
	return strings.Contains(s, "use of closed network connection") ||
		strings.Contains(s, "connection reset by peer")
}
