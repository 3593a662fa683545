package sensornet

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/sensord/helpers"
	"github.com/temoto/sensord/internal/sensor"
	"github.com/temoto/sensord/log2"
)

const DefaultConnectTimeout = 10 * time.Second

var ErrNotConnected = fmt.Errorf("not connected")

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("unknown:%d", int32(s))
}

type ClientOptions struct {
	Log            *log2.Log
	Address        string
	ConnectTimeout time.Duration // default=DefaultConnectTimeout
	NetworkTimeout time.Duration
	ReadLimit      uint32
	AutoReconnect  bool

	OnSensorData func(timestamp int64, data *sensor.Data)
	OnResponse   func(e *Envelope)
	OnState      func(new State)
}

// Client keeps one connection to a sensord server and runs callbacks
// from its read loop. Sends are safe from any goroutine.
type Client struct {
	sync.Mutex
	alive   *alive.Alive
	log     *log2.Log
	opt     ClientOptions
	backoff helpers.Backoff
	conn    *Conn
	state   int32
}

func NewClient(opt ClientOptions) *Client {
	if opt.ConnectTimeout == 0 {
		opt.ConnectTimeout = DefaultConnectTimeout
	}
	c := &Client{
		alive:   alive.NewAlive(),
		log:     opt.Log,
		opt:     opt,
		backoff: helpers.Backoff{Min: 100 * time.Millisecond, Max: 10 * time.Second, K: 2},
	}
	return c
}

func (c *Client) State() State { return State(atomic.LoadInt32(&c.state)) }

// Connect dials the server and starts the read loop. Nop when already
// connected.
func (c *Client) Connect() error {
	c.Lock()
	if c.conn != nil {
		c.Unlock()
		return nil
	}
	c.Unlock()

	c.setState(StateConnecting)
	netConn, err := net.DialTimeout("tcp", c.opt.Address, c.opt.ConnectTimeout)
	if err != nil {
		c.setState(StateFailed)
		return errors.Annotatef(err, "connect %s", c.opt.Address)
	}
	conn := NewConn(netConn, ConnOptions{
		Log:            c.log,
		NetworkTimeout: c.opt.NetworkTimeout,
		ReadLimit:      c.opt.ReadLimit,
	})
	stored := false
	helpers.WithLock(&c.Mutex, func() {
		if c.conn == nil {
			c.conn = conn
			stored = true
		}
	})
	if !stored {
		_ = conn.Close()
		return nil
	}
	if !c.alive.Add(1) {
		_ = conn.Close()
		helpers.WithLock(&c.Mutex, func() { c.conn = nil })
		c.setState(StateDisconnected)
		return ErrClosing
	}
	c.setState(StateConnected)
	c.log.Debugf("connected %s", c.opt.Address)
	go c.readLoop(conn)
	return nil
}

func (c *Client) Close() error {
	c.alive.Stop()
	helpers.WithLock(&c.Mutex, func() {
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
	c.alive.Wait()
	c.setState(StateDisconnected)
	return nil
}

func (c *Client) RequestSensorData() error {
	return c.send(NewCommand(CommandGetSensorData, nil))
}

func (c *Client) SetSamplingRate(ms int64) error {
	return c.send(NewCommand(CommandSetSamplingRate, &CommandParams{RateMs: &ms}))
}

func (c *Client) send(e *Envelope) error {
	var conn *Conn
	helpers.WithLock(&c.Mutex, func() { conn = c.conn })
	if conn == nil {
		return ErrNotConnected
	}
	return conn.Send(e)
}

func (c *Client) readLoop(conn *Conn) {
	defer c.alive.Done()
	var fatal error
loop:
	for c.alive.IsRunning() {
		e, err := conn.Receive()
		switch {
		case err == nil:
			c.handle(e)
		case errors.Cause(err) == ErrFrameMalformed:
			c.log.Debugf("client drop malformed frame e=%v", err)
		default:
			fatal = err
			break loop
		}
	}
	_ = conn.Close()
	helpers.WithLock(&c.Mutex, func() {
		if c.conn == conn {
			c.conn = nil
		}
	})
	c.setState(StateDisconnected)
	if !c.alive.IsRunning() {
		return
	}
	if fatal != nil && !closedError(fatal) {
		c.log.Errorf("stream %s: %v", c.opt.Address, fatal)
	} else {
		c.log.Infof("server closed connection %s", c.opt.Address)
	}
	if c.opt.AutoReconnect && c.alive.Add(1) {
		go c.reconnectLoop()
	}
}

func (c *Client) reconnectLoop() {
	defer c.alive.Done()
	for c.alive.IsRunning() {
		if delay := c.backoff.DelayBefore(); delay > 0 {
			select {
			case <-c.alive.StopChan():
				return
			case <-time.After(delay):
			}
		}
		err := c.Connect()
		c.backoff.Update(err == nil)
		if err == nil {
			return
		}
		c.log.Infof("reconnect %s: %v", c.opt.Address, err)
	}
}

func (c *Client) handle(e *Envelope) {
	switch e.Type {
	case MessageSensorData:
		if e.Data == nil {
			c.log.Debugf("client drop sensor_data without data e=%s", e)
			return
		}
		if c.opt.OnSensorData != nil {
			c.opt.OnSensorData(e.Timestamp, e.Data)
		}
	case MessageResponse:
		if c.opt.OnResponse != nil {
			c.opt.OnResponse(e)
		}
	default:
		c.log.Debugf("client ignore e=%s", e)
	}
}

func (c *Client) setState(new State) {
	old := State(atomic.SwapInt32(&c.state, int32(new)))
	if old != new && c.opt.OnState != nil {
		c.opt.OnState(new)
	}
}
