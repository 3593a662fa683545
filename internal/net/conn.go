package sensornet

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/atomic_clock"
	"github.com/temoto/sensord/helpers"
	"github.com/temoto/sensord/log2"
)

const DefaultNetworkTimeout = 30 * time.Second

// Deliberate local close, not a failure.
var ErrClosing = fmt.Errorf("closing")

type ConnOptions struct {
	Log            *log2.Log
	NetworkTimeout time.Duration // write deadline, default=DefaultNetworkTimeout
	ReadLimit      uint32        // max frame payload, default=DefaultReadLimit
}

// Conn wraps one TCP stream with the frame codec. First error wins:
// after die() every Send/Receive returns quickly. Reads carry no
// deadline, a quiet peer is legal for any length of time.
type Conn struct {
	sync.Mutex
	err  helpers.AtomicError
	last atomic_clock.Clock
	dec  Decoder
	net  net.Conn
	opt  ConnOptions
	stat SessionStat
	w    io.Writer
}

func NewConn(netConn net.Conn, opt ConnOptions) *Conn {
	if opt.NetworkTimeout == 0 {
		opt.NetworkTimeout = DefaultNetworkTimeout
	}
	if opt.ReadLimit == 0 {
		opt.ReadLimit = DefaultReadLimit
	}
	c := &Conn{
		net: netConn,
		opt: opt,
	}
	if tcp, ok := c.net.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		_ = tcp.SetKeepAlive(false)
		_ = tcp.SetReadBuffer(16 << 10)
		_ = tcp.SetWriteBuffer(16 << 10)
	}
	const tcpOverhead = 40
	statread := helpers.NewStatReader(c.net, &c.stat.Recv.Size, tcpOverhead)
	c.w = helpers.NewStatWriter(c.net, &c.stat.Send.Size, tcpOverhead)
	c.dec.Attach(bufio.NewReader(statread), opt.ReadLimit)
	c.last.SetNow()
	return c
}

func (c *Conn) Close() error {
	return c.die(ErrClosing)
}

func (c *Conn) Closed() bool {
	_, ok := c.err.Load()
	return ok
}

// Receive blocks until a whole frame is parsed or the stream fails.
// ErrFrameMalformed cause is recoverable, caller may Receive again.
// Any other error kills the connection.
func (c *Conn) Receive() (*Envelope, error) {
	if err, found := c.err.Load(); found {
		return nil, err
	}
	e, err := c.dec.Read()
	if err != nil {
		if errors.Cause(err) == ErrFrameMalformed {
			c.stat.Recv.Malformed.Add(1)
			return nil, err
		}
		err = errors.Annotate(err, "receive")
		_ = c.die(err)
		return nil, err
	}
	c.last.SetNow()
	c.stat.Recv.Frames.Add(1)
	return e, nil
}

func (c *Conn) Send(e *Envelope) error {
	b, err := FrameMarshal(e)
	if err != nil {
		return errors.Annotate(err, "send")
	}
	c.opt.Log.Debugf("send e=%s b=(%d)%x", e, len(b), b)
	c.Lock()
	defer c.Unlock()
	if err = c.net.SetWriteDeadline(time.Now().Add(c.opt.NetworkTimeout)); err != nil {
		err = errors.Annotate(err, "SetWriteDeadline")
		_ = c.die(err)
		return err
	}
	if err = helpers.WriteAll(c.w, b); err != nil {
		err = errors.Annotate(err, "send")
		_ = c.die(err)
		return err
	}
	c.stat.Send.Frames.Add(1)
	return nil
}

func (c *Conn) RemoteAddr() net.Addr         { return c.net.RemoteAddr() }
func (c *Conn) SinceLastRecv() time.Duration { return atomic_clock.Since(&c.last) }
func (c *Conn) Stat() *SessionStat           { return &c.stat }

func (c *Conn) String() string {
	return fmt.Sprintf("(remote=%s %s)", addrString(c.RemoteAddr()), c.stat.String())
}

func (c *Conn) die(e error) error {
	if err, found := c.err.StoreOnce(e); found {
		return err
	}
	_ = c.net.Close()

	// reformat some well known errors for easier log reading
	estr := e.Error()
	if neterr, ok := e.(net.Error); ok && neterr.Timeout() {
		estr = "timeout"
	} else if strings.HasSuffix(estr, "i/o timeout") {
		estr = "timeout"
	} else if strings.HasSuffix(estr, "connection reset by peer") {
		estr = "closed by remote"
	}

	c.opt.Log.Debugf("die +close local=%s remote=%s e=%s", addrString(c.net.LocalAddr()), addrString(c.RemoteAddr()), estr)
	return e
}
