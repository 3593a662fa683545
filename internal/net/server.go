package sensornet

import (
	"net"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/sensord/helpers"
	"github.com/temoto/sensord/internal/sensor"
	"github.com/temoto/sensord/log2"
)

const DefaultListenAddress = "0.0.0.0:8080"

type ServerOptions struct {
	Log            *log2.Log
	Source         *sensor.Source
	ListenAddress  string // default=DefaultListenAddress
	NetworkTimeout time.Duration
	ReadLimit      uint32
	IntervalMs     int64

	OnSample  func(timestamp int64, data *sensor.Data)
	OnSession func(remote net.Addr, connected bool)
}

// Server accepts one client at a time. The next client waits in the
// TCP backlog until the current session ends.
type Server struct {
	alive *alive.Alive
	log   *log2.Log
	opt   ServerOptions
	stat  ServerStat

	lk   sync.Mutex
	ll   net.Listener
	sess *Session
}

func NewServer(opt ServerOptions) *Server {
	if opt.ListenAddress == "" {
		opt.ListenAddress = DefaultListenAddress
	}
	return &Server{
		alive: alive.NewAlive(),
		log:   opt.Log,
		opt:   opt,
	}
}

func (s *Server) Listen() error {
	ll, err := net.Listen("tcp", s.opt.ListenAddress)
	if err != nil {
		return errors.Annotatef(err, "listen %s", s.opt.ListenAddress)
	}
	helpers.WithLock(&s.lk, func() { s.ll = ll })
	s.log.Infof("listen addr=%s", ll.Addr())
	return nil
}

// Addr is the bound listener address, nil before Listen.
func (s *Server) Addr() net.Addr {
	s.lk.Lock()
	defer s.lk.Unlock()
	if s.ll == nil {
		return nil
	}
	return s.ll.Addr()
}

// Run blocks in the accept loop until Stop.
func (s *Server) Run() error {
	if s.Addr() == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	if !s.alive.Add(1) {
		return ErrClosing
	}
	defer s.alive.Done()

	backoff := helpers.Backoff{Min: 100 * time.Millisecond, Max: 10 * time.Second, K: 2}
	for s.alive.IsRunning() {
		netConn, err := s.ll.Accept()
		if err != nil {
			if !s.alive.IsRunning() {
				break
			}
			s.log.Errorf("accept: %v", err)
			if delay := backoff.DelayAfter(false); delay > 0 {
				select {
				case <-s.alive.StopChan():
				case <-time.After(delay):
				}
			}
			continue
		}
		backoff.Reset()
		s.serve(netConn)
	}
	s.log.Infof("accept loop done %s", s.stat.String())
	return nil
}

// Stat is live, counters keep moving while sessions run.
func (s *Server) Stat() *ServerStat { return &s.stat }

func (s *Server) serve(netConn net.Conn) {
	// one alive subtask per connection; Add fails when Stop already
	// started, the connection just accepted must not outlive it
	if !s.alive.Add(1) {
		_ = netConn.Close()
		return
	}
	defer s.alive.Done()

	remote := netConn.RemoteAddr()
	s.stat.Sessions.Add(1)
	s.log.Infof("client connected remote=%s", addrString(remote))
	if s.opt.OnSession != nil {
		s.opt.OnSession(remote, true)
	}

	conn := NewConn(netConn, ConnOptions{
		Log:            s.log,
		NetworkTimeout: s.opt.NetworkTimeout,
		ReadLimit:      s.opt.ReadLimit,
	})
	sess := NewSession(conn, SessionOptions{
		Log:        s.log,
		Source:     s.opt.Source,
		IntervalMs: s.opt.IntervalMs,
		Stat:       &s.stat,
		OnSample:   s.opt.OnSample,
	})
	helpers.WithLock(&s.lk, func() { s.sess = sess })
	// Stop() between Add above and registration here saw sess=nil and
	// stopped nobody; it did stop alive first, so re-check catches it
	if !s.alive.IsRunning() {
		sess.Stop()
	}
	err := sess.Run()
	helpers.WithLock(&s.lk, func() { s.sess = nil })

	if err != nil {
		s.log.Errorf("client gone remote=%s e=%v", addrString(remote), err)
	} else {
		s.log.Infof("client disconnected remote=%s", addrString(remote))
	}
	if s.opt.OnSession != nil {
		s.opt.OnSession(remote, false)
	}
}

// Stop closes the listener and the active session, then waits for Run
// to return. Safe to call more than once.
func (s *Server) Stop() {
	s.alive.Stop()
	helpers.WithLock(&s.lk, func() {
		if s.ll != nil {
			_ = s.ll.Close()
		}
		if s.sess != nil {
			s.sess.Stop()
		}
	})
	s.alive.Wait()
}
