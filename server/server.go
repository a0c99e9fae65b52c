// Package server hosts the accept loop that turns inbound TCP connections
// into negotiated endpoints, the Go counterpart of the source's server.py
// and the teacher's server.Server.Serve/handleConn, reshaped around
// endpoint.Endpoint instead of a bespoke frame/codec/reflect pipeline.
package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"gpcp/endpoint"
	"gpcp/frame"
	"gpcp/handler"
	"gpcp/middleware"
	"gpcp/registry"
)

// acceptPollInterval is the deadline the accept loop sets on the listener
// between Accept calls, mirroring the dispatcher's cooperative-stop polling.
const acceptPollInterval = 200 * time.Millisecond

// HandlerFactory builds a fresh handler.Instance for a newly accepted
// connection. A factory, rather than a shared instance, lets per-connection
// state (closures capturing the conn, request-scoped counters, and so on)
// be wired into the registry without any locking.
type HandlerFactory func() *handler.Instance

// Config holds everything Serve needs to listen, negotiate, and optionally
// advertise itself through a registry.
type Config struct {
	Network string
	Address string

	// AdvertiseAddr is the address published to Registry; it can differ
	// from Address when Address is a wildcard bind like ":8080".
	AdvertiseAddr string
	Namespace     string
	Registry      registry.Registry

	Role        endpoint.Role
	Middlewares []middleware.Middleware

	// ReuseAddr sets SO_REUSEADDR on the listening socket so a restarted
	// server can rebind immediately instead of waiting out TIME_WAIT.
	ReuseAddr bool

	// Backlog is recorded for callers that need it for documentation or
	// future use; the standard library's net.ListenConfig does not expose
	// a way to size the kernel accept backlog (see DESIGN.md).
	Backlog int

	// OnConnected fires once per accepted connection, right after role
	// negotiation succeeds and before any requests are served.
	OnConnected func(ep *endpoint.Endpoint)

	// OnDisconnected fires once per still-open endpoint during an explicit
	// Stop sweep. A non-empty return value is sent as a final PUSH frame
	// before the endpoint is closed. It is NOT called for endpoints that
	// close on their own (peer hangup, protocol error).
	OnDisconnected func(ep *endpoint.Endpoint) []byte
}

// Server accepts connections on a listener and negotiates each one into an
// endpoint.Endpoint, tracking the live set for graceful shutdown.
type Server struct {
	cfg     Config
	factory HandlerFactory

	mu       sync.Mutex
	listener net.Listener
	conns    map[*endpoint.Endpoint]struct{}

	shutdown atomic.Bool
}

// New creates a Server. factory is called once per accepted connection to
// build that connection's command registry.
func New(cfg Config, factory HandlerFactory) *Server {
	return &Server{
		cfg:     cfg,
		factory: factory,
		conns:   make(map[*endpoint.Endpoint]struct{}),
	}
}

// ServeListener binds the configured address (if not already bound) and
// returns the listener without starting the accept loop, so a caller can
// learn the bound port (useful with an Address of "host:0") before handing
// off to Serve.
func (s *Server) ServeListener() (net.Listener, error) {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln != nil {
		return ln, nil
	}

	ln, err := s.listen()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	return ln, nil
}

func (s *Server) listen() (net.Listener, error) {
	lc := net.ListenConfig{}
	if s.cfg.ReuseAddr {
		lc.Control = func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			if err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			}); err != nil {
				return err
			}
			return sockErr
		}
	}
	return lc.Listen(context.Background(), s.cfg.Network, s.cfg.Address)
}

// Serve listens on Config.Network/Address, optionally registers with
// Config.Registry, and blocks accepting connections until Stop is called.
// If a listener was already established via ServeListener, Serve reuses it.
func (s *Server) Serve() error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()

	if ln == nil {
		var err error
		ln, err = s.listen()
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.listener = ln
		s.mu.Unlock()
	}

	if s.cfg.Registry != nil && s.cfg.Namespace != "" {
		if err := s.cfg.Registry.Register(s.cfg.Namespace, registry.Instance{Addr: s.cfg.AdvertiseAddr, Role: s.cfg.Role}, 10); err != nil {
			ln.Close()
			return err
		}
	}

	type deadliner interface {
		SetDeadline(time.Time) error
	}

	for {
		if dl, ok := ln.(deadliner); ok {
			dl.SetDeadline(time.Now().Add(acceptPollInterval))
		}

		conn, err := ln.Accept()
		if err != nil {
			if s.shutdown.Load() {
				return nil
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return err
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	h := s.factory()
	ep, err := endpoint.New(conn, s.cfg.Role, h, s.cfg.Middlewares...)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.conns[ep] = struct{}{}
	s.mu.Unlock()

	if s.cfg.OnConnected != nil {
		s.cfg.OnConnected(ep)
	}

	<-ep.Done()

	s.mu.Lock()
	delete(s.conns, ep)
	s.mu.Unlock()
}

// Stop deregisters from the registry, closes every live endpoint (running
// OnDisconnected first), then closes the listener, and finally waits up to
// timeout for those endpoints' main loops to exit.
func (s *Server) Stop(timeout time.Duration) error {
	if s.cfg.Registry != nil && s.cfg.Namespace != "" {
		s.cfg.Registry.Deregister(s.cfg.Namespace, s.cfg.AdvertiseAddr)
	}

	s.shutdown.Store(true)

	s.mu.Lock()
	ln := s.listener
	conns := make([]*endpoint.Endpoint, 0, len(s.conns))
	for ep := range s.conns {
		conns = append(conns, ep)
	}
	s.mu.Unlock()

	for _, ep := range conns {
		if s.cfg.OnDisconnected != nil {
			if final := s.cfg.OnDisconnected(ep); len(final) > 0 {
				frame.SendFrame(ep.Conn(), final, frame.Push)
			}
		}
		ep.Close(endpoint.CloseReadWrite)
	}

	if ln != nil {
		ln.Close()
	}

	done := make(chan struct{})
	go func() {
		for _, ep := range conns {
			<-ep.Done()
		}
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("server: timeout waiting for %d connection(s) to close", len(conns))
	}
}
