// Package sfu wires the registry, control acceptor, and media forwarder into
// one coordinated server lifecycle (spec.md §5).
package sfu

import (
	"context"
	"net"
	"sync"

	"sfu/internal/broadcast"
	"sfu/internal/control"
	"sfu/internal/media"
	"sfu/internal/registry"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Server owns the two listening sockets and the shared registry for the
// lifetime of the process. There is exactly one Server per running instance.
type Server struct {
	controlAddr string
	mediaAddr   string
	log         *zap.Logger

	reg *registry.Registry
	bc  *broadcast.Broadcaster
	fwd *media.Forwarder

	sessionsMu sync.Mutex
	sessions   map[*control.Session]struct{}
}

// New builds a Server. The media socket is bound immediately so callers can
// observe a bind failure before Run starts accepting control connections.
func New(controlAddr, mediaAddr string, log *zap.Logger) (*Server, error) {
	reg := registry.New()

	s := &Server{
		controlAddr: controlAddr,
		mediaAddr:   mediaAddr,
		log:         log,
		reg:         reg,
		sessions:    make(map[*control.Session]struct{}),
	}

	lookup := func(h registry.ControlHandle) broadcast.Writer {
		sess, ok := h.(*control.Session)
		if !ok {
			return nil
		}
		return sess
	}
	s.bc = broadcast.New(reg, lookup, log)

	fwd, err := media.NewForwarder(mediaAddr, reg, log)
	if err != nil {
		return nil, err
	}
	s.fwd = fwd

	return s, nil
}

// Registry exposes the shared participant directory, for metrics reporting.
func (s *Server) Registry() *registry.Registry { return s.reg }

// Forwarder exposes the media forwarder, for metrics reporting.
func (s *Server) Forwarder() *media.Forwarder { return s.fwd }

// Run accepts control connections and drains the media socket until ctx is
// canceled, then shuts down in the order spec.md §5 requires: stop accepting
// new control connections first, then force-close any in-flight sessions
// (an idle session only notices ctx cancellation between reads, never while
// blocked in one), then stop the media forwarder the same way (its
// ReadFromUDP call is equally blind to ctx while parked waiting for a
// datagram).
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.controlAddr)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.acceptLoop(gctx, ln)
	})

	g.Go(func() error {
		return s.fwd.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		if err := ln.Close(); err != nil {
			s.log.Debug("listener close error", zap.Error(err))
		}
		s.closeAllSessions()
		if err := s.fwd.Close(); err != nil {
			s.log.Debug("forwarder close error", zap.Error(err))
		}
		return nil
	})

	s.log.Info("sfu listening", zap.String("control", s.controlAddr), zap.String("media", s.mediaAddr))
	return g.Wait()
}

// acceptLoop is the control-plane listener: one control.Session per accepted
// connection, each served on its own goroutine (spec.md §4.2, §5). Every
// spawned session is tracked so shutdown can force-close it.
func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		sess := control.New(conn, s.reg, s.bc, s.log)
		s.trackSession(sess)
		go func() {
			defer s.untrackSession(sess)
			sess.Serve(ctx)
		}()
	}
}

func (s *Server) trackSession(sess *control.Session) {
	s.sessionsMu.Lock()
	s.sessions[sess] = struct{}{}
	s.sessionsMu.Unlock()
}

func (s *Server) untrackSession(sess *control.Session) {
	s.sessionsMu.Lock()
	delete(s.sessions, sess)
	s.sessionsMu.Unlock()
}

// closeAllSessions force-closes every tracked session's connection so its
// Serve goroutine unblocks from conn.Read and exits.
func (s *Server) closeAllSessions() {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	for sess := range s.sessions {
		if err := sess.Close(); err != nil {
			s.log.Debug("session close error", zap.Error(err))
		}
	}
}
