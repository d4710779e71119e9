// Package server accepts protocol connections and runs one Session per
// connection against a shared market.
package server

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"tradepost/internal/metrics"
	"tradepost/internal/service/market"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

var ErrServerClosed = errors.New("server closed")

type Config struct {
	Addr         string
	IdleTimeout  time.Duration
	WriteTimeout time.Duration
	RatePerSec   float64
	Burst        int
}

type Server struct {
	cfg    Config
	market *market.Market

	mu       sync.Mutex
	listener net.Listener
	conns    map[string]net.Conn
	closed   bool
	wg       sync.WaitGroup
}

func New(cfg Config, m *market.Market) *Server {
	return &Server{
		cfg:    cfg,
		market: m,
		conns:  make(map[string]net.Conn),
	}
}

// Listen binds the configured address. Serve must be called afterwards.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrServerClosed
	}
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", s.cfg.Addr)
	}
	s.listener = listener
	return nil
}

// Addr returns the bound address, nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until Shutdown is called, then returns
// ErrServerClosed.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener == nil {
		return errors.New("server is not listening")
	}
	logger.WithField("addr", listener.Addr().String()).Info("protocol server listening")

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return ErrServerClosed
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				time.Sleep(50 * time.Millisecond)
				continue
			}
			return errors.Wrap(err, "accept")
		}

		id := uuid.NewString()
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return ErrServerClosed
		}
		s.conns[id] = conn
		s.wg.Add(1)
		s.mu.Unlock()
		metrics.ConnectionOpened()

		go func() {
			defer func() {
				s.mu.Lock()
				delete(s.conns, id)
				s.mu.Unlock()
				metrics.ConnectionClosed()
				s.wg.Done()
			}()
			newSession(id, conn, s.market, s.cfg).Serve(ctx)
		}()
	}
}

// Shutdown stops accepting, closes every live connection, waits for their
// sessions to log out and commits the store one last time.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.listener != nil {
		_ = s.listener.Close()
	}
	for _, conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logger.Warn("shutdown timed out waiting for sessions")
	}
	return s.market.Commit(ctx, market.TriggerShutdown)
}
