package server

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"tradepost/internal/domain"
	"tradepost/internal/logging"
	"tradepost/internal/metrics"
	"tradepost/internal/protocol"
	"tradepost/internal/service/market"
)

// Session serves one connection. It is either unauthenticated (user is nil)
// or bound to exactly one account; only LOG_IN and LOG_OUT change that.
type Session struct {
	id      string
	conn    net.Conn
	market  *market.Market
	limiter *rate.Limiter
	idle    time.Duration
	write   time.Duration
	log     logrus.FieldLogger

	user *domain.User
}

func newSession(id string, conn net.Conn, m *market.Market, cfg Config) *Session {
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &Session{
		id:      id,
		conn:    conn,
		market:  m,
		limiter: rate.NewLimiter(limit, burst),
		idle:    cfg.IdleTimeout,
		write:   cfg.WriteTimeout,
		log: logger.WithFields(logrus.Fields{
			"session": id,
			"remote":  conn.RemoteAddr().String(),
		}),
	}
}

// Serve processes requests one at a time until the peer goes away, sends
// undecodable input or ctx is cancelled. A user still bound at that point
// is logged out.
func (s *Session) Serve(ctx context.Context) {
	defer s.teardown()
	for {
		if s.idle > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.idle))
		}
		req, err := protocol.ReadRequest(s.conn)
		if err != nil {
			s.logReadError(err)
			return
		}
		if err := s.limiter.Wait(ctx); err != nil {
			s.log.WithError(err).Debug("session cancelled")
			return
		}

		start := time.Now()
		resp := s.Dispatch(ctx, req)
		outcome := "ok"
		if !resp.Success {
			outcome = string(resp.Code)
		}
		metrics.RecordRequest(req.Type.String(), outcome, time.Since(start))
		s.log.WithFields(logging.ResponseFields(resp)).Debug("request handled")

		if s.write > 0 {
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.write))
		}
		if err := protocol.WriteResponse(s.conn, resp); err != nil {
			s.log.WithError(err).Info("write response failed")
			return
		}
	}
}

// Dispatch routes one request. Login and logout rebind the session; every
// other request goes to the market with the current user.
func (s *Session) Dispatch(ctx context.Context, req protocol.Request) protocol.Response {
	switch req.Type {
	case protocol.LogIn:
		name, err := req.Name()
		if err != nil {
			return protocol.Fail(req.Type, protocol.FailureUnsupportedRequest, err.Error())
		}
		if s.user != nil {
			s.market.LogOut(ctx, s.user)
			s.user = nil
		}
		user, resp := s.market.LogIn(ctx, name)
		if resp.Success {
			s.user = user
			s.log = s.log.WithField("user", name)
		}
		return resp
	case protocol.LogOut:
		resp := s.market.LogOut(ctx, s.user)
		if resp.Success {
			s.user = nil
		}
		return resp
	default:
		return s.market.Handle(ctx, s.user, req)
	}
}

// User returns the bound account name, empty when unauthenticated.
func (s *Session) User() string {
	if s.user == nil {
		return ""
	}
	return s.user.Name
}

func (s *Session) teardown() {
	if s.user != nil {
		s.log.Info("connection closed while logged in, logging out")
		s.market.LogOut(context.Background(), s.user)
		s.user = nil
	}
	_ = s.conn.Close()
}

func (s *Session) logReadError(err error) {
	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF):
		s.log.Debug("peer closed connection")
	case protocol.IsProtocolError(err):
		s.log.WithError(err).Warn("protocol error, closing connection")
	case errors.As(err, &netErr) && netErr.Timeout():
		s.log.Info("idle timeout, closing connection")
	default:
		s.log.WithError(err).Debug("connection lost")
	}
}
