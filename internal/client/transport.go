// Package client implements the interactive trade client: the wire
// transport, a caching proxy in front of it and the session state machine
// that drives the console.
package client

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"tradepost/internal/protocol"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

// ErrConnectionLost covers every transport failure: refused dials, timeouts,
// closed sockets and undecodable replies.
var ErrConnectionLost = errors.New("connection lost")

// Transport sends one request at a time and waits for its response.
type Transport interface {
	Connect(ctx context.Context) error
	Do(ctx context.Context, req protocol.Request) (protocol.Response, error)
	Close() error
}

// Conn is a Transport over a TCP connection. Every dial and round trip is
// bounded by the configured timeout.
type Conn struct {
	addr    string
	timeout time.Duration
	conn    net.Conn
}

var _ Transport = (*Conn)(nil)

func NewConn(addr string, timeout time.Duration) *Conn {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Conn{addr: addr, timeout: timeout}
}

// Connect drops any existing connection and dials a new one.
func (c *Conn) Connect(ctx context.Context) error {
	_ = c.Close()
	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return lost(err)
	}
	c.conn = conn
	return nil
}

func (c *Conn) Do(_ context.Context, req protocol.Request) (protocol.Response, error) {
	if c.conn == nil {
		return protocol.Response{}, ErrConnectionLost
	}
	if err := c.conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return protocol.Response{}, c.fail(err)
	}
	if err := protocol.WriteRequest(c.conn, req); err != nil {
		if protocol.IsProtocolError(err) {
			// encoding failed before anything was written
			return protocol.Response{}, err
		}
		return protocol.Response{}, c.fail(err)
	}
	resp, err := protocol.ReadResponse(c.conn)
	if err != nil {
		return protocol.Response{}, c.fail(err)
	}
	if resp.Type != req.Type {
		return protocol.Response{}, c.fail(errors.Errorf("response type %s does not match request %s", resp.Type, req.Type))
	}
	return resp, nil
}

func (c *Conn) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Conn) fail(err error) error {
	_ = c.Close()
	return lost(err)
}

func lost(err error) error {
	return errors.Wrap(ErrConnectionLost, err.Error())
}
