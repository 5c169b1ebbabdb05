// Package dispatch decides which handler satisfies a request.
package dispatch

import (
	"net"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/raphaelreyna/ez-httpd/pkg/message"
)

// Conn identifies the connection a request arrived on.
type Conn struct {
	ID         string
	RemoteAddr net.Addr
}

// NewConn returns a Conn with a fresh random ID.
func NewConn(remote net.Addr) Conn {
	return Conn{ID: uuid.NewString(), RemoteAddr: remote}
}

// Handler attempts to produce a response for a request. Returning nil
// declines the request and passes it to the next handler in the chain.
// Handlers are shared by every worker and must be safe for concurrent use.
type Handler interface {
	Handle(conn Conn, req *message.Request) *message.Response
}

// HandlerFunc adapts an ordinary function to the Handler interface.
type HandlerFunc func(conn Conn, req *message.Request) *message.Response

// Handle calls f(conn, req).
func (f HandlerFunc) Handle(conn Conn, req *message.Request) *message.Response {
	return f(conn, req)
}

// Chain is an ordered list of handlers. It is not modified after
// NewChain returns.
type Chain struct {
	handlers []Handler
	logger   *zerolog.Logger
}

// NewChain returns a chain trying handlers in the given order.
func NewChain(logger *zerolog.Logger, handlers ...Handler) *Chain {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	hs := make([]Handler, len(handlers))
	copy(hs, handlers)
	return &Chain{handlers: hs, logger: logger}
}

// Len returns the number of handlers in the chain.
func (c *Chain) Len() int { return len(c.handlers) }

// Dispatch returns the response of the first handler that does not
// decline, or an empty 500 if they all do. The body of a response to a
// HEAD request is always emptied; its headers are left alone.
func (c *Chain) Dispatch(conn Conn, req *message.Request) *message.Response {
	var resp *message.Response
	for i, h := range c.handlers {
		if resp = h.Handle(conn, req); resp != nil {
			c.logger.Debug().
				Str("conn", conn.ID).
				Int("handler", i).
				Int("status", resp.Status).
				Msg("request handled")
			break
		}
	}

	if resp == nil {
		c.logger.Error().
			Str("conn", conn.ID).
			Str("method", req.Method).
			Str("target", req.Target).
			Msg("no handler accepted the request")
		resp = message.NewErrorResponse(http.StatusInternalServerError)
	}

	if req.Method == http.MethodHead {
		resp.Body = ""
	}
	return resp
}
