package server

import (
	"fmt"
	"net"

	"github.com/rs/zerolog"

	"github.com/raphaelreyna/ez-httpd/pkg/dispatch"
	"github.com/raphaelreyna/ez-httpd/pkg/message"
)

// Pipeline serves exactly one request per connection.
type Pipeline struct {
	Chain  *dispatch.Chain
	Logger *zerolog.Logger
}

func (p *Pipeline) logger() *zerolog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	nop := zerolog.Nop()
	return &nop
}

// ServeConn reads a request from c, dispatches it, writes the response
// and closes c. A non-nil error means the response could not be
// serialized or written and is left to the caller to report; the
// connection is dropped either way.
func (p *Pipeline) ServeConn(c net.Conn, conn dispatch.Conn) error {
	defer c.Close()

	log := p.logger().With().Str("conn", conn.ID).Logger()
	if conn.RemoteAddr != nil {
		log = log.With().Stringer("remote", conn.RemoteAddr).Logger()
	}
	log.Info().Msg("new request received")

	var resp *message.Response
	req, err := message.ReadRequest(c)
	if err != nil {
		log.Debug().Err(err).Msg("request rejected")
		resp = message.NewErrorResponse(message.StatusOf(err))
	} else {
		log.Debug().
			Str("method", req.Method).
			Str("target", req.Target).
			Stringer("version", req.Version).
			Msg("request parsed")
		resp = p.Chain.Dispatch(conn, req)
	}

	if err := message.WriteResponse(c, resp); err != nil {
		return fmt.Errorf("server: write response: %w", err)
	}

	log.Info().Int("status", resp.Status).Msg("finished writing response")
	return nil
}
