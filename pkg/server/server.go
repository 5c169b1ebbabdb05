// Package server accepts connections and runs each one through the
// request pipeline on a bounded worker pool.
package server

import (
	"context"
	"errors"
	"net"
	"runtime"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/raphaelreyna/ez-httpd/pkg/dispatch"
)

// Server owns the listener side of ez-httpd.
type Server struct {
	Addr     string
	Pipeline *Pipeline
	// Workers is the number of connections served at once. Defaults to
	// the number of CPUs.
	Workers int
	// Backlog is the number of accepted connections allowed to wait for
	// a worker. Defaults to Workers.
	Backlog int
	Logger  *zerolog.Logger
}

func (s *Server) logger() *zerolog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	nop := zerolog.Nop()
	return &nop
}

// ListenAndServe listens on s.Addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done or accepting fails
// for good, then waits for in-flight connections to finish. Connections
// are handed to workers in the order they were accepted. Serve closes ln.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	workers := s.Workers
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	backlog := s.Backlog
	if backlog < 1 {
		backlog = workers
	}
	pool := NewPool(workers, backlog, s.logger())

	s.logger().Info().
		Stringer("addr", ln.Addr()).
		Int("workers", workers).
		Int("backlog", backlog).
		Msg("serving")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		ln.Close()
		return nil
	})
	g.Go(func() error {
		var tempDelay time.Duration
		for {
			c, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				if !retryable(err) {
					return err
				}
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if maxDelay := time.Second; tempDelay > maxDelay {
					tempDelay = maxDelay
				}
				s.logger().Warn().Err(err).Dur("retry_in", tempDelay).Msg("accept")
				select {
				case <-time.After(tempDelay):
				case <-ctx.Done():
					return nil
				}
				continue
			}
			tempDelay = 0

			conn := dispatch.NewConn(c.RemoteAddr())
			err = pool.Submit(ctx, func() {
				if err := s.Pipeline.ServeConn(c, conn); err != nil {
					s.logger().Error().Err(err).Str("conn", conn.ID).Msg("connection dropped")
				}
			})
			if err != nil {
				c.Close()
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	})

	err := g.Wait()
	if cerr := pool.Close(); err == nil {
		err = cerr
	}
	s.logger().Info().Msg("shut down")
	return err
}

// retryable reports whether an accept error is expected to clear up on
// its own, such as running out of file descriptors.
func retryable(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, syscall.EMFILE) ||
		errors.Is(err, syscall.ENFILE) ||
		errors.Is(err, syscall.ECONNABORTED)
}
