package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/raphaelreyna/ez-httpd/pkg/cgi"
	"github.com/raphaelreyna/ez-httpd/pkg/dispatch"
	"github.com/raphaelreyna/ez-httpd/pkg/server"
	"github.com/raphaelreyna/ez-httpd/pkg/static"
)

type config struct {
	addr    string
	workers int
	backlog int

	staticRoot string
	cgiRoot    string
	cgiPath    string
	cgiTimeout time.Duration
	software   string
	stderr     io.Writer
}

// newServer wires the handler chain: scripts under the CGI mount point
// first, everything else from the static root.
func newServer(c config, logger *zerolog.Logger) (*server.Server, error) {
	for _, dir := range []string{c.staticRoot, c.cgiRoot} {
		fi, err := os.Stat(dir)
		if err != nil {
			return nil, err
		}
		if !fi.IsDir() {
			return nil, fmt.Errorf("%s is not a directory", dir)
		}
	}

	staticHandler := &static.Handler{
		Root:   c.staticRoot,
		Logger: logger,
	}
	cgiHandler := &cgi.Handler{
		Root:      c.cgiRoot,
		MountPath: c.cgiPath,
		Name:      c.software,
		Static:    staticHandler,
		Timeout:   c.cgiTimeout,
		Stderr:    c.stderr,
		Logger:    logger,
	}

	chain := dispatch.NewChain(logger, cgiHandler, staticHandler)

	return &server.Server{
		Addr:     c.addr,
		Workers:  c.workers,
		Backlog:  c.backlog,
		Pipeline: &server.Pipeline{Chain: chain, Logger: logger},
		Logger:   logger,
	}, nil
}
