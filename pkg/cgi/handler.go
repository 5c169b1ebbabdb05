// Package cgi runs scripts under a directory as CGI/1.1 programs.
//
// The request is handed to the script through meta-variables in an
// otherwise empty environment and its body on standard input. Whatever
// the script writes to standard output is read back as a document, a
// client redirect or a local redirect.
package cgi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/raphaelreyna/ez-httpd/pkg/dispatch"
	"github.com/raphaelreyna/ez-httpd/pkg/message"
	"github.com/raphaelreyna/ez-httpd/pkg/static"
)

// DefaultServerSoftware is reported in SERVER_SOFTWARE when Handler.Name is empty.
const DefaultServerSoftware = "ez-httpd/0.1.0"

// Handler runs the script addressed by a request path of the form
// /<MountPath>/<script> found under Root. Requests outside MountPath are
// declined.
type Handler struct {
	// Root is the directory scripts are resolved against.
	Root string
	// MountPath is the URL path prefix, e.g. "cgi-bin".
	MountPath string

	Name string // value to use for SERVER_SOFTWARE env var

	// Static serves local redirects.
	Static dispatch.Handler

	// Runner spawns the script. Defaults to ExecRunner.
	Runner Runner
	// Timeout bounds a single script run. Zero means scripts may run
	// forever and hold their worker for as long as they do.
	Timeout time.Duration

	Stderr io.Writer
	Logger *zerolog.Logger

	// OutputHandler converts the script's output. Defaults to DefaultOutputHandler.
	OutputHandler OutputHandler
}

var _ dispatch.Handler = (*Handler)(nil)

func (h *Handler) logger() *zerolog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	nop := zerolog.Nop()
	return &nop
}

// scriptPath returns the part of path naming a script below the mount
// point, or false if path is not under the mount point.
func (h *Handler) scriptPath(path string) (string, bool) {
	mount := strings.Trim(h.MountPath, "/")
	rest, ok := strings.CutPrefix(strings.TrimPrefix(path, "/"), mount)
	if !ok {
		return "", false
	}
	if rest != "" && mount != "" && rest[0] != '/' {
		return "", false
	}
	return strings.TrimPrefix(rest, "/"), true
}

// Handle implements dispatch.Handler.
func (h *Handler) Handle(conn dispatch.Conn, req *message.Request) *message.Response {
	rel, ok := h.scriptPath(req.Path)
	if !ok {
		return nil
	}

	log := h.logger().With().Str("conn", conn.ID).Str("script", rel).Logger()

	script, err := static.Resolve(h.Root, rel)
	if err != nil {
		log.Debug().Err(err).Msg("cgi: no script found")
		return message.NewErrorResponse(http.StatusNotFound)
	}
	if fi, err := os.Stat(script); err != nil || fi.IsDir() {
		log.Debug().Msg("cgi: not a script")
		return message.NewErrorResponse(http.StatusNotFound)
	}

	name := h.Name
	if name == "" {
		name = DefaultServerSoftware
	}
	env := BuildMetavariables(conn, req, name)

	output, err := h.run(script, req.Body, env)
	if err != nil {
		log.Error().Err(err).Msg("cgi: script failed")
		return message.NewErrorResponse(http.StatusInternalServerError)
	}
	log.Debug().Str("output", output).Msg("cgi: script output")

	oh := h.OutputHandler
	if oh == nil {
		oh = DefaultOutputHandler
	}
	return oh(conn, h, output)
}

func (h *Handler) run(script, body string, env Metavariables) (string, error) {
	runner := h.Runner
	if runner == nil {
		runner = ExecRunner{}
	}
	stderr := h.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	ctx := context.Background()
	if h.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Timeout)
		defer cancel()
	}

	out, err := runner.Run(ctx, Command{
		Path:   script,
		Dir:    filepath.Dir(script),
		Env:    env.Environ(),
		Stdin:  body,
		Stderr: stderr,
	})
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		// The script ran to completion; its output still counts.
		h.logger().Warn().Str("script", script).Err(err).Msg("cgi: script exited unsuccessfully")
		err = nil
	}
	if err != nil {
		return "", err
	}
	return strings.ToValidUTF8(string(out), "\uFFFD"), nil
}
