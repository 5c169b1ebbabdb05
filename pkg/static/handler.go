// Package static serves files from a directory tree.
package static

import (
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"github.com/raphaelreyna/ez-httpd/pkg/dispatch"
	"github.com/raphaelreyna/ez-httpd/pkg/message"
)

// IndexFile is served for the request path "/".
const IndexFile = "index.html"

// Handler serves GET and HEAD requests for files under Root. It never
// declines: unsupported methods get 405 and unknown paths 404.
type Handler struct {
	Root   string
	Logger *zerolog.Logger
}

var _ dispatch.Handler = (*Handler)(nil)

func (h *Handler) logger() *zerolog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	nop := zerolog.Nop()
	return &nop
}

// Handle implements dispatch.Handler.
func (h *Handler) Handle(conn dispatch.Conn, req *message.Request) *message.Response {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return message.NewErrorResponse(http.StatusMethodNotAllowed)
	}

	rel := IndexFile
	if req.Path != "/" {
		rel = strings.TrimPrefix(req.Path, "/")
	}

	path, err := Resolve(h.Root, rel)
	if err != nil {
		h.logger().Debug().Str("conn", conn.ID).Err(err).Msg("static: not found")
		return message.NewErrorResponse(http.StatusNotFound)
	}

	contents, err := readText(path)
	if err != nil {
		h.logger().Error().Str("conn", conn.ID).Err(err).Msg("static: read failed")
		return message.NewErrorResponse(http.StatusInternalServerError)
	}

	resp := message.NewResponse(http.StatusOK)
	resp.Header.Set("Content-Length", strconv.Itoa(len(contents)))
	resp.Header.Set("Content-Type", contentType(path, contents))
	if req.Method != http.MethodHead {
		resp.Body = contents
	}
	return resp
}

// readText reads the file at path, which must hold UTF-8 text.
func readText(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", fmt.Errorf("static: %s is not UTF-8 text", path)
	}
	return string(b), nil
}

// contentType prefers the type registered for the file's extension, since
// text formats like CSS and JavaScript cannot be told apart by content,
// and sniffs the content otherwise.
func contentType(path, contents string) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return mimetype.Detect([]byte(contents)).String()
}
