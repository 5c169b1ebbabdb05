package cgi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/raphaelreyna/ez-httpd/pkg/dispatch"
	"github.com/raphaelreyna/ez-httpd/pkg/message"
)

// ErrMalformedOutput is returned when a script's output has no header
// section terminated by a blank line, or a header line with no colon.
var ErrMalformedOutput = errors.New("cgi: malformed script output")

// ResponseHeader is one of the script response headers the gateway
// understands.
type ResponseHeader int

const (
	HeaderContentType ResponseHeader = iota
	HeaderLocation
	HeaderStatus
)

var responseHeaderNames = map[ResponseHeader]string{
	HeaderContentType: "Content-Type",
	HeaderLocation:    "Location",
	HeaderStatus:      "Status",
}

func (h ResponseHeader) String() string {
	if name, ok := responseHeaderNames[h]; ok {
		return name
	}
	return "ResponseHeader(" + strconv.Itoa(int(h)) + ")"
}

// ParseResponseHeader matches s against the known header names without
// regard to case.
func ParseResponseHeader(s string) (ResponseHeader, bool) {
	for h, name := range responseHeaderNames {
		if strings.EqualFold(name, s) {
			return h, true
		}
	}
	return 0, false
}

// Kind is the type of a script response.
type Kind int

const (
	Document Kind = iota
	ClientRedirect
	LocalRedirect
)

func (k Kind) String() string {
	switch k {
	case Document:
		return "document"
	case ClientRedirect:
		return "client-redirect"
	case LocalRedirect:
		return "local-redirect"
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// ScriptResponse is the parsed standard output of a script.
type ScriptResponse struct {
	Headers map[ResponseHeader]string
	Body    string
	// Dropped lists header names that were not recognized.
	Dropped []string
}

// ParseScriptResponse splits script output into its header section and
// body. Body lines are joined without their line breaks.
func ParseScriptResponse(output string) (*ScriptResponse, error) {
	sr := &ScriptResponse{Headers: make(map[ResponseHeader]string)}

	ls := message.Lines(output)
	i := 0
	for ; ; i++ {
		if i == len(ls) {
			return nil, fmt.Errorf("%w: no blank line after headers", ErrMalformedOutput)
		}
		if ls[i] == "" {
			i++
			break
		}
		name, value, ok := strings.Cut(ls[i], ":")
		if !ok {
			return nil, fmt.Errorf("%w: bogus header line %q", ErrMalformedOutput, ls[i])
		}
		name = strings.TrimSpace(name)
		h, known := ParseResponseHeader(name)
		if !known {
			sr.Dropped = append(sr.Dropped, name)
			continue
		}
		sr.Headers[h] = strings.TrimSpace(value)
	}

	sr.Body = strings.Join(ls[i:], "")
	return sr, nil
}

// Kind classifies the response by its Location header.
func (sr *ScriptResponse) Kind() Kind {
	loc, ok := sr.Headers[HeaderLocation]
	switch {
	case !ok:
		return Document
	case strings.HasPrefix(loc, "/"):
		return LocalRedirect
	default:
		return ClientRedirect
	}
}

// ToHTTP converts the script response into the response sent to the
// client. A local redirect is served by handing a synthesized GET
// request straight to local, without going back through the chain.
func (sr *ScriptResponse) ToHTTP(conn dispatch.Conn, local dispatch.Handler) *message.Response {
	switch sr.Kind() {
	case LocalRedirect:
		return localRedirect(conn, local, sr.Headers[HeaderLocation])
	case ClientRedirect:
		resp := message.NewResponse(http.StatusFound)
		resp.Header.Set("Location", sr.Headers[HeaderLocation])
		return resp
	}
	return sr.document()
}

func localRedirect(conn dispatch.Conn, local dispatch.Handler, location string) *message.Response {
	if local == nil {
		return message.NewErrorResponse(http.StatusInternalServerError)
	}
	req, err := message.NewRequest(http.MethodGet, location, "")
	if err != nil {
		return message.NewErrorResponse(http.StatusInternalServerError)
	}
	if resp := local.Handle(conn, req); resp != nil {
		return resp
	}
	return message.NewErrorResponse(http.StatusInternalServerError)
}

func (sr *ScriptResponse) document() *message.Response {
	status := http.StatusOK
	if v, ok := sr.Headers[HeaderStatus]; ok {
		code, err := parseStatus(v)
		if err != nil {
			return message.NewErrorResponse(http.StatusInternalServerError)
		}
		status = code
	}

	ct, ok := sr.Headers[HeaderContentType]
	if !ok {
		return message.NewErrorResponse(http.StatusInternalServerError)
	}

	resp := message.NewResponse(status)
	resp.Header.Set("Content-Type", ct)
	resp.Body = sr.Body
	return resp
}

// parseStatus reads the three digit code at the start of a Status
// header value such as "404" or "404 Not Found".
func parseStatus(v string) (int, error) {
	fields := strings.Fields(v)
	if len(fields) == 0 || len(fields[0]) != 3 {
		return 0, fmt.Errorf("cgi: bogus status %q", v)
	}
	code, err := strconv.Atoi(fields[0])
	if err != nil || !message.ValidStatus(code) {
		return 0, fmt.Errorf("cgi: bogus status %q", v)
	}
	return code, nil
}

// OutputHandler turns the raw standard output of a finished script into
// the response for the client.
type OutputHandler func(conn dispatch.Conn, h *Handler, output string) *message.Response

// DefaultOutputHandler parses output as a CGI/1.1 response and converts
// it into a document, a client redirect or a local redirect.
var DefaultOutputHandler OutputHandler = func(conn dispatch.Conn, h *Handler, output string) *message.Response {
	sr, err := ParseScriptResponse(output)
	if err != nil {
		h.logger().Error().Str("conn", conn.ID).Err(err).Msg("cgi: parse output")
		return message.NewErrorResponse(http.StatusInternalServerError)
	}
	for _, name := range sr.Dropped {
		h.logger().Debug().Str("conn", conn.ID).Str("header", name).Msg("cgi: dropping unrecognized header")
	}
	h.logger().Debug().Str("conn", conn.ID).Stringer("kind", sr.Kind()).Msg("cgi: script response")
	return sr.ToHTTP(conn, h.Static)
}
