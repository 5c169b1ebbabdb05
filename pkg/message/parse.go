package message

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/http/httpguts"
)

// MaxRequestSize is the largest request accepted. A request must arrive
// whole in a single read of at most this many bytes.
const MaxRequestSize = 8 * 1024

// ReadRequest performs exactly one read from r and parses the result.
// There is no loop: bytes that did not arrive in that read are not part
// of the request.
func ReadRequest(r io.Reader) (*Request, error) {
	buf := make([]byte, MaxRequestSize+1)
	n, err := r.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, &StatusError{Status: http.StatusInternalServerError, Msg: fmt.Sprintf("read: %v", err)}
	}
	return ParseRequest(buf[:n])
}

// ParseRequest parses a complete raw request.
func ParseRequest(data []byte) (*Request, error) {
	data = bytes.TrimRight(data, "\x00")
	if len(data) > MaxRequestSize {
		return nil, &StatusError{
			Status: http.StatusRequestEntityTooLarge,
			Msg:    fmt.Sprintf("request exceeds %d bytes", MaxRequestSize),
		}
	}
	if !utf8.Valid(data) {
		return nil, badRequest("request is not valid UTF-8")
	}

	ls := Lines(string(data))
	if len(ls) == 0 {
		return nil, badRequest("no data received")
	}

	req, err := parseStartLine(ls[0])
	if err != nil {
		return nil, err
	}

	i := 1
	terminated := false
	for ; i < len(ls); i++ {
		line := ls[i]
		if line == "" {
			terminated = true
			i++
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, badRequest("malformed header line %q", line)
		}
		req.Header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	if !terminated {
		return nil, badRequest("request ended inside the header section")
	}

	req.Body = strings.Join(ls[i:], "")
	return req, nil
}

func parseStartLine(line string) (*Request, error) {
	parts := strings.Fields(line)
	if len(parts) != 3 {
		return nil, badRequest("start line has %d fields", len(parts))
	}
	method, target, proto := parts[0], parts[1], parts[2]

	if !httpguts.ValidHeaderFieldName(method) {
		return nil, badRequest("invalid method %q", method)
	}
	version, ok := ParseVersion(proto)
	if !ok {
		return nil, badRequest("unsupported version %q", proto)
	}
	path, query, hasQuery, err := splitTarget(target)
	if err != nil {
		return nil, err
	}
	return &Request{
		Method:   method,
		Target:   target,
		Path:     path,
		RawQuery: query,
		HasQuery: hasQuery,
		Version:  version,
	}, nil
}

func splitTarget(target string) (path, query string, hasQuery bool, err error) {
	if target == "*" {
		return target, "", false, nil
	}
	u, err := url.ParseRequestURI(target)
	if err != nil {
		return "", "", false, badRequest("invalid target %q", target)
	}
	if u.Scheme != "" || u.Host != "" {
		path = u.EscapedPath()
		if path == "" {
			path = "/"
		}
		return path, u.RawQuery, u.ForceQuery || u.RawQuery != "", nil
	}
	path, query, hasQuery = strings.Cut(target, "?")
	return path, query, hasQuery, nil
}

// Lines splits s on "\n", dropping a trailing "\r" from each line. A
// final newline does not produce an empty last line.
func Lines(s string) []string {
	if s == "" {
		return nil
	}
	ls := strings.Split(s, "\n")
	if ls[len(ls)-1] == "" {
		ls = ls[:len(ls)-1]
	}
	for i, l := range ls {
		ls[i] = strings.TrimSuffix(l, "\r")
	}
	return ls
}
