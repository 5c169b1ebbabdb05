// Package message holds the HTTP request and response types served by
// ez-httpd along with the single-read request parser and the response
// serializer.
package message

import (
	"fmt"
	"net/http"
)

// Version is the protocol version named on a request's start line.
type Version int

const (
	HTTP09 Version = iota
	HTTP10
	HTTP11
	HTTP2
	HTTP3
)

var versionTokens = map[string]Version{
	"HTTP/0.9": HTTP09,
	"HTTP/1.0": HTTP10,
	"HTTP/1.1": HTTP11,
	"HTTP/2":   HTTP2,
	"HTTP/3":   HTTP3,
}

func (v Version) String() string {
	switch v {
	case HTTP09:
		return "HTTP/0.9"
	case HTTP10:
		return "HTTP/1.0"
	case HTTP11:
		return "HTTP/1.1"
	case HTTP2:
		return "HTTP/2"
	case HTTP3:
		return "HTTP/3"
	}
	return fmt.Sprintf("Version(%d)", int(v))
}

// ParseVersion maps one of the five supported version tokens to a Version.
func ParseVersion(s string) (Version, bool) {
	v, ok := versionTokens[s]
	return v, ok
}

// Request is a parsed HTTP request. Handlers receive it by pointer and
// must not modify it.
type Request struct {
	Method string
	// Target is the request target exactly as it appeared on the start line.
	Target string
	// Path is the path component of Target, still percent-encoded.
	Path     string
	RawQuery string
	HasQuery bool
	Version  Version
	Header   Header
	Body     string
}

// NewRequest builds a request for method and target outside of the
// parser, e.g. for internal redirects. The target is split into path
// and query; the version is HTTP/1.1.
func NewRequest(method, target, body string) (*Request, error) {
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
		Version:  HTTP11,
		Body:     body,
	}, nil
}

// Response is an HTTP response under construction by a single handler.
type Response struct {
	Status int
	Header Header
	Body   string
}

// NewResponse returns an empty response with the given status.
func NewResponse(status int) *Response {
	return &Response{Status: status}
}

// NewErrorResponse returns the empty-bodied response used for every
// protocol, resource and subsystem failure.
func NewErrorResponse(status int) *Response {
	return NewResponse(status)
}

// StatusText returns the standard reason phrase for code, or "" if the
// code is unknown.
func StatusText(code int) string {
	return http.StatusText(code)
}

// ValidStatus reports whether code is a three digit status code.
func ValidStatus(code int) bool {
	return code >= 100 && code <= 999
}
