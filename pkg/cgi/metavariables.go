package cgi

import (
	"net"
	"strconv"
	"strings"

	"github.com/raphaelreyna/ez-httpd/pkg/dispatch"
	"github.com/raphaelreyna/ez-httpd/pkg/message"
)

const (
	gatewayInterface   = "CGI/1.1"
	serverProtocol     = "HTTP/1.0"
	defaultContentType = "application/octet-stream"
	defaultPort        = "80"
)

// Metavariable is one of the request meta-variables handed to a script
// through its environment.
type Metavariable int

const (
	AuthType Metavariable = iota
	ContentLength
	ContentType
	GatewayInterface
	PathInfo
	PathTranslated
	QueryString
	RemoteAddr
	RemoteHost
	RemoteIdent
	RemoteUser
	RequestMethod
	ScriptName
	ServerName
	ServerPort
	ServerProtocol
	ServerSoftware

	numMetavariables
)

var metavariableNames = [numMetavariables]string{
	AuthType:         "AUTH_TYPE",
	ContentLength:    "CONTENT_LENGTH",
	ContentType:      "CONTENT_TYPE",
	GatewayInterface: "GATEWAY_INTERFACE",
	PathInfo:         "PATH_INFO",
	PathTranslated:   "PATH_TRANSLATED",
	QueryString:      "QUERY_STRING",
	RemoteAddr:       "REMOTE_ADDR",
	RemoteHost:       "REMOTE_HOST",
	RemoteIdent:      "REMOTE_IDENT",
	RemoteUser:       "REMOTE_USER",
	RequestMethod:    "REQUEST_METHOD",
	ScriptName:       "SCRIPT_NAME",
	ServerName:       "SERVER_NAME",
	ServerPort:       "SERVER_PORT",
	ServerProtocol:   "SERVER_PROTOCOL",
	ServerSoftware:   "SERVER_SOFTWARE",
}

func (m Metavariable) String() string {
	if m < 0 || m >= numMetavariables {
		return "Metavariable(" + strconv.Itoa(int(m)) + ")"
	}
	return metavariableNames[m]
}

// ParseMetavariable returns the Metavariable named s.
func ParseMetavariable(s string) (Metavariable, bool) {
	for m, name := range metavariableNames {
		if name == s {
			return Metavariable(m), true
		}
	}
	return 0, false
}

// Metavariables maps each meta-variable to its value for one request.
type Metavariables map[Metavariable]string

// Environ renders the map as KEY=value entries in a fixed order,
// suitable for exec.Cmd.Env. The result is never nil.
func (mv Metavariables) Environ() []string {
	env := make([]string, 0, len(mv))
	for m := Metavariable(0); m < numMetavariables; m++ {
		if v, ok := mv[m]; ok {
			env = append(env, m.String()+"="+v)
		}
	}
	return env
}

// BuildMetavariables derives the full meta-variable set for req arriving
// on conn. Every meta-variable is present, possibly empty.
func BuildMetavariables(conn dispatch.Conn, req *message.Request, software string) Metavariables {
	mv := make(Metavariables, numMetavariables)

	if scheme, params, ok := strings.Cut(req.Header.Get("Authorization"), " "); ok {
		mv[AuthType] = scheme
		mv[RemoteUser] = params
	} else {
		mv[AuthType] = ""
		mv[RemoteUser] = ""
	}

	mv[ContentLength] = ""
	if n := len(req.Body); n > 0 {
		mv[ContentLength] = strconv.Itoa(n)
	}

	mv[ContentType] = defaultContentType
	if ct := req.Header.Get("Content-Type"); ct != "" {
		mv[ContentType] = ct
	}

	mv[GatewayInterface] = gatewayInterface
	mv[PathInfo] = ""
	mv[PathTranslated] = ""
	mv[QueryString] = req.RawQuery

	remote := remoteIP(conn.RemoteAddr)
	mv[RemoteAddr] = remote
	mv[RemoteHost] = remote
	mv[RemoteIdent] = ""

	mv[RequestMethod] = req.Method
	mv[ScriptName] = req.Path

	mv[ServerName], mv[ServerPort] = splitHost(req.Header.Get("Host"))
	mv[ServerProtocol] = serverProtocol
	mv[ServerSoftware] = software

	return mv
}

func remoteIP(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return ""
	}
	return host
}

// splitHost splits a Host header value on its last colon. A value with
// no port, including a bare bracketed IPv6 literal, gets port 80.
func splitHost(host string) (name, port string) {
	i := strings.LastIndexByte(host, ':')
	if i < 0 || strings.Contains(host[i+1:], "]") {
		return host, defaultPort
	}
	return host[:i], host[i+1:]
}
