package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/raphaelreyna/ez-httpd/pkg/cgi"
	"github.com/raphaelreyna/ez-httpd/pkg/dispatch"
	"github.com/raphaelreyna/ez-httpd/pkg/static"
)

// startServer serves a small static and CGI tree on a loopback listener,
// optionally wrapped by wrap.
func startServer(t *testing.T, wrap func(net.Listener) net.Listener) (addr string, stop func()) {
	t.Helper()
	base := t.TempDir()
	staticRoot := filepath.Join(base, "public_html")
	cgiRoot := filepath.Join(base, "cgi-bin")
	for _, d := range []string{staticRoot, cgiRoot} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	files := []struct {
		path, data string
		mode       os.FileMode
	}{
		{filepath.Join(staticRoot, "index.html"), "<html><body>home</body></html>", 0o644},
		{filepath.Join(base, "secret.txt"), "secret", 0o644},
		{filepath.Join(cgiRoot, "hello.sh"), "#!/bin/sh\nprintf 'Content-Type: text/plain\\n\\nHello, %s!' \"$QUERY_STRING\"\n", 0o755},
		{filepath.Join(cgiRoot, "home.sh"), "#!/bin/sh\nprintf 'Location: /\\n\\n'\n", 0o755},
	}
	for _, f := range files {
		if err := os.WriteFile(f.path, []byte(f.data), f.mode); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	sh := &static.Handler{Root: staticRoot}
	chain := dispatch.NewChain(nil,
		&cgi.Handler{Root: cgiRoot, MountPath: "cgi-bin", Static: sh, Stderr: io.Discard},
		sh,
	)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	if wrap != nil {
		ln = wrap(ln)
	}
	srv := &Server{Pipeline: &Pipeline{Chain: chain}, Workers: 4}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ctx, ln) }()

	return ln.Addr().String(), func() {
		cancel()
		select {
		case err := <-errc:
			if err != nil {
				t.Errorf("serve: %v", err)
			}
		case <-time.After(10 * time.Second):
			t.Error("server did not shut down")
		}
	}
}

func send(addr, raw string) (string, error) {
	c, err := net.Dial("tcp", addr)
	if err != nil {
		return "", err
	}
	defer c.Close()
	if _, err := c.Write([]byte(raw)); err != nil {
		return "", err
	}
	out, err := io.ReadAll(c)
	return string(out), err
}

func roundTrip(t *testing.T, addr, raw string) string {
	t.Helper()
	out, err := send(addr, raw)
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	return out
}

func TestServer(t *testing.T) {
	addr, stop := startServer(t, nil)
	defer stop()

	const index = "<html><body>home</body></html>"

	type test struct {
		Name           string
		Raw            string
		ExpectedStatus string
		ExpectedHeader []string
		ExpectedBody   string
	}

	tt := []test{
		{
			Name:           "Static index",
			Raw:            "GET / HTTP/1.1\r\nHost: localhost\r\n\r\n",
			ExpectedStatus: "HTTP/1.1 200 OK",
			ExpectedHeader: []string{"Content-Length: 30", "Content-Type: text/html"},
			ExpectedBody:   index,
		},
		{
			Name:           "Static HEAD",
			Raw:            "HEAD / HTTP/1.1\r\n\r\n",
			ExpectedStatus: "HTTP/1.1 200 OK",
			ExpectedHeader: []string{"Content-Length: 30"},
		},
		{
			Name:           "Traversal",
			Raw:            "GET /../secret.txt HTTP/1.1\r\n\r\n",
			ExpectedStatus: "HTTP/1.1 404 Not Found",
		},
		{
			Name:           "CGI document",
			Raw:            "GET /cgi-bin/hello.sh?world HTTP/1.1\r\nHost: localhost:8080\r\n\r\n",
			ExpectedStatus: "HTTP/1.1 200 OK",
			ExpectedHeader: []string{"Content-Type: text/plain"},
			ExpectedBody:   "Hello, world!",
		},
		{
			Name:           "CGI local redirect",
			Raw:            "GET /cgi-bin/home.sh HTTP/1.1\r\n\r\n",
			ExpectedStatus: "HTTP/1.1 200 OK",
			ExpectedHeader: []string{"Content-Length: 30"},
			ExpectedBody:   index,
		},
		{
			Name:           "CGI missing script",
			Raw:            "GET /cgi-bin/nope.sh HTTP/1.1\r\n\r\n",
			ExpectedStatus: "HTTP/1.1 404 Not Found",
		},
		{
			Name:           "Static method not allowed",
			Raw:            "DELETE /index.html HTTP/1.1\r\n\r\n",
			ExpectedStatus: "HTTP/1.1 405 Method Not Allowed",
		},
		{
			Name:           "Bad request",
			Raw:            "NOT-HTTP\r\n\r\n",
			ExpectedStatus: "HTTP/1.1 400 Bad Request",
		},
	}

	for _, tc := range tt {
		t.Run(tc.Name, func(t *testing.T) {
			out := roundTrip(t, addr, tc.Raw)
			head, body, ok := strings.Cut(out, "\r\n\r\n")
			if !ok {
				t.Fatalf("malformed response %q", out)
			}
			lines := strings.Split(head, "\r\n")
			if lines[0] != tc.ExpectedStatus {
				t.Fatalf("wrong status line - expected: %q\treceived: %q", tc.ExpectedStatus, lines[0])
			}
			for _, expected := range tc.ExpectedHeader {
				found := false
				for _, l := range lines[1:] {
					found = found || strings.HasPrefix(l, expected)
				}
				if !found {
					t.Fatalf("missing header %q in %q", expected, head)
				}
			}
			if body != tc.ExpectedBody {
				t.Fatalf("wrong body - expected: %q\treceived: %q", tc.ExpectedBody, body)
			}
		})
	}
}

func TestServerConcurrentConnections(t *testing.T) {
	addr, stop := startServer(t, nil)
	defer stop()

	const clients = 16
	var wg sync.WaitGroup
	errs := make(chan error, clients)
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			raw := fmt.Sprintf("GET /cgi-bin/hello.sh?%d HTTP/1.1\r\n\r\n", i)
			expected := fmt.Sprintf("Hello, %d!", i)
			out, err := send(addr, raw)
			if err != nil {
				errs <- fmt.Errorf("client %d: %v", i, err)
				return
			}
			if !strings.HasSuffix(out, expected) {
				errs <- fmt.Errorf("client %d: wrong response %q", i, out)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

// flakyListener fails the first Accept calls with errs before accepting
// for real.
type flakyListener struct {
	net.Listener

	mu   sync.Mutex
	errs []error
}

func (l *flakyListener) Accept() (net.Conn, error) {
	l.mu.Lock()
	if len(l.errs) > 0 {
		err := l.errs[0]
		l.errs = l.errs[1:]
		l.mu.Unlock()
		return nil, err
	}
	l.mu.Unlock()
	return l.Listener.Accept()
}

func acceptError(errno syscall.Errno) error {
	return &net.OpError{Op: "accept", Net: "tcp", Err: os.NewSyscallError("accept", errno)}
}

func TestServerRetriesTransientAcceptErrors(t *testing.T) {
	addr, stop := startServer(t, func(ln net.Listener) net.Listener {
		return &flakyListener{
			Listener: ln,
			errs: []error{
				acceptError(syscall.EMFILE),
				acceptError(syscall.ENFILE),
				acceptError(syscall.ECONNABORTED),
			},
		}
	})
	defer stop()

	out := roundTrip(t, addr, "GET /cgi-bin/hello.sh?again HTTP/1.1\r\n\r\n")
	if !strings.HasSuffix(out, "Hello, again!") {
		t.Fatalf("wrong response after transient errors: %q", out)
	}
}

func TestServerStopsOnAcceptFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	boom := errors.New("boom")
	srv := &Server{
		Pipeline: &Pipeline{Chain: dispatch.NewChain(nil)},
		Workers:  1,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve(context.Background(), &flakyListener{Listener: ln, errs: []error{boom}})
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, boom) {
			t.Fatalf("wrong error - expected: %v\treceived: %v", boom, err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("server kept accepting after a permanent error")
	}
}
