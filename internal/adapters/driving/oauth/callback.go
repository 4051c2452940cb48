// Package oauth receives the Google consent redirect on a loopback port
// and opens the consent page in the user's browser.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/custodia-labs/nestsync/internal/core/ports/driven"
)

var _ driven.OAuthCallback = (*CallbackServer)(nil)

// Loopback ports registered as redirect URIs on the OAuth client.
const (
	DefaultPortStart = 18080
	DefaultPortEnd   = 18099
)

const callbackPath = "/callback"

var errCallbackTimeout = errors.New("timeout waiting for authorization callback")

type result struct {
	code string
	err  error
}

// CallbackServer accepts a single authorization redirect carrying the
// expected state. Only the first result is delivered to WaitForCode.
type CallbackServer struct {
	state   string
	results chan result

	mu       sync.Mutex
	port     int
	listener net.Listener
	server   *http.Server
}

// NewCallbackServer prepares a server for port; 0 picks any free port.
func NewCallbackServer(port int, state string) *CallbackServer {
	return &CallbackServer{
		state:   state,
		port:    port,
		results: make(chan result, 1),
	}
}

// StartCallback binds the first free port in the registered range.
func StartCallback(state string) (driven.OAuthCallback, error) {
	return listenInRange(DefaultPortStart, DefaultPortEnd, state)
}

func listenInRange(first, last int, state string) (*CallbackServer, error) {
	for port := first; port <= last; port++ {
		server := NewCallbackServer(port, state)
		if err := server.Start(); err == nil {
			return server, nil
		}
	}
	return nil, fmt.Errorf("no free callback port in %d-%d", first, last)
}

// Start listens on 127.0.0.1 and serves the callback path.
func (s *CallbackServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	addr := net.JoinHostPort("127.0.0.1", fmt.Sprint(s.port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	s.port = listener.Addr().(*net.TCPAddr).Port

	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, s.handle)
	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.deliver(result{err: err})
		}
	}()
	return nil
}

func (s *CallbackServer) handle(w http.ResponseWriter, r *http.Request) {
	res := s.parse(r)
	s.deliver(res)

	w.Header().Set("Content-Type", "text/html")
	page := pageData{Title: "Authorization successful", Message: "You can close this window and return to nestsync."}
	if res.err != nil {
		page = pageData{Title: "Authorization failed", Message: res.err.Error()}
	}
	_ = resultPage.Execute(w, page)
}

func (s *CallbackServer) parse(r *http.Request) result {
	query := r.URL.Query()
	if reason := query.Get("error"); reason != "" {
		return result{err: fmt.Errorf("oauth error: %s %s", reason, query.Get("error_description"))}
	}
	if query.Get("state") != s.state {
		return result{err: errors.New("state mismatch in authorization callback")}
	}
	code := query.Get("code")
	if code == "" {
		return result{err: errors.New("no authorization code received")}
	}
	return result{code: code}
}

func (s *CallbackServer) deliver(res result) {
	select {
	case s.results <- res:
	default:
	}
}

// WaitForCode returns the authorization code or the callback's error.
func (s *CallbackServer) WaitForCode(timeout time.Duration) (string, error) {
	select {
	case res := <-s.results:
		return res.code, res.err
	case <-time.After(timeout):
		return "", errCallbackTimeout
	}
}

// Stop shuts the server down. It is safe to call more than once.
func (s *CallbackServer) Stop() error {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.mu.Unlock()

	if server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

// Port is the bound port once started.
func (s *CallbackServer) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// RedirectURI is the URI to register with the consent request.
func (s *CallbackServer) RedirectURI() string {
	return fmt.Sprintf("http://localhost:%d%s", s.Port(), callbackPath)
}

type pageData struct {
	Title   string
	Message string
}

var resultPage = template.Must(template.New("result").Parse(`<!DOCTYPE html>
<html>
<head>
<title>nestsync - {{.Title}}</title>
<style>
body { font-family: -apple-system, 'Segoe UI', sans-serif; background: #F6F4EF; display: grid; place-items: center; height: 100vh; margin: 0; }
main { background: #fff; border: 1px solid #D9D4C7; border-radius: 16px; padding: 48px 64px; text-align: center; }
.brand { color: #B5651D; font-size: 14px; letter-spacing: .2em; text-transform: uppercase; }
h1 { color: #2F3B2F; font-size: 24px; }
p { color: #6F7468; }
</style>
</head>
<body>
<main>
<div class="brand">nestsync</div>
<h1>{{.Title}}</h1>
<p>{{.Message}}</p>
</main>
</body>
</html>`))

// OpenBrowser asks the desktop to open url.
func OpenBrowser(url string) error {
	var name string
	var args []string
	switch runtime.GOOS {
	case "darwin":
		name, args = "open", []string{url}
	case "linux", "freebsd", "openbsd":
		name, args = "xdg-open", []string{url}
	case "windows":
		name, args = "rundll32", []string{"url.dll,FileProtocolHandler", url}
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
	return exec.Command(name, args...).Start()
}
