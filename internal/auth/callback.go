// Package auth runs the local listener that receives OAuth redirects while
// an operator connects an account.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

const (
	// CallbackPath is the redirect path registered with every platform app.
	CallbackPath = "/oauth-callback"
	// CallbackTimeout is how long to wait for the operator to consent.
	CallbackTimeout = 5 * time.Minute
)

// ErrCallbackTimeout is returned when no redirect arrives in time.
var ErrCallbackTimeout = errors.New("oauth callback timeout")

type callbackResult struct {
	code string
	err  error
}

// CallbackServer receives a single authorization code.
type CallbackServer struct {
	Port  int
	State string

	srv       *http.Server
	results   chan callbackResult
	once      sync.Once
	closeOnce sync.Once
}

// StartCallbackServer listens on preferredPort, falling back to a random
// port when it is taken. The returned server accepts exactly one callback
// carrying its State.
func StartCallbackServer(preferredPort int) (*CallbackServer, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", preferredPort))
	if err != nil {
		listener, err = net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return nil, fmt.Errorf("failed to start callback server: %w", err)
		}
		log.Printf("[OAuth] Port %d in use, using random port", preferredPort)
	}

	s := &CallbackServer{
		Port:    listener.Addr().(*net.TCPAddr).Port,
		State:   uuid.NewString(),
		results: make(chan callbackResult, 1),
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Get(CallbackPath, s.handle)
	s.srv = &http.Server{Handler: r, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := s.srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[OAuth] Callback server error: %v", err)
		}
	}()
	log.Printf("[OAuth] Callback server listening on port %d", s.Port)
	return s, nil
}

// RedirectURL is the URL to pass to the platform's consent page.
func (s *CallbackServer) RedirectURL() string {
	return fmt.Sprintf("http://localhost:%d%s", s.Port, CallbackPath)
}

func (s *CallbackServer) handle(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var res callbackResult
	switch {
	case q.Get("state") != s.State:
		res.err = errors.New("invalid state token")
	case q.Get("error") != "":
		res.err = fmt.Errorf("consent denied: %s %s", q.Get("error"), q.Get("error_description"))
	case q.Get("code") == "":
		res.err = errors.New("callback carried no code")
	default:
		// Instagram appends a fragment marker to the code.
		res.code = strings.TrimSuffix(q.Get("code"), "#_")
	}

	delivered := false
	s.once.Do(func() {
		s.results <- res
		delivered = true
	})
	if !delivered {
		http.Error(w, "Callback already processed", http.StatusBadRequest)
		return
	}
	if res.err != nil {
		http.Error(w, res.err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!DOCTYPE html>
<html lang="en">
<head><meta charset="UTF-8"><title>Account connected</title></head>
<body style="font-family: sans-serif; text-align: center; margin-top: 50px;">
	<p>✅ Authorization received on port %d.</p>
	<p>You can close this tab and return to the terminal.</p>
</body>
</html>`, s.Port)
}

// Wait blocks until the callback arrives, ctx ends, or CallbackTimeout
// passes.
func (s *CallbackServer) Wait(ctx context.Context) (string, error) {
	timer := time.NewTimer(CallbackTimeout)
	defer timer.Stop()
	select {
	case res := <-s.results:
		return res.code, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-timer.C:
		return "", ErrCallbackTimeout
	}
}

// Close shuts the listener down.
func (s *CallbackServer) Close() {
	s.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(ctx); err != nil {
			log.Printf("[OAuth] Error shutting down callback server: %v", err)
		}
		log.Printf("[OAuth] Callback server stopped")
	})
}
