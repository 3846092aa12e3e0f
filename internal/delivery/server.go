package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/zombor/receipt-agent/internal/telegram"
)

const (
	// DefaultProcessTimeout bounds the background handling of one update
	DefaultProcessTimeout = 2 * time.Minute

	maxUpdateSize = 1 << 20 // 1MB
)

// Server receives Telegram webhook updates
type Server struct {
	chat           *ChatDelivery
	mux            *http.ServeMux
	processTimeout time.Duration

	mu         sync.Mutex
	httpServer *http.Server
	closed     bool

	// baseCtx outlives individual requests so updates keep processing
	// after the webhook has been acknowledged.
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// ServerOption configures a Server
type ServerOption func(*Server)

// WithProcessTimeout bounds the background handling of one update
func WithProcessTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.processTimeout = d
		}
	}
}

// NewServer creates a new Server with default mux
func NewServer(chat *ChatDelivery, opts ...ServerOption) *Server {
	return NewServerWithMux(chat, http.NewServeMux(), opts...)
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(chat *ChatDelivery, mux *http.ServeMux, opts ...ServerOption) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		chat:           chat,
		mux:            mux,
		processTimeout: DefaultProcessTimeout,
		baseCtx:        ctx,
		cancel:         cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()
	return s
}

// requireSecret middleware
func (s *Server) requireSecret(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.chat.Authenticate(r.Header.Get(SecretHeader)) {
			slog.Warn("Rejected webhook request", "remote_addr", r.RemoteAddr)
			writeJSON(w, http.StatusUnauthorized, map[string]interface{}{
				"ok":          false,
				"description": "Unauthorized",
			})
			return
		}
		next(w, r)
	}
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /webhook", s.requireSecret(s.handleWebhook))
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
}

// handleWebhook acknowledges the update at once and processes it in the
// background. Telegram redelivers updates that are not acknowledged quickly.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUpdateSize))
	if err != nil {
		slog.Error("Error reading update", "error", err)
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	var update telegram.Update
	if err := json.Unmarshal(body, &update); err != nil {
		// Acknowledge anyway; a malformed update will not get better on retry
		slog.Error("Error decoding update", "error", err, "body_size", len(body))
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	s.dispatch(update)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) dispatch(update telegram.Update) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.baseCtx, s.processTimeout)
		defer cancel()
		if err := s.chat.Process(ctx, update); err != nil {
			slog.Error("Failed to process update", "update_id", update.UpdateID, "error", err)
		}
	}()
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// Start starts the HTTP server and blocks until Shutdown is called
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpServer := s.httpServer
	s.mu.Unlock()

	slog.Info("Starting server", "address", addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight updates. When ctx
// expires first, in-flight updates are cancelled.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	httpServer := s.httpServer
	s.mu.Unlock()

	var err error
	if httpServer != nil {
		err = httpServer.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.cancel()
		<-done
		if err == nil {
			err = ctx.Err()
		}
	}
	s.cancel()
	return err
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
