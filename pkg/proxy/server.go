package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/cors"

	"github.com/mcpinfra/mcp-schema-proxy/pkg/session"
)

// Server fronts an upstream MCP server with a long-lived event stream per
// client and a message endpoint for inbound JSON-RPC calls. Each stream
// connection opens its own upstream session; the stream's lifetime bounds
// the session's lifetime.
type Server struct {
	opts     Options
	registry *session.Registry
	router   *Router
	dial     session.Dialer
	handler  http.Handler

	httpServerMu sync.Mutex
	httpServer   *http.Server
}

// NewServer builds a Server that opens upstream sessions with dial.
func NewServer(dial session.Dialer, opts Options) *Server {
	opts = opts.withDefaults()
	registry := session.NewRegistry()
	s := &Server{
		opts:     opts,
		registry: registry,
		router:   NewRouter(registry, opts.CallTimeout, opts.Logger),
		dial:     dial,
	}
	s.handler = s.mountHandler()
	return s
}

// Handler exposes the HTTP handler serving the stream, message, and health
// endpoints.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Registry exposes the live session registry, mainly for introspection.
func (s *Server) Registry() *session.Registry {
	return s.registry
}

func (s *Server) mountHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.opts.SSEPath, s.handleSSE)
	mux.HandleFunc(s.opts.MessagePath, s.router.HandleMessage)
	mux.HandleFunc(s.opts.HealthPath, s.handleHealth)

	c := cors.New(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "Last-Event-ID"},
		ExposedHeaders: []string{"X-Session-ID"},
	})
	return c.Handler(mux)
}

// handleSSE serves the event stream. The upstream handshake runs before
// any stream byte is written so a failed handshake can still surface as a
// plain HTTP error.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	dialCtx, cancel := context.WithTimeout(r.Context(), s.opts.HandshakeTimeout)
	sess, err := s.registry.Create(dialCtx, s.dial)
	cancel()
	if err != nil {
		s.opts.Logger.Error().Err(err).Msg("upstream handshake failed")
		http.Error(w, "upstream handshake failed", http.StatusBadGateway)
		return
	}
	defer s.registry.Remove(sess.ID())

	logger := s.opts.Logger.With().Str("session", sess.ID()).Logger()
	logger.Info().Str("remote", r.RemoteAddr).Msg("stream opened")
	defer logger.Info().Msg("stream closed")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Session-ID", sess.ID())
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "event: endpoint\ndata: %s?sessionId=%s\n\n", s.opts.MessagePath, sess.ID())
	flusher.Flush()

	init, err := s.syntheticInitialize()
	if err != nil {
		logger.Error().Err(err).Msg("failed to encode initialize result")
		return
	}
	fmt.Fprintf(w, "event: message\ndata: %s\n\n", init)
	flusher.Flush()

	ticker := time.NewTicker(s.opts.KeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-sess.Outbound():
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", msg)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

// syntheticInitialize builds the initialize result the proxy emits on
// behalf of the upstream, so clients that expect an immediate handshake
// response can proceed without sending one.
func (s *Server) syntheticInitialize() ([]byte, error) {
	return json.Marshal(rpcResponse{
		JSONRPC: "2.0",
		ID:      json.RawMessage("0"),
		Result: map[string]any{
			"protocolVersion": s.opts.ProtocolVersion,
			"capabilities":    map[string]any{},
			"serverInfo": map[string]any{
				"name":    s.opts.ServerName,
				"version": s.opts.ServerVersion,
			},
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":         "ok",
		"activeSessions": s.registry.Len(),
	})
}

// ListenAndServe runs an HTTP server until the provided context is
// cancelled or the server stops.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.httpServerMu.Lock()
	if s.httpServer != nil {
		serv := s.httpServer
		s.httpServerMu.Unlock()
		return fmt.Errorf("proxy: server already running on %s", serv.Addr)
	}
	srv := &http.Server{Addr: s.opts.Addr, Handler: s.Handler()}
	s.httpServer = srv
	s.httpServerMu.Unlock()
	defer func() {
		s.httpServerMu.Lock()
		if s.httpServer == srv {
			s.httpServer = nil
		}
		s.httpServerMu.Unlock()
	}()

	s.opts.Logger.Info().Str("addr", s.opts.Addr).Msg("listening")

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown stops the embedded HTTP server if it is running.
func (s *Server) Shutdown(ctx context.Context) error {
	s.httpServerMu.Lock()
	srv := s.httpServer
	s.httpServer = nil
	s.httpServerMu.Unlock()
	if srv == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return srv.Shutdown(ctx)
}
