package proxy

import (
	"time"

	"github.com/rs/zerolog"
)

// Options configure a proxy Server.
type Options struct {
	// Addr controls the listen address used by ListenAndServe. Defaults to
	// "127.0.0.1:8132".
	Addr string
	// SSEPath mounts the client-facing event stream. Defaults to "/sse".
	SSEPath string
	// MessagePath mounts the inbound JSON-RPC endpoint. Defaults to
	// "/message".
	MessagePath string
	// HealthPath mounts the liveness endpoint. Defaults to "/healthz".
	HealthPath string
	// ServerName and ServerVersion identify the proxy in the synthetic
	// initialization message clients receive on connect.
	ServerName    string
	ServerVersion string
	// ProtocolVersion is advertised to clients. Defaults to "2024-11-05".
	ProtocolVersion string
	// CallTimeout bounds each mediated upstream call.
	CallTimeout time.Duration
	// HandshakeTimeout bounds the upstream handshake performed when a client
	// connects.
	HandshakeTimeout time.Duration
	// ShutdownTimeout bounds graceful shutdown in ListenAndServe.
	ShutdownTimeout time.Duration
	// KeepAliveInterval paces SSE comment heartbeats.
	KeepAliveInterval time.Duration
	// AllowedOrigins feeds the CORS layer. Defaults to all origins.
	AllowedOrigins []string
	// Logger receives structured diagnostics.
	Logger zerolog.Logger
}

func (o Options) withDefaults() Options {
	opts := o
	if opts.Addr == "" {
		opts.Addr = "127.0.0.1:8132"
	}
	if opts.SSEPath == "" {
		opts.SSEPath = "/sse"
	}
	if opts.MessagePath == "" {
		opts.MessagePath = "/message"
	}
	if opts.HealthPath == "" {
		opts.HealthPath = "/healthz"
	}
	if opts.ServerName == "" {
		opts.ServerName = "mcp-schema-proxy"
	}
	if opts.ServerVersion == "" {
		opts.ServerVersion = "1.0.0"
	}
	if opts.ProtocolVersion == "" {
		opts.ProtocolVersion = "2024-11-05"
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 30 * time.Second
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 15 * time.Second
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	if opts.KeepAliveInterval <= 0 {
		opts.KeepAliveInterval = 15 * time.Second
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	return opts
}
