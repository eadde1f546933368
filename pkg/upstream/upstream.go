// Package upstream owns the proxy's connection to the upstream MCP server.
// Each proxy client gets its own Session, dialed eagerly so a failed
// handshake is visible before the client session is registered. The Link
// interface is what the rest of the proxy depends on, keeping the go-sdk
// client substitutable in tests.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Link is the capability the proxy needs from an upstream MCP endpoint.
type Link interface {
	ListTools(ctx context.Context) ([]json.RawMessage, error)
	CallTool(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error)
	Close() error
}

// Error wraps a failure from the upstream connection, preserving the
// upstream's message for delivery to the client.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("upstream %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Config describes how to reach and authenticate against the upstream.
type Config struct {
	Endpoint string
	Token    string
	// HTTPClient overrides the client used by both transports; defaults to
	// http.DefaultClient. The bearer token is attached regardless.
	HTTPClient *http.Client

	ClientName    string
	ClientVersion string
}

// Session is one live upstream connection. It implements Link.
type Session struct {
	client  *mcp.Client
	session *mcp.ClientSession
}

// Dial connects to the upstream endpoint and completes the MCP handshake
// before returning. It tries the streamable HTTP transport first and falls
// back to SSE, mirroring how well-behaved MCP clients probe an endpoint.
func Dial(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.Endpoint == "" {
		return nil, &Error{Op: "dial", Err: errors.New("endpoint is required")}
	}
	impl := &mcp.Implementation{
		Name:    cfg.ClientName,
		Version: cfg.ClientVersion,
	}
	if impl.Name == "" {
		impl.Name = "mcp-schema-proxy"
	}
	if impl.Version == "" {
		impl.Version = "1.0.0"
	}
	httpClient := decorateHTTPClient(cfg.HTTPClient, cfg.Token)

	attempt := func(transport mcp.Transport) (*Session, error) {
		client := mcp.NewClient(impl, nil)
		session, err := client.Connect(ctx, transport, nil)
		if err != nil {
			return nil, err
		}
		return &Session{client: client, session: session}, nil
	}

	s, streamErr := attempt(&mcp.StreamableClientTransport{Endpoint: cfg.Endpoint, HTTPClient: httpClient})
	if streamErr == nil {
		return s, nil
	}
	s, sseErr := attempt(&mcp.SSEClientTransport{Endpoint: cfg.Endpoint, HTTPClient: httpClient})
	if sseErr != nil {
		return nil, &Error{Op: "handshake", Err: fmt.Errorf("streamable error: %v; sse error: %w", streamErr, sseErr)}
	}
	return s, nil
}

// ListTools fetches the upstream's full tool list and returns each tool as
// raw JSON so the normalizer sees wire-shaped values.
func (s *Session) ListTools(ctx context.Context) ([]json.RawMessage, error) {
	res, err := s.session.ListTools(ctx, nil)
	if err != nil {
		return nil, &Error{Op: "tools/list", Err: err}
	}
	tools := make([]json.RawMessage, 0, len(res.Tools))
	for _, tool := range res.Tools {
		enc, err := json.Marshal(tool)
		if err != nil {
			return nil, &Error{Op: "tools/list", Err: err}
		}
		tools = append(tools, enc)
	}
	return tools, nil
}

// CallTool invokes the named tool, forwarding arguments byte-verbatim, and
// returns the raw result value.
func (s *Session) CallTool(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	params := &mcp.CallToolParams{Name: name}
	if len(args) > 0 {
		params.Arguments = args
	}
	res, err := s.session.CallTool(ctx, params)
	if err != nil {
		return nil, &Error{Op: "tools/call", Err: err}
	}
	enc, err := json.Marshal(res)
	if err != nil {
		return nil, &Error{Op: "tools/call", Err: err}
	}
	return enc, nil
}

// Close releases the upstream connection.
func (s *Session) Close() error {
	return s.session.Close()
}

func decorateHTTPClient(base *http.Client, token string) *http.Client {
	if base == nil {
		base = http.DefaultClient
	}
	clone := *base
	clone.Transport = &bearerTransport{next: defaultRoundTripper(base.Transport), token: token}
	return &clone
}

// bearerTransport attaches the static bearer credential to every outbound
// request that does not already carry an Authorization header.
type bearerTransport struct {
	next  http.RoundTripper
	token string
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.token == "" || req.Header.Get("Authorization") != "" {
		return t.next.RoundTrip(req)
	}
	clone := req.Clone(req.Context())
	value := t.token
	if !strings.HasPrefix(value, "Bearer ") {
		value = "Bearer " + value
	}
	clone.Header.Set("Authorization", value)
	return t.next.RoundTrip(clone)
}

func defaultRoundTripper(next http.RoundTripper) http.RoundTripper {
	if next != nil {
		return next
	}
	return http.DefaultTransport
}
