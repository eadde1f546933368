package proxy

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/mcpinfra/mcp-schema-proxy/pkg/normalizer"
	"github.com/mcpinfra/mcp-schema-proxy/pkg/session"
)

// JSON-RPC error codes used on the inbound endpoint. Validation failures
// are answered synchronously; upstream failures travel the event stream.
const (
	codeInvalidRequest  = -32600
	codeMethodNotFound  = -32601
	codeInvalidParams   = -32602
	codeInternalError   = -32603
	codeSessionNotFound = -32001
)

const maxMessageBytes = 1 << 20

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type toolsResult struct {
	Tools []json.RawMessage `json:"tools"`
}

// Router dispatches inbound JSON-RPC messages to the session they address.
// Only tools/list and tools/call are mediated; the method name is the sole
// discriminator and payloads are not otherwise inspected before dispatch.
type Router struct {
	registry    *session.Registry
	callTimeout time.Duration
	logger      zerolog.Logger
}

// NewRouter builds a Router over the given registry.
func NewRouter(registry *session.Registry, callTimeout time.Duration, logger zerolog.Logger) *Router {
	return &Router{
		registry:    registry,
		callTimeout: callTimeout,
		logger:      logger.With().Str("component", "router").Logger(),
	}
}

// HandleMessage serves the inbound message endpoint. Malformed envelopes,
// unknown sessions, and unimplemented methods are rejected synchronously;
// accepted methods return 202 immediately and deliver their result or
// error over the session's event stream once the upstream call completes.
func (rt *Router) HandleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBytes))
	if err != nil {
		writeRPCError(w, http.StatusBadRequest, nil, codeInvalidRequest, "failed to read request body")
		return
	}
	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeRPCError(w, http.StatusBadRequest, nil, codeInvalidRequest, "invalid JSON-RPC request: "+err.Error())
		return
	}
	if req.Method == "" {
		writeRPCError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "missing method")
		return
	}

	sessionID := r.URL.Query().Get("sessionId")
	sess, ok := rt.registry.Get(sessionID)
	if !ok {
		writeRPCError(w, http.StatusNotFound, req.ID, codeSessionNotFound, "client not found")
		return
	}

	switch req.Method {
	case "tools/list":
		// Inbound params are ignored; the upstream is always asked for the
		// full list.
		rt.accept(w, sess, req.ID, func(ctx context.Context) (json.RawMessage, error) {
			tools, err := sess.Link().ListTools(ctx)
			if err != nil {
				return nil, err
			}
			resp, err := json.Marshal(rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: toolsResult{Tools: tools}})
			if err != nil {
				return nil, err
			}
			return normalizer.NormalizeToolsListResponse(resp)
		})
	case "tools/call":
		var p struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &p); err != nil {
				writeRPCError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid tools/call params: "+err.Error())
				return
			}
		}
		if p.Name == "" {
			writeRPCError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "missing tool name")
			return
		}
		rt.accept(w, sess, req.ID, func(ctx context.Context) (json.RawMessage, error) {
			result, err := sess.Link().CallTool(ctx, p.Name, p.Arguments)
			if err != nil {
				return nil, err
			}
			return json.Marshal(rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(result)})
		})
	default:
		rt.logger.Debug().Str("method", req.Method).Str("session", sessionID).Msg("rejecting unimplemented method")
		writeRPCError(w, http.StatusOK, req.ID, codeMethodNotFound, "method not implemented: "+req.Method)
	}
}

// accept acknowledges the inbound call, then runs the upstream action on
// the session context so teardown cancels it. The eventual message is
// written to the session's outbound channel in completion order.
func (rt *Router) accept(w http.ResponseWriter, sess *session.Session, id json.RawMessage, run func(context.Context) (json.RawMessage, error)) {
	reqID := string(id)
	sess.TrackRequest(reqID)
	writeAccepted(w)
	go func() {
		defer sess.ResolveRequest(reqID)
		ctx, cancel := context.WithTimeout(sess.Context(), rt.callTimeout)
		defer cancel()
		msg, err := run(ctx)
		if err != nil {
			rt.logger.Warn().Err(err).Str("session", sess.ID()).Msg("upstream call failed")
			msg, err = json.Marshal(rpcResponse{
				JSONRPC: "2.0",
				ID:      id,
				Error:   &rpcError{Code: codeInternalError, Message: err.Error()},
			})
			if err != nil {
				return
			}
		}
		if !sess.Send(msg) {
			rt.logger.Debug().Str("session", sess.ID()).Msg("discarding response for closed session")
		}
	}()
}

func writeAccepted(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write([]byte(`{"status":"accepted"}`))
}

func writeRPCError(w http.ResponseWriter, status int, id json.RawMessage, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(rpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &rpcError{Code: code, Message: message},
	})
}
