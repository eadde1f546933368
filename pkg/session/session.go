// Package session binds one inbound client connection to one upstream MCP
// link. The Registry is the single owner of all live sessions; other
// components look a session up per request and never retain it.
package session

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/mcpinfra/mcp-schema-proxy/pkg/upstream"
)

// Dialer establishes the upstream link for a new session. The handshake
// happens inside the dialer, so Create never registers a session whose
// upstream is not live.
type Dialer func(ctx context.Context) (upstream.Link, error)

// outboundBufferSize bounds how many completed responses can queue while the
// client's stream writer catches up.
const outboundBufferSize = 32

// Session owns an upstream link, the outbound channel toward the client,
// and the pending-request correlation state. Sessions are independent; the
// only shared state between them is the Registry map.
type Session struct {
	id   string
	link upstream.Link

	ctx    context.Context
	cancel context.CancelFunc

	outbound chan []byte

	mu      sync.Mutex
	closed  bool
	pending []*pendingRequest
}

// pendingRequest is a correlation entry for an in-flight call. The result
// itself is delivered by the goroutine that dispatched the call; the list
// exists to enforce the earliest-registered-match rule when duplicate ids
// are in flight and to expose how many calls a session still owes.
type pendingRequest struct {
	// id is the canonical (marshaled) form of the JSON-RPC request id.
	id string
}

// ID returns the session's generated identifier.
func (s *Session) ID() string { return s.id }

// Link returns the owned upstream link.
func (s *Session) Link() upstream.Link { return s.link }

// Context is cancelled when the session is torn down. Upstream calls made
// on behalf of this session run under it so an abandoned client does not
// leak an in-flight call indefinitely.
func (s *Session) Context() context.Context { return s.ctx }

// Outbound is the channel of marshaled JSON-RPC messages destined for the
// client's stream. Messages appear in the order their actions completed.
func (s *Session) Outbound() <-chan []byte { return s.outbound }

// Send queues a message for the client. It reports false when the session
// is already closed; the message is then discarded, matching the guarantee
// that results arriving after teardown go nowhere.
func (s *Session) Send(msg []byte) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()
	select {
	case s.outbound <- msg:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// TrackRequest registers a correlation entry for an in-flight request id.
func (s *Session) TrackRequest(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.pending = append(s.pending, &pendingRequest{id: id})
}

// ResolveRequest removes the earliest-registered unresolved entry with a
// matching id and reports whether one existed.
func (s *Session) ResolveRequest(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.pending {
		if p.id == id {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return true
		}
	}
	return false
}

// PendingCount reports how many requests are awaiting resolution.
func (s *Session) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// close tears the session down: pending entries are orphaned, the context
// is cancelled, and the owned upstream link is released. Idempotent.
func (s *Session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.pending = nil
	s.mu.Unlock()
	s.cancel()
	if s.link != nil {
		_ = s.link.Close()
	}
}

// Registry maps client identifiers to live sessions. It is safe for
// concurrent use from multiple connection handlers and is the only
// cross-session shared mutable state in the proxy.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Create dials the upstream (performing the handshake eagerly), then
// registers and returns a session with a fresh identifier. When the dial
// fails nothing is registered.
func (r *Registry) Create(ctx context.Context, dial Dialer) (*Session, error) {
	link, err := dial(ctx)
	if err != nil {
		return nil, err
	}
	sctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:       newSessionID(),
		link:     link,
		ctx:      sctx,
		cancel:   cancel,
		outbound: make(chan []byte, outboundBufferSize),
	}
	r.mu.Lock()
	r.sessions[s.id] = s
	r.mu.Unlock()
	return s, nil
}

// Get looks up a session by id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove deregisters and closes a session. Removing an unknown id is a
// no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if ok {
		s.close()
	}
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

const idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// newSessionID generates a collision-resistant identifier with a time-based
// prefix and a random suffix. The ids are not secrets.
func newSessionID() string {
	buf := make([]byte, 8)
	for i := range buf {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(idAlphabet))))
		if err != nil {
			return fmt.Sprintf("sess_%d", time.Now().UnixNano())
		}
		buf[i] = idAlphabet[n.Int64()]
	}
	return fmt.Sprintf("sess_%d_%s", time.Now().UnixNano(), string(buf))
}
