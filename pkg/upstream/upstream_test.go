package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDialRequiresEndpoint(t *testing.T) {
	t.Parallel()

	_, err := Dial(context.Background(), Config{})
	var uerr *Error
	if !errors.As(err, &uerr) || uerr.Op != "dial" {
		t.Fatalf("expected dial Error, got %v", err)
	}
}

func TestDialReportsBothTransportFailures(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err := Dial(ctx, Config{Endpoint: ts.URL})
	if err == nil {
		t.Fatalf("expected handshake failure")
	}
	msg := err.Error()
	if !strings.Contains(msg, "streamable error") || !strings.Contains(msg, "sse error") {
		t.Fatalf("combined error does not name both transports: %q", msg)
	}
}

func TestBearerTransportAttachesToken(t *testing.T) {
	t.Parallel()

	var got string
	next := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		got = req.Header.Get("Authorization")
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
	})

	rt := &bearerTransport{next: next, token: "abc123"}
	req := httptest.NewRequest(http.MethodGet, "http://upstream/mcp", nil)
	resp, err := rt.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip error: %v", err)
	}
	resp.Body.Close()
	if got != "Bearer abc123" {
		t.Fatalf("Authorization = %q, expected Bearer prefix added", got)
	}
	// The original request must not be mutated.
	if req.Header.Get("Authorization") != "" {
		t.Fatalf("original request mutated")
	}
}

func TestBearerTransportKeepsExplicitPrefix(t *testing.T) {
	t.Parallel()

	var got string
	next := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		got = req.Header.Get("Authorization")
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
	})

	rt := &bearerTransport{next: next, token: "Bearer already-prefixed"}
	req := httptest.NewRequest(http.MethodGet, "http://upstream/mcp", nil)
	resp, err := rt.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip error: %v", err)
	}
	resp.Body.Close()
	if got != "Bearer already-prefixed" {
		t.Fatalf("Authorization = %q", got)
	}
}

func TestBearerTransportRespectsExistingHeader(t *testing.T) {
	t.Parallel()

	var got string
	next := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		got = req.Header.Get("Authorization")
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
	})

	rt := &bearerTransport{next: next, token: "abc123"}
	req := httptest.NewRequest(http.MethodGet, "http://upstream/mcp", nil)
	req.Header.Set("Authorization", "Basic dXNlcg==")
	resp, err := rt.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip error: %v", err)
	}
	resp.Body.Close()
	if got != "Basic dXNlcg==" {
		t.Fatalf("existing Authorization overwritten: %q", got)
	}
}

func TestErrorWrapsCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	err := &Error{Op: "tools/call", Err: cause}
	if !errors.Is(err, cause) {
		t.Fatalf("Unwrap does not expose the cause")
	}
	if !strings.Contains(err.Error(), "tools/call") || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}
