package config

import (
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv(envUpstreamURL, "https://mcp.example.com/mcp")
	t.Setenv(envBearerToken, "secret")
}

func TestLoadRequiresUpstreamURL(t *testing.T) {
	t.Setenv(envUpstreamURL, "")
	t.Setenv(envBearerToken, "secret")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error when upstream URL is unset")
	}
}

func TestLoadRequiresBearerToken(t *testing.T) {
	t.Setenv(envUpstreamURL, "https://mcp.example.com/mcp")
	t.Setenv(envBearerToken, "")
	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), envBearerToken) {
		t.Fatalf("expected bearer-token error, got %v", err)
	}
}

func TestLoadRejectsRelativeUpstream(t *testing.T) {
	t.Setenv(envUpstreamURL, "/mcp")
	t.Setenv(envBearerToken, "secret")
	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "absolute") {
		t.Fatalf("expected absolute-URL error, got %v", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.ListenAddr != defaultListenAddr {
		t.Fatalf("ListenAddr = %q, expected %q", cfg.ListenAddr, defaultListenAddr)
	}
	if cfg.CallTimeout != defaultCallTimeout || cfg.HandshakeTimeout != defaultHandshakeTimeout {
		t.Fatalf("timeouts not defaulted: %+v", cfg)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "*" {
		t.Fatalf("AllowedOrigins = %v, expected [*]", cfg.AllowedOrigins)
	}
	if cfg.LogLevel != defaultLogLevel {
		t.Fatalf("LogLevel = %q, expected %q", cfg.LogLevel, defaultLogLevel)
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv(envListenAddr, "0.0.0.0:9000")
	t.Setenv(envBearerToken, "  padded-token  ")
	t.Setenv(envCallTimeout, "90s")
	t.Setenv(envAllowedOrigins, "https://a.example.com, https://b.example.com")
	t.Setenv(envLogLevel, "DEBUG")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.ListenAddr != "0.0.0.0:9000" {
		t.Fatalf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.BearerToken != "padded-token" {
		t.Fatalf("BearerToken = %q, expected trimmed value", cfg.BearerToken)
	}
	if cfg.CallTimeout != 90*time.Second {
		t.Fatalf("CallTimeout = %v, expected 90s", cfg.CallTimeout)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example.com" {
		t.Fatalf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("LogLevel = %q, expected lowercased", cfg.LogLevel)
	}
}

func TestLoadInvalidDurationFallsBack(t *testing.T) {
	setRequired(t)
	t.Setenv(envCallTimeout, "not-a-duration")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.CallTimeout != defaultCallTimeout {
		t.Fatalf("CallTimeout = %v, expected fallback %v", cfg.CallTimeout, defaultCallTimeout)
	}
}
