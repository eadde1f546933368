package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

const (
	envListenAddr        = "MCP_PROXY_LISTEN_ADDR"
	envUpstreamURL       = "MCP_PROXY_UPSTREAM_URL"
	envBearerToken       = "MCP_PROXY_BEARER_TOKEN"
	envCallTimeout       = "MCP_PROXY_CALL_TIMEOUT"
	envHandshakeTimeout  = "MCP_PROXY_HANDSHAKE_TIMEOUT"
	envKeepAliveInterval = "MCP_PROXY_KEEPALIVE_INTERVAL"
	envShutdownTimeout   = "MCP_PROXY_SHUTDOWN_TIMEOUT"
	envAllowedOrigins    = "MCP_PROXY_ALLOWED_ORIGINS"
	envLogLevel          = "MCP_PROXY_LOG_LEVEL"

	defaultListenAddr        = "127.0.0.1:8132"
	defaultCallTimeout       = 30 * time.Second
	defaultHandshakeTimeout  = 15 * time.Second
	defaultKeepAliveInterval = 15 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
	defaultLogLevel          = "info"
)

// Config captures runtime settings for the proxy.
type Config struct {
	ListenAddr        string
	Upstream          *url.URL
	BearerToken       string
	CallTimeout       time.Duration
	HandshakeTimeout  time.Duration
	KeepAliveInterval time.Duration
	ShutdownTimeout   time.Duration
	AllowedOrigins    []string
	LogLevel          string
}

// Load reads configuration from environment variables and validates
// required values. The upstream URL and bearer token are mandatory.
func Load() (Config, error) {
	upstreamRaw := strings.TrimSpace(os.Getenv(envUpstreamURL))
	if upstreamRaw == "" {
		return Config{}, errors.New(envUpstreamURL + " is required")
	}

	upstream, err := url.Parse(upstreamRaw)
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s: %w", envUpstreamURL, err)
	}
	if !upstream.IsAbs() {
		return Config{}, errors.New(envUpstreamURL + " must be absolute (scheme://host)")
	}

	token := strings.TrimSpace(os.Getenv(envBearerToken))
	if token == "" {
		return Config{}, errors.New(envBearerToken + " is required")
	}

	cfg := Config{
		ListenAddr:        getString(envListenAddr, defaultListenAddr),
		Upstream:          upstream,
		BearerToken:       token,
		CallTimeout:       getDuration(envCallTimeout, defaultCallTimeout),
		HandshakeTimeout:  getDuration(envHandshakeTimeout, defaultHandshakeTimeout),
		KeepAliveInterval: getDuration(envKeepAliveInterval, defaultKeepAliveInterval),
		ShutdownTimeout:   getDuration(envShutdownTimeout, defaultShutdownTimeout),
		AllowedOrigins:    getList(envAllowedOrigins, []string{"*"}),
		LogLevel:          strings.ToLower(getString(envLogLevel, defaultLogLevel)),
	}

	return cfg, nil
}

func getString(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func getList(key string, fallback []string) []string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func getDuration(key string, fallback time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return parsed
}
