package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mcpinfra/mcp-schema-proxy/pkg/config"
	"github.com/mcpinfra/mcp-schema-proxy/pkg/proxy"
	"github.com/mcpinfra/mcp-schema-proxy/pkg/session"
	"github.com/mcpinfra/mcp-schema-proxy/pkg/upstream"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the proxy server",
	Long: `Start the HTTP server that bridges MCP clients to the configured
upstream. Configuration is read from MCP_PROXY_* environment variables;
MCP_PROXY_UPSTREAM_URL and MCP_PROXY_BEARER_TOKEN are required.`,
	Example: `  MCP_PROXY_UPSTREAM_URL=https://mcp.example.com/mcp \
  MCP_PROXY_BEARER_TOKEN=secret schema-proxy serve`,
	RunE:    runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if !verbose {
		level, err := zerolog.ParseLevel(cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
		}
		logger = logger.Level(level)
	}

	// No client-wide timeout: the upstream transport holds long-lived
	// streaming responses open. Per-call deadlines come from contexts.
	httpClient := &http.Client{}
	dial := session.Dialer(func(ctx context.Context) (upstream.Link, error) {
		link, err := upstream.Dial(ctx, upstream.Config{
			Endpoint:      cfg.Upstream.String(),
			Token:         cfg.BearerToken,
			HTTPClient:    httpClient,
			ClientName:    "schema-proxy",
			ClientVersion: version,
		})
		if err != nil {
			return nil, err
		}
		return link, nil
	})

	srv := proxy.NewServer(dial, proxy.Options{
		Addr:              cfg.ListenAddr,
		ServerVersion:     version,
		CallTimeout:       cfg.CallTimeout,
		HandshakeTimeout:  cfg.HandshakeTimeout,
		KeepAliveInterval: cfg.KeepAliveInterval,
		ShutdownTimeout:   cfg.ShutdownTimeout,
		AllowedOrigins:    cfg.AllowedOrigins,
		Logger:            logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info().Msg("shutting down")
		cancel()
	}()

	logger.Info().
		Str("listen_addr", cfg.ListenAddr).
		Str("upstream", cfg.Upstream.String()).
		Msg("starting schema proxy")

	if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}
