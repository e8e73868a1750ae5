package internal

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/dgellow/oauth-relay/internal/config"
	"github.com/dgellow/oauth-relay/internal/flow"
	"github.com/dgellow/oauth-relay/internal/instrumentation"
	"github.com/dgellow/oauth-relay/internal/log"
	"github.com/dgellow/oauth-relay/internal/redirect"
	"github.com/dgellow/oauth-relay/internal/server"
	"github.com/dgellow/oauth-relay/internal/token"
	"golang.org/x/sync/errgroup"
)

// Relay is the complete OAuth relay application
type Relay struct {
	settings   config.ServerSettings
	handler    http.Handler
	httpServer *server.HTTPServer
}

// NewRelay builds the relay with all dependencies. provider is consulted on
// every request.
func NewRelay(settings config.ServerSettings, provider config.Provider) (*Relay, error) {
	log.LogInfoWithFields("relay", "Building OAuth relay", map[string]any{
		"addr":                settings.Addr,
		"trust_proxy_headers": settings.TrustProxyHeaders,
		"rate_limit":          settings.RateLimit,
		"token_timeout":       settings.TokenTimeout.String(),
	})

	metrics, err := instrumentation.NewMetrics(instrumentation.Meter("relay"))
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	httpClient := &http.Client{Timeout: settings.TokenTimeout}
	exchanger := token.NewClient(httpClient, metrics)
	controller := flow.NewController(redirect.NewBuilder(settings.TrustProxyHeaders), exchanger, metrics)

	handler := server.ChainMiddleware(
		server.NewRouter(provider, controller),
		server.NewSecurityHeadersMiddleware(),
		server.NewRateLimitMiddleware(settings.RateLimit, settings.RateBurst, metrics),
		server.NewLoggerMiddleware("http"),
		server.NewRecoverMiddleware("relay"),
	)

	return &Relay{
		settings:   settings,
		handler:    handler,
		httpServer: server.NewHTTPServer(handler, settings.Addr),
	}, nil
}

// Handler returns the fully wrapped HTTP handler.
func (r *Relay) Handler() http.Handler {
	return r.handler
}

// Run serves until ctx is cancelled, SIGINT or SIGTERM arrives, or the
// server fails, then shuts down gracefully.
func (r *Relay) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", r.settings.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", r.settings.Addr, err)
	}
	return r.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (r *Relay) Serve(ctx context.Context, ln net.Listener) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := r.httpServer.Serve(ln); err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		reason := "context cancelled"
		if ctx.Err() == nil {
			reason = "server error"
		}
		log.LogInfoWithFields("relay", "Starting graceful shutdown", map[string]any{
			"reason":  reason,
			"timeout": r.settings.ShutdownTimeout.String(),
		})

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.settings.ShutdownTimeout)
		defer cancel()
		if err := r.httpServer.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown error: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.LogErrorWithFields("relay", "Relay stopped with error", map[string]any{
			"error": err.Error(),
		})
		return err
	}

	log.LogInfoWithFields("relay", "Relay shutdown complete", nil)
	return nil
}
