package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Mindburn-Labs/buildmarket/pkg/api"
	"github.com/Mindburn-Labs/buildmarket/pkg/auth"
	"github.com/Mindburn-Labs/buildmarket/pkg/config"
	"github.com/Mindburn-Labs/buildmarket/pkg/market"
	"github.com/Mindburn-Labs/buildmarket/pkg/observability"
	"github.com/Mindburn-Labs/buildmarket/pkg/policy"
)

const shutdownTimeout = 10 * time.Second

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// newHandler stacks request IDs, caller authentication and per-caller rate
// limiting in front of the API routes.
func newHandler(srv *api.Server, validator *auth.JWTValidator, rl *api.RateLimiter) http.Handler {
	return auth.RequestIDMiddleware(auth.NewMiddleware(validator)(rl.Middleware(srv.Handler())))
}

func runServe(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("serve", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	configPath := cmd.String("config", "", "YAML config file (env vars override it)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	level, _ := config.ParseLevel(cfg.LogLevel)
	slog.SetDefault(slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, stdout); err != nil {
		log.Printf("[buildmarket] %v", err)
		return 1
	}
	return 0
}

func serve(ctx context.Context, cfg *config.Config, stdout io.Writer) error {
	_, _ = fmt.Fprintf(stdout, "%sbuildmarket %s starting...%s\n", ColorBold+ColorBlue, version, ColorReset)

	be, err := setupBackends(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to set up %s backend: %w", cfg.StoreBackend, err)
	}
	defer func() {
		if err := be.close(); err != nil {
			log.Printf("[buildmarket] backend close: %v", err)
		}
	}()

	authority, err := loadAuthority(cfg.DataDir)
	if err != nil {
		return err
	}
	if path, created, err := ensureAdminToken(authority, cfg.DataDir); err != nil {
		return err
	} else if created {
		log.Printf("[buildmarket] genesis: admin capability written to %s", path)
	}
	log.Printf("[buildmarket] capability authority: %s", authority.SystemID())

	keys, err := loadKeySet(cfg.DataDir)
	if err != nil {
		return err
	}

	bidPolicy, err := policy.NewBidPolicy(cfg.BidPolicy)
	if err != nil {
		return fmt.Errorf("bid policy: %w", err)
	}
	if bidPolicy.Expr() != "" {
		log.Printf("[buildmarket] bid policy: %s", bidPolicy.Expr())
	}

	obs := observability.Disabled()
	if cfg.OTel.Enabled {
		oc := observability.DefaultConfig()
		oc.Enabled = true
		oc.OTLPEndpoint = cfg.OTel.Endpoint
		oc.ServiceVersion = version
		obs, err = observability.New(ctx, oc)
		if err != nil {
			return fmt.Errorf("observability: %w", err)
		}
		log.Printf("[buildmarket] otel: exporting to %s", cfg.OTel.Endpoint)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = obs.Shutdown(sctx)
	}()

	svc := market.New(be.store, be.custody, authority,
		market.WithBidPolicy(bidPolicy),
		market.WithObservability(obs),
	)
	apiServer, err := api.NewServer(svc, version)
	if err != nil {
		return err
	}
	limiter := api.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	go limiter.Run(ctx)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newHandler(apiServer, auth.NewJWTValidator(keys), limiter),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[buildmarket] ready: http://localhost:%s", cfg.Port)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Println("[buildmarket] shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(sctx)
}
