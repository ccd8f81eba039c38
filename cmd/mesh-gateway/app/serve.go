package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/decocms/mesh/pkg/audit"
	"github.com/decocms/mesh/pkg/auth"
	"github.com/decocms/mesh/pkg/config"
	"github.com/decocms/mesh/pkg/connections"
	"github.com/decocms/mesh/pkg/logger"
	"github.com/decocms/mesh/pkg/proxy"
	"github.com/decocms/mesh/pkg/telemetry"
	"github.com/decocms/mesh/pkg/vault"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 30 * time.Second
)

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	gateway, err := buildGateway(ctx, cfg)
	if err != nil {
		return err
	}
	defer gateway.shutdown()

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           gateway.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("mesh-gateway listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// gateway holds the wired component graph for one serve invocation.
type gateway struct {
	router    chi.Router
	telemetry *telemetry.Provider
}

func (g *gateway) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := g.telemetry.Shutdown(ctx); err != nil {
		logger.Errorf("telemetry shutdown: %v", err)
	}
}

// buildGateway wires the component graph once per process: vault, identity
// provider, connection store, telemetry, audit, instrumentation, proxy, and
// the HTTP router around them.
func buildGateway(ctx context.Context, cfg *config.Config) (*gateway, error) {
	v, err := vault.New([]byte(cfg.VaultKey))
	if err != nil {
		return nil, fmt.Errorf("initializing vault: %w", err)
	}

	signingKey := cfg.SigningKey
	if signingKey == "" {
		signingKey = cfg.VaultKey
	}
	provider := auth.NewLocalProvider([]byte(signingKey))
	store := connections.NewMemoryStore()

	telemetryProvider, err := telemetry.NewProvider(ctx, telemetry.Config{
		ServiceName:      "mesh-gateway",
		ServiceVersion:   version,
		TracingEnabled:   cfg.TracingEnabled,
		SamplingRate:     cfg.SamplingRate,
		EnablePrometheus: cfg.EnablePrometheus,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	auditor := audit.NewLogger(audit.NewSlogSink(nil))
	instrumentor, err := telemetry.NewInstrumentor(telemetryProvider, auditor)
	if err != nil {
		return nil, fmt.Errorf("initializing instrumentation: %w", err)
	}

	connectionProxy := proxy.New(proxy.Config{
		Store:          store,
		Vault:          v,
		Provider:       provider,
		Instrumentor:   instrumentor,
		BaseURL:        cfg.BaseURL,
		ConnectTimeout: cfg.ConnectTimeout,
		RequestTimeout: cfg.RequestTimeout,
	})

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if handler := telemetryProvider.PrometheusHandler(); handler != nil {
		router.Handle("/metrics", handler)
	}

	router.Group(func(r chi.Router) {
		r.Use(auth.Middleware(auth.NewResolver(provider)))
		r.Mount("/", connectionProxy.Routes())
	})

	return &gateway{router: router, telemetry: telemetryProvider}, nil
}
