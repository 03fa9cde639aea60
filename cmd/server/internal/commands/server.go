package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/wolfeidau/planhub/internal/auth"
	"github.com/wolfeidau/planhub/internal/consolidator"
	"github.com/wolfeidau/planhub/internal/logger"
	"github.com/wolfeidau/planhub/internal/rules"
	"github.com/wolfeidau/planhub/internal/server"
	"github.com/wolfeidau/planhub/internal/store"
	memorystore "github.com/wolfeidau/planhub/internal/store/memory"
	postgresstore "github.com/wolfeidau/planhub/internal/store/postgres"
	"github.com/wolfeidau/planhub/internal/telemetry"
)

type ServerCmd struct {
	// Server configuration
	Listen string `help:"HTTP server listen address" default:"0.0.0.0:8080" env:"PLANHUB_LISTEN"`

	// CORS configuration
	CORSOrigins []string `help:"allowed CORS origins for API requests" default:"https://localhost" env:"PLANHUB_CORS_ORIGINS"`

	// Authentication configuration
	TokenSecret string `help:"shared secret for verifying bearer tokens" default:"" env:"PLANHUB_TOKEN_SECRET"`
	NoAuth      bool   `help:"disable authentication (development only)" default:"false" env:"PLANHUB_NO_AUTH"`

	// Rule policy configuration
	PolicyFile string `help:"path to a YAML rule policy file" default:"" env:"PLANHUB_POLICY_FILE"`

	// Operational modes
	Tracing bool `help:"enable tracing" default:"false" env:"PLANHUB_TRACING"`

	// Store configuration
	StoreType     string             `help:"store type (memory or postgres)" default:"memory" env:"PLANHUB_STORE_TYPE" enum:"memory,postgres"`
	PostgresStore PostgresStoreFlags `embed:"" prefix:"postgres-"`
}

type PostgresStoreFlags struct {
	// Connection Configuration
	ConnString string `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`

	// Connection Pool Configuration
	MaxConns        int32 `help:"maximum number of connections in pool" default:"20"`
	MinConns        int32 `help:"minimum number of connections in pool" default:"5"`
	MaxConnLifetime int32 `help:"maximum connection lifetime in seconds" default:"3600"`
	MaxConnIdleTime int32 `help:"maximum connection idle time in seconds" default:"1800"`

	// Migration Configuration
	AutoMigrate bool `help:"run database migrations on startup" default:"false" env:"PLANHUB_POSTGRES_AUTO_MIGRATE"`
}

func (c *ServerCmd) Run(globals *Globals) error {
	log := logger.Setup(globals.Debug)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting server")

	if c.Tracing {
		log.Info().Msg("Tracing is enabled")
		shutdown, err := telemetry.Init(ctx, "planhub-server", globals.Version)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	var (
		consolidationStore store.ConsolidationStore
		err                error
	)

	switch c.StoreType {
	case "postgres":
		if c.PostgresStore.ConnString == "" {
			return errors.New("PostgreSQL connection string is required (--postgres-conn-string or POSTGRES_CONNECTION_STRING)")
		}

		pgStore, err := postgresstore.NewConsolidationStore(ctx, &postgresstore.Config{
			ConnString:      c.PostgresStore.ConnString,
			MaxConns:        c.PostgresStore.MaxConns,
			MinConns:        c.PostgresStore.MinConns,
			MaxConnLifetime: c.PostgresStore.MaxConnLifetime,
			MaxConnIdleTime: c.PostgresStore.MaxConnIdleTime,
			AutoMigrate:     c.PostgresStore.AutoMigrate,
		})
		if err != nil {
			return fmt.Errorf("failed to create postgres store: %w", err)
		}
		defer pgStore.Close()
		consolidationStore = pgStore

		log.Info().Msg("Using PostgreSQL consolidation store")

	default:
		consolidationStore = memorystore.NewConsolidationStore()
		log.Info().Msg("Using in-memory consolidation store")
	}

	policy := rules.DefaultPolicy()
	if c.PolicyFile != "" {
		policy, err = rules.LoadPolicy(c.PolicyFile)
		if err != nil {
			return fmt.Errorf("failed to load rule policy: %w", err)
		}
		log.Info().Str("path", c.PolicyFile).Msg("Loaded rule policy")
	}

	coordinator := consolidator.New(consolidationStore, rules.NewEngine(policy))

	var verifier *auth.Verifier
	if c.NoAuth {
		log.Warn().Msg("Authentication is disabled (--no-auth). This should only be used in development!")
	} else {
		verifier, err = auth.NewVerifier([]byte(c.TokenSecret))
		if err != nil {
			return fmt.Errorf("token secret: %w", err)
		}
	}

	api := server.New(coordinator, consolidationStore, server.Config{
		Verifier:    verifier,
		CORSOrigins: c.CORSOrigins,
	})

	srv := configureHTTPServer(c.Listen, api.Handler(log))

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", c.Listen).Bool("auth", !c.NoAuth).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
