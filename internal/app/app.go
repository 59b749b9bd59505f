package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/wirechat-realtime/internal/auth"
	"github.com/vovakirdan/wirechat-realtime/internal/config"
	"github.com/vovakirdan/wirechat-realtime/internal/core"
	"github.com/vovakirdan/wirechat-realtime/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/wirechat-realtime/internal/transport/http"
)

// App wires the collaborator store, the realtime hub and the HTTP transport.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *core.Hub
	store           *sqlite.SQLiteStore
	log             *zerolog.Logger
}

// JWTConfig derives token settings from configuration.
func JWTConfig(cfg *config.Config) *auth.JWTConfig {
	return &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.JWTTTL,
	}
}

// HubOptions maps configuration onto core.Options.
func HubOptions(cfg *config.Config, logger *zerolog.Logger) core.Options {
	return core.Options{
		Log:              logger,
		HandshakeTimeout: cfg.HandshakeTimeout,
		QueueSize:        cfg.OutboundQueueSize,
		TypingTTL:        cfg.TypingTTL,
		TypingSweep:      cfg.TypingSweepInterval,
		MaxMessageLength: cfg.MaxMessageLength,
		Retry: &core.RetryPolicy{
			MaxRetries:      cfg.PersistRetries,
			InitialInterval: cfg.PersistBackoff,
			MaxInterval:     cfg.PersistMaxBackoff,
		},
	}
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	authService := auth.NewService(JWTConfig(cfg))
	hub := core.NewHub(authService, st, st, HubOptions(cfg, logger))

	return &App{
		server:          transporthttp.NewServer(hub, authService, cfg, logger),
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             hub,
		store:           st,
		log:             logger,
	}, nil
}

// Run serves until ctx is cancelled or the listener fails, then shuts down
// the server and closes the store.
func (a *App) Run(ctx context.Context) error {
	defer a.cleanup()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.hub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		a.log.Info().Str("addr", a.server.Addr).Msg("listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info().Msg("shutting down http server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func (a *App) cleanup() {
	if err := a.store.Close(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close store")
		return
	}
	a.log.Info().Msg("store closed")
}
