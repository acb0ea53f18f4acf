package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Talk/internal/adapters/directory"
	router "github.com/dkeye/Talk/internal/adapters/http"
	"github.com/dkeye/Talk/internal/adapters/identity"
	"github.com/dkeye/Talk/internal/app"
	"github.com/dkeye/Talk/internal/config"
	"github.com/dkeye/Talk/internal/core"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	registry := core.NewConnectionRegistry()
	presence := core.NewPresenceTable()
	voice := core.NewVoiceAggregator(cfg.VoiceThreshold, cfg.VoiceHangover)
	signalRouter := app.NewRouter(registry, presence, voice)

	var ident identity.Provider
	if cfg.IdentityURL != "" {
		ident = identity.NewHTTPProvider(cfg.IdentityURL)
	} else {
		// Standalone mode: any token names its own user. Dev only.
		log.Warn().Msg("no identity_url configured, tokens are taken at face value")
		ident = devIdentity{}
	}

	var dir directory.Directory
	if cfg.DirectoryURL != "" {
		dir = directory.NewHTTPDirectory(cfg.DirectoryURL, os.Getenv("DIRECTORY_TOKEN"))
	} else {
		dir = directory.NewMemoryDirectory()
	}

	r := router.SetupRouter(ctx, cfg, signalRouter, ident, dir)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Talk signal server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
