package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/syncwatch/syncwatch/internal/api"
	"github.com/syncwatch/syncwatch/internal/auth"
	"github.com/syncwatch/syncwatch/internal/gateway"
	"github.com/syncwatch/syncwatch/internal/models"
	"github.com/syncwatch/syncwatch/internal/relay"
	"github.com/syncwatch/syncwatch/internal/room"
	"github.com/syncwatch/syncwatch/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	config, err := loadConfig(getEnv("CONFIG_PATH", "config.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if level, err := zerolog.ParseLevel(config.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	if config.JWTSecret == "" {
		log.Fatal().Msg("JWT_SECRET is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewRealClock()
	jwt := auth.NewJWT(config.JWTSecret)

	// Storage is optional; without a DSN the in-memory registry is all there is.
	var backend store.Store = store.Noop{}
	if config.DatabaseDSN != "" {
		pg, err := store.NewPostgres(ctx, config.DatabaseDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to postgres")
		}
		backend = pg
		log.Info().Msg("postgres persistence enabled")
	}
	writer := store.NewWriter(backend, 256)

	// The relay is created after the registry, so the event hook goes through
	// an indirection that stays nil in single-instance deployments.
	var rel *relay.Relay
	registry := room.NewRegistry(clock, config.roomConfig(),
		room.WithPersist(func(session models.Session, state models.PlaybackState) {
			writer.EnqueuePlayback(session, state)
		}),
		room.WithEventHook(func(sessionID string, frame []byte) {
			if rel != nil {
				rel.Publish(sessionID, frame)
			}
		}),
	)

	if config.NATSURL != "" {
		relayCfg := relay.DefaultConfig()
		relayCfg.URL = config.NATSURL
		rel, err = relay.New(relayCfg, registry)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect room relay")
		}
	}

	go registry.RunReaper(ctx)

	mux := http.NewServeMux()
	mux.Handle("/ws", gateway.NewManager(registry, jwt, clock, gateway.DefaultConfig()))
	api.NewHandler(registry, jwt, jwt).Register(mux)

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", config.Port),
		Handler:     c.Handler(mux),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}

	cancel()
	if rel != nil {
		rel.Close()
	}
	writer.Close()

	log.Info().Msg("shutdown complete")
}
