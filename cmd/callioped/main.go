package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/calliope-chat/calliope/internal/api"
	"github.com/calliope-chat/calliope/internal/artifact"
	"github.com/calliope-chat/calliope/internal/auth"
	"github.com/calliope-chat/calliope/internal/config"
	"github.com/calliope-chat/calliope/internal/events"
	"github.com/calliope-chat/calliope/internal/inference"
	"github.com/calliope-chat/calliope/internal/state"
	"github.com/calliope-chat/calliope/internal/turn"
)

func main() {
	cfg := config.Load()

	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	db, err := state.Open(cfg.DBPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database")
	}
	defer db.Close()
	store := state.NewStore(db)

	artifacts, err := artifact.NewFS(cfg.MediaDir)
	if err != nil {
		logger.Fatal().Err(err).Str("dir", cfg.MediaDir).Msg("open artifact store")
	}

	gateway, err := inference.NewService(inference.LLMConfig{
		Provider: cfg.LLMProvider,
		Model:    cfg.LLMModel,
		APIKey:   cfg.LLMAPIKey,
	}, inference.SpeechConfig{
		APIKey:   cfg.SpeechAPIKey,
		STTModel: cfg.STTModel,
		TTSModel: cfg.TTSModel,
		TTSVoice: cfg.TTSVoice,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("configure inference gateway")
	}

	secret := cfg.JWTSecret
	if secret == "" {
		// Only reachable in development; Load panics without a secret in
		// production.
		secret = "calliope-dev-secret"
		logger.Warn().Msg("using built-in development JWT secret")
	}
	tokens := auth.NewTokens(secret, time.Duration(cfg.TokenTTLMins)*time.Minute)

	bus := events.NewBus()
	coordinator := &turn.Coordinator{
		Store:     store,
		Artifacts: artifacts,
		Pipeline:  &turn.Pipeline{Gateway: gateway},
		Bus:       bus,
		Depth:     cfg.HistoryDepth,
		Log:       logger,
	}

	handler := &api.Handler{
		Log:         logger,
		Store:       store,
		Artifacts:   artifacts,
		Coordinator: coordinator,
		Tokens:      tokens,
		Bus:         bus,
	}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      handler.NewRouter(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Str("env", cfg.Env).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("shutdown failed")
	}
	logger.Info().Msg("stopped")
}
