package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/zion-networks/BetterRaid/internal/app"
	"github.com/zion-networks/BetterRaid/internal/config"
	"github.com/zion-networks/BetterRaid/internal/crypto"
	"github.com/zion-networks/BetterRaid/internal/twitch"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("loading configuration")
	}

	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(level)
	}

	// The watchlist is the only fatal dependency: starting with a corrupt or
	// unreadable list would silently discard the user's data.
	db, err := app.LoadOrCreate(cfg.DatabasePath(), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("cannot load the watchlist")
	}

	history, err := app.OpenHistory(cfg.HistoryPath())
	if err != nil {
		logger.Error().Err(err).Msg("raid history unavailable")
		history = nil
	}

	var cipher crypto.Cipher
	if cfg.SecretKey != "" {
		cipher, err = crypto.NewCipher(cfg.SecretKey)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid BR_SECRET_KEY")
		}
	}

	tokens := twitch.NewTokenStore(cfg.AccessTokenPath(), cipher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	application := app.New(cfg, db, history, tokens, logger)
	application.Start(ctx)

	server := app.NewServer(application, cfg, cancel, logger)
	if err := server.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("local server failed")
	}

	application.Shutdown()
	logger.Info().Msg("bye")
}
