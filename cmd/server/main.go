// Command server runs the billing webhook and self-service API.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/mihaimyh/toxbook/internal/config"
	"github.com/mihaimyh/toxbook/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load configuration")
	}

	logger := server.NewLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := server.New(ctx, cfg, nil, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("build application")
	}
	defer app.Close()

	if err := app.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("server stopped")
		app.Close()
		os.Exit(1)
	}
	logger.Info().Msg("server stopped")
}
