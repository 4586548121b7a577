package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"bananastudio/internal/credits"
	"bananastudio/internal/http/handlers"
	"bananastudio/internal/http/httpapi"
	"bananastudio/internal/imagestore"
	"bananastudio/internal/infra"
	"bananastudio/internal/job"
	"bananastudio/internal/nanobanana"
)

func main() {
	// Load .env (optional)
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	client, err := nanobanana.NewClient(nanobanana.Options{
		BaseURL: cfg.APIBaseURL,
		APIKey:  cfg.APIKey,
		Logger:  &logger,
		Timeout: cfg.RequestTimeout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure api client")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := job.NewRegistry(client, logger)
	store := imagestore.NewStore()

	var poller *credits.Poller
	if client.HasKey() {
		poller = credits.NewPoller(client, cfg.CreditsPollInterval, logger)
		go poller.Run(ctx)
	} else {
		logger.Warn().Msg("NANO_API_KEY missing: job submission disabled, credits polling off")
	}

	app := handlers.NewApp(cfg, logger, client, registry, store, poller)
	router := httpapi.NewRouter(app)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
