package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/signalx/chartlens/internal/api/openai"
	"github.com/signalx/chartlens/internal/api/openrouter"
	"github.com/signalx/chartlens/internal/config"
	"github.com/signalx/chartlens/internal/database"
	"github.com/signalx/chartlens/internal/gateway"
	"github.com/signalx/chartlens/internal/ledger"
	"github.com/signalx/chartlens/internal/logging"
	"github.com/signalx/chartlens/internal/normalize"
	"github.com/signalx/chartlens/internal/notify"
	"github.com/signalx/chartlens/internal/payment"
	"github.com/signalx/chartlens/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	// Ledger: durable when Postgres is configured, in-process otherwise.
	var led ledger.Ledger
	if cfg.HasDatabase() {
		db, err := database.New(database.ConnectionParams{
			Host:     cfg.DBHost,
			Port:     cfg.DBPort,
			User:     cfg.DBUser,
			Password: cfg.DBPassword,
			DBName:   cfg.DBName,
			SSLMode:  cfg.DBSSLMode,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()
		led = ledger.NewPostgres(db)
		log.Info().Str("host", cfg.DBHost).Str("db", cfg.DBName).Msg("connected to postgres")
	} else {
		led = ledger.NewMemory()
		log.Warn().Msg("no database configured, using in-memory ledger (credits reset on restart)")
	}

	provider, modelName := buildProvider(cfg)

	notifier, err := notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramOpsChatID)
	if err != nil {
		log.Error().Err(err).Msg("telegram notifier unavailable, continuing without it")
		notifier = nil
	}

	svc := gateway.NewService(provider, normalize.New(), led, notifier, gateway.Options{
		MaxConcurrent: cfg.MaxConcurrency,
		MaxImageBytes: cfg.MaxImageBytes,
		ExecutorOpts: gateway.ExecutorOptions{
			MaxRetries:     cfg.MaxRetries,
			AttemptTimeout: cfg.RequestTimeout,
		},
	})

	var payments *payment.StripeService
	if cfg.StripeAPIKey != "" {
		payments = payment.NewStripeService(payment.Options{
			APIKey:         cfg.StripeAPIKey,
			CreditsPriceID: cfg.StripeCreditsPrice,
			WebhookSecret:  cfg.StripeWebhookSecret,
			SiteURL:        cfg.SiteURL,
		})
	}

	srv := server.New(svc, led, payments, server.Options{
		MaxBodyBytes:   int64(cfg.MaxImageBytes) * 2, // base64 + JSON overhead
		InitialCredits: cfg.InitialCredits,
		AdminToken:     cfg.AdminToken,
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Str("model", modelName).Msg("chart analysis gateway listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

// buildProvider selects the inference backend. OpenRouter is the default;
// AI_PROVIDER=openai talks to the OpenAI API directly.
func buildProvider(cfg *config.Config) (gateway.Provider, string) {
	if cfg.AIProvider == "openai" {
		if cfg.OpenAIAPIKey == "" {
			log.Warn().Msg("OPENAI_API_KEY is not set; analysis requests will fail with a configuration error")
		}
		c := openai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIModel)
		return c, c.Model()
	}

	if cfg.OpenRouterAPIKey == "" {
		log.Warn().Msg("OPENROUTER_API_KEY is not set; analysis requests will fail with a configuration error")
	}
	c := openrouter.NewClient(openrouter.ClientOptions{
		APIKey:         cfg.OpenRouterAPIKey,
		Model:          cfg.OpenRouterModel,
		BaseURL:        cfg.OpenRouterBaseURL,
		SiteURL:        cfg.SiteURL,
		RequestTimeout: cfg.RequestTimeout + 5*time.Second,
		RequestsPerSec: cfg.RequestsPerSec,
	})
	return c, c.Model()
}
