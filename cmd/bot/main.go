package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/user/gitlabbot/internal/config"
	"github.com/user/gitlabbot/internal/gitlab"
	"github.com/user/gitlabbot/internal/notifier"
	"github.com/user/gitlabbot/internal/render"
	"github.com/user/gitlabbot/internal/storage"
	"github.com/user/gitlabbot/internal/telegram"
	"github.com/user/gitlabbot/pkg/logger"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// requestTimeout bounds one webhook request, fan-out included.
const requestTimeout = 2 * time.Minute

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Init("info", "")
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.File); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	logger.Info().Int("sources", len(cfg.Sources)).Msg("Starting GitLab Telegram Bot")

	// Initialize database
	db, err := storage.NewDatabase(cfg.Database.Path)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	if cfg.Database.LegacyDir != "" {
		if _, err := storage.ImportLegacy(db, cfg.Database.LegacyDir); err != nil {
			logger.Fatal().Err(err).Str("dir", cfg.Database.LegacyDir).Msg("Failed to import legacy state")
		}
	}

	snap, err := db.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load state")
	}
	store := storage.NewStore(snap, db)
	logger.Info().
		Str("path", cfg.Database.Path).
		Int("verified_chats", len(snap.Verified)).
		Msg("Database initialized")

	gate := gitlab.NewGate(cfg.Sources)

	// Outbound calls and long polling need different HTTP timeouts.
	sendAPI, err := telegram.NewAPI(cfg.Telegram.Token, cfg.Telegram.Debug, cfg.Dispatch.Timeout)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize Telegram bot")
	}
	pollAPI, err := telegram.NewAPI(cfg.Telegram.Token, cfg.Telegram.Debug, telegram.PollTimeout*time.Second+cfg.Dispatch.Timeout)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize Telegram bot")
	}

	var global *rate.Limiter
	if cfg.Dispatch.Rate > 0 {
		global = rate.NewLimiter(rate.Limit(cfg.Dispatch.Rate), 1)
	}
	dispatcher := telegram.NewDispatcher(sendAPI, cfg.Dispatch.Pace, global)
	notify := notifier.NewNotifier(store, dispatcher)

	handlers := telegram.NewHandlers(sendAPI, store, gate, cfg.Passphrase, render.Verbosity(cfg.Subscription.DefaultVerbosity))
	bot := telegram.NewBot(pollAPI, handlers)

	err = config.Watch(*configPath, func(c *config.Config) {
		gate.SetSources(c.Sources)
		handlers.SetPassphrase(c.Passphrase)
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Configuration hot reload disabled")
	}

	server := &http.Server{
		Addr:              cfg.ServerAddress(),
		Handler:           newRouter(gate, notify),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("address", cfg.ServerAddress()).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	bot.Start()

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		err := server.Shutdown(shutdownCtx)
		bot.Stop()
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("Shutdown with error")
	}
	logger.Info().Msg("Shutdown complete")
}

// newRouter wires the webhook endpoint, health check and metrics.
func newRouter(gate *gitlab.Gate, processor gitlab.Processor) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	webhook := gitlab.NewWebhookHandler(gate, processor)
	r.Post("/", webhook.ServeHTTP)
	r.Post("/webhook", webhook.ServeHTTP)

	return r
}
