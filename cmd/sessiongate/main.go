package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/common-nighthawk/go-figure"
	"github.com/rs/zerolog"

	"sessiongate.local/gateway/internal/adapter/bridge"
	"sessiongate.local/gateway/internal/config"
	"sessiongate.local/gateway/internal/credentials"
	"sessiongate.local/gateway/internal/db"
	"sessiongate.local/gateway/internal/dispatch"
	"sessiongate.local/gateway/internal/httpapi"
	"sessiongate.local/gateway/internal/journal"
	"sessiongate.local/gateway/internal/logging"
	"sessiongate.local/gateway/internal/metrics"
	"sessiongate.local/gateway/internal/session"
	"sessiongate.local/gateway/internal/subscribers"
	journalsub "sessiongate.local/gateway/internal/subscribers/journal"
	logsub "sessiongate.local/gateway/internal/subscribers/logging"
	"sessiongate.local/gateway/internal/subscribers/webhook"
)

const appName = "sessiongate"

func main() {
	displayAppname(appName)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("sessiongate stopped")
	}
}

func run(cfg config.Config, logger zerolog.Logger) error {
	creds, history, closeStores, err := openStores(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStores(); err != nil {
			logger.Error().Err(err).Msg("store close error")
		}
	}()

	subs := []subscribers.Subscriber{
		logsub.New(logging.Component(logger, "notifications")),
		journalsub.New(history),
	}
	for idx, webhookURL := range cfg.WebhookURLs {
		name := webhookSubscriberName(idx, webhookURL)
		subs = append(subs, webhook.New(name, webhookURL, logging.Component(logger, "webhook")))
	}
	dispatcher := dispatch.New(logger, subs, cfg.NotifyQueueSize)

	mx := metrics.New()
	manager := session.NewManager(
		logger,
		bridge.NewFactory(cfg.BridgeURL, logger),
		creds,
		session.Options{
			MaxSessions:          cfg.MaxSessions,
			IdleTimeout:          cfg.IdleTimeout,
			SendTimeout:          cfg.SendTimeout,
			ResumeInitialBackoff: cfg.ResumeInitialBackoff,
			ResumeMaxBackoff:     cfg.ResumeMaxBackoff,
		},
		session.WithPublisher(dispatcher),
		session.WithMetrics(mx),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := manager.Restore(ctx); err != nil {
		logger.Warn().Err(err).Msg("restore sessions failed")
	}

	sweeper := session.NewSweeper(manager, cfg.SweepInterval, logger)
	if err := sweeper.Start(ctx); err != nil {
		return fmt.Errorf("start idle sweeper: %w", err)
	}

	srv := httpapi.NewServer(logger, cfg.HTTPAddr, manager, history, mx)
	serveErr := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.HTTPAddr).
			Int("max_sessions", cfg.MaxSessions).
			Dur("idle_timeout", cfg.IdleTimeout).
			Msg("listening")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err, ok := <-serveErr:
		if ok && err != nil {
			runErr = fmt.Errorf("http server crashed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown error")
	}
	sweeper.Stop()
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("session shutdown error")
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("notification drain error")
	}
	return runErr
}

// openStores returns the credential and journal stores for the configured
// driver together with a func that closes whatever was opened.
func openStores(cfg config.Config, logger zerolog.Logger) (credentials.Store, journal.Store, func() error, error) {
	if cfg.DBDriver == db.DriverMemory {
		logger.Warn().Msg("using in-memory stores, credentials will not survive a restart")
		creds := credentials.NewMemoryStore()
		history := journal.NewMemoryStore(0)
		return creds, history, func() error {
			return errors.Join(creds.Close(), history.Close())
		}, nil
	}

	gdb, err := db.OpenGorm(cfg.DBDriver, cfg.DBDSN, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open database: %w", err)
	}
	creds, err := credentials.NewGormStore(gdb)
	if err != nil {
		_ = db.Close(gdb)
		return nil, nil, nil, fmt.Errorf("init credential store: %w", err)
	}
	history, err := journal.NewGormStore(gdb)
	if err != nil {
		_ = db.Close(gdb)
		return nil, nil, nil, fmt.Errorf("init journal store: %w", err)
	}
	return creds, history, func() error {
		return errors.Join(creds.Close(), history.Close(), db.Close(gdb))
	}, nil
}

func webhookSubscriberName(index int, webhookURL string) string {
	parsed, err := url.Parse(webhookURL)
	if err == nil && parsed.Host != "" {
		return parsed.Host
	}
	return fmt.Sprintf("webhook-%d", index+1)
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
