// Package main is the entry point for the landlord portal server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/edo-homes/portal/internal/apiclient"
	"github.com/edo-homes/portal/internal/config"
	"github.com/edo-homes/portal/internal/handler"
	natsclient "github.com/edo-homes/portal/internal/nats"
	"github.com/edo-homes/portal/internal/service"
	"github.com/edo-homes/portal/internal/session"
	"github.com/edo-homes/portal/internal/tokenstore"
	"github.com/edo-homes/portal/pkg/logger"
	"github.com/edo-homes/portal/pkg/tracing"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	log.Info("starting portal server", zap.String("api_base_url", cfg.APIBaseURL))

	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "edo-portal", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	sessionDir, err := resolveSessionDir(cfg.SessionDir)
	if err != nil {
		log.Fatal("failed to resolve session directory", zap.Error(err))
	}

	// Anonymous client for readiness checks; every signed-in browser gets
	// its own client from the session manager.
	anon := apiclient.New(cfg.APIBaseURL, nil,
		apiclient.WithTimeout(cfg.APITimeout),
		apiclient.WithLogger(log),
	)
	if conn := anon.Ping(ctx); !conn.Success {
		log.Warn("backend not reachable at startup", zap.String("reason", conn.Message))
	}

	var (
		publisher service.EventPublisher
		events    handler.EventReader
		natsConn  handler.ConnChecker
	)
	if cfg.NATSEnabled {
		natsClient, err := natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		defer natsClient.Close()

		streamManager := natsclient.NewStreamManager(natsClient)
		if err := streamManager.EnsureStream(ctx); err != nil {
			log.Fatal("failed to ensure stream", zap.Error(err))
		}
		publisher, events, natsConn = streamManager, streamManager, natsClient
	}

	sessions := session.NewManager(session.Config{
		BaseURL:       cfg.APIBaseURL,
		Dir:           sessionDir,
		TTL:           cfg.SessionTTL,
		Secure:        cfg.SessionCookieSecure,
		Publisher:     publisher,
		ClientOptions: []apiclient.Option{apiclient.WithTimeout(cfg.APITimeout)},
		Logger:        log,
	})

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	go sessions.RunJanitor(janitorCtx, time.Minute)

	router := handler.NewRouter(handler.Handlers{
		Health:        handler.NewHealthHandler(anon, natsConn),
		Auth:          handler.NewAuthHandler(sessions, log),
		Conversations: handler.NewConversationHandler(log),
		Messages:      handler.NewMessageHandler(cfg.InboxPageSize, log),
		Directory:     handler.NewDirectoryHandler(log),
		Events:        handler.NewEventHandler(events, log),
		Stream:        handler.NewStreamHandler(cfg.StreamPollInterval, log),
	}, handler.RouterConfig{
		Sessions:          sessions,
		JWTSecret:         cfg.JWTSecret,
		CORSOrigins:       cfg.CORSOrigins,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
		Logger:            log,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}

// resolveSessionDir maps "default" to the per-user config location.
func resolveSessionDir(dir string) (string, error) {
	if dir != "default" {
		return dir, nil
	}
	return tokenstore.DefaultDir()
}
