package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/astro-web3/apigw-token-authorizer/internal/config"
	httptransport "github.com/astro-web3/apigw-token-authorizer/internal/transport/http"
	"github.com/astro-web3/apigw-token-authorizer/pkg/logger"
	"github.com/astro-web3/apigw-token-authorizer/pkg/otel"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatalf("authorizer: %v", err)
	}
}

func run() error {
	cfg := config.MustLoad()

	srv, err := httptransport.NewServer(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.InfoContext(ctx, "starting authorizer",
			slog.String("addr", cfg.Server.Addr),
			slog.String("mode", cfg.Server.Mode),
			slog.String("jwks_url", cfg.Auth.JWKS.URL),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.InfoContext(context.Background(), "shutting down authorizer")
	case runErr = <-serverErr:
		logger.ErrorContext(context.Background(), "server failed", slog.Any("error", runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorContext(shutdownCtx, "forced shutdown", slog.String("error", err.Error()))
	}
	if err := otel.Shutdown(shutdownCtx); err != nil {
		logger.ErrorContext(shutdownCtx, "failed to flush traces", slog.String("error", err.Error()))
	}

	return runErr
}
