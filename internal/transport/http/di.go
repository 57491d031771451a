package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/astro-web3/apigw-token-authorizer/internal/config"
	"github.com/astro-web3/apigw-token-authorizer/internal/di"
)

type Server struct {
	httpServer *http.Server
	authorizer *di.Authorizer
}

const (
	idleTimeoutMultiplier = 2
	serviceName           = di.ServiceName
)

func NewServer(cfg *config.Config) (*Server, error) {
	if err := di.InitObservability(cfg); err != nil {
		return nil, err
	}

	authorizer, err := di.ProvideAuthorizer(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build authorizer: %w", err)
	}

	var metricsHandler http.Handler
	if authorizer.Metrics != nil {
		metricsHandler = authorizer.Metrics.Handler()
	}

	handler := NewHandler(authorizer.Service)
	router := NewRouter(handler, cfg, metricsHandler)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.ReadTimeout * idleTimeoutMultiplier,
	}

	return &Server{
		httpServer: httpServer,
		authorizer: authorizer,
	}, nil
}

func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting requests, waits for in-flight ones and releases
// the shared cache connection.
func (s *Server) Shutdown(ctx context.Context) error {
	return errors.Join(
		s.httpServer.Shutdown(ctx),
		s.authorizer.Close(),
	)
}
