// Package di assembles the authorizer from configuration. Both the HTTP
// server and the Lambda entry point are built from here.
package di

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	appauthz "github.com/astro-web3/apigw-token-authorizer/internal/app/authz"
	"github.com/astro-web3/apigw-token-authorizer/internal/config"
	"github.com/astro-web3/apigw-token-authorizer/internal/domain/authz"
	"github.com/astro-web3/apigw-token-authorizer/internal/infra/cache"
	"github.com/astro-web3/apigw-token-authorizer/internal/infra/jwks"
	"github.com/astro-web3/apigw-token-authorizer/internal/metrics"
	"github.com/astro-web3/apigw-token-authorizer/pkg/logger"
	"github.com/astro-web3/apigw-token-authorizer/pkg/otel"
	"github.com/astro-web3/apigw-token-authorizer/pkg/tracer"
)

const ServiceName = "apigw-token-authorizer"

// InitObservability installs the global logger and tracer.
func InitObservability(cfg *config.Config) error {
	logger.Init(logger.Options{
		Level:     cfg.Observability.LogLevel,
		Format:    cfg.Observability.Format,
		AddSource: cfg.Observability.LogSource,
		Service:   ServiceName,
	})

	otelCfg := otel.DefaultConfig()
	otelCfg.EndpointURL = cfg.Observability.TracingEndpointURL
	otelCfg.Enabled = cfg.Observability.TraceEnabled
	if err := tracer.InitTracer(ServiceName, otelCfg); err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}

	return nil
}

// Authorizer is the assembled decision service plus the resources it owns.
type Authorizer struct {
	Service appauthz.Service
	// Metrics is nil when metrics are disabled.
	Metrics *metrics.Metrics

	redisClient *redis.Client
}

func (a *Authorizer) Close() error {
	if a.redisClient == nil {
		return nil
	}
	return a.redisClient.Close()
}

// ProvideAuthorizer builds the pipeline described by cfg. An unreachable
// shared cache is logged and skipped; every other problem is returned.
func ProvideAuthorizer(ctx context.Context, cfg *config.Config) (*Authorizer, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}

	a := &Authorizer{}
	if cfg.Observability.MetricsEnabled {
		a.Metrics = metrics.New("")
	}

	source, err := a.keySetSource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	validator, err := authz.NewTokenValidator(cfg.Auth.Audience, cfg.Auth.Algorithms, cfg.Auth.Leeway)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to create token validator: %w", err)
	}

	mode, ok := authz.ParseFailureMode(cfg.Auth.FailureMode)
	if !ok {
		_ = a.Close()
		return nil, fmt.Errorf("unknown failure mode %q", cfg.Auth.FailureMode)
	}

	domainService := authz.NewService(source, authz.NewKeyResolver(), validator, authz.WithFailureMode(mode))
	a.Service = appauthz.NewService(domainService, a.Metrics)

	return a, nil
}

func (a *Authorizer) keySetSource(ctx context.Context, cfg *config.Config) (authz.KeySetSource, error) {
	jwksCfg := cfg.Auth.JWKS
	if jwksCfg.URL == "" {
		return nil, errors.New("auth.jwks.url is required")
	}

	fetcherOpts := []jwks.FetcherOption{jwks.WithFetchMetrics(a.Metrics)}
	if jwksCfg.Breaker.Enabled {
		fetcherOpts = append(fetcherOpts,
			jwks.WithCircuitBreaker(jwksCfg.Breaker.FailureThreshold, jwksCfg.Breaker.OpenTimeout))
	}
	fetcher := jwks.NewFetcher(jwksCfg.URL, jwksCfg.FetchTimeout, fetcherOpts...)

	if jwksCfg.CacheTTL == 0 {
		logger.InfoContext(ctx, "key set caching disabled, fetching on every request")
		return fetcher, nil
	}

	sourceOpts := []jwks.SourceOption{
		jwks.WithMinRefreshInterval(jwksCfg.MinRefreshInterval),
		jwks.WithCacheMetrics(a.Metrics),
	}

	if cfg.Redis.URL != "" {
		client, err := cache.NewRedisClient(cfg.Redis.URL, cfg.Redis.PoolSize)
		if err != nil {
			logger.WarnContext(ctx, "shared key set cache unavailable, continuing without it",
				slog.String("error", err.Error()))
		} else {
			a.redisClient = client
			sourceOpts = append(sourceOpts, jwks.WithSharedStore(cache.NewKeySetStore(client)))
		}
	}

	return jwks.NewCachedSource(fetcher, jwksCfg.CacheTTL, sourceOpts...), nil
}
