package jwks

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/astro-web3/apigw-token-authorizer/internal/domain/autherr"
	"github.com/astro-web3/apigw-token-authorizer/internal/metrics"
	httpclient "github.com/astro-web3/apigw-token-authorizer/pkg/http"
	"github.com/astro-web3/apigw-token-authorizer/pkg/logger"
	"github.com/astro-web3/apigw-token-authorizer/pkg/tracer"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultFetchTimeout = 5 * time.Second
	maxBodyBytes        = 1 << 20
)

// Fetcher retrieves the key set from a fixed URL. Every call performs one
// GET; there is no retry and no caching at this level.
type Fetcher struct {
	url     string
	timeout time.Duration
	client  *httpclient.Client
	breaker *gobreaker.CircuitBreaker
	metrics *metrics.Metrics
}

type FetcherOption func(*Fetcher)

// WithHTTPClient overrides the client built from the fetch timeout.
func WithHTTPClient(client *httpclient.Client) FetcherOption {
	return func(f *Fetcher) {
		if client != nil {
			f.client = client
		}
	}
}

func WithFetchMetrics(m *metrics.Metrics) FetcherOption {
	return func(f *Fetcher) {
		f.metrics = m
	}
}

// WithCircuitBreaker stops calling the endpoint after threshold
// consecutive failures and probes it again after openTimeout.
func WithCircuitBreaker(threshold uint32, openTimeout time.Duration) FetcherOption {
	return func(f *Fetcher) {
		if threshold == 0 {
			return
		}
		f.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "jwks",
			MaxRequests: 1,
			Timeout:     openTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.WarnContext(context.Background(), "jwks circuit breaker state changed",
					slog.String("breaker", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()),
				)
			},
		})
	}
}

func NewFetcher(url string, timeout time.Duration, opts ...FetcherOption) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}

	f := &Fetcher{
		url:     url,
		timeout: timeout,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = httpclient.NewClient(
			httpclient.WithTimeout(timeout),
			httpclient.WithRetryCount(0),
		)
	}

	return f
}

func (f *Fetcher) URL() string {
	return f.url
}

// KeySet fetches a fresh copy of the key set.
func (f *Fetcher) KeySet(ctx context.Context) (*KeySet, error) {
	return f.Fetch(ctx)
}

// Fetch performs the GET and decodes the body. Transport failures, timeouts
// and non-2xx statuses are fetch errors; an undecodable body is a format
// error.
func (f *Fetcher) Fetch(ctx context.Context) (*KeySet, error) {
	ctx, span := tracer.Start(ctx, "infra.jwks.Fetch")
	defer span.End()

	start := time.Now()

	var (
		set *KeySet
		err error
	)
	if f.breaker != nil {
		var out any
		out, err = f.breaker.Execute(func() (any, error) {
			return f.fetch(ctx)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = autherr.Wrap(autherr.KindFetch, "signing key endpoint circuit open", err)
		}
		if err == nil {
			set, _ = out.(*KeySet)
		}
	} else {
		set, err = f.fetch(ctx)
	}

	if err != nil {
		tracer.Fail(span, err)
		span.SetAttributes(attribute.String("jwks.failure_kind", autherr.KindOf(err).String()))
		f.metrics.RecordFetch("error", time.Since(start))
		return nil, err
	}

	span.SetAttributes(attribute.Int("jwks.key_count", set.Len()))
	f.metrics.RecordFetch("success", time.Since(start))
	return set, nil
}

func (f *Fetcher) fetch(ctx context.Context) (*KeySet, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	resp, err := f.client.Get(ctx, f.url, httpclient.WithRawBody())
	if err != nil {
		return nil, autherr.Wrap(autherr.KindFetch, "GET signing key set", err)
	}
	body := resp.RawBody()
	if body == nil {
		return nil, autherr.New(autherr.KindFetch, "empty response from signing key endpoint")
	}
	defer body.Close()

	if !resp.IsSuccess() {
		return nil, autherr.Newf(autherr.KindFetch, "signing key endpoint returned status %d", resp.StatusCode())
	}

	data, err := io.ReadAll(io.LimitReader(body, maxBodyBytes+1))
	if err != nil {
		return nil, autherr.Wrap(autherr.KindFetch, "read signing key set", err)
	}
	if len(data) > maxBodyBytes {
		return nil, autherr.Newf(autherr.KindFormat, "signing key set exceeds %d bytes", maxBodyBytes)
	}

	return Parse(data)
}
