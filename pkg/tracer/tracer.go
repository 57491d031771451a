// Package tracer holds the process-wide tracer used for internal spans.
package tracer

import (
	"context"
	"sync/atomic"

	"github.com/astro-web3/apigw-token-authorizer/pkg/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

//nolint:gochecknoglobals // process-wide tracer
var (
	current    atomic.Pointer[trace.Tracer]
	noopTracer = noop.NewTracerProvider().Tracer("noop")
)

// InitTracer configures exporting for serviceName and makes its tracer the
// one returned by Start.
func InitTracer(serviceName string, cfg otel.Config) error {
	cfg.ServiceName = serviceName
	t, err := otel.InitTracer(cfg)
	if err != nil {
		return err
	}

	current.Store(&t)
	return nil
}

// Start opens a span with the configured tracer, or a no-op span before
// InitTracer has succeeded.
func Start(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if t := current.Load(); t != nil {
		return (*t).Start(ctx, spanName, opts...)
	}
	return noopTracer.Start(ctx, spanName, opts...)
}

// Fail records err on span and marks the span as failed.
func Fail(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
