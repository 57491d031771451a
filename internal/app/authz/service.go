package authz

import (
	"context"
	"time"

	"github.com/astro-web3/apigw-token-authorizer/internal/domain/autherr"
	"github.com/astro-web3/apigw-token-authorizer/internal/domain/authz"
	"github.com/astro-web3/apigw-token-authorizer/internal/metrics"
	"github.com/astro-web3/apigw-token-authorizer/pkg/tracer"
	"go.opentelemetry.io/otel/attribute"
)

type Service interface {
	Authorize(ctx context.Context, req authz.AuthorizationRequest) (*authz.Decision, error)
}

type service struct {
	domainService authz.Service
	metrics       *metrics.Metrics
}

// NewService wraps the domain service with tracing and decision metrics.
// m may be nil.
func NewService(domainService authz.Service, m *metrics.Metrics) Service {
	return &service{
		domainService: domainService,
		metrics:       m,
	}
}

func (s *service) Authorize(ctx context.Context, req authz.AuthorizationRequest) (*authz.Decision, error) {
	ctx, span := tracer.Start(ctx, "app.authz.Authorize")
	defer span.End()

	span.SetAttributes(attribute.String("authz.resource", req.ResourceARN))

	start := time.Now()
	decision, err := s.domainService.Authorize(ctx, req)
	elapsed := time.Since(start)

	if err != nil {
		tracer.Fail(span, err)
		span.SetAttributes(attribute.String("authz.failure_kind", autherr.KindOf(err).String()))
		s.metrics.RecordDecision("error", autherr.KindOf(err).String(), elapsed)
		return nil, err
	}

	effect := string(decision.Effect())
	reason := "ok"
	if !decision.Allowed() {
		reason = autherr.KindOf(decision.Cause).String()
		span.SetAttributes(attribute.String("authz.failure_kind", reason))
	}
	span.SetAttributes(
		attribute.String("authz.effect", effect),
		attribute.Bool("authz.allowed", decision.Allowed()),
	)
	s.metrics.RecordDecision(effect, reason, elapsed)

	return decision, nil
}
