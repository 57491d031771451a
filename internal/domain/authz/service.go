package authz

import (
	"context"
	"errors"
	"log/slog"

	"github.com/astro-web3/apigw-token-authorizer/internal/domain/autherr"
	"github.com/astro-web3/apigw-token-authorizer/internal/infra/jwks"
	"github.com/astro-web3/apigw-token-authorizer/pkg/logger"
	"github.com/astro-web3/apigw-token-authorizer/pkg/tracer"
	"go.opentelemetry.io/otel/attribute"
)

// KeySetSource yields the signing key set to verify against.
type KeySetSource interface {
	KeySet(ctx context.Context) (*jwks.KeySet, error)
}

// KeySetRefresher is implemented by caching sources that can bypass their
// cache. The service uses it once when a token names an unknown key.
type KeySetRefresher interface {
	Refresh(ctx context.Context) (*jwks.KeySet, error)
}

type Service interface {
	// Authorize always returns a decision unless the failure mode is
	// FailureModeError and the key set could not be obtained.
	Authorize(ctx context.Context, req AuthorizationRequest) (*Decision, error)
}

type service struct {
	source      KeySetSource
	resolver    *KeyResolver
	validator   *TokenValidator
	failureMode FailureMode
}

type Option func(*service)

func WithFailureMode(mode FailureMode) Option {
	return func(s *service) {
		s.failureMode = mode
	}
}

func NewService(source KeySetSource, resolver *KeyResolver, validator *TokenValidator, opts ...Option) Service {
	s := &service{
		source:      source,
		resolver:    resolver,
		validator:   validator,
		failureMode: FailureModeDeny,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) Authorize(ctx context.Context, req AuthorizationRequest) (*Decision, error) {
	ctx, span := tracer.Start(ctx, "domain.authz.Authorize")
	defer span.End()

	token := req.BearerToken()
	if token == "" {
		return s.deny(ctx, req, "", autherr.New(autherr.KindMalformedToken, "token is empty")), nil
	}

	header, err := s.resolver.ParseHeader(token)
	if err != nil {
		return s.deny(ctx, req, "", err), nil
	}
	span.SetAttributes(
		attribute.String("token.kid", header.KeyID),
		attribute.String("token.alg", header.Algorithm),
	)

	if err := s.validator.CheckAlgorithm(header.Algorithm); err != nil {
		return s.deny(ctx, req, header.KeyID, err), nil
	}

	set, err := s.source.KeySet(ctx)
	if err != nil {
		tracer.Fail(span, err)
		return s.retrievalFailure(ctx, req, header.KeyID, err)
	}

	key, err := s.resolver.Lookup(header.KeyID, set)
	if errors.Is(err, autherr.ErrKeyNotFound) {
		if refresher, ok := s.source.(KeySetRefresher); ok {
			logger.DebugContext(ctx, "kid not in cached key set, refreshing", slog.String("kid", header.KeyID))
			set, rerr := refresher.Refresh(ctx)
			if rerr != nil {
				tracer.Fail(span, rerr)
				return s.retrievalFailure(ctx, req, header.KeyID, rerr)
			}
			key, err = s.resolver.Lookup(header.KeyID, set)
		}
	}
	if err != nil {
		return s.deny(ctx, req, header.KeyID, err), nil
	}

	claims, err := s.validator.Validate(token, key)
	if err != nil {
		return s.deny(ctx, req, header.KeyID, err), nil
	}

	return Allow(claims.Subject(), req.ResourceARN), nil
}

func (s *service) retrievalFailure(
	ctx context.Context,
	req AuthorizationRequest,
	kid string,
	err error,
) (*Decision, error) {
	if s.failureMode == FailureModeError && autherr.KindOf(err).Retrieval() {
		logger.ErrorContext(ctx, "signing key set unavailable",
			slog.String("reason", autherr.KindOf(err).String()),
			slog.String("error", err.Error()),
		)
		return nil, autherr.Wrap(autherr.KindServiceUnavailable, "signing key set unavailable", err)
	}
	return s.deny(ctx, req, kid, err), nil
}

func (s *service) deny(ctx context.Context, req AuthorizationRequest, kid string, cause error) *Decision {
	logger.WarnContext(ctx, "authorization denied",
		slog.String("reason", autherr.KindOf(cause).String()),
		slog.String("kid", kid),
		slog.String("resource", req.ResourceARN),
		slog.String("error", cause.Error()),
	)
	return Deny(req.ResourceARN, cause)
}
