// Package lambda adapts the authorizer to the API Gateway TOKEN authorizer
// event of the Lambda runtime.
package lambda

import (
	"context"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"
	"go.opentelemetry.io/otel/attribute"

	appauthz "github.com/astro-web3/apigw-token-authorizer/internal/app/authz"
	"github.com/astro-web3/apigw-token-authorizer/internal/domain/authz"
	"github.com/astro-web3/apigw-token-authorizer/pkg/logger"
	"github.com/astro-web3/apigw-token-authorizer/pkg/tracer"
)

type Handler struct {
	appService appauthz.Service
}

func NewHandler(appService appauthz.Service) *Handler {
	return &Handler{appService: appService}
}

// Handle answers one authorizer invocation with the decision itself, whose
// JSON form is the policy the gateway expects. An error is returned only
// when the service reports the key set as unavailable; the gateway then
// fails the request instead of caching a Deny.
func (h *Handler) Handle(
	ctx context.Context,
	event events.APIGatewayCustomAuthorizerRequest,
) (*authz.Decision, error) {
	ctx, span := tracer.Start(ctx, "transport.lambda.Handle")
	defer span.End()

	span.SetAttributes(attribute.String("authorizer.type", event.Type))

	decision, err := h.appService.Authorize(ctx, authz.AuthorizationRequest{
		Token:       event.AuthorizationToken,
		ResourceARN: event.MethodArn,
	})
	if err != nil {
		tracer.Fail(span, err)
		logger.ErrorContext(ctx, "authorizer invocation failed", slog.String("error", err.Error()))
		return nil, err
	}

	return decision, nil
}
