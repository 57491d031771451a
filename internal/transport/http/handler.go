package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"

	appauthz "github.com/astro-web3/apigw-token-authorizer/internal/app/authz"
	"github.com/astro-web3/apigw-token-authorizer/internal/domain/autherr"
	"github.com/astro-web3/apigw-token-authorizer/internal/domain/authz"
	"github.com/astro-web3/apigw-token-authorizer/pkg/logger"
	"github.com/astro-web3/apigw-token-authorizer/pkg/tracer"
)

const (
	// MethodArnHeader carries the resource identifier on forward-auth checks.
	MethodArnHeader = "X-Method-Arn"
	// PrincipalIDHeader is set on allowed forward-auth checks.
	PrincipalIDHeader = "X-Principal-Id"
)

type Handler struct {
	appService appauthz.Service
}

func NewHandler(appService appauthz.Service) *Handler {
	return &Handler{appService: appService}
}

// Authorize decides a JSON-encoded request and returns the decision
// document. Deny is a normal 200 response.
func (h *Handler) Authorize(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "transport.http.Authorize")
	defer span.End()

	var req authz.AuthorizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.SetAttributes(attribute.Bool("request.invalid", true))
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body must be a JSON authorization request"})
		return
	}

	decision, err := h.appService.Authorize(ctx, req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, decision)
}

// Check is the forward-auth variant: the token comes from the
// Authorization header and the answer is carried by the status code.
func (h *Handler) Check(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "transport.http.Check")
	defer span.End()

	req := authz.AuthorizationRequest{
		Token:       c.GetHeader("Authorization"),
		ResourceARN: c.GetHeader(MethodArnHeader),
	}
	if req.Token == "" {
		span.SetAttributes(attribute.Bool("authz.missing_header", true))
	}

	decision, err := h.appService.Authorize(ctx, req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	if !decision.Allowed() {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	if decision.PrincipalID != "" {
		c.Header(PrincipalIDHeader, decision.PrincipalID)
	}
	c.Status(http.StatusOK)
}

func (h *Handler) writeError(c *gin.Context, err error) {
	if errors.Is(err, autherr.ErrServiceUnavailable) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "signing keys unavailable"})
		return
	}

	logger.ErrorContext(c.Request.Context(), "failed to authorize request", slog.String("error", err.Error()))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}
