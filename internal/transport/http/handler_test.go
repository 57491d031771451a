package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astro-web3/apigw-token-authorizer/internal/config"
	"github.com/astro-web3/apigw-token-authorizer/internal/domain/autherr"
	"github.com/astro-web3/apigw-token-authorizer/internal/domain/authz"
	"github.com/astro-web3/apigw-token-authorizer/internal/metrics"
	httptransport "github.com/astro-web3/apigw-token-authorizer/internal/transport/http"
)

const methodArn = "arn:aws:execute-api:eu-west-1:123456789012:abc/prod/GET/orders"

type mockAppService struct {
	authorizeFunc func(ctx context.Context, req authz.AuthorizationRequest) (*authz.Decision, error)
	lastRequest   authz.AuthorizationRequest
}

func (m *mockAppService) Authorize(ctx context.Context, req authz.AuthorizationRequest) (*authz.Decision, error) {
	m.lastRequest = req
	if m.authorizeFunc != nil {
		return m.authorizeFunc(ctx, req)
	}
	if req.BearerToken() == "valid-token" {
		return authz.Allow("user-123", req.ResourceARN), nil
	}
	return authz.Deny(req.ResourceARN, autherr.ErrMalformedToken), nil
}

func newTestRouter(svc *mockAppService, m *metrics.Metrics) *gin.Engine {
	cfg := &config.Config{}
	cfg.Server.Mode = "test"

	var metricsHandler http.Handler
	if m != nil {
		metricsHandler = m.Handler()
	}
	router := httptransport.NewRouter(httptransport.NewHandler(svc), cfg, metricsHandler)
	gin.SetMode(gin.TestMode)
	return router
}

func TestHandler_Authorize_Allow(t *testing.T) {
	svc := &mockAppService{}
	router := newTestRouter(svc, nil)

	body := `{"type":"TOKEN","authorizationToken":"Bearer valid-token","methodArn":"` + methodArn + `"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/authorize", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{
		"principalId": "user-123",
		"policyDocument": {
			"Version": "2012-10-17",
			"Statement": [{"Action": "execute-api:Invoke", "Effect": "Allow", "Resource": "`+methodArn+`"}]
		}
	}`, w.Body.String())
	assert.Equal(t, methodArn, svc.lastRequest.ResourceARN)
}

func TestHandler_Authorize_Deny(t *testing.T) {
	router := newTestRouter(&mockAppService{}, nil)

	body := `{"authorizationToken":"abc.def","methodArn":"` + methodArn + `"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/authorize", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var decision authz.Decision
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decision))
	assert.Empty(t, decision.PrincipalID)
	assert.Equal(t, authz.EffectDeny, decision.Effect())
}

func TestHandler_Authorize_BadBody(t *testing.T) {
	router := newTestRouter(&mockAppService{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/authorize", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_Authorize_Errors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{
			name:   "key set unavailable",
			err:    autherr.Wrap(autherr.KindServiceUnavailable, "signing key set unavailable", autherr.ErrFetch),
			status: http.StatusServiceUnavailable,
		},
		{
			name:   "unexpected",
			err:    errors.New("boom"),
			status: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockAppService{authorizeFunc: func(context.Context, authz.AuthorizationRequest) (*authz.Decision, error) {
				return nil, tt.err
			}}
			router := newTestRouter(svc, nil)

			req := httptest.NewRequest(http.MethodPost, "/v1/authorize",
				strings.NewReader(`{"authorizationToken":"t","methodArn":"`+methodArn+`"}`))
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestHandler_Check_Allow(t *testing.T) {
	svc := &mockAppService{}
	router := newTestRouter(svc, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/check/orders/42", nil)
	req.Header.Set("Authorization", "Bearer valid-token")
	req.Header.Set(httptransport.MethodArnHeader, methodArn)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-123", w.Header().Get(httptransport.PrincipalIDHeader))
	assert.Equal(t, methodArn, svc.lastRequest.ResourceARN)
}

func TestHandler_Check_Deny(t *testing.T) {
	router := newTestRouter(&mockAppService{}, nil)

	for _, token := range []string{"", "Bearer invalid-token"} {
		req := httptest.NewRequest(http.MethodPost, "/v1/check/orders", nil)
		if token != "" {
			req.Header.Set("Authorization", token)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Empty(t, w.Header().Get(httptransport.PrincipalIDHeader))
	}
}

func TestHandler_Check_ServiceUnavailable(t *testing.T) {
	svc := &mockAppService{authorizeFunc: func(context.Context, authz.AuthorizationRequest) (*authz.Decision, error) {
		return nil, autherr.ErrServiceUnavailable
	}}
	router := newTestRouter(svc, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/check/", nil)
	req.Header.Set("Authorization", "Bearer valid-token")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	m := metrics.New("")
	m.RecordDecision("Allow", "ok", 0)
	router := newTestRouter(&mockAppService{}, m)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `authorizer_decisions_total{effect="Allow",reason="ok"} 1`)
}

func TestRouter_MetricsDisabled(t *testing.T) {
	router := newTestRouter(&mockAppService{}, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
