package authz_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/stretchr/testify/require"

	"github.com/astro-web3/apigw-token-authorizer/internal/domain/authz"
	"github.com/astro-web3/apigw-token-authorizer/internal/infra/jwks"
)

const (
	testAudience = "api://orders"
	testResource = "arn:aws:execute-api:eu-west-1:123456789012:abcdef123/prod/GET/orders"
)

type signingKey struct {
	kid     string
	private *rsa.PrivateKey
}

func newSigningKey(t *testing.T, kid string) *signingKey {
	t.Helper()

	private, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return &signingKey{kid: kid, private: private}
}

func (k *signingKey) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	return k.signWith(t, jwt.SigningMethodRS256, claims)
}

func (k *signingKey) signWith(t *testing.T, method jwt.SigningMethod, claims jwt.MapClaims) string {
	t.Helper()

	token := jwt.NewWithClaims(method, claims)
	token.Header["kid"] = k.kid
	signed, err := token.SignedString(k.private)
	require.NoError(t, err)
	return signed
}

func validClaims(sub string) jwt.MapClaims {
	now := time.Now()
	claims := jwt.MapClaims{
		"aud": testAudience,
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
	if sub != "" {
		claims["sub"] = sub
	}
	return claims
}

func keySetDocument(t *testing.T, keys ...*signingKey) []byte {
	t.Helper()

	set := jwk.NewSet()
	for _, k := range keys {
		key, err := jwk.FromRaw(k.private.Public())
		require.NoError(t, err)
		require.NoError(t, key.Set(jwk.KeyIDKey, k.kid))
		require.NoError(t, key.Set(jwk.AlgorithmKey, "RS256"))
		require.NoError(t, key.Set(jwk.KeyUsageKey, "sig"))
		require.NoError(t, set.AddKey(key))
	}

	doc, err := json.Marshal(set)
	require.NoError(t, err)
	return doc
}

func keySetOf(t *testing.T, keys ...*signingKey) *jwks.KeySet {
	t.Helper()

	set, err := jwks.Parse(keySetDocument(t, keys...))
	require.NoError(t, err)
	return set
}

func newValidator(t *testing.T) *authz.TokenValidator {
	t.Helper()

	v, err := authz.NewTokenValidator(testAudience, nil, 0)
	require.NoError(t, err)
	return v
}

type stubSource struct {
	set   *jwks.KeySet
	err   error
	calls atomic.Int32
}

func (s *stubSource) KeySet(context.Context) (*jwks.KeySet, error) {
	s.calls.Add(1)
	return s.set, s.err
}

type refreshingSource struct {
	stubSource
	refreshed  *jwks.KeySet
	refreshErr error
	refreshes  atomic.Int32
}

func (s *refreshingSource) Refresh(context.Context) (*jwks.KeySet, error) {
	s.refreshes.Add(1)
	return s.refreshed, s.refreshErr
}

// keyServer serves a mutable key set document and counts requests.
type keyServer struct {
	*httptest.Server
	mu   sync.Mutex
	body []byte
	hits atomic.Int32
}

func newKeyServer(t *testing.T, body []byte) *keyServer {
	t.Helper()

	ks := &keyServer{body: body}
	ks.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		ks.hits.Add(1)
		ks.mu.Lock()
		body := ks.body
		ks.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	t.Cleanup(ks.Close)

	return ks
}

func (ks *keyServer) serve(body []byte) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.body = body
}
