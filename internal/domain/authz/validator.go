package authz

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/astro-web3/apigw-token-authorizer/internal/domain/autherr"
)

// DefaultAlgorithms is the allow-list used when none is configured.
var DefaultAlgorithms = []string{jwt.SigningMethodRS256.Alg()}

// rsaAlgorithms are the only names an allow-list may contain.
var rsaAlgorithms = []string{
	jwt.SigningMethodRS256.Alg(),
	jwt.SigningMethodRS384.Alg(),
	jwt.SigningMethodRS512.Alg(),
}

// TokenValidator checks a token's signature, audience and validity window.
type TokenValidator struct {
	algorithms []string
	parser     *jwt.Parser
}

// NewTokenValidator returns a validator for tokens issued to audience.
// algorithms restricts the accepted header "alg" values; nil means RS256
// only. Names outside the RSA PKCS#1 v1.5 family are rejected.
func NewTokenValidator(audience string, algorithms []string, leeway time.Duration) (*TokenValidator, error) {
	if audience == "" {
		return nil, errors.New("audience is required")
	}
	if len(algorithms) == 0 {
		algorithms = DefaultAlgorithms
	}
	for _, alg := range algorithms {
		if !slices.Contains(rsaAlgorithms, alg) {
			return nil, fmt.Errorf("algorithm %q is not supported, allowed: %v", alg, rsaAlgorithms)
		}
	}

	algs := slices.Clone(algorithms)
	return &TokenValidator{
		algorithms: algs,
		parser: jwt.NewParser(
			jwt.WithValidMethods(algs),
			jwt.WithAudience(audience),
			jwt.WithLeeway(leeway),
			jwt.WithPaddingAllowed(),
		),
	}, nil
}

// CheckAlgorithm rejects header algorithms outside the allow-list. It is
// meant to run before any key lookup or signature work.
func (v *TokenValidator) CheckAlgorithm(alg string) error {
	if !slices.Contains(v.algorithms, alg) {
		return autherr.Newf(autherr.KindUnsupportedAlgorithm, "algorithm %q is not accepted", alg)
	}
	return nil
}

// Validate verifies token with key and returns its claims.
func (v *TokenValidator) Validate(token string, key *rsa.PublicKey) (Claims, error) {
	header, err := parseHeader(token)
	if err != nil {
		return nil, err
	}
	if err := v.CheckAlgorithm(header.Algorithm); err != nil {
		return nil, err
	}
	if key == nil {
		return nil, autherr.New(autherr.KindKeyFormat, "no verification key")
	}

	claims := jwt.MapClaims{}
	_, err = v.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, autherr.Newf(autherr.KindUnsupportedAlgorithm, "unexpected signing method %v", t.Header["alg"])
		}
		return key, nil
	})
	if err != nil {
		return nil, classify(err)
	}

	return Claims(claims), nil
}

// classify maps jwt parser errors onto the failure taxonomy. Temporal
// failures are checked before audience failures so an expired token with a
// wrong audience reports as expired.
func classify(err error) error {
	var own *autherr.Error
	if errors.As(err, &own) {
		return own
	}

	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return autherr.Wrap(autherr.KindMalformedToken, "token could not be parsed", err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return autherr.Wrap(autherr.KindSignatureInvalid, "signature verification failed", err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return autherr.Wrap(autherr.KindTokenExpired, "token has expired", err)
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return autherr.Wrap(autherr.KindTokenExpired, "token is not valid yet", err)
	case errors.Is(err, jwt.ErrTokenInvalidAudience), errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return autherr.Wrap(autherr.KindAudienceMismatch, "audience does not match", err)
	case errors.Is(err, jwt.ErrTokenInvalidClaims):
		return autherr.Wrap(autherr.KindMalformedToken, "claims are invalid", err)
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return autherr.Wrap(autherr.KindKeyFormat, "token could not be verified", err)
	default:
		return autherr.Wrap(autherr.KindSignatureInvalid, "token rejected", err)
	}
}
