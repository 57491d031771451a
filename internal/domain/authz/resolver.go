package authz

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math"
	"math/big"
	"strings"

	"github.com/astro-web3/apigw-token-authorizer/internal/domain/autherr"
	"github.com/astro-web3/apigw-token-authorizer/internal/infra/jwks"
)

const jwtPartsCount = 3

// KeyResolver finds the public key a token was signed with.
type KeyResolver struct{}

func NewKeyResolver() *KeyResolver {
	return &KeyResolver{}
}

// ParseHeader decodes the header segment of token without verifying
// anything else.
func (r *KeyResolver) ParseHeader(token string) (*TokenHeader, error) {
	return parseHeader(token)
}

// Resolve returns the RSA key in set that matches the token's kid.
func (r *KeyResolver) Resolve(token string, set *jwks.KeySet) (*rsa.PublicKey, error) {
	header, err := parseHeader(token)
	if err != nil {
		return nil, err
	}
	return r.Lookup(header.KeyID, set)
}

// Lookup returns the first key in set with identifier kid as an RSA key.
func (r *KeyResolver) Lookup(kid string, set *jwks.KeySet) (*rsa.PublicKey, error) {
	key, ok := set.Find(kid)
	if !ok {
		return nil, autherr.Newf(autherr.KindKeyNotFound, "no key with kid %q in key set", kid)
	}
	return rsaPublicKey(key)
}

func parseHeader(token string) (*TokenHeader, error) {
	parts := strings.Split(token, ".")
	if len(parts) != jwtPartsCount {
		return nil, autherr.Newf(autherr.KindMalformedToken, "token has %d segments, want %d", len(parts), jwtPartsCount)
	}

	data, err := decodeSegment(parts[0])
	if err != nil {
		return nil, autherr.Wrap(autherr.KindMalformedToken, "header is not base64url", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, autherr.Wrap(autherr.KindMalformedToken, "header is not a JSON object", err)
	}

	kid, ok := fields["kid"].(string)
	if !ok || kid == "" {
		return nil, autherr.New(autherr.KindMalformedToken, "header has no kid")
	}
	alg, ok := fields["alg"].(string)
	if !ok || alg == "" {
		return nil, autherr.New(autherr.KindMalformedToken, "header has no alg")
	}

	return &TokenHeader{Algorithm: alg, KeyID: kid}, nil
}

// decodeSegment accepts unpadded base64url as produced by JWT issuers and
// tolerates trailing padding.
func decodeSegment(seg string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(seg, "="))
}

// rsaPublicKey builds a key from the JWK modulus and exponent, both
// big-endian unsigned integers in base64url.
func rsaPublicKey(key *jwks.Key) (*rsa.PublicKey, error) {
	if key.KeyType != "" && key.KeyType != "RSA" {
		return nil, autherr.Newf(autherr.KindKeyFormat, "key %q has type %q, want RSA", key.KeyID, key.KeyType)
	}
	if key.N == "" || key.E == "" {
		return nil, autherr.Newf(autherr.KindKeyFormat, "key %q is missing n or e", key.KeyID)
	}

	nBytes, err := decodeSegment(key.N)
	if err != nil {
		return nil, autherr.Wrap(autherr.KindKeyFormat, "decode modulus of key "+key.KeyID, err)
	}
	n := new(big.Int).SetBytes(nBytes)
	if n.Sign() == 0 {
		return nil, autherr.Newf(autherr.KindKeyFormat, "key %q has a zero modulus", key.KeyID)
	}

	eBytes, err := decodeSegment(key.E)
	if err != nil {
		return nil, autherr.Wrap(autherr.KindKeyFormat, "decode exponent of key "+key.KeyID, err)
	}
	e := new(big.Int).SetBytes(eBytes)
	if !e.IsInt64() || e.Int64() < 2 || e.Int64() > math.MaxInt32 {
		return nil, autherr.Newf(autherr.KindKeyFormat, "key %q has an out of range exponent", key.KeyID)
	}

	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}
