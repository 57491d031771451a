package jwks

import (
	"encoding/json"

	"github.com/astro-web3/apigw-token-authorizer/internal/domain/autherr"
)

// KeySet is a fetched JSON Web Key Set. It is never mutated after it has
// been decoded, so a *KeySet can be shared between goroutines.
type KeySet struct {
	Keys []Key `json:"keys"`
}

// Key is one entry of a key set. Only the RSA members are kept.
type Key struct {
	KeyID     string `json:"kid"`
	KeyType   string `json:"kty,omitempty"`
	Algorithm string `json:"alg,omitempty"`
	Use       string `json:"use,omitempty"`
	N         string `json:"n"`
	E         string `json:"e"`
}

// Find returns the first key whose identifier equals kid.
func (s *KeySet) Find(kid string) (*Key, bool) {
	if s == nil {
		return nil, false
	}
	for i := range s.Keys {
		if s.Keys[i].KeyID == kid {
			return &s.Keys[i], true
		}
	}
	return nil, false
}

// Len returns the number of keys, zero for a nil set.
func (s *KeySet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Keys)
}

// Parse decodes a key set document. The "keys" member must be present and
// be an array; anything else is a format error. Individual entries are
// decoded leniently: members with the wrong JSON type are treated as
// absent so that one odd key does not invalidate the whole set.
func Parse(data []byte) (*KeySet, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, autherr.Wrap(autherr.KindFormat, "key set is not a JSON object", err)
	}

	raw, ok := doc["keys"]
	if !ok {
		return nil, autherr.New(autherr.KindFormat, `key set has no "keys" member`)
	}

	var entries []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, autherr.Wrap(autherr.KindFormat, `"keys" is not an array of objects`, err)
	}
	if entries == nil {
		return nil, autherr.New(autherr.KindFormat, `"keys" is null`)
	}

	set := &KeySet{Keys: make([]Key, 0, len(entries))}
	for _, entry := range entries {
		set.Keys = append(set.Keys, Key{
			KeyID:     stringMember(entry, "kid"),
			KeyType:   stringMember(entry, "kty"),
			Algorithm: stringMember(entry, "alg"),
			Use:       stringMember(entry, "use"),
			N:         stringMember(entry, "n"),
			E:         stringMember(entry, "e"),
		})
	}

	return set, nil
}

func stringMember(entry map[string]json.RawMessage, name string) string {
	raw, ok := entry[name]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
