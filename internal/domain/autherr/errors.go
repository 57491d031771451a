// Package autherr defines the closed set of failures an authorization
// decision can run into. Callers branch with errors.Is against the
// sentinels below instead of matching messages.
package autherr

import (
	"errors"
	"fmt"
)

// Kind identifies a failure class.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindMalformedToken
	KindUnsupportedAlgorithm
	KindKeyNotFound
	KindKeyFormat
	KindSignatureInvalid
	KindAudienceMismatch
	KindTokenExpired
	KindFetch
	KindFormat
	KindServiceUnavailable
)

var kindNames = map[Kind]string{
	KindUnknown:              "unknown",
	KindMalformedToken:       "malformed_token",
	KindUnsupportedAlgorithm: "unsupported_algorithm",
	KindKeyNotFound:          "key_not_found",
	KindKeyFormat:            "key_format",
	KindSignatureInvalid:     "signature_invalid",
	KindAudienceMismatch:     "audience_mismatch",
	KindTokenExpired:         "token_expired",
	KindFetch:                "jwks_fetch",
	KindFormat:               "jwks_format",
	KindServiceUnavailable:   "service_unavailable",
}

// String returns a stable snake_case name, safe to use as a metric label.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return kindNames[KindUnknown]
}

// Retrieval reports whether the kind describes a key-set retrieval problem
// rather than a problem with the presented credential.
func (k Kind) Retrieval() bool {
	return k == KindFetch || k == KindFormat
}

// Sentinel errors, one per kind.
var (
	ErrMalformedToken       = &Error{Kind: KindMalformedToken}
	ErrUnsupportedAlgorithm = &Error{Kind: KindUnsupportedAlgorithm}
	ErrKeyNotFound          = &Error{Kind: KindKeyNotFound}
	ErrKeyFormat            = &Error{Kind: KindKeyFormat}
	ErrSignatureInvalid     = &Error{Kind: KindSignatureInvalid}
	ErrAudienceMismatch     = &Error{Kind: KindAudienceMismatch}
	ErrTokenExpired         = &Error{Kind: KindTokenExpired}
	ErrFetch                = &Error{Kind: KindFetch}
	ErrFormat               = &Error{Kind: KindFormat}
	ErrServiceUnavailable   = &Error{Kind: KindServiceUnavailable}
)

// Error is a classified authorization failure.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

// New creates an Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates an Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind around a lower-level cause.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Msg == "" && e.Err == nil:
		return e.Kind.String()
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	case e.Msg == "":
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrKeyNotFound)
// holds for every key-not-found failure regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the outermost *Error in err's chain, or
// KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
