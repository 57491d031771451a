package authz

import (
	"strings"
)

const (
	PolicyVersion = "2012-10-17"
	InvokeAction  = "execute-api:Invoke"
)

// Effect is the outcome of a policy statement.
type Effect string

const (
	EffectAllow Effect = "Allow"
	EffectDeny  Effect = "Deny"
)

// AuthorizationRequest is the gateway's input to one decision.
type AuthorizationRequest struct {
	Token       string `json:"authorizationToken"`
	ResourceARN string `json:"methodArn"`
}

// BearerToken returns the token with an optional "Bearer" scheme removed.
func (r AuthorizationRequest) BearerToken() string {
	token := strings.TrimSpace(r.Token)
	if len(token) > len(bearerScheme) && strings.EqualFold(token[:len(bearerScheme)], bearerScheme) {
		token = strings.TrimSpace(token[len(bearerScheme):])
	}
	return token
}

const bearerScheme = "Bearer "

// TokenHeader is the decoded first segment of a token.
type TokenHeader struct {
	Algorithm string
	KeyID     string
}

// Claims is the decoded token body.
type Claims map[string]any

// Subject returns the "sub" claim, or "" when absent or not a string.
func (c Claims) Subject() string {
	sub, _ := c["sub"].(string)
	return sub
}

type Statement struct {
	Action   string `json:"Action"`
	Effect   Effect `json:"Effect"`
	Resource string `json:"Resource"`
}

type PolicyDocument struct {
	Version   string      `json:"Version"`
	Statement []Statement `json:"Statement"`
}

// Decision is the authorizer's answer to the gateway. Cause records why a
// request was denied; it is never serialized.
type Decision struct {
	PrincipalID    string         `json:"principalId"`
	PolicyDocument PolicyDocument `json:"policyDocument"`
	Cause          error          `json:"-"`
}

// Effect returns the effect of the decision's single statement.
func (d *Decision) Effect() Effect {
	if d == nil || len(d.PolicyDocument.Statement) == 0 {
		return EffectDeny
	}
	return d.PolicyDocument.Statement[0].Effect
}

func (d *Decision) Allowed() bool {
	return d.Effect() == EffectAllow
}

// FailureMode selects how key set retrieval failures surface.
type FailureMode string

const (
	// FailureModeDeny turns every failure into a Deny decision.
	FailureModeDeny FailureMode = "deny"
	// FailureModeError reports key set retrieval failures as
	// autherr.ErrServiceUnavailable; credential failures still deny.
	FailureModeError FailureMode = "error"
)

func ParseFailureMode(s string) (FailureMode, bool) {
	switch FailureMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", FailureModeDeny:
		return FailureModeDeny, true
	case FailureModeError:
		return FailureModeError, true
	default:
		return "", false
	}
}
