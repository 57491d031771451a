package authz

// BuildPolicy returns a policy with a single invoke statement for resource.
func BuildPolicy(effect Effect, resource string) PolicyDocument {
	return PolicyDocument{
		Version: PolicyVersion,
		Statement: []Statement{
			{
				Action:   InvokeAction,
				Effect:   effect,
				Resource: resource,
			},
		},
	}
}

// Allow builds an allowing decision for principal on resource.
func Allow(principalID, resource string) *Decision {
	return &Decision{
		PrincipalID:    principalID,
		PolicyDocument: BuildPolicy(EffectAllow, resource),
	}
}

// Deny builds a denying decision with an empty principal. cause is kept
// for logging and metrics only.
func Deny(resource string, cause error) *Decision {
	return &Decision{
		PolicyDocument: BuildPolicy(EffectDeny, resource),
		Cause:          cause,
	}
}
