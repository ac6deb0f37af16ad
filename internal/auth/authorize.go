package auth

import "strings"

// Principal is the caller identity resolved from a valid access token.
type Principal struct {
	Account *Account
	Claims  *AccessClaims
}

// Role returns the account's current role, falling back to the token claim.
func (p Principal) Role() string {
	if p.Account != nil {
		return p.Account.Role
	}
	if p.Claims != nil {
		return p.Claims.Role
	}
	return ""
}

// Allowed reports whether subject may act where required is demanded.
// Admin satisfies every requirement.
func Allowed(subject, required string) bool {
	subject = NormalizeRole(subject)
	if subject == "" {
		return false
	}
	return subject == NormalizeRole(required) || subject == RoleAdmin
}

// NormalizeRole trims and lowercases a role tag.
func NormalizeRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
