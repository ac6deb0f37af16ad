package auth

import "time"

const (
	RoleStudent = "student"
	RoleFaculty = "faculty"
	RoleAdmin   = "admin"
)

// Audit action tags.
const (
	ActionRegister    = "register"
	ActionLogin       = "login"
	ActionFailedLogin = "failed_login"
	ActionLoginLocked = "login_locked"
	ActionRefresh     = "refresh"
	ActionLogout      = "logout"
	ActionLogoutAll   = "logout_all"
	ActionOrgCreate   = "organization_create"
)

// TokenTypeBearer is reported to clients alongside every token pair.
const TokenTypeBearer = "bearer"

// Organization is a tenant grouping referenced by accounts.
type Organization struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Domain    string    `json:"domain,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Account is the identity record. FailedAttempts and LockExpiry are mutated
// on every password check; accounts are never hard-deleted here.
type Account struct {
	ID             int64
	OrgID          *int64
	Username       string
	Email          string
	PasswordHash   string
	Role           string
	Active         bool
	Verified       bool
	FailedAttempts int
	LockExpiry     *time.Time
	CreatedAt      time.Time
}

// View is the public projection returned to callers. It never carries the hash.
func (a *Account) View() AccountView {
	return AccountView{
		ID:       a.ID,
		Email:    a.Email,
		Username: a.Username,
		Role:     a.Role,
		OrgID:    a.OrgID,
	}
}

// AccountView is the public account projection.
type AccountView struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Role     string `json:"role"`
	OrgID    *int64 `json:"org_id"`
}

// RefreshToken is the server-side record of an issued refresh credential.
// Only the SHA-256 digest of the opaque token is stored.
type RefreshToken struct {
	ID        int64
	AccountID int64
	TokenHash string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Revoked   bool
}

// Active reports whether the record can still be exchanged at now.
func (t *RefreshToken) Active(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}

// AuditEntry is an append-only record of a security-relevant action.
type AuditEntry struct {
	ID        int64     `json:"id"`
	AccountID *int64    `json:"account_id"`
	Action    string    `json:"action"`
	Metadata  string    `json:"metadata,omitempty"`
	ClientIP  string    `json:"client_ip,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// TokenPair is returned by login and refresh.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"-"`
	RefreshExpiresAt time.Time `json:"-"`
}

// RegisterInput carries the registration request.
type RegisterInput struct {
	Username string
	Email    string
	Password string
	Role     string
	OrgID    *int64
	ClientIP string
}

// LoginInput carries the login request.
type LoginInput struct {
	Email    string
	Password string
	ClientIP string
}
