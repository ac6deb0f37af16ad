package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	Organizations(ctx context.Context) OrganizationStore
	Accounts(ctx context.Context) AccountStore
	RefreshTokens(ctx context.Context) RefreshTokenStore
	Audit(ctx context.Context) AuditStore
}

// OrganizationStore manages tenants. Create returns ErrOrganizationExists on
// a name collision.
type OrganizationStore interface {
	Create(ctx context.Context, org *Organization) error
	Find(ctx context.Context, id int64) (*Organization, error)
	List(ctx context.Context) ([]*Organization, error)
}

// AccountStore manages accounts. Create returns ErrDuplicateEmail or
// ErrUnknownOrganization for the matching constraint violations.
type AccountStore interface {
	Create(ctx context.Context, a *Account) error
	Find(ctx context.Context, id int64) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	// UpdateWithLock loads the row exclusively, applies fn and writes the
	// result. A non-nil error from fn aborts without writing.
	UpdateWithLock(ctx context.Context, id int64, fn func(*Account) error) (*Account, error)
	Count(ctx context.Context) (int, error)
}

// RefreshTokenStore manages refresh token lifecycle. Tokens are addressed by
// their digest.
type RefreshTokenStore interface {
	Create(ctx context.Context, tok *RefreshToken) error
	FindByHash(ctx context.Context, hash string) (*RefreshToken, error)
	// Rotate revokes the active record for hash and inserts next in one
	// step. It returns ErrNotFound if the record was not active at now.
	Rotate(ctx context.Context, hash string, now time.Time, next *RefreshToken) error
	// Revoke returns ErrNotFound when no record matches.
	Revoke(ctx context.Context, hash string) error
	RevokeAll(ctx context.Context, accountID int64) (int64, error)
}

// AuditStore appends immutable entries.
type AuditStore interface {
	Append(ctx context.Context, entry *AuditEntry) error
	ListByAccount(ctx context.Context, accountID int64, limit int) ([]*AuditEntry, error)
}
