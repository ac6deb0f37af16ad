package pg

import (
	"context"
	"database/sql"
	"errors"

	"campusbot.org/identity/internal/auth"
)

const selectAccount = `
	select id, org_id, username, email, password_hash, role, is_active, is_verified,
	       failed_attempts, lock_expiry, created_at
	from accounts`

type accountStore struct{ db *sql.DB }

func (s accountStore) Create(ctx context.Context, a *auth.Account) error {
	err := s.db.QueryRowContext(ctx, `
		insert into accounts (org_id, username, email, password_hash, role, is_active, is_verified, failed_attempts, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, 0, $8)
		returning id
	`, nullInt64(a.OrgID), a.Username, a.Email, a.PasswordHash, a.Role, a.Active, a.Verified, a.CreatedAt.UTC()).Scan(&a.ID)
	switch {
	case isCode(err, pgErrUniqueViolation):
		return auth.ErrDuplicateEmail
	case isCode(err, pgErrForeignKeyViolation):
		return auth.ErrUnknownOrganization
	}
	return err
}

func (s accountStore) Find(ctx context.Context, id int64) (*auth.Account, error) {
	return s.one(ctx, selectAccount+` where id = $1`, id)
}

func (s accountStore) FindByEmail(ctx context.Context, email string) (*auth.Account, error) {
	return s.one(ctx, selectAccount+` where email = $1`, email)
}

func (s accountStore) one(ctx context.Context, query string, arg any) (*auth.Account, error) {
	acct, err := scanAccount(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	return acct, err
}

// UpdateWithLock holds the row lock for the duration of fn, so concurrent
// attempts against one account are applied one after another.
func (s accountStore) UpdateWithLock(ctx context.Context, id int64, fn func(*auth.Account) error) (*auth.Account, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	acct, err := scanAccount(tx.QueryRowContext(ctx, selectAccount+` where id = $1 for update`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := fn(acct); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		update accounts
		set failed_attempts = $2, lock_expiry = $3, is_active = $4, is_verified = $5, role = $6
		where id = $1
	`, acct.ID, acct.FailedAttempts, nullTime(acct.LockExpiry), acct.Active, acct.Verified, acct.Role); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return acct, nil
}

func (s accountStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `select count(*) from accounts`).Scan(&n)
	return n, err
}

func scanAccount(row rowScanner) (*auth.Account, error) {
	var (
		a     auth.Account
		org   sql.NullInt64
		until sql.NullTime
	)
	if err := row.Scan(&a.ID, &org, &a.Username, &a.Email, &a.PasswordHash, &a.Role, &a.Active, &a.Verified,
		&a.FailedAttempts, &until, &a.CreatedAt); err != nil {
		return nil, err
	}
	if org.Valid {
		id := org.Int64
		a.OrgID = &id
	}
	if until.Valid {
		t := until.Time.UTC()
		a.LockExpiry = &t
	}
	return &a, nil
}
