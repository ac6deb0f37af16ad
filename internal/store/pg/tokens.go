package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"campusbot.org/identity/internal/auth"
)

type tokenStore struct{ db *sql.DB }

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertToken(ctx context.Context, q rowQuerier, tok *auth.RefreshToken) error {
	err := q.QueryRowContext(ctx, `
		insert into refresh_tokens (account_id, token_hash, issued_at, expires_at, revoked)
		values ($1, $2, $3, $4, false)
		returning id
	`, tok.AccountID, tok.TokenHash, tok.IssuedAt.UTC(), tok.ExpiresAt.UTC()).Scan(&tok.ID)
	switch {
	case isCode(err, pgErrUniqueViolation):
		return auth.ErrDuplicateToken
	case isCode(err, pgErrForeignKeyViolation):
		return auth.ErrNotFound
	}
	return err
}

func (s tokenStore) Create(ctx context.Context, tok *auth.RefreshToken) error {
	return insertToken(ctx, s.db, tok)
}

func (s tokenStore) FindByHash(ctx context.Context, hash string) (*auth.RefreshToken, error) {
	var tok auth.RefreshToken
	err := s.db.QueryRowContext(ctx, `
		select id, account_id, token_hash, issued_at, expires_at, revoked
		from refresh_tokens
		where token_hash = $1
	`, hash).Scan(&tok.ID, &tok.AccountID, &tok.TokenHash, &tok.IssuedAt, &tok.ExpiresAt, &tok.Revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tok, nil
}

// Rotate uses a conditional update as the check-and-revoke step. Of several
// callers presenting the same token only one sees a row affected.
func (s tokenStore) Rotate(ctx context.Context, hash string, now time.Time, next *auth.RefreshToken) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update refresh_tokens
		set revoked = true
		where token_hash = $1 and revoked = false and expires_at > $2
	`, hash, now.UTC())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	if err := insertToken(ctx, tx, next); err != nil {
		return err
	}
	return tx.Commit()
}

func (s tokenStore) Revoke(ctx context.Context, hash string) error {
	res, err := s.db.ExecContext(ctx, `update refresh_tokens set revoked = true where token_hash = $1`, hash)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s tokenStore) RevokeAll(ctx context.Context, accountID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		update refresh_tokens
		set revoked = true
		where account_id = $1 and revoked = false
	`, accountID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
