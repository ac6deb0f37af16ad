package pg

import (
	"context"
	"database/sql"

	"campusbot.org/identity/internal/auth"
)

type auditStore struct{ db *sql.DB }

func (s auditStore) Append(ctx context.Context, entry *auth.AuditEntry) error {
	return s.db.QueryRowContext(ctx, `
		insert into audit_logs (account_id, action, metadata, client_ip, created_at)
		values ($1, $2, $3, $4, $5)
		returning id
	`, nullInt64(entry.AccountID), entry.Action, nullString(entry.Metadata), nullString(entry.ClientIP), entry.CreatedAt.UTC()).Scan(&entry.ID)
}

func (s auditStore) ListByAccount(ctx context.Context, accountID int64, limit int) ([]*auth.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, account_id, action, metadata, client_ip, created_at
		from audit_logs
		where account_id = $1
		order by created_at desc, id desc
		limit $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*auth.AuditEntry
	for rows.Next() {
		var (
			e        auth.AuditEntry
			account  sql.NullInt64
			metadata sql.NullString
			ip       sql.NullString
		)
		if err := rows.Scan(&e.ID, &account, &e.Action, &metadata, &ip, &e.CreatedAt); err != nil {
			return nil, err
		}
		if account.Valid {
			id := account.Int64
			e.AccountID = &id
		}
		e.Metadata = metadata.String
		e.ClientIP = ip.String
		result = append(result, &e)
	}
	return result, rows.Err()
}
