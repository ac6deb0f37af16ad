package pg

import (
	"context"
	"database/sql"
	"errors"

	"campusbot.org/identity/internal/auth"
)

type orgStore struct{ db *sql.DB }

func (s orgStore) Create(ctx context.Context, org *auth.Organization) error {
	err := s.db.QueryRowContext(ctx, `
		insert into organizations (name, domain, created_at)
		values ($1, $2, $3)
		returning id
	`, org.Name, nullString(org.Domain), org.CreatedAt.UTC()).Scan(&org.ID)
	if isCode(err, pgErrUniqueViolation) {
		return auth.ErrOrganizationExists
	}
	return err
}

func (s orgStore) Find(ctx context.Context, id int64) (*auth.Organization, error) {
	org, err := scanOrganization(s.db.QueryRowContext(ctx, `
		select id, name, domain, created_at
		from organizations
		where id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	return org, err
}

func (s orgStore) List(ctx context.Context) ([]*auth.Organization, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, domain, created_at
		from organizations
		order by id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*auth.Organization
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, org)
	}
	return result, rows.Err()
}

func scanOrganization(row rowScanner) (*auth.Organization, error) {
	var (
		org    auth.Organization
		domain sql.NullString
	)
	if err := row.Scan(&org.ID, &org.Name, &domain, &org.CreatedAt); err != nil {
		return nil, err
	}
	org.Domain = domain.String
	return &org, nil
}
