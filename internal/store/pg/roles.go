package pg

import (
	"context"
	"database/sql"
	"errors"

	"arabiq.org/internal/authz"
	"arabiq.org/internal/ids"
)

type roleStore struct{ db *sql.DB }

func (s *roleStore) EnsureRoles(ctx context.Context, roles []authz.Role) error {
	for _, role := range roles {
		id := role.ID
		if id == "" {
			id = ids.New()
		}
		_, err := s.db.ExecContext(ctx, `
			insert into roles (id, name, description)
			values ($1, $2, $3)
			on conflict (name) do nothing
		`, id, role.Name, role.Description)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *roleStore) FindByName(ctx context.Context, name string) (*authz.Role, error) {
	var role authz.Role
	err := s.db.QueryRowContext(ctx, `
		select id, name, description, created_at from roles where upper(name) = upper($1)
	`, name).Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, authz.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &role, nil
}

func (s *roleStore) List(ctx context.Context) ([]authz.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, description, created_at from roles order by name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []authz.Role
	for rows.Next() {
		var role authz.Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func (s *roleStore) Assign(ctx context.Context, identityID, roleID string) error {
	_, err := s.db.ExecContext(ctx, `
		insert into identity_roles (identity_id, role_id)
		values ($1, $2)
		on conflict do nothing
	`, identityID, roleID)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
		return authz.ErrNotFound
	}
	return err
}

func (s *roleStore) Unassign(ctx context.Context, identityID, roleID string) error {
	_, err := s.db.ExecContext(ctx, `
		delete from identity_roles where identity_id = $1 and role_id = $2
	`, identityID, roleID)
	return err
}

func (s *roleStore) ReplaceAssignments(ctx context.Context, identityID string, roleIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from identity_roles where identity_id = $1`, identityID); err != nil {
		return err
	}
	for _, roleID := range roleIDs {
		if _, err := tx.ExecContext(ctx, `
			insert into identity_roles (identity_id, role_id)
			values ($1, $2)
			on conflict do nothing
		`, identityID, roleID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *roleStore) NamesOf(ctx context.Context, identityID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select r.name from roles r
		join identity_roles ir on ir.role_id = r.id
		where ir.identity_id = $1
		order by r.name
	`, identityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
