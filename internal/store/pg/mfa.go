package pg

import (
	"context"
	"database/sql"
	"errors"

	"arabiq.org/internal/authz"
)

type mfaStore struct{ db *sql.DB }

func (s *mfaStore) Upsert(ctx context.Context, enrollment *authz.MFAEnrollment) error {
	// A new enrollment cycle always clears the verification timestamp.
	_, err := s.db.ExecContext(ctx, `
		insert into mfa_enrollments (identity_id, secret, created_at, verified_at)
		values ($1, $2, $3, null)
		on conflict (identity_id) do update
		set secret = excluded.secret, created_at = excluded.created_at, verified_at = null
	`, enrollment.IdentityID, enrollment.Secret, enrollment.CreatedAt)
	return err
}

func (s *mfaStore) Find(ctx context.Context, identityID string) (*authz.MFAEnrollment, error) {
	var (
		rec        authz.MFAEnrollment
		verifiedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		select identity_id, secret, created_at, verified_at
		from mfa_enrollments where identity_id = $1
	`, identityID).Scan(&rec.IdentityID, &rec.Secret, &rec.CreatedAt, &verifiedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, authz.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if verifiedAt.Valid {
		t := verifiedAt.Time
		rec.VerifiedAt = &t
	}
	return &rec, nil
}

func (s *mfaStore) MarkVerified(ctx context.Context, identityID string) error {
	res, err := s.db.ExecContext(ctx, `
		update mfa_enrollments set verified_at = now() where identity_id = $1
	`, identityID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return authz.ErrNotFound
	}
	return nil
}
