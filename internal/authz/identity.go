package authz

import (
	"context"
	"fmt"
	"strings"
)

// ActionAccountStatusChange is the audit action for suspend/reactivate.
const ActionAccountStatusChange = "account.status_change"

// IdentityService maintains identity records on behalf of the external
// identity provider. Creation happens on first successful sign-in; the
// provider has already verified the (email, externalID) pair.
type IdentityService struct {
	store Store
	audit *AuditLog
}

// NewIdentityService constructs the service.
func NewIdentityService(store Store, audit *AuditLog) (*IdentityService, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidInput)
	}
	if audit == nil {
		return nil, fmt.Errorf("%w: audit log is required", ErrInvalidInput)
	}
	return &IdentityService{store: store, audit: audit}, nil
}

// EnsureSignedIn returns the identity for a verified sign-in, creating the
// record on first contact. New identities start ACTIVE; the approval
// workflow, not the account status, gates their first access. Idempotent
// under concurrent duplicate sign-ins.
func (s *IdentityService) EnsureSignedIn(ctx context.Context, email, externalID string) (*IdentityRecord, error) {
	email = NormalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	rec := &IdentityRecord{
		Email:         email,
		ExternalID:    strings.TrimSpace(externalID),
		AccountStatus: AccountActive,
	}
	return s.store.Identities().CreateIfAbsent(ctx, rec)
}

// Find returns the identity by id.
func (s *IdentityService) Find(ctx context.Context, id string) (*IdentityRecord, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: identity_id is required", ErrInvalidInput)
	}
	return s.store.Identities().Find(ctx, id)
}

// FindByEmail returns the identity by its case-insensitive compare key.
func (s *IdentityService) FindByEmail(ctx context.Context, email string) (*IdentityRecord, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	return s.store.Identities().FindByEmail(ctx, email)
}

// SetAccountStatus applies or lifts an operational hold. ADMIN only;
// ACTIVE and SUSPENDED are mutually reversible. Emits an
// account.status_change audit event.
func (s *IdentityService) SetAccountStatus(ctx context.Context, actorID, targetID string, status AccountStatus, reason string) error {
	actorID = strings.TrimSpace(actorID)
	targetID = strings.TrimSpace(targetID)
	if actorID == "" || targetID == "" {
		return fmt.Errorf("%w: actor_id and target_id are required", ErrInvalidInput)
	}
	if !status.Valid() {
		return fmt.Errorf("%w: unsupported account status %s", ErrInvalidInput, status)
	}
	isAdmin, err := hasRoleByName(ctx, s.store, actorID, RoleAdmin)
	if err != nil {
		return err
	}
	if !isAdmin {
		return fmt.Errorf("%w: actor %s lacks %s", ErrForbidden, actorID, RoleAdmin)
	}
	if err := s.store.Identities().SetAccountStatus(ctx, targetID, status); err != nil {
		return err
	}

	event := &AuditEvent{
		ActorID:      actorID,
		Action:       ActionAccountStatusChange,
		TargetUserID: targetID,
		Reason:       reason,
		Meta:         map[string]string{"status": string(status)},
	}
	if err := s.audit.Record(ctx, event); err != nil {
		reportAuditGap(ActionAccountStatusChange, err)
	}
	return nil
}
