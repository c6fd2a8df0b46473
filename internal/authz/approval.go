package authz

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ActionApprovalStatusChange is the audit action emitted by Transition.
const ActionApprovalStatusChange = "approval.status_change"

// ApprovalWorkflow guarantees every identity that has ever authenticated has
// exactly one approval record and answers whether that identity may use
// approval-gated resources right now.
type ApprovalWorkflow struct {
	store Store
	audit *AuditLog
}

// NewApprovalWorkflow constructs the workflow service.
func NewApprovalWorkflow(store Store, audit *AuditLog) (*ApprovalWorkflow, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidInput)
	}
	if audit == nil {
		return nil, fmt.Errorf("%w: audit log is required", ErrInvalidInput)
	}
	return &ApprovalWorkflow{store: store, audit: audit}, nil
}

// Ensure creates the approval record with status PENDING when none exists.
// Idempotent: concurrent calls for the same identity resolve at the storage
// layer through a unique constraint, and the losing caller sees success.
// Repeat calls produce no audit churn.
func (w *ApprovalWorkflow) Ensure(ctx context.Context, identityID string) (ApprovalStatus, error) {
	identityID = strings.TrimSpace(identityID)
	if identityID == "" {
		return "", fmt.Errorf("%w: identity_id is required", ErrInvalidInput)
	}
	rec, err := w.store.Approvals().EnsurePending(ctx, identityID)
	if err != nil {
		return "", err
	}
	return rec.Status, nil
}

// StatusOf reports the identity's approval status. A missing record is
// reported as PENDING; the fail-closed default is never APPROVED.
func (w *ApprovalWorkflow) StatusOf(ctx context.Context, identityID string) (ApprovalStatus, error) {
	identityID = strings.TrimSpace(identityID)
	if identityID == "" {
		return "", fmt.Errorf("%w: identity_id is required", ErrInvalidInput)
	}
	rec, err := w.store.Approvals().Find(ctx, identityID)
	if errors.Is(err, ErrNotFound) {
		return ApprovalPending, nil
	}
	if err != nil {
		return "", err
	}
	return rec.Status, nil
}

// Transition moves the target identity to newStatus. Only an ADMIN actor may
// invoke it; returning to PENDING is never allowed once the identity left it.
// The transition-validity check runs before the actor check so a disallowed
// pair fails with ErrInvalidTransition for any actor. Transitioning to the
// current status is a no-op. On success one approval.status_change audit
// event carries the old and new status in meta.
func (w *ApprovalWorkflow) Transition(ctx context.Context, identityID string, newStatus ApprovalStatus, actorID, reason string) error {
	identityID = strings.TrimSpace(identityID)
	actorID = strings.TrimSpace(actorID)
	if identityID == "" || actorID == "" {
		return fmt.Errorf("%w: identity_id and actor_id are required", ErrInvalidInput)
	}
	if !newStatus.Valid() {
		return fmt.Errorf("%w: unsupported approval status %s", ErrInvalidInput, newStatus)
	}

	current, err := w.StatusOf(ctx, identityID)
	if err != nil {
		return err
	}
	if !transitionAllowed(current, newStatus) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, newStatus)
	}

	isAdmin, err := hasRoleByName(ctx, w.store, actorID, RoleAdmin)
	if err != nil {
		return err
	}
	if !isAdmin {
		return fmt.Errorf("%w: actor %s lacks %s", ErrForbidden, actorID, RoleAdmin)
	}

	if current == newStatus {
		return nil
	}

	// A missing record reads as PENDING; materialize it before the
	// conditional update so the status swap stays a single atomic step.
	if _, err := w.store.Approvals().EnsurePending(ctx, identityID); err != nil {
		return err
	}
	if err := w.store.Approvals().UpdateStatus(ctx, identityID, current, newStatus); err != nil {
		return err
	}

	event := &AuditEvent{
		ActorID:      actorID,
		Action:       ActionApprovalStatusChange,
		TargetUserID: identityID,
		Reason:       reason,
		Meta: map[string]string{
			"from": string(current),
			"to":   string(newStatus),
		},
	}
	if err := w.audit.Record(ctx, event); err != nil {
		reportAuditGap(ActionApprovalStatusChange, err)
	}
	return nil
}

// transitionAllowed encodes the monotonic rule: once an identity leaves
// PENDING it can never return, while APPROVED and REJECTED remain mutually
// reachable for administrative reversal. Same-status pairs are allowed as
// no-ops.
func transitionAllowed(from, to ApprovalStatus) bool {
	if from == to {
		return true
	}
	return to != ApprovalPending
}

// hasRoleByName is the storage-level role check shared by the mutating
// services; it avoids a service-to-service dependency cycle.
func hasRoleByName(ctx context.Context, store Store, identityID, roleName string) (bool, error) {
	names, err := store.Roles().NamesOf(ctx, identityID)
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if strings.EqualFold(n, roleName) {
			return true, nil
		}
	}
	return false, nil
}
