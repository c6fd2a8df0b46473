package authz

import "context"

// Store describes persistence operations required by the authorization core.
// Implementations must support unique-constraint based idempotent create and
// atomic conditional update; the services never read-then-write in two steps.
type Store interface {
	Identities() IdentityStore
	Approvals() ApprovalStore
	Roles() RoleStore
	Audit() AuditStore
	MFA() MFAStore
}

// IdentityStore manages identity records.
type IdentityStore interface {
	// CreateIfAbsent inserts the record keyed by the unique email compare key.
	// When a record with the same email already exists it is returned
	// unchanged and the concurrent caller is treated as success.
	CreateIfAbsent(ctx context.Context, rec *IdentityRecord) (*IdentityRecord, error)
	Find(ctx context.Context, id string) (*IdentityRecord, error)
	FindByEmail(ctx context.Context, email string) (*IdentityRecord, error)
	// SetAccountStatus performs an atomic conditional update and returns
	// ErrNotFound when the identity does not exist.
	SetAccountStatus(ctx context.Context, id string, status AccountStatus) error
}

// ApprovalStore manages one approval record per identity.
type ApprovalStore interface {
	// EnsurePending is an atomic create-if-absent keyed by identity id.
	// Losing a concurrent race is success, not conflict.
	EnsurePending(ctx context.Context, identityID string) (*ApprovalRecord, error)
	Find(ctx context.Context, identityID string) (*ApprovalRecord, error)
	// UpdateStatus atomically moves the record from one status to another.
	// It returns ErrConflict when the stored status no longer matches from,
	// so two admins acting concurrently cannot lose updates.
	UpdateStatus(ctx context.Context, identityID string, from, to ApprovalStatus) error
}

// RoleStore manages the role catalog and assignments.
type RoleStore interface {
	// EnsureRoles creates any missing roles by unique name. Safe to call on
	// every process start.
	EnsureRoles(ctx context.Context, roles []Role) error
	FindByName(ctx context.Context, name string) (*Role, error)
	List(ctx context.Context) ([]Role, error)
	// Assign inserts the (identity, role) pair, ignoring duplicates.
	Assign(ctx context.Context, identityID, roleID string) error
	Unassign(ctx context.Context, identityID, roleID string) error
	// ReplaceAssignments swaps the identity's whole role set in one atomic step.
	ReplaceAssignments(ctx context.Context, identityID string, roleIDs []string) error
	// NamesOf returns the names of all roles held by the identity.
	NamesOf(ctx context.Context, identityID string) ([]string, error)
}

// AuditStore appends immutable events and serves paged reads.
type AuditStore interface {
	Append(ctx context.Context, event *AuditEvent) error
	// ListByTarget and ListByActor return up to limit events with id greater
	// than afterID, oldest first. The cursor makes the sequence restartable.
	ListByTarget(ctx context.Context, targetUserID, afterID string, limit int) ([]AuditEvent, error)
	ListByActor(ctx context.Context, actorID, afterID string, limit int) ([]AuditEvent, error)
}

// MFAStore manages per-identity enrollment secrets.
type MFAStore interface {
	// Upsert replaces any previous enrollment, starting a fresh cycle with a
	// cleared verification timestamp.
	Upsert(ctx context.Context, enrollment *MFAEnrollment) error
	Find(ctx context.Context, identityID string) (*MFAEnrollment, error)
	MarkVerified(ctx context.Context, identityID string) error
}
