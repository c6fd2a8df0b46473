package authz

import (
	"context"
	"testing"
)

// testCore wires every service over a shared in-memory store.
type testCore struct {
	store      *InMemory
	audit      *AuditLog
	identities *IdentityService
	approvals  *ApprovalWorkflow
	registry   *RoleRegistry
	mfa        *MFAGate
}

func newTestCore(t *testing.T, mfaOpts ...MFAOption) *testCore {
	t.Helper()
	store := NewInMemory()
	audit, err := NewAuditLog(store)
	if err != nil {
		t.Fatalf("NewAuditLog: %v", err)
	}
	identities, err := NewIdentityService(store, audit)
	if err != nil {
		t.Fatalf("NewIdentityService: %v", err)
	}
	approvals, err := NewApprovalWorkflow(store, audit)
	if err != nil {
		t.Fatalf("NewApprovalWorkflow: %v", err)
	}
	registry, err := NewRoleRegistry(store, audit)
	if err != nil {
		t.Fatalf("NewRoleRegistry: %v", err)
	}
	mfa, err := NewMFAGate(store, audit, mfaOpts...)
	if err != nil {
		t.Fatalf("NewMFAGate: %v", err)
	}
	if err := registry.BootstrapWellKnownRoles(context.Background()); err != nil {
		t.Fatalf("BootstrapWellKnownRoles: %v", err)
	}
	return &testCore{
		store:      store,
		audit:      audit,
		identities: identities,
		approvals:  approvals,
		registry:   registry,
		mfa:        mfa,
	}
}

func (c *testCore) signIn(t *testing.T, email string) *IdentityRecord {
	t.Helper()
	rec, err := c.identities.EnsureSignedIn(context.Background(), email, "ext-"+email)
	if err != nil {
		t.Fatalf("EnsureSignedIn(%s): %v", email, err)
	}
	return rec
}

// grantRole assigns directly through the store, bypassing the admin check,
// for fixture setup only.
func (c *testCore) grantRole(t *testing.T, identityID, roleName string) {
	t.Helper()
	role, err := c.store.Roles().FindByName(context.Background(), roleName)
	if err != nil {
		t.Fatalf("FindByName(%s): %v", roleName, err)
	}
	if err := c.store.Roles().Assign(context.Background(), identityID, role.ID); err != nil {
		t.Fatalf("Assign(%s, %s): %v", identityID, roleName, err)
	}
}

func (c *testCore) newAdmin(t *testing.T, email string) *IdentityRecord {
	t.Helper()
	admin := c.signIn(t, email)
	c.grantRole(t, admin.ID, RoleAdmin)
	return admin
}

func (c *testCore) eventsFor(t *testing.T, targetID string) []AuditEvent {
	t.Helper()
	events, _, err := c.audit.QueryByTarget(context.Background(), targetID, "", 500)
	if err != nil {
		t.Fatalf("QueryByTarget(%s): %v", targetID, err)
	}
	return events
}
