package authz

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestBootstrapWellKnownRolesIdempotent(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()

	if err := core.registry.BootstrapWellKnownRoles(ctx); err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
	roles, err := core.registry.ListRoles(ctx)
	if err != nil {
		t.Fatalf("ListRoles: %v", err)
	}
	if len(roles) != len(WellKnownRoles) {
		t.Fatalf("role count = %d, want %d", len(roles), len(WellKnownRoles))
	}
}

func TestElevateGrantsAndIsIdempotent(t *testing.T) {
	core := newTestCore(t)
	admin := core.newAdmin(t, "admin@example.com")
	user := core.signIn(t, "user@example.com")
	ctx := context.Background()

	if err := core.registry.Elevate(ctx, admin.ID, user.ID, RoleClient); err != nil {
		t.Fatalf("Elevate: %v", err)
	}
	if err := core.registry.Elevate(ctx, admin.ID, user.ID, "client"); err != nil {
		t.Fatalf("repeat elevate must be a no-op: %v", err)
	}

	roles, err := core.registry.RolesOf(ctx, user.ID)
	if err != nil {
		t.Fatalf("RolesOf: %v", err)
	}
	if !reflect.DeepEqual(roles, []string{RoleClient}) {
		t.Fatalf("roles = %v", roles)
	}

	has, err := core.registry.HasRole(ctx, user.ID, "Client")
	if err != nil || !has {
		t.Fatalf("HasRole case-insensitive = %v, %v", has, err)
	}
}

func TestElevateRequiresAdmin(t *testing.T) {
	core := newTestCore(t)
	user := core.signIn(t, "user@example.com")
	mallory := core.signIn(t, "mallory@example.com")

	err := core.registry.Elevate(context.Background(), mallory.ID, user.ID, RoleClient)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
}

func TestElevateUnknownRole(t *testing.T) {
	core := newTestCore(t)
	admin := core.newAdmin(t, "admin@example.com")
	user := core.signIn(t, "user@example.com")

	err := core.registry.Elevate(context.Background(), admin.ID, user.ID, "WIZARD")
	if !errors.Is(err, ErrUnknownRole) {
		t.Fatalf("err = %v, want ErrUnknownRole", err)
	}
}

func TestRevoke(t *testing.T) {
	core := newTestCore(t)
	admin := core.newAdmin(t, "admin@example.com")
	user := core.signIn(t, "user@example.com")
	ctx := context.Background()

	if err := core.registry.Elevate(ctx, admin.ID, user.ID, RolePremium); err != nil {
		t.Fatalf("Elevate: %v", err)
	}
	if err := core.registry.Revoke(ctx, admin.ID, user.ID, RolePremium); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	// Revoking a role the target does not hold is a no-op.
	if err := core.registry.Revoke(ctx, admin.ID, user.ID, RolePremium); err != nil {
		t.Fatalf("repeat revoke: %v", err)
	}
	roles, _ := core.registry.RolesOf(ctx, user.ID)
	if len(roles) != 0 {
		t.Fatalf("roles after revoke = %v", roles)
	}
}

func TestSetRolesReplacesAtomically(t *testing.T) {
	core := newTestCore(t)
	admin := core.newAdmin(t, "admin@example.com")
	user := core.signIn(t, "user@example.com")
	ctx := context.Background()

	if err := core.registry.SetRoles(ctx, admin.ID, user.ID, []string{RoleClient, RolePremium, "client"}); err != nil {
		t.Fatalf("SetRoles: %v", err)
	}
	roles, _ := core.registry.RolesOf(ctx, user.ID)
	if !reflect.DeepEqual(roles, []string{RoleClient, RolePremium}) {
		t.Fatalf("roles = %v", roles)
	}

	if err := core.registry.SetRoles(ctx, admin.ID, user.ID, []string{RolePremium}); err != nil {
		t.Fatalf("SetRoles replace: %v", err)
	}
	roles, _ = core.registry.RolesOf(ctx, user.ID)
	if !reflect.DeepEqual(roles, []string{RolePremium}) {
		t.Fatalf("roles after replace = %v", roles)
	}

	// One unknown name fails the whole call before anything changes.
	err := core.registry.SetRoles(ctx, admin.ID, user.ID, []string{RoleClient, "WIZARD"})
	if !errors.Is(err, ErrUnknownRole) {
		t.Fatalf("err = %v, want ErrUnknownRole", err)
	}
	roles, _ = core.registry.RolesOf(ctx, user.ID)
	if !reflect.DeepEqual(roles, []string{RolePremium}) {
		t.Fatalf("failed SetRoles must not change assignments, got %v", roles)
	}
}

func TestHasAnyRoleEmptyListNeverMatches(t *testing.T) {
	core := newTestCore(t)
	admin := core.newAdmin(t, "admin@example.com")

	has, err := core.registry.HasAnyRole(context.Background(), admin.ID, nil)
	if err != nil {
		t.Fatalf("HasAnyRole: %v", err)
	}
	if has {
		t.Fatal("empty role list must never match")
	}
}

func TestRoleMutationsAudit(t *testing.T) {
	core := newTestCore(t)
	admin := core.newAdmin(t, "admin@example.com")
	user := core.signIn(t, "user@example.com")
	ctx := context.Background()

	if err := core.registry.Elevate(ctx, admin.ID, user.ID, RoleClient); err != nil {
		t.Fatalf("Elevate: %v", err)
	}
	if err := core.registry.SetRoles(ctx, admin.ID, user.ID, []string{RolePremium}); err != nil {
		t.Fatalf("SetRoles: %v", err)
	}
	if err := core.registry.Revoke(ctx, admin.ID, user.ID, RolePremium); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	events := core.eventsFor(t, user.ID)
	if len(events) != 3 {
		t.Fatalf("expected 3 audit events, got %d", len(events))
	}
	wantActions := []string{ActionRoleElevate, ActionRoleSet, ActionRoleRevoke}
	for i, ev := range events {
		if ev.Action != wantActions[i] {
			t.Fatalf("event %d action = %s, want %s", i, ev.Action, wantActions[i])
		}
		if ev.ActorID != admin.ID {
			t.Fatalf("event %d actor = %s", i, ev.ActorID)
		}
	}
	if events[1].Meta["roles"] != RolePremium {
		t.Fatalf("set event meta = %v", events[1].Meta)
	}
}
