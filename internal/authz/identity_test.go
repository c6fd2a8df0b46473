package authz

import (
	"context"
	"errors"
	"testing"
)

func TestEnsureSignedInNormalizesEmail(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()

	first, err := core.identities.EnsureSignedIn(ctx, "  Alice@Example.COM ", "ext-1")
	if err != nil {
		t.Fatalf("EnsureSignedIn: %v", err)
	}
	if first.Email != "alice@example.com" {
		t.Fatalf("email = %s", first.Email)
	}
	if first.AccountStatus != AccountActive {
		t.Fatalf("new identity status = %s, want ACTIVE", first.AccountStatus)
	}

	second, err := core.identities.EnsureSignedIn(ctx, "alice@example.com", "ext-1")
	if err != nil {
		t.Fatalf("repeat sign-in: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("repeat sign-in created a new identity: %s vs %s", second.ID, first.ID)
	}
}

func TestEnsureSignedInRejectsInvalidEmail(t *testing.T) {
	core := newTestCore(t)
	for _, email := range []string{"", "   ", "not-an-email"} {
		if _, err := core.identities.EnsureSignedIn(context.Background(), email, ""); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("email %q: err = %v, want ErrInvalidInput", email, err)
		}
	}
}

func TestFindByEmailIsCaseInsensitive(t *testing.T) {
	core := newTestCore(t)
	created := core.signIn(t, "bob@example.com")

	found, err := core.identities.FindByEmail(context.Background(), "BOB@example.COM")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if found.ID != created.ID {
		t.Fatalf("found %s, want %s", found.ID, created.ID)
	}
}

func TestSetAccountStatus(t *testing.T) {
	core := newTestCore(t)
	admin := core.newAdmin(t, "admin@example.com")
	user := core.signIn(t, "user@example.com")
	ctx := context.Background()

	if err := core.identities.SetAccountStatus(ctx, admin.ID, user.ID, AccountSuspended, "abuse"); err != nil {
		t.Fatalf("SetAccountStatus: %v", err)
	}
	updated, _ := core.identities.Find(ctx, user.ID)
	if updated.AccountStatus != AccountSuspended {
		t.Fatalf("status = %s", updated.AccountStatus)
	}

	// Reversible.
	if err := core.identities.SetAccountStatus(ctx, admin.ID, user.ID, AccountActive, "appeal upheld"); err != nil {
		t.Fatalf("reactivate: %v", err)
	}

	events := core.eventsFor(t, user.ID)
	if len(events) != 2 {
		t.Fatalf("audit events = %d, want 2", len(events))
	}
	if events[0].Action != ActionAccountStatusChange || events[0].Meta["status"] != string(AccountSuspended) {
		t.Fatalf("first event = %+v", events[0])
	}
}

func TestSetAccountStatusRequiresAdmin(t *testing.T) {
	core := newTestCore(t)
	user := core.signIn(t, "user@example.com")
	mallory := core.signIn(t, "mallory@example.com")

	err := core.identities.SetAccountStatus(context.Background(), mallory.ID, user.ID, AccountSuspended, "")
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
}

func TestSetAccountStatusUnknownTarget(t *testing.T) {
	core := newTestCore(t)
	admin := core.newAdmin(t, "admin@example.com")

	err := core.identities.SetAccountStatus(context.Background(), admin.ID, "ghost", AccountSuspended, "")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
