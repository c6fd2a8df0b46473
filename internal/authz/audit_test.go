package authz

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestRecordFillsIDAndTimestamp(t *testing.T) {
	core := newTestCore(t)

	ev := &AuditEvent{
		Action:       "approval.status_change",
		ActorID:      "actor-1",
		TargetUserID: "target-1",
		Meta:         map[string]string{"from": "PENDING", "to": "APPROVED"},
	}
	if err := core.audit.Record(context.Background(), ev); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if ev.ID == "" {
		t.Fatal("id not assigned")
	}
	if ev.OccurredAt.IsZero() {
		t.Fatal("timestamp not assigned")
	}

	events := core.eventsFor(t, "target-1")
	if len(events) != 1 {
		t.Fatalf("stored events = %d", len(events))
	}
	if events[0].Meta["from"] != "PENDING" {
		t.Fatalf("meta lost: %v", events[0].Meta)
	}
}

func TestRecordRejectsMissingAction(t *testing.T) {
	core := newTestCore(t)
	err := core.audit.Record(context.Background(), &AuditEvent{TargetUserID: "x"})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestRecordPicksUpClientInfo(t *testing.T) {
	core := newTestCore(t)

	ctx := ContextWithClientInfo(context.Background(), ClientInfo{
		IP:        "203.0.113.9",
		UserAgent: "smoke-test/1.0",
	})
	ev := &AuditEvent{Action: "role.elevate", TargetUserID: "target-1"}
	if err := core.audit.Record(ctx, ev); err != nil {
		t.Fatalf("Record: %v", err)
	}
	events := core.eventsFor(t, "target-1")
	if events[0].IP != "203.0.113.9" || events[0].UserAgent != "smoke-test/1.0" {
		t.Fatalf("client info not recorded: %+v", events[0])
	}
}

func TestQueryByTargetPaging(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()

	const total = 5
	for i := 0; i < total; i++ {
		ev := &AuditEvent{
			Action:       "role.elevate",
			ActorID:      "actor-1",
			TargetUserID: "target-1",
			Reason:       fmt.Sprintf("grant %d", i),
		}
		if err := core.audit.Record(ctx, ev); err != nil {
			t.Fatalf("Record #%d: %v", i, err)
		}
	}

	var (
		collected []AuditEvent
		cursor    string
	)
	for {
		page, next, err := core.audit.QueryByTarget(ctx, "target-1", cursor, 2)
		if err != nil {
			t.Fatalf("QueryByTarget: %v", err)
		}
		if len(page) == 0 {
			break
		}
		collected = append(collected, page...)
		cursor = next
	}
	if len(collected) != total {
		t.Fatalf("collected %d events, want %d", len(collected), total)
	}
	for i := 1; i < len(collected); i++ {
		if collected[i-1].ID >= collected[i].ID {
			t.Fatalf("events not ordered by id: %s >= %s", collected[i-1].ID, collected[i].ID)
		}
	}
	if collected[0].Reason != "grant 0" || collected[total-1].Reason != fmt.Sprintf("grant %d", total-1) {
		t.Fatalf("paging changed order: first=%q last=%q", collected[0].Reason, collected[total-1].Reason)
	}
}

func TestQueryByActorFilters(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()

	for _, actor := range []string{"actor-a", "actor-a", "actor-b"} {
		ev := &AuditEvent{Action: "role.revoke", ActorID: actor, TargetUserID: "target-1"}
		if err := core.audit.Record(ctx, ev); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	events, _, err := core.audit.QueryByActor(ctx, "actor-a", "", 50)
	if err != nil {
		t.Fatalf("QueryByActor: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("actor-a events = %d, want 2", len(events))
	}
	for _, ev := range events {
		if ev.ActorID != "actor-a" {
			t.Fatalf("foreign event in result: %+v", ev)
		}
	}
}

func TestQueryRequiresFilter(t *testing.T) {
	core := newTestCore(t)
	if _, _, err := core.audit.QueryByTarget(context.Background(), "  ", "", 10); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
	if _, _, err := core.audit.QueryByActor(context.Background(), "", "", 10); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}
