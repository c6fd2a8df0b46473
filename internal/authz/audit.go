package authz

import (
	"context"
	"fmt"
	"strings"
	"time"

	"arabiq.org/internal/ids"
	"arabiq.org/internal/obs"
)

const (
	defaultAuditPageSize = 50
	maxAuditPageSize     = 500
)

// AuditLog records privileged state transitions. Entries are append-only;
// nothing in the core ever mutates or deletes them.
type AuditLog struct {
	store Store
	now   func() time.Time
}

// NewAuditLog constructs an AuditLog over the given store.
func NewAuditLog(store Store, opts ...AuditOption) (*AuditLog, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidInput)
	}
	l := &AuditLog{store: store, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// AuditOption configures AuditLog behavior.
type AuditOption func(*AuditLog)

// WithAuditClock overrides the time source. Test use.
func WithAuditClock(fn func() time.Time) AuditOption {
	return func(l *AuditLog) {
		if fn != nil {
			l.now = fn
		}
	}
}

// Record appends the event to the durable log. Every event is also mirrored
// to the structured log stream so the operational channel sees privileged
// mutations even when the durable write fails; a returned error is always an
// infrastructure error, and callers of mutating services must not roll back
// their mutation because of it.
func (l *AuditLog) Record(ctx context.Context, event *AuditEvent) error {
	if event == nil || strings.TrimSpace(event.Action) == "" {
		return fmt.Errorf("%w: audit action is required", ErrInvalidInput)
	}
	if event.ID == "" {
		event.ID = ids.New()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = l.now().UTC()
	}
	if info := ClientInfoFromContext(ctx); event.IP == "" && event.UserAgent == "" {
		event.IP = info.IP
		event.UserAgent = info.UserAgent
	}

	entry := map[string]any{
		"ts":     event.OccurredAt.Format(time.RFC3339Nano),
		"type":   "audit",
		"event":  event.Action,
		"id":     event.ID,
		"target": event.TargetUserID,
	}
	if event.ActorID != "" {
		entry["actor"] = event.ActorID
	}
	if event.Reason != "" {
		entry["reason"] = event.Reason
	}
	if len(event.Meta) > 0 {
		entry["meta"] = event.Meta
	}
	obs.LogEntry(entry)

	if err := l.store.Audit().Append(ctx, event); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// QueryByTarget returns a page of events for the given target, oldest first.
// The returned cursor is the id of the last event; pass it back as afterID to
// resume. Not on any hot path.
func (l *AuditLog) QueryByTarget(ctx context.Context, targetUserID, afterID string, limit int) ([]AuditEvent, string, error) {
	targetUserID = strings.TrimSpace(targetUserID)
	if targetUserID == "" {
		return nil, "", fmt.Errorf("%w: target_user_id is required", ErrInvalidInput)
	}
	limit = clampPageSize(limit)
	events, err := l.store.Audit().ListByTarget(ctx, targetUserID, afterID, limit)
	if err != nil {
		return nil, "", err
	}
	return events, nextCursor(events), nil
}

// QueryByActor returns a page of events recorded for the given actor.
func (l *AuditLog) QueryByActor(ctx context.Context, actorID, afterID string, limit int) ([]AuditEvent, string, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return nil, "", fmt.Errorf("%w: actor_id is required", ErrInvalidInput)
	}
	limit = clampPageSize(limit)
	events, err := l.store.Audit().ListByActor(ctx, actorID, afterID, limit)
	if err != nil {
		return nil, "", err
	}
	return events, nextCursor(events), nil
}

func clampPageSize(limit int) int {
	if limit <= 0 {
		return defaultAuditPageSize
	}
	if limit > maxAuditPageSize {
		return maxAuditPageSize
	}
	return limit
}

func nextCursor(events []AuditEvent) string {
	if len(events) == 0 {
		return ""
	}
	return events[len(events)-1].ID
}

// reportAuditGap is the shared fallback when a mutation succeeded but its
// audit event could not be written. The gap is surfaced for backfill instead
// of rolling the mutation back.
func reportAuditGap(action string, err error) {
	obs.Warn("audit write failed, backfill required", map[string]any{
		"action": action,
		"error":  err.Error(),
	})
}
