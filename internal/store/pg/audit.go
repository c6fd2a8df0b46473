package pg

import (
	"context"
	"database/sql"
	"encoding/json"

	"arabiq.org/internal/authz"
	"arabiq.org/internal/ids"
)

type auditStore struct{ db *sql.DB }

func (s *auditStore) Append(ctx context.Context, event *authz.AuditEvent) error {
	if event.ID == "" {
		event.ID = ids.New()
	}
	meta, _ := json.Marshal(event.Meta)
	_, err := s.db.ExecContext(ctx, `
		insert into audit_events (id, occurred_at, actor_id, action, target_user_id, reason, meta, ip, user_agent)
		values ($1, $2, nullif($3, ''), $4, nullif($5, ''), nullif($6, ''), $7, nullif($8, ''), nullif($9, ''))
	`, event.ID, event.OccurredAt, event.ActorID, event.Action,
		event.TargetUserID, event.Reason, meta, event.IP, event.UserAgent)
	return err
}

func (s *auditStore) ListByTarget(ctx context.Context, targetUserID, afterID string, limit int) ([]authz.AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, occurred_at, coalesce(actor_id, ''), action, coalesce(target_user_id, ''),
		       coalesce(reason, ''), meta, coalesce(ip, ''), coalesce(user_agent, '')
		from audit_events
		where target_user_id = $1 and id > $2
		order by id asc
		limit $3
	`, targetUserID, afterID, limit)
	if err != nil {
		return nil, err
	}
	return collectEvents(rows)
}

func (s *auditStore) ListByActor(ctx context.Context, actorID, afterID string, limit int) ([]authz.AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, occurred_at, coalesce(actor_id, ''), action, coalesce(target_user_id, ''),
		       coalesce(reason, ''), meta, coalesce(ip, ''), coalesce(user_agent, '')
		from audit_events
		where actor_id = $1 and id > $2
		order by id asc
		limit $3
	`, actorID, afterID, limit)
	if err != nil {
		return nil, err
	}
	return collectEvents(rows)
}

func collectEvents(rows *sql.Rows) ([]authz.AuditEvent, error) {
	defer rows.Close()
	var events []authz.AuditEvent
	for rows.Next() {
		var (
			ev   authz.AuditEvent
			meta []byte
		)
		if err := rows.Scan(&ev.ID, &ev.OccurredAt, &ev.ActorID, &ev.Action,
			&ev.TargetUserID, &ev.Reason, &meta, &ev.IP, &ev.UserAgent); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &ev.Meta)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
