package stores

import (
	"context"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/authcore"
)

// SQLAuditSink persists audit events in SQL
type SQLAuditSink struct {
	db *squealx.DB
}

var _ authcore.AuditSink = (*SQLAuditSink)(nil)

func NewSQLAuditSink(db *squealx.DB) *SQLAuditSink {
	return &SQLAuditSink{db: db}
}

// encodeState stores nil as an empty column.
func encodeState(v any) string {
	if v == nil {
		return ""
	}
	return toJSON(v)
}

func (s *SQLAuditSink) Record(ctx context.Context, ev authcore.AuditEvent) error {
	q := `INSERT INTO audit_events(id, type, timestamp, actor_id, tenant_id, entity_type, entity_id, previous_state_json, new_state_json, metadata_json)
VALUES(:id, :type, :timestamp, :actor_id, :tenant_id, :entity_type, :entity_id, :previous_state_json, :new_state_json, :metadata_json)`
	meta := ""
	if len(ev.Metadata) > 0 {
		meta = toJSON(ev.Metadata)
	}
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":                  ev.ID,
		"type":                string(ev.Type),
		"timestamp":           formatTime(ev.Timestamp),
		"actor_id":            ev.ActorID,
		"tenant_id":           ev.TenantID,
		"entity_type":         ev.EntityType,
		"entity_id":           ev.EntityID,
		"previous_state_json": encodeState(ev.PreviousState),
		"new_state_json":      encodeState(ev.NewState),
		"metadata_json":       meta,
	})
	return err
}

// AuditFilter narrows Query. Zero fields match everything.
type AuditFilter struct {
	ActorID  string
	TenantID string
	Type     authcore.AuditEventType
	EntityID string
	Since    time.Time
	Until    time.Time
	Limit    int // default 100
}

// Query returns matching events oldest first. Stored states decode into
// generic JSON values.
func (s *SQLAuditSink) Query(ctx context.Context, filter AuditFilter) ([]authcore.AuditEvent, error) {
	q := `SELECT id, type, timestamp, actor_id, tenant_id, entity_type, entity_id, previous_state_json, new_state_json, metadata_json FROM audit_events WHERE 1=1`
	params := map[string]any{}
	if filter.ActorID != "" {
		q += " AND actor_id = :actor_id"
		params["actor_id"] = filter.ActorID
	}
	if filter.TenantID != "" {
		q += " AND tenant_id = :tenant_id"
		params["tenant_id"] = filter.TenantID
	}
	if filter.Type != "" {
		q += " AND type = :type"
		params["type"] = string(filter.Type)
	}
	if filter.EntityID != "" {
		q += " AND entity_id = :entity_id"
		params["entity_id"] = filter.EntityID
	}
	if !filter.Since.IsZero() {
		q += " AND timestamp >= :since"
		params["since"] = formatTime(filter.Since)
	}
	if !filter.Until.IsZero() {
		q += " AND timestamp <= :until"
		params["until"] = formatTime(filter.Until)
	}
	q += " ORDER BY timestamp, id"
	if filter.Limit > 0 {
		q += " LIMIT :limit"
		params["limit"] = filter.Limit
	} else {
		q += " LIMIT 100"
	}
	r, err := s.db.NamedQueryContext(ctx, q, params)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]authcore.AuditEvent, 0)
	for r.Next() {
		var id, typ, ts, actor, tenant, entityType, entityID, prevJSON, nextJSON, metaJSON string
		if err := r.Scan(&id, &typ, &ts, &actor, &tenant, &entityType, &entityID, &prevJSON, &nextJSON, &metaJSON); err != nil {
			return nil, err
		}
		ev := authcore.AuditEvent{
			ID:         id,
			Type:       authcore.AuditEventType(typ),
			Timestamp:  parseTime(ts),
			ActorID:    actor,
			TenantID:   tenant,
			EntityType: entityType,
			EntityID:   entityID,
		}
		_ = fromJSON(prevJSON, &ev.PreviousState)
		_ = fromJSON(nextJSON, &ev.NewState)
		_ = fromJSON(metaJSON, &ev.Metadata)
		out = append(out, ev)
	}
	return out, nil
}
