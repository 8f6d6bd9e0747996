package stores

import (
	"context"
	"time"

	"github.com/oarkflow/squealx"

	rbac "github.com/shanshuishenzhen/skillup-rbac"
)

// SQLAuditSink persists access records in SQL.
type SQLAuditSink struct {
	db *squealx.DB
}

func NewSQLAuditSink(db *squealx.DB) *SQLAuditSink {
	return &SQLAuditSink{db: db}
}

func (s *SQLAuditSink) LogAccessAttempt(ctx context.Context, record *rbac.AccessRecord) error {
	q := `INSERT INTO access_log(id, timestamp, principal_id, tenant_id, resource, action, resource_id, effect, reason, matched_by, suspicious, security_alert, ip, session_id)
VALUES(:id, :timestamp, :principal_id, :tenant_id, :resource, :action, :resource_id, :effect, :reason, :matched_by, :suspicious, :security_alert, :ip, :session_id)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":             record.ID,
		"timestamp":      record.Timestamp,
		"principal_id":   record.PrincipalID,
		"tenant_id":      record.TenantID,
		"resource":       record.Resource,
		"action":         record.Action,
		"resource_id":    record.ResourceID,
		"effect":         string(record.Effect),
		"reason":         record.Reason,
		"matched_by":     record.MatchedBy,
		"suspicious":     boolToInt(record.Suspicious),
		"security_alert": boolToInt(record.SecurityAlert),
		"ip":             record.IP,
		"session_id":     record.SessionID,
	})
	return err
}

// AuditFilter narrows GetAccessLog queries.
type AuditFilter struct {
	PrincipalID   string
	Resource      string
	Action        string
	SecurityAlert bool
	StartTime     time.Time
	EndTime       time.Time
	Limit         int
}

// GetAccessLog returns persisted records matching the filter, newest first.
func (s *SQLAuditSink) GetAccessLog(ctx context.Context, filter AuditFilter) ([]*rbac.AccessRecord, error) {
	q := `SELECT id, timestamp, principal_id, tenant_id, resource, action, resource_id, effect, reason, matched_by, suspicious, security_alert, ip, session_id FROM access_log WHERE 1=1`
	params := map[string]any{}
	if filter.PrincipalID != "" {
		q += " AND principal_id = :principal_id"
		params["principal_id"] = filter.PrincipalID
	}
	if filter.Resource != "" {
		q += " AND resource = :resource"
		params["resource"] = filter.Resource
	}
	if filter.Action != "" {
		q += " AND action = :action"
		params["action"] = filter.Action
	}
	if filter.SecurityAlert {
		q += " AND security_alert = 1"
	}
	if !filter.StartTime.IsZero() {
		q += " AND timestamp >= :start"
		params["start"] = filter.StartTime
	}
	if !filter.EndTime.IsZero() {
		q += " AND timestamp <= :end"
		params["end"] = filter.EndTime
	}
	q += " ORDER BY timestamp DESC"
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
	out := make([]*rbac.AccessRecord, 0)
	for r.Next() {
		var rec rbac.AccessRecord
		var timestampRaw any
		var effect string
		var suspicious, alert int
		if err := r.Scan(&rec.ID, &timestampRaw, &rec.PrincipalID, &rec.TenantID, &rec.Resource, &rec.Action, &rec.ResourceID, &effect, &rec.Reason, &rec.MatchedBy, &suspicious, &alert, &rec.IP, &rec.SessionID); err != nil {
			return nil, err
		}
		rec.Effect = rbac.Effect(effect)
		rec.Suspicious = suspicious != 0
		rec.SecurityAlert = alert != 0
		switch v := timestampRaw.(type) {
		case time.Time:
			rec.Timestamp = v
		case string:
			if t, err := parseFlexibleTime(v); err == nil {
				rec.Timestamp = t
			}
		case []byte:
			if t, err := parseFlexibleTime(string(v)); err == nil {
				rec.Timestamp = t
			}
		}
		out = append(out, &rec)
	}
	return out, nil
}
