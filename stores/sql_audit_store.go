package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/oarkflow/rbac"
	"github.com/oarkflow/squealx"
)

// SQLAuditStore persists audit entries in SQL. It implements rbac.AuditSink.
type SQLAuditStore struct {
	db  *squealx.DB
	seq atomic.Uint64
}

func NewSQLAuditStore(db *squealx.DB) (*SQLAuditStore, error) {
	return &SQLAuditStore{db: db}, nil
}

func (s *SQLAuditStore) Record(ctx context.Context, entry *rbac.AuditEntry) error {
	matchedB, _ := json.Marshal(entry.MatchedPermissions)
	id := entry.ID
	if id == "" {
		id = fmt.Sprintf("audit-%d-%d", entry.Timestamp.UnixNano(), s.seq.Add(1))
	}
	q := `INSERT INTO audit_log(id, timestamp, user_id, action, resource_type, resource_id, domain, allowed, reason, matched_json) VALUES(:id, :timestamp, :user_id, :action, :resource_type, :resource_id, :domain, :allowed, :reason, :matched_json)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":            id,
		"timestamp":     entry.Timestamp,
		"user_id":       entry.UserID,
		"action":        entry.Action,
		"resource_type": entry.ResourceType,
		"resource_id":   entry.ResourceID,
		"domain":        entry.Domain,
		"allowed":       boolToInt(entry.Allowed),
		"reason":        entry.Reason,
		"matched_json":  string(matchedB),
	})
	if err != nil {
		return &rbac.StorageError{Op: "record audit", Err: err}
	}
	return nil
}

func (s *SQLAuditStore) Query(ctx context.Context, filter rbac.AuditFilter) ([]*rbac.AuditEntry, error) {
	q := `SELECT id, timestamp, user_id, action, resource_type, resource_id, domain, allowed, reason, matched_json FROM audit_log WHERE 1=1`
	params := map[string]any{}
	if filter.UserID != "" {
		q += " AND user_id = :user_id"
		params["user_id"] = filter.UserID
	}
	if filter.Action != "" {
		q += " AND action = :action"
		params["action"] = filter.Action
	}
	if filter.ResourceType != "" {
		q += " AND resource_type = :resource_type"
		params["resource_type"] = filter.ResourceType
	}
	if filter.ResourceID != "" {
		q += " AND resource_id = :resource_id"
		params["resource_id"] = filter.ResourceID
	}
	if !filter.StartTime.IsZero() {
		q += " AND timestamp >= :start_time"
		params["start_time"] = filter.StartTime
	}
	if !filter.EndTime.IsZero() {
		q += " AND timestamp <= :end_time"
		params["end_time"] = filter.EndTime
	}
	q += " ORDER BY timestamp"
	r, err := s.db.NamedQueryContext(ctx, q, params)
	if err != nil {
		return nil, &rbac.StorageError{Op: "query audit", Err: err}
	}
	defer r.Close()
	out := make([]*rbac.AuditEntry, 0)
	for r.Next() {
		var id, userID, action, resourceType, resourceID, domain, reason, matchedJSON string
		var tsRaw, allowedRaw interface{}
		if err := r.Scan(&id, &tsRaw, &userID, &action, &resourceType, &resourceID, &domain, &allowedRaw, &reason, &matchedJSON); err != nil {
			return nil, &rbac.StorageError{Op: "scan audit", Err: err}
		}
		entry := &rbac.AuditEntry{
			ID: id, UserID: userID, Action: action,
			ResourceType: resourceType, ResourceID: resourceID, Domain: domain,
			Allowed: scanBool(allowedRaw), Reason: reason,
		}
		entry.Timestamp = scanTime(tsRaw)
		_ = json.Unmarshal([]byte(matchedJSON), &entry.MatchedPermissions)
		out = append(out, entry)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// Purge deletes entries older than the cutoff and returns how many went.
func (s *SQLAuditStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	q := `DELETE FROM audit_log WHERE timestamp < :before`
	res, err := s.db.NamedExecContext(ctx, q, map[string]any{"before": before})
	if err != nil {
		return 0, &rbac.StorageError{Op: "purge audit", Err: err}
	}
	n, _ := res.RowsAffected()
	return n, nil
}
