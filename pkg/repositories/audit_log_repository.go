package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fenceworks/sqlfence/pkg/audit"
	"github.com/fenceworks/sqlfence/pkg/database"
)

// defaultAuditListLimit bounds ListRecent when the caller passes no limit.
const defaultAuditListLimit = 50

// AuditLogEntry is one persisted security event row from audit_logs.
type AuditLogEntry struct {
	ID         int64
	OccurredAt time.Time
	EventType  audit.SecurityEventType
	TenantID   string
	RequestID  string
	Severity   string
	Details    map[string]any
}

// AuditLogRepository persists security audit events. audit_logs is a system
// table shared across tenants, so access goes through the pool directly
// rather than a tenant scope.
type AuditLogRepository interface {
	audit.EventSink
	ListRecent(ctx context.Context, limit int) ([]*AuditLogEntry, error)
	ListByTenant(ctx context.Context, tenantID string, limit int) ([]*AuditLogEntry, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type auditLogRepository struct {
	db *database.DB
}

// NewAuditLogRepository creates a new audit log repository.
func NewAuditLogRepository(db *database.DB) AuditLogRepository {
	return &auditLogRepository{db: db}
}

var _ audit.EventSink = (*auditLogRepository)(nil)

// Record inserts a security event. It implements audit.EventSink so the
// repository can be handed to audit.NewSecurityAuditor as the persistence
// backend.
func (r *auditLogRepository) Record(ctx context.Context, event audit.SecurityEvent) error {
	detailsJSON, err := json.Marshal(event.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal event details: %w", err)
	}

	occurredAt := event.Timestamp
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	query := `
		INSERT INTO audit_logs (occurred_at, event_type, tenant_id, request_id, severity, details)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err = r.db.Exec(ctx, query,
		occurredAt,
		string(event.EventType),
		event.TenantID,
		event.RequestID,
		event.Severity,
		detailsJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to record audit event: %w", err)
	}

	return nil
}

// ListRecent returns the newest audit entries across all tenants.
func (r *auditLogRepository) ListRecent(ctx context.Context, limit int) ([]*AuditLogEntry, error) {
	if limit <= 0 {
		limit = defaultAuditListLimit
	}

	query := `
		SELECT id, occurred_at, event_type, COALESCE(tenant_id, ''), COALESCE(request_id, ''), severity, details
		FROM audit_logs
		ORDER BY occurred_at DESC, id DESC
		LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	defer rows.Close()

	var entries []*AuditLogEntry
	for rows.Next() {
		entry, err := scanAuditLogEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit events: %w", err)
	}

	return entries, nil
}

// ListByTenant returns the newest audit entries recorded for one tenant.
func (r *auditLogRepository) ListByTenant(ctx context.Context, tenantID string, limit int) ([]*AuditLogEntry, error) {
	if limit <= 0 {
		limit = defaultAuditListLimit
	}

	query := `
		SELECT id, occurred_at, event_type, COALESCE(tenant_id, ''), COALESCE(request_id, ''), severity, details
		FROM audit_logs
		WHERE tenant_id = $1
		ORDER BY occurred_at DESC, id DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events for tenant: %w", err)
	}
	defer rows.Close()

	var entries []*AuditLogEntry
	for rows.Next() {
		entry, err := scanAuditLogEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit events: %w", err)
	}

	return entries, nil
}

// DeleteOlderThan prunes audit entries that occurred before the cutoff and
// returns how many rows were removed.
func (r *auditLogRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM audit_logs WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune audit events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// scanAuditLogEntry scans a single audit_logs row.
func scanAuditLogEntry(row interface{ Scan(dest ...any) error }) (*AuditLogEntry, error) {
	var entry AuditLogEntry
	var eventType string
	var detailsJSON []byte

	if err := row.Scan(
		&entry.ID,
		&entry.OccurredAt,
		&eventType,
		&entry.TenantID,
		&entry.RequestID,
		&entry.Severity,
		&detailsJSON,
	); err != nil {
		return nil, fmt.Errorf("failed to scan audit event: %w", err)
	}

	entry.EventType = audit.SecurityEventType(eventType)
	if len(detailsJSON) > 0 {
		if err := json.Unmarshal(detailsJSON, &entry.Details); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event details: %w", err)
		}
	}

	return &entry, nil
}
