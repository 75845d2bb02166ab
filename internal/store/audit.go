package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kabelnet/ispbot/internal/models"
)

// DefaultAuditLimit caps ListAuditEvents when the filter sets no limit.
const DefaultAuditLimit = 100

// AuditFilter narrows ListAuditEvents. Zero fields do not filter.
type AuditFilter struct {
	UserID string
	Kind   models.EventKind
	Since  time.Time
	Limit  int
}

// AuditRepo persists conversation audit events.
type AuditRepo interface {
	InsertAuditEvent(ctx context.Context, ev models.EventRecord) error
	// ListAuditEvents returns matching events, newest first.
	ListAuditEvents(ctx context.Context, f AuditFilter) ([]models.EventRecord, error)
	// PruneAuditEvents deletes events older than before and reports how many were removed.
	PruneAuditEvents(ctx context.Context, before time.Time) (int64, error)
}

func (d *DB) InsertAuditEvent(ctx context.Context, ev models.EventRecord) error {
	var detail sql.NullString
	if len(ev.Detail) > 0 {
		b, err := json.Marshal(ev.Detail)
		if err != nil {
			return fmt.Errorf("encode audit detail: %w", err)
		}
		detail = sql.NullString{String: string(b), Valid: true}
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	_, err := d.exec(ctx, `
		INSERT INTO audit_events (id, user_id, kind, flow_id, step, detail_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.UserID, string(ev.Kind), string(ev.FlowID), string(ev.Step), detail, ev.At.UTC())
	if err != nil {
		return fmt.Errorf("insert audit event %s: %w", ev.ID, err)
	}
	return nil
}

func (d *DB) ListAuditEvents(ctx context.Context, f AuditFilter) ([]models.EventRecord, error) {
	var where []string
	var args []any
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if !f.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, f.Since.UTC())
	}
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultAuditLimit
	}

	query := `SELECT id, user_id, kind, flow_id, step, detail_json, created_at FROM audit_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id LIMIT ?"
	args = append(args, limit)

	rows, err := d.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var out []models.EventRecord
	for rows.Next() {
		var ev models.EventRecord
		var kind, flowID, step string
		var detail sql.NullString
		if err := rows.Scan(&ev.ID, &ev.UserID, &kind, &flowID, &step, &detail, &ev.At); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		ev.Kind, ev.FlowID, ev.Step = models.EventKind(kind), models.FlowID(flowID), models.StepID(step)
		if detail.Valid && detail.String != "" {
			if err := json.Unmarshal([]byte(detail.String), &ev.Detail); err != nil {
				slog.Warn("DB.ListAuditEvents: undecodable detail", "id", ev.ID, "error", err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (d *DB) PruneAuditEvents(ctx context.Context, before time.Time) (int64, error) {
	res, err := d.exec(ctx, `DELETE FROM audit_events WHERE created_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune audit events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
