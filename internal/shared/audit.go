package shared

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditEntityRun is the entity recorded against revaluation runs.
const AuditEntityRun = "fx_revaluation_runs"

// AuditLog is one row of audit_logs.
type AuditLog struct {
	Actor    string
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// RunAudit builds the entry written when a revaluation run reaches a final
// status, e.g. FX_REVALUATION_COMPLETED.
func RunAudit(actor, runID, status string, meta map[string]any) AuditLog {
	return AuditLog{
		Actor:    actor,
		Action:   "FX_REVALUATION_" + status,
		Entity:   AuditEntityRun,
		EntityID: runID,
		Meta:     meta,
	}
}

// Validate checks the mandatory columns and defaults the actor.
func (l *AuditLog) Validate() error {
	if l.Action == "" || l.Entity == "" || l.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	if l.Actor == "" {
		l.Actor = "system"
	}
	return nil
}

// AuditLogger writes audit_logs rows.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists log. Meta is stored as JSONB; a zero At means now.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil {
		return errors.New("audit logger not initialised")
	}
	if err := log.Validate(); err != nil {
		return err
	}
	var at *time.Time
	if !log.At.IsZero() {
		at = &log.At
	}
	_, err := l.pool.Exec(ctx, `INSERT INTO audit_logs (actor, action, entity, entity_id, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`, log.Actor, log.Action, log.Entity, log.EntityID, log.Meta, at)
	return err
}
