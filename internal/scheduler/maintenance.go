package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/kabelnet/ispbot/internal/store"
)

// Job names registered by RegisterMaintenance.
const (
	JobSessionSweep = "session_sweep"
	JobAuditPrune   = "audit_prune"
	JobDedupPrune   = "dedup_prune"
)

// Maintenance defaults.
const (
	DefaultSweepSpec      = "*/10 * * * *"
	DefaultPruneSpec      = "30 3 * * *"
	DefaultMaxIdle        = 24 * time.Hour
	DefaultAuditRetention = 90 * 24 * time.Hour
	DefaultDedupRetention = 7 * 24 * time.Hour
)

// SessionSweeper removes idle sessions and returns the affected user IDs.
type SessionSweeper interface {
	Sweep(maxIdle time.Duration) []string
}

// MaintenanceConfig selects the maintenance jobs to register. Nil
// collaborators skip their job.
type MaintenanceConfig struct {
	Sessions  SessionSweeper
	SweepSpec string
	MaxIdle   time.Duration

	Audit          store.AuditRepo
	AuditRetention time.Duration
	Dedup          store.DedupRepo
	DedupRetention time.Duration
	PruneSpec      string

	// OnSweep is called with the number of sessions removed.
	OnSweep func(removed int)
}

func (c *MaintenanceConfig) setDefaults() {
	if c.SweepSpec == "" {
		c.SweepSpec = DefaultSweepSpec
	}
	if c.MaxIdle <= 0 {
		c.MaxIdle = DefaultMaxIdle
	}
	if c.PruneSpec == "" {
		c.PruneSpec = DefaultPruneSpec
	}
	if c.AuditRetention <= 0 {
		c.AuditRetention = DefaultAuditRetention
	}
	if c.DedupRetention <= 0 {
		c.DedupRetention = DefaultDedupRetention
	}
}

// RegisterMaintenance adds the session sweeper and retention jobs.
func RegisterMaintenance(s *Scheduler, cfg MaintenanceConfig) error {
	cfg.setDefaults()
	if cfg.Sessions != nil {
		if err := s.AddJob(JobSessionSweep, cfg.SweepSpec, SweepSessions(cfg.Sessions, cfg.MaxIdle, cfg.OnSweep)); err != nil {
			return err
		}
	}
	if cfg.Audit != nil {
		if err := s.AddJob(JobAuditPrune, cfg.PruneSpec, PruneAudit(cfg.Audit, cfg.AuditRetention)); err != nil {
			return err
		}
	}
	if cfg.Dedup != nil {
		if err := s.AddJob(JobDedupPrune, cfg.PruneSpec, PruneDedup(cfg.Dedup, cfg.DedupRetention)); err != nil {
			return err
		}
	}
	return nil
}

// SweepSessions returns a job that removes sessions idle longer than maxIdle.
func SweepSessions(sessions SessionSweeper, maxIdle time.Duration, onSweep func(int)) func() {
	return func() {
		removed := sessions.Sweep(maxIdle)
		if len(removed) > 0 {
			slog.Info("SweepSessions: removed idle sessions", "count", len(removed), "max_idle", maxIdle)
		}
		if onSweep != nil {
			onSweep(len(removed))
		}
	}
}

// PruneAudit returns a job that deletes audit events older than retention.
func PruneAudit(repo store.AuditRepo, retention time.Duration) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		n, err := repo.PruneAuditEvents(ctx, time.Now().Add(-retention))
		if err != nil {
			slog.Error("PruneAudit: failed", "error", err)
			return
		}
		slog.Info("PruneAudit: done", "deleted", n, "retention", retention)
	}
}

// PruneDedup returns a job that forgets inbound message IDs older than retention.
func PruneDedup(repo store.DedupRepo, retention time.Duration) func() {
	return func() {
		n, err := repo.PruneInbound(time.Now().Add(-retention))
		if err != nil {
			slog.Error("PruneDedup: failed", "error", err)
			return
		}
		slog.Info("PruneDedup: done", "deleted", n, "retention", retention)
	}
}
