// Package retention runs the data lifecycle: archive aged payload
// bodies, delete what has outlived its policy, prune dead letters and
// expire stale amendments.
package retention

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"otabridge/internal/config"
	"otabridge/internal/metrics"
	"otabridge/internal/models"
	"otabridge/internal/oerr"
	"otabridge/internal/repository"
)

// AmendmentExpirer lets the sweep trigger amendment TTL expiry without
// depending on the whole engine.
type AmendmentExpirer interface {
	ExpireOverdue(ctx context.Context) (int, error)
}

// policySchedule is one classification's lifecycle in days
type policySchedule struct {
	policy      string
	archiveDays int
	deleteDays  int
}

type Service struct {
	cfg        config.RetentionConfig
	payloads   *repository.PayloadRepository
	deadlines  *repository.DeadLetterRepository
	amendments AmendmentExpirer
	metrics    *metrics.Metrics

	mu       sync.Mutex
	lastRun  *models.RetentionStats
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func New(cfg config.RetentionConfig, payloads *repository.PayloadRepository,
	deadLetters *repository.DeadLetterRepository, amendments AmendmentExpirer, m *metrics.Metrics) *Service {
	return &Service{
		cfg:        cfg,
		payloads:   payloads,
		deadlines:  deadLetters,
		amendments: amendments,
		metrics:    m,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (s *Service) schedules() []policySchedule {
	return []policySchedule{
		{policy: "restricted", archiveDays: s.cfg.RestrictedArchiveDays, deleteDays: s.cfg.RestrictedActiveDays},
		{policy: "confidential", archiveDays: s.cfg.ConfidentialArchiveDay, deleteDays: s.cfg.ConfidentialActiveDays},
		{policy: "internal", archiveDays: s.cfg.InternalArchiveDays, deleteDays: s.cfg.InternalActiveDays},
		{policy: "public", archiveDays: 0, deleteDays: s.cfg.PublicActiveDays},
	}
}

// Start runs the periodic sweep until Stop
func (s *Service) Start(ctx context.Context) {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.cfg.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.Sweep(ctx); err != nil {
					slog.Error("Retention sweep failed", "error", err)
				}
			}
		}
	}()
	slog.Info("Retention sweeper started", "interval", s.cfg.SweepInterval)
}

func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

// Sweep runs one full pass and records its stats
func (s *Service) Sweep(ctx context.Context) (*models.RetentionStats, error) {
	stats := &models.RetentionStats{RanAt: time.Now()}
	now := time.Now()

	for _, sched := range s.schedules() {
		// archive first so deletes only ever see already-archived rows
		if sched.archiveDays > 0 {
			cutoff := now.AddDate(0, 0, -sched.archiveDays)
			candidates, err := s.payloads.ListArchiveCandidates(ctx, sched.policy, cutoff, s.cfg.SweepBatchSize)
			if err != nil {
				return stats, oerr.Transient("archive candidate scan failed", err)
			}
			stats.Scanned += int64(len(candidates))
			for i := range candidates {
				reclaimed, err := s.payloads.Archive(ctx, candidates[i].ID)
				if err != nil {
					slog.Error("Payload archive failed", "payload_id", candidates[i].ID, "error", err)
					continue
				}
				stats.Archived++
				stats.BytesReclaimed += reclaimed
				if s.metrics != nil {
					s.metrics.RetentionArchived.Inc()
				}
			}
		}

		if sched.deleteDays > 0 {
			cutoff := now.AddDate(0, 0, -sched.deleteDays)
			deleted, err := s.payloads.DeleteOlderThan(ctx, sched.policy, cutoff, s.cfg.SweepBatchSize)
			if err != nil {
				return stats, oerr.Transient("retention delete failed", err)
			}
			stats.Deleted += deleted
			if s.metrics != nil {
				s.metrics.RetentionDeleted.Add(float64(deleted))
			}
		}
	}

	if s.cfg.DeadLetterDays > 0 {
		cutoff := now.AddDate(0, 0, -s.cfg.DeadLetterDays)
		pruned, err := s.deadlines.DeleteOlderThan(ctx, cutoff, s.cfg.SweepBatchSize)
		if err != nil {
			slog.Error("Dead-letter pruning failed", "error", err)
		} else if pruned > 0 {
			slog.Info("Dead letters pruned", "count", pruned)
		}
	}

	if s.amendments != nil {
		expired, err := s.amendments.ExpireOverdue(ctx)
		if err != nil {
			slog.Error("Amendment expiry failed", "error", err)
		} else if expired > 0 {
			slog.Info("Amendments expired", "count", expired)
		}
	}

	s.mu.Lock()
	s.lastRun = stats
	s.mu.Unlock()

	slog.Info("Retention sweep complete",
		"scanned", stats.Scanned, "archived", stats.Archived,
		"deleted", stats.Deleted, "bytes_reclaimed", stats.BytesReclaimed)
	return stats, nil
}

// Cleanup is the operator-triggered deletion path, hard-capped per call
func (s *Service) Cleanup(ctx context.Context, req models.RetentionCleanupRequest) (int64, error) {
	if req.OlderThanDays <= 0 {
		return 0, oerr.Validation("older_than_days must be positive", nil)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		return 0, oerr.Validation("limit must not exceed 1000", nil)
	}

	cutoff := time.Now().AddDate(0, 0, -req.OlderThanDays)
	deleted, err := s.payloads.DeleteFiltered(ctx, req.Channel, req.Operation, cutoff, limit)
	if err != nil {
		return 0, oerr.Transient("manual cleanup failed", err)
	}
	if s.metrics != nil {
		s.metrics.RetentionDeleted.Add(float64(deleted))
	}
	slog.Info("Manual retention cleanup",
		"channel", req.Channel, "operation", req.Operation,
		"older_than_days", req.OlderThanDays, "deleted", deleted)
	return deleted, nil
}

// Stats returns the last sweep's numbers, if any ran yet
func (s *Service) Stats() *models.RetentionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}
