// Package monitoring assembles the live health snapshot exposed to
// operators and keeps the queue-depth gauges fresh.
package monitoring

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"otabridge/internal/cache"
	"otabridge/internal/metrics"
	"otabridge/internal/models"
	"otabridge/internal/oerr"
	"otabridge/internal/repository"
)

type Service struct {
	busRepo    *repository.BusRepository
	amendments *repository.AmendmentRepository
	payloads   *repository.PayloadRepository
	cache      *cache.Client
	metrics    *metrics.Metrics
}

func New(busRepo *repository.BusRepository, amendments *repository.AmendmentRepository,
	payloads *repository.PayloadRepository, cacheClient *cache.Client, m *metrics.Metrics) *Service {
	return &Service{
		busRepo:    busRepo,
		amendments: amendments,
		payloads:   payloads,
		cache:      cacheClient,
		metrics:    m,
	}
}

// Status builds the point-in-time integration snapshot. Dispatch
// outcomes and channel health cover the last 24 hours.
func (s *Service) Status(ctx context.Context) (*models.MonitoringStatus, error) {
	depths, err := s.busRepo.Depths(ctx)
	if err != nil {
		return nil, oerr.Transient("queue depth query failed", err)
	}

	status := &models.MonitoringStatus{
		QueueDepth:  make(map[string]int64, len(depths)),
		GeneratedAt: time.Now(),
	}
	for partition, depth := range depths {
		status.QueueDepth[strconv.Itoa(partition)] = depth
		status.EventsPending += depth
		if s.metrics != nil {
			s.metrics.QueueDepth.WithLabelValues(strconv.Itoa(partition)).Set(float64(depth))
		}
	}

	since := time.Now().Add(-24 * time.Hour)
	byStatus, health, err := s.payloads.OutboundStats(ctx, since)
	if err != nil {
		return nil, oerr.Transient("dispatch stats query failed", err)
	}
	status.Dispatched = byStatus
	status.ChannelHealth = health

	amendmentCounts, err := s.amendments.CountByState(ctx)
	if err != nil {
		return nil, oerr.Transient("amendment counts query failed", err)
	}
	status.Amendments = amendmentCounts

	if s.cache != nil {
		open, err := s.cache.OpenCircuits(ctx)
		if err != nil {
			slog.Warn("Circuit scan unavailable", "error", err)
		} else {
			status.CircuitOpen = open
		}
	}
	if status.CircuitOpen == nil {
		status.CircuitOpen = []string{}
	}
	return status, nil
}

// Watch refreshes the queue-depth gauges until the context ends
func (s *Service) Watch(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.Status(ctx); err != nil {
					slog.Error("Monitoring refresh failed", "error", err)
				}
			}
		}
	}()
}
