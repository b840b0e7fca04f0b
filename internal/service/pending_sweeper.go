package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/webhook-relay/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultSweepInterval = time.Minute
	defaultSweepMaxAge   = 5 * time.Minute

	staleDeliveryError = "delivery abandoned before completion"
)

// PendingSweeper fails ledger entries stuck in PENDING. A row only stays
// PENDING past its delivery window when the process died mid-delivery, so
// anything older than maxAge is converted to FAILED for the record.
type PendingSweeper struct {
	attempts repository.AttemptRepository
	logger   *zap.Logger
	interval time.Duration
	maxAge   time.Duration
	now      func() time.Time
}

func NewPendingSweeper(
	attempts repository.AttemptRepository,
	interval time.Duration,
	maxAge time.Duration,
	logger *zap.Logger,
) (*PendingSweeper, error) {
	if attempts == nil {
		return nil, fmt.Errorf("attempt repository is required")
	}
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if maxAge <= 0 {
		maxAge = defaultSweepMaxAge
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PendingSweeper{
		attempts: attempts,
		logger:   logger,
		interval: interval,
		maxAge:   maxAge,
		now:      time.Now,
	}, nil
}

func (s *PendingSweeper) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.sweep(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("sweeper initial pass failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.sweep(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("sweeper pass failed", zap.Error(err))
			}
		}
	}
}

func (s *PendingSweeper) sweep(ctx context.Context) error {
	cutoff := s.now().UTC().Add(-s.maxAge)

	swept, err := s.attempts.MarkStalePendingFailed(ctx, cutoff, staleDeliveryError)
	if err != nil {
		return fmt.Errorf("failed to sweep stale pending deliveries: %w", err)
	}

	if swept > 0 {
		s.logger.Warn("swept stale pending deliveries",
			zap.Int64("count", swept),
			zap.Time("cutoff", cutoff),
		)
	}
	return nil
}
