package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestNewPendingSweeperAppliesDefaults(t *testing.T) {
	t.Parallel()

	sweeper, err := NewPendingSweeper(&fakeAttemptRepo{}, 0, 0, nil)
	if err != nil {
		t.Fatalf("NewPendingSweeper() error = %v", err)
	}
	if sweeper.interval != defaultSweepInterval {
		t.Fatalf("interval = %s, want %s", sweeper.interval, defaultSweepInterval)
	}
	if sweeper.maxAge != defaultSweepMaxAge {
		t.Fatalf("maxAge = %s, want %s", sweeper.maxAge, defaultSweepMaxAge)
	}
}

func TestSweepUsesMaxAgeCutoff(t *testing.T) {
	t.Parallel()

	fixedNow := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	var gotCutoff time.Time
	var gotErrText string
	attempts := &fakeAttemptRepo{
		markStaleFn: func(_ context.Context, olderThan time.Time, errText string) (int64, error) {
			gotCutoff = olderThan
			gotErrText = errText
			return 3, nil
		},
	}

	sweeper, err := NewPendingSweeper(attempts, time.Minute, 5*time.Minute, zap.NewNop())
	if err != nil {
		t.Fatalf("NewPendingSweeper() error = %v", err)
	}
	sweeper.now = func() time.Time { return fixedNow }

	if err := sweeper.sweep(context.Background()); err != nil {
		t.Fatalf("sweep() error = %v", err)
	}

	wantCutoff := fixedNow.Add(-5 * time.Minute)
	if !gotCutoff.Equal(wantCutoff) {
		t.Fatalf("cutoff = %s, want %s", gotCutoff, wantCutoff)
	}
	if gotErrText != staleDeliveryError {
		t.Fatalf("error text = %q", gotErrText)
	}
}

func TestSweepPropagatesRepositoryError(t *testing.T) {
	t.Parallel()

	attempts := &fakeAttemptRepo{
		markStaleFn: func(context.Context, time.Time, string) (int64, error) {
			return 0, errors.New("db unavailable")
		},
	}

	sweeper, err := NewPendingSweeper(attempts, time.Minute, time.Minute, zap.NewNop())
	if err != nil {
		t.Fatalf("NewPendingSweeper() error = %v", err)
	}

	if err := sweeper.sweep(context.Background()); err == nil {
		t.Fatal("expected sweep() error")
	}
}

func TestSweeperStartReturnsOnContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := &fakeAttemptRepo{
		markStaleFn: func(context.Context, time.Time, string) (int64, error) {
			return 0, nil
		},
	}

	sweeper, err := NewPendingSweeper(attempts, time.Second, time.Minute, zap.NewNop())
	if err != nil {
		t.Fatalf("NewPendingSweeper() error = %v", err)
	}

	if err := sweeper.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
}
