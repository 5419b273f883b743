package worker

import (
	"context"
	"time"

	"github.com/ayo6706/branch-transactions/internal/models"
	"github.com/ayo6706/branch-transactions/internal/observability"
	"go.uber.org/zap"
)

// SessionSweeper closes idle wizard sessions and frees their OTP timers.
type SessionSweeper interface {
	Sweep() int
}

type RateRefresher interface {
	Refresh(ctx context.Context) ([]models.ExchangeRate, error)
}

type QueueCounter interface {
	QueueSizes(ctx context.Context) (map[string]int64, error)
}

type IdempotencyPurger interface {
	Purge(ctx context.Context, retention time.Duration) (int64, error)
}

func NewSessionSweeper(sessions SessionSweeper, interval time.Duration) *Periodic {
	return NewPeriodic("session_sweeper", interval, func(ctx context.Context) error {
		if n := sessions.Sweep(); n > 0 {
			zap.L().Info("closed idle wizard sessions", zap.Int("count", n))
		}
		return nil
	})
}

// NewRateRefresher keeps the cached rate board warm. It runs once at start so
// the first wizard does not pay for the fetch.
func NewRateRefresher(rates RateRefresher, interval time.Duration) *Periodic {
	return NewPeriodic("rate_refresher", interval, func(ctx context.Context) error {
		board, err := rates.Refresh(ctx)
		if err != nil {
			return err
		}
		zap.L().Debug("exchange rates refreshed", zap.Int("currencies", len(board)))
		return nil
	}).RunImmediately()
}

func NewQueueGauge(queues QueueCounter, interval time.Duration) *Periodic {
	return NewPeriodic("approval_queue_gauge", interval, func(ctx context.Context) error {
		sizes, err := queues.QueueSizes(ctx)
		if err != nil {
			return err
		}
		for status, n := range sizes {
			observability.SetApprovalQueueSize(status, n)
		}
		return nil
	}).RunImmediately()
}

func NewIdempotencyPurger(keys IdempotencyPurger, retention, interval time.Duration) *Periodic {
	return NewPeriodic("idempotency_purger", interval, func(ctx context.Context) error {
		n, err := keys.Purge(ctx, retention)
		if err != nil {
			return err
		}
		if n > 0 {
			zap.L().Info("purged idempotency keys", zap.Int64("count", n))
		}
		return nil
	})
}
