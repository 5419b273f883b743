package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ayo6706/branch-transactions/internal/observability"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Job is one run of a periodic worker.
type Job func(ctx context.Context) error

// Periodic runs a job on a fixed interval until stopped.
type Periodic struct {
	name      string
	job       Job
	interval  time.Duration
	immediate bool
	clock     clockwork.Clock
	stopCh    chan struct{}
	stopOnce  sync.Once
}

func NewPeriodic(name string, interval time.Duration, job Job) *Periodic {
	return &Periodic{
		name:     name,
		job:      job,
		interval: interval,
		clock:    clockwork.NewRealClock(),
		stopCh:   make(chan struct{}),
	}
}

// WithInterval updates the run interval.
func (w *Periodic) WithInterval(interval time.Duration) *Periodic {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

func (w *Periodic) WithClock(clock clockwork.Clock) *Periodic {
	if clock != nil {
		w.clock = clock
	}
	return w
}

// RunImmediately makes Start run the job once before the first tick.
func (w *Periodic) RunImmediately() *Periodic {
	w.immediate = true
	return w
}

// Start blocks and runs the job at the configured interval.
func (w *Periodic) Start(ctx context.Context) {
	zap.L().Info("worker starting", zap.String("worker", w.name), zap.Duration("interval", w.interval))
	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	if w.immediate {
		w.RunOnce(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("worker context canceled", zap.String("worker", w.name))
			return
		case <-w.stopCh:
			zap.L().Info("worker stop signal received", zap.String("worker", w.name))
			return
		case <-ticker.Chan():
			w.RunOnce(ctx)
		}
	}
}

// Stop stops the running worker loop.
func (w *Periodic) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *Periodic) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

// RunOnce runs the job immediately. A failed run is logged and counted.
func (w *Periodic) RunOnce(ctx context.Context) {
	if err := w.job(ctx); err != nil {
		observability.IncrementWorkerRun(w.name, "failed")
		zap.L().Error("worker run failed", zap.String("worker", w.name), zap.Error(err))
		return
	}
	observability.IncrementWorkerRun(w.name, "success")
}

func (w *Periodic) String() string {
	return fmt.Sprintf("%s(interval=%v)", w.name, w.interval)
}
