package worker

import (
	"context"
	"sync"
	"time"

	"ragdesk/internal/app"
	"ragdesk/internal/logging"
)

type Maintainer interface {
	PurgeInactive(ctx context.Context, idle time.Duration) (app.PurgeReport, error)
	SweepLeakedPoints(ctx context.Context) (int, error)
}

// Janitor periodically deletes inactive tenants and removes index points
// that carry no tenant.
type Janitor struct {
	tenants  Maintainer
	interval time.Duration
	idle     time.Duration
	log      logging.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewJanitor(tenants Maintainer, interval, idle time.Duration, log logging.Logger) *Janitor {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Janitor{
		tenants:  tenants,
		interval: interval,
		idle:     idle,
		log:      log.With("component", "janitor"),
	}
}

func (j *Janitor) Start(ctx context.Context) {
	if j.cancel != nil {
		return
	}
	janitorCtx, cancel := context.WithCancel(ctx)
	j.cancel = cancel

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()
		for {
			select {
			case <-janitorCtx.Done():
				return
			case <-ticker.C:
				j.RunOnce(janitorCtx, true, true)
			}
		}
	}()
}

// RunOnce runs the selected passes. Failures are logged; the next run retries.
func (j *Janitor) RunOnce(ctx context.Context, purge, sweep bool) {
	if purge {
		report, err := j.tenants.PurgeInactive(ctx, j.idle)
		if err != nil {
			j.log.Error(ctx, "purge inactive tenants failed", "err", err)
		} else {
			j.log.Info(ctx, "purge finished", "tenants", report.Tenants, "points", report.Points, "failed", report.Failed)
		}
	}
	if sweep {
		n, err := j.tenants.SweepLeakedPoints(ctx)
		if err != nil {
			j.log.Error(ctx, "sweep leaked points failed", "err", err)
		} else if n > 0 {
			j.log.Warn(ctx, "removed points without a tenant", "points", n)
		}
	}
}

func (j *Janitor) Close() {
	if j.cancel != nil {
		j.cancel()
	}
	j.wg.Wait()
}
