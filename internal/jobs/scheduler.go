// Package jobs runs background maintenance on a cron schedule.
package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/01moynul/storefront-ledger/internal/logger"
)

// Expirer cancels unpaid orders older than ttl and reports how many.
type Expirer func(ctx context.Context, ttl time.Duration) (int, error)

type Scheduler struct {
	cron   *cron.Cron
	log    *logger.Logger
	expire Expirer
	ttl    time.Duration
	spec   string
}

// NewScheduler builds a UTC scheduler. A ttl of zero disables the expiry
// sweep.
func NewScheduler(log *logger.Logger, expire Expirer, ttl time.Duration, spec string) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(time.UTC)),
		log:    log,
		expire: expire,
		ttl:    ttl,
		spec:   spec,
	}
}

// Start registers the jobs and starts the scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.ttl > 0 && s.expire != nil {
		if _, err := s.cron.AddFunc(s.spec, func() { s.sweep(ctx) }); err != nil {
			return err
		}
		s.log.Infow("pending order expiry scheduled", "spec", s.spec, "ttl", s.ttl.String())
	}
	s.cron.Start()
	return nil
}

func (s *Scheduler) sweep(ctx context.Context) {
	n, err := s.expire(ctx, s.ttl)
	if err != nil {
		s.log.Errorw("pending order expiry failed", "error", err)
		return
	}
	if n > 0 {
		s.log.Infow("expired unpaid orders", "count", n)
	}
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
}
