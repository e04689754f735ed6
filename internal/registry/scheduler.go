package registry

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/marketcalls/openalgo-sub002/internal/markethours"
	"github.com/marketcalls/openalgo-sub002/internal/model"
)

// Refresher is the part of Service the scheduler and HTTP layer drive.
type Refresher interface {
	Refresh(ctx context.Context, brokerID string) (RefreshReport, error)
}

// Scheduler refreshes one broker daily at a fixed IST wall-clock time on
// trading days. Contracts roll over before the open, so the default slot is
// 08:00.
type Scheduler struct {
	svc    Refresher
	broker string
	hour   int
	minute int

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

// NewScheduler parses at ("HH:MM" IST) and returns a scheduler for broker.
func NewScheduler(svc Refresher, broker, at string) (*Scheduler, error) {
	h, m, err := markethours.ParseClock(at)
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		svc:    svc,
		broker: broker,
		hour:   h,
		minute: m,
		now:    time.Now,
		after:  time.After,
	}, nil
}

// Next returns the first refresh slot strictly after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return markethours.NextAt(t, s.hour, s.minute)
}

// Run blocks until ctx is cancelled, refreshing at every slot. Failures are
// already logged and alerted by the service; the schedule continues.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		next := s.Next(s.now())
		log.Printf("[scheduler] next %s refresh at %s", s.broker, next.Format(time.RFC3339))

		select {
		case <-ctx.Done():
			return
		case <-s.after(time.Until(next)):
		}

		report, err := s.svc.Refresh(ctx, s.broker)
		switch {
		case errors.Is(err, model.ErrRefreshInProgress):
			log.Printf("[scheduler] %s refresh skipped: another refresh is running", s.broker)
		case err != nil:
			log.Printf("[scheduler] %s refresh failed (run %s): %v", s.broker, report.RunID, err)
		default:
			log.Printf("[scheduler] %s refresh done (run %s): inserted=%d rejected=%d",
				s.broker, report.RunID, report.Inserted, report.Rejected)
		}
	}
}
