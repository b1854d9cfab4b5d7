package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

type resetTokenPurger interface {
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}

// Scheduler runs periodic housekeeping. Specs use the six-field cron format
// with a leading seconds field.
type Scheduler struct {
	cron     *cron.Cron
	purger   resetTokenPurger
	schedule string
	now      func() time.Time
}

func NewScheduler(purger resetTokenPurger, schedule string) *Scheduler {
	return &Scheduler{
		cron:     cron.New(cron.WithSeconds()),
		purger:   purger,
		schedule: schedule,
		now:      time.Now,
	}
}

func (s *Scheduler) Start() error {
	if s.purger == nil || s.schedule == "" {
		return nil
	}

	if _, err := s.cron.AddFunc(s.schedule, s.purgeResetTokens); err != nil {
		return err
	}

	s.cron.Start()
	logrus.WithField("schedule", s.schedule).Info("Housekeeping scheduler started")
	return nil
}

// Stop waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// PurgeResetTokens removes used and expired reset tokens once.
func (s *Scheduler) PurgeResetTokens(ctx context.Context) (int64, error) {
	return s.purger.PurgeExpired(ctx, s.now())
}

func (s *Scheduler) purgeResetTokens() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	n, err := s.PurgeResetTokens(ctx)
	if err != nil {
		logrus.WithError(err).Error("purge reset tokens failed")
		return
	}
	logrus.WithField("deleted", n).Info("Purged stale reset tokens")
}
