package scheduler

import (
	"context"
	"time"

	"github.com/jargoneur/carwatch/internal/store"
	"github.com/jargoneur/carwatch/pkg/alert"
	"github.com/jargoneur/carwatch/pkg/deal"
	"github.com/sirupsen/logrus"
)

// Scheduler runs periodic scoring passes and fires deal alerts.
type Scheduler struct {
	store    store.Store
	engine   *deal.Engine
	alertMgr *alert.Manager
	interval time.Duration
	minScore float64
	log      *logrus.Logger
}

// New creates a new scheduler.
func New(
	s store.Store,
	engine *deal.Engine,
	alertMgr *alert.Manager,
	interval time.Duration,
	minScore float64,
	log *logrus.Logger,
) *Scheduler {
	if interval == 0 {
		interval = time.Hour
	}
	if minScore == 0 {
		minScore = 90
	}
	if log == nil {
		log = logrus.New()
	}
	return &Scheduler{
		store:    s,
		engine:   engine,
		alertMgr: alertMgr,
		interval: interval,
		minScore: minScore,
		log:      log,
	}
}

// Run starts the scheduler loop. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run immediately on start.
	s.log.Info("scheduler: initial scoring pass")
	s.scoreAndAlert(ctx)

	s.log.WithField("interval", s.interval).Info("scheduler: running")

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler: stopped")
			return ctx.Err()
		case <-ticker.C:
			s.log.Info("scheduler: scoring pass")
			s.scoreAndAlert(ctx)
		}
	}
}

func (s *Scheduler) scoreAndAlert(ctx context.Context) {
	scored, err := s.engine.Run(ctx)
	if err != nil {
		s.log.WithError(err).Error("scheduler: scoring failed")
		return
	}
	s.log.WithField("listings", scored).Info("scheduler: scoring done")

	if !s.alertMgr.HasNotifiers() {
		return
	}

	deals, err := s.store.ListUnalertedDeals(ctx, s.minScore, 20)
	if err != nil {
		s.log.WithError(err).Error("scheduler: deal lookup failed")
		return
	}

	for _, l := range deals {
		n := alert.NewDealNotification(l)
		if err := s.alertMgr.Broadcast(ctx, n); err != nil {
			s.log.WithError(err).WithField("url", l.URL).Error("scheduler: alert failed")
			continue
		}

		_ = s.store.MarkAlerted(ctx, l.ID)
		s.log.WithFields(logrus.Fields{
			"title": n.Title,
			"score": n.Score,
		}).Info("scheduler: alerted deal")
	}
}
