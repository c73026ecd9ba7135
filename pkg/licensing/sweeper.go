package licensing

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/lectern/pkg/async"
	"github.com/platinummonkey/lectern/pkg/observability"
)

// Sweeper periodically reconciles every institute that has orders. Listing
// reads still reconcile on their own, so the sweeper only shortens how long
// expired state is visible to reads that do not list.
type Sweeper struct {
	service *Service
	cron    *cron.Cron
	workers int
	timeout time.Duration
	logger  *observability.Logger
	running atomic.Bool
}

// NewSweeper creates a sweeper running on the given cron spec
func NewSweeper(service *Service, spec string, workers int, logger *observability.Logger) (*Sweeper, error) {
	if workers <= 0 {
		workers = 4
	}
	s := &Sweeper{
		service: service,
		cron:    cron.New(),
		workers: workers,
		timeout: 30 * time.Second,
		logger:  logger,
	}
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("invalid reconcile schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins the schedule
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Sweeper) tick() {
	defer observability.RecoverPanic(s.logger, "reconcile sweep")

	// skip overlapping runs
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	defer s.running.Store(false)

	if _, err := s.Sweep(context.Background()); err != nil {
		s.logger.WithError(err).Error("reconcile sweep failed")
	}
}

// Sweep reconciles all institutes once and returns the combined result
func (s *Sweeper) Sweep(ctx context.Context) (*ReconcileResult, error) {
	institutes, err := s.service.store.ListInstitutesWithOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list institutes: %w", err)
	}

	var expired, purged atomic.Int64
	errs := async.Batch(ctx, institutes, s.workers, "reconcile", s.timeout, func(ctx context.Context, instituteID int64) error {
		r, err := s.service.ReconcileInstitute(ctx, instituteID, "sweep")
		if err != nil {
			return fmt.Errorf("institute %d: %w", instituteID, err)
		}
		expired.Add(int64(r.Expired))
		purged.Add(int64(r.Purged))
		return nil
	})
	for _, err := range errs {
		s.logger.WithError(err).Warn("reconcile failed for institute")
	}

	result := &ReconcileResult{Expired: int(expired.Load()), Purged: int(purged.Load())}
	s.logger.WithFields(map[string]interface{}{
		"institutes": len(institutes),
		"expired":    result.Expired,
		"purged":     result.Purged,
		"failures":   len(errs),
	}).Info("reconcile sweep finished")
	return result, nil
}
