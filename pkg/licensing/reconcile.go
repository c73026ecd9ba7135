package licensing

import (
	"context"
	"fmt"
	"time"
)

// ReconcileOrders expires paid orders whose end date has passed and purges
// unpaid orders older than the grace window. It is invoked from listing reads
// so that order state converges without a scheduler. Both transitions are
// monotonic, so concurrent passes are safe; concurrent calls for the same
// institute and product share one pass.
func (s *Service) ReconcileOrders(ctx context.Context, instituteID int64, product ProductType) (*ReconcileResult, error) {
	key := fmt.Sprintf("%d:%s", instituteID, product)
	v, err, _ := s.reconciles.Do(key, func() (interface{}, error) {
		return s.reconcile(ctx, instituteID, product, "read")
	})
	if err != nil {
		return nil, err
	}
	return v.(*ReconcileResult), nil
}

func (s *Service) reconcile(ctx context.Context, instituteID int64, product ProductType, trigger string) (*ReconcileResult, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveReconcile(trigger, time.Since(start)) }()

	now := s.now()
	nowMillis := Millis(now)
	result := &ReconcileResult{}

	expired, err := s.store.ListExpiredActiveOrders(ctx, instituteID, product, nowMillis)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired orders: %w", err)
	}
	for _, order := range expired {
		changed, err := s.store.ExpireOrder(ctx, order.ID, nowMillis)
		if err != nil {
			return nil, fmt.Errorf("failed to expire order %d: %w", order.ID, err)
		}
		if !changed {
			continue
		}
		result.Expired++
		s.metrics.RecordOrderTransition(string(order.Product), "expired")
		s.logger.WithFields(map[string]interface{}{
			"institute_id": instituteID,
			"order_id":     order.ID,
			"product":      order.Product,
		}).Info("license order expired")
	}

	cutoff := Millis(now.Add(-s.unpaidGrace))
	stale, err := s.store.ListStaleUnpaidOrders(ctx, instituteID, product, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale orders: %w", err)
	}
	for _, order := range stale {
		deleted, err := s.store.DeleteUnpaidOrder(ctx, order.ID, instituteID)
		if err != nil {
			return nil, fmt.Errorf("failed to purge order %d: %w", order.ID, err)
		}
		if !deleted {
			continue
		}
		result.Purged++
		s.metrics.RecordOrderTransition(string(order.Product), "purged")
		s.logger.WithFields(map[string]interface{}{
			"institute_id": instituteID,
			"order_id":     order.ID,
			"product":      order.Product,
		}).Info("stale unpaid order purged")
	}

	return result, nil
}

// ReconcileInstitute reconciles both products of one institute
func (s *Service) ReconcileInstitute(ctx context.Context, instituteID int64, trigger string) (*ReconcileResult, error) {
	total := &ReconcileResult{}
	for _, product := range []ProductType{ProductCommon, ProductStorage} {
		r, err := s.reconcile(ctx, instituteID, product, trigger)
		if err != nil {
			return nil, err
		}
		total.Expired += r.Expired
		total.Purged += r.Purged
	}
	return total, nil
}
