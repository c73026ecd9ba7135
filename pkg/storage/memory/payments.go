package memory

import (
	"context"

	"github.com/platinummonkey/lectern/pkg/payments"
)

var _ payments.CallbackLog = (*Store)(nil)

func (s *Store) AppendCallback(ctx context.Context, rec *payments.CallbackRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.ID = s.id()
	cp := *rec
	cp.Payload = append([]byte(nil), rec.Payload...)
	s.callbacks = append(s.callbacks, &cp)
	return nil
}

// ListCallbacks returns records for one gateway order in arrival order; an
// empty id lists everything.
func (s *Store) ListCallbacks(ctx context.Context, gatewayOrderID string) ([]*payments.CallbackRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*payments.CallbackRecord
	for _, rec := range s.callbacks {
		if gatewayOrderID == "" || rec.GatewayOrderID == gatewayOrderID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}
