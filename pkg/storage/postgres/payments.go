package postgres

import (
	"context"
	"fmt"

	"github.com/platinummonkey/lectern/pkg/payments"
)

// AppendCallback inserts a record; the table is never updated
func (s *Store) AppendCallback(ctx context.Context, rec *payments.CallbackRecord) error {
	payload := rec.Payload
	if len(payload) == 0 {
		payload = []byte("null")
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO payment_callbacks (source, product, event, gateway_order_id, gateway_payment_id, signature, verified, payload, received_on)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, rec.Source, rec.Product, rec.Event, rec.GatewayOrderID, rec.GatewayPaymentID, rec.Signature, rec.Verified,
		[]byte(payload), rec.ReceivedOn).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("failed to append payment callback: %w", err)
	}
	return nil
}

// ListCallbacks returns records for one gateway order in arrival order; an
// empty id lists everything.
func (s *Store) ListCallbacks(ctx context.Context, gatewayOrderID string) ([]*payments.CallbackRecord, error) {
	rows, err := s.reader().QueryContext(ctx, `
		SELECT id, source, product, event, gateway_order_id, gateway_payment_id, signature, verified, payload, received_on
		FROM payment_callbacks
		WHERE $1 = '' OR gateway_order_id = $1
		ORDER BY id
	`, gatewayOrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payment callbacks: %w", err)
	}
	defer rows.Close()

	var out []*payments.CallbackRecord
	for rows.Next() {
		var (
			rec     payments.CallbackRecord
			payload []byte
		)
		err := rows.Scan(&rec.ID, &rec.Source, &rec.Product, &rec.Event, &rec.GatewayOrderID, &rec.GatewayPaymentID,
			&rec.Signature, &rec.Verified, &payload, &rec.ReceivedOn)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment callback: %w", err)
		}
		rec.Payload = payload
		out = append(out, &rec)
	}
	return out, rows.Err()
}
