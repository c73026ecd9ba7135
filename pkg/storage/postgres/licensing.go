package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/platinummonkey/lectern/pkg/apperr"
	"github.com/platinummonkey/lectern/pkg/licensing"
)

func (s *Store) ListCatalogEntries(ctx context.Context) ([]*licensing.CatalogEntry, error) {
	rows, err := s.reader().QueryContext(ctx, `
		SELECT id, name, price, gst_percent, discount_percent, billing_cycle, limits, active, created_on
		FROM catalog_entries ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list catalog: %w", err)
	}
	defer rows.Close()

	var out []*licensing.CatalogEntry
	for rows.Next() {
		e, err := scanCatalogEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanCatalogEntry(row interface{ Scan(...interface{}) error }) (*licensing.CatalogEntry, error) {
	var (
		e      licensing.CatalogEntry
		limits []byte
	)
	if err := row.Scan(&e.ID, &e.Name, &e.Price, &e.GSTPercent, &e.DiscountPercent, &e.BillingCycle, &limits, &e.Active, &e.CreatedOn); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(limits, &e.Limits); err != nil {
		return nil, fmt.Errorf("failed to decode catalog limits: %w", err)
	}
	return &e, nil
}

func (s *Store) GetCatalogEntry(ctx context.Context, id int64) (*licensing.CatalogEntry, error) {
	e, err := scanCatalogEntry(s.db.QueryRowContext(ctx, `
		SELECT id, name, price, gst_percent, discount_percent, billing_cycle, limits, active, created_on
		FROM catalog_entries WHERE id = $1
	`, id))
	if err != nil {
		return nil, notFoundOr(err, "catalog entry")
	}
	return e, nil
}

// UpsertCatalogEntry inserts entries without an id and replaces the rest
func (s *Store) UpsertCatalogEntry(ctx context.Context, entry *licensing.CatalogEntry) error {
	limits, err := json.Marshal(entry.Limits)
	if err != nil {
		return fmt.Errorf("failed to encode catalog limits: %w", err)
	}
	if entry.ID == 0 {
		err = s.db.QueryRowContext(ctx, `
			INSERT INTO catalog_entries (name, price, gst_percent, discount_percent, billing_cycle, limits, active, created_on)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id
		`, entry.Name, entry.Price, entry.GSTPercent, entry.DiscountPercent, entry.BillingCycle, limits, entry.Active, entry.CreatedOn).Scan(&entry.ID)
		if err != nil {
			return fmt.Errorf("failed to insert catalog entry: %w", err)
		}
		return nil
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO catalog_entries (id, name, price, gst_percent, discount_percent, billing_cycle, limits, active, created_on)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, price = EXCLUDED.price, gst_percent = EXCLUDED.gst_percent,
			discount_percent = EXCLUDED.discount_percent, billing_cycle = EXCLUDED.billing_cycle,
			limits = EXCLUDED.limits, active = EXCLUDED.active
	`, entry.ID, entry.Name, entry.Price, entry.GSTPercent, entry.DiscountPercent, entry.BillingCycle, limits, entry.Active, entry.CreatedOn)
	if err != nil {
		return fmt.Errorf("failed to upsert catalog entry: %w", err)
	}
	return nil
}

func (s *Store) GetStoragePlan(ctx context.Context) (*licensing.StoragePlan, error) {
	var p licensing.StoragePlan
	err := s.db.QueryRowContext(ctx,
		"SELECT id, price_per_gb, gst_percent FROM storage_plans ORDER BY id LIMIT 1").
		Scan(&p.ID, &p.PricePerGB, &p.GSTPercent)
	if err != nil {
		return nil, notFoundOr(err, "storage plan")
	}
	return &p, nil
}

func (s *Store) UpsertStoragePlan(ctx context.Context, plan *licensing.StoragePlan) error {
	if plan.ID == 0 {
		plan.ID = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO storage_plans (id, price_per_gb, gst_percent) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET price_per_gb = EXCLUDED.price_per_gb, gst_percent = EXCLUDED.gst_percent
	`, plan.ID, plan.PricePerGB, plan.GSTPercent)
	if err != nil {
		return fmt.Errorf("failed to upsert storage plan: %w", err)
	}
	return nil
}

func (s *Store) GetCouponByCode(ctx context.Context, code string) (*licensing.Coupon, error) {
	var c licensing.Coupon
	err := s.db.QueryRowContext(ctx,
		"SELECT id, code, discount, expiry_date, active, created_on FROM coupons WHERE code = $1", code).
		Scan(&c.ID, &c.Code, &c.Discount, &c.ExpiryDate, &c.Active, &c.CreatedOn)
	if err != nil {
		return nil, notFoundOr(err, "coupon")
	}
	return &c, nil
}

// UpsertCoupon never reactivates a consumed coupon
func (s *Store) UpsertCoupon(ctx context.Context, coupon *licensing.Coupon) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO coupons (code, discount, expiry_date, active, created_on)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (code) DO UPDATE SET discount = EXCLUDED.discount, expiry_date = EXCLUDED.expiry_date
		RETURNING id, active, created_on
	`, coupon.Code, coupon.Discount, coupon.ExpiryDate, coupon.Active, coupon.CreatedOn).
		Scan(&coupon.ID, &coupon.Active, &coupon.CreatedOn)
	if err != nil {
		return fmt.Errorf("failed to upsert coupon: %w", err)
	}
	return nil
}

func (s *Store) DeleteUnconsumedSelections(ctx context.Context, instituteID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM selected_licenses WHERE institute_id = $1 AND NOT payment_id_generated", instituteID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete selections: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) CreateSelectedLicense(ctx context.Context, sel *licensing.SelectedLicense) error {
	limits, err := json.Marshal(sel.Limits)
	if err != nil {
		return fmt.Errorf("failed to encode selection limits: %w", err)
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO selected_licenses (institute_id, catalog_entry_id, name, price, gst_percent, discount_percent,
			billing_cycle, limits, coupon_id, coupon_discount, net_amount, payment_id_generated, selected_by, selected_on)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id
	`, sel.InstituteID, sel.CatalogEntryID, sel.Name, sel.Price, sel.GSTPercent, sel.DiscountPercent,
		sel.BillingCycle, limits, nullInt64(sel.CouponID), sel.CouponDiscount, sel.NetAmount, sel.PaymentIDGenerated,
		sel.SelectedBy, sel.SelectedOn).Scan(&sel.ID)
	if err != nil {
		return fmt.Errorf("failed to create selection: %w", err)
	}
	return nil
}

func (s *Store) GetSelectedLicense(ctx context.Context, id int64) (*licensing.SelectedLicense, error) {
	var (
		sel      licensing.SelectedLicense
		limits   []byte
		couponID sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, institute_id, catalog_entry_id, name, price, gst_percent, discount_percent, billing_cycle,
			limits, coupon_id, coupon_discount, net_amount, payment_id_generated, selected_by, selected_on
		FROM selected_licenses WHERE id = $1
	`, id).Scan(&sel.ID, &sel.InstituteID, &sel.CatalogEntryID, &sel.Name, &sel.Price, &sel.GSTPercent,
		&sel.DiscountPercent, &sel.BillingCycle, &limits, &couponID, &sel.CouponDiscount, &sel.NetAmount,
		&sel.PaymentIDGenerated, &sel.SelectedBy, &sel.SelectedOn)
	if err != nil {
		return nil, notFoundOr(err, "selected license")
	}
	if err := json.Unmarshal(limits, &sel.Limits); err != nil {
		return nil, fmt.Errorf("failed to decode selection limits: %w", err)
	}
	sel.CouponID = int64Ptr(couponID)
	return &sel, nil
}

func (s *Store) MarkSelectionConsumed(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "UPDATE selected_licenses SET payment_id_generated = TRUE WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to mark selection consumed: %w", err)
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("selected license")
	}
	return nil
}

const orderColumns = `id, institute_id, product, selected_license_id, no_of_gb, months, gateway,
	gateway_order_id, gateway_payment_id, receipt, amount, currency, paid, active,
	start_date, end_date, payment_date, order_created_on, created_by`

func scanOrder(row interface{ Scan(...interface{}) error }) (*licensing.Order, error) {
	var (
		o                                  licensing.Order
		selectionID                        sql.NullInt64
		gatewayOrderID, paymentID, receipt sql.NullString
	)
	err := row.Scan(&o.ID, &o.InstituteID, &o.Product, &selectionID, &o.NoOfGB, &o.Months, &o.Gateway,
		&gatewayOrderID, &paymentID, &receipt, &o.Amount, &o.Currency, &o.Paid, &o.Active,
		&o.StartDate, &o.EndDate, &o.PaymentDate, &o.OrderCreatedOn, &o.CreatedBy)
	if err != nil {
		return nil, err
	}
	o.SelectedLicenseID = int64Ptr(selectionID)
	o.GatewayOrderID = gatewayOrderID.String
	o.GatewayPaymentID = paymentID.String
	o.Receipt = receipt.String
	return &o, nil
}

func (s *Store) queryOrders(ctx context.Context, query string, args ...interface{}) ([]*licensing.Order, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+orderColumns+" FROM license_orders WHERE "+query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var out []*licensing.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) queryOrder(ctx context.Context, query string, args ...interface{}) (*licensing.Order, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM license_orders WHERE "+query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return o, nil
}

// newestFirst orders like the in-memory store: creation time, then id
const newestFirst = " ORDER BY order_created_on DESC, id DESC"

func (s *Store) CreateOrder(ctx context.Context, order *licensing.Order) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO license_orders (institute_id, product, selected_license_id, no_of_gb, months, gateway,
			gateway_order_id, gateway_payment_id, receipt, amount, currency, paid, active,
			start_date, end_date, payment_date, order_created_on, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING id
	`, order.InstituteID, order.Product, nullInt64(order.SelectedLicenseID), order.NoOfGB, order.Months, order.Gateway,
		nullString(order.GatewayOrderID), nullString(order.GatewayPaymentID), nullString(order.Receipt),
		order.Amount, order.Currency, order.Paid, order.Active,
		order.StartDate, order.EndDate, order.PaymentDate, order.OrderCreatedOn, order.CreatedBy).Scan(&order.ID)
	if err != nil {
		if order.Product == licensing.ProductStorage {
			return conflictOr(err, "pending storage order already exists")
		}
		return conflictOr(err, "order already exists for selected license")
	}
	return nil
}

func (s *Store) GetOrder(ctx context.Context, id int64) (*licensing.Order, error) {
	o, err := s.queryOrder(ctx, "id = $1", id)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, apperr.NotFound("license order")
	}
	return o, nil
}

func (s *Store) GetOrderByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*licensing.Order, error) {
	if gatewayOrderID == "" {
		return nil, apperr.NotFound("license order")
	}
	o, err := s.queryOrder(ctx, "gateway_order_id = $1", gatewayOrderID)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, apperr.NotFound("license order")
	}
	return o, nil
}

func (s *Store) FindOrderBySelection(ctx context.Context, selectedLicenseID int64) (*licensing.Order, error) {
	return s.queryOrder(ctx, "selected_license_id = $1", selectedLicenseID)
}

func (s *Store) FindPendingStorageOrder(ctx context.Context, instituteID int64, noOfGB, months int) (*licensing.Order, error) {
	return s.queryOrder(ctx,
		"institute_id = $1 AND product = $2 AND NOT paid AND NOT active AND no_of_gb = $3 AND months = $4",
		instituteID, licensing.ProductStorage, noOfGB, months)
}

func (s *Store) UpdateOrderGateway(ctx context.Context, id int64, gateway licensing.Gateway, gatewayOrderID, receipt string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE license_orders SET gateway = $2, gateway_order_id = $3, receipt = $4 WHERE id = $1",
		id, gateway, nullString(gatewayOrderID), nullString(receipt))
	if err != nil {
		return conflictOr(err, "gateway order id already in use")
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("license order")
	}
	return nil
}

func (s *Store) ListOrders(ctx context.Context, instituteID int64, product licensing.ProductType) ([]*licensing.Order, error) {
	return s.queryOrders(ctx, "institute_id = $1 AND product = $2"+newestFirst, instituteID, product)
}

func (s *Store) LatestCurrentOrder(ctx context.Context, instituteID int64, product licensing.ProductType, nowMillis int64) (*licensing.Order, error) {
	return s.queryOrder(ctx,
		"institute_id = $1 AND product = $2 AND paid AND active AND end_date > $3"+newestFirst+" LIMIT 1",
		instituteID, product, nowMillis)
}

func (s *Store) LatestPaidOrder(ctx context.Context, instituteID int64, product licensing.ProductType) (*licensing.Order, error) {
	return s.queryOrder(ctx, "institute_id = $1 AND product = $2 AND paid"+newestFirst+" LIMIT 1", instituteID, product)
}

func (s *Store) ListExpiredActiveOrders(ctx context.Context, instituteID int64, product licensing.ProductType, nowMillis int64) ([]*licensing.Order, error) {
	return s.queryOrders(ctx,
		"institute_id = $1 AND product = $2 AND paid AND active AND end_date <= $3"+newestFirst,
		instituteID, product, nowMillis)
}

func (s *Store) ListStaleUnpaidOrders(ctx context.Context, instituteID int64, product licensing.ProductType, cutoffMillis int64) ([]*licensing.Order, error) {
	return s.queryOrders(ctx,
		"institute_id = $1 AND product = $2 AND NOT paid AND order_created_on < $3"+newestFirst,
		instituteID, product, cutoffMillis)
}

func (s *Store) ListInstitutesWithOrders(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT institute_id FROM license_orders ORDER BY institute_id")
	if err != nil {
		return nil, fmt.Errorf("failed to list institutes with orders: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan institute id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// DeleteUnpaidOrder removes an unpaid order together with its selection
func (s *Store) DeleteUnpaidOrder(ctx context.Context, id, instituteID int64) (bool, error) {
	var deleted bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var selectionID sql.NullInt64
		err := tx.QueryRowContext(ctx, `
			DELETE FROM license_orders WHERE id = $1 AND institute_id = $2 AND NOT paid
			RETURNING selected_license_id
		`, id, instituteID).Scan(&selectionID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to delete order: %w", err)
		}
		deleted = true
		if selectionID.Valid {
			if _, err := tx.ExecContext(ctx, "DELETE FROM selected_licenses WHERE id = $1", selectionID.Int64); err != nil {
				return fmt.Errorf("failed to delete selection: %w", err)
			}
		}
		return nil
	})
	return deleted, err
}

// ActivateOrder flips the order to paid with a conditional update, so two
// concurrent notifications for one order apply it exactly once.
func (s *Store) ActivateOrder(ctx context.Context, params licensing.ActivateParams) (bool, error) {
	var applied bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			instituteID int64
			product     licensing.ProductType
			selectionID sql.NullInt64
			noOfGB      int
		)
		err := tx.QueryRowContext(ctx, `
			UPDATE license_orders
			SET paid = TRUE, active = TRUE, gateway_payment_id = $2, payment_date = $3, start_date = $4, end_date = $5
			WHERE id = $1 AND NOT paid
			RETURNING institute_id, product, selected_license_id, no_of_gb
		`, params.OrderID, nullString(params.PaymentID), params.PaidOn, params.StartDate, params.EndDate).
			Scan(&instituteID, &product, &selectionID, &noOfGB)
		if errors.Is(err, sql.ErrNoRows) {
			var exists bool
			if err := tx.QueryRowContext(ctx,
				"SELECT EXISTS(SELECT 1 FROM license_orders WHERE id = $1)", params.OrderID).Scan(&exists); err != nil {
				return fmt.Errorf("failed to check order: %w", err)
			}
			if !exists {
				return apperr.NotFound("license order")
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to activate order: %w", err)
		}
		applied = true

		switch product {
		case licensing.ProductCommon:
			if selectionID.Valid {
				_, err = tx.ExecContext(ctx, `
					UPDATE coupons SET active = FALSE
					WHERE id = (SELECT coupon_id FROM selected_licenses WHERE id = $1)
				`, selectionID.Int64)
				if err != nil {
					return fmt.Errorf("failed to consume coupon: %w", err)
				}
			}
		case licensing.ProductStorage:
			_, err = tx.ExecContext(ctx, `
				INSERT INTO license_statistics (institute_id, total_storage, storage_license_end_date)
				VALUES ($1, $2, $3)
				ON CONFLICT (institute_id) DO UPDATE SET
					total_storage = ROUND((license_statistics.total_storage + EXCLUDED.total_storage)::numeric, $4)::double precision,
					storage_license_end_date = GREATEST(license_statistics.storage_license_end_date, EXCLUDED.storage_license_end_date)
			`, instituteID, float64(noOfGB), params.EndDate, gbScale)
			if err != nil {
				return fmt.Errorf("failed to add storage entitlement: %w", err)
			}
		}
		return nil
	})
	return applied, err
}

func (s *Store) ExpireOrder(ctx context.Context, id int64, nowMillis int64) (bool, error) {
	var expired bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			instituteID int64
			product     licensing.ProductType
			noOfGB      int
		)
		err := tx.QueryRowContext(ctx, `
			UPDATE license_orders SET active = FALSE
			WHERE id = $1 AND paid AND active AND end_date <= $2
			RETURNING institute_id, product, no_of_gb
		`, id, nowMillis).Scan(&instituteID, &product, &noOfGB)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to expire order: %w", err)
		}
		expired = true
		if product != licensing.ProductStorage {
			return nil
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE license_statistics SET
				total_storage = GREATEST(ROUND((total_storage - $2)::numeric, $3)::double precision, 0),
				storage_license_end_date = COALESCE((
					SELECT MAX(end_date) FROM license_orders
					WHERE institute_id = $1 AND product = $4 AND paid AND active
				), 0)
			WHERE institute_id = $1
		`, instituteID, float64(noOfGB), gbScale, licensing.ProductStorage)
		if err != nil {
			return fmt.Errorf("failed to release storage entitlement: %w", err)
		}
		return nil
	})
	return expired, err
}

func (s *Store) InitLicenseStatistics(ctx context.Context, instituteID int64) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO license_statistics (institute_id) VALUES ($1) ON CONFLICT (institute_id) DO NOTHING", instituteID)
	if err != nil {
		return fmt.Errorf("failed to init license statistics: %w", err)
	}
	return nil
}

func (s *Store) GetLicenseStatistics(ctx context.Context, instituteID int64) (*licensing.LicenseStatistics, error) {
	var st licensing.LicenseStatistics
	err := s.db.QueryRowContext(ctx,
		"SELECT institute_id, total_storage, storage_license_end_date FROM license_statistics WHERE institute_id = $1",
		instituteID).Scan(&st.InstituteID, &st.TotalStorage, &st.StorageLicenseEndDate)
	if err != nil {
		return nil, notFoundOr(err, "license statistics")
	}
	return &st, nil
}
