package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fulfillment/internal/branches"
	"github.com/odyssey-erp/fulfillment/internal/catalog"
	"github.com/odyssey-erp/fulfillment/internal/inventory"
	"github.com/odyssey-erp/fulfillment/internal/platform/db"
	"github.com/odyssey-erp/fulfillment/internal/shared"
)

// repository implements Repository using pgxpool.
type repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

// WithTx runs fn with ledger, catalog and branch stores bound to one transaction.
func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, newTxRepository(tx))
	})
}

func (r *repository) Get(ctx context.Context, id int64) (Order, error) {
	order, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		return Order{}, err
	}
	if err := loadChildren(ctx, r.pool, &order, true); err != nil {
		return Order{}, err
	}
	return order, nil
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]Order, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.BranchID > 0 {
		add("branch_id = $%d", filter.BranchID)
	}
	if filter.CustomerID > 0 {
		add("customer_id = $%d", filter.CustomerID)
	}
	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	page := filter.Page.Normalize()
	args = append(args, page.Limit, page.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if err := loadChildren(ctx, r.pool, &out[i], false); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// txRepository composes the per-package transaction stores. The ledger store is
// embedded; catalog and branch calls are forwarded.
type txRepository struct {
	*inventory.TxStore
	tx          pgx.Tx
	variants    *catalog.TxStore
	directory   *branches.TxStore
	idempotency *shared.IdempotencyStore
	audit       *shared.AuditLogger
}

func newTxRepository(tx pgx.Tx) *txRepository {
	return &txRepository{
		TxStore:     inventory.NewTxStore(tx),
		tx:          tx,
		variants:    catalog.NewTxStore(tx),
		directory:   branches.NewTxStore(tx),
		idempotency: shared.NewIdempotencyStore(tx),
		audit:       shared.NewAuditLogger(tx),
	}
}

func (t *txRepository) GetVariant(ctx context.Context, sku string) (catalog.Variant, error) {
	return t.variants.GetVariant(ctx, sku)
}

func (t *txRepository) DecrementStock(ctx context.Context, sku string, qty int64) error {
	return t.variants.DecrementStock(ctx, sku, qty)
}

func (t *txRepository) IncrementStock(ctx context.Context, sku string, qty int64) error {
	return t.variants.IncrementStock(ctx, sku, qty)
}

func (t *txRepository) GetBranch(ctx context.Context, id int64) (branches.Branch, error) {
	return t.directory.GetBranch(ctx, id)
}

func (t *txRepository) IncrementOrderCount(ctx context.Context, id int64) error {
	return t.directory.IncrementOrderCount(ctx, id)
}

func (t *txRepository) DecrementOrderCount(ctx context.Context, id int64) error {
	return t.directory.DecrementOrderCount(ctx, id)
}

func (t *txRepository) GetShipper(ctx context.Context, id int64) (branches.Shipper, error) {
	return t.directory.GetShipper(ctx, id)
}

const orderColumns = `id, order_number, customer_id, source, fulfillment, status, stage, branch_id,
	payment_method, payment_status, payment_reference,
	subtotal, shipping_fee, discount, promotion_discount, total,
	total_override, total_override_reason, total_override_by,
	shipper_id, shipper_assigned_by, shipper_assigned_at,
	carrier, tracking_number, carrier_last_event_id, carrier_last_webhook_at,
	delivery_proof, shipping_address, note, cancel_reason,
	catalog_stock_deducted, branch_reserved, inventory_deducted_at,
	version, created_at, updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o              Order
		override       decimal.NullDecimal
		overrideReason *string
		overrideBy     *int64
		shipperID      *int64
		shipperBy      *int64
		shipperAt      *time.Time
		carrierName    *string
		tracking       *string
		lastEventID    *string
		lastWebhookAt  *time.Time
		proof          []byte
		paymentRef     *string
		address, note  *string
		cancelReason   *string
	)
	err := row.Scan(&o.ID, &o.Number, &o.CustomerID, &o.Source, &o.Fulfillment, &o.Status, &o.Stage, &o.BranchID,
		&o.PaymentMethod, &o.PaymentStatus, &paymentRef,
		&o.Subtotal, &o.ShippingFee, &o.Discount, &o.PromotionDiscount, &o.Total,
		&override, &overrideReason, &overrideBy,
		&shipperID, &shipperBy, &shipperAt,
		&carrierName, &tracking, &lastEventID, &lastWebhookAt,
		&proof, &address, &note, &cancelReason,
		&o.CatalogStockDeducted, &o.BranchReserved, &o.InventoryDeductedAt,
		&o.Version, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrOrderNotFound
	}
	if err != nil {
		return Order{}, err
	}
	o.PaymentRef = deref(paymentRef)
	o.Address = deref(address)
	o.Note = deref(note)
	o.CancelReason = deref(cancelReason)
	if override.Valid {
		o.TotalOverride = &Override{Amount: override.Decimal, Reason: deref(overrideReason)}
		if overrideBy != nil {
			o.TotalOverride.ActorID = *overrideBy
		}
	}
	if shipperID != nil {
		o.Shipper = &ShipperAssignment{ShipperID: *shipperID}
		if shipperBy != nil {
			o.Shipper.AssignedBy = *shipperBy
		}
		if shipperAt != nil {
			o.Shipper.AssignedAt = *shipperAt
		}
	}
	if tracking != nil || carrierName != nil {
		o.Carrier = &CarrierAssignment{
			Carrier:        deref(carrierName),
			TrackingNumber: deref(tracking),
			LastEventID:    deref(lastEventID),
			LastWebhookAt:  lastWebhookAt,
		}
	}
	if len(proof) > 0 {
		var p DeliveryProof
		if err := json.Unmarshal(proof, &p); err != nil {
			return Order{}, fmt.Errorf("decode delivery proof: %w", err)
		}
		o.Proof = &p
	}
	return o, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func loadChildren(ctx context.Context, q db.Querier, o *Order, withHistory bool) error {
	rows, err := q.Query(ctx, `
		SELECT id, sku, product_name, variant_name, quantity, unit_price, line_total
		FROM order_items WHERE order_id = $1 ORDER BY id`, o.ID)
	if err != nil {
		return err
	}
	o.Items, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (Item, error) {
		var it Item
		err := row.Scan(&it.ID, &it.SKU, &it.ProductName, &it.VariantName, &it.Quantity, &it.UnitPrice, &it.LineTotal)
		return it, err
	})
	if err != nil || !withHistory {
		return err
	}

	rows, err = q.Query(ctx, `
		SELECT id, status, actor_id, role, note, created_at
		FROM order_status_history WHERE order_id = $1 ORDER BY id`, o.ID)
	if err != nil {
		return err
	}
	o.StatusHistory, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (StatusEntry, error) {
		var e StatusEntry
		var note *string
		err := row.Scan(&e.ID, &e.Status, &e.ActorID, &e.Role, &note, &e.At)
		e.Note = deref(note)
		return e, err
	})
	if err != nil {
		return err
	}

	rows, err = q.Query(ctx, `
		SELECT id, stage, created_at
		FROM order_stage_history WHERE order_id = $1 ORDER BY id`, o.ID)
	if err != nil {
		return err
	}
	o.StageHistory, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (StageEntry, error) {
		var e StageEntry
		err := row.Scan(&e.ID, &e.Stage, &e.At)
		return e, err
	})
	return err
}

// NextOrderNumber allocates the next per-day, per-channel sequence.
func (t *txRepository) NextOrderNumber(ctx context.Context, src Source, day time.Time) (string, error) {
	prefix := "ONL"
	if src == SourceInStore {
		prefix = "STR"
	}
	var seq int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO order_sequences (day, channel, last_value) VALUES ($1, $2, 1)
		ON CONFLICT (day, channel) DO UPDATE SET last_value = order_sequences.last_value + 1
		RETURNING last_value`, day.Format("2006-01-02"), string(src)).Scan(&seq)
	if err != nil {
		return "", fmt.Errorf("allocate order number: %w", err)
	}
	return fmt.Sprintf("%s-%s-%04d", prefix, day.Format("20060102"), seq), nil
}

func (t *txRepository) GetForUpdate(ctx context.Context, id int64) (Order, error) {
	order, err := scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return Order{}, err
	}
	return order, loadChildren(ctx, t.tx, &order, true)
}

func (t *txRepository) FindByTrackingForUpdate(ctx context.Context, tracking string) (Order, error) {
	order, err := scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE tracking_number = $1 FOR UPDATE`, tracking))
	if errors.Is(err, ErrOrderNotFound) {
		return Order{}, ErrOrderNotFound.Detail("tracking number %s", tracking)
	}
	if err != nil {
		return Order{}, err
	}
	return order, loadChildren(ctx, t.tx, &order, true)
}

// Insert writes a new order with its items and first history entries.
func (t *txRepository) Insert(ctx context.Context, o *Order) error {
	args := t.orderArgs(o)
	err := t.tx.QueryRow(ctx, `
		INSERT INTO orders (order_number, customer_id, source, fulfillment, status, stage, branch_id,
			payment_method, payment_status, payment_reference,
			subtotal, shipping_fee, discount, promotion_discount, total,
			total_override, total_override_reason, total_override_by,
			shipper_id, shipper_assigned_by, shipper_assigned_at,
			carrier, tracking_number, carrier_last_event_id, carrier_last_webhook_at,
			delivery_proof, shipping_address, note, cancel_reason,
			catalog_stock_deducted, branch_reserved, inventory_deducted_at,
			version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
			$19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32, 1, $33, $33)
		RETURNING id`, append(args, o.CreatedAt)...).Scan(&o.ID)
	if err != nil {
		if db.IsUniqueViolation(err, "orders_order_number_key") {
			return shared.NewError(shared.ErrConflict, "DUPLICATE_ORDER_NUMBER", "order number already used")
		}
		return fmt.Errorf("insert order: %w", err)
	}
	o.Version = 1
	o.UpdatedAt = o.CreatedAt
	for i := range o.Items {
		it := &o.Items[i]
		err := t.tx.QueryRow(ctx, `
			INSERT INTO order_items (order_id, sku, product_name, variant_name, quantity, unit_price, line_total)
			VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
			o.ID, it.SKU, it.ProductName, it.VariantName, it.Quantity, it.UnitPrice, it.LineTotal).Scan(&it.ID)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	return t.appendHistory(ctx, o)
}

// Save persists mutable order fields and any history entries not yet stored.
func (t *txRepository) Save(ctx context.Context, o *Order) error {
	args := append([]any{o.ID}, t.orderArgs(o)[4:]...)
	tag, err := t.tx.Exec(ctx, `
		UPDATE orders SET
			status = $2, stage = $3, branch_id = $4,
			payment_method = $5, payment_status = $6, payment_reference = $7,
			subtotal = $8, shipping_fee = $9, discount = $10, promotion_discount = $11, total = $12,
			total_override = $13, total_override_reason = $14, total_override_by = $15,
			shipper_id = $16, shipper_assigned_by = $17, shipper_assigned_at = $18,
			carrier = $19, tracking_number = $20, carrier_last_event_id = $21, carrier_last_webhook_at = $22,
			delivery_proof = $23, shipping_address = $24, note = $25, cancel_reason = $26,
			catalog_stock_deducted = $27, branch_reserved = $28, inventory_deducted_at = $29,
			version = version + 1, updated_at = NOW()
		WHERE id = $1`, args...)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	o.Version++
	return t.appendHistory(ctx, o)
}

// orderArgs returns column values in orderColumns order, minus id, version and
// timestamps.
func (t *txRepository) orderArgs(o *Order) []any {
	var (
		override       *decimal.Decimal
		overrideReason *string
		overrideBy     *int64
		shipperID      *int64
		shipperBy      *int64
		shipperAt      *time.Time
		carrierName    *string
		tracking       *string
		lastEventID    *string
		lastWebhookAt  *time.Time
		proof          []byte
	)
	if o.TotalOverride != nil {
		amount := o.TotalOverride.Amount
		override = &amount
		overrideReason = nullable(o.TotalOverride.Reason)
		overrideBy = &o.TotalOverride.ActorID
	}
	if o.Shipper != nil {
		shipperID, shipperBy, shipperAt = &o.Shipper.ShipperID, &o.Shipper.AssignedBy, &o.Shipper.AssignedAt
	}
	if o.Carrier != nil {
		carrierName = nullable(o.Carrier.Carrier)
		tracking = nullable(o.Carrier.TrackingNumber)
		lastEventID = nullable(o.Carrier.LastEventID)
		lastWebhookAt = o.Carrier.LastWebhookAt
	}
	if o.Proof != nil {
		proof, _ = json.Marshal(o.Proof)
	}
	return []any{
		o.Number, o.CustomerID, o.Source, o.Fulfillment,
		o.Status, o.Stage, o.BranchID,
		o.PaymentMethod, o.PaymentStatus, nullable(o.PaymentRef),
		o.Subtotal, o.ShippingFee, o.Discount, o.PromotionDiscount, o.Total,
		override, overrideReason, overrideBy,
		shipperID, shipperBy, shipperAt,
		carrierName, tracking, lastEventID, lastWebhookAt,
		proof, nullable(o.Address), nullable(o.Note), nullable(o.CancelReason),
		o.CatalogStockDeducted, o.BranchReserved, o.InventoryDeductedAt,
	}
}

func (t *txRepository) appendHistory(ctx context.Context, o *Order) error {
	for i := range o.StatusHistory {
		e := &o.StatusHistory[i]
		if e.ID != 0 {
			continue
		}
		err := t.tx.QueryRow(ctx, `
			INSERT INTO order_status_history (order_id, status, actor_id, role, note, created_at)
			VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
			o.ID, e.Status, e.ActorID, e.Role, nullable(e.Note), e.At).Scan(&e.ID)
		if err != nil {
			return fmt.Errorf("append status history: %w", err)
		}
	}
	for i := range o.StageHistory {
		e := &o.StageHistory[i]
		if e.ID != 0 {
			continue
		}
		err := t.tx.QueryRow(ctx, `
			INSERT INTO order_stage_history (order_id, stage, created_at)
			VALUES ($1, $2, $3) RETURNING id`, o.ID, e.Stage, e.At).Scan(&e.ID)
		if err != nil {
			return fmt.Errorf("append stage history: %w", err)
		}
	}
	return nil
}

func (t *txRepository) ClaimExternalEvent(ctx context.Context, key, module string) error {
	return t.idempotency.CheckAndInsert(ctx, key, module)
}

func (t *txRepository) RecordAudit(ctx context.Context, log shared.AuditLog) error {
	return t.audit.Record(ctx, log)
}
