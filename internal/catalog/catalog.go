// Package catalog holds sellable variants and their channel-level stock counter.
// This counter is separate from the branch ledger and is allowed to drift.
package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fulfillment/internal/shared"
)

// Variant is a sellable SKU.
type Variant struct {
	SKU         string          `json:"sku" validate:"required,max=64"`
	ProductName string          `json:"product_name" validate:"required,max=200"`
	VariantName string          `json:"variant_name" validate:"max=200"`
	Price       decimal.Decimal `json:"price"`
	Stock       int64           `json:"stock" validate:"gte=0"`
	Active      bool            `json:"active"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

var (
	ErrVariantNotFound   = shared.NewError(shared.ErrNotFound, "VARIANT_NOT_FOUND", "variant not found")
	ErrVariantInactive   = shared.NewError(shared.ErrConflict, "VARIANT_INACTIVE", "variant is not for sale")
	ErrInsufficientStock = shared.NewError(shared.ErrConflict, "CATALOG_STOCK_INSUFFICIENT", "insufficient catalog stock")
	ErrInvalidPrice      = shared.NewError(shared.ErrValidation, "INVALID_PRICE", "price must not be negative")
)

// Repository persists variants.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const variantColumns = `sku, product_name, variant_name, price, stock, active, updated_at`

func scanVariant(row pgx.Row) (Variant, error) {
	var v Variant
	err := row.Scan(&v.SKU, &v.ProductName, &v.VariantName, &v.Price, &v.Stock, &v.Active, &v.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Variant{}, ErrVariantNotFound
	}
	return v, err
}

// Get loads one variant.
func (r *Repository) Get(ctx context.Context, sku string) (Variant, error) {
	return scanVariant(r.pool.QueryRow(ctx, `SELECT `+variantColumns+` FROM catalog_variants WHERE sku = $1`, sku))
}

// Upsert creates or replaces a variant.
func (r *Repository) Upsert(ctx context.Context, v Variant) (Variant, error) {
	v.UpdatedAt = time.Now().UTC()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO catalog_variants (sku, product_name, variant_name, price, stock, active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (sku) DO UPDATE SET
			product_name = EXCLUDED.product_name,
			variant_name = EXCLUDED.variant_name,
			price = EXCLUDED.price,
			stock = EXCLUDED.stock,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at`,
		v.SKU, v.ProductName, v.VariantName, v.Price, v.Stock, v.Active, v.UpdatedAt)
	return v, err
}

// TxStore exposes catalog stock operations on an open transaction.
type TxStore struct {
	tx pgx.Tx
}

// NewTxStore wraps an open transaction.
func NewTxStore(tx pgx.Tx) *TxStore {
	return &TxStore{tx: tx}
}

// GetVariant loads a variant with a row lock.
func (s *TxStore) GetVariant(ctx context.Context, sku string) (Variant, error) {
	return scanVariant(s.tx.QueryRow(ctx, `SELECT `+variantColumns+` FROM catalog_variants WHERE sku = $1 FOR UPDATE`, sku))
}

// DecrementStock takes qty from the catalog counter.
func (s *TxStore) DecrementStock(ctx context.Context, sku string, qty int64) error {
	tag, err := s.tx.Exec(ctx, `UPDATE catalog_variants SET stock = stock - $1, updated_at = NOW() WHERE sku = $2 AND stock >= $1`, qty, sku)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientStock.Detail("sku %s", sku)
	}
	return nil
}

// IncrementStock returns qty to the catalog counter.
func (s *TxStore) IncrementStock(ctx context.Context, sku string, qty int64) error {
	tag, err := s.tx.Exec(ctx, `UPDATE catalog_variants SET stock = stock + $1, updated_at = NOW() WHERE sku = $2`, qty, sku)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrVariantNotFound.Detail("sku %s", sku)
	}
	return nil
}
