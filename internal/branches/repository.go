package branches

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/fulfillment/internal/platform/db"
)

// Repository persists branches and shippers.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const branchColumns = `id, code, name, address, type, status, supports_pickup, supports_delivery, capacity, active_orders, created_at, updated_at`

func scanBranch(row pgx.Row) (Branch, error) {
	var b Branch
	err := row.Scan(&b.ID, &b.Code, &b.Name, &b.Address, &b.Type, &b.Status, &b.SupportsPickup,
		&b.SupportsDelivery, &b.Capacity, &b.ActiveOrders, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Branch{}, ErrBranchNotFound
	}
	return b, err
}

// List returns branches ordered by id.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Branch, error) {
	page := filter.Page.Normalize()
	query := `SELECT ` + branchColumns + ` FROM branches WHERE 1=1`
	var args []any
	if filter.Type != "" {
		args = append(args, filter.Type)
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if filter.ActiveOnly {
		args = append(args, StatusActive)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	args = append(args, page.Limit, page.Offset)
	query += fmt.Sprintf(" ORDER BY id LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Branch
	for rows.Next() {
		b, err := scanBranch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ListActive returns every active branch for batch analysis.
func (r *Repository) ListActive(ctx context.Context) ([]Branch, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+branchColumns+` FROM branches WHERE status = $1 ORDER BY id`, StatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Branch
	for rows.Next() {
		b, err := scanBranch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Get loads one branch.
func (r *Repository) Get(ctx context.Context, id int64) (Branch, error) {
	return scanBranch(r.pool.QueryRow(ctx, `SELECT `+branchColumns+` FROM branches WHERE id = $1`, id))
}

// Create inserts a branch.
func (r *Repository) Create(ctx context.Context, b Branch) (Branch, error) {
	now := time.Now().UTC()
	err := r.pool.QueryRow(ctx, `
		INSERT INTO branches (code, name, address, type, status, supports_pickup, supports_delivery, capacity, active_orders, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9, $9)
		RETURNING id`,
		b.Code, b.Name, b.Address, b.Type, b.Status, b.SupportsPickup, b.SupportsDelivery, b.Capacity, now,
	).Scan(&b.ID)
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			return Branch{}, ErrDuplicateCode
		}
		return Branch{}, err
	}
	b.CreatedAt, b.UpdatedAt = now, now
	return b, nil
}

// Update writes mutable branch attributes. Active order counts are owned by
// the order workflow and never overwritten here.
func (r *Repository) Update(ctx context.Context, b Branch) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE branches SET name = $1, address = $2, type = $3, status = $4, supports_pickup = $5,
			supports_delivery = $6, capacity = $7, updated_at = $8
		WHERE id = $9`,
		b.Name, b.Address, b.Type, b.Status, b.SupportsPickup, b.SupportsDelivery, b.Capacity, time.Now().UTC(), b.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBranchNotFound
	}
	return nil
}

// CreateShipper registers a courier.
func (r *Repository) CreateShipper(ctx context.Context, s Shipper) (Shipper, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO shippers (branch_id, name, active) VALUES ($1, $2, $3) RETURNING id`,
		s.BranchID, strings.TrimSpace(s.Name), s.Active).Scan(&s.ID)
	return s, err
}

// TxStore binds directory reads and counter updates to one transaction.
type TxStore struct {
	tx pgx.Tx
}

// NewTxStore wraps an open transaction.
func NewTxStore(tx pgx.Tx) *TxStore {
	return &TxStore{tx: tx}
}

// GetBranch loads a branch inside the transaction.
func (s *TxStore) GetBranch(ctx context.Context, id int64) (Branch, error) {
	return scanBranch(s.tx.QueryRow(ctx, `SELECT `+branchColumns+` FROM branches WHERE id = $1`, id))
}

// IncrementOrderCount claims one capacity slot.
func (s *TxStore) IncrementOrderCount(ctx context.Context, id int64) error {
	tag, err := s.tx.Exec(ctx, `
		UPDATE branches SET active_orders = active_orders + 1, updated_at = NOW()
		WHERE id = $1 AND (capacity <= 0 OR active_orders < capacity)`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetBranch(ctx, id); err != nil {
			return err
		}
		return ErrAtCapacity
	}
	return nil
}

// DecrementOrderCount frees one capacity slot, never going below zero.
func (s *TxStore) DecrementOrderCount(ctx context.Context, id int64) error {
	_, err := s.tx.Exec(ctx, `UPDATE branches SET active_orders = GREATEST(active_orders - 1, 0), updated_at = NOW() WHERE id = $1`, id)
	return err
}

// GetShipper loads a courier.
func (s *TxStore) GetShipper(ctx context.Context, id int64) (Shipper, error) {
	var sh Shipper
	err := s.tx.QueryRow(ctx, `SELECT id, branch_id, name, active FROM shippers WHERE id = $1`, id).
		Scan(&sh.ID, &sh.BranchID, &sh.Name, &sh.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return Shipper{}, ErrShipperNotFound
	}
	return sh, err
}
