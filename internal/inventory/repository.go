package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/fulfillment/internal/platform/db"
	"github.com/odyssey-erp/fulfillment/internal/shared"
)

// Repository persists ledger data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service.
type TxRepository interface {
	LedgerTx
	PhysicalTx
	UpsertLocation(ctx context.Context, loc LocationStock) error
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxStore(tx))
	})
}

const recordColumns = `branch_id, sku, quantity, reserved, available, min_stock, max_stock, status, updated_at`

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(&rec.BranchID, &rec.SKU, &rec.Quantity, &rec.Reserved, &rec.Available,
		&rec.MinStock, &rec.MaxStock, &rec.Status, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrRecordNotFound
	}
	return rec, err
}

// GetRecord loads one ledger row without locking.
func (r *Repository) GetRecord(ctx context.Context, branchID int64, sku string) (Record, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM inventory_records WHERE branch_id = $1 AND sku = $2`, branchID, sku)
	return scanRecord(row)
}

// ListBranch returns every ledger row of a branch ordered by SKU.
func (r *Repository) ListBranch(ctx context.Context, branchID int64) ([]Record, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+recordColumns+` FROM inventory_records WHERE branch_id = $1 ORDER BY sku`, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListAll returns every ledger row across branches.
func (r *Repository) ListAll(ctx context.Context) ([]Record, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+recordColumns+` FROM inventory_records ORDER BY branch_id, sku`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListMovements pages through the movement log, newest first.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	page := filter.Page.Normalize()
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filter.BranchID > 0 {
		add("branch_id = $%d", filter.BranchID)
	}
	if filter.SKU != "" {
		add("sku = $%d", filter.SKU)
	}
	if filter.Kind != "" {
		add("kind = $%d", filter.Kind)
	}
	if !filter.Since.IsZero() {
		add("created_at >= $%d", filter.Since)
	}
	query := `SELECT id, branch_id, sku, direction, kind, quantity, quantity_after, ref_module, ref_id, actor_id, note, created_at FROM inventory_movements`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	args = append(args, page.Limit, page.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Movement
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.BranchID, &m.SKU, &m.Direction, &m.Kind, &m.Quantity, &m.QuantityAfter,
			&m.RefModule, &m.RefID, &m.ActorID, &m.Note, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SaleTotals sums SALE movements per branch and SKU since the given time.
// Keys are shared.LedgerRowKey values.
func (r *Repository) SaleTotals(ctx context.Context, since time.Time) (map[string]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT branch_id, sku, SUM(quantity)
		FROM inventory_movements
		WHERE kind = $1 AND created_at >= $2
		GROUP BY branch_id, sku`, MovementSale, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int64)
	for rows.Next() {
		var (
			branchID int64
			sku      string
			total    int64
		)
		if err := rows.Scan(&branchID, &sku, &total); err != nil {
			return nil, err
		}
		out[shared.LedgerRowKey(branchID, sku)] = total
	}
	return out, rows.Err()
}

// TxStore binds ledger and bin operations to one pgx transaction. Other
// packages embed it to run reservations alongside their own writes.
type TxStore struct {
	tx pgx.Tx
}

// NewTxStore wraps an open transaction.
func NewTxStore(tx pgx.Tx) *TxStore {
	return &TxStore{tx: tx}
}

// GetRecordForUpdate locks and loads a ledger row.
func (s *TxStore) GetRecordForUpdate(ctx context.Context, branchID int64, sku string) (Record, error) {
	row := s.tx.QueryRow(ctx, `SELECT `+recordColumns+` FROM inventory_records WHERE branch_id = $1 AND sku = $2 FOR UPDATE`, branchID, sku)
	return scanRecord(row)
}

// SaveRecord upserts a ledger row.
func (s *TxStore) SaveRecord(ctx context.Context, rec Record) error {
	_, err := s.tx.Exec(ctx, `
		INSERT INTO inventory_records (branch_id, sku, quantity, reserved, available, min_stock, max_stock, status, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (branch_id, sku) DO UPDATE SET
			quantity = EXCLUDED.quantity,
			reserved = EXCLUDED.reserved,
			available = EXCLUDED.available,
			min_stock = EXCLUDED.min_stock,
			max_stock = EXCLUDED.max_stock,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at`,
		rec.BranchID, rec.SKU, rec.Quantity, rec.Reserved, rec.Available, rec.MinStock, rec.MaxStock, rec.Status, rec.UpdatedAt)
	return err
}

// InsertMovement appends to the movement log.
func (s *TxStore) InsertMovement(ctx context.Context, m Movement) error {
	_, err := s.tx.Exec(ctx, `
		INSERT INTO inventory_movements (branch_id, sku, direction, kind, quantity, quantity_after, ref_module, ref_id, actor_id, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		m.BranchID, m.SKU, m.Direction, m.Kind, m.Quantity, m.QuantityAfter, m.RefModule, m.RefID, m.ActorID, m.Note, m.CreatedAt)
	return err
}

// PickFromLocations runs inside a savepoint so a failure here cannot poison the
// enclosing transaction.
func (s *TxStore) PickFromLocations(ctx context.Context, branchID int64, sku string, qty int64) (int64, error) {
	sp, err := s.tx.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = sp.Rollback(ctx) }()

	rows, err := sp.Query(ctx, `
		SELECT location_code, quantity FROM inventory_locations
		WHERE branch_id = $1 AND sku = $2 AND quantity > 0
		ORDER BY location_code
		FOR UPDATE`, branchID, sku)
	if err != nil {
		return 0, err
	}
	type bin struct {
		code string
		qty  int64
	}
	var bins []bin
	for rows.Next() {
		var b bin
		if err := rows.Scan(&b.code, &b.qty); err != nil {
			rows.Close()
			return 0, err
		}
		bins = append(bins, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	var picked int64
	for _, b := range bins {
		if picked >= qty {
			break
		}
		take := min(b.qty, qty-picked)
		if _, err := sp.Exec(ctx, `UPDATE inventory_locations SET quantity = quantity - $1 WHERE branch_id = $2 AND location_code = $3 AND sku = $4`,
			take, branchID, b.code, sku); err != nil {
			return 0, err
		}
		picked += take
	}
	if err := sp.Commit(ctx); err != nil {
		return 0, err
	}
	return picked, nil
}

// UpsertLocation sets the bin quantity of one SKU.
func (s *TxStore) UpsertLocation(ctx context.Context, loc LocationStock) error {
	_, err := s.tx.Exec(ctx, `
		INSERT INTO inventory_locations (branch_id, location_code, sku, quantity)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (branch_id, location_code, sku) DO UPDATE SET quantity = EXCLUDED.quantity`,
		loc.BranchID, loc.LocationCode, loc.SKU, loc.Quantity)
	return err
}
