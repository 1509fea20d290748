package transfers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/fulfillment/internal/branches"
	"github.com/odyssey-erp/fulfillment/internal/inventory"
	"github.com/odyssey-erp/fulfillment/internal/platform/db"
	"github.com/odyssey-erp/fulfillment/internal/shared"
)

const transferColumns = `id, code, from_branch_id, to_branch_id, status, note, discrepancies,
	requested_by, requested_at, approved_by, approved_at, shipped_by, shipped_at,
	received_by, received_at, completed_at, cancelled_at, cancel_reason, reject_reason,
	version, updated_at`

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// WithTx runs fn inside one transaction shared with the ledger.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{
			TxStore:   inventory.NewTxStore(tx),
			tx:        tx,
			directory: branches.NewTxStore(tx),
			audit:     shared.NewAuditLogger(tx),
		})
	})
}

// Get loads a transfer with its items.
func (r *PGRepository) Get(ctx context.Context, id int64) (Transfer, error) {
	t, err := scanTransfer(r.pool.QueryRow(ctx, `SELECT `+transferColumns+` FROM stock_transfers WHERE id = $1`, id))
	if err != nil {
		return Transfer{}, err
	}
	t.Items, err = loadItems(ctx, r.pool, t.ID)
	return t, err
}

// List returns transfers newest first.
func (r *PGRepository) List(ctx context.Context, filter ListFilter) ([]Transfer, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.BranchID > 0 {
		args = append(args, filter.BranchID)
		where = append(where, fmt.Sprintf("(from_branch_id = $%d OR to_branch_id = $%d)", len(args), len(args)))
	}
	query := `SELECT ` + transferColumns + ` FROM stock_transfers`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	page := filter.Page.Normalize()
	args = append(args, page.Limit, page.Offset)
	query += fmt.Sprintf(" ORDER BY requested_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Items, err = loadItems(ctx, r.pool, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func scanTransfer(row pgx.Row) (Transfer, error) {
	var (
		t   Transfer
		raw []byte
	)
	err := row.Scan(&t.ID, &t.Code, &t.FromBranchID, &t.ToBranchID, &t.Status, &t.Note, &raw,
		&t.RequestedBy, &t.RequestedAt, &t.ApprovedBy, &t.ApprovedAt, &t.ShippedBy, &t.ShippedAt,
		&t.ReceivedBy, &t.ReceivedAt, &t.CompletedAt, &t.CancelledAt, &t.CancelReason, &t.RejectReason,
		&t.Version, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transfer{}, ErrTransferNotFound
	}
	if err != nil {
		return Transfer{}, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &t.Discrepancies); err != nil {
			return Transfer{}, fmt.Errorf("transfers: decode discrepancies: %w", err)
		}
	}
	return t, nil
}

func loadItems(ctx context.Context, q db.Querier, transferID int64) ([]Item, error) {
	rows, err := q.Query(ctx, `
		SELECT id, sku, requested_quantity, approved_quantity, received_quantity
		FROM stock_transfer_items WHERE transfer_id = $1 ORDER BY sku`, transferID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Item, error) {
		var it Item
		err := row.Scan(&it.ID, &it.SKU, &it.RequestedQuantity, &it.ApprovedQuantity, &it.ReceivedQuantity)
		return it, err
	})
}

type txRepository struct {
	*inventory.TxStore
	tx        pgx.Tx
	directory *branches.TxStore
	audit     *shared.AuditLogger
}

func (t *txRepository) GetBranch(ctx context.Context, id int64) (branches.Branch, error) {
	return t.directory.GetBranch(ctx, id)
}

func (t *txRepository) NextCode(ctx context.Context, day time.Time) (string, error) {
	var seq int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO transfer_sequences (day, last_value) VALUES ($1, 1)
		ON CONFLICT (day) DO UPDATE SET last_value = transfer_sequences.last_value + 1
		RETURNING last_value`, day.Format("2006-01-02")).Scan(&seq)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("TRF-%s-%04d", day.Format("20060102"), seq), nil
}

func (t *txRepository) GetForUpdate(ctx context.Context, id int64) (Transfer, error) {
	tr, err := scanTransfer(t.tx.QueryRow(ctx, `SELECT `+transferColumns+` FROM stock_transfers WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return Transfer{}, err
	}
	tr.Items, err = loadItems(ctx, t.tx, tr.ID)
	return tr, err
}

func (t *txRepository) Insert(ctx context.Context, tr *Transfer) error {
	raw, err := json.Marshal(nonNil(tr.Discrepancies))
	if err != nil {
		return err
	}
	err = t.tx.QueryRow(ctx, `
		INSERT INTO stock_transfers (code, from_branch_id, to_branch_id, status, note, discrepancies, requested_by, requested_at, version, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, $9)
		RETURNING id`,
		tr.Code, tr.FromBranchID, tr.ToBranchID, tr.Status, tr.Note, raw, tr.RequestedBy, tr.RequestedAt, tr.UpdatedAt,
	).Scan(&tr.ID)
	if err != nil {
		if db.IsUniqueViolation(err, "stock_transfers_code_key") {
			return shared.NewError(shared.ErrConflict, "TRANSFER_CODE_TAKEN", "transfer code already exists")
		}
		return err
	}
	tr.Version = 1
	for i := range tr.Items {
		it := &tr.Items[i]
		if err := t.tx.QueryRow(ctx, `
			INSERT INTO stock_transfer_items (transfer_id, sku, requested_quantity, approved_quantity, received_quantity)
			VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			tr.ID, it.SKU, it.RequestedQuantity, it.ApprovedQuantity, it.ReceivedQuantity).Scan(&it.ID); err != nil {
			return err
		}
	}
	return nil
}

func (t *txRepository) Save(ctx context.Context, tr *Transfer) error {
	raw, err := json.Marshal(nonNil(tr.Discrepancies))
	if err != nil {
		return err
	}
	err = t.tx.QueryRow(ctx, `
		UPDATE stock_transfers SET
			status = $2, discrepancies = $3, approved_by = $4, approved_at = $5,
			shipped_by = $6, shipped_at = $7, received_by = $8, received_at = $9,
			completed_at = $10, cancelled_at = $11, cancel_reason = $12, reject_reason = $13,
			version = version + 1, updated_at = $14
		WHERE id = $1
		RETURNING version`,
		tr.ID, tr.Status, raw, tr.ApprovedBy, tr.ApprovedAt, tr.ShippedBy, tr.ShippedAt,
		tr.ReceivedBy, tr.ReceivedAt, tr.CompletedAt, tr.CancelledAt, tr.CancelReason, tr.RejectReason, tr.UpdatedAt,
	).Scan(&tr.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrTransferNotFound
	}
	if err != nil {
		return err
	}
	for _, it := range tr.Items {
		if _, err := t.tx.Exec(ctx, `
			UPDATE stock_transfer_items SET approved_quantity = $2, received_quantity = $3 WHERE id = $1`,
			it.ID, it.ApprovedQuantity, it.ReceivedQuantity); err != nil {
			return err
		}
	}
	return nil
}

func (t *txRepository) RecordAudit(ctx context.Context, log shared.AuditLog) error {
	return t.audit.Record(ctx, log)
}

func nonNil(d []Discrepancy) []Discrepancy {
	if d == nil {
		return []Discrepancy{}
	}
	return d
}
