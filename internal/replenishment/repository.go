package replenishment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/fulfillment/internal/inventory"
	"github.com/odyssey-erp/fulfillment/internal/platform/db"
)

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool   *pgxpool.Pool
	ledger *inventory.Repository
}

// NewRepository constructs PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool, ledger: inventory.NewRepository(pool)}
}

// Positions lists ledger rows of active branches, skipping discontinued SKUs.
func (r *PGRepository) Positions(ctx context.Context) ([]Position, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT b.id, b.code, b.type = 'WAREHOUSE', ir.sku, ir.available, ir.min_stock
		FROM inventory_records ir
		JOIN branches b ON b.id = ir.branch_id
		WHERE b.status = 'ACTIVE' AND ir.status <> $1
		ORDER BY b.id, ir.sku`, inventory.StatusDiscontinued)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Position, error) {
		var p Position
		err := row.Scan(&p.BranchID, &p.BranchCode, &p.Warehouse, &p.SKU, &p.Available, &p.MinStock)
		return p, err
	})
}

// SaleTotals delegates to the ledger's movement aggregate.
func (r *PGRepository) SaleTotals(ctx context.Context, since time.Time) (map[string]int64, error) {
	return r.ledger.SaleTotals(ctx, since)
}

// WithTx runs fn in one transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// Latest returns the newest snapshot.
func (r *PGRepository) Latest(ctx context.Context) (Snapshot, error) {
	return scanSnapshot(r.pool.QueryRow(ctx, `
		SELECT snapshot_date, generated_at, trigger, recommendations, summary
		FROM replenishment_snapshots ORDER BY snapshot_date DESC LIMIT 1`))
}

// ByDate returns the snapshot for date.
func (r *PGRepository) ByDate(ctx context.Context, date string) (Snapshot, error) {
	return scanSnapshot(r.pool.QueryRow(ctx, `
		SELECT snapshot_date, generated_at, trigger, recommendations, summary
		FROM replenishment_snapshots WHERE snapshot_date = $1`, date))
}

func scanSnapshot(row pgx.Row) (Snapshot, error) {
	var (
		snap         Snapshot
		day          time.Time
		recs, totals []byte
	)
	err := row.Scan(&day, &snap.GeneratedAt, &snap.Trigger, &recs, &totals)
	if errors.Is(err, pgx.ErrNoRows) {
		return Snapshot{}, ErrSnapshotNotFound
	}
	if err != nil {
		return Snapshot{}, err
	}
	snap.Date = day.Format("2006-01-02")
	if err := json.Unmarshal(recs, &snap.Recommendations); err != nil {
		return Snapshot{}, fmt.Errorf("replenishment: decode recommendations: %w", err)
	}
	if err := json.Unmarshal(totals, &snap.Summary); err != nil {
		return Snapshot{}, fmt.Errorf("replenishment: decode summary: %w", err)
	}
	return snap, nil
}

type txRepository struct {
	tx pgx.Tx
}

func (t *txRepository) UpsertSnapshot(ctx context.Context, snap Snapshot) error {
	recs := snap.Recommendations
	if recs == nil {
		recs = []Recommendation{}
	}
	rawRecs, err := json.Marshal(recs)
	if err != nil {
		return err
	}
	rawSummary, err := json.Marshal(snap.Summary)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO replenishment_snapshots (snapshot_date, generated_at, trigger, recommendations, summary)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (snapshot_date) DO UPDATE SET
			generated_at = EXCLUDED.generated_at,
			trigger = EXCLUDED.trigger,
			recommendations = EXCLUDED.recommendations,
			summary = EXCLUDED.summary`,
		snap.Date, snap.GeneratedAt, snap.Trigger, rawRecs, rawSummary)
	return err
}

func (t *txRepository) ClaimNotification(ctx context.Context, date string) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO replenishment_notifications (snapshot_date, created_at)
		VALUES ($1, now())
		ON CONFLICT (snapshot_date) DO NOTHING`, date)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
