package replenishment

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/odyssey-erp/fulfillment/internal/inventory"
	"github.com/odyssey-erp/fulfillment/internal/shared"
	"github.com/odyssey-erp/fulfillment/internal/testing/memstore"
)

type memRepo struct {
	store *memstore.Store

	mu         sync.Mutex
	snapshots  map[string]Snapshot
	notices    map[string]bool
	failUpsert error
	loads      atomic.Int64
}

type memTx struct {
	snapshots map[string]Snapshot
	notices   map[string]bool
	fail      error
}

func newMemRepo(store *memstore.Store) *memRepo {
	return &memRepo{store: store, snapshots: map[string]Snapshot{}, notices: map[string]bool{}}
}

func (r *memRepo) Positions(ctx context.Context) ([]Position, error) {
	var out []Position
	for _, rec := range r.store.Records() {
		b := r.store.Branch(rec.BranchID)
		if !b.IsActive() || rec.Status == inventory.StatusDiscontinued {
			continue
		}
		out = append(out, Position{
			BranchID:   b.ID,
			BranchCode: b.Code,
			Warehouse:  b.IsWarehouse(),
			SKU:        rec.SKU,
			Available:  rec.Available,
			MinStock:   rec.MinStock,
		})
	}
	return out, nil
}

func (r *memRepo) SaleTotals(ctx context.Context, since time.Time) (map[string]int64, error) {
	out := map[string]int64{}
	for _, m := range r.store.Movements() {
		if m.Kind == inventory.MovementSale && !m.CreatedAt.Before(since) {
			out[shared.LedgerRowKey(m.BranchID, m.SKU)] += m.Quantity
		}
	}
	return out, nil
}

func (r *memRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx := &memTx{snapshots: map[string]Snapshot{}, notices: map[string]bool{}, fail: r.failUpsert}
	for k, v := range r.snapshots {
		tx.snapshots[k] = v
	}
	for k, v := range r.notices {
		tx.notices[k] = v
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	r.snapshots, r.notices = tx.snapshots, tx.notices
	return nil
}

func (r *memRepo) Latest(ctx context.Context) (Snapshot, error) {
	r.loads.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snapshots) == 0 {
		return Snapshot{}, ErrSnapshotNotFound
	}
	dates := make([]string, 0, len(r.snapshots))
	for d := range r.snapshots {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return r.snapshots[dates[len(dates)-1]], nil
}

func (r *memRepo) ByDate(ctx context.Context, date string) (Snapshot, error) {
	r.loads.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	snap, ok := r.snapshots[date]
	if !ok {
		return Snapshot{}, ErrSnapshotNotFound
	}
	return snap, nil
}

func (r *memRepo) count() (snapshots, notices int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snapshots), len(r.notices)
}

func (tx *memTx) UpsertSnapshot(ctx context.Context, snap Snapshot) error {
	if tx.fail != nil {
		return tx.fail
	}
	tx.snapshots[snap.Date] = snap
	return nil
}

func (tx *memTx) ClaimNotification(ctx context.Context, date string) (bool, error) {
	if tx.notices[date] {
		return false, nil
	}
	tx.notices[date] = true
	return true, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
