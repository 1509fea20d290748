package transfers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/odyssey-erp/fulfillment/internal/testing/memstore"
)

type memRepo struct {
	store     *memstore.Store
	transfers map[int64]Transfer
	seq       map[string]int64
	nextID    int64
	failPick  error
}

type memTx struct {
	*memstore.Tx
	transfers map[int64]Transfer
	seq       map[string]int64
	nextID    int64
}

func newMemRepo(store *memstore.Store) *memRepo {
	return &memRepo{store: store, transfers: map[int64]Transfer{}, seq: map[string]int64{}}
}

func (r *memRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.store.Atomically(func(base *memstore.Tx) error {
		base.FailPick = r.failPick
		tx := &memTx{Tx: base, transfers: make(map[int64]Transfer, len(r.transfers)), seq: make(map[string]int64, len(r.seq)), nextID: r.nextID}
		for id, t := range r.transfers {
			tx.transfers[id] = cloneTransfer(t)
		}
		for k, v := range r.seq {
			tx.seq[k] = v
		}
		if err := fn(ctx, tx); err != nil {
			return err
		}
		r.transfers, r.seq, r.nextID = tx.transfers, tx.seq, tx.nextID
		return nil
	})
}

func (r *memRepo) Get(ctx context.Context, id int64) (Transfer, error) {
	var out Transfer
	err := r.store.Atomically(func(*memstore.Tx) error {
		t, ok := r.transfers[id]
		if !ok {
			return ErrTransferNotFound
		}
		out = cloneTransfer(t)
		return nil
	})
	return out, err
}

func (r *memRepo) List(ctx context.Context, filter ListFilter) ([]Transfer, error) {
	var out []Transfer
	_ = r.store.Atomically(func(*memstore.Tx) error {
		for _, t := range r.transfers {
			if filter.Status != "" && t.Status != filter.Status {
				continue
			}
			if filter.BranchID > 0 && t.FromBranchID != filter.BranchID && t.ToBranchID != filter.BranchID {
				continue
			}
			out = append(out, cloneTransfer(t))
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tx *memTx) NextCode(ctx context.Context, day time.Time) (string, error) {
	key := day.Format("20060102")
	tx.seq[key]++
	return fmt.Sprintf("TRF-%s-%04d", key, tx.seq[key]), nil
}

func (tx *memTx) GetForUpdate(ctx context.Context, id int64) (Transfer, error) {
	t, ok := tx.transfers[id]
	if !ok {
		return Transfer{}, ErrTransferNotFound
	}
	return cloneTransfer(t), nil
}

func (tx *memTx) Insert(ctx context.Context, t *Transfer) error {
	tx.nextID++
	t.ID = tx.nextID
	t.Version = 1
	for i := range t.Items {
		t.Items[i].ID = int64(i + 1)
	}
	tx.transfers[t.ID] = cloneTransfer(*t)
	return nil
}

func (tx *memTx) Save(ctx context.Context, t *Transfer) error {
	if _, ok := tx.transfers[t.ID]; !ok {
		return ErrTransferNotFound
	}
	t.Version++
	tx.transfers[t.ID] = cloneTransfer(*t)
	return nil
}

func cloneTransfer(t Transfer) Transfer {
	out := t
	out.Items = append([]Item(nil), t.Items...)
	out.Discrepancies = append([]Discrepancy(nil), t.Discrepancies...)
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
