package inventory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/fulfillment/internal/shared"
)

type memoryRepo struct {
	mu        sync.Mutex
	records   map[string]Record
	movements []Movement
	bins      map[string][]LocationStock
	lockOrder []string
}

type memoryTx struct {
	repo      *memoryRepo
	records   map[string]Record
	movements []Movement
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{records: make(map[string]Record), bins: make(map[string][]LocationStock)}
}

func (r *memoryRepo) seed(rec Record) {
	rec.Normalize()
	r.records[shared.LedgerRowKey(rec.BranchID, rec.SKU)] = rec
}

func (r *memoryRepo) get(branchID int64, sku string) Record {
	return r.records[shared.LedgerRowKey(branchID, sku)]
}

// WithTx serialises callers and only publishes writes when fn succeeds.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx := &memoryTx{repo: r, records: make(map[string]Record, len(r.records))}
	for k, v := range r.records {
		tx.records[k] = v
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	r.records = tx.records
	r.movements = append(r.movements, tx.movements...)
	return nil
}

func (r *memoryRepo) GetRecord(ctx context.Context, branchID int64, sku string) (Record, error) {
	rec, ok := r.records[shared.LedgerRowKey(branchID, sku)]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	return rec, nil
}

func (r *memoryRepo) ListBranch(ctx context.Context, branchID int64) ([]Record, error) {
	var out []Record
	for _, rec := range r.records {
		if rec.BranchID == branchID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *memoryRepo) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	return append([]Movement(nil), r.movements...), nil
}

func (tx *memoryTx) GetRecordForUpdate(ctx context.Context, branchID int64, sku string) (Record, error) {
	tx.repo.lockOrder = append(tx.repo.lockOrder, sku)
	rec, ok := tx.records[shared.LedgerRowKey(branchID, sku)]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	return rec, nil
}

func (tx *memoryTx) SaveRecord(ctx context.Context, rec Record) error {
	tx.records[shared.LedgerRowKey(rec.BranchID, rec.SKU)] = rec
	return nil
}

func (tx *memoryTx) InsertMovement(ctx context.Context, m Movement) error {
	tx.movements = append(tx.movements, m)
	return nil
}

func (tx *memoryTx) PickFromLocations(ctx context.Context, branchID int64, sku string, qty int64) (int64, error) {
	key := shared.LedgerRowKey(branchID, sku)
	var picked int64
	bins := tx.repo.bins[key]
	for i := range bins {
		take := min(bins[i].Quantity, qty-picked)
		bins[i].Quantity -= take
		picked += take
	}
	return picked, nil
}

func (tx *memoryTx) UpsertLocation(ctx context.Context, loc LocationStock) error {
	key := shared.LedgerRowKey(loc.BranchID, loc.SKU)
	tx.repo.bins[key] = append(tx.repo.bins[key], loc)
	return nil
}

func runTx(t *testing.T, repo *memoryRepo, fn func(ctx context.Context, tx TxRepository) error) error {
	t.Helper()
	return repo.WithTx(context.Background(), fn)
}

func TestReserveReleaseIsInverse(t *testing.T) {
	repo := newMemoryRepo()
	repo.seed(Record{BranchID: 1, SKU: "A", Quantity: 10, Reserved: 2, MinStock: 3})
	res := NewReservations()
	lines := []Line{{SKU: "A", Quantity: 3}, {SKU: "A", Quantity: 1}}

	require.NoError(t, runTx(t, repo, func(ctx context.Context, tx TxRepository) error {
		return res.Reserve(ctx, tx, 1, lines)
	}))
	rec := repo.get(1, "A")
	require.Equal(t, int64(6), rec.Reserved)
	require.Equal(t, int64(4), rec.Available)

	require.NoError(t, runTx(t, repo, func(ctx context.Context, tx TxRepository) error {
		return res.Release(ctx, tx, 1, lines)
	}))
	rec = repo.get(1, "A")
	require.Equal(t, int64(2), rec.Reserved)
	require.Equal(t, int64(8), rec.Available)
	require.Equal(t, StatusInStock, rec.Status)
}

func TestReserveIsAllOrNothing(t *testing.T) {
	repo := newMemoryRepo()
	repo.seed(Record{BranchID: 1, SKU: "A", Quantity: 10})
	repo.seed(Record{BranchID: 1, SKU: "B", Quantity: 1})
	res := NewReservations()

	err := runTx(t, repo, func(ctx context.Context, tx TxRepository) error {
		return res.Reserve(ctx, tx, 1, []Line{{SKU: "B", Quantity: 2}, {SKU: "A", Quantity: 5}})
	})
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.ErrorIs(t, err, shared.ErrConflict)
	require.Equal(t, int64(0), repo.get(1, "A").Reserved)
	require.Equal(t, int64(0), repo.get(1, "B").Reserved)
}

func TestReserveLocksInSKUOrder(t *testing.T) {
	repo := newMemoryRepo()
	repo.seed(Record{BranchID: 1, SKU: "A", Quantity: 10})
	repo.seed(Record{BranchID: 1, SKU: "B", Quantity: 10})
	repo.seed(Record{BranchID: 1, SKU: "C", Quantity: 10})
	res := NewReservations()

	require.NoError(t, runTx(t, repo, func(ctx context.Context, tx TxRepository) error {
		return res.Reserve(ctx, tx, 1, []Line{{SKU: "C", Quantity: 1}, {SKU: "A", Quantity: 1}, {SKU: "B", Quantity: 1}})
	}))
	require.Equal(t, []string{"A", "B", "C"}, repo.lockOrder)
}

func TestReserveUnknownOrDiscontinuedSKU(t *testing.T) {
	repo := newMemoryRepo()
	repo.seed(Record{BranchID: 1, SKU: "D", Quantity: 10, Status: StatusDiscontinued})
	res := NewReservations()

	err := runTx(t, repo, func(ctx context.Context, tx TxRepository) error {
		return res.Reserve(ctx, tx, 1, []Line{{SKU: "missing", Quantity: 1}})
	})
	require.ErrorIs(t, err, ErrInsufficientStock)

	err = runTx(t, repo, func(ctx context.Context, tx TxRepository) error {
		return res.Reserve(ctx, tx, 1, []Line{{SKU: "D", Quantity: 1}})
	})
	require.ErrorIs(t, err, ErrInsufficientStock)
}

func TestReleaseFloorsAtZero(t *testing.T) {
	repo := newMemoryRepo()
	repo.seed(Record{BranchID: 1, SKU: "A", Quantity: 5, Reserved: 1})
	res := NewReservations()

	for i := 0; i < 2; i++ {
		require.NoError(t, runTx(t, repo, func(ctx context.Context, tx TxRepository) error {
			return res.Release(ctx, tx, 1, []Line{{SKU: "A", Quantity: 3}})
		}))
	}
	require.Equal(t, int64(0), repo.get(1, "A").Reserved)
	require.Equal(t, int64(5), repo.get(1, "A").Available)
}

func TestDeductConsumesQuantityAndReservation(t *testing.T) {
	repo := newMemoryRepo()
	repo.seed(Record{BranchID: 1, SKU: "A", Quantity: 10, Reserved: 4, MinStock: 7})
	res := NewReservations()

	require.NoError(t, runTx(t, repo, func(ctx context.Context, tx TxRepository) error {
		return res.Deduct(ctx, tx, 1, []Line{{SKU: "A", Quantity: 4}}, Ref{Module: "order", ID: "42"})
	}))
	rec := repo.get(1, "A")
	require.Equal(t, int64(6), rec.Quantity)
	require.Equal(t, int64(0), rec.Reserved)
	require.Equal(t, StatusLowStock, rec.Status)
	require.Len(t, repo.movements, 1)
	require.Equal(t, MovementSale, repo.movements[0].Kind)
	require.Equal(t, DirectionOut, repo.movements[0].Direction)
	require.Equal(t, int64(6), repo.movements[0].QuantityAfter)
	require.Equal(t, "42", repo.movements[0].RefID)
}

func TestDispatchRequiresReservation(t *testing.T) {
	repo := newMemoryRepo()
	repo.seed(Record{BranchID: 1, SKU: "A", Quantity: 10, Reserved: 1})
	res := NewReservations()

	err := runTx(t, repo, func(ctx context.Context, tx TxRepository) error {
		return res.Dispatch(ctx, tx, 1, []Line{{SKU: "A", Quantity: 2}}, Ref{Module: "transfer", ID: "1"})
	})
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.Empty(t, repo.movements)
}

func TestReceiveCreatesMissingRecord(t *testing.T) {
	repo := newMemoryRepo()
	res := NewReservations()

	require.NoError(t, runTx(t, repo, func(ctx context.Context, tx TxRepository) error {
		return res.Receive(ctx, tx, 2, []Line{{SKU: "A", Quantity: 3}}, Ref{Module: "transfer", ID: "1"})
	}))
	rec := repo.get(2, "A")
	require.Equal(t, int64(3), rec.Quantity)
	require.Equal(t, int64(3), rec.Available)
	require.Equal(t, MovementTransferIn, repo.movements[0].Kind)
}

func TestSaveRejectsBrokenInvariant(t *testing.T) {
	rec := Record{BranchID: 1, SKU: "A", Quantity: 1, Reserved: 2}
	err := rec.Check()
	require.ErrorIs(t, err, ErrLedgerIntegrity)
	require.ErrorIs(t, err, shared.ErrIntegrity)
}

func TestMergeLinesValidates(t *testing.T) {
	_, err := MergeLines([]Line{{SKU: "A", Quantity: 0}})
	require.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = MergeLines([]Line{{SKU: " ", Quantity: 1}})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestPickerReportsShortfall(t *testing.T) {
	repo := newMemoryRepo()
	repo.bins[shared.LedgerRowKey(1, "A")] = []LocationStock{
		{BranchID: 1, LocationCode: "A-01", SKU: "A", Quantity: 2},
		{BranchID: 1, LocationCode: "A-02", SKU: "A", Quantity: 1},
	}
	picker := NewPicker(nil)
	var mismatches []PhysicalMismatch
	require.NoError(t, runTx(t, repo, func(ctx context.Context, tx TxRepository) error {
		mismatches = picker.Pick(ctx, tx, 1, []Line{{SKU: "A", Quantity: 4}}, Ref{Module: "transfer", ID: "9"})
		return nil
	}))
	require.Len(t, mismatches, 1)
	require.Equal(t, int64(3), mismatches[0].Picked)
	require.Equal(t, int64(1), mismatches[0].Shortfall())
}

type failingPhysical struct{}

func (failingPhysical) PickFromLocations(context.Context, int64, string, int64) (int64, error) {
	return 0, errors.New("bins offline")
}

func TestPickerSwallowsStoreErrors(t *testing.T) {
	mismatches := NewPicker(nil).Pick(context.Background(), failingPhysical{}, 1, []Line{{SKU: "A", Quantity: 1}}, Ref{})
	require.Len(t, mismatches, 1)
	require.Equal(t, int64(0), mismatches[0].Picked)
}

func TestAdjustWritesMovementAndGuardsReserved(t *testing.T) {
	repo := newMemoryRepo()
	repo.seed(Record{BranchID: 1, SKU: "A", Quantity: 10, Reserved: 4})
	svc := NewService(repo, nil, nil)
	ctx := context.Background()
	manager := shared.Actor{ID: 7, Role: shared.RoleManager}

	qty := int64(3)
	_, err := svc.Adjust(ctx, AdjustInput{BranchID: 1, SKU: "A", Quantity: &qty}, manager)
	require.ErrorIs(t, err, ErrBelowReserved)

	qty = 12
	minStock := int64(5)
	rec, err := svc.Adjust(ctx, AdjustInput{BranchID: 1, SKU: "A", Quantity: &qty, MinStock: &minStock, Note: "count"}, manager)
	require.NoError(t, err)
	require.Equal(t, int64(8), rec.Available)
	require.Len(t, repo.movements, 1)
	require.Equal(t, DirectionIn, repo.movements[0].Direction)
	require.Equal(t, int64(2), repo.movements[0].Quantity)

	_, err = svc.Adjust(ctx, AdjustInput{BranchID: 1, SKU: "A", Quantity: &qty}, shared.Actor{ID: 8, Role: shared.RoleCashier})
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestAdjustDiscontinueIsSticky(t *testing.T) {
	repo := newMemoryRepo()
	repo.seed(Record{BranchID: 1, SKU: "A", Quantity: 10})
	svc := NewService(repo, nil, nil)
	yes := true
	rec, err := svc.Adjust(context.Background(), AdjustInput{BranchID: 1, SKU: "A", Discontinued: &yes}, shared.Actor{Role: shared.RoleAdmin})
	require.NoError(t, err)
	require.Equal(t, StatusDiscontinued, rec.Status)
	require.Equal(t, int64(10), rec.Available)
}
