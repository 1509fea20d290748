package orders

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fulfillment/internal/branches"
	"github.com/odyssey-erp/fulfillment/internal/catalog"
	"github.com/odyssey-erp/fulfillment/internal/inventory"
	"github.com/odyssey-erp/fulfillment/internal/notify"
	"github.com/odyssey-erp/fulfillment/internal/shared"
	"github.com/odyssey-erp/fulfillment/internal/testing/memstore"
)

type memRepo struct {
	store  *memstore.Store
	orders map[int64]Order
	seq    map[string]int64
	nextID int64
}

type memTx struct {
	*memstore.Tx
	orders map[int64]Order
	seq    map[string]int64
	nextID int64
}

func newMemRepo(store *memstore.Store) *memRepo {
	return &memRepo{store: store, orders: map[int64]Order{}, seq: map[string]int64{}}
}

func (r *memRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.store.Atomically(func(base *memstore.Tx) error {
		tx := &memTx{Tx: base, orders: make(map[int64]Order, len(r.orders)), seq: make(map[string]int64, len(r.seq)), nextID: r.nextID}
		for id, o := range r.orders {
			tx.orders[id] = cloneOrder(o)
		}
		for k, v := range r.seq {
			tx.seq[k] = v
		}
		if err := fn(ctx, tx); err != nil {
			return err
		}
		r.orders, r.seq, r.nextID = tx.orders, tx.seq, tx.nextID
		return nil
	})
}

func (r *memRepo) Get(ctx context.Context, id int64) (Order, error) {
	var out Order
	err := r.store.Atomically(func(*memstore.Tx) error {
		o, ok := r.orders[id]
		if !ok {
			return ErrOrderNotFound
		}
		out = cloneOrder(o)
		return nil
	})
	return out, err
}

func (r *memRepo) List(ctx context.Context, filter ListFilter) ([]Order, error) {
	var out []Order
	_ = r.store.Atomically(func(*memstore.Tx) error {
		for _, o := range r.orders {
			if filter.CustomerID > 0 && o.CustomerID != filter.CustomerID {
				continue
			}
			if filter.Status != "" && o.Status != filter.Status {
				continue
			}
			out = append(out, cloneOrder(o))
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tx *memTx) NextOrderNumber(ctx context.Context, src Source, day time.Time) (string, error) {
	key := string(src) + day.Format("20060102")
	tx.seq[key]++
	prefix := "ONL"
	if src == SourceInStore {
		prefix = "STR"
	}
	return fmt.Sprintf("%s-%s-%04d", prefix, day.Format("20060102"), tx.seq[key]), nil
}

func (tx *memTx) GetForUpdate(ctx context.Context, id int64) (Order, error) {
	o, ok := tx.orders[id]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (tx *memTx) FindByTrackingForUpdate(ctx context.Context, tracking string) (Order, error) {
	for _, o := range tx.orders {
		if o.Carrier != nil && o.Carrier.TrackingNumber == tracking {
			return cloneOrder(o), nil
		}
	}
	return Order{}, ErrOrderNotFound
}

func (tx *memTx) Insert(ctx context.Context, o *Order) error {
	tx.nextID++
	o.ID = tx.nextID
	o.Version = 1
	tx.stampHistory(o)
	tx.orders[o.ID] = cloneOrder(*o)
	return nil
}

func (tx *memTx) Save(ctx context.Context, o *Order) error {
	if _, ok := tx.orders[o.ID]; !ok {
		return ErrOrderNotFound
	}
	o.Version++
	tx.stampHistory(o)
	tx.orders[o.ID] = cloneOrder(*o)
	return nil
}

func (tx *memTx) stampHistory(o *Order) {
	for i := range o.StatusHistory {
		if o.StatusHistory[i].ID == 0 {
			o.StatusHistory[i].ID = int64(i + 1)
		}
	}
	for i := range o.StageHistory {
		if o.StageHistory[i].ID == 0 {
			o.StageHistory[i].ID = int64(i + 1)
		}
	}
}

func cloneOrder(o Order) Order {
	out := o
	out.Items = append([]Item(nil), o.Items...)
	out.StatusHistory = append([]StatusEntry(nil), o.StatusHistory...)
	out.StageHistory = append([]StageEntry(nil), o.StageHistory...)
	if o.BranchID != nil {
		id := *o.BranchID
		out.BranchID = &id
	}
	if o.InventoryDeductedAt != nil {
		at := *o.InventoryDeductedAt
		out.InventoryDeductedAt = &at
	}
	if o.TotalOverride != nil {
		ov := *o.TotalOverride
		out.TotalOverride = &ov
	}
	if o.Shipper != nil {
		sh := *o.Shipper
		out.Shipper = &sh
	}
	if o.Carrier != nil {
		c := *o.Carrier
		out.Carrier = &c
	}
	if o.Proof != nil {
		p := *o.Proof
		out.Proof = &p
	}
	return out
}

var testNow = time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)

type fixture struct {
	store  *memstore.Store
	repo   *memRepo
	events *notify.Recorder
	svc    *Service
}

// newFixture seeds two pickup stores, an inactive store and two variants.
func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store := memstore.New()
	store.SeedBranch(branches.Branch{ID: 1, Code: "JKT-01", Type: branches.TypeStore, Status: branches.StatusActive, SupportsPickup: true, SupportsDelivery: true, Capacity: 10})
	store.SeedBranch(branches.Branch{ID: 2, Code: "BDG-01", Type: branches.TypeStore, Status: branches.StatusActive, SupportsPickup: true})
	store.SeedBranch(branches.Branch{ID: 3, Code: "SBY-01", Type: branches.TypeStore, Status: branches.StatusInactive, SupportsPickup: true})
	store.SeedBranch(branches.Branch{ID: 4, Code: "WH-01", Type: branches.TypeWarehouse, Status: branches.StatusActive})
	store.SeedVariant(catalog.Variant{SKU: "TSHIRT-M", ProductName: "Basic Tee", VariantName: "M", Price: decimal.RequireFromString("10.00"), Stock: 100, Active: true})
	store.SeedVariant(catalog.Variant{SKU: "MUG", ProductName: "Mug", Price: decimal.RequireFromString("5.50"), Stock: 10, Active: true})
	store.SeedVariant(catalog.Variant{SKU: "OLD", ProductName: "Retired", Price: decimal.NewFromInt(1), Stock: 10, Active: false})
	store.SeedRecord(inventory.Record{BranchID: 1, SKU: "TSHIRT-M", Quantity: 10, MinStock: 2})
	store.SeedRecord(inventory.Record{BranchID: 1, SKU: "MUG", Quantity: 2})
	store.SeedRecord(inventory.Record{BranchID: 2, SKU: "TSHIRT-M", Quantity: 1})
	store.SeedShipper(branches.Shipper{ID: 7, BranchID: 1, Name: "Rudi", Active: true})
	store.SeedShipper(branches.Shipper{ID: 8, BranchID: 2, Name: "Sari", Active: true})

	repo := newMemRepo(store)
	events := &notify.Recorder{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return &fixture{store: store, repo: repo, events: events, svc: NewService(repo, events, logger, opts...)}
}

var (
	customer  = shared.Actor{ID: 501, Role: shared.RoleCustomer}
	staff     = shared.Actor{ID: 11, Role: shared.RoleStaff, BranchID: 1}
	warehouse = shared.Actor{ID: 12, Role: shared.RoleWarehouse, BranchID: 4}
	shipper   = shared.Actor{ID: 13, Role: shared.RoleShipper, BranchID: 1}
	manager   = shared.Actor{ID: 14, Role: shared.RoleManager}
	admin     = shared.Actor{ID: 15, Role: shared.RoleAdmin}
)

func branchID(id int64) *int64 { return &id }

func (f *fixture) pickupOrder(t *testing.T, branch int64, items ...ItemInput) Order {
	t.Helper()
	order, err := f.svc.CreateOrder(context.Background(), CreateOrderInput{
		Source:        SourceOnline,
		Fulfillment:   FulfillmentClickAndCollect,
		PaymentMethod: PaymentCOD,
		BranchID:      branchID(branch),
		Items:         items,
	}, customer)
	if err != nil {
		t.Fatalf("create pickup order: %v", err)
	}
	return order
}

func (f *fixture) move(t *testing.T, id int64, actor shared.Actor, targets ...Status) Order {
	t.Helper()
	var order Order
	var err error
	for _, target := range targets {
		order, err = f.svc.UpdateStatus(context.Background(), id, string(target), actor, StatusExtras{})
		if err != nil {
			t.Fatalf("move to %s: %v", target, err)
		}
	}
	return order
}
