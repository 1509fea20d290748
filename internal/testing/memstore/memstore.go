// Package memstore is an in-memory stand-in for the transactional stores used in
// unit tests. Transactions are serialised and copy-on-write: a failed callback
// leaves the committed state untouched.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/fulfillment/internal/branches"
	"github.com/odyssey-erp/fulfillment/internal/catalog"
	"github.com/odyssey-erp/fulfillment/internal/inventory"
	"github.com/odyssey-erp/fulfillment/internal/shared"
)

type state struct {
	records   map[string]inventory.Record
	movements []inventory.Movement
	bins      map[string][]inventory.LocationStock
	variants  map[string]catalog.Variant
	branches  map[int64]branches.Branch
	shippers  map[int64]branches.Shipper
	claims    map[string]bool
	audits    []shared.AuditLog
}

func (s state) clone() state {
	out := state{
		records:   make(map[string]inventory.Record, len(s.records)),
		movements: append([]inventory.Movement(nil), s.movements...),
		bins:      make(map[string][]inventory.LocationStock, len(s.bins)),
		variants:  make(map[string]catalog.Variant, len(s.variants)),
		branches:  make(map[int64]branches.Branch, len(s.branches)),
		shippers:  make(map[int64]branches.Shipper, len(s.shippers)),
		claims:    make(map[string]bool, len(s.claims)),
		audits:    append([]shared.AuditLog(nil), s.audits...),
	}
	for k, v := range s.records {
		out.records[k] = v
	}
	for k, v := range s.bins {
		out.bins[k] = append([]inventory.LocationStock(nil), v...)
	}
	for k, v := range s.variants {
		out.variants[k] = v
	}
	for k, v := range s.branches {
		out.branches[k] = v
	}
	for k, v := range s.shippers {
		out.shippers[k] = v
	}
	for k, v := range s.claims {
		out.claims[k] = v
	}
	return out
}

// Store holds committed state.
type Store struct {
	mu sync.Mutex
	st state
}

// New returns an empty store.
func New() *Store {
	return &Store{st: state{
		records:  map[string]inventory.Record{},
		bins:     map[string][]inventory.LocationStock{},
		variants: map[string]catalog.Variant{},
		branches: map[int64]branches.Branch{},
		shippers: map[int64]branches.Shipper{},
		claims:   map[string]bool{},
	}}
}

// Tx is an open transaction.
type Tx struct {
	st state
	// FailPick makes PickFromLocations return an error.
	FailPick error
}

// Atomically runs fn on a private copy and publishes it when fn succeeds.
func (s *Store) Atomically(fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &Tx{st: s.st.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	s.st = tx.st
	return nil
}

// SeedRecord inserts a normalised ledger row.
func (s *Store) SeedRecord(rec inventory.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.Normalize()
	s.st.records[shared.LedgerRowKey(rec.BranchID, rec.SKU)] = rec
}

// SeedVariant inserts a catalog variant.
func (s *Store) SeedVariant(v catalog.Variant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.variants[v.SKU] = v
}

// SeedBranch inserts a branch.
func (s *Store) SeedBranch(b branches.Branch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.branches[b.ID] = b
}

// SeedShipper inserts a shipper.
func (s *Store) SeedShipper(sh branches.Shipper) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.shippers[sh.ID] = sh
}

// SeedBin inserts bin stock.
func (s *Store) SeedBin(loc inventory.LocationStock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := shared.LedgerRowKey(loc.BranchID, loc.SKU)
	s.st.bins[key] = append(s.st.bins[key], loc)
}

// Record returns a committed ledger row.
func (s *Store) Record(branchID int64, sku string) inventory.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.records[shared.LedgerRowKey(branchID, sku)]
}

// Records returns every committed ledger row ordered by branch and SKU.
func (s *Store) Records() []inventory.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]inventory.Record, 0, len(s.st.records))
	for _, rec := range s.st.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BranchID != out[j].BranchID {
			return out[i].BranchID < out[j].BranchID
		}
		return out[i].SKU < out[j].SKU
	})
	return out
}

// Variant returns a committed variant.
func (s *Store) Variant(sku string) catalog.Variant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.variants[sku]
}

// Branch returns a committed branch.
func (s *Store) Branch(id int64) branches.Branch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.branches[id]
}

// Branches returns every branch ordered by id.
func (s *Store) Branches() []branches.Branch {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]branches.Branch, 0, len(s.st.branches))
	for _, b := range s.st.branches {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Movements returns committed movement log entries.
func (s *Store) Movements() []inventory.Movement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]inventory.Movement(nil), s.st.movements...)
}

// BinTotal sums bin stock for a branch SKU.
func (s *Store) BinTotal(branchID int64, sku string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, b := range s.st.bins[shared.LedgerRowKey(branchID, sku)] {
		total += b.Quantity
	}
	return total
}

// Audits returns committed audit entries.
func (s *Store) Audits() []shared.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]shared.AuditLog(nil), s.st.audits...)
}

// GetRecordForUpdate implements inventory.LedgerTx.
func (tx *Tx) GetRecordForUpdate(ctx context.Context, branchID int64, sku string) (inventory.Record, error) {
	rec, ok := tx.st.records[shared.LedgerRowKey(branchID, sku)]
	if !ok {
		return inventory.Record{}, inventory.ErrRecordNotFound
	}
	return rec, nil
}

// SaveRecord implements inventory.LedgerTx.
func (tx *Tx) SaveRecord(ctx context.Context, rec inventory.Record) error {
	tx.st.records[shared.LedgerRowKey(rec.BranchID, rec.SKU)] = rec
	return nil
}

// InsertMovement implements inventory.LedgerTx.
func (tx *Tx) InsertMovement(ctx context.Context, m inventory.Movement) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	m.ID = int64(len(tx.st.movements) + 1)
	tx.st.movements = append(tx.st.movements, m)
	return nil
}

// PickFromLocations implements inventory.PhysicalTx.
func (tx *Tx) PickFromLocations(ctx context.Context, branchID int64, sku string, qty int64) (int64, error) {
	if tx.FailPick != nil {
		return 0, tx.FailPick
	}
	key := shared.LedgerRowKey(branchID, sku)
	bins := tx.st.bins[key]
	sort.Slice(bins, func(i, j int) bool { return bins[i].LocationCode < bins[j].LocationCode })
	var picked int64
	for i := range bins {
		if picked == qty {
			break
		}
		take := min(bins[i].Quantity, qty-picked)
		bins[i].Quantity -= take
		picked += take
	}
	tx.st.bins[key] = bins
	return picked, nil
}

// GetVariant implements the catalog port.
func (tx *Tx) GetVariant(ctx context.Context, sku string) (catalog.Variant, error) {
	v, ok := tx.st.variants[sku]
	if !ok {
		return catalog.Variant{}, catalog.ErrVariantNotFound
	}
	return v, nil
}

// DecrementStock implements the catalog port.
func (tx *Tx) DecrementStock(ctx context.Context, sku string, qty int64) error {
	v, ok := tx.st.variants[sku]
	if !ok {
		return catalog.ErrVariantNotFound
	}
	if v.Stock < qty {
		return catalog.ErrInsufficientStock.Detail("sku %s", sku)
	}
	v.Stock -= qty
	tx.st.variants[sku] = v
	return nil
}

// IncrementStock implements the catalog port.
func (tx *Tx) IncrementStock(ctx context.Context, sku string, qty int64) error {
	v, ok := tx.st.variants[sku]
	if !ok {
		return catalog.ErrVariantNotFound
	}
	v.Stock += qty
	tx.st.variants[sku] = v
	return nil
}

// GetBranch implements the branch directory port.
func (tx *Tx) GetBranch(ctx context.Context, id int64) (branches.Branch, error) {
	b, ok := tx.st.branches[id]
	if !ok {
		return branches.Branch{}, branches.ErrBranchNotFound
	}
	return b, nil
}

// IncrementOrderCount implements the branch directory port.
func (tx *Tx) IncrementOrderCount(ctx context.Context, id int64) error {
	b, ok := tx.st.branches[id]
	if !ok {
		return branches.ErrBranchNotFound
	}
	if !b.HasCapacity() {
		return branches.ErrAtCapacity
	}
	b.ActiveOrders++
	tx.st.branches[id] = b
	return nil
}

// DecrementOrderCount implements the branch directory port.
func (tx *Tx) DecrementOrderCount(ctx context.Context, id int64) error {
	b, ok := tx.st.branches[id]
	if !ok {
		return nil
	}
	if b.ActiveOrders > 0 {
		b.ActiveOrders--
	}
	tx.st.branches[id] = b
	return nil
}

// GetShipper implements the branch directory port.
func (tx *Tx) GetShipper(ctx context.Context, id int64) (branches.Shipper, error) {
	sh, ok := tx.st.shippers[id]
	if !ok {
		return branches.Shipper{}, branches.ErrShipperNotFound
	}
	return sh, nil
}

// ClaimExternalEvent mirrors shared.IdempotencyStore.CheckAndInsert.
func (tx *Tx) ClaimExternalEvent(ctx context.Context, key, module string) error {
	k := module + "/" + key
	if tx.st.claims[k] {
		return shared.ErrIdempotencyConflict
	}
	tx.st.claims[k] = true
	return nil
}

// RecordAudit appends an audit entry.
func (tx *Tx) RecordAudit(ctx context.Context, log shared.AuditLog) error {
	tx.st.audits = append(tx.st.audits, log)
	return nil
}
