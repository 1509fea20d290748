package transfers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/fulfillment/internal/branches"
	"github.com/odyssey-erp/fulfillment/internal/inventory"
	"github.com/odyssey-erp/fulfillment/internal/notify"
	"github.com/odyssey-erp/fulfillment/internal/shared"
	"github.com/odyssey-erp/fulfillment/internal/testing/memstore"
)

var (
	testNow = time.Date(2026, 10, 16, 14, 0, 0, 0, time.UTC)

	staff     = shared.Actor{ID: 21, Role: shared.RoleStaff, BranchID: 2}
	warehouse = shared.Actor{ID: 22, Role: shared.RoleWarehouse, BranchID: 4}
	manager   = shared.Actor{ID: 23, Role: shared.RoleManager}
)

type fixture struct {
	store  *memstore.Store
	repo   *memRepo
	events *notify.Recorder
	svc    *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	store.SeedBranch(branches.Branch{ID: 1, Code: "JKT-01", Type: branches.TypeStore, Status: branches.StatusActive})
	store.SeedBranch(branches.Branch{ID: 2, Code: "BDG-01", Type: branches.TypeStore, Status: branches.StatusActive})
	store.SeedBranch(branches.Branch{ID: 3, Code: "SBY-01", Type: branches.TypeStore, Status: branches.StatusInactive})
	store.SeedBranch(branches.Branch{ID: 4, Code: "WH-01", Type: branches.TypeWarehouse, Status: branches.StatusActive})
	store.SeedRecord(inventory.Record{BranchID: 1, SKU: "TSHIRT-M", Quantity: 60})
	store.SeedRecord(inventory.Record{BranchID: 1, SKU: "MUG", Quantity: 5})
	store.SeedRecord(inventory.Record{BranchID: 4, SKU: "TSHIRT-M", Quantity: 20})
	store.SeedBin(inventory.LocationStock{BranchID: 4, LocationCode: "B-02", SKU: "TSHIRT-M", Quantity: 1})
	store.SeedBin(inventory.LocationStock{BranchID: 4, LocationCode: "A-01", SKU: "TSHIRT-M", Quantity: 2})

	repo := newMemRepo(store)
	events := &notify.Recorder{}
	svc := NewService(repo, events, discardLogger())
	svc.now = func() time.Time { return testNow }
	return &fixture{store: store, repo: repo, events: events, svc: svc}
}

func (f *fixture) request(t *testing.T, from, to int64, lines ...LineInput) Transfer {
	t.Helper()
	tr, err := f.svc.Request(context.Background(), RequestInput{FromBranchID: from, ToBranchID: to, Items: lines}, staff)
	require.NoError(t, err)
	return tr
}

func requireOrdered(t *testing.T, tr Transfer) {
	t.Helper()
	for _, it := range tr.Items {
		require.LessOrEqual(t, it.ReceivedQuantity, it.ApprovedQuantity, it.SKU)
		require.LessOrEqual(t, it.ApprovedQuantity, it.RequestedQuantity, it.SKU)
	}
}

func TestShortReceiptLandsOnReceived(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tr := f.request(t, 1, 2, LineInput{SKU: "TSHIRT-M", Quantity: 4})
	assert.Equal(t, "TRF-20261016-0001", tr.Code)
	assert.Equal(t, StatusPending, tr.Status)
	assert.Equal(t, int64(0), f.store.Record(1, "TSHIRT-M").Reserved)
	requireOrdered(t, tr)

	tr, err := f.svc.Approve(ctx, tr.ID, ApproveInput{}, manager)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, tr.Status)
	assert.Equal(t, int64(4), tr.Items[0].ApprovedQuantity)
	assert.Equal(t, int64(4), f.store.Record(1, "TSHIRT-M").Reserved)
	requireOrdered(t, tr)

	tr, err = f.svc.Ship(ctx, tr.ID, staff)
	require.NoError(t, err)
	assert.Equal(t, StatusInTransit, tr.Status)
	src := f.store.Record(1, "TSHIRT-M")
	assert.Equal(t, int64(56), src.Quantity)
	assert.Equal(t, int64(0), src.Reserved)
	requireOrdered(t, tr)

	tr, err = f.svc.Receive(ctx, tr.ID, ReceiveInput{Items: []ReceiveLine{{SKU: "TSHIRT-M", Quantity: 3, Reason: "carton damaged"}}}, staff)
	require.NoError(t, err)
	assert.Equal(t, StatusReceived, tr.Status)
	assert.Nil(t, tr.CompletedAt)
	assert.Equal(t, int64(3), f.store.Record(2, "TSHIRT-M").Quantity)
	require.Len(t, tr.Discrepancies, 1)
	assert.Equal(t, Discrepancy{SKU: "TSHIRT-M", Expected: 4, Received: 3, Reason: "carton damaged"}, tr.Discrepancies[0])
	assert.Equal(t, int64(1), tr.Discrepancies[0].Missing())
	requireOrdered(t, tr)

	movements := f.store.Movements()
	require.Len(t, movements, 2)
	assert.Equal(t, inventory.MovementTransferOut, movements[0].Kind)
	assert.Equal(t, int64(4), movements[0].Quantity)
	assert.Equal(t, int64(56), movements[0].QuantityAfter)
	assert.Equal(t, inventory.MovementTransferIn, movements[1].Kind)
	assert.Equal(t, int64(3), movements[1].Quantity)
	assert.Equal(t, "transfer", movements[1].RefModule)

	tr, err = f.svc.Complete(ctx, tr.ID, manager)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, tr.Status)
	require.NotNil(t, tr.CompletedAt)

	_, err = f.svc.Complete(ctx, tr.ID, manager)
	require.ErrorIs(t, err, ErrInvalidState)

	assert.Len(t, f.events.OfType(notify.EventTransferChanged), 5)
	assert.Len(t, f.store.Audits(), 4)
}

func TestFullReceiptCompletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.request(t, 1, 2, LineInput{SKU: "TSHIRT-M", Quantity: 2}, LineInput{SKU: "MUG", Quantity: 1})
	_, err := f.svc.Approve(ctx, tr.ID, ApproveInput{}, manager)
	require.NoError(t, err)
	_, err = f.svc.Ship(ctx, tr.ID, staff)
	require.NoError(t, err)

	tr, err = f.svc.Receive(ctx, tr.ID, ReceiveInput{Items: []ReceiveLine{
		{SKU: "TSHIRT-M", Quantity: 1},
		{SKU: "MUG", Quantity: 1},
		{SKU: "TSHIRT-M", Quantity: 1},
	}}, staff)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, tr.Status)
	assert.Empty(t, tr.Discrepancies)
	require.NotNil(t, tr.CompletedAt)
	assert.Equal(t, int64(2), f.store.Record(2, "TSHIRT-M").Quantity)
	assert.Equal(t, int64(1), f.store.Record(2, "MUG").Quantity)
}

func TestMissingLinesCountAsNotReceived(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.request(t, 1, 2, LineInput{SKU: "TSHIRT-M", Quantity: 2}, LineInput{SKU: "MUG", Quantity: 1})
	_, err := f.svc.Approve(ctx, tr.ID, ApproveInput{}, manager)
	require.NoError(t, err)
	_, err = f.svc.Ship(ctx, tr.ID, staff)
	require.NoError(t, err)

	tr, err = f.svc.Receive(ctx, tr.ID, ReceiveInput{Items: []ReceiveLine{{SKU: "TSHIRT-M", Quantity: 2}}}, staff)
	require.NoError(t, err)
	assert.Equal(t, StatusReceived, tr.Status)
	require.Len(t, tr.Discrepancies, 1)
	assert.Equal(t, "MUG", tr.Discrepancies[0].SKU)
	assert.Equal(t, "short receipt", tr.Discrepancies[0].Reason)
	assert.Equal(t, int64(0), f.store.Record(2, "MUG").Quantity)
}

func TestRequestValidation(t *testing.T) {
	cases := []struct {
		name  string
		input RequestInput
		actor shared.Actor
		want  error
	}{
		{"same branch", RequestInput{FromBranchID: 1, ToBranchID: 1, Items: []LineInput{{SKU: "MUG", Quantity: 1}}}, staff, ErrSameBranch},
		{"inactive destination", RequestInput{FromBranchID: 1, ToBranchID: 3, Items: []LineInput{{SKU: "MUG", Quantity: 1}}}, staff, ErrBranchInactive},
		{"unknown branch", RequestInput{FromBranchID: 1, ToBranchID: 99, Items: []LineInput{{SKU: "MUG", Quantity: 1}}}, staff, branches.ErrBranchNotFound},
		{"zero quantity", RequestInput{FromBranchID: 1, ToBranchID: 2, Items: []LineInput{{SKU: "MUG", Quantity: 0}}}, staff, inventory.ErrInvalidQuantity},
		{"no items", RequestInput{FromBranchID: 1, ToBranchID: 2}, staff, shared.ErrValidation},
		{"customer", RequestInput{FromBranchID: 1, ToBranchID: 2, Items: []LineInput{{SKU: "MUG", Quantity: 1}}}, shared.Actor{ID: 9, Role: shared.RoleCustomer}, ErrNotPermitted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.Request(context.Background(), tc.input, tc.actor)
			require.ErrorIs(t, err, tc.want)
			list, err := f.svc.List(context.Background(), ListFilter{})
			require.NoError(t, err)
			assert.Empty(t, list)
		})
	}
}

func TestApproveCapsAndGuards(t *testing.T) {
	ctx := context.Background()

	t.Run("override caps approved quantity", func(t *testing.T) {
		f := newFixture(t)
		tr := f.request(t, 1, 2, LineInput{SKU: "TSHIRT-M", Quantity: 10}, LineInput{SKU: "MUG", Quantity: 2})
		tr, err := f.svc.Approve(ctx, tr.ID, ApproveInput{Overrides: []LineInput{{SKU: "TSHIRT-M", Quantity: 3}, {SKU: "MUG", Quantity: 50}}}, manager)
		require.NoError(t, err)
		assert.Equal(t, int64(2), tr.Items[0].ApprovedQuantity)
		assert.Equal(t, int64(3), tr.Items[1].ApprovedQuantity)
		assert.Equal(t, int64(3), f.store.Record(1, "TSHIRT-M").Reserved)
		assert.Equal(t, int64(2), f.store.Record(1, "MUG").Reserved)
		requireOrdered(t, tr)
	})

	t.Run("zero total is rejected", func(t *testing.T) {
		f := newFixture(t)
		tr := f.request(t, 1, 2, LineInput{SKU: "TSHIRT-M", Quantity: 10})
		_, err := f.svc.Approve(ctx, tr.ID, ApproveInput{Overrides: []LineInput{{SKU: "TSHIRT-M", Quantity: 0}}}, manager)
		require.ErrorIs(t, err, ErrNothingApproved)
		current, err := f.svc.Get(ctx, tr.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, current.Status)
		assert.Equal(t, int64(0), current.Items[0].ApprovedQuantity)
	})

	t.Run("partial zero approves the rest", func(t *testing.T) {
		f := newFixture(t)
		tr := f.request(t, 1, 2, LineInput{SKU: "TSHIRT-M", Quantity: 1}, LineInput{SKU: "MUG", Quantity: 1})
		tr, err := f.svc.Approve(ctx, tr.ID, ApproveInput{Overrides: []LineInput{{SKU: "MUG", Quantity: 0}}}, manager)
		require.NoError(t, err)
		assert.Equal(t, int64(0), f.store.Record(1, "MUG").Reserved)
		assert.Equal(t, int64(1), f.store.Record(1, "TSHIRT-M").Reserved)
	})

	t.Run("unknown sku", func(t *testing.T) {
		f := newFixture(t)
		tr := f.request(t, 1, 2, LineInput{SKU: "TSHIRT-M", Quantity: 1})
		_, err := f.svc.Approve(ctx, tr.ID, ApproveInput{Overrides: []LineInput{{SKU: "HAT", Quantity: 1}}}, manager)
		require.ErrorIs(t, err, ErrUnknownSKU)
	})

	t.Run("insufficient stock at source", func(t *testing.T) {
		f := newFixture(t)
		tr := f.request(t, 1, 2, LineInput{SKU: "MUG", Quantity: 3}, LineInput{SKU: "TSHIRT-M", Quantity: 61})
		_, err := f.svc.Approve(ctx, tr.ID, ApproveInput{}, manager)
		require.ErrorIs(t, err, inventory.ErrInsufficientStock)
		assert.Equal(t, int64(0), f.store.Record(1, "MUG").Reserved)
		current, err := f.svc.Get(ctx, tr.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, current.Status)
	})

	t.Run("staff cannot approve", func(t *testing.T) {
		f := newFixture(t)
		tr := f.request(t, 1, 2, LineInput{SKU: "MUG", Quantity: 1})
		_, err := f.svc.Approve(ctx, tr.ID, ApproveInput{}, staff)
		require.ErrorIs(t, err, ErrNotPermitted)
		require.True(t, errors.Is(err, shared.ErrForbidden))
	})
}

func TestRejectIsFinal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.request(t, 1, 2, LineInput{SKU: "MUG", Quantity: 1})

	_, err := f.svc.Reject(ctx, tr.ID, "  ", manager)
	require.ErrorIs(t, err, ErrReasonRequired)

	tr, err = f.svc.Reject(ctx, tr.ID, "store is overstocked", manager)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, tr.Status)
	assert.Equal(t, "store is overstocked", tr.RejectReason)

	_, err = f.svc.Approve(ctx, tr.ID, ApproveInput{}, manager)
	require.ErrorIs(t, err, ErrInvalidState)
	_, err = f.svc.Cancel(ctx, tr.ID, "", manager)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestCancelReleasesApprovedReservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending := f.request(t, 1, 2, LineInput{SKU: "MUG", Quantity: 1})
	cancelled, err := f.svc.Cancel(ctx, pending.ID, "typo", staff)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)

	approved := f.request(t, 1, 2, LineInput{SKU: "TSHIRT-M", Quantity: 5})
	_, err = f.svc.Approve(ctx, approved.ID, ApproveInput{}, manager)
	require.NoError(t, err)
	require.Equal(t, int64(5), f.store.Record(1, "TSHIRT-M").Reserved)

	_, err = f.svc.Cancel(ctx, approved.ID, "no truck", staff)
	require.ErrorIs(t, err, ErrNotPermitted)
	assert.Equal(t, int64(5), f.store.Record(1, "TSHIRT-M").Reserved)

	cancelled, err = f.svc.Cancel(ctx, approved.ID, "no truck", manager)
	require.NoError(t, err)
	assert.Equal(t, "no truck", cancelled.CancelReason)
	rec := f.store.Record(1, "TSHIRT-M")
	assert.Equal(t, int64(0), rec.Reserved)
	assert.Equal(t, int64(60), rec.Quantity)
}

func TestCannotCancelOrShipOutOfOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.request(t, 1, 2, LineInput{SKU: "MUG", Quantity: 1})

	_, err := f.svc.Ship(ctx, tr.ID, staff)
	require.ErrorIs(t, err, ErrInvalidState)
	_, err = f.svc.Receive(ctx, tr.ID, ReceiveInput{}, staff)
	require.ErrorIs(t, err, ErrInvalidState)

	_, err = f.svc.Approve(ctx, tr.ID, ApproveInput{}, manager)
	require.NoError(t, err)
	_, err = f.svc.Ship(ctx, tr.ID, staff)
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, tr.ID, "too late", manager)
	require.ErrorIs(t, err, ErrInvalidState)

	_, err = f.svc.Get(ctx, 404)
	require.ErrorIs(t, err, ErrTransferNotFound)
}

func TestReceiveRejectsOverReceipt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.request(t, 1, 2, LineInput{SKU: "TSHIRT-M", Quantity: 4})
	_, err := f.svc.Approve(ctx, tr.ID, ApproveInput{Overrides: []LineInput{{SKU: "TSHIRT-M", Quantity: 2}}}, manager)
	require.NoError(t, err)
	_, err = f.svc.Ship(ctx, tr.ID, staff)
	require.NoError(t, err)

	_, err = f.svc.Receive(ctx, tr.ID, ReceiveInput{Items: []ReceiveLine{{SKU: "TSHIRT-M", Quantity: 3}}}, staff)
	require.ErrorIs(t, err, ErrOverReceipt)
	_, err = f.svc.Receive(ctx, tr.ID, ReceiveInput{Items: []ReceiveLine{{SKU: "HAT", Quantity: 1}}}, staff)
	require.ErrorIs(t, err, ErrUnknownSKU)

	current, err := f.svc.Get(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInTransit, current.Status)
	assert.Equal(t, int64(0), f.store.Record(2, "TSHIRT-M").Quantity)
	requireOrdered(t, current)
}

func TestWarehouseShipmentMirrorsBins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr, err := f.svc.Request(ctx, RequestInput{FromBranchID: 4, ToBranchID: 2, Items: []LineInput{{SKU: "TSHIRT-M", Quantity: 5}}}, warehouse)
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, tr.ID, ApproveInput{}, manager)
	require.NoError(t, err)

	tr, err = f.svc.Ship(ctx, tr.ID, warehouse)
	require.NoError(t, err)
	assert.Equal(t, StatusInTransit, tr.Status)
	assert.Equal(t, int64(15), f.store.Record(4, "TSHIRT-M").Quantity)
	assert.Equal(t, int64(0), f.store.BinTotal(4, "TSHIRT-M"))

	mismatches := f.events.OfType(notify.EventPhysicalMismatch)
	require.Len(t, mismatches, 1)
	var m inventory.PhysicalMismatch
	require.NoError(t, mismatches[0].Decode(&m))
	assert.Equal(t, int64(5), m.Requested)
	assert.Equal(t, int64(3), m.Picked)
	assert.Equal(t, int64(2), m.Shortfall())
	assert.Equal(t, "transfer", m.RefModule)
}

func TestBinFailureDoesNotBlockShipment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr, err := f.svc.Request(ctx, RequestInput{FromBranchID: 4, ToBranchID: 1, Items: []LineInput{{SKU: "TSHIRT-M", Quantity: 2}}}, warehouse)
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, tr.ID, ApproveInput{}, manager)
	require.NoError(t, err)

	f.repo.failPick = errors.New("bin table locked")
	tr, err = f.svc.Ship(ctx, tr.ID, warehouse)
	require.NoError(t, err)
	assert.Equal(t, StatusInTransit, tr.Status)
	assert.Equal(t, int64(18), f.store.Record(4, "TSHIRT-M").Quantity)
	assert.Equal(t, int64(3), f.store.BinTotal(4, "TSHIRT-M"))

	mismatches := f.events.OfType(notify.EventPhysicalMismatch)
	require.Len(t, mismatches, 1)
	var m inventory.PhysicalMismatch
	require.NoError(t, mismatches[0].Decode(&m))
	assert.Equal(t, int64(0), m.Picked)
}

func TestStoreShipmentSkipsBins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.request(t, 1, 4, LineInput{SKU: "TSHIRT-M", Quantity: 2})
	_, err := f.svc.Approve(ctx, tr.ID, ApproveInput{}, manager)
	require.NoError(t, err)
	_, err = f.svc.Ship(ctx, tr.ID, staff)
	require.NoError(t, err)
	assert.Empty(t, f.events.OfType(notify.EventPhysicalMismatch))
	assert.Equal(t, int64(3), f.store.BinTotal(4, "TSHIRT-M"))
}

func TestListFiltersByBranch(t *testing.T) {
	f := newFixture(t)
	f.request(t, 1, 2, LineInput{SKU: "MUG", Quantity: 1})
	f.request(t, 4, 1, LineInput{SKU: "TSHIRT-M", Quantity: 1})

	touching2, err := f.svc.List(context.Background(), ListFilter{BranchID: 2})
	require.NoError(t, err)
	require.Len(t, touching2, 1)
	assert.Equal(t, "TRF-20261016-0001", touching2[0].Code)

	touching1, err := f.svc.List(context.Background(), ListFilter{BranchID: 1, Status: StatusPending})
	require.NoError(t, err)
	assert.Len(t, touching1, 2)
}
