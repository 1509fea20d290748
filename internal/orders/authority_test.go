package orders

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/fulfillment/internal/shared"
)

func TestDecide(t *testing.T) {
	cases := []struct {
		name    string
		source  Source
		current Status
		target  Status
		role    shared.Role
		allowed bool
		code    string
	}{
		{"no-op always allowed", SourceOnline, StatusShipping, StatusShipping, shared.RoleCustomer, true, ""},
		{"staff confirms", SourceOnline, StatusPending, StatusConfirmed, shared.RoleStaff, true, ""},
		{"staff cannot skip ahead", SourceOnline, StatusPending, StatusShipping, shared.RoleStaff, false, CodeTransitionNotAllowed},
		{"manager bypasses graph", SourceOnline, StatusPending, StatusShipping, shared.RoleManager, true, ""},
		{"warehouse cannot deliver", SourceOnline, StatusShipping, StatusDelivered, shared.RoleWarehouse, false, CodeRoleNotPermitted},
		{"warehouse completes picking", SourceOnline, StatusPicking, StatusPicked, shared.RoleWarehouse, true, ""},
		{"manager cannot attest a pick", SourceOnline, StatusPicking, StatusPicked, shared.RoleManager, false, CodeRoleNotPermitted},
		{"shipper delivers", SourceOnline, StatusShipping, StatusDelivered, shared.RoleShipper, true, ""},
		{"shipper only from transit", SourceOnline, StatusPreparingShipment, StatusDelivered, shared.RoleShipper, false, CodeRoleNotPermitted},
		{"shipper still follows graph", SourceOnline, StatusDeliveryFailed, StatusDelivered, shared.RoleShipper, false, CodeTransitionNotAllowed},
		{"customer cancels early", SourceOnline, StatusConfirmed, StatusCancelled, shared.RoleCustomer, true, ""},
		{"customer cannot cancel in processing", SourceOnline, StatusProcessing, StatusCancelled, shared.RoleCustomer, false, CodeRoleNotPermitted},
		{"customer requests return", SourceOnline, StatusDelivered, StatusReturnRequested, shared.RoleCustomer, true, ""},
		{"system confirms payment", SourceOnline, StatusPendingPayment, StatusPending, shared.RoleSystem, true, ""},
		{"system cannot cancel confirmed", SourceOnline, StatusConfirmed, StatusCancelled, shared.RoleSystem, false, CodeRoleNotPermitted},
		{"terminal rejects manager", SourceOnline, StatusCompleted, StatusCancelled, shared.RoleManager, false, CodeTerminalStatus},
		{"terminal rejects admin reopen", SourceOnline, StatusCancelled, StatusPending, shared.RoleAdmin, false, CodeTerminalStatus},
		{"in-store goes to cashier", SourceInStore, StatusConfirmed, StatusReadyForCashier, shared.RoleCashier, true, ""},
		{"online has no cashier stage", SourceOnline, StatusConfirmed, StatusReadyForCashier, shared.RoleStaff, false, CodeTransitionNotAllowed},
		{"in-store has no shipping", SourceInStore, StatusConfirmed, StatusShipping, shared.RoleManager, false, CodeTransitionNotAllowed},
		{"in-store picked goes to cashier", SourceInStore, StatusPicked, StatusReadyForCashier, shared.RoleStaff, true, ""},
		{"unknown role", SourceOnline, StatusPending, StatusConfirmed, "", false, CodeRoleNotPermitted},
		{"unknown target", SourceOnline, StatusPending, Status("LOST"), shared.RoleAdmin, false, CodeUnknownStatus},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := Decide(Request{Source: tc.source, Current: tc.current, Target: tc.target, Role: tc.role})
			assert.Equal(t, tc.allowed, d.Allowed, d.Reason)
			assert.Equal(t, tc.code, d.Code)
			if tc.allowed {
				assert.Equal(t, tc.target.Stage(), d.Stage)
				assert.NoError(t, d.Err())
			} else {
				assert.NotEmpty(t, d.Reason)
			}
		})
	}
}

func TestDecisionErrKinds(t *testing.T) {
	role := Decide(Request{Source: SourceOnline, Current: StatusShipping, Target: StatusDelivered, Role: shared.RoleWarehouse})
	require.True(t, errors.Is(role.Err(), shared.ErrForbidden))

	graph := Decide(Request{Source: SourceOnline, Current: StatusPending, Target: StatusShipping, Role: shared.RoleStaff})
	require.True(t, errors.Is(graph.Err(), shared.ErrConflict))
	require.Equal(t, CodeTransitionNotAllowed, shared.ErrorCode(graph.Err()))
}

func TestParseStatusNormalisesAliases(t *testing.T) {
	cases := map[string]Status{
		"new":              StatusPending,
		"Awaiting_Payment": StatusPendingPayment,
		"packing":          StatusPacked,
		"picking-complete": StatusPicked,
		"ready to ship":    StatusPreparingShipment,
		"shipped":          StatusShipping,
		"IN_TRANSIT":       StatusShipping,
		"picked_up":        StatusCollected,
		"canceled":         StatusCancelled,
		"done":             StatusCompleted,
		" delivered ":      StatusDelivered,
	}
	for raw, want := range cases {
		got, err := ParseStatus(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}
	_, err := ParseStatus("teleported")
	require.ErrorIs(t, err, ErrUnknownStatus)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestEveryStatusHasAStage(t *testing.T) {
	for status := range stageOf {
		assert.NotEmpty(t, status.Stage(), status)
	}
	assert.Equal(t, StageReady, StatusReadyForCashier.Stage())
	assert.Equal(t, StageInTransit, StatusDeliveryFailed.Stage())
	assert.Equal(t, StageDelivered, StatusCollected.Stage())
}

func TestGraphsOnlyReferenceKnownStatuses(t *testing.T) {
	for _, graph := range []map[Status][]Status{onlineGraph, inStoreGraph} {
		for from, next := range graph {
			require.True(t, from.Valid(), from)
			require.False(t, from.IsTerminal(), from)
			for _, to := range next {
				require.True(t, to.Valid(), to)
			}
		}
	}
}
