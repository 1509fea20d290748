package orders

import (
	"fmt"

	"github.com/odyssey-erp/fulfillment/internal/shared"
)

// Decision codes.
const (
	CodeRoleNotPermitted     = "ROLE_NOT_PERMITTED"
	CodeTransitionNotAllowed = "TRANSITION_NOT_ALLOWED"
	CodeTerminalStatus       = "TERMINAL_STATUS"
	CodeUnknownStatus        = "UNKNOWN_STATUS"
)

// Request is the input to Decide.
type Request struct {
	Source  Source
	Current Status
	Target  Status
	Role    shared.Role
}

// Decision is the outcome of Decide.
type Decision struct {
	Allowed bool
	Reason  string
	Code    string
	Stage   Stage
}

// Err converts a denial into a domain error. Allowed decisions yield nil.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	switch d.Code {
	case CodeRoleNotPermitted:
		return shared.NewError(shared.ErrForbidden, d.Code, d.Reason)
	case CodeUnknownStatus:
		return shared.NewError(shared.ErrValidation, d.Code, d.Reason)
	default:
		return shared.NewError(shared.ErrConflict, d.Code, d.Reason)
	}
}

// grant lets a role set a target status, optionally only from listed sources.
type grant struct {
	role shared.Role
	from []Status
}

func (g grant) permits(current Status) bool {
	if len(g.from) == 0 {
		return true
	}
	for _, s := range g.from {
		if s == current {
			return true
		}
	}
	return false
}

var (
	shipperSources  = []Status{StatusShipping, StatusOutForDelivery, StatusDeliveryFailed}
	customerCancels = []Status{StatusPendingPayment, StatusPending, StatusConfirmed}
	customerReturns = []Status{StatusDelivered, StatusCollected}
)

// targetGrants lists non-elevated roles allowed to set each status.
var targetGrants = map[Status][]grant{
	StatusPending:           {{role: shared.RoleSystem, from: []Status{StatusPendingPayment}}},
	StatusConfirmed:         {{role: shared.RoleStaff}, {role: shared.RoleCashier}},
	StatusProcessing:        {{role: shared.RoleStaff}, {role: shared.RoleCashier}, {role: shared.RoleWarehouse}},
	StatusPicking:           {{role: shared.RoleWarehouse}},
	StatusPicked:            {{role: shared.RoleWarehouse}},
	StatusPacked:            {{role: shared.RoleWarehouse}},
	StatusPreparingShipment: {{role: shared.RoleStaff}, {role: shared.RoleWarehouse}},
	StatusReadyForPickup:    {{role: shared.RoleStaff}},
	StatusReadyForCashier:   {{role: shared.RoleStaff}, {role: shared.RoleCashier}},
	StatusShipping:          {{role: shared.RoleStaff}, {role: shared.RoleSystem}},
	StatusOutForDelivery:    {{role: shared.RoleShipper, from: shipperSources}, {role: shared.RoleSystem}},
	StatusDelivered:         {{role: shared.RoleShipper, from: shipperSources}, {role: shared.RoleSystem}},
	StatusDeliveryFailed:    {{role: shared.RoleShipper, from: shipperSources}, {role: shared.RoleSystem}},
	StatusReturned:          {{role: shared.RoleShipper, from: shipperSources}, {role: shared.RoleSystem}},
	StatusCollected:         {{role: shared.RoleStaff}, {role: shared.RoleCashier}},
	StatusCompleted:         {{role: shared.RoleStaff}, {role: shared.RoleCashier}},
	StatusCancelled: {
		{role: shared.RoleCustomer, from: customerCancels},
		{role: shared.RoleSystem, from: []Status{StatusPendingPayment}},
	},
	StatusReturnRequested: {
		{role: shared.RoleStaff},
		{role: shared.RoleCustomer, from: customerReturns},
	},
}

// elevatedDenied lists targets elevated roles may not set. PICKED records a
// physical pick and only the warehouse can attest to it; PENDING_PAYMENT is
// reachable only at creation.
var elevatedDenied = map[Status]bool{
	StatusPicked:         true,
	StatusPendingPayment: true,
}

var onlineGraph = map[Status][]Status{
	StatusPendingPayment:    {StatusPending, StatusCancelled},
	StatusPending:           {StatusConfirmed, StatusCancelled},
	StatusConfirmed:         {StatusProcessing, StatusCancelled},
	StatusProcessing:        {StatusPicking, StatusPreparingShipment, StatusCancelled},
	StatusPicking:           {StatusPicked, StatusCancelled},
	StatusPicked:            {StatusPacked, StatusCancelled},
	StatusPacked:            {StatusPreparingShipment, StatusReadyForPickup, StatusCancelled},
	StatusPreparingShipment: {StatusShipping, StatusReadyForPickup, StatusCancelled},
	StatusReadyForPickup:    {StatusCollected, StatusCancelled},
	StatusShipping:          {StatusOutForDelivery, StatusDelivered, StatusDeliveryFailed, StatusReturned},
	StatusOutForDelivery:    {StatusDelivered, StatusDeliveryFailed},
	StatusDeliveryFailed:    {StatusOutForDelivery, StatusReturned},
	StatusDelivered:         {StatusCompleted, StatusReturnRequested},
	StatusCollected:         {StatusCompleted, StatusReturnRequested},
	StatusReturnRequested:   {StatusReturned, StatusCompleted},
}

var inStoreGraph = map[Status][]Status{
	StatusPendingPayment:  {StatusPending, StatusCancelled},
	StatusPending:         {StatusConfirmed, StatusCancelled},
	StatusConfirmed:       {StatusProcessing, StatusReadyForCashier, StatusCancelled},
	StatusProcessing:      {StatusPicking, StatusReadyForCashier, StatusCancelled},
	StatusPicking:         {StatusPicked},
	StatusPicked:          {StatusReadyForCashier},
	StatusReadyForCashier: {StatusCompleted, StatusCancelled},
}

func graphFor(src Source) map[Status][]Status {
	if src == SourceInStore {
		return inStoreGraph
	}
	return onlineGraph
}

// partOfChannel reports whether a status appears anywhere in the channel graph.
func partOfChannel(src Source, s Status) bool {
	graph := graphFor(src)
	if _, ok := graph[s]; ok {
		return true
	}
	for _, next := range graph {
		for _, n := range next {
			if n == s {
				return true
			}
		}
	}
	return false
}

// Decide evaluates a requested transition. It is the single authority for order
// status changes.
func Decide(req Request) Decision {
	stage := req.Target.Stage()
	if req.Current == req.Target {
		return Decision{Allowed: true, Reason: "no change", Stage: stage}
	}
	if !req.Target.Valid() {
		return deny(CodeUnknownStatus, fmt.Sprintf("unknown status %q", req.Target))
	}
	if !roleMayTarget(req.Role, req.Current, req.Target) {
		return deny(CodeRoleNotPermitted, fmt.Sprintf("role %s may not set status %s from %s", roleLabel(req.Role), req.Target, req.Current))
	}
	if req.Current.IsTerminal() {
		return deny(CodeTerminalStatus, fmt.Sprintf("order is %s and accepts no further transitions", req.Current))
	}
	if req.Role.IsElevated() {
		if !partOfChannel(req.Source, req.Target) {
			return deny(CodeTransitionNotAllowed, fmt.Sprintf("status %s is not used by %s orders", req.Target, req.Source))
		}
		return Decision{Allowed: true, Reason: "elevated override", Stage: stage}
	}
	for _, next := range graphFor(req.Source)[req.Current] {
		if next == req.Target {
			return Decision{Allowed: true, Stage: stage}
		}
	}
	return deny(CodeTransitionNotAllowed, fmt.Sprintf("%s orders cannot move from %s to %s", req.Source, req.Current, req.Target))
}

func roleMayTarget(role shared.Role, current, target Status) bool {
	if role.IsElevated() {
		return !elevatedDenied[target]
	}
	for _, g := range targetGrants[target] {
		if g.role == role && g.permits(current) {
			return true
		}
	}
	return false
}

func roleLabel(role shared.Role) string {
	if role == "" {
		return "(none)"
	}
	return string(role)
}

func deny(code, reason string) Decision {
	return Decision{Allowed: false, Code: code, Reason: reason}
}
