package inventory

import (
	"context"
	"log/slog"
)

// PhysicalTx is the transaction-bound bin ledger of warehouse branches.
// PickFromLocations takes up to qty units from locations holding stock, in
// location code order, and reports how many it took. Implementations must
// isolate their own failures so the enclosing transaction stays usable.
type PhysicalTx interface {
	PickFromLocations(ctx context.Context, branchID int64, sku string, qty int64) (int64, error)
}

// Picker mirrors ledger dispatches onto the bin ledger on a best-effort basis.
type Picker struct {
	logger *slog.Logger
}

// NewPicker constructs a Picker.
func NewPicker(logger *slog.Logger) *Picker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Picker{logger: logger}
}

// Pick decrements bin stock for every line and returns the shortfalls for the
// caller to publish after commit. It never fails the caller.
func (p *Picker) Pick(ctx context.Context, tx PhysicalTx, branchID int64, lines []Line, ref Ref) []PhysicalMismatch {
	merged, err := MergeLines(lines)
	if err != nil {
		p.logger.Warn("physical pick skipped", slog.Int64("branch_id", branchID), slog.Any("error", err))
		return nil
	}
	var mismatches []PhysicalMismatch
	for _, line := range merged {
		picked, err := tx.PickFromLocations(ctx, branchID, line.SKU, line.Quantity)
		if err != nil {
			p.logger.Warn("physical pick failed",
				slog.Int64("branch_id", branchID),
				slog.String("sku", line.SKU),
				slog.Any("error", err))
			picked = 0
		}
		if picked >= line.Quantity {
			continue
		}
		m := PhysicalMismatch{
			BranchID:  branchID,
			SKU:       line.SKU,
			Requested: line.Quantity,
			Picked:    picked,
			RefModule: ref.Module,
			RefID:     ref.ID,
		}
		p.logger.Warn("physical stock mismatch",
			slog.Int64("branch_id", branchID),
			slog.String("sku", line.SKU),
			slog.Int64("requested", m.Requested),
			slog.Int64("picked", m.Picked),
			slog.String("ref", ref.Module+":"+ref.ID))
		mismatches = append(mismatches, m)
	}
	return mismatches
}
