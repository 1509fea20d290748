package replenishment

import (
	"sort"
)

type sourceKey struct {
	branchID int64
	sku      string
}

type source struct {
	branchID  int64
	available int64
	remaining int64
}

// Analyze turns ledger positions into recommendations. Stores below their
// minimum draw first from other stores holding surplus above
// max(minStock, SurplusThreshold); what cannot be covered that way is pulled
// from a warehouse. Surplus handed to one shortfall is not offered again in
// the same run.
func Analyze(positions []Position, cfg Config) []Recommendation {
	var (
		short      []Position
		surplus    = make(map[string][]*source)
		warehouses = make(map[string][]Position)
	)
	for _, p := range positions {
		if p.Warehouse {
			if p.Available > 0 {
				warehouses[p.SKU] = append(warehouses[p.SKU], p)
			}
			continue
		}
		if p.Available < p.MinStock {
			short = append(short, p)
			continue
		}
		keep := max(p.MinStock, cfg.SurplusThreshold)
		if extra := p.Available - keep; extra > 0 {
			surplus[p.SKU] = append(surplus[p.SKU], &source{branchID: p.BranchID, available: p.Available, remaining: extra})
		}
	}

	sort.Slice(short, func(i, j int) bool {
		a, b := short[i], short[j]
		if pa, pb := priorityOf(a).rank(), priorityOf(b).rank(); pa != pb {
			return pa < pb
		}
		if na, nb := a.MinStock-a.Available, b.MinStock-b.Available; na != nb {
			return na > nb
		}
		if a.BranchID != b.BranchID {
			return a.BranchID < b.BranchID
		}
		return a.SKU < b.SKU
	})

	recs := make([]Recommendation, 0, len(short))
	for _, p := range short {
		needed := p.MinStock - p.Available
		rec := Recommendation{
			Priority:       priorityOf(p),
			SKU:            p.SKU,
			ToBranchID:     p.BranchID,
			Available:      p.Available,
			MinStock:       p.MinStock,
			NeededQuantity: needed,
			AvgDailyDemand: p.AvgDailyDemand,
		}
		if src := bestSource(surplus[p.SKU], p.BranchID); src != nil {
			qty := min(needed, src.remaining)
			src.remaining -= qty
			from := src.branchID
			rec.Type = TypeInterStore
			rec.FromBranchID = &from
			rec.SuggestedQuantity = qty
		} else {
			rec.Type = TypeWarehouse
			rec.SuggestedQuantity = needed
			if wh := bestWarehouse(warehouses[p.SKU]); wh != nil {
				from := wh.BranchID
				rec.FromBranchID = &from
			}
		}
		recs = append(recs, rec)
	}
	return recs
}

func priorityOf(p Position) Priority {
	if p.Available <= 0 {
		return PriorityCritical
	}
	return PriorityHigh
}

func bestSource(candidates []*source, exclude int64) *source {
	var best *source
	for _, c := range candidates {
		if c.branchID == exclude || c.remaining <= 0 {
			continue
		}
		switch {
		case best == nil:
			best = c
		case c.remaining != best.remaining:
			if c.remaining > best.remaining {
				best = c
			}
		case c.available != best.available:
			if c.available > best.available {
				best = c
			}
		case c.branchID < best.branchID:
			best = c
		}
	}
	return best
}

func bestWarehouse(candidates []Position) *Position {
	var best *Position
	for i := range candidates {
		c := &candidates[i]
		if best == nil || c.Available > best.Available || (c.Available == best.Available && c.BranchID < best.BranchID) {
			best = c
		}
	}
	return best
}

// demandPerDay converts a window sales total into an average rounded to cents.
func demandPerDay(total int64, days int) float64 {
	if total <= 0 || days <= 0 {
		return 0
	}
	v := float64(total) / float64(days)
	return float64(int64(v*100+0.5)) / 100
}
