package shared

import "fmt"

// LedgerRowKey names a branch ledger row in logs and lock maps.
func LedgerRowKey(branchID int64, sku string) string {
	return fmt.Sprintf("%d:%s", branchID, sku)
}
