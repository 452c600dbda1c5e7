package domain

import "github.com/arvind-mehta/orderflow-core/internal/platform/money"

// VendorProduct is the per-vendor catalog line the stock filter and pricing
// both read from.
type VendorProduct struct {
	ProductID string
	Stock     int
	UnitPrice money.Amount
}

// Vendor is a supplier eligible for order assignment. WorkingHoursStart/End
// are local hours (0-24) in Timezone; ActiveOrdersCount/PendingOrdersCount
// are cached counters maintained by the state machine (C6), never computed
// ad hoc by the selector.
type Vendor struct {
	ID                 string
	Name               string
	Products           []VendorProduct
	WorkingHoursStart  int
	WorkingHoursEnd    int
	Timezone           string
	IsActive           bool
	ActiveOrdersCount  int
	PendingOrdersCount int
}

// ProductStock returns the stock and unit price a vendor offers for
// productID, or ok=false if the vendor doesn't carry it.
func (v Vendor) ProductStock(productID string) (VendorProduct, bool) {
	for _, p := range v.Products {
		if p.ProductID == productID {
			return p, true
		}
	}
	return VendorProduct{}, false
}
