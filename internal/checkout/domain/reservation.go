package domain

// Reservation is a soft hold of stock for one order and SKU. It is not a
// deduction: inventory quantities stay untouched until the order is
// finalized. Rows are created only by the reservation ledger and destroyed
// either by release or by finalize.
type Reservation struct {
	OrderID  string
	SKU      string
	Quantity int
}

// ReservationRequest is one SKU/quantity pair of a reserve call.
type ReservationRequest struct {
	SKU      string
	Quantity int
}

// ReservationsFromItems maps order line items to the holds they require.
// Items without a SKU are skipped, mirroring what the checkout flow accepts.
func ReservationsFromItems(items []LineItem) []ReservationRequest {
	out := make([]ReservationRequest, 0, len(items))
	for _, it := range items {
		if it.SKU == "" {
			continue
		}
		out = append(out, ReservationRequest{SKU: it.SKU, Quantity: it.Quantity})
	}
	return out
}
