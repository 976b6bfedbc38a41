package loans

import "time"

// Loan is one borrowing episode. Owned by the lifecycle engine; mutated only
// through its operations.
type Loan struct {
	ID          string     `json:"id"`
	BorrowerID  string     `json:"borrower_id"`
	ItemID      string     `json:"item_id"`
	State       LoanState  `json:"state"`
	RequestedAt time.Time  `json:"requested_at"`
	DueAt       time.Time  `json:"due_at"`
	ReturnedAt  *time.Time `json:"returned_at,omitempty"`
}

// Reservation is a FIFO wait-list entry for an item with zero availability.
// It never holds a Catalog unit; the counter is only decremented by loans.
type Reservation struct {
	ID          string           `json:"id"`
	RequesterID string           `json:"requester_id"`
	ItemID      string           `json:"item_id"`
	State       ReservationState `json:"state"`
	CreatedAt   time.Time        `json:"created_at"`
	// UpdatedAt tracks the last state change; the expiry sweep measures the
	// notification window against it.
	UpdatedAt time.Time `json:"updated_at"`
}
