package loans

import "strconv"

// Numeric codes are the persisted representation and must stay stable.
type LoanState int

const (
	LoanRequested LoanState = 1
	LoanActive    LoanState = 2
	LoanReturned  LoanState = 3
	LoanOverdue   LoanState = 4
)

var loanNext = map[LoanState]map[LoanState]bool{
	LoanRequested: {LoanActive: true, LoanOverdue: true, LoanReturned: true},
	LoanActive:    {LoanOverdue: true, LoanReturned: true},
	LoanOverdue:   {LoanReturned: true},
	LoanReturned:  {},
}

func (s LoanState) CanTransition(to LoanState) bool { return loanNext[s][to] }

func (s LoanState) Terminal() bool { return s == LoanReturned }

func (s LoanState) String() string {
	switch s {
	case LoanRequested:
		return "requested"
	case LoanActive:
		return "active"
	case LoanReturned:
		return "returned"
	case LoanOverdue:
		return "overdue"
	}
	return "unknown(" + strconv.Itoa(int(s)) + ")"
}

// ParseLoanState accepts the state name or its numeric code.
func ParseLoanState(s string) (LoanState, bool) {
	switch s {
	case "requested", "1":
		return LoanRequested, true
	case "active", "2":
		return LoanActive, true
	case "returned", "3":
		return LoanReturned, true
	case "overdue", "4":
		return LoanOverdue, true
	}
	return 0, false
}

type ReservationState int

const (
	ReservationPending   ReservationState = 1
	ReservationNotified  ReservationState = 2
	ReservationCancelled ReservationState = 3
	ReservationExpired   ReservationState = 4
)

var reservationNext = map[ReservationState]map[ReservationState]bool{
	ReservationPending:   {ReservationNotified: true, ReservationCancelled: true},
	ReservationNotified:  {ReservationExpired: true, ReservationCancelled: true},
	ReservationCancelled: {},
	ReservationExpired:   {},
}

func (s ReservationState) CanTransition(to ReservationState) bool { return reservationNext[s][to] }

func (s ReservationState) Terminal() bool {
	return s == ReservationCancelled || s == ReservationExpired
}

func (s ReservationState) String() string {
	switch s {
	case ReservationPending:
		return "pending"
	case ReservationNotified:
		return "notified"
	case ReservationCancelled:
		return "cancelled"
	case ReservationExpired:
		return "expired"
	}
	return "unknown(" + strconv.Itoa(int(s)) + ")"
}

func ParseReservationState(s string) (ReservationState, bool) {
	switch s {
	case "pending", "1":
		return ReservationPending, true
	case "notified", "2":
		return ReservationNotified, true
	case "cancelled", "3":
		return ReservationCancelled, true
	case "expired", "4":
		return ReservationExpired, true
	}
	return 0, false
}
