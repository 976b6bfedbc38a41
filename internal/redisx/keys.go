package redisx

import "time"

const (
	// Policy knobs read by the config cache: policy:{key} -> integer string.
	// Written by operators; the process memoizes the first read, so changing
	// a value requires a restart to take effect.
	KeyPolicy = "policy:%s"

	// Read-through cache for loan lookups: loan:{loan_id} -> loan JSON.
	KeyLoan = "loan:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLLoanCache = 5 * time.Minute
	TTLDedup     = 48 * time.Hour
)
