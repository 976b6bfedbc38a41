package policy

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// Knob keys. Values are small integers maintained by operators.
const (
	KeyMaxSimultaneousLoans = "max_simultaneous_loans"
	KeyLoanPeriodDays       = "loan_period_days"
	KeyRenewalDays          = "renewal_days"
	KeyReservationExpHours  = "reservation_expiration_hours"
)

// InvalidValueError reports a stored knob that does not parse as an integer.
// It is surfaced to the operator instead of silently falling back.
type InvalidValueError struct {
	Key string
	Raw string
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("invalid value for config %q: %q", e.Key, e.Raw)
}

// Store is the key-value source the cache reads from. ok=false means the key
// is absent, which is not an error.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
}

// Cache memoizes integer policy knobs for the process lifetime: the first
// successful lookup per key wins, including a lookup that falls back because
// the key is absent. There is no invalidation path; a restart picks up
// changed values. A stored value that does not parse as an integer is an
// operator error and is surfaced on every call, never cached.
type Cache struct {
	store Store

	mu     sync.RWMutex
	values map[string]int
}

func NewCache(store Store) *Cache {
	return &Cache{store: store, values: make(map[string]int)}
}

func (c *Cache) GetInt(ctx context.Context, key string, fallback int) (int, error) {
	c.mu.RLock()
	v, ok := c.values[key]
	c.mu.RUnlock()
	if ok {
		return v, nil
	}

	raw, found, err := c.store.Get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("read config %q: %w", key, err)
	}
	v = fallback
	if found {
		v, err = strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return 0, &InvalidValueError{Key: key, Raw: raw}
		}
	}

	c.mu.Lock()
	// another goroutine may have raced us here; first write wins
	if prev, ok := c.values[key]; ok {
		v = prev
	} else {
		c.values[key] = v
	}
	c.mu.Unlock()
	return v, nil
}
