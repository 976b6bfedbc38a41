package loans

import (
	"context"
	"sort"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

// In-memory stand-ins following the same guard/reserve/effect protocol as
// the pgx repositories.

type memLoanStore struct {
	mu    sync.Mutex
	loans map[string]Loan
	items map[string]bool
	// createErr fails Create after guard and reserve have run, simulating a
	// persistence failure past the remote decrement.
	createErr error
}

func newMemLoanStore(items ...string) *memLoanStore {
	s := &memLoanStore{loans: map[string]Loan{}, items: map[string]bool{}}
	for _, it := range items {
		s.items[it] = true
	}
	return s
}

func (s *memLoanStore) Get(_ context.Context, id string) (Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.loans[id]
	if !ok {
		return Loan{}, Errf(KindNotFound, "loan %s not found", id)
	}
	return l, nil
}

func (s *memLoanStore) ItemExists(_ context.Context, itemID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items[itemID], nil
}

func (s *memLoanStore) Create(ctx context.Context, loan Loan, guard func([]Loan) error, reserve func(context.Context) error) (Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var active []Loan
	for _, l := range s.loans {
		if l.BorrowerID == loan.BorrowerID && !l.State.Terminal() {
			active = append(active, l)
		}
	}
	if err := guard(active); err != nil {
		return Loan{}, err
	}
	if err := reserve(ctx); err != nil {
		return Loan{}, err
	}
	if s.createErr != nil {
		return Loan{}, s.createErr
	}
	s.loans[loan.ID] = loan
	return loan, nil
}

func (s *memLoanStore) Update(ctx context.Context, id string, apply func(Loan) (Loan, error), effect func(context.Context, Loan) error) (Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.loans[id]
	if !ok {
		return Loan{}, Errf(KindNotFound, "loan %s not found", id)
	}
	updated, err := apply(l)
	if err != nil {
		return Loan{}, err
	}
	if effect != nil {
		if err := effect(ctx, updated); err != nil {
			return Loan{}, err
		}
	}
	s.loans[id] = updated
	return updated, nil
}

func (s *memLoanStore) ListByBorrower(_ context.Context, borrowerID string) ([]Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Loan
	for _, l := range s.loans {
		if l.BorrowerID == borrowerID && !l.State.Terminal() {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out, nil
}

func (s *memLoanStore) List(_ context.Context, state *LoanState) ([]Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Loan
	for _, l := range s.loans {
		if state == nil || l.State == *state {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out, nil
}

func (s *memLoanStore) MarkOverdue(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, l := range s.loans {
		if (l.State == LoanRequested || l.State == LoanActive) && l.DueAt.Before(now) {
			l.State = LoanOverdue
			s.loans[id] = l
			n++
		}
	}
	return n, nil
}

func (s *memLoanStore) put(l Loan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loans[l.ID] = l
}

type memReservationStore struct {
	mu  sync.Mutex
	res map[string]Reservation
}

func newMemReservationStore() *memReservationStore {
	return &memReservationStore{res: map[string]Reservation{}}
}

func (s *memReservationStore) Get(_ context.Context, id string) (Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.res[id]
	if !ok {
		return Reservation{}, Errf(KindNotFound, "reservation %s not found", id)
	}
	return r, nil
}

func (s *memReservationStore) Create(_ context.Context, r Reservation) (Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.res {
		if existing.RequesterID == r.RequesterID && existing.ItemID == r.ItemID && !existing.State.Terminal() {
			return Reservation{}, Errf(KindDuplicateReservation,
				"requester %s already has an active reservation for item %s", r.RequesterID, r.ItemID)
		}
	}
	s.res[r.ID] = r
	return r, nil
}

func (s *memReservationStore) Update(_ context.Context, id string, apply func(Reservation) (Reservation, error)) (Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.res[id]
	if !ok {
		return Reservation{}, Errf(KindNotFound, "reservation %s not found", id)
	}
	updated, err := apply(r)
	if err != nil {
		return Reservation{}, err
	}
	s.res[id] = updated
	return updated, nil
}

func (s *memReservationStore) NotifyNext(_ context.Context, itemID string, now time.Time) (Reservation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pending []Reservation
	for _, r := range s.res {
		if r.ItemID == itemID && r.State == ReservationPending {
			pending = append(pending, r)
		}
	}
	if len(pending) == 0 {
		return Reservation{}, false, nil
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
	head := pending[0]
	head.State = ReservationNotified
	head.UpdatedAt = now
	s.res[head.ID] = head
	return head, true, nil
}

func (s *memReservationStore) ListByRequester(_ context.Context, requesterID string) ([]Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Reservation
	for _, r := range s.res {
		if r.RequesterID == requesterID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memReservationStore) List(_ context.Context, state *ReservationState) ([]Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Reservation
	for _, r := range s.res {
		if state == nil || r.State == *state {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memReservationStore) ExpireNotifiedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, r := range s.res {
		if r.State == ReservationNotified && r.UpdatedAt.Before(cutoff) {
			r.State = ReservationExpired
			s.res[id] = r
			n++
		}
	}
	return n, nil
}

type fakeCatalog struct {
	mu       sync.Mutex
	avail    map[string]int
	availErr error
	decFail  bool
	incFail  bool
	decCalls int
	incCalls int
}

func newFakeCatalog() *fakeCatalog { return &fakeCatalog{avail: map[string]int{}} }

func (c *fakeCatalog) Availability(_ context.Context, itemID string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.availErr != nil {
		return 0, c.availErr
	}
	return c.avail[itemID], nil
}

func (c *fakeCatalog) Decrement(_ context.Context, itemID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decCalls++
	if c.decFail || c.avail[itemID] <= 0 {
		return false
	}
	c.avail[itemID]--
	return true
}

func (c *fakeCatalog) Increment(_ context.Context, itemID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.incCalls++
	if c.incFail {
		return false
	}
	c.avail[itemID]++
	return true
}

type fakePublisher struct {
	mu     sync.Mutex
	keys   [][]byte
	values [][]byte
}

func (p *fakePublisher) Publish(key, value []byte, _ ...kafkago.Header) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	p.values = append(p.values, value)
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.values)
}

type fakeConfig map[string]int

func (c fakeConfig) GetInt(_ context.Context, key string, fallback int) (int, error) {
	if v, ok := c[key]; ok {
		return v, nil
	}
	return fallback, nil
}
