package loans

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Miguel4950/g4-prestamos-backend/internal/policy"
)

var baseTime = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

type engineFixture struct {
	engine    *Engine
	store     *memLoanStore
	resStore  *memReservationStore
	catalog   *fakeCatalog
	publisher *fakePublisher
	config    fakeConfig
	clock     *time.Time
}

func newEngineFixture(items ...string) *engineFixture {
	f := &engineFixture{
		store:     newMemLoanStore(items...),
		resStore:  newMemReservationStore(),
		catalog:   newFakeCatalog(),
		publisher: &fakePublisher{},
		config: fakeConfig{
			policy.KeyMaxSimultaneousLoans: 3,
			policy.KeyLoanPeriodDays:       14,
			policy.KeyRenewalDays:          7,
		},
	}
	now := baseTime
	f.clock = &now
	clock := func() time.Time { return *f.clock }

	queue := NewQueue(f.resStore, f.catalog, f.config, f.publisher, "test")
	queue.now = clock
	f.engine = NewEngine(f.store, f.catalog, f.config, queue)
	f.engine.now = clock
	return f
}

func (f *engineFixture) advance(d time.Duration) { *f.clock = f.clock.Add(d) }

func (f *engineFixture) seedLoan(id, borrower, item string, state LoanState, requestedAt time.Time) Loan {
	l := Loan{
		ID:          id,
		BorrowerID:  borrower,
		ItemID:      item,
		State:       state,
		RequestedAt: requestedAt,
		DueAt:       requestedAt.AddDate(0, 0, 14),
	}
	f.store.put(l)
	return l
}

func TestRequestLoan(t *testing.T) {
	f := newEngineFixture("book-1")
	f.catalog.avail["book-1"] = 2

	loan, err := f.engine.Request(context.Background(), "alice", "book-1")
	require.NoError(t, err)

	assert.Equal(t, LoanRequested, loan.State)
	assert.Equal(t, "alice", loan.BorrowerID)
	assert.Equal(t, baseTime.AddDate(0, 0, 14), loan.DueAt)
	assert.Nil(t, loan.ReturnedAt)
	assert.Equal(t, 1, f.catalog.decCalls)
	assert.Equal(t, 1, f.catalog.avail["book-1"])

	stored, err := f.store.Get(context.Background(), loan.ID)
	require.NoError(t, err)
	assert.Equal(t, loan, stored)
}

func TestRequestLoanUnknownItem(t *testing.T) {
	f := newEngineFixture("book-1")

	_, err := f.engine.Request(context.Background(), "alice", "ghost")
	assert.Equal(t, KindUnknownItem, KindOf(err))
	assert.Zero(t, f.catalog.decCalls)
}

func TestRequestLoanLimitReached(t *testing.T) {
	f := newEngineFixture("book-1", "book-2", "book-3", "book-4")
	f.catalog.avail["book-4"] = 5
	f.seedLoan("l1", "alice", "book-1", LoanActive, baseTime)
	f.seedLoan("l2", "alice", "book-2", LoanActive, baseTime)
	f.seedLoan("l3", "alice", "book-3", LoanRequested, baseTime)

	_, err := f.engine.Request(context.Background(), "alice", "book-4")
	assert.Equal(t, KindLimitReached, KindOf(err))
	// rejected before any remote side effect
	assert.Zero(t, f.catalog.decCalls)
	assert.Equal(t, 5, f.catalog.avail["book-4"])
}

func TestRequestLoanReturnedLoansDoNotCount(t *testing.T) {
	f := newEngineFixture("book-1", "book-2", "book-3", "book-4")
	f.catalog.avail["book-4"] = 1
	returnedAt := baseTime
	for i, id := range []string{"l1", "l2", "l3"} {
		l := f.seedLoan(id, "alice", []string{"book-1", "book-2", "book-3"}[i], LoanReturned, baseTime.AddDate(0, 0, -20))
		l.ReturnedAt = &returnedAt
		f.store.put(l)
	}

	_, err := f.engine.Request(context.Background(), "alice", "book-4")
	assert.NoError(t, err)
}

func TestRequestLoanOverdueBlock(t *testing.T) {
	f := newEngineFixture("book-1", "book-2")
	f.catalog.avail["book-2"] = 1
	// active loan whose due date has passed; the sweep at the start of the
	// request must see it as overdue
	f.seedLoan("l1", "alice", "book-1", LoanActive, baseTime.AddDate(0, 0, -30))

	_, err := f.engine.Request(context.Background(), "alice", "book-2")
	assert.Equal(t, KindOverdueBlock, KindOf(err))
	assert.Zero(t, f.catalog.decCalls)

	stored, _ := f.store.Get(context.Background(), "l1")
	assert.Equal(t, LoanOverdue, stored.State)
}

func TestRequestLoanItemUnavailable(t *testing.T) {
	f := newEngineFixture("book-1")
	f.catalog.avail["book-1"] = 0

	_, err := f.engine.Request(context.Background(), "alice", "book-1")
	assert.Equal(t, KindItemUnavailable, KindOf(err))
	assert.Zero(t, f.catalog.incCalls)

	all, _ := f.store.List(context.Background(), nil)
	assert.Empty(t, all)
}

func TestRequestLoanCompensatesOnPersistFailure(t *testing.T) {
	f := newEngineFixture("book-1")
	f.catalog.avail["book-1"] = 1
	f.store.createErr = errors.New("disk full")

	_, err := f.engine.Request(context.Background(), "alice", "book-1")
	require.Error(t, err)

	// exactly one compensating increment, counter back where it started
	assert.Equal(t, 1, f.catalog.decCalls)
	assert.Equal(t, 1, f.catalog.incCalls)
	assert.Equal(t, 1, f.catalog.avail["book-1"])

	all, _ := f.store.List(context.Background(), nil)
	assert.Empty(t, all)
}

func TestRequestLoanInvalidConfig(t *testing.T) {
	f := newEngineFixture("book-1")
	f.catalog.avail["book-1"] = 1
	f.engine.Config = badConfig{}

	_, err := f.engine.Request(context.Background(), "alice", "book-1")
	assert.Equal(t, KindInvalidConfig, KindOf(err))
	assert.Zero(t, f.catalog.decCalls)
}

type badConfig struct{}

func (badConfig) GetInt(_ context.Context, key string, _ int) (int, error) {
	return 0, &policy.InvalidValueError{Key: key, Raw: "banana"}
}

func TestApprove(t *testing.T) {
	f := newEngineFixture("book-1")
	f.seedLoan("l1", "alice", "book-1", LoanRequested, baseTime)

	loan, err := f.engine.Approve(context.Background(), "l1")
	require.NoError(t, err)
	assert.Equal(t, LoanActive, loan.State)

	_, err = f.engine.Approve(context.Background(), "l1")
	assert.Equal(t, KindInvalidTransition, KindOf(err))

	_, err = f.engine.Approve(context.Background(), "missing")
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestReturnLoan(t *testing.T) {
	f := newEngineFixture("book-1")
	f.seedLoan("l1", "alice", "book-1", LoanActive, baseTime)

	loan, err := f.engine.Return(context.Background(), "l1", "alice", false)
	require.NoError(t, err)
	assert.Equal(t, LoanReturned, loan.State)
	require.NotNil(t, loan.ReturnedAt)
	assert.Equal(t, baseTime, *loan.ReturnedAt)
	assert.Equal(t, 1, f.catalog.incCalls)

	_, err = f.engine.Return(context.Background(), "l1", "alice", false)
	assert.Equal(t, KindAlreadyReturned, KindOf(err))
}

func TestReturnLoanForbidden(t *testing.T) {
	f := newEngineFixture("book-1")
	f.seedLoan("l1", "alice", "book-1", LoanActive, baseTime)

	_, err := f.engine.Return(context.Background(), "l1", "mallory", false)
	assert.Equal(t, KindForbidden, KindOf(err))
	assert.Zero(t, f.catalog.incCalls)

	// a privileged caller may return on the borrower's behalf
	loan, err := f.engine.Return(context.Background(), "l1", "admin", true)
	require.NoError(t, err)
	assert.Equal(t, LoanReturned, loan.State)
}

func TestReturnLoanRemoteFailureBlocks(t *testing.T) {
	f := newEngineFixture("book-1")
	f.seedLoan("l1", "alice", "book-1", LoanActive, baseTime)
	f.catalog.incFail = true

	_, err := f.engine.Return(context.Background(), "l1", "alice", false)
	assert.Equal(t, KindRemoteUpdateFailed, KindOf(err))

	stored, _ := f.store.Get(context.Background(), "l1")
	assert.Equal(t, LoanActive, stored.State)
	assert.Nil(t, stored.ReturnedAt)
}

func TestReturnLoanNotifiesQueueHead(t *testing.T) {
	f := newEngineFixture("book-1")
	f.seedLoan("l1", "alice", "book-1", LoanActive, baseTime)

	// bob waits for the exhausted item
	f.catalog.avail["book-1"] = 0
	res, err := f.engine.Queue.Create(context.Background(), "bob", "book-1")
	require.NoError(t, err)

	_, err = f.engine.Return(context.Background(), "l1", "alice", false)
	require.NoError(t, err)

	stored, _ := f.resStore.Get(context.Background(), res.ID)
	assert.Equal(t, ReservationNotified, stored.State)
	assert.Equal(t, 1, f.publisher.count())
}

func TestReturnOverdueLoan(t *testing.T) {
	f := newEngineFixture("book-1")
	f.seedLoan("l1", "alice", "book-1", LoanActive, baseTime.AddDate(0, 0, -30))

	loan, err := f.engine.Return(context.Background(), "l1", "alice", false)
	require.NoError(t, err)
	assert.Equal(t, LoanReturned, loan.State)
}

func TestRenewLoan(t *testing.T) {
	f := newEngineFixture("book-1")
	f.seedLoan("l1", "alice", "book-1", LoanActive, baseTime)

	loan, err := f.engine.Renew(context.Background(), "l1", "alice", false)
	require.NoError(t, err)
	assert.Equal(t, baseTime.AddDate(0, 0, 21), loan.DueAt)

	_, err = f.engine.Renew(context.Background(), "l1", "alice", false)
	assert.Equal(t, KindAlreadyRenewed, KindOf(err))
}

func TestRenewLoanOnlyActive(t *testing.T) {
	f := newEngineFixture("book-1")
	f.seedLoan("l1", "alice", "book-1", LoanRequested, baseTime)

	_, err := f.engine.Renew(context.Background(), "l1", "alice", false)
	assert.Equal(t, KindInvalidTransition, KindOf(err))

	_, err = f.engine.Renew(context.Background(), "l1", "mallory", false)
	assert.Equal(t, KindForbidden, KindOf(err))
}

func TestSweepOverdueIdempotent(t *testing.T) {
	f := newEngineFixture("book-1")
	f.seedLoan("l1", "alice", "book-1", LoanActive, baseTime.AddDate(0, 0, -30))

	require.NoError(t, f.engine.SweepOverdue(context.Background()))
	stored, _ := f.store.Get(context.Background(), "l1")
	assert.Equal(t, LoanOverdue, stored.State)

	// a second sweep finds nothing to do
	n, err := f.store.MarkOverdue(context.Background(), f.engine.now())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMyLoansSweepsFirst(t *testing.T) {
	f := newEngineFixture("book-1")
	f.seedLoan("l1", "alice", "book-1", LoanActive, baseTime.AddDate(0, 0, -30))

	out, err := f.engine.MyLoans(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, LoanOverdue, out[0].State)
}

func TestListOverdue(t *testing.T) {
	f := newEngineFixture("book-1", "book-2")
	f.seedLoan("l1", "alice", "book-1", LoanActive, baseTime.AddDate(0, 0, -30))
	f.seedLoan("l2", "bob", "book-2", LoanActive, baseTime)

	out, err := f.engine.ListOverdue(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "l1", out[0].ID)
}
