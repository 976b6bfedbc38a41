package loans

import (
	"context"
	"errors"
	"log"
	"math"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/Miguel4950/g4-prestamos-backend/internal/policy"
)

// Catalog is the outbound availability contract. Decrement and Increment
// report plain success or failure; the engine treats every failure mode the
// same way (no local mutation).
type Catalog interface {
	Availability(ctx context.Context, itemID string) (int, error)
	Decrement(ctx context.Context, itemID string) bool
	Increment(ctx context.Context, itemID string) bool
}

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

type ConfigSource interface {
	GetInt(ctx context.Context, key string, fallback int) (int, error)
}

// LoanStore persists loans. Multi-step operations run inside one storage
// transaction; the guard and effect hooks run within that transaction so
// business checks see a consistent snapshot and the remote call sits between
// validation and commit.
type LoanStore interface {
	Get(ctx context.Context, id string) (Loan, error)
	ItemExists(ctx context.Context, itemID string) (bool, error)
	// Create locks the borrower's loan scope, loads their non-terminal loans
	// for guard, runs reserve (the remote decrement), then inserts.
	Create(ctx context.Context, loan Loan, guard func(active []Loan) error, reserve func(ctx context.Context) error) (Loan, error)
	// Update loads the loan under a row lock, applies the transition, runs
	// effect (if any) on the applied loan before commit, and persists it.
	Update(ctx context.Context, id string, apply func(Loan) (Loan, error), effect func(ctx context.Context, l Loan) error) (Loan, error)
	ListByBorrower(ctx context.Context, borrowerID string) ([]Loan, error)
	List(ctx context.Context, state *LoanState) ([]Loan, error)
	MarkOverdue(ctx context.Context, now time.Time) (int64, error)
}

// Engine owns the loan state machine and the reservation saga against the
// Catalog. A successful return triggers a best-effort notification of the
// item's wait-list head.
type Engine struct {
	Store   LoanStore
	Catalog Catalog
	Config  ConfigSource
	Queue   *Queue

	now func() time.Time
}

func NewEngine(store LoanStore, cat Catalog, cfg ConfigSource, queue *Queue) *Engine {
	return &Engine{Store: store, Catalog: cat, Config: cfg, Queue: queue, now: time.Now}
}

// Request creates a loan in state Requested. Business checks run before any
// remote side effect; the Catalog decrement runs inside the storage
// transaction between validation and commit, and a failure after a
// successful decrement is compensated with one best-effort increment.
func (e *Engine) Request(ctx context.Context, borrowerID, itemID string) (Loan, error) {
	exists, err := e.Store.ItemExists(ctx, itemID)
	if err != nil {
		return Loan{}, err
	}
	if !exists {
		return Loan{}, Errf(KindUnknownItem, "item %s does not exist", itemID)
	}

	// limits must be evaluated against fresh overdue state
	if err := e.SweepOverdue(ctx); err != nil {
		return Loan{}, err
	}

	maxLoans, err := cfgInt(ctx, e.Config, policy.KeyMaxSimultaneousLoans, math.MaxInt32)
	if err != nil {
		return Loan{}, err
	}
	periodDays, err := cfgInt(ctx, e.Config, policy.KeyLoanPeriodDays, 14)
	if err != nil {
		return Loan{}, err
	}

	now := e.now()
	loan := Loan{
		ID:          uuid.NewString(),
		BorrowerID:  borrowerID,
		ItemID:      itemID,
		State:       LoanRequested,
		RequestedAt: now,
		DueAt:       now.AddDate(0, 0, periodDays),
	}

	guard := func(active []Loan) error {
		for _, l := range active {
			if l.State == LoanOverdue {
				return Errf(KindOverdueBlock, "borrower %s has overdue loans", borrowerID)
			}
		}
		if len(active) >= maxLoans {
			return Errf(KindLimitReached, "limit of %d simultaneous loans reached", maxLoans)
		}
		return nil
	}

	reserved := false
	reserve := func(ctx context.Context) error {
		if !e.Catalog.Decrement(ctx, itemID) {
			return Errf(KindItemUnavailable, "item %s is not available in the catalog", itemID)
		}
		reserved = true
		return nil
	}

	created, err := e.Store.Create(ctx, loan, guard, reserve)
	if err != nil {
		if reserved {
			// the unit was taken remotely but the local commit failed;
			// give it back, and log loudly if even that fails
			if e.Catalog.Increment(ctx, itemID) {
				log.Printf("loan request for item %s failed after decrement, compensated: %v", itemID, err)
			} else {
				log.Printf("loan request for item %s failed after decrement and compensation failed, counter may drift by one: %v", itemID, err)
			}
		}
		return Loan{}, err
	}
	return created, nil
}

// Approve moves a loan from Requested to Active. Privileged callers only;
// the handler layer enforces that.
func (e *Engine) Approve(ctx context.Context, loanID string) (Loan, error) {
	return e.Store.Update(ctx, loanID, func(l Loan) (Loan, error) {
		if l.State != LoanRequested {
			return Loan{}, Errf(KindInvalidTransition, "loan %s is %s, only requested loans can be approved", l.ID, l.State)
		}
		l.State = LoanActive
		return l, nil
	}, nil)
}

// Return closes a loan. The Catalog increment runs before the local commit;
// if it fails the whole operation fails and nothing changes locally, because
// losing a unit silently is worse than blocking the return. A successful
// return then offers the freed unit to the item's wait-list head; that
// follow-on is best-effort and never undoes the return.
func (e *Engine) Return(ctx context.Context, loanID, callerID string, privileged bool) (Loan, error) {
	if err := e.SweepOverdue(ctx); err != nil {
		return Loan{}, err
	}

	now := e.now()
	returned, err := e.Store.Update(ctx, loanID, func(l Loan) (Loan, error) {
		if !privileged && l.BorrowerID != callerID {
			return Loan{}, Errf(KindForbidden, "caller %s may not return loan %s", callerID, l.ID)
		}
		if l.State == LoanReturned {
			return Loan{}, Errf(KindAlreadyReturned, "loan %s is already returned", l.ID)
		}
		l.State = LoanReturned
		l.ReturnedAt = &now
		return l, nil
	}, func(ctx context.Context, l Loan) error {
		if !e.Catalog.Increment(ctx, l.ItemID) {
			return Errf(KindRemoteUpdateFailed, "could not update availability in the catalog")
		}
		return nil
	})
	if err != nil {
		return Loan{}, err
	}

	if err := e.Queue.NotifyNext(ctx, returned.ItemID); err != nil {
		// a missed notification is recovered by the next sweep or return
		log.Printf("notify next in queue for item %s: %v", returned.ItemID, err)
	}
	return returned, nil
}

// Renew extends an active loan's due date once: dueAt moves to
// requestedAt + loanPeriod + renewal. A second renewal is detected by the
// due date already sitting past the base period.
func (e *Engine) Renew(ctx context.Context, loanID, callerID string, privileged bool) (Loan, error) {
	periodDays, err := cfgInt(ctx, e.Config, policy.KeyLoanPeriodDays, 14)
	if err != nil {
		return Loan{}, err
	}
	renewalDays, err := cfgInt(ctx, e.Config, policy.KeyRenewalDays, 7)
	if err != nil {
		return Loan{}, err
	}

	return e.Store.Update(ctx, loanID, func(l Loan) (Loan, error) {
		if !privileged && l.BorrowerID != callerID {
			return Loan{}, Errf(KindForbidden, "caller %s may not renew loan %s", callerID, l.ID)
		}
		if l.State != LoanActive {
			return Loan{}, Errf(KindInvalidTransition, "loan %s is %s, only active loans can be renewed", l.ID, l.State)
		}
		base := l.RequestedAt.AddDate(0, 0, periodDays)
		if l.DueAt.After(base) {
			return Loan{}, Errf(KindAlreadyRenewed, "loan %s was already renewed once", l.ID)
		}
		l.DueAt = base.AddDate(0, 0, renewalDays)
		return l, nil
	}, nil)
}

func (e *Engine) Get(ctx context.Context, loanID string) (Loan, error) {
	return e.Store.Get(ctx, loanID)
}

func (e *Engine) MyLoans(ctx context.Context, borrowerID string) ([]Loan, error) {
	if err := e.SweepOverdue(ctx); err != nil {
		return nil, err
	}
	return e.Store.ListByBorrower(ctx, borrowerID)
}

func (e *Engine) List(ctx context.Context, state *LoanState) ([]Loan, error) {
	if err := e.SweepOverdue(ctx); err != nil {
		return nil, err
	}
	return e.Store.List(ctx, state)
}

func (e *Engine) ListOverdue(ctx context.Context) ([]Loan, error) {
	overdue := LoanOverdue
	return e.List(ctx, &overdue)
}

// SweepOverdue moves every requested or active loan past its due date to
// Overdue. Idempotent; runs at the start of borrower-facing operations
// instead of on a timer so the triggering caller sees fresh state.
func (e *Engine) SweepOverdue(ctx context.Context) error {
	_, err := e.Store.MarkOverdue(ctx, e.now())
	return err
}

func cfgInt(ctx context.Context, cfg ConfigSource, key string, fallback int) (int, error) {
	v, err := cfg.GetInt(ctx, key, fallback)
	if err != nil {
		var iv *policy.InvalidValueError
		if errors.As(err, &iv) {
			return 0, &Error{Kind: KindInvalidConfig, Message: iv.Error()}
		}
		return 0, err
	}
	return v, nil
}
