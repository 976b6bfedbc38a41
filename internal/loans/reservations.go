package loans

import (
	"context"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/Miguel4950/g4-prestamos-backend/internal/kafka"
	"github.com/Miguel4950/g4-prestamos-backend/internal/policy"
)

// ReservationStore persists wait-list entries. Uniqueness of the active
// (requester, item) pair and of the Notified slot per item is enforced at
// the storage level, not in memory.
type ReservationStore interface {
	Get(ctx context.Context, id string) (Reservation, error)
	// Create inserts a Pending reservation; a conflicting active reservation
	// for the same (requester, item) surfaces as KindDuplicateReservation.
	Create(ctx context.Context, r Reservation) (Reservation, error)
	Update(ctx context.Context, id string, apply func(Reservation) (Reservation, error)) (Reservation, error)
	// NotifyNext picks the oldest Pending reservation for the item under a
	// row lock and marks it Notified. ok is false when the queue is empty.
	NotifyNext(ctx context.Context, itemID string, now time.Time) (r Reservation, ok bool, err error)
	ListByRequester(ctx context.Context, requesterID string) ([]Reservation, error)
	List(ctx context.Context, state *ReservationState) ([]Reservation, error)
	ExpireNotifiedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Queue owns the per-item FIFO wait-list. Reservations are a wait-list, not
// a hold: expiring one never touches the Catalog counter, the unit simply
// stays claimable by the next reservation or direct loan.
type Queue struct {
	Store    ReservationStore
	Catalog  Catalog
	Config   ConfigSource
	Producer Publisher
	Service  string

	now func() time.Time
}

func NewQueue(store ReservationStore, cat Catalog, cfg ConfigSource, producer Publisher, service string) *Queue {
	return &Queue{Store: store, Catalog: cat, Config: cfg, Producer: producer, Service: service, now: time.Now}
}

// Create places a reservation for an exhausted item. Fails StillAvailable
// while the Catalog reports units on the shelf.
func (q *Queue) Create(ctx context.Context, requesterID, itemID string) (Reservation, error) {
	if err := q.SweepExpired(ctx); err != nil {
		return Reservation{}, err
	}

	avail, err := q.Catalog.Availability(ctx, itemID)
	if err != nil {
		return Reservation{}, Errf(KindUnknownItem, "item %s not found in the catalog", itemID)
	}
	if avail > 0 {
		return Reservation{}, Errf(KindStillAvailable, "item %s still has %d available units, no reservation needed", itemID, avail)
	}

	now := q.now()
	return q.Store.Create(ctx, Reservation{
		ID:          uuid.NewString(),
		RequesterID: requesterID,
		ItemID:      itemID,
		State:       ReservationPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

// Cancel is idempotent once the reservation is Cancelled.
func (q *Queue) Cancel(ctx context.Context, reservationID, callerID string, privileged bool) (Reservation, error) {
	if err := q.SweepExpired(ctx); err != nil {
		return Reservation{}, err
	}

	now := q.now()
	return q.Store.Update(ctx, reservationID, func(r Reservation) (Reservation, error) {
		if !privileged && r.RequesterID != callerID {
			return Reservation{}, Errf(KindForbidden, "caller %s may not cancel reservation %s", callerID, r.ID)
		}
		if r.State == ReservationCancelled {
			return r, nil
		}
		if !r.State.CanTransition(ReservationCancelled) {
			return Reservation{}, Errf(KindInvalidTransition, "reservation %s is %s and cannot be cancelled", r.ID, r.State)
		}
		r.State = ReservationCancelled
		r.UpdatedAt = now
		return r, nil
	})
}

// NotifyNext promotes the queue head to Notified and publishes the
// notification event. It runs after a return has already incremented the
// Catalog counter, so availability is not re-checked here.
func (q *Queue) NotifyNext(ctx context.Context, itemID string) error {
	if err := q.SweepExpired(ctx); err != nil {
		return err
	}

	next, ok, err := q.Store.NotifyNext(ctx, itemID, q.now())
	if err != nil || !ok {
		return err
	}

	ev := Envelope{
		EventID:       uuid.NewString(),
		EventType:     EventReservationNotified,
		EventVersion:  1,
		OccurredAt:    q.now().UTC(),
		Producer:      q.Service,
		TraceID:       middleware.GetReqID(ctx),
		CorrelationID: next.ID,
		Payload: kafka.MustMarshal(ReservationNotifiedPayload{
			ReservationID: next.ID,
			RequesterID:   next.RequesterID,
			ItemID:        next.ItemID,
		}),
	}
	q.Producer.Publish(PartitionKey(itemID), kafka.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(EventReservationNotified)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
	return nil
}

// SweepExpired expires Notified reservations whose window has elapsed,
// freeing the implicit claim a slow requester holds on the next unit.
func (q *Queue) SweepExpired(ctx context.Context) error {
	hours, err := cfgInt(ctx, q.Config, policy.KeyReservationExpHours, 48)
	if err != nil {
		return err
	}
	cutoff := q.now().Add(-time.Duration(hours) * time.Hour)
	_, err = q.Store.ExpireNotifiedBefore(ctx, cutoff)
	return err
}

func (q *Queue) Mine(ctx context.Context, requesterID string) ([]Reservation, error) {
	if err := q.SweepExpired(ctx); err != nil {
		return nil, err
	}
	return q.Store.ListByRequester(ctx, requesterID)
}

func (q *Queue) List(ctx context.Context, state *ReservationState) ([]Reservation, error) {
	if err := q.SweepExpired(ctx); err != nil {
		return nil, err
	}
	return q.Store.List(ctx, state)
}
