package loans

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ReservationRepo struct{ DB *pgxpool.Pool }

const reservationColumns = `id, requester_id, item_id, state, created_at, updated_at`

func scanReservation(row pgx.Row) (Reservation, error) {
	var r Reservation
	err := row.Scan(&r.ID, &r.RequesterID, &r.ItemID, &r.State, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func (s *ReservationRepo) Get(ctx context.Context, id string) (Reservation, error) {
	r, err := scanReservation(s.DB.QueryRow(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Reservation{}, Errf(KindNotFound, "reservation %s not found", id)
	}
	return r, err
}

// Create relies on the partial unique index over active (requester, item)
// pairs; a conflict means the requester already waits for this item.
func (s *ReservationRepo) Create(ctx context.Context, r Reservation) (Reservation, error) {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO reservations(id, requester_id, item_id, state, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		r.ID, r.RequesterID, r.ItemID, r.State, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Reservation{}, Errf(KindDuplicateReservation,
				"requester %s already has an active reservation for item %s", r.RequesterID, r.ItemID)
		}
		return Reservation{}, err
	}
	return r, nil
}

func (s *ReservationRepo) Update(ctx context.Context, id string, apply func(Reservation) (Reservation, error)) (Reservation, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Reservation{}, err
	}
	defer tx.Rollback(ctx)

	r, err := scanReservation(tx.QueryRow(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Reservation{}, Errf(KindNotFound, "reservation %s not found", id)
	}
	if err != nil {
		return Reservation{}, err
	}

	updated, err := apply(r)
	if err != nil {
		return Reservation{}, err
	}
	if _, err := tx.Exec(ctx, `UPDATE reservations SET state=$2, updated_at=$3 WHERE id=$1`,
		updated.ID, updated.State, updated.UpdatedAt); err != nil {
		return Reservation{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Reservation{}, err
	}
	return updated, nil
}

// NotifyNext takes the oldest Pending entry for the item under a row lock.
// The partial unique index on Notified per item backs the single-Notified
// invariant even if two returns race here.
func (s *ReservationRepo) NotifyNext(ctx context.Context, itemID string, now time.Time) (Reservation, bool, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Reservation{}, false, err
	}
	defer tx.Rollback(ctx)

	r, err := scanReservation(tx.QueryRow(ctx, `
		SELECT `+reservationColumns+` FROM reservations
		WHERE item_id=$1 AND state=$2
		ORDER BY created_at ASC
		LIMIT 1
		FOR UPDATE`, itemID, ReservationPending))
	if errors.Is(err, pgx.ErrNoRows) {
		return Reservation{}, false, nil
	}
	if err != nil {
		return Reservation{}, false, err
	}

	r.State = ReservationNotified
	r.UpdatedAt = now
	if _, err := tx.Exec(ctx, `UPDATE reservations SET state=$2, updated_at=$3 WHERE id=$1`,
		r.ID, r.State, r.UpdatedAt); err != nil {
		return Reservation{}, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Reservation{}, false, err
	}
	return r, true, nil
}

func (s *ReservationRepo) ListByRequester(ctx context.Context, requesterID string) ([]Reservation, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+reservationColumns+` FROM reservations
		WHERE requester_id=$1 ORDER BY created_at`, requesterID)
	if err != nil {
		return nil, err
	}
	return collectReservations(rows)
}

func (s *ReservationRepo) List(ctx context.Context, state *ReservationState) ([]Reservation, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if state == nil {
		rows, err = s.DB.Query(ctx, `SELECT `+reservationColumns+` FROM reservations ORDER BY created_at DESC`)
	} else {
		rows, err = s.DB.Query(ctx, `SELECT `+reservationColumns+` FROM reservations
			WHERE state=$1 ORDER BY created_at DESC`, *state)
	}
	if err != nil {
		return nil, err
	}
	return collectReservations(rows)
}

func (s *ReservationRepo) ExpireNotifiedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE reservations SET state=$1, updated_at=now()
		WHERE state=$2 AND updated_at < $3`,
		ReservationExpired, ReservationNotified, cutoff)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

func collectReservations(rows pgx.Rows) ([]Reservation, error) {
	defer rows.Close()
	var out []Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
