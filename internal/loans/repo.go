package loans

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type LoanRepo struct{ DB *pgxpool.Pool }

const loanColumns = `id, borrower_id, item_id, state, requested_at, due_at, returned_at`

func scanLoan(row pgx.Row) (Loan, error) {
	var l Loan
	err := row.Scan(&l.ID, &l.BorrowerID, &l.ItemID, &l.State, &l.RequestedAt, &l.DueAt, &l.ReturnedAt)
	return l, err
}

func (r *LoanRepo) ItemExists(ctx context.Context, itemID string) (bool, error) {
	var exists bool
	err := r.DB.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM items WHERE id=$1)`, itemID).Scan(&exists)
	return exists, err
}

func (r *LoanRepo) Get(ctx context.Context, id string) (Loan, error) {
	l, err := scanLoan(r.DB.QueryRow(ctx, `SELECT `+loanColumns+` FROM loans WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Loan{}, Errf(KindNotFound, "loan %s not found", id)
	}
	return l, err
}

// Create runs the request saga's local half in one transaction. An advisory
// lock on the borrower serializes concurrent requests so two of them cannot
// both pass the limit check and both commit.
func (r *LoanRepo) Create(ctx context.Context, loan Loan, guard func(active []Loan) error, reserve func(ctx context.Context) error) (Loan, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Loan{}, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, loan.BorrowerID); err != nil {
		return Loan{}, err
	}

	rows, err := tx.Query(ctx, `SELECT `+loanColumns+` FROM loans
		WHERE borrower_id=$1 AND state IN ($2,$3,$4)`,
		loan.BorrowerID, LoanRequested, LoanActive, LoanOverdue)
	if err != nil {
		return Loan{}, err
	}
	active, err := collectLoans(rows)
	if err != nil {
		return Loan{}, err
	}

	if err := guard(active); err != nil {
		return Loan{}, err
	}
	if err := reserve(ctx); err != nil {
		return Loan{}, err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO loans(id, borrower_id, item_id, state, requested_at, due_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$5)`,
		loan.ID, loan.BorrowerID, loan.ItemID, loan.State, loan.RequestedAt, loan.DueAt); err != nil {
		return Loan{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Loan{}, err
	}
	return loan, nil
}

func (r *LoanRepo) Update(ctx context.Context, id string, apply func(Loan) (Loan, error), effect func(ctx context.Context, l Loan) error) (Loan, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Loan{}, err
	}
	defer tx.Rollback(ctx)

	l, err := scanLoan(tx.QueryRow(ctx, `SELECT `+loanColumns+` FROM loans WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Loan{}, Errf(KindNotFound, "loan %s not found", id)
	}
	if err != nil {
		return Loan{}, err
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

	if _, err := tx.Exec(ctx, `
		UPDATE loans SET state=$2, due_at=$3, returned_at=$4, updated_at=now()
		WHERE id=$1`,
		updated.ID, updated.State, updated.DueAt, updated.ReturnedAt); err != nil {
		return Loan{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Loan{}, err
	}
	return updated, nil
}

// ListByBorrower returns the borrower's non-terminal loans, overdue included.
func (r *LoanRepo) ListByBorrower(ctx context.Context, borrowerID string) ([]Loan, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+loanColumns+` FROM loans
		WHERE borrower_id=$1 AND state IN ($2,$3,$4)
		ORDER BY requested_at`,
		borrowerID, LoanRequested, LoanActive, LoanOverdue)
	if err != nil {
		return nil, err
	}
	return collectLoans(rows)
}

func (r *LoanRepo) List(ctx context.Context, state *LoanState) ([]Loan, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if state == nil {
		rows, err = r.DB.Query(ctx, `SELECT `+loanColumns+` FROM loans ORDER BY requested_at DESC`)
	} else {
		rows, err = r.DB.Query(ctx, `SELECT `+loanColumns+` FROM loans WHERE state=$1 ORDER BY requested_at DESC`, *state)
	}
	if err != nil {
		return nil, err
	}
	return collectLoans(rows)
}

// MarkOverdue is the overdue sweep: a single indexed range update, cheap to
// re-run and safe under concurrency.
func (r *LoanRepo) MarkOverdue(ctx context.Context, now time.Time) (int64, error) {
	ct, err := r.DB.Exec(ctx, `
		UPDATE loans SET state=$1, updated_at=now()
		WHERE state IN ($2,$3) AND due_at < $4`,
		LoanOverdue, LoanRequested, LoanActive, now)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

func collectLoans(rows pgx.Rows) ([]Loan, error) {
	defer rows.Close()
	var out []Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
