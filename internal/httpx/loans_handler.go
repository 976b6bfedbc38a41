package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/Miguel4950/g4-prestamos-backend/internal/loans"
	"github.com/Miguel4950/g4-prestamos-backend/internal/redisx"
)

type LoanService interface {
	Request(ctx context.Context, borrowerID, itemID string) (loans.Loan, error)
	Approve(ctx context.Context, loanID string) (loans.Loan, error)
	Return(ctx context.Context, loanID, callerID string, privileged bool) (loans.Loan, error)
	Renew(ctx context.Context, loanID, callerID string, privileged bool) (loans.Loan, error)
	Get(ctx context.Context, loanID string) (loans.Loan, error)
	MyLoans(ctx context.Context, borrowerID string) ([]loans.Loan, error)
	List(ctx context.Context, state *loans.LoanState) ([]loans.Loan, error)
	ListOverdue(ctx context.Context) ([]loans.Loan, error)
}

type LoansHandler struct {
	Engine LoanService
	Redis  *redis.Client
}

type createLoanReq struct {
	ItemID string `json:"item_id"`
}

func (h *LoansHandler) Register(r *chi.Mux) {
	r.Group(func(r chi.Router) {
		r.Use(WithCaller)
		r.Post("/loans", h.createLoan)
		r.Get("/loans", h.listLoans)
		r.Get("/loans/overdue", h.listOverdue)
		r.Get("/loans/my-loans", h.myLoans)
		r.Get("/loans/{id}", h.getLoan)
		r.Post("/loans/{id}/return", h.returnLoan)
		r.Post("/loans/{id}/renew", h.renewLoan)
		r.Post("/loans/{id}/approve", h.approveLoan)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	msg := "internal error"
	switch loans.KindOf(err) {
	case loans.KindNotFound:
		code, msg = http.StatusNotFound, err.Error()
	case loans.KindForbidden:
		code, msg = http.StatusForbidden, err.Error()
	case loans.KindDuplicateReservation:
		code, msg = http.StatusConflict, err.Error()
	case loans.KindRemoteUpdateFailed, loans.KindInvalidConfig:
		code, msg = http.StatusInternalServerError, err.Error()
	case 0:
		// untyped: storage or programming error, keep details out of the response
	default:
		code, msg = http.StatusBadRequest, err.Error()
	}
	writeJSON(w, code, map[string]string{"error": msg})
}

func (h *LoansHandler) createLoan(w http.ResponseWriter, r *http.Request) {
	var req createLoanReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.ItemID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing item_id"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	caller := CallerFrom(ctx)
	loan, err := h.Engine.Request(ctx, caller.ID, req.ItemID)
	if err != nil {
		writeErr(w, err)
		return
	}
	h.cacheLoan(ctx, loan)
	writeJSON(w, http.StatusCreated, loan)
}

func (h *LoansHandler) getLoan(w http.ResponseWriter, r *http.Request) {
	loanID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// cache first; mutations overwrite the entry
	key := fmt.Sprintf(redisx.KeyLoan, loanID)
	if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
		writeJSON(w, http.StatusOK, json.RawMessage(s))
		return
	}

	loan, err := h.Engine.Get(ctx, loanID)
	if err != nil {
		writeErr(w, err)
		return
	}
	h.cacheLoan(ctx, loan)
	writeJSON(w, http.StatusOK, loan)
}

func (h *LoansHandler) myLoans(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	out, err := h.Engine.MyLoans(ctx, CallerFrom(ctx).ID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *LoansHandler) listLoans(w http.ResponseWriter, r *http.Request) {
	if !CallerFrom(r.Context()).Privileged {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "privileged callers only"})
		return
	}
	var state *loans.LoanState
	if s := r.URL.Query().Get("state"); s != "" {
		parsed, ok := loans.ParseLoanState(s)
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown loan state: " + s})
			return
		}
		state = &parsed
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	out, err := h.Engine.List(ctx, state)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *LoansHandler) listOverdue(w http.ResponseWriter, r *http.Request) {
	if !CallerFrom(r.Context()).Privileged {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "privileged callers only"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	out, err := h.Engine.ListOverdue(ctx)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *LoansHandler) returnLoan(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	caller := CallerFrom(ctx)
	loan, err := h.Engine.Return(ctx, chi.URLParam(r, "id"), caller.ID, caller.Privileged)
	if err != nil {
		writeErr(w, err)
		return
	}
	h.cacheLoan(ctx, loan)
	writeJSON(w, http.StatusOK, loan)
}

func (h *LoansHandler) renewLoan(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	caller := CallerFrom(ctx)
	loan, err := h.Engine.Renew(ctx, chi.URLParam(r, "id"), caller.ID, caller.Privileged)
	if err != nil {
		writeErr(w, err)
		return
	}
	h.cacheLoan(ctx, loan)
	writeJSON(w, http.StatusOK, loan)
}

func (h *LoansHandler) approveLoan(w http.ResponseWriter, r *http.Request) {
	if !CallerFrom(r.Context()).Privileged {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "privileged callers only"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	loan, err := h.Engine.Approve(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	h.cacheLoan(ctx, loan)
	writeJSON(w, http.StatusOK, loan)
}

func (h *LoansHandler) cacheLoan(ctx context.Context, loan loans.Loan) {
	b, err := json.Marshal(loan)
	if err != nil {
		return
	}
	_ = h.Redis.Set(ctx, fmt.Sprintf(redisx.KeyLoan, loan.ID), b, redisx.TTLLoanCache).Err()
}
