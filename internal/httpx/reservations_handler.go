package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Miguel4950/g4-prestamos-backend/internal/loans"
)

type ReservationService interface {
	Create(ctx context.Context, requesterID, itemID string) (loans.Reservation, error)
	Cancel(ctx context.Context, reservationID, callerID string, privileged bool) (loans.Reservation, error)
	Mine(ctx context.Context, requesterID string) ([]loans.Reservation, error)
	List(ctx context.Context, state *loans.ReservationState) ([]loans.Reservation, error)
}

type ReservationsHandler struct {
	Queue ReservationService
}

type createReservationReq struct {
	ItemID string `json:"item_id"`
}

func (h *ReservationsHandler) Register(r *chi.Mux) {
	r.Group(func(r chi.Router) {
		r.Use(WithCaller)
		r.Post("/reservations", h.createReservation)
		r.Get("/reservations", h.listReservations)
		r.Get("/reservations/my-reservations", h.myReservations)
		r.Post("/reservations/{id}/cancel", h.cancelReservation)
	})
}

func (h *ReservationsHandler) createReservation(w http.ResponseWriter, r *http.Request) {
	var req createReservationReq
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

	res, err := h.Queue.Create(ctx, CallerFrom(ctx).ID, req.ItemID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *ReservationsHandler) cancelReservation(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	caller := CallerFrom(ctx)
	res, err := h.Queue.Cancel(ctx, chi.URLParam(r, "id"), caller.ID, caller.Privileged)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *ReservationsHandler) myReservations(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	out, err := h.Queue.Mine(ctx, CallerFrom(ctx).ID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *ReservationsHandler) listReservations(w http.ResponseWriter, r *http.Request) {
	if !CallerFrom(r.Context()).Privileged {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "privileged callers only"})
		return
	}
	var state *loans.ReservationState
	if s := r.URL.Query().Get("state"); s != "" {
		parsed, ok := loans.ParseReservationState(s)
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown reservation state: " + s})
			return
		}
		state = &parsed
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	out, err := h.Queue.List(ctx, state)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
