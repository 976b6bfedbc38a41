package loans

import (
	"encoding/json"
	"time"
)

const (
	EventReservationNotified = "ReservationNotified"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

type ReservationNotifiedPayload struct {
	ReservationID string `json:"reservation_id"`
	RequesterID   string `json:"requester_id"`
	ItemID        string `json:"item_id"`
}
