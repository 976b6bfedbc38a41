package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/Miguel4950/g4-prestamos-backend/internal/kafka"
	"github.com/Miguel4950/g4-prestamos-backend/internal/loans"
	"github.com/Miguel4950/g4-prestamos-backend/internal/redisx"
)

// Service delivers simulated emails for reservation notifications. Delivery
// is at-least-once from Kafka's point of view; the Redis dedup key keeps a
// redelivered event from producing a second email.
type Service struct {
	Redis       *redis.Client
	ServiceName string
}

// HandleReservationNotified is installed as the consumer handler.
func (s *Service) HandleReservationNotified(ctx context.Context, m kafkago.Message) error {
	var env loans.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}
	if env.EventType != loans.EventReservationNotified {
		return nil
	}

	dkey := fmt.Sprintf(redisx.KeyDedup, s.ServiceName, env.EventID)
	exists, _ := redisx.Exists(ctx, s.Redis, dkey)
	if exists {
		return nil
	}
	_ = s.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err()

	p, err := kafkax.UnwrapPayload[loans.ReservationNotifiedPayload](env.Payload)
	if err != nil {
		return err
	}

	log.Printf("[EMAIL] item %s is available again: notifying requester %s (reservation %s)",
		p.ItemID, p.RequesterID, p.ReservationID)
	return nil
}
