// Package audit: sink event aktivitas (perubahan status order/payment).
// Sink di-inject ke orchestrator & adapter, bukan logger global.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/ariefcatur/go-shop-checkout.git/internal/kafka"
)

const Topic = "audit.activity"

type Event struct {
	EventID    string         `json:"event_id"`
	Event      string         `json:"event"` // e.g. "order_status_changed"
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	UserID     string         `json:"user_id,omitempty"`
	OldValues  map[string]any `json:"old_values,omitempty"`
	NewValues  map[string]any `json:"new_values,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

type Sink interface {
	Record(ctx context.Context, ev Event)
}

// KafkaSink publish ke topic audit; durable-nya diurus worker cmd/auditlog.
type KafkaSink struct {
	Producer *kafkax.Producer
	Service  string
}

func (s *KafkaSink) Record(_ context.Context, ev Event) {
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	s.Producer.Publish([]byte(ev.EntityID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(ev.Event)},
		kafkago.Header{Key: "x-producer", Value: []byte(s.Service)},
	)
}

// NopSink untuk test / jalur yang tidak butuh audit.
type NopSink struct{}

func (NopSink) Record(context.Context, Event) {}
