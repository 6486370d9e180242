package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-shop-checkout.git/internal/redisx"
)

type Store struct{ DB *pgxpool.Pool }

func (s *Store) Insert(ctx context.Context, ev Event) error {
	oldV, _ := json.Marshal(ev.OldValues)
	newV, _ := json.Marshal(ev.NewValues)
	meta, _ := json.Marshal(ev.Metadata)
	_, err := s.DB.Exec(ctx, `
		INSERT INTO audit_logs(id, event, auditable_type, auditable_id, user_id,
		                       old_values, new_values, metadata, occurred_at)
		VALUES ($1,$2,$3,$4,NULLIF($5,''),$6,$7,$8,$9)
		ON CONFLICT (id) DO NOTHING`,
		ev.EventID, ev.Event, ev.EntityType, ev.EntityID, ev.UserID,
		oldV, newV, meta, ev.OccurredAt)
	return err
}

// Worker konsumsi topic audit dan persist ke audit_logs.
type Worker struct {
	Store *Store
	Redis *redis.Client
}

// HandleMessage dipasang sebagai handler consumer kafka.
func (w *Worker) HandleMessage(ctx context.Context, m kafkago.Message) error {
	var ev Event
	if err := json.Unmarshal(m.Value, &ev); err != nil {
		return fmt.Errorf("decode audit event: %w", err)
	}
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}

	// dedup via Redis; insert juga idempotent lewat ON CONFLICT
	dkey := fmt.Sprintf(redisx.KeyDedupAudit, ev.EventID)
	if exists, _ := redisx.Exists(ctx, w.Redis, dkey); exists {
		return nil
	}
	if err := w.Store.Insert(ctx, ev); err != nil {
		return err
	}
	_ = w.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err()
	return nil
}
