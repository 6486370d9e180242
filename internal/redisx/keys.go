package redisx

import "time"

const (
	// Dedup callback 3DS per gateway payment id: dedup:callback:{payment_id}
	KeyDedupCallback = "dedup:callback:%s"

	// Dedup webhook per event id: dedup:webhook:{event_id}
	KeyDedupWebhook = "dedup:webhook:%s"

	// Dedup consumer audit worker: dedup:audit:{event_id}
	KeyDedupAudit = "dedup:audit:%s"

	// Cache status order: order_status:{order_number} -> {"status":"...","payment_status":"..."}
	KeyOrderStatus = "order_status:%s"
)

var (
	TTLDedup       = 48 * time.Hour
	TTLStatusCache = 5 * time.Minute
)
