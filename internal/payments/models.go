package payments

import (
	"time"

	"github.com/ariefcatur/go-shop-checkout.git/internal/orders"
)

// Payment: satu attempt pembayaran. Order boleh punya beberapa attempt,
// maksimal satu yang captured.
type Payment struct {
	ID                   string
	OrderID              string
	Gateway              string
	GatewayTransactionID string
	Status               orders.PaymentStatus
	AmountCents          int64
	Currency             string
	GatewayResponse      string // raw body terakhir dari gateway
	Metadata             orders.Metadata

	AuthorizedAt *time.Time
	CapturedAt   *time.Time
	FailedAt     *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
