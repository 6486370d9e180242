package orders

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusPaid       Status = "paid"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:    {StatusPaid: true, StatusCancelled: true},
	StatusPaid:       {StatusProcessing: true, StatusCancelled: true},
	StatusProcessing: {StatusShipped: true, StatusCancelled: true},
	StatusShipped:    {StatusDelivered: true},
	StatusDelivered:  {StatusRefunded: true}, // hanya dalam window refund, cek CanBeRefunded
	StatusCancelled:  {},
	StatusRefunded:   {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func CanBeCancelled(s Status) bool {
	return validNext[s][StatusCancelled]
}

// RefundWindow: order DELIVERED hanya bisa refund maksimal 14 hari setelah diterima.
const RefundWindow = 14 * 24 * time.Hour

func CanBeRefunded(s Status, ps PaymentStatus, deliveredAt *time.Time, now time.Time) bool {
	if s != StatusDelivered || ps != PaymentCaptured || deliveredAt == nil {
		return false
	}
	return now.Sub(*deliveredAt) <= RefundWindow
}

type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentAuthorized PaymentStatus = "authorized"
	PaymentCaptured   PaymentStatus = "captured"
	PaymentFailed     PaymentStatus = "failed"
	PaymentRefunded   PaymentStatus = "refunded"
	PaymentCancelled  PaymentStatus = "cancelled"
)

var validNextPayment = map[PaymentStatus]map[PaymentStatus]bool{
	PaymentPending:    {PaymentAuthorized: true, PaymentCaptured: true, PaymentFailed: true, PaymentCancelled: true},
	PaymentAuthorized: {PaymentCaptured: true, PaymentFailed: true},
	PaymentCaptured:   {PaymentRefunded: true},
	PaymentFailed:     {},
	PaymentRefunded:   {},
	PaymentCancelled:  {},
}

func CanTransitionPayment(from, to PaymentStatus) bool {
	return validNextPayment[from][to]
}

// InvalidTransitionError menyebut state sekarang dan yang diminta,
// supaya caller bisa kasih pesan yang jelas.
type InvalidTransitionError struct {
	Entity string // "order" | "payment"
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s transition %s -> %s not allowed", e.Entity, e.From, e.To)
}

func Transition(from, to Status) error {
	if !CanTransition(from, to) {
		return &InvalidTransitionError{Entity: "order", From: string(from), To: string(to)}
	}
	return nil
}

func TransitionPayment(from, to PaymentStatus) error {
	if !CanTransitionPayment(from, to) {
		return &InvalidTransitionError{Entity: "payment", From: string(from), To: string(to)}
	}
	return nil
}
