package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-shop-checkout.git/internal/audit"
	kafkax "github.com/ariefcatur/go-shop-checkout.git/internal/kafka"
	"github.com/ariefcatur/go-shop-checkout.git/internal/metrics"
	"github.com/ariefcatur/go-shop-checkout.git/internal/orders"
	"github.com/ariefcatur/go-shop-checkout.git/internal/redisx"
)

var (
	ErrOrderNotPayable     = errors.New("order is not payable")
	ErrAlreadyPaid         = errors.New("order already has a captured payment")
	ErrRefundNotAllowed    = errors.New("payment cannot be refunded")
	ErrRefundAmountExceeds = errors.New("refund amount exceeds captured amount")
	ErrInvalidSignature    = errors.New("invalid webhook signature")
)

// Ports supaya adapter bisa dites dengan fake gateway & store.

type Store interface {
	Create(ctx context.Context, p Payment) (Payment, error)
	GetByID(ctx context.Context, id string) (Payment, error)
	GetByGatewayTxID(ctx context.Context, gatewayTxID string) (Payment, error)
	HasCaptured(ctx context.Context, orderID string) (bool, error)
	MarkCaptured(ctx context.Context, paymentID, rawResponse string) (Payment, error)
	MarkFailed(ctx context.Context, paymentID, errorCode, errorMessage, rawResponse string) (Payment, error)
	MarkRefunded(ctx context.Context, paymentID string, amountCents int64, rawResponse string) (Payment, error)
}

type OrderReader interface {
	GetByNumber(ctx context.Context, number string) (orders.Order, error)
	GetByID(ctx context.Context, id string) (orders.Order, error)
	ListItems(ctx context.Context, orderID string) ([]orders.OrderItem, error)
}

type Publisher interface {
	PublishTo(topic string, key, value []byte, headers ...kafkago.Header)
}

type Service struct {
	Gateway       Gateway
	GatewayName   string // "iyzico"
	Store         Store
	Orders        OrderReader
	Redis         *redis.Client // nil = tanpa dedup
	Audit         audit.Sink
	Events        Publisher
	Metrics       *metrics.Metrics
	WebhookSecret string
	ServiceName   string
}

type Result struct {
	Success        bool   `json:"success"`
	PaymentID      string `json:"payment_id,omitempty"`
	OrderID        string `json:"order_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	ThreedsHTML    string `json:"threeds_html,omitempty"`
	ErrorCode      string `json:"error_code,omitempty"`
	ErrorMessage   string `json:"error_message,omitempty"`
}

type InitiateInput struct {
	OrderNumber string
	Card        Card
	Buyer       Buyer
}

// Initiate: mulai flow 3DS untuk order PENDING. Return HTML yang harus
// dirender ke user; capture baru terjadi di HandleCallback. Kegagalan
// gateway dilaporkan sebagai Result, bukan error Go.
func (s *Service) Initiate(ctx context.Context, in InitiateInput) (Result, error) {
	order, err := s.Orders.GetByNumber(ctx, in.OrderNumber)
	if err != nil {
		return Result{}, err
	}
	if order.Status != orders.StatusPending {
		return Result{}, fmt.Errorf("%w: status %s", ErrOrderNotPayable, order.Status)
	}
	captured, err := s.Store.HasCaptured(ctx, order.ID)
	if err != nil {
		return Result{}, err
	}
	if captured {
		return Result{}, ErrAlreadyPaid
	}

	items, err := s.Orders.ListItems(ctx, order.ID)
	if err != nil {
		return Result{}, err
	}
	basket := make([]BasketItem, 0, len(items))
	for _, it := range items {
		basket = append(basket, BasketItem{
			ID:         it.VariantID,
			Name:       it.ProductName + " " + it.VariantName,
			Category:   it.ProductSKU,
			PriceCents: it.TotalCents,
		})
	}

	conversationID := fmt.Sprintf("order_%s_%s", order.OrderNumber, randomHex(4))
	res, err := s.Gateway.Initialize3DS(ctx, InitiateRequest{
		ConversationID:  conversationID,
		BasketID:        order.OrderNumber,
		AmountCents:     order.TotalCents,
		Currency:        order.Currency,
		Card:            in.Card,
		Buyer:           in.Buyer,
		ShippingAddress: order.ShippingAddress,
		BillingAddress:  order.BillingAddress,
		BasketItems:     basket,
	})
	if err != nil {
		// Error transport: jangan bocorkan detail ke user, catat di log.
		slog.Error("gateway initialize failed", "order", order.OrderNumber, "err", err)
		s.count("initiate", "error")
		return Result{Success: false, OrderID: order.ID, ErrorCode: "EXCEPTION",
			ErrorMessage: "payment gateway unavailable"}, nil
	}

	p := Payment{
		OrderID:              order.ID,
		Gateway:              s.GatewayName,
		GatewayTransactionID: res.PaymentID,
		AmountCents:          order.TotalCents,
		Currency:             order.Currency,
		GatewayResponse:      res.Raw,
		Metadata:             orders.Metadata{"conversation_id": conversationID},
	}
	if !res.Success {
		p.Status = orders.PaymentFailed
		now := time.Now().UTC()
		p.FailedAt = &now
		p.Metadata["error_code"] = res.ErrorCode
		p.Metadata["error_message"] = res.ErrorMessage
		if _, err := s.Store.Create(ctx, p); err != nil {
			return Result{}, err
		}
		s.count("initiate", "declined")
		return Result{Success: false, OrderID: order.ID, ConversationID: conversationID,
			ErrorCode: res.ErrorCode, ErrorMessage: res.ErrorMessage}, nil
	}
	if p.GatewayTransactionID == "" {
		// Tanpa paymentId kita tidak bisa mencocokkan callback nanti.
		p.GatewayTransactionID = "pending_" + uuid.NewString()
	}

	created, err := s.Store.Create(ctx, p)
	if err != nil {
		return Result{}, err
	}
	s.count("initiate", "ok")
	return Result{
		Success:        true,
		PaymentID:      created.ID,
		OrderID:        order.ID,
		ConversationID: conversationID,
		ThreedsHTML:    res.HTMLContent,
	}, nil
}

type CallbackInput struct {
	GatewayPaymentID string // paymentId dari form callback gateway
	ConversationData string // mdStatus blob, diteruskan apa adanya
	Status           string
}

// HandleCallback: user kembali dari halaman 3DS bank. Completion WAJIB
// dikonfirmasi ulang ke gateway (auth call) — field form callback tidak
// dipercaya. Idempoten terhadap replay: payment yang sudah captured
// langsung sukses tanpa menyentuh gateway lagi.
func (s *Service) HandleCallback(ctx context.Context, in CallbackInput) (Result, error) {
	p, err := s.Store.GetByGatewayTxID(ctx, in.GatewayPaymentID)
	if err != nil {
		return Result{}, err
	}
	if p.Status == orders.PaymentCaptured {
		return Result{Success: true, PaymentID: p.ID, OrderID: p.OrderID}, nil
	}

	// Kunci dedup baru boleh "menempel" kalau hasilnya sudah durable.
	// Setiap jalur gagal setelah MarkOnce wajib melepas kunci, supaya
	// retry yang sah tidak tertolak selama TTL dedup.
	dedupKey := fmt.Sprintf(redisx.KeyDedupCallback, in.GatewayPaymentID)
	marked := false
	if s.Redis != nil {
		first, err := redisx.MarkOnce(ctx, s.Redis, dedupKey, redisx.TTLDedup)
		if err != nil {
			slog.Warn("callback dedup check failed, continuing", "err", err)
		} else if !first {
			// Replay yang menang race: row lock di MarkCaptured tetap jaga
			// konsistensi, jadi cukup laporkan state sekarang.
			return Result{Success: p.Status == orders.PaymentCaptured, PaymentID: p.ID, OrderID: p.OrderID}, nil
		} else {
			marked = true
		}
	}
	releaseDedup := func() {
		if marked {
			s.Redis.Del(ctx, dedupKey)
		}
	}

	conversationID, _ := p.Metadata["conversation_id"].(string)
	res, err := s.Gateway.Complete3DS(ctx, conversationID, p.GatewayTransactionID, in.ConversationData)
	if err != nil {
		releaseDedup()
		return Result{}, err
	}

	if !res.Success {
		failed, err := s.Store.MarkFailed(ctx, p.ID, res.ErrorCode, res.ErrorMessage, res.Raw)
		if err != nil {
			releaseDedup()
			return Result{}, err
		}
		s.count("capture", "declined")
		s.Audit.Record(ctx, audit.Event{
			Event:      "payment_failed",
			EntityType: "payment",
			EntityID:   failed.ID,
			OldValues:  map[string]any{"status": string(p.Status)},
			NewValues:  map[string]any{"status": string(orders.PaymentFailed)},
			Metadata:   map[string]any{"error_code": res.ErrorCode},
		})
		s.publish(orders.TopicPaymentFailed, orders.EventPaymentFailed, failed.OrderID,
			orders.PaymentFailedPayload{OrderID: failed.OrderID, PaymentID: failed.ID,
				Reason: res.ErrorMessage, ErrorCode: res.ErrorCode})
		s.invalidateStatusCache(ctx, failed.OrderID)
		return Result{Success: false, PaymentID: failed.ID, OrderID: failed.OrderID,
			ErrorCode: res.ErrorCode, ErrorMessage: res.ErrorMessage}, nil
	}

	capturedP, err := s.Store.MarkCaptured(ctx, p.ID, res.Raw)
	if err != nil {
		releaseDedup()
		return Result{}, err
	}
	s.count("capture", "ok")
	s.Audit.Record(ctx, audit.Event{
		Event:      "payment_captured",
		EntityType: "payment",
		EntityID:   capturedP.ID,
		OldValues:  map[string]any{"status": string(p.Status)},
		NewValues:  map[string]any{"status": string(orders.PaymentCaptured), "amount_cents": capturedP.AmountCents},
	})
	s.publish(orders.TopicPaymentCaptured, orders.EventPaymentCaptured, capturedP.OrderID,
		orders.PaymentCapturedPayload{OrderID: capturedP.OrderID, PaymentID: capturedP.ID, AmountCents: capturedP.AmountCents})
	if o, err := s.Orders.GetByID(ctx, capturedP.OrderID); err == nil {
		s.publish(orders.TopicOrderPaid, orders.EventOrderPaid, o.ID,
			orders.OrderPaidPayload{OrderID: o.ID, OrderNumber: o.OrderNumber,
				PaymentID: capturedP.ID, AmountCents: capturedP.AmountCents})
	}
	s.invalidateStatusCache(ctx, capturedP.OrderID)

	return Result{Success: true, PaymentID: capturedP.ID, OrderID: capturedP.OrderID}, nil
}

// Cache status order jadi basi begitu payment mengubah state; hapus saja,
// request berikutnya isi ulang dari DB.
func (s *Service) invalidateStatusCache(ctx context.Context, orderID string) {
	if s.Redis == nil {
		return
	}
	o, err := s.Orders.GetByID(ctx, orderID)
	if err != nil {
		return
	}
	if err := s.Redis.Del(ctx, fmt.Sprintf(redisx.KeyOrderStatus, o.OrderNumber)).Err(); err != nil {
		slog.Warn("invalidate status cache failed", "order", o.OrderNumber, "err", err)
	}
}

// Refund: hanya payment CAPTURED, maksimal sebesar amount yang di-capture,
// dan order masih dalam window refund. Stok TIDAK dikembalikan.
func (s *Service) Refund(ctx context.Context, paymentID string, amountCents int64, ip string) (Result, error) {
	p, err := s.Store.GetByID(ctx, paymentID)
	if err != nil {
		return Result{}, err
	}
	if p.Status != orders.PaymentCaptured {
		return Result{}, fmt.Errorf("%w: status %s", ErrRefundNotAllowed, p.Status)
	}
	if amountCents <= 0 {
		amountCents = p.AmountCents
	}
	if amountCents > p.AmountCents {
		return Result{}, ErrRefundAmountExceeds
	}
	order, err := s.Orders.GetByID(ctx, p.OrderID)
	if err != nil {
		return Result{}, err
	}
	if !orders.CanBeRefunded(order.Status, order.PaymentStatus, order.DeliveredAt, time.Now().UTC()) {
		return Result{}, fmt.Errorf("%w: order %s", ErrRefundNotAllowed, order.Status)
	}

	conversationID, _ := p.Metadata["conversation_id"].(string)
	res, err := s.Gateway.Refund(ctx, conversationID, p.GatewayTransactionID, amountCents, ip)
	if err != nil {
		slog.Error("gateway refund failed", "payment", p.ID, "err", err)
		s.count("refund", "error")
		return Result{Success: false, PaymentID: p.ID, OrderID: p.OrderID,
			ErrorCode: "EXCEPTION", ErrorMessage: "payment gateway unavailable"}, nil
	}
	if !res.Success {
		s.count("refund", "declined")
		return Result{Success: false, PaymentID: p.ID, OrderID: p.OrderID,
			ErrorCode: res.ErrorCode, ErrorMessage: res.ErrorMessage}, nil
	}

	refunded, err := s.Store.MarkRefunded(ctx, p.ID, amountCents, res.Raw)
	if err != nil {
		return Result{}, err
	}
	s.count("refund", "ok")
	s.Audit.Record(ctx, audit.Event{
		Event:      "payment_refunded",
		EntityType: "payment",
		EntityID:   refunded.ID,
		OldValues:  map[string]any{"status": string(orders.PaymentCaptured)},
		NewValues:  map[string]any{"status": string(orders.PaymentRefunded), "amount_cents": amountCents},
	})
	s.publish(orders.TopicOrderRefunded, orders.EventOrderRefunded, refunded.OrderID,
		orders.OrderRefundedPayload{OrderID: refunded.OrderID, OrderNumber: order.OrderNumber,
			PaymentID: refunded.ID, AmountCents: amountCents})
	s.invalidateStatusCache(ctx, refunded.OrderID)

	return Result{Success: true, PaymentID: refunded.ID, OrderID: refunded.OrderID}, nil
}

// ValidateWebhookSignature: hex HMAC-SHA256 atas body mentah, dibanding
// constant-time. Dipanggil SEBELUM mutasi apa pun.
func (s *Service) ValidateWebhookSignature(payload []byte, signature string) error {
	mac := hmac.New(sha256.New, []byte(s.WebhookSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) != 1 {
		if s.Metrics != nil {
			s.Metrics.WebhookRejected.Inc()
		}
		return ErrInvalidSignature
	}
	return nil
}

func (s *Service) count(op, result string) {
	if s.Metrics != nil {
		s.Metrics.PaymentOps.WithLabelValues(op, result).Inc()
	}
}

func (s *Service) publish(topic, eventType, orderID string, payload any) {
	if s.Events == nil {
		return
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.ServiceName,
		CorrelationID: orderID,
		Payload:       kafkax.MustMarshal(payload),
	}
	s.Events.PublishTo(topic, orders.PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
