package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	kafkago "github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-shop-checkout.git/internal/audit"
	"github.com/ariefcatur/go-shop-checkout.git/internal/cart"
	"github.com/ariefcatur/go-shop-checkout.git/internal/catalog"
	kafkax "github.com/ariefcatur/go-shop-checkout.git/internal/kafka"
	"github.com/ariefcatur/go-shop-checkout.git/internal/orders"
	"github.com/ariefcatur/go-shop-checkout.git/internal/pricing"
)

var (
	ErrEmptyCart   = errors.New("cart is empty")
	ErrCartExpired = errors.New("cart expired")
)

// Ports kecil supaya orkestrasi bisa dites tanpa Postgres.

type StockChecker interface {
	IsInStock(ctx context.Context, variantID string, qty int) (bool, error)
	AvailableQuantity(ctx context.Context, variantID string) (int, error)
}

type VariantReader interface {
	GetVariants(ctx context.Context, variantIDs []string) (map[string]catalog.Variant, error)
}

type OrderStore interface {
	PlaceOrder(ctx context.Context, d orders.Draft) (orders.Order, error)
	Cancel(ctx context.Context, orderNumber string) (orders.Order, orders.Status, error)
	UpdateStatus(ctx context.Context, orderNumber string, to orders.Status) (orders.Order, orders.Status, error)
}

type CouponSource interface {
	GetByCode(ctx context.Context, code string) (pricing.Coupon, error)
	CanBeUsedBy(ctx context.Context, c pricing.Coupon, userID string) (bool, error)
	MarkUsedTx(ctx context.Context, tx pgx.Tx, couponID, orderID string) error
}

type Publisher interface {
	PublishTo(topic string, key, value []byte, headers ...kafkago.Header)
}

type ShippingQuote struct {
	CostCents     int64  `json:"cost_cents"`
	EstimatedDays int    `json:"estimated_days"`
	Carrier       string `json:"carrier"`
}

type Service struct {
	Stock       StockChecker
	Catalog     VariantReader
	Orders      OrderStore
	Coupons     CouponSource
	Audit       audit.Sink
	Events      Publisher
	ServiceName string
}

// ValidateCart: cart tidak kosong, belum expired, semua item masih in stock.
// Stok dicek paralel (read-only), error dikumpulkan per item.
func (s *Service) ValidateCart(ctx context.Context, c cart.Cart) []error {
	now := time.Now().UTC()
	if c.Expired(now) {
		return []error{ErrCartExpired}
	}
	if len(c.Items) == 0 {
		return []error{ErrEmptyCart}
	}

	itemErrs := make([]error, len(c.Items))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for idx := range c.Items {
		idx := idx
		g.Go(func() error {
			it := c.Items[idx]
			if it.Quantity <= 0 {
				itemErrs[idx] = fmt.Errorf("invalid quantity %d for variant %s", it.Quantity, it.VariantID)
				return nil
			}
			ok, err := s.Stock.IsInStock(ctx, it.VariantID, it.Quantity)
			if err != nil {
				return err
			}
			if !ok {
				available, err := s.Stock.AvailableQuantity(ctx, it.VariantID)
				if err != nil {
					return err
				}
				itemErrs[idx] = &orders.StockError{
					VariantID: it.VariantID,
					Requested: it.Quantity,
					Available: available,
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return []error{err}
	}

	var out []error
	for _, e := range itemErrs {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

// CalculateShipping: ongkir + estimasi hari dari total cart dan kota tujuan.
func (s *Service) CalculateShipping(addr orders.Address, c cart.Cart) ShippingQuote {
	totals := cartTotals(c)
	return ShippingQuote{
		CostCents:     pricing.ShippingCost(totals.TotalCents, addr.City),
		EstimatedDays: pricing.EstimatedDeliveryDays(addr.City),
		Carrier:       "Kargo",
	}
}

type CreateOrderInput struct {
	Cart            cart.Cart
	UserID          string
	ShippingAddress orders.Address
	BillingAddress  orders.Address
	CouponCode      string
}

// CreateOrder: validasi -> pricing -> satu transaksi reservasi+order di
// OrderStore. Cart TIDAK dihapus di sini — itu tugas caller setelah commit
// sukses. Gagal apa pun: tidak ada order, tidak ada stok ter-reserve,
// cart utuh, caller bebas retry.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (orders.Order, error) {
	if errs := s.ValidateCart(ctx, in.Cart); len(errs) > 0 {
		return orders.Order{}, errors.Join(errs...)
	}

	// billing kosong = pakai alamat kirim
	billing := in.BillingAddress
	if billing == (orders.Address{}) {
		billing = in.ShippingAddress
	}

	// Lookup katalog SEBELUM transaksi — jangan tambah durasi lock stok.
	ids := make([]string, 0, len(in.Cart.Items))
	for _, it := range in.Cart.Items {
		ids = append(ids, it.VariantID)
	}
	variants, err := s.Catalog.GetVariants(ctx, ids)
	if err != nil {
		return orders.Order{}, err
	}

	totals := cartTotals(in.Cart)
	quote := s.CalculateShipping(in.ShippingAddress, in.Cart)

	var (
		discount int64
		couponID string
	)
	if in.CouponCode != "" {
		coupon, err := s.Coupons.GetByCode(ctx, in.CouponCode)
		if err != nil {
			return orders.Order{}, err
		}
		if !coupon.IsValid(time.Now().UTC()) {
			return orders.Order{}, fmt.Errorf("coupon %s is not valid", coupon.Code)
		}
		ok, err := s.Coupons.CanBeUsedBy(ctx, coupon, in.UserID)
		if err != nil {
			return orders.Order{}, err
		}
		if !ok {
			return orders.Order{}, fmt.Errorf("coupon %s usage limit reached for user", coupon.Code)
		}
		discount = coupon.CalculateDiscount(totals.TotalCents)
		couponID = coupon.ID
	}

	items := make([]orders.DraftItem, 0, len(in.Cart.Items))
	for _, it := range in.Cart.Items {
		v, ok := variants[it.VariantID]
		if !ok {
			return orders.Order{}, fmt.Errorf("%w: %s", catalog.ErrVariantNotFound, it.VariantID)
		}
		if !v.Active {
			return orders.Order{}, fmt.Errorf("variant %s is no longer available", it.VariantID)
		}
		items = append(items, orders.DraftItem{
			VariantID:   it.VariantID,
			ProductName: v.ProductName,
			VariantName: v.Name,
			ProductSKU:  v.ProductSKU,
			VariantSKU:  v.SKU,
			Quantity:    it.Quantity,
			PriceCents:  it.PriceCents, // snapshot harga cart, bukan harga live
			WeightGrams: v.WeightGrams,
		})
	}

	draft := orders.Draft{
		UserID:          in.UserID,
		Currency:        in.Cart.Currency,
		SubtotalCents:   totals.SubtotalCents,
		TaxCents:        totals.TaxCents,
		ShippingCents:   quote.CostCents,
		DiscountCents:   discount,
		TotalCents:      pricing.FinalTotal(totals, quote.CostCents, discount),
		Items:           items,
		BillingAddress:  billing,
		ShippingAddress: in.ShippingAddress,
		CouponID:        couponID,
		Metadata: orders.Metadata{
			"cart_id": in.Cart.ID,
			"shipping_info": map[string]any{
				"cost_cents":     quote.CostCents,
				"estimated_days": quote.EstimatedDays,
				"carrier":        quote.Carrier,
			},
		},
	}
	if in.CouponCode != "" {
		draft.Metadata["coupon_code"] = in.CouponCode
		draft.MarkCouponUsed = s.Coupons.MarkUsedTx
	}

	order, err := s.Orders.PlaceOrder(ctx, draft)
	if err != nil {
		return orders.Order{}, err
	}

	s.Audit.Record(ctx, audit.Event{
		Event:      "order_created",
		EntityType: "order",
		EntityID:   order.ID,
		UserID:     in.UserID,
		NewValues: map[string]any{
			"order_number": order.OrderNumber,
			"status":       string(order.Status),
			"total_cents":  order.TotalCents,
		},
	})
	s.publishOrderCreated(order, items)

	return order, nil
}

// CancelOrder: transisi state-machine + release stok, lalu audit + event.
func (s *Service) CancelOrder(ctx context.Context, orderNumber, reason string) (orders.Order, error) {
	order, prev, err := s.Orders.Cancel(ctx, orderNumber)
	if err != nil {
		return orders.Order{}, err
	}

	s.Audit.Record(ctx, audit.Event{
		Event:      "order_status_changed",
		EntityType: "order",
		EntityID:   order.ID,
		OldValues:  map[string]any{"status": string(prev)},
		NewValues:  map[string]any{"status": string(orders.StatusCancelled)},
		Metadata:   map[string]any{"reason": reason},
	})
	s.publish(orders.TopicOrderCancelled, orders.EventOrderCancelled, order.ID,
		orders.OrderCancelledPayload{OrderID: order.ID, OrderNumber: order.OrderNumber, Reason: reason})

	return order, nil
}

// AdvanceOrder untuk transisi operasional (processing/shipped/delivered).
func (s *Service) AdvanceOrder(ctx context.Context, orderNumber string, to orders.Status) (orders.Order, error) {
	order, prev, err := s.Orders.UpdateStatus(ctx, orderNumber, to)
	if err != nil {
		return orders.Order{}, err
	}
	s.Audit.Record(ctx, audit.Event{
		Event:      "order_status_changed",
		EntityType: "order",
		EntityID:   order.ID,
		OldValues:  map[string]any{"status": string(prev)},
		NewValues:  map[string]any{"status": string(to)},
	})
	return order, nil
}

func cartTotals(c cart.Cart) pricing.Totals {
	lines := make([]pricing.Line, 0, len(c.Items))
	for _, it := range c.Items {
		lines = append(lines, pricing.Line{UnitPriceCents: it.PriceCents, Quantity: it.Quantity})
	}
	return pricing.CartTotal(lines)
}

func (s *Service) publishOrderCreated(o orders.Order, items []orders.DraftItem) {
	lines := make([]orders.ItemLine, 0, len(items))
	for _, it := range items {
		lines = append(lines, orders.ItemLine{VariantID: it.VariantID, Qty: it.Quantity, PriceCents: it.PriceCents})
	}
	s.publish(orders.TopicOrderCreated, orders.EventOrderCreated, o.ID, orders.OrderCreatedPayload{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		UserID:      o.UserID,
		Items:       lines,
		TotalCents:  o.TotalCents,
		Currency:    o.Currency,
	})
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
