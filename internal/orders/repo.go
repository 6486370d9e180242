package orders

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-shop-checkout.git/internal/inventory"
)

var ErrOrderNotFound = errors.New("order not found")

// StockError bawa sisa stok supaya caller bisa tawarkan qty lebih kecil.
type StockError struct {
	VariantID   string
	ProductName string
	Requested   int
	Available   int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d",
		e.VariantID, e.Requested, e.Available)
}

type DraftItem struct {
	VariantID   string
	ProductName string
	VariantName string
	ProductSKU  string
	VariantSKU  string
	Quantity    int
	PriceCents  int64
	WeightGrams int
}

// Draft: hasil orkestrasi checkout, siap dipersist dalam satu transaksi.
type Draft struct {
	UserID          string
	Currency        string
	SubtotalCents   int64
	TaxCents        int64
	ShippingCents   int64
	DiscountCents   int64
	TotalCents      int64
	Items           []DraftItem
	BillingAddress  Address
	ShippingAddress Address
	Metadata        Metadata
	CouponID        string
	MarkCouponUsed  func(ctx context.Context, tx pgx.Tx, couponID, orderID string) error
}

type Repo struct {
	DB           *pgxpool.Pool
	Ledger       *inventory.Ledger
	NumberPrefix string
}

// PlaceOrder: reservasi stok + insert order + insert item snapshot,
// SEMUA dalam satu transaksi. Kegagalan di tengah = rollback total,
// tidak ada reservasi yang pernah ter-commit.
func (r *Repo) PlaceOrder(ctx context.Context, d Draft) (Order, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, it := range d.Items {
		ok, available, err := r.Ledger.ReserveTx(ctx, tx, it.VariantID, it.Quantity)
		if err != nil {
			return Order{}, err
		}
		if !ok {
			return Order{}, &StockError{
				VariantID:   it.VariantID,
				ProductName: it.ProductName,
				Requested:   it.Quantity,
				Available:   available,
			}
		}
	}

	number, err := r.generateOrderNumber(ctx, tx)
	if err != nil {
		return Order{}, err
	}

	now := time.Now().UTC()
	o := Order{
		ID:              uuid.NewString(),
		OrderNumber:     number,
		UserID:          d.UserID,
		Status:          StatusPending,
		PaymentStatus:   PaymentPending,
		SubtotalCents:   d.SubtotalCents,
		TaxCents:        d.TaxCents,
		ShippingCents:   d.ShippingCents,
		DiscountCents:   d.DiscountCents,
		TotalCents:      d.TotalCents,
		Currency:        d.Currency,
		BillingAddress:  d.BillingAddress,
		ShippingAddress: d.ShippingAddress,
		Metadata:        d.Metadata,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	billing, shipping, meta, err := marshalOrderJSON(o)
	if err != nil {
		return Order{}, err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO orders(id, order_number, user_id, status, payment_status,
		                   subtotal_cents, tax_cents, shipping_cents, discount_cents, total_cents,
		                   currency, billing_address, shipping_address, metadata, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$15)`,
		o.ID, o.OrderNumber, o.UserID, o.Status, o.PaymentStatus,
		o.SubtotalCents, o.TaxCents, o.ShippingCents, o.DiscountCents, o.TotalCents,
		o.Currency, billing, shipping, meta, now,
	)
	if err != nil {
		return Order{}, err
	}

	for _, it := range d.Items {
		_, err = tx.Exec(ctx, `
			INSERT INTO order_items(id, order_id, variant_id, product_name, variant_name,
			                        product_sku, variant_sku, quantity, price_cents, total_cents, weight_grams)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			uuid.NewString(), o.ID, it.VariantID, it.ProductName, it.VariantName,
			it.ProductSKU, it.VariantSKU, it.Quantity, it.PriceCents,
			it.PriceCents*int64(it.Quantity), it.WeightGrams,
		)
		if err != nil {
			return Order{}, err
		}
	}

	if d.CouponID != "" && d.MarkCouponUsed != nil {
		if err := d.MarkCouponUsed(ctx, tx, d.CouponID, o.ID); err != nil {
			return Order{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, err
	}
	return o, nil
}

const numberAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// generateOrderNumber: PREFIX-YYYYMMDD-XXXXXX, retry kalau tabrakan.
func (r *Repo) generateOrderNumber(ctx context.Context, tx pgx.Tx) (string, error) {
	prefix := r.NumberPrefix
	if prefix == "" {
		prefix = "ILS"
	}
	for attempt := 0; attempt < 5; attempt++ {
		suffix := make([]byte, 6)
		for i := range suffix {
			n, err := rand.Int(rand.Reader, big.NewInt(int64(len(numberAlphabet))))
			if err != nil {
				return "", err
			}
			suffix[i] = numberAlphabet[n.Int64()]
		}
		candidate := fmt.Sprintf("%s-%s-%s", prefix, time.Now().UTC().Format("20060102"), suffix)

		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM orders WHERE order_number=$1)`, candidate).Scan(&exists); err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", errors.New("order number collision after retries")
}

const orderColumns = `id, order_number, user_id, status, payment_status,
	subtotal_cents, tax_cents, shipping_cents, discount_cents, total_cents,
	currency, billing_address, shipping_address, placed_at, shipped_at, delivered_at,
	metadata, created_at, updated_at`

func (r *Repo) GetByNumber(ctx context.Context, number string) (Order, error) {
	row := r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_number=$1`, number)
	return scanOrder(row)
}

func (r *Repo) GetByID(ctx context.Context, id string) (Order, error) {
	row := r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id)
	return scanOrder(row)
}

func (r *Repo) ListItems(ctx context.Context, orderID string) ([]OrderItem, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, order_id, variant_id, product_name, variant_name,
		       product_sku, variant_sku, quantity, price_cents, total_cents, weight_grams
		FROM order_items WHERE order_id=$1 ORDER BY product_name`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrderItem
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.VariantID, &it.ProductName, &it.VariantName,
			&it.ProductSKU, &it.VariantSKU, &it.Quantity, &it.PriceCents, &it.TotalCents, &it.WeightGrams); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// UpdateStatus: lock row -> cek tabel transisi -> set status + timestamp transisi.
// Transisi ke SHIPPED sekalian confirm stok (barang fisik keluar gudang).
// Return kedua: status sebelum transisi (untuk audit).
func (r *Repo) UpdateStatus(ctx context.Context, orderNumber string, to Status) (Order, Status, error) {
	var (
		out  Order
		prev Status
	)
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		o, err := lockOrder(ctx, tx, orderNumber)
		if err != nil {
			return err
		}
		prev = o.Status
		if err := Transition(o.Status, to); err != nil {
			return err
		}
		if to == StatusRefunded && !CanBeRefunded(o.Status, o.PaymentStatus, o.DeliveredAt, time.Now().UTC()) {
			return &InvalidTransitionError{Entity: "order", From: string(o.Status), To: string(StatusRefunded)}
		}

		now := time.Now().UTC()
		switch to {
		case StatusProcessing:
			if o.PlacedAt == nil {
				o.PlacedAt = &now
			}
		case StatusShipped:
			o.ShippedAt = &now
			items, err := listItemsTx(ctx, tx, o.ID)
			if err != nil {
				return err
			}
			for _, it := range items {
				if err := r.Ledger.ConfirmTx(ctx, tx, it.VariantID, it.Quantity); err != nil {
					return err
				}
			}
		case StatusDelivered:
			o.DeliveredAt = &now
		}
		o.Status = to
		o.UpdatedAt = now

		_, err = tx.Exec(ctx, `
			UPDATE orders SET status=$2, placed_at=$3, shipped_at=$4, delivered_at=$5, updated_at=$6
			WHERE id=$1`, o.ID, o.Status, o.PlacedAt, o.ShippedAt, o.DeliveredAt, now)
		if err != nil {
			return err
		}
		out = o
		return nil
	})
	return out, prev, err
}

// MarkPaidTx dipakai payment adapter: order jadi PAID + payment_status captured,
// di dalam transaksi yang sama dengan update payment row.
func (r *Repo) MarkPaidTx(ctx context.Context, tx pgx.Tx, orderID string) error {
	o, err := lockOrderByID(ctx, tx, orderID)
	if err != nil {
		return err
	}
	if err := Transition(o.Status, StatusPaid); err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		UPDATE orders SET status=$2, payment_status=$3, updated_at=now() WHERE id=$1`,
		o.ID, StatusPaid, PaymentCaptured)
	return err
}

// Cancel: transisi + release semua stok yang masih direservasi, satu transaksi.
func (r *Repo) Cancel(ctx context.Context, orderNumber string) (Order, Status, error) {
	var (
		out  Order
		prev Status
	)
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		o, err := lockOrder(ctx, tx, orderNumber)
		if err != nil {
			return err
		}
		prev = o.Status
		if err := Transition(o.Status, StatusCancelled); err != nil {
			return err
		}

		items, err := listItemsTx(ctx, tx, o.ID)
		if err != nil {
			return err
		}
		for _, it := range items {
			if err := r.Ledger.ReleaseTx(ctx, tx, it.VariantID, it.Quantity); err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		_, err = tx.Exec(ctx, `
			UPDATE orders SET status=$2, updated_at=$3 WHERE id=$1`,
			o.ID, StatusCancelled, now)
		if err != nil {
			return err
		}
		o.Status = StatusCancelled
		o.UpdatedAt = now
		out = o
		return nil
	})
	return out, prev, err
}

// MarkRefundedTx: order DELIVERED -> REFUNDED, hanya dalam window 14 hari.
// Tidak menyentuh stok (barang sudah di tangan pembeli).
func (r *Repo) MarkRefundedTx(ctx context.Context, tx pgx.Tx, orderID string) error {
	o, err := lockOrderByID(ctx, tx, orderID)
	if err != nil {
		return err
	}
	if !CanBeRefunded(o.Status, o.PaymentStatus, o.DeliveredAt, time.Now().UTC()) {
		return &InvalidTransitionError{Entity: "order", From: string(o.Status), To: string(StatusRefunded)}
	}
	_, err = tx.Exec(ctx, `
		UPDATE orders SET status=$2, payment_status=$3, updated_at=now() WHERE id=$1`,
		o.ID, StatusRefunded, PaymentRefunded)
	return err
}

func (r *Repo) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func lockOrder(ctx context.Context, tx pgx.Tx, orderNumber string) (Order, error) {
	row := tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_number=$1 FOR UPDATE`, orderNumber)
	return scanOrder(row)
}

func lockOrderByID(ctx context.Context, tx pgx.Tx, orderID string) (Order, error) {
	row := tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1 FOR UPDATE`, orderID)
	return scanOrder(row)
}

func listItemsTx(ctx context.Context, tx pgx.Tx, orderID string) ([]OrderItem, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, order_id, variant_id, product_name, variant_name,
		       product_sku, variant_sku, quantity, price_cents, total_cents, weight_grams
		FROM order_items WHERE order_id=$1`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrderItem
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.VariantID, &it.ProductName, &it.VariantName,
			&it.ProductSKU, &it.VariantSKU, &it.Quantity, &it.PriceCents, &it.TotalCents, &it.WeightGrams); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o                     Order
		billing, shipping, md []byte
	)
	err := row.Scan(&o.ID, &o.OrderNumber, &o.UserID, &o.Status, &o.PaymentStatus,
		&o.SubtotalCents, &o.TaxCents, &o.ShippingCents, &o.DiscountCents, &o.TotalCents,
		&o.Currency, &billing, &shipping, &o.PlacedAt, &o.ShippedAt, &o.DeliveredAt,
		&md, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrOrderNotFound
	}
	if err != nil {
		return Order{}, err
	}
	if err := json.Unmarshal(billing, &o.BillingAddress); err != nil {
		return Order{}, fmt.Errorf("decode billing address: %w", err)
	}
	if err := json.Unmarshal(shipping, &o.ShippingAddress); err != nil {
		return Order{}, fmt.Errorf("decode shipping address: %w", err)
	}
	if len(md) > 0 {
		if err := json.Unmarshal(md, &o.Metadata); err != nil {
			return Order{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return o, nil
}

func marshalOrderJSON(o Order) (billing, shipping, metadata []byte, err error) {
	if billing, err = json.Marshal(o.BillingAddress); err != nil {
		return nil, nil, nil, err
	}
	if shipping, err = json.Marshal(o.ShippingAddress); err != nil {
		return nil, nil, nil, err
	}
	if o.Metadata == nil {
		o.Metadata = Metadata{}
	}
	if metadata, err = json.Marshal(o.Metadata); err != nil {
		return nil, nil, nil, err
	}
	return billing, shipping, metadata, nil
}
