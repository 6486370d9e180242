package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-shop-checkout.git/internal/orders"
)

var ErrPaymentNotFound = errors.New("payment not found")

// Repo persist attempt pembayaran. Semua mutasi status lewat lock row
// + tabel transisi, sama seperti order.
type Repo struct {
	DB     *pgxpool.Pool
	Orders *orders.Repo
}

func (r *Repo) Create(ctx context.Context, p Payment) (Payment, error) {
	now := time.Now().UTC()
	p.ID = uuid.NewString()
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.Status == "" {
		p.Status = orders.PaymentPending
	}

	meta, err := marshalMeta(p.Metadata)
	if err != nil {
		return Payment{}, err
	}
	_, err = r.DB.Exec(ctx, `
		INSERT INTO payments(id, order_id, gateway, gateway_transaction_id, status,
		                     amount_cents, currency, gateway_response, metadata, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)`,
		p.ID, p.OrderID, p.Gateway, p.GatewayTransactionID, p.Status,
		p.AmountCents, p.Currency, p.GatewayResponse, meta, now,
	)
	if err != nil {
		return Payment{}, err
	}
	return p, nil
}

const paymentColumns = `id, order_id, gateway, gateway_transaction_id, status,
	amount_cents, currency, gateway_response, metadata,
	authorized_at, captured_at, failed_at, created_at, updated_at`

func (r *Repo) GetByID(ctx context.Context, id string) (Payment, error) {
	row := r.DB.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id=$1`, id)
	return scanPayment(row)
}

func (r *Repo) GetByGatewayTxID(ctx context.Context, gatewayTxID string) (Payment, error) {
	row := r.DB.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE gateway_transaction_id=$1`, gatewayTxID)
	return scanPayment(row)
}

// HasCaptured: sudah ada attempt captured untuk order ini?
func (r *Repo) HasCaptured(ctx context.Context, orderID string) (bool, error) {
	var exists bool
	err := r.DB.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM payments WHERE order_id=$1 AND status=$2)`,
		orderID, orders.PaymentCaptured).Scan(&exists)
	return exists, err
}

// MarkCaptured: payment -> captured DAN order -> paid dalam satu transaksi.
// Kalau payment sudah captured (callback dobel) return sukses idempoten.
func (r *Repo) MarkCaptured(ctx context.Context, paymentID, rawResponse string) (Payment, error) {
	var out Payment
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		p, err := lockPayment(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if p.Status == orders.PaymentCaptured {
			out = p
			return nil
		}
		if err := orders.TransitionPayment(p.Status, orders.PaymentCaptured); err != nil {
			return err
		}

		now := time.Now().UTC()
		if p.Metadata == nil {
			p.Metadata = orders.Metadata{}
		}
		p.Metadata["callback_processed_at"] = now.Format(time.RFC3339)
		meta, err := marshalMeta(p.Metadata)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE payments SET status=$2, gateway_response=$3, metadata=$4, captured_at=$5, updated_at=$5
			WHERE id=$1`, p.ID, orders.PaymentCaptured, rawResponse, meta, now)
		if err != nil {
			return err
		}
		if err := r.Orders.MarkPaidTx(ctx, tx, p.OrderID); err != nil {
			return err
		}

		p.Status = orders.PaymentCaptured
		p.GatewayResponse = rawResponse
		p.CapturedAt = &now
		p.UpdatedAt = now
		out = p
		return nil
	})
	return out, err
}

// MarkFailed: attempt gagal. Order TIDAK ikut gagal — tetap pending,
// user boleh coba bayar lagi. Hanya payment_status order yang dicatat.
func (r *Repo) MarkFailed(ctx context.Context, paymentID, errorCode, errorMessage, rawResponse string) (Payment, error) {
	var out Payment
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		p, err := lockPayment(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if err := orders.TransitionPayment(p.Status, orders.PaymentFailed); err != nil {
			return err
		}

		now := time.Now().UTC()
		if p.Metadata == nil {
			p.Metadata = orders.Metadata{}
		}
		p.Metadata["error_code"] = errorCode
		p.Metadata["error_message"] = errorMessage
		meta, err := marshalMeta(p.Metadata)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE payments SET status=$2, gateway_response=$3, metadata=$4, failed_at=$5, updated_at=$5
			WHERE id=$1`, p.ID, orders.PaymentFailed, rawResponse, meta, now)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE orders SET payment_status=$2, updated_at=now() WHERE id=$1 AND payment_status=$3`,
			p.OrderID, orders.PaymentFailed, orders.PaymentPending)
		if err != nil {
			return err
		}

		p.Status = orders.PaymentFailed
		p.GatewayResponse = rawResponse
		p.FailedAt = &now
		p.UpdatedAt = now
		out = p
		return nil
	})
	return out, err
}

// MarkRefunded: payment captured -> refunded, order ikut refunded dalam
// transaksi yang sama. Stok tidak dikembalikan.
func (r *Repo) MarkRefunded(ctx context.Context, paymentID string, amountCents int64, rawResponse string) (Payment, error) {
	var out Payment
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		p, err := lockPayment(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if err := orders.TransitionPayment(p.Status, orders.PaymentRefunded); err != nil {
			return err
		}

		now := time.Now().UTC()
		if p.Metadata == nil {
			p.Metadata = orders.Metadata{}
		}
		p.Metadata["refund"] = map[string]any{
			"amount_cents": amountCents,
			"refunded_at":  now.Format(time.RFC3339),
		}
		meta, err := marshalMeta(p.Metadata)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE payments SET status=$2, gateway_response=$3, metadata=$4, updated_at=$5
			WHERE id=$1`, p.ID, orders.PaymentRefunded, rawResponse, meta, now)
		if err != nil {
			return err
		}
		if err := r.Orders.MarkRefundedTx(ctx, tx, p.OrderID); err != nil {
			return err
		}

		p.Status = orders.PaymentRefunded
		p.GatewayResponse = rawResponse
		p.UpdatedAt = now
		out = p
		return nil
	})
	return out, err
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

func lockPayment(ctx context.Context, tx pgx.Tx, id string) (Payment, error) {
	row := tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id=$1 FOR UPDATE`, id)
	return scanPayment(row)
}

func scanPayment(row pgx.Row) (Payment, error) {
	var (
		p  Payment
		md []byte
	)
	err := row.Scan(&p.ID, &p.OrderID, &p.Gateway, &p.GatewayTransactionID, &p.Status,
		&p.AmountCents, &p.Currency, &p.GatewayResponse, &md,
		&p.AuthorizedAt, &p.CapturedAt, &p.FailedAt, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, ErrPaymentNotFound
	}
	if err != nil {
		return Payment{}, err
	}
	if len(md) > 0 {
		if err := json.Unmarshal(md, &p.Metadata); err != nil {
			return Payment{}, fmt.Errorf("decode payment metadata: %w", err)
		}
	}
	return p, nil
}

func marshalMeta(m orders.Metadata) ([]byte, error) {
	if m == nil {
		m = orders.Metadata{}
	}
	return json.Marshal(m)
}
