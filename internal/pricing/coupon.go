package pricing

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type CouponType string

const (
	CouponFixed      CouponType = "fixed"
	CouponPercentage CouponType = "percentage"
)

var ErrCouponNotFound = errors.New("coupon not found")

type Coupon struct {
	ID   string
	Code string
	Name string
	Type CouponType

	// Value: kuruş untuk fixed, persen untuk percentage.
	Value int64

	MinimumAmountCents   int64
	MaximumDiscountCents int64
	UsageLimit           int
	UsageLimitPerUser    int
	UsedCount            int
	Active               bool
	StartsAt             *time.Time
	ExpiresAt            *time.Time
}

func (c Coupon) IsValid(now time.Time) bool {
	if !c.Active {
		return false
	}
	if c.StartsAt != nil && now.Before(*c.StartsAt) {
		return false
	}
	if c.ExpiresAt != nil && now.After(*c.ExpiresAt) {
		return false
	}
	if c.UsageLimit > 0 && c.UsedCount >= c.UsageLimit {
		return false
	}
	return true
}

// CalculateDiscount hitung potongan atas total order.
// Persentase di-cap di MaximumDiscount; hasil tidak pernah melebihi total.
func (c Coupon) CalculateDiscount(orderTotalCents int64) int64 {
	if c.MinimumAmountCents > 0 && orderTotalCents < c.MinimumAmountCents {
		return 0
	}

	var discount int64
	switch c.Type {
	case CouponFixed:
		discount = c.Value
	case CouponPercentage:
		discount = (orderTotalCents*c.Value + 50) / 100
		if c.MaximumDiscountCents > 0 && discount > c.MaximumDiscountCents {
			discount = c.MaximumDiscountCents
		}
	default:
		return 0
	}

	if discount > orderTotalCents {
		discount = orderTotalCents
	}
	return discount
}

type CouponRepo struct{ DB *pgxpool.Pool }

func (r *CouponRepo) GetByCode(ctx context.Context, code string) (Coupon, error) {
	var c Coupon
	err := r.DB.QueryRow(ctx, `
		SELECT id, code, name, type, value_cents, COALESCE(minimum_amount_cents, 0),
		       COALESCE(maximum_discount_cents, 0), COALESCE(usage_limit, 0),
		       COALESCE(usage_limit_per_user, 0), used_count, is_active, starts_at, expires_at
		FROM coupons WHERE code = $1`, code).Scan(
		&c.ID, &c.Code, &c.Name, &c.Type, &c.Value, &c.MinimumAmountCents,
		&c.MaximumDiscountCents, &c.UsageLimit, &c.UsageLimitPerUser,
		&c.UsedCount, &c.Active, &c.StartsAt, &c.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Coupon{}, ErrCouponNotFound
	}
	if err != nil {
		return Coupon{}, err
	}
	return c, nil
}

// UserUsageCount: berapa kali user sudah memakai kupon (lewat order_coupons).
func (r *CouponRepo) UserUsageCount(ctx context.Context, couponID, userID string) (int, error) {
	var n int
	err := r.DB.QueryRow(ctx, `
		SELECT COUNT(*) FROM order_coupons oc
		JOIN orders o ON o.id = oc.order_id
		WHERE oc.coupon_id = $1 AND o.user_id = $2`, couponID, userID).Scan(&n)
	return n, err
}

func (r *CouponRepo) CanBeUsedBy(ctx context.Context, c Coupon, userID string) (bool, error) {
	if c.UsageLimitPerUser <= 0 {
		return true, nil
	}
	n, err := r.UserUsageCount(ctx, c.ID, userID)
	if err != nil {
		return false, err
	}
	return n < c.UsageLimitPerUser, nil
}

// MarkUsedTx dicatat di dalam transaksi checkout, bersama order-nya.
func (r *CouponRepo) MarkUsedTx(ctx context.Context, tx pgx.Tx, couponID, orderID string) error {
	if _, err := tx.Exec(ctx, `
		INSERT INTO order_coupons(order_id, coupon_id) VALUES ($1, $2)`, orderID, couponID); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `UPDATE coupons SET used_count = used_count + 1 WHERE id = $1`, couponID)
	return err
}
