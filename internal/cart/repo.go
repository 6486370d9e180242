package cart

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrCartNotFound = errors.New("cart not found")

const (
	userCartTTL    = 30 * 24 * time.Hour
	sessionCartTTL = 7 * 24 * time.Hour
)

type Repo struct {
	DB       *pgxpool.Pool
	Currency string
}

// GetOrCreateForUser: lookup-or-create, unik per user.
func (r *Repo) GetOrCreateForUser(ctx context.Context, userID string) (Cart, error) {
	c, err := r.getBy(ctx, `user_id`, userID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrCartNotFound) {
		return Cart{}, err
	}
	return r.create(ctx, userID, "", userCartTTL)
}

// GetOrCreateForSession: idem untuk anonymous session, TTL lebih pendek.
func (r *Repo) GetOrCreateForSession(ctx context.Context, sessionID string) (Cart, error) {
	c, err := r.getBy(ctx, `session_id`, sessionID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrCartNotFound) {
		return Cart{}, err
	}
	return r.create(ctx, "", sessionID, sessionCartTTL)
}

func (r *Repo) GetByID(ctx context.Context, cartID string) (Cart, error) {
	return r.getBy(ctx, `id`, cartID)
}

func (r *Repo) getBy(ctx context.Context, column, value string) (Cart, error) {
	var c Cart
	var userID, sessionID *string
	err := r.DB.QueryRow(ctx, `
		SELECT id, user_id, session_id, currency, expires_at, created_at, updated_at
		FROM carts WHERE `+column+` = $1`, value).Scan(
		&c.ID, &userID, &sessionID, &c.Currency, &c.ExpiresAt, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Cart{}, ErrCartNotFound
	}
	if err != nil {
		return Cart{}, err
	}
	if userID != nil {
		c.UserID = *userID
	}
	if sessionID != nil {
		c.SessionID = *sessionID
	}
	if c.Items, err = r.listItems(ctx, c.ID); err != nil {
		return Cart{}, err
	}
	return c, nil
}

func (r *Repo) create(ctx context.Context, userID, sessionID string, ttl time.Duration) (Cart, error) {
	currency := r.Currency
	if currency == "" {
		currency = "TRY"
	}
	now := time.Now().UTC()
	c := Cart{
		ID:        uuid.NewString(),
		UserID:    userID,
		SessionID: sessionID,
		Currency:  currency,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := r.DB.Exec(ctx, `
		INSERT INTO carts(id, user_id, session_id, currency, expires_at, created_at, updated_at)
		VALUES ($1, NULLIF($2,''), NULLIF($3,''), $4, $5, $6, $6)`,
		c.ID, userID, sessionID, currency, c.ExpiresAt, now)
	if err != nil {
		return Cart{}, err
	}
	return c, nil
}

func (r *Repo) listItems(ctx context.Context, cartID string) ([]Item, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, cart_id, variant_id, quantity, price_cents
		FROM cart_items WHERE cart_id=$1 ORDER BY created_at`, cartID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.CartID, &it.VariantID, &it.Quantity, &it.PriceCents); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// AddItem: upsert — varian sudah ada di cart berarti qty bertambah, harga di-refresh.
func (r *Repo) AddItem(ctx context.Context, cartID, variantID string, qty int, priceCents int64) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO cart_items(id, cart_id, variant_id, quantity, price_cents)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (cart_id, variant_id)
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity,
		              price_cents = EXCLUDED.price_cents`,
		uuid.NewString(), cartID, variantID, qty, priceCents)
	if err != nil {
		return err
	}
	return r.touch(ctx, cartID)
}

func (r *Repo) SetItemQuantity(ctx context.Context, cartID, variantID string, qty int, priceCents int64) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE cart_items SET quantity=$3, price_cents=$4
		WHERE cart_id=$1 AND variant_id=$2`, cartID, variantID, qty, priceCents)
	if err != nil {
		return err
	}
	return r.touch(ctx, cartID)
}

func (r *Repo) RemoveItem(ctx context.Context, cartID, variantID string) error {
	_, err := r.DB.Exec(ctx, `DELETE FROM cart_items WHERE cart_id=$1 AND variant_id=$2`, cartID, variantID)
	if err != nil {
		return err
	}
	return r.touch(ctx, cartID)
}

// Clear hapus cart beserta isinya (checkout sukses atau clear eksplisit).
func (r *Repo) Clear(ctx context.Context, cartID string) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if _, err := tx.Exec(ctx, `DELETE FROM cart_items WHERE cart_id=$1`, cartID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM carts WHERE id=$1`, cartID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repo) touch(ctx context.Context, cartID string) error {
	_, err := r.DB.Exec(ctx, `UPDATE carts SET updated_at=now() WHERE id=$1`, cartID)
	return err
}
