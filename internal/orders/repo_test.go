package orders

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-shop-checkout.git/internal/inventory"
)

// Test di bawah butuh Postgres (skema orders, order_items, inventories).
// Jalankan dengan:
//
//	TEST_POSTGRES_DSN=postgres://... go test ./internal/orders/
func testRepo(t *testing.T) (*Repo, *pgxpool.Pool) {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return &Repo{DB: pool, Ledger: &inventory.Ledger{DB: pool}, NumberPrefix: "TST"}, pool
}

func seedStock(t *testing.T, pool *pgxpool.Pool, qty int) string {
	t.Helper()
	variantID := uuid.NewString()
	_, err := pool.Exec(context.Background(), `
		INSERT INTO inventories(variant_id, quantity, reserved_quantity, available_quantity,
		                        low_stock_threshold, track_quantity)
		VALUES ($1, $2, 0, $2, 2, true)`, variantID, qty)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM inventories WHERE variant_id=$1`, variantID)
	})
	return variantID
}

func draftFor(userID string, items ...DraftItem) Draft {
	var subtotal int64
	for _, it := range items {
		subtotal += it.PriceCents * int64(it.Quantity)
	}
	addr := Address{FirstName: "Ayse", LastName: "Yilmaz", AddressLine1: "Bagdat Cd. 1",
		City: "Istanbul", PostalCode: "34710", Country: "TR"}
	return Draft{
		UserID:          userID,
		Currency:        "TRY",
		SubtotalCents:   subtotal,
		TaxCents:        subtotal * 18 / 100,
		ShippingCents:   2_000,
		TotalCents:      subtotal + subtotal*18/100 + 2_000,
		Items:           items,
		BillingAddress:  addr,
		ShippingAddress: addr,
	}
}

func cleanupOrders(t *testing.T, pool *pgxpool.Pool, userID string) {
	t.Helper()
	t.Cleanup(func() {
		ctx := context.Background()
		_, _ = pool.Exec(ctx, `DELETE FROM order_items WHERE order_id IN (SELECT id FROM orders WHERE user_id=$1)`, userID)
		_, _ = pool.Exec(ctx, `DELETE FROM orders WHERE user_id=$1`, userID)
	})
}

// Item kedua gagal reserve: reservasi item pertama TIDAK boleh ikut
// ter-commit — seluruh transaksi di-rollback, counter kedua variant
// kembali seperti sebelum checkout dan tidak ada order yang tersimpan.
func TestPlaceOrderRollsBackEarlierReservations(t *testing.T) {
	repo, pool := testRepo(t)
	ctx := context.Background()

	v1 := seedStock(t, pool, 10)
	v2 := seedStock(t, pool, 1)
	userID := uuid.NewString()
	cleanupOrders(t, pool, userID)

	_, err := repo.PlaceOrder(ctx, draftFor(userID,
		DraftItem{VariantID: v1, ProductName: "Kupa", Quantity: 2, PriceCents: 10_000},
		DraftItem{VariantID: v2, ProductName: "Tabak", Quantity: 5, PriceCents: 5_000},
	))

	var stockErr *StockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, v2, stockErr.VariantID)
	assert.Equal(t, 5, stockErr.Requested)
	assert.Equal(t, 1, stockErr.Available)

	s1, err := repo.Ledger.Get(ctx, v1)
	require.NoError(t, err)
	assert.Equal(t, 10, s1.Total)
	assert.Equal(t, 0, s1.Reserved)
	assert.Equal(t, 10, s1.Available)

	s2, err := repo.Ledger.Get(ctx, v2)
	require.NoError(t, err)
	assert.Equal(t, 0, s2.Reserved)
	assert.Equal(t, 1, s2.Available)

	var n int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM orders WHERE user_id=$1`, userID).Scan(&n))
	assert.Zero(t, n)
}

func TestPlaceOrderReservesAndPersists(t *testing.T) {
	repo, pool := testRepo(t)
	ctx := context.Background()

	v1 := seedStock(t, pool, 10)
	v2 := seedStock(t, pool, 1)
	userID := uuid.NewString()
	cleanupOrders(t, pool, userID)

	o, err := repo.PlaceOrder(ctx, draftFor(userID,
		DraftItem{VariantID: v1, ProductName: "Kupa", Quantity: 2, PriceCents: 10_000},
		DraftItem{VariantID: v2, ProductName: "Tabak", Quantity: 1, PriceCents: 5_000},
	))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(o.OrderNumber, "TST-"))
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, PaymentPending, o.PaymentStatus)

	got, err := repo.GetByNumber(ctx, o.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)
	assert.Equal(t, o.TotalCents, got.TotalCents)

	items, err := repo.ListItems(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)

	s1, err := repo.Ledger.Get(ctx, v1)
	require.NoError(t, err)
	assert.Equal(t, 2, s1.Reserved)
	assert.Equal(t, 8, s1.Available)

	s2, err := repo.Ledger.Get(ctx, v2)
	require.NoError(t, err)
	assert.Equal(t, 1, s2.Reserved)
	assert.Equal(t, 0, s2.Available)
}
