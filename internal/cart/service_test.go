package cart

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-shop-checkout.git/internal/catalog"
)

// ---- fakes ----

type memStore struct {
	carts map[string]*Cart
}

func newMemStore() *memStore { return &memStore{carts: map[string]*Cart{}} }

func (m *memStore) put(c Cart) { cc := c; m.carts[c.ID] = &cc }

func (m *memStore) GetOrCreateForUser(_ context.Context, userID string) (Cart, error) {
	for _, c := range m.carts {
		if c.UserID == userID {
			return *c, nil
		}
	}
	c := Cart{ID: "cart-" + userID, UserID: userID, ExpiresAt: time.Now().Add(time.Hour)}
	m.put(c)
	return c, nil
}

func (m *memStore) GetOrCreateForSession(_ context.Context, sessionID string) (Cart, error) {
	for _, c := range m.carts {
		if c.SessionID == sessionID {
			return *c, nil
		}
	}
	c := Cart{ID: "cart-" + sessionID, SessionID: sessionID, ExpiresAt: time.Now().Add(time.Hour)}
	m.put(c)
	return c, nil
}

func (m *memStore) GetByID(_ context.Context, cartID string) (Cart, error) {
	return *m.carts[cartID], nil
}

func (m *memStore) AddItem(_ context.Context, cartID, variantID string, qty int, priceCents int64) error {
	c := m.carts[cartID]
	for i := range c.Items {
		if c.Items[i].VariantID == variantID {
			c.Items[i].Quantity += qty
			c.Items[i].PriceCents = priceCents
			return nil
		}
	}
	c.Items = append(c.Items, Item{CartID: cartID, VariantID: variantID, Quantity: qty, PriceCents: priceCents})
	return nil
}

func (m *memStore) SetItemQuantity(_ context.Context, cartID, variantID string, qty int, priceCents int64) error {
	c := m.carts[cartID]
	for i := range c.Items {
		if c.Items[i].VariantID == variantID {
			c.Items[i].Quantity = qty
			c.Items[i].PriceCents = priceCents
			return nil
		}
	}
	c.Items = append(c.Items, Item{CartID: cartID, VariantID: variantID, Quantity: qty, PriceCents: priceCents})
	return nil
}

func (m *memStore) RemoveItem(_ context.Context, cartID, variantID string) error {
	c := m.carts[cartID]
	out := c.Items[:0]
	for _, it := range c.Items {
		if it.VariantID != variantID {
			out = append(out, it)
		}
	}
	c.Items = out
	return nil
}

func (m *memStore) Clear(_ context.Context, cartID string) error {
	delete(m.carts, cartID)
	return nil
}

type stubStock struct{ available map[string]int }

func (s stubStock) IsInStock(_ context.Context, id string, qty int) (bool, error) {
	return s.available[id] >= qty, nil
}

func (s stubStock) AvailableQuantity(_ context.Context, id string) (int, error) {
	return s.available[id], nil
}

type stubCatalog struct{ variants map[string]catalog.Variant }

func (s stubCatalog) GetVariant(_ context.Context, id string) (catalog.Variant, error) {
	v, ok := s.variants[id]
	if !ok {
		return catalog.Variant{}, catalog.ErrVariantNotFound
	}
	return v, nil
}

func newService(store *memStore) *Service {
	return &Service{
		Store: store,
		Stock: stubStock{available: map[string]int{"v1": 5, "v2": 3}},
		Catalog: stubCatalog{variants: map[string]catalog.Variant{
			"v1": {ID: "v1", PriceCents: 10_000, Active: true},
			"v2": {ID: "v2", PriceCents: 5_000, DiscountPct: 20, Active: true},
		}},
	}
}

// ---- tests ----

func TestAddItemAppliesVariantDiscount(t *testing.T) {
	store := newMemStore()
	s := newService(store)
	c, _ := s.GetOrCreate(context.Background(), "user-1", "")

	require.NoError(t, s.AddItem(context.Background(), c, "v2", 1))

	got, _ := store.GetByID(context.Background(), c.ID)
	require.Len(t, got.Items, 1)
	// 50.00 dengan diskon varian 20% -> 40.00
	assert.Equal(t, int64(4_000), got.Items[0].PriceCents)
}

func TestAddItemStockGateCountsExistingQuantity(t *testing.T) {
	store := newMemStore()
	s := newService(store)
	c, _ := s.GetOrCreate(context.Background(), "user-1", "")

	require.NoError(t, s.AddItem(context.Background(), c, "v1", 3))
	c, _ = store.GetByID(context.Background(), c.ID)

	// 3 sudah di cart, tambah 3 = 6 > 5 tersedia
	err := s.AddItem(context.Background(), c, "v1", 3)
	var oos *OutOfStockError
	require.ErrorAs(t, err, &oos)
	assert.Equal(t, 6, oos.Requested)
	assert.Equal(t, 5, oos.Available)

	// tambah 2 = 5, pas
	require.NoError(t, s.AddItem(context.Background(), c, "v1", 2))
}

func TestAddItemExpiredCart(t *testing.T) {
	s := newService(newMemStore())
	c := Cart{ID: "old", ExpiresAt: time.Now().Add(-time.Minute)}
	assert.ErrorIs(t, s.AddItem(context.Background(), c, "v1", 1), ErrCartExpired)
}

func TestUpdateQuantityZeroRemoves(t *testing.T) {
	store := newMemStore()
	s := newService(store)
	c, _ := s.GetOrCreate(context.Background(), "user-1", "")
	require.NoError(t, s.AddItem(context.Background(), c, "v1", 2))
	c, _ = store.GetByID(context.Background(), c.ID)

	require.NoError(t, s.UpdateQuantity(context.Background(), c, "v1", 0))
	got, _ := store.GetByID(context.Background(), c.ID)
	assert.Empty(t, got.Items)
}

func TestMergeGuestIntoUser(t *testing.T) {
	store := newMemStore()
	s := newService(store)

	guest, _ := s.GetOrCreate(context.Background(), "", "sess-1")
	require.NoError(t, s.AddItem(context.Background(), guest, "v1", 2))
	require.NoError(t, s.AddItem(context.Background(), guest, "v2", 1))
	guest, _ = store.GetByID(context.Background(), guest.ID)

	user, _ := s.GetOrCreate(context.Background(), "user-1", "")
	require.NoError(t, s.AddItem(context.Background(), user, "v1", 1))
	user, _ = store.GetByID(context.Background(), user.ID)

	require.NoError(t, s.Merge(context.Background(), guest, user))

	merged, _ := store.GetByID(context.Background(), user.ID)
	require.Len(t, merged.Items, 2)
	byVariant := map[string]int{}
	for _, it := range merged.Items {
		byVariant[it.VariantID] = it.Quantity
	}
	assert.Equal(t, 3, byVariant["v1"]) // 1 milik user + 2 dari guest
	assert.Equal(t, 1, byVariant["v2"])

	// cart guest dibuang setelah merge
	_, ok := store.carts[guest.ID]
	assert.False(t, ok)
}

func TestSummary(t *testing.T) {
	s := newService(newMemStore())
	c := Cart{Items: []Item{
		{VariantID: "v1", Quantity: 2, PriceCents: 10_000},
		{VariantID: "v2", Quantity: 1, PriceCents: 5_000},
	}}
	totals := s.Summary(c)
	assert.Equal(t, int64(25_000), totals.SubtotalCents)
	assert.Equal(t, int64(4_500), totals.TaxCents)
	assert.Equal(t, int64(29_500), totals.TotalCents)
}

func TestCartExpiredHelper(t *testing.T) {
	now := time.Now()
	assert.False(t, Cart{}.Expired(now)) // tanpa TTL tidak pernah expired
	assert.False(t, Cart{ExpiresAt: now.Add(time.Minute)}.Expired(now))
	assert.True(t, Cart{ExpiresAt: now.Add(-time.Minute)}.Expired(now))
}
