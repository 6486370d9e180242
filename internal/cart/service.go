package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-shop-checkout.git/internal/catalog"
	"github.com/ariefcatur/go-shop-checkout.git/internal/pricing"
)

var ErrCartExpired = errors.New("cart expired")

// OutOfStockError bawa sisa stok untuk pesan "tinggal N" di sisi caller.
type OutOfStockError struct {
	VariantID string
	Requested int
	Available int
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("variant %s out of stock: requested %d, available %d",
		e.VariantID, e.Requested, e.Available)
}

type Store interface {
	GetOrCreateForUser(ctx context.Context, userID string) (Cart, error)
	GetOrCreateForSession(ctx context.Context, sessionID string) (Cart, error)
	GetByID(ctx context.Context, cartID string) (Cart, error)
	AddItem(ctx context.Context, cartID, variantID string, qty int, priceCents int64) error
	SetItemQuantity(ctx context.Context, cartID, variantID string, qty int, priceCents int64) error
	RemoveItem(ctx context.Context, cartID, variantID string) error
	Clear(ctx context.Context, cartID string) error
}

type StockChecker interface {
	IsInStock(ctx context.Context, variantID string, qty int) (bool, error)
	AvailableQuantity(ctx context.Context, variantID string) (int, error)
}

type VariantReader interface {
	GetVariant(ctx context.Context, variantID string) (catalog.Variant, error)
}

type Service struct {
	Store   Store
	Stock   StockChecker
	Catalog VariantReader
}

// Resolve cart milik user login, atau session anonim.
func (s *Service) GetOrCreate(ctx context.Context, userID, sessionID string) (Cart, error) {
	if userID != "" {
		return s.Store.GetOrCreateForUser(ctx, userID)
	}
	return s.Store.GetOrCreateForSession(ctx, sessionID)
}

// AddItem gate ke stok: qty yang dicek adalah qty total setelah penambahan.
func (s *Service) AddItem(ctx context.Context, c Cart, variantID string, qty int) error {
	if c.Expired(time.Now().UTC()) {
		return ErrCartExpired
	}
	v, err := s.Catalog.GetVariant(ctx, variantID)
	if err != nil {
		return err
	}

	wanted := qty
	for _, it := range c.Items {
		if it.VariantID == variantID {
			wanted += it.Quantity
		}
	}
	if err := s.checkStock(ctx, variantID, wanted); err != nil {
		return err
	}

	price := pricing.VariantPrice(v.PriceCents, v.DiscountPct)
	return s.Store.AddItem(ctx, c.ID, variantID, qty, price)
}

// UpdateQuantity: qty <= 0 berarti hapus item.
func (s *Service) UpdateQuantity(ctx context.Context, c Cart, variantID string, qty int) error {
	if qty <= 0 {
		return s.Store.RemoveItem(ctx, c.ID, variantID)
	}
	v, err := s.Catalog.GetVariant(ctx, variantID)
	if err != nil {
		return err
	}
	if err := s.checkStock(ctx, variantID, qty); err != nil {
		return err
	}
	price := pricing.VariantPrice(v.PriceCents, v.DiscountPct)
	return s.Store.SetItemQuantity(ctx, c.ID, variantID, qty, price)
}

func (s *Service) RemoveItem(ctx context.Context, c Cart, variantID string) error {
	return s.Store.RemoveItem(ctx, c.ID, variantID)
}

func (s *Service) Clear(ctx context.Context, c Cart) error {
	return s.Store.Clear(ctx, c.ID)
}

// Merge: cart guest dilebur ke cart user saat login, lalu cart guest dibuang.
func (s *Service) Merge(ctx context.Context, guest, user Cart) error {
	for _, gi := range guest.Items {
		var existing *Item
		for i := range user.Items {
			if user.Items[i].VariantID == gi.VariantID {
				existing = &user.Items[i]
				break
			}
		}
		if existing != nil {
			if err := s.Store.SetItemQuantity(ctx, user.ID, gi.VariantID,
				existing.Quantity+gi.Quantity, gi.PriceCents); err != nil {
				return err
			}
		} else {
			if err := s.Store.AddItem(ctx, user.ID, gi.VariantID, gi.Quantity, gi.PriceCents); err != nil {
				return err
			}
		}
	}
	return s.Store.Clear(ctx, guest.ID)
}

// Summary hitung subtotal/pajak/total dari price snapshot di cart.
func (s *Service) Summary(c Cart) pricing.Totals {
	lines := make([]pricing.Line, 0, len(c.Items))
	for _, it := range c.Items {
		lines = append(lines, pricing.Line{UnitPriceCents: it.PriceCents, Quantity: it.Quantity})
	}
	return pricing.CartTotal(lines)
}

func (s *Service) checkStock(ctx context.Context, variantID string, qty int) error {
	ok, err := s.Stock.IsInStock(ctx, variantID, qty)
	if err != nil {
		return err
	}
	if !ok {
		available, err := s.Stock.AvailableQuantity(ctx, variantID)
		if err != nil {
			return err
		}
		return &OutOfStockError{VariantID: variantID, Requested: qty, Available: available}
	}
	return nil
}
