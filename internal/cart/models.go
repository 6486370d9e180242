package cart

import "time"

// Satu cart per user ATAU per anonymous session (salah satu terisi).
type Cart struct {
	ID        string
	UserID    string
	SessionID string
	Currency  string
	ExpiresAt time.Time
	Items     []Item
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (c Cart) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

func (c Cart) ItemCount() int {
	var n int
	for _, it := range c.Items {
		n += it.Quantity
	}
	return n
}

// Item menyimpan price snapshot saat dimasukkan, bukan harga live katalog.
type Item struct {
	ID         string
	CartID     string
	VariantID  string
	Quantity   int
	PriceCents int64
}
