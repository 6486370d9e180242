package orders

import "time"

// Metadata bag terbuka (field gateway-specific, info kargo, dst).
type Metadata map[string]any

// Address disnapshot ke order sebagai data polos, bukan referensi,
// supaya order tahan terhadap perubahan address book.
type Address struct {
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Phone        string `json:"phone,omitempty"`
	AddressLine1 string `json:"address_line_1"`
	AddressLine2 string `json:"address_line_2,omitempty"`
	District     string `json:"district,omitempty"`
	City         string `json:"city"`
	PostalCode   string `json:"postal_code"`
	Country      string `json:"country"`
}

type Order struct {
	ID            string
	OrderNumber   string
	UserID        string
	Status        Status
	PaymentStatus PaymentStatus

	SubtotalCents int64
	TaxCents      int64
	ShippingCents int64
	DiscountCents int64
	TotalCents    int64
	Currency      string

	BillingAddress  Address
	ShippingAddress Address

	PlacedAt    *time.Time
	ShippedAt   *time.Time
	DeliveredAt *time.Time

	Metadata  Metadata
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OrderItem adalah snapshot immutable dari cart item saat order dibuat.
// Harus tetap utuh walau varian katalognya dihapus.
type OrderItem struct {
	ID          string
	OrderID     string
	VariantID   string
	ProductName string
	VariantName string
	ProductSKU  string
	VariantSKU  string
	Quantity    int
	PriceCents  int64
	TotalCents  int64
	WeightGrams int
}
