package payments

import (
	"context"

	"github.com/ariefcatur/go-shop-checkout.git/internal/orders"
)

type Card struct {
	HolderName  string `json:"holder_name" validate:"required"`
	Number      string `json:"number" validate:"required,credit_card"`
	ExpireMonth string `json:"expire_month" validate:"required,len=2"`
	ExpireYear  string `json:"expire_year" validate:"required,len=4"`
	CVC         string `json:"cvc" validate:"required,min=3,max=4"`
}

type Buyer struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Surname        string `json:"surname"`
	Phone          string `json:"phone"`
	Email          string `json:"email"`
	IdentityNumber string `json:"identity_number"`
	IP             string `json:"-"`
}

// BasketItem: line item untuk risk scoring di sisi gateway.
type BasketItem struct {
	ID         string
	Name       string
	Category   string
	PriceCents int64
}

type InitiateRequest struct {
	ConversationID  string
	BasketID        string // order number
	AmountCents     int64
	Currency        string
	Card            Card
	Buyer           Buyer
	ShippingAddress orders.Address
	BillingAddress  orders.Address
	BasketItems     []BasketItem
}

// GatewayResult: kegagalan yang dilaporkan gateway adalah DATA
// (Success=false + kode), bukan error Go. Error Go hanya untuk transport.
type GatewayResult struct {
	Success      bool
	PaymentID    string // gateway transaction id
	HTMLContent  string // konten 3DS untuk dilanjutkan user
	Raw          string
	ErrorCode    string
	ErrorMessage string
}

type Gateway interface {
	Initialize3DS(ctx context.Context, req InitiateRequest) (GatewayResult, error)
	Complete3DS(ctx context.Context, conversationID, gatewayPaymentID, conversationData string) (GatewayResult, error)
	Refund(ctx context.Context, conversationID, gatewayTxID string, amountCents int64, ip string) (GatewayResult, error)
}
