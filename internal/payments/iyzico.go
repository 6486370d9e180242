package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ariefcatur/go-shop-checkout.git/internal/config"
	"github.com/ariefcatur/go-shop-checkout.git/internal/orders"
)

// IyzicoClient bicara protokol 3DS iyzico: initialize -> redirect user ->
// callback -> auth completion. Signature request pakai skema IYZWSv2
// (HMAC-SHA256 atas randomKey+path+body).
type IyzicoClient struct {
	opts   config.Gateway
	client *http.Client
}

func NewIyzicoClient(opts config.Gateway) *IyzicoClient {
	return &IyzicoClient{
		opts:   opts,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

const (
	pathThreedsInitialize = "/payment/3dsecure/initialize"
	pathThreedsAuth       = "/payment/3dsecure/auth"
	pathRefund            = "/payment/refund"
)

type iyziAddress struct {
	ContactName string `json:"contactName"`
	City        string `json:"city"`
	Country     string `json:"country"`
	Address     string `json:"address"`
	ZipCode     string `json:"zipCode"`
}

type iyziCard struct {
	CardHolderName string `json:"cardHolderName"`
	CardNumber     string `json:"cardNumber"`
	ExpireMonth    string `json:"expireMonth"`
	ExpireYear     string `json:"expireYear"`
	CVC            string `json:"cvc"`
	RegisterCard   int    `json:"registerCard"`
}

type iyziBuyer struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	Surname             string `json:"surname"`
	GSMNumber           string `json:"gsmNumber,omitempty"`
	Email               string `json:"email"`
	IdentityNumber      string `json:"identityNumber"`
	RegistrationAddress string `json:"registrationAddress"`
	IP                  string `json:"ip"`
	City                string `json:"city"`
	Country             string `json:"country"`
	ZipCode             string `json:"zipCode,omitempty"`
}

type iyziBasketItem struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Category1 string `json:"category1"`
	ItemType  string `json:"itemType"`
	Price     string `json:"price"`
}

type threedsInitializeRequest struct {
	Locale          string           `json:"locale"`
	ConversationID  string           `json:"conversationId"`
	Price           string           `json:"price"`
	PaidPrice       string           `json:"paidPrice"`
	Currency        string           `json:"currency"`
	Installment     int              `json:"installment"`
	BasketID        string           `json:"basketId"`
	PaymentGroup    string           `json:"paymentGroup"`
	CallbackURL     string           `json:"callbackUrl"`
	PaymentCard     iyziCard         `json:"paymentCard"`
	Buyer           iyziBuyer        `json:"buyer"`
	ShippingAddress iyziAddress      `json:"shippingAddress"`
	BillingAddress  iyziAddress      `json:"billingAddress"`
	BasketItems     []iyziBasketItem `json:"basketItems"`
}

type threedsAuthRequest struct {
	Locale           string `json:"locale"`
	ConversationID   string `json:"conversationId"`
	PaymentID        string `json:"paymentId"`
	ConversationData string `json:"conversationData,omitempty"`
}

type refundRequest struct {
	Locale               string `json:"locale"`
	ConversationID       string `json:"conversationId"`
	PaymentTransactionID string `json:"paymentTransactionId"`
	Price                string `json:"price"`
	IP                   string `json:"ip"`
}

type gatewayResponse struct {
	Status               string `json:"status"` // "success" | "failure"
	PaymentID            string `json:"paymentId"`
	ThreeDSHTMLContent   string `json:"threeDSHtmlContent"` // base64
	ConversationID       string `json:"conversationId"`
	ErrorCode            string `json:"errorCode"`
	ErrorMessage         string `json:"errorMessage"`
	PaymentTransactionID string `json:"paymentTransactionId"`
}

func (c *IyzicoClient) Initialize3DS(ctx context.Context, req InitiateRequest) (GatewayResult, error) {
	items := make([]iyziBasketItem, 0, len(req.BasketItems))
	for _, it := range req.BasketItems {
		items = append(items, iyziBasketItem{
			ID:        it.ID,
			Name:      it.Name,
			Category1: it.Category,
			ItemType:  "PHYSICAL",
			Price:     formatPrice(it.PriceCents),
		})
	}

	body := threedsInitializeRequest{
		Locale:         "tr",
		ConversationID: req.ConversationID,
		Price:          formatPrice(req.AmountCents),
		PaidPrice:      formatPrice(req.AmountCents),
		Currency:       req.Currency,
		Installment:    1,
		BasketID:       req.BasketID,
		PaymentGroup:   "PRODUCT",
		CallbackURL:    c.opts.CallbackURL,
		PaymentCard: iyziCard{
			CardHolderName: req.Card.HolderName,
			CardNumber:     req.Card.Number,
			ExpireMonth:    req.Card.ExpireMonth,
			ExpireYear:     req.Card.ExpireYear,
			CVC:            req.Card.CVC,
		},
		Buyer: iyziBuyer{
			ID:                  req.Buyer.ID,
			Name:                req.Buyer.Name,
			Surname:             req.Buyer.Surname,
			GSMNumber:           req.Buyer.Phone,
			Email:               req.Buyer.Email,
			IdentityNumber:      req.Buyer.IdentityNumber,
			RegistrationAddress: req.BillingAddress.AddressLine1,
			IP:                  req.Buyer.IP,
			City:                req.BillingAddress.City,
			Country:             req.BillingAddress.Country,
			ZipCode:             req.BillingAddress.PostalCode,
		},
		ShippingAddress: toIyziAddress(req.ShippingAddress),
		BillingAddress:  toIyziAddress(req.BillingAddress),
		BasketItems:     items,
	}
	return c.post(ctx, pathThreedsInitialize, body)
}

func (c *IyzicoClient) Complete3DS(ctx context.Context, conversationID, gatewayPaymentID, conversationData string) (GatewayResult, error) {
	return c.post(ctx, pathThreedsAuth, threedsAuthRequest{
		Locale:           "tr",
		ConversationID:   conversationID,
		PaymentID:        gatewayPaymentID,
		ConversationData: conversationData,
	})
}

func (c *IyzicoClient) Refund(ctx context.Context, conversationID, gatewayTxID string, amountCents int64, ip string) (GatewayResult, error) {
	return c.post(ctx, pathRefund, refundRequest{
		Locale:               "tr",
		ConversationID:       conversationID,
		PaymentTransactionID: gatewayTxID,
		Price:                formatPrice(amountCents),
		IP:                   ip,
	})
}

func (c *IyzicoClient) post(ctx context.Context, path string, payload any) (GatewayResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return GatewayResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return GatewayResult{}, err
	}
	randomKey := randomHex(8)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.authorization(randomKey, path, body))
	req.Header.Set("x-iyzi-rnd", randomKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return GatewayResult{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return GatewayResult{}, err
	}

	var gr gatewayResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return GatewayResult{}, fmt.Errorf("decode gateway response: %w", err)
	}

	res := GatewayResult{Raw: string(raw)}
	if gr.Status == "success" {
		res.Success = true
		res.PaymentID = gr.PaymentID
		if gr.PaymentTransactionID != "" {
			res.PaymentID = gr.PaymentTransactionID
		}
		if gr.ThreeDSHTMLContent != "" {
			if html, err := base64.StdEncoding.DecodeString(gr.ThreeDSHTMLContent); err == nil {
				res.HTMLContent = string(html)
			} else {
				res.HTMLContent = gr.ThreeDSHTMLContent
			}
		}
		return res, nil
	}

	res.ErrorCode = gr.ErrorCode
	res.ErrorMessage = gr.ErrorMessage
	if res.ErrorCode == "" {
		res.ErrorCode = fmt.Sprintf("HTTP_%d", resp.StatusCode)
	}
	return res, nil
}

// authorization: IYZWSv2 base64("apiKey:K&randomKey:R&signature:hexhmac")
func (c *IyzicoClient) authorization(randomKey, path string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(c.opts.SecretKey))
	mac.Write([]byte(randomKey))
	mac.Write([]byte(path))
	mac.Write(body)
	signature := hex.EncodeToString(mac.Sum(nil))

	auth := fmt.Sprintf("apiKey:%s&randomKey:%s&signature:%s", c.opts.APIKey, randomKey, signature)
	return "IYZWSv2 " + base64.StdEncoding.EncodeToString([]byte(auth))
}

func toIyziAddress(a orders.Address) iyziAddress {
	line := a.AddressLine1
	if a.AddressLine2 != "" {
		line += " " + a.AddressLine2
	}
	return iyziAddress{
		ContactName: a.FirstName + " " + a.LastName,
		City:        a.City,
		Country:     a.Country,
		Address:     line,
		ZipCode:     a.PostalCode,
	}
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// formatPrice: kuruş -> desimal string yang diminta gateway ("315.00").
func formatPrice(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}
