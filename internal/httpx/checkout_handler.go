package httpx

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-shop-checkout.git/internal/cart"
	"github.com/ariefcatur/go-shop-checkout.git/internal/checkout"
	"github.com/ariefcatur/go-shop-checkout.git/internal/metrics"
	"github.com/ariefcatur/go-shop-checkout.git/internal/orders"
	"github.com/ariefcatur/go-shop-checkout.git/internal/redisx"
)

type CheckoutHandler struct {
	Checkout *checkout.Service
	Carts    *cart.Service
	Orders   *orders.Repo
	Redis    *redis.Client
	Metrics  *metrics.Metrics
}

func (h *CheckoutHandler) Register(r *chi.Mux) {
	r.Route("/checkout", func(r chi.Router) {
		r.Post("/validate", h.validateCart)
		r.Post("/shipping", h.calculateShipping)
		r.Post("/orders", h.createOrder)
	})
	r.Route("/orders", func(r chi.Router) {
		r.Get("/{number}", h.getOrder)
		r.Get("/{number}/status", h.getOrderStatus)
		r.Post("/{number}/cancel", h.cancelOrder)
		r.Post("/{number}/status", h.advanceOrder)
	})
}

type addressReq struct {
	FirstName    string `json:"first_name" validate:"required"`
	LastName     string `json:"last_name" validate:"required"`
	Phone        string `json:"phone"`
	AddressLine1 string `json:"address_line_1" validate:"required"`
	AddressLine2 string `json:"address_line_2"`
	District     string `json:"district"`
	City         string `json:"city" validate:"required"`
	PostalCode   string `json:"postal_code" validate:"required"`
	Country      string `json:"country" validate:"required"`
}

func (a addressReq) toAddress() orders.Address {
	return orders.Address{
		FirstName:    a.FirstName,
		LastName:     a.LastName,
		Phone:        a.Phone,
		AddressLine1: a.AddressLine1,
		AddressLine2: a.AddressLine2,
		District:     a.District,
		City:         a.City,
		PostalCode:   a.PostalCode,
		Country:      a.Country,
	}
}

func (h *CheckoutHandler) currentCart(w http.ResponseWriter, r *http.Request) (cart.Cart, bool) {
	userID := r.Header.Get("X-User-ID")
	sessionID := r.Header.Get("X-Session-ID")
	if userID == "" && sessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing X-User-ID or X-Session-ID"})
		return cart.Cart{}, false
	}
	c, err := h.Carts.GetOrCreate(r.Context(), userID, sessionID)
	if err != nil {
		writeError(w, err)
		return cart.Cart{}, false
	}
	return c, true
}

func (h *CheckoutHandler) validateCart(w http.ResponseWriter, r *http.Request) {
	c, ok := h.currentCart(w, r)
	if !ok {
		return
	}
	errs := h.Checkout.ValidateCart(r.Context(), c)
	if len(errs) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{"valid": true})
		return
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Error())
	}
	writeJSON(w, http.StatusConflict, map[string]any{"valid": false, "errors": msgs})
}

type shippingReq struct {
	Address addressReq `json:"address" validate:"required"`
}

func (h *CheckoutHandler) calculateShipping(w http.ResponseWriter, r *http.Request) {
	c, ok := h.currentCart(w, r)
	if !ok {
		return
	}
	var req shippingReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Checkout.CalculateShipping(req.Address.toAddress(), c))
}

type createOrderReq struct {
	ShippingAddress addressReq  `json:"shipping_address" validate:"required"`
	BillingAddress  *addressReq `json:"billing_address"`
	CouponCode      string      `json:"coupon_code"`
}

func (h *CheckoutHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	c, ok := h.currentCart(w, r)
	if !ok {
		return
	}
	var req createOrderReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	in := checkout.CreateOrderInput{
		Cart:            c,
		UserID:          r.Header.Get("X-User-ID"),
		ShippingAddress: req.ShippingAddress.toAddress(),
		CouponCode:      req.CouponCode,
	}
	if req.BillingAddress != nil {
		in.BillingAddress = req.BillingAddress.toAddress()
	}

	start := time.Now()
	order, err := h.Checkout.CreateOrder(r.Context(), in)
	if h.Metrics != nil {
		h.Metrics.CheckoutDuration.Observe(float64(time.Since(start).Milliseconds()))
	}
	if err != nil {
		if h.Metrics != nil {
			h.Metrics.CheckoutOrders.WithLabelValues("error").Inc()
		}
		writeError(w, err)
		return
	}
	if h.Metrics != nil {
		h.Metrics.CheckoutOrders.WithLabelValues("ok").Inc()
	}

	// Cart baru dikosongkan SETELAH order ter-commit. Gagal clear bukan
	// alasan menggagalkan order — cukup di-log.
	if err := h.Carts.Clear(r.Context(), c); err != nil {
		slog.Warn("clear cart after checkout failed", "cart", c.ID, "err", err)
	}
	h.cacheStatus(r, order)

	writeJSON(w, http.StatusCreated, order)
}

func (h *CheckoutHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.Orders.GetByNumber(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		writeError(w, err)
		return
	}
	items, err := h.Orders.ListItems(r.Context(), order.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	h.cacheStatus(r, order)
	writeJSON(w, http.StatusOK, map[string]any{"order": order, "items": items})
}

// getOrderStatus: endpoint ringan untuk polling — cache Redis dulu, DB fallback.
func (h *CheckoutHandler) getOrderStatus(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")
	if h.Redis != nil {
		key := fmt.Sprintf(redisx.KeyOrderStatus, number)
		if s, err := h.Redis.Get(r.Context(), key).Result(); err == nil && s != "" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(s))
			return
		}
	}
	order, err := h.Orders.GetByNumber(r.Context(), number)
	if err != nil {
		writeError(w, err)
		return
	}
	h.cacheStatus(r, order)
	writeJSON(w, http.StatusOK, map[string]string{
		"status":         string(order.Status),
		"payment_status": string(order.PaymentStatus),
	})
}

type cancelReq struct {
	Reason string `json:"reason"`
}

func (h *CheckoutHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	var req cancelReq
	_ = json.NewDecoder(r.Body).Decode(&req) // reason opsional

	order, err := h.Checkout.CancelOrder(r.Context(), chi.URLParam(r, "number"), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	h.cacheStatus(r, order)
	writeJSON(w, http.StatusOK, order)
}

type advanceReq struct {
	Status string `json:"status" validate:"required,oneof=processing shipped delivered"`
}

// advanceOrder: transisi operasional (fulfilment). Dipanggil sistem
// internal, bukan pembeli. Refund TIDAK lewat sini — hanya via adapter
// payment, supaya status order dan payment bergerak bersama.
func (h *CheckoutHandler) advanceOrder(w http.ResponseWriter, r *http.Request) {
	var req advanceReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	order, err := h.Checkout.AdvanceOrder(r.Context(), chi.URLParam(r, "number"), orders.Status(req.Status))
	if err != nil {
		writeError(w, err)
		return
	}
	h.cacheStatus(r, order)
	writeJSON(w, http.StatusOK, order)
}

func (h *CheckoutHandler) cacheStatus(r *http.Request, o orders.Order) {
	if h.Redis == nil {
		return
	}
	key := fmt.Sprintf(redisx.KeyOrderStatus, o.OrderNumber)
	body, _ := json.Marshal(map[string]string{
		"status":         string(o.Status),
		"payment_status": string(o.PaymentStatus),
	})
	_ = h.Redis.Set(r.Context(), key, body, redisx.TTLStatusCache).Err()
}
