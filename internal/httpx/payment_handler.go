package httpx

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-shop-checkout.git/internal/payments"
	"github.com/ariefcatur/go-shop-checkout.git/internal/redisx"
)

type PaymentHandler struct {
	Payments *payments.Service
	Redis    *redis.Client
}

func (h *PaymentHandler) Register(r *chi.Mux) {
	r.Route("/payments", func(r chi.Router) {
		r.Post("/initiate", h.initiate)
		r.Post("/3ds/callback", h.callback)
		r.Post("/webhook", h.webhook)
		r.Get("/{id}", h.getPayment)
		r.Post("/{id}/refund", h.refund)
	})
}

type initiateReq struct {
	OrderNumber string         `json:"order_number" validate:"required"`
	Card        payments.Card  `json:"card" validate:"required"`
	Buyer       payments.Buyer `json:"buyer" validate:"required"`
}

func (h *PaymentHandler) initiate(w http.ResponseWriter, r *http.Request) {
	var req initiateReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	req.Buyer.IP = r.RemoteAddr

	res, err := h.Payments.Initiate(r.Context(), payments.InitiateInput{
		OrderNumber: req.OrderNumber,
		Card:        req.Card,
		Buyer:       req.Buyer,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if !res.Success {
		writeJSON(w, http.StatusBadRequest, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// callback: bank redirect user ke sini sebagai form POST setelah 3DS.
func (h *PaymentHandler) callback(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid form"})
		return
	}
	paymentID := r.PostFormValue("paymentId")
	if paymentID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing paymentId"})
		return
	}

	res, err := h.Payments.HandleCallback(r.Context(), payments.CallbackInput{
		GatewayPaymentID: paymentID,
		ConversationData: r.PostFormValue("conversationData"),
		Status:           r.PostFormValue("status"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if !res.Success {
		writeJSON(w, http.StatusBadRequest, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *PaymentHandler) getPayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.Payments.Store.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type refundReq struct {
	AmountCents int64 `json:"amount_cents" validate:"gte=0"`
}

func (h *PaymentHandler) refund(w http.ResponseWriter, r *http.Request) {
	var req refundReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.Payments.Refund(r.Context(), chi.URLParam(r, "id"), req.AmountCents, r.RemoteAddr)
	if err != nil {
		writeError(w, err)
		return
	}
	if !res.Success {
		writeJSON(w, http.StatusBadRequest, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type webhookEvent struct {
	EventID          string `json:"event_id"`
	EventType        string `json:"event_type"`
	GatewayPaymentID string `json:"payment_id"`
	Status           string `json:"status"`
}

// webhook: notifikasi server-to-server dari gateway. Signature dicek
// SEBELUM body dipakai; event dobel ditolak via dedup key.
func (h *PaymentHandler) webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}
	if err := h.Payments.ValidateWebhookSignature(body, r.Header.Get("X-Iyz-Signature")); err != nil {
		writeError(w, err)
		return
	}

	var ev webhookEvent
	if err := json.Unmarshal(body, &ev); err != nil || ev.EventID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}

	// Kunci dedup dilepas lagi kalau proses di bawah gagal: retry gateway
	// untuk event yang belum durable tidak boleh tertolak sebagai duplikat.
	dedupMarked := false
	dedupKey := ""
	if h.Redis != nil {
		dedupKey = fmt.Sprintf(redisx.KeyDedupWebhook, ev.EventID)
		first, err := redisx.MarkOnce(r.Context(), h.Redis, dedupKey, redisx.TTLDedup)
		if err == nil && !first {
			writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
			return
		}
		dedupMarked = err == nil && first
	}

	// Webhook hanya konfirmasi sekunder; capture tetap lewat flow callback.
	res, err := h.Payments.HandleCallback(r.Context(), payments.CallbackInput{
		GatewayPaymentID: ev.GatewayPaymentID,
		Status:           ev.Status,
	})
	if err != nil {
		if dedupMarked {
			h.Redis.Del(r.Context(), dedupKey)
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
