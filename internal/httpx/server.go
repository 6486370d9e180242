package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/ariefcatur/go-shop-checkout.git/internal/cart"
	"github.com/ariefcatur/go-shop-checkout.git/internal/catalog"
	"github.com/ariefcatur/go-shop-checkout.git/internal/checkout"
	"github.com/ariefcatur/go-shop-checkout.git/internal/metrics"
	"github.com/ariefcatur/go-shop-checkout.git/internal/orders"
	"github.com/ariefcatur/go-shop-checkout.git/internal/payments"
)

var validate = validator.New()

func NewRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger)
	r.Use(middleware.Timeout(15 * time.Second))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError petakan error domain ke status code. Error yang tidak
// dikenal = 500 dengan pesan generik, detail hanya di log middleware.
func writeError(w http.ResponseWriter, err error) {
	var (
		stockErr      *orders.StockError
		oosErr        *cart.OutOfStockError
		transitionErr *orders.InvalidTransitionError
		validationErr validator.ValidationErrors
	)
	switch {
	case errors.As(err, &validationErr):
		fields := make(map[string]string, len(validationErr))
		for _, fe := range validationErr {
			fields[fe.Field()] = fe.Tag()
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "validation failed", "fields": fields})
	case errors.As(err, &stockErr):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":      "insufficient stock",
			"variant_id": stockErr.VariantID,
			"requested":  stockErr.Requested,
			"available":  stockErr.Available,
		})
	case errors.As(err, &oosErr):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":      "insufficient stock",
			"variant_id": oosErr.VariantID,
			"requested":  oosErr.Requested,
			"available":  oosErr.Available,
		})
	case errors.As(err, &transitionErr):
		writeJSON(w, http.StatusConflict, map[string]string{"error": transitionErr.Error()})
	case errors.Is(err, orders.ErrOrderNotFound),
		errors.Is(err, payments.ErrPaymentNotFound),
		errors.Is(err, catalog.ErrVariantNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, payments.ErrInvalidSignature):
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
	case errors.Is(err, payments.ErrOrderNotPayable),
		errors.Is(err, payments.ErrAlreadyPaid),
		errors.Is(err, payments.ErrRefundNotAllowed),
		errors.Is(err, payments.ErrRefundAmountExceeds):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, errBadJSON),
		errors.Is(err, cart.ErrCartExpired),
		errors.Is(err, checkout.ErrCartExpired),
		errors.Is(err, checkout.ErrEmptyCart):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

var errBadJSON = errors.New("invalid json")

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errBadJSON
	}
	return validate.Struct(v)
}
