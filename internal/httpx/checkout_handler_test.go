package httpx

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-shop-checkout.git/internal/checkout"
)

// Refund bukan transisi fulfilment: harus ditolak di endpoint status,
// satu-satunya jalan refund lewat adapter payment.
func TestAdvanceOrderRejectsRefunded(t *testing.T) {
	h := &CheckoutHandler{Checkout: &checkout.Service{}}
	r := NewRouter()
	h.Register(r)

	req := httptest.NewRequest(http.MethodPost, "/orders/ILS-20260601-ABC123/status",
		strings.NewReader(`{"status":"refunded"}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body struct {
		Error  string            `json:"error"`
		Fields map[string]string `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "validation failed", body.Error)
	assert.Equal(t, "oneof", body.Fields["Status"])
}

func TestAdvanceOrderRejectsUnknownStatus(t *testing.T) {
	h := &CheckoutHandler{Checkout: &checkout.Service{}}
	r := NewRouter()
	h.Register(r)

	req := httptest.NewRequest(http.MethodPost, "/orders/ILS-20260601-ABC123/status",
		strings.NewReader(`{"status":"teleported"}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
