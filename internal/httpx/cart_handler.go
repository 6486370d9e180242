package httpx

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-shop-checkout.git/internal/cart"
)

// CartHandler: cart diresolve dari header X-User-ID (login) atau
// X-Session-ID (guest). Auth sebenarnya ada di gateway depan.
type CartHandler struct {
	Carts *cart.Service
}

func (h *CartHandler) Register(r *chi.Mux) {
	r.Route("/cart", func(r chi.Router) {
		r.Get("/", h.getCart)
		r.Delete("/", h.clearCart)
		r.Post("/items", h.addItem)
		r.Put("/items/{variantID}", h.updateItem)
		r.Delete("/items/{variantID}", h.removeItem)
		r.Post("/merge", h.mergeCart)
	})
}

func (h *CartHandler) resolve(w http.ResponseWriter, r *http.Request) (cart.Cart, bool) {
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

type cartResponse struct {
	Cart    cart.Cart `json:"cart"`
	Summary any       `json:"summary"`
}

func (h *CartHandler) respondCart(w http.ResponseWriter, r *http.Request, cartID string) {
	c, err := h.Carts.Store.GetByID(r.Context(), cartID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cartResponse{Cart: c, Summary: h.Carts.Summary(c)})
}

func (h *CartHandler) getCart(w http.ResponseWriter, r *http.Request) {
	c, ok := h.resolve(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, cartResponse{Cart: c, Summary: h.Carts.Summary(c)})
}

type addItemReq struct {
	VariantID string `json:"variant_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,gt=0"`
}

func (h *CartHandler) addItem(w http.ResponseWriter, r *http.Request) {
	c, ok := h.resolve(w, r)
	if !ok {
		return
	}
	var req addItemReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.Carts.AddItem(r.Context(), c, req.VariantID, req.Quantity); err != nil {
		writeError(w, err)
		return
	}
	h.respondCart(w, r, c.ID)
}

type updateItemReq struct {
	Quantity int `json:"quantity"`
}

func (h *CartHandler) updateItem(w http.ResponseWriter, r *http.Request) {
	c, ok := h.resolve(w, r)
	if !ok {
		return
	}
	var req updateItemReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	variantID := chi.URLParam(r, "variantID")
	if err := h.Carts.UpdateQuantity(r.Context(), c, variantID, req.Quantity); err != nil {
		writeError(w, err)
		return
	}
	h.respondCart(w, r, c.ID)
}

func (h *CartHandler) removeItem(w http.ResponseWriter, r *http.Request) {
	c, ok := h.resolve(w, r)
	if !ok {
		return
	}
	if err := h.Carts.RemoveItem(r.Context(), c, chi.URLParam(r, "variantID")); err != nil {
		writeError(w, err)
		return
	}
	h.respondCart(w, r, c.ID)
}

func (h *CartHandler) clearCart(w http.ResponseWriter, r *http.Request) {
	c, ok := h.resolve(w, r)
	if !ok {
		return
	}
	if err := h.Carts.Clear(r.Context(), c); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// mergeCart: dipanggil saat guest login — cart session dilebur ke cart user.
func (h *CartHandler) mergeCart(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-ID")
	sessionID := r.Header.Get("X-Session-ID")
	if userID == "" || sessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "merge needs both X-User-ID and X-Session-ID"})
		return
	}
	guest, err := h.Carts.Store.GetOrCreateForSession(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	user, err := h.Carts.Store.GetOrCreateForUser(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.Carts.Merge(r.Context(), guest, user); err != nil {
		writeError(w, err)
		return
	}
	h.respondCart(w, r, user.ID)
}
