package api

import (
    "encoding/json"
    "errors"
    "net/http"
    "strings"

    "rotihub/internal/geo"
    "rotihub/internal/model"
    "rotihub/internal/pricing"
    "rotihub/internal/store"
)

// cartView is a cart plus its running totals and the advisory fee estimate.
type cartView struct {
    model.Cart
    Subtotal       int  `json:"subtotal"`
    EstimatedFee   int  `json:"estimatedFee"`
    FeeIsEstimated bool `json:"feeIsEstimated"`
}

func (s *Server) cartViewFor(r *http.Request, c model.Cart, u model.User) cartView {
    v := cartView{Cart: c, Subtotal: pricing.Subtotal(c.Items), FeeIsEstimated: true}
    dist := -1.0
    if u.Location != nil && (c.ChefLat != 0 || c.ChefLng != 0) {
        dist = geo.HaversineKm(
            model.GeoPoint{Lat: c.ChefLat, Lng: c.ChefLng},
            model.GeoPoint{Lat: u.Location.Latitude, Lng: u.Location.Longitude},
        )
    }
    v.EstimatedFee = pricing.EstimateFee(dist)
    return v
}

// CartHandler handles GET /v1/cart and DELETE /v1/cart/{categoryId}
func (s *Server) CartHandler(w http.ResponseWriter, r *http.Request) {
    p := s.getPrincipal(r)
    if cat := strings.TrimPrefix(r.URL.Path, "/v1/cart/"); cat != r.URL.Path && cat != "" && !strings.HasPrefix(cat, "items") {
        if r.Method != http.MethodDelete { w.WriteHeader(http.StatusMethodNotAllowed); return }
        if err := s.Store.ClearCart(r.Context(), p.UserID, cat); err != nil {
            storeProblem(w, r, "Clear cart failed", err)
            return
        }
        w.WriteHeader(http.StatusNoContent)
        return
    }
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    carts, err := s.Store.ListCarts(r.Context(), p.UserID)
    if err != nil {
        storeProblem(w, r, "List carts failed", err)
        return
    }
    u, _ := s.Store.GetUser(r.Context(), p.UserID)
    views := make([]cartView, 0, len(carts))
    for _, c := range carts { views = append(views, s.cartViewFor(r, c, u)) }
    writeJSON(w, http.StatusOK, map[string]any{"items": views})
}

// CartItemsHandler handles POST /v1/cart/items and PATCH /v1/cart/items/{id}
func (s *Server) CartItemsHandler(w http.ResponseWriter, r *http.Request) {
    p := s.getPrincipal(r)
    if itemID := strings.TrimPrefix(r.URL.Path, "/v1/cart/items/"); itemID != r.URL.Path && itemID != "" {
        if r.Method != http.MethodPatch { w.WriteHeader(http.StatusMethodNotAllowed); return }
        var req struct {
            Quantity int `json:"quantity"`
        }
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        c, err := s.Store.UpdateCartItemQuantity(r.Context(), p.UserID, itemID, req.Quantity)
        if err != nil {
            storeProblem(w, r, "Update cart item failed", err)
            return
        }
        u, _ := s.Store.GetUser(r.Context(), p.UserID)
        writeJSON(w, http.StatusOK, s.cartViewFor(r, c, u))
        return
    }
    if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
    var in model.CartItemInput
    if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    // pre-check so a conflict response can name the blocking chef
    if cur, err := s.Store.GetCart(r.Context(), p.UserID, in.CategoryID); err == nil {
        if conflict := pricing.CanAdd(&cur, in.ChefID); conflict != nil {
            writeJSON(w, http.StatusConflict, map[string]any{
                "error":          "cart holds items from another chef",
                "conflictChefId": conflict.ChefID,
                "conflictChef":   conflict.ChefName,
            })
            return
        }
    }
    c, err := s.Store.UpsertCartItem(r.Context(), p.UserID, in)
    if err != nil {
        if errors.Is(err, store.ErrConflict) {
            writeJSON(w, http.StatusConflict, map[string]any{
                "error":          "cart holds items from another chef",
                "conflictChefId": c.ChefID,
                "conflictChef":   c.ChefName,
            })
            return
        }
        storeProblem(w, r, "Add cart item failed", err)
        return
    }
    u, _ := s.Store.GetUser(r.Context(), p.UserID)
    writeJSON(w, http.StatusOK, s.cartViewFor(r, c, u))
}
