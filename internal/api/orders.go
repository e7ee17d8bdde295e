package api

import (
    "encoding/json"
    "errors"
    "fmt"
    "net/http"
    "strings"
    "time"

    "rotihub/internal/geo"
    "rotihub/internal/metrics"
    "rotihub/internal/model"
    "rotihub/internal/pricing"
    "rotihub/internal/store"
    "rotihub/internal/subscription"
)

// OrdersHandler handles POST/GET /v1/orders. POST is checkout: the cart for
// the category becomes an order with the authoritative banded delivery fee.
func (s *Server) OrdersHandler(w http.ResponseWriter, r *http.Request) {
    p := s.getPrincipal(r)
    switch r.Method {
    case http.MethodPost:
        var req model.CheckoutRequest
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if req.CategoryID == "" || strings.TrimSpace(req.Address) == "" {
            writeProblem(w, http.StatusBadRequest, "Invalid checkout", "categoryId and address are required", r.URL.Path)
            return
        }
        cart, err := s.Store.GetCart(r.Context(), p.UserID, req.CategoryID)
        if err != nil {
            if errors.Is(err, store.ErrNotFound) {
                writeProblem(w, http.StatusBadRequest, "Empty cart", "no cart for category", r.URL.Path)
                return
            }
            storeProblem(w, r, "Load cart failed", err)
            return
        }
        if len(cart.Items) == 0 {
            writeProblem(w, http.StatusBadRequest, "Empty cart", "no items to order", r.URL.Path)
            return
        }
        loc := req.Location
        if loc == nil {
            if u, err := s.Store.GetUser(r.Context(), p.UserID); err == nil && u.Location != nil {
                loc = &model.GeoPoint{Lat: u.Location.Latitude, Lng: u.Location.Longitude}
            }
        }
        dist := -1.0
        if loc != nil && (cart.ChefLat != 0 || cart.ChefLng != 0) {
            dist = geo.HaversineKm(model.GeoPoint{Lat: cart.ChefLat, Lng: cart.ChefLng}, *loc)
        }
        settings, err := s.Store.ListDeliverySettings(r.Context())
        if err != nil {
            storeProblem(w, r, "Load delivery settings failed", err)
            return
        }
        subtotal := pricing.Subtotal(cart.Items)
        quote := pricing.ComputeDelivery(dist, subtotal, settings)
        if dist < 0 {
            // distance unknown: fall back to the flat advisory fee
            quote = pricing.Quote{Fee: pricing.EstimateFee(dist), Deliverable: true, RangeName: "Distance unknown"}
        }
        if !quote.Deliverable {
            writeProblem(w, http.StatusUnprocessableEntity, "Not deliverable", quote.RangeName, r.URL.Path)
            return
        }
        o := model.Order{
            UserID:       p.UserID,
            CategoryID:   cart.CategoryID,
            ChefID:       cart.ChefID,
            Items:        cart.Items,
            Subtotal:     subtotal,
            DeliveryFee:  quote.Fee,
            Total:        subtotal + quote.Fee,
            Address:      req.Address,
            Location:     loc,
            DeliverySlot: req.DeliverySlotID,
            DeliveryDate: time.Now().AddDate(0, 0, 1),
        }
        if req.DeliverySlotID != "" {
            slot, err := s.Store.GetDeliverySlot(r.Context(), req.DeliverySlotID)
            if err != nil {
                writeProblem(w, http.StatusBadRequest, "Invalid slot", "unknown delivery slot", r.URL.Path)
                return
            }
            if d, err := subscription.NextDeliveryFor(slot, time.Now()); err == nil {
                o.DeliveryDate = d
                o.DeliveryTime = slot.StartTime
            }
        }
        created, err := s.Store.CreateOrder(r.Context(), o)
        if err != nil {
            storeProblem(w, r, "Create order failed", err)
            return
        }
        if err := s.Store.ClearCart(r.Context(), p.UserID, req.CategoryID); err != nil && !errors.Is(err, store.ErrNotFound) {
            storeProblem(w, r, "Clear cart failed", err)
            return
        }
        metrics.OrdersCreated.Inc()
        s.Pub.Emit(r.Context(), "order.created", created)
        writeJSON(w, http.StatusCreated, created)
    case http.MethodGet:
        q := r.URL.Query()
        userID := p.UserID
        if p.IsAdmin() || p.CanDeliver() { userID = q.Get("userId") }
        items, next, err := s.Store.ListOrders(r.Context(), userID, q.Get("status"), q.Get("cursor"), atoiOr(q.Get("limit"), 100))
        if err != nil {
            storeProblem(w, r, "List orders failed", err)
            return
        }
        writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// OrderByIDHandler handles GET /v1/orders/{id}, POST .../status, POST
// .../assign, GET .../events/stream, and POST/GET .../location.
func (s *Server) OrderByIDHandler(w http.ResponseWriter, r *http.Request) {
    rest := strings.TrimPrefix(r.URL.Path, "/v1/orders/")
    if rest == r.URL.Path || rest == "" {
        writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
        return
    }
    parts := strings.Split(rest, "/")
    id := parts[0]
    p := s.getPrincipal(r)

    o, err := s.Store.GetOrder(r.Context(), id)
    if err != nil {
        storeProblem(w, r, "Order not found", err)
        return
    }
    mine := o.UserID == p.UserID || (o.AssignedTo != "" && o.AssignedTo == p.UserID)
    if !p.IsAdmin() && p.Role != "chef" && !mine {
        writeProblem(w, http.StatusForbidden, "Forbidden", "not your order", r.URL.Path)
        return
    }

    if len(parts) > 2 && parts[1] == "events" && parts[2] == "stream" {
        s.streamOrderEvents(w, r, id)
        return
    }
    action := ""
    if len(parts) > 1 { action = parts[1] }
    switch action {
    case "":
        if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
        writeJSON(w, http.StatusOK, o)
    case "status":
        if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
        var req struct {
            Status string `json:"status"`
        }
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        // customers may only cancel their own orders
        if !p.IsAdmin() && p.Role != "chef" && !p.CanDeliver() && req.Status != model.OrderCancelled {
            writeProblem(w, http.StatusForbidden, "Forbidden", "customers may only cancel", r.URL.Path)
            return
        }
        upd, err := s.Store.UpdateOrderStatus(r.Context(), id, req.Status)
        if err != nil {
            storeProblem(w, r, "Status change failed", err)
            return
        }
        evt := SSEEvent{Type: "order.status.changed", Data: map[string]any{
            "orderId": upd.ID, "status": upd.Status, "previous": o.Status, "ts": time.Now().UTC().Format(time.RFC3339),
        }}
        s.Broker.Publish(upd.ID, evt)
        s.Pub.Emit(r.Context(), "order.status.changed", evt.Data)
        writeJSON(w, http.StatusOK, upd)
    case "assign":
        if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
        if !p.IsAdmin() {
            writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
            return
        }
        var req struct {
            CourierID string `json:"courierId"`
        }
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if req.CourierID == "" {
            writeProblem(w, http.StatusBadRequest, "Missing courierId", "", r.URL.Path)
            return
        }
        upd, err := s.Store.AssignOrder(r.Context(), id, req.CourierID)
        if err != nil {
            storeProblem(w, r, "Assign failed", err)
            return
        }
        s.Broker.Publish(upd.ID, SSEEvent{Type: "order.assigned", Data: map[string]any{"orderId": upd.ID, "courierId": req.CourierID}})
        s.Pub.Emit(r.Context(), "order.assigned", upd)
        writeJSON(w, http.StatusOK, upd)
    case "location":
        s.orderLocation(w, r, o, p)
    default:
        writeProblem(w, http.StatusNotFound, "Not Found", "unknown action: "+action, r.URL.Path)
    }
}

// orderLocation handles courier position pings and reads.
func (s *Server) orderLocation(w http.ResponseWriter, r *http.Request, o model.Order, p Principal) {
    switch r.Method {
    case http.MethodPost:
        if !p.CanDeliver() || (o.AssignedTo != "" && o.AssignedTo != p.UserID && p.Role != "admin") {
            writeProblem(w, http.StatusForbidden, "Forbidden", "assigned courier required", r.URL.Path)
            return
        }
        var req struct {
            Lat float64 `json:"lat"`
            Lng float64 `json:"lng"`
        }
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if err := validateCoords(req.Lat, req.Lng); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid coordinates", err.Error(), r.URL.Path)
            return
        }
        ts := time.Now().UTC().Format(time.RFC3339)
        s.Locations.Upsert(o.ID, p.UserID, req.Lat, req.Lng, ts)
        s.Broker.Publish(o.ID, SSEEvent{Type: "courier.location", Data: map[string]any{
            "orderId": o.ID, "courierId": p.UserID, "lat": req.Lat, "lng": req.Lng, "ts": ts,
        }})
        writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
    case http.MethodGet:
        writeJSON(w, http.StatusOK, map[string]any{"items": s.Locations.ListByOrder(o.ID)})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// streamOrderEvents serves SSE for one order's events.
func (s *Server) streamOrderEvents(w http.ResponseWriter, r *http.Request, id string) {
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    flusher, ok := w.(http.Flusher)
    if !ok { writeProblem(w, 500, "Streaming unsupported", "", r.URL.Path); return }
    w.Header().Set("Content-Type", "text/event-stream")
    w.Header().Set("Cache-Control", "no-cache")
    w.Header().Set("Connection", "keep-alive")
    ch := s.Broker.Subscribe(id)
    defer s.Broker.Unsubscribe(id, ch)
    // initial heartbeat
    fmt.Fprintf(w, "event: heartbeat\n")
    fmt.Fprintf(w, "data: {\"orderId\":\"%s\",\"ts\":\"%s\"}\n\n", id, time.Now().Format(time.RFC3339))
    flusher.Flush()
    notify := r.Context().Done()
    for {
        select {
        case <-notify:
            return
        case evt := <-ch:
            b, _ := json.Marshal(evt.Data)
            fmt.Fprintf(w, "event: %s\n", evt.Type)
            fmt.Fprintf(w, "data: %s\n\n", string(b))
            flusher.Flush()
        case <-time.After(15 * time.Second):
            fmt.Fprintf(w, "event: heartbeat\n")
            fmt.Fprintf(w, "data: {\"orderId\":\"%s\",\"ts\":\"%s\"}\n\n", id, time.Now().Format(time.RFC3339))
            flusher.Flush()
        }
    }
}
