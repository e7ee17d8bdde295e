package api

import (
    "context"
    "errors"
    "net/http"
    "net/http/httptest"
    "strings"
    "testing"
    "time"

    "rotihub/internal/model"
    "rotihub/internal/store"
)

func addItem(t *testing.T, s *Server, userID string, price, qty int) {
    t.Helper()
    _, err := s.Store.UpsertCartItem(context.Background(), userID, model.CartItemInput{
        CategoryID: "cat-roti", ChefID: "chef-anita", ChefName: "Anita's Kitchen",
        ChefLat: 19.0728, ChefLng: 72.8826,
        ItemID: "item-roti", Name: "Roti Box", Price: price, Quantity: qty,
    })
    if err != nil {
        t.Fatalf("add item: %v", err)
    }
}

func checkout(t *testing.T, s *Server, userID string, req model.CheckoutRequest) *httptest.ResponseRecorder {
    t.Helper()
    return doJSON(t, s.OrdersHandler, http.MethodPost, "/v1/orders", req,
        map[string]string{"X-User-Id": userID})
}

func TestCheckoutFeeBands(t *testing.T) {
    s := newTestServer()

    // inside the free band
    seedUser(t, s, "u1", "customer")
    addItem(t, s, "u1", 120, 2)
    rec := checkout(t, s, "u1", model.CheckoutRequest{
        CategoryID: "cat-roti", Address: "near the kitchen",
        Location: &model.GeoPoint{Lat: 19.0728, Lng: 72.8826},
    })
    if rec.Code != http.StatusCreated {
        t.Fatalf("near checkout: %d %s", rec.Code, rec.Body.String())
    }
    var o model.Order
    decode(t, rec, &o)
    if o.DeliveryFee != 0 || o.Subtotal != 240 || o.Total != 240 {
        t.Fatalf("near order: fee=%d subtotal=%d total=%d", o.DeliveryFee, o.Subtotal, o.Total)
    }
    if o.Status != model.OrderPending {
        t.Fatalf("status = %q", o.Status)
    }
    // cart is consumed by checkout
    if _, err := s.Store.GetCart(context.Background(), "u1", "cat-roti"); !errors.Is(err, store.ErrNotFound) {
        t.Fatalf("cart should be cleared, got %v", err)
    }

    // mid band, below the free-delivery threshold
    seedUser(t, s, "u2", "customer")
    addItem(t, s, "u2", 120, 2)
    rec = checkout(t, s, "u2", model.CheckoutRequest{
        CategoryID: "cat-roti", Address: "3 km north",
        Location: &model.GeoPoint{Lat: 19.0998, Lng: 72.8826},
    })
    if rec.Code != http.StatusCreated {
        t.Fatalf("mid checkout: %d %s", rec.Code, rec.Body.String())
    }
    decode(t, rec, &o)
    if o.DeliveryFee != 20 || o.Total != 260 {
        t.Fatalf("mid order: fee=%d total=%d", o.DeliveryFee, o.Total)
    }

    // mid band, subtotal clears the threshold so delivery is free
    seedUser(t, s, "u3", "customer")
    addItem(t, s, "u3", 120, 5)
    rec = checkout(t, s, "u3", model.CheckoutRequest{
        CategoryID: "cat-roti", Address: "3 km north",
        Location: &model.GeoPoint{Lat: 19.0998, Lng: 72.8826},
    })
    decode(t, rec, &o)
    if o.DeliveryFee != 0 || o.Subtotal != 600 {
        t.Fatalf("free-threshold order: fee=%d subtotal=%d", o.DeliveryFee, o.Subtotal)
    }

    // outside every band
    seedUser(t, s, "u4", "customer")
    addItem(t, s, "u4", 120, 2)
    rec = checkout(t, s, "u4", model.CheckoutRequest{
        CategoryID: "cat-roti", Address: "too far",
        Location: &model.GeoPoint{Lat: 19.1628, Lng: 72.8826},
    })
    if rec.Code != http.StatusUnprocessableEntity {
        t.Fatalf("far checkout: %d %s", rec.Code, rec.Body.String())
    }

    // no location anywhere: flat advisory fee
    seedUser(t, s, "u5", "customer")
    addItem(t, s, "u5", 120, 2)
    rec = checkout(t, s, "u5", model.CheckoutRequest{CategoryID: "cat-roti", Address: "call on arrival"})
    if rec.Code != http.StatusCreated {
        t.Fatalf("unknown-distance checkout: %d %s", rec.Code, rec.Body.String())
    }
    decode(t, rec, &o)
    if o.DeliveryFee != 20 {
        t.Fatalf("unknown-distance fee = %d", o.DeliveryFee)
    }
}

func TestCheckoutValidation(t *testing.T) {
    s := newTestServer()
    seedUser(t, s, "u1", "customer")

    rec := checkout(t, s, "u1", model.CheckoutRequest{CategoryID: "", Address: "x"})
    if rec.Code != http.StatusBadRequest {
        t.Fatalf("missing category: %d", rec.Code)
    }
    rec = checkout(t, s, "u1", model.CheckoutRequest{CategoryID: "cat-roti", Address: "x"})
    if rec.Code != http.StatusBadRequest {
        t.Fatalf("empty cart: %d", rec.Code)
    }

    // a slot pins the delivery date and window
    addItem(t, s, "u1", 120, 2)
    rec = checkout(t, s, "u1", model.CheckoutRequest{
        CategoryID: "cat-roti", Address: "x", DeliverySlotID: "slot-lunch",
        Location: &model.GeoPoint{Lat: 19.0728, Lng: 72.8826},
    })
    if rec.Code != http.StatusCreated {
        t.Fatalf("slot checkout: %d %s", rec.Code, rec.Body.String())
    }
    var o model.Order
    decode(t, rec, &o)
    if o.DeliveryTime != "12:00" || o.DeliveryDate.IsZero() {
        t.Fatalf("slot order: time=%q date=%v", o.DeliveryTime, o.DeliveryDate)
    }

    addItem(t, s, "u1", 120, 2)
    rec = checkout(t, s, "u1", model.CheckoutRequest{
        CategoryID: "cat-roti", Address: "x", DeliverySlotID: "no-such-slot",
    })
    if rec.Code != http.StatusBadRequest {
        t.Fatalf("bad slot: %d", rec.Code)
    }
}

func createOrder(t *testing.T, s *Server, userID string) model.Order {
    t.Helper()
    addItem(t, s, userID, 120, 2)
    rec := checkout(t, s, userID, model.CheckoutRequest{
        CategoryID: "cat-roti", Address: "x",
        Location: &model.GeoPoint{Lat: 19.0728, Lng: 72.8826},
    })
    if rec.Code != http.StatusCreated {
        t.Fatalf("create order: %d %s", rec.Code, rec.Body.String())
    }
    var o model.Order
    decode(t, rec, &o)
    return o
}

func TestOrderStatusOverHTTP(t *testing.T) {
    s := newTestServer()
    seedUser(t, s, "u1", "customer")
    o := createOrder(t, s, "u1")
    base := "/v1/orders/" + o.ID
    owner := map[string]string{"X-User-Id": "u1"}
    admin := map[string]string{"X-User-Id": "adm", "X-Role": "admin"}

    setStatus := func(status string, hdr map[string]string) *httptest.ResponseRecorder {
        return doJSON(t, s.OrderByIDHandler, http.MethodPost, base+"/status",
            map[string]string{"status": status}, hdr)
    }

    // customers never advance the chain
    if rec := setStatus(model.OrderConfirmed, owner); rec.Code != http.StatusForbidden {
        t.Fatalf("customer advance: %d", rec.Code)
    }
    if rec := setStatus(model.OrderConfirmed, admin); rec.Code != http.StatusOK {
        t.Fatalf("admin confirm: %d", rec.Code)
    }
    // skipping a step is rejected
    if rec := setStatus(model.OrderPreparing, admin); rec.Code != http.StatusConflict {
        t.Fatalf("skip ahead: %d", rec.Code)
    }
    // the customer can still cancel before dispatch
    if rec := setStatus(model.OrderCancelled, owner); rec.Code != http.StatusOK {
        t.Fatalf("customer cancel: %d", rec.Code)
    }
    if rec := setStatus(model.OrderConfirmed, admin); rec.Code != http.StatusConflict {
        t.Fatalf("transition after cancel: %d", rec.Code)
    }
}

func TestOrderAssignAndLocation(t *testing.T) {
    s := newTestServer()
    seedUser(t, s, "u1", "customer")
    o := createOrder(t, s, "u1")
    base := "/v1/orders/" + o.ID
    admin := map[string]string{"X-User-Id": "adm", "X-Role": "admin"}
    courier := map[string]string{"X-User-Id": "rider-7", "X-Role": "delivery"}

    rec := doJSON(t, s.OrderByIDHandler, http.MethodPost, base+"/assign",
        map[string]string{"courierId": "rider-7"}, map[string]string{"X-User-Id": "u1"})
    if rec.Code != http.StatusForbidden {
        t.Fatalf("customer assign: %d", rec.Code)
    }
    rec = doJSON(t, s.OrderByIDHandler, http.MethodPost, base+"/assign",
        map[string]string{"courierId": "rider-7"}, admin)
    if rec.Code != http.StatusOK {
        t.Fatalf("assign: %d %s", rec.Code, rec.Body.String())
    }
    var upd model.Order
    decode(t, rec, &upd)
    if upd.AssignedTo != "rider-7" {
        t.Fatalf("assignedTo = %q", upd.AssignedTo)
    }

    rec = doJSON(t, s.OrderByIDHandler, http.MethodPost, base+"/location",
        map[string]float64{"lat": 19.07, "lng": 72.88}, courier)
    if rec.Code != http.StatusOK {
        t.Fatalf("courier ping: %d %s", rec.Code, rec.Body.String())
    }

    rec = doJSON(t, s.OrderByIDHandler, http.MethodGet, base+"/location", nil,
        map[string]string{"X-User-Id": "u1"})
    var res struct {
        Items []CourierPosition `json:"items"`
    }
    decode(t, rec, &res)
    if len(res.Items) != 1 || res.Items[0].CourierID != "rider-7" {
        t.Fatalf("positions = %+v", res.Items)
    }
}

func TestOrderOwnership(t *testing.T) {
    s := newTestServer()
    seedUser(t, s, "u1", "customer")
    seedUser(t, s, "u2", "customer")
    o := createOrder(t, s, "u1")

    rec := doJSON(t, s.OrderByIDHandler, http.MethodGet, "/v1/orders/"+o.ID, nil,
        map[string]string{"X-User-Id": "u2"})
    if rec.Code != http.StatusForbidden {
        t.Fatalf("other user read: %d", rec.Code)
    }
}

func TestOrderEventStream(t *testing.T) {
    s := newTestServer()
    seedUser(t, s, "u1", "customer")
    o := createOrder(t, s, "u1")

    ctx, cancel := context.WithCancel(context.Background())
    req := httptest.NewRequest(http.MethodGet, "/v1/orders/"+o.ID+"/events/stream", nil).WithContext(ctx)
    req.Header.Set("X-User-Id", "u1")
    rec := httptest.NewRecorder()

    done := make(chan struct{})
    go func() {
        s.OrderByIDHandler(rec, req)
        close(done)
    }()

    // give the subscriber a moment to attach, then publish and close
    time.Sleep(50 * time.Millisecond)
    s.Broker.Publish(o.ID, SSEEvent{Type: "order.status.changed", Data: map[string]any{"orderId": o.ID, "status": "confirmed"}})
    time.Sleep(50 * time.Millisecond)
    cancel()
    select {
    case <-done:
    case <-time.After(2 * time.Second):
        t.Fatal("stream did not terminate on context cancel")
    }

    body := rec.Body.String()
    if !strings.Contains(body, "event: heartbeat") {
        t.Fatalf("missing heartbeat in %q", body)
    }
    if !strings.Contains(body, "event: order.status.changed") {
        t.Fatalf("missing published event in %q", body)
    }
    if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
        t.Fatalf("content type = %q", got)
    }
}
