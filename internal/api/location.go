package api

import (
    "sync"
)

// CourierPosition is the latest reported position of a courier on an order.
type CourierPosition struct {
    OrderID   string  `json:"orderId"`
    CourierID string  `json:"courierId"`
    Lat       float64 `json:"lat"`
    Lng       float64 `json:"lng"`
    TS        string  `json:"ts"`
}

// CourierLocations keeps the latest position per order/courier pair. Positions
// are ephemeral; a restart simply waits for the next ping.
type CourierLocations struct {
    mu sync.Mutex
    m  map[string]CourierPosition // key: orderId|courierId
}

func NewCourierLocations() *CourierLocations { return &CourierLocations{m: map[string]CourierPosition{}} }

func (c *CourierLocations) Upsert(orderID, courierID string, lat, lng float64, ts string) {
    if orderID == "" || courierID == "" { return }
    c.mu.Lock()
    defer c.mu.Unlock()
    c.m[orderID+"|"+courierID] = CourierPosition{OrderID: orderID, CourierID: courierID, Lat: lat, Lng: lng, TS: ts}
}

// ListByOrder returns the latest positions of couriers on an order.
func (c *CourierLocations) ListByOrder(orderID string) []CourierPosition {
    c.mu.Lock()
    defer c.mu.Unlock()
    out := []CourierPosition{}
    prefix := orderID + "|"
    for k, v := range c.m {
        if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
            out = append(out, v)
        }
    }
    return out
}
