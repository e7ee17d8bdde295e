package api

import (
    "encoding/json"
    "net/http"
    "time"

    "github.com/gorilla/websocket"
)

// WebSocket order-event streaming: one connection can multiplex several order
// subscriptions, each identified by a client-chosen id.

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

type wsMessage struct {
    Type    string          `json:"type"`
    ID      string          `json:"id,omitempty"`
    Payload json.RawMessage `json:"payload,omitempty"`
}

type wsSubscribePayload struct {
    OrderID string `json:"orderId"`
}

// OrdersWSHandler handles /v1/ws/orders
func (s *Server) OrdersWSHandler(w http.ResponseWriter, r *http.Request) {
    conn, err := upgrader.Upgrade(w, r, nil)
    if err != nil {
        return
    }
    defer func() { _ = conn.Close() }()

    type sub struct {
        orderID string
        ch      chan SSEEvent
    }
    subs := map[string]sub{}

    conn.SetReadLimit(1 << 20)
    _ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
    conn.SetPongHandler(func(string) error { _ = conn.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })

    write := func(v any) error { return conn.WriteJSON(v) }
    pr := s.getPrincipal(r)

    for {
        var msg wsMessage
        if err := conn.ReadJSON(&msg); err != nil {
            break
        }
        switch msg.Type {
        case "connection_init":
            _ = write(wsMessage{Type: "connection_ack"})
            // keepalive pings hold the read deadline open
            go func() {
                ticker := time.NewTicker(20 * time.Second)
                defer ticker.Stop()
                for range ticker.C {
                    if err := write(wsMessage{Type: "ping"}); err != nil {
                        return
                    }
                }
            }()
        case "ping":
            _ = write(wsMessage{Type: "pong"})
        case "subscribe":
            var pl wsSubscribePayload
            _ = json.Unmarshal(msg.Payload, &pl)
            if pl.OrderID == "" {
                _ = write(wsMessage{Type: "error", ID: msg.ID, Payload: []byte(`{"message":"orderId required"}`)})
                _ = write(wsMessage{Type: "complete", ID: msg.ID})
                continue
            }
            // customers and couriers may only watch their own orders
            if !pr.IsAdmin() && pr.Role != "chef" {
                o, err := s.Store.GetOrder(r.Context(), pl.OrderID)
                if err != nil || (o.UserID != pr.UserID && o.AssignedTo != pr.UserID) {
                    _ = write(wsMessage{Type: "error", ID: msg.ID, Payload: []byte(`{"message":"forbidden"}`)})
                    _ = write(wsMessage{Type: "complete", ID: msg.ID})
                    continue
                }
            }
            ch := s.Broker.Subscribe(pl.OrderID)
            subs[msg.ID] = sub{orderID: pl.OrderID, ch: ch}
            go func(id string, c chan SSEEvent) {
                for evt := range c {
                    payload, _ := json.Marshal(map[string]any{"event": evt.Type, "data": evt.Data})
                    _ = write(wsMessage{Type: "next", ID: id, Payload: payload})
                }
                _ = write(wsMessage{Type: "complete", ID: id})
            }(msg.ID, ch)
        case "complete":
            if s0, ok := subs[msg.ID]; ok {
                s.Broker.Unsubscribe(s0.orderID, s0.ch)
                delete(subs, msg.ID)
            }
        default:
            // ignore
        }
    }
    for id, s0 := range subs {
        s.Broker.Unsubscribe(s0.orderID, s0.ch)
        delete(subs, id)
    }
}
