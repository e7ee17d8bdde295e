// Package main runs a demo WebSocket client for live order events.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	do := func(method, path string, body []byte) *http.Response {
		req, _ := http.NewRequest(method, base+path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-User-Id", "u_demo")
		req.Header.Set("X-Role", "admin")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			log.Fatal(err)
		}
		return resp
	}

	// Build a cart and check out so there is an order to watch
	resp := do(http.MethodPost, "/v1/cart/items", []byte(`{"categoryId":"cat-roti","chefId":"chef-anita","chefName":"Anita's Kitchen","chefLat":19.0728,"chefLng":72.8826,"itemId":"item-roti","name":"Roti Box","price":120,"quantity":2}`))
	_ = resp.Body.Close()
	resp = do(http.MethodPost, "/v1/orders", []byte(`{"categoryId":"cat-roti","address":"12 Hill Rd, Kurla West","location":{"lat":19.0728,"lng":72.8826}}`))
	var order struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		log.Fatal(err)
	}
	_ = resp.Body.Close()
	if order.ID == "" {
		log.Fatal("no order created")
	}
	log.Printf("Order ID: %s", order.ID)

	// Connect WS
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/ws/orders"}
	hdr := http.Header{}
	hdr.Set("X-User-Id", "u_demo")
	hdr.Set("X-Role", "admin")
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	// connection_init
	if err := c.WriteJSON(wsMessage{Type: "connection_init"}); err != nil {
		log.Fatal(err)
	}
	// subscribe to the order's events
	pl, _ := json.Marshal(map[string]string{"orderId": order.ID})
	if err := c.WriteJSON(wsMessage{Type: "subscribe", ID: "1", Payload: pl}); err != nil {
		log.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s: %s", m.Type, string(m.Payload))
		}
	}()

	// Trigger an event via a status change
	time.Sleep(500 * time.Millisecond)
	resp = do(http.MethodPost, "/v1/orders/"+order.ID+"/status", []byte(`{"status":"confirmed"}`))
	_ = resp.Body.Close()

	// Wait briefly to receive a few messages
	select {
	case <-time.After(2 * time.Second):
	case <-done:
	}
}
