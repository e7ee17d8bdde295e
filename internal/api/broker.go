package api

import (
    "sync"
)

type SSEEvent struct {
    Type string
    Data map[string]any
}

// Broker is the in-memory event fanout keyed by order id.
type Broker struct {
    mu   sync.Mutex
    subs map[string]map[chan SSEEvent]struct{} // orderId -> set of channels
}

func NewBroker() *Broker {
    return &Broker{subs: map[string]map[chan SSEEvent]struct{}{}}
}

func (b *Broker) Subscribe(orderID string) chan SSEEvent {
    ch := make(chan SSEEvent, 8)
    b.mu.Lock()
    if b.subs[orderID] == nil { b.subs[orderID] = map[chan SSEEvent]struct{}{} }
    b.subs[orderID][ch] = struct{}{}
    b.mu.Unlock()
    return ch
}

func (b *Broker) Unsubscribe(orderID string, ch chan SSEEvent) {
    b.mu.Lock()
    if m := b.subs[orderID]; m != nil {
        delete(m, ch)
        if len(m) == 0 { delete(b.subs, orderID) }
    }
    b.mu.Unlock()
    close(ch)
}

func (b *Broker) Publish(orderID string, evt SSEEvent) {
    b.mu.Lock()
    m := b.subs[orderID]
    for ch := range m {
        select { case ch <- evt: default: }
    }
    b.mu.Unlock()
}
