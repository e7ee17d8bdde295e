package webhooks

import (
    "context"
    "encoding/json"
    "fmt"
    "time"

    "rotihub/internal/store"
)

// Publisher fans lifecycle events out to registered partner endpoints by
// enqueuing one delivery per matching webhook.
type Publisher struct {
    Store store.Store
}

func NewPublisher(s store.Store) *Publisher {
    return &Publisher{Store: s}
}

// Emit sends an event to every webhook subscribed to the event type.
func (p *Publisher) Emit(ctx context.Context, eventType string, data any) {
    hooks, err := p.Store.WebhooksForEvent(ctx, eventType)
    if err != nil || len(hooks) == 0 {
        return
    }
    payload := map[string]any{
        "id":   fmt.Sprintf("evt_%d", time.Now().UnixNano()),
        "type": eventType,
        "ts":   time.Now().UTC().Format(time.RFC3339),
        "data": data,
    }
    body, _ := json.Marshal(payload)
    for _, h := range hooks {
        _, _ = p.Store.EnqueueWebhook(ctx, h.ID, eventType, h.URL, h.Secret, body)
    }
}
