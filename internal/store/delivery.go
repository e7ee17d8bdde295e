package store

// WebhookDelivery is one queued outbound delivery attempt row.
type WebhookDelivery struct {
    ID        string
    WebhookID string
    EventType string
    URL       string
    Secret    string
    Payload   []byte
    Attempts  int
}
