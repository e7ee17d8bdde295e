package webhooks

import (
    "context"
    "io"
    "net/http"
    "net/http/httptest"
    "testing"
    "time"

    "rotihub/internal/model"
    "rotihub/internal/store"
)

func TestNextBackoffGrowsAndCaps(t *testing.T) {
    if nextBackoff(0) != time.Second {
        t.Fatalf("attempt 0: %v", nextBackoff(0))
    }
    if nextBackoff(3) != 8*time.Second {
        t.Fatalf("attempt 3: %v", nextBackoff(3))
    }
    if nextBackoff(12) != time.Hour {
        t.Fatalf("attempt 12: %v", nextBackoff(12))
    }
    if nextBackoff(50) != time.Hour {
        t.Fatalf("huge attempt: %v", nextBackoff(50))
    }
}

func TestSignAndVerifyHMAC(t *testing.T) {
    body := []byte(`{"type":"order.status.changed"}`)
    sig := SignHMAC("secret", body)
    if !VerifyHMAC("secret", body, sig) {
        t.Fatal("valid signature rejected")
    }
    if VerifyHMAC("wrong", body, sig) {
        t.Fatal("wrong secret accepted")
    }
    if VerifyHMAC("secret", []byte(`tampered`), sig) {
        t.Fatal("tampered body accepted")
    }
}

func TestWorkerDeliversAndSigns(t *testing.T) {
    var gotSig string
    var gotBody []byte
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        gotSig = r.Header.Get("X-Signature")
        gotBody, _ = io.ReadAll(r.Body)
        w.WriteHeader(200)
    }))
    defer srv.Close()

    ctx := context.Background()
    s := store.NewMemory()
    wh, err := s.CreateWebhook(ctx, model.WebhookRequest{URL: srv.URL, Events: []string{"order.created"}, Secret: "s3cr3t"})
    if err != nil {
        t.Fatal(err)
    }
    p := NewPublisher(s)
    p.Emit(ctx, "order.created", map[string]any{"orderId": "o1"})

    w := NewWorker(s)
    w.processOnce()

    if gotSig == "" {
        t.Fatal("no signature header sent")
    }
    if !VerifyHMAC(wh.Secret, gotBody, gotSig) {
        t.Fatal("delivered signature does not verify")
    }
    due, _ := s.FetchDueWebhookDeliveries(ctx, 10)
    if len(due) != 0 {
        t.Fatalf("delivery still queued after success: %+v", due)
    }
}

func TestWorkerDeadLettersAfterMaxAttempts(t *testing.T) {
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        w.WriteHeader(500)
    }))
    defer srv.Close()

    ctx := context.Background()
    s := store.NewMemory()
    if _, err := s.CreateWebhook(ctx, model.WebhookRequest{URL: srv.URL, Events: []string{"*"}, Secret: ""}); err != nil {
        t.Fatal(err)
    }
    NewPublisher(s).Emit(ctx, "subscription.activated", map[string]any{"id": "s1"})

    w := NewWorker(s)
    w.MaxAttempts = 1
    w.processOnce()

    due, _ := s.FetchDueWebhookDeliveries(ctx, 10)
    if len(due) != 0 {
        t.Fatalf("delivery not dead-lettered: %+v", due)
    }
}
