package sched

import (
    "context"
    "testing"
    "time"

    "rotihub/internal/model"
    "rotihub/internal/store"
    "rotihub/internal/webhooks"
)

func newTestWorker() (*Worker, *store.Memory) {
    m := store.NewMemory()
    return &Worker{Store: m, Pub: webhooks.NewPublisher(m), Interval: time.Minute, Stop: make(chan struct{})}, m
}

func TestSweepAutoResumes(t *testing.T) {
    w, m := newTestWorker()
    ctx := context.Background()
    now := time.Date(2025, 6, 10, 6, 0, 0, 0, time.UTC)
    resume := now.AddDate(0, 0, -1)
    start := resume.AddDate(0, 0, -7)
    end := now.AddDate(0, 1, 0)
    s, _ := m.CreateSubscription(ctx, model.Subscription{
        Status: model.SubPaused, PauseStartDate: &start, PauseResumeDate: &resume,
        EndDate: &end, RemainingDeliveries: 10, NextDeliveryDate: now.AddDate(0, 0, 1),
    })
    w.RunOnce(now)
    got, _ := m.GetSubscription(ctx, s.ID)
    if got.Status != model.SubActive {
        t.Fatalf("status = %s, want active", got.Status)
    }
    if got.PauseResumeDate != nil {
        t.Fatal("pause window not cleared")
    }
}

func TestSweepExpiresOverdue(t *testing.T) {
    w, m := newTestWorker()
    ctx := context.Background()
    now := time.Date(2025, 6, 10, 6, 0, 0, 0, time.UTC)
    past := now.AddDate(0, 0, -3)
    s, _ := m.CreateSubscription(ctx, model.Subscription{
        Status: model.SubActive, EndDate: &past, RemainingDeliveries: 5,
        NextDeliveryDate: now.AddDate(0, 0, 1),
    })
    w.RunOnce(now)
    got, _ := m.GetSubscription(ctx, s.ID)
    if got.Status != model.SubExpired {
        t.Fatalf("status = %s, want expired", got.Status)
    }
}

func TestSweepRecordsDueDelivery(t *testing.T) {
    w, m := newTestWorker()
    ctx := context.Background()
    now := time.Date(2025, 6, 10, 6, 0, 0, 0, time.UTC)
    end := now.AddDate(0, 1, 0)
    s, _ := m.CreateSubscription(ctx, model.Subscription{
        Status: model.SubActive, EndDate: &end, RemainingDeliveries: 10,
        NextDeliveryDate: now.AddDate(0, 0, -1),
    })
    w.RunOnce(now)
    got, _ := m.GetSubscription(ctx, s.ID)
    if got.RemainingDeliveries != 9 {
        t.Fatalf("remaining = %d, want 9", got.RemainingDeliveries)
    }
    if !got.NextDeliveryDate.After(now) {
        t.Fatalf("next delivery not advanced: %v", got.NextDeliveryDate)
    }
}

func TestSweepLeavesHealthyAlone(t *testing.T) {
    w, m := newTestWorker()
    ctx := context.Background()
    now := time.Date(2025, 6, 10, 6, 0, 0, 0, time.UTC)
    end := now.AddDate(0, 1, 0)
    s, _ := m.CreateSubscription(ctx, model.Subscription{
        Status: model.SubActive, EndDate: &end, RemainingDeliveries: 10,
        NextDeliveryDate: now.AddDate(0, 0, 1),
    })
    w.RunOnce(now)
    got, _ := m.GetSubscription(ctx, s.ID)
    if got.Status != model.SubActive || got.RemainingDeliveries != 10 {
        t.Fatalf("healthy subscription mutated: %+v", got)
    }
}
