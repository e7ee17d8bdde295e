// Package sched runs the periodic subscription maintenance sweeps: resuming
// paused subscriptions whose resume date arrived, expiring overdue ones, and
// recording due deliveries.
package sched

import (
    "context"
    "log"
    "os"
    "strconv"
    "time"

    "rotihub/internal/metrics"
    "rotihub/internal/model"
    "rotihub/internal/store"
    "rotihub/internal/subscription"
    "rotihub/internal/webhooks"
)

type Worker struct {
    Store    store.Store
    Pub      *webhooks.Publisher
    Interval time.Duration
    Stop     chan struct{}
}

func NewWorker(s store.Store, pub *webhooks.Publisher) *Worker {
    interval := time.Minute
    if v := os.Getenv("SCHED_INTERVAL_SEC"); v != "" {
        if n, err := strconv.Atoi(v); err == nil && n > 0 { interval = time.Duration(n) * time.Second }
    }
    return &Worker{Store: s, Pub: pub, Interval: interval, Stop: make(chan struct{})}
}

func (w *Worker) Start() {
    go func() {
        ticker := time.NewTicker(w.Interval)
        defer ticker.Stop()
        for {
            select {
            case <-w.Stop:
                return
            case <-ticker.C:
                w.RunOnce(time.Now())
            }
        }
    }()
}

// RunOnce executes one maintenance sweep. Exposed for tests and for a
// run-and-exit mode.
func (w *Worker) RunOnce(now time.Time) {
    ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
    defer cancel()

    events := map[string]string{}
    changed, err := w.Store.SweepSubscriptions(ctx, now, func(s *model.Subscription) bool {
        if subscription.DueForAutoResume(s, now) {
            if err := subscription.Resume(s, now); err == nil {
                events[s.ID] = "subscription.resumed"
                return true
            }
        }
        if subscription.SweepExpiry(s, now) {
            events[s.ID] = "subscription.expired"
            return true
        }
        if s.Status == model.SubActive && !s.NextDeliveryDate.IsZero() && !s.NextDeliveryDate.After(now) {
            if err := subscription.MarkDelivered(s, now); err == nil {
                events[s.ID] = "subscription.delivery_recorded"
                if s.Status == model.SubExpired { events[s.ID] = "subscription.expired" }
                return true
            }
        }
        return false
    })
    if err != nil {
        log.Printf("sched: sweep failed: %v", err)
        return
    }
    for _, s := range changed {
        metrics.SubscriptionTransitions.WithLabelValues(s.Status).Inc()
        if evt := events[s.ID]; evt != "" {
            w.Pub.Emit(ctx, evt, s)
        }
    }
    if len(changed) > 0 {
        log.Printf("sched: sweep updated %d subscriptions", len(changed))
    }
}
