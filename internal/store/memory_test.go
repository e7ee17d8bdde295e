package store

import (
    "context"
    "errors"
    "testing"
    "time"

    "rotihub/internal/model"
)

func TestMemoryUsers(t *testing.T) {
    m := NewMemory()
    ctx := context.Background()
    u, err := m.CreateUser(ctx, model.User{Name: "Asha", Phone: "9876543210"})
    if err != nil {
        t.Fatalf("create: %v", err)
    }
    if u.Role != "customer" {
        t.Fatalf("default role = %s", u.Role)
    }
    if _, err := m.CreateUser(ctx, model.User{Name: "Dup", Phone: "9876543210"}); !errors.Is(err, ErrConflict) {
        t.Fatalf("duplicate phone: %v", err)
    }
    got, err := m.UserByPhone(ctx, "9876543210")
    if err != nil || got.ID != u.ID {
        t.Fatalf("by phone: %v %v", got, err)
    }

    loc := &model.Location{Latitude: 19.0728, Longitude: 72.8826, Source: "gps"}
    if err := m.SetUserLocation(ctx, u.ID, loc); err != nil {
        t.Fatal(err)
    }
    got, _ = m.GetUser(ctx, u.ID)
    if got.Location == nil || got.Location.Latitude != 19.0728 {
        t.Fatalf("location not saved: %+v", got.Location)
    }
    if err := m.SetUserLocation(ctx, u.ID, nil); err != nil {
        t.Fatal(err)
    }
    got, _ = m.GetUser(ctx, u.ID)
    if got.Location != nil {
        t.Fatal("location not cleared")
    }
    if err := m.SetUserArea(ctx, "missing", nil); !errors.Is(err, ErrNotFound) {
        t.Fatalf("missing user: %v", err)
    }
}

func TestMemoryCartChefConflict(t *testing.T) {
    m := NewMemory()
    ctx := context.Background()
    add := func(chef, item string) error {
        _, err := m.UpsertCartItem(ctx, "u1", model.CartItemInput{CategoryID: "cat-roti", ChefID: chef, ItemID: item, Name: item, Price: 100, Quantity: 1})
        return err
    }
    if err := add("chef-a", "roti"); err != nil {
        t.Fatal(err)
    }
    if err := add("chef-b", "dal"); !errors.Is(err, ErrConflict) {
        t.Fatalf("cross-chef add: %v", err)
    }
    // same item accumulates quantity
    if err := add("chef-a", "roti"); err != nil {
        t.Fatal(err)
    }
    c, err := m.GetCart(ctx, "u1", "cat-roti")
    if err != nil {
        t.Fatal(err)
    }
    if len(c.Items) != 1 || c.Items[0].Quantity != 2 {
        t.Fatalf("items = %+v", c.Items)
    }

    // removing the last item frees the chef binding
    if _, err := m.UpdateCartItemQuantity(ctx, "u1", "roti", 0); err != nil {
        t.Fatal(err)
    }
    if err := add("chef-b", "dal"); err != nil {
        t.Fatalf("add after empty: %v", err)
    }
}

func TestMemoryOrderTransitions(t *testing.T) {
    m := NewMemory()
    ctx := context.Background()
    o, err := m.CreateOrder(ctx, model.Order{UserID: "u1", Subtotal: 300, DeliveryFee: 20, Total: 320})
    if err != nil {
        t.Fatal(err)
    }
    if o.Status != model.OrderPending {
        t.Fatalf("status = %s", o.Status)
    }
    if _, err := m.UpdateOrderStatus(ctx, o.ID, model.OrderPreparing); !errors.Is(err, ErrInvalidTransition) {
        t.Fatalf("skip ahead: %v", err)
    }
    if _, err := m.UpdateOrderStatus(ctx, o.ID, model.OrderConfirmed); err != nil {
        t.Fatal(err)
    }
    if _, err := m.UpdateOrderStatus(ctx, o.ID, model.OrderCancelled); err != nil {
        t.Fatalf("cancel while confirmed: %v", err)
    }
    if _, err := m.UpdateOrderStatus(ctx, o.ID, model.OrderConfirmed); !errors.Is(err, ErrInvalidTransition) {
        t.Fatalf("revive cancelled: %v", err)
    }
}

func TestMemorySlotCapacityReservation(t *testing.T) {
    m := NewMemory()
    ctx := context.Background()
    m.slots["s1"] = model.DeliverySlot{ID: "s1", Label: "Lunch", StartTime: "12:00", EndTime: "14:00", Capacity: 1, IsActive: true}

    if _, err := m.CreateSubscription(ctx, model.Subscription{UserID: "u1", Status: model.SubPendingPayment, DeliverySlotID: "s1"}); err != nil {
        t.Fatal(err)
    }
    slot, _ := m.GetDeliverySlot(ctx, "s1")
    if slot.CurrentOrders != 1 {
        t.Fatalf("currentOrders = %d", slot.CurrentOrders)
    }
    if _, err := m.CreateSubscription(ctx, model.Subscription{UserID: "u2", Status: model.SubPendingPayment, DeliverySlotID: "s1"}); !errors.Is(err, ErrConflict) {
        t.Fatalf("full slot subscribe: %v", err)
    }
    if _, err := m.CreateOrder(ctx, model.Order{UserID: "u1", DeliverySlot: "s1"}); !errors.Is(err, ErrConflict) {
        t.Fatalf("full slot order: %v", err)
    }
    if _, err := m.CreateSubscription(ctx, model.Subscription{UserID: "u1", DeliverySlotID: "nope"}); !errors.Is(err, ErrValidation) {
        t.Fatalf("unknown slot: %v", err)
    }

    // zero capacity means unmetered
    m.slots["s2"] = model.DeliverySlot{ID: "s2", Label: "Evening", StartTime: "19:00", EndTime: "21:00", IsActive: true}
    if _, err := m.CreateOrder(ctx, model.Order{UserID: "u1", DeliverySlot: "s2"}); err != nil {
        t.Fatal(err)
    }
}

func TestMemorySubscriptionPagination(t *testing.T) {
    m := NewMemory()
    ctx := context.Background()
    for i := 0; i < 5; i++ {
        if _, err := m.CreateSubscription(ctx, model.Subscription{UserID: "u1", Status: model.SubActive}); err != nil {
            t.Fatal(err)
        }
    }
    page1, next, err := m.ListSubscriptions(ctx, "", "", 2)
    if err != nil || len(page1) != 2 || next == "" {
        t.Fatalf("page1: %d next=%q err=%v", len(page1), next, err)
    }
    page2, _, err := m.ListSubscriptions(ctx, "", next, 10)
    if err != nil || len(page2) != 3 {
        t.Fatalf("page2: %d err=%v", len(page2), err)
    }
}

func TestMemoryWebhookQueue(t *testing.T) {
    m := NewMemory()
    ctx := context.Background()
    w, err := m.CreateWebhook(ctx, model.WebhookRequest{URL: "https://example.com/hook", Events: []string{"order.status.changed"}, Secret: "s"})
    if err != nil {
        t.Fatal(err)
    }
    hooks, _ := m.WebhooksForEvent(ctx, "order.status.changed")
    if len(hooks) != 1 {
        t.Fatalf("hooks = %d", len(hooks))
    }
    if hooks, _ = m.WebhooksForEvent(ctx, "other.event"); len(hooks) != 0 {
        t.Fatalf("unexpected match: %d", len(hooks))
    }

    id, err := m.EnqueueWebhook(ctx, w.ID, "order.status.changed", w.URL, w.Secret, []byte(`{}`))
    if err != nil {
        t.Fatal(err)
    }
    due, _ := m.FetchDueWebhookDeliveries(ctx, 10)
    if len(due) != 1 || due[0].ID != id {
        t.Fatalf("due = %+v", due)
    }
    // failed attempt with future retry disappears from the due set
    later := time.Now().Add(time.Hour)
    if err := m.MarkWebhookDelivery(ctx, id, false, &later, "boom", 500, 12); err != nil {
        t.Fatal(err)
    }
    if due, _ = m.FetchDueWebhookDeliveries(ctx, 10); len(due) != 0 {
        t.Fatalf("retry not deferred: %+v", due)
    }
    if err := m.FailWebhookDelivery(ctx, id, "gave up", 500, 12); err != nil {
        t.Fatal(err)
    }
    if due, _ = m.FetchDueWebhookDeliveries(ctx, 10); len(due) != 0 {
        t.Fatalf("dead-lettered delivery still due: %+v", due)
    }
}
