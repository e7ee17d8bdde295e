package store

import (
    "context"
    "errors"
    "time"

    "rotihub/internal/model"
)

// Store is the persistence interface used by the API server.
type Store interface {
    // Users
    CreateUser(ctx context.Context, u model.User) (model.User, error)
    GetUser(ctx context.Context, id string) (model.User, error)
    UserByPhone(ctx context.Context, phone string) (model.User, error)
    SetUserLocation(ctx context.Context, userID string, loc *model.Location) error
    SetUserArea(ctx context.Context, userID string, area *model.AreaMatch) error

    // Areas (admin managed)
    CreateArea(ctx context.Context, in model.AreaInput) (model.Area, error)
    ListAreas(ctx context.Context, activeOnly bool) ([]model.Area, error)
    GetArea(ctx context.Context, id string) (model.Area, error)
    PatchArea(ctx context.Context, id string, in model.AreaInput) (model.Area, error)
    DeleteArea(ctx context.Context, id string) error

    // Catalog
    ListChefs(ctx context.Context) ([]model.Chef, error)
    GetChef(ctx context.Context, id string) (model.Chef, error)
    ListPlans(ctx context.Context) ([]model.Plan, error)
    GetPlan(ctx context.Context, id string) (model.Plan, error)
    ListDeliverySlots(ctx context.Context) ([]model.DeliverySlot, error)
    GetDeliverySlot(ctx context.Context, id string) (model.DeliverySlot, error)
    ListDeliverySettings(ctx context.Context) ([]model.DeliverySetting, error)

    // Subscriptions. Mutations go through UpdateSubscription so the lifecycle
    // engine is applied identically by every backend.
    CreateSubscription(ctx context.Context, s model.Subscription) (model.Subscription, error)
    GetSubscription(ctx context.Context, id string) (model.Subscription, error)
    ListSubscriptionsForUser(ctx context.Context, userID string) ([]model.Subscription, error)
    ListSubscriptions(ctx context.Context, status, cursor string, limit int) ([]model.Subscription, string, error)
    UpdateSubscription(ctx context.Context, id string, mutate func(*model.Subscription) error) (model.Subscription, error)

    // Carts (one per category per user)
    ListCarts(ctx context.Context, userID string) ([]model.Cart, error)
    GetCart(ctx context.Context, userID, categoryID string) (model.Cart, error)
    UpsertCartItem(ctx context.Context, userID string, in model.CartItemInput) (model.Cart, error)
    UpdateCartItemQuantity(ctx context.Context, userID, itemID string, quantity int) (model.Cart, error)
    ClearCart(ctx context.Context, userID, categoryID string) error

    // Orders
    CreateOrder(ctx context.Context, o model.Order) (model.Order, error)
    GetOrder(ctx context.Context, id string) (model.Order, error)
    ListOrders(ctx context.Context, userID, status, cursor string, limit int) ([]model.Order, string, error)
    UpdateOrderStatus(ctx context.Context, id, status string) (model.Order, error)
    AssignOrder(ctx context.Context, id, courierID string) (model.Order, error)

    // Webhook endpoints & delivery queue
    CreateWebhook(ctx context.Context, req model.WebhookRequest) (model.Webhook, error)
    ListWebhooks(ctx context.Context) ([]model.Webhook, error)
    DeleteWebhook(ctx context.Context, id string) error
    WebhooksForEvent(ctx context.Context, eventType string) ([]model.Webhook, error)
    EnqueueWebhook(ctx context.Context, webhookID, eventType, url, secret string, payload []byte) (string, error)
    FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
    MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
    FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error

    // Maintenance sweeps
    SweepSubscriptions(ctx context.Context, now time.Time, mutate func(*model.Subscription) bool) (changed []model.Subscription, err error)
}

var (
    ErrNotFound          = errors.New("not found")
    ErrConflict          = errors.New("conflict")
    ErrValidation        = errors.New("validation failed")
    ErrInvalidTransition = errors.New("invalid transition")
)
