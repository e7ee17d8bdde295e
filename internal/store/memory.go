package store

import (
    "context"
    "fmt"
    "sort"
    "strings"
    "sync"
    "time"

    "github.com/google/uuid"
    "rotihub/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
    mu       sync.Mutex
    users    map[string]model.User
    byPhone  map[string]string                    // phone -> user id
    areas    map[string]model.Area
    chefs    map[string]model.Chef
    plans    map[string]model.Plan
    slots    map[string]model.DeliverySlot
    settings map[string]model.DeliverySetting
    subs     map[string]model.Subscription
    subsUser map[string][]string                  // user id -> subscription ids
    subOrder []string                             // insertion order for pagination
    carts    map[string]map[string]*model.Cart    // user id -> category id -> cart
    orders   map[string]model.Order
    ordUser  map[string][]string                  // user id -> order ids
    ordOrder []string
    hooks    map[string]model.Webhook
    // Webhooks queue state
    deliveries map[string]*memDelivery            // id -> delivery state
    dlq        []memDelivery
}

func NewMemory() *Memory {
    return &Memory{
        users: map[string]model.User{},
        byPhone: map[string]string{},
        areas: map[string]model.Area{},
        chefs: map[string]model.Chef{},
        plans: map[string]model.Plan{},
        slots: map[string]model.DeliverySlot{},
        settings: map[string]model.DeliverySetting{},
        subs: map[string]model.Subscription{},
        subsUser: map[string][]string{},
        carts: map[string]map[string]*model.Cart{},
        orders: map[string]model.Order{},
        ordUser: map[string][]string{},
        hooks: map[string]model.Webhook{},
        deliveries: map[string]*memDelivery{},
    }
}

// memDelivery augments WebhookDelivery with scheduling/metrics
type memDelivery struct {
    WebhookDelivery
    NextAttemptAt time.Time
    LastError     string
    ResponseCode  int
    LatencyMs     int
    DeliveredAt   *time.Time
}

// --- Users ---

func (m *Memory) CreateUser(ctx context.Context, u model.User) (model.User, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if u.Phone == "" { return model.User{}, fmt.Errorf("%w: phone required", ErrValidation) }
    if _, exists := m.byPhone[u.Phone]; exists {
        return model.User{}, fmt.Errorf("%w: phone already registered", ErrConflict)
    }
    if u.ID == "" { u.ID = uuid.New().String() }
    if u.Role == "" { u.Role = "customer" }
    u.CreatedAt = time.Now().UTC()
    m.users[u.ID] = u
    m.byPhone[u.Phone] = u.ID
    return u, nil
}

func (m *Memory) GetUser(ctx context.Context, id string) (model.User, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    u, ok := m.users[id]
    if !ok { return model.User{}, ErrNotFound }
    return u, nil
}

func (m *Memory) UserByPhone(ctx context.Context, phone string) (model.User, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    id, ok := m.byPhone[phone]
    if !ok { return model.User{}, ErrNotFound }
    return m.users[id], nil
}

func (m *Memory) SetUserLocation(ctx context.Context, userID string, loc *model.Location) error {
    m.mu.Lock(); defer m.mu.Unlock()
    u, ok := m.users[userID]
    if !ok { return ErrNotFound }
    u.Location = loc
    m.users[userID] = u
    return nil
}

func (m *Memory) SetUserArea(ctx context.Context, userID string, area *model.AreaMatch) error {
    m.mu.Lock(); defer m.mu.Unlock()
    u, ok := m.users[userID]
    if !ok { return ErrNotFound }
    u.Area = area
    m.users[userID] = u
    return nil
}

// --- Areas ---

func (m *Memory) CreateArea(ctx context.Context, in model.AreaInput) (model.Area, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if strings.TrimSpace(in.Name) == "" {
        return model.Area{}, fmt.Errorf("%w: name required", ErrValidation)
    }
    a := model.Area{
        ID: uuid.New().String(),
        Name: in.Name,
        Pincodes: in.Pincodes,
        Latitude: in.Latitude,
        Longitude: in.Longitude,
        RadiusKm: in.RadiusKm,
        IsActive: true,
    }
    if in.IsActive != nil { a.IsActive = *in.IsActive }
    m.areas[a.ID] = a
    return a, nil
}

func (m *Memory) ListAreas(ctx context.Context, activeOnly bool) ([]model.Area, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := []model.Area{}
    for _, a := range m.areas {
        if activeOnly && !a.IsActive { continue }
        out = append(out, a)
    }
    sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
    return out, nil
}

func (m *Memory) GetArea(ctx context.Context, id string) (model.Area, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    a, ok := m.areas[id]
    if !ok { return model.Area{}, ErrNotFound }
    return a, nil
}

func (m *Memory) PatchArea(ctx context.Context, id string, in model.AreaInput) (model.Area, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    a, ok := m.areas[id]
    if !ok { return model.Area{}, ErrNotFound }
    if in.Name != "" { a.Name = in.Name }
    if in.Pincodes != nil { a.Pincodes = in.Pincodes }
    if in.Latitude != 0 { a.Latitude = in.Latitude }
    if in.Longitude != 0 { a.Longitude = in.Longitude }
    if in.RadiusKm != 0 { a.RadiusKm = in.RadiusKm }
    if in.IsActive != nil { a.IsActive = *in.IsActive }
    m.areas[id] = a
    return a, nil
}

func (m *Memory) DeleteArea(ctx context.Context, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    if _, ok := m.areas[id]; !ok { return ErrNotFound }
    delete(m.areas, id)
    return nil
}

// --- Catalog ---

func (m *Memory) ListChefs(ctx context.Context) ([]model.Chef, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := []model.Chef{}
    for _, c := range m.chefs { out = append(out, c) }
    sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
    return out, nil
}

func (m *Memory) GetChef(ctx context.Context, id string) (model.Chef, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    c, ok := m.chefs[id]
    if !ok { return model.Chef{}, ErrNotFound }
    return c, nil
}

func (m *Memory) ListPlans(ctx context.Context) ([]model.Plan, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := []model.Plan{}
    for _, p := range m.plans {
        if p.IsActive { out = append(out, p) }
    }
    sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
    return out, nil
}

func (m *Memory) GetPlan(ctx context.Context, id string) (model.Plan, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    p, ok := m.plans[id]
    if !ok { return model.Plan{}, ErrNotFound }
    return p, nil
}

func (m *Memory) ListDeliverySlots(ctx context.Context) ([]model.DeliverySlot, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := []model.DeliverySlot{}
    for _, s := range m.slots {
        if s.IsActive { out = append(out, s) }
    }
    sort.Slice(out, func(i, j int) bool { return out[i].StartTime < out[j].StartTime })
    return out, nil
}

func (m *Memory) GetDeliverySlot(ctx context.Context, id string) (model.DeliverySlot, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    s, ok := m.slots[id]
    if !ok { return model.DeliverySlot{}, ErrNotFound }
    return s, nil
}

func (m *Memory) ListDeliverySettings(ctx context.Context) ([]model.DeliverySetting, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := []model.DeliverySetting{}
    for _, s := range m.settings { out = append(out, s) }
    sort.Slice(out, func(i, j int) bool { return out[i].MinDistanceKm < out[j].MinDistanceKm })
    return out, nil
}

// reserveSlotLocked consumes one unit of slot capacity. Callers hold m.mu, so
// the check and the increment are one step.
func (m *Memory) reserveSlotLocked(slotID string) error {
    slot, ok := m.slots[slotID]
    if !ok { return fmt.Errorf("%w: unknown delivery slot", ErrValidation) }
    if slot.Capacity > 0 && slot.CurrentOrders >= slot.Capacity {
        return fmt.Errorf("%w: delivery slot is full", ErrConflict)
    }
    slot.CurrentOrders++
    m.slots[slotID] = slot
    return nil
}

// --- Subscriptions ---

func (m *Memory) CreateSubscription(ctx context.Context, s model.Subscription) (model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if s.DeliverySlotID != "" {
        if err := m.reserveSlotLocked(s.DeliverySlotID); err != nil { return model.Subscription{}, err }
    }
    if s.ID == "" { s.ID = uuid.New().String() }
    m.subs[s.ID] = s
    m.subsUser[s.UserID] = append(m.subsUser[s.UserID], s.ID)
    m.subOrder = append(m.subOrder, s.ID)
    return s, nil
}

func (m *Memory) GetSubscription(ctx context.Context, id string) (model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    s, ok := m.subs[id]
    if !ok { return model.Subscription{}, ErrNotFound }
    return s, nil
}

func (m *Memory) ListSubscriptionsForUser(ctx context.Context, userID string) ([]model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := []model.Subscription{}
    for _, id := range m.subsUser[userID] { out = append(out, m.subs[id]) }
    return out, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, status, cursor string, limit int) ([]model.Subscription, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    start := 0
    if cursor != "" {
        for i, id := range m.subOrder {
            if id == cursor { start = i + 1; break }
        }
    }
    if limit <= 0 { limit = 100 }
    out := []model.Subscription{}
    next := ""
    for i := start; i < len(m.subOrder) && len(out) < limit; i++ {
        s := m.subs[m.subOrder[i]]
        if status == "" || s.Status == status { out = append(out, s) }
        next = m.subOrder[i]
    }
    if len(out) < limit { next = "" }
    return out, next, nil
}

func (m *Memory) UpdateSubscription(ctx context.Context, id string, mutate func(*model.Subscription) error) (model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    s, ok := m.subs[id]
    if !ok { return model.Subscription{}, ErrNotFound }
    if err := mutate(&s); err != nil { return model.Subscription{}, err }
    m.subs[id] = s
    return s, nil
}

func (m *Memory) SweepSubscriptions(ctx context.Context, now time.Time, mutate func(*model.Subscription) bool) ([]model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    var changed []model.Subscription
    for id, s := range m.subs {
        if mutate(&s) {
            m.subs[id] = s
            changed = append(changed, s)
        }
    }
    return changed, nil
}

// --- Carts ---

func (m *Memory) ListCarts(ctx context.Context, userID string) ([]model.Cart, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := []model.Cart{}
    for _, c := range m.carts[userID] { out = append(out, *c) }
    sort.Slice(out, func(i, j int) bool { return out[i].CategoryID < out[j].CategoryID })
    return out, nil
}

func (m *Memory) GetCart(ctx context.Context, userID, categoryID string) (model.Cart, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    c, ok := m.carts[userID][categoryID]
    if !ok { return model.Cart{}, ErrNotFound }
    return *c, nil
}

func (m *Memory) UpsertCartItem(ctx context.Context, userID string, in model.CartItemInput) (model.Cart, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if in.CategoryID == "" || in.ChefID == "" || in.ItemID == "" {
        return model.Cart{}, fmt.Errorf("%w: categoryId, chefId and itemId are required", ErrValidation)
    }
    if in.Quantity <= 0 { in.Quantity = 1 }
    byCat := m.carts[userID]
    if byCat == nil {
        byCat = map[string]*model.Cart{}
        m.carts[userID] = byCat
    }
    c, ok := byCat[in.CategoryID]
    if !ok || len(c.Items) == 0 {
        c = &model.Cart{CategoryID: in.CategoryID, ChefID: in.ChefID, ChefName: in.ChefName, ChefLat: in.ChefLat, ChefLng: in.ChefLng}
        byCat[in.CategoryID] = c
    } else if c.ChefID != in.ChefID {
        return *c, fmt.Errorf("%w: cart holds items from another chef", ErrConflict)
    }
    for i := range c.Items {
        if c.Items[i].ID == in.ItemID {
            c.Items[i].Quantity += in.Quantity
            return *c, nil
        }
    }
    c.Items = append(c.Items, model.CartItem{ID: in.ItemID, Name: in.Name, Price: in.Price, Quantity: in.Quantity})
    return *c, nil
}

func (m *Memory) UpdateCartItemQuantity(ctx context.Context, userID, itemID string, quantity int) (model.Cart, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    for cat, c := range m.carts[userID] {
        for i := range c.Items {
            if c.Items[i].ID != itemID { continue }
            if quantity <= 0 {
                c.Items = append(c.Items[:i], c.Items[i+1:]...)
            } else {
                c.Items[i].Quantity = quantity
            }
            if len(c.Items) == 0 { delete(m.carts[userID], cat) }
            return *c, nil
        }
    }
    return model.Cart{}, ErrNotFound
}

func (m *Memory) ClearCart(ctx context.Context, userID, categoryID string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    if _, ok := m.carts[userID][categoryID]; !ok { return ErrNotFound }
    delete(m.carts[userID], categoryID)
    return nil
}

// --- Orders ---

func (m *Memory) CreateOrder(ctx context.Context, o model.Order) (model.Order, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if o.DeliverySlot != "" {
        if err := m.reserveSlotLocked(o.DeliverySlot); err != nil { return model.Order{}, err }
    }
    if o.ID == "" { o.ID = uuid.New().String() }
    now := time.Now().UTC()
    if o.CreatedAt.IsZero() { o.CreatedAt = now }
    o.UpdatedAt = now
    if o.Status == "" { o.Status = model.OrderPending }
    if o.PaymentStatus == "" { o.PaymentStatus = model.PaymentPending }
    m.orders[o.ID] = o
    m.ordUser[o.UserID] = append(m.ordUser[o.UserID], o.ID)
    m.ordOrder = append(m.ordOrder, o.ID)
    return o, nil
}

func (m *Memory) GetOrder(ctx context.Context, id string) (model.Order, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    o, ok := m.orders[id]
    if !ok { return model.Order{}, ErrNotFound }
    return o, nil
}

func (m *Memory) ListOrders(ctx context.Context, userID, status, cursor string, limit int) ([]model.Order, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    ids := m.ordOrder
    if userID != "" { ids = m.ordUser[userID] }
    start := 0
    if cursor != "" {
        for i, id := range ids {
            if id == cursor { start = i + 1; break }
        }
    }
    if limit <= 0 { limit = 100 }
    out := []model.Order{}
    next := ""
    for i := start; i < len(ids) && len(out) < limit; i++ {
        o := m.orders[ids[i]]
        if status == "" || o.Status == status { out = append(out, o) }
        next = ids[i]
    }
    if len(out) < limit { next = "" }
    return out, next, nil
}

func (m *Memory) UpdateOrderStatus(ctx context.Context, id, status string) (model.Order, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    o, ok := m.orders[id]
    if !ok { return model.Order{}, ErrNotFound }
    if !model.CanTransitionOrder(o.Status, status) {
        return model.Order{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, status)
    }
    o.Status = status
    o.UpdatedAt = time.Now().UTC()
    m.orders[id] = o
    return o, nil
}

func (m *Memory) AssignOrder(ctx context.Context, id, courierID string) (model.Order, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    o, ok := m.orders[id]
    if !ok { return model.Order{}, ErrNotFound }
    o.AssignedTo = courierID
    o.UpdatedAt = time.Now().UTC()
    m.orders[id] = o
    return o, nil
}

// --- Webhooks ---

func (m *Memory) CreateWebhook(ctx context.Context, req model.WebhookRequest) (model.Webhook, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    w := model.Webhook{ID: uuid.New().String(), URL: req.URL, Events: req.Events, Secret: req.Secret}
    m.hooks[w.ID] = w
    return w, nil
}

func (m *Memory) ListWebhooks(ctx context.Context) ([]model.Webhook, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := []model.Webhook{}
    for _, w := range m.hooks { out = append(out, w) }
    sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
    return out, nil
}

func (m *Memory) DeleteWebhook(ctx context.Context, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    if _, ok := m.hooks[id]; !ok { return ErrNotFound }
    delete(m.hooks, id)
    return nil
}

func (m *Memory) WebhooksForEvent(ctx context.Context, eventType string) ([]model.Webhook, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    var out []model.Webhook
    for _, w := range m.hooks {
        for _, e := range w.Events {
            if e == eventType || e == "*" { out = append(out, w); break }
        }
    }
    return out, nil
}

func (m *Memory) EnqueueWebhook(ctx context.Context, webhookID, eventType, url, secret string, payload []byte) (string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    id := uuid.New().String()
    m.deliveries[id] = &memDelivery{
        WebhookDelivery: WebhookDelivery{ID: id, WebhookID: webhookID, EventType: eventType, URL: url, Secret: secret, Payload: payload},
        NextAttemptAt: time.Now().UTC(),
    }
    return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    now := time.Now().UTC()
    out := []WebhookDelivery{}
    for _, d := range m.deliveries {
        if d.DeliveredAt != nil || d.NextAttemptAt.After(now) { continue }
        out = append(out, d.WebhookDelivery)
        if limit > 0 && len(out) >= limit { break }
    }
    return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d, ok := m.deliveries[id]
    if !ok { return ErrNotFound }
    d.ResponseCode = responseCode
    d.LatencyMs = latencyMs
    d.LastError = lastError
    if success {
        now := time.Now().UTC()
        d.DeliveredAt = &now
        return nil
    }
    d.Attempts++
    if nextAttemptAt != nil { d.NextAttemptAt = *nextAttemptAt }
    return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d, ok := m.deliveries[id]
    if !ok { return ErrNotFound }
    d.LastError = lastError
    d.ResponseCode = responseCode
    d.LatencyMs = latencyMs
    m.dlq = append(m.dlq, *d)
    delete(m.deliveries, id)
    return nil
}
