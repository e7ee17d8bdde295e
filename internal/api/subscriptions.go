package api

import (
    "crypto/rand"
    "crypto/sha256"
    "encoding/hex"
    "encoding/json"
    "errors"
    "fmt"
    "net/http"
    "strings"
    "time"

    "rotihub/internal/metrics"
    "rotihub/internal/model"
    "rotihub/internal/store"
    "rotihub/internal/subscription"
)

// subView decorates a subscription with its derived expiry projection.
type subView struct {
    model.Subscription
    subscription.Projection
}

func viewOf(s model.Subscription, now time.Time) subView {
    return subView{Subscription: s, Projection: subscription.Project(&s, now)}
}

// SubscriptionsHandler handles POST/GET /v1/subscriptions and POST /v1/subscriptions/public
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
    if strings.HasSuffix(r.URL.Path, "/public") {
        s.publicSubscribe(w, r)
        return
    }
    p := s.getPrincipal(r)
    switch r.Method {
    case http.MethodPost:
        var req model.SubscribeRequest
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        u, err := s.Store.GetUser(r.Context(), p.UserID)
        if err != nil {
            storeProblem(w, r, "User not found", err)
            return
        }
        sub, err := s.createSubscription(r, req, u)
        if err != nil {
            storeProblem(w, r, "Subscribe failed", err)
            return
        }
        writeJSON(w, http.StatusCreated, viewOf(sub, time.Now()))
    case http.MethodGet:
        now := time.Now()
        if p.IsAdmin() {
            q := r.URL.Query()
            items, next, err := s.Store.ListSubscriptions(r.Context(), q.Get("status"), q.Get("cursor"), atoiOr(q.Get("limit"), 100))
            if err != nil { storeProblem(w, r, "List subscriptions failed", err); return }
            views := make([]subView, 0, len(items))
            for _, it := range items { views = append(views, viewOf(it, now)) }
            writeJSON(w, http.StatusOK, map[string]any{"items": views, "nextCursor": next})
            return
        }
        items, err := s.Store.ListSubscriptionsForUser(r.Context(), p.UserID)
        if err != nil { storeProblem(w, r, "List subscriptions failed", err); return }
        views := make([]subView, 0, len(items))
        for _, it := range items { views = append(views, viewOf(it, now)) }
        writeJSON(w, http.StatusOK, map[string]any{"items": views})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

func atoiOr(v string, d int) int {
    if v == "" { return d }
    n := 0
    if _, err := fmt.Sscanf(v, "%d", &n); err != nil || n <= 0 { return d }
    return n
}

// createSubscription runs the shared subscribe path: plan checks, slot cutoff
// scheduling, and persistence.
func (s *Server) createSubscription(r *http.Request, req model.SubscribeRequest, u model.User) (model.Subscription, error) {
    plan, err := s.Store.GetPlan(r.Context(), req.PlanID)
    if err != nil {
        if errors.Is(err, store.ErrNotFound) {
            return model.Subscription{}, fmt.Errorf("%w: unknown plan", store.ErrValidation)
        }
        return model.Subscription{}, err
    }
    if err := validateSubscribeRequest(&req, plan); err != nil {
        return model.Subscription{}, fmt.Errorf("%w: %s", store.ErrValidation, err.Error())
    }
    if req.ChefID != "" {
        if _, err := s.Store.GetChef(r.Context(), req.ChefID); err != nil {
            if errors.Is(err, store.ErrNotFound) {
                return model.Subscription{}, fmt.Errorf("%w: unknown chef", store.ErrValidation)
            }
            return model.Subscription{}, err
        }
    }
    now := time.Now()
    sub := subscription.New(plan, req, u.ID, now)
    sub.CustomerName = u.Name
    sub.Phone = u.Phone
    sub.Email = u.Email
    if sub.Address == "" { sub.Address = u.Address }
    if req.DeliverySlotID != "" {
        slot, err := s.Store.GetDeliverySlot(r.Context(), req.DeliverySlotID)
        if err != nil {
            if errors.Is(err, store.ErrNotFound) {
                return model.Subscription{}, fmt.Errorf("%w: unknown delivery slot", store.ErrValidation)
            }
            return model.Subscription{}, err
        }
        // capacity is consumed atomically in CreateSubscription; a full
        // slot surfaces as ErrConflict from the store
        next, err := subscription.NextDeliveryFor(slot, now)
        if err != nil { return model.Subscription{}, err }
        sub.NextDeliveryDate = next
        sub.NextDeliveryTime = slot.StartTime
    }
    created, err := s.Store.CreateSubscription(r.Context(), sub)
    if err != nil { return model.Subscription{}, err }
    s.Pub.Emit(r.Context(), "subscription.created", created)
    return created, nil
}

// publicSubscribe handles the guest flow: an account is created (or reused)
// from the contact details, then the normal subscribe path runs.
func (s *Server) publicSubscribe(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
    var req model.PublicSubscribeRequest
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    if err := validatePublicSubscribeRequest(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid request", err.Error(), r.URL.Path)
        return
    }
    u, err := s.Store.UserByPhone(r.Context(), req.Phone)
    if errors.Is(err, store.ErrNotFound) {
        u, err = s.Store.CreateUser(r.Context(), model.User{
            Name:         req.CustomerName,
            Phone:        req.Phone,
            Email:        req.Email,
            Address:      req.Address,
            PasswordHash: randomPasswordHash(),
        })
    }
    if err != nil {
        storeProblem(w, r, "Account setup failed", err)
        return
    }
    sreq := req.SubscribeRequest
    if sreq.Address == "" { sreq.Address = req.Address }
    sub, err := s.createSubscription(r, sreq, u)
    if err != nil {
        storeProblem(w, r, "Subscribe failed", err)
        return
    }
    writeJSON(w, http.StatusCreated, viewOf(sub, time.Now()))
}

// Guest accounts never receive this password, so it must be unguessable; the
// user claims the account later via an OTP reset.
func randomPasswordHash() string {
    raw := make([]byte, 16)
    _, _ = rand.Read(raw)
    sum := sha256.Sum256(raw)
    return hex.EncodeToString(sum[:])
}

// SubscriptionByIDHandler handles GET /v1/subscriptions/{id} and the action
// posts: payment-confirmed, verify-payment, pause, resume, renew, cancel,
// plus PATCH .../delivery-time.
func (s *Server) SubscriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
    rest := strings.TrimPrefix(r.URL.Path, "/v1/subscriptions/")
    if rest == r.URL.Path || rest == "" {
        writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
        return
    }
    parts := strings.Split(rest, "/")
    id := parts[0]
    action := ""
    if len(parts) > 1 { action = parts[1] }

    p := s.getPrincipal(r)
    cur, err := s.Store.GetSubscription(r.Context(), id)
    if err != nil {
        storeProblem(w, r, "Subscription not found", err)
        return
    }
    if !p.IsAdmin() && cur.UserID != p.UserID {
        writeProblem(w, http.StatusForbidden, "Forbidden", "not your subscription", r.URL.Path)
        return
    }

    now := time.Now()
    if action == "" {
        if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
        writeJSON(w, http.StatusOK, viewOf(cur, now))
        return
    }

    if action == "delivery-time" {
        if r.Method != http.MethodPatch { w.WriteHeader(http.StatusMethodNotAllowed); return }
        var req struct {
            NextDeliveryTime string `json:"nextDeliveryTime"`
        }
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        upd, err := s.Store.UpdateSubscription(r.Context(), id, func(sub *model.Subscription) error {
            return subscription.UpdateDeliveryTime(sub, req.NextDeliveryTime, now)
        })
        if err != nil { storeProblem(w, r, "Update delivery time failed", err); return }
        writeJSON(w, http.StatusOK, viewOf(upd, now))
        return
    }

    if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
    var event string
    var mutate func(*model.Subscription) error
    switch action {
    case "payment-confirmed":
        var req struct {
            PaymentTransactionID string `json:"paymentTransactionId"`
        }
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        event = "subscription.payment_submitted"
        mutate = func(sub *model.Subscription) error {
            return subscription.ConfirmPayment(sub, req.PaymentTransactionID, now)
        }
    case "verify-payment":
        if !p.IsAdmin() {
            writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
            return
        }
        event = "subscription.activated"
        mutate = func(sub *model.Subscription) error { return subscription.VerifyPayment(sub, now) }
    case "pause":
        var req model.PauseRequest
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        start, err := parseDay(req.PauseStartDate)
        if err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid pauseStartDate", err.Error(), r.URL.Path)
            return
        }
        resume, err := parseDay(req.PauseResumeDate)
        if err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid pauseResumeDate", err.Error(), r.URL.Path)
            return
        }
        event = "subscription.paused"
        mutate = func(sub *model.Subscription) error { return subscription.Pause(sub, start, resume, now) }
    case "resume":
        event = "subscription.resumed"
        mutate = func(sub *model.Subscription) error { return subscription.Resume(sub, now) }
    case "renew":
        plan, err := s.Store.GetPlan(r.Context(), cur.PlanID)
        if err != nil { storeProblem(w, r, "Plan lookup failed", err); return }
        event = "subscription.renewed"
        mutate = func(sub *model.Subscription) error { return subscription.Renew(sub, plan, now) }
    case "cancel":
        event = "subscription.cancelled"
        mutate = func(sub *model.Subscription) error { return subscription.Cancel(sub, now) }
    default:
        writeProblem(w, http.StatusNotFound, "Not Found", "unknown action: "+action, r.URL.Path)
        return
    }

    upd, err := s.Store.UpdateSubscription(r.Context(), id, mutate)
    if err != nil {
        storeProblem(w, r, "Transition failed", err)
        return
    }
    metrics.SubscriptionTransitions.WithLabelValues(upd.Status).Inc()
    s.Pub.Emit(r.Context(), event, upd)
    writeJSON(w, http.StatusOK, viewOf(upd, now))
}

func parseDay(v string) (*time.Time, error) {
    if v == "" { return nil, nil }
    t, err := time.Parse("2006-01-02", v)
    if err != nil { return nil, err }
    return &t, nil
}
