// Package subscription is the single lifecycle engine for meal subscriptions.
// Both store implementations route every mutation through these transition
// functions so the state machine lives in exactly one place.
package subscription

import (
    "errors"
    "fmt"
    "regexp"
    "time"

    "rotihub/internal/model"
)

var (
    ErrInvalidTransition = errors.New("invalid subscription transition")
    ErrValidation        = errors.New("validation failed")
)

var timeOfDay = regexp.MustCompile(`^\d{2}:\d{2}$`)

// New builds a fresh subscription in pending_payment for a plan. The slot
// requirement for slot-scheduled plans is checked by the caller against the
// plan before calling here.
func New(plan model.Plan, req model.SubscribeRequest, userID string, now time.Time) model.Subscription {
    deliveries := plan.Deliveries
    if deliveries <= 0 { deliveries = 30 }
    end := cycleEnd(plan.Frequency, now)
    s := model.Subscription{
        UserID:              userID,
        PlanID:              plan.ID,
        ChefID:              req.ChefID,
        DeliverySlotID:      req.DeliverySlotID,
        Address:             req.Address,
        Status:              model.SubPendingPayment,
        StartDate:           now,
        EndDate:             end,
        TotalDeliveries:     deliveries,
        RemainingDeliveries: deliveries,
        NextDeliveryDate:    nextDay(now),
        NextDeliveryTime:    "09:00",
        CreatedAt:           now,
        UpdatedAt:           now,
    }
    if req.NextDeliveryTime != "" {
        s.NextDeliveryTime = req.NextDeliveryTime
    }
    return s
}

func cycleEnd(frequency string, now time.Time) *time.Time {
    var end time.Time
    switch frequency {
    case "daily":
        end = now.AddDate(0, 1, 0)
    case "weekly":
        end = now.AddDate(0, 3, 0)
    case "monthly":
        end = now.AddDate(1, 0, 0)
    default:
        return nil
    }
    return &end
}

func nextDay(now time.Time) time.Time {
    d := now.AddDate(0, 0, 1)
    return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, d.Location())
}

// ConfirmPayment records a transaction id submitted by the customer. The
// subscription moves to awaiting_verification; IsPaid stays false until an
// admin verifies. Re-submission while awaiting is allowed and replaces the id.
func ConfirmPayment(s *model.Subscription, transactionID string, now time.Time) error {
    if transactionID == "" {
        return fmt.Errorf("%w: paymentTransactionId is required", ErrValidation)
    }
    if s.Status != model.SubPendingPayment && s.Status != model.SubAwaitingVerification {
        return fmt.Errorf("%w: confirm payment from %s", ErrInvalidTransition, s.Status)
    }
    s.PaymentTransactionID = transactionID
    s.Status = model.SubAwaitingVerification
    s.UpdatedAt = now
    return nil
}

// VerifyPayment is the admin-side flip: awaiting_verification becomes active
// and the subscription is marked paid.
func VerifyPayment(s *model.Subscription, now time.Time) error {
    if s.Status != model.SubAwaitingVerification {
        return fmt.Errorf("%w: verify payment from %s", ErrInvalidTransition, s.Status)
    }
    if s.PaymentTransactionID == "" {
        return fmt.Errorf("%w: no transaction on record", ErrValidation)
    }
    s.Status = model.SubActive
    s.IsPaid = true
    s.UpdatedAt = now
    return nil
}

// Pause stops deliveries. An omitted resume date means an indefinite pause
// that needs a manual Resume; when both dates are given the resume date must
// not precede the start.
func Pause(s *model.Subscription, start, resume *time.Time, now time.Time) error {
    if s.Status != model.SubActive {
        return fmt.Errorf("%w: pause from %s", ErrInvalidTransition, s.Status)
    }
    if start == nil {
        start = &now
    }
    if resume != nil && resume.Before(*start) {
        return fmt.Errorf("%w: pauseResumeDate before pauseStartDate", ErrValidation)
    }
    s.Status = model.SubPaused
    s.PauseStartDate = start
    s.PauseResumeDate = resume
    s.UpdatedAt = now
    return nil
}

// Resume reactivates a paused subscription and clears the pause window.
func Resume(s *model.Subscription, now time.Time) error {
    if s.Status != model.SubPaused {
        return fmt.Errorf("%w: resume from %s", ErrInvalidTransition, s.Status)
    }
    s.Status = model.SubActive
    s.PauseStartDate = nil
    s.PauseResumeDate = nil
    s.UpdatedAt = now
    return nil
}

// Renew starts a fresh cycle with a fresh payment flow. Allowed for expired
// subscriptions and for active/paused ones near expiry (early renewal).
func Renew(s *model.Subscription, plan model.Plan, now time.Time) error {
    proj := Project(s, now)
    switch s.Status {
    case model.SubExpired:
    case model.SubActive, model.SubPaused:
        if !proj.IsExpired && !proj.IsExpiringSoon {
            return fmt.Errorf("%w: renew before expiry window", ErrInvalidTransition)
        }
    default:
        return fmt.Errorf("%w: renew from %s", ErrInvalidTransition, s.Status)
    }
    deliveries := plan.Deliveries
    if deliveries <= 0 { deliveries = s.TotalDeliveries }
    s.Status = model.SubPendingPayment
    s.IsPaid = false
    s.PaymentTransactionID = ""
    s.StartDate = now
    s.EndDate = cycleEnd(plan.Frequency, now)
    s.TotalDeliveries = deliveries
    s.RemainingDeliveries = deliveries
    s.NextDeliveryDate = nextDay(now)
    s.PauseStartDate = nil
    s.PauseResumeDate = nil
    s.UpdatedAt = now
    return nil
}

// Cancel ends the subscription from any non-terminal state. No refund
// handling here; that is an offline process.
func Cancel(s *model.Subscription, now time.Time) error {
    if s.Status == model.SubExpired || s.Status == model.SubCancelled {
        return fmt.Errorf("%w: cancel from %s", ErrInvalidTransition, s.Status)
    }
    s.Status = model.SubCancelled
    s.PauseStartDate = nil
    s.PauseResumeDate = nil
    s.UpdatedAt = now
    return nil
}

// UpdateDeliveryTime changes the preferred HH:mm delivery time.
func UpdateDeliveryTime(s *model.Subscription, hhmm string, now time.Time) error {
    if !timeOfDay.MatchString(hhmm) {
        return fmt.Errorf("%w: delivery time must be HH:mm", ErrValidation)
    }
    if s.Status == model.SubExpired || s.Status == model.SubCancelled {
        return fmt.Errorf("%w: update delivery time on %s", ErrInvalidTransition, s.Status)
    }
    s.NextDeliveryTime = hhmm
    s.UpdatedAt = now
    return nil
}

// Projection is the derived expiry view. It is recomputed on every read and
// never persisted, so it cannot go stale.
type Projection struct {
    IsExpired      bool `json:"isExpired"`
    IsExpiringSoon bool `json:"isExpiringSoon"`
    DaysRemaining  int  `json:"daysRemaining"`
}

// Project computes expiry status. Zero remaining deliveries expire the
// subscription regardless of end date; with an end date, "soon" means within
// seven days; without one, three or fewer remaining deliveries.
func Project(s *model.Subscription, now time.Time) Projection {
    if s.RemainingDeliveries <= 0 {
        return Projection{IsExpired: true}
    }
    if s.EndDate != nil {
        if s.EndDate.Before(now) {
            return Projection{IsExpired: true}
        }
        days := int(s.EndDate.Sub(now).Hours() / 24)
        return Projection{IsExpiringSoon: days >= 0 && days <= 7 && s.EndDate.After(now), DaysRemaining: days}
    }
    return Projection{IsExpiringSoon: s.RemainingDeliveries <= 3, DaysRemaining: s.RemainingDeliveries}
}

// MarkDelivered records one completed delivery and advances the schedule.
// Hitting zero remaining flips the subscription to expired.
func MarkDelivered(s *model.Subscription, now time.Time) error {
    if s.Status != model.SubActive {
        return fmt.Errorf("%w: deliver on %s", ErrInvalidTransition, s.Status)
    }
    if s.RemainingDeliveries > 0 {
        s.RemainingDeliveries--
    }
    s.NextDeliveryDate = nextDay(now)
    if s.RemainingDeliveries <= 0 {
        s.Status = model.SubExpired
    }
    s.UpdatedAt = now
    return nil
}

// SweepExpiry applies the projection to the stored status. Used by the
// maintenance worker; returns true when the status changed.
func SweepExpiry(s *model.Subscription, now time.Time) bool {
    if s.Status != model.SubActive && s.Status != model.SubPaused {
        return false
    }
    if !Project(s, now).IsExpired {
        return false
    }
    s.Status = model.SubExpired
    s.UpdatedAt = now
    return true
}

// DueForAutoResume reports whether a paused subscription's scheduled resume
// date has arrived.
func DueForAutoResume(s *model.Subscription, now time.Time) bool {
    return s.Status == model.SubPaused && s.PauseResumeDate != nil && !s.PauseResumeDate.After(now)
}
