package subscription

import (
    "errors"
    "testing"
    "time"

    "rotihub/internal/model"
)

var testNow = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

func activeSub() model.Subscription {
    end := testNow.AddDate(0, 1, 0)
    return model.Subscription{
        Status:               model.SubActive,
        IsPaid:               true,
        PaymentTransactionID: "txn-1",
        StartDate:            testNow,
        EndDate:              &end,
        TotalDeliveries:      30,
        RemainingDeliveries:  30,
    }
}

func TestPaymentFlow(t *testing.T) {
    plan := model.Plan{ID: "p1", Frequency: "monthly", Deliveries: 30}
    s := New(plan, model.SubscribeRequest{Address: "12 Hill Rd"}, "u1", testNow)
    if s.Status != model.SubPendingPayment {
        t.Fatalf("status = %s, want pending_payment", s.Status)
    }
    if s.RemainingDeliveries != 30 || s.EndDate == nil {
        t.Fatalf("cycle not initialized: %+v", s)
    }

    if err := VerifyPayment(&s, testNow); !errors.Is(err, ErrInvalidTransition) {
        t.Fatalf("verify before confirm: %v", err)
    }
    if err := ConfirmPayment(&s, "", testNow); !errors.Is(err, ErrValidation) {
        t.Fatalf("empty txn id: %v", err)
    }
    if err := ConfirmPayment(&s, "txn-1", testNow); err != nil {
        t.Fatalf("confirm: %v", err)
    }
    if s.Status != model.SubAwaitingVerification || s.IsPaid {
        t.Fatalf("after confirm: status=%s paid=%v", s.Status, s.IsPaid)
    }
    // customer may correct the transaction id before verification
    if err := ConfirmPayment(&s, "txn-2", testNow); err != nil {
        t.Fatalf("re-confirm: %v", err)
    }
    if err := VerifyPayment(&s, testNow); err != nil {
        t.Fatalf("verify: %v", err)
    }
    if s.Status != model.SubActive || !s.IsPaid {
        t.Fatalf("after verify: status=%s paid=%v", s.Status, s.IsPaid)
    }
}

func TestPauseResume(t *testing.T) {
    s := activeSub()
    resume := testNow.AddDate(0, 0, 5)
    if err := Pause(&s, nil, &resume, testNow); err != nil {
        t.Fatalf("pause: %v", err)
    }
    if s.Status != model.SubPaused || s.PauseStartDate == nil {
        t.Fatalf("after pause: %+v", s)
    }
    if err := Pause(&s, nil, nil, testNow); !errors.Is(err, ErrInvalidTransition) {
        t.Fatalf("double pause: %v", err)
    }
    if err := Resume(&s, testNow); err != nil {
        t.Fatalf("resume: %v", err)
    }
    if s.Status != model.SubActive || s.PauseStartDate != nil || s.PauseResumeDate != nil {
        t.Fatalf("after resume: %+v", s)
    }

    s2 := activeSub()
    start := testNow.AddDate(0, 0, 5)
    before := testNow.AddDate(0, 0, 2)
    if err := Pause(&s2, &start, &before, testNow); !errors.Is(err, ErrValidation) {
        t.Fatalf("resume before start: %v", err)
    }
}

func TestAutoResumeDue(t *testing.T) {
    s := activeSub()
    resume := testNow.AddDate(0, 0, 2)
    if err := Pause(&s, nil, &resume, testNow); err != nil {
        t.Fatalf("pause: %v", err)
    }
    if DueForAutoResume(&s, testNow) {
        t.Fatal("due before resume date")
    }
    if !DueForAutoResume(&s, testNow.AddDate(0, 0, 3)) {
        t.Fatal("not due after resume date")
    }
}

func TestRenew(t *testing.T) {
    plan := model.Plan{ID: "p1", Frequency: "monthly", Deliveries: 30}

    s := activeSub()
    if err := Renew(&s, plan, testNow); !errors.Is(err, ErrInvalidTransition) {
        t.Fatalf("renew mid-cycle: %v", err)
    }

    // near expiry: allowed early
    s = activeSub()
    soon := testNow.AddDate(0, 0, 3)
    s.EndDate = &soon
    if err := Renew(&s, plan, testNow); err != nil {
        t.Fatalf("early renew: %v", err)
    }
    if s.Status != model.SubPendingPayment || s.IsPaid || s.PaymentTransactionID != "" {
        t.Fatalf("renew did not reset payment: %+v", s)
    }
    if s.RemainingDeliveries != 30 {
        t.Fatalf("remaining = %d, want 30", s.RemainingDeliveries)
    }

    s = activeSub()
    s.Status = model.SubExpired
    if err := Renew(&s, plan, testNow); err != nil {
        t.Fatalf("renew expired: %v", err)
    }
}

func TestUpdateDeliveryTime(t *testing.T) {
    s := activeSub()
    if err := UpdateDeliveryTime(&s, "8am", testNow); !errors.Is(err, ErrValidation) {
        t.Fatalf("bad time: %v", err)
    }
    if err := UpdateDeliveryTime(&s, "08:30", testNow); err != nil {
        t.Fatalf("update: %v", err)
    }
    if s.NextDeliveryTime != "08:30" {
        t.Fatalf("time = %s", s.NextDeliveryTime)
    }
    s.Status = model.SubCancelled
    if err := UpdateDeliveryTime(&s, "09:00", testNow); !errors.Is(err, ErrInvalidTransition) {
        t.Fatalf("update on cancelled: %v", err)
    }
}

func TestProject(t *testing.T) {
    cases := []struct {
        name      string
        mutate    func(*model.Subscription)
        expired   bool
        expSoon   bool
    }{
        {"fresh", func(s *model.Subscription) {}, false, false},
        {"no deliveries left", func(s *model.Subscription) { s.RemainingDeliveries = 0 }, true, false},
        {"past end date", func(s *model.Subscription) { past := testNow.AddDate(0, 0, -1); s.EndDate = &past }, true, false},
        {"ends in 5 days", func(s *model.Subscription) { d := testNow.AddDate(0, 0, 5); s.EndDate = &d }, false, true},
        {"no end, 2 left", func(s *model.Subscription) { s.EndDate = nil; s.RemainingDeliveries = 2 }, false, true},
        {"no end, 10 left", func(s *model.Subscription) { s.EndDate = nil; s.RemainingDeliveries = 10 }, false, false},
    }
    for _, tc := range cases {
        s := activeSub()
        tc.mutate(&s)
        p := Project(&s, testNow)
        if p.IsExpired != tc.expired || p.IsExpiringSoon != tc.expSoon {
            t.Errorf("%s: got expired=%v soon=%v, want %v/%v", tc.name, p.IsExpired, p.IsExpiringSoon, tc.expired, tc.expSoon)
        }
    }
}

func TestMarkDeliveredExpiresAtZero(t *testing.T) {
    s := activeSub()
    s.RemainingDeliveries = 1
    if err := MarkDelivered(&s, testNow); err != nil {
        t.Fatalf("deliver: %v", err)
    }
    if s.RemainingDeliveries != 0 || s.Status != model.SubExpired {
        t.Fatalf("after last delivery: %+v", s)
    }
}

func TestSweepExpiry(t *testing.T) {
    s := activeSub()
    if SweepExpiry(&s, testNow) {
        t.Fatal("swept a healthy subscription")
    }
    past := testNow.AddDate(0, 0, -2)
    s.EndDate = &past
    if !SweepExpiry(&s, testNow) {
        t.Fatal("did not sweep overdue subscription")
    }
    if s.Status != model.SubExpired {
        t.Fatalf("status = %s", s.Status)
    }
}

func TestNextDeliveryFor(t *testing.T) {
    slot := model.DeliverySlot{StartTime: "18:00", CutoffHoursBefore: 3}
    // noon order, cutoff 15:00 -> tomorrow
    d, err := NextDeliveryFor(slot, testNow)
    if err != nil {
        t.Fatal(err)
    }
    if d.Day() != testNow.Day()+1 || d.Hour() != 18 {
        t.Fatalf("before cutoff: %v", d)
    }
    // 16:00 order, past cutoff -> day after tomorrow
    late := time.Date(2025, 6, 10, 16, 0, 0, 0, time.UTC)
    d, err = NextDeliveryFor(slot, late)
    if err != nil {
        t.Fatal(err)
    }
    if d.Day() != late.Day()+2 {
        t.Fatalf("after cutoff: %v", d)
    }
    if _, err := NextDeliveryFor(model.DeliverySlot{StartTime: "25:00"}, testNow); !errors.Is(err, ErrValidation) {
        t.Fatalf("bad slot time: %v", err)
    }
}
