package subscription

import (
    "fmt"
    "strconv"
    "strings"
    "time"

    "rotihub/internal/model"
)

// NextDeliveryFor computes the first delivery date honoring the slot's
// ordering cutoff: if fewer than CutoffHoursBefore remain until today's slot
// start, delivery begins the day after tomorrow instead of tomorrow.
func NextDeliveryFor(slot model.DeliverySlot, now time.Time) (time.Time, error) {
    h, m, err := parseHHMM(slot.StartTime)
    if err != nil {
        return time.Time{}, err
    }
    slotToday := time.Date(now.Year(), now.Month(), now.Day(), h, m, 0, 0, now.Location())
    cutoff := slotToday.Add(-time.Duration(slot.CutoffHoursBefore) * time.Hour)
    days := 1
    if now.After(cutoff) { days = 2 }
    d := now.AddDate(0, 0, days)
    return time.Date(d.Year(), d.Month(), d.Day(), h, m, 0, 0, d.Location()), nil
}

func parseHHMM(v string) (int, int, error) {
    parts := strings.SplitN(v, ":", 2)
    if len(parts) != 2 {
        return 0, 0, fmt.Errorf("%w: bad time %q", ErrValidation, v)
    }
    h, err := strconv.Atoi(parts[0])
    if err != nil || h < 0 || h > 23 {
        return 0, 0, fmt.Errorf("%w: bad hour %q", ErrValidation, v)
    }
    m, err := strconv.Atoi(parts[1])
    if err != nil || m < 0 || m > 59 {
        return 0, 0, fmt.Errorf("%w: bad minute %q", ErrValidation, v)
    }
    return h, m, nil
}
