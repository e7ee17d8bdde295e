// Package pricing implements cart vendor exclusivity and delivery-fee math.
package pricing

import (
    "math"

    "rotihub/internal/model"
)

const (
    perKmFee   = 5  // rupees per km for the advisory estimate
    defaultFee = 20 // flat fee when either coordinate is unknown
)

// Conflict describes the chef a category cart is already bound to. Callers
// must clear the cart explicitly before adding from another chef; the cart is
// never overwritten silently.
type Conflict struct {
    ChefID   string `json:"conflictChefId"`
    ChefName string `json:"conflictChef"`
}

// CanAdd reports whether an item from chefID may enter the cart. A conflict
// exists exactly when the cart is non-empty and bound to a different chef;
// the first item never conflicts.
func CanAdd(cart *model.Cart, chefID string) *Conflict {
    if cart == nil || len(cart.Items) == 0 {
        return nil
    }
    if cart.ChefID == chefID {
        return nil
    }
    return &Conflict{ChefID: cart.ChefID, ChefName: cart.ChefName}
}

// EstimateFee is the advisory client-facing fee: ceil(distance * rate), or the
// flat default when the distance is unknown (negative). The authoritative fee
// comes from ComputeDelivery at checkout.
func EstimateFee(distKm float64) int {
    if distKm < 0 {
        return defaultFee
    }
    return int(math.Ceil(distKm * perKmFee))
}

// Quote is the authoritative checkout fee derived from admin-configured
// distance bands.
type Quote struct {
    Fee                   int    `json:"deliveryFee"`
    Deliverable           bool   `json:"deliverable"`
    FreeDeliveryEligible  bool   `json:"freeDeliveryEligible"`
    AmountForFreeDelivery int    `json:"amountForFreeDelivery,omitempty"`
    RangeName             string `json:"deliveryRangeName,omitempty"`
    MinOrderAmount        int    `json:"minOrderAmount,omitempty"`
}

// ComputeDelivery resolves the fee for a distance and subtotal against the
// active settings. Band bounds are inclusive. With no matching band (or no
// active settings at all) the fee is zero and the range name says why, the
// same posture the storefront has always had.
func ComputeDelivery(distKm float64, subtotal int, settings []model.DeliverySetting) Quote {
    active := make([]model.DeliverySetting, 0, len(settings))
    for _, s := range settings {
        if s.IsActive { active = append(active, s) }
    }
    if len(active) == 0 {
        return Quote{Deliverable: true, RangeName: "No delivery settings configured"}
    }
    for _, s := range active {
        if distKm < s.MinDistanceKm || distKm > s.MaxDistanceKm {
            continue
        }
        q := Quote{Fee: s.Price, Deliverable: true, RangeName: s.Name, MinOrderAmount: s.MinOrderAmount}
        if s.Price == 0 || (s.MinOrderAmount > 0 && subtotal >= s.MinOrderAmount) {
            q.Fee = 0
            q.FreeDeliveryEligible = true
        } else if s.MinOrderAmount > 0 {
            q.AmountForFreeDelivery = s.MinOrderAmount - subtotal
        }
        return q
    }
    return Quote{RangeName: "Outside delivery range"}
}

// Subtotal sums a cart's line totals.
func Subtotal(items []model.CartItem) int {
    total := 0
    for _, it := range items {
        total += it.Price * it.Quantity
    }
    return total
}
