package pricing

import (
    "rotihub/internal/geo"
    "rotihub/internal/model"
)

// Catalog filter predicates. Stateless on purpose: the storefront applies
// them over whatever chef list it has, and they are unit-testable without
// any store.

const nearFastKm = 2.0

// NearAndFast reports whether a chef is close enough to the user for the
// "Near & Fast" shelf.
func NearAndFast(user model.GeoPoint, chef model.Chef) bool {
    return geo.HaversineKm(user, model.GeoPoint{Lat: chef.Latitude, Lng: chef.Longitude}) <= nearFastKm
}

// TopRated reports whether a chef clears the rating shelf threshold.
func TopRated(chef model.Chef) bool { return chef.Rating >= 4.0 }

// HasOffer reports whether a chef currently runs an offer.
func HasOffer(chef model.Chef) bool { return chef.HasOffer }

// FilterChefs applies a predicate over a chef list, keeping order.
func FilterChefs(chefs []model.Chef, keep func(model.Chef) bool) []model.Chef {
    out := make([]model.Chef, 0, len(chefs))
    for _, c := range chefs {
        if keep(c) { out = append(out, c) }
    }
    return out
}
