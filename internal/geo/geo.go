// Package geo implements delivery-zone evaluation and area detection.
package geo

import (
    "math"

    "rotihub/internal/model"
)

const earthRadiusKm = 6371

// HaversineKm returns the great-circle distance between two points in
// kilometers, rounded to two decimals. No antimeridian or pole handling; the
// service operates within a single city.
func HaversineKm(a, b model.GeoPoint) float64 {
    toRad := func(deg float64) float64 { return deg * math.Pi / 180 }
    dLat := toRad(b.Lat - a.Lat)
    dLng := toRad(b.Lng - a.Lng)
    h := math.Sin(dLat/2)*math.Sin(dLat/2) +
        math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
    d := 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
    return math.Round(d*100) / 100
}

// DefaultZone is the service-wide delivery zone used when no chef is in play.
func DefaultZone() ZonePolicy {
    return ZonePolicy{Origin: model.GeoPoint{Lat: 19.068604, Lng: 72.87658}, RadiusKm: 2.5}
}

// ZonePolicy is one vendor's delivery zone: a center point and a radius.
// There is one policy per chef; the default policy covers chefs without
// configured coordinates.
type ZonePolicy struct {
    Origin   model.GeoPoint
    RadiusKm float64
}

// Evaluate classifies a location against the policy. The boundary is
// inclusive: a point exactly at RadiusKm is available.
func (p ZonePolicy) Evaluate(loc model.GeoPoint) model.ZoneResult {
    d := HaversineKm(p.Origin, loc)
    return model.ZoneResult{Available: d <= p.RadiusKm, DistanceKm: d}
}

// PolicyFor builds the zone policy for a chef, falling back to the default
// policy's origin when the chef has no coordinates. The radius is always the
// default's; per-chef radii are not a thing yet.
func PolicyFor(def ZonePolicy, chef *model.Chef) ZonePolicy {
    if chef == nil || (chef.Latitude == 0 && chef.Longitude == 0) {
        return def
    }
    return ZonePolicy{Origin: model.GeoPoint{Lat: chef.Latitude, Lng: chef.Longitude}, RadiusKm: def.RadiusKm}
}
