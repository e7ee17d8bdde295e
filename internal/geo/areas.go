package geo

import (
    "strings"

    "rotihub/internal/model"
)

// Default radius for area membership when an area has none configured.
const defaultAreaRadiusKm = 2.5

// FallbackAreas mirrors the seed set used before any areas are configured by
// an admin. Coordinates are area centers.
func FallbackAreas() []model.Area {
    return []model.Area{
        {ID: "area_kurla_w", Name: "Kurla West", Pincodes: []string{"400070"}, Latitude: 19.0728, Longitude: 72.8826, IsActive: true},
        {ID: "area_kurla_e", Name: "Kurla East", Pincodes: []string{"400024"}, Latitude: 19.0644, Longitude: 72.8877, IsActive: true},
        {ID: "area_worli", Name: "Worli", Pincodes: []string{"400018"}, Latitude: 19.0176, Longitude: 72.8194, IsActive: true},
        {ID: "area_bandra", Name: "Bandra", Pincodes: []string{"400050"}, Latitude: 19.0596, Longitude: 72.8295, IsActive: true},
        {ID: "area_andheri", Name: "Andheri", Pincodes: []string{"400053"}, Latitude: 19.1136, Longitude: 72.8697, IsActive: true},
        {ID: "area_dadar", Name: "Dadar", Pincodes: []string{"400014"}, Latitude: 19.0176, Longitude: 72.8388, IsActive: true},
    }
}

// Detect resolves the current delivery area. Tie-break order, first match
// wins: address text, then GPS coordinates, then nil (caller falls back to a
// manual selector). A manual pick is recorded by the caller with
// source="manual" and replaces whatever Detect produced.
func Detect(address string, loc *model.GeoPoint, areas []model.Area) *model.AreaMatch {
    if a := matchAddress(address, areas); a != nil {
        return a
    }
    if loc != nil {
        if a := NearestArea(*loc, areas); a != nil {
            return &model.AreaMatch{Name: a.Name, Source: "gps"}
        }
    }
    return nil
}

// matchAddress compares the first comma-delimited token of the address
// against known area names, prefix in either direction so both
// "Kurla West, Mumbai" and "Kurla, Mumbai" resolve.
func matchAddress(address string, areas []model.Area) *model.AreaMatch {
    tok := strings.ToLower(strings.TrimSpace(strings.SplitN(address, ",", 2)[0]))
    if tok == "" {
        return nil
    }
    for _, a := range areas {
        if !a.IsActive { continue }
        name := strings.ToLower(a.Name)
        if strings.HasPrefix(name, tok) || strings.HasPrefix(tok, name) {
            return &model.AreaMatch{Name: a.Name, Source: "address"}
        }
    }
    return nil
}

// NearestArea returns the closest active area whose radius contains the
// point, or nil when the point is outside every area.
func NearestArea(loc model.GeoPoint, areas []model.Area) *model.Area {
    var best *model.Area
    bestDist := 0.0
    for i := range areas {
        a := &areas[i]
        if !a.IsActive { continue }
        r := a.RadiusKm
        if r <= 0 { r = defaultAreaRadiusKm }
        d := HaversineKm(loc, model.GeoPoint{Lat: a.Latitude, Lng: a.Longitude})
        if d > r { continue }
        if best == nil || d < bestDist {
            best = a
            bestDist = d
        }
    }
    return best
}

// AreaByPincode scans the configured areas for a pincode match. Both sides
// are compared as trimmed strings; admin data has carried numbers before.
func AreaByPincode(pincode string, areas []model.Area) *model.Area {
    want := strings.TrimSpace(pincode)
    for i := range areas {
        a := &areas[i]
        if !a.IsActive { continue }
        for _, p := range a.Pincodes {
            if strings.TrimSpace(p) == want {
                return a
            }
        }
    }
    return nil
}
