package api

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "net/http"
    "strconv"
    "strings"
    "time"

    "rotihub/internal/geo"
    "rotihub/internal/geocode"
    "rotihub/internal/metrics"
    "rotihub/internal/model"
    "rotihub/internal/pricing"
    "rotihub/internal/store"
    "rotihub/internal/subscription"
)

// storeProblem maps store/lifecycle errors onto problem responses.
func storeProblem(w http.ResponseWriter, r *http.Request, title string, err error) {
    switch {
    case errors.Is(err, store.ErrNotFound):
        writeProblem(w, http.StatusNotFound, title, err.Error(), r.URL.Path)
    case errors.Is(err, store.ErrConflict):
        writeProblem(w, http.StatusConflict, title, err.Error(), r.URL.Path)
    case errors.Is(err, store.ErrValidation), errors.Is(err, subscription.ErrValidation):
        writeProblem(w, http.StatusBadRequest, title, err.Error(), r.URL.Path)
    case errors.Is(err, store.ErrInvalidTransition), errors.Is(err, subscription.ErrInvalidTransition):
        writeProblem(w, http.StatusConflict, title, err.Error(), r.URL.Path)
    default:
        writeProblem(w, http.StatusInternalServerError, title, err.Error(), r.URL.Path)
    }
}

// areasOrFallback returns admin-managed areas, or the built-in city map when
// none are configured yet.
func (s *Server) areasOrFallback(ctx context.Context) []model.Area {
    areas, err := s.Store.ListAreas(ctx, true)
    if err != nil || len(areas) == 0 {
        return geo.FallbackAreas()
    }
    return areas
}

// ValidatePincodeHandler handles POST /v1/validate-pincode
func (s *Server) ValidatePincodeHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
    var req struct {
        Pincode string `json:"pincode"`
    }
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    if err := validatePincode(req.Pincode); err != nil {
        writeJSON(w, http.StatusOK, map[string]any{"valid": false, "reason": err.Error()})
        return
    }
    areas := s.areasOrFallback(r.Context())
    area := geo.AreaByPincode(req.Pincode, areas)
    if area == nil && s.Geocoder != nil {
        // layer 2: geocode the pincode and classify against the nearest
        // configured area
        pt, err := s.Geocoder.Resolve(r.Context(), strings.TrimSpace(req.Pincode)+", Mumbai, India")
        if err != nil {
            if errors.Is(err, geocode.ErrNoMatch) {
                metrics.GeocodeLookups.WithLabelValues("miss").Inc()
                writeProblem(w, http.StatusNotFound, "Pincode not found", "no geocoder match for pincode", r.URL.Path)
                return
            }
            metrics.GeocodeLookups.WithLabelValues("error").Inc()
            writeProblem(w, http.StatusBadGateway, "Geocoder unavailable", err.Error(), r.URL.Path)
            return
        }
        metrics.GeocodeLookups.WithLabelValues("hit").Inc()
        area = geo.NearestArea(*pt, areas)
        if area == nil {
            writeProblem(w, http.StatusForbidden, "Not serviceable", "closest area is not an active delivery area", r.URL.Path)
            return
        }
    }
    if area == nil {
        writeJSON(w, http.StatusOK, map[string]any{"valid": true, "serviceable": false})
        return
    }
    loc := model.Location{Latitude: area.Latitude, Longitude: area.Longitude, Pincode: strings.TrimSpace(req.Pincode), Source: "pincode"}
    p := s.getPrincipal(r)
    _ = s.Store.SetUserLocation(r.Context(), p.UserID, &loc)
    _ = s.Store.SetUserArea(r.Context(), p.UserID, &model.AreaMatch{Name: area.Name, Source: "address"})
    writeJSON(w, http.StatusOK, map[string]any{"valid": true, "serviceable": true, "area": area.Name, "location": loc})
}

// GeocodeHandler handles POST /v1/geocode
func (s *Server) GeocodeHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
    var req struct {
        Address string `json:"address"`
    }
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    if strings.TrimSpace(req.Address) == "" {
        writeProblem(w, http.StatusBadRequest, "Missing address", "address is required", r.URL.Path)
        return
    }
    pt, err := s.Geocoder.Resolve(r.Context(), req.Address)
    if err != nil {
        if errors.Is(err, geocode.ErrNoMatch) {
            metrics.GeocodeLookups.WithLabelValues("miss").Inc()
            writeProblem(w, http.StatusNotFound, "Address not found", "no geocoder match for address", r.URL.Path)
            return
        }
        metrics.GeocodeLookups.WithLabelValues("error").Inc()
        writeProblem(w, http.StatusBadGateway, "Geocoder unavailable", err.Error(), r.URL.Path)
        return
    }
    metrics.GeocodeLookups.WithLabelValues("hit").Inc()
    loc := model.Location{Latitude: pt.Lat, Longitude: pt.Lng, Source: "address"}
    p := s.getPrincipal(r)
    _ = s.Store.SetUserLocation(r.Context(), p.UserID, &loc)
    match := geo.Detect(req.Address, pt, s.areasOrFallback(r.Context()))
    if match != nil {
        _ = s.Store.SetUserArea(r.Context(), p.UserID, match)
    }
    writeJSON(w, http.StatusOK, map[string]any{"location": loc, "area": match})
}

// MeLocationHandler handles PUT/DELETE /v1/users/me/location
func (s *Server) MeLocationHandler(w http.ResponseWriter, r *http.Request) {
    p := s.getPrincipal(r)
    switch r.Method {
    case http.MethodPut:
        var req struct {
            Latitude  float64 `json:"latitude"`
            Longitude float64 `json:"longitude"`
        }
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if err := validateCoords(req.Latitude, req.Longitude); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid coordinates", err.Error(), r.URL.Path)
            return
        }
        loc := model.Location{Latitude: req.Latitude, Longitude: req.Longitude, Source: "gps"}
        if err := s.Store.SetUserLocation(r.Context(), p.UserID, &loc); err != nil {
            storeProblem(w, r, "Save location failed", err)
            return
        }
        match := geo.Detect("", &model.GeoPoint{Lat: req.Latitude, Lng: req.Longitude}, s.areasOrFallback(r.Context()))
        if match != nil {
            _ = s.Store.SetUserArea(r.Context(), p.UserID, match)
        }
        writeJSON(w, http.StatusOK, map[string]any{"location": loc, "area": match})
    case http.MethodDelete:
        if err := s.Store.SetUserLocation(r.Context(), p.UserID, nil); err != nil {
            storeProblem(w, r, "Clear location failed", err)
            return
        }
        if err := s.Store.SetUserArea(r.Context(), p.UserID, nil); err != nil {
            storeProblem(w, r, "Clear area failed", err)
            return
        }
        w.WriteHeader(http.StatusNoContent)
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// MeAreaHandler handles PUT /v1/users/me/area (manual area selection; wins
// over any detected value until the next detection runs).
func (s *Server) MeAreaHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPut { w.WriteHeader(http.StatusMethodNotAllowed); return }
    var req struct {
        Name string `json:"name"`
    }
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    if strings.TrimSpace(req.Name) == "" {
        writeProblem(w, http.StatusBadRequest, "Missing name", "area name is required", r.URL.Path)
        return
    }
    p := s.getPrincipal(r)
    match := &model.AreaMatch{Name: req.Name, Source: "manual"}
    if err := s.Store.SetUserArea(r.Context(), p.UserID, match); err != nil {
        storeProblem(w, r, "Save area failed", err)
        return
    }
    writeJSON(w, http.StatusOK, map[string]any{"area": match})
}

// MeHandler handles GET /v1/users/me
func (s *Server) MeHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    p := s.getPrincipal(r)
    u, err := s.Store.GetUser(r.Context(), p.UserID)
    if err != nil {
        storeProblem(w, r, "User not found", err)
        return
    }
    writeJSON(w, http.StatusOK, u)
}

// UserExistsHandler handles GET /v1/users/exists?phone=
func (s *Server) UserExistsHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    phone := r.URL.Query().Get("phone")
    if err := validatePhone(phone); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid phone", err.Error(), r.URL.Path)
        return
    }
    _, err := s.Store.UserByPhone(r.Context(), phone)
    if err != nil {
        if errors.Is(err, store.ErrNotFound) {
            writeJSON(w, http.StatusOK, map[string]bool{"exists": false})
            return
        }
        storeProblem(w, r, "Lookup failed", err)
        return
    }
    writeJSON(w, http.StatusOK, map[string]bool{"exists": true})
}

// DeliveryZoneHandler handles GET /v1/delivery-zone?lat=&lng=[&chefId=]
func (s *Server) DeliveryZoneHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    q := r.URL.Query()
    lat, err1 := strconv.ParseFloat(q.Get("lat"), 64)
    lng, err2 := strconv.ParseFloat(q.Get("lng"), 64)
    if err1 != nil || err2 != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid coordinates", "lat and lng are required numbers", r.URL.Path)
        return
    }
    if err := validateCoords(lat, lng); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid coordinates", err.Error(), r.URL.Path)
        return
    }
    policy := s.Zone
    if chefID := q.Get("chefId"); chefID != "" {
        chef, err := s.Store.GetChef(r.Context(), chefID)
        if err != nil {
            storeProblem(w, r, "Chef not found", err)
            return
        }
        policy = geo.PolicyFor(s.Zone, &chef)
    }
    res := policy.Evaluate(model.GeoPoint{Lat: lat, Lng: lng})
    msg := fmt.Sprintf("Great! We deliver to your location (%.2f km away)", res.DistanceKm)
    if !res.Available {
        msg = fmt.Sprintf("Sorry, we don't deliver to your area yet (%.2f km away, we cover %.1f km)", res.DistanceKm, policy.RadiusKm)
    }
    writeJSON(w, http.StatusOK, map[string]any{"available": res.Available, "distanceKm": res.DistanceKm, "message": msg})
}

// ChefsHandler handles GET /v1/chefs[?filter=near_fast|top_rated|offers&lat=&lng=]
func (s *Server) ChefsHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    chefs, err := s.Store.ListChefs(r.Context())
    if err != nil {
        storeProblem(w, r, "List chefs failed", err)
        return
    }
    q := r.URL.Query()
    switch q.Get("filter") {
    case "near_fast":
        lat, err1 := strconv.ParseFloat(q.Get("lat"), 64)
        lng, err2 := strconv.ParseFloat(q.Get("lng"), 64)
        if err1 != nil || err2 != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid coordinates", "near_fast filter needs lat and lng", r.URL.Path)
            return
        }
        user := model.GeoPoint{Lat: lat, Lng: lng}
        chefs = pricing.FilterChefs(chefs, func(c model.Chef) bool { return pricing.NearAndFast(user, c) })
    case "top_rated":
        chefs = pricing.FilterChefs(chefs, pricing.TopRated)
    case "offers":
        chefs = pricing.FilterChefs(chefs, pricing.HasOffer)
    }
    writeJSON(w, http.StatusOK, map[string]any{"items": chefs})
}

// PlansHandler handles GET /v1/plans
func (s *Server) PlansHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    plans, err := s.Store.ListPlans(r.Context())
    if err != nil {
        storeProblem(w, r, "List plans failed", err)
        return
    }
    writeJSON(w, http.StatusOK, map[string]any{"items": plans})
}

// DeliverySlotsHandler handles GET /v1/delivery-slots
func (s *Server) DeliverySlotsHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    slots, err := s.Store.ListDeliverySlots(r.Context())
    if err != nil {
        storeProblem(w, r, "List delivery slots failed", err)
        return
    }
    // annotate each slot with the first bookable delivery date
    now := time.Now()
    type slotOut struct {
        model.DeliverySlot
        NextDelivery string `json:"nextDelivery,omitempty"`
        Full         bool   `json:"full"`
    }
    out := make([]slotOut, 0, len(slots))
    for _, sl := range slots {
        so := slotOut{DeliverySlot: sl, Full: sl.Capacity > 0 && sl.CurrentOrders >= sl.Capacity}
        if d, err := subscription.NextDeliveryFor(sl, now); err == nil {
            so.NextDelivery = d.Format(time.RFC3339)
        }
        out = append(out, so)
    }
    writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

// AreasHandler handles GET /v1/areas and POST /v1/admin/areas
func (s *Server) AreasHandler(w http.ResponseWriter, r *http.Request) {
    switch r.Method {
    case http.MethodGet:
        writeJSON(w, http.StatusOK, map[string]any{"items": s.areasOrFallback(r.Context())})
    case http.MethodPost:
        p := s.getPrincipal(r)
        if !p.IsAdmin() { writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path); return }
        var in model.AreaInput
        if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        a, err := s.Store.CreateArea(r.Context(), in)
        if err != nil {
            storeProblem(w, r, "Create area failed", err)
            return
        }
        writeJSON(w, http.StatusCreated, a)
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// AreaByIDHandler handles GET/PATCH/DELETE /v1/admin/areas/{id}
func (s *Server) AreaByIDHandler(w http.ResponseWriter, r *http.Request) {
    id := strings.TrimPrefix(r.URL.Path, "/v1/admin/areas/")
    if id == "" || strings.Contains(id, "/") {
        writeProblem(w, http.StatusNotFound, "Not Found", "missing area id", r.URL.Path)
        return
    }
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path); return }
    switch r.Method {
    case http.MethodGet:
        a, err := s.Store.GetArea(r.Context(), id)
        if err != nil { storeProblem(w, r, "Area not found", err); return }
        writeJSON(w, http.StatusOK, a)
    case http.MethodPatch:
        var in model.AreaInput
        if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        a, err := s.Store.PatchArea(r.Context(), id, in)
        if err != nil { storeProblem(w, r, "Patch area failed", err); return }
        writeJSON(w, http.StatusOK, a)
    case http.MethodDelete:
        if err := s.Store.DeleteArea(r.Context(), id); err != nil {
            storeProblem(w, r, "Delete area failed", err)
            return
        }
        w.WriteHeader(http.StatusNoContent)
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// WebhooksHandler handles POST/GET /v1/webhooks and DELETE /v1/webhooks/{id}
func (s *Server) WebhooksHandler(w http.ResponseWriter, r *http.Request) {
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path); return }
    if id := strings.TrimPrefix(r.URL.Path, "/v1/webhooks/"); id != r.URL.Path && id != "" {
        if r.Method != http.MethodDelete { w.WriteHeader(http.StatusMethodNotAllowed); return }
        if err := s.Store.DeleteWebhook(r.Context(), id); err != nil {
            storeProblem(w, r, "Delete webhook failed", err)
            return
        }
        w.WriteHeader(http.StatusNoContent)
        return
    }
    switch r.Method {
    case http.MethodPost:
        var req model.WebhookRequest
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if req.URL == "" || len(req.Events) == 0 {
            writeProblem(w, http.StatusBadRequest, "Invalid webhook", "url and events are required", r.URL.Path)
            return
        }
        wh, err := s.Store.CreateWebhook(r.Context(), req)
        if err != nil { storeProblem(w, r, "Create webhook failed", err); return }
        writeJSON(w, http.StatusCreated, wh)
    case http.MethodGet:
        items, err := s.Store.ListWebhooks(r.Context())
        if err != nil { storeProblem(w, r, "List webhooks failed", err); return }
        writeJSON(w, http.StatusOK, map[string]any{"items": items})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, 200, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
    // Check DB connectivity when using Postgres store
    type pinger interface{ Ping(ctx context.Context) error }
    if pg, ok := s.Store.(pinger); ok {
        if err := pg.Ping(r.Context()); err != nil {
            writeProblem(w, http.StatusServiceUnavailable, "Not ready", err.Error(), r.URL.Path)
            return
        }
    }
    writeJSON(w, 200, map[string]string{"status": "ready"})
}
