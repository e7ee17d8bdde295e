package api

import (
    "bytes"
    "context"
    "encoding/json"
    "fmt"
    "net/http"
    "net/http/httptest"
    "strings"
    "testing"

    "rotihub/internal/geo"
    "rotihub/internal/geocode"
    "rotihub/internal/model"
    "rotihub/internal/store"
    "rotihub/internal/webhooks"
)

func newTestServer() *Server {
    mem := store.NewMemory()
    mem.SeedDemo()
    return &Server{
        Store:     mem,
        Pub:       webhooks.NewPublisher(mem),
        Broker:    NewBroker(),
        Zone:      geo.DefaultZone(),
        Locations: NewCourierLocations(),
    }
}

func seedUser(t *testing.T, s *Server, id, role string) model.User {
    t.Helper()
    u, err := s.Store.CreateUser(context.Background(), model.User{
        ID: id, Name: "Test " + id, Phone: "98765" + id[len(id)-1:] + "4321", Role: role,
        Address: "12 Hill Rd, Kurla West",
    })
    if err != nil {
        t.Fatalf("seed user: %v", err)
    }
    return u
}

func doJSON(t *testing.T, h http.HandlerFunc, method, path string, body any, hdr map[string]string) *httptest.ResponseRecorder {
    t.Helper()
    var buf bytes.Buffer
    if body != nil {
        if err := json.NewEncoder(&buf).Encode(body); err != nil {
            t.Fatalf("encode body: %v", err)
        }
    }
    req := httptest.NewRequest(method, path, &buf)
    for k, v := range hdr {
        req.Header.Set(k, v)
    }
    rec := httptest.NewRecorder()
    h(rec, req)
    return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
    t.Helper()
    if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
        t.Fatalf("decode response %q: %v", rec.Body.String(), err)
    }
}

func TestValidatePincodeServiceable(t *testing.T) {
    s := newTestServer()
    seedUser(t, s, "u1", "customer")

    rec := doJSON(t, s.ValidatePincodeHandler, http.MethodPost, "/v1/validate-pincode",
        map[string]string{"pincode": "400070"}, map[string]string{"X-User-Id": "u1"})
    if rec.Code != http.StatusOK {
        t.Fatalf("status = %d", rec.Code)
    }
    var res struct {
        Valid       bool           `json:"valid"`
        Serviceable bool           `json:"serviceable"`
        Area        string         `json:"area"`
        Location    model.Location `json:"location"`
    }
    decode(t, rec, &res)
    if !res.Valid || !res.Serviceable {
        t.Fatalf("expected valid serviceable, got %+v", res)
    }
    if res.Area != "Kurla West" {
        t.Fatalf("area = %q", res.Area)
    }
    if res.Location.Latitude != 19.0728 || res.Location.Longitude != 72.8826 {
        t.Fatalf("location = %+v", res.Location)
    }
    // the lookup should have stuck to the user
    u, _ := s.Store.GetUser(context.Background(), "u1")
    if u.Location == nil || u.Location.Source != "pincode" {
        t.Fatalf("user location not saved: %+v", u.Location)
    }
    if u.Area == nil || u.Area.Name != "Kurla West" {
        t.Fatalf("user area not saved: %+v", u.Area)
    }
}

func TestValidatePincodeFormats(t *testing.T) {
    s := newTestServer()
    for _, tc := range []struct {
        pincode     string
        valid       bool
        serviceable bool
    }{
        {"400070", true, true},
        {"999999", true, false},
        {"12", false, false},
        {"40007a", false, false},
        {"", false, false},
    } {
        rec := doJSON(t, s.ValidatePincodeHandler, http.MethodPost, "/v1/validate-pincode",
            map[string]string{"pincode": tc.pincode}, nil)
        var res struct {
            Valid       bool `json:"valid"`
            Serviceable bool `json:"serviceable"`
        }
        decode(t, rec, &res)
        if res.Valid != tc.valid || res.Serviceable != tc.serviceable {
            t.Errorf("pincode %q: got valid=%v serviceable=%v", tc.pincode, res.Valid, res.Serviceable)
        }
    }
}

func TestValidatePincodeGeocoderFallback(t *testing.T) {
    // each case gets its own upstream and a fresh client so the courtesy
    // limiter never stalls the suite
    newServerWith := func(body string) *Server {
        up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
            fmt.Fprint(w, body)
        }))
        t.Cleanup(up.Close)
        t.Setenv("GEOCODER_URL", up.URL)
        s := newTestServer()
        s.Geocoder = geocode.New()
        return s
    }

    // unknown pincode that geocodes near a known area center is serviceable
    s := newServerWith(`[{"lat":"19.0730","lon":"72.8820"}]`)
    seedUser(t, s, "u1", "customer")
    rec := doJSON(t, s.ValidatePincodeHandler, http.MethodPost, "/v1/validate-pincode",
        map[string]string{"pincode": "400071"}, map[string]string{"X-User-Id": "u1"})
    if rec.Code != http.StatusOK {
        t.Fatalf("status = %d %s", rec.Code, rec.Body.String())
    }
    var res struct {
        Valid       bool   `json:"valid"`
        Serviceable bool   `json:"serviceable"`
        Area        string `json:"area"`
    }
    decode(t, rec, &res)
    if !res.Valid || !res.Serviceable || res.Area != "Kurla West" {
        t.Fatalf("fallback result = %+v", res)
    }

    // geocodes far from every configured area
    s = newServerWith(`[{"lat":"18.5204","lon":"73.8567"}]`)
    rec = doJSON(t, s.ValidatePincodeHandler, http.MethodPost, "/v1/validate-pincode",
        map[string]string{"pincode": "411001"}, nil)
    if rec.Code != http.StatusForbidden {
        t.Fatalf("out of area: %d %s", rec.Code, rec.Body.String())
    }

    // nothing resolves at all
    s = newServerWith(`[]`)
    rec = doJSON(t, s.ValidatePincodeHandler, http.MethodPost, "/v1/validate-pincode",
        map[string]string{"pincode": "999999"}, nil)
    if rec.Code != http.StatusNotFound {
        t.Fatalf("no match: %d %s", rec.Code, rec.Body.String())
    }
}

func TestDocsPage(t *testing.T) {
    s := newTestServer()
    rec := doJSON(t, s.DocsHandler, http.MethodGet, "/docs", nil, nil)
    if rec.Code != http.StatusOK {
        t.Fatalf("docs: %d", rec.Code)
    }
    if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
        t.Fatalf("content type = %q", ct)
    }
    if !strings.Contains(rec.Body.String(), "redoc") {
        t.Fatal("expected an embedded ReDoc page")
    }
}

func TestDeliveryZone(t *testing.T) {
    s := newTestServer()

    // right at the origin
    rec := doJSON(t, s.DeliveryZoneHandler, http.MethodGet, "/v1/delivery-zone?lat=19.068604&lng=72.87658", nil, nil)
    var res struct {
        Available  bool    `json:"available"`
        DistanceKm float64 `json:"distanceKm"`
        Message    string  `json:"message"`
    }
    decode(t, rec, &res)
    if !res.Available || res.DistanceKm != 0 {
        t.Fatalf("at origin: %+v", res)
    }

    // Worli is well outside 2.5 km
    rec = doJSON(t, s.DeliveryZoneHandler, http.MethodGet, "/v1/delivery-zone?lat=19.0176&lng=72.8194", nil, nil)
    decode(t, rec, &res)
    if res.Available {
        t.Fatalf("worli should be out of zone: %+v", res)
    }
    if res.Message == "" {
        t.Fatal("expected a user-facing message")
    }

    // chef override re-centers the zone
    rec = doJSON(t, s.DeliveryZoneHandler, http.MethodGet, "/v1/delivery-zone?lat=19.0730&lng=72.8830&chefId=chef-anita", nil, nil)
    decode(t, rec, &res)
    if !res.Available {
        t.Fatalf("near chef-anita should be in zone: %+v", res)
    }

    rec = doJSON(t, s.DeliveryZoneHandler, http.MethodGet, "/v1/delivery-zone?lat=bad&lng=72", nil, nil)
    if rec.Code != http.StatusBadRequest {
        t.Fatalf("bad coords status = %d", rec.Code)
    }
}

func TestChefsFilters(t *testing.T) {
    s := newTestServer()
    list := func(query string) []model.Chef {
        rec := doJSON(t, s.ChefsHandler, http.MethodGet, "/v1/chefs"+query, nil, nil)
        if rec.Code != http.StatusOK {
            t.Fatalf("status = %d for %q", rec.Code, query)
        }
        var res struct {
            Items []model.Chef `json:"items"`
        }
        decode(t, rec, &res)
        return res.Items
    }

    if got := list(""); len(got) != 3 {
        t.Fatalf("unfiltered: %d chefs", len(got))
    }
    if got := list("?filter=offers"); len(got) != 2 {
        t.Fatalf("offers: %d chefs", len(got))
    }
    if got := list("?filter=top_rated"); len(got) != 2 {
        t.Fatalf("top_rated: %d chefs", len(got))
    }
    // user next to chef-anita: only she is within the near shelf
    got := list("?filter=near_fast&lat=19.0728&lng=72.8826")
    if len(got) != 1 || got[0].ID != "chef-anita" {
        t.Fatalf("near_fast: %+v", got)
    }
    rec := doJSON(t, s.ChefsHandler, http.MethodGet, "/v1/chefs?filter=near_fast", nil, nil)
    if rec.Code != http.StatusBadRequest {
        t.Fatalf("near_fast without coords: %d", rec.Code)
    }
}

func TestAreasAdminRBAC(t *testing.T) {
    s := newTestServer()

    body := model.AreaInput{Name: "Chembur", Pincodes: []string{"400071"}, Latitude: 19.06, Longitude: 72.9}
    rec := doJSON(t, s.AreasHandler, http.MethodPost, "/v1/admin/areas", body, nil)
    if rec.Code != http.StatusForbidden {
        t.Fatalf("non-admin create: %d", rec.Code)
    }

    rec = doJSON(t, s.AreasHandler, http.MethodPost, "/v1/admin/areas", body, map[string]string{"X-Role": "admin"})
    if rec.Code != http.StatusCreated {
        t.Fatalf("admin create: %d %s", rec.Code, rec.Body.String())
    }
    var created model.Area
    decode(t, rec, &created)
    if created.ID == "" || !created.IsActive {
        t.Fatalf("created = %+v", created)
    }

    // once an admin area exists, public listing serves it instead of the fallback map
    rec = doJSON(t, s.AreasHandler, http.MethodGet, "/v1/areas", nil, nil)
    var listed struct {
        Items []model.Area `json:"items"`
    }
    decode(t, rec, &listed)
    if len(listed.Items) != 1 || listed.Items[0].Name != "Chembur" {
        t.Fatalf("listed = %+v", listed.Items)
    }

    // deactivate, and the fallback map returns
    off := false
    rec = doJSON(t, s.AreaByIDHandler, http.MethodPatch, "/v1/admin/areas/"+created.ID,
        model.AreaInput{IsActive: &off}, map[string]string{"X-Role": "admin"})
    if rec.Code != http.StatusOK {
        t.Fatalf("patch: %d", rec.Code)
    }
    rec = doJSON(t, s.AreasHandler, http.MethodGet, "/v1/areas", nil, nil)
    decode(t, rec, &listed)
    if len(listed.Items) != len(geo.FallbackAreas()) {
        t.Fatalf("expected fallback areas, got %d", len(listed.Items))
    }

    rec = doJSON(t, s.AreaByIDHandler, http.MethodDelete, "/v1/admin/areas/"+created.ID, nil, map[string]string{"X-Role": "admin"})
    if rec.Code != http.StatusNoContent {
        t.Fatalf("delete: %d", rec.Code)
    }
}

func TestUserExists(t *testing.T) {
    s := newTestServer()
    u := seedUser(t, s, "u1", "customer")

    rec := doJSON(t, s.UserExistsHandler, http.MethodGet, "/v1/users/exists?phone="+u.Phone, nil, nil)
    var res map[string]bool
    decode(t, rec, &res)
    if !res["exists"] {
        t.Fatal("expected exists=true")
    }

    rec = doJSON(t, s.UserExistsHandler, http.MethodGet, "/v1/users/exists?phone=9000000000", nil, nil)
    decode(t, rec, &res)
    if res["exists"] {
        t.Fatal("expected exists=false")
    }

    rec = doJSON(t, s.UserExistsHandler, http.MethodGet, "/v1/users/exists?phone=123", nil, nil)
    if rec.Code != http.StatusBadRequest {
        t.Fatalf("short phone: %d", rec.Code)
    }
}

func TestMeLocationRoundTrip(t *testing.T) {
    s := newTestServer()
    seedUser(t, s, "u1", "customer")
    hdr := map[string]string{"X-User-Id": "u1"}

    rec := doJSON(t, s.MeLocationHandler, http.MethodPut, "/v1/users/me/location",
        map[string]float64{"latitude": 19.0728, "longitude": 72.8826}, hdr)
    if rec.Code != http.StatusOK {
        t.Fatalf("put location: %d %s", rec.Code, rec.Body.String())
    }
    var res struct {
        Location model.Location   `json:"location"`
        Area     *model.AreaMatch `json:"area"`
    }
    decode(t, rec, &res)
    if res.Location.Source != "gps" {
        t.Fatalf("source = %q", res.Location.Source)
    }
    if res.Area == nil || res.Area.Name != "Kurla West" || res.Area.Source != "gps" {
        t.Fatalf("area = %+v", res.Area)
    }

    // manual selection wins
    rec = doJSON(t, s.MeAreaHandler, http.MethodPut, "/v1/users/me/area",
        map[string]string{"name": "Bandra"}, hdr)
    if rec.Code != http.StatusOK {
        t.Fatalf("put area: %d", rec.Code)
    }
    u, _ := s.Store.GetUser(context.Background(), "u1")
    if u.Area == nil || u.Area.Name != "Bandra" || u.Area.Source != "manual" {
        t.Fatalf("area after manual = %+v", u.Area)
    }

    rec = doJSON(t, s.MeLocationHandler, http.MethodDelete, "/v1/users/me/location", nil, hdr)
    if rec.Code != http.StatusNoContent {
        t.Fatalf("delete location: %d", rec.Code)
    }
    u, _ = s.Store.GetUser(context.Background(), "u1")
    if u.Location != nil || u.Area != nil {
        t.Fatalf("expected cleared, got loc=%+v area=%+v", u.Location, u.Area)
    }

    rec = doJSON(t, s.MeLocationHandler, http.MethodPut, "/v1/users/me/location",
        map[string]float64{"latitude": 99, "longitude": 0}, hdr)
    if rec.Code != http.StatusBadRequest {
        t.Fatalf("bad latitude: %d", rec.Code)
    }
}

func TestWebhooksAdminCRUD(t *testing.T) {
    s := newTestServer()
    admin := map[string]string{"X-Role": "admin"}

    rec := doJSON(t, s.WebhooksHandler, http.MethodPost, "/v1/webhooks",
        model.WebhookRequest{URL: "https://example.com/hook", Events: []string{"order.created"}, Secret: "s3cr3t"}, nil)
    if rec.Code != http.StatusForbidden {
        t.Fatalf("non-admin: %d", rec.Code)
    }

    rec = doJSON(t, s.WebhooksHandler, http.MethodPost, "/v1/webhooks",
        model.WebhookRequest{URL: "https://example.com/hook", Events: []string{"order.created"}, Secret: "s3cr3t"}, admin)
    if rec.Code != http.StatusCreated {
        t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
    }
    var wh model.Webhook
    decode(t, rec, &wh)

    rec = doJSON(t, s.WebhooksHandler, http.MethodPost, "/v1/webhooks",
        model.WebhookRequest{URL: "", Events: nil}, admin)
    if rec.Code != http.StatusBadRequest {
        t.Fatalf("invalid webhook: %d", rec.Code)
    }

    rec = doJSON(t, s.WebhooksHandler, http.MethodDelete, "/v1/webhooks/"+wh.ID, nil, admin)
    if rec.Code != http.StatusNoContent {
        t.Fatalf("delete: %d", rec.Code)
    }
}
