// Package geocode resolves free-text addresses to coordinates via a
// Nominatim-compatible endpoint.
package geocode

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "net/http"
    "net/url"
    "os"
    "strconv"
    "strings"
    "time"

    "golang.org/x/time/rate"

    "rotihub/internal/model"
)

var ErrNoMatch = errors.New("geocode: no match")

const defaultBaseURL = "https://nominatim.openstreetmap.org"

// keywords tried as a last resort: the rightmost area-like token in the
// address often geocodes when the full string does not.
var areaKeywords = []string{"kurla", "bandra", "andheri", "dadar", "worli", "powai", "chembur", "ghatkopar"}

type Client struct {
    base    string
    http    *http.Client
    limiter *rate.Limiter
}

// New reads GEOCODER_URL (defaulting to the public Nominatim instance) and
// rate-limits outbound lookups to one per second per their usage policy.
func New() *Client {
    base := os.Getenv("GEOCODER_URL")
    if base == "" { base = defaultBaseURL }
    return &Client{
        base:    strings.TrimRight(base, "/"),
        http:    &http.Client{Timeout: 5 * time.Second},
        limiter: rate.NewLimiter(rate.Limit(1), 1),
    }
}

type result struct {
    Lat         string `json:"lat"`
    Lon         string `json:"lon"`
    DisplayName string `json:"display_name"`
}

// Resolve tries the address as given, then scoped to Mumbai, then the
// rightmost recognizable area keyword. The whole chain is bounded by an
// eight second budget on top of the per-request timeout.
func (c *Client) Resolve(ctx context.Context, address string) (*model.GeoPoint, error) {
    ctx, cancel := context.WithTimeout(ctx, 8*time.Second)
    defer cancel()

    queries := []string{address}
    if !strings.Contains(strings.ToLower(address), "mumbai") {
        queries = append(queries, address+", Mumbai")
    }
    if kw := areaKeyword(address); kw != "" {
        queries = append(queries, kw+", Mumbai")
    }
    var lastErr error = ErrNoMatch
    for _, q := range queries {
        pt, err := c.search(ctx, q)
        if err == nil {
            return pt, nil
        }
        if ctx.Err() != nil {
            return nil, ctx.Err()
        }
        lastErr = err
    }
    return nil, lastErr
}

func (c *Client) search(ctx context.Context, q string) (*model.GeoPoint, error) {
    if err := c.limiter.Wait(ctx); err != nil {
        return nil, err
    }
    u := fmt.Sprintf("%s/search?format=json&limit=1&q=%s", c.base, url.QueryEscape(q))
    req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
    if err != nil {
        return nil, err
    }
    req.Header.Set("User-Agent", "rotihub/1.0")
    resp, err := c.http.Do(req)
    if err != nil {
        return nil, err
    }
    defer resp.Body.Close()
    if resp.StatusCode != http.StatusOK {
        return nil, fmt.Errorf("geocode: upstream status %d", resp.StatusCode)
    }
    var results []result
    if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
        return nil, err
    }
    if len(results) == 0 {
        return nil, ErrNoMatch
    }
    lat, err := strconv.ParseFloat(results[0].Lat, 64)
    if err != nil {
        return nil, fmt.Errorf("geocode: bad lat %q", results[0].Lat)
    }
    lng, err := strconv.ParseFloat(results[0].Lon, 64)
    if err != nil {
        return nil, fmt.Errorf("geocode: bad lon %q", results[0].Lon)
    }
    return &model.GeoPoint{Lat: lat, Lng: lng}, nil
}

func areaKeyword(address string) string {
    low := strings.ToLower(address)
    best, pos := "", -1
    for _, kw := range areaKeywords {
        if i := strings.LastIndex(low, kw); i > pos {
            best, pos = kw, i
        }
    }
    return best
}
