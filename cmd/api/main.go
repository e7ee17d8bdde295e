package main

import (
    "bufio"
    "errors"
    "log"
    "net"
    "net/http"
    "os"
    "strconv"
    "time"

    "github.com/prometheus/client_golang/prometheus/promhttp"

    "rotihub/internal/api"
    "rotihub/internal/metrics"
    "rotihub/internal/sched"
)

func main() {
    srvDeps, err := api.NewServer()
    if err != nil {
        log.Fatalf("failed to init server: %v", err)
    }
    metrics.RegisterDefault()

    mux := http.NewServeMux()

    // Location & zone
    mux.HandleFunc("/v1/validate-pincode", srvDeps.ValidatePincodeHandler)
    mux.HandleFunc("/v1/geocode", srvDeps.GeocodeHandler)
    mux.HandleFunc("/v1/delivery-zone", srvDeps.DeliveryZoneHandler)
    mux.HandleFunc("/v1/users/me", srvDeps.MeHandler)
    mux.HandleFunc("/v1/users/me/location", srvDeps.MeLocationHandler)
    mux.HandleFunc("/v1/users/me/area", srvDeps.MeAreaHandler)
    mux.HandleFunc("/v1/users/exists", srvDeps.UserExistsHandler)

    // Catalog
    mux.HandleFunc("/v1/chefs", srvDeps.ChefsHandler)
    mux.HandleFunc("/v1/plans", srvDeps.PlansHandler)
    mux.HandleFunc("/v1/delivery-slots", srvDeps.DeliverySlotsHandler)
    mux.HandleFunc("/v1/areas", srvDeps.AreasHandler)

    // Subscriptions
    mux.HandleFunc("/v1/subscriptions", srvDeps.SubscriptionsHandler)
    mux.HandleFunc("/v1/subscriptions/public", srvDeps.SubscriptionsHandler)
    mux.HandleFunc("/v1/subscriptions/", srvDeps.SubscriptionByIDHandler)

    // Cart & orders
    mux.HandleFunc("/v1/cart", srvDeps.CartHandler)
    mux.HandleFunc("/v1/cart/", srvDeps.CartHandler)
    mux.HandleFunc("/v1/cart/items", srvDeps.CartItemsHandler)
    mux.HandleFunc("/v1/cart/items/", srvDeps.CartItemsHandler)
    mux.HandleFunc("/v1/orders", srvDeps.OrdersHandler)
    mux.HandleFunc("/v1/orders/", srvDeps.OrderByIDHandler) // includes /status, /assign, /location, /events/stream

    // Order event WebSocket
    mux.HandleFunc("/v1/ws/orders", srvDeps.OrdersWSHandler)

    // Admin
    mux.HandleFunc("/v1/admin/areas", srvDeps.AreasHandler)
    mux.HandleFunc("/v1/admin/areas/", srvDeps.AreaByIDHandler)
    mux.HandleFunc("/v1/webhooks", srvDeps.WebhooksHandler)
    mux.HandleFunc("/v1/webhooks/", srvDeps.WebhooksHandler)

    // Health & ops
    mux.HandleFunc("/healthz", srvDeps.HealthHandler)
    mux.HandleFunc("/readyz", srvDeps.ReadyHandler)
    mux.HandleFunc("/v1/debug", srvDeps.DebugJSON)
    mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

    // Docs
    mux.HandleFunc("/openapi.yaml", srvDeps.OpenAPIHandler)
    mux.HandleFunc("/openapi.json", srvDeps.OpenAPIJSONHandler)
    mux.HandleFunc("/docs", srvDeps.DocsHandler)

    addr := ":8080"
    if v := os.Getenv("PORT"); v != "" {
        addr = ":" + v
    }

    limiter := api.NewRateLimiterFromEnv()
    srv := &http.Server{
        Addr:              addr,
        Handler:           logMiddleware(metricsMiddleware(limiter.Middleware(mux))),
        ReadHeaderTimeout: 5 * time.Second,
    }

    log.Printf("API listening on %s", addr)
    if srvDeps.Pub != nil {
        srvDeps.NewWebhookWorker().Start()
    }
    sched.NewWorker(srvDeps.Store, srvDeps.Pub).Start()
    if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
        log.Fatalf("server error: %v", err)
    }
}

func logMiddleware(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        start := time.Now()
        next.ServeHTTP(w, r)
        dur := time.Since(start)
        log.Printf("%s %s %s %v", r.RemoteAddr, r.Method, r.URL.Path, dur)
    })
}

type statusRecorder struct {
    http.ResponseWriter
    status int
}

func (s *statusRecorder) WriteHeader(code int) {
    s.status = code
    s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Flush() {
    if f, ok := s.ResponseWriter.(http.Flusher); ok { f.Flush() }
}

func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
    hj, ok := s.ResponseWriter.(http.Hijacker)
    if !ok {
        return nil, nil, errors.New("response writer does not support hijacking")
    }
    return hj.Hijack()
}

func metricsMiddleware(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        rec := &statusRecorder{ResponseWriter: w, status: 200}
        start := time.Now()
        next.ServeHTTP(rec, r)
        status := strconv.Itoa(rec.status)
        metrics.HTTPRequests.WithLabelValues(r.Method, r.URL.Path, status).Inc()
        metrics.HTTPDuration.WithLabelValues(r.Method, r.URL.Path, status).Observe(time.Since(start).Seconds())
    })
}
