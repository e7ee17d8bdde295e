// Package api implements HTTP handlers and helpers for the RotiHub service.
package api

import (
    "net/http"
    "strings"
)

type Principal struct {
    UserID string
    Role   string // admin, chef, delivery, customer
}

// getPrincipal extracts the caller identity from JWT or headers.
// - If Authorization: Bearer is present, uses configured verifier (dev/hmac/jwks).
// - Else falls back to headers for dev.
func (s *Server) getPrincipal(r *http.Request) Principal {
    authz := r.Header.Get("Authorization")
    if strings.HasPrefix(strings.ToLower(authz), "bearer ") && s.Auth != nil {
        tok := strings.TrimSpace(authz[len("Bearer "):])
        if pr, err := s.Auth.Verify(tok); err == nil {
            return Principal{UserID: pr.UserID, Role: pr.Role}
        }
    }
    userID := r.Header.Get("X-User-Id")
    role := r.Header.Get("X-Role")
    if userID == "" { userID = "u_demo" }
    if role == "" { role = "customer" }
    return Principal{UserID: userID, Role: strings.ToLower(role)}
}

// IsAdmin reports whether the principal has the admin role.
func (p Principal) IsAdmin() bool { return p.Role == "admin" }

// CanDeliver reports whether the principal may work delivery assignments.
func (p Principal) CanDeliver() bool { return p.Role == "delivery" || p.Role == "admin" }
