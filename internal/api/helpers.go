package api

import (
	"encoding/json"
	"net/http"
)

// tenantHeader carries the authenticated tenant, set by the upstream
// auth proxy. Requests without it are unauthorized.
const tenantHeader = "X-Tenant-ID"

// userHeader carries the authenticated user within the tenant.
const userHeader = "X-User-ID"

func tenantFrom(r *http.Request) string {
	return r.Header.Get(tenantHeader)
}

func userFrom(r *http.Request) string {
	return r.Header.Get(userHeader)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error string `json:"error"`
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorResponse{Error: msg})
}
