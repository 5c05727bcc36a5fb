package daemon

import (
	"net/http"
	"time"

	"github.com/r3e-network/mgmtctl/infrastructure/httputil"
)

// HealthResponse is the standard response for the /health endpoint.
type HealthResponse struct {
	Status    string         `json:"status"`
	Service   string         `json:"service"`
	Version   string         `json:"version"`
	Timestamp string         `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// InfoResponse is the standard response for the /info endpoint.
type InfoResponse struct {
	Status     string         `json:"status"`
	Service    string         `json:"service"`
	Version    string         `json:"version"`
	Timestamp  string         `json:"timestamp"`
	Statistics map[string]any `json:"statistics,omitempty"`
}

// HealthHandler returns a standardized /health handler for a BaseDaemon.
func HealthHandler(b *BaseDaemon) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:    b.HealthStatus(),
			Service:   b.Name(),
			Version:   b.Version(),
			Timestamp: time.Now().Format(time.RFC3339),
		}
		if resp.Status != "healthy" {
			resp.Details = b.HealthDetails()
		}
		httputil.WriteJSON(w, http.StatusOK, resp)
	}
}

// ReadinessHandler returns a readiness probe handler suitable for k8s.
func ReadinessHandler(b *BaseDaemon) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := b.HealthStatus()
		var details map[string]any
		if status != "healthy" {
			details = b.HealthDetails()
		}

		resp := HealthResponse{
			Status:    status,
			Service:   b.Name(),
			Version:   b.Version(),
			Timestamp: time.Now().Format(time.RFC3339),
			Details:   details,
		}

		code := http.StatusOK
		if status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		httputil.WriteJSON(w, code, resp)
	}
}

// InfoHandler returns a standardized /info handler for a BaseDaemon. It
// includes statistics from the registered stats function if available.
func InfoHandler(b *BaseDaemon) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := InfoResponse{
			Status:    "active",
			Service:   b.Name(),
			Version:   b.Version(),
			Timestamp: time.Now().Format(time.RFC3339),
		}
		if b.statsFn != nil {
			resp.Statistics = b.statsFn()
		}
		httputil.WriteJSON(w, http.StatusOK, resp)
	}
}

// RouteOptions configures which standard routes to register.
type RouteOptions struct {
	SkipInfo bool // Skip /info registration (for daemons with a custom /info)
}

// RegisterStandardRoutes registers the standard /health, /ready, and /info
// endpoints on the daemon's own router.
func (b *BaseDaemon) RegisterStandardRoutes() {
	b.RegisterStandardRoutesWithOptions(RouteOptions{})
}

// RegisterStandardRoutesWithOptions registers standard routes with
// configurable options.
func (b *BaseDaemon) RegisterStandardRoutesWithOptions(opts RouteOptions) {
	router := b.Router()
	router.HandleFunc("/health", HealthHandler(b)).Methods(http.MethodGet)
	router.HandleFunc("/ready", ReadinessHandler(b)).Methods(http.MethodGet)
	if !opts.SkipInfo {
		router.HandleFunc("/info", InfoHandler(b)).Methods(http.MethodGet)
	}
}
