package runtime

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/badaboda/mochevent/internal/runtime/jsoncodec"
	"github.com/badaboda/mochevent/internal/runtime/registry"
)

// RegistrySnapshot is the body of GET /api/registry.
type RegistrySnapshot struct {
	Capacity int              `json:"capacity"`
	Pending  int              `json:"pending"`
	Reserved int              `json:"reserved"`
	Entries  []registry.Entry `json:"entries"`
	TakenAt  time.Time        `json:"taken_at"`
}

// StatsSnapshot is the body of GET /api/stats.
type StatsSnapshot struct {
	Bridge  BridgeMetricsSnapshot `json:"bridge"`
	Process ProcessUsage          `json:"process"`
}

// HealthStatus is the body of GET /healthz.
type HealthStatus struct {
	Status  string `json:"status"`
	Backend string `json:"backend"`
	Node    string `json:"node"`
}

func (g *Gateway) adminRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(g.adminCORS)
	routes := map[string]http.HandlerFunc{
		"/api/registry": g.handleGetRegistry,
		"/api/stats":    g.handleGetStats,
		"/healthz":      g.handleHealth,
	}
	for path, h := range routes {
		r.Get(path, h)
		r.Options(path, preflight)
	}
	return r
}

func preflight(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleGetRegistry(w http.ResponseWriter, _ *http.Request) {
	snap := RegistrySnapshot{
		Capacity: g.registry.Capacity(),
		Pending:  g.registry.Len(),
		Reserved: g.registry.Reserved(),
		Entries:  g.registry.Snapshot(),
		TakenAt:  time.Now().UTC(),
	}
	g.writeJSON(w, http.StatusOK, snap)
}

func (g *Gateway) handleGetStats(w http.ResponseWriter, _ *http.Request) {
	g.writeJSON(w, http.StatusOK, StatsSnapshot{
		Bridge:  g.metrics.GetSnapshot(),
		Process: g.process.Sample(),
	})
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := HealthStatus{Status: "ok", Backend: g.Conf.Backend, Node: g.connector.Identity().Node}
	code := http.StatusOK
	if !g.connector.Available() {
		status.Status = "backend unavailable"
		code = http.StatusServiceUnavailable
	}
	g.writeJSON(w, code, status)
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	if err := jsoncodec.Respond(w, status, v); err != nil {
		g.Logger.Error("Failed to encode admin response", err, nil)
	}
}

// adminCORS sets CORS headers for allowed origins.
func (g *Gateway) adminCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := g.allowedCORSOrigin(r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		next.ServeHTTP(w, r)
	})
}

// allowedCORSOrigin checks if the request origin is allowed and returns the
// Access-Control-Allow-Origin value.
func (g *Gateway) allowedCORSOrigin(requestOrigin string) string {
	if g.Conf == nil {
		return ""
	}
	for _, allowed := range g.Conf.AdminCORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}
