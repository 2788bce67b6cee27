package gateway

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/notemesh/realtime-core/internal/observe"
)

// Router builds the full HTTP surface: the four WebSocket channels plus
// /healthz, /metrics, and (when filesDir is non-empty) a /files static
// handler for the Local object-store backend (§4.6, §6).
func (g *Gateway) Router(filesDir string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(httprate.LimitByIP(120, time.Minute))
	r.Use(observe.Middleware(observe.DefaultMetrics()))

	r.Get("/healthz", g.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/ws/audio", g.ServeAudio)
	r.Get("/ws/ingest", g.ServeIngest)
	r.Get("/ws/frontend", g.ServeFrontend)
	r.Get("/ws/realtime-av", g.ServeRealtimeAV)

	if filesDir != "" {
		fs := http.StripPrefix("/files/", http.FileServer(http.Dir(filesDir)))
		r.Get("/files/*", func(w http.ResponseWriter, req *http.Request) { fs.ServeHTTP(w, req) })
	}

	return r
}

func (g *Gateway) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
