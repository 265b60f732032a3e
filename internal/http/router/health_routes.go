package router

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/edline/otpgate/internal/cache"
	httperrors "github.com/edline/otpgate/internal/http/errors"
)

// registerHealthRoutes adds liveness and readiness probes. /healthz only
// says the process is up; /readyz also pings the cache, since without it
// replay protection and login sessions degrade.
func registerHealthRoutes(r chi.Router, c cache.Client) {
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		writeHealth(w, http.StatusOK, "ok")
	})

	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if c != nil {
			if err := c.Ping(req.Context()); err != nil {
				httperrors.WriteError(w, httperrors.ErrServiceUnavailable.WithDetail("cache unreachable"))
				return
			}
		}
		writeHealth(w, http.StatusOK, "ready")
	})
}

func writeHealth(w http.ResponseWriter, status int, state string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": state})
}
