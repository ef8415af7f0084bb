package api

import (
	"net/http"
	"strings"

	"github.com/titanfed/titan/internal/metrics"
	"github.com/titanfed/titan/internal/registry"
)

type statusResponse struct {
	Version        string                              `json:"version"`
	TotalProfiles  int                                 `json:"total_profiles"`
	ByStatus       map[registry.SubscriptionStatus]int `json:"by_status"`
	RevenueCents   int64                               `json:"revenue_cents"`
	UnmatchedCount int                                 `json:"unmatched_events"`
}

// HandleHealthz returns 200 "ok" unconditionally (liveness probe).
func HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz returns a handler that checks database connectivity
// (readiness probe).
func HandleReadyz(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := reg.Ping(); err != nil {
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	}
}

// HandleStatus returns a handler that reports aggregate subscription state.
func HandleStatus(reg *registry.Registry, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := reg.CountProfilesByStatus()
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		// Opportunistically sync gauges on status calls (in addition to the
		// background sweep).
		total := 0
		for status, c := range counts {
			metrics.ProfilesByStatus.WithLabelValues(string(status)).Set(float64(c))
			total += c
		}

		revenue, err := reg.LedgerRevenueCents()
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		unmatched, err := reg.ListEventsByOutcome(registry.OutcomeUnmatched)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, statusResponse{
			Version:        version,
			TotalProfiles:  total,
			ByStatus:       counts,
			RevenueCents:   revenue,
			UnmatchedCount: len(unmatched),
		})
	}
}

// AdminKeyMiddleware returns middleware that requires a valid admin API key.
func AdminKeyMiddleware(adminKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get("X-Admin-Key"))
		if key == "" {
			// Also check Authorization: Bearer <key>
			auth := r.Header.Get("Authorization")
			if strings.HasPrefix(auth, "Bearer ") {
				key = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
			}
		}

		if key == "" || key != adminKey {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
			return
		}

		next.ServeHTTP(w, r)
	})
}
