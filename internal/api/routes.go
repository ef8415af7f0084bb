package api

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/titanfed/titan/internal/billing"
	"github.com/titanfed/titan/internal/config"
	"github.com/titanfed/titan/internal/registry"
	"github.com/titanfed/titan/internal/roles"
)

// Deps holds shared dependencies injected into HTTP handlers.
type Deps struct {
	Config    *config.Config
	Registry  *registry.Registry
	Resolver  *roles.Resolver
	Processor *billing.Processor
	Version   string
}

// RegisterRoutes wires all HTTP handlers onto the given ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps *Deps) {
	adminAuth := func(next http.Handler) http.Handler {
		return AdminKeyMiddleware(deps.Config.AdminKey, next)
	}

	// Health / readiness are unauthenticated liveness/readiness probes.
	mux.HandleFunc("/healthz", HandleHealthz)
	mux.HandleFunc("/readyz", HandleReadyz(deps.Registry))

	// Status and metrics are private by default.
	statusHandler := http.HandlerFunc(HandleStatus(deps.Registry, deps.Version))
	if deps.Config.PublicStatus {
		mux.Handle("/status", statusHandler)
	} else {
		mux.Handle("/status", adminAuth(statusHandler))
	}

	metricsHandler := promhttp.Handler()
	if deps.Config.PublicMetrics {
		mux.Handle("/metrics", metricsHandler)
	} else {
		mux.Handle("/metrics", adminAuth(metricsHandler))
	}

	// Payment gateway webhook (optionally token-authenticated)
	webhookHandler := NewWebhookHandler(deps.Processor, deps.Config.WebhookToken)
	webhookLimiter := NewRateLimiter(deps.Config.WebhookRate, time.Minute)
	mux.Handle("POST /webhooks/{gateway}", webhookLimiter.Middleware(webhookHandler))

	// Plan catalog: listing is public, creation is scope-authorized.
	mux.HandleFunc("GET /plans", HandleListPlans(deps.Registry))
	mux.HandleFunc("POST /plans", HandleCreatePlan(deps.Registry, deps.Registry))

	// Permission API (caller-authenticated via session header)
	mux.HandleFunc("GET /permissions", HandleGetPermissions(deps.Registry, deps.Resolver))
	mux.HandleFunc("POST /permissions", HandleAssignRole(deps.Registry, deps.Resolver))
	mux.HandleFunc("DELETE /permissions", HandleRevokeRole(deps.Registry, deps.Resolver))

	// Entitlement-filtered catalog
	mux.HandleFunc("GET /content", HandleListContent(deps.Registry, deps.Registry))
}
