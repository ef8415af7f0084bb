package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/titanfed/titan/internal/billing"
	"github.com/titanfed/titan/internal/config"
	"github.com/titanfed/titan/internal/email"
	"github.com/titanfed/titan/internal/logging"
	"github.com/titanfed/titan/internal/registry"
	"github.com/titanfed/titan/internal/roles"
)

// Run starts the engine HTTP server with graceful shutdown.
func Run(ctx context.Context, version string) error {
	logging.Init(logging.Config{
		Format:    "auto",
		Level:     "info",
		Component: "engine",
	})

	log.Info().Str("version", version).Msg("Starting Titan entitlement engine")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := os.MkdirAll(cfg.RegistryDir(), 0o755); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}

	reg, err := registry.Open(cfg.RegistryDir())
	if err != nil {
		return fmt.Errorf("open registry: %w", err)
	}
	defer reg.Close()

	var sender email.Sender
	if cfg.PostmarkToken != "" {
		sender = email.NewPostmarkSender(cfg.PostmarkToken)
		log.Info().Msg("Email sender configured (Postmark)")
	} else {
		sender = email.NewLogSender(func(to, subject, body string) {
			const maxBody = 4096
			bodyForLog := body
			if len(bodyForLog) > maxBody {
				bodyForLog = bodyForLog[:maxBody] + "...(truncated)"
			}
			log.Info().
				Str("to", to).
				Str("subject", subject).
				Str("body", bodyForLog).
				Msg("Email (log-only, no email provider configured)")
		})
		log.Info().Msg("Email sender: log-only (set POSTMARK_SERVER_TOKEN to enable)")
	}

	dispatcher := billing.NewDispatcher(reg, sender, cfg.EmailFrom)
	processor := billing.NewProcessor(reg, dispatcher)
	resolver := roles.NewResolver(reg, reg)

	mux := http.NewServeMux()
	deps := &Deps{
		Config:    cfg,
		Registry:  reg,
		Resolver:  resolver,
		Processor: processor,
		Version:   version,
	}
	RegisterRoutes(mux, deps)

	addr := fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           RequestIDMiddleware(mux),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Derived context for background goroutines
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Start the expiry sweeper
	sweeper := billing.NewSweeper(reg, cfg.SweepInterval)
	go sweeper.Run(ctx)

	// Start server in background
	go func() {
		log.Info().Str("addr", addr).Msg("Engine listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Server failed")
		}
	}()

	// Signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		log.Info().Msg("Context cancelled, shutting down...")
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	cancel()
	log.Info().Msg("Engine stopped")
	return nil
}
