package billing

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/titanfed/titan/internal/metrics"
	"github.com/titanfed/titan/internal/registry"
)

// Sweeper periodically transitions profiles whose expires_at has elapsed
// while status is still active or past_due to expired. A lapsed profile
// loses access the moment the clock passes expires_at regardless of the
// sweep cadence; the sweep only settles the stored status.
type Sweeper struct {
	reg      *registry.Registry
	interval time.Duration
	now      func() time.Time
}

// NewSweeper creates a Sweeper ticking at interval.
func NewSweeper(reg *registry.Registry, interval time.Duration) *Sweeper {
	return &Sweeper{reg: reg, interval: interval, now: time.Now}
}

// Run starts the sweep loop. It blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	log.Info().Dur("interval", s.interval).Msg("Expiry sweeper started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Expiry sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass: expire lapsed profiles, report leftover unmatched
// ledger rows, refresh the status gauges. Each concern fails independently.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := s.now().UTC()

	// The listing is only for logging; the write is one conditional UPDATE
	// that re-checks status and expiry, so a renewal landing mid-sweep
	// keeps its pushed-forward expiry instead of being clobbered. Running
	// two sweeps concurrently expires each profile exactly once.
	lapsed, err := s.reg.ListLapsedProfiles(now)
	if err != nil {
		log.Error().Err(err).Msg("Sweeper: failed to list lapsed profiles")
	} else {
		for _, profile := range lapsed {
			log.Info().
				Str("profile_id", profile.ID).
				Str("subscription_id", profile.SubscriptionID).
				Time("expires_at", profile.ExpiresAt).
				Msg("Lapsed subscription expiring")
		}
	}
	if ctx.Err() != nil {
		return
	}

	expired, err := s.reg.ExpireLapsedProfiles(now)
	if err != nil {
		log.Error().Err(err).Msg("Sweeper: failed to expire lapsed profiles")
	} else if expired > 0 {
		metrics.SweeperExpirations.Add(float64(expired))
		log.Info().Int64("count", expired).Msg("Lapsed subscriptions expired")
	}

	unmatched, err := s.reg.ListEventsByOutcome(registry.OutcomeUnmatched)
	if err != nil {
		log.Error().Err(err).Msg("Sweeper: failed to list unmatched events")
	} else if len(unmatched) > 0 {
		log.Warn().Int("count", len(unmatched)).Msg("Unmatched ledger events awaiting reconciliation")
	}

	s.refreshGauges()
}

func (s *Sweeper) refreshGauges() {
	counts, err := s.reg.CountProfilesByStatus()
	if err != nil {
		log.Error().Err(err).Msg("Sweeper: failed to count profiles by status")
		return
	}
	for _, status := range []registry.SubscriptionStatus{
		registry.StatusActive,
		registry.StatusPastDue,
		registry.StatusCanceled,
		registry.StatusExpired,
	} {
		metrics.ProfilesByStatus.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}
