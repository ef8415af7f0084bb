package billing

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/titanfed/titan/internal/metrics"
	"github.com/titanfed/titan/internal/registry"
)

// Processor folds ledger events into subscription profiles. Events for
// different subscription ids are independent; events for the same id
// resolve conflicts through the monotonic-expiry rule rather than strict
// ordering, so processing is commutative under the transition table.
type Processor struct {
	reg      *registry.Registry
	notifier *Dispatcher // nil disables notifications
}

// NewProcessor creates a Processor. notifier may be nil.
func NewProcessor(reg *registry.Registry, notifier *Dispatcher) *Processor {
	return &Processor{reg: reg, notifier: notifier}
}

// Result reports what Process did with an event.
type Result struct {
	Event     *registry.PaymentEvent
	Outcome   registry.EventOutcome
	Duplicate bool
}

// Process validates, records and applies one normalized gateway event.
//
// A ledger-write failure is returned as an error (the caller surfaces 5xx
// so the gateway retries). Everything after a successful ledger write is
// non-fatal: the ledger is authoritative and the sweep can repair the
// projection later.
func (p *Processor) Process(ctx context.Context, n Normalized) (Result, error) {
	ev := n.Event
	if ev == nil {
		return Result{}, fmt.Errorf("%w: nil event", ErrValidation)
	}
	if ev.TransactionID == "" || (ev.SubscriptionID == "" && ev.Email == "") {
		return Result{}, fmt.Errorf("%w: missing correlation fields", ErrValidation)
	}

	inserted, existing, err := p.reg.RecordEvent(ev)
	if err != nil {
		return Result{}, fmt.Errorf("ledger write: %w", err)
	}
	if !inserted {
		// Duplicate delivery: the ledger row already carries the cached
		// outcome. A defined no-op, not an error.
		metrics.EventOutcomes.WithLabelValues("duplicate").Inc()
		log.Debug().
			Str("subscription_id", existing.SubscriptionID).
			Str("transaction_id", existing.TransactionID).
			Str("outcome", string(existing.Outcome)).
			Msg("Duplicate webhook delivery ignored")
		return Result{Event: existing, Outcome: existing.Outcome, Duplicate: true}, nil
	}

	outcome := p.apply(ctx, n)
	if err := p.reg.SetEventOutcome(ev.SubscriptionID, ev.TransactionID, outcome); err != nil {
		log.Error().Err(err).
			Str("subscription_id", ev.SubscriptionID).
			Str("transaction_id", ev.TransactionID).
			Msg("Failed to record event outcome")
	} else {
		ev.Outcome = outcome
	}
	metrics.EventOutcomes.WithLabelValues(string(outcome)).Inc()
	return Result{Event: ev, Outcome: outcome}, nil
}

// apply resolves the target profile and runs the transition table. It only
// ever returns a stored outcome; projection failures are logged, never
// propagated, because the ledger row is already durable.
func (p *Processor) apply(ctx context.Context, n Normalized) registry.EventOutcome {
	ev := n.Event

	if ev.EventType == registry.EventUnknown {
		log.Warn().
			Str("subscription_id", ev.SubscriptionID).
			Str("transaction_id", ev.TransactionID).
			Msg("Unknown gateway event shape quarantined")
		return registry.OutcomeQuarantined
	}

	if (ev.EventType == registry.EventCreated || ev.EventType == registry.EventRenewed) && !ev.Paid {
		return registry.OutcomeIgnoredUnpaid
	}

	profile, err := p.reg.ProfileBySubscriptionID(ev.SubscriptionID)
	if err != nil {
		log.Error().Err(err).Str("subscription_id", ev.SubscriptionID).Msg("Profile lookup failed")
		return registry.OutcomeReceived
	}

	if profile == nil {
		if ev.EventType != registry.EventCreated {
			// Recorded but unmatched: queued for reconciliation, never
			// silently dropped.
			log.Warn().
				Str("subscription_id", ev.SubscriptionID).
				Str("transaction_id", ev.TransactionID).
				Str("event_type", string(ev.EventType)).
				Msg("Event matched no subscription profile")
			return registry.OutcomeUnmatched
		}
		return p.activate(ctx, n)
	}

	return p.transition(ctx, profile, ev)
}

// activate creates a fresh profile lineage from a first paid Created event,
// correlating the principal by customer email.
func (p *Processor) activate(ctx context.Context, n Normalized) registry.EventOutcome {
	ev := n.Event
	principal, err := p.reg.PrincipalByEmail(ev.Email)
	if err != nil {
		log.Error().Err(err).Str("email", ev.Email).Msg("Principal lookup failed")
		return registry.OutcomeReceived
	}
	if principal == nil {
		log.Warn().
			Str("subscription_id", ev.SubscriptionID).
			Str("email", ev.Email).
			Msg("Created event matched no principal")
		return registry.OutcomeUnmatched
	}

	id, err := registry.GenerateProfileID()
	if err != nil {
		log.Error().Err(err).Msg("Generate profile id failed")
		return registry.OutcomeReceived
	}
	profile := &registry.SubscriptionProfile{
		ID:             id,
		PrincipalID:    principal.ID,
		PlanID:         p.resolvePlan(n),
		Status:         registry.StatusActive,
		ExpiresAt:      ev.DueDate,
		SubscriptionID: ev.SubscriptionID,
		CycleNumber:    1,
	}
	if err := p.reg.CreateProfile(profile); err != nil {
		// Projection failure after a durable ledger write: non-fatal, the
		// sweep rebuilds from the ledger.
		log.Error().Err(err).Str("subscription_id", ev.SubscriptionID).Msg("Profile create failed")
		return registry.OutcomeReceived
	}

	p.recordRevenue(ev)
	p.dispatch(ctx, noticeActivated, principal.Email, profile)
	log.Info().
		Str("subscription_id", ev.SubscriptionID).
		Str("principal_id", principal.ID).
		Time("expires_at", profile.ExpiresAt).
		Msg("Subscription activated")
	return registry.OutcomeApplied
}

// transition applies the state table to an existing profile. Every write
// goes through a conditional statement in the registry whose WHERE clause
// re-checks the invariant (monotonic expiry, live-status guard), so two
// deliveries for the same subscription id racing each other resolve at
// the storage layer: the loser's statement matches zero rows and is
// rejected as stale instead of overwriting the winner. The profile
// snapshot only picks the branch and shapes the notice.
func (p *Processor) transition(ctx context.Context, profile *registry.SubscriptionProfile, ev *registry.PaymentEvent) registry.EventOutcome {
	var (
		notice  noticeKind
		applied bool
		err     error
	)

	switch ev.EventType {
	case registry.EventCreated, registry.EventRenewed:
		switch profile.Status {
		case registry.StatusCanceled:
			p.logStale(profile, ev, "canceled lineage")
			return registry.OutcomeRejectedStale
		case registry.StatusActive, registry.StatusPastDue:
			// A replayed Created must strictly advance expiry; a Renewed
			// with a lagging due date still counts the cycle, MAX keeps
			// the stored expiry from moving backward either way.
			requireAdvance := ev.EventType == registry.EventCreated
			applied, err = p.reg.AdvanceProfileCycle(profile.ID, ev.DueDate, requireAdvance)
			if err == nil && applied {
				profile.Status = registry.StatusActive
				if ev.DueDate.After(profile.ExpiresAt) {
					profile.ExpiresAt = ev.DueDate
				}
				profile.CycleNumber++
				notice = noticeRenewed
			}
		default: // none, expired: a paid event restarts the lineage
			applied, err = p.reg.RestartProfileLineage(profile.ID, ev.DueDate)
			if err == nil && applied {
				profile.Status = registry.StatusActive
				profile.ExpiresAt = ev.DueDate
				profile.CycleNumber = 1
				notice = noticeActivated
			}
		}

	case registry.EventFailed:
		if profile.Status == registry.StatusPastDue {
			return registry.OutcomeApplied // already past_due, nothing to move
		}
		// Grace: expiry is untouched, access persists until it elapses.
		applied, err = p.reg.SetProfileStatus(profile.ID, registry.StatusPastDue, registry.StatusActive)
		if err == nil && applied {
			profile.Status = registry.StatusPastDue
			notice = noticeFailed
		}

	case registry.EventCanceled:
		if profile.Status == registry.StatusCanceled {
			return registry.OutcomeApplied
		}
		// Access persists until expires_at elapses; only the status moves.
		applied, err = p.reg.SetProfileStatus(profile.ID, registry.StatusCanceled,
			registry.StatusActive, registry.StatusPastDue)
		if err == nil && applied {
			profile.Status = registry.StatusCanceled
			notice = noticeCanceled
		}

	case registry.EventExpired:
		if profile.Status == registry.StatusExpired {
			return registry.OutcomeApplied
		}
		applied, err = p.reg.SetProfileStatus(profile.ID, registry.StatusExpired,
			registry.StatusActive, registry.StatusPastDue)
		if err == nil && applied {
			profile.Status = registry.StatusExpired
		}

	default:
		return registry.OutcomeQuarantined
	}

	if err != nil {
		log.Error().Err(err).Str("subscription_id", ev.SubscriptionID).Msg("Profile update failed")
		return registry.OutcomeReceived
	}
	if !applied {
		p.logStale(profile, ev, "profile state refused the transition")
		return registry.OutcomeRejectedStale
	}

	if ev.Paid && (ev.EventType == registry.EventCreated || ev.EventType == registry.EventRenewed) {
		p.recordRevenue(ev)
	}
	if notice != "" {
		principal, err := p.reg.Principal(profile.PrincipalID)
		if err == nil && principal != nil {
			p.dispatch(ctx, notice, principal.Email, profile)
		}
	}
	log.Info().
		Str("subscription_id", ev.SubscriptionID).
		Str("event_type", string(ev.EventType)).
		Str("status", string(profile.Status)).
		Int("cycle_number", profile.CycleNumber).
		Time("expires_at", profile.ExpiresAt).
		Msg("Subscription transitioned")
	return registry.OutcomeApplied
}

func (p *Processor) resolvePlan(n Normalized) string {
	if n.PlanRef != "" {
		if plan, err := p.reg.PlanByExternalID(n.PlanRef); err == nil && plan != nil {
			return plan.ID
		}
	}
	// Fall back to a price match among active plans.
	plans, err := p.reg.ListPlans(registry.PlanFilter{OnlyActive: true})
	if err != nil {
		return ""
	}
	for _, plan := range plans {
		if plan.PriceCents == n.Event.AmountCents {
			return plan.ID
		}
	}
	return ""
}

func (p *Processor) recordRevenue(ev *registry.PaymentEvent) {
	if err := p.reg.AddStat(registry.StatRevenueCents, ev.AmountCents); err != nil {
		log.Error().Err(err).Msg("Failed to update cached revenue total")
	}
}

// dispatch hands the lifecycle notification to the bounded Dispatcher.
// Notifier failure never unwinds the committed transition.
func (p *Processor) dispatch(_ context.Context, kind noticeKind, to string, profile *registry.SubscriptionProfile) {
	if p.notifier == nil || to == "" {
		return
	}
	snapshot := *profile
	p.notifier.Dispatch(context.Background(), kind, to, &snapshot)
}

func (p *Processor) logStale(profile *registry.SubscriptionProfile, ev *registry.PaymentEvent, reason string) {
	log.Warn().
		Str("subscription_id", ev.SubscriptionID).
		Str("transaction_id", ev.TransactionID).
		Str("event_type", string(ev.EventType)).
		Str("profile_status", string(profile.Status)).
		Time("profile_expires_at", profile.ExpiresAt).
		Time("event_due_date", ev.DueDate).
		Str("reason", reason).
		Msg("Stale transition rejected")
}
