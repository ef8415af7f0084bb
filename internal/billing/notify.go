package billing

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/titanfed/titan/internal/email"
	"github.com/titanfed/titan/internal/registry"
)

type noticeKind string

const (
	noticeActivated noticeKind = "activated"
	noticeRenewed   noticeKind = "renewed"
	noticeFailed    noticeKind = "payment_failed"
	noticeCanceled  noticeKind = "canceled"
)

// maxInFlightNotices caps concurrent sends so a webhook burst cannot pile
// up goroutines behind a slow mail provider.
const maxInFlightNotices = 16

// Dispatcher renders and sends lifecycle notices. Send failures are logged
// and dropped; notification is best-effort by contract.
type Dispatcher struct {
	reg    *registry.Registry
	sender email.Sender
	from   string
	sem    chan struct{}
}

func NewDispatcher(reg *registry.Registry, sender email.Sender, from string) *Dispatcher {
	return &Dispatcher{
		reg:    reg,
		sender: sender,
		from:   from,
		sem:    make(chan struct{}, maxInFlightNotices),
	}
}

func (d *Dispatcher) planName(planID string) string {
	if planID == "" {
		return ""
	}
	plan, err := d.reg.PlanByID(planID)
	if err != nil || plan == nil {
		return ""
	}
	return plan.Name
}

// Dispatch sends the notice on a background goroutine and returns
// immediately. When maxInFlightNotices sends are already running the
// notice is dropped with a warning; best-effort holds over backpressure.
func (d *Dispatcher) Dispatch(ctx context.Context, kind noticeKind, to string, profile *registry.SubscriptionProfile) {
	select {
	case d.sem <- struct{}{}:
	default:
		log.Warn().
			Str("kind", string(kind)).
			Str("to", to).
			Msg("Notice dropped, dispatcher is saturated")
		return
	}
	go func() {
		defer func() { <-d.sem }()
		d.send(ctx, kind, to, profile)
	}()
}

func (d *Dispatcher) send(ctx context.Context, kind noticeKind, to string, profile *registry.SubscriptionProfile) {
	var (
		notice email.Notice
		err    error
	)
	switch kind {
	case noticeActivated:
		notice, err = email.SubscriptionActivated(d.planName(profile.PlanID), profile.ExpiresAt)
	case noticeRenewed:
		notice, err = email.SubscriptionRenewed(profile.CycleNumber, profile.ExpiresAt)
	case noticeFailed:
		notice, err = email.PaymentFailed(profile.ExpiresAt)
	case noticeCanceled:
		notice, err = email.SubscriptionCanceled(profile.ExpiresAt)
	default:
		return
	}
	if err != nil {
		log.Error().Err(err).Str("kind", string(kind)).Msg("Failed to render notice")
		return
	}
	if err := d.sender.Send(ctx, email.Message{
		From:    d.from,
		To:      to,
		Subject: notice.Subject,
		HTML:    notice.HTML,
		Text:    notice.Text,
	}); err != nil {
		log.Error().Err(err).
			Str("kind", string(kind)).
			Str("to", to).
			Msg("Failed to send notice")
		return
	}
	log.Info().Str("kind", string(kind)).Str("to", to).Msg("Lifecycle notice sent")
}
