package registry

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/titanfed/titan/internal/roles"
	"github.com/titanfed/titan/internal/tenants"
)

// Principal is an authenticated user holding exactly one active role
// assignment at a time.
type Principal struct {
	ID        string        `json:"id"`
	Email     string        `json:"email"`
	Role      roles.Role    `json:"role"`
	Scope     tenants.Scope `json:"scope"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Assignment returns the principal's active role assignment.
func (p *Principal) Assignment() roles.Assignment {
	return roles.Assignment{Role: p.Role, Scope: p.Scope}
}

// PlanFrequency is the billing cycle of a plan.
type PlanFrequency string

const (
	FrequencyMonthly   PlanFrequency = "monthly"
	FrequencyQuarterly PlanFrequency = "quarterly"
	FrequencySemestral PlanFrequency = "semestral"
	FrequencyYearly    PlanFrequency = "yearly"
)

// Plan is a recurring-billing plan owned by a federation or an academy.
type Plan struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	FederationID   string        `json:"federation_id,omitempty"`
	AcademyID      string        `json:"academy_id,omitempty"`
	PriceCents     int64         `json:"price_cents"`
	Frequency      PlanFrequency `json:"frequency"`
	ExternalPlanID string        `json:"external_plan_id"`
	Featured       bool          `json:"featured"`
	SortOrder      int           `json:"sort_order"`
	Active         bool          `json:"active"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// SubscriptionStatus is the lifecycle status of a subscription profile.
type SubscriptionStatus string

const (
	StatusNone     SubscriptionStatus = "none"
	StatusActive   SubscriptionStatus = "active"
	StatusPastDue  SubscriptionStatus = "past_due"
	StatusCanceled SubscriptionStatus = "canceled"
	StatusExpired  SubscriptionStatus = "expired"
)

// SubscriptionProfile is the per-principal projection of the ledger. It is
// mutated only by the billing processor and the sweeper; the ledger remains
// the system of record and the profile is rebuildable from it.
type SubscriptionProfile struct {
	ID             string             `json:"id"`
	PrincipalID    string             `json:"principal_id"`
	PlanID         string             `json:"plan_id,omitempty"`
	Status         SubscriptionStatus `json:"status"`
	ExpiresAt      time.Time          `json:"expires_at"`
	SubscriptionID string             `json:"subscription_id"`
	CycleNumber    int                `json:"cycle_number"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// EventType is the canonical payment-gateway event family.
type EventType string

const (
	EventCreated  EventType = "created"
	EventRenewed  EventType = "renewed"
	EventFailed   EventType = "failed"
	EventCanceled EventType = "canceled"
	EventExpired  EventType = "expired"
	// EventUnknown marks payloads matching no known shape; they are stored
	// and flagged, never guessed at.
	EventUnknown EventType = "unknown"
)

// EventOutcome records what processing did with a ledger row.
type EventOutcome string

const (
	OutcomeReceived      EventOutcome = "received"
	OutcomeApplied       EventOutcome = "applied"
	OutcomeUnmatched     EventOutcome = "unmatched"
	OutcomeRejectedStale EventOutcome = "rejected_stale"
	OutcomeIgnoredUnpaid EventOutcome = "ignored_unpaid"
	OutcomeQuarantined   EventOutcome = "quarantined"
)

// PaymentEvent is an immutable ledger row. Uniqueness on
// (SubscriptionID, TransactionID) is the sole admission-control point for
// duplicate webhook deliveries.
type PaymentEvent struct {
	EventType      EventType    `json:"event_type"`
	SubscriptionID string       `json:"subscription_id"`
	TransactionID  string       `json:"transaction_id"`
	Email          string       `json:"email,omitempty"`
	AmountCents    int64        `json:"amount_cents"`
	Paid           bool         `json:"paid"`
	DueDate        time.Time    `json:"due_date"`
	ReceivedAt     time.Time    `json:"received_at"`
	Outcome        EventOutcome `json:"outcome"`
}

// Content is a catalog item (e.g. a course) gated by tenant membership.
// ScopeTag empty or "ALL" means visible to every principal. ScopeTagNull
// records that the stored value was NULL rather than empty, so the auditor
// can flag it instead of the filter silently coercing it.
type Content struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	ScopeTag     string    `json:"scope_tag"`
	ScopeTagNull bool      `json:"-"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// StatRevenueCents is the cached display total the auditor reconciles
// against ledger-derived revenue.
const StatRevenueCents = "revenue_cents"

// crockfordBase32 is the Crockford base32 alphabet (excludes I, L, O, U).
const crockfordBase32 = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

func generateID(prefix string) (string, error) {
	b := make([]byte, 10)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	var sb strings.Builder
	sb.WriteString(prefix)
	for _, v := range b {
		sb.WriteByte(crockfordBase32[int(v)%len(crockfordBase32)])
	}
	return sb.String(), nil
}

// GeneratePrincipalID returns "u_" plus 10 random Crockford base32
// characters (50 bits of entropy).
func GeneratePrincipalID() (string, error) { return generateID("u_") }

// GeneratePlanID returns "pl_" plus 10 random Crockford base32 characters.
func GeneratePlanID() (string, error) { return generateID("pl_") }

// GenerateProfileID returns "sp_" plus 10 random Crockford base32 characters.
func GenerateProfileID() (string, error) { return generateID("sp_") }

// GenerateContentID returns "ct_" plus 10 random Crockford base32 characters.
func GenerateContentID() (string, error) { return generateID("ct_") }
