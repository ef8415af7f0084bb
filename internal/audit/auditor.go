package audit

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/titanfed/titan/internal/metrics"
	"github.com/titanfed/titan/internal/registry"
)

// Issue is one consistency finding with enough identifiers to act on.
type Issue struct {
	Check   string `json:"check"`
	Subject string `json:"subject"`
	Detail  string `json:"detail"`
}

// Report aggregates one audit pass. Issues are inconsistencies that need
// operator action; Warnings are findings a later event may still resolve.
type Report struct {
	Issues   []Issue `json:"issues"`
	Warnings []Issue `json:"warnings"`
}

// Clean reports whether the pass found no issues. Warnings alone still
// count as clean for exit-code purposes.
func (r *Report) Clean() bool { return len(r.Issues) == 0 }

// Auditor runs read-only consistency checks over the registry.
type Auditor struct {
	reg *registry.Registry
}

func New(reg *registry.Registry) *Auditor {
	return &Auditor{reg: reg}
}

// Run executes every check. Checks are independent: a storage error in one
// is reported as an issue on that check and the rest still run.
func (a *Auditor) Run() *Report {
	report := &Report{}

	a.checkProfilePlans(report)
	a.checkProfileLedger(report)
	a.checkContentScopeTags(report)
	a.checkRevenue(report)

	metrics.AuditIssues.Set(float64(len(report.Issues)))
	log.Info().
		Int("issues", len(report.Issues)).
		Int("warnings", len(report.Warnings)).
		Msg("Audit pass complete")
	return report
}

// checkProfilePlans flags active or past_due profiles whose plan id is
// empty or dangling.
func (a *Auditor) checkProfilePlans(report *Report) {
	const check = "profile_plan"
	profiles, err := a.reg.ListProfilesByStatus(registry.StatusActive, registry.StatusPastDue)
	if err != nil {
		report.Issues = append(report.Issues, Issue{Check: check, Detail: fmt.Sprintf("list profiles: %v", err)})
		return
	}
	for _, p := range profiles {
		if p.PlanID == "" {
			report.Issues = append(report.Issues, Issue{
				Check:   check,
				Subject: p.ID,
				Detail:  "active profile has no plan",
			})
			continue
		}
		plan, err := a.reg.PlanByID(p.PlanID)
		if err != nil {
			report.Issues = append(report.Issues, Issue{Check: check, Subject: p.ID, Detail: fmt.Sprintf("plan lookup: %v", err)})
			continue
		}
		if plan == nil {
			report.Issues = append(report.Issues, Issue{
				Check:   check,
				Subject: p.ID,
				Detail:  fmt.Sprintf("profile references missing plan %s", p.PlanID),
			})
		}
	}
}

// checkProfileLedger flags profiles with no ledger row at all. Every
// profile is a projection of the ledger, so a profile without events was
// written outside the webhook path.
func (a *Auditor) checkProfileLedger(report *Report) {
	const check = "profile_ledger"
	profiles, err := a.reg.ListProfilesByStatus(
		registry.StatusActive,
		registry.StatusPastDue,
		registry.StatusCanceled,
		registry.StatusExpired,
	)
	if err != nil {
		report.Issues = append(report.Issues, Issue{Check: check, Detail: fmt.Sprintf("list profiles: %v", err)})
		return
	}
	for _, p := range profiles {
		n, err := a.reg.CountEventsBySubscription(p.SubscriptionID)
		if err != nil {
			report.Issues = append(report.Issues, Issue{Check: check, Subject: p.ID, Detail: fmt.Sprintf("count events: %v", err)})
			continue
		}
		if n == 0 {
			report.Issues = append(report.Issues, Issue{
				Check:   check,
				Subject: p.ID,
				Detail:  fmt.Sprintf("no ledger events for subscription %q", p.SubscriptionID),
			})
		}
	}
}

// checkContentScopeTags flags scope tags that are neither NULL nor a
// well-formed value. A whitespace-only tag matches nothing and nobody,
// which is always a data-entry mistake.
func (a *Auditor) checkContentScopeTags(report *Report) {
	const check = "content_scope"
	items, err := a.reg.ListContent(false)
	if err != nil {
		report.Issues = append(report.Issues, Issue{Check: check, Detail: fmt.Sprintf("list content: %v", err)})
		return
	}
	for _, c := range items {
		if c.ScopeTagNull {
			// The filter coerces NULL to visible-to-all; flag it so the
			// catalog gets an explicit tag instead.
			report.Warnings = append(report.Warnings, Issue{
				Check:   check,
				Subject: c.ID,
				Detail:  "scope tag is NULL",
			})
			continue
		}
		trimmed := strings.TrimSpace(c.ScopeTag)
		if c.ScopeTag != "" && trimmed == "" {
			report.Issues = append(report.Issues, Issue{
				Check:   check,
				Subject: c.ID,
				Detail:  "scope tag is whitespace only",
			})
			continue
		}
		if trimmed != c.ScopeTag {
			report.Warnings = append(report.Warnings, Issue{
				Check:   check,
				Subject: c.ID,
				Detail:  fmt.Sprintf("scope tag %q carries surrounding whitespace", c.ScopeTag),
			})
		}
	}
}

// checkRevenue compares the cached revenue stat against the sum over
// applied paid ledger rows. A mismatch means the cache drifted; the ledger
// value is authoritative.
func (a *Auditor) checkRevenue(report *Report) {
	const check = "revenue"
	ledger, err := a.reg.LedgerRevenueCents()
	if err != nil {
		report.Issues = append(report.Issues, Issue{Check: check, Detail: fmt.Sprintf("ledger sum: %v", err)})
		return
	}
	cached, err := a.reg.Stat(registry.StatRevenueCents)
	if err != nil {
		report.Issues = append(report.Issues, Issue{Check: check, Detail: fmt.Sprintf("cached stat: %v", err)})
		return
	}
	if ledger != cached {
		report.Issues = append(report.Issues, Issue{
			Check:   check,
			Subject: registry.StatRevenueCents,
			Detail:  fmt.Sprintf("cached total %d disagrees with ledger total %d", cached, ledger),
		})
	}
}
