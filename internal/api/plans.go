package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/titanfed/titan/internal/registry"
	"github.com/titanfed/titan/internal/roles"
	"github.com/titanfed/titan/internal/tenants"
)

// planManagerMaxLevel is the least-privileged role level that may manage
// plans (academia_admin); scope containment is checked separately.
const planManagerMaxLevel = 4

// HandleListPlans lists plans in display order, optionally filtered by
// tenant. Active plans only, unless ?onlyActive=false.
func HandleListPlans(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := registry.PlanFilter{
			FederationID: strings.TrimSpace(q.Get("federationId")),
			AcademyID:    strings.TrimSpace(q.Get("academyId")),
			OnlyActive:   !strings.EqualFold(q.Get("onlyActive"), "false"),
		}
		plans, err := reg.ListPlans(filter)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
			return
		}
		if plans == nil {
			plans = []*registry.Plan{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"plans": plans,
			"count": len(plans),
		})
	}
}

type createPlanRequest struct {
	Name           string `json:"name"`
	FederationID   string `json:"federation_id"`
	AcademyID      string `json:"academy_id"`
	PriceCents     int64  `json:"price_cents"`
	Frequency      string `json:"frequency"`
	ExternalPlanID string `json:"external_plan_id"`
	Featured       bool   `json:"featured"`
	SortOrder      int    `json:"sort_order"`
}

// HandleCreatePlan creates a plan inside the caller's tenant subtree.
// Callers must hold a managerial role and contain the plan's scope.
func HandleCreatePlan(reg *registry.Registry, dir tenants.Directory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := callerPrincipal(w, r, reg)
		if caller == nil {
			return
		}
		actor := caller.Assignment()

		level, err := roles.LevelOf(actor.Role)
		if err != nil || level > planManagerMaxLevel {
			writeJSON(w, http.StatusForbidden, errorResponse{Error: "permission denied"})
			return
		}

		var req createPlanRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" || req.PriceCents <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "name and a positive price_cents are required"})
			return
		}

		frequency := registry.PlanFrequency(strings.TrimSpace(req.Frequency))
		switch frequency {
		case registry.FrequencyMonthly, registry.FrequencyQuarterly,
			registry.FrequencySemestral, registry.FrequencyYearly:
		case "":
			frequency = registry.FrequencyMonthly
		default:
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unknown frequency"})
			return
		}

		planScope := tenants.Scope{
			FederationID: strings.TrimSpace(req.FederationID),
			AcademyID:    strings.TrimSpace(req.AcademyID),
		}
		if !actor.EffectiveScope().Contains(dir, planScope) {
			writeJSON(w, http.StatusForbidden, errorResponse{Error: "permission denied"})
			return
		}

		id, err := registry.GeneratePlanID()
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
			return
		}
		plan := &registry.Plan{
			ID:             id,
			Name:           req.Name,
			FederationID:   planScope.FederationID,
			AcademyID:      planScope.AcademyID,
			PriceCents:     req.PriceCents,
			Frequency:      frequency,
			ExternalPlanID: strings.TrimSpace(req.ExternalPlanID),
			Featured:       req.Featured,
			SortOrder:      req.SortOrder,
			Active:         true,
		}
		if err := reg.CreatePlan(plan); err != nil {
			log.Error().Err(err).Str("name", req.Name).Msg("Plan create failed")
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
			return
		}

		log.Info().
			Str("plan_id", plan.ID).
			Str("actor", caller.ID).
			Str("name", plan.Name).
			Int64("price_cents", plan.PriceCents).
			Msg("Plan created")
		writeJSON(w, http.StatusCreated, plan)
	}
}
