package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/titanfed/titan/internal/registry"
	"github.com/titanfed/titan/internal/roles"
	"github.com/titanfed/titan/internal/tenants"
)

type callerProfile struct {
	PrincipalID string        `json:"principal_id"`
	Role        roles.Role    `json:"role"`
	Level       int           `json:"level"`
	Scope       tenants.Scope `json:"scope"`
}

type roleCatalogEntry struct {
	roles.Info
	Assignable bool `json:"assignable"`
}

type permissionsResponse struct {
	CallerProfile     callerProfile         `json:"callerProfile"`
	RoleCatalog       []roleCatalogEntry    `json:"roleCatalog"`
	ManagedPrincipals []*registry.Principal `json:"managedPrincipals"`
}

// HandleGetPermissions reports the caller's authority: their profile, the
// role catalog with per-role assignability, and the principals inside
// their management subtree.
func HandleGetPermissions(reg *registry.Registry, resolver *roles.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := callerPrincipal(w, r, reg)
		if caller == nil {
			return
		}
		actor := caller.Assignment()

		level, err := roles.LevelOf(actor.Role)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
			return
		}

		query, err := resolver.ListManaged(actor)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
			return
		}
		managed, err := reg.ListManaged(query)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
			return
		}
		if managed == nil {
			managed = []*registry.Principal{}
		}

		assignable := make(map[roles.Role]bool)
		for _, info := range resolver.AssignableRoles(actor) {
			assignable[info.Role] = true
		}
		catalog := make([]roleCatalogEntry, 0, len(roles.Catalog()))
		for _, info := range roles.Catalog() {
			catalog = append(catalog, roleCatalogEntry{
				Info:       info,
				Assignable: assignable[info.Role],
			})
		}

		writeJSON(w, http.StatusOK, permissionsResponse{
			CallerProfile: callerProfile{
				PrincipalID: caller.ID,
				Role:        actor.Role,
				Level:       level,
				Scope:       actor.EffectiveScope(),
			},
			RoleCatalog:       catalog,
			ManagedPrincipals: managed,
		})
	}
}

type assignRoleRequest struct {
	PrincipalID  string `json:"principal_id"`
	Role         string `json:"role"`
	FederationID string `json:"federation_id"`
	AcademyID    string `json:"academy_id"`
}

// HandleAssignRole grants a role assignment to a target principal after
// the resolver authorizes the caller over the granted assignment.
func HandleAssignRole(reg *registry.Registry, resolver *roles.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := callerPrincipal(w, r, reg)
		if caller == nil {
			return
		}

		var req assignRoleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}
		req.PrincipalID = strings.TrimSpace(req.PrincipalID)
		if req.PrincipalID == "" || strings.TrimSpace(req.Role) == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "principal_id and role are required"})
			return
		}

		target, err := reg.Principal(req.PrincipalID)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
			return
		}
		if target == nil {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "principal not found"})
			return
		}

		scope := tenants.Scope{
			FederationID: strings.TrimSpace(req.FederationID),
			AcademyID:    strings.TrimSpace(req.AcademyID),
		}
		err = resolver.AssignRole(caller.Assignment(), target.ID, roles.Role(req.Role), scope)
		switch {
		case errors.Is(err, roles.ErrUnknownRole):
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unknown role"})
			return
		case errors.Is(err, roles.ErrPermissionDenied):
			writeJSON(w, http.StatusForbidden, errorResponse{Error: "permission denied"})
			return
		case err != nil:
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
			return
		}

		log.Info().
			Str("actor", caller.ID).
			Str("target", target.ID).
			Str("role", req.Role).
			Str("federation_id", scope.FederationID).
			Str("academy_id", scope.AcademyID).
			Msg("Role assigned")
		writeJSON(w, http.StatusOK, map[string]any{"assigned": true})
	}
}

// HandleRevokeRole downgrades the target to the base role with scope
// cleared.
func HandleRevokeRole(reg *registry.Registry, resolver *roles.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := callerPrincipal(w, r, reg)
		if caller == nil {
			return
		}

		targetID := strings.TrimSpace(r.URL.Query().Get("principal_id"))
		if targetID == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "principal_id is required"})
			return
		}

		target, err := reg.Principal(targetID)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
			return
		}
		if target == nil {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "principal not found"})
			return
		}

		err = resolver.RevokeRole(caller.Assignment(), targetID)
		switch {
		case errors.Is(err, roles.ErrPermissionDenied):
			writeJSON(w, http.StatusForbidden, errorResponse{Error: "permission denied"})
			return
		case err != nil:
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
			return
		}

		log.Info().Str("actor", caller.ID).Str("target", targetID).Msg("Role revoked")
		writeJSON(w, http.StatusOK, map[string]any{"revoked": true})
	}
}
