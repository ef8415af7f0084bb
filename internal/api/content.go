package api

import (
	"net/http"

	"github.com/titanfed/titan/internal/entitlements"
	"github.com/titanfed/titan/internal/registry"
	"github.com/titanfed/titan/internal/tenants"
)

// HandleListContent returns the active catalog items visible to the
// caller's membership. Items tagged "ALL" or untagged are visible to
// everyone.
func HandleListContent(reg *registry.Registry, dir tenants.Directory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := callerPrincipal(w, r, reg)
		if caller == nil {
			return
		}

		all, err := reg.ListContent(true)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
			return
		}

		tag := tenants.MembershipTag(dir, caller.Scope)
		visible := entitlements.VisibleContent(tag, all)
		if visible == nil {
			visible = []*registry.Content{}
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"content": visible,
			"count":   len(visible),
		})
	}
}
