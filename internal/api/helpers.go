package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/titanfed/titan/internal/registry"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// callerPrincipal resolves the authenticated caller from the X-Principal-ID
// header. The engine sits behind the platform's session layer, which is
// trusted to set the header. A missing or unknown id writes 401 and returns
// nil.
func callerPrincipal(w http.ResponseWriter, r *http.Request, reg *registry.Registry) *registry.Principal {
	id := strings.TrimSpace(r.Header.Get("X-Principal-ID"))
	if id == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing principal"})
		return nil
	}
	p, err := reg.Principal(id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return nil
	}
	if p == nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unknown principal"})
		return nil
	}
	return p
}
