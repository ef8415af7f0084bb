// Package tenants models the federation/academy tenant tree and the scope
// containment rules that bound every role assignment's authority.
package tenants

import "strings"

// Federation is the root tenant tier.
type Federation struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Sigla string `json:"sigla"`
}

// Academy is a child tenant. An academy always belongs to exactly one
// federation.
type Academy struct {
	ID           string `json:"id"`
	FederationID string `json:"federation_id"`
	Name         string `json:"name"`
	Sigla        string `json:"sigla"`
}

// Directory resolves tenant records. The SQLite registry implements it;
// tests use in-memory fakes.
type Directory interface {
	FederationByID(id string) (*Federation, error)
	AcademyByID(id string) (*Academy, error)
}

// Scope is the tenant subtree an assignment's authority is bounded to.
// Both fields empty means global scope.
type Scope struct {
	FederationID string `json:"federation_id,omitempty"`
	AcademyID    string `json:"academy_id,omitempty"`
}

// IsGlobal reports whether the scope spans the whole system.
func (s Scope) IsGlobal() bool {
	return s.FederationID == "" && s.AcademyID == ""
}

// Contains reports whether s contains other: global contains everything, a
// federation scope contains itself and all its academies, an academy scope
// contains only itself. Resolving an academy's owning federation needs dir;
// a lookup failure is treated as not-contained.
func (s Scope) Contains(dir Directory, other Scope) bool {
	if s.IsGlobal() {
		return true
	}
	if s.AcademyID != "" {
		return other.AcademyID == s.AcademyID
	}
	// Federation scope.
	if other.FederationID == s.FederationID && other.AcademyID == "" {
		return true
	}
	if other.AcademyID != "" {
		if other.FederationID == s.FederationID {
			return true
		}
		if dir == nil {
			return false
		}
		ac, err := dir.AcademyByID(other.AcademyID)
		if err != nil || ac == nil {
			return false
		}
		return ac.FederationID == s.FederationID
	}
	return false
}

// MembershipTag returns the uppercased sigla of the scope's academy, falling
// back to its federation, or "" when the scope carries no membership.
// Content visibility compares against this tag.
func MembershipTag(dir Directory, s Scope) string {
	if dir == nil {
		return ""
	}
	if s.AcademyID != "" {
		if ac, err := dir.AcademyByID(s.AcademyID); err == nil && ac != nil && ac.Sigla != "" {
			return strings.ToUpper(strings.TrimSpace(ac.Sigla))
		}
	}
	if s.FederationID != "" {
		if fed, err := dir.FederationByID(s.FederationID); err == nil && fed != nil && fed.Sigla != "" {
			return strings.ToUpper(strings.TrimSpace(fed.Sigla))
		}
	}
	return ""
}
