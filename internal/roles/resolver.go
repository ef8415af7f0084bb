package roles

import (
	"errors"
	"fmt"

	"github.com/titanfed/titan/internal/tenants"
)

// ErrPermissionDenied is returned when an actor lacks authority over a
// target assignment.
var ErrPermissionDenied = errors.New("permission denied")

// Assignment is a principal's single active role assignment.
type Assignment struct {
	Role  Role          `json:"role"`
	Scope tenants.Scope `json:"scope"`
}

// EffectiveScope returns the tenant subtree the assignment's authority
// spans. A federacao_admin with an empty federation id is the system-wide
// super-admin tier (explicit policy, not a null-check artifact): its scope
// contains everything, and level ordering already keeps masters out of its
// reach.
func (a Assignment) EffectiveScope() tenants.Scope {
	if a.Role == RoleFederationAdmin && a.Scope.FederationID == "" && a.Scope.AcademyID == "" {
		return tenants.Scope{}
	}
	return a.Scope
}

// Store persists role assignments. The SQLite registry implements it.
type Store interface {
	Assignment(principalID string) (Assignment, bool, error)
	SaveAssignment(principalID string, a Assignment) error
}

// Resolver makes authorization decisions from the hierarchy table and the
// tenant tree. CanManage, AssignableRoles and ManagedQuery are pure reads
// and safe under arbitrary concurrency.
type Resolver struct {
	dir   tenants.Directory
	store Store
}

// NewResolver builds a Resolver. store may be nil for read-only use.
func NewResolver(dir tenants.Directory, store Store) *Resolver {
	return &Resolver{dir: dir, store: store}
}

// CanManage reports whether actor may manage target: strictly higher
// authority (lower level) and target's scope contained in actor's effective
// scope. Same-level peers can never manage each other, including two
// holders of the same role.
func (r *Resolver) CanManage(actor, target Assignment) bool {
	actorLevel, err := LevelOf(actor.Role)
	if err != nil {
		return false
	}
	targetLevel, err := LevelOf(target.Role)
	if err != nil {
		return false
	}
	if actorLevel >= targetLevel {
		return false
	}
	return actor.EffectiveScope().Contains(r.dir, target.Scope)
}

// AssignableRoles returns the roles the actor can grant somewhere inside
// its effective scope: level strictly greater than the actor's, and a tier
// the scope can host. An academy-confined actor cannot place a federation
// role anywhere, so federation-tier roles are dropped from its list even
// when the level ordering would admit them. The concrete target scope is
// still checked per-assignment by AssignRole.
func (r *Resolver) AssignableRoles(actor Assignment) []Info {
	actorLevel, err := LevelOf(actor.Role)
	if err != nil {
		return nil
	}
	scope := actor.EffectiveScope()
	var out []Info
	for _, info := range Catalog() {
		if info.Level > actorLevel && scopeCanHost(scope, info.Tier) {
			out = append(out, info)
		}
	}
	return out
}

// scopeCanHost reports whether some scope assignable under base exists for
// a role of the given tier.
func scopeCanHost(base tenants.Scope, tier Tier) bool {
	switch tier {
	case TierGlobal:
		return base.IsGlobal()
	case TierFederation:
		return base.AcademyID == ""
	default:
		return true
	}
}

// ManagedQuery restricts a principal listing to those the actor may see:
// levels strictly greater than the actor's, inside the actor's scope
// subtree. Master-level actors exclude only other master-level peers.
type ManagedQuery struct {
	// MinLevelExclusive excludes principals whose level is <= this value.
	MinLevelExclusive int
	// Scope restricts to a tenant subtree; the zero value means no
	// restriction (global actors).
	Scope tenants.Scope
}

// ListManaged builds the query spec for the principals actor may manage.
func (r *Resolver) ListManaged(actor Assignment) (ManagedQuery, error) {
	actorLevel, err := LevelOf(actor.Role)
	if err != nil {
		return ManagedQuery{}, err
	}
	return ManagedQuery{
		MinLevelExclusive: actorLevel,
		Scope:             actor.EffectiveScope(),
	}, nil
}

// AssignRole persists a new assignment for target after recomputing that
// the actor has manage-authority over the assignment being granted. A
// principal holds exactly one active assignment; the prior one is replaced.
func (r *Resolver) AssignRole(actor Assignment, targetID string, newRole Role, newScope tenants.Scope) error {
	tier, err := TierOf(newRole)
	if err != nil {
		return err
	}
	if err := validateScopeForTier(tier, newRole, newScope); err != nil {
		return err
	}
	candidate := Assignment{Role: newRole, Scope: newScope}
	if !r.CanManage(actor, candidate) {
		return fmt.Errorf("%w: cannot assign %s in scope %+v", ErrPermissionDenied, newRole, newScope)
	}
	return r.store.SaveAssignment(targetID, candidate)
}

// RevokeRole downgrades target to the base role with scope cleared. The
// check runs against the target's current assignment.
func (r *Resolver) RevokeRole(actor Assignment, targetID string) error {
	current, ok, err := r.store.Assignment(targetID)
	if err != nil {
		return fmt.Errorf("load target assignment: %w", err)
	}
	if !ok {
		return fmt.Errorf("principal %q not found", targetID)
	}
	if !r.CanManage(actor, current) {
		return fmt.Errorf("%w: cannot revoke %s", ErrPermissionDenied, current.Role)
	}
	return r.store.SaveAssignment(targetID, Assignment{Role: RoleBase})
}

func validateScopeForTier(tier Tier, role Role, scope tenants.Scope) error {
	switch tier {
	case TierGlobal:
		if !scope.IsGlobal() {
			return fmt.Errorf("%w: %s takes no tenant scope", ErrPermissionDenied, role)
		}
	case TierFederation:
		if scope.AcademyID != "" {
			return fmt.Errorf("%w: %s is federation-scoped", ErrPermissionDenied, role)
		}
		// An empty federation id is only meaningful for the super-admin
		// tier; other federation roles need a concrete federation.
		if scope.FederationID == "" && role != RoleFederationAdmin {
			return fmt.Errorf("%w: %s requires a federation", ErrPermissionDenied, role)
		}
	case TierAcademy:
		if scope.AcademyID == "" {
			return fmt.Errorf("%w: %s requires an academy", ErrPermissionDenied, role)
		}
	}
	return nil
}
