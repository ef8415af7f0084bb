// Package roles holds the role hierarchy table and the authorization
// decisions built on it: who may manage whom, which roles an actor may
// assign, and which principals an actor may see.
package roles

import (
	"errors"
	"fmt"
	"sort"
)

// Role is a role name from the fixed hierarchy table.
type Role string

const (
	RoleMaster              Role = "master_access"
	RoleFederationAdmin     Role = "federacao_admin"
	RoleFederationManager   Role = "federacao_gestor"
	RoleFederationSecretary Role = "federacao_secretario"
	RoleAcademyAdmin        Role = "academia_admin"
	RoleAcademyManager      Role = "academia_gestor"
	RoleProfessor           Role = "professor"
	RoleAthlete             Role = "atleta"
)

// RoleBase is the lowest-authority role; revocations downgrade to it.
const RoleBase = RoleAthlete

// ErrUnknownRole is returned for any role string outside the hierarchy table.
var ErrUnknownRole = errors.New("unknown role")

// Tier describes which kind of tenant scope a role binds to.
type Tier string

const (
	TierGlobal     Tier = "global"
	TierFederation Tier = "federation"
	TierAcademy    Tier = "academy"
)

type roleEntry struct {
	level int
	tier  Tier
}

// levels is the authority table: 1 = highest, 7 = lowest. Ties are
// intentional within the same organizational tier (gestor and secretario
// share a level and therefore cannot manage each other). The table is a
// process constant and is never mutated at runtime.
var levels = map[Role]roleEntry{
	RoleMaster:              {1, TierGlobal},
	RoleFederationAdmin:     {2, TierFederation},
	RoleFederationManager:   {3, TierFederation},
	RoleFederationSecretary: {3, TierFederation},
	RoleAcademyAdmin:        {4, TierAcademy},
	RoleAcademyManager:      {5, TierAcademy},
	RoleProfessor:           {6, TierAcademy},
	RoleAthlete:             {7, TierAcademy},
}

// LevelOf returns the authority level of role. Unknown role strings are
// invalid, never silently coerced.
func LevelOf(role Role) (int, error) {
	e, ok := levels[role]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	return e.level, nil
}

// TierOf returns the tenant tier a role binds to.
func TierOf(role Role) (Tier, error) {
	e, ok := levels[role]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	return e.tier, nil
}

// Info describes one catalog entry for the permissions API.
type Info struct {
	Role  Role `json:"role"`
	Level int  `json:"level"`
	Tier  Tier `json:"tier"`
}

// Catalog returns every role ordered by level then name.
func Catalog() []Info {
	out := make([]Info, 0, len(levels))
	for r, e := range levels {
		out = append(out, Info{Role: r, Level: e.level, Tier: e.tier})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level < out[j].Level
		}
		return out[i].Role < out[j].Role
	})
	return out
}
