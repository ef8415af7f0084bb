package tenants

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeDirectory struct {
	federations map[string]*Federation
	academies   map[string]*Academy
}

func (d *fakeDirectory) FederationByID(id string) (*Federation, error) {
	return d.federations[id], nil
}

func (d *fakeDirectory) AcademyByID(id string) (*Academy, error) {
	return d.academies[id], nil
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		federations: map[string]*Federation{
			"fed-1": {ID: "fed-1", Name: "Federação de Jiu-Jitsu", Sigla: "fjjb"},
			"fed-2": {ID: "fed-2", Name: "Federação do Rio", Sigla: "fprj"},
		},
		academies: map[string]*Academy{
			"aca-1": {ID: "aca-1", FederationID: "fed-1", Name: "Academia Alpha", Sigla: "alpha"},
			"aca-2": {ID: "aca-2", FederationID: "fed-2", Name: "Academia Beta"},
		},
	}
}

func TestScopeContains(t *testing.T) {
	dir := newFakeDirectory()

	global := Scope{}
	fed1 := Scope{FederationID: "fed-1"}
	fed2 := Scope{FederationID: "fed-2"}
	aca1 := Scope{FederationID: "fed-1", AcademyID: "aca-1"}
	aca2 := Scope{FederationID: "fed-2", AcademyID: "aca-2"}

	assert.True(t, global.Contains(dir, global))
	assert.True(t, global.Contains(dir, fed1))
	assert.True(t, global.Contains(dir, aca2))

	assert.True(t, fed1.Contains(dir, fed1))
	assert.True(t, fed1.Contains(dir, aca1))
	assert.False(t, fed1.Contains(dir, fed2))
	assert.False(t, fed1.Contains(dir, aca2))
	assert.False(t, fed1.Contains(dir, global), "a federation scope must not contain global")

	assert.True(t, aca1.Contains(dir, aca1))
	assert.False(t, aca1.Contains(dir, fed1), "an academy never contains its federation")
	assert.False(t, aca1.Contains(dir, aca2))
	assert.False(t, aca1.Contains(dir, global))
}

func TestScopeContains_AcademyResolvedThroughDirectory(t *testing.T) {
	dir := newFakeDirectory()
	fed1 := Scope{FederationID: "fed-1"}

	// Academy scope that does not carry its federation id: containment is
	// resolved through the directory.
	bare := Scope{AcademyID: "aca-1"}
	assert.True(t, fed1.Contains(dir, bare))

	unknown := Scope{AcademyID: "aca-404"}
	assert.False(t, fed1.Contains(dir, unknown), "unresolvable academies are not contained")
	assert.False(t, fed1.Contains(nil, bare), "nil directory cannot resolve")
}

func TestMembershipTag(t *testing.T) {
	dir := newFakeDirectory()

	assert.Equal(t, "ALPHA", MembershipTag(dir, Scope{FederationID: "fed-1", AcademyID: "aca-1"}))
	assert.Equal(t, "FJJB", MembershipTag(dir, Scope{FederationID: "fed-1"}))
	// Academy without a sigla falls back to its federation's sigla.
	assert.Equal(t, "FPRJ", MembershipTag(dir, Scope{FederationID: "fed-2", AcademyID: "aca-2"}))
	assert.Equal(t, "", MembershipTag(dir, Scope{}))
	assert.Equal(t, "", MembershipTag(nil, Scope{FederationID: "fed-1"}))
}
