package profile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/buildmarket/pkg/identity"
)

func newProfile(t *testing.T) *WorkerProfile {
	t.Helper()
	p, err := New("p-1", "worker", "job-1", "framing crew", time.Unix(0, 0))
	require.NoError(t, err)
	return p
}

func TestNewRequiresOwner(t *testing.T) {
	_, err := New("p-1", identity.None, "job-1", "", time.Now())
	require.ErrorIs(t, err, identity.ErrNoCaller)
}

func TestAddSkillOrderedUnique(t *testing.T) {
	p := newProfile(t)

	require.NoError(t, p.AddSkill("Carpentry"))
	require.NoError(t, p.AddSkill("roofing"))
	assert.Equal(t, []string{"carpentry", "roofing"}, p.Skills)

	err := p.AddSkill("  CARPENTRY ")
	require.ErrorIs(t, err, ErrDuplicateSkill)
	require.ErrorIs(t, err, ErrInvalidSkill)
	assert.Len(t, p.Skills, 2)
}

func TestAddSkillNormalisesUnicode(t *testing.T) {
	p := newProfile(t)
	// U+00E2 and "a" + U+0302 are the same tag after NFC.
	require.NoError(t, p.AddSkill("pl\u00e2trerie"))
	require.ErrorIs(t, p.AddSkill("pla\u0302trerie"), ErrDuplicateSkill)
	assert.True(t, p.HasSkill("PL\u00c2TRERIE"))
}

func TestAddSkillRejectsEmpty(t *testing.T) {
	require.ErrorIs(t, newProfile(t).AddSkill("   "), ErrInvalidSkill)
}

func TestNormalizeSkills(t *testing.T) {
	out, err := NormalizeSkills([]string{"Welding", "plumbing"})
	require.NoError(t, err)
	assert.Equal(t, []string{"welding", "plumbing"}, out)

	_, err = NormalizeSkills([]string{"a", "A"})
	require.ErrorIs(t, err, ErrDuplicateSkill)
}

func TestCheckOwner(t *testing.T) {
	p := newProfile(t)
	require.NoError(t, p.CheckOwner("worker"))
	require.ErrorIs(t, p.CheckOwner("intruder"), ErrNotOwner)
	require.ErrorIs(t, p.CheckOwner(identity.None), ErrNotOwner)
}

func TestCloneIsDeep(t *testing.T) {
	p := newProfile(t)
	require.NoError(t, p.AddSkill("tiling"))

	c := p.Clone()
	c.Skills[0] = "changed"
	assert.Equal(t, "tiling", p.Skills[0])
	assert.Nil(t, (*WorkerProfile)(nil).Clone())
}
