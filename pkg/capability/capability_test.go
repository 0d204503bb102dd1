package capability

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuthority(t *testing.T) *Authority {
	t.Helper()
	k, err := GenerateKeyring()
	require.NoError(t, err)
	return NewAuthority(k)
}

func TestMintJobOnce(t *testing.T) {
	a := newAuthority(t)

	c, err := a.MintJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", c.JobID())
	assert.True(t, c.Authorizes("job-1"))
	assert.False(t, c.Authorizes("job-2"))
	require.NoError(t, a.VerifyJob(c, "job-1"))

	_, err = a.MintJob("job-1")
	require.ErrorIs(t, err, ErrAlreadyMinted)
}

func TestMintJobEmptyID(t *testing.T) {
	_, err := newAuthority(t).MintJob("")
	require.ErrorIs(t, err, ErrInvalid)
}

func TestVerifyJobRejectsWrongJob(t *testing.T) {
	a := newAuthority(t)
	c, err := a.MintJob("job-1")
	require.NoError(t, err)

	require.ErrorIs(t, a.VerifyJob(c, "job-2"), ErrInvalid)
	require.ErrorIs(t, a.VerifyJob(nil, "job-1"), ErrInvalid)
}

func TestVerifyRejectsForeignAuthority(t *testing.T) {
	a := newAuthority(t)
	b := newAuthority(t)

	c, err := b.MintJob("job-1")
	require.NoError(t, err)
	require.ErrorIs(t, a.VerifyJob(c, "job-1"), ErrInvalid)

	admin, err := b.MintAdmin()
	require.NoError(t, err)
	require.ErrorIs(t, a.VerifyAdmin(admin), ErrInvalid)
}

func TestMintAdminOnce(t *testing.T) {
	a := newAuthority(t)

	c, err := a.MintAdmin()
	require.NoError(t, err)
	assert.Equal(t, a.SystemID(), c.SystemID())
	require.NoError(t, a.VerifyAdmin(c))

	_, err = a.MintAdmin()
	require.ErrorIs(t, err, ErrAlreadyMinted)
}

func TestTokenRoundTrip(t *testing.T) {
	a := newAuthority(t)
	c, err := a.MintJob("job-9")
	require.NoError(t, err)

	tok := a.EncodeJob(c)
	assert.True(t, strings.HasPrefix(tok, "job.job-9."))

	back, err := a.DecodeJob(tok)
	require.NoError(t, err)
	require.NoError(t, a.VerifyJob(back, "job-9"))

	admin, err := a.MintAdmin()
	require.NoError(t, err)
	backAdmin, err := a.DecodeAdmin(a.EncodeAdmin(admin))
	require.NoError(t, err)
	require.NoError(t, a.VerifyAdmin(backAdmin))
}

func TestDecodeRejectsTampering(t *testing.T) {
	a := newAuthority(t)
	c, err := a.MintJob("job-1")
	require.NoError(t, err)
	tok := a.EncodeJob(c)

	cases := map[string]string{
		"empty":        "",
		"wrong kind":   "admin" + strings.TrimPrefix(tok, "job"),
		"other job":    strings.Replace(tok, "job-1", "job-2", 1),
		"bad hex":      "job.job-1.zz",
		"missing part": "job.job-1",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := a.DecodeJob(in)
			require.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestLoadOrCreateKeyringIsStable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "capability.seed")

	k1, err := LoadOrCreateKeyring(path)
	require.NoError(t, err)
	k2, err := LoadOrCreateKeyring(path)
	require.NoError(t, err)
	assert.Equal(t, k1.SystemID(), k2.SystemID())

	m1, err := k1.MAC(KindJob, "j")
	require.NoError(t, err)
	m2, err := k2.MAC(KindJob, "j")
	require.NoError(t, err)
	assert.Equal(t, m1, m2)
}

func TestNewKeyringRejectsShortSeed(t *testing.T) {
	_, err := NewKeyring([]byte("short"))
	require.Error(t, err)
}
