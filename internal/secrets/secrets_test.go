package secrets

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBox(t *testing.T) *Box {
	t.Helper()
	key, err := NewKey()
	require.NoError(t, err)
	box, err := NewBox(key)
	require.NoError(t, err)
	return box
}

func TestGenerate(t *testing.T) {
	s1, err := Generate()
	require.NoError(t, err)
	s2, err := Generate()
	require.NoError(t, err)

	assert.Len(t, s1, 43)
	assert.NotEqual(t, s1, s2)

	raw, err := base64.RawURLEncoding.DecodeString(s1)
	require.NoError(t, err)
	assert.Len(t, raw, SecretBytes)
}

func TestFingerprint(t *testing.T) {
	fp := Fingerprint("abc")
	assert.True(t, strings.HasPrefix(fp, "blake3:"))
	assert.Len(t, strings.TrimPrefix(fp, "blake3:"), fingerprintHexLen)
	assert.Equal(t, fp, Fingerprint("abc"))
	assert.NotEqual(t, fp, Fingerprint("abd"))
}

func TestBoxSealOpen(t *testing.T) {
	box := newTestBox(t)

	sealed, err := box.Seal("wh-1", "top-secret")
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "top-secret")

	plain, err := box.Open("wh-1", sealed)
	require.NoError(t, err)
	assert.Equal(t, "top-secret", plain)
}

func TestBoxOpenRejectsOtherWebhook(t *testing.T) {
	box := newTestBox(t)

	sealed, err := box.Seal("wh-1", "top-secret")
	require.NoError(t, err)

	_, err = box.Open("wh-2", sealed)
	assert.Error(t, err)
}

func TestBoxOpenRejectsTamperedCiphertext(t *testing.T) {
	box := newTestBox(t)

	sealed, err := box.Seal("wh-1", "top-secret")
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0x01

	_, err = box.Open("wh-1", sealed)
	assert.Error(t, err)

	_, err = box.Open("wh-1", []byte("short"))
	assert.Error(t, err)
}

func TestNewBoxKeyValidation(t *testing.T) {
	_, err := NewBox("")
	assert.ErrorIs(t, err, ErrBadMasterKey)

	_, err = NewBox(base64.StdEncoding.EncodeToString([]byte("too short")))
	assert.ErrorIs(t, err, ErrBadMasterKey)

	key := base64.RawURLEncoding.EncodeToString(make([]byte, 32))
	_, err = NewBox(key)
	assert.NoError(t, err)
}
