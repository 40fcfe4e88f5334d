package vectorstore

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyRing(t *testing.T) {
	master := bytes.Repeat([]byte{7}, 32)
	ring, err := NewKeyRing(master)
	require.NoError(t, err)

	a, b := uuid.New(), uuid.New()

	keyA := ring.SessionKey(a)
	assert.Len(t, keyA, SessionKeySize)
	assert.Equal(t, keyA, ring.SessionKey(a), "derivation is deterministic")
	assert.NotEqual(t, keyA, ring.SessionKey(b), "sessions get distinct keys")

	assert.True(t, ring.Verify(a, ring.KeyCheck(a)))
	assert.False(t, ring.Verify(b, ring.KeyCheck(a)))

	other, err := NewKeyRing(bytes.Repeat([]byte{8}, 32))
	require.NoError(t, err)
	assert.False(t, other.Verify(a, ring.KeyCheck(a)), "a different master key fails verification")
}

func TestKeyRingRejectsShortMaster(t *testing.T) {
	_, err := NewKeyRing([]byte("too short"))
	assert.Error(t, err)
}
