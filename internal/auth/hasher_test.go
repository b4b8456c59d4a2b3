package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHasher_HashAndVerify(t *testing.T) {
	h := NewHasher(bcrypt.MinCost)

	digest, err := h.Hash("secret1")
	require.NoError(t, err)
	assert.NotEqual(t, "secret1", digest)
	assert.True(t, h.Verify("secret1", digest))
	assert.False(t, h.Verify("secret2", digest))
}

func TestHasher_HashIsSalted(t *testing.T) {
	h := NewHasher(bcrypt.MinCost)

	a, err := h.Hash("same-password")
	require.NoError(t, err)
	b, err := h.Hash("same-password")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.True(t, h.Verify("same-password", a))
	assert.True(t, h.Verify("same-password", b))
}

func TestHasher_VerifyMalformedDigest(t *testing.T) {
	h := NewHasher(bcrypt.MinCost)

	assert.False(t, h.Verify("secret1", ""))
	assert.False(t, h.Verify("secret1", "not-a-bcrypt-digest"))
	assert.False(t, h.Verify("secret1", "$2a$10$"+strings.Repeat("x", 10)))
}

func TestNewHasher_Cost(t *testing.T) {
	assert.Equal(t, bcrypt.DefaultCost, NewHasher(0).Cost())
	assert.Equal(t, bcrypt.MinCost, NewHasher(1).Cost())
	assert.Equal(t, bcrypt.MaxCost, NewHasher(99).Cost())
	assert.Equal(t, 12, NewHasher(12).Cost())
}
