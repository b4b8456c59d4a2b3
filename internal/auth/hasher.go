package auth

import (
	"golang.org/x/crypto/bcrypt"
)

// MaxPasswordBytes is the longest input bcrypt accepts.
const MaxPasswordBytes = 72

// Hasher hashes and verifies account passwords with bcrypt.
type Hasher struct {
	cost int
}

// NewHasher returns a Hasher using cost, clamped to bcrypt's valid range.
// A zero cost selects bcrypt.DefaultCost.
func NewHasher(cost int) *Hasher {
	switch {
	case cost == 0:
		cost = bcrypt.DefaultCost
	case cost < bcrypt.MinCost:
		cost = bcrypt.MinCost
	case cost > bcrypt.MaxCost:
		cost = bcrypt.MaxCost
	}
	return &Hasher{cost: cost}
}

// Hash returns a salted digest of plaintext.
func (h *Hasher) Hash(plaintext string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", err
	}
	return string(digest), nil
}

// Verify reports whether plaintext matches digest. Malformed digests
// never match.
func (h *Hasher) Verify(plaintext, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext)) == nil
}

// Cost returns the bcrypt work factor in use.
func (h *Hasher) Cost() int {
	return h.cost
}
