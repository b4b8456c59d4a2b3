package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/sweetcrumb/accounts/types"
)

// OTPValidity is how long a reset code can be redeemed after issue.
const OTPValidity = 5 * time.Minute

const otpSpace = 1_000_000

// OTPGenerator produces 6-digit password reset codes.
type OTPGenerator struct {
	now     func() time.Time
	entropy io.Reader
}

// NewOTPGenerator constructs a generator. Nil arguments select time.Now
// and crypto/rand.
func NewOTPGenerator(now func() time.Time, entropy io.Reader) *OTPGenerator {
	if now == nil {
		now = time.Now
	}
	if entropy == nil {
		entropy = rand.Reader
	}
	return &OTPGenerator{now: now, entropy: entropy}
}

// Generate draws a code uniformly from 000000-999999 expiring
// OTPValidity from now.
func (g *OTPGenerator) Generate() (types.PendingOTP, error) {
	n, err := rand.Int(g.entropy, big.NewInt(otpSpace))
	if err != nil {
		return types.PendingOTP{}, fmt.Errorf("generate otp: %w", err)
	}
	return types.PendingOTP{
		Code:      fmt.Sprintf("%06d", n.Int64()),
		ExpiresAt: g.now().Add(OTPValidity),
	}, nil
}

// MatchOTP compares a supplied code to the pending one in constant time.
func MatchOTP(pending types.PendingOTP, code string) bool {
	if pending.Code == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(pending.Code), []byte(code)) == 1
}
