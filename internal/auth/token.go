package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sweetcrumb/accounts/types"
)

// Claims are the identity attributes carried by a bearer token.
type Claims struct {
	ID         string            `json:"id"`
	Username   string            `json:"username"`
	ProfilePic *types.ProfilePic `json:"profilePic"`
	jwt.RegisteredClaims
}

// ClaimsFor builds the token claims for an account.
func ClaimsFor(account types.Account) Claims {
	return Claims{
		ID:         account.ID,
		Username:   account.Username,
		ProfilePic: account.ProfilePic,
	}
}

// TokenService issues and verifies HS256 signed bearer tokens.
// Verification is stateless and safe for concurrent use.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService constructs a TokenService. A nil now uses time.Now.
func NewTokenService(secret string, ttl time.Duration, now func() time.Time) (*TokenService, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("token signing secret is required")
	}
	if ttl <= 0 {
		return nil, errors.New("token ttl must be positive")
	}
	if now == nil {
		now = time.Now
	}
	return &TokenService{
		secret: []byte(secret),
		ttl:    ttl,
		now:    now,
	}, nil
}

// TTL returns the lifetime of issued tokens.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Issue signs claims with the configured expiry. Registered claims on the
// input are replaced.
func (s *TokenService) Issue(claims Claims) (string, error) {
	if strings.TrimSpace(claims.ID) == "" {
		return "", errors.New("missing subject")
	}
	now := s.now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   claims.ID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify checks the signature and expiry of tokenString and returns its
// claims. It fails with ErrExpiredToken or ErrInvalidToken.
func (s *TokenService) Verify(tokenString string) (Claims, error) {
	claims := Claims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return s.secret, nil
	},
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpiredToken
		}
		return Claims{}, ErrInvalidToken
	}
	if !token.Valid {
		return Claims{}, ErrInvalidToken
	}
	if strings.TrimSpace(claims.ID) == "" {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}
