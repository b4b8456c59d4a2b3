package auth

import "errors"

var (
	// ErrInvalidToken is returned for tokens with a bad signature, an
	// unexpected algorithm, missing identity or malformed encoding.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned for well-signed tokens past their expiry.
	ErrExpiredToken = errors.New("token expired")
)
