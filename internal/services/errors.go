package services

import "errors"

// Error kinds. Every failure returned by AuthService matches exactly one
// of these with errors.Is, except internal failures which match none.
var (
	ErrValidation  = errors.New("validation error")
	ErrNotFound    = errors.New("not found")
	ErrAuthFailure = errors.New("authentication failed")
	ErrConflict    = errors.New("conflict")
	ErrDependency  = errors.New("dependency failure")
)

var (
	ErrMissingFields   = kindError(ErrValidation, "missing required fields")
	ErrPasswordTooLong = kindError(ErrValidation, "password too long")
	ErrDuplicateEmail  = kindError(ErrConflict, "email already registered")
	ErrUnknownEmail    = kindError(ErrNotFound, "unknown email")
	ErrAccountNotFound = kindError(ErrNotFound, "account not found")
	ErrBadPassword     = kindError(ErrAuthFailure, "invalid password")
	ErrMissingToken    = kindError(ErrAuthFailure, "token missing or malformed")
	ErrInvalidToken    = kindError(ErrAuthFailure, "invalid or expired token")
	ErrInvalidOTP      = kindError(ErrAuthFailure, "invalid otp")
	ErrExpiredOTP      = kindError(ErrAuthFailure, "otp expired")
	ErrMailDispatch    = kindError(ErrDependency, "failed to send otp")
	ErrNothingToUpdate = kindError(ErrValidation, "nothing to update")
)

type serviceError struct {
	kind error
	msg  string
}

func kindError(kind error, msg string) error {
	return &serviceError{kind: kind, msg: msg}
}

func (e *serviceError) Error() string {
	return e.msg
}

func (e *serviceError) Is(target error) bool {
	return target == e.kind
}
