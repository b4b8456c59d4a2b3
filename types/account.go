package types

import "time"

// AccountState is the logical credential state of an account.
type AccountState string

const (
	// StateActive is the normal state of an account.
	StateActive AccountState = "active"
	// StateResetPending means an unexpired reset code is outstanding.
	StateResetPending AccountState = "reset_pending"
	// StateDeleted is terminal; the record no longer exists in the store.
	StateDeleted AccountState = "deleted"
)

// Account represents a storefront customer identity.
// It holds the login email, display name, credential digest and the
// optional profile picture and password reset challenge.
type Account struct {
	// ID is the opaque identifier assigned by the store on creation.
	ID string `json:"id" db:"id"`

	// Email is the unique address used for login and password reset.
	Email string `json:"email" db:"email"`

	// Username is the display name. It is not required to be unique.
	Username string `json:"username" db:"username"`

	// PasswordHash stores the bcrypt digest of the account password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// ProfilePic references an externally stored image, if any.
	ProfilePic *ProfilePic `json:"profilePic" db:"-"`

	// PendingOTP is the outstanding password reset challenge, if any.
	// This field is never exposed in API responses.
	PendingOTP *PendingOTP `json:"-" db:"-"`

	// CreatedAt is the timestamp when the account was created.
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the account.
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// ProfilePic is a reference to an uploaded image held in object storage.
type ProfilePic struct {
	// Path is the storage key or URL path of the image.
	Path string `json:"url"`

	// UploadedAt is when the image was stored.
	UploadedAt time.Time `json:"uploadedAt"`
}

// PendingOTP is a one-time passcode issued for a password reset.
type PendingOTP struct {
	Code      string    `json:"-"`
	ExpiresAt time.Time `json:"-"`
}

// Expired reports whether the code can no longer be redeemed at now.
func (o PendingOTP) Expired(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}

// State derives the credential state of a stored account at now.
// Deleted accounts are never loaded, so State only returns
// StateActive or StateResetPending.
func (a Account) State(now time.Time) AccountState {
	if a.PendingOTP != nil && !a.PendingOTP.Expired(now) {
		return StateResetPending
	}
	return StateActive
}
