package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sweetcrumb/accounts/types"
)

// MemoryAccountRepository keeps accounts in process memory. Emails are
// matched case-insensitively, like the postgres unique index.
type MemoryAccountRepository struct {
	mu      sync.RWMutex
	byID    map[string]types.Account
	byEmail map[string]string
}

func NewMemoryAccountRepository() *MemoryAccountRepository {
	return &MemoryAccountRepository{
		byID:    make(map[string]types.Account),
		byEmail: make(map[string]string),
	}
}

func (r *MemoryAccountRepository) FindByEmail(_ context.Context, email string) (types.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[emailKey(email)]
	if !ok {
		return types.Account{}, ErrNotFound
	}
	return cloneAccount(r.byID[id]), nil
}

func (r *MemoryAccountRepository) FindByID(_ context.Context, id string) (types.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	account, ok := r.byID[id]
	if !ok {
		return types.Account{}, ErrNotFound
	}
	return cloneAccount(account), nil
}

func (r *MemoryAccountRepository) Insert(_ context.Context, account types.Account) (types.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := emailKey(account.Email)
	if _, exists := r.byEmail[key]; exists {
		return types.Account{}, ErrDuplicateEmail
	}

	now := time.Now().UTC()
	account.ID = uuid.NewString()
	account.CreatedAt = now
	account.UpdatedAt = now

	r.byID[account.ID] = cloneAccount(account)
	r.byEmail[key] = account.ID
	return account, nil
}

func (r *MemoryAccountRepository) Update(_ context.Context, account types.Account) (types.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.byID[account.ID]
	if !ok {
		return types.Account{}, ErrNotFound
	}

	oldKey, newKey := emailKey(current.Email), emailKey(account.Email)
	if oldKey != newKey {
		if _, taken := r.byEmail[newKey]; taken {
			return types.Account{}, ErrDuplicateEmail
		}
		delete(r.byEmail, oldKey)
		r.byEmail[newKey] = account.ID
	}

	account.CreatedAt = current.CreatedAt
	account.UpdatedAt = time.Now().UTC()
	r.byID[account.ID] = cloneAccount(account)
	return account, nil
}

// Delete removes the account with id and reports whether it existed.
func (r *MemoryAccountRepository) Delete(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.byID[id]
	if !ok {
		return false, nil
	}
	delete(r.byID, id)
	delete(r.byEmail, emailKey(account.Email))
	return true, nil
}

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func cloneAccount(a types.Account) types.Account {
	if a.ProfilePic != nil {
		pic := *a.ProfilePic
		a.ProfilePic = &pic
	}
	if a.PendingOTP != nil {
		otp := *a.PendingOTP
		a.PendingOTP = &otp
	}
	return a
}
