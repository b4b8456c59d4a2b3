package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sweetcrumb/accounts/types"
)

const uniqueViolation = "23505"

const accountColumns = `id, email, username, password_hash,
			profile_pic_path, profile_pic_uploaded_at,
			otp_code, otp_expires_at,
			created_at, updated_at`

// AccountRepository handles persistence for accounts in PostgreSQL.
type AccountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) FindByEmail(ctx context.Context, email string) (types.Account, error) {
	const query = `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE lower(email) = lower($1)`
	return r.scanOne(r.db.QueryRowContext(ctx, query, email))
}

func (r *AccountRepository) FindByID(ctx context.Context, id string) (types.Account, error) {
	if uuid.Validate(id) != nil {
		return types.Account{}, ErrNotFound
	}
	const query = `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *AccountRepository) Insert(ctx context.Context, account types.Account) (types.Account, error) {
	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now

	picPath, picAt := profilePicColumns(account.ProfilePic)
	otpCode, otpExpires := otpColumns(account.PendingOTP)

	const query = `
		INSERT INTO accounts (email, username, password_hash,
			profile_pic_path, profile_pic_uploaded_at,
			otp_code, otp_expires_at,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		account.Email,
		account.Username,
		account.PasswordHash,
		picPath,
		picAt,
		otpCode,
		otpExpires,
		account.CreatedAt,
		account.UpdatedAt,
	).Scan(&account.ID); err != nil {
		if isUniqueViolation(err) {
			return types.Account{}, ErrDuplicateEmail
		}
		return types.Account{}, err
	}
	return account, nil
}

func (r *AccountRepository) Update(ctx context.Context, account types.Account) (types.Account, error) {
	account.UpdatedAt = time.Now().UTC()

	picPath, picAt := profilePicColumns(account.ProfilePic)
	otpCode, otpExpires := otpColumns(account.PendingOTP)

	const query = `
		UPDATE accounts
		SET email = $1,
			username = $2,
			password_hash = $3,
			profile_pic_path = $4,
			profile_pic_uploaded_at = $5,
			otp_code = $6,
			otp_expires_at = $7,
			updated_at = $8
		WHERE id = $9`
	result, err := r.db.ExecContext(
		ctx,
		query,
		account.Email,
		account.Username,
		account.PasswordHash,
		picPath,
		picAt,
		otpCode,
		otpExpires,
		account.UpdatedAt,
		account.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.Account{}, ErrDuplicateEmail
		}
		return types.Account{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.Account{}, err
	}
	if affected == 0 {
		return types.Account{}, ErrNotFound
	}
	return account, nil
}

// Delete removes the account with id and reports whether a row was removed.
func (r *AccountRepository) Delete(ctx context.Context, id string) (bool, error) {
	if uuid.Validate(id) != nil {
		return false, nil
	}
	const query = `DELETE FROM accounts WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *AccountRepository) scanOne(row *sql.Row) (types.Account, error) {
	var (
		account    types.Account
		picPath    sql.NullString
		picAt      sql.NullTime
		otpCode    sql.NullString
		otpExpires sql.NullTime
	)
	err := row.Scan(
		&account.ID,
		&account.Email,
		&account.Username,
		&account.PasswordHash,
		&picPath,
		&picAt,
		&otpCode,
		&otpExpires,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Account{}, ErrNotFound
		}
		return types.Account{}, err
	}
	if picPath.Valid {
		account.ProfilePic = &types.ProfilePic{Path: picPath.String, UploadedAt: picAt.Time}
	}
	if otpCode.Valid && otpExpires.Valid {
		account.PendingOTP = &types.PendingOTP{Code: otpCode.String, ExpiresAt: otpExpires.Time}
	}
	return account, nil
}

func profilePicColumns(pic *types.ProfilePic) (sql.NullString, sql.NullTime) {
	if pic == nil {
		return sql.NullString{}, sql.NullTime{}
	}
	return sql.NullString{String: pic.Path, Valid: true},
		sql.NullTime{Time: pic.UploadedAt, Valid: !pic.UploadedAt.IsZero()}
}

func otpColumns(otp *types.PendingOTP) (sql.NullString, sql.NullTime) {
	if otp == nil {
		return sql.NullString{}, sql.NullTime{}
	}
	return sql.NullString{String: otp.Code, Valid: true},
		sql.NullTime{Time: otp.ExpiresAt, Valid: true}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
