package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sweetcrumb/accounts/internal/auth"
	"github.com/sweetcrumb/accounts/internal/logger"
	"github.com/sweetcrumb/accounts/internal/services"
	"github.com/sweetcrumb/accounts/internal/storage"
	"github.com/sweetcrumb/accounts/types"
)

// AuthHandler provides the account lifecycle endpoints.
type AuthHandler struct {
	authService *services.AuthService
	pics        *storage.ProfilePics
}

// NewAuthHandler constructs an AuthHandler. pics may be nil, in which case
// picture uploads are rejected.
func NewAuthHandler(authService *services.AuthService, pics *storage.ProfilePics) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		pics:        pics,
	}
}

// AuthRouter registers auth routes on the given router. otpLimit wraps the
// reset code endpoint and may be nil.
func AuthRouter(
	r chi.Router,
	authService *services.AuthService,
	pics *storage.ProfilePics,
	otpLimit func(http.Handler) http.Handler,
) {
	handler := NewAuthHandler(authService, pics)

	r.Post("/register", handler.Register)
	r.Post("/login", handler.Login)
	r.Get("/verify", handler.Verify)
	r.Delete("/delete-account", handler.DeleteAccount)
	r.Put("/update-profile", handler.UpdateProfile)
	r.Post("/reset-password", handler.ResetPassword)
	if otpLimit != nil {
		r.With(otpLimit).Post("/send-otp", handler.SendOTP)
	} else {
		r.Post("/send-otp", handler.SendOTP)
	}
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SendOTPRequest struct {
	Email string `json:"email"`
}

type ResetPasswordRequest struct {
	Email       string `json:"email"`
	OTP         string `json:"otp"`
	NewPassword string `json:"newPassword"`
}

type UpdateProfileRequest struct {
	Username *string `json:"username"`
}

type AccountResponse struct {
	Message string        `json:"message"`
	User    types.Account `json:"user"`
}

type LoginResponse struct {
	Message string        `json:"message"`
	Token   string        `json:"token"`
	User    types.Account `json:"user"`
}

type VerifyResponse struct {
	Valid bool         `json:"valid"`
	User  *auth.Claims `json:"user,omitempty"`
	Error string       `json:"error,omitempty"`
}

// Register creates an account. It accepts JSON, or a multipart form with
// an optional profilePic file.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var (
		req  RegisterRequest
		file *UploadedFile
	)
	if isMultipart(r) {
		if err := parseMultipart(w, r); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		req.Email = r.FormValue("email")
		req.Username = r.FormValue("username")
		req.Password = r.FormValue("password")

		var err error
		file, err = parseSingleFile(r.MultipartForm, formFieldProfilePic, storage.MaxProfilePicBytes)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	} else if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	pic, ok := h.storePicture(w, r, file)
	if !ok {
		return
	}

	account, err := h.authService.Register(r.Context(), services.RegisterInput{
		Email:      req.Email,
		Username:   req.Username,
		Password:   req.Password,
		ProfilePic: pic,
	})
	if err != nil {
		h.discardPicture(r.Context(), pic)
		writeServiceError(w, r, err, "registration failed")
		return
	}

	writeJSON(w, http.StatusCreated, AccountResponse{Message: "User registered", User: account})
}

// Login verifies credentials and returns a bearer token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.authService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		// Unknown email and wrong password look the same to the caller.
		if errors.Is(err, services.ErrUnknownEmail) || errors.Is(err, services.ErrBadPassword) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		writeServiceError(w, r, err, "login failed")
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{
		Message: "Login successful",
		Token:   result.Token,
		User:    result.Account,
	})
}

// Verify decodes the bearer token and returns its claims.
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	token, _ := bearerToken(r)
	claims, err := h.authService.Verify(r.Context(), token)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, VerifyResponse{Valid: false, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, VerifyResponse{Valid: true, User: &claims})
}

// DeleteAccount removes the account behind the bearer token.
func (h *AuthHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	token, _ := bearerToken(r)
	account, err := h.authService.DeleteAccount(r.Context(), token)
	if err != nil {
		writeServiceError(w, r, err, "deletion failed")
		return
	}

	h.discardPicture(r.Context(), account.ProfilePic)
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Account deleted successfully"})
}

// SendOTP issues a password reset code and mails it to the account.
func (h *AuthHandler) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req SendOTPRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.authService.RequestReset(r.Context(), req.Email); err != nil {
		writeServiceError(w, r, err, "failed to send otp")
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "OTP sent successfully"})
}

// ResetPassword redeems a reset code and sets a new password.
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.authService.CompleteReset(r.Context(), req.Email, req.OTP, req.NewPassword); err != nil {
		writeServiceError(w, r, err, "password reset failed")
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Password reset successfully"})
}

// UpdateProfile changes the username and/or picture of the account behind
// the bearer token. It accepts JSON, or a multipart form.
func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	token, _ := bearerToken(r)

	var (
		req  UpdateProfileRequest
		file *UploadedFile
	)
	if isMultipart(r) {
		if err := parseMultipart(w, r); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if values, ok := r.MultipartForm.Value["username"]; ok && len(values) > 0 {
			req.Username = &values[0]
		}

		var err error
		file, err = parseSingleFile(r.MultipartForm, formFieldProfilePic, storage.MaxProfilePicBytes)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	} else if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Reject bad tokens before touching storage.
	if _, err := h.authService.Verify(r.Context(), token); err != nil {
		writeServiceError(w, r, err, "profile update failed")
		return
	}

	pic, ok := h.storePicture(w, r, file)
	if !ok {
		return
	}

	result, err := h.authService.UpdateProfile(r.Context(), token, services.ProfileUpdate{
		Username:   req.Username,
		ProfilePic: pic,
	})
	if err != nil {
		h.discardPicture(r.Context(), pic)
		writeServiceError(w, r, err, "profile update failed")
		return
	}

	h.discardPicture(r.Context(), result.Replaced)
	writeJSON(w, http.StatusOK, AccountResponse{Message: "Profile updated", User: result.Account})
}

// storePicture saves file, if any, and writes an error response on failure.
func (h *AuthHandler) storePicture(w http.ResponseWriter, r *http.Request, file *UploadedFile) (*types.ProfilePic, bool) {
	if file == nil {
		return nil, true
	}
	if h.pics == nil {
		writeError(w, http.StatusBadRequest, "profile picture uploads are not enabled")
		return nil, false
	}

	pic, err := h.pics.Save(r.Context(), file.Filename, file.ContentType, file.Data)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrUnsupportedImage),
			errors.Is(err, storage.ErrImageTooLarge),
			errors.Is(err, storage.ErrEmptyImage):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			logger.FromContext(r.Context()).ErrorContext(r.Context(), "store profile picture", "error", err)
			writeError(w, http.StatusBadGateway, "failed to store profile picture")
		}
		return nil, false
	}
	return &pic, true
}

// discardPicture removes a stored picture. Failures are logged only.
func (h *AuthHandler) discardPicture(ctx context.Context, pic *types.ProfilePic) {
	if h.pics == nil || pic == nil {
		return
	}
	if err := h.pics.Remove(ctx, pic); err != nil {
		logger.FromContext(ctx).WarnContext(ctx, "remove profile picture", "path", pic.Path, "error", err)
	}
}

// writeServiceError maps AuthService failures to HTTP responses.
// fallback is reported for failures outside the service error kinds.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	ctx := r.Context()
	switch {
	case errors.Is(err, services.ErrInvalidOTP), errors.Is(err, services.ErrExpiredOTP):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrValidation), errors.Is(err, services.ErrConflict):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrNotFound):
		writeError(w, http.StatusNotFound, "user not found")
	case errors.Is(err, services.ErrAuthFailure):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, services.ErrMailDispatch):
		writeError(w, http.StatusBadGateway, "failed to send otp")
	case errors.Is(err, services.ErrDependency):
		logger.FromContext(ctx).ErrorContext(ctx, fallback, "error", err)
		writeError(w, http.StatusServiceUnavailable, fallback)
	default:
		logger.FromContext(ctx).ErrorContext(ctx, fallback, "error", err)
		writeError(w, http.StatusInternalServerError, fallback)
	}
}
