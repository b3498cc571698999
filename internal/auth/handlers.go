package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/shelfmark/shelfmark/internal/apperrors"
	"github.com/shelfmark/shelfmark/internal/audit"
	"github.com/shelfmark/shelfmark/internal/identity"
	"github.com/shelfmark/shelfmark/internal/platform"
	"github.com/shelfmark/shelfmark/internal/profile"
	"github.com/shelfmark/shelfmark/internal/validation"
)

// SessionEnder drops per-session server state when a principal signs out.
type SessionEnder interface {
	Drop(userID uuid.UUID)
}

// neutralEmailReply is the fixed response for reset-password and magic-link.
// Both always report success so responses cannot be used to enumerate
// accounts.
const neutralEmailReply = "If an account exists for that address, an email is on its way."

// issueSession sets the session and CSRF cookies for a provider session.
func issueSession(w http.ResponseWriter, session *identity.Session, sessionDays int, isProduction bool) {
	SetSessionCookie(w, session.AccessToken, sessionDays, isProduction)

	csrfToken, err := GenerateCSRFToken()
	if err != nil {
		log.Error().Err(err).Msg("Failed to generate CSRF token")
		return
	}
	SetCSRFCookie(w, csrfToken, isProduction)
}

// LoginRequest represents the login request payload
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SessionResponse represents the authenticated principal
type SessionResponse struct {
	UserID uuid.UUID `json:"user_id"`
	Email  string    `json:"email"`
}

// HandleLogin processes password sign-in against the identity provider.
func HandleLogin(idp *identity.Client, profiles *profile.Syncer, auditor *audit.Writer, sessionDays int, isProduction bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		req.Email = strings.TrimSpace(req.Email)
		if req.Email == "" || req.Password == "" {
			apperrors.WriteUnauthorized(w, r, "Invalid credentials")
			return
		}

		session, err := idp.PasswordGrant(ctx, req.Email, req.Password)
		if err != nil {
			if errors.Is(err, identity.ErrInvalidCredentials) {
				// Bad password and unknown email are indistinguishable here
				// on purpose.
				log.Debug().Msg("Login failed: invalid credentials")
				auditor.LogBestEffort(ctx, audit.LogParams{
					Action: audit.EventLoginFailed,
					Meta:   map[string]interface{}{"email": req.Email},
				})
				apperrors.WriteUnauthorized(w, r, "Invalid credentials")
				return
			}
			log.Error().Err(err).Msg("Identity provider sign-in failed")
			apperrors.WriteServiceUnavailable(w, r, "Sign-in is temporarily unavailable. Please try again.")
			return
		}

		issueSession(w, session, sessionDays, isProduction)

		// Authentication changed: schedule the denormalized profile sync.
		// Fire-and-forget; a sync failure never fails the sign-in.
		profiles.Enqueue(platform.Profile{
			UserID: session.User.ID,
			Email:  session.User.Email,
		})

		userID := session.User.ID
		auditor.LogBestEffort(ctx, audit.LogParams{
			ActorUserID: &userID,
			Action:      audit.EventLogin,
		})

		log.Info().
			Str("user_id", session.User.ID.String()).
			Msg("User logged in successfully")

		apperrors.WriteSuccess(w, r, http.StatusOK, SessionResponse{
			UserID: session.User.ID,
			Email:  session.User.Email,
		})
	}
}

// RegisterRequest is the payload of POST /api/auth/register.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
	FullName string `json:"fullName"`
}

// HandleRegister provisions a principal through the provider's privileged
// API, links the denormalized profile, then signs the new principal in.
// If profile linking fails the partially created identity record is deleted
// so a retry starts clean.
func HandleRegister(idp *identity.Client, store *platform.Client, profiles *profile.Syncer, auditor *audit.Writer, sessionDays int, isProduction bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req RegisterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		email, err := validation.NormalizeEmail(req.Email)
		if err != nil {
			apperrors.WriteBadRequest(w, r, err.Error())
			return
		}
		if err := validation.ValidateUsername(req.Username); err != nil {
			apperrors.WriteBadRequest(w, r, err.Error())
			return
		}
		if len(req.Password) < identity.MinPasswordLength {
			apperrors.WriteError(w, r, http.StatusBadRequest, "weak_password", "Password must be at least 6 characters")
			return
		}

		user, err := idp.AdminCreateUser(ctx, email, req.Password, map[string]string{
			"username":  req.Username,
			"full_name": req.FullName,
		})
		if err != nil {
			if errors.Is(err, identity.ErrEmailTaken) {
				apperrors.WriteConflict(w, r, "Email address already registered")
				return
			}
			log.Error().Err(err).Msg("Failed to provision identity record")
			apperrors.WriteInternalError(w, r, "Registration failed. Please try again.")
			return
		}

		record := platform.Profile{
			UserID:   user.ID,
			Email:    email,
			Username: strings.TrimSpace(req.Username),
			FullName: strings.TrimSpace(req.FullName),
		}
		if err := store.UpsertProfile(ctx, record); err != nil {
			// Compensate: remove the identity record so the email is not
			// left registered without a profile.
			log.Error().Err(err).Str("user_id", user.ID.String()).Msg("Profile linking failed, deleting identity record")
			if delErr := idp.AdminDeleteUser(ctx, user.ID); delErr != nil {
				log.Error().Err(delErr).Str("user_id", user.ID.String()).Msg("Compensating identity deletion failed")
			}
			apperrors.WriteInternalError(w, r, "Registration failed. Please try again.")
			return
		}

		userID := user.ID
		auditor.LogBestEffort(ctx, audit.LogParams{
			ActorUserID: &userID,
			Action:      audit.EventUserRegistered,
			Meta:        map[string]interface{}{"email": email},
		})

		// Sign the new principal in immediately. If this step fails the
		// account still exists, so report success without a session.
		session, err := idp.PasswordGrant(ctx, email, req.Password)
		if err != nil {
			log.Warn().Err(err).Str("user_id", user.ID.String()).Msg("Post-registration sign-in failed")
		} else {
			issueSession(w, session, sessionDays, isProduction)
			profiles.Enqueue(record)
		}

		log.Info().
			Str("user_id", user.ID.String()).
			Msg("User registered successfully")

		apperrors.WriteSuccess(w, r, http.StatusCreated, map[string]any{
			"success": true,
			"user": SessionResponse{
				UserID: user.ID,
				Email:  email,
			},
		})
	}
}

// HandleLogout clears the session and drops server-side tenant state.
func HandleLogout(sessions SessionEnder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ClearSessionCookie(w)

		userID := GetUserID(r.Context())
		if userID != uuid.Nil {
			sessions.Drop(userID)
			log.Info().Str("user_id", userID.String()).Msg("User logged out")
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"success": true,
		})
	}
}

// EmailRequest is the payload for reset-password and magic-link.
type EmailRequest struct {
	Email string `json:"email"`
}

// HandleResetPassword triggers a password-recovery email.
func HandleResetPassword(idp *identity.Client) http.HandlerFunc {
	return emailDispatchHandler(idp.SendRecovery, "password recovery")
}

// HandleMagicLink triggers a one-time sign-in link email.
func HandleMagicLink(idp *identity.Client) http.HandlerFunc {
	return emailDispatchHandler(idp.SendMagicLink, "magic link")
}

// emailDispatchHandler reports success regardless of whether the email is
// known. Provider failures are logged but never surfaced, so the response
// cannot be used to probe for accounts.
func emailDispatchHandler(send func(ctx context.Context, email string) error, kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req EmailRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		email, err := validation.NormalizeEmail(req.Email)
		if err != nil {
			apperrors.WriteBadRequest(w, r, err.Error())
			return
		}

		if err := send(r.Context(), email); err != nil {
			log.Warn().Err(err).Str("kind", kind).Msg("Failed to dispatch auth email")
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"message": neutralEmailReply,
		})
	}
}

// UpdatePasswordRequest is the payload of POST /api/v1/auth/password.
type UpdatePasswordRequest struct {
	Password string `json:"password"`
}

// HandleUpdatePassword changes the password of the authenticated session.
func HandleUpdatePassword(idp *identity.Client, profiles *profile.Syncer, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		claims := GetClaims(ctx)

		var req UpdatePasswordRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}
		if len(req.Password) < identity.MinPasswordLength {
			apperrors.WriteError(w, r, http.StatusBadRequest, "weak_password", "Password must be at least 6 characters")
			return
		}

		token := GetSessionCookie(r)
		if err := idp.UpdatePassword(ctx, token, req.Password); err != nil {
			switch {
			case errors.Is(err, identity.ErrWeakPassword):
				apperrors.WriteError(w, r, http.StatusBadRequest, "weak_password", "Password must be at least 6 characters")
			case errors.Is(err, identity.ErrInvalidCredentials):
				apperrors.WriteUnauthorized(w, r, "Your session has expired. Please sign in again.")
			default:
				log.Error().Err(err).Msg("Failed to update password")
				apperrors.WriteServiceUnavailable(w, r, "Could not update your password. Please try again.")
			}
			return
		}

		userID := claims.UserID()
		auditor.LogBestEffort(ctx, audit.LogParams{
			ActorUserID: &userID,
			Action:      audit.EventPasswordUpdated,
		})

		// Authentication changed: schedule the profile sync.
		profiles.Enqueue(platform.Profile{
			UserID: userID,
			Email:  claims.Email,
		})

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"success": true,
		})
	}
}

// HandleCSRF issues the CSRF cookie for the double-submit pattern.
func HandleCSRF(isProduction bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := GenerateCSRFToken()
		if err != nil {
			log.Error().Err(err).Msg("Failed to generate CSRF token")
			apperrors.WriteInternalError(w, r, "Failed to generate CSRF token")
			return
		}
		SetCSRFCookie(w, token, isProduction)

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"csrf_token": token,
		})
	}
}
