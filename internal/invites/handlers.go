// Package invites exposes the invitation flow: admins invite by email, the
// invitee accepts with the emailed token. Token minting, expiry and
// at-most-once acceptance are all enforced by the data platform; this
// package maps its outcomes onto the HTTP contract.
package invites

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/shelfmark/shelfmark/internal/apperrors"
	"github.com/shelfmark/shelfmark/internal/audit"
	"github.com/shelfmark/shelfmark/internal/auth"
	"github.com/shelfmark/shelfmark/internal/email"
	"github.com/shelfmark/shelfmark/internal/platform"
	"github.com/shelfmark/shelfmark/internal/tenant"
	"github.com/shelfmark/shelfmark/internal/validation"
)

// CreateRequest is the payload for creating an invitation.
type CreateRequest struct {
	Email   string `json:"email"`
	Role    string `json:"role"`
	Message string `json:"message"`
}

// HandleCreate handles POST /api/v1/orgs/{org_id}/invites. Admin-gated by
// the router; the path organization must be the caller's current one, so an
// admin of one library cannot invite into another by editing the URL.
// The invitation email is sent best-effort; a delivery failure does not void
// the invitation, it can be re-sent later.
func HandleCreate(store *platform.Client, sender *email.Sender, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)

		orgID, err := uuid.Parse(chi.URLParam(r, "org_id"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "org_id must be a UUID")
			return
		}

		snap := tenant.FromContext(ctx).Snapshot()
		if snap.Organization.ID != orgID {
			apperrors.WriteForbidden(w, r, "Switch to that organization first")
			return
		}

		var req CreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		addr, err := validation.NormalizeEmail(req.Email)
		if err != nil {
			apperrors.WriteBadRequest(w, r, err.Error())
			return
		}
		if req.Role != "" {
			role, ok := tenant.ParseRole(req.Role)
			if !ok || role == tenant.RoleOwner {
				apperrors.WriteBadRequest(w, r, "Role must be member, librarian or admin")
				return
			}
		}
		if len(req.Message) > 500 {
			apperrors.WriteBadRequest(w, r, "Message must be at most 500 characters")
			return
		}

		result, err := store.InviteToOrganization(ctx, userID, orgID, addr, req.Role, req.Message)
		if err != nil {
			switch platform.ErrorCode(err) {
			case "forbidden", "insufficient_permissions":
				apperrors.WriteForbidden(w, r, "Only admins can manage members")
			case platform.CodeAlreadyMember:
				apperrors.WriteConflict(w, r, "That person is already a member of this organization")
			case "already_invited", "invitation_pending":
				apperrors.WriteConflict(w, r, "An invitation for that email is already pending")
			case platform.CodeUserLimitReached:
				apperrors.WriteConflict(w, r, "This organization has reached its member limit")
			default:
				log.Error().
					Err(err).
					Str("organization_id", orgID.String()).
					Msg("Failed to create invitation")
				apperrors.WriteInternalError(w, r, "Failed to create invitation")
			}
			return
		}

		emailSent := true
		data, err := store.InvitationEmailData(ctx, result.InvitationID)
		if err == nil {
			err = sender.SendInvitation(ctx, data)
		}
		if err != nil {
			emailSent = false
			log.Warn().
				Err(err).
				Str("invitation_id", result.InvitationID.String()).
				Msg("Invitation created but email delivery failed")
		}

		auditor.LogBestEffort(ctx, audit.LogParams{
			OrgID:       &orgID,
			ActorUserID: &userID,
			Action:      audit.EventInviteCreated,
			Meta: map[string]interface{}{
				"invitation_id": result.InvitationID.String(),
				"role":          req.Role,
			},
		})

		apperrors.WriteSuccess(w, r, http.StatusCreated, map[string]any{
			"invitation_id": result.InvitationID,
			"email_sent":    emailSent,
		})
	}
}

// AcceptRequest carries the emailed invitation token.
type AcceptRequest struct {
	Token string `json:"token"`
}

// HandleAccept handles POST /api/v1/invites/accept. Each platform rejection
// code gets its own user-facing message so the invitee knows whether to ask
// for a new invitation, sign in with another account, or do nothing.
func HandleAccept(m *tenant.Manager, store *platform.Client, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)

		var req AcceptRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}
		if req.Token == "" {
			apperrors.WriteBadRequest(w, r, "token is required")
			return
		}

		result, err := store.AcceptInvitation(ctx, req.Token, userID)
		if err != nil {
			switch platform.ErrorCode(err) {
			case platform.CodeInvalidToken:
				apperrors.WriteBadRequest(w, r, "That invitation link is not valid.")
			case platform.CodeInvitationExpired:
				apperrors.WriteError(w, r, http.StatusGone, "invitation_expired", "This invitation has expired. Ask for a new one.")
			case platform.CodeInvitationNotActive:
				apperrors.WriteConflict(w, r, "This invitation has already been used or revoked.")
			case platform.CodeEmailMismatch:
				apperrors.WriteForbidden(w, r, "This invitation was sent to a different email address.")
			case platform.CodeUserLimitReached:
				apperrors.WriteConflict(w, r, "This organization has reached its member limit.")
			case platform.CodeAlreadyMember:
				apperrors.WriteConflict(w, r, "You are already a member of this organization.")
			default:
				log.Error().Err(err).Msg("Failed to accept invitation")
				apperrors.WriteInternalError(w, r, "Failed to accept invitation")
			}
			return
		}

		// The membership list changed; re-resolve so the new organization
		// shows up without a sign-out. Best effort, the next request's
		// resolution catches up if this one fails.
		if err := m.Acquire(userID).Refresh(ctx); err != nil {
			log.Warn().Err(err).Msg("Invitation accepted with stale context")
		}

		auditor.LogBestEffort(ctx, audit.LogParams{
			OrgID:       &result.OrganizationID,
			ActorUserID: &userID,
			Action:      audit.EventInviteAccepted,
		})

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"organization_id": result.OrganizationID,
		})
	}
}
