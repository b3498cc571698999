package email

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/shelfmark/shelfmark/internal/apperrors"
	"github.com/shelfmark/shelfmark/internal/platform"
)

// InviteEmailRequest is the payload of POST /api/email/invite.
type InviteEmailRequest struct {
	InvitationID uuid.UUID `json:"invitationId"`
}

// HandleSendInvite handles POST /api/email/invite: (re)delivers the email for
// an existing invitation. Used when the original delivery failed or the
// invitee lost the message.
func HandleSendInvite(store *platform.Client, sender *Sender) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req InviteEmailRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}
		if req.InvitationID == uuid.Nil {
			apperrors.WriteBadRequest(w, r, "invitationId is required")
			return
		}

		data, err := store.InvitationEmailData(ctx, req.InvitationID)
		if err != nil {
			if errors.Is(err, platform.ErrInviteNotFound) {
				apperrors.WriteNotFound(w, r, "Invitation not found")
				return
			}
			log.Error().Err(err).Str("invitation_id", req.InvitationID.String()).Msg("Failed to load invitation")
			apperrors.WriteInternalError(w, r, "Failed to load invitation")
			return
		}

		if err := sender.SendInvitation(ctx, data); err != nil {
			if errors.Is(err, ErrNotConfigured) {
				apperrors.WriteServiceUnavailable(w, r, "Email delivery is not configured")
				return
			}
			log.Error().Err(err).Str("invitation_id", req.InvitationID.String()).Msg("Failed to send invitation email")
			apperrors.WriteServiceUnavailable(w, r, "Could not send the invitation email. Please try again.")
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"success": true,
		})
	}
}
