package platform

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrInviteNotFound is returned when an invitation row does not exist.
var ErrInviteNotFound = errors.New("invitation not found")

// InviteToOrganization creates an invitation. The platform validates the
// actor's role, mints the unguessable token and sets the expiry.
func (c *Client) InviteToOrganization(ctx context.Context, actorID, orgID uuid.UUID, email, role, message string) (*InviteResult, error) {
	var result InviteResult
	err := c.callProc(ctx, actorID, "invite_to_organization",
		`SELECT invite_to_organization($1, $2, $3, $4)`, &result,
		orgID, email, nullable(role), nullable(message))
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// AcceptInvitation consumes an invitation token for the given user. The
// platform enforces at-most-once acceptance, read-time expiry and the email
// match; its documented error codes pass through as RPCError codes.
func (c *Client) AcceptInvitation(ctx context.Context, token string, userID uuid.UUID) (*AcceptResult, error) {
	var result AcceptResult
	err := c.callProc(ctx, userID, "accept_invitation",
		`SELECT accept_invitation($1, $2)`, &result,
		token, userID)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// InvitationEmailData loads everything needed to deliver an invitation email.
func (c *Client) InvitationEmailData(ctx context.Context, inviteID uuid.UUID) (*InviteEmail, error) {
	var data InviteEmail
	var message, inviterName *string

	err := c.pool.QueryRow(ctx, `
		SELECT i.id, i.email, i.role, i.message, i.token, i.expires_at,
		       o.name, p.full_name
		FROM invitations i
		JOIN organizations o ON o.id = i.organization_id
		LEFT JOIN profiles p ON p.id = i.invited_by
		WHERE i.id = $1
	`, inviteID).Scan(
		&data.InvitationID,
		&data.Email,
		&data.Role,
		&message,
		&data.Token,
		&data.ExpiresAt,
		&data.OrgName,
		&inviterName,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInviteNotFound
		}
		return nil, fmt.Errorf("failed to load invitation: %w", err)
	}

	data.Message = deref(message)
	data.InviterName = deref(inviterName)

	return &data, nil
}
