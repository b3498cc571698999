package platform

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAMember is returned when the caller has no membership in the organization
	ErrNotAMember = errors.New("user is not a member of this organization")

	// ErrSlugTaken is returned when an organization slug already exists
	ErrSlugTaken = errors.New("organization slug already exists")

	// ErrOrgNotFound is returned when an organization is not found
	ErrOrgNotFound = errors.New("organization not found")

	// ErrForbidden is returned when the platform rejects the caller's role
	ErrForbidden = errors.New("insufficient permissions")
)

// Invitation error codes documented by accept_invitation. They are surfaced
// verbatim so handlers can map each one to its own user-facing message.
const (
	CodeInvalidToken        = "invalid_token"
	CodeInvitationExpired   = "invitation_expired"
	CodeInvitationNotActive = "invitation_not_pending"
	CodeEmailMismatch       = "email_mismatch"
	CodeUserLimitReached    = "user_limit_reached"
	CodeAlreadyMember       = "already_member"
)

// RPCError is a procedure failure that carries the platform's error code.
type RPCError struct {
	Proc string
	Code string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Proc, e.Code)
}

// mapRPCError converts an envelope error code into a sentinel error where one
// exists, and an RPCError otherwise.
func mapRPCError(proc, code string) error {
	switch code {
	case "not_a_member":
		return ErrNotAMember
	case "slug_taken":
		return ErrSlugTaken
	case "organization_not_found":
		return ErrOrgNotFound
	case "forbidden", "insufficient_permissions":
		return ErrForbidden
	case "":
		return &RPCError{Proc: proc, Code: "unknown_error"}
	default:
		return &RPCError{Proc: proc, Code: code}
	}
}

// ErrorCode extracts the platform error code from an error returned by this
// package. Returns an empty string for non-platform errors.
func ErrorCode(err error) string {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr.Code
	}
	switch {
	case errors.Is(err, ErrNotAMember):
		return "not_a_member"
	case errors.Is(err, ErrSlugTaken):
		return "slug_taken"
	case errors.Is(err, ErrOrgNotFound):
		return "organization_not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	}
	return ""
}
