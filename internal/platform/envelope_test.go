package platform

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestDecodeEnvelope_Success(t *testing.T) {
	raw := []byte(`{"success": true, "organization_id": "` + uuid.New().String() + `", "slug": "city-library"}`)

	var result CreateOrgResult
	require.NoError(t, decodeEnvelope("create_organization", raw, &result))
	require.Equal(t, "city-library", result.Slug)
	require.NotEqual(t, uuid.Nil, result.OrganizationID)
}

func TestDecodeEnvelope_SuccessWithoutOut(t *testing.T) {
	require.NoError(t, decodeEnvelope("switch_organization", []byte(`{"success": true}`), nil))
}

func TestDecodeEnvelope_KnownError(t *testing.T) {
	err := decodeEnvelope("switch_organization", []byte(`{"success": false, "error": "not_a_member"}`), nil)
	require.ErrorIs(t, err, ErrNotAMember)
}

func TestDecodeEnvelope_PassThroughCode(t *testing.T) {
	err := decodeEnvelope("accept_invitation", []byte(`{"success": false, "error": "invitation_expired"}`), nil)
	require.Equal(t, CodeInvitationExpired, ErrorCode(err))

	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, "accept_invitation", rpcErr.Proc)
}

func TestDecodeEnvelope_MalformedJSON(t *testing.T) {
	err := decodeEnvelope("borrow_book", []byte(`not json`), nil)
	require.Error(t, err)
}

func TestDecodeEnvelope_FailureWithoutCode(t *testing.T) {
	err := decodeEnvelope("borrow_book", []byte(`{"success": false}`), nil)
	require.Equal(t, "unknown_error", ErrorCode(err))
}

func TestMapRPCError_Sentinels(t *testing.T) {
	require.ErrorIs(t, mapRPCError("p", "not_a_member"), ErrNotAMember)
	require.ErrorIs(t, mapRPCError("p", "slug_taken"), ErrSlugTaken)
	require.ErrorIs(t, mapRPCError("p", "organization_not_found"), ErrOrgNotFound)
	require.ErrorIs(t, mapRPCError("p", "forbidden"), ErrForbidden)
	require.ErrorIs(t, mapRPCError("p", "insufficient_permissions"), ErrForbidden)
}

func TestErrorCode(t *testing.T) {
	require.Equal(t, "not_a_member", ErrorCode(ErrNotAMember))
	require.Equal(t, "slug_taken", ErrorCode(ErrSlugTaken))
	require.Equal(t, "user_limit_reached", ErrorCode(&RPCError{Proc: "accept_invitation", Code: "user_limit_reached"}))
	require.Equal(t, "", ErrorCode(errors.New("plain error")))
	require.Equal(t, "", ErrorCode(nil))
}
