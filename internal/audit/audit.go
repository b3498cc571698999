package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

const (
	EventUserRegistered     = "user.registered"
	EventLogin              = "auth.login"
	EventLoginFailed        = "auth.login_failed"
	EventPasswordUpdated    = "auth.password_updated"
	EventOrgCreated         = "org.created"
	EventOrgSwitched        = "org.switched"
	EventInviteCreated      = "org.invite_created"
	EventInviteAccepted     = "org.invite_accepted"
	EventCheckoutStarted    = "billing.checkout_started"
	EventPortalOpened       = "billing.portal_opened"
	EventBookBorrowed       = "circulation.borrowed"
	EventBookReturned       = "circulation.returned"
	EventBookReserved       = "circulation.reserved"
)

// Writer provides methods to write audit log entries.
type Writer struct {
	pool *pgxpool.Pool
}

func NewWriter(pool *pgxpool.Pool) *Writer {
	return &Writer{pool: pool}
}

// LogParams contains parameters for logging an audit event.
type LogParams struct {
	OrgID       *uuid.UUID
	ActorUserID *uuid.UUID
	Action      string
	Meta        map[string]interface{}
}

// Log writes one audit entry. Returns an error for callers that want to log
// the failure; the audit trail never fails a parent operation.
func (w *Writer) Log(ctx context.Context, params LogParams) error {
	metaJSON := []byte("{}")
	if len(params.Meta) > 0 {
		encoded, err := json.Marshal(params.Meta)
		if err != nil {
			return fmt.Errorf("failed to marshal audit meta: %w", err)
		}
		metaJSON = encoded
	}

	_, err := w.pool.Exec(ctx, `
		INSERT INTO audit_logs (id, organization_id, actor_user_id, action, meta)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.New(), params.OrgID, params.ActorUserID, params.Action, metaJSON)
	if err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

// LogBestEffort writes an audit entry and swallows failures after logging
// them. Use on paths where audit must never affect the outcome.
func (w *Writer) LogBestEffort(ctx context.Context, params LogParams) {
	if err := w.Log(ctx, params); err != nil {
		log.Error().
			Err(err).
			Str("action", params.Action).
			Msg("Failed to write audit log")
	}
}
