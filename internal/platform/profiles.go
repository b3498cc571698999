package platform

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrProfileOrphaned is returned when the profile's principal no longer
// exists in the identity store. Happens when a fire-and-forget sync completes
// after a compensating account deletion; callers treat it as a no-op.
var ErrProfileOrphaned = errors.New("profile principal no longer exists")

// UpsertProfile writes the denormalized profile record for a principal.
func (c *Client) UpsertProfile(ctx context.Context, p Profile) error {
	_, err := c.pool.Exec(ctx, `
		INSERT INTO profiles (id, email, username, full_name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET email = EXCLUDED.email,
		    username = EXCLUDED.username,
		    full_name = EXCLUDED.full_name,
		    updated_at = NOW()
	`, p.UserID, p.Email, nullable(p.Username), nullable(p.FullName))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgerrcode.ForeignKeyViolation:
				return ErrProfileOrphaned
			case pgerrcode.UniqueViolation:
				// Username collision on the denormalized record; the identity
				// record is authoritative, so report it for logging only.
				return fmt.Errorf("profile username conflict: %w", err)
			}
		}
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}

// DeleteProfile removes the denormalized profile record. Compensating step
// for failed registrations.
func (c *Client) DeleteProfile(ctx context.Context, p Profile) error {
	_, err := c.pool.Exec(ctx, `DELETE FROM profiles WHERE id = $1`, p.UserID)
	if err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	return nil
}
