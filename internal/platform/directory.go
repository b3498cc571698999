package platform

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ListOrganizations returns every organization the principal belongs to,
// with their role and the current-organization marker. Rows are ordered by
// joined_at so tie-breaks on the caller's side are deterministic.
func (c *Client) ListOrganizations(ctx context.Context, userID uuid.UUID) ([]DirectoryEntry, error) {
	var entries []DirectoryEntry

	err := c.asUser(ctx, userID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT organization_id, name, slug, logo_url, role,
			       subscription_plan, subscription_status, is_current, joined_at
			FROM get_user_organizations()
			ORDER BY joined_at ASC
		`)
		if err != nil {
			return fmt.Errorf("get_user_organizations failed: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var entry DirectoryEntry
			var logoURL *string
			err := rows.Scan(
				&entry.OrganizationID,
				&entry.Name,
				&entry.Slug,
				&logoURL,
				&entry.Role,
				&entry.SubscriptionPlan,
				&entry.SubscriptionStatus,
				&entry.IsCurrent,
				&entry.JoinedAt,
			)
			if err != nil {
				return fmt.Errorf("failed to scan organization row: %w", err)
			}
			if logoURL != nil {
				entry.LogoURL = *logoURL
			}
			entries = append(entries, entry)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}

// SwitchOrganization marks the given organization as current for the
// principal. Idempotent when already current; ErrNotAMember when the
// principal has no membership there.
func (c *Client) SwitchOrganization(ctx context.Context, userID, orgID uuid.UUID) error {
	return c.callProc(ctx, userID, "switch_organization",
		`SELECT switch_organization($1)`, nil, orgID)
}

// CreateOrganization creates an organization with the principal as owner and
// makes it current. Slug uniqueness is validated server-side; collisions
// surface as ErrSlugTaken.
func (c *Client) CreateOrganization(ctx context.Context, userID uuid.UUID, name, slug, description, contactEmail string) (*CreateOrgResult, error) {
	var result CreateOrgResult
	err := c.callProc(ctx, userID, "create_organization",
		`SELECT create_organization($1, $2, $3, $4)`, &result,
		name, slug, nullable(description), nullable(contactEmail))
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// GetOrganization reads the full organization row, including quotas,
// subscription state and billing identifiers.
func (c *Client) GetOrganization(ctx context.Context, orgID uuid.UUID) (*Organization, error) {
	var org Organization
	var description, logoURL, contactEmail, customerID, subscriptionID *string

	err := c.pool.QueryRow(ctx, `
		SELECT id, name, slug, description, logo_url, contact_email,
		       max_books, max_users, max_loans_per_user,
		       subscription_plan, subscription_status,
		       current_period_end, trial_ends_at, cancel_at_period_end,
		       stripe_customer_id, stripe_subscription_id, created_at
		FROM organizations
		WHERE id = $1
	`, orgID).Scan(
		&org.ID,
		&org.Name,
		&org.Slug,
		&description,
		&logoURL,
		&contactEmail,
		&org.MaxBooks,
		&org.MaxUsers,
		&org.MaxLoansPerUser,
		&org.SubscriptionPlan,
		&org.SubscriptionStatus,
		&org.CurrentPeriodEnd,
		&org.TrialEndsAt,
		&org.CancelAtPeriodEnd,
		&customerID,
		&subscriptionID,
		&org.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrgNotFound
		}
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}

	org.Description = deref(description)
	org.LogoURL = deref(logoURL)
	org.ContactEmail = deref(contactEmail)
	org.StripeCustomerID = deref(customerID)
	org.StripeSubscriptionID = deref(subscriptionID)

	return &org, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
