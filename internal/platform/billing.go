package platform

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrPlanNotFound is returned when a subscription plan id is unknown.
var ErrPlanNotFound = errors.New("subscription plan not found")

// SetBillingCustomer persists the payment processor's customer id for an
// organization. Called when a customer is first created and again when a
// currency-mismatch recovery replaces the customer record.
func (c *Client) SetBillingCustomer(ctx context.Context, orgID uuid.UUID, customerID string) error {
	tag, err := c.pool.Exec(ctx, `
		UPDATE organizations
		SET stripe_customer_id = $2, updated_at = NOW()
		WHERE id = $1
	`, orgID, customerID)
	if err != nil {
		return fmt.Errorf("failed to persist billing customer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrgNotFound
	}
	return nil
}

// PlanPrice resolves a plan id and billing period to the processor's price
// id. The plan catalog is owned by the platform.
func (c *Client) PlanPrice(ctx context.Context, planID, billingPeriod string) (string, error) {
	column := "stripe_price_monthly"
	if billingPeriod == "yearly" {
		column = "stripe_price_yearly"
	}

	var priceID *string
	err := c.pool.QueryRow(ctx,
		`SELECT `+column+` FROM subscription_plans WHERE id = $1`,
		planID,
	).Scan(&priceID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrPlanNotFound
		}
		return "", fmt.Errorf("failed to resolve plan price: %w", err)
	}
	if priceID == nil || *priceID == "" {
		return "", ErrPlanNotFound
	}

	return *priceID, nil
}
