// Package billing drives subscription checkout and portal sessions against
// the payment processor. Subscription state itself is written by the
// platform's webhook consumer; this tier only opens processor sessions and
// keeps the organization's customer id in step.
package billing

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v81"
	stripeclient "github.com/stripe/stripe-go/v81/client"

	"github.com/shelfmark/shelfmark/internal/platform"
)

// Store is the slice of the data platform billing needs.
type Store interface {
	SetBillingCustomer(ctx context.Context, orgID uuid.UUID, customerID string) error
	PlanPrice(ctx context.Context, planID, billingPeriod string) (string, error)
}

// Orchestrator owns the checkout and portal flows.
type Orchestrator struct {
	api        *stripeclient.API
	store      Store
	appOrigin  string
	freePlanID string
}

// NewOrchestrator creates a billing orchestrator with the given secret key.
func NewOrchestrator(secretKey string, store Store, appOrigin, freePlanID string) *Orchestrator {
	return &Orchestrator{
		api:        stripeclient.New(secretKey, nil),
		store:      store,
		appOrigin:  appOrigin,
		freePlanID: freePlanID,
	}
}

// CheckoutResult is the successful outcome of a checkout request.
type CheckoutResult struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// subscriptionBlocksCheckout reports whether the organization's current
// subscription status makes a second checkout invalid. Historic data carries
// both "trialing" and "trial", so both are honored.
func subscriptionBlocksCheckout(status string) bool {
	switch status {
	case "active", "trialing", "trial":
		return true
	default:
		return false
	}
}

// Checkout opens a subscription checkout session for the organization.
//
// Selecting the free plan returns ErrFreePlan without touching the
// processor. A currency mismatch on an existing customer is recovered by
// minting a replacement customer and retrying exactly once.
func (o *Orchestrator) Checkout(ctx context.Context, org *platform.Organization, billingEmail, planID, billingPeriod string) (*CheckoutResult, error) {
	if planID == o.freePlanID {
		return nil, ErrFreePlan
	}
	if subscriptionBlocksCheckout(org.SubscriptionStatus) {
		return nil, ErrAlreadySubscribed
	}

	priceID, err := o.store.PlanPrice(ctx, planID, billingPeriod)
	if err != nil {
		return nil, err
	}

	customerID, err := o.ensureCustomer(ctx, org, billingEmail)
	if err != nil {
		return nil, err
	}

	sess, err := o.createSession(customerID, priceID, org.ID, planID)
	if err != nil && isCurrencyMismatch(err) {
		// The stored customer has charges in another currency; a fresh
		// customer record is the only way forward. One retry, never a loop.
		log.Warn().
			Str("organization_id", org.ID.String()).
			Str("customer_id", customerID).
			Msg("Currency mismatch on checkout, replacing billing customer")

		customerID, err = o.createCustomer(ctx, org, billingEmail)
		if err != nil {
			return nil, err
		}
		sess, err = o.createSession(customerID, priceID, org.ID, planID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	return &CheckoutResult{SessionID: sess.ID, URL: sess.URL}, nil
}

func (o *Orchestrator) createSession(customerID, priceID string, orgID uuid.UUID, planID string) (*stripe.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Customer: stripe.String(customerID),
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:          stripe.String(o.appOrigin + "/billing?checkout=success&session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:           stripe.String(o.appOrigin + "/billing?checkout=cancelled"),
		ClientReferenceID:   stripe.String(orgID.String()),
		AllowPromotionCodes: stripe.Bool(true),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				"organization_id": orgID.String(),
				"plan_id":         planID,
			},
		},
	}
	return o.api.CheckoutSessions.New(params)
}

// ensureCustomer returns the organization's processor customer id, creating
// and persisting one on first use.
func (o *Orchestrator) ensureCustomer(ctx context.Context, org *platform.Organization, billingEmail string) (string, error) {
	if org.StripeCustomerID != "" {
		return org.StripeCustomerID, nil
	}
	return o.createCustomer(ctx, org, billingEmail)
}

// createCustomer mints a new processor customer and persists its id,
// replacing whatever id the organization carried before.
func (o *Orchestrator) createCustomer(ctx context.Context, org *platform.Organization, billingEmail string) (string, error) {
	email := org.ContactEmail
	if email == "" {
		email = billingEmail
	}

	params := &stripe.CustomerParams{
		Name:  stripe.String(org.Name),
		Email: stripe.String(email),
	}
	params.AddMetadata("organization_id", org.ID.String())

	cust, err := o.api.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create billing customer: %w", err)
	}

	if err := o.store.SetBillingCustomer(ctx, org.ID, cust.ID); err != nil {
		return "", err
	}

	log.Info().
		Str("organization_id", org.ID.String()).
		Str("customer_id", cust.ID).
		Msg("Billing customer created")

	return cust.ID, nil
}

// Portal opens a customer portal session for the organization.
func (o *Orchestrator) Portal(ctx context.Context, org *platform.Organization) (string, error) {
	if org.StripeCustomerID == "" {
		return "", ErrNoBillingAccount
	}

	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(org.StripeCustomerID),
		ReturnURL: stripe.String(o.appOrigin + "/billing"),
	}

	sess, err := o.api.BillingPortalSessions.New(params)
	if err != nil {
		switch {
		case isPortalNotConfigured(err):
			return "", ErrPortalNotConfigured
		case isMissingCustomer(err):
			// The stored id points at a customer the processor no longer
			// knows. Surface it as a missing account so the next checkout
			// mints a fresh one.
			log.Warn().
				Str("organization_id", org.ID.String()).
				Str("customer_id", org.StripeCustomerID).
				Msg("Stored billing customer unknown to processor")
			return "", ErrNoBillingAccount
		default:
			return "", fmt.Errorf("failed to create portal session: %w", err)
		}
	}

	return sess.URL, nil
}
