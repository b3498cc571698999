package billing

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/shelfmark/shelfmark/internal/apperrors"
	"github.com/shelfmark/shelfmark/internal/audit"
	"github.com/shelfmark/shelfmark/internal/auth"
	"github.com/shelfmark/shelfmark/internal/platform"
	"github.com/shelfmark/shelfmark/internal/tenant"
)

// CheckoutRequest is the payload of POST /api/stripe/checkout.
type CheckoutRequest struct {
	PlanID        string `json:"planId"`
	BillingPeriod string `json:"billingPeriod"`
}

// requireBillingAdmin extracts a Resolved snapshot whose role may manage
// billing. Writes the error response itself and returns ok=false otherwise.
func requireBillingAdmin(w http.ResponseWriter, r *http.Request) (tenant.Snapshot, bool) {
	tc := tenant.FromContext(r.Context())
	if tc == nil {
		apperrors.WriteForbidden(w, r, "Select or create an organization first")
		return tenant.Snapshot{}, false
	}
	snap := tc.Snapshot()
	if snap.State != tenant.StateResolved {
		apperrors.WriteForbidden(w, r, "Select or create an organization first")
		return tenant.Snapshot{}, false
	}
	if !snap.Capabilities.IsAdmin {
		apperrors.WriteForbidden(w, r, "Only admins can manage billing")
		return tenant.Snapshot{}, false
	}
	return snap, true
}

// HandleCheckout handles POST /api/stripe/checkout
func HandleCheckout(orch *Orchestrator, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		snap, ok := requireBillingAdmin(w, r)
		if !ok {
			return
		}

		var req CheckoutRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}
		if req.PlanID == "" {
			apperrors.WriteBadRequest(w, r, "planId is required")
			return
		}
		switch req.BillingPeriod {
		case "":
			req.BillingPeriod = "monthly"
		case "monthly", "yearly":
		default:
			apperrors.WriteBadRequest(w, r, "billingPeriod must be monthly or yearly")
			return
		}

		result, err := orch.Checkout(ctx, snap.Organization, auth.GetUserEmail(ctx), req.PlanID, req.BillingPeriod)
		if err != nil {
			switch {
			case errors.Is(err, ErrFreePlan):
				apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
					"message": "You're on the free plan. No payment is needed.",
				})
			case errors.Is(err, ErrAlreadySubscribed):
				apperrors.WriteConflict(w, r, "You already have an active subscription. Manage it from the billing portal.")
			case errors.Is(err, platform.ErrPlanNotFound):
				apperrors.WriteBadRequest(w, r, "Unknown subscription plan")
			default:
				log.Error().
					Err(err).
					Str("organization_id", snap.Organization.ID.String()).
					Str("plan_id", req.PlanID).
					Msg("Failed to start checkout")
				apperrors.WriteServiceUnavailable(w, r, "Could not start checkout. Please try again.")
			}
			return
		}

		orgID := snap.Organization.ID
		userID := snap.UserID
		auditor.LogBestEffort(ctx, audit.LogParams{
			OrgID:       &orgID,
			ActorUserID: &userID,
			Action:      audit.EventCheckoutStarted,
			Meta: map[string]interface{}{
				"plan_id":        req.PlanID,
				"billing_period": req.BillingPeriod,
			},
		})

		apperrors.WriteSuccess(w, r, http.StatusOK, result)
	}
}

// HandlePortal handles POST /api/stripe/portal
func HandlePortal(orch *Orchestrator, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		snap, ok := requireBillingAdmin(w, r)
		if !ok {
			return
		}

		url, err := orch.Portal(ctx, snap.Organization)
		if err != nil {
			switch {
			case errors.Is(err, ErrNoBillingAccount):
				apperrors.WriteBadRequest(w, r, "No billing account exists yet. Choose a plan first.")
			case errors.Is(err, ErrPortalNotConfigured):
				apperrors.WriteServiceUnavailable(w, r, "The billing portal is not set up yet. Please contact support.")
			default:
				log.Error().
					Err(err).
					Str("organization_id", snap.Organization.ID.String()).
					Msg("Failed to open billing portal")
				apperrors.WriteServiceUnavailable(w, r, "Could not open the billing portal. Please try again.")
			}
			return
		}

		orgID := snap.Organization.ID
		userID := snap.UserID
		auditor.LogBestEffort(ctx, audit.LogParams{
			OrgID:       &orgID,
			ActorUserID: &userID,
			Action:      audit.EventPortalOpened,
		})

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"url": url,
		})
	}
}
