package tenant

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/shelfmark/shelfmark/internal/apperrors"
	"github.com/shelfmark/shelfmark/internal/audit"
	"github.com/shelfmark/shelfmark/internal/auth"
	"github.com/shelfmark/shelfmark/internal/platform"
	"github.com/shelfmark/shelfmark/internal/validation"
)

// ContextResponse is the public tenant contract consumed by every page.
type ContextResponse struct {
	State               string                    `json:"state"`
	CurrentOrganization *platform.Organization    `json:"current_organization"`
	CurrentRole         *Role                     `json:"current_role"`
	Capabilities        Capabilities              `json:"capabilities"`
	Organizations       []platform.DirectoryEntry `json:"organizations"`
	Stats               *platform.OrgStats        `json:"stats"`
}

func contextResponse(snap Snapshot) ContextResponse {
	resp := ContextResponse{
		State:         snap.State.String(),
		Organizations: snap.Organizations,
		Capabilities:  snap.Capabilities,
		Stats:         snap.Stats,
	}
	if snap.State == StateResolved {
		resp.CurrentOrganization = snap.Organization
		role := snap.Role
		resp.CurrentRole = &role
	}
	return resp
}

// HandleGetContext handles GET /api/v1/tenant
func HandleGetContext(m *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		tc := m.Acquire(auth.GetUserID(ctx))

		if err := tc.EnsureResolved(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to resolve tenant context")
			apperrors.WriteServiceUnavailable(w, r, "Could not load your organizations. Please try again.")
			return
		}

		// Stats are best effort here; the page can request them explicitly.
		if _, err := tc.Stats(ctx, false); err != nil {
			log.Warn().Err(err).Msg("Failed to load organization stats")
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, contextResponse(tc.Snapshot()))
	}
}

// HandleListOrganizations handles GET /api/v1/tenant/organizations.
// Re-consults the directory so membership changes show up without sign-out.
func HandleListOrganizations(m *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		tc := m.Acquire(auth.GetUserID(ctx))

		if err := tc.Refresh(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to refresh organizations")
			apperrors.WriteServiceUnavailable(w, r, "Could not load your organizations. Please try again.")
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"organizations": tc.Snapshot().Organizations,
		})
	}
}

// SwitchRequest is the request to change the current organization.
type SwitchRequest struct {
	OrganizationID uuid.UUID `json:"organization_id"`
}

// HandleSwitch handles POST /api/v1/tenant/switch
func HandleSwitch(m *Manager, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)
		tc := m.Acquire(userID)

		var req SwitchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}
		if req.OrganizationID == uuid.Nil {
			apperrors.WriteBadRequest(w, r, "organization_id is required")
			return
		}

		if err := tc.Switch(ctx, req.OrganizationID); err != nil {
			if errors.Is(err, platform.ErrNotAMember) {
				apperrors.WriteForbidden(w, r, "You are not a member of that organization")
				return
			}
			log.Error().
				Err(err).
				Str("organization_id", req.OrganizationID.String()).
				Msg("Failed to switch organization")
			apperrors.WriteServiceUnavailable(w, r, "Could not switch organizations. Please try again.")
			return
		}

		// The stats cache is owned by the context; a tenant switch always
		// refreshes it rather than leaving that to individual pages.
		if _, err := tc.Stats(ctx, true); err != nil {
			log.Warn().Err(err).Msg("Failed to refresh stats after switch")
		}

		auditor.LogBestEffort(ctx, audit.LogParams{
			OrgID:       &req.OrganizationID,
			ActorUserID: &userID,
			Action:      audit.EventOrgSwitched,
		})

		apperrors.WriteSuccess(w, r, http.StatusOK, contextResponse(tc.Snapshot()))
	}
}

// CreateOrgRequest is the request to create an organization.
type CreateOrgRequest struct {
	Name         string `json:"name"`
	Slug         string `json:"slug"`
	Description  string `json:"description"`
	ContactEmail string `json:"contact_email"`
}

// HandleCreateOrganization handles POST /api/v1/tenant/organizations
func HandleCreateOrganization(m *Manager, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)
		tc := m.Acquire(userID)

		var req CreateOrgRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		if req.Name == "" {
			apperrors.WriteBadRequest(w, r, "Organization name is required")
			return
		}
		if req.Slug == "" {
			apperrors.WriteBadRequest(w, r, "Organization slug is required")
			return
		}

		req.Slug = validation.NormalizeSlug(req.Slug)
		if err := validation.ValidateSlug(req.Slug); err != nil {
			apperrors.WriteBadRequest(w, r, err.Error())
			return
		}
		if req.ContactEmail != "" {
			email, err := validation.NormalizeEmail(req.ContactEmail)
			if err != nil {
				apperrors.WriteBadRequest(w, r, err.Error())
				return
			}
			req.ContactEmail = email
		}

		result, err := tc.CreateOrganization(ctx, req.Name, req.Slug, req.Description, req.ContactEmail)
		if err != nil && result == nil {
			if errors.Is(err, platform.ErrSlugTaken) {
				apperrors.WriteConflict(w, r, "That slug is already in use. Please choose another.")
				return
			}
			log.Error().Err(err).Msg("Failed to create organization")
			apperrors.WriteInternalError(w, r, "Failed to create organization")
			return
		}
		if err != nil {
			// Created, but the local refresh lagged; the client's next
			// request will see the new organization as current.
			log.Warn().Err(err).Msg("Organization created with stale context")
		}

		auditor.LogBestEffort(ctx, audit.LogParams{
			OrgID:       &result.OrganizationID,
			ActorUserID: &userID,
			Action:      audit.EventOrgCreated,
			Meta:        map[string]interface{}{"slug": result.Slug},
		})

		apperrors.WriteSuccess(w, r, http.StatusCreated, map[string]any{
			"organization_id": result.OrganizationID,
			"slug":            result.Slug,
			"context":         contextResponse(tc.Snapshot()),
		})
	}
}

// HandleGetStats handles GET /api/v1/tenant/stats
func HandleGetStats(m *Manager) http.HandlerFunc {
	return statsHandler(m, false)
}

// HandleRefreshStats handles POST /api/v1/tenant/stats/refresh
func HandleRefreshStats(m *Manager) http.HandlerFunc {
	return statsHandler(m, true)
}

func statsHandler(m *Manager, force bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		tc := m.Acquire(auth.GetUserID(ctx))

		if err := tc.EnsureResolved(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to resolve tenant context")
			apperrors.WriteServiceUnavailable(w, r, "Could not load your organizations. Please try again.")
			return
		}

		stats, err := tc.Stats(ctx, force)
		if err != nil {
			log.Error().Err(err).Msg("Failed to load organization stats")
			apperrors.WriteServiceUnavailable(w, r, "Could not load usage statistics. Please try again.")
			return
		}

		// stats is null when there is no current organization; the feature
		// is inert rather than an error in that case.
		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"stats": stats,
		})
	}
}
