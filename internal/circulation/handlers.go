// Package circulation exposes the loan flow: borrow, return, reserve, and
// the per-user dashboard counts. All quota and availability rules live in the
// data platform; this package decides only who may act for whom.
package circulation

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/shelfmark/shelfmark/internal/apperrors"
	"github.com/shelfmark/shelfmark/internal/audit"
	"github.com/shelfmark/shelfmark/internal/auth"
	"github.com/shelfmark/shelfmark/internal/platform"
	"github.com/shelfmark/shelfmark/internal/tenant"
)

// BorrowRequest is the payload for checking a book out. UserID is optional:
// empty means self-borrow, anything else requires book-management rights.
type BorrowRequest struct {
	BookID  uuid.UUID  `json:"book_id"`
	UserID  uuid.UUID  `json:"user_id"`
	DueDate *time.Time `json:"due_date"`
}

// actingOnOther reports whether the request targets a different principal.
func actingOnOther(actor, target uuid.UUID) bool {
	return target != uuid.Nil && target != actor
}

// writeCirculationError maps platform rejections onto the HTTP contract. The
// platform's codes are stable; anything unrecognized is a plain failure.
func writeCirculationError(w http.ResponseWriter, r *http.Request, err error, action string) {
	switch platform.ErrorCode(err) {
	case "book_not_available":
		apperrors.WriteConflict(w, r, "This book is not available right now")
	case "loan_limit_reached":
		apperrors.WriteConflict(w, r, "The loan limit for this member has been reached")
	case "already_borrowed":
		apperrors.WriteConflict(w, r, "This book is already checked out to that member")
	case "already_reserved":
		apperrors.WriteConflict(w, r, "This book is already reserved by that member")
	case "loan_not_found":
		apperrors.WriteNotFound(w, r, "Loan not found")
	case "book_not_found":
		apperrors.WriteNotFound(w, r, "Book not found")
	case "not_a_member":
		apperrors.WriteForbidden(w, r, "That person is not a member of this organization")
	case "forbidden", "insufficient_permissions":
		apperrors.WriteForbidden(w, r, "You don't have permission to do that")
	default:
		log.Error().Err(err).Msg("Circulation " + action + " failed")
		apperrors.WriteInternalError(w, r, "The request could not be completed. Please try again.")
	}
}

// HandleBorrow handles POST /api/v1/loans
func HandleBorrow(store *platform.Client, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)
		snap := tenant.FromContext(ctx).Snapshot()
		orgID := snap.Organization.ID

		var req BorrowRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}
		if req.BookID == uuid.Nil {
			apperrors.WriteBadRequest(w, r, "book_id is required")
			return
		}

		// Members check books out for themselves; checking one out for
		// someone else is a desk operation.
		if actingOnOther(userID, req.UserID) && !snap.Capabilities.CanManageBooks {
			apperrors.WriteForbidden(w, r, "Only librarians can manage books")
			return
		}

		result, err := store.BorrowBook(ctx, userID, orgID, req.BookID, req.UserID, req.DueDate)
		if err != nil {
			writeCirculationError(w, r, err, "borrow")
			return
		}

		auditor.LogBestEffort(ctx, audit.LogParams{
			OrgID:       &orgID,
			ActorUserID: &userID,
			Action:      audit.EventBookBorrowed,
			Meta: map[string]interface{}{
				"book_id": req.BookID.String(),
				"loan_id": result.LoanID.String(),
			},
		})

		apperrors.WriteSuccess(w, r, http.StatusCreated, result)
	}
}

// ReturnRequest is the payload for closing a loan.
type ReturnRequest struct {
	LoanID uuid.UUID `json:"loan_id"`
}

// HandleReturn handles POST /api/v1/loans/return. Librarian-gated by the
// router: returns happen at the desk, not in the member's browser.
func HandleReturn(store *platform.Client, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)
		snap := tenant.FromContext(ctx).Snapshot()
		orgID := snap.Organization.ID

		var req ReturnRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}
		if req.LoanID == uuid.Nil {
			apperrors.WriteBadRequest(w, r, "loan_id is required")
			return
		}

		result, err := store.ReturnBook(ctx, userID, req.LoanID, orgID)
		if err != nil {
			writeCirculationError(w, r, err, "return")
			return
		}

		auditor.LogBestEffort(ctx, audit.LogParams{
			OrgID:       &orgID,
			ActorUserID: &userID,
			Action:      audit.EventBookReturned,
			Meta: map[string]interface{}{
				"loan_id": req.LoanID.String(),
			},
		})

		apperrors.WriteSuccess(w, r, http.StatusOK, result)
	}
}

// ReserveRequest is the payload for placing a reservation.
type ReserveRequest struct {
	BookID uuid.UUID `json:"book_id"`
	UserID uuid.UUID `json:"user_id"`
}

// HandleReserve handles POST /api/v1/reservations
func HandleReserve(store *platform.Client, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)
		snap := tenant.FromContext(ctx).Snapshot()
		orgID := snap.Organization.ID

		var req ReserveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}
		if req.BookID == uuid.Nil {
			apperrors.WriteBadRequest(w, r, "book_id is required")
			return
		}
		if actingOnOther(userID, req.UserID) && !snap.Capabilities.CanManageBooks {
			apperrors.WriteForbidden(w, r, "Only librarians can manage books")
			return
		}

		result, err := store.ReserveBook(ctx, userID, orgID, req.BookID, req.UserID)
		if err != nil {
			writeCirculationError(w, r, err, "reserve")
			return
		}

		auditor.LogBestEffort(ctx, audit.LogParams{
			OrgID:       &orgID,
			ActorUserID: &userID,
			Action:      audit.EventBookReserved,
			Meta: map[string]interface{}{
				"book_id":        req.BookID.String(),
				"reservation_id": result.ReservationID.String(),
			},
		})

		apperrors.WriteSuccess(w, r, http.StatusCreated, result)
	}
}

// HandleDashboard handles GET /api/v1/dashboard: the per-user counts shown
// on the landing page. An optional user_id query targets another member and
// requires book-management rights.
func HandleDashboard(store *platform.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)
		snap := tenant.FromContext(ctx).Snapshot()
		orgID := snap.Organization.ID

		target := uuid.Nil
		if raw := r.URL.Query().Get("user_id"); raw != "" {
			parsed, err := uuid.Parse(raw)
			if err != nil {
				apperrors.WriteBadRequest(w, r, "user_id must be a UUID")
				return
			}
			target = parsed
		}
		if actingOnOther(userID, target) && !snap.Capabilities.CanManageBooks {
			apperrors.WriteForbidden(w, r, "Only librarians can manage books")
			return
		}

		stats, err := store.UserDashboardStats(ctx, userID, orgID, target)
		if err != nil {
			log.Error().Err(err).Msg("Failed to load dashboard stats")
			apperrors.WriteServiceUnavailable(w, r, "Could not load your dashboard. Please try again.")
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"stats": stats,
		})
	}
}
