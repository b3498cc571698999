package platform

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// OrganizationStats fetches aggregate counts for an organization.
func (c *Client) OrganizationStats(ctx context.Context, orgID uuid.UUID) (*OrgStats, error) {
	var stats OrgStats

	err := c.pool.QueryRow(ctx, `
		SELECT total_books, total_members, active_loans, overdue_loans,
		       total_reservations, books_quota, users_quota
		FROM get_organization_stats($1)
	`, orgID).Scan(
		&stats.TotalBooks,
		&stats.TotalMembers,
		&stats.ActiveLoans,
		&stats.OverdueLoans,
		&stats.TotalReservations,
		&stats.BooksQuota,
		&stats.UsersQuota,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrgNotFound
		}
		return nil, fmt.Errorf("get_organization_stats failed: %w", err)
	}

	return &stats, nil
}

// UserDashboardStats fetches the per-user dashboard counts for an
// organization. userID may be uuid.Nil to let the platform default to the
// pinned caller.
func (c *Client) UserDashboardStats(ctx context.Context, callerID, orgID, userID uuid.UUID) (*DashboardStats, error) {
	var stats DashboardStats

	var target *uuid.UUID
	if userID != uuid.Nil {
		target = &userID
	}

	err := c.asUser(ctx, callerID, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			SELECT total_books, borrowed_books, overdue_books, reservations
			FROM get_user_dashboard_stats($1, $2)
		`, orgID, target).Scan(
			&stats.TotalBooks,
			&stats.BorrowedBooks,
			&stats.OverdueBooks,
			&stats.Reservations,
		)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrOrgNotFound
			}
			return fmt.Errorf("get_user_dashboard_stats failed: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &stats, nil
}
