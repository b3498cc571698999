package platform

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// BorrowBook checks a book out for a user. userID may be uuid.Nil for
// self-borrow; dueDate may be nil to let the platform apply the plan default.
// Quota enforcement (loans per user, plan limits) happens inside the proc.
func (c *Client) BorrowBook(ctx context.Context, callerID, orgID, bookID, userID uuid.UUID, dueDate *time.Time) (*LoanResult, error) {
	var result LoanResult

	var target *uuid.UUID
	if userID != uuid.Nil {
		target = &userID
	}

	err := c.callProc(ctx, callerID, "borrow_book",
		`SELECT borrow_book($1, $2, $3, $4)`, &result,
		orgID, bookID, target, dueDate)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// ReturnBook closes a loan. Overdue fines are computed by the platform and
// reported back in the result.
func (c *Client) ReturnBook(ctx context.Context, callerID, loanID, orgID uuid.UUID) (*ReturnResult, error) {
	var result ReturnResult

	var org *uuid.UUID
	if orgID != uuid.Nil {
		org = &orgID
	}

	err := c.callProc(ctx, callerID, "return_book",
		`SELECT return_book($1, $2)`, &result,
		loanID, org)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// ReserveBook places a reservation for a user. userID may be uuid.Nil for
// self-reservation.
func (c *Client) ReserveBook(ctx context.Context, callerID, orgID, bookID, userID uuid.UUID) (*ReservationResult, error) {
	var result ReservationResult

	var target *uuid.UUID
	if userID != uuid.Nil {
		target = &userID
	}

	err := c.callProc(ctx, callerID, "reserve_book",
		`SELECT reserve_book($1, $2, $3)`, &result,
		orgID, bookID, target)
	if err != nil {
		return nil, err
	}
	return &result, nil
}
