package platform

import (
	"time"

	"github.com/google/uuid"
)

// DirectoryEntry is one row of get_user_organizations: an organization the
// principal belongs to, with their role there. At most one entry per
// principal has IsCurrent set.
type DirectoryEntry struct {
	OrganizationID     uuid.UUID `json:"organization_id"`
	Name               string    `json:"name"`
	Slug               string    `json:"slug"`
	LogoURL            string    `json:"logo_url"`
	Role               string    `json:"role"`
	SubscriptionPlan   string    `json:"subscription_plan"`
	SubscriptionStatus string    `json:"subscription_status"`
	IsCurrent          bool      `json:"is_current"`
	JoinedAt           time.Time `json:"joined_at"`
}

// Organization is the full organization row, including quota, subscription
// and billing identifiers. Authoritative storage is the platform; this tier
// never mutates it outside the exposed procedures and billing-customer
// persistence.
type Organization struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Slug         string    `json:"slug"`
	Description  string    `json:"description"`
	LogoURL      string    `json:"logo_url"`
	ContactEmail string    `json:"contact_email"`

	MaxBooks        int `json:"max_books"`
	MaxUsers        int `json:"max_users"`
	MaxLoansPerUser int `json:"max_loans_per_user"`

	SubscriptionPlan   string     `json:"subscription_plan"`
	SubscriptionStatus string     `json:"subscription_status"`
	CurrentPeriodEnd   *time.Time `json:"current_period_end"`
	TrialEndsAt        *time.Time `json:"trial_ends_at"`
	CancelAtPeriodEnd  bool       `json:"cancel_at_period_end"`

	StripeCustomerID     string `json:"-"`
	StripeSubscriptionID string `json:"-"`

	CreatedAt time.Time `json:"created_at"`
}

// OrgStats are the aggregate counts returned by get_organization_stats.
type OrgStats struct {
	TotalBooks        int `json:"total_books"`
	TotalMembers      int `json:"total_members"`
	ActiveLoans       int `json:"active_loans"`
	OverdueLoans      int `json:"overdue_loans"`
	TotalReservations int `json:"total_reservations"`
	BooksQuota        int `json:"books_quota"`
	UsersQuota        int `json:"users_quota"`
}

// DashboardStats are the per-user counts returned by get_user_dashboard_stats.
type DashboardStats struct {
	TotalBooks    int `json:"total_books"`
	BorrowedBooks int `json:"borrowed_books"`
	OverdueBooks  int `json:"overdue_books"`
	Reservations  int `json:"reservations"`
}

// CreateOrgResult is the success payload of create_organization.
type CreateOrgResult struct {
	OrganizationID uuid.UUID `json:"organization_id"`
	Slug           string    `json:"slug"`
}

// LoanResult is the success payload of borrow_book.
type LoanResult struct {
	LoanID  uuid.UUID  `json:"loan_id"`
	DueDate *time.Time `json:"due_date"`
}

// ReturnResult is the success payload of return_book.
type ReturnResult struct {
	FineAmount float64 `json:"fine_amount"`
}

// ReservationResult is the success payload of reserve_book.
type ReservationResult struct {
	ReservationID uuid.UUID `json:"reservation_id"`
	QueuePosition int       `json:"queue_position"`
}

// InviteResult is the success payload of invite_to_organization. The token is
// minted by the platform and only ever leaves this tier inside the
// invitation email.
type InviteResult struct {
	InvitationID uuid.UUID `json:"invitation_id"`
	Token        string    `json:"token"`
}

// AcceptResult is the success payload of accept_invitation.
type AcceptResult struct {
	OrganizationID uuid.UUID `json:"organization_id"`
}

// InviteEmail is everything needed to deliver an invitation email.
type InviteEmail struct {
	InvitationID uuid.UUID
	Email        string
	Role         string
	Message      string
	Token        string
	OrgName      string
	InviterName  string
	ExpiresAt    time.Time
}

// Profile is the denormalized profile record kept in sync best-effort after
// every authentication change.
type Profile struct {
	UserID   uuid.UUID
	Email    string
	Username string
	FullName string
}
