package billing

import (
	"errors"
	"strings"

	"github.com/stripe/stripe-go/v81"
)

var (
	// ErrFreePlan means the requested plan has no paid counterpart; checkout
	// is a no-op for it.
	ErrFreePlan = errors.New("the free plan does not require checkout")

	// ErrAlreadySubscribed means the organization already carries an active
	// or trialing subscription and must use the portal instead.
	ErrAlreadySubscribed = errors.New("organization already has an active subscription")

	// ErrNoBillingAccount means no payment processor customer exists yet, so
	// the portal cannot be opened.
	ErrNoBillingAccount = errors.New("organization has no billing account")

	// ErrPortalNotConfigured means the processor's customer portal has no
	// saved configuration in this mode.
	ErrPortalNotConfigured = errors.New("billing portal is not configured")
)

// isCurrencyMismatch reports whether the processor rejected a checkout
// because the customer's past charges used a different currency. There is no
// structured code for this failure, so the message text is the only signal.
func isCurrencyMismatch(err error) bool {
	var sErr *stripe.Error
	if !errors.As(err, &sErr) {
		return false
	}
	return strings.Contains(strings.ToLower(sErr.Msg), "cannot combine currencies")
}

// isMissingCustomer reports whether the processor no longer knows the
// customer id we stored, which happens after key rotation between test and
// live modes.
func isMissingCustomer(err error) bool {
	var sErr *stripe.Error
	if !errors.As(err, &sErr) {
		return false
	}
	return sErr.Code == stripe.ErrorCodeResourceMissing && sErr.Param == "customer"
}

// isPortalNotConfigured reports whether the customer portal has never been
// configured in the processor dashboard. Structured codes are checked first,
// with a message fallback for older API versions.
func isPortalNotConfigured(err error) bool {
	var sErr *stripe.Error
	if !errors.As(err, &sErr) {
		return false
	}
	if sErr.Type != stripe.ErrorTypeInvalidRequest {
		return false
	}
	msg := strings.ToLower(sErr.Msg)
	return strings.Contains(msg, "no configuration provided") ||
		strings.Contains(msg, "default configuration has not been created")
}
