package billing

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81"
)

func TestIsCurrencyMismatch(t *testing.T) {
	err := &stripe.Error{
		Type: stripe.ErrorTypeInvalidRequest,
		Msg:  "You cannot combine currencies on a single customer. This customer has had a payment in eur.",
	}
	require.True(t, isCurrencyMismatch(err))

	// Only structured processor errors count; matching free text from other
	// sources would misclassify unrelated failures.
	require.False(t, isCurrencyMismatch(errors.New("cannot combine currencies")))
	require.False(t, isCurrencyMismatch(&stripe.Error{Msg: "No such price"}))
	require.False(t, isCurrencyMismatch(nil))
}

func TestIsMissingCustomer(t *testing.T) {
	require.True(t, isMissingCustomer(&stripe.Error{
		Code:  stripe.ErrorCodeResourceMissing,
		Param: "customer",
	}))
	require.False(t, isMissingCustomer(&stripe.Error{
		Code:  stripe.ErrorCodeResourceMissing,
		Param: "price",
	}))
	require.False(t, isMissingCustomer(errors.New("plain error")))
}

func TestIsPortalNotConfigured(t *testing.T) {
	require.True(t, isPortalNotConfigured(&stripe.Error{
		Type: stripe.ErrorTypeInvalidRequest,
		Msg:  "No configuration provided and your test mode default configuration has not been created.",
	}))
	require.False(t, isPortalNotConfigured(&stripe.Error{
		Type: stripe.ErrorTypeAPI,
		Msg:  "No configuration provided",
	}))
	require.False(t, isPortalNotConfigured(&stripe.Error{
		Type: stripe.ErrorTypeInvalidRequest,
		Msg:  "No such customer",
	}))
}
