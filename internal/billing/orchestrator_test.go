package billing

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81"
	stripeclient "github.com/stripe/stripe-go/v81/client"
	"github.com/stripe/stripe-go/v81/form"

	"github.com/shelfmark/shelfmark/internal/platform"
)

type fakeStore struct {
	prices       map[string]string
	priceErr     error
	customers    map[uuid.UUID]string
	setCustomerN int
}

func (f *fakeStore) SetBillingCustomer(ctx context.Context, orgID uuid.UUID, customerID string) error {
	if f.customers == nil {
		f.customers = make(map[uuid.UUID]string)
	}
	f.customers[orgID] = customerID
	f.setCustomerN++
	return nil
}

func (f *fakeStore) PlanPrice(ctx context.Context, planID, billingPeriod string) (string, error) {
	if f.priceErr != nil {
		return "", f.priceErr
	}
	price, ok := f.prices[planID+"/"+billingPeriod]
	if !ok {
		return "", platform.ErrPlanNotFound
	}
	return price, nil
}

func testOrg(status string) *platform.Organization {
	return &platform.Organization{
		ID:                 uuid.New(),
		Name:               "City Library",
		SubscriptionStatus: status,
	}
}

func TestCheckout_FreePlanIsNoOp(t *testing.T) {
	orch := NewOrchestrator("sk_test_x", &fakeStore{}, "https://app.example.com", "free")

	_, err := orch.Checkout(context.Background(), testOrg("canceled"), "admin@example.com", "free", "monthly")
	require.ErrorIs(t, err, ErrFreePlan)
}

func TestCheckout_AlreadySubscribed(t *testing.T) {
	orch := NewOrchestrator("sk_test_x", &fakeStore{}, "https://app.example.com", "free")

	for _, status := range []string{"active", "trialing", "trial"} {
		_, err := orch.Checkout(context.Background(), testOrg(status), "admin@example.com", "pro", "monthly")
		require.ErrorIs(t, err, ErrAlreadySubscribed, status)
	}
}

func TestCheckout_UnknownPlan(t *testing.T) {
	orch := NewOrchestrator("sk_test_x", &fakeStore{}, "https://app.example.com", "free")

	_, err := orch.Checkout(context.Background(), testOrg("canceled"), "admin@example.com", "no-such-plan", "monthly")
	require.ErrorIs(t, err, platform.ErrPlanNotFound)
}

func TestPortal_NoBillingAccount(t *testing.T) {
	orch := NewOrchestrator("sk_test_x", &fakeStore{}, "https://app.example.com", "free")

	_, err := orch.Portal(context.Background(), testOrg("canceled"))
	require.ErrorIs(t, err, ErrNoBillingAccount)
}

// fakeBackend answers the processor calls the orchestrator makes: customer
// creation and checkout session creation. Session calls fail with the error
// queued for their ordinal; everything else succeeds with generated ids.
type fakeBackend struct {
	mu               sync.Mutex
	sessionErrs      []error
	sessionCalls     int
	sessionCustomers []string
	customerCalls    int
}

func (b *fakeBackend) Call(method, path, key string, params stripe.ParamsContainer, v stripe.LastResponseSetter) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case strings.HasSuffix(path, "/checkout/sessions"):
		b.sessionCalls++
		if p, ok := params.(*stripe.CheckoutSessionParams); ok && p.Customer != nil {
			b.sessionCustomers = append(b.sessionCustomers, *p.Customer)
		}
		if n := b.sessionCalls; n <= len(b.sessionErrs) && b.sessionErrs[n-1] != nil {
			return b.sessionErrs[n-1]
		}
		sess := v.(*stripe.CheckoutSession)
		sess.ID = fmt.Sprintf("cs_test_%d", b.sessionCalls)
		sess.URL = "https://checkout.example.com/" + sess.ID
		return nil
	case strings.HasSuffix(path, "/customers"):
		b.customerCalls++
		cust := v.(*stripe.Customer)
		cust.ID = fmt.Sprintf("cus_new_%d", b.customerCalls)
		return nil
	}
	return fmt.Errorf("unexpected processor call: %s %s", method, path)
}

func (b *fakeBackend) CallStreaming(method, path, key string, params stripe.ParamsContainer, v stripe.StreamingLastResponseSetter) error {
	return fmt.Errorf("unexpected streaming call: %s %s", method, path)
}

func (b *fakeBackend) CallRaw(method, path, key string, body *form.Values, params *stripe.Params, v stripe.LastResponseSetter) error {
	return fmt.Errorf("unexpected raw call: %s %s", method, path)
}

func (b *fakeBackend) CallMultipart(method, path, key, boundary string, body *bytes.Buffer, params *stripe.Params, v stripe.LastResponseSetter) error {
	return fmt.Errorf("unexpected multipart call: %s %s", method, path)
}

func (b *fakeBackend) SetMaxNetworkRetries(maxNetworkRetries int64) {}

func testOrchestrator(store Store, backend stripe.Backend) *Orchestrator {
	api := &stripeclient.API{}
	api.Init("sk_test_x", &stripe.Backends{API: backend, Connect: backend, Uploads: backend})
	return &Orchestrator{
		api:        api,
		store:      store,
		appOrigin:  "https://app.example.com",
		freePlanID: "free",
	}
}

func currencyMismatchErr() error {
	return &stripe.Error{
		Type: stripe.ErrorTypeInvalidRequest,
		Msg:  "Customer cus_old has existing subscriptions and cannot combine currencies: eur, usd",
	}
}

func subscribedOrg(customerID string) *platform.Organization {
	org := testOrg("canceled")
	org.StripeCustomerID = customerID
	return org
}

func TestCheckout_ExistingCustomer(t *testing.T) {
	store := &fakeStore{prices: map[string]string{"pro/monthly": "price_pro_m"}}
	backend := &fakeBackend{}
	orch := testOrchestrator(store, backend)

	result, err := orch.Checkout(context.Background(), subscribedOrg("cus_old"), "admin@example.com", "pro", "monthly")
	require.NoError(t, err)
	require.Equal(t, "cs_test_1", result.SessionID)
	require.Equal(t, "https://checkout.example.com/cs_test_1", result.URL)

	require.Equal(t, []string{"cus_old"}, backend.sessionCustomers)
	require.Zero(t, backend.customerCalls, "existing customer must be reused")
	require.Zero(t, store.setCustomerN)
}

func TestCheckout_CurrencyMismatchReplacesCustomerOnce(t *testing.T) {
	store := &fakeStore{prices: map[string]string{"pro/monthly": "price_pro_m"}}
	backend := &fakeBackend{sessionErrs: []error{currencyMismatchErr()}}
	orch := testOrchestrator(store, backend)

	org := subscribedOrg("cus_old")
	result, err := orch.Checkout(context.Background(), org, "admin@example.com", "pro", "monthly")
	require.NoError(t, err)
	require.Equal(t, "cs_test_2", result.SessionID)

	// Exactly one replacement customer, persisted, used for the retry.
	require.Equal(t, 1, backend.customerCalls)
	require.Equal(t, 1, store.setCustomerN)
	require.Equal(t, "cus_new_1", store.customers[org.ID])
	require.Equal(t, []string{"cus_old", "cus_new_1"}, backend.sessionCustomers)
}

func TestCheckout_SecondCurrencyMismatchIsNotRetried(t *testing.T) {
	store := &fakeStore{prices: map[string]string{"pro/monthly": "price_pro_m"}}
	backend := &fakeBackend{sessionErrs: []error{currencyMismatchErr(), currencyMismatchErr()}}
	orch := testOrchestrator(store, backend)

	_, err := orch.Checkout(context.Background(), subscribedOrg("cus_old"), "admin@example.com", "pro", "monthly")
	require.Error(t, err)
	require.True(t, isCurrencyMismatch(err))

	// One replacement, two session attempts, never a loop.
	require.Equal(t, 2, backend.sessionCalls)
	require.Equal(t, 1, backend.customerCalls)
	require.Equal(t, 1, store.setCustomerN)
}

func TestCheckout_OtherProcessorErrorIsNotRetried(t *testing.T) {
	store := &fakeStore{prices: map[string]string{"pro/monthly": "price_pro_m"}}
	backend := &fakeBackend{sessionErrs: []error{&stripe.Error{Type: stripe.ErrorTypeAPI, Msg: "internal error"}}}
	orch := testOrchestrator(store, backend)

	_, err := orch.Checkout(context.Background(), subscribedOrg("cus_old"), "admin@example.com", "pro", "monthly")
	require.Error(t, err)

	require.Equal(t, 1, backend.sessionCalls)
	require.Zero(t, backend.customerCalls)
	require.Zero(t, store.setCustomerN)
}

func TestSubscriptionBlocksCheckout(t *testing.T) {
	require.True(t, subscriptionBlocksCheckout("active"))
	require.True(t, subscriptionBlocksCheckout("trialing"))
	require.True(t, subscriptionBlocksCheckout("trial"))

	require.False(t, subscriptionBlocksCheckout(""))
	require.False(t, subscriptionBlocksCheckout("canceled"))
	require.False(t, subscriptionBlocksCheckout("past_due"))
	require.False(t, subscriptionBlocksCheckout("incomplete"))
}
