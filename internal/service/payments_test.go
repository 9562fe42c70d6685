package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/paycore/internal/domain"
)

func TestRequestPayment(t *testing.T) {
	f := newFixture(t)
	deps := f.deps
	deps.NewID = nil
	payments := NewPayments(deps)

	out, err := payments.Request(f.ctx, f.auth, PaymentRequest{
		Amount: 5000,
		Email:  "grace@example.com",
	})
	require.NoError(t, err)
	assert.Regexp(t, `^TRX_[0-9A-F]{10}$`, out.Intent.Reference)
	assert.Equal(t, "NGN", out.Intent.Currency)
	assert.Equal(t, domain.BearerMerchant, out.Intent.Bearer)
	assert.Equal(t, domain.ModeTest, out.Intent.Mode)
	assert.Equal(t, domain.PaymentInitiated, out.Intent.Status)

	again, err := payments.Request(f.ctx, f.auth, PaymentRequest{Amount: 7000, Email: "grace@example.com"})
	require.NoError(t, err)
	assert.Equal(t, out.Customer.ID, again.Customer.ID, "customer is matched by email")
	assert.NotEqual(t, out.Intent.Reference, again.Intent.Reference)

	_, err = payments.Request(f.ctx, f.auth, PaymentRequest{Amount: 7000, Email: "x@example.com", Reference: out.Intent.Reference})
	require.ErrorIs(t, err, domain.ErrPrecondition)
}

func TestGeneratedReferenceShape(t *testing.T) {
	f := newFixture(t)
	deps := f.deps
	deps.NewID = func() string { return "3f2a9c1e-77b0-4d2e-9a51-0c6b8e4d1f20" }

	out, err := NewPayments(deps).Request(f.ctx, f.auth, PaymentRequest{Amount: 5000, Email: "grace@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "TRX_3F2A9C1E77", out.Intent.Reference)
}

func TestRequestPaymentValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		req  PaymentRequest
	}{
		{"amount below minimum", PaymentRequest{Amount: 99, Email: "a@example.com"}},
		{"no contact", PaymentRequest{Amount: 1000}},
		{"unknown bearer", PaymentRequest{Amount: 1000, Email: "a@example.com", Bearer: "platform"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.payments.Request(f.ctx, f.auth, tt.req)
			assert.ErrorIs(t, err, domain.ErrPrecondition)
		})
	}

	unknown := f.auth
	unknown.BusinessID = 999
	_, err := f.payments.Request(f.ctx, unknown, PaymentRequest{Amount: 1000, Email: "a@example.com"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLookupAndTransaction(t *testing.T) {
	f := newFixture(t)
	f.request("REF_VIEW", 10000, domain.BearerMerchant)

	_, err := f.payments.Transaction(f.ctx, f.auth, "REF_VIEW")
	require.ErrorIs(t, err, domain.ErrNotFound, "no transaction before settlement")

	_, err = f.authorizer.Authorize(f.ctx, f.auth, "REF_VIEW", domain.ChannelCard, nil)
	require.NoError(t, err)

	details, err := f.payments.Lookup(f.ctx, f.auth, "REF_VIEW")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentSuccess, details.Intent.Status)
	assert.Equal(t, "ada@example.com", details.Customer.Email)
	assert.Len(t, details.Attempts, 1)

	live := f.auth
	live.Mode = domain.ModeLive
	_, err = f.payments.Lookup(f.ctx, live, "REF_VIEW")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	txn, err := f.payments.Transaction(f.ctx, f.auth, "REF_VIEW")
	require.NoError(t, err)
	assert.Len(t, txn.Entries, 8)
	var sum int64
	for _, e := range txn.Entries {
		sum += e.Amount
	}
	assert.Zero(t, sum)
}

func TestAccountStatement(t *testing.T) {
	f := newFixture(t)
	f.request("REF_ACCT", 10000, domain.BearerMerchant)
	_, err := f.authorizer.Authorize(f.ctx, f.auth, "REF_ACCT", domain.ChannelCard, nil)
	require.NoError(t, err)

	wallet, err := f.store.GetOrCreateLedgerAccount(f.ctx, domain.BusinessHolder(f.auth.BusinessID), domain.AccountBusinessWallet, "NGN")
	require.NoError(t, err)

	st, err := f.payments.Account(f.ctx, f.auth, wallet.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(9750), st.Computed)
	assert.Equal(t, int64(9750), st.Account.Balance)
	assert.Zero(t, st.Drift())

	entries, err := f.payments.AccountEntries(f.ctx, f.auth, wallet.ID, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	revenue, err := f.store.GetOrCreateLedgerAccount(f.ctx, domain.SystemHolder(), domain.AccountPlatformFeeRevenue, "NGN")
	require.NoError(t, err)
	_, err = f.payments.Account(f.ctx, f.auth, revenue.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound, "only the business's own accounts are visible")

	_, err = f.payments.AccountEntries(f.ctx, f.auth, 424242, 10)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
