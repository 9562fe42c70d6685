package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/paycore/internal/domain"
	"github.com/punchamoorthee/paycore/internal/provider"
	"github.com/punchamoorthee/paycore/internal/provider/providertest"
	"github.com/punchamoorthee/paycore/internal/store"
)

func TestAuthorizeCardSuccessSettles(t *testing.T) {
	f := newFixture(t)
	intent := f.request("REF_1", 10000, domain.BearerMerchant)

	res, err := f.authorizer.Authorize(f.ctx, f.auth, "REF_1", domain.ChannelCard, map[string]any{"number": "4084084084084081"})
	require.NoError(t, err)

	assert.False(t, res.Replayed)
	assert.Equal(t, "", res.Action())
	assert.Equal(t, domain.AuthSuccess, res.Attempt.Status)
	assert.NotNil(t, res.Attempt.CompletedAt)
	assert.Equal(t, int64(250), res.Attempt.Fee)
	assert.Equal(t, int64(50), res.Attempt.ProviderFee)
	assert.Equal(t, int64(10000), res.Attempt.Amount)
	assert.Equal(t, store.CanonicalAttemptKey(intent.ID, domain.ChannelCard), res.Attempt.IdempotencyKey)
	require.NotNil(t, res.Transaction)
	assert.Equal(t, domain.TransactionSuccess, res.Transaction.Status)
	assert.Equal(t, domain.PaymentSuccess, res.Intent.Status)
	assert.Equal(t, domain.PaymentSuccess, f.intent("REF_1").Status)

	assert.Equal(t, int64(10000), f.fake.LastAuthorize.Amount)
	assert.Equal(t, "ada@example.com", f.fake.LastAuthorize.Customer.Email)
	assert.Equal(t, res.Attempt.ProviderReference, f.fake.LastAuthorize.Reference)

	count, sum := f.entries("REF_1")
	assert.Equal(t, int64(8), count)
	assert.Zero(t, sum)

	assert.Equal(t, int64(9750), f.balance(domain.BusinessHolder(f.auth.BusinessID), domain.AccountBusinessWallet))
	assert.Equal(t, int64(250), f.balance(domain.SystemHolder(), domain.AccountPlatformFeeRevenue))
	assert.Equal(t, int64(-10050), f.balance(domain.ProviderHolder(f.provider.ID), domain.AccountProviderClearing))
	assert.Equal(t, 1, f.events.Count())
}

func TestAuthorizeCustomerBearerChargesGross(t *testing.T) {
	f := newFixture(t)
	intent := f.request("REF_CUST", 10000, domain.BearerCustomer)

	res, err := f.authorizer.Authorize(f.ctx, f.auth, "REF_CUST", domain.ChannelCard, nil)
	require.NoError(t, err)

	assert.Equal(t, int64(10250), res.Attempt.Amount)
	assert.Equal(t, int64(10250), f.fake.LastAuthorize.Amount)

	assert.Zero(t, f.balance(domain.CustomerHolder(intent.CustomerID), domain.AccountCustomerWallet))
	assert.Equal(t, int64(10000), f.balance(domain.BusinessHolder(f.auth.BusinessID), domain.AccountBusinessWallet))
	assert.Equal(t, int64(250), f.balance(domain.SystemHolder(), domain.AccountPlatformFeeRevenue))
}

func TestAuthorizeSplitBearerOddFee(t *testing.T) {
	f := newFixture(t)
	// 1.5% of 1400 is 21, plus the fixed 100: fee 121, split 60/61.
	intent := f.request("REF_SPLIT", 1400, domain.BearerSplit)

	res, err := f.authorizer.Authorize(f.ctx, f.auth, "REF_SPLIT", domain.ChannelCard, nil)
	require.NoError(t, err)

	assert.Equal(t, int64(121), res.Attempt.Fee)
	assert.Equal(t, int64(1461), res.Attempt.Amount)
	assert.Equal(t, int64(1400-60), f.balance(domain.BusinessHolder(f.auth.BusinessID), domain.AccountBusinessWallet))
	assert.Zero(t, f.balance(domain.CustomerHolder(intent.CustomerID), domain.AccountCustomerWallet))

	_, sum := f.entries("REF_SPLIT")
	assert.Zero(t, sum)
}

func TestAuthorizeTwiceIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.request("REF_123", 10000, domain.BearerMerchant)

	first, err := f.authorizer.Authorize(f.ctx, f.auth, "REF_123", domain.ChannelCard, nil)
	require.NoError(t, err)
	second, err := f.authorizer.Authorize(f.ctx, f.auth, "REF_123", domain.ChannelCard, nil)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Attempt.ID, second.Attempt.ID)
	require.NotNil(t, second.Transaction)
	assert.Equal(t, first.Transaction.ID, second.Transaction.ID)

	authorizeCalls, _, _ := f.fake.Calls()
	assert.Equal(t, 1, authorizeCalls)
	assert.Len(t, f.attempts("REF_123"), 1)

	count, _ := f.entries("REF_123")
	assert.Equal(t, int64(8), count)
	assert.Equal(t, 1, f.events.Count())
}

func TestAuthorizeConcurrentCallsCreateOneAttempt(t *testing.T) {
	f := newFixture(t)
	f.request("REF_RACE", 5000, domain.BearerMerchant)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.authorizer.Authorize(context.Background(), f.auth, "REF_RACE", domain.ChannelCard, nil)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	authorizeCalls, _, _ := f.fake.Calls()
	assert.Equal(t, 1, authorizeCalls)
	assert.Len(t, f.attempts("REF_RACE"), 1)

	count, sum := f.entries("REF_RACE")
	assert.Equal(t, int64(8), count)
	assert.Zero(t, sum)
}

func TestAuthorizeErrors(t *testing.T) {
	f := newFixture(t)
	f.request("REF_OK", 10000, domain.BearerMerchant)

	_, err := f.authorizer.Authorize(f.ctx, f.auth, "REF_MISSING", domain.ChannelCard, nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	live := f.auth
	live.Mode = domain.ModeLive
	_, err = f.authorizer.Authorize(f.ctx, live, "REF_OK", domain.ChannelCard, nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	other := f.auth
	other.BusinessID = f.auth.BusinessID + 100
	_, err = f.authorizer.Authorize(f.ctx, other, "REF_OK", domain.ChannelCard, nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.authorizer.Authorize(f.ctx, f.auth, "REF_OK", domain.Channel("ussd"), nil)
	assert.ErrorIs(t, err, domain.ErrPrecondition)

	_, err = f.authorizer.Authorize(f.ctx, f.auth, "REF_OK", domain.ChannelCard, nil)
	require.NoError(t, err)

	_, err = f.authorizer.Authorize(f.ctx, f.auth, "REF_OK", domain.ChannelBankTransfer, nil)
	require.ErrorIs(t, err, domain.ErrPrecondition)
	assert.Contains(t, err.Error(), "payment has already been successful")
}

func TestAuthorizeWithoutEligibleProvider(t *testing.T) {
	f := newFixture(t)
	f.request("REF_DOWN", 10000, domain.BearerMerchant)

	down := f.provider
	down.Healthy = false
	_, err := f.store.UpsertProvider(f.ctx, down)
	require.NoError(t, err)

	_, err = f.authorizer.Authorize(f.ctx, f.auth, "REF_DOWN", domain.ChannelCard, nil)
	require.ErrorIs(t, err, domain.ErrProviderUnavailable)
	assert.Empty(t, f.attempts("REF_DOWN"))
	assert.Equal(t, domain.PaymentInitiated, f.intent("REF_DOWN").Status)
}

func TestAuthorizeProviderTimeoutLeavesAttemptPending(t *testing.T) {
	f := newFixture(t)
	f.request("REF_SLOW", 10000, domain.BearerMerchant)

	f.deps.ProviderTimeout = 20 * time.Millisecond
	authorizer := NewAuthorizer(f.deps)
	f.fake.AuthorizeFunc = func(ctx context.Context, _ provider.AuthorizeRequest) (*provider.Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	res, err := authorizer.Authorize(f.ctx, f.auth, "REF_SLOW", domain.ChannelCard, nil)
	require.ErrorIs(t, err, domain.ErrProviderCall)
	assert.Equal(t, domain.AuthPending, res.Attempt.Status)

	attempts := f.attempts("REF_SLOW")
	require.Len(t, attempts, 1)
	assert.Equal(t, domain.AuthPending, attempts[0].Status)
	assert.Nil(t, attempts[0].CompletedAt)
	assert.Equal(t, domain.PaymentInitiated, f.intent("REF_SLOW").Status)

	// A retry returns the pending attempt instead of charging again.
	f.fake.AuthorizeFunc = nil
	again, err := authorizer.Authorize(f.ctx, f.auth, "REF_SLOW", domain.ChannelCard, nil)
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, attempts[0].ID, again.Attempt.ID)
	authorizeCalls, _, _ := f.fake.Calls()
	assert.Equal(t, 1, authorizeCalls)
}

func TestAuthorizeDeclinedFailsPayment(t *testing.T) {
	f := newFixture(t)
	f.request("REF_DECLINE", 10000, domain.BearerMerchant)
	f.fake.AuthorizeFunc = providertest.Respond(domain.AuthFailed)

	res, err := f.authorizer.Authorize(f.ctx, f.auth, "REF_DECLINE", domain.ChannelCard, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.AuthFailed, res.Attempt.Status)
	assert.NotNil(t, res.Attempt.CompletedAt)
	assert.Equal(t, domain.PaymentFailed, f.intent("REF_DECLINE").Status)

	count, _ := f.entries("REF_DECLINE")
	assert.Zero(t, count)

	_, err = f.authorizer.Authorize(f.ctx, f.auth, "REF_DECLINE", domain.ChannelCard, nil)
	assert.ErrorIs(t, err, domain.ErrPrecondition)
	assert.Zero(t, f.events.Count())
}

func TestAuthorizeBankTransferReturnsAccountDetails(t *testing.T) {
	f := newFixture(t)
	f.request("REF_BT", 10000, domain.BearerMerchant)
	f.fake.AuthorizeFunc = func(_ context.Context, req provider.AuthorizeRequest) (*provider.Response, error) {
		return &provider.Response{
			Status:            domain.AuthPendingTransfer,
			ProviderReference: req.Reference,
			BankDetails: &domain.BankDetails{
				AccountNumber: "0123456789",
				BankName:      "Test Bank",
				AccountName:   "Acme Checkout",
			},
		}, nil
	}

	res, err := f.authorizer.Authorize(f.ctx, f.auth, "REF_BT", domain.ChannelBankTransfer, nil)
	require.NoError(t, err)
	assert.Equal(t, "transfer", res.Action())
	require.NotNil(t, res.Attempt.BankDetails)
	assert.Equal(t, "0123456789", res.Attempt.BankDetails.AccountNumber)
	// No bank-transfer fee config exists.
	assert.Zero(t, res.Attempt.Fee)
	assert.Equal(t, domain.PaymentInitiated, f.intent("REF_BT").Status)
}

func TestValidateFlow(t *testing.T) {
	f := newFixture(t)
	f.request("REF_PIN", 10000, domain.BearerMerchant)
	f.fake.AuthorizeFunc = providertest.Respond(domain.AuthPendingPin)

	res, err := f.authorizer.Authorize(f.ctx, f.auth, "REF_PIN", domain.ChannelCard, nil)
	require.NoError(t, err)
	assert.Equal(t, "pin", res.Action())
	providerRef := res.Attempt.ProviderReference

	_, err = f.authorizer.Validate(f.ctx, f.auth, "REF_PIN", provider.ValidateRequest{})
	require.ErrorIs(t, err, domain.ErrPrecondition)
	_, err = f.authorizer.Validate(f.ctx, f.auth, "REF_PIN", provider.ValidateRequest{PIN: "1234", OTP: "1"})
	require.ErrorIs(t, err, domain.ErrPrecondition)

	f.fake.ValidateFunc = func(_ context.Context, ref string, req provider.ValidateRequest) (*provider.Response, error) {
		if req.PIN != "" {
			return &provider.Response{Status: domain.AuthPendingOtp, ProviderReference: ref}, nil
		}
		return &provider.Response{Status: domain.AuthSuccess, ProviderReference: ref}, nil
	}

	res, err = f.authorizer.Validate(f.ctx, f.auth, "REF_PIN", provider.ValidateRequest{PIN: "1234"})
	require.NoError(t, err)
	assert.Equal(t, "otp", res.Action())
	assert.Equal(t, providerRef, res.Attempt.ProviderReference)
	assert.Equal(t, int64(250), res.Attempt.Fee)

	res, err = f.authorizer.Validate(f.ctx, f.auth, "REF_PIN", provider.ValidateRequest{OTP: "123456"})
	require.NoError(t, err)
	assert.Equal(t, domain.AuthSuccess, res.Attempt.Status)
	assert.Equal(t, domain.PaymentSuccess, res.Intent.Status)
	assert.Equal(t, "123456", f.fake.LastValidate.OTP)

	attempts := f.attempts("REF_PIN")
	require.Len(t, attempts, 3)
	for _, a := range attempts {
		assert.Equal(t, domain.AuthSuccess, a.Status, "attempt %d", a.ID)
		assert.NotNil(t, a.CompletedAt, "attempt %d", a.ID)
		assert.Equal(t, providerRef, a.ProviderReference)
	}

	count, sum := f.entries("REF_PIN")
	assert.Equal(t, int64(8), count)
	assert.Zero(t, sum)

	_, err = f.authorizer.Validate(f.ctx, f.auth, "REF_PIN", provider.ValidateRequest{OTP: "123456"})
	require.ErrorIs(t, err, domain.ErrPrecondition)
	assert.Contains(t, err.Error(), "payment has already been successful")
}

func TestValidateWithoutOpenAttempt(t *testing.T) {
	f := newFixture(t)
	f.request("REF_NONE", 10000, domain.BearerMerchant)

	_, err := f.authorizer.Validate(f.ctx, f.auth, "REF_NONE", provider.ValidateRequest{PIN: "1234"})
	require.ErrorIs(t, err, domain.ErrPrecondition)
	assert.Contains(t, err.Error(), "no pending authorization attempt found")
}

func TestValidateProviderErrorKeepsRoundPending(t *testing.T) {
	f := newFixture(t)
	f.request("REF_OTP", 10000, domain.BearerMerchant)
	f.fake.AuthorizeFunc = providertest.Respond(domain.AuthPendingOtp)

	_, err := f.authorizer.Authorize(f.ctx, f.auth, "REF_OTP", domain.ChannelCard, nil)
	require.NoError(t, err)

	f.fake.ValidateFunc = func(context.Context, string, provider.ValidateRequest) (*provider.Response, error) {
		return nil, errors.New("connection reset")
	}
	_, err = f.authorizer.Validate(f.ctx, f.auth, "REF_OTP", provider.ValidateRequest{OTP: "000000"})
	require.ErrorIs(t, err, domain.ErrProviderCall)

	attempts := f.attempts("REF_OTP")
	require.Len(t, attempts, 2)
	assert.Equal(t, domain.AuthPendingOtp, attempts[0].Status)
	assert.Equal(t, domain.AuthPending, attempts[1].Status)
	assert.Equal(t, domain.PaymentInitiated, f.intent("REF_OTP").Status)
}

func TestSettleTxRerunPostsNothing(t *testing.T) {
	f := newFixture(t)
	f.request("REF_AGAIN", 10000, domain.BearerMerchant)

	res, err := f.authorizer.Authorize(f.ctx, f.auth, "REF_AGAIN", domain.ChannelCard, nil)
	require.NoError(t, err)
	before, _ := f.entries("REF_AGAIN")

	err = f.store.ExecTx(f.ctx, func(q store.Querier) error {
		intent, err := q.LockPaymentIntent(f.ctx, res.Intent.ID)
		if err != nil {
			return err
		}
		settled, err := f.settler.SettleTx(f.ctx, q, intent, res.Attempt)
		if err != nil {
			return err
		}
		assert.False(t, settled.Posted)
		assert.Equal(t, res.Transaction.ID, settled.Transaction.ID)
		return nil
	})
	require.NoError(t, err)

	after, sum := f.entries("REF_AGAIN")
	assert.Equal(t, before, after)
	assert.Zero(t, sum)
}

func TestIllegalTransitionAbortsUnitOfWork(t *testing.T) {
	f := newFixture(t)
	f.request("REF_BAD", 10000, domain.BearerMerchant)
	f.fake.AuthorizeFunc = providertest.Respond(domain.AuthPendingOtp)

	_, err := f.authorizer.Authorize(f.ctx, f.auth, "REF_BAD", domain.ChannelCard, nil)
	require.NoError(t, err)

	f.fake.ValidateFunc = func(_ context.Context, ref string, _ provider.ValidateRequest) (*provider.Response, error) {
		return &provider.Response{Status: domain.AuthPendingPin, ProviderReference: ref}, nil
	}
	_, err = f.authorizer.Validate(f.ctx, f.auth, "REF_BAD", provider.ValidateRequest{OTP: "1"})
	require.NoError(t, err)

	attempts := f.attempts("REF_BAD")
	require.Len(t, attempts, 2)

	err = f.store.ExecTx(f.ctx, func(q store.Querier) error {
		intent, err := q.LockPaymentIntent(f.ctx, attempts[0].PaymentIntentID)
		if err != nil {
			return err
		}
		// failed -> success is not an edge of the attempt machine.
		failed := attempts[1]
		failed.Status = domain.AuthFailed
		_, err = f.settler.SettleTx(f.ctx, q, intent, failed)
		return err
	})
	require.ErrorIs(t, err, domain.ErrIllegalTransition)

	count, _ := f.entries("REF_BAD")
	assert.Zero(t, count, "the aborted settlement must not leave entries behind")
	assert.Equal(t, domain.PaymentInitiated, f.intent("REF_BAD").Status)
}
