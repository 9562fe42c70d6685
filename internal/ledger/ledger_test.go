package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/paycore/internal/domain"
	"github.com/punchamoorthee/paycore/internal/store"
	"github.com/punchamoorthee/paycore/internal/store/memstore"
)

func newTxn(t *testing.T, s *memstore.Store, ref string) domain.Transaction {
	t.Helper()
	txn, err := s.UpsertTransaction(context.Background(), domain.Transaction{
		BusinessID: 1, PaymentIntentID: 1, Reference: ref, Amount: 10000, Currency: "NGN",
		Status: domain.TransactionPending, Channel: domain.ChannelCard, Mode: domain.ModeTest,
	})
	require.NoError(t, err)
	return txn
}

func TestGetAccountIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	svc := NewService()

	a, err := svc.GetAccount(ctx, s, domain.BusinessHolder(7), domain.AccountBusinessWallet, "NGN")
	require.NoError(t, err)
	b, err := svc.GetAccount(ctx, s, domain.BusinessHolder(7), domain.AccountBusinessWallet, "NGN")
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)

	usd, err := svc.GetAccount(ctx, s, domain.BusinessHolder(7), domain.AccountBusinessWallet, "USD")
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, usd.ID)
}

func TestTransferWritesBalancedPair(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	svc := NewService()
	txn := newTxn(t, s, "REF_T")

	from, err := svc.GetAccount(ctx, s, domain.CustomerHolder(1), domain.AccountCustomerWallet, "NGN")
	require.NoError(t, err)
	to, err := svc.GetAccount(ctx, s, domain.BusinessHolder(1), domain.AccountBusinessWallet, "NGN")
	require.NoError(t, err)

	// The sign of amount is ignored.
	require.NoError(t, svc.Transfer(ctx, s, txn, from, to, -2500))

	entries, err := s.ListEntriesByTransaction(ctx, txn.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(-2500), entries[0].Amount)
	assert.Equal(t, domain.DirectionDebit, entries[0].Direction)
	assert.Equal(t, int64(2500), entries[1].Amount)
	assert.Equal(t, domain.DirectionCredit, entries[1].Direction)
	require.NoError(t, svc.CheckBalanced(ctx, s, txn.ID))

	fromSt, err := svc.Statement(ctx, s, from.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(-2500), fromSt.Computed)
	assert.Zero(t, fromSt.Drift())
}

func TestTransferRejectsSelfLeg(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	svc := NewService()
	txn := newTxn(t, s, "REF_SELF")

	acct, err := svc.GetAccount(ctx, s, domain.SystemHolder(), domain.AccountPlatformFeeRevenue, "NGN")
	require.NoError(t, err)
	assert.Error(t, svc.Transfer(ctx, s, txn, acct, acct, 100))
}

func TestPostSettlement(t *testing.T) {
	tests := []struct {
		name                   string
		amount, fee            int64
		bearer                 domain.FeeBearer
		customerFee, bizFee    int64
		providerFee            int64
		wantEntries            int
		wantBusiness, wantPlat int64
	}{
		{"merchant bears", 10000, 250, domain.BearerMerchant, 0, 250, 150, 8, 9750, 250},
		{"customer bears", 10000, 250, domain.BearerCustomer, 250, 0, 150, 8, 10000, 250},
		{"split odd fee", 10000, 21, domain.BearerSplit, 11, 10, 0, 8, 9990, 21},
		{"no fees", 10000, 0, domain.BearerMerchant, 0, 0, 0, 4, 10000, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s := memstore.New()
			svc := NewService()
			txn := newTxn(t, s, "REF_"+tt.name)

			st := Settlement{
				Transaction: txn,
				Intent:      domain.PaymentIntent{ID: 1, BusinessID: 1, CustomerID: 2, Amount: tt.amount, Currency: "NGN", Bearer: tt.bearer},
				ProviderID:  3,
				Gross:       tt.amount + tt.customerFee,
				CustomerFee: tt.customerFee,
				BusinessFee: tt.bizFee,
				ProviderFee: tt.providerFee,
			}
			require.NoError(t, s.ExecTx(ctx, func(q store.Querier) error {
				return svc.PostSettlement(ctx, q, st)
			}))

			n, err := s.CountEntriesByTransaction(ctx, txn.ID)
			require.NoError(t, err)
			assert.Equal(t, int64(tt.wantEntries), n)

			sum, err := s.SumEntriesByTransaction(ctx, txn.ID)
			require.NoError(t, err)
			assert.Zero(t, sum)

			biz, err := svc.GetAccount(ctx, s, domain.BusinessHolder(1), domain.AccountBusinessWallet, "NGN")
			require.NoError(t, err)
			assert.Equal(t, tt.wantBusiness, biz.Balance)

			plat, err := svc.GetAccount(ctx, s, domain.SystemHolder(), domain.AccountPlatformFeeRevenue, "NGN")
			require.NoError(t, err)
			assert.Equal(t, tt.wantPlat, plat.Balance)

			cust, err := svc.GetAccount(ctx, s, domain.CustomerHolder(2), domain.AccountCustomerWallet, "NGN")
			require.NoError(t, err)
			assert.Zero(t, cust.Balance)

			clearing, err := svc.GetAccount(ctx, s, domain.ProviderHolder(3), domain.AccountProviderClearing, "NGN")
			require.NoError(t, err)
			assert.Equal(t, -(st.Gross + tt.providerFee), clearing.Balance)
		})
	}
}

func TestPostSettlementRejectsNonConservingAmounts(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	svc := NewService()
	txn := newTxn(t, s, "REF_BAD")

	err := s.ExecTx(ctx, func(q store.Querier) error {
		return svc.PostSettlement(ctx, q, Settlement{
			Transaction: txn,
			Intent:      domain.PaymentIntent{BusinessID: 1, CustomerID: 2, Amount: 10000},
			ProviderID:  3,
			Gross:       10001,
		})
	})
	assert.ErrorIs(t, err, domain.ErrLedgerImbalance)

	n, err := s.CountEntriesByTransaction(ctx, txn.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}
