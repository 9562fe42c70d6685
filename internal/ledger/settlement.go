package ledger

import (
	"context"
	"fmt"

	"github.com/punchamoorthee/paycore/internal/domain"
	"github.com/punchamoorthee/paycore/internal/store"
)

// Settlement is everything needed to post one successful payment.
type Settlement struct {
	Transaction domain.Transaction
	Intent      domain.PaymentIntent
	ProviderID  int64

	Gross       int64
	CustomerFee int64
	BusinessFee int64
	ProviderFee int64
}

// Validate checks that the amounts conserve value: the gross collected is
// the intent amount plus the customer's fee share.
func (st Settlement) Validate() error {
	if st.Gross != st.Intent.Amount+st.CustomerFee {
		return fmt.Errorf("%w: gross %d != amount %d + customer fee %d",
			domain.ErrLedgerImbalance, st.Gross, st.Intent.Amount, st.CustomerFee)
	}
	if st.CustomerFee < 0 || st.BusinessFee < 0 || st.ProviderFee < 0 {
		return fmt.Errorf("%w: negative fee on %s", domain.ErrLedgerImbalance, st.Transaction.Reference)
	}
	return nil
}

type settlementAccounts struct {
	clearing        domain.LedgerAccount
	customerWallet  domain.LedgerAccount
	businessWallet  domain.LedgerAccount
	platformRevenue domain.LedgerAccount
	providerExpense domain.LedgerAccount
}

func (s *Service) settlementAccounts(ctx context.Context, q store.Querier, st Settlement) (settlementAccounts, error) {
	var a settlementAccounts
	currency := st.Transaction.Currency

	specs := []struct {
		dst    *domain.LedgerAccount
		holder domain.Holder
		typ    domain.AccountType
	}{
		{&a.clearing, domain.ProviderHolder(st.ProviderID), domain.AccountProviderClearing},
		{&a.customerWallet, domain.CustomerHolder(st.Intent.CustomerID), domain.AccountCustomerWallet},
		{&a.businessWallet, domain.BusinessHolder(st.Intent.BusinessID), domain.AccountBusinessWallet},
		{&a.platformRevenue, domain.SystemHolder(), domain.AccountPlatformFeeRevenue},
		{&a.providerExpense, domain.SystemHolder(), domain.AccountProviderFeeExpense},
	}
	for _, sp := range specs {
		acct, err := s.GetAccount(ctx, q, sp.holder, sp.typ, currency)
		if err != nil {
			return a, err
		}
		*sp.dst = acct
	}
	return a, nil
}

// PostSettlement writes the settlement legs for st.Transaction:
//
//	provider_clearing    -> customer_wallet       gross
//	customer_wallet      -> platform_fee_revenue  customer fee
//	customer_wallet      -> business_wallet       intent amount
//	business_wallet      -> platform_fee_revenue  business fee
//	provider_clearing    -> provider_fee_expense  provider fee
//
// and fails with domain.ErrLedgerImbalance if the stored entries for the
// transaction do not sum to zero afterwards.
func (s *Service) PostSettlement(ctx context.Context, q store.Querier, st Settlement) error {
	if err := st.Validate(); err != nil {
		return err
	}

	acct, err := s.settlementAccounts(ctx, q, st)
	if err != nil {
		return err
	}

	legs := []Leg{
		{From: acct.clearing, To: acct.customerWallet, Amount: st.Gross},
		{From: acct.customerWallet, To: acct.platformRevenue, Amount: st.CustomerFee},
		{From: acct.customerWallet, To: acct.businessWallet, Amount: st.Intent.Amount},
		{From: acct.businessWallet, To: acct.platformRevenue, Amount: st.BusinessFee},
		{From: acct.clearing, To: acct.providerExpense, Amount: st.ProviderFee},
	}
	if err := s.Post(ctx, q, st.Transaction, legs); err != nil {
		return err
	}

	return s.CheckBalanced(ctx, q, st.Transaction.ID)
}
