// Package ledger posts balanced double-entry movements. Debits are stored as
// negative amounts and credits as positive ones, so every transaction sums
// to zero and an account balance is the plain sum of its entries.
package ledger

import (
	"context"
	"fmt"
	"sort"

	"github.com/punchamoorthee/paycore/internal/domain"
	"github.com/punchamoorthee/paycore/internal/store"
)

type Service struct{}

func NewService() *Service {
	return &Service{}
}

// GetAccount returns the account for (holder, type, currency), creating it
// on first use.
func (s *Service) GetAccount(ctx context.Context, q store.Querier, holder domain.Holder, typ domain.AccountType, currency string) (domain.LedgerAccount, error) {
	acct, err := q.GetOrCreateLedgerAccount(ctx, holder, typ, currency)
	if err != nil {
		return domain.LedgerAccount{}, fmt.Errorf("ledger account %s %s: %w", holder, typ, err)
	}
	return acct, nil
}

// Leg moves Amount from one account to another.
type Leg struct {
	From   domain.LedgerAccount
	To     domain.LedgerAccount
	Amount int64
}

// Transfer debits from and credits to by |amount| under txn. It must run
// inside the caller's database transaction.
func (s *Service) Transfer(ctx context.Context, q store.Querier, txn domain.Transaction, from, to domain.LedgerAccount, amount int64) error {
	return s.Post(ctx, q, txn, []Leg{{From: from, To: to, Amount: amount}})
}

// Post writes every leg and then applies the cached balance deltas, one
// update per account in ascending id order. Zero-amount legs are skipped.
func (s *Service) Post(ctx context.Context, q store.Querier, txn domain.Transaction, legs []Leg) error {
	deltas := make(map[int64]int64)

	for _, leg := range legs {
		amount := leg.Amount
		if amount < 0 {
			amount = -amount
		}
		if amount == 0 {
			continue
		}
		if leg.From.ID == leg.To.ID {
			return fmt.Errorf("ledger leg on transaction %d debits and credits account %d", txn.ID, leg.From.ID)
		}
		if leg.From.Currency != leg.To.Currency {
			return fmt.Errorf("ledger leg on transaction %d crosses currencies %s and %s", txn.ID, leg.From.Currency, leg.To.Currency)
		}

		if _, err := q.InsertLedgerEntry(ctx, domain.LedgerEntry{
			AccountID:     leg.From.ID,
			TransactionID: txn.ID,
			Reference:     txn.Reference,
			Amount:        -amount,
			Direction:     domain.DirectionDebit,
		}); err != nil {
			return fmt.Errorf("debit entry failed: %w", err)
		}
		if _, err := q.InsertLedgerEntry(ctx, domain.LedgerEntry{
			AccountID:     leg.To.ID,
			TransactionID: txn.ID,
			Reference:     txn.Reference,
			Amount:        amount,
			Direction:     domain.DirectionCredit,
		}); err != nil {
			return fmt.Errorf("credit entry failed: %w", err)
		}

		deltas[leg.From.ID] -= amount
		deltas[leg.To.ID] += amount
	}

	ids := make([]int64, 0, len(deltas))
	for id, d := range deltas {
		if d != 0 {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		if err := q.AddToAccountBalance(ctx, id, deltas[id]); err != nil {
			return err
		}
	}
	return nil
}

// CheckBalanced recomputes the sum of txn's entries from storage.
func (s *Service) CheckBalanced(ctx context.Context, q store.Querier, transactionID int64) error {
	sum, err := q.SumEntriesByTransaction(ctx, transactionID)
	if err != nil {
		return err
	}
	if sum != 0 {
		return fmt.Errorf("%w: transaction %d sums to %d", domain.ErrLedgerImbalance, transactionID, sum)
	}
	return nil
}

// Balance is the authoritative balance of an account: the sum of its entries.
func (s *Service) Balance(ctx context.Context, q store.Querier, accountID int64) (int64, error) {
	return q.SumEntriesByAccount(ctx, accountID)
}

// Statement is an account with both its cached and recomputed balance.
type Statement struct {
	Account  domain.LedgerAccount
	Computed int64
}

func (st Statement) Drift() int64 {
	return st.Account.Balance - st.Computed
}

func (s *Service) Statement(ctx context.Context, q store.Querier, accountID int64) (Statement, error) {
	acct, err := q.GetLedgerAccount(ctx, accountID)
	if err != nil {
		return Statement{}, err
	}
	computed, err := s.Balance(ctx, q, accountID)
	if err != nil {
		return Statement{}, err
	}
	return Statement{Account: acct, Computed: computed}, nil
}
