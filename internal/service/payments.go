package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/punchamoorthee/paycore/internal/domain"
	"github.com/punchamoorthee/paycore/internal/ledger"
	"github.com/punchamoorthee/paycore/internal/store"
)

// MinimumAmount is the smallest payable amount in minor units.
const MinimumAmount = 100

const referencePrefix = "TRX_"

type PaymentRequest struct {
	Amount    int64
	Currency  string
	Reference string
	Bearer    domain.FeeBearer
	Email     string
	Phone     string
	FirstName string
	LastName  string
	Metadata  json.RawMessage
}

// PaymentDetails is a payment intent with its payer and attempts.
type PaymentDetails struct {
	Intent   domain.PaymentIntent
	Customer domain.Customer
	Attempts []domain.AuthorizationAttempt
}

type TransactionDetails struct {
	Transaction domain.Transaction
	Entries     []domain.LedgerEntry
}

// Payments creates payment intents and serves read-only views of payments
// and the ledger.
type Payments struct {
	d Deps
}

func NewPayments(d Deps) *Payments {
	return &Payments{d: d.withDefaults()}
}

// Request creates a payment intent in the initiated state and finds or
// creates the customer by email, then phone. The mode comes from auth.
func (p *Payments) Request(ctx context.Context, auth domain.AuthContext, req PaymentRequest) (PaymentDetails, error) {
	if req.Amount < MinimumAmount {
		return PaymentDetails{}, precondition("amount must be at least %d", MinimumAmount)
	}
	if req.Email == "" && req.Phone == "" {
		return PaymentDetails{}, precondition("customer email or phone is required")
	}
	if req.Currency == "" {
		req.Currency = domain.DefaultCurrency
	}
	req.Currency = strings.ToUpper(req.Currency)
	if req.Bearer == "" {
		req.Bearer = domain.BearerMerchant
	}
	if !req.Bearer.Valid() {
		return PaymentDetails{}, precondition("unknown fee bearer %q", req.Bearer)
	}
	if req.Reference == "" {
		req.Reference = p.newReference()
	}
	mode := auth.Mode
	if mode == "" {
		mode = domain.ModeTest
	}

	var out PaymentDetails
	err := p.d.Store.ExecTx(ctx, func(q store.Querier) error {
		if _, err := q.GetBusiness(ctx, auth.BusinessID); err != nil {
			return fmt.Errorf("load business %d: %w", auth.BusinessID, err)
		}

		customer, err := q.FindOrCreateCustomer(ctx, domain.Customer{
			BusinessID: auth.BusinessID,
			Email:      req.Email,
			Phone:      req.Phone,
			FirstName:  req.FirstName,
			LastName:   req.LastName,
		})
		if err != nil {
			return fmt.Errorf("customer: %w", err)
		}

		intent, err := q.CreatePaymentIntent(ctx, domain.PaymentIntent{
			BusinessID: auth.BusinessID,
			CustomerID: customer.ID,
			Amount:     req.Amount,
			Currency:   req.Currency,
			Reference:  req.Reference,
			Bearer:     req.Bearer,
			Mode:       mode,
			Status:     domain.PaymentInitiated,
			Metadata:   req.Metadata,
		})
		if errors.Is(err, domain.ErrDuplicate) {
			return precondition("payment reference %s already exists", req.Reference)
		}
		if err != nil {
			return fmt.Errorf("create payment intent: %w", err)
		}

		out = PaymentDetails{Intent: intent, Customer: customer}
		return nil
	})
	if err != nil {
		return PaymentDetails{}, err
	}

	p.d.Log.Info("payment requested",
		"reference", out.Intent.Reference,
		"business_id", auth.BusinessID,
		"amount", out.Intent.Amount,
		"mode", out.Intent.Mode,
	)
	return out, nil
}

func (p *Payments) newReference() string {
	id := strings.ToUpper(strings.ReplaceAll(p.d.NewID(), "-", ""))
	if len(id) > 10 {
		id = id[:10]
	}
	return referencePrefix + id
}

// Lookup returns the payment with reference for auth's business and mode.
func (p *Payments) Lookup(ctx context.Context, auth domain.AuthContext, reference string) (PaymentDetails, error) {
	intent, err := p.d.Store.GetPaymentIntentByReference(ctx, auth.BusinessID, reference)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && auth.Mode != "" && intent.Mode != auth.Mode) {
		return PaymentDetails{}, notFound("payment %s not found", reference)
	}
	if err != nil {
		return PaymentDetails{}, err
	}

	customer, err := p.d.Store.GetCustomer(ctx, intent.CustomerID)
	if err != nil {
		return PaymentDetails{}, err
	}
	attempts, err := p.d.Store.ListAttemptsByIntent(ctx, intent.ID)
	if err != nil {
		return PaymentDetails{}, err
	}
	return PaymentDetails{Intent: intent, Customer: customer, Attempts: attempts}, nil
}

// Transaction returns the settlement record for reference with its ledger
// entries.
func (p *Payments) Transaction(ctx context.Context, auth domain.AuthContext, reference string) (TransactionDetails, error) {
	txn, err := p.d.Store.GetTransactionByReference(ctx, auth.BusinessID, reference)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && auth.Mode != "" && txn.Mode != auth.Mode) {
		return TransactionDetails{}, notFound("transaction %s not found", reference)
	}
	if err != nil {
		return TransactionDetails{}, err
	}

	entries, err := p.d.Store.ListEntriesByTransaction(ctx, txn.ID)
	if err != nil {
		return TransactionDetails{}, err
	}
	return TransactionDetails{Transaction: txn, Entries: entries}, nil
}

// Account returns a ledger account owned by auth's business with its
// balance recomputed from entries.
func (p *Payments) Account(ctx context.Context, auth domain.AuthContext, accountID int64) (ledger.Statement, error) {
	if err := p.ownAccount(ctx, auth, accountID); err != nil {
		return ledger.Statement{}, err
	}
	st, err := p.d.Ledger.Statement(ctx, p.d.Store, accountID)
	if err != nil {
		return ledger.Statement{}, err
	}
	if st.Drift() != 0 {
		p.d.Log.Warn("ledger balance drift", "account_id", accountID, "cached", st.Account.Balance, "computed", st.Computed)
	}
	return st, nil
}

// AccountEntries lists the latest entries of a business-owned account.
func (p *Payments) AccountEntries(ctx context.Context, auth domain.AuthContext, accountID int64, limit int) ([]domain.LedgerEntry, error) {
	if err := p.ownAccount(ctx, auth, accountID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return p.d.Store.ListEntriesByAccount(ctx, accountID, limit)
}

func (p *Payments) ownAccount(ctx context.Context, auth domain.AuthContext, accountID int64) error {
	acct, err := p.d.Store.GetLedgerAccount(ctx, accountID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	if err != nil || acct.Holder != domain.BusinessHolder(auth.BusinessID) {
		return notFound("ledger account %d not found", accountID)
	}
	return nil
}
