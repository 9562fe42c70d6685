// Package store defines the persistence contract of the payment engine and
// its PostgreSQL implementation.
package store

import (
	"context"
	"strconv"
	"time"

	"github.com/punchamoorthee/paycore/internal/domain"
)

// Querier is every read and write the engine performs. Implementations
// return domain.ErrNotFound for missing rows and domain.ErrDuplicate for
// unique violations, wrapped.
type Querier interface {
	CreateBusiness(ctx context.Context, name string) (domain.Business, error)
	GetBusiness(ctx context.Context, id int64) (domain.Business, error)
	// FindOrCreateCustomer matches on email, then phone, within the business.
	FindOrCreateCustomer(ctx context.Context, c domain.Customer) (domain.Customer, error)
	GetCustomer(ctx context.Context, id int64) (domain.Customer, error)

	CreatePaymentIntent(ctx context.Context, p domain.PaymentIntent) (domain.PaymentIntent, error)
	GetPaymentIntent(ctx context.Context, id int64) (domain.PaymentIntent, error)
	GetPaymentIntentByReference(ctx context.Context, businessID int64, reference string) (domain.PaymentIntent, error)
	// Lock variants hold the row until the enclosing transaction ends.
	LockPaymentIntent(ctx context.Context, id int64) (domain.PaymentIntent, error)
	LockPaymentIntentByReference(ctx context.Context, businessID int64, reference string) (domain.PaymentIntent, error)
	UpdatePaymentIntentStatus(ctx context.Context, id int64, status domain.PaymentStatus) error

	ListProviders(ctx context.Context) ([]domain.Provider, error)
	GetProvider(ctx context.Context, id int64) (domain.Provider, error)
	UpsertProvider(ctx context.Context, p domain.Provider) (domain.Provider, error)

	GetActiveFeeConfig(ctx context.Context, businessID *int64, channel domain.Channel) (domain.FeeConfig, error)
	CreateFeeConfig(ctx context.Context, cfg domain.FeeConfig) (domain.FeeConfig, error)

	CreateAttempt(ctx context.Context, a domain.AuthorizationAttempt) (domain.AuthorizationAttempt, error)
	GetAttempt(ctx context.Context, id int64) (domain.AuthorizationAttempt, error)
	LockAttempt(ctx context.Context, id int64) (domain.AuthorizationAttempt, error)
	GetAttemptByIdempotencyKey(ctx context.Context, key string) (domain.AuthorizationAttempt, error)
	LatestOpenAttempt(ctx context.Context, intentID int64) (domain.AuthorizationAttempt, error)
	LatestAttemptByProviderReference(ctx context.Context, reference string, statuses []domain.AuthorizationStatus) (domain.AuthorizationAttempt, error)
	ListAttemptsByIntent(ctx context.Context, intentID int64) ([]domain.AuthorizationAttempt, error)
	// UpdateAttempt persists status, provider reference, bank details, raw
	// response and completion time.
	UpdateAttempt(ctx context.Context, a domain.AuthorizationAttempt) (domain.AuthorizationAttempt, error)
	TouchAttempt(ctx context.Context, id int64, at time.Time) error
	// ListStaleAttempts returns uncompleted, non-failed attempts last updated
	// before the cutoff whose intent has not succeeded.
	ListStaleAttempts(ctx context.Context, before time.Time, limit int) ([]domain.AuthorizationAttempt, error)

	// UpsertTransaction returns the existing row for (business, reference)
	// when there is one, locked.
	UpsertTransaction(ctx context.Context, t domain.Transaction) (domain.Transaction, error)
	GetTransactionByReference(ctx context.Context, businessID int64, reference string) (domain.Transaction, error)
	UpdateTransactionStatus(ctx context.Context, id int64, status domain.TransactionStatus) error

	GetOrCreateLedgerAccount(ctx context.Context, holder domain.Holder, typ domain.AccountType, currency string) (domain.LedgerAccount, error)
	GetLedgerAccount(ctx context.Context, id int64) (domain.LedgerAccount, error)
	InsertLedgerEntry(ctx context.Context, e domain.LedgerEntry) (domain.LedgerEntry, error)
	AddToAccountBalance(ctx context.Context, accountID, delta int64) error
	CountEntriesByTransaction(ctx context.Context, transactionID int64) (int64, error)
	SumEntriesByTransaction(ctx context.Context, transactionID int64) (int64, error)
	SumEntriesByAccount(ctx context.Context, accountID int64) (int64, error)
	ListEntriesByTransaction(ctx context.Context, transactionID int64) ([]domain.LedgerEntry, error)
	ListEntriesByAccount(ctx context.Context, accountID int64, limit int) ([]domain.LedgerEntry, error)

	// InsertWebhookEvent reports inserted=false and returns the stored row
	// when (provider, provider_event_id) already exists.
	InsertWebhookEvent(ctx context.Context, e domain.WebhookEvent) (event domain.WebhookEvent, inserted bool, err error)
	GetWebhookEvent(ctx context.Context, id int64) (domain.WebhookEvent, error)
	LockWebhookEvent(ctx context.Context, id int64) (domain.WebhookEvent, error)
	MarkWebhookProcessed(ctx context.Context, id int64, feedback string, at time.Time) error
	ListUnprocessedWebhookEvents(ctx context.Context, before time.Time, limit int) ([]domain.WebhookEvent, error)
}

// Store is a Querier that can also run a function inside one database
// transaction. fn's error rolls everything back.
type Store interface {
	Querier
	ExecTx(ctx context.Context, fn func(q Querier) error) error
}

// CanonicalAttemptKey is the idempotency key of the authorize path for an
// intent on a channel.
func CanonicalAttemptKey(intentID int64, channel domain.Channel) string {
	return "payment_auth_" + strconv.FormatInt(intentID, 10) + "_" + string(channel)
}

// ValidationAttemptKey keys one validation round.
func ValidationAttemptKey(intentID int64, nonce string) string {
	return "payment_validate_" + strconv.FormatInt(intentID, 10) + "_" + nonce
}
