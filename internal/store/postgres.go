package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/paycore/internal/domain"
)

//go:embed schema.sql
var schema string

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries implements Querier over a pool or a transaction.
type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type PostgresStore struct {
	*Queries
	Db *pgxpool.Pool
}

func NewStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &PostgresStore{Queries: New(pool), Db: pool}, nil
}

func (s *PostgresStore) Close() {
	s.Db.Close()
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.Db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// ExecTx runs fn in a READ COMMITTED transaction. Serialization comes from
// explicit row locks taken by the Lock* queries.
func (s *PostgresStore) ExecTx(ctx context.Context, fn func(q Querier) error) error {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(New(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

func mapErr(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, what)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s (%s)", domain.ErrDuplicate, what, pgErr.ConstraintName)
	}
	return fmt.Errorf("%s: %w", what, err)
}

type scanner interface {
	Scan(dest ...any) error
}

func collect[T any](rows pgx.Rows, scan func(scanner) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func statusStrings(ss []domain.AuthorizationStatus) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}

// Businesses and customers

func (q *Queries) CreateBusiness(ctx context.Context, name string) (domain.Business, error) {
	var b domain.Business
	err := q.db.QueryRow(ctx,
		"INSERT INTO businesses (name) VALUES ($1) RETURNING id, name, created_at", name,
	).Scan(&b.ID, &b.Name, &b.CreatedAt)
	return b, mapErr(err, "create business")
}

func (q *Queries) GetBusiness(ctx context.Context, id int64) (domain.Business, error) {
	var b domain.Business
	err := q.db.QueryRow(ctx,
		"SELECT id, name, created_at FROM businesses WHERE id = $1", id,
	).Scan(&b.ID, &b.Name, &b.CreatedAt)
	return b, mapErr(err, fmt.Sprintf("business %d", id))
}

const customerCols = "id, business_id, email, phone, first_name, last_name, created_at"

func scanCustomer(row scanner) (domain.Customer, error) {
	var c domain.Customer
	err := row.Scan(&c.ID, &c.BusinessID, &c.Email, &c.Phone, &c.FirstName, &c.LastName, &c.CreatedAt)
	return c, err
}

func (q *Queries) FindOrCreateCustomer(ctx context.Context, c domain.Customer) (domain.Customer, error) {
	found, err := scanCustomer(q.db.QueryRow(ctx,
		"SELECT "+customerCols+" FROM customers WHERE business_id = $1 AND "+
			"(($2 <> '' AND email = $2) OR ($2 = '' AND $3 <> '' AND phone = $3)) ORDER BY id LIMIT 1",
		c.BusinessID, c.Email, c.Phone,
	))
	if err == nil {
		return found, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Customer{}, mapErr(err, "find customer")
	}

	created, err := scanCustomer(q.db.QueryRow(ctx,
		"INSERT INTO customers (business_id, email, phone, first_name, last_name) VALUES ($1, $2, $3, $4, $5) "+
			"ON CONFLICT (business_id, email) WHERE email <> '' DO UPDATE SET email = EXCLUDED.email "+
			"RETURNING "+customerCols,
		c.BusinessID, c.Email, c.Phone, c.FirstName, c.LastName,
	))
	return created, mapErr(err, "create customer")
}

func (q *Queries) GetCustomer(ctx context.Context, id int64) (domain.Customer, error) {
	c, err := scanCustomer(q.db.QueryRow(ctx, "SELECT "+customerCols+" FROM customers WHERE id = $1", id))
	return c, mapErr(err, fmt.Sprintf("customer %d", id))
}

// Payment intents

const intentCols = "id, business_id, customer_id, amount, currency, reference, bearer, mode, status, metadata, created_at, updated_at"

func scanIntent(row scanner) (domain.PaymentIntent, error) {
	var p domain.PaymentIntent
	var meta []byte
	err := row.Scan(&p.ID, &p.BusinessID, &p.CustomerID, &p.Amount, &p.Currency, &p.Reference,
		&p.Bearer, &p.Mode, &p.Status, &meta, &p.CreatedAt, &p.UpdatedAt)
	if len(meta) > 0 {
		p.Metadata = meta
	}
	return p, err
}

func (q *Queries) CreatePaymentIntent(ctx context.Context, p domain.PaymentIntent) (domain.PaymentIntent, error) {
	created, err := scanIntent(q.db.QueryRow(ctx,
		"INSERT INTO payment_intents (business_id, customer_id, amount, currency, reference, bearer, mode, status, metadata) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING "+intentCols,
		p.BusinessID, p.CustomerID, p.Amount, p.Currency, p.Reference,
		string(p.Bearer), string(p.Mode), string(p.Status), p.Metadata,
	))
	return created, mapErr(err, "create payment intent "+p.Reference)
}

func (q *Queries) GetPaymentIntent(ctx context.Context, id int64) (domain.PaymentIntent, error) {
	p, err := scanIntent(q.db.QueryRow(ctx, "SELECT "+intentCols+" FROM payment_intents WHERE id = $1", id))
	return p, mapErr(err, fmt.Sprintf("payment intent %d", id))
}

func (q *Queries) GetPaymentIntentByReference(ctx context.Context, businessID int64, reference string) (domain.PaymentIntent, error) {
	p, err := scanIntent(q.db.QueryRow(ctx,
		"SELECT "+intentCols+" FROM payment_intents WHERE business_id = $1 AND reference = $2", businessID, reference))
	return p, mapErr(err, "payment "+reference)
}

func (q *Queries) LockPaymentIntent(ctx context.Context, id int64) (domain.PaymentIntent, error) {
	p, err := scanIntent(q.db.QueryRow(ctx,
		"SELECT "+intentCols+" FROM payment_intents WHERE id = $1 FOR UPDATE", id))
	return p, mapErr(err, fmt.Sprintf("payment intent %d", id))
}

func (q *Queries) LockPaymentIntentByReference(ctx context.Context, businessID int64, reference string) (domain.PaymentIntent, error) {
	p, err := scanIntent(q.db.QueryRow(ctx,
		"SELECT "+intentCols+" FROM payment_intents WHERE business_id = $1 AND reference = $2 FOR UPDATE", businessID, reference))
	return p, mapErr(err, "payment "+reference)
}

func (q *Queries) UpdatePaymentIntentStatus(ctx context.Context, id int64, status domain.PaymentStatus) error {
	tag, err := q.db.Exec(ctx,
		"UPDATE payment_intents SET status = $2, updated_at = now() WHERE id = $1", id, string(status))
	if err == nil && tag.RowsAffected() == 0 {
		err = pgx.ErrNoRows
	}
	return mapErr(err, fmt.Sprintf("update payment intent %d", id))
}

// Providers

const providerCols = "id, name, identifier, is_active, is_healthy, supported_channels, metadata, created_at"

func scanProvider(row scanner) (domain.Provider, error) {
	var p domain.Provider
	var channels []string
	var meta []byte
	if err := row.Scan(&p.ID, &p.Name, &p.Identifier, &p.Active, &p.Healthy, &channels, &meta, &p.CreatedAt); err != nil {
		return p, err
	}
	for _, c := range channels {
		p.SupportedChannels = append(p.SupportedChannels, domain.Channel(c))
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &p.Metadata); err != nil {
			return p, fmt.Errorf("decode provider %s metadata: %w", p.Identifier, err)
		}
	}
	return p, nil
}

func (q *Queries) ListProviders(ctx context.Context) ([]domain.Provider, error) {
	rows, err := q.db.Query(ctx, "SELECT "+providerCols+" FROM providers ORDER BY id")
	if err != nil {
		return nil, mapErr(err, "list providers")
	}
	return collect(rows, scanProvider)
}

func (q *Queries) GetProvider(ctx context.Context, id int64) (domain.Provider, error) {
	p, err := scanProvider(q.db.QueryRow(ctx, "SELECT "+providerCols+" FROM providers WHERE id = $1", id))
	return p, mapErr(err, fmt.Sprintf("provider %d", id))
}

func (q *Queries) UpsertProvider(ctx context.Context, p domain.Provider) (domain.Provider, error) {
	meta, err := json.Marshal(p.Metadata)
	if err != nil {
		return domain.Provider{}, err
	}
	channels := make([]string, len(p.SupportedChannels))
	for i, c := range p.SupportedChannels {
		channels[i] = string(c)
	}

	out, err := scanProvider(q.db.QueryRow(ctx,
		"INSERT INTO providers (name, identifier, is_active, is_healthy, supported_channels, metadata) "+
			"VALUES ($1, $2, $3, $4, $5, $6) "+
			"ON CONFLICT (identifier) DO UPDATE SET name = EXCLUDED.name, is_active = EXCLUDED.is_active, "+
			"is_healthy = EXCLUDED.is_healthy, supported_channels = EXCLUDED.supported_channels, metadata = EXCLUDED.metadata "+
			"RETURNING "+providerCols,
		p.Name, p.Identifier, p.Active, p.Healthy, channels, meta,
	))
	return out, mapErr(err, "upsert provider "+p.Identifier)
}

// Fee configs

const feeConfigCols = "id, business_id, channel, currency, percentage::text, fixed_amount, min_fee, max_fee, is_active"

func scanFeeConfig(row scanner) (domain.FeeConfig, error) {
	var c domain.FeeConfig
	var pct string
	if err := row.Scan(&c.ID, &c.BusinessID, &c.Channel, &c.Currency, &pct, &c.FixedAmount, &c.MinFee, &c.MaxFee, &c.Active); err != nil {
		return c, err
	}
	d, err := decimal.NewFromString(pct)
	if err != nil {
		return c, fmt.Errorf("parse fee percentage %q: %w", pct, err)
	}
	c.Percentage = d
	return c, nil
}

func (q *Queries) GetActiveFeeConfig(ctx context.Context, businessID *int64, channel domain.Channel) (domain.FeeConfig, error) {
	c, err := scanFeeConfig(q.db.QueryRow(ctx,
		"SELECT "+feeConfigCols+" FROM fee_configs "+
			"WHERE is_active AND channel = $2 AND business_id IS NOT DISTINCT FROM $1 ORDER BY id DESC LIMIT 1",
		businessID, string(channel)))
	return c, mapErr(err, "fee config for "+string(channel))
}

func (q *Queries) CreateFeeConfig(ctx context.Context, cfg domain.FeeConfig) (domain.FeeConfig, error) {
	c, err := scanFeeConfig(q.db.QueryRow(ctx,
		"INSERT INTO fee_configs (business_id, channel, currency, percentage, fixed_amount, min_fee, max_fee, is_active) "+
			"VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8) RETURNING "+feeConfigCols,
		cfg.BusinessID, string(cfg.Channel), cfg.Currency, cfg.Percentage.String(),
		cfg.FixedAmount, cfg.MinFee, cfg.MaxFee, cfg.Active))
	return c, mapErr(err, "create fee config")
}

// Authorization attempts

const attemptCols = "id, payment_intent_id, provider_id, channel, provider_reference, status, fee, provider_fee, " +
	"amount, currency, idempotency_key, bank_details, raw_response, completed_at, created_at, updated_at"

const attemptColsA = "a.id, a.payment_intent_id, a.provider_id, a.channel, a.provider_reference, a.status, a.fee, a.provider_fee, " +
	"a.amount, a.currency, a.idempotency_key, a.bank_details, a.raw_response, a.completed_at, a.created_at, a.updated_at"

func scanAttempt(row scanner) (domain.AuthorizationAttempt, error) {
	var a domain.AuthorizationAttempt
	var bank, raw []byte
	if err := row.Scan(&a.ID, &a.PaymentIntentID, &a.ProviderID, &a.Channel, &a.ProviderReference, &a.Status,
		&a.Fee, &a.ProviderFee, &a.Amount, &a.Currency, &a.IdempotencyKey, &bank, &raw,
		&a.CompletedAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return a, err
	}
	if len(bank) > 0 && string(bank) != "null" {
		a.BankDetails = &domain.BankDetails{}
		if err := json.Unmarshal(bank, a.BankDetails); err != nil {
			return a, fmt.Errorf("decode attempt %d bank details: %w", a.ID, err)
		}
	}
	if len(raw) > 0 {
		a.RawResponse = raw
	}
	return a, nil
}

func bankDetailsJSON(bd *domain.BankDetails) ([]byte, error) {
	if bd == nil {
		return nil, nil
	}
	return json.Marshal(bd)
}

func (q *Queries) CreateAttempt(ctx context.Context, a domain.AuthorizationAttempt) (domain.AuthorizationAttempt, error) {
	bank, err := bankDetailsJSON(a.BankDetails)
	if err != nil {
		return domain.AuthorizationAttempt{}, err
	}
	out, err := scanAttempt(q.db.QueryRow(ctx,
		"INSERT INTO authorization_attempts (payment_intent_id, provider_id, channel, provider_reference, status, "+
			"fee, provider_fee, amount, currency, idempotency_key, bank_details, raw_response, completed_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13) RETURNING "+attemptCols,
		a.PaymentIntentID, a.ProviderID, string(a.Channel), a.ProviderReference, string(a.Status),
		a.Fee, a.ProviderFee, a.Amount, a.Currency, a.IdempotencyKey, bank, a.RawResponse, a.CompletedAt,
	))
	return out, mapErr(err, "create attempt "+a.IdempotencyKey)
}

func (q *Queries) GetAttempt(ctx context.Context, id int64) (domain.AuthorizationAttempt, error) {
	a, err := scanAttempt(q.db.QueryRow(ctx, "SELECT "+attemptCols+" FROM authorization_attempts WHERE id = $1", id))
	return a, mapErr(err, fmt.Sprintf("attempt %d", id))
}

func (q *Queries) LockAttempt(ctx context.Context, id int64) (domain.AuthorizationAttempt, error) {
	a, err := scanAttempt(q.db.QueryRow(ctx, "SELECT "+attemptCols+" FROM authorization_attempts WHERE id = $1 FOR UPDATE", id))
	return a, mapErr(err, fmt.Sprintf("attempt %d", id))
}

func (q *Queries) GetAttemptByIdempotencyKey(ctx context.Context, key string) (domain.AuthorizationAttempt, error) {
	a, err := scanAttempt(q.db.QueryRow(ctx,
		"SELECT "+attemptCols+" FROM authorization_attempts WHERE idempotency_key = $1", key))
	return a, mapErr(err, "attempt "+key)
}

func (q *Queries) LatestOpenAttempt(ctx context.Context, intentID int64) (domain.AuthorizationAttempt, error) {
	a, err := scanAttempt(q.db.QueryRow(ctx,
		"SELECT "+attemptCols+" FROM authorization_attempts "+
			"WHERE payment_intent_id = $1 AND status = ANY($2) ORDER BY id DESC LIMIT 1",
		intentID, statusStrings(domain.OpenStatuses())))
	return a, mapErr(err, fmt.Sprintf("open attempt for payment intent %d", intentID))
}

func (q *Queries) LatestAttemptByProviderReference(ctx context.Context, reference string, statuses []domain.AuthorizationStatus) (domain.AuthorizationAttempt, error) {
	a, err := scanAttempt(q.db.QueryRow(ctx,
		"SELECT "+attemptCols+" FROM authorization_attempts "+
			"WHERE provider_reference = $1 AND status = ANY($2) ORDER BY id DESC LIMIT 1",
		reference, statusStrings(statuses)))
	return a, mapErr(err, "attempt with provider reference "+reference)
}

func (q *Queries) ListAttemptsByIntent(ctx context.Context, intentID int64) ([]domain.AuthorizationAttempt, error) {
	rows, err := q.db.Query(ctx,
		"SELECT "+attemptCols+" FROM authorization_attempts WHERE payment_intent_id = $1 ORDER BY id", intentID)
	if err != nil {
		return nil, mapErr(err, "list attempts")
	}
	return collect(rows, scanAttempt)
}

func (q *Queries) UpdateAttempt(ctx context.Context, a domain.AuthorizationAttempt) (domain.AuthorizationAttempt, error) {
	bank, err := bankDetailsJSON(a.BankDetails)
	if err != nil {
		return domain.AuthorizationAttempt{}, err
	}
	out, err := scanAttempt(q.db.QueryRow(ctx,
		"UPDATE authorization_attempts SET status = $2, provider_reference = $3, bank_details = $4, "+
			"raw_response = $5, completed_at = $6, updated_at = now() WHERE id = $1 RETURNING "+attemptCols,
		a.ID, string(a.Status), a.ProviderReference, bank, a.RawResponse, a.CompletedAt,
	))
	return out, mapErr(err, fmt.Sprintf("update attempt %d", a.ID))
}

func (q *Queries) TouchAttempt(ctx context.Context, id int64, at time.Time) error {
	_, err := q.db.Exec(ctx, "UPDATE authorization_attempts SET updated_at = $2 WHERE id = $1", id, at)
	return mapErr(err, fmt.Sprintf("touch attempt %d", id))
}

func (q *Queries) ListStaleAttempts(ctx context.Context, before time.Time, limit int) ([]domain.AuthorizationAttempt, error) {
	rows, err := q.db.Query(ctx,
		"SELECT "+attemptColsA+" FROM authorization_attempts a "+
			"JOIN payment_intents p ON p.id = a.payment_intent_id "+
			"WHERE a.completed_at IS NULL AND a.updated_at < $1 AND a.status <> $2 AND p.status <> $3 "+
			"ORDER BY a.updated_at LIMIT $4",
		before, string(domain.AuthFailed), string(domain.PaymentSuccess), limit)
	if err != nil {
		return nil, mapErr(err, "list stale attempts")
	}
	return collect(rows, scanAttempt)
}

// Transactions

const transactionCols = "id, business_id, payment_intent_id, reference, amount, currency, status, channel, mode, created_at, updated_at"

func scanTransaction(row scanner) (domain.Transaction, error) {
	var t domain.Transaction
	err := row.Scan(&t.ID, &t.BusinessID, &t.PaymentIntentID, &t.Reference, &t.Amount, &t.Currency,
		&t.Status, &t.Channel, &t.Mode, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func (q *Queries) UpsertTransaction(ctx context.Context, t domain.Transaction) (domain.Transaction, error) {
	out, err := scanTransaction(q.db.QueryRow(ctx,
		"INSERT INTO transactions (business_id, payment_intent_id, reference, amount, currency, status, channel, mode) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8) "+
			"ON CONFLICT (business_id, reference) DO UPDATE SET updated_at = transactions.updated_at "+
			"RETURNING "+transactionCols,
		t.BusinessID, t.PaymentIntentID, t.Reference, t.Amount, t.Currency,
		string(t.Status), string(t.Channel), string(t.Mode),
	))
	return out, mapErr(err, "upsert transaction "+t.Reference)
}

func (q *Queries) GetTransactionByReference(ctx context.Context, businessID int64, reference string) (domain.Transaction, error) {
	t, err := scanTransaction(q.db.QueryRow(ctx,
		"SELECT "+transactionCols+" FROM transactions WHERE business_id = $1 AND reference = $2", businessID, reference))
	return t, mapErr(err, "transaction "+reference)
}

func (q *Queries) UpdateTransactionStatus(ctx context.Context, id int64, status domain.TransactionStatus) error {
	tag, err := q.db.Exec(ctx,
		"UPDATE transactions SET status = $2, updated_at = now() WHERE id = $1", id, string(status))
	if err == nil && tag.RowsAffected() == 0 {
		err = pgx.ErrNoRows
	}
	return mapErr(err, fmt.Sprintf("update transaction %d", id))
}

// Ledger

const accountCols = "id, holder_kind, holder_id, type, currency, balance, created_at"

func scanAccount(row scanner) (domain.LedgerAccount, error) {
	var a domain.LedgerAccount
	err := row.Scan(&a.ID, &a.Holder.Kind, &a.Holder.ID, &a.Type, &a.Currency, &a.Balance, &a.CreatedAt)
	return a, err
}

// GetOrCreateLedgerAccount inserts without taking a row lock on an existing
// account so that balance locks are only ever taken in id order.
func (q *Queries) GetOrCreateLedgerAccount(ctx context.Context, holder domain.Holder, typ domain.AccountType, currency string) (domain.LedgerAccount, error) {
	_, err := q.db.Exec(ctx,
		"INSERT INTO ledger_accounts (holder_kind, holder_id, type, currency) VALUES ($1, $2, $3, $4) "+
			"ON CONFLICT (holder_kind, holder_id, type, currency) DO NOTHING",
		string(holder.Kind), holder.ID, string(typ), currency)
	if err != nil {
		return domain.LedgerAccount{}, mapErr(err, "create ledger account")
	}

	a, err := scanAccount(q.db.QueryRow(ctx,
		"SELECT "+accountCols+" FROM ledger_accounts WHERE holder_kind = $1 AND holder_id = $2 AND type = $3 AND currency = $4",
		string(holder.Kind), holder.ID, string(typ), currency))
	return a, mapErr(err, fmt.Sprintf("ledger account %s/%s/%s", holder, typ, currency))
}

func (q *Queries) GetLedgerAccount(ctx context.Context, id int64) (domain.LedgerAccount, error) {
	a, err := scanAccount(q.db.QueryRow(ctx, "SELECT "+accountCols+" FROM ledger_accounts WHERE id = $1", id))
	return a, mapErr(err, fmt.Sprintf("ledger account %d", id))
}

const entryCols = "id, account_id, transaction_id, reference, amount, direction, created_at"

func scanEntry(row scanner) (domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	err := row.Scan(&e.ID, &e.AccountID, &e.TransactionID, &e.Reference, &e.Amount, &e.Direction, &e.CreatedAt)
	return e, err
}

func (q *Queries) InsertLedgerEntry(ctx context.Context, e domain.LedgerEntry) (domain.LedgerEntry, error) {
	out, err := scanEntry(q.db.QueryRow(ctx,
		"INSERT INTO ledger_entries (account_id, transaction_id, reference, amount, direction) "+
			"VALUES ($1, $2, $3, $4, $5) RETURNING "+entryCols,
		e.AccountID, e.TransactionID, e.Reference, e.Amount, string(e.Direction)))
	return out, mapErr(err, "insert ledger entry")
}

func (q *Queries) AddToAccountBalance(ctx context.Context, accountID, delta int64) error {
	tag, err := q.db.Exec(ctx, "UPDATE ledger_accounts SET balance = balance + $2 WHERE id = $1", accountID, delta)
	if err == nil && tag.RowsAffected() == 0 {
		err = pgx.ErrNoRows
	}
	return mapErr(err, fmt.Sprintf("update balance of ledger account %d", accountID))
}

func (q *Queries) CountEntriesByTransaction(ctx context.Context, transactionID int64) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, "SELECT count(*) FROM ledger_entries WHERE transaction_id = $1", transactionID).Scan(&n)
	return n, mapErr(err, "count ledger entries")
}

func (q *Queries) SumEntriesByTransaction(ctx context.Context, transactionID int64) (int64, error) {
	var sum int64
	err := q.db.QueryRow(ctx,
		"SELECT COALESCE(SUM(amount), 0)::bigint FROM ledger_entries WHERE transaction_id = $1", transactionID).Scan(&sum)
	return sum, mapErr(err, "sum ledger entries")
}

func (q *Queries) SumEntriesByAccount(ctx context.Context, accountID int64) (int64, error) {
	var sum int64
	err := q.db.QueryRow(ctx,
		"SELECT COALESCE(SUM(amount), 0)::bigint FROM ledger_entries WHERE account_id = $1", accountID).Scan(&sum)
	return sum, mapErr(err, "sum ledger entries")
}

func (q *Queries) ListEntriesByTransaction(ctx context.Context, transactionID int64) ([]domain.LedgerEntry, error) {
	rows, err := q.db.Query(ctx,
		"SELECT "+entryCols+" FROM ledger_entries WHERE transaction_id = $1 ORDER BY id", transactionID)
	if err != nil {
		return nil, mapErr(err, "list ledger entries")
	}
	return collect(rows, scanEntry)
}

func (q *Queries) ListEntriesByAccount(ctx context.Context, accountID int64, limit int) ([]domain.LedgerEntry, error) {
	rows, err := q.db.Query(ctx,
		"SELECT "+entryCols+" FROM ledger_entries WHERE account_id = $1 ORDER BY id DESC LIMIT $2", accountID, limit)
	if err != nil {
		return nil, mapErr(err, "list ledger entries")
	}
	return collect(rows, scanEntry)
}

// Webhook events

const webhookCols = "id, provider, provider_event_id, event_type, raw_payload, received_at, processed_at, feedback"

func scanWebhook(row scanner) (domain.WebhookEvent, error) {
	var e domain.WebhookEvent
	var eventID *string
	var raw []byte
	if err := row.Scan(&e.ID, &e.Provider, &eventID, &e.EventType, &raw, &e.ReceivedAt, &e.ProcessedAt, &e.Feedback); err != nil {
		return e, err
	}
	if eventID != nil {
		e.ProviderEventID = *eventID
	}
	e.RawPayload = raw
	return e, nil
}

func (q *Queries) InsertWebhookEvent(ctx context.Context, e domain.WebhookEvent) (domain.WebhookEvent, bool, error) {
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now()
	}
	raw := []byte(e.RawPayload)
	if raw == nil {
		raw = []byte{}
	}

	out, err := scanWebhook(q.db.QueryRow(ctx,
		"INSERT INTO webhook_events (provider, provider_event_id, event_type, raw_payload, received_at, processed_at, feedback) "+
			"VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7) "+
			"ON CONFLICT (provider, provider_event_id) DO NOTHING RETURNING "+webhookCols,
		e.Provider, e.ProviderEventID, e.EventType, raw, e.ReceivedAt, e.ProcessedAt, e.Feedback))
	if err == nil {
		return out, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.WebhookEvent{}, false, mapErr(err, "insert webhook event")
	}

	existing, err := scanWebhook(q.db.QueryRow(ctx,
		"SELECT "+webhookCols+" FROM webhook_events WHERE provider = $1 AND provider_event_id = $2",
		e.Provider, e.ProviderEventID))
	return existing, false, mapErr(err, "webhook event "+e.ProviderEventID)
}

func (q *Queries) GetWebhookEvent(ctx context.Context, id int64) (domain.WebhookEvent, error) {
	e, err := scanWebhook(q.db.QueryRow(ctx, "SELECT "+webhookCols+" FROM webhook_events WHERE id = $1", id))
	return e, mapErr(err, fmt.Sprintf("webhook event %d", id))
}

func (q *Queries) LockWebhookEvent(ctx context.Context, id int64) (domain.WebhookEvent, error) {
	e, err := scanWebhook(q.db.QueryRow(ctx, "SELECT "+webhookCols+" FROM webhook_events WHERE id = $1 FOR UPDATE", id))
	return e, mapErr(err, fmt.Sprintf("webhook event %d", id))
}

func (q *Queries) MarkWebhookProcessed(ctx context.Context, id int64, feedback string, at time.Time) error {
	_, err := q.db.Exec(ctx,
		"UPDATE webhook_events SET processed_at = $3, feedback = $2 WHERE id = $1", id, feedback, at)
	return mapErr(err, fmt.Sprintf("mark webhook event %d processed", id))
}

func (q *Queries) ListUnprocessedWebhookEvents(ctx context.Context, before time.Time, limit int) ([]domain.WebhookEvent, error) {
	rows, err := q.db.Query(ctx,
		"SELECT "+webhookCols+" FROM webhook_events WHERE processed_at IS NULL AND received_at < $1 ORDER BY id LIMIT $2",
		before, limit)
	if err != nil {
		return nil, mapErr(err, "list unprocessed webhook events")
	}
	return collect(rows, scanWebhook)
}
