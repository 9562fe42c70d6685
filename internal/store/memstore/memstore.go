// Package memstore is an in-memory store.Store. It enforces the same unique
// keys as the Postgres schema and rolls back ExecTx on error. Transactions
// are serialized by one mutex, which stands in for row locks.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/punchamoorthee/paycore/internal/domain"
	"github.com/punchamoorthee/paycore/internal/store"
)

type accountKey struct {
	holder   domain.Holder
	typ      domain.AccountType
	currency string
}

type state struct {
	seq map[string]int64

	businesses   map[int64]domain.Business
	customers    map[int64]domain.Customer
	intents      map[int64]domain.PaymentIntent
	providers    map[int64]domain.Provider
	feeConfigs   map[int64]domain.FeeConfig
	attempts     map[int64]domain.AuthorizationAttempt
	transactions map[int64]domain.Transaction
	accounts     map[int64]domain.LedgerAccount
	accountIndex map[accountKey]int64
	entries      []domain.LedgerEntry
	webhooks     map[int64]domain.WebhookEvent
}

func newState() *state {
	return &state{
		seq:          make(map[string]int64),
		businesses:   make(map[int64]domain.Business),
		customers:    make(map[int64]domain.Customer),
		intents:      make(map[int64]domain.PaymentIntent),
		providers:    make(map[int64]domain.Provider),
		feeConfigs:   make(map[int64]domain.FeeConfig),
		attempts:     make(map[int64]domain.AuthorizationAttempt),
		transactions: make(map[int64]domain.Transaction),
		accounts:     make(map[int64]domain.LedgerAccount),
		accountIndex: make(map[accountKey]int64),
		webhooks:     make(map[int64]domain.WebhookEvent),
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// clone copies the maps. Values are structs whose slices are never mutated
// in place, so a shallow copy per entry is enough.
func (s *state) clone() *state {
	return &state{
		seq:          cloneMap(s.seq),
		businesses:   cloneMap(s.businesses),
		customers:    cloneMap(s.customers),
		intents:      cloneMap(s.intents),
		providers:    cloneMap(s.providers),
		feeConfigs:   cloneMap(s.feeConfigs),
		attempts:     cloneMap(s.attempts),
		transactions: cloneMap(s.transactions),
		accounts:     cloneMap(s.accounts),
		accountIndex: cloneMap(s.accountIndex),
		entries:      append([]domain.LedgerEntry(nil), s.entries...),
		webhooks:     cloneMap(s.webhooks),
	}
}

func (s *state) next(table string) int64 {
	s.seq[table]++
	return s.seq[table]
}

type Store struct {
	mu   *sync.Mutex
	st   **state
	inTx bool
	now  func() time.Time
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	st := newState()
	return &Store{mu: &sync.Mutex{}, st: &st, now: time.Now}
}

// SetClock replaces the source of created_at and updated_at stamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// lock takes the store mutex unless already inside ExecTx.
func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) ExecTx(ctx context.Context, fn func(q store.Querier) error) error {
	if s.inTx {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := (*s.st).clone()
	tx := &Store{mu: s.mu, st: s.st, inTx: true, now: s.now}
	err := fn(tx)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		*s.st = snapshot
	}
	return err
}

func notFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrNotFound, fmt.Sprintf(format, args...))
}

func duplicate(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrDuplicate, fmt.Sprintf(format, args...))
}

// Businesses and customers

func (s *Store) CreateBusiness(_ context.Context, name string) (domain.Business, error) {
	defer s.lock()()
	st := *s.st
	b := domain.Business{ID: st.next("businesses"), Name: name, CreatedAt: s.now()}
	st.businesses[b.ID] = b
	return b, nil
}

func (s *Store) GetBusiness(_ context.Context, id int64) (domain.Business, error) {
	defer s.lock()()
	b, ok := (*s.st).businesses[id]
	if !ok {
		return b, notFound("business %d", id)
	}
	return b, nil
}

func (s *Store) FindOrCreateCustomer(_ context.Context, c domain.Customer) (domain.Customer, error) {
	defer s.lock()()
	st := *s.st
	ids := sortedKeys(st.customers)
	for _, id := range ids {
		existing := st.customers[id]
		if existing.BusinessID != c.BusinessID {
			continue
		}
		if c.Email != "" && existing.Email == c.Email {
			return existing, nil
		}
		if c.Email == "" && c.Phone != "" && existing.Phone == c.Phone {
			return existing, nil
		}
	}
	c.ID = st.next("customers")
	c.CreatedAt = s.now()
	st.customers[c.ID] = c
	return c, nil
}

func (s *Store) GetCustomer(_ context.Context, id int64) (domain.Customer, error) {
	defer s.lock()()
	c, ok := (*s.st).customers[id]
	if !ok {
		return c, notFound("customer %d", id)
	}
	return c, nil
}

// Payment intents

func (s *Store) CreatePaymentIntent(_ context.Context, p domain.PaymentIntent) (domain.PaymentIntent, error) {
	defer s.lock()()
	st := *s.st
	for _, existing := range st.intents {
		if existing.BusinessID == p.BusinessID && existing.Reference == p.Reference {
			return domain.PaymentIntent{}, duplicate("payment intent %s", p.Reference)
		}
	}
	p.ID = st.next("payment_intents")
	p.CreatedAt = s.now()
	p.UpdatedAt = p.CreatedAt
	st.intents[p.ID] = p
	return p, nil
}

func (s *Store) GetPaymentIntent(_ context.Context, id int64) (domain.PaymentIntent, error) {
	defer s.lock()()
	p, ok := (*s.st).intents[id]
	if !ok {
		return p, notFound("payment intent %d", id)
	}
	return p, nil
}

func (s *Store) GetPaymentIntentByReference(_ context.Context, businessID int64, reference string) (domain.PaymentIntent, error) {
	defer s.lock()()
	for _, p := range (*s.st).intents {
		if p.BusinessID == businessID && p.Reference == reference {
			return p, nil
		}
	}
	return domain.PaymentIntent{}, notFound("payment %s", reference)
}

func (s *Store) LockPaymentIntent(ctx context.Context, id int64) (domain.PaymentIntent, error) {
	return s.GetPaymentIntent(ctx, id)
}

func (s *Store) LockPaymentIntentByReference(ctx context.Context, businessID int64, reference string) (domain.PaymentIntent, error) {
	return s.GetPaymentIntentByReference(ctx, businessID, reference)
}

func (s *Store) UpdatePaymentIntentStatus(_ context.Context, id int64, status domain.PaymentStatus) error {
	defer s.lock()()
	st := *s.st
	p, ok := st.intents[id]
	if !ok {
		return notFound("payment intent %d", id)
	}
	p.Status = status
	p.UpdatedAt = s.now()
	st.intents[id] = p
	return nil
}

// Providers

func (s *Store) ListProviders(_ context.Context) ([]domain.Provider, error) {
	defer s.lock()()
	st := *s.st
	out := make([]domain.Provider, 0, len(st.providers))
	for _, id := range sortedKeys(st.providers) {
		out = append(out, st.providers[id])
	}
	return out, nil
}

func (s *Store) GetProvider(_ context.Context, id int64) (domain.Provider, error) {
	defer s.lock()()
	p, ok := (*s.st).providers[id]
	if !ok {
		return p, notFound("provider %d", id)
	}
	return p, nil
}

func (s *Store) UpsertProvider(_ context.Context, p domain.Provider) (domain.Provider, error) {
	defer s.lock()()
	st := *s.st
	for id, existing := range st.providers {
		if existing.Identifier == p.Identifier {
			p.ID = id
			p.CreatedAt = existing.CreatedAt
			st.providers[id] = p
			return p, nil
		}
	}
	p.ID = st.next("providers")
	p.CreatedAt = s.now()
	st.providers[p.ID] = p
	return p, nil
}

// Fee configs

func (s *Store) GetActiveFeeConfig(_ context.Context, businessID *int64, channel domain.Channel) (domain.FeeConfig, error) {
	defer s.lock()()
	st := *s.st
	ids := sortedKeys(st.feeConfigs)
	for i := len(ids) - 1; i >= 0; i-- {
		c := st.feeConfigs[ids[i]]
		if !c.Active || c.Channel != channel {
			continue
		}
		if sameScope(c.BusinessID, businessID) {
			return c, nil
		}
	}
	return domain.FeeConfig{}, notFound("fee config for %s", channel)
}

func sameScope(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (s *Store) CreateFeeConfig(_ context.Context, cfg domain.FeeConfig) (domain.FeeConfig, error) {
	defer s.lock()()
	st := *s.st
	cfg.ID = st.next("fee_configs")
	st.feeConfigs[cfg.ID] = cfg
	return cfg, nil
}

// Authorization attempts

func (s *Store) CreateAttempt(_ context.Context, a domain.AuthorizationAttempt) (domain.AuthorizationAttempt, error) {
	defer s.lock()()
	st := *s.st
	for _, existing := range st.attempts {
		if existing.IdempotencyKey == a.IdempotencyKey {
			return domain.AuthorizationAttempt{}, duplicate("attempt %s", a.IdempotencyKey)
		}
	}
	a.ID = st.next("authorization_attempts")
	a.CreatedAt = s.now()
	a.UpdatedAt = a.CreatedAt
	st.attempts[a.ID] = a
	return a, nil
}

func (s *Store) GetAttempt(_ context.Context, id int64) (domain.AuthorizationAttempt, error) {
	defer s.lock()()
	a, ok := (*s.st).attempts[id]
	if !ok {
		return a, notFound("attempt %d", id)
	}
	return a, nil
}

func (s *Store) LockAttempt(ctx context.Context, id int64) (domain.AuthorizationAttempt, error) {
	return s.GetAttempt(ctx, id)
}

func (s *Store) GetAttemptByIdempotencyKey(_ context.Context, key string) (domain.AuthorizationAttempt, error) {
	defer s.lock()()
	for _, a := range (*s.st).attempts {
		if a.IdempotencyKey == key {
			return a, nil
		}
	}
	return domain.AuthorizationAttempt{}, notFound("attempt %s", key)
}

// latestAttempt returns the highest-id attempt matching keep.
func (s *Store) latestAttempt(keep func(domain.AuthorizationAttempt) bool) (domain.AuthorizationAttempt, bool) {
	st := *s.st
	ids := sortedKeys(st.attempts)
	for i := len(ids) - 1; i >= 0; i-- {
		if a := st.attempts[ids[i]]; keep(a) {
			return a, true
		}
	}
	return domain.AuthorizationAttempt{}, false
}

func (s *Store) LatestOpenAttempt(_ context.Context, intentID int64) (domain.AuthorizationAttempt, error) {
	defer s.lock()()
	a, ok := s.latestAttempt(func(a domain.AuthorizationAttempt) bool {
		return a.PaymentIntentID == intentID && !a.Status.IsTerminal()
	})
	if !ok {
		return a, notFound("open attempt for payment intent %d", intentID)
	}
	return a, nil
}

func (s *Store) LatestAttemptByProviderReference(_ context.Context, reference string, statuses []domain.AuthorizationStatus) (domain.AuthorizationAttempt, error) {
	defer s.lock()()
	a, ok := s.latestAttempt(func(a domain.AuthorizationAttempt) bool {
		if a.ProviderReference != reference {
			return false
		}
		for _, st := range statuses {
			if a.Status == st {
				return true
			}
		}
		return false
	})
	if !ok {
		return a, notFound("attempt with provider reference %s", reference)
	}
	return a, nil
}

func (s *Store) ListAttemptsByIntent(_ context.Context, intentID int64) ([]domain.AuthorizationAttempt, error) {
	defer s.lock()()
	st := *s.st
	var out []domain.AuthorizationAttempt
	for _, id := range sortedKeys(st.attempts) {
		if a := st.attempts[id]; a.PaymentIntentID == intentID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *Store) UpdateAttempt(_ context.Context, a domain.AuthorizationAttempt) (domain.AuthorizationAttempt, error) {
	defer s.lock()()
	st := *s.st
	existing, ok := st.attempts[a.ID]
	if !ok {
		return a, notFound("attempt %d", a.ID)
	}
	existing.Status = a.Status
	existing.ProviderReference = a.ProviderReference
	existing.BankDetails = a.BankDetails
	existing.RawResponse = a.RawResponse
	existing.CompletedAt = a.CompletedAt
	existing.UpdatedAt = s.now()
	st.attempts[a.ID] = existing
	return existing, nil
}

func (s *Store) TouchAttempt(_ context.Context, id int64, at time.Time) error {
	defer s.lock()()
	st := *s.st
	a, ok := st.attempts[id]
	if !ok {
		return notFound("attempt %d", id)
	}
	a.UpdatedAt = at
	st.attempts[id] = a
	return nil
}

func (s *Store) ListStaleAttempts(_ context.Context, before time.Time, limit int) ([]domain.AuthorizationAttempt, error) {
	defer s.lock()()
	st := *s.st
	var out []domain.AuthorizationAttempt
	for _, id := range sortedKeys(st.attempts) {
		a := st.attempts[id]
		if a.CompletedAt != nil || !a.UpdatedAt.Before(before) || a.Status == domain.AuthFailed {
			continue
		}
		if st.intents[a.PaymentIntentID].Status == domain.PaymentSuccess {
			continue
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Transactions

func (s *Store) UpsertTransaction(_ context.Context, t domain.Transaction) (domain.Transaction, error) {
	defer s.lock()()
	st := *s.st
	for _, existing := range st.transactions {
		if existing.BusinessID == t.BusinessID && existing.Reference == t.Reference {
			return existing, nil
		}
	}
	t.ID = st.next("transactions")
	t.CreatedAt = s.now()
	t.UpdatedAt = t.CreatedAt
	st.transactions[t.ID] = t
	return t, nil
}

func (s *Store) GetTransactionByReference(_ context.Context, businessID int64, reference string) (domain.Transaction, error) {
	defer s.lock()()
	for _, t := range (*s.st).transactions {
		if t.BusinessID == businessID && t.Reference == reference {
			return t, nil
		}
	}
	return domain.Transaction{}, notFound("transaction %s", reference)
}

func (s *Store) UpdateTransactionStatus(_ context.Context, id int64, status domain.TransactionStatus) error {
	defer s.lock()()
	st := *s.st
	t, ok := st.transactions[id]
	if !ok {
		return notFound("transaction %d", id)
	}
	t.Status = status
	t.UpdatedAt = s.now()
	st.transactions[id] = t
	return nil
}

// Ledger

func (s *Store) GetOrCreateLedgerAccount(_ context.Context, holder domain.Holder, typ domain.AccountType, currency string) (domain.LedgerAccount, error) {
	defer s.lock()()
	st := *s.st
	key := accountKey{holder: holder, typ: typ, currency: currency}
	if id, ok := st.accountIndex[key]; ok {
		return st.accounts[id], nil
	}
	a := domain.LedgerAccount{
		ID:        st.next("ledger_accounts"),
		Holder:    holder,
		Type:      typ,
		Currency:  currency,
		CreatedAt: s.now(),
	}
	st.accounts[a.ID] = a
	st.accountIndex[key] = a.ID
	return a, nil
}

func (s *Store) GetLedgerAccount(_ context.Context, id int64) (domain.LedgerAccount, error) {
	defer s.lock()()
	a, ok := (*s.st).accounts[id]
	if !ok {
		return a, notFound("ledger account %d", id)
	}
	return a, nil
}

func (s *Store) InsertLedgerEntry(_ context.Context, e domain.LedgerEntry) (domain.LedgerEntry, error) {
	defer s.lock()()
	st := *s.st
	if _, ok := st.accounts[e.AccountID]; !ok {
		return e, notFound("ledger account %d", e.AccountID)
	}
	if e.Amount == 0 {
		return e, fmt.Errorf("ledger entry on account %d has zero amount", e.AccountID)
	}
	e.ID = st.next("ledger_entries")
	e.CreatedAt = s.now()
	st.entries = append(st.entries, e)
	return e, nil
}

func (s *Store) AddToAccountBalance(_ context.Context, accountID, delta int64) error {
	defer s.lock()()
	st := *s.st
	a, ok := st.accounts[accountID]
	if !ok {
		return notFound("ledger account %d", accountID)
	}
	a.Balance += delta
	st.accounts[accountID] = a
	return nil
}

func (s *Store) CountEntriesByTransaction(_ context.Context, transactionID int64) (int64, error) {
	defer s.lock()()
	var n int64
	for _, e := range (*s.st).entries {
		if e.TransactionID == transactionID {
			n++
		}
	}
	return n, nil
}

func (s *Store) SumEntriesByTransaction(_ context.Context, transactionID int64) (int64, error) {
	defer s.lock()()
	var sum int64
	for _, e := range (*s.st).entries {
		if e.TransactionID == transactionID {
			sum += e.Amount
		}
	}
	return sum, nil
}

func (s *Store) SumEntriesByAccount(_ context.Context, accountID int64) (int64, error) {
	defer s.lock()()
	var sum int64
	for _, e := range (*s.st).entries {
		if e.AccountID == accountID {
			sum += e.Amount
		}
	}
	return sum, nil
}

func (s *Store) ListEntriesByTransaction(_ context.Context, transactionID int64) ([]domain.LedgerEntry, error) {
	defer s.lock()()
	var out []domain.LedgerEntry
	for _, e := range (*s.st).entries {
		if e.TransactionID == transactionID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) ListEntriesByAccount(_ context.Context, accountID int64, limit int) ([]domain.LedgerEntry, error) {
	defer s.lock()()
	entries := (*s.st).entries
	var out []domain.LedgerEntry
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].AccountID != accountID {
			continue
		}
		out = append(out, entries[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Webhook events

func (s *Store) InsertWebhookEvent(_ context.Context, e domain.WebhookEvent) (domain.WebhookEvent, bool, error) {
	defer s.lock()()
	st := *s.st
	if e.ProviderEventID != "" {
		for _, existing := range st.webhooks {
			if existing.Provider == e.Provider && existing.ProviderEventID == e.ProviderEventID {
				return existing, false, nil
			}
		}
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = s.now()
	}
	e.ID = st.next("webhook_events")
	st.webhooks[e.ID] = e
	return e, true, nil
}

func (s *Store) GetWebhookEvent(_ context.Context, id int64) (domain.WebhookEvent, error) {
	defer s.lock()()
	e, ok := (*s.st).webhooks[id]
	if !ok {
		return e, notFound("webhook event %d", id)
	}
	return e, nil
}

func (s *Store) LockWebhookEvent(ctx context.Context, id int64) (domain.WebhookEvent, error) {
	return s.GetWebhookEvent(ctx, id)
}

func (s *Store) MarkWebhookProcessed(_ context.Context, id int64, feedback string, at time.Time) error {
	defer s.lock()()
	st := *s.st
	e, ok := st.webhooks[id]
	if !ok {
		return notFound("webhook event %d", id)
	}
	e.ProcessedAt = &at
	e.Feedback = feedback
	st.webhooks[id] = e
	return nil
}

func (s *Store) ListUnprocessedWebhookEvents(_ context.Context, before time.Time, limit int) ([]domain.WebhookEvent, error) {
	defer s.lock()()
	st := *s.st
	var out []domain.WebhookEvent
	for _, id := range sortedKeys(st.webhooks) {
		e := st.webhooks[id]
		if e.ProcessedAt != nil || !e.ReceivedAt.Before(before) {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func sortedKeys[V any](m map[int64]V) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
