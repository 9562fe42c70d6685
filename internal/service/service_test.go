package service

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/paycore/internal/domain"
	"github.com/punchamoorthee/paycore/internal/events"
	"github.com/punchamoorthee/paycore/internal/provider"
	"github.com/punchamoorthee/paycore/internal/provider/providertest"
	"github.com/punchamoorthee/paycore/internal/store/memstore"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.PaymentSucceeded
}

func (p *recordingPublisher) PaymentSucceeded(_ context.Context, ev events.PaymentSucceeded) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type recordingDispatcher struct {
	mu  sync.Mutex
	ids []int64
}

func (d *recordingDispatcher) Dispatch(_ context.Context, id int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = append(d.ids, id)
	return nil
}

func (d *recordingDispatcher) IDs() []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int64(nil), d.ids...)
}

type fixture struct {
	t        *testing.T
	ctx      context.Context
	store    *memstore.Store
	fake     *providertest.Adapter
	clock    *clock
	events   *recordingPublisher
	deps     Deps
	auth     domain.AuthContext
	provider domain.Provider

	payments   *Payments
	authorizer *Authorizer
	settler    *Settler
}

// newFixture wires a business, one fake provider supporting both channels
// and a global card fee of 1.5% + 100.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	clk := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s := memstore.New()
	s.SetClock(clk.Now)

	fake := providertest.New()
	fake.Fee = 50
	registry := provider.NewRegistry()
	registry.Register("fake", fake)

	biz, err := s.CreateBusiness(ctx, "Acme Stores")
	require.NoError(t, err)

	pct := decimal.RequireFromString("0.9")
	p, err := s.UpsertProvider(ctx, domain.Provider{
		Name:              "Fake",
		Identifier:        "fake",
		Active:            true,
		Healthy:           true,
		SupportedChannels: []domain.Channel{domain.ChannelCard, domain.ChannelBankTransfer},
		Metadata:          domain.ProviderMetadata{FeePercentage: &pct},
	})
	require.NoError(t, err)

	_, err = s.CreateFeeConfig(ctx, domain.FeeConfig{
		Channel:     domain.ChannelCard,
		Currency:    "NGN",
		Percentage:  decimal.RequireFromString("1.50"),
		FixedAmount: 100,
		Active:      true,
	})
	require.NoError(t, err)

	var seq atomic.Int64
	pub := &recordingPublisher{}
	deps := Deps{
		Store:           s,
		Providers:       registry,
		Events:          pub,
		Now:             clk.Now,
		NewID:           func() string { return "ref-" + strconv.FormatInt(seq.Add(1), 10) },
		ProviderTimeout: time.Second,
	}

	return &fixture{
		t:          t,
		ctx:        ctx,
		store:      s,
		fake:       fake,
		clock:      clk,
		events:     pub,
		deps:       deps,
		auth:       domain.AuthContext{BusinessID: biz.ID, Mode: domain.ModeTest, Actor: "test"},
		provider:   p,
		payments:   NewPayments(deps),
		authorizer: NewAuthorizer(deps),
		settler:    NewSettler(deps),
	}
}

func (f *fixture) request(reference string, amount int64, bearer domain.FeeBearer) domain.PaymentIntent {
	f.t.Helper()
	out, err := f.payments.Request(f.ctx, f.auth, PaymentRequest{
		Amount:    amount,
		Reference: reference,
		Bearer:    bearer,
		Email:     "ada@example.com",
		FirstName: "Ada",
	})
	require.NoError(f.t, err)
	return out.Intent
}

func (f *fixture) intent(reference string) domain.PaymentIntent {
	f.t.Helper()
	p, err := f.store.GetPaymentIntentByReference(f.ctx, f.auth.BusinessID, reference)
	require.NoError(f.t, err)
	return p
}

func (f *fixture) attempts(reference string) []domain.AuthorizationAttempt {
	f.t.Helper()
	list, err := f.store.ListAttemptsByIntent(f.ctx, f.intent(reference).ID)
	require.NoError(f.t, err)
	return list
}

// entries returns the ledger entry count and sum for the payment's
// transaction, or zeros when none exists.
func (f *fixture) entries(reference string) (count, sum int64) {
	f.t.Helper()
	txn, err := f.store.GetTransactionByReference(f.ctx, f.auth.BusinessID, reference)
	if err != nil {
		return 0, 0
	}
	count, err = f.store.CountEntriesByTransaction(f.ctx, txn.ID)
	require.NoError(f.t, err)
	sum, err = f.store.SumEntriesByTransaction(f.ctx, txn.ID)
	require.NoError(f.t, err)
	return count, sum
}

func (f *fixture) balance(holder domain.Holder, typ domain.AccountType) int64 {
	f.t.Helper()
	acct, err := f.store.GetOrCreateLedgerAccount(f.ctx, holder, typ, "NGN")
	require.NoError(f.t, err)
	sum, err := f.store.SumEntriesByAccount(f.ctx, acct.ID)
	require.NoError(f.t, err)
	return sum
}
