// Package service holds the payment workflows: requesting a payment,
// authorizing and validating it against a provider, settling it into the
// ledger, reconciling provider webhooks and sweeping stale attempts.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/punchamoorthee/paycore/internal/domain"
	"github.com/punchamoorthee/paycore/internal/events"
	"github.com/punchamoorthee/paycore/internal/ledger"
	"github.com/punchamoorthee/paycore/internal/provider"
	"github.com/punchamoorthee/paycore/internal/store"
)

// DefaultProviderTimeout bounds every outbound provider call unless Deps
// sets its own.
const DefaultProviderTimeout = 30 * time.Second

// Deps is what every workflow in this package needs. Zero fields other than
// Store and Providers get defaults.
type Deps struct {
	Store     store.Store
	Providers *provider.Registry
	Ledger    *ledger.Service
	Events    events.Publisher
	Log       *slog.Logger

	Now             func() time.Time
	NewID           func() string
	ProviderTimeout time.Duration
}

func (d Deps) withDefaults() Deps {
	if d.Ledger == nil {
		d.Ledger = ledger.NewService()
	}
	if d.Events == nil {
		d.Events = events.Nop{}
	}
	if d.Log == nil {
		d.Log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.NewID == nil {
		d.NewID = uuid.NewString
	}
	if d.ProviderTimeout <= 0 {
		d.ProviderTimeout = DefaultProviderTimeout
	}
	return d
}

func precondition(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrPrecondition, fmt.Sprintf(format, args...))
}

func notFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrNotFound, fmt.Sprintf(format, args...))
}

// adapterFor resolves the adapter of a stored provider.
func (d Deps) adapterFor(ctx context.Context, q store.Querier, providerID int64) (domain.Provider, provider.Adapter, error) {
	p, err := q.GetProvider(ctx, providerID)
	if err != nil {
		return p, nil, fmt.Errorf("load provider %d: %w", providerID, err)
	}
	a, err := d.Providers.Adapter(p.Identifier)
	if err != nil {
		return p, nil, err
	}
	return p, a, nil
}

// callProvider runs one adapter call under the provider timeout. Any failure,
// including an empty response, comes back wrapping domain.ErrProviderCall.
func (d Deps) callProvider(ctx context.Context, identifier, op string, call func(ctx context.Context) (*provider.Response, error)) (*provider.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, d.ProviderTimeout)
	defer cancel()

	start := time.Now()
	resp, err := call(ctx)
	providerCallDuration.WithLabelValues(identifier, op).Observe(time.Since(start).Seconds())

	switch {
	case err != nil && errors.Is(err, domain.ErrProviderCall):
		return nil, err
	case err != nil:
		return nil, fmt.Errorf("%w: %s %s: %v", domain.ErrProviderCall, identifier, op, err)
	case resp == nil:
		return nil, fmt.Errorf("%w: %s %s returned no response", domain.ErrProviderCall, identifier, op)
	case !resp.Status.Valid():
		return nil, fmt.Errorf("%w: %s %s returned status %q", domain.ErrProviderCall, identifier, op, resp.Status)
	}
	return resp, nil
}

// publish sends events after their unit of work committed. A broker outage
// never undoes a settlement, so failures are only logged.
func (d Deps) publish(ctx context.Context, evs []events.PaymentSucceeded) {
	for _, ev := range evs {
		if err := d.Events.PaymentSucceeded(ctx, ev); err != nil {
			d.Log.Error("publish payment event", "reference", ev.Reference, "error", err)
		}
	}
}
