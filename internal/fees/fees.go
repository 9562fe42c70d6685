// Package fees prices a payment for a channel and apportions the fee
// between the business and the customer. All arithmetic is on int64 minor
// units.
package fees

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/paycore/internal/domain"
)

// ConfigSource looks up the active fee config for a scope. A nil businessID
// asks for the global config. It returns domain.ErrNotFound when none exists.
type ConfigSource interface {
	GetActiveFeeConfig(ctx context.Context, businessID *int64, channel domain.Channel) (domain.FeeConfig, error)
}

type Resolver struct {
	src ConfigSource
}

func NewResolver(src ConfigSource) *Resolver {
	return &Resolver{src: src}
}

// Resolve returns the fee for intent on channel: business config first, then
// global, else zero.
func (r *Resolver) Resolve(ctx context.Context, intent domain.PaymentIntent, channel domain.Channel) (int64, error) {
	businessID := intent.BusinessID
	cfg, err := r.src.GetActiveFeeConfig(ctx, &businessID, channel)
	if errors.Is(err, domain.ErrNotFound) {
		cfg, err = r.src.GetActiveFeeConfig(ctx, nil, channel)
	}
	if errors.Is(err, domain.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("fee config lookup: %w", err)
	}
	return Calculate(cfg, intent.Amount), nil
}

// BasisPoints converts a two-decimal percentage (1.50) into basis points (150).
// Digits beyond the second decimal are truncated.
func BasisPoints(pct decimal.Decimal) int64 {
	return pct.Shift(2).Truncate(0).IntPart()
}

// Calculate applies floor(amount * pct / 100) + fixed, clamped to [min, max].
func Calculate(cfg domain.FeeConfig, amount int64) int64 {
	fee := amount*BasisPoints(cfg.Percentage)/10000 + cfg.FixedAmount
	if fee < cfg.MinFee {
		fee = cfg.MinFee
	}
	if cfg.MaxFee != nil && fee > *cfg.MaxFee {
		fee = *cfg.MaxFee
	}
	return fee
}

// Split halves fee so that lo+hi == fee and hi-lo <= 1.
func Split(fee int64) (lo, hi int64) {
	lo = fee / 2
	return lo, fee - lo
}

// Apportion returns the parts of fee borne by the business and the customer.
func Apportion(bearer domain.FeeBearer, fee int64) (business, customer int64) {
	switch bearer {
	case domain.BearerCustomer:
		return 0, fee
	case domain.BearerSplit:
		return Split(fee)
	default:
		return fee, 0
	}
}

// GrossAmount is what the provider is asked to charge: the intent amount plus
// whatever share of the fee the customer bears.
func GrossAmount(bearer domain.FeeBearer, amount, fee int64) int64 {
	_, customer := Apportion(bearer, fee)
	return amount + customer
}
