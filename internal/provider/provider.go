// Package provider defines the contract every external payment provider
// adapter implements and the registry that resolves adapters by identifier.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/paycore/internal/domain"
)

type Customer struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
}

type AuthorizeRequest struct {
	Reference      string
	Amount         int64
	Currency       string
	Channel        domain.Channel
	Customer       Customer
	Metadata       json.RawMessage
	ChannelDetails map[string]any
}

// Response is the normalized outcome of authorize, verify and validate calls.
type Response struct {
	Status            domain.AuthorizationStatus
	ProviderReference string
	BankDetails       *domain.BankDetails
	Message           string
	RawResponse       json.RawMessage
}

// ValidateRequest carries exactly one validation field.
type ValidateRequest struct {
	PIN      string `json:"pin,omitempty"`
	OTP      string `json:"otp,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Birthday string `json:"birthday,omitempty"`
	Address  string `json:"address,omitempty"`
}

var ErrValidationField = errors.New("exactly one of pin, otp, phone, birthday or address is required")

// Field returns the single populated field name and value.
func (v ValidateRequest) Field() (string, string, error) {
	var name, value string
	n := 0
	for _, f := range []struct{ name, value string }{
		{"pin", v.PIN},
		{"otp", v.OTP},
		{"phone", v.Phone},
		{"birthday", v.Birthday},
		{"address", v.Address},
	} {
		if f.value != "" {
			name, value = f.name, f.value
			n++
		}
	}
	if n != 1 {
		return "", "", ErrValidationField
	}
	return name, value, nil
}

// WebhookPayload is a provider callback in canonical form.
type WebhookPayload struct {
	ProviderEventID string
	EventType       string
	Reference       string
	Amount          int64
	Currency        string
	Status          domain.AuthorizationStatus
	RawPayload      json.RawMessage
}

type Adapter interface {
	Authorize(ctx context.Context, req AuthorizeRequest) (*Response, error)
	VerifyTransaction(ctx context.Context, reference string) (*Response, error)
	Validate(ctx context.Context, reference string, req ValidateRequest) (*Response, error)
	NormalizeWebhook(payload []byte) (*WebhookPayload, error)
	VerifyWebhookSignature(payload []byte, headers http.Header) bool
	ComputeFee(channel domain.Channel, amount int64) int64
}

// Registry maps provider identifiers to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

func (r *Registry) Register(identifier string, a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[identifier] = a
}

func (r *Registry) Adapter(identifier string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[identifier]
	if !ok {
		return nil, fmt.Errorf("%w: no adapter for provider %q", domain.ErrNotFound, identifier)
	}
	return a, nil
}

func (r *Registry) Has(identifier string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.adapters[identifier]
	return ok
}

// Select picks the provider for channel among candidates: active, healthy,
// supporting the channel and known to the registry. Ties are broken by the
// lowest indicative fee percentage, then by insertion order (ID).
func (r *Registry) Select(candidates []domain.Provider, channel domain.Channel) (domain.Provider, error) {
	eligible := make([]domain.Provider, 0, len(candidates))
	for _, p := range candidates {
		if p.Active && p.Healthy && p.Supports(channel) && r.Has(p.Identifier) {
			eligible = append(eligible, p)
		}
	}
	if len(eligible) == 0 {
		return domain.Provider{}, fmt.Errorf("%w for channel %s", domain.ErrProviderUnavailable, channel)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		fi, fj := indicativeFee(eligible[i]), indicativeFee(eligible[j])
		if !fi.Equal(fj) {
			return fi.LessThan(fj)
		}
		return eligible[i].ID < eligible[j].ID
	})
	return eligible[0], nil
}

var unknownFee = decimal.NewFromInt(999)

func indicativeFee(p domain.Provider) decimal.Decimal {
	if p.Metadata.FeePercentage == nil {
		return unknownFee
	}
	return *p.Metadata.FeePercentage
}
