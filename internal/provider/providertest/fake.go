// Package providertest provides a scriptable provider.Adapter for tests.
package providertest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/punchamoorthee/paycore/internal/domain"
	"github.com/punchamoorthee/paycore/internal/provider"
)

// SignatureHeader is checked by VerifyWebhookSignature when Secret is set.
const SignatureHeader = "X-Fake-Signature"

// Adapter records calls and answers with the configured funcs. With no funcs
// set every call succeeds.
type Adapter struct {
	mu sync.Mutex

	AuthorizeFunc func(ctx context.Context, req provider.AuthorizeRequest) (*provider.Response, error)
	VerifyFunc    func(ctx context.Context, reference string) (*provider.Response, error)
	ValidateFunc  func(ctx context.Context, reference string, req provider.ValidateRequest) (*provider.Response, error)

	Fee    int64
	Secret string

	AuthorizeCalls int
	VerifyCalls    int
	ValidateCalls  int
	LastAuthorize  provider.AuthorizeRequest
	LastValidate   provider.ValidateRequest
}

func New() *Adapter {
	return &Adapter{}
}

// Respond returns a func answering every call with status.
func Respond(status domain.AuthorizationStatus) func(context.Context, provider.AuthorizeRequest) (*provider.Response, error) {
	return func(_ context.Context, req provider.AuthorizeRequest) (*provider.Response, error) {
		return &provider.Response{Status: status, ProviderReference: req.Reference, RawResponse: json.RawMessage(`{}`)}, nil
	}
}

// Verify returns a verify func answering with status.
func Verify(status domain.AuthorizationStatus) func(context.Context, string) (*provider.Response, error) {
	return func(_ context.Context, ref string) (*provider.Response, error) {
		return &provider.Response{Status: status, ProviderReference: ref}, nil
	}
}

func (a *Adapter) Authorize(ctx context.Context, req provider.AuthorizeRequest) (*provider.Response, error) {
	a.mu.Lock()
	a.AuthorizeCalls++
	a.LastAuthorize = req
	fn := a.AuthorizeFunc
	a.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return Respond(domain.AuthSuccess)(ctx, req)
}

func (a *Adapter) VerifyTransaction(ctx context.Context, reference string) (*provider.Response, error) {
	a.mu.Lock()
	a.VerifyCalls++
	fn := a.VerifyFunc
	a.mu.Unlock()

	if fn != nil {
		return fn(ctx, reference)
	}
	return Verify(domain.AuthSuccess)(ctx, reference)
}

func (a *Adapter) Validate(ctx context.Context, reference string, req provider.ValidateRequest) (*provider.Response, error) {
	a.mu.Lock()
	a.ValidateCalls++
	a.LastValidate = req
	fn := a.ValidateFunc
	a.mu.Unlock()

	if fn != nil {
		return fn(ctx, reference, req)
	}
	return &provider.Response{Status: domain.AuthSuccess, ProviderReference: reference}, nil
}

type webhookBody struct {
	Event string `json:"event"`
	Data  struct {
		ID        string `json:"id"`
		Reference string `json:"reference"`
		Amount    int64  `json:"amount"`
		Currency  string `json:"currency"`
		Status    string `json:"status"`
	} `json:"data"`
}

// NormalizeWebhook accepts {"event": ..., "data": {"id", "reference", "amount", "currency", "status"}}.
func (a *Adapter) NormalizeWebhook(payload []byte) (*provider.WebhookPayload, error) {
	var body webhookBody
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("decode fake webhook: %w", err)
	}
	if body.Data.Reference == "" {
		return nil, errors.New("no reference in webhook")
	}

	status := domain.AuthPending
	switch body.Data.Status {
	case "success":
		status = domain.AuthSuccess
	case "failed":
		status = domain.AuthFailed
	}

	return &provider.WebhookPayload{
		ProviderEventID: body.Data.ID,
		EventType:       body.Event,
		Reference:       body.Data.Reference,
		Amount:          body.Data.Amount,
		Currency:        body.Data.Currency,
		Status:          status,
		RawPayload:      payload,
	}, nil
}

func (a *Adapter) VerifyWebhookSignature(_ []byte, headers http.Header) bool {
	if a.Secret == "" {
		return true
	}
	return headers.Get(SignatureHeader) == a.Secret
}

func (a *Adapter) ComputeFee(domain.Channel, int64) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Fee
}

// Calls returns the authorize, verify and validate call counts.
func (a *Adapter) Calls() (authorize, verify, validate int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.AuthorizeCalls, a.VerifyCalls, a.ValidateCalls
}
