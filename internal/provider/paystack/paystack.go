// Package paystack implements provider.Adapter against the Paystack charge API.
package paystack

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/punchamoorthee/paycore/internal/domain"
	"github.com/punchamoorthee/paycore/internal/provider"
)

const (
	Identifier     = "paystack"
	DefaultBaseURL = "https://api.paystack.co"

	SignatureHeader = "X-Paystack-Signature"
)

// Local pricing in kobo.
const (
	feeBasisPoints  = 150
	flatFee         = 10000
	flatFeeWaiverAt = 250000
	feeCap          = 200000
)

type Config struct {
	SecretKey string
	BaseURL   string
	Timeout   time.Duration
}

type Adapter struct {
	secret  string
	baseURL string
	client  *http.Client
}

func New(cfg Config) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Adapter{
		secret:  cfg.SecretKey,
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type chargeData struct {
	Reference        string `json:"reference"`
	Status           string `json:"status"`
	DisplayText      string `json:"display_text"`
	AccountExpiresAt string `json:"account_expires_at"`
	Bank             *struct {
		Name          string `json:"name"`
		AccountNumber string `json:"account_number"`
		AccountName   string `json:"account_name"`
	} `json:"bank"`
}

func (a *Adapter) Authorize(ctx context.Context, req provider.AuthorizeRequest) (*provider.Response, error) {
	payload := map[string]any{
		"email":     req.Customer.Email,
		"amount":    req.Amount,
		"currency":  req.Currency,
		"reference": req.Reference,
	}
	if len(req.Metadata) > 0 {
		payload["metadata"] = req.Metadata
	}
	switch req.Channel {
	case domain.ChannelCard:
		if len(req.ChannelDetails) > 0 {
			payload["card"] = req.ChannelDetails
		}
	case domain.ChannelBankTransfer:
		payload["bank_transfer"] = map[string]any{}
	}

	env, code, err := a.do(ctx, http.MethodPost, "/charge", payload)
	if err != nil {
		return nil, err
	}
	if code >= 400 {
		return &provider.Response{
			Status:            domain.AuthFailed,
			ProviderReference: req.Reference,
			Message:           env.Message,
			RawResponse:       env.Data,
		}, nil
	}
	return a.chargeResponse(env, req.Reference)
}

func (a *Adapter) VerifyTransaction(ctx context.Context, reference string) (*provider.Response, error) {
	env, code, err := a.do(ctx, http.MethodGet, "/transaction/verify/"+reference, nil)
	if err != nil {
		return nil, err
	}
	if code >= 400 {
		return nil, fmt.Errorf("%w: verify %s returned %d: %s", domain.ErrProviderCall, reference, code, env.Message)
	}

	var data chargeData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("%w: decode verify data: %v", domain.ErrProviderCall, err)
	}

	status := domain.AuthPending
	switch data.Status {
	case "success":
		status = domain.AuthSuccess
	case "failed", "abandoned", "reversed":
		status = domain.AuthFailed
	}
	if data.Reference == "" {
		data.Reference = reference
	}
	return &provider.Response{
		Status:            status,
		ProviderReference: data.Reference,
		Message:           env.Message,
		RawResponse:       env.Data,
	}, nil
}

var validateEndpoints = map[string]string{
	"pin":      "/charge/submit_pin",
	"otp":      "/charge/submit_otp",
	"phone":    "/charge/submit_phone",
	"birthday": "/charge/submit_birthday",
	"address":  "/charge/submit_address",
}

func (a *Adapter) Validate(ctx context.Context, reference string, req provider.ValidateRequest) (*provider.Response, error) {
	field, value, err := req.Field()
	if err != nil {
		return nil, err
	}

	env, code, err := a.do(ctx, http.MethodPost, validateEndpoints[field], map[string]any{
		"reference": reference,
		field:       value,
	})
	if err != nil {
		return nil, err
	}
	if code >= 400 {
		return &provider.Response{
			Status:            domain.AuthFailed,
			ProviderReference: reference,
			Message:           env.Message,
			RawResponse:       env.Data,
		}, nil
	}
	return a.chargeResponse(env, reference)
}

func (a *Adapter) chargeResponse(env *envelope, fallbackRef string) (*provider.Response, error) {
	var data chargeData
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, fmt.Errorf("%w: decode charge data: %v", domain.ErrProviderCall, err)
		}
	}

	resp := &provider.Response{
		Status:            chargeStatus(data.Status),
		ProviderReference: data.Reference,
		Message:           env.Message,
		RawResponse:       env.Data,
	}
	if resp.ProviderReference == "" {
		resp.ProviderReference = fallbackRef
	}
	if data.DisplayText != "" {
		resp.Message = data.DisplayText
	}
	if data.Bank != nil {
		bd := &domain.BankDetails{
			AccountNumber: data.Bank.AccountNumber,
			BankName:      data.Bank.Name,
			AccountName:   data.Bank.AccountName,
		}
		if ts, err := time.Parse(time.RFC3339, data.AccountExpiresAt); err == nil {
			bd.ExpiresAt = &ts
		}
		resp.BankDetails = bd
		if resp.Status == domain.AuthPending {
			resp.Status = domain.AuthPendingTransfer
		}
	}
	return resp, nil
}

func chargeStatus(s string) domain.AuthorizationStatus {
	switch s {
	case "success":
		return domain.AuthSuccess
	case "failed":
		return domain.AuthFailed
	case "send_pin":
		return domain.AuthPendingPin
	case "send_otp":
		return domain.AuthPendingOtp
	case "pending_bank_transfer", "pay_offline":
		return domain.AuthPendingTransfer
	default:
		return domain.AuthPending
	}
}

func (a *Adapter) do(ctx context.Context, method, path string, payload any) (*envelope, int, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+a.secret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %s %s: %v", domain.ErrProviderCall, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, resp.StatusCode, fmt.Errorf("%w: %s %s returned %d", domain.ErrProviderCall, method, path, resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: decode %s response: %v", domain.ErrProviderCall, path, err)
	}
	return &env, resp.StatusCode, nil
}

type webhookBody struct {
	Event string `json:"event"`
	Data  struct {
		ID        webhookID `json:"id"`
		Reference string    `json:"reference"`
		Amount    int64     `json:"amount"`
		Currency  string    `json:"currency"`
		Status    string    `json:"status"`
	} `json:"data"`
}

// webhookID accepts data.id as a JSON number or a JSON string.
type webhookID string

func (id *webhookID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*id = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = webhookID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("data.id is neither a string nor a number: %s", b)
	}
	*id = webhookID(n.String())
	return nil
}

func (a *Adapter) NormalizeWebhook(payload []byte) (*provider.WebhookPayload, error) {
	var body webhookBody
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("decode paystack webhook: %w", err)
	}
	if body.Data.Reference == "" {
		return nil, fmt.Errorf("paystack webhook %q has no reference", body.Event)
	}

	eventID := string(body.Data.ID)
	if eventID == "" {
		eventID = body.Event + ":" + body.Data.Reference
	}
	currency := body.Data.Currency
	if currency == "" {
		currency = domain.DefaultCurrency
	}

	status := domain.AuthPending
	switch body.Data.Status {
	case "success":
		status = domain.AuthSuccess
	case "failed":
		status = domain.AuthFailed
	}

	return &provider.WebhookPayload{
		ProviderEventID: eventID,
		EventType:       body.Event,
		Reference:       body.Data.Reference,
		Amount:          body.Data.Amount,
		Currency:        currency,
		Status:          status,
		RawPayload:      payload,
	}, nil
}

// VerifyWebhookSignature checks the HMAC-SHA512 of the raw body.
func (a *Adapter) VerifyWebhookSignature(payload []byte, headers http.Header) bool {
	got, err := hex.DecodeString(headers.Get(SignatureHeader))
	if err != nil || len(got) == 0 {
		return false
	}
	return hmac.Equal(got, Sign(a.secret, payload))
}

// Sign returns the raw HMAC-SHA512 of payload under secret.
func Sign(secret string, payload []byte) []byte {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(payload)
	return mac.Sum(nil)
}

func (a *Adapter) ComputeFee(_ domain.Channel, amount int64) int64 {
	fee := amount * feeBasisPoints / 10000
	if amount >= flatFeeWaiverAt {
		fee += flatFee
	}
	if fee > feeCap {
		fee = feeCap
	}
	return fee
}
