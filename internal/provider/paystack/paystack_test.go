package paystack

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/paycore/internal/domain"
	"github.com/punchamoorthee/paycore/internal/provider"
)

func newTestAdapter(t *testing.T, h http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{SecretKey: "sk_test", BaseURL: srv.URL, Timeout: time.Second})
}

func TestAuthorizeMapsChargeStatus(t *testing.T) {
	tests := []struct {
		status string
		want   domain.AuthorizationStatus
	}{
		{"success", domain.AuthSuccess},
		{"failed", domain.AuthFailed},
		{"send_pin", domain.AuthPendingPin},
		{"send_otp", domain.AuthPendingOtp},
		{"pay_offline", domain.AuthPendingTransfer},
		{"open_url", domain.AuthPending},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			var got map[string]any
			a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/charge", r.URL.Path)
				assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
				require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
				w.Write([]byte(`{"status":true,"message":"Charge attempted","data":{"reference":"PSK_1","status":"` + tt.status + `"}}`))
			})

			resp, err := a.Authorize(context.Background(), provider.AuthorizeRequest{
				Reference: "ref-1",
				Amount:    10000,
				Currency:  "NGN",
				Channel:   domain.ChannelCard,
				Customer:  provider.Customer{Email: "ada@example.com"},
				ChannelDetails: map[string]any{
					"number": "4084084084084081",
				},
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.Status)
			assert.Equal(t, "PSK_1", resp.ProviderReference)
			assert.Equal(t, "ada@example.com", got["email"])
			assert.Equal(t, float64(10000), got["amount"])
			assert.Equal(t, map[string]any{"number": "4084084084084081"}, got["card"])
		})
	}
}

func TestAuthorizeBankTransferReturnsDetails(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":true,"message":"ok","data":{"reference":"ref-2","status":"pending","account_expires_at":"2026-10-18T12:00:00Z","bank":{"name":"Wema","account_number":"0123456789","account_name":"PAYCORE/ADA"}}}`))
	})

	resp, err := a.Authorize(context.Background(), provider.AuthorizeRequest{Reference: "ref-2", Channel: domain.ChannelBankTransfer})
	require.NoError(t, err)
	assert.Equal(t, domain.AuthPendingTransfer, resp.Status)
	require.NotNil(t, resp.BankDetails)
	assert.Equal(t, "0123456789", resp.BankDetails.AccountNumber)
	assert.Equal(t, "Wema", resp.BankDetails.BankName)
	require.NotNil(t, resp.BankDetails.ExpiresAt)
}

func TestAuthorizeClientErrorIsFailedResponse(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"status":false,"message":"Invalid card"}`))
	})

	resp, err := a.Authorize(context.Background(), provider.AuthorizeRequest{Reference: "ref-3", Channel: domain.ChannelCard})
	require.NoError(t, err)
	assert.Equal(t, domain.AuthFailed, resp.Status)
	assert.Equal(t, "Invalid card", resp.Message)
}

func TestServerErrorIsProviderCallError(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := a.Authorize(context.Background(), provider.AuthorizeRequest{Reference: "ref-4"})
	assert.ErrorIs(t, err, domain.ErrProviderCall)

	_, err = a.VerifyTransaction(context.Background(), "ref-4")
	assert.ErrorIs(t, err, domain.ErrProviderCall)
}

func TestVerifyTransaction(t *testing.T) {
	tests := map[string]domain.AuthorizationStatus{
		"success":   domain.AuthSuccess,
		"abandoned": domain.AuthFailed,
		"ongoing":   domain.AuthPending,
	}
	for status, want := range tests {
		a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/transaction/verify/ref-5", r.URL.Path)
			w.Write([]byte(`{"status":true,"message":"Verification successful","data":{"reference":"ref-5","status":"` + status + `"}}`))
		})
		resp, err := a.VerifyTransaction(context.Background(), "ref-5")
		require.NoError(t, err)
		assert.Equal(t, want, resp.Status, status)
	}
}

func TestValidateUsesFieldEndpoint(t *testing.T) {
	var path string
	var body map[string]any
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(b, &body))
		w.Write([]byte(`{"status":true,"message":"Charge attempted","data":{"reference":"ref-6","status":"send_otp"}}`))
	})

	resp, err := a.Validate(context.Background(), "ref-6", provider.ValidateRequest{PIN: "1234"})
	require.NoError(t, err)
	assert.Equal(t, "/charge/submit_pin", path)
	assert.Equal(t, "1234", body["pin"])
	assert.Equal(t, "ref-6", body["reference"])
	assert.Equal(t, domain.AuthPendingOtp, resp.Status)

	_, err = a.Validate(context.Background(), "ref-6", provider.ValidateRequest{})
	assert.ErrorIs(t, err, provider.ErrValidationField)
}

func TestWebhookSignature(t *testing.T) {
	a := New(Config{SecretKey: "sk_test"})
	payload := []byte(`{"event":"charge.success","data":{"id":42,"reference":"ref-7","amount":10000,"currency":"NGN","status":"success"}}`)

	h := http.Header{}
	h.Set(SignatureHeader, hex.EncodeToString(Sign("sk_test", payload)))
	assert.True(t, a.VerifyWebhookSignature(payload, h))

	h.Set(SignatureHeader, hex.EncodeToString(Sign("other", payload)))
	assert.False(t, a.VerifyWebhookSignature(payload, h))

	assert.False(t, a.VerifyWebhookSignature(payload, http.Header{}))
}

func TestNormalizeWebhook(t *testing.T) {
	a := New(Config{})
	payload := []byte(`{"event":"charge.success","data":{"id":42,"reference":"ref-7","amount":10000,"currency":"NGN","status":"success"}}`)

	got, err := a.NormalizeWebhook(payload)
	require.NoError(t, err)
	assert.Equal(t, "42", got.ProviderEventID)
	assert.Equal(t, "charge.success", got.EventType)
	assert.Equal(t, "ref-7", got.Reference)
	assert.Equal(t, int64(10000), got.Amount)
	assert.Equal(t, domain.AuthSuccess, got.Status)

	stringID, err := a.NormalizeWebhook([]byte(`{"event":"charge.success","data":{"id":"evt_abc","reference":"ref-9","status":"success"}}`))
	require.NoError(t, err)
	assert.Equal(t, "evt_abc", stringID.ProviderEventID)
	assert.Equal(t, "ref-9", stringID.Reference)

	nullID, err := a.NormalizeWebhook([]byte(`{"event":"charge.success","data":{"id":null,"reference":"ref-10","status":"success"}}`))
	require.NoError(t, err)
	assert.Equal(t, "charge.success:ref-10", nullID.ProviderEventID)

	noID, err := a.NormalizeWebhook([]byte(`{"event":"charge.failed","data":{"reference":"ref-8","status":"failed"}}`))
	require.NoError(t, err)
	assert.Equal(t, "charge.failed:ref-8", noID.ProviderEventID)
	assert.Equal(t, domain.AuthFailed, noID.Status)

	_, err = a.NormalizeWebhook([]byte(`{"event":"charge.success","data":{}}`))
	assert.Error(t, err)

	_, err = a.NormalizeWebhook([]byte(`{"event":"charge.success","data":{"id":{"x":1},"reference":"ref-11"}}`))
	assert.Error(t, err)
}

func TestComputeFee(t *testing.T) {
	a := New(Config{})
	assert.Equal(t, int64(1500), a.ComputeFee(domain.ChannelCard, 100000))
	assert.Equal(t, int64(3750+10000), a.ComputeFee(domain.ChannelCard, 250000))
	assert.Equal(t, int64(200000), a.ComputeFee(domain.ChannelCard, 50_000_000))
}
