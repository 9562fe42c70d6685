package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/punchamoorthee/paycore/internal/domain"
	"github.com/punchamoorthee/paycore/internal/models"
	"github.com/punchamoorthee/paycore/internal/provider"
	"github.com/punchamoorthee/paycore/internal/service"
)

// maxWebhookBody caps inbound provider payloads.
const maxWebhookBody = 1 << 20

type Handler struct {
	payments   *service.Payments
	authorizer *service.Authorizer
	webhooks   *service.Webhooks
	log        *slog.Logger
}

func NewHandler(payments *service.Payments, authorizer *service.Authorizer, webhooks *service.Webhooks, log *slog.Logger) *Handler {
	return &Handler{payments: payments, authorizer: authorizer, webhooks: webhooks, log: log}
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) CreatePaymentHandler(w http.ResponseWriter, r *http.Request) {
	var req models.PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}

	out, err := h.payments.Request(r.Context(), authFrom(r), service.PaymentRequest{
		Amount:    req.Amount,
		Currency:  req.Currency,
		Reference: req.Reference,
		Bearer:    domain.FeeBearer(req.Bearer),
		Email:     req.Email,
		Phone:     req.Phone,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Metadata:  req.Metadata,
	})
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/v1/payments/"+out.Intent.Reference)
	respondWithJSON(w, http.StatusCreated, toPayment(out))
}

func (h *Handler) GetPaymentHandler(w http.ResponseWriter, r *http.Request) {
	out, err := h.payments.Lookup(r.Context(), authFrom(r), mux.Vars(r)["reference"])
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, toPayment(out))
}

// AuthorizePaymentHandler takes {"channel": ..., "card": {...}}. The card
// object is passed to the provider as the card channel's details.
func (h *Handler) AuthorizePaymentHandler(w http.ResponseWriter, r *http.Request) {
	var req models.AuthorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	if req.Channel == "" {
		respondWithError(w, http.StatusBadRequest, "channel is required")
		return
	}

	var details map[string]any
	if domain.Channel(req.Channel) == domain.ChannelCard {
		details = req.Card
	}

	res, err := h.authorizer.Authorize(r.Context(), authFrom(r), mux.Vars(r)["reference"], domain.Channel(req.Channel), details)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	h.respondWithResult(w, res)
}

func (h *Handler) ValidatePaymentHandler(w http.ResponseWriter, r *http.Request) {
	var req models.ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}

	res, err := h.authorizer.Validate(r.Context(), authFrom(r), mux.Vars(r)["reference"], provider.ValidateRequest{
		PIN:      req.PIN,
		OTP:      req.OTP,
		Phone:    req.Phone,
		Birthday: req.Birthday,
		Address:  req.Address,
	})
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	h.respondWithResult(w, res)
}

func (h *Handler) GetTransactionHandler(w http.ResponseWriter, r *http.Request) {
	out, err := h.payments.Transaction(r.Context(), authFrom(r), mux.Vars(r)["reference"])
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, toTransaction(out))
}

func (h *Handler) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid account id")
		return
	}

	st, err := h.payments.Account(r.Context(), authFrom(r), id)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.Account{
		ID:              st.Account.ID,
		Type:            string(st.Account.Type),
		Currency:        st.Account.Currency,
		Balance:         st.Account.Balance,
		ComputedBalance: st.Computed,
	})
}

func (h *Handler) GetAccountEntriesHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid account id")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := h.payments.AccountEntries(r.Context(), authFrom(r), id, limit)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, toEntries(entries))
}

// WebhookHandler stores the delivery and answers before it is processed.
func (h *Handler) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Unreadable body")
		return
	}

	if _, err := h.webhooks.Ingest(r.Context(), mux.Vars(r)["provider"], body, r.Header); err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.WebhookAck{Message: "received"})
}

func (h *Handler) respondWithResult(w http.ResponseWriter, res service.Result) {
	if res.Action() != "" {
		respondWithJSON(w, http.StatusOK, toAction(res))
		return
	}
	respondWithJSON(w, http.StatusOK, toResult(res))
}

// respondWithServiceError maps the service error taxonomy onto status codes.
// Unexpected errors are logged and hidden from the caller.
func (h *Handler) respondWithServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		respondWithError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrPrecondition):
		respondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrInvalidSignature):
		respondWithError(w, http.StatusUnauthorized, "Invalid signature")
	case errors.Is(err, domain.ErrProviderUnavailable):
		respondWithError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, domain.ErrProviderCall):
		respondWithError(w, http.StatusBadGateway, "Payment provider did not respond, the payment is pending")
	default:
		h.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
	}
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
