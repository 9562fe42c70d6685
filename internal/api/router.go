package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/punchamoorthee/paycore/internal/domain"
)

const (
	HeaderBusinessID  = "X-Business-ID"
	HeaderPaymentMode = "X-Payment-Mode"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paycore_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "paycore_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"method", "endpoint"})
)

// NewRouter wires every route. defaultMode applies to requests that do not
// send X-Payment-Mode.
func NewRouter(h *Handler, defaultMode domain.Mode) *mux.Router {
	r := mux.NewRouter()
	r.Use(instrument)

	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheckHandler).Methods("GET")
	r.HandleFunc("/webhooks/{provider}", h.WebhookHandler).Methods("POST")

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.Use(authenticate(defaultMode))
	apiV1.HandleFunc("/payments", h.CreatePaymentHandler).Methods("POST")
	apiV1.HandleFunc("/payments/{reference}", h.GetPaymentHandler).Methods("GET")
	apiV1.HandleFunc("/payments/{reference}/authorize", h.AuthorizePaymentHandler).Methods("POST")
	apiV1.HandleFunc("/payments/{reference}/validate", h.ValidatePaymentHandler).Methods("POST")
	apiV1.HandleFunc("/transactions/{reference}", h.GetTransactionHandler).Methods("GET")
	apiV1.HandleFunc("/ledger/accounts/{id}", h.GetAccountHandler).Methods("GET")
	apiV1.HandleFunc("/ledger/accounts/{id}/entries", h.GetAccountEntriesHandler).Methods("GET")

	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// instrument records request counts and latency per route template.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}

		timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues(r.Method, endpoint))
		defer timer.ObserveDuration()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		httpRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
	})
}

type authKey struct{}

// authenticate builds the request's AuthContext from the business and mode
// headers. Key verification happens in front of this service.
func authenticate(defaultMode domain.Mode) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := strconv.ParseInt(r.Header.Get(HeaderBusinessID), 10, 64)
			if err != nil || id <= 0 {
				respondWithError(w, http.StatusUnauthorized, "Missing or invalid "+HeaderBusinessID+" header")
				return
			}

			mode := domain.Mode(r.Header.Get(HeaderPaymentMode))
			if mode == "" {
				mode = defaultMode
			}
			if !mode.Valid() {
				respondWithError(w, http.StatusBadRequest, "Payment mode must be test or live")
				return
			}

			auth := domain.AuthContext{BusinessID: id, Mode: mode, Actor: "business:" + strconv.FormatInt(id, 10)}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), authKey{}, auth)))
		})
	}
}

func authFrom(r *http.Request) domain.AuthContext {
	auth, _ := r.Context().Value(authKey{}).(domain.AuthContext)
	return auth
}
