package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/punchamoorthee/paycore/internal/domain"
	"github.com/punchamoorthee/paycore/internal/queue"
	"github.com/punchamoorthee/paycore/internal/store"
)

// Feedback notes stored on processed webhook events.
const (
	FeedbackProcessed        = "payment processed"
	FeedbackFailed           = "payment failed"
	FeedbackAlreadyProcessed = "payment already processed"
	FeedbackFinalized        = "payment already finalized"
)

func feedbackNoAttempt(reference string) string {
	return fmt.Sprintf("no payment attempt with reference [%s] found", reference)
}

// IngestResult describes a received webhook delivery.
type IngestResult struct {
	Event     domain.WebhookEvent
	Duplicate bool
}

// Webhooks stores provider callbacks and reconciles them against attempts.
type Webhooks struct {
	d          Deps
	settler    *Settler
	dispatcher queue.Dispatcher
}

func NewWebhooks(d Deps, dispatcher queue.Dispatcher) *Webhooks {
	d = d.withDefaults()
	return &Webhooks{d: d, settler: NewSettler(d), dispatcher: dispatcher}
}

// SetDispatcher replaces the queue events are handed to after storage.
func (w *Webhooks) SetDispatcher(dispatcher queue.Dispatcher) {
	w.dispatcher = dispatcher
}

// Ingest authenticates and stores one delivery from providerIdentifier, then
// queues it for processing. The raw payload is stored before anything else
// is done with it. A delivery whose (provider, event id) was seen before is
// reported as a duplicate and not queued again.
func (w *Webhooks) Ingest(ctx context.Context, providerIdentifier string, payload []byte, headers http.Header) (IngestResult, error) {
	adapter, err := w.d.Providers.Adapter(providerIdentifier)
	if err != nil {
		webhooksTotal.WithLabelValues("unknown_provider").Inc()
		return IngestResult{}, err
	}
	if !adapter.VerifyWebhookSignature(payload, headers) {
		webhooksTotal.WithLabelValues("bad_signature").Inc()
		return IngestResult{}, fmt.Errorf("%w: webhook from %s", domain.ErrInvalidSignature, providerIdentifier)
	}

	ev := domain.WebhookEvent{
		Provider:   providerIdentifier,
		RawPayload: append([]byte(nil), payload...),
		ReceivedAt: w.d.Now(),
	}

	normalized, normErr := adapter.NormalizeWebhook(payload)
	if normErr != nil {
		now := w.d.Now()
		ev.ProcessedAt = &now
		ev.Feedback = "unreadable payload: " + normErr.Error()
	} else {
		ev.ProviderEventID = normalized.ProviderEventID
		ev.EventType = normalized.EventType
	}

	stored, inserted, err := w.d.Store.InsertWebhookEvent(ctx, ev)
	if err != nil {
		webhooksTotal.WithLabelValues("error").Inc()
		return IngestResult{}, fmt.Errorf("store webhook event: %w", err)
	}
	if !inserted {
		webhooksTotal.WithLabelValues("duplicate").Inc()
		w.d.Log.Info("duplicate webhook ignored",
			"provider", providerIdentifier,
			"provider_event_id", stored.ProviderEventID,
			"event_id", stored.ID,
		)
		return IngestResult{Event: stored, Duplicate: true}, nil
	}

	if normErr != nil {
		webhooksTotal.WithLabelValues("unreadable").Inc()
		w.d.Log.Warn("unreadable webhook stored", "provider", providerIdentifier, "event_id", stored.ID, "error", normErr)
		return IngestResult{Event: stored}, nil
	}

	webhooksTotal.WithLabelValues("received").Inc()
	if w.dispatcher != nil {
		if err := w.dispatcher.Dispatch(ctx, stored.ID); err != nil {
			w.d.Log.Warn("webhook not queued, left for the sweeper", "event_id", stored.ID, "error", err)
		}
	}
	return IngestResult{Event: stored}, nil
}

// Process reconciles one stored event. It re-verifies the payment with the
// provider before settling and never trusts the payload's own status.
//
// Events with no matching attempt, or for a payment already finalized, are
// marked processed with a feedback note. A verification error, or a
// provider that still reports the payment as pending, leaves the event
// unprocessed for a later retry.
func (w *Webhooks) Process(ctx context.Context, eventID int64) error {
	ev, err := w.d.Store.GetWebhookEvent(ctx, eventID)
	if err != nil {
		return fmt.Errorf("load webhook event %d: %w", eventID, err)
	}
	if ev.ProcessedAt != nil {
		return nil
	}
	log := w.d.Log.With("event_id", ev.ID, "provider", ev.Provider)

	adapter, err := w.d.Providers.Adapter(ev.Provider)
	if err != nil {
		return w.markProcessed(ctx, ev.ID, "unknown provider "+ev.Provider)
	}
	payload, err := adapter.NormalizeWebhook(ev.RawPayload)
	if err != nil {
		return w.markProcessed(ctx, ev.ID, "unreadable payload: "+err.Error())
	}
	log = log.With("reference", payload.Reference)

	attempt, err := w.d.Store.LatestAttemptByProviderReference(ctx, payload.Reference, domain.AwaitingConfirmationStatuses())
	if errors.Is(err, domain.ErrNotFound) {
		log.Info("webhook matched no attempt")
		return w.markProcessed(ctx, ev.ID, feedbackNoAttempt(payload.Reference))
	}
	if err != nil {
		return fmt.Errorf("find attempt %s: %w", payload.Reference, err)
	}

	intent, err := w.d.Store.GetPaymentIntent(ctx, attempt.PaymentIntentID)
	if err != nil {
		return fmt.Errorf("load payment intent %d: %w", attempt.PaymentIntentID, err)
	}
	if intent.Status == domain.PaymentSuccess {
		return w.markProcessed(ctx, ev.ID, FeedbackAlreadyProcessed)
	}

	outcome, err := w.settler.VerifyAndSettle(ctx, attempt, func(ctx context.Context, q store.Querier, outcome Outcome) error {
		var feedback string
		switch outcome {
		case OutcomeSettled:
			feedback = FeedbackProcessed
		case OutcomeAlreadySettled:
			feedback = FeedbackAlreadyProcessed
		case OutcomeFailed:
			feedback = FeedbackFailed
		case OutcomeFinalized:
			feedback = FeedbackFinalized
		default:
			return nil
		}
		locked, err := q.LockWebhookEvent(ctx, ev.ID)
		if err != nil {
			return fmt.Errorf("lock webhook event: %w", err)
		}
		if locked.ProcessedAt != nil {
			return nil
		}
		return q.MarkWebhookProcessed(ctx, ev.ID, feedback, w.d.Now())
	})
	if err != nil {
		webhooksTotal.WithLabelValues("verify_error").Inc()
		log.Warn("webhook left unprocessed", "error", err)
		return err
	}

	webhooksTotal.WithLabelValues(outcome.String()).Inc()
	log.Info("webhook reconciled", "outcome", outcome.String())
	return nil
}

func (w *Webhooks) markProcessed(ctx context.Context, id int64, feedback string) error {
	if err := w.d.Store.MarkWebhookProcessed(ctx, id, feedback, w.d.Now()); err != nil {
		return fmt.Errorf("mark webhook event %d: %w", id, err)
	}
	webhooksTotal.WithLabelValues("skipped").Inc()
	return nil
}
