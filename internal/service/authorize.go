package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/punchamoorthee/paycore/internal/domain"
	"github.com/punchamoorthee/paycore/internal/events"
	"github.com/punchamoorthee/paycore/internal/fees"
	"github.com/punchamoorthee/paycore/internal/provider"
	"github.com/punchamoorthee/paycore/internal/store"
)

// Result is the state of a payment after an authorize or validate call.
type Result struct {
	Intent      domain.PaymentIntent
	Customer    domain.Customer
	Attempt     domain.AuthorizationAttempt
	Transaction *domain.Transaction
	// Replayed is set when an existing attempt was returned unchanged.
	Replayed bool
	Message  string
}

// Action is the follow-up the payer must take, or "" when the attempt needs
// none.
func (r Result) Action() string {
	return r.Attempt.Status.Action()
}

// Authorizer runs the synchronous authorize and validate paths.
type Authorizer struct {
	d       Deps
	settler *Settler
}

func NewAuthorizer(d Deps) *Authorizer {
	d = d.withDefaults()
	return &Authorizer{d: d, settler: NewSettler(d)}
}

// Authorize charges the payment identified by reference on channel, at most
// once per (payment, channel). A repeat call returns the existing attempt
// as long as it may still succeed.
//
// When the provider call itself fails the new attempt is kept as pending,
// for the sweeper to verify later, and the provider error is returned.
func (a *Authorizer) Authorize(ctx context.Context, auth domain.AuthContext, reference string, channel domain.Channel, details map[string]any) (Result, error) {
	if !channel.Valid() {
		return Result{}, precondition("unsupported channel %q", channel)
	}

	var (
		res       Result
		callErr   error
		published []events.PaymentSucceeded
	)
	err := a.d.Store.ExecTx(ctx, func(q store.Querier) error {
		res, callErr, published = Result{}, nil, nil

		intent, customer, err := a.lockIntent(ctx, q, auth, reference)
		if err != nil {
			return err
		}
		res.Intent, res.Customer = intent, customer

		key := store.CanonicalAttemptKey(intent.ID, channel)
		existing, err := q.GetAttemptByIdempotencyKey(ctx, key)
		switch {
		case err == nil && existing.Status.AwaitingConfirmation():
			res.Attempt, res.Replayed = existing, true
			return a.attachTransaction(ctx, q, &res)
		case err == nil:
			return precondition("payment authorization on %s has already failed", channel)
		case !errors.Is(err, domain.ErrNotFound):
			return fmt.Errorf("load attempt %s: %w", key, err)
		}

		switch intent.Status {
		case domain.PaymentInitiated:
		case domain.PaymentSuccess:
			return precondition("payment has already been successful")
		default:
			return precondition("payment has already been authorized")
		}

		candidates, err := q.ListProviders(ctx)
		if err != nil {
			return fmt.Errorf("list providers: %w", err)
		}
		chosen, err := a.d.Providers.Select(candidates, channel)
		if err != nil {
			return err
		}
		adapter, err := a.d.Providers.Adapter(chosen.Identifier)
		if err != nil {
			return err
		}

		fee, err := fees.NewResolver(q).Resolve(ctx, intent, channel)
		if err != nil {
			return err
		}
		gross := fees.GrossAmount(intent.Bearer, intent.Amount, fee)

		attempt, err := q.CreateAttempt(ctx, domain.AuthorizationAttempt{
			PaymentIntentID:   intent.ID,
			ProviderID:        chosen.ID,
			Channel:           channel,
			ProviderReference: a.d.NewID(),
			Status:            domain.AuthPending,
			Fee:               fee,
			ProviderFee:       adapter.ComputeFee(channel, gross),
			Amount:            gross,
			Currency:          intent.Currency,
			IdempotencyKey:    key,
		})
		if errors.Is(err, domain.ErrDuplicate) {
			return precondition("payment authorization on %s is already in progress", channel)
		}
		if err != nil {
			return fmt.Errorf("create attempt: %w", err)
		}
		res.Attempt = attempt

		resp, err := a.d.callProvider(ctx, chosen.Identifier, "authorize", func(ctx context.Context) (*provider.Response, error) {
			return adapter.Authorize(ctx, provider.AuthorizeRequest{
				Reference: attempt.ProviderReference,
				Amount:    gross,
				Currency:  intent.Currency,
				Channel:   channel,
				Customer: provider.Customer{
					FirstName: customer.FirstName,
					LastName:  customer.LastName,
					Email:     customer.Email,
					Phone:     customer.Phone,
				},
				Metadata:       intent.Metadata,
				ChannelDetails: details,
			})
		})
		if err != nil {
			callErr = err
			a.d.Log.Warn("provider authorize failed, attempt left pending",
				"reference", intent.Reference,
				"attempt_id", attempt.ID,
				"provider", chosen.Identifier,
				"error", err,
			)
			return nil
		}

		res, published, err = a.apply(ctx, q, "authorize", res, attempt, resp)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	if callErr != nil {
		authorizationsTotal.WithLabelValues("authorize", "provider_error").Inc()
		return res, callErr
	}

	a.d.publish(ctx, published)
	return res, nil
}

// Validate submits one validation field for the latest open attempt of the
// payment. Each round is recorded as a new attempt that reuses the provider
// reference and carries the fee and amount forward.
func (a *Authorizer) Validate(ctx context.Context, auth domain.AuthContext, reference string, req provider.ValidateRequest) (Result, error) {
	field, _, err := req.Field()
	if err != nil {
		return Result{}, precondition("%v", err)
	}

	var (
		res       Result
		callErr   error
		published []events.PaymentSucceeded
	)
	err = a.d.Store.ExecTx(ctx, func(q store.Querier) error {
		res, callErr, published = Result{}, nil, nil

		intent, customer, err := a.lockIntent(ctx, q, auth, reference)
		if err != nil {
			return err
		}
		res.Intent, res.Customer = intent, customer

		switch intent.Status {
		case domain.PaymentSuccess:
			return precondition("payment has already been successful")
		case domain.PaymentFailed, domain.PaymentReversed:
			return precondition("payment has already %s", intent.Status)
		}

		latest, err := q.LatestOpenAttempt(ctx, intent.ID)
		if errors.Is(err, domain.ErrNotFound) {
			return precondition("no pending authorization attempt found")
		}
		if err != nil {
			return fmt.Errorf("latest open attempt: %w", err)
		}

		p, adapter, err := a.d.adapterFor(ctx, q, latest.ProviderID)
		if err != nil {
			return err
		}

		attempt, err := q.CreateAttempt(ctx, domain.AuthorizationAttempt{
			PaymentIntentID:   intent.ID,
			ProviderID:        latest.ProviderID,
			Channel:           latest.Channel,
			ProviderReference: latest.ProviderReference,
			Status:            domain.AuthPending,
			Fee:               latest.Fee,
			ProviderFee:       latest.ProviderFee,
			Amount:            latest.Amount,
			Currency:          latest.Currency,
			IdempotencyKey:    store.ValidationAttemptKey(intent.ID, a.d.NewID()),
		})
		if err != nil {
			return fmt.Errorf("create validation attempt: %w", err)
		}
		res.Attempt = attempt

		resp, err := a.d.callProvider(ctx, p.Identifier, "validate", func(ctx context.Context) (*provider.Response, error) {
			return adapter.Validate(ctx, latest.ProviderReference, req)
		})
		if err != nil {
			callErr = err
			a.d.Log.Warn("provider validate failed, attempt left pending",
				"reference", intent.Reference,
				"attempt_id", attempt.ID,
				"field", field,
				"error", err,
			)
			return nil
		}

		res, published, err = a.apply(ctx, q, "validate", res, attempt, resp)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	if callErr != nil {
		authorizationsTotal.WithLabelValues("validate", "provider_error").Inc()
		return res, callErr
	}

	a.d.publish(ctx, published)
	return res, nil
}

// lockIntent locks the payment for auth's business. A payment created in
// the other mode is reported as missing.
func (a *Authorizer) lockIntent(ctx context.Context, q store.Querier, auth domain.AuthContext, reference string) (domain.PaymentIntent, domain.Customer, error) {
	intent, err := q.LockPaymentIntentByReference(ctx, auth.BusinessID, reference)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && auth.Mode != "" && intent.Mode != auth.Mode) {
		return intent, domain.Customer{}, notFound("payment %s not found", reference)
	}
	if err != nil {
		return intent, domain.Customer{}, fmt.Errorf("lock payment %s: %w", reference, err)
	}

	customer, err := q.GetCustomer(ctx, intent.CustomerID)
	if err != nil {
		return intent, customer, fmt.Errorf("load customer %d: %w", intent.CustomerID, err)
	}
	return intent, customer, nil
}

func (a *Authorizer) attachTransaction(ctx context.Context, q store.Querier, res *Result) error {
	if res.Intent.Status != domain.PaymentSuccess {
		return nil
	}
	txn, err := q.GetTransactionByReference(ctx, res.Intent.BusinessID, res.Intent.Reference)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load transaction: %w", err)
	}
	res.Transaction = &txn
	return nil
}

// apply records the provider's answer on attempt and settles or fails the
// payment when the answer is terminal.
func (a *Authorizer) apply(ctx context.Context, q store.Querier, op string, res Result, attempt domain.AuthorizationAttempt, resp *provider.Response) (Result, []events.PaymentSucceeded, error) {
	if resp.ProviderReference != "" {
		attempt.ProviderReference = resp.ProviderReference
	}
	if resp.BankDetails != nil {
		attempt.BankDetails = resp.BankDetails
	}
	if len(resp.RawResponse) > 0 {
		attempt.RawResponse = resp.RawResponse
	}
	res.Message = resp.Message

	if resp.Status != attempt.Status {
		next, err := attempt.Status.TransitionTo(resp.Status)
		if err != nil {
			return res, nil, err
		}
		attempt.Status = next
	}
	authorizationsTotal.WithLabelValues(op, string(attempt.Status)).Inc()

	var published []events.PaymentSucceeded
	switch attempt.Status {
	case domain.AuthSuccess:
		settled, err := a.settler.SettleTx(ctx, q, res.Intent, attempt)
		if err != nil {
			return res, nil, err
		}
		res.Intent, res.Attempt = settled.Intent, settled.Attempt
		res.Transaction = &settled.Transaction
		if settled.Posted {
			published = append(published, settled.event(a.d.Now))
		}

	case domain.AuthFailed:
		intent, failed, err := a.settler.FailTx(ctx, q, res.Intent, attempt)
		if err != nil {
			return res, nil, err
		}
		res.Intent, res.Attempt = intent, failed

	default:
		updated, err := q.UpdateAttempt(ctx, attempt)
		if err != nil {
			return res, nil, fmt.Errorf("update attempt %d: %w", attempt.ID, err)
		}
		res.Attempt = updated
	}

	a.d.Log.Info("authorization recorded",
		"op", op,
		"reference", res.Intent.Reference,
		"attempt_id", res.Attempt.ID,
		"status", res.Attempt.Status,
	)
	return res, published, nil
}
