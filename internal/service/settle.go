package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/punchamoorthee/paycore/internal/domain"
	"github.com/punchamoorthee/paycore/internal/events"
	"github.com/punchamoorthee/paycore/internal/fees"
	"github.com/punchamoorthee/paycore/internal/ledger"
	"github.com/punchamoorthee/paycore/internal/provider"
	"github.com/punchamoorthee/paycore/internal/store"
)

// Settled is the result of running settlement for one attempt.
type Settled struct {
	Intent      domain.PaymentIntent
	Attempt     domain.AuthorizationAttempt
	Transaction domain.Transaction
	// Posted is false when the transaction already carried entries and
	// nothing new was written.
	Posted bool
}

func (s Settled) event(now func() time.Time) events.PaymentSucceeded {
	return events.PaymentSucceeded{
		Type:          events.TypePaymentSucceeded,
		BusinessID:    s.Intent.BusinessID,
		Reference:     s.Intent.Reference,
		TransactionID: s.Transaction.ID,
		Amount:        s.Intent.Amount,
		Fee:           s.Attempt.Fee,
		Currency:      s.Intent.Currency,
		Channel:       string(s.Attempt.Channel),
		Mode:          string(s.Intent.Mode),
		OccurredAt:    now(),
	}
}

// Settler turns successful attempts into ledger postings and final statuses.
type Settler struct {
	d Deps
}

func NewSettler(d Deps) *Settler {
	return &Settler{d: d.withDefaults()}
}

// SettleTx settles attempt for intent inside the caller's transaction. The
// caller must hold the intent lock. Running it again for a payment that
// already has ledger entries writes nothing.
func (s *Settler) SettleTx(ctx context.Context, q store.Querier, intent domain.PaymentIntent, attempt domain.AuthorizationAttempt) (Settled, error) {
	out := Settled{Intent: intent, Attempt: attempt}

	if intent.Status == domain.PaymentFailed || intent.Status == domain.PaymentReversed {
		return out, precondition("payment %s is already %s", intent.Reference, intent.Status)
	}

	txn, err := q.UpsertTransaction(ctx, domain.Transaction{
		BusinessID:      intent.BusinessID,
		PaymentIntentID: intent.ID,
		Reference:       intent.Reference,
		Amount:          intent.Amount,
		Currency:        intent.Currency,
		Status:          domain.TransactionPending,
		Channel:         attempt.Channel,
		Mode:            intent.Mode,
	})
	if err != nil {
		return out, fmt.Errorf("upsert transaction %s: %w", intent.Reference, err)
	}
	out.Transaction = txn

	posted, err := q.CountEntriesByTransaction(ctx, txn.ID)
	if err != nil {
		return out, fmt.Errorf("count ledger entries: %w", err)
	}

	if txn.Status != domain.TransactionSuccess && posted == 0 {
		business, customer := fees.Apportion(intent.Bearer, attempt.Fee)
		err = s.d.Ledger.PostSettlement(ctx, q, ledger.Settlement{
			Transaction: txn,
			Intent:      intent,
			ProviderID:  attempt.ProviderID,
			Gross:       attempt.Amount,
			CustomerFee: customer,
			BusinessFee: business,
			ProviderFee: attempt.ProviderFee,
		})
		if err != nil {
			return out, fmt.Errorf("post settlement %s: %w", intent.Reference, err)
		}
		out.Posted = true
	}

	if txn.Status != domain.TransactionSuccess {
		next, err := txn.Status.TransitionTo(domain.TransactionSuccess)
		if err != nil {
			return out, err
		}
		if err := q.UpdateTransactionStatus(ctx, txn.ID, next); err != nil {
			return out, fmt.Errorf("update transaction status: %w", err)
		}
		out.Transaction.Status = next
	}

	if out.Attempt, err = s.finishAttempt(ctx, q, attempt, domain.AuthSuccess); err != nil {
		return out, err
	}
	if err := s.closeSiblings(ctx, q, out.Attempt, domain.AuthSuccess); err != nil {
		return out, err
	}

	if intent.Status != domain.PaymentSuccess {
		next, err := intent.Status.TransitionTo(domain.PaymentSuccess)
		if err != nil {
			return out, err
		}
		if err := q.UpdatePaymentIntentStatus(ctx, intent.ID, next); err != nil {
			return out, fmt.Errorf("update payment status: %w", err)
		}
		out.Intent.Status = next
	}

	if out.Posted {
		settlementsTotal.WithLabelValues("posted").Inc()
		s.d.Log.Info("payment settled",
			"reference", intent.Reference,
			"transaction_id", txn.ID,
			"attempt_id", attempt.ID,
			"gross", attempt.Amount,
			"fee", attempt.Fee,
		)
	} else {
		settlementsTotal.WithLabelValues("already_settled").Inc()
	}
	return out, nil
}

// FailTx records a terminal failure for attempt. The intent fails too unless
// another attempt on it is still open.
func (s *Settler) FailTx(ctx context.Context, q store.Querier, intent domain.PaymentIntent, attempt domain.AuthorizationAttempt) (domain.PaymentIntent, domain.AuthorizationAttempt, error) {
	attempt, err := s.finishAttempt(ctx, q, attempt, domain.AuthFailed)
	if err != nil {
		return intent, attempt, err
	}
	if err := s.closeSiblings(ctx, q, attempt, domain.AuthFailed); err != nil {
		return intent, attempt, err
	}

	if intent.Status == domain.PaymentSuccess || intent.Status == domain.PaymentFailed {
		return intent, attempt, nil
	}
	if _, err := q.LatestOpenAttempt(ctx, intent.ID); err == nil {
		return intent, attempt, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return intent, attempt, fmt.Errorf("open attempts for %s: %w", intent.Reference, err)
	}

	next, err := intent.Status.TransitionTo(domain.PaymentFailed)
	if err != nil {
		return intent, attempt, err
	}
	if err := q.UpdatePaymentIntentStatus(ctx, intent.ID, next); err != nil {
		return intent, attempt, fmt.Errorf("update payment status: %w", err)
	}
	intent.Status = next
	settlementsTotal.WithLabelValues("failed").Inc()
	s.d.Log.Info("payment failed", "reference", intent.Reference, "attempt_id", attempt.ID)
	return intent, attempt, nil
}

// finishAttempt moves attempt to status, if it is not there already, and
// stamps completed_at.
func (s *Settler) finishAttempt(ctx context.Context, q store.Querier, attempt domain.AuthorizationAttempt, status domain.AuthorizationStatus) (domain.AuthorizationAttempt, error) {
	if attempt.Status == status && attempt.CompletedAt != nil {
		return attempt, nil
	}
	if attempt.Status != status {
		next, err := attempt.Status.TransitionTo(status)
		if err != nil {
			return attempt, err
		}
		attempt.Status = next
	}
	now := s.d.Now()
	attempt.CompletedAt = &now
	updated, err := q.UpdateAttempt(ctx, attempt)
	if err != nil {
		return attempt, fmt.Errorf("update attempt %d: %w", attempt.ID, err)
	}
	return updated, nil
}

// closeSiblings finishes the other open attempts that share attempt's
// provider reference, such as the authorize attempt a validation round
// superseded.
func (s *Settler) closeSiblings(ctx context.Context, q store.Querier, attempt domain.AuthorizationAttempt, status domain.AuthorizationStatus) error {
	all, err := q.ListAttemptsByIntent(ctx, attempt.PaymentIntentID)
	if err != nil {
		return fmt.Errorf("list attempts: %w", err)
	}
	for _, sib := range all {
		if sib.ID == attempt.ID || sib.ProviderReference != attempt.ProviderReference || sib.CompletedAt != nil {
			continue
		}
		if sib.Status != status && !sib.Status.CanTransitionTo(status) {
			continue
		}
		if _, err := s.finishAttempt(ctx, q, sib, status); err != nil {
			return err
		}
	}
	return nil
}

// Outcome is what re-verifying an attempt with its provider led to.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeSettled
	OutcomeAlreadySettled
	OutcomeFailed
	// OutcomeFinalized means the provider answered for a payment that has
	// already failed or been reversed. Nothing is posted.
	OutcomeFinalized
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSettled:
		return "settled"
	case OutcomeAlreadySettled:
		return "already_settled"
	case OutcomeFailed:
		return "failed"
	case OutcomeFinalized:
		return "finalized"
	}
	return "pending"
}

// FinishFunc runs inside the settlement transaction once the outcome is
// known.
type FinishFunc func(ctx context.Context, q store.Querier, outcome Outcome) error

// VerifyAndSettle asks the provider for the attempt's status and settles or
// fails the payment accordingly. The provider call happens outside the
// database transaction. A verification error changes nothing.
func (s *Settler) VerifyAndSettle(ctx context.Context, attempt domain.AuthorizationAttempt, finish FinishFunc) (Outcome, error) {
	p, adapter, err := s.d.adapterFor(ctx, s.d.Store, attempt.ProviderID)
	if err != nil {
		return OutcomePending, err
	}

	resp, err := s.d.callProvider(ctx, p.Identifier, "verify", func(ctx context.Context) (*provider.Response, error) {
		return adapter.VerifyTransaction(ctx, attempt.ProviderReference)
	})
	if err != nil {
		return OutcomePending, err
	}

	var (
		outcome   Outcome
		published []events.PaymentSucceeded
	)
	err = s.d.Store.ExecTx(ctx, func(q store.Querier) error {
		published = nil

		intent, err := q.LockPaymentIntent(ctx, attempt.PaymentIntentID)
		if err != nil {
			return fmt.Errorf("lock payment intent: %w", err)
		}
		cur, err := q.LockAttempt(ctx, attempt.ID)
		if err != nil {
			return fmt.Errorf("lock attempt: %w", err)
		}

		outcome, err = s.apply(ctx, q, intent, cur, resp, &published)
		if err != nil {
			return err
		}
		if finish != nil {
			return finish(ctx, q, outcome)
		}
		return nil
	})
	if err != nil {
		return OutcomePending, err
	}

	s.d.publish(ctx, published)
	return outcome, nil
}

func (s *Settler) apply(ctx context.Context, q store.Querier, intent domain.PaymentIntent, cur domain.AuthorizationAttempt, resp *provider.Response, published *[]events.PaymentSucceeded) (Outcome, error) {
	if intent.Status == domain.PaymentFailed || intent.Status == domain.PaymentReversed {
		if cur.CompletedAt == nil {
			now := s.d.Now()
			cur.CompletedAt = &now
			if _, err := q.UpdateAttempt(ctx, cur); err != nil {
				return OutcomePending, fmt.Errorf("update attempt %d: %w", cur.ID, err)
			}
		}
		if resp.Status == domain.AuthSuccess {
			s.d.Log.Error("provider reports success for a finalized payment",
				"reference", intent.Reference, "status", intent.Status, "attempt_id", cur.ID)
		}
		return OutcomeFinalized, nil
	}

	switch resp.Status {
	case domain.AuthSuccess:
		if cur.Status == domain.AuthFailed {
			s.d.Log.Error("provider reports success for a failed attempt", "reference", intent.Reference, "attempt_id", cur.ID)
			return OutcomeFailed, nil
		}
		settled, err := s.SettleTx(ctx, q, intent, cur)
		if err != nil {
			return OutcomePending, err
		}
		if !settled.Posted {
			return OutcomeAlreadySettled, nil
		}
		*published = append(*published, settled.event(s.d.Now))
		return OutcomeSettled, nil

	case domain.AuthFailed:
		if cur.Status == domain.AuthSuccess {
			s.d.Log.Error("provider reports failure for a successful attempt", "reference", intent.Reference, "attempt_id", cur.ID)
			return OutcomeAlreadySettled, nil
		}
		if _, _, err := s.FailTx(ctx, q, intent, cur); err != nil {
			return OutcomePending, err
		}
		return OutcomeFailed, nil
	}

	if intent.Status == domain.PaymentSuccess {
		return OutcomeAlreadySettled, nil
	}
	if resp.Status != cur.Status && cur.Status.CanTransitionTo(resp.Status) {
		cur.Status = resp.Status
		if resp.BankDetails != nil {
			cur.BankDetails = resp.BankDetails
		}
		if _, err := q.UpdateAttempt(ctx, cur); err != nil {
			return OutcomePending, fmt.Errorf("update attempt %d: %w", cur.ID, err)
		}
	}
	return OutcomePending, nil
}
