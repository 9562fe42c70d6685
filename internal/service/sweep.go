package service

import (
	"context"
	"time"

	"github.com/punchamoorthee/paycore/internal/queue"
)

const (
	DefaultStaleAfter    = 5 * time.Minute
	DefaultSweepInterval = time.Minute
	DefaultSweepBatch    = 100
)

type SweeperConfig struct {
	StaleAfter time.Duration
	Interval   time.Duration
	Batch      int
}

// SweepReport counts what one sweep did.
type SweepReport struct {
	Checked        int
	Settled        int
	AlreadySettled int
	Failed         int
	Pending        int
	Errors         int
	Replayed       int
}

// Sweeper re-verifies attempts that never got a terminal signal and
// re-queues webhook events that were never processed.
type Sweeper struct {
	d          Deps
	cfg        SweeperConfig
	settler    *Settler
	dispatcher queue.Dispatcher
}

func NewSweeper(d Deps, cfg SweeperConfig, dispatcher queue.Dispatcher) *Sweeper {
	d = d.withDefaults()
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSweepInterval
	}
	if cfg.Batch <= 0 {
		cfg.Batch = DefaultSweepBatch
	}
	return &Sweeper{d: d, cfg: cfg, settler: NewSettler(d), dispatcher: dispatcher}
}

// RunOnce sweeps attempts and events older than the stale window. Errors on
// individual attempts are logged and counted; only a failing listing query
// is returned.
func (s *Sweeper) RunOnce(ctx context.Context) (SweepReport, error) {
	var rep SweepReport
	cutoff := s.d.Now().Add(-s.cfg.StaleAfter)

	stale, err := s.d.Store.ListStaleAttempts(ctx, cutoff, s.cfg.Batch)
	if err != nil {
		return rep, err
	}

	for _, attempt := range stale {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		rep.Checked++
		log := s.d.Log.With("attempt_id", attempt.ID, "provider_reference", attempt.ProviderReference)

		outcome, err := s.settler.VerifyAndSettle(ctx, attempt, nil)
		if err != nil {
			rep.Errors++
			sweepAttemptsTotal.WithLabelValues("error").Inc()
			log.Warn("stale attempt verification failed", "error", err)
			s.touch(ctx, attempt.ID)
			continue
		}
		sweepAttemptsTotal.WithLabelValues(outcome.String()).Inc()

		switch outcome {
		case OutcomeSettled:
			rep.Settled++
		case OutcomeAlreadySettled, OutcomeFinalized:
			rep.AlreadySettled++
		case OutcomeFailed:
			rep.Failed++
		default:
			rep.Pending++
			s.touch(ctx, attempt.ID)
		}
	}

	if s.dispatcher != nil {
		pending, err := s.d.Store.ListUnprocessedWebhookEvents(ctx, cutoff, s.cfg.Batch)
		if err != nil {
			return rep, err
		}
		for _, ev := range pending {
			if err := s.dispatcher.Dispatch(ctx, ev.ID); err != nil {
				s.d.Log.Warn("webhook replay not queued", "event_id", ev.ID, "error", err)
				break
			}
			rep.Replayed++
		}
	}

	sweepRunsTotal.Inc()
	s.d.Log.Info("sweep finished",
		"checked", rep.Checked,
		"settled", rep.Settled,
		"failed", rep.Failed,
		"pending", rep.Pending,
		"errors", rep.Errors,
		"replayed", rep.Replayed,
	)
	return rep, nil
}

// touch pushes the attempt out of the stale window so it is not verified
// again on every tick.
func (s *Sweeper) touch(ctx context.Context, id int64) {
	if err := s.d.Store.TouchAttempt(ctx, id, s.d.Now()); err != nil {
		s.d.Log.Warn("touch attempt", "attempt_id", id, "error", err)
	}
}

// Run sweeps on every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.d.Log.Error("sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
