package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/paycore/internal/domain"
	"github.com/punchamoorthee/paycore/internal/provider"
	"github.com/punchamoorthee/paycore/internal/provider/providertest"
)

func TestSweeperSettlesStaleAttempt(t *testing.T) {
	f := newFixture(t)
	f.pendingTransfer("REF_SWEEP")
	sweeper := NewSweeper(f.deps, SweeperConfig{}, nil)

	// Inside the grace window nothing is checked.
	rep, err := sweeper.RunOnce(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Checked)

	f.clock.Advance(6 * time.Minute)
	f.fake.VerifyFunc = providertest.Verify(domain.AuthPendingTransfer)
	rep, err = sweeper.RunOnce(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Checked)
	assert.Equal(t, 1, rep.Pending)

	// The pending attempt was touched and is not re-verified right away.
	rep, err = sweeper.RunOnce(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Checked)

	f.clock.Advance(6 * time.Minute)
	f.fake.VerifyFunc = providertest.Verify(domain.AuthSuccess)
	rep, err = sweeper.RunOnce(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Settled)

	assert.Equal(t, domain.PaymentSuccess, f.intent("REF_SWEEP").Status)
	count, sum := f.entries("REF_SWEEP")
	assert.Equal(t, int64(6), count)
	assert.Zero(t, sum)

	// Settled attempts are complete and drop out of the sweep.
	f.clock.Advance(6 * time.Minute)
	rep, err = sweeper.RunOnce(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Checked)
}

func TestSweeperFailsExpiredTransfer(t *testing.T) {
	f := newFixture(t)
	f.pendingTransfer("REF_GONE")
	sweeper := NewSweeper(f.deps, SweeperConfig{StaleAfter: time.Minute}, nil)

	f.clock.Advance(2 * time.Minute)
	f.fake.VerifyFunc = providertest.Verify(domain.AuthFailed)
	rep, err := sweeper.RunOnce(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, domain.PaymentFailed, f.intent("REF_GONE").Status)
}

func TestSweeperCountsVerificationErrors(t *testing.T) {
	f := newFixture(t)
	f.pendingTransfer("REF_ERR")
	sweeper := NewSweeper(f.deps, SweeperConfig{}, nil)

	f.clock.Advance(10 * time.Minute)
	f.fake.VerifyFunc = func(context.Context, string) (*provider.Response, error) {
		return nil, errors.New("dial tcp: i/o timeout")
	}
	rep, err := sweeper.RunOnce(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Errors)

	attempts := f.attempts("REF_ERR")
	require.Len(t, attempts, 1)
	assert.Equal(t, domain.AuthPendingTransfer, attempts[0].Status)
	assert.Nil(t, attempts[0].CompletedAt)
}

func TestSweeperReplaysUnprocessedWebhooks(t *testing.T) {
	f := newFixture(t)
	attempt := f.pendingTransfer("REF_REPLAY")

	// Ingest with no queue, as if the worker pool had been full.
	w := NewWebhooks(f.deps, nil)
	res, err := w.Ingest(f.ctx, "fake", webhookBody("evt_replay", attempt.ProviderReference, "success"), nil)
	require.NoError(t, err)

	d := &recordingDispatcher{}
	sweeper := NewSweeper(f.deps, SweeperConfig{}, d)
	f.fake.VerifyFunc = providertest.Verify(domain.AuthPendingTransfer)

	rep, err := sweeper.RunOnce(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Replayed, "events inside the grace window are left to the queue")

	f.clock.Advance(6 * time.Minute)
	rep, err = sweeper.RunOnce(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Replayed)
	assert.Equal(t, []int64{res.Event.ID}, d.IDs())
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	sweeper := NewSweeper(f.deps, SweeperConfig{Interval: 10 * time.Millisecond}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.NoError(t, sweeper.Run(ctx))
}
