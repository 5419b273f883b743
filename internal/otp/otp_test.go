package otp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ayo6706/branch-transactions/internal/gateway"
	"github.com/ayo6706/branch-transactions/internal/models"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubSender struct {
	mu     sync.Mutex
	calls  int
	result gateway.OTPResult
	err    error
}

func (s *stubSender) RequestOTP(ctx context.Context, phone string) (gateway.OTPResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return gateway.OTPResult{}, s.err
	}
	if s.result == (gateway.OTPResult{}) {
		return gateway.OTPResult{Success: true, Message: "sent"}, nil
	}
	return s.result, nil
}

func (s *stubSender) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestClient_Request(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid phone never reaches backend", func(t *testing.T) {
		sender := &stubSender{}
		_, err := NewClient(sender, zap.NewNop()).Request(ctx, "12")
		assert.ErrorIs(t, err, models.ErrValidation)
		assert.Equal(t, 0, sender.Calls())
	})

	t.Run("backend rejection", func(t *testing.T) {
		sender := &stubSender{result: gateway.OTPResult{Success: false, Message: "rate limited"}}
		res, err := NewClient(sender, zap.NewNop()).Request(ctx, "0911000001")
		assert.ErrorIs(t, err, ErrRequestRejected)
		assert.ErrorIs(t, err, models.ErrVerificationFailed)
		assert.Equal(t, "rate limited", res.Message)
	})

	t.Run("network failure", func(t *testing.T) {
		sender := &stubSender{err: errors.Join(gateway.ErrUnavailable, errors.New("dial tcp: refused"))}
		_, err := NewClient(sender, zap.NewNop()).Request(ctx, "0911000001")
		assert.ErrorIs(t, err, models.ErrNetwork)
		assert.NotErrorIs(t, err, ErrRequestRejected)
	})
}

func TestChallenge_ResendBlockedForThirtySeconds(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	sender := &stubSender{}
	ch := NewChallenge(NewClient(sender, zap.NewNop()), WithClock(clock))

	_, err := ch.Resend(ctx)
	assert.ErrorIs(t, err, ErrNotRequested)

	_, err = ch.Request(ctx, "0911000001")
	require.NoError(t, err)
	assert.Equal(t, StateRequested, ch.State())
	assert.False(t, ch.CanResend())

	_, err = ch.Resend(ctx)
	assert.ErrorIs(t, err, ErrCooldownActive)
	assert.Equal(t, 1, sender.Calls())

	for i := 1; i < 30; i++ {
		clock.Advance(time.Second)
		assert.False(t, ch.CanResend(), "resend enabled after %d seconds", i)
	}
	clock.Advance(time.Second)
	assert.True(t, ch.CanResend())

	_, err = ch.Resend(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sender.Calls())
	assert.Equal(t, StateResent, ch.State())
	assert.False(t, ch.CanResend())
	assert.Equal(t, 30, ch.View().CooldownRemainingSeconds)
}

func TestChallenge_Expiry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ch := NewChallenge(NewClient(&stubSender{}, zap.NewNop()), WithClock(clock), WithValidity(time.Minute))
	_, err := ch.Request(context.Background(), "0911000001")
	require.NoError(t, err)
	require.NoError(t, ch.Usable())

	clock.Advance(61 * time.Second)
	assert.Equal(t, StateExpired, ch.State())
	assert.ErrorIs(t, ch.Usable(), ErrExpired)
	ch.Release()
}

func TestChallenge_Live(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ch := NewChallenge(NewClient(&stubSender{}, zap.NewNop()), WithClock(clock), WithValidity(time.Minute))
	t.Cleanup(ch.Release)
	assert.False(t, ch.Live("0911000001"))

	_, err := ch.Request(context.Background(), "0911000001")
	require.NoError(t, err)
	assert.True(t, ch.Live("0911000001"))
	assert.False(t, ch.Live("0911000002"))

	clock.Advance(61 * time.Second)
	assert.False(t, ch.Live("0911000001"))
}

func TestChallenge_FailedRequestLeavesStateUntouched(t *testing.T) {
	sender := &stubSender{err: gateway.ErrUnavailable}
	ch := NewChallenge(NewClient(sender, zap.NewNop()), WithClock(clockwork.NewFakeClock()))

	_, err := ch.Request(context.Background(), "0911000001")
	assert.ErrorIs(t, err, models.ErrNetwork)
	assert.Equal(t, StateNotRequested, ch.State())
	assert.False(t, ch.CanResend())
}

func TestCooldown_TicksDownAndReleasesItself(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ticks := make(chan time.Duration, 1)
	cd := StartCooldown(clock, 3*time.Second, func(remaining time.Duration) { ticks <- remaining })

	for want := 2; want >= 0; want-- {
		clock.Advance(time.Second)
		select {
		case got := <-ticks:
			assert.Equal(t, time.Duration(want)*time.Second, got)
		case <-time.After(time.Second):
			t.Fatalf("no tick for %ds remaining", want)
		}
	}

	select {
	case <-cd.Done():
	case <-time.After(time.Second):
		t.Fatal("cooldown goroutine did not exit")
	}
	assert.False(t, cd.Active())
}

func TestCooldown_ReleaseIsIdempotent(t *testing.T) {
	cd := StartCooldown(clockwork.NewFakeClock(), ResendCooldown, nil)
	assert.True(t, cd.Active())

	cd.Release()
	cd.Release()

	select {
	case <-cd.Done():
	case <-time.After(time.Second):
		t.Fatal("cooldown goroutine did not exit after release")
	}
	assert.False(t, cd.Active())
	assert.Zero(t, cd.RemainingSeconds())
}
