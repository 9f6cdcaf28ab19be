package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradeflow/internal/domain"
)

// fakeClock drives the breaker deterministically.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(cfg Config) (*Breaker, *fakeClock) {
	b := New(cfg, nil)
	clk := &fakeClock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	b.now = clk.now
	return b, clk
}

var errBoom = errors.New("boom")

func fail(ctx context.Context) error { return errBoom }

func ok(ctx context.Context) error { return nil }

func TestBreakerOpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(HighAvailability("archive"))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.Equal(t, StateClosed, b.State())
		require.ErrorIs(t, b.Execute(ctx, fail), errBoom)
	}
	assert.Equal(t, StateOpen, b.State())

	err := b.Execute(ctx, ok)
	require.ErrorIs(t, err, domain.ErrCircuitOpen)
	assert.Equal(t, domain.KindCircuitOpen, domain.KindOf(err))

	m := b.Metrics()
	assert.Equal(t, int64(3), m.Failed)
	assert.Equal(t, int64(1), m.Rejected)
}

func TestBreakerSlidingWindowForgetsOldFailures(t *testing.T) {
	b, clk := newTestBreaker(HighAvailability("archive")) // F=3, W=30s
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, fail)
	clk.advance(31 * time.Second)
	_ = b.Execute(ctx, fail)

	assert.Equal(t, StateClosed, b.State(), "failures outside the window must not count")
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	b, clk := newTestBreaker(Storage("cache")) // F=10, D=30s, S=2
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_ = b.Execute(ctx, fail)
	}
	require.Equal(t, StateOpen, b.State())

	clk.advance(30 * time.Second)

	// First probe succeeds; still half-open because S=2.
	require.NoError(t, b.Execute(ctx, ok))
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Execute(ctx, ok))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b, clk := newTestBreaker(HighAvailability("archive")) // D=15s, S=1
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, fail)
	}
	clk.advance(15 * time.Second)
	require.ErrorIs(t, b.Execute(ctx, fail), errBoom)
	assert.Equal(t, StateOpen, b.State())

	// Timer restarted: still rejected just before the new deadline.
	clk.advance(14 * time.Second)
	assert.ErrorIs(t, b.Execute(ctx, ok), domain.ErrCircuitOpen)
	clk.advance(time.Second)
	assert.NoError(t, b.Execute(ctx, ok))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerTripAndReset(t *testing.T) {
	b, _ := newTestBreaker(ExternalService("refdata"))
	ctx := context.Background()

	b.Trip()
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Execute(ctx, ok), domain.ErrCircuitOpen)

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Execute(ctx, ok))
}

func TestBreakerFailureKindsFilter(t *testing.T) {
	cfg := HighAvailability("sql")
	cfg.FailureKinds = []domain.Kind{domain.KindDownstreamTransient}
	b, _ := newTestBreaker(cfg)
	ctx := context.Background()

	// Validation errors pass through without tripping.
	for i := 0; i < 5; i++ {
		_ = b.Execute(ctx, func(ctx context.Context) error {
			return domain.Classifyf(domain.KindValidation, "bad row")
		})
	}
	assert.Equal(t, StateClosed, b.State())

	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, func(ctx context.Context) error {
			return domain.Classifyf(domain.KindDownstreamTransient, "deadlock")
		})
	}
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerStateChangeEvents(t *testing.T) {
	type event struct {
		prev, next State
	}
	var events []event
	cfg := HighAvailability("archive")
	cfg.OnStateChange = func(prev, next State, lastErr error, at time.Time) {
		events = append(events, event{prev, next})
	}
	b, clk := newTestBreaker(cfg)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, fail)
	}
	clk.advance(15 * time.Second)
	_ = b.Execute(ctx, ok)

	require.Equal(t, []event{
		{StateClosed, StateOpen},
		{StateOpen, StateHalfOpen},
		{StateHalfOpen, StateClosed},
	}, events)
}
