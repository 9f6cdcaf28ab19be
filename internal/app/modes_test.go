package app

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/tradeflow/internal/breaker"
	"github.com/alanyoungcy/tradeflow/internal/config"
	"github.com/alanyoungcy/tradeflow/internal/metrics"
)

func TestBreakerTransitionsDriveStateGauge(t *testing.T) {
	m := metrics.New("test")
	cfg := config.Defaults()
	a := &App{
		cfg:    &cfg,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	b := a.newBreaker(breaker.Storage("marks"), config.BreakerConfig{}, m)
	gauge := m.BreakerState.WithLabelValues("marks")
	assert.Equal(t, float64(breaker.StateClosed), testutil.ToFloat64(gauge))

	b.Trip()
	assert.Equal(t, float64(breaker.StateOpen), testutil.ToFloat64(gauge))

	b.Reset()
	assert.Equal(t, float64(breaker.StateClosed), testutil.ToFloat64(gauge))
}

func TestOverrideBreakerKeepsPresetWhereUnset(t *testing.T) {
	base := breaker.ExternalService("gateway")
	got := overrideBreaker(base, config.BreakerConfig{FailureThreshold: 7})

	assert.Equal(t, 7, got.FailureThreshold)
	assert.Equal(t, base.FailureWindow, got.FailureWindow)
	assert.Equal(t, base.OpenDuration, got.OpenDuration)
	assert.Equal(t, base.SuccessThreshold, got.SuccessThreshold)
}

func TestOverrideBreakerAppliesAllFields(t *testing.T) {
	o := config.BreakerConfig{FailureThreshold: 3, SuccessThreshold: 4}
	o.FailureWindow.Duration = 45 * time.Second
	o.OpenDuration.Duration = 20 * time.Second
	got := overrideBreaker(breaker.Storage("cache"), o)

	assert.Equal(t, 3, got.FailureThreshold)
	assert.Equal(t, 45*time.Second, got.FailureWindow)
	assert.Equal(t, 20*time.Second, got.OpenDuration)
	assert.Equal(t, 4, got.SuccessThreshold)
}
