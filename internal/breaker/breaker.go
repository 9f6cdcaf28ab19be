// Package breaker provides the three-state circuit breaker that wraps every
// external call site in the pipeline. It short-circuits calls while a
// dependency is failing and probes for recovery after a cool-down.
package breaker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/tradeflow/internal/domain"
)

// State is the breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Config enumerates the breaker tuning knobs.
type Config struct {
	// Name identifies the breaker in logs and metrics.
	Name string

	// FailureThreshold is the number of failures inside FailureWindow that
	// opens the breaker.
	FailureThreshold int

	// FailureWindow is the sliding time window over which failures count.
	FailureWindow time.Duration

	// OpenDuration is how long the breaker stays open before allowing a
	// half-open probe.
	OpenDuration time.Duration

	// SuccessThreshold is the number of consecutive half-open successes
	// required to close.
	SuccessThreshold int

	// FailureKinds, when non-empty, restricts which error kinds count as
	// failures; all other errors pass through without affecting state.
	FailureKinds []domain.Kind

	// OnStateChange, when set, is invoked after every transition with the
	// previous state, the new state, and the error that drove it (nil for
	// manual or probe-success transitions).
	OnStateChange func(prev, next State, lastErr error, at time.Time)
}

// HighAvailability is the preset for call sites that must fail fast, such
// as the ingest archive write.
func HighAvailability(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 3,
		FailureWindow:    30 * time.Second,
		OpenDuration:     15 * time.Second,
		SuccessThreshold: 1,
	}
}

// ExternalService is the preset for slow third-party dependencies.
func ExternalService(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 5,
		FailureWindow:    120 * time.Second,
		OpenDuration:     60 * time.Second,
		SuccessThreshold: 3,
	}
}

// Storage is the preset for cache and database call sites.
func Storage(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 10,
		FailureWindow:    60 * time.Second,
		OpenDuration:     30 * time.Second,
		SuccessThreshold: 2,
	}
}

// Metrics is a point-in-time snapshot of breaker counters.
type Metrics struct {
	Total               int64
	Successful          int64
	Failed              int64
	Rejected            int64
	ConsecutiveFailures int64
	LastSuccess         time.Time
	LastFailure         time.Time
	State               State
}

// Breaker is a thread-safe circuit breaker. Concurrent calls may execute in
// the closed and half-open states; state transitions are atomic under the
// internal mutex.
type Breaker struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu            sync.Mutex
	state         State
	failures      []time.Time // sliding window, closed state only
	openedAt      time.Time
	halfOpenSucc  int
	lastErr       error
	total         int64
	successful    int64
	failed        int64
	rejected      int64
	consecFailure int64
	lastSuccess   time.Time
	lastFailure   time.Time
}

// New creates a Breaker from cfg. Zero-valued knobs fall back to the
// ExternalService preset values.
func New(cfg Config, logger *slog.Logger) *Breaker {
	def := ExternalService(cfg.Name)
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.FailureWindow <= 0 {
		cfg.FailureWindow = def.FailureWindow
	}
	if cfg.OpenDuration <= 0 {
		cfg.OpenDuration = def.OpenDuration
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Breaker{
		cfg:    cfg,
		logger: logger.With(slog.String("breaker", cfg.Name)),
		now:    time.Now,
	}
}

// Execute runs op through the breaker. When the breaker is open it returns
// domain.ErrCircuitOpen without invoking op; otherwise it returns op's
// error.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := op(ctx)
	b.record(err)
	return err
}

// allow decides whether a call may proceed, transitioning OPEN → HALF_OPEN
// when the cool-down has elapsed.
func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.now().Sub(b.openedAt) >= b.cfg.OpenDuration {
			b.transition(StateHalfOpen, nil)
		} else {
			b.rejected++
			return domain.Classify(domain.KindCircuitOpen,
				fmt.Errorf("breaker %s: %w", b.cfg.Name, domain.ErrCircuitOpen))
		}
	}
	b.total++
	return nil
}

// record applies the call outcome to the state machine.
func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil || !b.countsAsFailure(err) {
		b.onSuccess()
		return
	}
	b.onFailure(err)
}

func (b *Breaker) countsAsFailure(err error) bool {
	if len(b.cfg.FailureKinds) == 0 {
		return true
	}
	kind := domain.KindOf(err)
	for _, k := range b.cfg.FailureKinds {
		if k == kind {
			return true
		}
	}
	return false
}

func (b *Breaker) onSuccess() {
	b.successful++
	b.consecFailure = 0
	b.lastSuccess = b.now()

	if b.state == StateHalfOpen {
		b.halfOpenSucc++
		if b.halfOpenSucc >= b.cfg.SuccessThreshold {
			b.failures = nil
			b.transition(StateClosed, nil)
		}
	}
}

func (b *Breaker) onFailure(err error) {
	now := b.now()
	b.failed++
	b.consecFailure++
	b.lastFailure = now
	b.lastErr = err

	switch b.state {
	case StateHalfOpen:
		// Any half-open failure reopens and restarts the timer.
		b.openedAt = now
		b.transition(StateOpen, err)
	case StateClosed:
		b.failures = append(b.failures, now)
		b.pruneWindow(now)
		if len(b.failures) >= b.cfg.FailureThreshold {
			b.openedAt = now
			b.transition(StateOpen, err)
		}
	}
}

// pruneWindow drops failure timestamps older than the sliding window.
func (b *Breaker) pruneWindow(now time.Time) {
	cutoff := now.Add(-b.cfg.FailureWindow)
	i := 0
	for i < len(b.failures) && b.failures[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		b.failures = append(b.failures[:0], b.failures[i:]...)
	}
}

// transition must be called with the mutex held.
func (b *Breaker) transition(next State, err error) {
	prev := b.state
	if prev == next {
		return
	}
	b.state = next
	if next == StateHalfOpen {
		b.halfOpenSucc = 0
	}

	at := b.now()
	b.logger.Info("breaker state change",
		slog.String("from", prev.String()),
		slog.String("to", next.String()),
	)
	if b.cfg.OnStateChange != nil {
		lastErr := err
		if lastErr == nil {
			lastErr = b.lastErr
		}
		b.cfg.OnStateChange(prev, next, lastErr, at)
	}
}

// Trip forces the breaker open.
func (b *Breaker) Trip() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.openedAt = b.now()
	b.transition(StateOpen, nil)
}

// Reset forces the breaker closed and clears the failure window.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = nil
	b.consecFailure = 0
	b.transition(StateClosed, nil)
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Metrics returns a snapshot of the breaker counters.
func (b *Breaker) Metrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Metrics{
		Total:               b.total,
		Successful:          b.successful,
		Failed:              b.failed,
		Rejected:            b.rejected,
		ConsecutiveFailures: b.consecFailure,
		LastSuccess:         b.lastSuccess,
		LastFailure:         b.lastFailure,
		State:               b.state,
	}
}
