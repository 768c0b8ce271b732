// Package resilience provides the circuit breaker, retry, and failover
// machinery guarding provider calls.
package resilience

import (
	"sync"
	"time"

	"github.com/sells-group/brandscan/internal/model"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed is the normal operating state — requests flow through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means too many failures — requests are rejected immediately.
	CircuitOpen
	// CircuitHalfOpen allows a single probe request to test recovery.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Health is a read-only snapshot of one breaker, mutated only by the breaker
// itself.
type Health struct {
	ProviderID          string       `json:"provider_id"`
	State               CircuitState `json:"-"`
	StateName           string       `json:"state"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	OpenedAt            *time.Time   `json:"opened_at,omitempty"`
	NextProbeAt         *time.Time   `json:"next_probe_at,omitempty"`
}

// CircuitBreakerConfig controls circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive tripping failures before
	// opening the circuit. Default: 5.
	FailureThreshold int

	// Window bounds how far apart consecutive failures may be and still
	// count toward the threshold. A failure arriving after the window
	// restarts the count. Default: 2m.
	Window time.Duration

	// Cooldown is how long the circuit stays open before allowing a probe.
	// Default: 30s.
	Cooldown time.Duration

	// MaxCooldown caps the exponentially extended cooldown after failed
	// probes. Default: 10m.
	MaxCooldown time.Duration

	// CooldownMultiplier scales the cooldown after each failed probe.
	// Default: 2.0.
	CooldownMultiplier float64

	// ShouldTrip decides whether a failure kind counts toward the threshold.
	// If nil, only transient kinds (timeout, connection failure, rate
	// limited) trip the breaker.
	ShouldTrip func(kind model.ErrorKind) bool

	// OnStateChange is called when the circuit transitions between states.
	OnStateChange func(from, to CircuitState)
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:   5,
		Window:             2 * time.Minute,
		Cooldown:           30 * time.Second,
		MaxCooldown:        10 * time.Minute,
		CooldownMultiplier: 2.0,
	}
}

// CircuitBreaker implements the circuit breaker pattern for one provider.
type CircuitBreaker struct {
	providerID string
	cfg        CircuitBreakerConfig

	mu    sync.Mutex
	state CircuitState

	consecutiveFailures int
	lastFailureTime     time.Time
	openedAt            time.Time
	currentCooldown     time.Duration
	probeInFlight       bool

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewCircuitBreaker creates a circuit breaker for the named provider.
func NewCircuitBreaker(providerID string, cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = 2 * time.Minute
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.MaxCooldown <= 0 {
		cfg.MaxCooldown = 10 * time.Minute
	}
	if cfg.CooldownMultiplier <= 1 {
		cfg.CooldownMultiplier = 2.0
	}
	return &CircuitBreaker{
		providerID:      providerID,
		cfg:             cfg,
		state:           CircuitClosed,
		currentCooldown: cfg.Cooldown,
		nowFunc:         time.Now,
	}
}

// Allow reports whether a request may proceed. In half-open state exactly
// one caller is admitted as the probe; concurrent callers are rejected until
// the probe resolves.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if cb.nowFunc().Sub(cb.openedAt) >= cb.currentCooldown {
			cb.transition(CircuitHalfOpen)
			cb.probeInFlight = true
			return true
		}
		return false
	case CircuitHalfOpen:
		if cb.probeInFlight {
			return false
		}
		cb.probeInFlight = true
		return true
	default:
		return true
	}
}

// Record reports the outcome of an admitted request. failedKind is
// ErrKindNone on success.
func (cb *CircuitBreaker) Record(failedKind model.ErrorKind) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	shouldTrip := cb.cfg.ShouldTrip
	if shouldTrip == nil {
		shouldTrip = func(k model.ErrorKind) bool { return k.Transient() }
	}

	now := cb.nowFunc()

	if failedKind == model.ErrKindNone || !shouldTrip(failedKind) {
		switch cb.state {
		case CircuitHalfOpen:
			// Successful probe closes and fully resets the breaker.
			cb.probeInFlight = false
			cb.transition(CircuitClosed)
			cb.consecutiveFailures = 0
			cb.currentCooldown = cb.cfg.Cooldown
		case CircuitClosed:
			cb.consecutiveFailures = 0
		}
		return
	}

	// Tripping failure. Failures outside the rolling window restart the count.
	if !cb.lastFailureTime.IsZero() && now.Sub(cb.lastFailureTime) > cb.cfg.Window {
		cb.consecutiveFailures = 0
	}
	cb.consecutiveFailures++
	cb.lastFailureTime = now

	switch cb.state {
	case CircuitClosed:
		if cb.consecutiveFailures >= cb.cfg.FailureThreshold {
			cb.open(now)
		}
	case CircuitHalfOpen:
		// Failed probe reopens with an extended cooldown, capped.
		cb.probeInFlight = false
		extended := time.Duration(float64(cb.currentCooldown) * cb.cfg.CooldownMultiplier)
		if extended > cb.cfg.MaxCooldown {
			extended = cb.cfg.MaxCooldown
		}
		cb.currentCooldown = extended
		cb.open(now)
	}
}

func (cb *CircuitBreaker) open(now time.Time) {
	cb.openedAt = now
	cb.transition(CircuitOpen)
}

// State returns the current circuit state, surfacing the open→half-open
// transition once the cooldown has elapsed.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen && cb.nowFunc().Sub(cb.openedAt) >= cb.currentCooldown {
		return CircuitHalfOpen
	}
	return cb.state
}

// Health returns a snapshot for observability.
func (cb *CircuitBreaker) Health() Health {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	h := Health{
		ProviderID:          cb.providerID,
		State:               cb.state,
		StateName:           cb.state.String(),
		ConsecutiveFailures: cb.consecutiveFailures,
	}
	if cb.state == CircuitOpen || cb.state == CircuitHalfOpen {
		opened := cb.openedAt
		h.OpenedAt = &opened
		probe := cb.openedAt.Add(cb.currentCooldown)
		h.NextProbeAt = &probe
	}
	return h
}

// Reset forces the circuit back to closed state. Useful for testing or
// manual recovery.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	old := cb.state
	cb.state = CircuitClosed
	cb.consecutiveFailures = 0
	cb.probeInFlight = false
	cb.currentCooldown = cb.cfg.Cooldown
	if old != CircuitClosed && cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(old, CircuitClosed)
	}
}

func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	cb.state = to
	if from != to && cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, to)
	}
}

// ProviderBreakers manages circuit breakers for multiple providers. Each
// breaker is an independent critical section, so contention on one provider
// never blocks calls targeting another.
type ProviderBreakers struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	cfg      CircuitBreakerConfig
}

// NewProviderBreakers creates a registry of per-provider circuit breakers.
func NewProviderBreakers(cfg CircuitBreakerConfig) *ProviderBreakers {
	return &ProviderBreakers{
		breakers: make(map[string]*CircuitBreaker),
		cfg:      cfg,
	}
}

// Get returns the circuit breaker for the named provider, creating one if
// needed.
func (pb *ProviderBreakers) Get(providerID string) *CircuitBreaker {
	pb.mu.RLock()
	cb, ok := pb.breakers[providerID]
	pb.mu.RUnlock()
	if ok {
		return cb
	}

	pb.mu.Lock()
	defer pb.mu.Unlock()
	if cb, ok = pb.breakers[providerID]; ok {
		return cb
	}
	cb = NewCircuitBreaker(providerID, pb.cfg)
	pb.breakers[providerID] = cb
	return cb
}

// Healths returns a snapshot of all breaker states.
func (pb *ProviderBreakers) Healths() map[string]Health {
	pb.mu.RLock()
	defer pb.mu.RUnlock()
	out := make(map[string]Health, len(pb.breakers))
	for id, cb := range pb.breakers {
		out[id] = cb.Health()
	}
	return out
}
