// Package circuit implements the three-state circuit breaker used by the
// agent's guarded LLM provider: Closed, Open, HalfOpen, with a registry
// keyed by component name.
package circuit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is one of the three circuit breaker states.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half-open"
)

// ErrOpen is returned by Execute when the breaker is Open, or when HalfOpen
// admission is saturated.
var ErrOpen = errors.New("circuit breaker is open")

// Config configures a Breaker.
type Config struct {
	Name string

	// FailureThreshold is the failure count in Closed that opens the breaker.
	FailureThreshold int

	// SuccessThreshold is the success count in HalfOpen that closes it.
	SuccessThreshold int

	// ResetTimeout is how long the breaker stays Open before probing.
	ResetTimeout time.Duration

	// HalfOpenMaxRequests caps concurrent probes admitted while HalfOpen.
	// Defaults to 1.
	HalfOpenMaxRequests int

	OnStateChange func(from, to State)
}

// Breaker implements the classic closed/open/half-open circuit breaker state
// machine, tripping after a run of consecutive failures and probing recovery
// with a limited number of half-open requests.
type Breaker struct {
	config Config

	mu              sync.Mutex
	state           State
	failures        int
	successes       int
	halfOpenInUse   int
	lastFailure     time.Time
	lastStateChange time.Time
}

// New creates a Breaker with the given config, applying defaults for unset
// fields.
func New(config Config) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 30 * time.Second
	}
	if config.HalfOpenMaxRequests <= 0 {
		config.HalfOpenMaxRequests = 1
	}
	return &Breaker{config: config, state: Closed, lastStateChange: time.Now()}
}

// Execute runs fn under breaker protection, recording the outcome.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	release, err := b.admit()
	if err != nil {
		return err
	}
	defer release()

	err = fn(ctx)
	b.recordResult(err)
	return err
}

// ExecuteWithResult runs a value-returning fn under breaker protection.
func ExecuteWithResult[T any](b *Breaker, ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	release, err := b.admit()
	if err != nil {
		return zero, err
	}
	defer release()

	result, err := fn(ctx)
	b.recordResult(err)
	return result, err
}

// admit checks whether a call may proceed, transitioning Open->HalfOpen
// when the reset timeout has elapsed, and admitting at most
// HalfOpenMaxRequests concurrent probes while HalfOpen. The returned
// release func must be called exactly once when the call completes.
func (b *Breaker) admit() (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return func() {}, nil

	case Open:
		if time.Since(b.lastStateChange) >= b.config.ResetTimeout {
			b.transitionTo(HalfOpen)
			// fall through to HalfOpen admission below
		} else {
			return func() {}, ErrOpen
		}
		fallthrough

	case HalfOpen:
		if b.halfOpenInUse >= b.config.HalfOpenMaxRequests {
			return func() {}, ErrOpen
		}
		b.halfOpenInUse++
		return func() {
			b.mu.Lock()
			b.halfOpenInUse--
			b.mu.Unlock()
		}, nil
	}
	return func() {}, nil
}

func (b *Breaker) recordResult(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.recordFailureLocked()
	} else {
		b.recordSuccessLocked()
	}
}

func (b *Breaker) recordFailureLocked() {
	b.failures++
	b.successes = 0
	b.lastFailure = time.Now()

	switch b.state {
	case Closed:
		if b.failures >= b.config.FailureThreshold {
			b.transitionTo(Open)
		}
	case HalfOpen:
		b.transitionTo(Open)
	}
}

func (b *Breaker) recordSuccessLocked() {
	switch b.state {
	case Closed:
		b.failures = 0
	case HalfOpen:
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.transitionTo(Closed)
		}
	}
}

// transitionTo changes state. Caller holds b.mu.
func (b *Breaker) transitionTo(newState State) {
	oldState := b.state
	b.state = newState
	b.lastStateChange = time.Now()
	b.failures = 0
	b.successes = 0
	if newState != HalfOpen {
		b.halfOpenInUse = 0
	}
	if b.config.OnStateChange != nil {
		go b.config.OnStateChange(oldState, newState)
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats reports point-in-time breaker statistics.
type Stats struct {
	Name            string
	State           State
	Failures        int
	Successes       int
	LastFailure     time.Time
	LastStateChange time.Time
}

func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Name:            b.config.Name,
		State:           b.state,
		Failures:        b.failures,
		Successes:       b.successes,
		LastFailure:     b.lastFailure,
		LastStateChange: b.lastStateChange,
	}
}

// Reset forces the breaker back to Closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = 0
	b.successes = 0
	b.halfOpenInUse = 0
	b.lastStateChange = time.Now()
}

// Registry holds one Breaker per named component.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	defaults Config
}

// NewRegistry creates a registry using defaults for breakers created via Get.
func NewRegistry(defaults Config) *Registry {
	return &Registry{breakers: make(map[string]*Breaker), defaults: defaults}
}

// Get returns or lazily creates the named breaker using registry defaults.
func (r *Registry) Get(name string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	config := r.defaults
	config.Name = name
	b = New(config)
	r.breakers[name] = b
	return b
}

// GetWithConfig returns or creates the named breaker with custom config.
func (r *Registry) GetWithConfig(name string, config Config) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	config.Name = name
	b := New(config)
	r.breakers[name] = b
	return b
}

// Stats returns statistics for every breaker in the registry.
func (r *Registry) Stats() []Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Stats, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b.Stats())
	}
	return out
}

// OpenBreakers returns the names of every breaker currently Open.
func (r *Registry) OpenBreakers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var open []string
	for name, b := range r.breakers {
		if b.State() == Open {
			open = append(open, name)
		}
	}
	return open
}

// ResetAll resets every breaker in the registry to Closed.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.breakers {
		b.Reset()
	}
}
