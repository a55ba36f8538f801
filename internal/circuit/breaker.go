// Package circuit implements a circuit breaker for the durable storage
// backend. When the backend fails repeatedly the breaker opens and
// rejects calls immediately, so reads degrade to fast misses and writes
// degrade to memory-only instead of stalling on a dead backend.
package circuit

import (
	"errors"
	"sync"
	"time"
)

// State is the breaker state.
type State int

const (
	// StateClosed passes requests through.
	StateClosed State = iota
	// StateOpen rejects requests immediately.
	StateOpen
	// StateHalfOpen admits a single probe to test recovery.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned when the breaker rejects a call without running it.
var ErrOpen = errors.New("circuit: breaker is open")

// Config tunes the breaker.
type Config struct {
	// FailureThreshold is the consecutive failure count that opens the
	// breaker.
	FailureThreshold int `yaml:"failure_threshold"`

	// CoolOff is how long the breaker stays open before admitting a
	// probe.
	CoolOff time.Duration `yaml:"cool_off"`
}

// DefaultConfig returns the breaker defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		CoolOff:          30 * time.Second,
	}
}

// Breaker is a consecutive-failure circuit breaker. It is safe for
// concurrent use.
type Breaker struct {
	cfg Config

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool

	clock func() time.Time

	// onStateChange, when set, is invoked outside the lock on every
	// transition.
	onStateChange func(from, to State)
}

// New creates a breaker. Zero config fields fall back to the defaults.
func New(cfg Config) *Breaker {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.CoolOff <= 0 {
		cfg.CoolOff = def.CoolOff
	}
	return &Breaker{
		cfg:   cfg,
		state: StateClosed,
		clock: time.Now,
	}
}

// OnStateChange registers a transition callback. Must be called before
// the breaker is shared.
func (b *Breaker) OnStateChange(fn func(from, to State)) { b.onStateChange = fn }

// State returns the current state, advancing open to half-open when the
// cool-off has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *Breaker) stateLocked() State {
	if b.state == StateOpen && b.clock().Sub(b.openedAt) >= b.cfg.CoolOff {
		b.transitionLocked(StateHalfOpen)
	}
	return b.state
}

// Do runs fn when the breaker allows it. In the open state the call is
// rejected with ErrOpen; in the half-open state exactly one probe runs
// at a time and its outcome decides whether the breaker closes again.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	switch b.stateLocked() {
	case StateOpen:
		b.mu.Unlock()
		return ErrOpen
	case StateHalfOpen:
		if b.probing {
			b.mu.Unlock()
			return ErrOpen
		}
		b.probing = true
	}
	b.mu.Unlock()

	err := fn()
	b.record(err)
	return err
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false

	if err == nil {
		b.failures = 0
		if b.state != StateClosed {
			b.transitionLocked(StateClosed)
		}
		return
	}

	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.cfg.FailureThreshold {
		b.openedAt = b.clock()
		b.transitionLocked(StateOpen)
	}
}

func (b *Breaker) transitionLocked(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if to == StateClosed {
		b.failures = 0
	}
	if b.onStateChange != nil {
		go b.onStateChange(from, to)
	}
}
