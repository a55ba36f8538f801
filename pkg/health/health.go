// Package health probes the cache's dependencies and reports a service
// health state for the HTTP health endpoint.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dscache/dscache/internal/backend"
)

// State is the overall service health.
type State int

const (
	// StateHealthy means both tiers are serving.
	StateHealthy State = iota

	// StateDegraded means the memory tier is serving but the durable
	// backend is failing its probe. Stores lose durability, loads lose
	// the disk fallback.
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the state as its string form.
func (s State) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", s.String())), nil
}

// UnmarshalJSON parses the string form back into a state.
func (s *State) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"healthy"`:
		*s = StateHealthy
	case `"degraded"`:
		*s = StateDegraded
	default:
		return fmt.Errorf("unknown health state %s", data)
	}
	return nil
}

// Report is the health snapshot returned by a check.
type Report struct {
	State     State     `json:"state"`
	Backend   string    `json:"backend"`
	LastError string    `json:"last_error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// probeKey is written, read back, and deleted on every check. It lives
// outside the session namespace so sweeps never touch it.
const probeKey = "healthz/probe"

// Checker probes the durable backend. Results are cached for the probe
// interval so a hot health endpoint does not hammer the backend.
type Checker struct {
	be       backend.ObjectBackend
	interval time.Duration

	mu   sync.Mutex
	last Report

	clock func() time.Time
}

// NewChecker creates a checker over the given backend. interval bounds
// how often the backend is actually probed; zero means every call.
func NewChecker(be backend.ObjectBackend, interval time.Duration) *Checker {
	return &Checker{
		be:       be,
		interval: interval,
		clock:    time.Now,
	}
}

// Check returns the current health report, probing the backend when the
// cached result is stale.
func (c *Checker) Check(ctx context.Context) Report {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock()
	if !c.last.CheckedAt.IsZero() && now.Sub(c.last.CheckedAt) < c.interval {
		return c.last
	}

	report := Report{
		State:     StateHealthy,
		Backend:   c.be.Name(),
		CheckedAt: now,
	}
	if err := c.probe(ctx, now); err != nil {
		report.State = StateDegraded
		report.LastError = err.Error()
	}

	c.last = report
	return report
}

func (c *Checker) probe(ctx context.Context, now time.Time) error {
	payload := []byte(now.Format(time.RFC3339Nano))

	if err := c.be.Put(ctx, probeKey, payload); err != nil {
		return fmt.Errorf("probe write: %w", err)
	}
	data, err := c.be.Get(ctx, probeKey)
	if err != nil {
		return fmt.Errorf("probe read: %w", err)
	}
	if string(data) != string(payload) {
		return fmt.Errorf("probe readback mismatch")
	}
	if err := c.be.Delete(ctx, probeKey); err != nil {
		return fmt.Errorf("probe delete: %w", err)
	}
	return nil
}
