package backend

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/dscache/dscache/internal/circuit"
)

// Guarded wraps a backend with a circuit breaker. A backend that keeps
// failing is cut off for a cool-off period: reads become immediate
// misses and writes fail fast, so the orchestrator degrades to
// memory-only service instead of stalling on every call.
type Guarded struct {
	inner   ObjectBackend
	breaker *circuit.Breaker
}

// NewGuarded wraps inner with a breaker built from cfg.
func NewGuarded(inner ObjectBackend, cfg circuit.Config, logger zerolog.Logger) *Guarded {
	log := logger.With().Str("component", "backend-breaker").Str("backend", inner.Name()).Logger()
	br := circuit.New(cfg)
	br.OnStateChange(func(from, to circuit.State) {
		log.Warn().Stringer("from", from).Stringer("to", to).Msg("backend breaker state changed")
	})
	return &Guarded{inner: inner, breaker: br}
}

// Name implements ObjectBackend.
func (g *Guarded) Name() string { return g.inner.Name() }

// State exposes the breaker state for health reporting.
func (g *Guarded) State() circuit.State { return g.breaker.State() }

// do runs op through the breaker. ErrNotExist is a valid outcome of a
// healthy backend and must not trip it.
func (g *Guarded) do(op func() error) error {
	return g.breaker.Do(func() error {
		if err := op(); err != nil && err != ErrNotExist {
			return err
		}
		return nil
	})
}

// Put implements ObjectBackend.
func (g *Guarded) Put(ctx context.Context, key string, data []byte) error {
	return g.do(func() error { return g.inner.Put(ctx, key, data) })
}

// Get implements ObjectBackend.
func (g *Guarded) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	var inner error
	err := g.do(func() error {
		data, inner = g.inner.Get(ctx, key)
		return inner
	})
	if inner == ErrNotExist {
		return nil, ErrNotExist
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Delete implements ObjectBackend.
func (g *Guarded) Delete(ctx context.Context, key string) error {
	return g.do(func() error { return g.inner.Delete(ctx, key) })
}

// DeletePrefix implements ObjectBackend.
func (g *Guarded) DeletePrefix(ctx context.Context, prefix string) error {
	return g.do(func() error { return g.inner.DeletePrefix(ctx, prefix) })
}

// List implements ObjectBackend.
func (g *Guarded) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	var inner error
	err := g.do(func() error {
		keys, inner = g.inner.List(ctx, prefix)
		return inner
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}
