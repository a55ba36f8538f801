package backend

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/dscache/dscache/internal/circuit"
)

// downBackend fails writes until revived.
type downBackend struct {
	*Local
	down bool
}

func (d *downBackend) Put(ctx context.Context, key string, data []byte) error {
	if d.down {
		return errors.New("backend down")
	}
	return d.Local.Put(ctx, key, data)
}

func TestGuardedPassesThrough(t *testing.T) {
	local, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	g := NewGuarded(local, circuit.DefaultConfig(), zerolog.Nop())
	ctx := context.Background()

	if err := g.Put(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	data, err := g.Get(ctx, "k")
	if err != nil || string(data) != "v" {
		t.Fatalf("Get failed: %q %v", data, err)
	}
	if g.Name() != "local" {
		t.Errorf("name should pass through, got %q", g.Name())
	}
}

func TestGuardedNotExistDoesNotTrip(t *testing.T) {
	local, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	g := NewGuarded(local, circuit.Config{FailureThreshold: 2}, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if _, err := g.Get(ctx, "missing"); err != ErrNotExist {
			t.Fatalf("expected ErrNotExist, got %v", err)
		}
	}
	if g.State() != circuit.StateClosed {
		t.Errorf("misses must not open the breaker, got %v", g.State())
	}
}

func TestGuardedOpensOnRepeatedFailures(t *testing.T) {
	local, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	down := &downBackend{Local: local, down: true}
	g := NewGuarded(down, circuit.Config{FailureThreshold: 3}, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := g.Put(ctx, "k", []byte("v")); err == nil {
			t.Fatal("expected a failure")
		}
	}
	if g.State() != circuit.StateOpen {
		t.Fatalf("expected the breaker to open, got %v", g.State())
	}

	// Calls now fail fast without reaching the backend.
	down.down = false
	if err := g.Put(ctx, "k", []byte("v")); err != circuit.ErrOpen {
		t.Errorf("expected ErrOpen while cooling off, got %v", err)
	}
}
