package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dscache/dscache/internal/backend"
)

// brokenBackend fails every operation.
type brokenBackend struct{}

func (brokenBackend) Put(context.Context, string, []byte) error { return errors.New("offline") }
func (brokenBackend) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("offline")
}
func (brokenBackend) Delete(context.Context, string) error       { return errors.New("offline") }
func (brokenBackend) DeletePrefix(context.Context, string) error { return errors.New("offline") }
func (brokenBackend) List(context.Context, string) ([]string, error) {
	return nil, errors.New("offline")
}
func (brokenBackend) Name() string { return "broken" }

func TestCheckHealthy(t *testing.T) {
	be, err := backend.NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	c := NewChecker(be, 0)

	report := c.Check(context.Background())
	if report.State != StateHealthy {
		t.Errorf("expected healthy, got %v (%s)", report.State, report.LastError)
	}
	if report.Backend != "local" {
		t.Errorf("expected local backend, got %q", report.Backend)
	}

	// The probe object is cleaned up.
	if _, err := be.Get(context.Background(), probeKey); err != backend.ErrNotExist {
		t.Errorf("probe object should be deleted, got %v", err)
	}
}

func TestCheckDegraded(t *testing.T) {
	c := NewChecker(brokenBackend{}, 0)

	report := c.Check(context.Background())
	if report.State != StateDegraded {
		t.Errorf("expected degraded, got %v", report.State)
	}
	if report.LastError == "" {
		t.Error("expected the probe error to be reported")
	}
}

func TestCheckCachesResult(t *testing.T) {
	be, err := backend.NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	c := NewChecker(be, time.Minute)

	clk := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	c.clock = func() time.Time { return clk }

	first := c.Check(context.Background())
	clk = clk.Add(30 * time.Second)
	second := c.Check(context.Background())
	if !second.CheckedAt.Equal(first.CheckedAt) {
		t.Error("a check inside the interval should reuse the cached report")
	}

	clk = clk.Add(31 * time.Second)
	third := c.Check(context.Background())
	if third.CheckedAt.Equal(first.CheckedAt) {
		t.Error("a check past the interval should probe again")
	}
}

func TestStateString(t *testing.T) {
	if StateHealthy.String() != "healthy" || StateDegraded.String() != "degraded" {
		t.Error("unexpected state names")
	}
}
