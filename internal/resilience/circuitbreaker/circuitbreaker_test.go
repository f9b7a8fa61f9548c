package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
)

func testConfig(name string) Config {
	return Config{
		Name:             name,
		MaxRequests:      1,
		Interval:         10 * time.Second,
		Timeout:          20 * time.Second,
		FailureThreshold: 0.5,
		MinRequests:      2,
	}
}

func TestNew(t *testing.T) {
	cb := New(testConfig("test-circuit"), nil)

	if cb.Name() != "test-circuit" {
		t.Errorf("expected name='test-circuit', got %q", cb.Name())
	}
	if cb.State() != gobreaker.StateClosed {
		t.Errorf("expected initial state=Closed, got %v", cb.State())
	}
}

func TestCircuitBreaker_TripsAndRejects(t *testing.T) {
	cb := New(testConfig("trip"), nil)
	testErr := errors.New("boom")

	for i := 0; i < 2; i++ {
		if err := cb.Execute(func() error { return testErr }); !errors.Is(err, testErr) {
			t.Fatalf("Execute() error = %v, want %v", err, testErr)
		}
	}

	if !cb.IsOpen() {
		t.Fatalf("expected state=Open after failures, got %v", cb.State())
	}

	called := false
	err := cb.Execute(func() error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("Execute() error = %v, want ErrOpen", err)
	}
	if called {
		t.Fatal("fn must not run while the circuit is open")
	}
}

func TestCircuitBreaker_IsFailureFiltersErrors(t *testing.T) {
	permanent := errors.New("bad request")
	cfg := testConfig("filtered")
	cfg.IsFailure = func(err error) bool { return !errors.Is(err, permanent) }
	cb := New(cfg, nil)

	for i := 0; i < 5; i++ {
		_ = cb.Execute(func() error { return permanent })
	}

	if cb.State() != gobreaker.StateClosed {
		t.Fatalf("expected state=Closed when errors are not failures, got %v", cb.State())
	}
}

func TestSet_ReusesBreakerPerKey(t *testing.T) {
	set := NewSet(testConfig("base"), nil)

	a := set.Get("webhook:a.example.com")
	b := set.Get("webhook:a.example.com")
	c := set.Get("webhook:b.example.com")

	if a != b {
		t.Fatal("expected the same breaker for the same key")
	}
	if a == c {
		t.Fatal("expected distinct breakers for distinct keys")
	}
	if c.Name() != "webhook:b.example.com" {
		t.Fatalf("Name() = %q, want key", c.Name())
	}
}
