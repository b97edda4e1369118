package clients

import (
	"errors"
	"testing"
	"time"

	fsCircuitbreaker "github.com/failsafe-go/failsafe-go/circuitbreaker"
)

func TestCircuitBreakerTripsWhenFailureRatioExceeded(t *testing.T) {
	var stateChanges []string
	cfg := CircuitBreakerConfig{
		Name:         "test-trip",
		MinRequests:  5,
		FailureRatio: 0.5,
		Timeout:      100 * time.Millisecond,
		OnStateChange: func(name string, from, to CircuitBreakerState) {
			stateChanges = append(stateChanges, to.String())
		},
	}
	cb := NewCircuitBreaker(cfg)

	if cb.State() != StateClosed {
		t.Fatalf("expected CLOSED start state, got %s", cb.State())
	}

	for i := 0; i < 5; i++ {
		_ = cb.Call(func() error { return errors.New("platform down") })
	}

	if cb.State() != StateOpen {
		t.Fatalf("expected OPEN after sustained failures, got %s", cb.State())
	}
	if len(stateChanges) == 0 || stateChanges[0] != "open" {
		t.Fatalf("expected state change callback to report open, got %v", stateChanges)
	}
}

func TestCircuitBreakerRejectsCallsWhenOpen(t *testing.T) {
	cfg := CircuitBreakerConfig{
		Name:         "test-reject",
		MinRequests:  3,
		FailureRatio: 0.5,
		Timeout:      time.Second,
	}
	cb := NewCircuitBreaker(cfg)

	for i := 0; i < 3; i++ {
		_ = cb.Call(func() error { return errors.New("fail") })
	}

	var called bool
	err := cb.Call(func() error { called = true; return nil })
	if !errors.Is(err, fsCircuitbreaker.ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
	if called {
		t.Fatal("open circuit must not run the call")
	}
}

func TestCircuitBreakerRecoversThroughHalfOpen(t *testing.T) {
	cfg := CircuitBreakerConfig{
		Name:         "test-half-open",
		MinRequests:  3,
		FailureRatio: 0.5,
		Timeout:      50 * time.Millisecond,
	}
	cb := NewCircuitBreaker(cfg)

	for i := 0; i < 3; i++ {
		_ = cb.Call(func() error { return errors.New("fail") })
	}
	if cb.State() != StateOpen {
		t.Fatalf("expected OPEN, got %s", cb.State())
	}

	time.Sleep(60 * time.Millisecond)

	if err := cb.Call(func() error { return nil }); err != nil {
		t.Fatalf("half-open probe should run, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("expected CLOSED after successful probe, got %s", cb.State())
	}
}
