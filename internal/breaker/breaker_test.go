// Copyright 2025 James Ross
package breaker

import (
	"testing"
	"time"
)

func TestTripsAfterRepeatedFetchFailures(t *testing.T) {
	cb := New(2*time.Second, 100*time.Millisecond, 0.5, 2)
	if cb.State() != Closed {
		t.Fatalf("new breaker should start closed, got %v", cb.State())
	}

	cb.Record(false)
	cb.Record(false)
	if cb.State() != Open {
		t.Fatalf("expected open after two failed fetches, got %v", cb.State())
	}
	if cb.Allow() {
		t.Fatal("open breaker should refuse fetches before cooldown")
	}
}

func TestProbeSuccessClosesBreaker(t *testing.T) {
	cb := New(2*time.Second, 30*time.Millisecond, 0.5, 2)
	cb.Record(false)
	cb.Record(false)

	time.Sleep(50 * time.Millisecond)
	if !cb.Allow() {
		t.Fatal("expected a probe fetch after cooldown")
	}
	cb.Record(true)
	if cb.State() != Closed {
		t.Fatalf("expected closed after successful probe, got %v", cb.State())
	}
	if !cb.Allow() {
		t.Fatal("closed breaker should allow fetches")
	}
}

func TestProbeFailureReopensBreaker(t *testing.T) {
	cb := New(2*time.Second, 30*time.Millisecond, 0.5, 2)
	cb.Record(false)
	cb.Record(false)

	time.Sleep(50 * time.Millisecond)
	if !cb.Allow() {
		t.Fatal("expected a probe fetch after cooldown")
	}
	cb.Record(false)
	if cb.State() != Open {
		t.Fatalf("expected open again after failed probe, got %v", cb.State())
	}
	if cb.Allow() {
		t.Fatal("reopened breaker should refuse fetches")
	}
}

func TestStaysClosedBelowMinSamples(t *testing.T) {
	cb := New(2*time.Second, 30*time.Millisecond, 0.5, 10)
	for i := 0; i < 9; i++ {
		cb.Record(false)
	}
	if cb.State() != Closed {
		t.Fatalf("breaker should not trip below min samples, got %v", cb.State())
	}
}

func TestSuccessesKeepBreakerClosed(t *testing.T) {
	cb := New(2*time.Second, 30*time.Millisecond, 0.5, 4)
	cb.Record(true)
	cb.Record(true)
	cb.Record(true)
	cb.Record(false)
	if cb.State() != Closed {
		t.Fatalf("25%% failure rate should stay below a 50%% threshold, got %v", cb.State())
	}
}
