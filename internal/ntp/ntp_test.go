package ntp

import (
	"errors"
	"testing"
	"time"

	"github.com/beevik/ntp"
)

func newTestChecker(t *testing.T, query func(string) (*ntp.Response, error)) *Checker {
	t.Helper()
	c := Start(withQueryFunc(query), WithInterval(time.Hour))
	t.Cleanup(c.Stop)
	// Start's first poll runs synchronously inside loop's goroutine; give
	// it a moment to land before assertions.
	time.Sleep(20 * time.Millisecond)
	return c
}

func TestHealthyWithinThreshold(t *testing.T) {
	c := newTestChecker(t, func(string) (*ntp.Response, error) {
		return &ntp.Response{ClockOffset: 10 * time.Millisecond}, nil
	})
	if c.Phase() != PhaseHealthy {
		t.Fatalf("Phase() = %v, want healthy", c.Phase())
	}
	if c.Err() != nil {
		t.Fatalf("Err() = %v, want nil", c.Err())
	}
}

func TestUnhealthyOffsetBeyondThreshold(t *testing.T) {
	c := newTestChecker(t, func(string) (*ntp.Response, error) {
		return &ntp.Response{ClockOffset: 2 * time.Second}, nil
	})
	if c.Phase() != PhaseUnhealthyOffset {
		t.Fatalf("Phase() = %v, want unhealthy_offset", c.Phase())
	}
}

func TestNegativeOffsetBeyondThresholdIsUnhealthy(t *testing.T) {
	c := newTestChecker(t, func(string) (*ntp.Response, error) {
		return &ntp.Response{ClockOffset: -2 * time.Second}, nil
	})
	if c.Phase() != PhaseUnhealthyOffset {
		t.Fatalf("Phase() = %v, want unhealthy_offset for a large negative offset", c.Phase())
	}
}

func TestErrorPhaseOnQueryFailure(t *testing.T) {
	c := newTestChecker(t, func(string) (*ntp.Response, error) {
		return nil, errors.New("network unreachable")
	})
	if c.Phase() != PhaseError {
		t.Fatalf("Phase() = %v, want error", c.Phase())
	}
	if c.Err() == nil {
		t.Fatalf("Err() = nil, want the query error")
	}
}

func TestPhaseStringValues(t *testing.T) {
	cases := map[Phase]string{
		PhaseUnknown:         "unknown",
		PhaseHealthy:         "healthy",
		PhaseUnhealthyOffset: "unhealthy_offset",
		PhaseError:           "error",
	}
	for phase, want := range cases {
		if got := phase.String(); got != want {
			t.Fatalf("Phase(%d).String() = %q, want %q", phase, got, want)
		}
	}
}
