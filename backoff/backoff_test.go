package backoff_test

import (
	"testing"
	"time"

	"github.com/zakops/gatekeep/backoff"
)

func TestConstant_ReturnsFixedDelay(t *testing.T) {
	c := backoff.NewConstant(5 * time.Second)
	for attempt := 1; attempt <= 10; attempt++ {
		if got := c.Delay(attempt); got != 5*time.Second {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, 5*time.Second)
		}
	}
}

func TestExponential_DoublesEachAttempt(t *testing.T) {
	e := backoff.NewExponential(30*time.Second, time.Hour)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 30 * time.Second},
		{2, 60 * time.Second},
		{3, 120 * time.Second},
		{4, 240 * time.Second},
	}
	for _, tt := range tests {
		if got := e.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponential_StrictlyIncreasingUntilCap(t *testing.T) {
	e := backoff.NewExponential(30*time.Second, time.Hour)
	prev := time.Duration(0)
	for attempt := 1; attempt <= 7; attempt++ {
		d := e.Delay(attempt)
		if d <= prev {
			t.Fatalf("Delay(%d) = %v, not greater than previous %v", attempt, d, prev)
		}
		prev = d
	}
}

func TestExponential_CapsAtMax(t *testing.T) {
	e := backoff.NewExponential(30*time.Second, 2*time.Minute)
	if got := e.Delay(10); got != 2*time.Minute {
		t.Errorf("Delay(10) = %v, want cap %v", got, 2*time.Minute)
	}
}

func TestExponentialWithJitter_WithinBounds(t *testing.T) {
	e := backoff.NewExponentialWithJitter(time.Second, time.Minute)
	for attempt := 1; attempt <= 10; attempt++ {
		d := e.Delay(attempt)
		if d < 0 || d > time.Minute {
			t.Errorf("Delay(%d) = %v, outside [0, 1m]", attempt, d)
		}
	}
}
