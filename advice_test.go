package bayeux

import (
	"testing"
	"time"
)

func TestAdviceMergeOverlaysOnlyPresentFields(t *testing.T) {
	base := &Advice{Reconnect: ReconnectRetry, Interval: 1000, Timeout: 30000}
	merged := base.Merge(&Advice{Reconnect: ReconnectHandshake})

	if merged.Reconnect != ReconnectHandshake {
		t.Fatalf("expected Reconnect to be overlaid, got %q", merged.Reconnect)
	}
	if merged.Interval != 1000 {
		t.Fatalf("expected Interval to be preserved, got %d", merged.Interval)
	}
	if merged.Timeout != 30000 {
		t.Fatalf("expected Timeout to be preserved, got %d", merged.Timeout)
	}
}

func TestAdviceMergeNilReceiverAndArgument(t *testing.T) {
	var nilAdvice *Advice
	if got := nilAdvice.Merge(nil); got == nil || got.Reconnect != "" {
		t.Fatalf("expected an empty Advice, got %+v", got)
	}
}

func TestAdviceShouldHandshakeStopRetry(t *testing.T) {
	handshake := &Advice{Reconnect: ReconnectHandshake}
	if !handshake.ShouldHandshake() {
		t.Fatal("expected ShouldHandshake true")
	}

	stop := &Advice{Reconnect: ReconnectNone}
	if !stop.ShouldStop() {
		t.Fatal("expected ShouldStop true")
	}

	var unset *Advice
	if !unset.ShouldRetry() {
		t.Fatal("expected a nil Advice to default to retry")
	}
}

func TestAdviceIntervalAsDurationDefault(t *testing.T) {
	var unset *Advice
	if got := unset.IntervalAsDuration(); got != time.Second {
		t.Fatalf("expected default interval of 1s, got %s", got)
	}

	a := &Advice{Interval: 5000}
	if got := a.IntervalAsDuration(); got != 5*time.Second {
		t.Fatalf("expected 5s, got %s", got)
	}
}

func TestAdviceTimeoutAsDurationDefault(t *testing.T) {
	var unset *Advice
	if got := unset.TimeoutAsDuration(); got != 30*time.Second {
		t.Fatalf("expected default timeout of 30s, got %s", got)
	}

	a := &Advice{Timeout: 5000}
	if got := a.TimeoutAsDuration(); got != 5*time.Second {
		t.Fatalf("expected 5s, got %s", got)
	}
}

func TestDefaultBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{5, 30 * time.Second},
		{100, 30 * time.Second},
		{-1, time.Second},
	}
	for _, tc := range tests {
		if got := DefaultBackoff(tc.attempt); got != tc.want {
			t.Errorf("DefaultBackoff(%d) = %s, want %s", tc.attempt, got, tc.want)
		}
	}
}
