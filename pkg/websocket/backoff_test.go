package websocket

import (
	"testing"
	"time"
)

func TestBackoffProgression(t *testing.T) {
	b := NewBackoff(BackoffConfig{
		InitialDelay: time.Second,
		MaxDelay:     8 * time.Second,
		Multiplier:   2.0,
		JitterFrac:   0, // deterministic for the test
	})

	want := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		8 * time.Second, // capped
	}

	for i, w := range want {
		got := b.Next()
		if got != w {
			t.Errorf("attempt %d: delay = %v, want %v", i, got, w)
		}
	}
}

func TestBackoffReset(t *testing.T) {
	b := NewBackoff(BackoffConfig{
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFrac:   0,
	})

	b.Next()
	b.Next()
	b.Reset()

	if got := b.Next(); got != time.Second {
		t.Errorf("after reset: delay = %v, want 1s", got)
	}
}

func TestBackoffJitterBounds(t *testing.T) {
	b := NewBackoff(BackoffConfig{
		InitialDelay: time.Second,
		MaxDelay:     time.Second,
		Multiplier:   1.0,
		JitterFrac:   0.2,
	})

	for i := 0; i < 100; i++ {
		got := b.Next()
		if got < time.Second || got > 1200*time.Millisecond {
			t.Fatalf("jittered delay %v outside [1s, 1.2s]", got)
		}
	}
}
