package websocket

import (
	"math/rand"
	"sync"
	"time"
)

// BackoffConfig tunes the exponential backoff between reconnect attempts.
type BackoffConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFrac   float64 // 0.2 = up to 20% added on top
}

// Backoff produces exponentially growing, jittered delays. Safe for
// concurrent use.
type Backoff struct {
	config  BackoffConfig
	current time.Duration
	mu      sync.Mutex
}

// NewBackoff creates a backoff starting at the initial delay.
func NewBackoff(cfg BackoffConfig) *Backoff {
	return &Backoff{
		config:  cfg,
		current: cfg.InitialDelay,
	}
}

// Next returns the delay for the upcoming attempt and advances the schedule.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	jitter := rand.Float64() * b.config.JitterFrac
	delay := time.Duration(float64(b.current) * (1.0 + jitter))

	next := time.Duration(float64(b.current) * b.config.Multiplier)
	if next > b.config.MaxDelay {
		next = b.config.MaxDelay
	}
	b.current = next

	return delay
}

// Reset restores the schedule to the initial delay after a successful connect.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.current = b.config.InitialDelay
}
