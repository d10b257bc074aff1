package credit

import "time"

const (
	DefaultBaseDelay = time.Second
	DefaultMaxDelay  = 30 * time.Second
	DefaultAttempts  = 5
)

// Backoff is a deterministic exponential retry schedule without jitter.
type Backoff struct {
	Base     time.Duration
	Max      time.Duration
	Attempts int
}

func DefaultBackoff() Backoff {
	return Backoff{Base: DefaultBaseDelay, Max: DefaultMaxDelay, Attempts: DefaultAttempts}
}

// Delay is the wait before retry n (0-based): min(Base*2^n, Max).
func (b Backoff) Delay(n int) time.Duration {
	d := b.Base
	for i := 0; i < n; i++ {
		d *= 2
		if d >= b.Max {
			return b.Max
		}
	}
	if d > b.Max {
		return b.Max
	}
	return d
}

// Delays lists the waits between attempts, Attempts-1 of them.
func (b Backoff) Delays() []time.Duration {
	if b.Attempts <= 1 {
		return nil
	}
	out := make([]time.Duration, b.Attempts-1)
	for i := range out {
		out[i] = b.Delay(i)
	}
	return out
}
