package stream

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultBackoffInterval is the wait between reconnect attempts when no
// policy is configured.
const DefaultBackoffInterval = time.Second

// Backoff is a bounded exponential reconnect policy. Initial == Max gives a
// fixed interval. There is no attempt limit.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// FixedBackoff returns a policy that always waits d.
func FixedBackoff(d time.Duration) Backoff {
	return Backoff{Initial: d, Max: d, Multiplier: 1}
}

func (b Backoff) normalized() Backoff {
	if b.Initial <= 0 {
		b.Initial = DefaultBackoffInterval
	}
	if b.Max < b.Initial {
		b.Max = b.Initial
	}
	if b.Multiplier < 1 {
		b.Multiplier = 1
	}
	return b
}

// policy builds the reconnect schedule: no jitter and no elapsed-time limit,
// so NextBackOff never returns backoff.Stop.
func (b Backoff) policy() *backoff.ExponentialBackOff {
	b = b.normalized()
	p := &backoff.ExponentialBackOff{
		InitialInterval:     b.Initial,
		RandomizationFactor: 0,
		Multiplier:          b.Multiplier,
		MaxInterval:         b.Max,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	p.Reset()
	return p
}
