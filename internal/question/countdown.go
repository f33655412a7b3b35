package question

import (
	"context"
	"time"

	"github.com/ashureev/agentlink/internal/domain"
)

// Countdown reports the time left before a request's auto-submit deadline.
// It only reports; nothing is submitted when it reaches zero.
type Countdown struct {
	deadline time.Time
	enabled  bool
	now      func() time.Time
}

// NewCountdown builds the countdown of req. now defaults to time.Now.
func NewCountdown(req domain.QuestionRequest, now func() time.Time) Countdown {
	if now == nil {
		now = time.Now
	}
	deadline, enabled := req.Deadline()
	return Countdown{deadline: deadline, enabled: enabled, now: now}
}

// Enabled reports whether the request has an auto-submit deadline.
func (c Countdown) Enabled() bool { return c.enabled }

// Deadline returns the auto-submit deadline.
func (c Countdown) Deadline() time.Time { return c.deadline }

// Remaining returns whole seconds left, rounded up and clamped at zero.
func (c Countdown) Remaining() int {
	if !c.enabled {
		return 0
	}
	d := c.deadline.Sub(c.now())
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

// Watch emits Remaining now and then once per second. The channel is closed
// after zero is emitted or when ctx is done. A disabled countdown yields a
// closed channel.
func (c Countdown) Watch(ctx context.Context) <-chan int {
	out := make(chan int, 1)
	if !c.enabled {
		close(out)
		return out
	}
	go func() {
		defer close(out)
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			left := c.Remaining()
			select {
			case out <- left:
			case <-ctx.Done():
				return
			}
			if left == 0 {
				return
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
