package rate

import (
	"context"
	"sync"
	"time"

	xrate "golang.org/x/time/rate"
)

// TelemetryPolicy throttles only when the remote reports more than Threshold of its
// budget consumed.
type TelemetryPolicy struct {
	src       BudgetSource
	threshold float64
	cooldown  time.Duration
}

func NewTelemetryPolicy(src BudgetSource, threshold float64, cooldown time.Duration) *TelemetryPolicy {
	return &TelemetryPolicy{src: src, threshold: threshold, cooldown: cooldown}
}

func (p *TelemetryPolicy) NextDelay(_ context.Context, _ Admission) time.Duration {
	budget, ok := p.src.CurrentBudget()
	if !ok {
		return 0
	}
	if budget.Ratio() > p.threshold {
		return p.cooldown
	}
	return 0
}

// PositionPolicy models a leaky bucket from the admission count alone: the first burst
// calls are free, call n > burst waits (n-burst)/leakRate seconds.
type PositionPolicy struct {
	mu       sync.Mutex
	position int
	burst    int
	leakRate float64
}

func NewPositionPolicy(burst int, leakRate float64) *PositionPolicy {
	return &PositionPolicy{burst: burst, leakRate: leakRate}
}

func (p *PositionPolicy) NextDelay(_ context.Context, _ Admission) time.Duration {
	p.mu.Lock()
	p.position++
	position := p.position
	p.mu.Unlock()

	if position <= p.burst {
		return 0
	}
	seconds := float64(position-p.burst) / p.leakRate
	return time.Duration(seconds * float64(time.Second))
}

// Position returns the number of calls admitted so far.
func (p *PositionPolicy) Position() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

// BucketPolicy is a live token bucket: burst tokens refilled at leakRate per second.
// Unlike PositionPolicy it credits the time already spent on earlier calls.
type BucketPolicy struct {
	limiter *xrate.Limiter
	now     func() time.Time
}

func NewBucketPolicy(burst int, leakRate float64) *BucketPolicy {
	if burst < 1 {
		burst = 1
	}
	return &BucketPolicy{
		limiter: xrate.NewLimiter(xrate.Limit(leakRate), burst),
		now:     time.Now,
	}
}

func (p *BucketPolicy) NextDelay(_ context.Context, _ Admission) time.Duration {
	now := p.now()
	r := p.limiter.ReserveN(now, 1)
	if !r.OK() {
		return 0
	}
	return r.DelayFrom(now)
}
