// internal/rate/rate.go
package rate

import (
	"context"
	"fmt"
	"time"

	"themesync/internal/errors"
)

// Policy names accepted by New.
const (
	PolicyTelemetry = "telemetry"
	PolicyPosition  = "position"
	PolicyBucket    = "bucket"
)

// Defaults used when a Params field is left zero.
const (
	DefaultBurst     = 40
	DefaultLeakRate  = 2.0
	DefaultCooldown  = time.Second
	DefaultThreshold = 0.5
)

// Budget is the call-budget telemetry reported by the remote API after a call.
type Budget struct {
	Current int `json:"current"`
	Max     int `json:"max"`
}

// Ratio is Current/Max, or 0 when Max is unknown.
func (b Budget) Ratio() float64 {
	if b.Max <= 0 {
		return 0
	}
	return float64(b.Current) / float64(b.Max)
}

func (b Budget) String() string {
	return fmt.Sprintf("%d/%d", b.Current, b.Max)
}

// BudgetSource exposes the budget observed on the most recent remote call.
type BudgetSource interface {
	CurrentBudget() (Budget, bool)
}

// Op is the kind of remote call being admitted.
type Op string

const (
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Admission describes the call about to be issued.
type Admission struct {
	Op  Op
	Key string
}

// Controller decides how long to wait before the next remote call.
// Implementations are total: they never fail and never return a negative delay.
type Controller interface {
	NextDelay(ctx context.Context, a Admission) time.Duration
}

// Params selects and tunes a Controller.
type Params struct {
	Policy    string
	Burst     int
	LeakRate  float64
	Cooldown  time.Duration
	Threshold float64
}

func (p Params) withDefaults() Params {
	if p.Policy == "" {
		p.Policy = PolicyTelemetry
	}
	if p.Burst == 0 {
		p.Burst = DefaultBurst
	}
	if p.LeakRate == 0 {
		p.LeakRate = DefaultLeakRate
	}
	if p.Cooldown == 0 {
		p.Cooldown = DefaultCooldown
	}
	if p.Threshold == 0 {
		p.Threshold = DefaultThreshold
	}
	return p
}

// Validate reports invalid parameters as a configuration error.
func (p Params) Validate() error {
	p = p.withDefaults()

	switch p.Policy {
	case PolicyTelemetry:
		if p.Cooldown < 0 {
			return errors.Configuration("rate cooldown must not be negative")
		}
		if p.Threshold <= 0 || p.Threshold > 1 {
			return errors.Configuration("rate threshold must be in (0, 1]")
		}
	case PolicyPosition, PolicyBucket:
		if p.Burst < 0 {
			return errors.Configuration("rate burst must not be negative")
		}
		if p.LeakRate <= 0 {
			return errors.Configuration("rate leak_rate must be positive")
		}
	default:
		return errors.Configuration(fmt.Sprintf("unknown rate policy %q", p.Policy))
	}
	return nil
}

// New builds the Controller named by p.Policy. src is only consulted by the telemetry policy.
func New(p Params, src BudgetSource) (Controller, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	p = p.withDefaults()

	switch p.Policy {
	case PolicyPosition:
		return NewPositionPolicy(p.Burst, p.LeakRate), nil
	case PolicyBucket:
		return NewBucketPolicy(p.Burst, p.LeakRate), nil
	default:
		if src == nil {
			return nil, errors.Configuration("telemetry rate policy needs a budget source")
		}
		return NewTelemetryPolicy(src, p.Threshold, p.Cooldown), nil
	}
}
