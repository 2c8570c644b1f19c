package rate

import (
	"context"
	"testing"
	"time"

	"themesync/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedBudget struct {
	budget Budget
	ok     bool
}

func (f fixedBudget) CurrentBudget() (Budget, bool) {
	return f.budget, f.ok
}

func TestTelemetryPolicy_Threshold(t *testing.T) {
	tests := []struct {
		name   string
		budget fixedBudget
		want   time.Duration
	}{
		{"above threshold", fixedBudget{Budget{Current: 51, Max: 100}, true}, time.Second},
		{"exactly half", fixedBudget{Budget{Current: 50, Max: 100}, true}, 0},
		{"light load", fixedBudget{Budget{Current: 3, Max: 40}, true}, 0},
		{"full bucket", fixedBudget{Budget{Current: 40, Max: 40}, true}, time.Second},
		{"no telemetry yet", fixedBudget{}, 0},
		{"unknown max", fixedBudget{Budget{Current: 10}, true}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewTelemetryPolicy(tt.budget, DefaultThreshold, DefaultCooldown)
			assert.Equal(t, tt.want, p.NextDelay(context.Background(), Admission{Op: OpUpdate}))
		})
	}
}

func TestPositionPolicy_Monotonic(t *testing.T) {
	p := NewPositionPolicy(3, 2)
	ctx := context.Background()

	want := []time.Duration{0, 0, 0, 500 * time.Millisecond, time.Second, 1500 * time.Millisecond}
	for i, w := range want {
		got := p.NextDelay(ctx, Admission{Op: OpUpdate, Key: "templates/index.liquid"})
		assert.Equal(t, w, got, "admission %d", i+1)
	}
	assert.Equal(t, len(want), p.Position())
}

func TestPositionPolicy_CountsDeletes(t *testing.T) {
	p := NewPositionPolicy(1, 4)
	ctx := context.Background()

	assert.Equal(t, time.Duration(0), p.NextDelay(ctx, Admission{Op: OpUpdate}))
	assert.Equal(t, 250*time.Millisecond, p.NextDelay(ctx, Admission{Op: OpDelete}))
}

func TestBucketPolicy_FrozenClockMatchesPosition(t *testing.T) {
	p := NewBucketPolicy(3, 2)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }
	ctx := context.Background()

	want := []time.Duration{0, 0, 0, 500 * time.Millisecond, time.Second}
	for i, w := range want {
		assert.Equal(t, w, p.NextDelay(ctx, Admission{Op: OpUpdate}), "admission %d", i+1)
	}
}

func TestBucketPolicy_RefillsOverTime(t *testing.T) {
	p := NewBucketPolicy(1, 2)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }
	ctx := context.Background()

	assert.Equal(t, time.Duration(0), p.NextDelay(ctx, Admission{Op: OpUpdate}))

	now = now.Add(time.Second)
	assert.Equal(t, time.Duration(0), p.NextDelay(ctx, Admission{Op: OpUpdate}))
}

func TestNew(t *testing.T) {
	src := fixedBudget{}

	tests := []struct {
		name    string
		params  Params
		src     BudgetSource
		want    any
		wantErr bool
	}{
		{name: "default is telemetry", params: Params{}, src: src, want: &TelemetryPolicy{}},
		{name: "position", params: Params{Policy: PolicyPosition, Burst: 36}, want: &PositionPolicy{}},
		{name: "bucket", params: Params{Policy: PolicyBucket}, want: &BucketPolicy{}},
		{name: "telemetry without source", params: Params{Policy: PolicyTelemetry}, wantErr: true},
		{name: "unknown policy", params: Params{Policy: "random"}, wantErr: true},
		{name: "negative leak rate", params: Params{Policy: PolicyPosition, LeakRate: -1}, wantErr: true},
		{name: "negative burst", params: Params{Policy: PolicyBucket, Burst: -2}, wantErr: true},
		{name: "threshold above one", params: Params{Threshold: 1.5}, src: src, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.params, tt.src)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, errors.ErrorTypeConfiguration, errors.TypeOf(err))
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, c)
		})
	}
}

func TestBudget_Ratio(t *testing.T) {
	assert.InDelta(t, 0.51, Budget{Current: 51, Max: 100}.Ratio(), 1e-9)
	assert.Equal(t, 0.0, Budget{}.Ratio())
	assert.Equal(t, "32/40", Budget{Current: 32, Max: 40}.String())
}
