package client

import (
	"context"
	stderrors "errors"
	"time"

	"themesync/internal/errors"
	"themesync/internal/rate"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// BreakerSettings configures BreakerClient.
type BreakerSettings struct {
	// Consecutive failures before the circuit opens.
	Failures uint32
	// How long the circuit stays open before letting a probe through.
	Timeout time.Duration
}

// BreakerClient fails fast once the remote keeps failing. Rejections surface as ordinary
// remote errors.
type BreakerClient struct {
	api    API
	cb     *gobreaker.CircuitBreaker[rate.Budget]
	logger *zap.Logger
}

func NewBreakerClient(api API, settings BreakerSettings, logger *zap.Logger) *BreakerClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if settings.Failures == 0 {
		settings.Failures = 5
	}
	if settings.Timeout == 0 {
		settings.Timeout = 30 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker[rate.Budget](gobreaker.Settings{
		Name:        "asset-api",
		MaxRequests: 1,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.Failures
		},
		// A rejected asset says nothing about the health of the remote.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.TypeOf(err) == errors.ErrorTypeInvalidRequest
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &BreakerClient{api: api, cb: cb, logger: logger}
}

func (b *BreakerClient) UpdateAsset(ctx context.Context, themeID, key string, payload []byte) (rate.Budget, error) {
	return b.execute(func() (rate.Budget, error) {
		return b.api.UpdateAsset(ctx, themeID, key, payload)
	})
}

func (b *BreakerClient) DeleteAsset(ctx context.Context, themeID, key string) (rate.Budget, error) {
	return b.execute(func() (rate.Budget, error) {
		return b.api.DeleteAsset(ctx, themeID, key)
	})
}

func (b *BreakerClient) CurrentBudget() (rate.Budget, bool) {
	return b.api.CurrentBudget()
}

// State exposes the breaker state for status output.
func (b *BreakerClient) State() gobreaker.State {
	return b.cb.State()
}

func (b *BreakerClient) execute(fn func() (rate.Budget, error)) (rate.Budget, error) {
	budget, err := b.cb.Execute(fn)
	if err == nil {
		return budget, nil
	}
	if stderrors.Is(err, gobreaker.ErrOpenState) || stderrors.Is(err, gobreaker.ErrTooManyRequests) {
		return rate.Budget{}, errors.Remote(errors.ErrorTypeUnknown, "remote unavailable, circuit open", 0, err)
	}
	return rate.Budget{}, err
}
