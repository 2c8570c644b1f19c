// internal/pipeline/pipeline.go
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"themesync/internal/assetkey"
	"themesync/internal/errors"
	"themesync/internal/rate"

	"go.uber.org/zap"
)

// DefaultIgnore matches filesystem metadata files that never belong to a theme.
var DefaultIgnore = []string{".DS_Store"}

// Remote is the asset API as seen by the pipeline.
type Remote interface {
	UpdateAsset(ctx context.Context, themeID, key string, payload []byte) (rate.Budget, error)
	DeleteAsset(ctx context.Context, themeID, key string) (rate.Budget, error)
}

// Outcome is the terminal state of one item before it is forwarded.
type Outcome int

const (
	OutcomeSkipped Outcome = iota
	OutcomeSucceeded
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	default:
		return "invalid"
	}
}

// Result describes how one item was handled.
type Result struct {
	Event   Event
	Key     string
	Op      rate.Op
	Outcome Outcome
	// Reason is set for skipped items.
	Reason string
	Delay  time.Duration
	Budget rate.Budget
	Err    error
}

// Observer receives progress for every item. Callbacks run on the pipeline lane and
// must not block for long.
type Observer interface {
	// ItemStarted is called after the admission delay is known, before waiting on it.
	ItemStarted(ev Event, key string, op rate.Op, delay time.Duration)
	// ItemFinished is called once per item, including skipped ones, before it is forwarded.
	ItemFinished(res Result, snap Snapshot)
}

type Options struct {
	ThemeID   string
	BasePath  string
	Ignore    []string
	Observers []Observer
	Logger    *zap.Logger
	// Sleep waits for d or until ctx is done. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Pipeline is an ordered one-in-one-out stage that mirrors file events onto the remote
// asset store. Items are admitted one at a time.
type Pipeline struct {
	session   *Session
	remote    Remote
	limiter   rate.Controller
	mapper    *assetkey.Mapper
	ignore    []string
	observers []Observer
	logger    *zap.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

func New(remote Remote, limiter rate.Controller, opts Options) (*Pipeline, error) {
	if remote == nil {
		return nil, errors.Configuration("remote client is required")
	}
	if limiter == nil {
		return nil, errors.Configuration("rate controller is required")
	}

	mapper, err := assetkey.NewMapper(opts.BasePath, assetkey.DefaultCacheSize)
	if err != nil {
		return nil, errors.Configuration(fmt.Sprintf("resolving base path: %v", err))
	}

	ignore := opts.Ignore
	if ignore == nil {
		ignore = DefaultIgnore
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	return &Pipeline{
		session:   NewSession(opts.ThemeID, mapper.Base()),
		remote:    remote,
		limiter:   limiter,
		mapper:    mapper,
		ignore:    ignore,
		observers: opts.Observers,
		logger:    logger.With(zap.String("theme_id", opts.ThemeID)),
		sleep:     sleep,
	}, nil
}

// Session returns the statistics of this run.
func (p *Pipeline) Session() *Session {
	return p.session
}

// Observe adds observers. It must be called before Run.
func (p *Pipeline) Observe(observers ...Observer) {
	p.observers = append(p.observers, observers...)
}

// Run consumes in until it is closed, forwarding every event to out in input order.
// out is closed when Run returns. Run only returns an error when ctx is done.
func (p *Pipeline) Run(ctx context.Context, in <-chan Event, out chan<- Event) error {
	defer close(out)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-in:
			if !ok {
				return nil
			}
			if _, err := p.Process(ctx, ev); err != nil {
				return err
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// Process handles a single event without forwarding it. Remote failures are recorded in
// the session and reported in the Result; the returned error is non-nil only when ctx
// is done before the item completed, in which case no remote call was made or the
// in-flight call was abandoned.
func (p *Pipeline) Process(ctx context.Context, ev Event) (Result, error) {
	res := Result{Event: ev, Key: p.mapper.Key(ev.Path)}

	if reason, skip := p.classify(ev); skip {
		res.Outcome = OutcomeSkipped
		res.Reason = reason
		p.session.skip()
		p.logger.Debug("skipping item", zap.String("path", ev.Path), zap.String("reason", reason))
		p.finish(res)
		return res, nil
	}

	p.session.begin(ev.Kind)

	if ev.Kind == KindUnsupported {
		res.Outcome = OutcomeSkipped
		res.Reason = "unsupported payload"
		res.Err = errors.UnsupportedPayload("Streams are not supported!")
		p.session.fail(ev.Kind, itemError(ev, res.Key, res.Err))
		p.logger.Warn("unsupported payload", zap.String("path", ev.Path))
		p.finish(res)
		return res, nil
	}

	res.Op = rate.OpUpdate
	if ev.Kind == KindDeletion {
		res.Op = rate.OpDelete
	}

	res.Delay = p.limiter.NextDelay(ctx, rate.Admission{Op: res.Op, Key: res.Key})
	for _, o := range p.observers {
		o.ItemStarted(ev, res.Key, res.Op, res.Delay)
	}

	if err := p.sleep(ctx, res.Delay); err != nil {
		p.session.abort(ev.Kind)
		return res, err
	}

	var err error
	switch res.Op {
	case rate.OpUpdate:
		res.Budget, err = p.remote.UpdateAsset(ctx, p.session.ThemeID(), res.Key, ev.Payload())
	case rate.OpDelete:
		res.Budget, err = p.remote.DeleteAsset(ctx, p.session.ThemeID(), res.Key)
	}

	if err != nil && ctx.Err() != nil {
		p.session.abort(ev.Kind)
		return res, ctx.Err()
	}

	if err != nil {
		res.Outcome = OutcomeFailed
		res.Err = err
		p.session.fail(ev.Kind, itemError(ev, res.Key, err))
		p.logger.Warn("remote call failed",
			zap.String("op", string(res.Op)),
			zap.String("key", res.Key),
			zap.Error(err),
		)
	} else {
		res.Outcome = OutcomeSucceeded
		p.session.succeed(ev.Kind)
		p.logger.Debug("remote call succeeded",
			zap.String("op", string(res.Op)),
			zap.String("key", res.Key),
			zap.Stringer("budget", res.Budget),
		)
	}

	p.finish(res)
	return res, nil
}

func (p *Pipeline) classify(ev Event) (string, bool) {
	if p.session.ThemeID() == "" {
		return "no theme id configured", true
	}
	if p.Ignored(ev.Path) {
		return "ignored path", true
	}
	return "", false
}

// Ignored reports whether any path segment matches an ignore pattern.
func (p *Pipeline) Ignored(path string) bool {
	return MatchIgnore(p.ignore, path)
}

// MatchIgnore reports whether a segment of path equals or glob-matches one of patterns.
func MatchIgnore(patterns []string, path string) bool {
	segments := strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == '\\' })
	for _, pattern := range patterns {
		for _, seg := range segments {
			if seg == pattern {
				return true
			}
			if ok, _ := filepath.Match(pattern, seg); ok {
				return true
			}
		}
	}
	return false
}

func (p *Pipeline) finish(res Result) {
	if len(p.observers) == 0 {
		return
	}
	snap := p.session.Snapshot()
	for _, o := range p.observers {
		o.ItemFinished(res, snap)
	}
}

func itemError(ev Event, key string, err error) ItemError {
	return ItemError{
		Path:    ev.Path,
		Key:     key,
		Type:    errors.TypeOf(err),
		Message: err.Error(),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
