// Package tokenpurger periodically removes expired auth token records so the
// token table does not grow without bound.
package tokenpurger

import (
	"context"
	"time"

	"github.com/patric-chuzhbe/tasktracker/internal/logger"
	"github.com/patric-chuzhbe/tasktracker/internal/metrics"
)

type expiredTokensRemover interface {
	DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error)
}

type TokenPurger struct {
	db           expiredTokensRemover
	interval     time.Duration
	now          func() time.Time
	errorChannel chan error
	done         chan struct{}
}

type initOptions struct {
	now              func() time.Time
	errorChannelSize int
}

type InitOption func(*initOptions)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) InitOption {
	return func(options *initOptions) {
		options.now = now
	}
}

func New(db expiredTokensRemover, interval time.Duration, optionsProto ...InitOption) *TokenPurger {
	options := &initOptions{
		now:              time.Now,
		errorChannelSize: 16,
	}
	for _, protoOption := range optionsProto {
		protoOption(options)
	}

	return &TokenPurger{
		db:           db,
		interval:     interval,
		now:          options.now,
		errorChannel: make(chan error, options.errorChannelSize),
		done:         make(chan struct{}),
	}
}

// ListenErrors calls callback for every failed purge until Run returns.
func (p *TokenPurger) ListenErrors(callback func(error)) {
	go func() {
		for err := range p.errorChannel {
			callback(err)
		}
	}()
}

// PurgeOnce removes the records that are expired right now.
func (p *TokenPurger) PurgeOnce(ctx context.Context) (int64, error) {
	removed, err := p.db.DeleteExpiredTokens(ctx, p.now())
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		metrics.PurgedTokens.Add(float64(removed))
		logger.Log.Infof("purged %d expired tokens", removed)
	}

	return removed, nil
}

// Run purges every interval until ctx is cancelled. It starts its own
// goroutine; Done is closed once it has stopped.
func (p *TokenPurger) Run(ctx context.Context) {
	go func() {
		defer close(p.done)
		defer close(p.errorChannel)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := p.PurgeOnce(ctx); err != nil {
					select {
					case p.errorChannel <- err:
					default:
						logger.Log.Warnw("dropping token purge error", "error", err)
					}
				}
			}
		}
	}()
}

func (p *TokenPurger) Done() <-chan struct{} {
	return p.done
}
