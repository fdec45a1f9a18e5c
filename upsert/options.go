package upsert

import (
	"database/sql"
	"log/slog"
	"time"
)

type options struct {
	logger     *slog.Logger
	verifyKeys bool
	isolation  sql.IsolationLevel
	now        func() time.Time
}

// Option configures a Resolver or Coordinator.
type Option func(*options)

func newOptions(opts []Option) options {
	o := options{
		logger:    slog.Default(),
		isolation: sql.LevelDefault,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger. A nil logger keeps slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithKeyVerification makes the key extractor cross-check statement-scoped
// keys against the natural key as well. Connection-scoped keys are always
// checked.
func WithKeyVerification(verify bool) Option {
	return func(o *options) { o.verifyKeys = verify }
}

// WithIsolation sets the isolation level of transactions the Coordinator
// begins itself.
func WithIsolation(level sql.IsolationLevel) Option {
	return func(o *options) { o.isolation = level }
}

// WithClock sets the time source for dependent records without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
