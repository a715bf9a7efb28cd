package logging

import (
	"context"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
)

// Reporter records failures that must not reach the caller, such as a
// ledger append or broadcast that failed after the mutation committed.
type Reporter struct {
	logger *slog.Logger
	sentry bool
}

// NewReporter logs through logger and, when dsn is set, forwards to Sentry.
func NewReporter(logger *slog.Logger, dsn, environment string) (*Reporter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reporter{logger: logger}
	if dsn == "" {
		return r, nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
	}); err != nil {
		return r, err
	}
	r.sentry = true
	return r, nil
}

// Report logs err at ERROR level with attrs and captures it in Sentry.
// attrs are alternating key/value pairs, as with slog.
func (r *Reporter) Report(ctx context.Context, msg string, err error, attrs ...any) {
	if r == nil || err == nil {
		return
	}
	r.logger.ErrorContext(ctx, msg, append(attrs, "error", err)...)
	if !r.sentry {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("stage", msg)
		for i := 0; i+1 < len(attrs); i += 2 {
			key, ok := attrs[i].(string)
			if !ok {
				continue
			}
			if value, ok := attrs[i+1].(string); ok {
				scope.SetTag(key, value)
			}
		}
		sentry.CaptureException(err)
	})
}

func (r *Reporter) Flush(timeout time.Duration) {
	if r == nil || !r.sentry {
		return
	}
	sentry.Flush(timeout)
}
