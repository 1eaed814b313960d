package obs

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
)

var sentryEnabled bool

// InitSentry configures the Sentry client when a DSN is supplied. An empty
// DSN disables reporting without error.
func InitSentry(dsn, environment, release string) error {
	if dsn == "" {
		return nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
		Release:     release,
	})
	if err != nil {
		return fmt.Errorf("sentry init: %w", err)
	}
	sentryEnabled = true
	return nil
}

// FlushSentry drains pending events on shutdown.
func FlushSentry() {
	if sentryEnabled {
		sentry.Flush(2 * time.Second)
	}
}

func captureError(err error, msg string) {
	if !sentryEnabled || err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("log_msg", msg)
		sentry.CaptureException(err)
	})
}
