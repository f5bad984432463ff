// Package tracking reports per-user pipeline failures to Sentry. Without a DSN every
// call is a no-op.
package tracking

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
)

var enabled bool

// Init configures the Sentry client. An empty dsn leaves tracking disabled.
func Init(dsn, environment string) error {
	if dsn == "" {
		return nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
	}); err != nil {
		return fmt.Errorf("failed to init sentry: %w", err)
	}
	enabled = true
	return nil
}

// CaptureUserError reports an error that aborted one user's pipeline run.
func CaptureUserError(err error, userID string, tags map[string]string) {
	if !enabled || err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetUser(sentry.User{ID: userID})
		scope.SetTag("component", "pipeline")
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CaptureException(err)
	})
}

// CapturePanic reports a recovered panic.
func CapturePanic(recovered interface{}, userID string) {
	CaptureUserError(fmt.Errorf("panic: %v", recovered), userID, map[string]string{"panic": "true"})
}

// Flush waits for buffered events to be delivered.
func Flush(timeout time.Duration) {
	if enabled {
		sentry.Flush(timeout)
	}
}
