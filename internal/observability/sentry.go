package observability

import (
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
)

// InitSentry is a no-op when no DSN is configured, so local development runs
// without an account.
func InitSentry(dsn, environment string) error {
	if strings.TrimSpace(dsn) == "" {
		return nil
	}

	return sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		AttachStacktrace: true,
		SendDefaultPII:   false,
	})
}

func FlushSentry() {
	sentry.Flush(2 * time.Second)
}
