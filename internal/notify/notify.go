// Package notify delivers tenant-facing notifications. Delivery is best
// effort: callers log failures and move on.
package notify

import (
	"context"
	"log/slog"

	"github.com/punchamoorthee/freightbank/internal/domain"
)

type Notifier interface {
	Notify(ctx context.Context, n domain.Notification) error
}

// Log writes notifications to the service log. It is the default when no
// broker is configured.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Notify(ctx context.Context, n domain.Notification) error {
	l.logger.InfoContext(ctx, "notification",
		"tenant_id", n.TenantID,
		"category", n.Category,
		"title", n.Title,
		"body", n.Body,
	)
	return nil
}
